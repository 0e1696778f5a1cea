// Package config loads the TOML configuration and resolves it into the
// effective per-type settings the pipelines run with. Global options such as
// can_skip, delete, mode, save and shasum cascade into each type block unless
// the block overrides them; the cascade is computed once at startup.
package config
