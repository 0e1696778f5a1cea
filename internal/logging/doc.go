// Package logging provides leveled logging for the indexer.
//
// The level is taken from the DEBUG and LOG_LEVEL environment variables and
// can be overridden at runtime with SetLevel. Output goes through the standard
// library logger so timestamps and destinations stay configurable in one place.
package logging
