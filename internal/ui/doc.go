// Package ui renders per-slot conversion activity and an overall progress bar
// to the terminal. Everything funnels through the UI interface so headless
// runs and tests plug in Noop.
package ui
