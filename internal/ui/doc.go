// Package ui implements the terminal views behind the --tui flag using bubbletea's Elm architecture.
//
// Two models are provided:
//  1. [ProgressModel] : runs a long command in the background and renders its [tasks.ProgressUpdate] stream
//     as a spinner, a progress bar for the current phase and a scrolling log of recent messages
//  2. [HistoryModel] : browses journal runs and drills into their steps
//
// Both implement bubbletea's standard Init/Update/View pattern and receive background results via the Msg union type.
// Progress updates arrive over the same non-blocking channel the plain CLI output reads from.
//
// Keyboard navigation uses vim-style bindings (j/k, enter, esc, l, q) with contextual help displayed via charmbracelet/bubbles/help.
package ui
