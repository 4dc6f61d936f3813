// Package ui implements an interactive terminal interface using bubbletea's Elm architecture.
//
// The TUI provides a two-view workflow for browsing integrity runs:
//  1. [RunListView] : Browse recorded pipeline runs, newest first
//  2. [ReportView] : Inspect the per-table health scores of a selected run
//
// The [Model] implements bubbletea/Elm's standard Init/Update/View pattern. Run history is
// loaded asynchronously from the run repository; the live health report is fetched on demand
// so operators can compare a past run against the current state of the database.
//
// Keyboard navigation uses vim-style bindings (j/k, enter, esc, r, q) with contextual help
// displayed via charmbracelet/bubbles/help.
package ui
