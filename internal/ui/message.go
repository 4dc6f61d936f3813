package ui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/halfcourt/refguard/internal/models"
)

// MsgKind enumerates all message types in the application.
type MsgKind int

// Msg represents all possible messages in the TUI (Elm-style message union).
type Msg struct {
	kind MsgKind
	data any
}

var _ tea.Msg = Msg{}

const (
	MsgRunsLoaded MsgKind = iota
	MsgReportLoaded
)

// runsLoadedMsg is the constructor for [MsgRunsLoaded]
func runsLoadedMsg(runs []models.RunRecord, err error) Msg {
	return Msg{
		kind: MsgRunsLoaded,
		data: struct {
			runs []models.RunRecord
			err  error
		}{runs, err},
	}
}

// reportLoadedMsg is the constructor for [MsgReportLoaded]
func reportLoadedMsg(report *models.HealthReport, err error) Msg {
	return Msg{
		kind: MsgReportLoaded,
		data: struct {
			report *models.HealthReport
			err    error
		}{report, err},
	}
}
