package ui

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/halfcourt/refguard/internal/models"
)

// ViewState represents the current view in the TUI.
type ViewState int

const (
	RunListView ViewState = iota
	ReportView
)

// RunSource loads recorded runs, newest first.
type RunSource func(limit int) ([]models.RunRecord, error)

// HealthSource measures the live health of the database.
type HealthSource func() (*models.HealthReport, error)

// Model represents the TUI application state.
type Model struct {
	view        ViewState
	loadRuns    RunSource
	liveHealth  HealthSource
	width       int
	height      int
	runList     list.Model
	selectedRun *models.RunRecord
	report      *models.HealthReport
	reportLive  bool
	err         error
	help        help.Model
	keys        keyMap
}

// NewModel creates the TUI model over the given data sources.
func NewModel(runs RunSource, health HealthSource) Model {
	delegate := list.NewDefaultDelegate()
	l := list.New([]list.Item{}, delegate, 0, 0)
	l.Title = "Integrity runs"
	l.SetShowStatusBar(false)
	l.SetShowHelp(false)

	return Model{
		view:       RunListView,
		loadRuns:   runs,
		liveHealth: health,
		runList:    l,
		help:       help.New(),
		keys:       newKeyMap(),
	}
}

func (m Model) Init() tea.Cmd {
	return m.fetchRuns
}

func (m Model) fetchRuns() tea.Msg {
	runs, err := m.loadRuns(50)
	return runsLoadedMsg(runs, err)
}

func (m Model) fetchLiveReport() tea.Msg {
	report, err := m.liveHealth()
	return reportLoadedMsg(report, err)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.runList.SetSize(msg.Width, msg.Height-4)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case Msg:
		return m.handleMsg(msg)
	}

	var cmd tea.Cmd
	m.runList, cmd = m.runList.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.back):
		if m.view == ReportView {
			m.view = RunListView
			m.report = nil
			m.err = nil
		}
		return m, nil

	case key.Matches(msg, m.keys.refresh):
		if m.view == RunListView {
			return m, m.fetchRuns
		}
		// Reloading a report swaps in the live state for comparison.
		m.reportLive = true
		return m, m.fetchLiveReport

	case key.Matches(msg, m.keys.enter):
		if m.view != RunListView {
			return m, nil
		}
		item, ok := m.runList.SelectedItem().(runItem)
		if !ok {
			return m, nil
		}
		m.selectedRun = &item.run
		m.view = ReportView
		m.reportLive = false
		if report := reportFromDetail(item.run.Detail); report != nil {
			m.report = report
			return m, nil
		}
		// Older or unfinished runs carry no report; show live health instead.
		m.reportLive = true
		return m, m.fetchLiveReport
	}

	var cmd tea.Cmd
	m.runList, cmd = m.runList.Update(msg)
	return m, cmd
}

func (m Model) handleMsg(msg Msg) (tea.Model, tea.Cmd) {
	switch msg.kind {
	case MsgRunsLoaded:
		data := msg.data.(struct {
			runs []models.RunRecord
			err  error
		})
		if data.err != nil {
			m.err = data.err
			return m, nil
		}
		items := make([]list.Item, 0, len(data.runs))
		for _, r := range data.runs {
			items = append(items, runItem{run: r})
		}
		m.runList.SetItems(items)
		return m, nil

	case MsgReportLoaded:
		data := msg.data.(struct {
			report *models.HealthReport
			err    error
		})
		m.report, m.err = data.report, data.err
		return m, nil
	}
	return m, nil
}

// reportFromDetail extracts the health report embedded in a run's detail JSON.
func reportFromDetail(detail string) *models.HealthReport {
	if detail == "" {
		return nil
	}
	var payload struct {
		Health *models.HealthReport `json:"health"`
	}
	if err := json.Unmarshal([]byte(detail), &payload); err != nil {
		return nil
	}
	return payload.Health
}

func (m Model) View() string {
	switch m.view {
	case ReportView:
		return m.reportView()
	default:
		return m.runListView()
	}
}

func (m Model) runListView() string {
	var b strings.Builder
	b.WriteString(m.runList.View())
	if m.err != nil {
		b.WriteString("\n" + styles.err.Render(fmt.Sprintf("error: %v", m.err)))
	}
	b.WriteString("\n" + styles.help.Render(m.help.View(m.keys)))
	return b.String()
}

func (m Model) reportView() string {
	var b strings.Builder

	title := "Live health"
	if !m.reportLive && m.selectedRun != nil {
		title = fmt.Sprintf("Run %s", m.selectedRun.ID)
	}
	b.WriteString(styles.title.Render(title) + "\n")

	switch {
	case m.err != nil:
		b.WriteString(styles.err.Render(fmt.Sprintf("error: %v", m.err)) + "\n")
	case m.report == nil:
		b.WriteString("loading...\n")
	default:
		for _, t := range m.report.Tables {
			score := styles.scoreStyle(t.Score).Render(fmt.Sprintf("%6.1f", t.Score))
			b.WriteString(fmt.Sprintf("  %-28s %s  total %-5d orphaned %d\n",
				t.Table+"."+t.FKColumn, score, t.Total, t.Orphaned))
		}
		overall := styles.scoreStyle(m.report.OverallScore).Render(
			fmt.Sprintf("%.1f (%s)", m.report.OverallScore, m.report.Status))
		b.WriteString("\n  overall " + overall + "\n")
	}

	b.WriteString("\n" + styles.help.Render(m.help.View(m.keys)))
	return b.String()
}
