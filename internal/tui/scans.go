package tui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/dupescan/dupescan/internal/control"
	"github.com/dupescan/dupescan/internal/store"
)

// scanRow is a flat join of scans and repos: the store's reflection-based
// Select matches db tags on top-level fields only, so the join columns
// cannot be expressed as an embedded models.Scan plus extras.
type scanRow struct {
	ID             int64     `db:"id"`
	RepoID         int64     `db:"repo_id"`
	Owner          string    `db:"owner"`
	Name           string    `db:"name"`
	Status         string    `db:"status"`
	PRCount        int       `db:"pr_count"`
	DupeGroupCount int       `db:"dupe_group_count"`
	StartedAt      time.Time `db:"started_at"`
	Error          string    `db:"error"`
}

// scanSelectedMsg tells App the user picked a scan to inspect in the groups tab.
type scanSelectedMsg struct{ scanID int64 }

type scansLoadedMsg struct{ rows []scanRow }

// ScansModel lists recent scans across every tracked repo.
type ScansModel struct {
	store    store.Store
	ctl      *control.Control
	rows     []scanRow
	cursor   int
	width    int
	height   int
	lastLoad time.Time
	loading  bool
}

func NewScansModel(s store.Store, ctl *control.Control) ScansModel {
	return ScansModel{store: s, ctl: ctl, loading: true}
}

func (m ScansModel) Init() tea.Cmd { return m.loadCmd() }

func (m ScansModel) loadCmd() tea.Cmd {
	return func() tea.Msg {
		var rows []scanRow
		_ = m.store.Select(context.Background(), &rows, `
			SELECT s.id, s.repo_id, r.owner, r.name, s.status, s.pr_count, s.dupe_group_count, s.started_at, s.error
			FROM scans s JOIN repos r ON r.id = s.repo_id
			ORDER BY s.started_at DESC LIMIT 20`)
		return scansLoadedMsg{rows: rows}
	}
}

func (m ScansModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case scansLoadedMsg:
		m.rows = msg.rows
		m.loading = false
		m.lastLoad = time.Now()
		return m, tea.Tick(10*time.Second, func(t time.Time) tea.Msg { return m.loadCmd()() })
	case tea.KeyMsg:
		switch msg.String() {
		case "r":
			m.loading = true
			return m, m.loadCmd()
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.rows)-1 {
				m.cursor++
			}
		case "enter":
			if m.cursor < len(m.rows) {
				id := m.rows[m.cursor].ID
				return m, func() tea.Msg { return scanSelectedMsg{scanID: id} }
			}
		}
	}
	return m, nil
}

func (m *ScansModel) SetSize(w, h int) { m.width = w; m.height = h }

func (m ScansModel) View() string {
	if m.loading && len(m.rows) == 0 {
		return panelStyle.Width(max(20, m.width-2)).Render("Loading scans...")
	}
	if len(m.rows) == 0 {
		return panelStyle.Width(max(20, m.width-2)).Render(
			dimStyle.Render("No scans yet. Run: dupescan scan <owner/name>"),
		)
	}

	rows := ""
	limit := max(5, m.height-6)
	for i, r := range m.rows {
		if i >= limit {
			break
		}
		statusFmt := statusBadge(r.Status)
		repo := truncate(r.Owner+"/"+r.Name, 34)
		line := lipgloss.JoinHorizontal(lipgloss.Left,
			lipgloss.NewStyle().Width(36).Foreground(ink).Render(repo),
			lipgloss.NewStyle().Width(16).Render(statusFmt),
			dimStyle.Render(r.StartedAt.Format("2006-01-02 15:04")),
		)
		if i == m.cursor {
			line = selectedRowStyle.Render(line)
		}
		rows += line + "\n"
	}

	updated := "never"
	if !m.lastLoad.IsZero() {
		updated = m.lastLoad.Format("15:04:05")
	}

	return panelStyle.Width(max(20, m.width-2)).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			panelHeaderStyle.Render("Recent Scans"),
			dimStyle.Render("Repository                          Status          Started"),
			rows,
			dimStyle.Render("updated "+updated+"  —  enter: view dupe groups"),
		),
	)
}

func statusBadge(status string) string {
	switch status {
	case "done":
		return lipgloss.NewStyle().Foreground(bgDark).Background(green).Padding(0, 1).Render(status)
	case "failed":
		return lipgloss.NewStyle().Foreground(bgDark).Background(red).Padding(0, 1).Render(status)
	default:
		return lipgloss.NewStyle().Foreground(bgDark).Background(blue).Padding(0, 1).Render(status)
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}
