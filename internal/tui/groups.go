package tui

import (
	"context"
	"fmt"

	"github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/dupescan/dupescan/internal/control"
)

type groupsLoadedMsg struct {
	scanID int64
	groups []control.GroupWithMembers
	err    error
}

// GroupsModel shows the ranked dupe groups for one selected scan.
type GroupsModel struct {
	ctl     *control.Control
	scanID  int64
	groups  []control.GroupWithMembers
	err     error
	width   int
	height  int
	loading bool
}

func NewGroupsModel(ctl *control.Control) GroupsModel {
	return GroupsModel{ctl: ctl}
}

func (m GroupsModel) Init() tea.Cmd { return nil }

func (m *GroupsModel) SetScan(scanID int64) { m.scanID = scanID; m.loading = true }

func (m GroupsModel) loadCmd() tea.Cmd {
	scanID := m.scanID
	if scanID == 0 {
		return nil
	}
	return func() tea.Msg {
		groups, err := m.ctl.ListDupeGroups(context.Background(), scanID)
		return groupsLoadedMsg{scanID: scanID, groups: groups, err: err}
	}
}

func (m GroupsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case groupsLoadedMsg:
		if msg.scanID == m.scanID {
			m.groups = msg.groups
			m.err = msg.err
			m.loading = false
		}
	}
	return m, nil
}

func (m *GroupsModel) SetSize(w, h int) { m.width = w; m.height = h }

func (m GroupsModel) View() string {
	if m.scanID == 0 {
		return panelStyle.Width(max(20, m.width-2)).Render(
			dimStyle.Render("Select a scan in the Scans tab (enter) to view its dupe groups."),
		)
	}
	if m.loading {
		return panelStyle.Width(max(20, m.width-2)).Render("Loading dupe groups...")
	}
	if m.err != nil {
		return panelStyle.Width(max(20, m.width-2)).Render(criticalStyle.Render(m.err.Error()))
	}
	if len(m.groups) == 0 {
		return panelStyle.Width(max(20, m.width-2)).Render(
			dimStyle.Render(fmt.Sprintf("Scan %d found no duplicate groups.", m.scanID)),
		)
	}

	body := ""
	for _, g := range m.groups {
		body += panelHeaderStyle.Render(fmt.Sprintf("Group %d — %s (%d PRs)", g.ID, g.Label, g.PRCount)) + "\n"
		for _, mem := range g.Members {
			keep := ""
			if mem.Rank == 1 {
				keep = okStyle.Render(" keep")
			}
			body += fmt.Sprintf("  %d. PR #%d %s (score %.2f)%s\n",
				mem.Rank, mem.PRNumber, truncate(mem.PRTitle, 48), mem.Score, keep)
		}
		body += "\n"
	}

	return panelStyle.Width(max(20, m.width-2)).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			panelHeaderStyle.Render(fmt.Sprintf("Dupe Groups — scan %d", m.scanID)),
			body,
		),
	)
}
