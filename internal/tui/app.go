// Package tui implements the terminal dashboard for monitoring scans and
// browsing duplicate-PR groups, grounded on the teacher's bubbletea/lipgloss
// App/DashboardModel shape in this same package, generalised from security
// findings to scan status and dupe groups.
package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/dupescan/dupescan/internal/config"
	"github.com/dupescan/dupescan/internal/control"
	"github.com/dupescan/dupescan/internal/store"
)

// Tab represents a TUI navigation tab.
type Tab int

const (
	TabScans Tab = iota
	TabGroups
)

var tabNames = []string{"Scans", "Dupe Groups"}

// App is the root bubbletea model.
type App struct {
	cfg       *config.Config
	width     int
	height    int
	activeTab Tab
	scans     ScansModel
	groups    GroupsModel
}

// NewApp creates the TUI application.
func NewApp(cfg *config.Config, s store.Store) *App {
	ctl := &control.Control{Store: s}
	return &App{
		cfg:    cfg,
		scans:  NewScansModel(s, ctl),
		groups: NewGroupsModel(ctl),
	}
}

// Run starts the bubbletea program.
func (a *App) Run() error {
	p := tea.NewProgram(a, tea.WithAltScreen(), tea.WithMouseCellMotion())
	_, err := p.Run()
	return err
}

func (a *App) Init() tea.Cmd {
	return tea.Batch(a.scans.Init(), a.groups.Init())
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		contentW := max(20, msg.Width-2)
		contentH := max(8, msg.Height-7)
		a.scans.SetSize(contentW, contentH)
		a.groups.SetSize(contentW, contentH)

	case scanSelectedMsg:
		a.groups.SetScan(msg.scanID)
		cmds = append(cmds, a.groups.loadCmd())

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return a, tea.Quit
		case "1":
			a.activeTab = TabScans
		case "2":
			a.activeTab = TabGroups
		case "tab":
			a.activeTab = (a.activeTab + 1) % Tab(len(tabNames))
		case "shift+tab":
			a.activeTab--
			if a.activeTab < 0 {
				a.activeTab = Tab(len(tabNames) - 1)
			}
		}
	}

	switch a.activeTab {
	case TabScans:
		newScans, cmd := a.scans.Update(msg)
		a.scans = newScans.(ScansModel)
		cmds = append(cmds, cmd)
	case TabGroups:
		newGroups, cmd := a.groups.Update(msg)
		a.groups = newGroups.(GroupsModel)
		cmds = append(cmds, cmd)
	}

	return a, tea.Batch(cmds...)
}

func (a *App) View() string {
	if a.width == 0 {
		return "Loading..."
	}

	header := a.renderHeader()
	nav := a.renderTabs()

	var content string
	switch a.activeTab {
	case TabScans:
		content = a.scans.View()
	case TabGroups:
		content = a.groups.View()
	}

	contentBox := lipgloss.NewStyle().
		Width(a.width).
		Padding(0, 1).
		MaxHeight(max(1, a.height-4)).
		Render(content)

	status := lipgloss.NewStyle().
		Width(a.width).
		Padding(0, 1).
		Foreground(slateDim).
		Render("tab next  shift+tab prev  1-2 jump  enter view groups  r refresh  q quit")

	return lipgloss.JoinVertical(lipgloss.Left, header, nav, contentBox, status)
}

func (a *App) renderHeader() string {
	row := lipgloss.JoinHorizontal(lipgloss.Left,
		titleStyle.Render("dupescan"),
		"  ",
		dimStyle.Render("duplicate pull-request scanner"),
		"  ",
		mutedBadgeStyle.Render(" "+tabNames[a.activeTab]+" "),
	)
	return lipgloss.NewStyle().
		BorderBottom(true).
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(line).
		Width(a.width).
		Padding(0, 1).
		Render(row)
}

func (a *App) renderTabs() string {
	parts := make([]string, 0, len(tabNames))
	for i, name := range tabNames {
		label := fmt.Sprintf("%d:%s", i+1, name)
		if Tab(i) == a.activeTab {
			parts = append(parts, lipgloss.NewStyle().Bold(true).Foreground(accent).Render(label))
		} else {
			parts = append(parts, dimStyle.Render(label))
		}
		if i < len(tabNames)-1 {
			parts = append(parts, dimStyle.Render("  ·  "))
		}
	}
	return lipgloss.NewStyle().
		Width(a.width).
		Padding(0, 1).
		Foreground(slate).
		Render(lipgloss.JoinHorizontal(lipgloss.Left, parts...))
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
