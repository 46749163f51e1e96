package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

// MemRegion is one row of the interactive memory map.
type MemRegion struct {
	TensorID int
	Offset   uint64
	Size     uint64
	Kind     string
	Node     string
}

type memViewModel struct {
	title     string
	footprint uint64
	regions   []MemRegion
	vp        viewport.Model
	ready     bool
	width     int
}

// NewMemView returns a Bubble Tea model that renders a solved plan as a
// scrollable memory map.
func NewMemView(title string, footprint uint64, regions []MemRegion) tea.Model {
	return &memViewModel{
		title:     title,
		footprint: footprint,
		regions:   regions,
		width:     80,
	}
}

func (m *memViewModel) Init() tea.Cmd { return nil }

func (m *memViewModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		if msg.Width > 0 {
			m.width = msg.Width
		}
		headerHeight := 3
		if !m.ready {
			m.vp = viewport.New(msg.Width, msg.Height-headerHeight)
			m.vp.SetContent(m.renderRows())
			m.ready = true
		} else {
			m.vp.Width = msg.Width
			m.vp.Height = msg.Height - headerHeight
			m.vp.SetContent(m.renderRows())
		}
	}
	var cmd tea.Cmd
	m.vp, cmd = m.vp.Update(msg)
	return m, cmd
}

func (m *memViewModel) View() string {
	if !m.ready {
		return "loading..."
	}
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("7"))
	header := fmt.Sprintf("%s: footprint %d bytes, %d tensors (q to quit)",
		m.title, m.footprint, len(m.regions))
	return titleStyle.Render(truncate(header, m.width)) + "\n\n" + m.vp.View()
}

func (m *memViewModel) renderRows() string {
	offStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	kindStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("3"))

	nameWidth := m.width - 46
	if nameWidth < 16 {
		nameWidth = 16
	}

	var b strings.Builder
	var prevEnd uint64
	for _, r := range m.regions {
		if r.Offset > prevEnd {
			b.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("8")).
				Render(fmt.Sprintf("  %12s  gap of %d bytes", "", r.Offset-prevEnd)))
			b.WriteString("\n")
		}
		line := fmt.Sprintf("  %s  %10d  %s  %s",
			offStyle.Render(fmt.Sprintf("%12d", r.Offset)),
			r.Size,
			kindStyle.Render(fmt.Sprintf("%-14s", r.Kind)),
			truncate(r.Node, nameWidth))
		b.WriteString(line)
		b.WriteString("\n")
		if end := r.Offset + r.Size; end > prevEnd {
			prevEnd = end
		}
	}
	return b.String()
}

func truncate(value string, width int) string {
	if width <= 0 {
		return value
	}
	if runewidth.StringWidth(value) <= width {
		return value
	}
	if width <= 3 {
		return runewidth.Truncate(value, width, "")
	}
	return runewidth.Truncate(value, width-3, "...")
}
