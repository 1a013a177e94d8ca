package audit

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	pickerTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("39")).
				Padding(1, 0, 1, 2)

	pickerItemStyle = lipgloss.NewStyle().
			Padding(0, 0, 0, 4)

	pickerSelectedStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("39")).
				Bold(true).
				Padding(0, 0, 0, 2)

	pickerNoticeStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("214")).
				Padding(1, 0, 0, 2)

	pickerHintStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Padding(1, 0, 0, 2)
)

// Choice is one selectable source.
type Choice struct {
	Name    string
	Detail  string // shown next to the name
	Enabled bool
}

func (c Choice) label() string {
	l := c.Name
	if c.Detail != "" {
		l += " (" + c.Detail + ")"
	}
	if !c.Enabled {
		l += " [disabled]"
	}
	return l
}

type pickerModel struct {
	choices []Choice
	cursor  int
	chosen  int // -1 = no choice yet, -2 = quit
	notice  string
}

func (m pickerModel) Init() tea.Cmd {
	return nil
}

func (m pickerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	m.notice = ""
	switch key.String() {
	case "q", "ctrl+c", "esc":
		m.chosen = -2
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.choices)-1 {
			m.cursor++
		}
	case "enter":
		if len(m.choices) == 0 {
			return m, nil
		}
		if !m.choices[m.cursor].Enabled {
			m.notice = m.choices[m.cursor].Name + " is disabled in the config"
			return m, nil
		}
		m.chosen = m.cursor
		return m, tea.Quit
	}
	return m, nil
}

func (m pickerModel) View() string {
	s := pickerTitleStyle.Render("Filter Audit: select a source")
	s += "\n"

	for i, c := range m.choices {
		label := c.label()
		if i == m.cursor {
			s += pickerSelectedStyle.Render("> "+label) + "\n"
		} else {
			s += pickerItemStyle.Render(label) + "\n"
		}
	}

	if m.notice != "" {
		s += pickerNoticeStyle.Render(m.notice) + "\n"
	}
	s += pickerHintStyle.Render("↑/↓/j/k navigate  enter select  q quit")
	return s
}

// RunSourcePicker shows an interactive source selector.
// Returns the index of the chosen source, or -1 if the user quit.
func RunSourcePicker(choices []Choice) (int, error) {
	m := pickerModel{
		choices: choices,
		chosen:  -1,
	}
	for i, c := range choices {
		if c.Enabled {
			m.cursor = i
			break
		}
	}

	p := tea.NewProgram(m)
	result, err := p.Run()
	if err != nil {
		return -1, err
	}

	final := result.(pickerModel)
	if final.chosen < 0 {
		return -1, nil
	}
	return final.chosen, nil
}
