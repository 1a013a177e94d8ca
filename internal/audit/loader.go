package audit

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

var (
	spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("33"))
	elapsedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

type fetchDoneMsg struct {
	entries []Entry
	err     error
}

type spinnerTickMsg struct{}

type loaderModel struct {
	sourceName string
	ctx        context.Context
	cancel     context.CancelFunc
	fetchFn    func(ctx context.Context) ([]Entry, error)
	started    time.Time
	now        time.Time
	frame      int
	result     []Entry
	err        error
	done       bool
}

func (m loaderModel) Init() tea.Cmd {
	return tea.Batch(m.doFetch(), m.tick())
}

func (m loaderModel) doFetch() tea.Cmd {
	ctx, fetchFn := m.ctx, m.fetchFn
	return func() tea.Msg {
		entries, err := fetchFn(ctx)
		return fetchDoneMsg{entries: entries, err: err}
	}
}

func (m loaderModel) tick() tea.Cmd {
	return tea.Tick(80*time.Millisecond, func(t time.Time) tea.Msg {
		return spinnerTickMsg{}
	})
}

func (m loaderModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case fetchDoneMsg:
		m.result = msg.entries
		m.err = msg.err
		m.done = true
		return m, tea.Quit
	case spinnerTickMsg:
		m.frame = (m.frame + 1) % len(spinnerFrames)
		m.now = time.Now()
		return m, m.tick()
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.cancel()
			m.done = true
			m.err = context.Canceled
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m loaderModel) View() string {
	if m.done {
		return ""
	}
	elapsed := ""
	if !m.now.IsZero() {
		elapsed = elapsedStyle.Render(fmt.Sprintf(" %ds", int(m.now.Sub(m.started).Seconds())))
	}
	return fmt.Sprintf("%s Fetching postings from %s...%s\n", spinnerStyle.Render(spinnerFrames[m.frame]), m.sourceName, elapsed)
}

// RunLoader shows a spinner while fetchFn runs, for at most timeout. It
// renders inline (no alt screen). A partial result comes back with its error;
// ctrl+c cancels the fetch and returns context.Canceled.
func RunLoader(sourceName string, timeout time.Duration, fetchFn func(ctx context.Context) ([]Entry, error)) ([]Entry, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	m := loaderModel{
		sourceName: sourceName,
		ctx:        ctx,
		cancel:     cancel,
		fetchFn:    fetchFn,
		started:    time.Now(),
	}
	result, err := tea.NewProgram(m).Run()
	if err != nil {
		return nil, err
	}
	final := result.(loaderModel)
	return final.result, final.err
}
