package audit

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/qcekey/iget/internal/model"
)

// Lines per entry in the list view (title + subtitle + blank separator).
const entryItemHeight = 3

type viewState int

const (
	viewList viewState = iota
	viewDetail
)

var (
	activeBorderStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("39")) // bright blue

	inactiveBorderStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("240")) // dim gray

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1)

	activeHeaderStyle = headerStyle.
				Foreground(lipgloss.Color("39"))

	inactiveHeaderStyle = headerStyle.
				Foreground(lipgloss.Color("240"))

	statusBarStyle = lipgloss.NewStyle().
			Padding(0, 1).
			Foreground(lipgloss.Color("252")).
			Background(lipgloss.Color("236"))

	entryTitleStyle = lipgloss.NewStyle().
			Bold(true)

	entrySubtitleStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("245"))

	selectedTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("15")).
				Background(lipgloss.Color("24"))

	selectedSubtitleStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("252")).
				Background(lipgloss.Color("24"))

	detailLabelStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("39")).
				Width(14)

	detailValueStyle = lipgloss.NewStyle()

	detailTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("15")).
				MarginBottom(1)

	acceptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	rejectStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	descDividerStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("240"))

	descHintStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Italic(true)

	descBodyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))
)

// analyzedMsg is sent when an on-demand deep analysis completes.
type analyzedMsg struct {
	id      string
	verdict model.Verdict
}

type auditModel struct {
	all           []Entry
	accepted      []Entry
	leftViewport  viewport.Model
	rightViewport viewport.Model
	activePane    int // 0=left, 1=right
	leftCursor    int
	rightCursor   int
	width         int
	height        int
	ready         bool

	// Detail view state
	view            viewState
	detail          Entry
	detailViewport  viewport.Model
	showDescription bool

	// On-demand deep analysis
	analysis       model.Stage
	analyzeLoading bool

	wantQuit bool
}

func (m auditModel) Init() tea.Cmd {
	return nil
}

func (m auditModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.recalcLayout()
		if m.view == viewDetail {
			m.detailViewport.Width = m.width - 4
			m.detailViewport.Height = m.height - 4
			m.detailViewport.SetContent(m.renderDetail())
		}
		return m, nil

	case analyzedMsg:
		m.analyzeLoading = false
		if msg.verdict.Annotation != nil {
			m.addAnnotation(msg.id, *msg.verdict.Annotation)
		}
		m.detailViewport.SetContent(m.renderDetail())
		return m, nil

	case tea.KeyMsg:
		if m.view == viewDetail {
			return m.updateDetailView(msg)
		}
		return m.updateListView(msg)
	}

	return m, nil
}

func (m auditModel) updateListView(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.wantQuit = true
		return m, tea.Quit
	case "esc", "b":
		m.wantQuit = false
		return m, tea.Quit
	case "tab", "left", "right":
		m.activePane = 1 - m.activePane
		m.recalcContent()
		return m, nil
	case "up", "k":
		m.moveCursor(-1)
		m.recalcContent()
		m.ensureCursorVisible()
		return m, nil
	case "down", "j":
		m.moveCursor(1)
		m.recalcContent()
		m.ensureCursorVisible()
		return m, nil
	case "enter":
		return m.openDetailView()
	}

	// Forward other keys (pgup/pgdn/home/end) to the active viewport.
	var cmd tea.Cmd
	if m.activePane == 0 {
		m.leftViewport, cmd = m.leftViewport.Update(msg)
	} else {
		m.rightViewport, cmd = m.rightViewport.Update(msg)
	}
	return m, cmd
}

func (m auditModel) updateDetailView(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.wantQuit = true
		return m, tea.Quit
	case "esc", "backspace":
		m.view = viewList
		return m, nil
	case "o":
		openURL(m.detail.Vacancy.URL)
		return m, nil
	case "r":
		if m.detail.Vacancy.Description != "" {
			m.showDescription = !m.showDescription
			m.detailViewport.SetContent(m.renderDetail())
			m.detailViewport.SetYOffset(0)
		}
		return m, nil
	case "s":
		if m.canAnalyze() {
			m.analyzeLoading = true
			m.detailViewport.SetContent(m.renderDetail())
			return m, m.analyzeCmd(m.detail.Vacancy)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.detailViewport, cmd = m.detailViewport.Update(msg)
	return m, cmd
}

func (m auditModel) canAnalyze() bool {
	if m.analysis == nil || m.analyzeLoading || m.detail.Malformed != "" {
		return false
	}
	return annotationFor(m.detail, m.analysis.Name()) == nil
}

func (m auditModel) analyzeCmd(v model.Vacancy) tea.Cmd {
	stage := m.analysis
	return func() tea.Msg {
		return analyzedMsg{id: v.ID, verdict: stage.Evaluate(context.Background(), v)}
	}
}

// addAnnotation attaches a to the entry with the given id everywhere it is shown.
func (m *auditModel) addAnnotation(id string, a model.Annotation) {
	update := func(e *Entry) {
		if e.Vacancy.ID == id {
			e.Outcome.Annotations = append(e.Outcome.Annotations, a)
		}
	}
	for i := range m.all {
		update(&m.all[i])
	}
	for i := range m.accepted {
		update(&m.accepted[i])
	}
	if m.detail.Vacancy.ID == id {
		m.detail.Outcome.Annotations = append(m.detail.Outcome.Annotations, a)
	}
}

func (m *auditModel) moveCursor(delta int) {
	if m.activePane == 0 {
		m.leftCursor = clamp(m.leftCursor+delta, 0, max(len(m.all)-1, 0))
	} else {
		m.rightCursor = clamp(m.rightCursor+delta, 0, max(len(m.accepted)-1, 0))
	}
}

func (m *auditModel) ensureCursorVisible() {
	var vp *viewport.Model
	var cursor int
	if m.activePane == 0 {
		vp = &m.leftViewport
		cursor = m.leftCursor
	} else {
		vp = &m.rightViewport
		cursor = m.rightCursor
	}

	cursorTop := cursor * entryItemHeight
	cursorBottom := cursorTop + entryItemHeight - 1

	if cursorTop < vp.YOffset {
		vp.SetYOffset(cursorTop)
	} else if cursorBottom >= vp.YOffset+vp.Height {
		vp.SetYOffset(cursorBottom - vp.Height + 1)
	}
}

func (m auditModel) openDetailView() (tea.Model, tea.Cmd) {
	entries := m.activeEntries()
	if len(entries) == 0 {
		return m, nil
	}

	m.view = viewDetail
	m.detail = entries[m.activeCursor()]
	m.showDescription = false
	m.detailViewport = viewport.New(m.width-4, m.height-4)
	m.detailViewport.SetContent(m.renderDetail())
	return m, nil
}

func (m *auditModel) recalcLayout() {
	// 2 border chars per pane + 1 gap between panes.
	paneWidth := max((m.width-5)/2, 20)

	// Header (1 line) + border top/bottom (2) + status bar (1) = 4 lines overhead.
	paneHeight := max(m.height-4, 5)

	if !m.ready {
		m.leftViewport = viewport.New(paneWidth, paneHeight)
		m.rightViewport = viewport.New(paneWidth, paneHeight)
		m.ready = true
	} else {
		m.leftViewport.Width = paneWidth
		m.leftViewport.Height = paneHeight
		m.rightViewport.Width = paneWidth
		m.rightViewport.Height = paneHeight
	}

	m.recalcContent()
}

func (m *auditModel) recalcContent() {
	m.leftViewport.SetContent(renderEntries(m.all, m.leftCursor, m.activePane == 0))
	m.rightViewport.SetContent(renderEntries(m.accepted, m.rightCursor, m.activePane == 1))
}

func (m auditModel) activeEntries() []Entry {
	if m.activePane == 0 {
		return m.all
	}
	return m.accepted
}

func (m auditModel) activeCursor() int {
	if m.activePane == 0 {
		return m.leftCursor
	}
	return m.rightCursor
}

func (m auditModel) View() string {
	if !m.ready {
		return "Initializing..."
	}
	if m.view == viewDetail {
		return m.viewDetail()
	}
	return m.viewList()
}

func (m auditModel) viewList() string {
	paneWidth := m.leftViewport.Width

	leftHeader := fmt.Sprintf(" All Postings (%d)", len(m.all))
	rightHeader := fmt.Sprintf(" Accepted (%d)", len(m.accepted))

	var leftHeaderRendered, rightHeaderRendered string
	var leftBorder, rightBorder lipgloss.Style

	if m.activePane == 0 {
		leftHeaderRendered = activeHeaderStyle.Render(leftHeader)
		rightHeaderRendered = inactiveHeaderStyle.Render(rightHeader)
		leftBorder = activeBorderStyle.Width(paneWidth)
		rightBorder = inactiveBorderStyle.Width(paneWidth)
	} else {
		leftHeaderRendered = inactiveHeaderStyle.Render(leftHeader)
		rightHeaderRendered = activeHeaderStyle.Render(rightHeader)
		leftBorder = inactiveBorderStyle.Width(paneWidth)
		rightBorder = activeBorderStyle.Width(paneWidth)
	}

	leftPane := leftBorder.Render(m.leftViewport.View())
	rightPane := rightBorder.Render(m.rightViewport.View())

	headerRow := lipgloss.JoinHorizontal(lipgloss.Top,
		lipgloss.NewStyle().Width(paneWidth+2).Render(leftHeaderRendered),
		" ",
		lipgloss.NewStyle().Width(paneWidth+2).Render(rightHeaderRendered),
	)
	panes := lipgloss.JoinHorizontal(lipgloss.Top, leftPane, " ", rightPane)

	statusText := fmt.Sprintf(" %d total | %d accepted | %d dropped    ←/→/Tab switch  ↑/↓ cursor  Enter detail  Esc back  q quit",
		len(m.all), len(m.accepted), len(m.all)-len(m.accepted))
	statusBar := statusBarStyle.Width(m.width).Render(statusText)

	return headerRow + "\n" + panes + "\n" + statusBar
}

func (m auditModel) viewDetail() string {
	title := detailTitleStyle.Render("Vacancy")
	if m.analyzeLoading {
		title += "  (analyzing...)"
	}

	border := activeBorderStyle.Width(m.width - 2)
	content := border.Render(m.detailViewport.View())

	keys := []string{"o open URL"}
	if m.detail.Vacancy.Description != "" {
		keys = append(keys, "r description")
	}
	if m.canAnalyze() {
		keys = append(keys, "s analyze")
	}
	keys = append(keys, "esc/backspace back", "↑/↓ scroll", "q quit")
	statusBar := statusBarStyle.Width(m.width).Render(" " + strings.Join(keys, "  "))

	return title + "\n" + content + "\n" + statusBar
}

func (m auditModel) renderDetail() string {
	e := m.detail
	v := e.Vacancy
	var b strings.Builder

	addField := func(label, value string) {
		if value == "" {
			return
		}
		b.WriteString(detailLabelStyle.Render(label))
		b.WriteString(detailValueStyle.Render(value))
		b.WriteByte('\n')
	}

	addField("Title", v.Title)
	addField("Company", v.Company)
	addField("Location", v.Location)
	addField("ID", v.ID)
	addField("Source", string(v.Source))
	if !v.PostedAt.IsZero() {
		addField("Posted At", v.PostedAt.Local().Format("2006-01-02 15:04 MST"))
	}
	addField("Fingerprint", v.Fingerprint)
	addField("URL", v.URL)

	b.WriteByte('\n')
	if e.Accepted() {
		addField("Verdict", acceptStyle.Render("accepted"))
	} else {
		addField("Verdict", rejectStyle.Render(dropReason(e)))
	}
	for _, a := range e.Outcome.Annotations {
		addField("  "+a.Stage, describeAnnotation(a))
	}

	wrapWidth := max(m.width-8, 20)
	divider := func(label string) string {
		fill := strings.Repeat("─", max(wrapWidth-len(label), 3))
		return descDividerStyle.Render(label + fill)
	}

	if m.analyzeLoading {
		b.WriteByte('\n')
		b.WriteString(descHintStyle.Render("  analyzing vacancy...") + "\n")
	} else if m.canAnalyze() {
		b.WriteByte('\n')
		b.WriteString(descHintStyle.Render("  press s to run deep analysis") + "\n")
	}

	if v.Description != "" {
		b.WriteByte('\n')
		if m.showDescription {
			b.WriteString(divider("── Description ") + "\n\n")
			b.WriteString(descBodyStyle.Render(wordWrap(v.Description, wrapWidth)) + "\n")
		} else {
			b.WriteString(descHintStyle.Render("  press r to read the description") + "\n")
		}
	}

	return b.String()
}

func dropReason(e Entry) string {
	switch {
	case e.Malformed != "":
		return "malformed: " + e.Malformed
	case e.Stale:
		return "outside the lookback window"
	case e.Seen:
		return "already seen"
	case e.Outcome.RejectedBy != "":
		return "rejected by " + e.Outcome.RejectedBy
	default:
		return "dropped"
	}
}

func describeAnnotation(a model.Annotation) string {
	var parts []string
	switch {
	case a.FailedOpen:
		parts = append(parts, "unavailable, passed")
	case a.Accepted:
		parts = append(parts, "accept")
	default:
		parts = append(parts, "reject")
	}
	if a.Score > 0 {
		parts = append(parts, "score "+strconv.Itoa(a.Score))
	}
	if a.Rationale != "" {
		parts = append(parts, a.Rationale)
	}
	return strings.Join(parts, " · ")
}

func annotationFor(e Entry, stage string) *model.Annotation {
	for i := range e.Outcome.Annotations {
		if e.Outcome.Annotations[i].Stage == stage {
			return &e.Outcome.Annotations[i]
		}
	}
	return nil
}

func renderEntries(entries []Entry, cursor int, isActive bool) string {
	if len(entries) == 0 {
		return "  (no postings)"
	}

	var b strings.Builder
	for i, e := range entries {
		isSelected := isActive && i == cursor

		titleSt := entryTitleStyle
		subtitleSt := entrySubtitleStyle
		prefix := "  "
		if isSelected {
			titleSt = selectedTitleStyle
			subtitleSt = selectedSubtitleStyle
			prefix = "> "
		}

		b.WriteString(prefix)
		b.WriteString(titleSt.Render(e.Vacancy.Title))
		b.WriteByte('\n')

		posted := "n/a"
		if !e.Vacancy.PostedAt.IsZero() {
			posted = e.Vacancy.PostedAt.Format("2006-01-02")
		}
		sub := []string{}
		for _, s := range []string{e.Vacancy.Company, e.Vacancy.Location, posted} {
			if s != "" {
				sub = append(sub, s)
			}
		}
		if !e.Accepted() {
			sub = append(sub, dropReason(e))
		}
		b.WriteString(prefix)
		b.WriteString(subtitleSt.Render(strings.Join(sub, " · ")))
		b.WriteByte('\n')

		if i < len(entries)-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func wordWrap(text string, width int) string {
	var out []string
	for _, para := range strings.Split(text, "\n") {
		words := strings.Fields(para)
		if len(words) == 0 {
			out = append(out, "")
			continue
		}
		line := words[0]
		for _, w := range words[1:] {
			if len([]rune(line))+1+len([]rune(w)) <= width {
				line += " " + w
			} else {
				out = append(out, line)
				line = w
			}
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// openURL opens url in the default system browser, fire-and-forget.
func openURL(url string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", url)
	default:
		return
	}
	_ = cmd.Start()
}

// RunAuditTUI launches the interactive split-pane audit TUI.
// analysis may be nil; when set, the 's' key runs it on the open vacancy.
// Returns wantQuit=true if the user pressed q/ctrl+c, false if they pressed
// esc to return to the picker.
func RunAuditTUI(entries []Entry, analysis model.Stage) (bool, error) {
	m := auditModel{
		all:      entries,
		accepted: Split(entries),
		analysis: analysis,
	}

	p := tea.NewProgram(m, tea.WithAltScreen())
	result, err := p.Run()
	if err != nil {
		return false, err
	}
	final := result.(auditModel)
	return final.wantQuit, nil
}
