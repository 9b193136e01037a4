// internal/tui/app.go
//
// Read-only watch view for a running loop, following The Elm Architecture:
// the loop runs in its own goroutine and progress arrives as messages
// through the monitor's broadcast channel. The view never touches loop or
// bus state directly.

package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"hatloop/internal/loop"
	"hatloop/internal/monitor"
)

const maxEventLines = 200

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	topicStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("75"))
	borderStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	summaryStyle = lipgloss.NewStyle().Bold(true)
)

// UpdateMsg wraps a monitor update as a bubbletea message.
type UpdateMsg monitor.Update

// DoneMsg reports that the loop finished.
type DoneMsg struct {
	Result loop.Result
}

// App is the watch view model.
type App struct {
	spinner   spinner.Model
	viewport  viewport.Model
	events    []string
	iteration int
	hatID     string
	state     loop.State
	result    *loop.Result
	abort     func()
	width     int
	height    int
	ready     bool
}

// NewApp builds the watch view. abort is invoked when the user quits while
// the loop is still running; it should cancel the loop context.
func NewApp(abort func()) App {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return App{spinner: sp, abort: abort}
}

// Init starts the spinner ticking.
func (a App) Init() tea.Cmd {
	return a.spinner.Tick
}

// Update handles messages.
func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if a.result == nil && a.abort != nil {
				a.abort()
				return a, nil // wait for DoneMsg so the summary renders
			}
			return a, tea.Quit
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		vpHeight := msg.Height - 8
		if vpHeight < 3 {
			vpHeight = 3
		}
		if !a.ready {
			a.viewport = viewport.New(msg.Width-4, vpHeight)
			a.ready = true
		} else {
			a.viewport.Width = msg.Width - 4
			a.viewport.Height = vpHeight
		}
		a.refreshViewport()

	case UpdateMsg:
		a.ingest(monitor.Update(msg))
		a.refreshViewport()

	case DoneMsg:
		result := msg.Result
		a.result = &result

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd
	}

	var cmd tea.Cmd
	a.viewport, cmd = a.viewport.Update(msg)
	return a, cmd
}

func (a *App) ingest(update monitor.Update) {
	switch update.Kind {
	case monitor.KindEvent:
		line := fmt.Sprintf("%s %s",
			topicStyle.Render("["+update.Event.Topic+"]"),
			firstLine(update.Event.Payload))
		if update.Event.Target != "" {
			line += labelStyle.Render(" -> " + update.Event.Target)
		}
		a.appendLine(line)
	case monitor.KindIterationStarted:
		a.iteration = update.Iteration
		a.hatID = update.HatID
		a.appendLine(labelStyle.Render(fmt.Sprintf("-- iteration %d: %s --", update.Iteration, update.HatID)))
	case monitor.KindIterationFinished:
		a.state = update.State
		mark := okStyle.Render("ok")
		if !update.Success {
			mark = failStyle.Render("failed")
		}
		a.appendLine(labelStyle.Render(fmt.Sprintf("   iteration %d ", update.Iteration)) + mark)
	}
}

func (a *App) appendLine(line string) {
	a.events = append(a.events, line)
	if len(a.events) > maxEventLines {
		a.events = a.events[len(a.events)-maxEventLines:]
	}
}

func (a *App) refreshViewport() {
	if !a.ready {
		return
	}
	a.viewport.SetContent(strings.Join(a.events, "\n"))
	a.viewport.GotoBottom()
}

// View renders the watch screen.
func (a App) View() string {
	var b strings.Builder

	header := titleStyle.Render("hatloop")
	if a.result == nil {
		header += "  " + a.spinner.View()
		if a.iteration > 0 {
			header += fmt.Sprintf(" iteration %d (%s)", a.iteration, a.hatID)
		}
	}
	b.WriteString(header + "\n")

	status := fmt.Sprintf("%s %d   %s %d   %s $%.2f",
		labelStyle.Render("iterations:"), a.state.Iteration,
		labelStyle.Render("failures:"), a.state.ConsecutiveFailures,
		labelStyle.Render("cost:"), a.state.CostUSD)
	b.WriteString(status + "\n")

	if a.ready {
		b.WriteString(borderStyle.Render(a.viewport.View()) + "\n")
	}

	if a.result != nil {
		b.WriteString(summaryStyle.Render(a.result.Summary()))
		b.WriteString(labelStyle.Render("press q to exit\n"))
	} else {
		b.WriteString(labelStyle.Render("q: stop loop and exit\n"))
	}
	return b.String()
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	if len(s) > 120 {
		s = s[:117] + "..."
	}
	return s
}
