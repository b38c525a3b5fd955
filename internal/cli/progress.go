package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/raphaelgruber/kintel/internal/client"
	"github.com/raphaelgruber/kintel/internal/models"
	"golang.org/x/term"
)

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status  lipgloss.Color
	Success lipgloss.Color
	Error   lipgloss.Color
	Hint    lipgloss.Color
}

var defaultTheme = Theme{
	Status:  lipgloss.Color("#5FAFD7"), // light blue
	Success: lipgloss.Color("#00D787"), // green
	Error:   lipgloss.Color("#FF005F"), // red
	Hint:    lipgloss.Color("#6C6C6C"), // dim gray
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// statusMsg carries one status pushed by the server.
type statusMsg models.TaskStatus

// watchDoneMsg ends the stream.
type watchDoneMsg struct {
	final *models.TaskStatus
	err   error
}

// progressModel is the bubbletea model for one task.
type progressModel struct {
	taskID   string
	updates  <-chan tea.Msg
	status   *models.TaskStatus
	progress progress.Model
	theme    Theme
	done     bool
	quitting bool
	err      error
}

func newProgressModel(taskID string, updates <-chan tea.Msg) progressModel {
	return progressModel{
		taskID:  taskID,
		updates: updates,
		progress: progress.New(
			progress.WithDefaultBlend(),
			progress.WithWidth(40),
		),
		theme: defaultTheme,
	}
}

// waitForUpdate reads the next message off the watch channel.
func waitForUpdate(ch <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return watchDoneMsg{}
		}
		return msg
	}
}

func (m progressModel) Init() tea.Cmd {
	return tea.Batch(waitForUpdate(m.updates), m.progress.Init())
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case statusMsg:
		st := models.TaskStatus(msg)
		m.status = &st
		return m, waitForUpdate(m.updates)

	case watchDoneMsg:
		m.done = true
		if msg.final != nil {
			m.status = msg.final
		}
		m.err = msg.err
		if m.err == nil && m.status != nil && m.status.State == models.TaskFailure {
			m.err = errors.New(m.status.Error)
		}
		return m, tea.Quit

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m progressModel) renderContent() string {
	if m.done || m.quitting {
		return m.finalView()
	}
	if m.status == nil {
		return "Waiting for task status...\n"
	}

	var pct float64
	if m.status.Total > 0 {
		pct = float64(m.status.Current) / float64(m.status.Total)
	}
	state := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", m.status.State))
	counts := fmt.Sprintf("%d/%d %s", m.status.Current, m.status.Total, m.status.Status)
	hint := m.theme.hintStyle().Render("Press Ctrl+C to stop watching")

	return fmt.Sprintf("%s %s %s\n%s\n", state, m.progress.ViewAs(pct), counts, hint)
}

func (m progressModel) finalView() string {
	if m.quitting {
		msg := fmt.Sprintf("\nTask %s continues on the server.\nUse 'kintel status %s' to check on it.\n",
			m.taskID, m.taskID)
		return m.theme.hintStyle().Render(msg)
	}
	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ Task failed: %s\n", m.err))
	}
	return m.theme.completedStyle().Render(fmt.Sprintf("✓ Task %s completed\n", m.taskID))
}

// watchTask follows taskID until it is terminal, with a progress bar when
// stdout is a terminal and one line per change otherwise.
func watchTask(ctx context.Context, c *client.Client, taskID string) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return watchPlain(ctx, c, taskID, os.Stdout)
	}
	return runTaskProgress(ctx, c, taskID)
}

func runTaskProgress(ctx context.Context, c *client.Client, taskID string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	updates := make(chan tea.Msg, 8)
	go func() {
		defer close(updates)
		final, err := c.WatchTask(ctx, taskID, func(st models.TaskStatus) error {
			select {
			case updates <- statusMsg(st):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		select {
		case updates <- watchDoneMsg{final: final, err: err}:
		case <-ctx.Done():
		}
	}()

	finalModel, err := tea.NewProgram(newProgressModel(taskID, updates)).Run()
	if err != nil {
		return fmt.Errorf("progress UI error: %w", err)
	}
	if m, ok := finalModel.(progressModel); ok {
		// Ctrl+C stops watching; the task itself keeps running.
		if m.quitting {
			return nil
		}
		return m.err
	}
	return nil
}

func watchPlain(ctx context.Context, c *client.Client, taskID string, out io.Writer) error {
	final, err := c.WatchTask(ctx, taskID, func(st models.TaskStatus) error {
		fmt.Fprintln(out, formatStatus(st))
		return nil
	})
	if err != nil {
		return err
	}
	if final != nil && final.State == models.TaskFailure {
		return fmt.Errorf("task %s failed: %s", taskID, final.Error)
	}
	return nil
}

func formatStatus(st models.TaskStatus) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] %d/%d %s", st.TaskID, st.State, st.Current, st.Total, st.Status)
	if st.Result != nil && st.State == models.TaskSuccess {
		fmt.Fprintf(&b, " (%s)", st.Result.Status)
	}
	return b.String()
}
