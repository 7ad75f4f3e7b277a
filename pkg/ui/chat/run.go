package chat

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Reply is what the dispatcher made of one message.
type Reply struct {
	Text string
	Rule string
	// Reason explains an acknowledgement, for example "no_match" or "non_text".
	Reason string
}

// Matched reports whether a rule produced a reply.
func (r Reply) Matched() bool {
	return r.Rule != ""
}

// SendFunc delivers one follower message and returns the outcome.
type SendFunc func(ctx context.Context, text string) (Reply, error)

// SessionInfo is shown in the console header.
type SessionInfo struct {
	Rules     int
	Functions int
}

func RunInteractive(ctx context.Context, sendFn SendFunc, info SessionInfo) error {
	model := newModel(ctx, sendFn, modeInteractive, "", info)
	program := tea.NewProgram(model, tea.WithContext(ctx), tea.WithMouseCellMotion())
	if _, err := program.Run(); err != nil {
		return err
	}

	fmt.Print("\033[H\033[2J")
	fmt.Println(renderGoodbyeBanner())
	return nil
}

func RunOneShot(ctx context.Context, sendFn SendFunc, text string, info SessionInfo) error {
	model := newModel(ctx, sendFn, modeOneShot, text, info)
	program := tea.NewProgram(model, tea.WithContext(ctx))
	_, err := program.Run()
	return err
}

func renderGoodbyeBanner() string {
	style := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("230")).
		Background(lipgloss.Color("28")).
		Padding(1, 2)

	return style.Render("💬 wxreply console closed")
}
