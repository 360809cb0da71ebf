package ui

import (
	"context"
	"errors"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
)

type KeyMap struct {
	Quit key.Binding
}

// DefaultKeyMap provides sensible default keybindings.
var DefaultKeyMap = KeyMap{
	Quit: key.NewBinding(key.WithKeys("q", "esc", "ctrl+c"), key.WithHelp("q", "quit")),
}

// Run drives m on the terminal until the user quits or ctx is cancelled.
// Cancellation is a normal way to end the program and is not reported.
func Run(ctx context.Context, m tea.Model, opts ...tea.ProgramOption) error {
	opts = append([]tea.ProgramOption{tea.WithContext(ctx)}, opts...)
	p := tea.NewProgram(m, opts...)
	if _, err := p.Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return err
	}
	return nil
}

// mailbox is a single-slot channel where a newer value replaces one the UI
// has not picked up yet. put never blocks, so producers on hot paths can
// feed it directly.
type mailbox[T any] struct {
	ch chan T
}

func newMailbox[T any]() mailbox[T] {
	return mailbox[T]{ch: make(chan T, 1)}
}

func (m mailbox[T]) put(v T) {
	for {
		select {
		case m.ch <- v:
			return
		default:
		}
		select {
		case <-m.ch:
		default:
		}
	}
}

// wait returns a command delivering the next value wrapped by wrap.
func (m mailbox[T]) wait(wrap func(T) tea.Msg) tea.Cmd {
	return func() tea.Msg {
		return wrap(<-m.ch)
	}
}

func helpLine() string {
	h := DefaultKeyMap.Quit.Help()
	return h.Key + " " + h.Desc
}
