package ui

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/rescp17/lantransfer/internal/style"
	"github.com/rescp17/lantransfer/internal/util"
	"github.com/rescp17/lantransfer/pkg/sender"
)

type (
	sendProgressMsg sender.Progress
	sendDoneMsg     struct {
		results []*sender.Result
		err     error
	}
)

// SenderModel shows the progress of a send that runs elsewhere. The sender
// reports through Report and Finish; both are safe from any goroutine.
type SenderModel struct {
	updates mailbox[sender.Progress]
	done    chan sendDoneMsg

	target   string
	files    []string
	current  *sender.Progress
	results  []*sender.Result
	err      error
	finished bool
	spinner  spinner.Model
	progress progress.Model
}

func NewSenderModel(target string, files []string) SenderModel {
	return SenderModel{
		updates:  newMailbox[sender.Progress](),
		done:     make(chan sendDoneMsg, 1),
		target:   target,
		files:    files,
		spinner:  style.NewSpinner(),
		progress: style.NewProgress(),
	}
}

// Report is meant to be installed as sender.Options.OnProgress.
func (m SenderModel) Report(p sender.Progress) {
	m.updates.put(p)
}

// Finish ends the view with the outcome of the send. Only the first call
// counts.
func (m SenderModel) Finish(results []*sender.Result, err error) {
	select {
	case m.done <- sendDoneMsg{results: results, err: err}:
	default:
	}
}

// Err returns the failure passed to Finish, if any.
func (m SenderModel) Err() error {
	return m.err
}

func (m SenderModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForEvent())
}

func (m SenderModel) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		select {
		case d := <-m.done:
			return d
		case p := <-m.updates.ch:
			return sendProgressMsg(p)
		}
	}
}

func (m SenderModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if key.Matches(msg, DefaultKeyMap.Quit) {
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.progress.Width = max(10, min(60, msg.Width-30))
	case sendProgressMsg:
		p := sender.Progress(msg)
		m.current = &p
		return m, m.waitForEvent()
	case sendDoneMsg:
		m.results = msg.results
		m.err = msg.err
		m.finished = true
		m.current = nil
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m SenderModel) View() string {
	var b strings.Builder
	b.WriteString(style.TitleStyle.Render("LAN Transfer") + "  sending to " + style.HighlightFontStyle.Render(m.target) + "\n\n")

	for _, r := range m.results {
		b.WriteString(fmt.Sprintf("%s %s %s\n",
			style.SuccessStyle.Render("✓"),
			util.PadRight(r.FileName, nameWidth),
			util.PadLeft(util.FormatSize(r.Size), 9)))
	}

	switch {
	case m.finished && m.err != nil:
		b.WriteString(style.ErrorStyle.Render("Transfer failed: "+m.err.Error()) + "\n")
	case m.finished:
		b.WriteString(style.SuccessStyle.Render(fmt.Sprintf("Sent %d file(s)", len(m.results))) + "\n")
	case m.current != nil:
		p := m.current
		var ratio float64
		if p.TotalBytes > 0 {
			ratio = float64(p.BytesSent) / float64(p.TotalBytes)
		}
		b.WriteString(m.spinner.View() + " " + style.FileStyle.Render(filepath.Base(p.FileName)) + "\n")
		b.WriteString(m.progress.ViewAs(ratio) + " " +
			style.LabelStyle.Render(fmt.Sprintf("%s / %s", util.FormatSize(p.BytesSent), util.FormatSize(p.TotalBytes))) + "\n")
	default:
		b.WriteString(fmt.Sprintf("%s Connecting... (%d file(s) queued)\n", m.spinner.View(), len(m.files)))
	}

	if !m.finished {
		b.WriteString("\n" + style.HelpStyle.Render(helpLine()))
	}
	return style.DocStyle.Render(b.String())
}
