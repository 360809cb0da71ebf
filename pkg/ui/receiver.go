package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/rescp17/lantransfer/internal/style"
	"github.com/rescp17/lantransfer/internal/util"
	"github.com/rescp17/lantransfer/pkg/receiver"
	"github.com/rescp17/lantransfer/pkg/transfer"
)

const (
	recentLimit = 5
	nameWidth   = 24
)

type stateMsg receiver.State

// ReceiverModel renders the receiver's published state: status, paired
// peer, the file in flight and the most recent completions.
type ReceiverModel struct {
	states      mailbox[receiver.State]
	unsubscribe func()

	device   string
	state    receiver.State
	recent   []transfer.Completion
	spinner  spinner.Model
	progress progress.Model
	quitting bool
}

// NewReceiverModel subscribes to srv. The subscription ends when the user
// quits the view.
func NewReceiverModel(srv *receiver.Server) ReceiverModel {
	m := ReceiverModel{
		states:   newMailbox[receiver.State](),
		device:   srv.Config().DeviceName,
		state:    srv.State(),
		spinner:  style.NewSpinner(),
		progress: style.NewProgress(),
	}
	m.unsubscribe = srv.Subscribe(m.states.put)
	return m
}

func (m ReceiverModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForState())
}

func (m ReceiverModel) waitForState() tea.Cmd {
	return m.states.wait(func(s receiver.State) tea.Msg { return stateMsg(s) })
}

func (m ReceiverModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if key.Matches(msg, DefaultKeyMap.Quit) {
			m.unsubscribe()
			m.quitting = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.progress.Width = max(10, min(60, msg.Width-30))
	case stateMsg:
		m.applyState(receiver.State(msg))
		return m, m.waitForState()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *ReceiverModel) applyState(next receiver.State) {
	if c := next.LastCompletion; c != nil && (len(m.recent) == 0 || m.recent[0].TransferID != c.TransferID) {
		m.recent = append([]transfer.Completion{*c}, m.recent...)
		if len(m.recent) > recentLimit {
			m.recent = m.recent[:recentLimit]
		}
	}
	m.state = next
}

func (m ReceiverModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(style.TitleStyle.Render("LAN Transfer") + "  " + style.HighlightFontStyle.Render(m.device) + "\n\n")

	st := m.state
	status := st.Status.String()
	b.WriteString(style.LabelStyle.Render("Status  ") + style.StatusStyle(status).Render(status))
	if st.Addr != "" {
		b.WriteString(style.LabelStyle.Render("  on ") + st.Addr)
	}
	b.WriteString("\n")

	if c := st.Client; c != nil {
		peer := util.PadRight(c.DeviceName, nameWidth)
		b.WriteString(style.LabelStyle.Render("Peer    ") + style.HighlightFontStyle.Render(peer) + " " + c.Platform)
		if c.AppVersion != nil {
			b.WriteString(" " + *c.AppVersion)
		}
		b.WriteString("\n")
	} else if st.Status == transfer.StatusListening {
		b.WriteString(fmt.Sprintf("\n%s Waiting for a sender...\n", m.spinner.View()))
	}

	if p := st.Transfer; p != nil {
		b.WriteString("\n" + m.spinner.View() + " Receiving " + style.FileStyle.Render(p.FileName) + "\n")
		b.WriteString(m.progress.ViewAs(p.Percentage/100) + " " + util.PadLeft(fmt.Sprintf("%.0f%%", p.Percentage), 4) + "\n")
		b.WriteString(style.LabelStyle.Render(fmt.Sprintf("%s / %s  %s  eta %s  chunks %d/%d",
			util.FormatSize(p.BytesReceived),
			util.FormatSize(p.TotalBytes),
			util.FormatRate(p.Rate),
			util.FormatDuration(p.EstimatedRemaining),
			p.ChunksReceived, p.TotalChunks)) + "\n")
	}

	if st.LastError != "" {
		b.WriteString("\n" + style.ErrorStyle.Render("Last error: "+st.LastError) + "\n")
	}

	if len(m.recent) > 0 {
		b.WriteString("\n" + style.BaseStyle.Render(m.recentTable().View()) + "\n")
	}

	b.WriteString("\n" + style.HelpStyle.Render(helpLine()))
	return style.DocStyle.Render(b.String())
}

var recentColumns = []table.Column{
	{Title: "File", Width: nameWidth},
	{Title: "Size", Width: 10},
	{Title: "Took", Width: 8},
	{Title: "Saved to", Width: 40},
}

func (m ReceiverModel) recentTable() table.Model {
	rows := make([]table.Row, 0, len(m.recent))
	for _, c := range m.recent {
		rows = append(rows, table.Row{
			c.FileName,
			util.FormatSize(c.Size),
			util.FormatDuration(c.Duration),
			c.FilePath,
		})
	}

	t := table.New(
		table.WithColumns(recentColumns),
		table.WithRows(rows),
		table.WithHeight(len(rows)+1),
	)
	t.SetStyles(style.NewTableStyles())
	return t
}
