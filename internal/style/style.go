package style

import (
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
)

// --- Reusable Colors ---
var (
	colorPink     = lipgloss.Color("205")
	colorDarkGray = lipgloss.Color("240")
	colorCyan     = lipgloss.Color("212")
	colorBlue     = lipgloss.Color("57")
	colorLight    = lipgloss.Color("229")
	colorPurple   = lipgloss.Color("99")
	colorGreen    = lipgloss.Color("42")
	colorYellow   = lipgloss.Color("214")
	colorRed      = lipgloss.Color("196")
)

// --- General Purpose Styles ---
var (
	ErrorStyle   = lipgloss.NewStyle().Foreground(colorRed)
	SuccessStyle = lipgloss.NewStyle().Foreground(colorGreen)
	WarnStyle    = lipgloss.NewStyle().Foreground(colorYellow)
	HelpStyle    = lipgloss.NewStyle().Faint(true)
)

// --- Status View Styles ---
var (
	DocStyle           = lipgloss.NewStyle().Margin(1, 2)
	TitleStyle         = lipgloss.NewStyle().Bold(true).Foreground(colorPink)
	LabelStyle         = lipgloss.NewStyle().Foreground(colorDarkGray)
	HighlightFontStyle = lipgloss.NewStyle().Foreground(colorCyan)
	FileStyle          = lipgloss.NewStyle().Foreground(colorPurple)
	BaseStyle          = lipgloss.NewStyle().
				BorderStyle(lipgloss.RoundedBorder()).
				BorderForeground(colorDarkGray).
				Padding(0, 1)
)

// --- File Picker Styles ---
var (
	CursorStyle     = lipgloss.NewStyle().Foreground(colorCyan).SetString("> ")
	SelectedStyle   = lipgloss.NewStyle().Foreground(colorGreen).SetString("[x] ")
	DeselectedStyle = lipgloss.NewStyle().SetString("[ ] ")
	DirStyle        = lipgloss.NewStyle().Foreground(colorPurple).Bold(true)
	DisabledStyle   = lipgloss.NewStyle().Faint(true)
	HeaderStyle     = lipgloss.NewStyle().Bold(true)
)

// StatusStyle colours a receiver status label by how healthy it is.
func StatusStyle(status string) lipgloss.Style {
	switch status {
	case "receiving_file":
		return HighlightFontStyle.Bold(true)
	case "connected", "listening":
		return SuccessStyle
	case "error":
		return ErrorStyle.Bold(true)
	case "idle", "starting", "handshaking":
		return WarnStyle
	default:
		return lipgloss.NewStyle()
	}
}

// --- Common Components ---

// NewSpinner creates a spinner with a consistent style.
func NewSpinner() spinner.Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(colorPink)
	return s
}

// NewProgress creates the progress bar used for file transfers.
func NewProgress() progress.Model {
	return progress.New(
		progress.WithGradient(string(colorPurple), string(colorPink)),
		progress.WithWidth(40),
		progress.WithoutPercentage(),
	)
}

// NewTableStyles returns the default table styles with a ruled header and
// our selection colours.
func NewTableStyles() table.Styles {
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(colorDarkGray).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.Foreground(colorLight).Background(colorBlue).Bold(false)
	return styles
}
