package ui

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/rescp17/lantransfer/internal/style"
	"github.com/rescp17/lantransfer/internal/util"
)

// ErrNothingSelected is returned by Pick when the user leaves the picker
// without choosing a file.
var ErrNothingSelected = errors.New("no files selected")

type pickerMode int

const (
	modeBrowse pickerMode = iota
	modeInput
)

type PickerKeyMap struct {
	Up       key.Binding
	Down     key.Binding
	PageUp   key.Binding
	PageDown key.Binding
	Open     key.Binding
	Parent   key.Binding
	Toggle   key.Binding
	Input    key.Binding
	Confirm  key.Binding
	Cancel   key.Binding
}

var DefaultPickerKeyMap = PickerKeyMap{
	Up:       key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "move up")),
	Down:     key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "move down")),
	PageUp:   key.NewBinding(key.WithKeys("pgup", "ctrl+u"), key.WithHelp("pgup", "page up")),
	PageDown: key.NewBinding(key.WithKeys("pgdown", "ctrl+d"), key.WithHelp("pgdown", "page down")),
	Open:     key.NewBinding(key.WithKeys("right", "l"), key.WithHelp("→/l", "open dir")),
	Parent:   key.NewBinding(key.WithKeys("left", "h", "backspace"), key.WithHelp("←/h", "parent dir")),
	Toggle:   key.NewBinding(key.WithKeys(" "), key.WithHelp("space", "select")),
	Input:    key.NewBinding(key.WithKeys("ctrl+p"), key.WithHelp("ctrl+p", "type a path")),
	Confirm:  key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "send")),
	Cancel:   key.NewBinding(key.WithKeys("esc", "ctrl+c"), key.WithHelp("esc", "cancel")),
}

// Picker lets the user browse directories and select the files to send.
// Files the receiver would refuse, as judged by accepts, are shown but
// cannot be selected.
type Picker struct {
	dir      string
	entries  []fs.DirEntry
	selected map[string]struct{}
	accepts  func(name string) bool
	keys     PickerKeyMap

	cursor int
	offset int
	height int

	mode      pickerMode
	input     textinput.Model
	err       error
	cancelled bool
	done      bool
}

// NewPicker opens the picker at dir. A nil accepts allows every file.
func NewPicker(dir string, accepts func(name string) bool) (Picker, error) {
	if accepts == nil {
		accepts = func(string) bool { return true }
	}

	ti := textinput.New()
	ti.Placeholder = "path to a directory"
	ti.CharLimit = 512
	ti.Width = 60

	p := Picker{
		selected: make(map[string]struct{}),
		accepts:  accepts,
		keys:     DefaultPickerKeyMap,
		input:    ti,
	}
	if err := p.load(dir); err != nil {
		return Picker{}, err
	}
	return p, nil
}

// Pick runs a picker on the terminal and returns the chosen paths.
func Pick(ctx context.Context, dir string, accepts func(name string) bool) ([]string, error) {
	p, err := NewPicker(dir, accepts)
	if err != nil {
		return nil, err
	}

	final, err := tea.NewProgram(p, tea.WithContext(ctx)).Run()
	if err != nil {
		return nil, err
	}
	selected := final.(Picker).Selected()
	if len(selected) == 0 {
		return nil, ErrNothingSelected
	}
	return selected, nil
}

// Selected returns the chosen paths in sorted order, or nil when the
// picker was cancelled.
func (p Picker) Selected() []string {
	if p.cancelled {
		return nil
	}
	paths := make([]string, 0, len(p.selected))
	for path := range p.selected {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

func (p *Picker) load(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("path does not exist: %s", abs)
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", abs)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return fmt.Errorf("could not read directory: %w", err)
	}

	// Directories first, then files, each by name.
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].IsDir() != entries[j].IsDir() {
			return entries[i].IsDir()
		}
		return entries[i].Name() < entries[j].Name()
	})

	p.dir = abs
	p.entries = entries
	p.cursor = 0
	p.offset = 0
	p.err = nil
	return nil
}

func (p Picker) Init() tea.Cmd {
	return nil
}

func (p Picker) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if p.done || p.cancelled {
		return p, nil
	}

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		p.height = msg.Height
	case tea.KeyMsg:
		if p.mode == modeInput {
			return p.updateInput(msg)
		}
		return p.updateBrowse(msg)
	}
	return p, nil
}

func (p Picker) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, p.keys.Cancel):
		p.mode = modeBrowse
		p.input.Blur()
		p.input.Reset()
		p.err = nil
		return p, nil
	case key.Matches(msg, p.keys.Confirm):
		path := p.input.Value()
		if expanded, err := util.ExpandHome(path); err == nil {
			path = expanded
		}
		if !filepath.IsAbs(path) {
			path = filepath.Join(p.dir, path)
		}
		if err := p.load(path); err != nil {
			p.err = err
			return p, nil
		}
		p.mode = modeBrowse
		p.input.Blur()
		p.input.Reset()
		return p, nil
	}

	var cmd tea.Cmd
	p.input, cmd = p.input.Update(msg)
	return p, cmd
}

func (p Picker) updateBrowse(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	page := p.visibleItems()

	switch {
	case key.Matches(msg, p.keys.Cancel):
		p.cancelled = true
		return p, tea.Quit
	case key.Matches(msg, p.keys.Input):
		p.mode = modeInput
		cmd := p.input.Focus()
		return p, cmd
	case key.Matches(msg, p.keys.Up):
		p.moveCursor(-1)
	case key.Matches(msg, p.keys.Down):
		p.moveCursor(1)
	case key.Matches(msg, p.keys.PageUp):
		p.moveCursor(-page)
	case key.Matches(msg, p.keys.PageDown):
		p.moveCursor(page)
	case key.Matches(msg, p.keys.Parent):
		if parent := filepath.Dir(p.dir); parent != p.dir {
			p.err = p.load(parent)
		}
	case key.Matches(msg, p.keys.Open):
		if e := p.current(); e != nil && e.IsDir() {
			p.err = p.load(filepath.Join(p.dir, e.Name()))
		}
	case key.Matches(msg, p.keys.Toggle):
		p.toggle()
	case key.Matches(msg, p.keys.Confirm):
		if len(p.selected) > 0 {
			p.done = true
			return p, tea.Quit
		}
		if e := p.current(); e != nil && e.IsDir() {
			p.err = p.load(filepath.Join(p.dir, e.Name()))
		}
	}
	return p, nil
}

func (p *Picker) current() fs.DirEntry {
	if p.cursor < 0 || p.cursor >= len(p.entries) {
		return nil
	}
	return p.entries[p.cursor]
}

func (p *Picker) selectable(e fs.DirEntry) bool {
	return e.Type().IsRegular() && p.accepts(e.Name())
}

func (p *Picker) toggle() {
	e := p.current()
	if e == nil || !p.selectable(e) {
		return
	}
	path := filepath.Join(p.dir, e.Name())
	if _, ok := p.selected[path]; ok {
		delete(p.selected, path)
	} else {
		p.selected[path] = struct{}{}
	}
}

func (p *Picker) moveCursor(delta int) {
	if len(p.entries) == 0 {
		return
	}
	p.cursor = max(0, min(len(p.entries)-1, p.cursor+delta))

	page := p.visibleItems()
	if p.cursor < p.offset {
		p.offset = p.cursor
	}
	if p.cursor >= p.offset+page {
		p.offset = p.cursor - page + 1
	}
}

func (p *Picker) visibleItems() int {
	visible := p.height - 8
	if p.err != nil {
		visible--
	}
	if visible < 1 {
		visible = 15
	}
	return visible
}

const (
	pickNameWidth = 36
	pickSizeWidth = 10
	pickTimeWidth = 16
)

func (p Picker) View() string {
	if p.done || p.cancelled {
		return ""
	}

	var s strings.Builder
	s.WriteString(style.TitleStyle.Render("Select files to send") + "  " + style.HelpStyle.Render(p.helpView()) + "\n\n")

	if p.mode == modeInput {
		s.WriteString(p.input.View() + "\n")
	}
	if p.err != nil {
		s.WriteString(style.ErrorStyle.Render(p.err.Error()) + "\n")
	}

	s.WriteString(fmt.Sprintf("Browsing: %s  (%d selected)\n\n", style.HighlightFontStyle.Render(p.dir), len(p.selected)))
	s.WriteString(style.HeaderStyle.Render(
		util.PadRight("", 6)+
			util.PadRight("Name", pickNameWidth)+" "+
			util.PadLeft("Size", pickSizeWidth)+"  "+
			util.PadRight("Modified", pickTimeWidth)) + "\n")

	end := min(len(p.entries), p.offset+p.visibleItems())
	for i := p.offset; i < end; i++ {
		e := p.entries[i]

		if i == p.cursor {
			s.WriteString(style.CursorStyle.String())
		} else {
			s.WriteString("  ")
		}
		if _, ok := p.selected[filepath.Join(p.dir, e.Name())]; ok {
			s.WriteString(style.SelectedStyle.String())
		} else {
			s.WriteString(style.DeselectedStyle.String())
		}

		name := e.Name()
		size, modified := "", ""
		if info, err := e.Info(); err == nil {
			modified = info.ModTime().Format("2006-01-02 15:04")
			if !e.IsDir() {
				size = util.FormatSize(uint64(info.Size()))
			}
		}
		if e.IsDir() {
			name += "/"
			size = "<DIR>"
		}

		row := util.PadRight(name, pickNameWidth) + " " + util.PadLeft(size, pickSizeWidth) + "  " + util.PadRight(modified, pickTimeWidth)
		switch {
		case e.IsDir():
			row = style.DirStyle.Render(row)
		case !p.selectable(e):
			row = style.DisabledStyle.Render(row)
		}
		s.WriteString(row + "\n")
	}

	if len(p.entries) > p.visibleItems() {
		s.WriteString(fmt.Sprintf("\n... %d/%d ...\n", p.cursor+1, len(p.entries)))
	}
	return style.DocStyle.Render(s.String())
}

func (p Picker) helpView() string {
	k := p.keys
	return fmt.Sprintf("%s %s · %s %s · %s %s · %s %s",
		k.Toggle.Help().Key, k.Toggle.Help().Desc,
		k.Input.Help().Key, k.Input.Help().Desc,
		k.Confirm.Help().Key, k.Confirm.Help().Desc,
		k.Cancel.Help().Key, k.Cancel.Help().Desc)
}
