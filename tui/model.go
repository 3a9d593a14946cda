// Package tui is the terminal front-end of BashBook.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"bashbook/client"
	"bashbook/domain"
)

const opTimeout = 15 * time.Second

type mode int

const (
	modeGate mode = iota
	modeList
	modeSearch
	modeAdd
	modeConfirm
)

type unlockedMsg struct{ err error }

type loadedMsg struct{ err error }

type savedMsg struct {
	action string
	err    error
}

// Model renders a client.Book behind a client.Gate.
type Model struct {
	ctx  context.Context
	book *client.Book
	gate *client.Gate

	mode    mode
	input   textinput.Model
	keys    keyMap
	help    help.Model
	cursor  int
	pending domain.Guest

	gateErr   string
	status    string
	statusErr bool
	busy      int

	width  int
	height int
}

func New(ctx context.Context, book *client.Book, gate *client.Gate) Model {
	in := textinput.New()
	in.CharLimit = 0
	m := Model{
		ctx:   ctx,
		book:  book,
		gate:  gate,
		keys:  defaultKeys(),
		help:  help.New(),
		input: in,
	}
	m.enterGate()
	return m
}

// Run starts the program and blocks until the user quits.
func Run(ctx context.Context, book *client.Book, gate *client.Gate) error {
	p := tea.NewProgram(New(ctx, book, gate), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width
		return m, nil
	case unlockedMsg:
		return m.onUnlocked(msg)
	case loadedMsg:
		m.busy--
		if msg.err != nil {
			m.setStatus(msg.err.Error(), true)
		} else {
			m.setStatus(fmt.Sprintf("loaded %d guests", m.book.Len()), false)
		}
		m.clampCursor()
		return m, nil
	case savedMsg:
		m.busy--
		if msg.err != nil {
			m.setStatus(msg.action+" failed: "+msg.err.Error(), true)
		} else {
			m.setStatus(msg.action, false)
		}
		m.clampCursor()
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
		switch m.mode {
		case modeGate:
			return m.updateGate(msg)
		case modeSearch:
			return m.updateSearch(msg)
		case modeAdd:
			return m.updateAdd(msg)
		case modeConfirm:
			return m.updateConfirm(msg)
		default:
			return m.updateList(msg)
		}
	}

	if m.input.Focused() {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) updateGate(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		return m, tea.Quit
	case tea.KeyEnter:
		password := m.input.Value()
		m.gateErr = ""
		return m, m.unlock(password)
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) onUnlocked(msg unlockedMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		if errors.Is(msg.err, client.ErrWrongPassword) {
			m.gateErr = "wrong password"
		} else {
			m.gateErr = msg.err.Error()
		}
		m.input.SetValue("")
		return m, nil
	}
	m.mode = modeList
	m.input.Blur()
	m.input.SetValue("")
	m.input.EchoMode = textinput.EchoNormal
	cmd := m.load()
	return m, cmd
}

func (m Model) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	visible := m.book.Visible()
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(visible)-1 {
			m.cursor++
		}
	case key.Matches(msg, m.keys.Search):
		m.mode = modeSearch
		m.input.Placeholder = "Search..."
		m.input.SetValue(m.book.Search())
		m.input.CursorEnd()
		cmd := m.input.Focus()
		return m, cmd
	case key.Matches(msg, m.keys.Add):
		m.mode = modeAdd
		m.input.Placeholder = "Guest name"
		m.input.SetValue("")
		cmd := m.input.Focus()
		return m, cmd
	case key.Matches(msg, m.keys.Toggle):
		if g, ok := m.selected(visible); ok {
			cmd := m.toggle(g)
			return m, cmd
		}
	case key.Matches(msg, m.keys.Delete):
		if g, ok := m.selected(visible); ok {
			m.pending = g
			m.mode = modeConfirm
		}
	case key.Matches(msg, m.keys.Reload):
		cmd := m.load()
		return m, cmd
	}
	return m, nil
}

func (m Model) updateSearch(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEnter:
		m.mode = modeList
		m.input.Blur()
		return m, nil
	case tea.KeyEsc:
		m.mode = modeList
		m.input.Blur()
		m.input.SetValue("")
		m.book.SetSearch("")
		m.clampCursor()
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	m.book.SetSearch(m.input.Value())
	m.clampCursor()
	return m, cmd
}

func (m Model) updateAdd(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEnter:
		name := m.input.Value()
		m.mode = modeList
		m.input.Blur()
		m.input.SetValue("")
		cmd := m.add(name)
		return m, cmd
	case tea.KeyEsc:
		m.mode = modeList
		m.input.Blur()
		m.input.SetValue("")
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) updateConfirm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch strings.ToLower(msg.String()) {
	case "y", "enter":
		g := m.pending
		m.pending = domain.Guest{}
		m.mode = modeList
		cmd := m.remove(g)
		return m, cmd
	case "n", "esc", "q":
		m.pending = domain.Guest{}
		m.mode = modeList
	}
	return m, nil
}

func (m *Model) enterGate() {
	m.mode = modeGate
	m.input.Placeholder = "Password"
	m.input.EchoMode = textinput.EchoPassword
	m.input.EchoCharacter = '•'
	m.input.SetValue("")
	m.input.Focus()
}

func (m Model) selected(visible []domain.Guest) (domain.Guest, bool) {
	if m.cursor < 0 || m.cursor >= len(visible) {
		return domain.Guest{}, false
	}
	return visible[m.cursor], true
}

func (m *Model) clampCursor() {
	n := len(m.book.Visible())
	if m.cursor >= n {
		m.cursor = n - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func (m *Model) setStatus(text string, isErr bool) {
	m.status = text
	m.statusErr = isErr
}

// background runs fn as a command bounded by opTimeout.
func (m Model) background(fn func(ctx context.Context) tea.Msg) tea.Cmd {
	parent := m.ctx
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(parent, opTimeout)
		defer cancel()
		return fn(ctx)
	}
}

func (m Model) unlock(password string) tea.Cmd {
	gate := m.gate
	return m.background(func(ctx context.Context) tea.Msg {
		return unlockedMsg{err: gate.Unlock(ctx, password)}
	})
}

func (m *Model) load() tea.Cmd {
	m.busy++
	book := m.book
	return m.background(func(ctx context.Context) tea.Msg {
		return loadedMsg{err: book.Load(ctx)}
	})
}

// add, toggle and remove change the book before returning, so the list is
// already updated when Update returns. The command only pushes.
func (m *Model) add(name string) tea.Cmd {
	m.book.Append(name)
	m.clampCursor()
	return m.push(fmt.Sprintf("added %q", name), m.book.Sync)
}

func (m *Model) toggle(g domain.Guest) tea.Cmd {
	if !m.book.Flip(g.ID) {
		return nil
	}
	action := fmt.Sprintf("checked in %q", g.Text)
	if g.Completed {
		action = fmt.Sprintf("checked out %q", g.Text)
	}
	return m.push(action, m.book.Sync)
}

func (m *Model) remove(g domain.Guest) tea.Cmd {
	if _, ok := m.book.Remove(g.ID); !ok {
		return nil
	}
	m.clampCursor()
	book, id := m.book, g.ID
	return m.push(fmt.Sprintf("deleted %q", g.Text), func(ctx context.Context) error {
		return book.SyncDelete(ctx, id)
	})
}

func (m *Model) push(action string, sync func(ctx context.Context) error) tea.Cmd {
	m.busy++
	return m.background(func(ctx context.Context) tea.Msg {
		return savedMsg{action: action, err: sync(ctx)}
	})
}

func (m Model) View() string {
	if m.mode == modeGate {
		return m.viewGate()
	}

	var b strings.Builder
	b.WriteString(m.viewHeader())
	b.WriteString("\n\n")

	switch m.mode {
	case modeSearch:
		b.WriteString(accentStyle.Render("/ ") + m.input.View() + "\n\n")
	case modeAdd:
		b.WriteString(accentStyle.Render("Add guest ") + m.input.View() + "\n\n")
	default:
		if term := m.book.Search(); term != "" {
			b.WriteString(mutedStyle.Render("filter: "+term) + "\n\n")
		}
	}

	b.WriteString(m.viewTable())

	if m.mode == modeConfirm {
		prompt := fmt.Sprintf("Delete %s? %s", titleStyle.Render(m.pending.Text), mutedStyle.Render("(y/n)"))
		b.WriteString("\n" + modalStyle.Render(prompt) + "\n")
	}

	b.WriteString("\n" + m.viewStatus())
	b.WriteString("\n" + m.help.View(m.keys))
	return panelStyle.Render(b.String())
}

func (m Model) viewGate() string {
	lines := []string{
		titleStyle.Render("BashBook"),
		"",
		"Enter the door password",
		m.input.View(),
	}
	if m.gateErr != "" {
		lines = append(lines, "", errorStyle.Render("✖ "+m.gateErr))
	}
	lines = append(lines, "", mutedStyle.Render("enter to unlock • esc to quit"))
	box := modalStyle.Render(strings.Join(lines, "\n"))
	if m.width > 0 && m.height > 0 {
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, box)
	}
	return box
}

func (m Model) viewHeader() string {
	checkedIn, pending := m.book.Stats()
	return fmt.Sprintf("%s   %s   %s %d  %s %d",
		titleStyle.Render("BashBook"),
		accentStyle.Render(fmt.Sprintf("%d guests", m.book.Len())),
		successStyle.Render("✔"), checkedIn,
		pendingStyle.Render("•"), pending,
	)
}

func (m Model) viewTable() string {
	visible := m.book.Visible()
	if len(visible) == 0 {
		return mutedStyle.Render("  no guests") + "\n"
	}
	var b strings.Builder
	b.WriteString(mutedStyle.Render("    In  Name") + "\n")
	for i, g := range visible {
		box := mutedStyle.Render(boxUnchecked)
		name := g.Text
		if g.Completed {
			box = successStyle.Render(boxChecked)
			name = doneStyle.Render(g.Text)
		}
		prefix := "  "
		if i == m.cursor && m.mode != modeGate {
			prefix = selectedStyle.Render("> ")
		}
		fmt.Fprintf(&b, "%s  %s  %s\n", prefix, box, name)
	}
	return b.String()
}

func (m Model) viewStatus() string {
	status := m.status
	if m.busy > 0 {
		status = "working…"
	}
	if status == "" {
		return ""
	}
	if m.statusErr && m.busy == 0 {
		return errorStyle.Render("✖ " + status)
	}
	return mutedStyle.Render(status)
}
