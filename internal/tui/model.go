// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tui

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/neochat/internal/chat"
	"github.com/jeranaias/neochat/internal/export"
	"github.com/jeranaias/neochat/internal/store"
)

// =============================================================================
// TYPES
// =============================================================================

// Chatter starts and cancels turns. *chat.Manager implements it.
type Chatter interface {
	Send(ctx context.Context, conversationID, text string) (*chat.Turn, error)
	Cancel(conversationID string) bool
	Active(conversationID string) bool
}

// Options configures the chat screen.
type Options struct {
	// Theme is "auto", "dark", "light" or "notty".
	Theme string

	// HideThinking starts with reasoning blocks collapsed.
	HideThinking bool

	// ModelName is shown in the status line and recorded in exports.
	ModelName string

	// ExportDir receives Markdown exports (default: current directory).
	ExportDir string
}

// storeChangedMsg tells the model to re-read the store.
type storeChangedMsg struct{}

// turnDoneMsg reports the end of a turn started from the input box.
type turnDoneMsg struct {
	conversationID string
	err            error
}

const (
	minSidebarWidth = 20
	maxSidebarWidth = 32
	maxInputChars   = 4000
)

// =============================================================================
// MODEL
// =============================================================================

// Model is the bubbletea model of the chat screen. It never holds
// conversation state of its own: every render reads the store.
type Model struct {
	chat  Chatter
	store *store.Store
	opts  Options

	keys    KeyMap
	styles  Styles
	help    help.Model
	view    viewport.Model
	input   textinput.Model
	spinner spinner.Model
	md      *markdown

	width        int
	height       int
	sidebarWidth int
	ready        bool

	current      string
	metas        []store.ConversationMeta
	hideThinking bool
	spinning     bool

	status string
	err    error

	copy func(string) error
}

// New creates the chat screen, opening a conversation if the store is empty.
func New(c Chatter, st *store.Store, opts Options) Model {
	if opts.Theme == "" {
		opts.Theme = "auto"
	}

	in := textinput.New()
	in.Placeholder = "Message Neo..."
	in.Prompt = "› "
	in.CharLimit = maxInputChars
	in.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(colorAccent)

	m := Model{
		chat:         c,
		store:        st,
		opts:         opts,
		keys:         DefaultKeyMap(),
		styles:       DefaultStyles(),
		help:         help.New(),
		view:         viewport.New(0, 0),
		input:        in,
		spinner:      sp,
		md:           newMarkdown(opts.Theme),
		hideThinking: opts.HideThinking,
		copy:         clipboard.WriteAll,
	}
	m.refresh()
	return m
}

// Current returns the selected conversation ID.
func (m Model) Current() string {
	return m.current
}

// Init starts the cursor blink.
func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// =============================================================================
// UPDATE
// =============================================================================

// Update handles a message.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		m.refresh()
		return m, nil

	case storeChangedMsg:
		m.refresh()
		return m, m.startSpinner()

	case turnDoneMsg:
		if msg.err != nil && !errors.Is(msg.err, chat.ErrCanceled) {
			m.err = msg.err
			log.Printf("TUI_TURN_FAILED | conversation=%s error=%v", msg.conversationID, msg.err)
		}
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		if !m.chat.Active(m.current) {
			m.spinning = false
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.view, cmd = m.view.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		m.resize(m.width, m.height)
		m.refresh()
		return m, nil

	case key.Matches(msg, m.keys.Submit):
		return m.submit()

	case key.Matches(msg, m.keys.NewChat):
		m.current = m.store.CreateConversation()
		m.setStatus("New conversation")
		m.refresh()
		return m, nil

	case key.Matches(msg, m.keys.NextChat):
		m.cycle(1)
		return m, m.startSpinner()

	case key.Matches(msg, m.keys.PrevChat):
		m.cycle(-1)
		return m, m.startSpinner()

	case key.Matches(msg, m.keys.DeleteChat):
		id := m.current
		m.chat.Cancel(id)
		if err := m.store.DeleteConversation(id); err != nil {
			m.err = err
		} else {
			m.current = ""
			m.setStatus("Conversation deleted")
		}
		m.refresh()
		return m, nil

	case key.Matches(msg, m.keys.CopyReply):
		m.copyReply()
		return m, nil

	case key.Matches(msg, m.keys.Export):
		m.exportCurrent()
		return m, nil

	case key.Matches(msg, m.keys.ToggleThinking):
		m.hideThinking = !m.hideThinking
		if m.hideThinking {
			m.setStatus("Thinking hidden")
		} else {
			m.setStatus("Thinking shown")
		}
		m.refresh()
		return m, nil

	case key.Matches(msg, m.keys.Cancel):
		if m.chat.Cancel(m.current) {
			m.setStatus("Response cancelled")
		}
		return m, nil

	case key.Matches(msg, m.keys.ScrollUp):
		m.view.HalfViewUp()
		return m, nil

	case key.Matches(msg, m.keys.ScrollDown):
		m.view.HalfViewDown()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit sends the input box to the selected conversation.
func (m Model) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return m, nil
	}

	turn, err := m.chat.Send(context.Background(), m.current, text)
	if err != nil {
		m.err = err
		return m, nil
	}

	m.input.Reset()
	m.err = nil
	m.status = ""
	m.refresh()
	m.view.GotoBottom()
	return m, tea.Batch(waitTurn(turn), m.startSpinner())
}

func waitTurn(turn *chat.Turn) tea.Cmd {
	return func() tea.Msg {
		return turnDoneMsg{conversationID: turn.ConversationID, err: turn.Wait()}
	}
}

// startSpinner restarts the tick loop when the selected conversation is
// streaming and no loop is running.
func (m *Model) startSpinner() tea.Cmd {
	if m.spinning || !m.chat.Active(m.current) {
		return nil
	}
	m.spinning = true
	return m.spinner.Tick
}

func (m *Model) cycle(step int) {
	if len(m.metas) < 2 {
		return
	}
	idx := 0
	for i, meta := range m.metas {
		if meta.ID == m.current {
			idx = i
			break
		}
	}
	idx = (idx + step + len(m.metas)) % len(m.metas)
	m.current = m.metas[idx].ID
	m.err = nil
	m.status = ""
	m.refresh()
	m.view.GotoBottom()
}

func (m *Model) copyReply() {
	conv, err := m.store.Get(m.current)
	if err != nil {
		m.err = err
		return
	}
	reply := lastReply(conv)
	if reply == "" {
		m.setStatus("Nothing to copy yet")
		return
	}
	if err := m.copy(reply); err != nil {
		m.err = fmt.Errorf("copy to clipboard: %w", err)
		return
	}
	m.setStatus("Copied reply to clipboard")
}

// exportCurrent writes the current conversation, archive included, as
// Markdown.
func (m *Model) exportCurrent() {
	t, err := export.FromStore(m.store, m.current, m.opts.ModelName)
	if err != nil {
		m.err = err
		return
	}
	if len(t.Messages) == 0 {
		m.setStatus("Nothing to export yet")
		return
	}

	opts := export.DefaultOptions()
	opts.OutputDir = m.opts.ExportDir
	opts.HideThinking = m.hideThinking
	path, err := export.ExportToFile(t, export.NewMarkdownExporter(opts), opts)
	if err != nil {
		m.err = err
		return
	}
	m.setStatus("Exported to " + path)
}

func (m *Model) setStatus(s string) {
	m.status = s
	m.err = nil
}

// =============================================================================
// LAYOUT
// =============================================================================

func (m *Model) resize(width, height int) {
	m.width = width
	m.height = height
	m.ready = width > 0 && height > 0

	m.sidebarWidth = width / 4
	if m.sidebarWidth < minSidebarWidth {
		m.sidebarWidth = minSidebarWidth
	}
	if m.sidebarWidth > maxSidebarWidth {
		m.sidebarWidth = maxSidebarWidth
	}

	main := m.mainWidth()
	m.input.Width = main - 6
	m.help.Width = main

	// status line, bordered input and help
	chrome := 1 + 3 + lipgloss.Height(m.help.View(m.keys))
	m.view.Width = main
	m.view.Height = max(height-chrome, 1)
}

// mainWidth is the width right of the sidebar and its border.
func (m Model) mainWidth() int {
	return max(m.width-m.sidebarWidth-2, 10)
}

// refresh re-reads the store, reselecting when the current conversation is
// gone and creating one when none are left.
func (m *Model) refresh() {
	m.metas = m.store.List()
	if m.current == "" || !m.store.Has(m.current) {
		if len(m.metas) == 0 {
			m.current = m.store.CreateConversation()
			m.metas = m.store.List()
		} else {
			m.current = m.metas[0].ID
		}
	}

	conv, err := m.store.Get(m.current)
	if err != nil {
		return
	}

	content := renderConversation(conv, m.mainWidth(), m.hideThinking, m.md, m.styles)
	if n := m.store.ArchivedCount(m.current); n > 0 {
		content = m.styles.Muted.Render(fmt.Sprintf("… %d earlier messages archived", n)) + "\n\n" + content
	}

	atBottom := m.view.AtBottom()
	m.view.SetContent(content)
	if atBottom {
		m.view.GotoBottom()
	}
}

// =============================================================================
// VIEW
// =============================================================================

// View renders the sidebar and the conversation pane.
func (m Model) View() string {
	if !m.ready {
		return "Starting neochat..."
	}

	sidebar := renderSidebar(m.metas, m.current, m.sidebarWidth, m.height, m.styles)

	main := lipgloss.JoinVertical(lipgloss.Left,
		m.view.View(),
		m.statusLine(),
		m.styles.Input.Width(m.mainWidth()-2).Render(m.input.View()),
		m.help.View(m.keys),
	)
	return lipgloss.JoinHorizontal(lipgloss.Top, sidebar, main)
}

func (m Model) statusLine() string {
	switch {
	case m.chat.Active(m.current):
		return m.spinner.View() + m.styles.Status.Render(" Neo is typing... (esc to cancel)")
	case m.err != nil:
		return m.styles.Error.Render("Error: " + m.err.Error())
	case m.status != "":
		return m.styles.Status.Render(m.status)
	case m.opts.ModelName != "":
		return m.styles.Muted.Render("model " + m.opts.ModelName)
	default:
		return ""
	}
}
