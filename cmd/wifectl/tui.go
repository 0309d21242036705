package main

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	cl "animewife/internal/cli"
	"animewife/internal/images"
	"animewife/internal/wife"
)

var (
	appStyle    = lipgloss.NewStyle().Margin(1, 2)
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
)

type slotItem struct {
	entry     wife.EntryView
	today     bool
	temporary bool
}

func (i slotItem) Title() string {
	name := "(empty)"
	if i.entry.Image != "" {
		name = images.DisplayName(i.entry.Image)
	}
	title := fmt.Sprintf("%d. %s", i.entry.Slot, name)
	if i.today {
		title += "  ★ today"
	}
	return title
}

func (i slotItem) Description() string {
	switch {
	case i.temporary:
		return "temporary slot, use replace to keep it"
	case i.entry.Note != "":
		return i.entry.Note
	case i.entry.Image != "":
		return i.entry.Image
	}
	return "free"
}

func (i slotItem) FilterValue() string { return i.entry.Image }

type backpackKeys struct {
	Refresh key.Binding
	Replace key.Binding
}

func defaultBackpackKeys() backpackKeys {
	return backpackKeys{
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "refresh"),
		),
		Replace: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "move today's wife here"),
		),
	}
}

type backpackLoadedMsg struct {
	view wife.BackpackView
	err  error
}

type replacedMsg struct {
	text string
	err  error
}

type backpackModel struct {
	ctx    context.Context
	client *cl.Client
	group  string
	owner  string
	self   bool

	list   list.Model
	keys   backpackKeys
	status string
	err    error
}

func newBackpackModel(ctx context.Context, client *cl.Client, group, owner string, self bool) backpackModel {
	keys := defaultBackpackKeys()
	l := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	l.Title = "Backpack"
	l.AdditionalShortHelpKeys = func() []key.Binding {
		if self {
			return []key.Binding{keys.Refresh, keys.Replace}
		}
		return []key.Binding{keys.Refresh}
	}
	return backpackModel{ctx: ctx, client: client, group: group, owner: owner, self: self, list: l, keys: keys}
}

func (m backpackModel) load() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, 15*time.Second)
		defer cancel()
		view, err := m.client.Backpack(ctx, m.group, m.owner)
		return backpackLoadedMsg{view: view, err: err}
	}
}

func (m backpackModel) replace(slot int) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, 15*time.Second)
		defer cancel()
		res, err := m.client.Say(ctx, m.group, m.owner, "", fmt.Sprintf("replace %d", slot), nil)
		if err != nil {
			return replacedMsg{err: err}
		}
		text := "no reply"
		if len(res.Replies) > 0 {
			text = res.Replies[0].Text
		}
		return replacedMsg{text: text}
	}
}

func (m backpackModel) Init() tea.Cmd {
	return m.load()
}

func (m backpackModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		h, v := appStyle.GetFrameSize()
		m.list.SetSize(msg.Width-h, msg.Height-v-1)
	case backpackLoadedMsg:
		m.err = msg.err
		if msg.err == nil {
			m.list.Title = fmt.Sprintf("%s's backpack (%d/%d)", nameOr(msg.view.OwnerNick, msg.view.Owner), msg.view.Used, msg.view.Size)
			return m, m.list.SetItems(backpackItems(msg.view))
		}
		return m, nil
	case replacedMsg:
		m.err = msg.err
		m.status = msg.text
		if msg.err != nil {
			return m, nil
		}
		return m, m.load()
	case tea.KeyMsg:
		if m.list.FilterState() == list.Filtering {
			break
		}
		switch {
		case key.Matches(msg, m.keys.Refresh):
			m.status = "refreshing..."
			return m, m.load()
		case m.self && key.Matches(msg, m.keys.Replace):
			item, ok := m.list.SelectedItem().(slotItem)
			if !ok || item.temporary {
				return m, nil
			}
			m.status = fmt.Sprintf("moving today's wife to slot %d...", item.entry.Slot)
			return m, m.replace(item.entry.Slot)
		}
	}
	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m backpackModel) View() string {
	footer := statusStyle.Render(m.status)
	if m.err != nil {
		footer = errStyle.Render(m.err.Error())
	}
	return appStyle.Render(m.list.View() + "\n" + footer)
}

func backpackItems(v wife.BackpackView) []list.Item {
	items := make([]list.Item, 0, len(v.Items)+1)
	for _, e := range v.Items {
		items = append(items, slotItem{entry: e, today: e.Slot == v.TodaySlot})
	}
	if v.Temporary.Image != "" {
		items = append(items, slotItem{entry: v.Temporary, today: v.Temporary.Slot == v.TodaySlot, temporary: true})
	}
	return items
}

func runBackpackTUI(ctx context.Context, client *cl.Client, group, owner string, self bool) error {
	m := newBackpackModel(ctx, client, group, owner, self)
	if _, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run(); err != nil {
		return fmt.Errorf("backpack tui: %w", err)
	}
	return nil
}
