package tui

import "github.com/charmbracelet/bubbles/key"

// keyMap lists the board's bindings. It implements help.KeyMap.
type keyMap struct {
	Left        key.Binding
	Right       key.Binding
	Up          key.Binding
	Down        key.Binding
	Start       key.Binding
	Resume      key.Binding
	Stop        key.Binding
	FollowUp    key.Binding
	ApprovePlan key.Binding
	Approve     key.Binding
	Commit      key.Binding
	AutoMode    key.Binding
	Deps        key.Binding
	More        key.Binding
	Less        key.Binding
	Help        key.Binding
	Quit        key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Left:        key.NewBinding(key.WithKeys("left", "h"), key.WithHelp("←/h", "column")),
		Right:       key.NewBinding(key.WithKeys("right", "l"), key.WithHelp("→/l", "column")),
		Up:          key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		Down:        key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		Start:       key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "start")),
		Resume:      key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "resume")),
		Stop:        key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "stop")),
		FollowUp:    key.NewBinding(key.WithKeys("f"), key.WithHelp("f", "follow-up")),
		ApprovePlan: key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "approve plan")),
		Approve:     key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "approve")),
		Commit:      key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "commit")),
		AutoMode:    key.NewBinding(key.WithKeys("m"), key.WithHelp("m", "auto mode")),
		Deps:        key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "dependency blocking")),
		More:        key.NewBinding(key.WithKeys("+", "="), key.WithHelp("+", "more concurrency")),
		Less:        key.NewBinding(key.WithKeys("-"), key.WithHelp("-", "less concurrency")),
		Help:        key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
		Quit:        key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Start, k.Stop, k.Approve, k.Commit, k.AutoMode, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Left, k.Right, k.Up, k.Down},
		{k.Start, k.Resume, k.Stop, k.FollowUp},
		{k.ApprovePlan, k.Approve, k.Commit},
		{k.AutoMode, k.Deps, k.More, k.Less},
		{k.Help, k.Quit},
	}
}
