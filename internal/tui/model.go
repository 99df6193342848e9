// Package tui is the interactive kanban board. It renders engine snapshots
// with lipgloss, refreshes on engine events and turns key presses into
// engine intents.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Iron-Ham/automaker/internal/engine"
	"github.com/Iron-Ham/automaker/internal/event"
	"github.com/Iron-Ham/automaker/internal/feature"
	"github.com/Iron-Ham/automaker/internal/scheduler"
	"github.com/Iron-Ham/automaker/internal/tui/styles"
	"github.com/Iron-Ham/automaker/internal/util"
)

// Board is the engine surface the interactive board drives.
type Board interface {
	Snapshot() engine.Snapshot
	SubscribeChan(eventType string, buffer int) (<-chan event.Event, string)
	Unsubscribe(id string) bool

	Start(ctx context.Context, id string) (scheduler.RunningTask, error)
	Resume(ctx context.Context, id string) (scheduler.RunningTask, error)
	Stop(ctx context.Context, id string) (bool, error)
	FollowUp(ctx context.Context, id, instructions string) (scheduler.RunningTask, error)
	ApprovePlan(ctx context.Context, id string) (feature.Feature, error)
	Approve(ctx context.Context, id string) (feature.Feature, error)
	Commit(ctx context.Context, id string) (feature.Feature, error)

	SetConcurrency(n int) int
	SetDependencyBlocking(enforce bool)
	SetAutoMode(enabled bool) error
}

// eventBuffer bounds queued engine events; the board re-reads the whole
// snapshot on each one, so dropped events cost nothing.
const eventBuffer = 256

type mode int

const (
	modeNormal mode = iota
	modeFollowUp
)

type eventMsg struct{ event event.Event }

// closedMsg means the event subscription ended.
type closedMsg struct{}

func waitForEvent(ch <-chan event.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return closedMsg{}
		}
		return eventMsg{event: ev}
	}
}

// Model is the bubbletea model of the interactive board.
type Model struct {
	ctx    context.Context
	board  Board
	events <-chan event.Event
	subID  string

	snap     engine.Snapshot
	col, row int
	selected string // feature id under the cursor

	width  int
	height int

	mode  mode
	input textinput.Model
	keys  keyMap
	help  help.Model

	status    string
	statusErr bool
	// activity is the latest agent output line per running feature.
	activity map[string]string
}

// NewModel subscribes to board events. Call Close when done.
func NewModel(ctx context.Context, board Board) Model {
	ti := textinput.New()
	ti.Placeholder = "further instructions"
	ti.Prompt = "follow-up> "
	ti.CharLimit = 2000

	events, subID := board.SubscribeChan("*", eventBuffer)
	m := Model{
		ctx:      ctx,
		board:    board,
		events:   events,
		subID:    subID,
		input:    ti,
		keys:     defaultKeyMap(),
		help:     help.New(),
		activity: make(map[string]string),
	}
	m.refresh()
	return m
}

// Close drops the event subscription.
func (m Model) Close() {
	m.board.Unsubscribe(m.subID)
}

func (m Model) Init() tea.Cmd {
	return waitForEvent(m.events)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width
		m.input.Width = max(msg.Width-len(m.input.Prompt)-2, 10)
		return m, nil

	case eventMsg:
		m.handleEvent(msg.event)
		m.refresh()
		return m, waitForEvent(m.events)

	case closedMsg:
		return m, tea.Quit

	case tea.KeyMsg:
		if m.mode == modeFollowUp {
			return m.updateFollowUp(msg)
		}
		return m.updateNormal(msg)
	}
	return m, nil
}

func (m *Model) handleEvent(ev event.Event) {
	switch e := ev.(type) {
	case event.FeatureProgressEvent:
		if line := lastLine(e.Text); line != "" {
			m.activity[e.FeatureID] = line
		}
	case event.FeatureToolUseEvent:
		m.activity[e.FeatureID] = "[" + e.Tool + "]"
	case event.FeatureFinishedEvent:
		delete(m.activity, e.FeatureID)
		msg := fmt.Sprintf("%s %s", util.ShortID(e.FeatureID), e.Outcome)
		if e.Error != "" {
			msg += ": " + e.Error
		}
		m.setStatus(msg, feature.Outcome(e.Outcome) == feature.OutcomeFailed)
	case event.AdmissionRejectedEvent:
		if e.Reason != scheduler.ReasonBudget {
			m.setStatus(fmt.Sprintf("%s not started: %s", util.ShortID(e.FeatureID), e.Reason), true)
		}
	}
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

func (m Model) updateFollowUp(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.mode = modeNormal
		m.input.Blur()
		m.input.Reset()
		return m, nil
	case tea.KeyEnter:
		instructions := m.input.Value()
		m.mode = modeNormal
		m.input.Blur()
		m.input.Reset()
		_, err := m.board.FollowUp(m.ctx, m.selected, instructions)
		m.report("follow-up sent", err)
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) updateNormal(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	case key.Matches(msg, m.keys.Left):
		m.moveColumn(-1)
	case key.Matches(msg, m.keys.Right):
		m.moveColumn(1)
	case key.Matches(msg, m.keys.Up):
		m.moveRow(-1)
	case key.Matches(msg, m.keys.Down):
		m.moveRow(1)
	case key.Matches(msg, m.keys.AutoMode):
		enabled := !m.snap.AutoMode
		m.report("auto mode "+onOff(enabled), m.board.SetAutoMode(enabled))
	case key.Matches(msg, m.keys.Deps):
		enforce := !m.snap.EnforceDependencies
		m.board.SetDependencyBlocking(enforce)
		m.setStatus("dependency blocking "+onOff(enforce), false)
	case key.Matches(msg, m.keys.More):
		m.setStatus(fmt.Sprintf("concurrency %d", m.board.SetConcurrency(m.snap.Budget+1)), false)
	case key.Matches(msg, m.keys.Less):
		m.setStatus(fmt.Sprintf("concurrency %d", m.board.SetConcurrency(m.snap.Budget-1)), false)
	default:
		if m.selected == "" {
			return m, nil
		}
		return m.updateFeatureAction(msg)
	}
	m.refresh()
	return m, nil
}

// updateFeatureAction applies a key bound to the selected feature.
func (m Model) updateFeatureAction(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	id := m.selected
	short := util.ShortID(id)
	var err error
	switch {
	case key.Matches(msg, m.keys.Start):
		_, err = m.board.Start(m.ctx, id)
		m.report("started "+short, err)
	case key.Matches(msg, m.keys.Resume):
		_, err = m.board.Resume(m.ctx, id)
		m.report("resumed "+short, err)
	case key.Matches(msg, m.keys.Stop):
		var stopped bool
		stopped, err = m.board.Stop(m.ctx, id)
		if err == nil && !stopped {
			m.setStatus(short+" is not running", false)
		} else {
			m.report("stop requested for "+short, err)
		}
	case key.Matches(msg, m.keys.FollowUp):
		m.mode = modeFollowUp
		return m, m.input.Focus()
	case key.Matches(msg, m.keys.ApprovePlan):
		_, err = m.board.ApprovePlan(m.ctx, id)
		m.report("plan approved for "+short, err)
	case key.Matches(msg, m.keys.Approve):
		_, err = m.board.Approve(m.ctx, id)
		m.report("approved "+short, err)
	case key.Matches(msg, m.keys.Commit):
		_, err = m.board.Commit(m.ctx, id)
		m.report("committed "+short, err)
	default:
		return m, nil
	}
	m.refresh()
	return m, nil
}

func (m *Model) report(done string, err error) {
	if err != nil {
		m.setStatus(err.Error(), true)
		return
	}
	m.setStatus(done, false)
}

func (m *Model) setStatus(s string, isErr bool) {
	m.status, m.statusErr = s, isErr
}

// refresh re-reads the snapshot and keeps the cursor on the selected
// feature as it moves between columns.
func (m *Model) refresh() {
	m.snap = m.board.Snapshot()
	cols := m.snap.ByStatus()
	if m.selected != "" {
		for c, s := range feature.Statuses() {
			for r, v := range cols[s] {
				if v.ID == m.selected {
					m.col, m.row = c, r
					return
				}
			}
		}
	}
	m.clamp()
}

func (m *Model) clamp() {
	statuses := feature.Statuses()
	m.col = min(max(m.col, 0), len(statuses)-1)
	views := m.snap.ByStatus()[statuses[m.col]]
	if len(views) == 0 {
		m.row, m.selected = 0, ""
		return
	}
	m.row = min(max(m.row, 0), len(views)-1)
	m.selected = views[m.row].ID
}

func (m *Model) moveColumn(delta int) {
	m.col += delta
	m.row = 0
	m.clamp()
}

func (m *Model) moveRow(delta int) {
	m.row += delta
	m.clamp()
}

// Selected returns the feature id under the cursor, or "".
func (m Model) Selected() string {
	return m.selected
}

func (m Model) View() string {
	width := m.width
	if width <= 0 {
		width = DefaultWidth
	}

	var sb strings.Builder
	sb.WriteString(RenderBoard(m.snap, width, m.selected))
	sb.WriteString("\n")

	if line := m.detailLine(); line != "" {
		sb.WriteString("\n" + util.Truncate(line, width) + "\n")
	}
	if m.status != "" {
		style := styles.Muted
		if m.statusErr {
			style = styles.Error
		}
		sb.WriteString(style.Render(util.Truncate(m.status, width)) + "\n")
	}
	if m.mode == modeFollowUp {
		sb.WriteString(m.input.View() + "\n")
	}
	sb.WriteString(styles.HelpBar.Render(m.help.View(m.keys)))
	return sb.String()
}

// detailLine describes the selected feature and its latest agent output.
func (m Model) detailLine() string {
	if m.selected == "" {
		return ""
	}
	for _, v := range m.snap.Features {
		if v.ID != m.selected {
			continue
		}
		line := styles.Bold.Render(v.DisplayTitle())
		if act := m.activity[v.ID]; act != "" {
			line += "  " + styles.Muted.Render(act)
		}
		return line
	}
	return ""
}
