package console

import (
	"fmt"
	"strings"
	"sync"

	"fest_router/native/internal/domain"

	tea "github.com/charmbracelet/bubbletea"
)

const maxEvents = 8

// Messages
type stateMsg domain.State

type statusMsg domain.StatusEvent

type disconnectMsg struct {
	err error
}

// Watcher turns status feed callbacks into bubbletea messages.
type Watcher struct {
	msgs chan tea.Msg
	done chan struct{}
	once sync.Once
}

func NewWatcher() *Watcher {
	return &Watcher{
		msgs: make(chan tea.Msg, 64),
		done: make(chan struct{}),
	}
}

func (w *Watcher) OnState(st domain.State)        { w.send(stateMsg(st)) }
func (w *Watcher) OnStatus(ev domain.StatusEvent) { w.send(statusMsg(ev)) }
func (w *Watcher) OnDisconnect(err error)         { w.send(disconnectMsg{err: err}) }

// Stop releases a feed blocked on a program that has exited.
func (w *Watcher) Stop() {
	w.once.Do(func() { close(w.done) })
}

func (w *Watcher) send(msg tea.Msg) {
	select {
	case w.msgs <- msg:
	case <-w.done:
	}
}

// Model returns the live view fed by w.
func (w *Watcher) Model(title string) tea.Model {
	return model{title: title, msgs: w.msgs}
}

type model struct {
	title  string
	msgs   <-chan tea.Msg
	state  domain.State
	synced bool
	events []domain.StatusEvent
	err    error
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		m.listen(),
		tea.SetWindowTitle(m.title),
	)
}

func (m model) listen() tea.Cmd {
	return func() tea.Msg {
		return <-m.msgs
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		}
		return m, nil

	case stateMsg:
		m.state = domain.State(msg)
		m.synced = true
		return m, m.listen()

	case statusMsg:
		ev := domain.StatusEvent(msg)
		m.state = applyEvent(m.state, ev)
		m.events = append(m.events, ev)
		if len(m.events) > maxEvents {
			m.events = m.events[len(m.events)-maxEvents:]
		}
		return m, m.listen()

	case disconnectMsg:
		m.err = msg.err
		if m.err == nil {
			m.err = fmt.Errorf("status feed closed")
		}
		return m, tea.Quit
	}
	return m, nil
}

// Err is the reason the feed ended, if it did.
func (m model) Err() error { return m.err }

func (m model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(m.title))
	b.WriteString(dimStyle.Render(" - live routing"))
	b.WriteString("\n\n")

	if !m.synced {
		b.WriteString(dimStyle.Render("waiting for router state..."))
		b.WriteString("\n")
	} else {
		b.WriteString(RenderState(m.state))
		b.WriteString("\n")
	}

	if len(m.events) > 0 {
		b.WriteString("\n")
		for _, ev := range m.events {
			b.WriteString(dimStyle.Render(ev.At.Format("15:04:05") + " "))
			b.WriteString(fmt.Sprintf("%s %s: %s", ev.Role, ev.DisplayName, ev.Label))
			if ev.Error != "" {
				b.WriteString(" ")
				b.WriteString(errorStyle.Render(ev.Error))
			}
			b.WriteString("\n")
		}
	}

	if m.err != nil {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render("Error: " + m.err.Error()))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(dimStyle.Render("q quit"))
	return b.String()
}

// applyEvent folds one status event into a state copy. Only connected
// Sinks have a routing row.
func applyEvent(st domain.State, ev domain.StatusEvent) domain.State {
	switch ev.Role {
	case domain.RoleSource:
		sources := make([]domain.SourceView, 0, len(st.Sources)+1)
		found := false
		for _, src := range st.Sources {
			if src.ID != ev.SessionID {
				sources = append(sources, src)
				continue
			}
			found = true
			if !ev.Removed {
				sources = append(sources, sourceView(ev))
			}
		}
		if !found && !ev.Removed {
			sources = append(sources, sourceView(ev))
		}
		st.Sources = sources

	case domain.RoleSink:
		sinks := make([]domain.SinkView, 0, len(st.Sinks)+1)
		found := false
		for _, sink := range st.Sinks {
			if sink.ID != ev.SessionID {
				sinks = append(sinks, sink)
				continue
			}
			found = true
			if !ev.Removed {
				sinks = append(sinks, sinkView(ev))
			}
		}
		if !found && !ev.Removed {
			sinks = append(sinks, sinkView(ev))
		}
		st.Sinks = sinks

		routes := make([]domain.Route, 0, len(st.Routes)+1)
		for _, r := range st.Routes {
			if r.SinkID != ev.SessionID {
				routes = append(routes, r)
			}
		}
		if !ev.Removed && domain.SinkStatus(ev.Status) == domain.SinkConnected {
			routes = append(routes, domain.Route{SinkID: ev.SessionID, SourceID: ev.BoundSourceID})
		}
		st.Routes = routes
	}
	return st
}

func sourceView(ev domain.StatusEvent) domain.SourceView {
	return domain.SourceView{
		ID:     ev.SessionID,
		Name:   ev.DisplayName,
		Status: domain.SourceStatus(ev.Status),
		Label:  ev.Label,
		Error:  ev.Error,
	}
}

func sinkView(ev domain.StatusEvent) domain.SinkView {
	return domain.SinkView{
		ID:            ev.SessionID,
		Name:          ev.DisplayName,
		Status:        domain.SinkStatus(ev.Status),
		Label:         ev.Label,
		BoundSourceID: ev.BoundSourceID,
		Error:         ev.Error,
	}
}
