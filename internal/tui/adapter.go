// Package tui renders a terminal monitor for the active run: stage, progress
// bar, event throughput, and memory pressure, fed live from the event bus.
package tui

import (
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"simdeck/internal/events"
)

// ProgressMsg carries one accepted telemetry update.
type ProgressMsg struct {
	Stage           string
	Progress        float64
	CurrentYear     int
	TotalYears      int
	EventsPerSecond float64
	MemoryMB        float64
	MemoryPressure  string
}

// CompletedMsg signals run completion.
type CompletedMsg struct {
	RunID    string
	Duration time.Duration
}

// FailedMsg signals run failure.
type FailedMsg struct {
	RunID string
	Error string
}

// StaleMsg signals the staleness advisory.
type StaleMsg struct {
	LastTelemetry time.Time
}

// CancelledMsg signals a user-initiated stop.
type CancelledMsg struct{}

// NavigationMsg signals the post-completion navigation; the monitor exits on
// it, mirroring the dashboard's forward transition.
type NavigationMsg struct {
	Target string
}

// EventBusAdapter bridges bus events to Bubbletea messages.
type EventBusAdapter struct {
	bus        *events.EventBus
	eventCh    <-chan events.Event
	priorityCh <-chan events.Event
	msgCh      chan tea.Msg
	closeCh    chan struct{}
	mu         sync.Mutex
	closed     bool
}

// NewEventBusAdapter creates a new adapter and starts its pump.
func NewEventBusAdapter(bus *events.EventBus) *EventBusAdapter {
	a := &EventBusAdapter{
		bus:        bus,
		eventCh:    bus.Subscribe(),
		priorityCh: bus.SubscribePriority(),
		msgCh:      make(chan tea.Msg, 100),
		closeCh:    make(chan struct{}),
	}
	go a.run()
	return a
}

// MsgChannel returns the channel Bubbletea reads from.
func (a *EventBusAdapter) MsgChannel() <-chan tea.Msg {
	return a.msgCh
}

// Close shuts down the adapter. Idempotent.
func (a *EventBusAdapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true
	close(a.closeCh)
}

func (a *EventBusAdapter) run() {
	for {
		select {
		case <-a.closeCh:
			close(a.msgCh)
			return
		case event, ok := <-a.priorityCh:
			if !ok {
				return
			}
			a.handleEvent(event)
		case event, ok := <-a.eventCh:
			if !ok {
				return
			}
			a.handleEvent(event)
		}
	}
}

func (a *EventBusAdapter) handleEvent(event events.Event) {
	msg := eventToMsg(event)
	if msg == nil {
		return
	}
	select {
	case a.msgCh <- msg:
	default:
		// Drop if channel full; progress updates are superseded anyway.
	}
}

func eventToMsg(event events.Event) tea.Msg {
	switch e := event.(type) {
	case events.RunProgressEvent:
		return ProgressMsg{
			Stage:           e.Stage,
			Progress:        e.Progress,
			CurrentYear:     e.CurrentYear,
			TotalYears:      e.TotalYears,
			EventsPerSecond: e.EventsPerSecond,
			MemoryMB:        e.MemoryMB,
			MemoryPressure:  e.MemoryPressure,
		}
	case events.RunCompletedEvent:
		return CompletedMsg{RunID: e.RunID(), Duration: e.Duration}
	case events.RunFailedEvent:
		return FailedMsg{RunID: e.RunID(), Error: e.Error}
	case events.RunStaleEvent:
		return StaleMsg{LastTelemetry: e.LastTelemetry}
	case events.RunCancelledEvent:
		return CancelledMsg{}
	case events.NavigationEvent:
		return NavigationMsg{Target: e.Target}
	default:
		return nil
	}
}

// waitForMsg returns a command that delivers the next adapter message.
func waitForMsg(a *EventBusAdapter) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-a.msgCh
		if !ok {
			return tea.Quit()
		}
		return msg
	}
}
