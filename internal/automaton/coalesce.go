package automaton

import (
	"rudder/internal/event"
)

// pass is one collapsed unit of work drained from the pending queue. All
// events absorbed into the pass receive their outcome when it completes, so
// nothing is ever dropped without trace.
type pass struct {
	// action is the collapsed event kind driving the pass. For command
	// passes it is KindCommand and command is set.
	action  event.Kind
	command event.Command

	// events are the pending events answered by this pass, in arrival
	// order.
	events []*event.Event
}

// reason returns the injection reason of the first event, for logging.
func (p *pass) reason() string {
	if len(p.events) == 0 {
		return ""
	}
	return p.events[0].Reason
}

// collapse drains the front of the pending queue into a single pass.
//
// Rules, in priority order:
//   - A pending delete (event or administrative delete command) preempts
//     everything: the whole queue collapses into one delete pass.
//   - A command at the head runs alone; commands are never merged because
//     each carries its own reply.
//   - A run of ordinary events before the next command collapses into one
//     re-evaluation: create outranks update outranks poll, so duplicate
//     updates never multiply work and a create absorbs the updates it
//     implies.
func (m *Machine) collapse() pass {
	for _, ev := range m.pending {
		if ev.Kind == event.KindDelete || (ev.Kind == event.KindCommand && ev.Command == event.CommandDelete) {
			p := pass{action: event.KindDelete, events: m.pending}
			m.pending = nil
			return p
		}
	}

	head := m.pending[0]
	if head.Kind == event.KindCommand {
		m.pending = m.pending[1:]
		return pass{action: event.KindCommand, command: head.Command, events: []*event.Event{head}}
	}

	p := pass{action: event.KindPoll}
	for len(m.pending) > 0 {
		ev := m.pending[0]
		if ev.Kind == event.KindCommand {
			break
		}
		if rank(ev.Kind) > rank(p.action) {
			p.action = ev.Kind
		}
		p.events = append(p.events, ev)
		m.pending = m.pending[1:]
	}
	return p
}

func rank(k event.Kind) int {
	switch k {
	case event.KindCreate:
		return 3
	case event.KindUpdate:
		return 2
	case event.KindPoll:
		return 1
	default:
		return 0
	}
}
