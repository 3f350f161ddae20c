package automaton

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rudder/internal/event"
)

func machineWithPending(kinds ...event.Kind) *Machine {
	m := &Machine{resourceID: "r-1"}
	for _, k := range kinds {
		m.pending = append(m.pending, &event.Event{ResourceID: "r-1", Kind: k})
	}
	return m
}

func TestCollapseUpdateRun(t *testing.T) {
	m := machineWithPending(event.KindUpdate, event.KindUpdate, event.KindPoll, event.KindUpdate)

	p := m.collapse()

	assert.Equal(t, event.KindUpdate, p.action)
	assert.Len(t, p.events, 4, "every absorbed event must be answered")
	assert.Empty(t, m.pending)
}

func TestCollapseCreateOutranksUpdate(t *testing.T) {
	m := machineWithPending(event.KindUpdate, event.KindCreate, event.KindPoll)

	p := m.collapse()

	assert.Equal(t, event.KindCreate, p.action)
	assert.Len(t, p.events, 3)
}

func TestCollapseDeletePreemptsQueue(t *testing.T) {
	m := machineWithPending(event.KindUpdate, event.KindCreate, event.KindDelete, event.KindUpdate)

	p := m.collapse()

	assert.Equal(t, event.KindDelete, p.action)
	assert.Len(t, p.events, 4, "delete absorbs everything, including events queued after it")
	assert.Empty(t, m.pending)
}

func TestCollapseDeleteCommandPreempts(t *testing.T) {
	m := &Machine{resourceID: "r-1"}
	m.pending = []*event.Event{
		{ResourceID: "r-1", Kind: event.KindUpdate},
		{ResourceID: "r-1", Kind: event.KindCommand, Command: event.CommandDelete},
	}

	p := m.collapse()

	assert.Equal(t, event.KindDelete, p.action)
	assert.Len(t, p.events, 2)
}

func TestCollapseCommandRunsAlone(t *testing.T) {
	m := &Machine{resourceID: "r-1"}
	m.pending = []*event.Event{
		{ResourceID: "r-1", Kind: event.KindCommand, Command: event.CommandRebuild},
		{ResourceID: "r-1", Kind: event.KindUpdate},
	}

	p := m.collapse()

	assert.Equal(t, event.KindCommand, p.action)
	assert.Equal(t, event.CommandRebuild, p.command)
	require.Len(t, p.events, 1)
	assert.Len(t, m.pending, 1, "events after the command wait for the next pass")
}

func TestCollapseStopsAtCommand(t *testing.T) {
	m := &Machine{resourceID: "r-1"}
	m.pending = []*event.Event{
		{ResourceID: "r-1", Kind: event.KindUpdate},
		{ResourceID: "r-1", Kind: event.KindPoll},
		{ResourceID: "r-1", Kind: event.KindCommand, Command: event.CommandDebug},
		{ResourceID: "r-1", Kind: event.KindUpdate},
	}

	p := m.collapse()
	assert.Equal(t, event.KindUpdate, p.action)
	assert.Len(t, p.events, 2)

	p = m.collapse()
	assert.Equal(t, event.KindCommand, p.action)
	assert.Equal(t, event.CommandDebug, p.command)

	p = m.collapse()
	assert.Equal(t, event.KindUpdate, p.action)
	assert.Len(t, p.events, 1)
	assert.Empty(t, m.pending)
}

func TestPassReason(t *testing.T) {
	m := &Machine{resourceID: "r-1"}
	m.pending = []*event.Event{
		{ResourceID: "r-1", Kind: event.KindPoll, Reason: "health"},
		{ResourceID: "r-1", Kind: event.KindPoll},
	}
	p := m.collapse()
	assert.Equal(t, "health", p.reason())
}
