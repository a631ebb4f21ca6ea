// Package fsm implements a sequential, pausable state machine with nested
// sub-machines. It is domain-blind: states are closures supplied by the
// caller, and the machine never blocks; "waiting" is an exit condition
// re-evaluated on the next tick.
package fsm

import (
	"time"

	"github.com/rs/zerolog"
)

// State is a single step in a machine. Execute runs every tick while the
// state is current (at most once when RunOnce is set). A nil ExitCondition
// exits immediately; TransitionDelay is the minimum dwell before a passing
// exit condition is honored, which debounces flapping guards.
type State struct {
	Name            string
	Execute         func()
	ExitCondition   func() bool
	RunOnce         bool
	TransitionDelay time.Duration
}

// node is the tagged variant stored in the machine's ordered list: either a
// plain state or a subroutine delegating to a nested machine.
type node interface {
	nodeName() string
}

type stateNode struct {
	State
}

func (n *stateNode) nodeName() string { return n.Name }

type subNode struct {
	name      string
	condition func() bool
	sub       *Machine
}

func (n *subNode) nodeName() string { return n.name }

// Machine executes its nodes strictly in insertion order. It is owned by a
// single orchestrator and must only be ticked from one goroutine.
type Machine struct {
	name    string
	nodes   []node
	cursor  int
	started bool
	paused  bool

	enteredAt time.Time
	executed  bool

	log zerolog.Logger
}

// New returns an empty machine. States are appended at setup time and the
// machine is armed with Start.
func New(name string) *Machine {
	return &Machine{name: name, log: zerolog.Nop()}
}

// SetLogger enables transition logging. Disabled by default.
func (m *Machine) SetLogger(log zerolog.Logger) {
	m.log = log.With().Str("machine", m.name).Logger()
}

// Name returns the machine's display name.
func (m *Machine) Name() string { return m.name }

// AddState appends a plain state.
func (m *Machine) AddState(s State) {
	m.nodes = append(m.nodes, &stateNode{State: s})
}

// AddSubroutine appends a nested machine slot. While condition holds, ticks
// are forwarded to sub instead of evaluating the parent's own states. The
// parent moves past the slot only once condition is false and sub has either
// finished or never started; passing the slot resets sub for reuse.
func (m *Machine) AddSubroutine(name string, condition func() bool, sub *Machine) {
	m.nodes = append(m.nodes, &subNode{name: name, condition: condition, sub: sub})
}

// StateCount reports how many nodes have been added.
func (m *Machine) StateCount() int { return len(m.nodes) }

// Start arms the machine: cursor to the first node, pause cleared.
func (m *Machine) Start(now time.Time) {
	m.cursor = 0
	m.paused = false
	m.started = true
	m.enteredAt = now
	m.executed = false
	m.log.Debug().Msg("started")
}

// Stop disarms the machine. Subsequent ticks are no-ops until Start.
func (m *Machine) Stop() {
	m.started = false
	m.paused = false
}

// Reset disarms the machine, rewinds the cursor and recursively resets any
// nested machines so the next Start begins a clean pass.
func (m *Machine) Reset() {
	m.Stop()
	m.cursor = 0
	m.executed = false
	for _, n := range m.nodes {
		if sn, ok := n.(*subNode); ok {
			sn.sub.Reset()
		}
	}
}

// Pause freezes the whole chain: a paused machine neither advances its own
// cursor nor ticks an active subroutine. Idempotent.
func (m *Machine) Pause() {
	if m.paused {
		return
	}
	m.paused = true
	m.log.Debug().Str("state", m.CurrentName()).Msg("paused")
}

// Resume clears a pause. Idempotent; resuming a machine that is not paused
// is a no-op.
func (m *Machine) Resume() {
	if !m.paused {
		return
	}
	m.paused = false
	m.log.Debug().Str("state", m.CurrentName()).Msg("resumed")
}

// Paused reports whether the machine is frozen.
func (m *Machine) Paused() bool { return m.paused }

// Started reports whether the machine has been armed and not stopped.
func (m *Machine) Started() bool { return m.started }

// Finished reports whether the cursor has advanced past the last node.
func (m *Machine) Finished() bool {
	return m.started && m.cursor >= len(m.nodes)
}

// CurrentName returns the current node's name, descending into an active
// subroutine as "slot/state". Empty when the machine is idle or finished.
func (m *Machine) CurrentName() string {
	if !m.started || m.cursor >= len(m.nodes) {
		return ""
	}
	n := m.nodes[m.cursor]
	if sn, ok := n.(*subNode); ok && sn.sub.Started() && !sn.sub.Finished() {
		return sn.name + "/" + sn.sub.CurrentName()
	}
	return n.nodeName()
}

// Tick advances the machine by at most one node transition. It must be
// called once per host frame with a monotonic-enough now.
func (m *Machine) Tick(now time.Time) {
	if m == nil || !m.started || m.paused || m.cursor >= len(m.nodes) {
		return
	}

	switch n := m.nodes[m.cursor].(type) {
	case *stateNode:
		m.tickState(n, now)
	case *subNode:
		m.tickSubroutine(n, now)
	}
}

func (m *Machine) tickState(n *stateNode, now time.Time) {
	if n.Execute != nil && !(n.RunOnce && m.executed) {
		n.Execute()
		m.executed = true
	}
	if n.ExitCondition != nil && !n.ExitCondition() {
		return
	}
	if n.TransitionDelay > 0 && now.Sub(m.enteredAt) < n.TransitionDelay {
		return
	}
	m.advance(now)
}

func (m *Machine) tickSubroutine(n *subNode, now time.Time) {
	if n.condition != nil && n.condition() {
		if !n.sub.Started() {
			n.sub.Start(now)
		}
		n.sub.Tick(now)
		return
	}
	// Condition no longer holds. A sub-machine that is mid-pass keeps
	// receiving ticks until it finishes; only then does the parent move on.
	if n.sub.Started() && !n.sub.Finished() {
		n.sub.Tick(now)
		return
	}
	if n.sub.Started() {
		n.sub.Reset()
	}
	m.advance(now)
}

func (m *Machine) advance(now time.Time) {
	from := m.nodes[m.cursor].nodeName()
	m.cursor++
	m.enteredAt = now
	m.executed = false
	to := ""
	if m.cursor < len(m.nodes) {
		to = m.nodes[m.cursor].nodeName()
	}
	m.log.Debug().Str("from", from).Str("to", to).Msg("transition")
}
