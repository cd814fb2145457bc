package torrent

import "sync"

// stateGuard owns the state of a torrent.
// The state can only be changed by transition, which reads, decides and writes in one critical section.
type stateGuard struct {
	m       sync.Mutex
	state   State
	history history
}

// transition applies the rule of tr to the current state.
// onAccept is called with the lock held when the trigger is accepted. It must not block.
// For a rejected trigger the returned transition has from and to set to the current state.
func (g *stateGuard) transition(tr trigger, onAccept func(tn transition)) (transition, bool) {
	g.m.Lock()
	defer g.m.Unlock()
	tn := transition{trigger: tr, from: g.state, to: g.state}
	next, ok := rules[tr](g.state, &g.history)
	if !ok {
		return tn, false
	}
	tn.to = next
	tn.first = g.history.accepted[tr] == 0
	g.history.record(tn)
	g.state = next
	if onAccept != nil {
		onAccept(tn)
	}
	return tn, true
}

// State returns the current state.
func (g *stateGuard) State() State {
	g.m.Lock()
	defer g.m.Unlock()
	return g.state
}

// view calls fn with the lock held. fn must not block.
func (g *stateGuard) view(fn func(s State, h *history)) {
	g.m.Lock()
	defer g.m.Unlock()
	fn(g.state, &g.history)
}
