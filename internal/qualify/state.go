// ABOUTME: BANT qualification state for a single lead conversation
// ABOUTME: State is a value type; Merge ORs new signals in so criteria never regress

package qualify

// PointsPerCriterion is the score contribution of each confirmed criterion.
const PointsPerCriterion = 25

// ReadyScore is the minimum score at which a lead can be offered a meeting,
// provided need is confirmed.
const ReadyScore = 75

// State accumulates qualification criteria across the turns of one conversation.
// The zero value is a fresh, unqualified lead.
type State struct {
	Budget    bool `json:"budget_confirmed"`
	Authority bool `json:"authority_confirmed"`
	Need      bool `json:"need_confirmed"`
	Timeline  bool `json:"timeline_confirmed"`
}

// Signals are the criteria detected in a single message.
type Signals struct {
	Budget    bool `json:"budget_confirmed"`
	Authority bool `json:"authority_confirmed"`
	Need      bool `json:"need_confirmed"`
	Timeline  bool `json:"timeline_confirmed"`
}

// Score is 25 points per confirmed criterion, in [0, 100].
func (s State) Score() int {
	n := 0
	for _, ok := range []bool{s.Budget, s.Authority, s.Need, s.Timeline} {
		if ok {
			n++
		}
	}
	return n * PointsPerCriterion
}

// MeetingReady reports whether the scheduling link may be offered.
func (s State) MeetingReady() bool {
	return s.Score() >= ReadyScore && s.Need
}

// Merge returns a new State with sig applied. A criterion that is already
// confirmed stays confirmed.
func (s State) Merge(sig Signals) State {
	return State{
		Budget:    s.Budget || sig.Budget,
		Authority: s.Authority || sig.Authority,
		Need:      s.Need || sig.Need,
		Timeline:  s.Timeline || sig.Timeline,
	}
}
