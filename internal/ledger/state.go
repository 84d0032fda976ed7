// Copyright 2025 James Ross
package ledger

// State is the closed set of states a ledger entry may occupy. Unlike a
// free-form string, a State value is either one of these constants or it
// does not type-check — Go's compiler, not a runtime check, enforces
// the "no string/legacy states" invariant at every call site.
type State int

const (
	Pending State = iota
	Fetching
	Parsing
	Validating
	Writing
	Completed
	FailedRetryable
	Retrying
	FailedTerminal
	Skipped
)

func (s State) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case Fetching:
		return "FETCHING"
	case Parsing:
		return "PARSING"
	case Validating:
		return "VALIDATING"
	case Writing:
		return "WRITING"
	case Completed:
		return "COMPLETED"
	case FailedRetryable:
		return "FAILED_RETRYABLE"
	case Retrying:
		return "RETRYING"
	case FailedTerminal:
		return "FAILED_TERMINAL"
	case Skipped:
		return "SKIPPED"
	default:
		return "UNKNOWN"
	}
}

// ParseState maps the on-disk string form back to a State, used when
// replaying the NDJSON log. An unrecognized string is ledger corruption,
// not a silently-accepted legacy state.
func ParseState(s string) (State, bool) {
	for _, st := range allStates {
		if st.String() == s {
			return st, true
		}
	}
	return 0, false
}

var allStates = []State{
	Pending, Fetching, Parsing, Validating, Writing, Completed,
	FailedRetryable, Retrying, FailedTerminal, Skipped,
}

// TerminalStates is the set of states from which no further transition
// is valid.
var TerminalStates = map[State]bool{
	Completed:       true,
	FailedTerminal:  true,
	Skipped:         true,
}

// RetryableStates is the set of states that may transition to Retrying.
var RetryableStates = map[State]bool{
	FailedRetryable: true,
}

// validTransitions enumerates every allowed (from, to) edge in the
// ledger's state machine, exactly per the closed transition map.
var validTransitions = map[State]map[State]bool{
	Pending:         {Fetching: true, Skipped: true},
	Fetching:        {Parsing: true, FailedRetryable: true, FailedTerminal: true, Skipped: true},
	Parsing:         {Validating: true, FailedRetryable: true, FailedTerminal: true},
	Validating:      {Writing: true, FailedRetryable: true, FailedTerminal: true},
	Writing:         {Completed: true, FailedRetryable: true, FailedTerminal: true},
	FailedRetryable: {Retrying: true, FailedTerminal: true},
	Retrying:        {Fetching: true},
	Completed:       {},
	FailedTerminal:  {},
	Skipped:         {},
}

// IsValidTransition reports whether moving from "from" to "to" is a
// legal edge in the ledger state machine.
func IsValidTransition(from, to State) bool {
	edges, ok := validTransitions[from]
	if !ok {
		return false
	}
	return edges[to]
}
