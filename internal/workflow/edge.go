package workflow

// EdgeGuard selects when an edge leaving a condition node is taken.
// Edges leaving non-condition nodes ignore their guard.
type EdgeGuard string

const (
	// GuardPass takes the edge when the condition's predicate holds.
	// It is the implicit guard of an unguarded edge from a condition node.
	GuardPass EdgeGuard = "pass"

	// GuardFail takes the edge when the condition's predicate does not hold.
	GuardFail EdgeGuard = "fail"

	// GuardDefault takes the edge regardless of the predicate outcome.
	// A default arm must be declared explicitly; it is conventionally the
	// last declared edge of the condition node.
	GuardDefault EdgeGuard = "default"
)

// Valid reports whether the guard is one of the known guards or unset.
func (g EdgeGuard) Valid() bool {
	switch g {
	case "", GuardPass, GuardFail, GuardDefault:
		return true
	default:
		return false
	}
}

// Matches reports whether an arm with this guard is taken for a predicate
// outcome. An unset guard behaves as GuardPass.
func (g EdgeGuard) Matches(outcome bool) bool {
	switch g {
	case GuardFail:
		return !outcome
	case GuardDefault:
		return true
	default:
		return outcome
	}
}

// Edge is a directed link between two nodes of one workflow version.
// Edge declaration order is significant: condition branch arms are evaluated
// in declared order and the first matching arm wins.
type Edge struct {
	// From is the source node ID.
	From string `json:"from"`
	// To is the destination node ID.
	To string `json:"to"`
	// Guard selects the branch arm when From is a condition node.
	Guard EdgeGuard `json:"guard,omitempty"`
}
