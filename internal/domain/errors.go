package domain

import "fmt"

// ConstraintKind identifies which exchange trading rule an order violated.
type ConstraintKind string

const (
	ConstraintMinQty      ConstraintKind = "min_quantity"
	ConstraintMinNotional ConstraintKind = "min_notional"
)

// ConstraintError is a recoverable business rejection: the order fell below
// an exchange minimum. It is distinct from genuine faults so callers can
// skip the offending batch instead of failing the run.
type ConstraintError struct {
	Kind   ConstraintKind
	Symbol string
	Detail string
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("order for %s rejected (%s): %s", e.Symbol, e.Kind, e.Detail)
}
