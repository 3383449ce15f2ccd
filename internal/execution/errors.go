package execution

import "fmt"

// ExecError is an order dispatch failure with retries exhausted. After one,
// the position is unknown until the next reconciliation, so the orchestrator
// quarantines the symbol on sight.
type ExecError struct {
	Symbol string
	Op     string
	Err    error
}

func (e *ExecError) Error() string {
	if e.Symbol == "" {
		return fmt.Sprintf("execution %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("execution %s failed for %s: %v", e.Op, e.Symbol, e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }
