package market

import "fmt"

// FetchError reports a failed or timed-out retrieval of a required series.
// It is cycle-scoped: the orchestrator logs it and degrades the cycle to hold.
type FetchError struct {
	Symbol    string
	Timeframe Timeframe
	Err       error
}

func (e *FetchError) Error() string {
	if e.Timeframe != "" {
		return fmt.Sprintf("fetch %s %s: %v", e.Symbol, e.Timeframe, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.Symbol, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// AlignmentError reports that the snapshot invariants cannot be satisfied:
// the freshest 5m closed candle is too old relative to wall time.
type AlignmentError struct {
	Symbol string
	Detail string
}

func (e *AlignmentError) Error() string {
	return fmt.Sprintf("alignment %s: %s", e.Symbol, e.Detail)
}

// InsufficientDataError reports a series too short for indicator stability
type InsufficientDataError struct {
	Symbol    string
	Timeframe Timeframe
	Got       int
	Want      int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data %s %s: got %d candles, want %d",
		e.Symbol, e.Timeframe, e.Got, e.Want)
}

// ValidationError reports malformed candles that survive cleaning
type ValidationError struct {
	Symbol    string
	Timeframe Timeframe
	Index     int
	Detail    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid candle %s %s[%d]: %s", e.Symbol, e.Timeframe, e.Index, e.Detail)
}
