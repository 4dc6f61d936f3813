package shared

import "fmt"

var (
	// Configuration errors
	ErrMissingConfig = fmt.Errorf("configuration not found")
	ErrInvalidConfig = fmt.Errorf("invalid configuration")

	// Pre-flight errors, raised before any destructive step
	ErrConstraintViolation = fmt.Errorf("constraint violation")
	ErrInvalidScrape       = fmt.Errorf("invalid scrape document")
	ErrMissingScrape       = fmt.Errorf("scrape document not found")
	ErrRunLocked           = fmt.Errorf("another run is already active")

	// Run errors
	ErrFatal          = fmt.Errorf("fatal pipeline error")
	ErrBatchRetryable = fmt.Errorf("retryable batch error")
	ErrCriticalHealth = fmt.Errorf("critical health score")

	// Data access errors
	ErrNotFound     = fmt.Errorf("record not found")
	ErrTableUnknown = fmt.Errorf("table not covered by protection policy")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidFlag     = fmt.Errorf("invalid flag value")
)
