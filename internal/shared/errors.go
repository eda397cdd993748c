package shared

import "fmt"

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig      = fmt.Errorf("configuration not found")
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")

	// Cloud errors
	ErrClusterNotFound = fmt.Errorf("cluster not found")
	ErrClusterNotReady = fmt.Errorf("cluster not ready")
	ErrRoleNotFound    = fmt.Errorf("iam role not found")
	ErrTimeout         = fmt.Errorf("operation timed out")

	// Warehouse and pipeline errors
	ErrStatementFailed   = fmt.Errorf("statement failed")
	ErrDataQuality       = fmt.Errorf("data quality check failed")
	ErrTaskFailed        = fmt.Errorf("task failed")
	ErrUpstreamFailed    = fmt.Errorf("upstream task failed")
	ErrCycleDetected     = fmt.Errorf("cycle detected")
	ErrUnknownTask       = fmt.Errorf("unknown task")
	ErrUnsupportedFormat = fmt.Errorf("unsupported file format")
	ErrRunNotFound       = fmt.Errorf("run not found")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
	ErrInvalidFlag     = fmt.Errorf("invalid flag value")
)
