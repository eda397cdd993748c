package tasks

import (
	"fmt"
	"time"
)

// ProgressUpdate represents a progress event during a long-running operation.
//
// Used to send real-time updates to the CLI or UI layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data for advanced UIs
}

// Done reports whether the update closes out its phase.
func (u ProgressUpdate) Done() bool {
	return u.Total > 0 && u.Step >= u.Total
}

// Operation phase enumeration
type Phase int

const (
	EnsureRole Phase = iota
	CreateCluster
	WaitCluster
	OpenIngress
	DeleteCluster
	DropTables
	CreateTables
	CopyTables
	InsertTables
	CountTables
	ReadSource
	WriteTable
	UploadTable
	SubmitJob
	RunTask
	QualityCheck
)

func (p Phase) String() string {
	switch p {
	case EnsureRole:
		return "ensure_role"
	case CreateCluster:
		return "create_cluster"
	case WaitCluster:
		return "wait_cluster"
	case OpenIngress:
		return "open_ingress"
	case DeleteCluster:
		return "delete_cluster"
	case DropTables:
		return "drop_tables"
	case CreateTables:
		return "create_tables"
	case CopyTables:
		return "copy_tables"
	case InsertTables:
		return "insert_tables"
	case CountTables:
		return "count_tables"
	case ReadSource:
		return "read_source"
	case WriteTable:
		return "write_table"
	case UploadTable:
		return "upload_table"
	case SubmitJob:
		return "submit_job"
	case RunTask:
		return "run_task"
	case QualityCheck:
		return "quality_check"
	default:
		return ""
	}
}

// Send sends a progress update through the channel without blocking.
// Uses select with default to ensure progress reporting never blocks execution.
func Send(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}

// StatementUpdate reports a SQL statement about to run in a statement list phase.
func StatementUpdate(phase Phase, step, total int, name string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   phase,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] %s", step, total, name),
	}
}

// ClusterStatusUpdate reports a cluster status observed while polling.
func ClusterStatusUpdate(step int, identifier, status string, elapsed time.Duration) ProgressUpdate {
	return ProgressUpdate{
		Phase:   WaitCluster,
		Step:    step,
		Message: fmt.Sprintf("%s is %s (%s elapsed)", identifier, status, elapsed.Truncate(time.Second)),
		Data:    status,
	}
}

func taskStartedUpdate(step, total int, taskID string, attempt int) ProgressUpdate {
	msg := fmt.Sprintf("[%d/%d] running %s", step, total, taskID)
	if attempt > 1 {
		msg = fmt.Sprintf("[%d/%d] retrying %s (attempt %d)", step, total, taskID, attempt)
	}
	return ProgressUpdate{
		Phase:   RunTask,
		Step:    step,
		Total:   total,
		Message: msg,
	}
}

func taskFinishedUpdate(step, total int, result TaskResult) ProgressUpdate {
	msg := fmt.Sprintf("[%d/%d] ✓ %s", step, total, result.TaskID)
	if result.Err != nil {
		msg = fmt.Sprintf("[%d/%d] ✗ %s: %v", step, total, result.TaskID, result.Err)
	} else if result.Status != "" && result.Status.Done() && result.Attempts == 0 {
		msg = fmt.Sprintf("[%d/%d] - %s (%s)", step, total, result.TaskID, result.Status)
	}
	return ProgressUpdate{
		Phase:   RunTask,
		Step:    step,
		Total:   total,
		Message: msg,
		Data:    result,
	}
}
