package models

import (
	"fmt"
	"strings"
	"time"
)

// QualityResult is the row count observed for one table by a data quality check.
type QualityResult struct {
	id        string
	runID     string
	table     string
	rowCount  int64
	passed    bool
	message   string
	createdAt time.Time
}

// NewQualityResult creates a [QualityResult].
func NewQualityResult(runID, table string, rowCount int64, passed bool, message string) *QualityResult {
	return &QualityResult{
		runID:     runID,
		table:     table,
		rowCount:  rowCount,
		passed:    passed,
		message:   message,
		createdAt: time.Now().UTC(),
	}
}

func (q *QualityResult) ID() string               { return q.id }
func (q *QualityResult) RunID() string            { return q.runID }
func (q *QualityResult) Table() string            { return q.table }
func (q *QualityResult) RowCount() int64          { return q.rowCount }
func (q *QualityResult) Passed() bool             { return q.passed }
func (q *QualityResult) Message() string          { return q.message }
func (q *QualityResult) CreatedAt() time.Time     { return q.createdAt }
func (q *QualityResult) UpdatedAt() time.Time     { return q.createdAt }
func (q *QualityResult) SetID(id string)          { q.id = id }
func (q *QualityResult) SetCreatedAt(t time.Time) { q.createdAt = t }

func (q *QualityResult) Validate() error {
	if strings.TrimSpace(q.runID) == "" {
		return fmt.Errorf("quality result run id is required")
	}
	if strings.TrimSpace(q.table) == "" {
		return fmt.Errorf("quality result table is required")
	}
	return nil
}
