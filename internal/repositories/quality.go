package repositories

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/desertthunder/dwh/internal/models"
	"github.com/desertthunder/dwh/internal/shared"
)

// QualityRepository persists data quality observations.
type QualityRepository struct {
	db *sql.DB
}

// NewQualityRepository creates a new [QualityRepository] with the given database connection
func NewQualityRepository(db *sql.DB) *QualityRepository {
	return &QualityRepository{db: db}
}

// Create inserts a quality result with a generated ID
func (r *QualityRepository) Create(result *models.QualityResult) error {
	result.SetID(shared.GenerateID())

	if err := result.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	query := `
		INSERT INTO quality_results (id, run_id, table_name, row_count, passed, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.Exec(query,
		result.ID(),
		result.RunID(),
		result.Table(),
		result.RowCount(),
		result.Passed(),
		nullString(result.Message()),
		result.CreatedAt(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert quality result: %w", err)
	}
	return nil
}

// ListByRun returns the quality results recorded for a run, ordered by table name
func (r *QualityRepository) ListByRun(runID string) ([]*models.QualityResult, error) {
	query := `
		SELECT id, run_id, table_name, row_count, passed, message, created_at
		FROM quality_results
		WHERE run_id = ?
		ORDER BY table_name ASC
	`

	rows, err := r.db.Query(query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query quality results: %w", err)
	}
	defer rows.Close()

	var results []*models.QualityResult
	for rows.Next() {
		var (
			id        string
			rID       string
			table     string
			count     int64
			passed    bool
			message   sql.NullString
			createdAt time.Time
		)
		if err := rows.Scan(&id, &rID, &table, &count, &passed, &message, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan quality result: %w", err)
		}

		result := models.NewQualityResult(rID, table, count, passed, message.String)
		result.SetID(id)
		result.SetCreatedAt(createdAt)
		results = append(results, result)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return results, nil
}
