package repositories

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/dwh/internal/models"
	"github.com/desertthunder/dwh/internal/shared"
)

// ClusterRepository caches provisioned cluster details keyed by identifier.
type ClusterRepository struct {
	db *sql.DB
}

// NewClusterRepository creates a new [ClusterRepository] with the given database connection
func NewClusterRepository(db *sql.DB) *ClusterRepository {
	return &ClusterRepository{db: db}
}

// Upsert inserts the cluster or replaces the stored details for its identifier
func (r *ClusterRepository) Upsert(cluster *models.Cluster) error {
	if err := cluster.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	now := time.Now().UTC()
	cluster.SetUpdatedAt(now)

	query := `
		INSERT INTO clusters (identifier, endpoint, port, role_arn, security_group, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(identifier) DO UPDATE SET
			endpoint = excluded.endpoint,
			port = excluded.port,
			role_arn = excluded.role_arn,
			security_group = excluded.security_group,
			status = excluded.status,
			updated_at = excluded.updated_at
	`

	_, err := r.db.Exec(query,
		cluster.ID(),
		nullString(cluster.Endpoint()),
		cluster.Port(),
		nullString(cluster.RoleARN()),
		nullString(cluster.SecurityGroup()),
		cluster.Status(),
		cluster.CreatedAt(),
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert cluster: %w", err)
	}
	return nil
}

// Get retrieves a cluster by identifier
func (r *ClusterRepository) Get(identifier string) (*models.Cluster, error) {
	query := `
		SELECT identifier, endpoint, port, role_arn, security_group, status, created_at, updated_at
		FROM clusters
		WHERE identifier = ?
	`

	var (
		id            string
		endpoint      sql.NullString
		port          int
		roleARN       sql.NullString
		securityGroup sql.NullString
		status        string
		createdAt     time.Time
		updatedAt     time.Time
	)

	err := r.db.QueryRow(query, identifier).Scan(&id, &endpoint, &port, &roleARN, &securityGroup, &status, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", shared.ErrClusterNotFound, identifier)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query cluster: %w", err)
	}

	cluster := models.NewCluster(id, endpoint.String, port, roleARN.String, securityGroup.String, status)
	cluster.SetCreatedAt(createdAt)
	cluster.SetUpdatedAt(updatedAt)
	return cluster, nil
}

// Delete removes a cluster record
func (r *ClusterRepository) Delete(identifier string) error {
	if _, err := r.db.Exec(`DELETE FROM clusters WHERE identifier = ?`, identifier); err != nil {
		return fmt.Errorf("failed to delete cluster: %w", err)
	}
	return nil
}
