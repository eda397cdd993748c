package models

import (
	"fmt"
	"strings"
	"time"
)

// Cluster is the journaled view of a provisioned warehouse cluster.
type Cluster struct {
	identifier    string
	endpoint      string
	port          int
	roleARN       string
	securityGroup string
	status        string
	createdAt     time.Time
	updatedAt     time.Time
}

// NewCluster creates a [Cluster] record.
func NewCluster(identifier, endpoint string, port int, roleARN, securityGroup, status string) *Cluster {
	now := time.Now().UTC()
	return &Cluster{
		identifier:    identifier,
		endpoint:      endpoint,
		port:          port,
		roleARN:       roleARN,
		securityGroup: securityGroup,
		status:        status,
		createdAt:     now,
		updatedAt:     now,
	}
}

// ID is the cluster identifier.
func (c *Cluster) ID() string               { return c.identifier }
func (c *Cluster) Endpoint() string         { return c.endpoint }
func (c *Cluster) Port() int                { return c.port }
func (c *Cluster) RoleARN() string          { return c.roleARN }
func (c *Cluster) SecurityGroup() string    { return c.securityGroup }
func (c *Cluster) Status() string           { return c.status }
func (c *Cluster) CreatedAt() time.Time     { return c.createdAt }
func (c *Cluster) UpdatedAt() time.Time     { return c.updatedAt }
func (c *Cluster) SetCreatedAt(t time.Time) { c.createdAt = t }
func (c *Cluster) SetUpdatedAt(t time.Time) { c.updatedAt = t }

func (c *Cluster) Validate() error {
	if strings.TrimSpace(c.identifier) == "" {
		return fmt.Errorf("cluster identifier is required")
	}
	if c.port < 0 || c.port > 65535 {
		return fmt.Errorf("invalid cluster port: %d", c.port)
	}
	if strings.TrimSpace(c.status) == "" {
		return fmt.Errorf("cluster status is required")
	}
	return nil
}
