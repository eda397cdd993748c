package shared

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	AWS      AWSConfig      `toml:"aws"`
	Cluster  ClusterConfig  `toml:"cluster"`
	IAMRole  IAMRoleConfig  `toml:"iam_role"`
	S3       S3Config       `toml:"s3"`
	Lake     LakeConfig     `toml:"lake"`
	Pipeline PipelineConfig `toml:"pipeline"`
	Journal  JournalConfig  `toml:"journal"`
}

// AWSConfig contains the access keys used by every AWS client.
//
// Empty keys fall back to the SDK's default credential chain.
type AWSConfig struct {
	Key    string `toml:"key"`
	Secret string `toml:"secret"`
	Region string `toml:"region"`
}

// ClusterConfig contains Redshift cluster parameters and connection settings.
type ClusterConfig struct {
	Identifier   string        `toml:"identifier"`
	ClusterType  string        `toml:"cluster_type"`
	NodeType     string        `toml:"node_type"`
	NumNodes     int           `toml:"num_nodes"`
	DBName       string        `toml:"db_name"`
	DBUser       string        `toml:"db_user"`
	DBPassword   string        `toml:"db_password"`
	Port         int           `toml:"port"`
	Host         string        `toml:"host"`
	SSLMode      string        `toml:"ssl_mode"`
	WaitTimeout  time.Duration `toml:"wait_timeout"`
	PollInterval time.Duration `toml:"poll_interval"`
}

// IAMRoleConfig names the role the cluster assumes to read from S3.
type IAMRoleConfig struct {
	Name string `toml:"name"`
	ARN  string `toml:"arn"`
}

// S3Config contains the staging source paths for COPY.
type S3Config struct {
	LogData     string `toml:"log_data"`
	LogJSONPath string `toml:"log_jsonpath"`
	SongData    string `toml:"song_data"`
	Region      string `toml:"region"`
}

// LakeConfig contains batch lake ETL settings.
type LakeConfig struct {
	Input        string  `toml:"input"`
	Output       string  `toml:"output"`
	Engine       string  `toml:"engine"`
	EMRClusterID string  `toml:"emr_cluster_id"`
	ScriptURI    string  `toml:"script_uri"`
	Workers      int     `toml:"workers"`
	UploadRate   float64 `toml:"upload_rate"`
}

// PipelineConfig contains DAG executor settings.
type PipelineConfig struct {
	Retries        int           `toml:"retries"`
	RetryDelay     time.Duration `toml:"retry_delay"`
	MaxActiveTasks int           `toml:"max_active_tasks"`
	Tables         []string      `toml:"tables"`
	// TruncateDimensions empties each dimension table before it is reloaded.
	TruncateDimensions bool `toml:"truncate_dimensions"`
}

// JournalConfig contains local run journal settings.
type JournalConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Values missing from the file keep their defaults, and AWS keys in the environment take precedence.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	config.applyEnv()
	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s: %w", path, err)
	}

	if err := os.WriteFile(path, exampleConf, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// SaveConfig writes config back to path, replacing the file.
//
// The provisioner uses this to persist the cluster endpoint and role ARN.
func SaveConfig(path string, config *Config) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
		c.AWS.Key = v
	}
	if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
		c.AWS.Secret = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		c.AWS.Region = v
	}
}

// DSN renders the Postgres-compatible connection string for the cluster.
func (c *Config) DSN() string {
	sslMode := c.Cluster.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}
	return fmt.Sprintf("host=%s dbname=%s user=%s password=%s port=%d sslmode=%s",
		c.Cluster.Host, c.Cluster.DBName, c.Cluster.DBUser, c.Cluster.DBPassword, c.Cluster.Port, sslMode)
}

// Validate checks that the keys a command needs are present.
//
// Sections are named after their TOML tables: "cluster", "connection", "iam_role", "s3", "lake".
func (c *Config) Validate(sections ...string) error {
	var missing []string
	require := func(key, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, key)
		}
	}

	for _, section := range sections {
		switch section {
		case "cluster":
			require("cluster.identifier", c.Cluster.Identifier)
			require("cluster.node_type", c.Cluster.NodeType)
			require("cluster.db_name", c.Cluster.DBName)
			require("cluster.db_user", c.Cluster.DBUser)
			require("cluster.db_password", c.Cluster.DBPassword)
			require("iam_role.name", c.IAMRole.Name)
			if c.Cluster.NumNodes < 1 {
				missing = append(missing, "cluster.num_nodes")
			}
		case "connection":
			require("cluster.host", c.Cluster.Host)
			require("cluster.db_name", c.Cluster.DBName)
			require("cluster.db_user", c.Cluster.DBUser)
			require("cluster.db_password", c.Cluster.DBPassword)
			if c.Cluster.Port == 0 {
				missing = append(missing, "cluster.port")
			}
		case "iam_role":
			require("iam_role.arn", c.IAMRole.ARN)
		case "s3":
			require("s3.log_data", c.S3.LogData)
			require("s3.log_jsonpath", c.S3.LogJSONPath)
			require("s3.song_data", c.S3.SongData)
		case "lake":
			require("lake.input", c.Lake.Input)
			require("lake.output", c.Lake.Output)
		default:
			return fmt.Errorf("%w: unknown config section %q", ErrInvalidConfig, section)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingConfig, strings.Join(missing, ", "))
	}
	return nil
}
