package warehouse

import (
	"fmt"
	"strings"

	"github.com/desertthunder/dwh/internal/shared"
)

// Format is a COPY source file format.
type Format string

const (
	FormatJSON Format = "JSON"
	FormatCSV  Format = "CSV"
)

// ParseFormat accepts format names case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToUpper(strings.TrimSpace(s))) {
	case FormatJSON:
		return FormatJSON, nil
	case FormatCSV:
		return FormatCSV, nil
	}
	return "", fmt.Errorf("%w: %q", shared.ErrUnsupportedFormat, s)
}

// Credentials authorize COPY to read from S3. An IAM role takes precedence over access keys.
type Credentials struct {
	IAMRole   string
	AccessKey string
	SecretKey string
}

func (c Credentials) clause() (string, error) {
	switch {
	case c.IAMRole != "":
		return fmt.Sprintf("CREDENTIALS 'aws_iam_role=%s'", quote(c.IAMRole)), nil
	case c.AccessKey != "" && c.SecretKey != "":
		return fmt.Sprintf("ACCESS_KEY_ID '%s' SECRET_ACCESS_KEY '%s'", quote(c.AccessKey), quote(c.SecretKey)), nil
	}
	return "", shared.ErrMissingCredentials
}

// Copy builds a Redshift COPY statement loading S3 files into a table.
type Copy struct {
	Table        string
	Source       string // s3:// prefix or object
	Credentials  Credentials
	Region       string
	Format       Format
	JSONPaths    string // JSON only; empty means 'auto'
	Delimiter    string // CSV only; defaults to ","
	IgnoreHeader int    // CSV only
	TimeFormat   string // e.g. "epochmillisecs"
}

// SQL renders the statement.
func (c Copy) SQL() (string, error) {
	if c.Table == "" || c.Source == "" {
		return "", fmt.Errorf("%w: copy needs a table and a source", shared.ErrInvalidInput)
	}
	creds, err := c.Credentials.clause()
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "COPY %s FROM '%s'\n%s", c.Table, quote(c.Source), creds)
	if c.Region != "" {
		fmt.Fprintf(&b, "\nREGION '%s'", quote(c.Region))
	}

	format := c.Format
	if format == "" {
		format = FormatJSON
	}
	switch format {
	case FormatJSON:
		paths := c.JSONPaths
		if paths == "" {
			paths = "auto"
		}
		fmt.Fprintf(&b, "\nFORMAT AS JSON '%s'", quote(paths))
	case FormatCSV:
		delim := c.Delimiter
		if delim == "" {
			delim = ","
		}
		fmt.Fprintf(&b, "\nFORMAT AS CSV DELIMITER '%s'", quote(delim))
		if c.IgnoreHeader > 0 {
			fmt.Fprintf(&b, " IGNOREHEADER %d", c.IgnoreHeader)
		}
	default:
		return "", fmt.Errorf("%w: %q", shared.ErrUnsupportedFormat, format)
	}

	if c.TimeFormat != "" {
		fmt.Fprintf(&b, "\nTIMEFORMAT AS '%s'", quote(c.TimeFormat))
	}
	b.WriteString(";")
	return b.String(), nil
}

func quote(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
