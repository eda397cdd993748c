package warehouse

import (
	"fmt"
	"strings"

	"github.com/desertthunder/dwh/internal/shared"
)

// Statement is a named SQL statement. Names key the journal, so they must be unique within a list.
type Statement struct {
	Name string
	SQL  string
}

// Selects feeding the analytics tables from staging. Operators append these to INSERT INTO.
const (
	SongplaySelect = `SELECT DISTINCT e.ts AS start_time,
       e.userId AS user_id,
       e.level AS level,
       s.song_id AS song_id,
       s.artist_id AS artist_id,
       e.sessionId AS session_id,
       e.location AS location,
       e.userAgent AS user_agent
FROM staging_events e
JOIN staging_songs s
  ON (e.song = s.title AND e.artist = s.artist_name)
WHERE e.page = 'NextSong'`

	UserSelect = `SELECT DISTINCT userId AS user_id,
       firstName AS first_name,
       lastName AS last_name,
       gender,
       level
FROM staging_events
WHERE userId IS NOT NULL
  AND page = 'NextSong'`

	SongSelect = `SELECT DISTINCT song_id,
       title,
       artist_id,
       year,
       duration
FROM staging_songs
WHERE song_id IS NOT NULL`

	ArtistSelect = `SELECT DISTINCT artist_id,
       artist_name AS name,
       artist_location AS location,
       artist_latitude AS latitude,
       artist_longitude AS longitude
FROM staging_songs
WHERE artist_id IS NOT NULL`

	TimeSelect = `SELECT DISTINCT start_time,
       EXTRACT(hour FROM start_time) AS hour,
       EXTRACT(day FROM start_time) AS day,
       EXTRACT(week FROM start_time) AS week,
       EXTRACT(month FROM start_time) AS month,
       EXTRACT(year FROM start_time) AS year,
       EXTRACT(dow FROM start_time) + 1 AS weekday
FROM songplays`
)

// Load pairs an analytics table with the select that fills it.
type Load struct {
	Table  Table
	Select string
}

// Loads returns the analytics loads in dependency order: time reads from songplays.
func Loads() []Load {
	return []Load{
		{Table: Songplays, Select: SongplaySelect},
		{Table: Users, Select: UserSelect},
		{Table: Songs, Select: SongSelect},
		{Table: Artists, Select: ArtistSelect},
		{Table: Time, Select: TimeSelect},
	}
}

// InsertColumns returns the columns an INSERT supplies, leaving out identity columns.
func (t Table) InsertColumns() []string {
	var cols []string
	for _, c := range t.Columns {
		if c.Identity == "" {
			cols = append(cols, c.Name)
		}
	}
	return cols
}

// InsertSQL renders INSERT INTO table (columns) followed by sel.
func (t Table) InsertSQL(sel string) string {
	return fmt.Sprintf("INSERT INTO %s (%s)\n%s;", t.Name, strings.Join(t.InsertColumns(), ", "), strings.TrimSuffix(strings.TrimSpace(sel), ";"))
}

// DropTableQueries drops every catalog table.
func DropTableQueries() []Statement {
	var stmts []Statement
	for _, t := range Catalog() {
		stmts = append(stmts, Statement{Name: "drop_" + t.Name, SQL: t.DropSQL()})
	}
	return stmts
}

// CreateTableQueries creates every catalog table.
func CreateTableQueries() []Statement {
	var stmts []Statement
	for _, t := range Catalog() {
		stmts = append(stmts, Statement{Name: "create_" + t.Name, SQL: t.CreateSQL()})
	}
	return stmts
}

// CopyTableQueries loads both staging tables from the S3 paths in cfg.
//
// The IAM role ARN authorizes the COPY when set; the configured AWS keys are the fallback.
func CopyTableQueries(cfg *shared.Config) ([]Statement, error) {
	if err := cfg.Validate("s3"); err != nil {
		return nil, err
	}

	creds := Credentials{IAMRole: cfg.IAMRole.ARN, AccessKey: cfg.AWS.Key, SecretKey: cfg.AWS.Secret}
	region := cfg.S3.Region
	if region == "" {
		region = cfg.AWS.Region
	}

	copies := []Copy{
		{
			Table:       StagingEvents.Name,
			Source:      cfg.S3.LogData,
			Credentials: creds,
			Region:      region,
			Format:      FormatJSON,
			JSONPaths:   cfg.S3.LogJSONPath,
			TimeFormat:  "epochmillisecs",
		},
		{
			Table:       StagingSongs.Name,
			Source:      cfg.S3.SongData,
			Credentials: creds,
			Region:      region,
			Format:      FormatJSON,
		},
	}

	stmts := make([]Statement, 0, len(copies))
	for _, c := range copies {
		q, err := c.SQL()
		if err != nil {
			return nil, fmt.Errorf("failed to build copy for %s: %w", c.Table, err)
		}
		stmts = append(stmts, Statement{Name: "copy_" + c.Table, SQL: q})
	}
	return stmts, nil
}

// InsertTableQueries moves staging rows into the analytics tables.
func InsertTableQueries() []Statement {
	var stmts []Statement
	for _, l := range Loads() {
		stmts = append(stmts, Statement{Name: "insert_" + l.Table.Name, SQL: l.Table.InsertSQL(l.Select)})
	}
	return stmts
}

// CountQueries counts rows in each named table; an empty list means every catalog table.
func CountQueries(tables ...string) []Statement {
	if len(tables) == 0 {
		for _, t := range Catalog() {
			tables = append(tables, t.Name)
		}
	}
	stmts := make([]Statement, len(tables))
	for i, name := range tables {
		stmts[i] = Statement{Name: "count_" + name, SQL: CountSQL(name)}
	}
	return stmts
}
