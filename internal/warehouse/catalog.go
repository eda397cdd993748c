// package warehouse defines the Redshift star schema and runs statement lists against the cluster
package warehouse

import (
	"fmt"
	"strings"
)

// Column is one column of a warehouse table.
type Column struct {
	Name       string
	Type       string
	Identity   string // IDENTITY(seed,step) arguments, e.g. "0,1"
	NotNull    bool
	SortKey    bool
	DistKey    bool
	PrimaryKey bool
}

// SQL renders the column definition.
func (c Column) SQL() string {
	parts := []string{c.Name, c.Type}
	if c.Identity != "" {
		parts = append(parts, fmt.Sprintf("IDENTITY(%s)", c.Identity))
	}
	if c.NotNull {
		parts = append(parts, "NOT NULL")
	}
	if c.SortKey {
		parts = append(parts, "SORTKEY")
	}
	if c.DistKey {
		parts = append(parts, "DISTKEY")
	}
	if c.PrimaryKey {
		parts = append(parts, "PRIMARY KEY")
	}
	return strings.Join(parts, " ")
}

// Table is a warehouse table definition.
type Table struct {
	Name    string
	Staging bool
	Columns []Column
}

// CreateSQL renders CREATE TABLE.
func (t Table) CreateSQL() string {
	defs := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		defs[i] = "    " + c.SQL()
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n%s\n);", t.Name, strings.Join(defs, ",\n"))
}

// DropSQL renders DROP TABLE IF EXISTS.
func (t Table) DropSQL() string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s;", t.Name)
}

// CountSQL renders the row count query used by reports and quality checks.
func (t Table) CountSQL() string {
	return CountSQL(t.Name)
}

// CountSQL renders SELECT COUNT(*) for table.
func CountSQL(table string) string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s", table)
}

// ColumnNames returns column names in declaration order.
func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Column looks up a column by name.
func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

var StagingEvents = Table{
	Name:    "staging_events",
	Staging: true,
	Columns: []Column{
		{Name: "artist", Type: "VARCHAR"},
		{Name: "auth", Type: "VARCHAR"},
		{Name: "firstName", Type: "VARCHAR"},
		{Name: "gender", Type: "VARCHAR"},
		{Name: "itemInSession", Type: "VARCHAR"},
		{Name: "lastName", Type: "VARCHAR"},
		{Name: "length", Type: "FLOAT"},
		{Name: "level", Type: "VARCHAR"},
		{Name: "location", Type: "VARCHAR"},
		{Name: "method", Type: "VARCHAR"},
		{Name: "page", Type: "VARCHAR"},
		{Name: "registration", Type: "FLOAT"},
		{Name: "sessionId", Type: "INTEGER"},
		{Name: "song", Type: "VARCHAR"},
		{Name: "status", Type: "INTEGER"},
		{Name: "ts", Type: "TIMESTAMP"},
		{Name: "userAgent", Type: "VARCHAR"},
		{Name: "userId", Type: "INTEGER"},
	},
}

var StagingSongs = Table{
	Name:    "staging_songs",
	Staging: true,
	Columns: []Column{
		{Name: "num_songs", Type: "INTEGER"},
		{Name: "artist_id", Type: "VARCHAR"},
		{Name: "artist_latitude", Type: "FLOAT"},
		{Name: "artist_longitude", Type: "FLOAT"},
		{Name: "artist_location", Type: "VARCHAR"},
		{Name: "artist_name", Type: "VARCHAR"},
		{Name: "song_id", Type: "VARCHAR"},
		{Name: "title", Type: "VARCHAR"},
		{Name: "duration", Type: "FLOAT"},
		{Name: "year", Type: "INTEGER"},
	},
}

var Songplays = Table{
	Name: "songplays",
	Columns: []Column{
		{Name: "songplay_id", Type: "INTEGER", Identity: "0,1", PrimaryKey: true},
		{Name: "start_time", Type: "TIMESTAMP", NotNull: true, SortKey: true, DistKey: true},
		{Name: "user_id", Type: "INTEGER", NotNull: true},
		{Name: "level", Type: "VARCHAR"},
		{Name: "song_id", Type: "VARCHAR", NotNull: true},
		{Name: "artist_id", Type: "VARCHAR", NotNull: true},
		{Name: "session_id", Type: "INTEGER"},
		{Name: "location", Type: "VARCHAR"},
		{Name: "user_agent", Type: "VARCHAR"},
	},
}

var Users = Table{
	Name: "users",
	Columns: []Column{
		{Name: "user_id", Type: "INTEGER", NotNull: true, SortKey: true, PrimaryKey: true},
		{Name: "first_name", Type: "VARCHAR", NotNull: true},
		{Name: "last_name", Type: "VARCHAR", NotNull: true},
		{Name: "gender", Type: "VARCHAR", NotNull: true},
		{Name: "level", Type: "VARCHAR", NotNull: true},
	},
}

var Songs = Table{
	Name: "songs",
	Columns: []Column{
		{Name: "song_id", Type: "VARCHAR", NotNull: true, SortKey: true, PrimaryKey: true},
		{Name: "title", Type: "VARCHAR", NotNull: true},
		{Name: "artist_id", Type: "VARCHAR", NotNull: true},
		{Name: "year", Type: "INTEGER", NotNull: true},
		{Name: "duration", Type: "FLOAT"},
	},
}

var Artists = Table{
	Name: "artists",
	Columns: []Column{
		{Name: "artist_id", Type: "VARCHAR", NotNull: true, SortKey: true, PrimaryKey: true},
		{Name: "name", Type: "VARCHAR", NotNull: true},
		{Name: "location", Type: "VARCHAR"},
		{Name: "latitude", Type: "FLOAT"},
		{Name: "longitude", Type: "FLOAT"},
	},
}

// Time.weekday follows Spark's dayofweek: Sunday=1 through Saturday=7.
var Time = Table{
	Name: "time",
	Columns: []Column{
		{Name: "start_time", Type: "TIMESTAMP", NotNull: true, DistKey: true, SortKey: true, PrimaryKey: true},
		{Name: "hour", Type: "INTEGER", NotNull: true},
		{Name: "day", Type: "INTEGER", NotNull: true},
		{Name: "week", Type: "INTEGER", NotNull: true},
		{Name: "month", Type: "INTEGER", NotNull: true},
		{Name: "year", Type: "INTEGER", NotNull: true},
		{Name: "weekday", Type: "INTEGER", NotNull: true},
	},
}

// Catalog returns every table in creation order: staging first, then fact, then dimensions.
func Catalog() []Table {
	return []Table{StagingEvents, StagingSongs, Songplays, Users, Songs, Artists, Time}
}

// AnalyticsTables returns the fact and dimension tables.
func AnalyticsTables() []Table {
	var out []Table
	for _, t := range Catalog() {
		if !t.Staging {
			out = append(out, t)
		}
	}
	return out
}

// Lookup finds a table by name.
func Lookup(name string) (Table, bool) {
	for _, t := range Catalog() {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}
