package operators

import (
	"context"
	"fmt"
	"strings"

	"github.com/desertthunder/dwh/internal/tasks"
	"github.com/desertthunder/dwh/internal/warehouse"
)

// insertSQL names the catalog's insert columns when table is known, so identity columns are left to the database.
func insertSQL(table, sel string) string {
	if t, ok := warehouse.Lookup(table); ok {
		return t.InsertSQL(sel)
	}
	return fmt.Sprintf("INSERT INTO %s\n%s;", table, strings.TrimSuffix(strings.TrimSpace(sel), ";"))
}

// LoadFact appends the rows of a select to a fact table in one transaction.
type LoadFact struct {
	TaskID string
	Hook   Hook
	Table  string
	SQL    string
}

func (o *LoadFact) ID() string { return o.TaskID }

func (o *LoadFact) Describe() string { return o.Statement() }

// Statement renders the transaction.
func (o *LoadFact) Statement() string {
	return "BEGIN;\n" + insertSQL(o.Table, o.SQL) + "\nCOMMIT;"
}

func (o *LoadFact) Execute(ctx context.Context, tc *tasks.TaskContext) error {
	tc.Logger.Info("loading fact table", "table", o.Table)
	if err := o.Hook.Run(ctx, o.Statement()); err != nil {
		return fmt.Errorf("failed to load %s: %w", o.Table, err)
	}
	return nil
}

// LoadDimension loads a dimension table from a select, optionally emptying it first.
type LoadDimension struct {
	TaskID   string
	Hook     Hook
	Table    string
	SQL      string
	Truncate bool
}

func (o *LoadDimension) ID() string { return o.TaskID }

func (o *LoadDimension) Describe() string { return o.Statement() }

// Statement renders the transaction.
func (o *LoadDimension) Statement() string {
	var b strings.Builder
	b.WriteString("BEGIN;\n")
	if o.Truncate {
		fmt.Fprintf(&b, "TRUNCATE TABLE %s;\n", o.Table)
	}
	b.WriteString(insertSQL(o.Table, o.SQL))
	b.WriteString("\nCOMMIT;")
	return b.String()
}

func (o *LoadDimension) Execute(ctx context.Context, tc *tasks.TaskContext) error {
	tc.Logger.Info("loading dimension table", "table", o.Table, "truncate", o.Truncate)
	if err := o.Hook.Run(ctx, o.Statement()); err != nil {
		return fmt.Errorf("failed to load %s: %w", o.Table, err)
	}
	return nil
}
