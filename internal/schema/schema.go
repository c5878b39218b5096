// Package schema is the declarative table dictionary and additive
// migrator . Tables are declared once as
// data; the migrator diffs that dictionary against an introspected
// snapshot of the live database and emits only CREATE TABLE / ADD COLUMN
// / ADD INDEX statements — schema migration beyond an additive plan is an
// explicit non-goal.
package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

type ColumnType string

const (
	TypeUUID      ColumnType = "uuid"
	TypeText      ColumnType = "text"
	TypeBigInt    ColumnType = "bigint"
	TypeInteger   ColumnType = "integer"
	TypeBoolean   ColumnType = "boolean"
	TypeTimestamp ColumnType = "timestamptz"
	TypeJSONB     ColumnType = "jsonb"
	TypeSerial    ColumnType = "serial"
	TypeTSVector  ColumnType = "tsvector"
)

type Column struct {
	Name       string
	Type       ColumnType
	NotNull    bool
	Default    string
	PrimaryKey bool
	References string // "other_table(column)"
}

type Index struct {
	Name    string
	Columns []string
	Unique  bool
}

type Table struct {
	Name    string
	Columns []Column
	Indexes []Index
	// Extend marks a plugin contribution that only adds columns/indexes
	// to an existing table rather than declaring a new one.
	Extend bool
}

type Dictionary struct {
	Tables map[string]*Table
}

func NewDictionary() *Dictionary {
	return &Dictionary{Tables: map[string]*Table{}}
}

// Merge adds a plugin's tables into the dictionary. A non-extend table
// that collides with an existing name, or an extend table that collides
// on a column/index name, is a merge failure.
func (d *Dictionary) Merge(tables ...*Table) error {
	for _, t := range tables {
		existing, ok := d.Tables[t.Name]
		if !ok {
			if t.Extend {
				return fmt.Errorf("schema merge: table %q marked extend but does not exist", t.Name)
			}
			d.Tables[t.Name] = t
			continue
		}
		if !t.Extend {
			return fmt.Errorf("schema merge: table %q already declared", t.Name)
		}
		colSeen := map[string]bool{}
		for _, c := range existing.Columns {
			colSeen[c.Name] = true
		}
		for _, c := range t.Columns {
			if colSeen[c.Name] {
				return fmt.Errorf("schema merge: column %q already exists on table %q", c.Name, t.Name)
			}
			existing.Columns = append(existing.Columns, c)
		}
		idxSeen := map[string]bool{}
		for _, ix := range existing.Indexes {
			idxSeen[ix.Name] = true
		}
		for _, ix := range t.Indexes {
			if idxSeen[ix.Name] {
				return fmt.Errorf("schema merge: index %q already exists on table %q", ix.Name, t.Name)
			}
			existing.Indexes = append(existing.Indexes, ix)
		}
	}
	return nil
}

// IntrospectedState is a snapshot of what already exists in the database,
// normally produced by querying information_schema; kept as plain data
// here so the planner is a pure function and unit-testable without a DB.
type IntrospectedState struct {
	Tables  map[string]bool            // table name -> exists
	Columns map[string]map[string]bool // table -> column -> exists
	Indexes map[string]map[string]bool // table -> index -> exists
}

func NewIntrospectedState() *IntrospectedState {
	return &IntrospectedState{
		Tables:  map[string]bool{},
		Columns: map[string]map[string]bool{},
		Indexes: map[string]map[string]bool{},
	}
}

type Plan struct {
	CreateTables []*Table
	AddColumns   []ColumnOp
	AddIndexes   []IndexOp
}

type ColumnOp struct {
	Table  string
	Column Column
}

type IndexOp struct {
	Table string
	Index Index
}

// Plan computes the additive (create-table, add-column, add-index) set
// needed to bring current up to the dictionary's declared shape.
func (d *Dictionary) Plan(current *IntrospectedState) *Plan {
	p := &Plan{}

	names := make([]string, 0, len(d.Tables))
	for name := range d.Tables {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		table := d.Tables[name]
		if !current.Tables[name] {
			p.CreateTables = append(p.CreateTables, table)
			continue
		}
		existingCols := current.Columns[name]
		for _, c := range table.Columns {
			if existingCols == nil || !existingCols[c.Name] {
				p.AddColumns = append(p.AddColumns, ColumnOp{Table: name, Column: c})
			}
		}
		existingIdx := current.Indexes[name]
		for _, ix := range table.Indexes {
			if existingIdx == nil || !existingIdx[ix.Name] {
				p.AddIndexes = append(p.AddIndexes, IndexOp{Table: name, Index: ix})
			}
		}
	}
	return p
}

// ImmutableTables mirrors the mandatory trigger list.
var ImmutableTables = []string{
	"account_balance",
	"account_balance_version",
	"transaction_record",
	"transaction_status",
	"entry_record",
	"ledger_event",
	"block_checkpoint",
	"merkle_node",
	"entity_status_log",
	"system_account",
	"system_account_version",
}

// AccountBalanceImmutableColumns lists, for account_balance, the columns that must not
// change after insert (every column except the cached_* projection and
// bookkeeping columns) — the "IF-OLD.col IS DISTINCT FROM
// NEW.col check over the explicit immutable column list".
var AccountBalanceImmutableColumns = []string{
	"id", "ledger_id", "holder_id", "holder_type", "currency",
	"allow_overdraft", "overdraft_limit", "account_type", "account_code",
	"parent_account_id", "normal_balance", "indicator", "metadata", "created_at",
}

// UpSQL renders the plan as forward DDL plus immutability triggers.
func (p *Plan) UpSQL(schemaName string) string {
	var b strings.Builder
	for _, t := range p.CreateTables {
		writeCreateTable(&b, schemaName, t)
	}
	for _, op := range p.AddColumns {
		fmt.Fprintf(&b, "ALTER TABLE %s.%s ADD COLUMN %s;\n", schemaName, op.Table, columnDDL(op.Column))
	}
	for _, op := range p.AddIndexes {
		writeCreateIndex(&b, schemaName, op.Table, op.Index)
	}
	for _, t := range ImmutableTables {
		writeImmutabilityTrigger(&b, schemaName, t)
	}
	return b.String()
}

// DownSQL drops added indexes/columns/tables in reverse order.
func (p *Plan) DownSQL(schemaName string) string {
	var b strings.Builder
	for i := len(p.AddIndexes) - 1; i >= 0; i-- {
		op := p.AddIndexes[i]
		fmt.Fprintf(&b, "DROP INDEX IF EXISTS %s.%s;\n", schemaName, op.Index.Name)
	}
	for i := len(p.AddColumns) - 1; i >= 0; i-- {
		op := p.AddColumns[i]
		fmt.Fprintf(&b, "ALTER TABLE %s.%s DROP COLUMN IF EXISTS %s;\n", schemaName, op.Table, op.Column.Name)
	}
	for i := len(p.CreateTables) - 1; i >= 0; i-- {
		t := p.CreateTables[i]
		fmt.Fprintf(&b, "DROP TABLE IF EXISTS %s.%s;\n", schemaName, t.Name)
	}
	return b.String()
}

// Hash returns the truncated SHA-256 (first 16 hex characters) of the
// plan's UpSQL, used to record an applied plan.
func (p *Plan) Hash(schemaName string) string {
	sum := sha256.Sum256([]byte(p.UpSQL(schemaName)))
	return hex.EncodeToString(sum[:])[:16]
}

func writeCreateTable(b *strings.Builder, schemaName string, t *Table) {
	fmt.Fprintf(b, "CREATE TABLE IF NOT EXISTS %s.%s (\n", schemaName, t.Name)
	lines := make([]string, 0, len(t.Columns))
	var pk []string
	for _, c := range t.Columns {
		lines = append(lines, "  "+columnDDL(c))
		if c.PrimaryKey {
			pk = append(pk, c.Name)
		}
	}
	if len(pk) > 0 {
		lines = append(lines, "  PRIMARY KEY ("+strings.Join(pk, ", ")+")")
	}
	b.WriteString(strings.Join(lines, ",\n"))
	b.WriteString("\n);\n")
	for _, ix := range t.Indexes {
		writeCreateIndex(b, schemaName, t.Name, ix)
	}
}

func columnDDL(c Column) string {
	parts := []string{c.Name, string(c.Type)}
	if c.NotNull {
		parts = append(parts, "NOT NULL")
	}
	if c.Default != "" {
		parts = append(parts, "DEFAULT "+c.Default)
	}
	if c.References != "" {
		parts = append(parts, "REFERENCES "+c.References)
	}
	return strings.Join(parts, " ")
}

func writeCreateIndex(b *strings.Builder, schemaName, table string, ix Index) {
	unique := ""
	if ix.Unique {
		unique = "UNIQUE "
	}
	fmt.Fprintf(b, "CREATE %sINDEX IF NOT EXISTS %s ON %s.%s (%s);\n",
		unique, ix.Name, schemaName, table, strings.Join(ix.Columns, ", "))
}

// writeImmutabilityTrigger emits a BEFORE UPDATE OR DELETE trigger that
// raises unless the table is account_balance, where only cached_*
// columns (and any column outside AccountBalanceImmutableColumns) may
// change.
func writeImmutabilityTrigger(b *strings.Builder, schemaName, table string) {
	fnName := fmt.Sprintf("%s_immutable_guard", table)
	fmt.Fprintf(b, "CREATE OR REPLACE FUNCTION %s.%s() RETURNS TRIGGER AS $$\n", schemaName, fnName)
	b.WriteString("BEGIN\n")
	if table == "account_balance" {
		b.WriteString("  IF TG_OP = 'DELETE' THEN\n")
		b.WriteString("    RAISE EXCEPTION 'account_balance rows are immutable (delete)';\n")
		b.WriteString("  END IF;\n")
		for _, col := range AccountBalanceImmutableColumns {
			fmt.Fprintf(b, "  IF OLD.%s IS DISTINCT FROM NEW.%s THEN\n", col, col)
			fmt.Fprintf(b, "    RAISE EXCEPTION 'account_balance.%s is immutable';\n", col)
			b.WriteString("  END IF;\n")
		}
		b.WriteString("  RETURN NEW;\n")
	} else {
		fmt.Fprintf(b, "  RAISE EXCEPTION '%s rows are immutable';\n", table)
	}
	b.WriteString("END;\n")
	b.WriteString("$$ LANGUAGE plpgsql;\n")
	fmt.Fprintf(b, "DROP TRIGGER IF EXISTS %s_immutable ON %s.%s;\n", table, schemaName, table)
	fmt.Fprintf(b, "CREATE TRIGGER %s_immutable BEFORE UPDATE OR DELETE ON %s.%s\n", table, schemaName, table)
	fmt.Fprintf(b, "  FOR EACH ROW EXECUTE FUNCTION %s.%s();\n", schemaName, fnName)
}
