package schema_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tishiu/summa/internal/schema"
)

func TestMergeRejectsDuplicateTable(t *testing.T) {
	d := schema.NewDictionary()
	require.NoError(t, d.Merge(&schema.Table{Name: "widget", Columns: []schema.Column{{Name: "id", Type: schema.TypeUUID, PrimaryKey: true}}}))

	err := d.Merge(&schema.Table{Name: "widget", Columns: []schema.Column{{Name: "id", Type: schema.TypeUUID, PrimaryKey: true}}})
	assert.Error(t, err)
}

func TestMergeExtendsExistingTable(t *testing.T) {
	d := schema.NewDictionary()
	require.NoError(t, d.Merge(&schema.Table{Name: "widget", Columns: []schema.Column{{Name: "id", Type: schema.TypeUUID, PrimaryKey: true}}}))

	err := d.Merge(&schema.Table{Name: "widget", Extend: true, Columns: []schema.Column{{Name: "note", Type: schema.TypeText}}})
	require.NoError(t, err)
	assert.Len(t, d.Tables["widget"].Columns, 2)
}

func TestMergeExtendRequiresExistingTable(t *testing.T) {
	d := schema.NewDictionary()
	err := d.Merge(&schema.Table{Name: "ghost", Extend: true, Columns: []schema.Column{{Name: "note", Type: schema.TypeText}}})
	assert.Error(t, err)
}

func TestMergeRejectsDuplicateColumnOnExtend(t *testing.T) {
	d := schema.NewDictionary()
	require.NoError(t, d.Merge(&schema.Table{Name: "widget", Columns: []schema.Column{{Name: "id", Type: schema.TypeUUID, PrimaryKey: true}}}))

	err := d.Merge(&schema.Table{Name: "widget", Extend: true, Columns: []schema.Column{{Name: "id", Type: schema.TypeText}}})
	assert.Error(t, err)
}

func TestPlanAgainstEmptyStateCreatesEveryTable(t *testing.T) {
	d := schema.CoreDictionary()
	plan := d.Plan(schema.NewIntrospectedState())
	assert.Len(t, plan.CreateTables, len(d.Tables))
	assert.Empty(t, plan.AddColumns)
	assert.Empty(t, plan.AddIndexes)
}

func TestPlanAgainstFullStateIsEmpty(t *testing.T) {
	d := schema.CoreDictionary()
	state := schema.NewIntrospectedState()
	for name, table := range d.Tables {
		state.Tables[name] = true
		cols := map[string]bool{}
		for _, c := range table.Columns {
			cols[c.Name] = true
		}
		state.Columns[name] = cols
		idx := map[string]bool{}
		for _, ix := range table.Indexes {
			idx[ix.Name] = true
		}
		state.Indexes[name] = idx
	}

	plan := d.Plan(state)
	assert.Empty(t, plan.CreateTables)
	assert.Empty(t, plan.AddColumns)
	assert.Empty(t, plan.AddIndexes)
}

func TestPlanAddsMissingColumnToExistingTable(t *testing.T) {
	d := schema.NewDictionary()
	require.NoError(t, d.Merge(&schema.Table{
		Name: "widget",
		Columns: []schema.Column{
			{Name: "id", Type: schema.TypeUUID, PrimaryKey: true},
			{Name: "note", Type: schema.TypeText},
		},
	}))

	state := schema.NewIntrospectedState()
	state.Tables["widget"] = true
	state.Columns["widget"] = map[string]bool{"id": true}

	plan := d.Plan(state)
	require.Empty(t, plan.CreateTables)
	require.Len(t, plan.AddColumns, 1)
	assert.Equal(t, "note", plan.AddColumns[0].Column.Name)
}

func TestPlanHashIsStableAndOrderIndependent(t *testing.T) {
	d1 := schema.NewDictionary()
	require.NoError(t, d1.Merge(
		&schema.Table{Name: "a", Columns: []schema.Column{{Name: "id", Type: schema.TypeUUID, PrimaryKey: true}}},
		&schema.Table{Name: "b", Columns: []schema.Column{{Name: "id", Type: schema.TypeUUID, PrimaryKey: true}}},
	))
	d2 := schema.NewDictionary()
	require.NoError(t, d2.Merge(
		&schema.Table{Name: "b", Columns: []schema.Column{{Name: "id", Type: schema.TypeUUID, PrimaryKey: true}}},
		&schema.Table{Name: "a", Columns: []schema.Column{{Name: "id", Type: schema.TypeUUID, PrimaryKey: true}}},
	))

	plan1 := d1.Plan(schema.NewIntrospectedState())
	plan2 := d2.Plan(schema.NewIntrospectedState())
	assert.Equal(t, plan1.Hash("summa"), plan2.Hash("summa"))
}

func TestUpSQLEmitsImmutabilityTriggersForEveryImmutableTable(t *testing.T) {
	d := schema.CoreDictionary()
	plan := d.Plan(schema.NewIntrospectedState())
	up := plan.UpSQL("summa")

	for _, table := range schema.ImmutableTables {
		assert.Contains(t, up, table+"_immutable_guard", "missing immutability trigger for %s", table)
	}
}

func TestAccountBalanceTriggerAllowsOnlyListedColumnsToBeImmutable(t *testing.T) {
	d := schema.NewDictionary()
	require.NoError(t, d.Merge(&schema.Table{Name: "account_balance", Columns: []schema.Column{{Name: "id", Type: schema.TypeUUID, PrimaryKey: true}}}))
	plan := d.Plan(schema.NewIntrospectedState())
	up := plan.UpSQL("summa")

	for _, col := range schema.AccountBalanceImmutableColumns {
		assert.Contains(t, up, "OLD."+col+" IS DISTINCT FROM NEW."+col)
	}
}

func TestDownSQLDropsCreatedTable(t *testing.T) {
	d := schema.NewDictionary()
	require.NoError(t, d.Merge(&schema.Table{Name: "widget", Columns: []schema.Column{{Name: "id", Type: schema.TypeUUID, PrimaryKey: true}}}))
	plan := d.Plan(schema.NewIntrospectedState())

	down := plan.DownSQL("summa")
	assert.True(t, strings.Contains(down, "DROP TABLE IF EXISTS summa.widget"))
}

func TestIdentityDictionaryMergesIntoCore(t *testing.T) {
	d := schema.CoreDictionary()
	require.NoError(t, d.Merge(schema.IdentityDictionary()...))

	for _, name := range []string{"organization", "project", "app_user", "org_user", "api_key"} {
		_, ok := d.Tables[name]
		assert.True(t, ok, "expected identity table %q in merged dictionary", name)
	}
}
