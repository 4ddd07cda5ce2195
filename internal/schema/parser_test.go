// internal/schema/parser_test.go

package schema

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tablegraph/internal/model"
)

func quietLog() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

const payablesExport = `[
  {
    "tableview_title": "12 Invoices",
    "table_data": [
      {
        "table_title": "AP_INVOICES_ALL",
        "data": {
          "short_description": "  Invoice   header\n information  ",
          "details": {"tablespace": "APPS_TS_TX_DATA"},
          "primary_key": {"name": "AP_INVOICES_PK", "columns": "INVOICE_ID"},
          "columns": [
            {"name": "INVOICE_ID", "datatype": "NUMBER", "length": 18, "precision": null, "not_null": "Yes", "comments": "Invoice identifier"},
            {"name": "VENDOR_ID", "datatype": "NUMBER", "length": "18", "not_null": false, "comments": "Supplier identifier"},
            {"name": "", "datatype": "NUMBER"}
          ],
          "indexes": [
            {"index": "AP_INVOICES_N1", "columns": ["VENDOR_ID"], "uniqueness": ""}
          ],
          "foreign_keys": [
            {"table": "AP_INVOICES_ALL", "foreign_table": "PO_VENDORS", "foreign_key_column": "VENDOR_ID"},
            {"foreign_table": "", "foreign_key_column": "BAD"}
          ]
        }
      },
      {
        "table_title": "",
        "data": {"short_description": "nameless, must be dropped"}
      }
    ]
  }
]`

func TestParseFilesNormalizesRecords(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "payables.json", payablesExport)

	parser := NewParser(dir, quietLog())
	records, err := parser.ParseFiles([]string{"payables.json"})
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, "AP_INVOICES_ALL", rec.Name)
	assert.Equal(t, "ap_invoices_all", rec.TableID())
	assert.Equal(t, "payables", rec.Module)
	assert.Equal(t, "Invoices", rec.Submodule, "numeric prefix must be stripped")
	assert.Equal(t, "Invoice header information", rec.Description, "whitespace must be collapsed")

	assert.Equal(t, "FUSION", rec.Details.Schema, "missing schema defaults")
	assert.Equal(t, "TABLE", rec.Details.ObjectType)
	assert.Equal(t, "APPS_TS_TX_DATA", rec.Details.Tablespace)

	require.NotNil(t, rec.PrimaryKey)
	assert.Equal(t, []string{"INVOICE_ID"}, rec.PrimaryKey.Columns, "string column list must split")

	require.Len(t, rec.Columns, 2, "nameless column must be dropped")
	assert.Equal(t, "18", rec.Columns[0].Length, "numeric length must coerce to string")
	assert.True(t, rec.Columns[0].NotNull, `"Yes" must coerce to true`)
	assert.False(t, rec.Columns[1].NotNull)

	require.Len(t, rec.Indexes, 1)
	assert.Equal(t, "Non Unique", rec.Indexes[0].Uniqueness, "empty uniqueness defaults")

	require.Len(t, rec.ForeignKeys, 1, "incomplete foreign key must be dropped")
	assert.Equal(t, "po_vendors", rec.ForeignKeys[0].ForeignTable)
}

func TestParseFilesSkipsMissingAndDeduplicates(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.json", payablesExport)
	writeFile(t, dir, "b.json", payablesExport)

	parser := NewParser(dir, quietLog())
	records, err := parser.ParseFiles([]string{"a.json", "missing.json", "b.json"})
	require.NoError(t, err)
	assert.Len(t, records, 1, "same table in two files must load once")
	assert.Equal(t, "a", records[0].Module, "first occurrence wins")
}

func TestParseFileRepairsTruncatedJSON(t *testing.T) {
	dir := t.TempDir()
	truncated := `[
  {
    "tableview_title": "3 Suppliers",
    "table_data": [
      {"table_title": "PO_VENDORS", "data": {"short_description": "Suppliers",}}
    ]
  },`
	writeFile(t, dir, "purchasing.json", truncated)

	parser := NewParser(dir, quietLog())
	records, err := parser.ParseFiles([]string{"purchasing.json"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "po_vendors", records[0].TableID())
}

func TestParseViews(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "views.json", `[
  {
    "id": "AP_INVOICE_SUMMARY_V",
    "name": "AP_INVOICE_SUMMARY_V",
    "module": "payables",
    "description": "Invoice totals per supplier",
    "sql_query": "SELECT vendor_id, SUM(amount) FROM ap_invoices_all GROUP BY vendor_id",
    "tables_used": ["AP_INVOICES_ALL"]
  },
  {
    "id": "broken_v",
    "name": "BROKEN_V",
    "sql_query": "",
    "tables_used": ["x"]
  }
]`)

	parser := NewParser(dir, quietLog())
	views, err := parser.ParseViews(filepath.Join(dir, "views.json"))
	require.NoError(t, err)
	require.Len(t, views, 1, "view without sql_query must be dropped")
	assert.Equal(t, "ap_invoice_summary_v", views[0].ID)
	assert.Equal(t, []string{"ap_invoices_all"}, views[0].TablesUsed)
}

func TestColumnListAcceptsBothShapes(t *testing.T) {
	var fromArray, fromString columnList
	require.NoError(t, fromArray.UnmarshalJSON([]byte(`["A", "B"]`)))
	require.NoError(t, fromString.UnmarshalJSON([]byte(`"A, B"`)))
	assert.Equal(t, fromArray, fromString)
}

func TestRecordIdentityIsDeterministic(t *testing.T) {
	a := model.SchemaRecord{Name: "  AP_INVOICES_ALL "}
	b := model.SchemaRecord{Name: "ap_invoices_all"}
	assert.Equal(t, a.TableID(), b.TableID())
	assert.Equal(t, "ap_invoices_all_invoice_id", model.ColumnID(a.TableID(), "INVOICE_ID"))
}
