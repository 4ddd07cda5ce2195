// internal/embed/text_test.go

package embed

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"tablegraph/internal/model"
)

func TestTableTextIsStable(t *testing.T) {
	table := model.TableNode{
		ID:          "ap_invoices_all",
		Name:        "AP_INVOICES_ALL",
		Module:      "payables",
		Submodule:   "Invoices",
		Description: "Invoice header information",
		PrimaryKey:  &model.PrimaryKey{Name: "AP_INVOICES_PK", Columns: []string{"INVOICE_ID"}},
		Columns: []model.Column{
			{Name: "INVOICE_ID", Datatype: "NUMBER", Comments: "Invoice identifier"},
			{Name: "VENDOR_ID", Datatype: "NUMBER"},
		},
	}

	text := TableText(table)
	assert.Equal(t, text, TableText(table), "same input must produce identical text")
	assert.Contains(t, text, "Table: AP_INVOICES_ALL")
	assert.Contains(t, text, "Primary Key: INVOICE_ID")
	assert.Contains(t, text, "INVOICE_ID (NUMBER): Invoice identifier")
}

func TestTableTextCapsColumns(t *testing.T) {
	table := model.TableNode{Name: "WIDE", Description: "wide table"}
	for i := 0; i < 50; i++ {
		table.Columns = append(table.Columns, model.Column{
			Name:     "COL_" + string(rune('A'+i%26)) + string(rune('A'+i/26)),
			Datatype: "VARCHAR2",
		})
	}

	text := TableText(table)
	line := ""
	for _, l := range strings.Split(text, "\n") {
		if strings.HasPrefix(l, "Important Columns: ") {
			line = l
		}
	}
	assert.NotEmpty(t, line)
	assert.Equal(t, maxEmbeddedColumns, strings.Count(line, "(VARCHAR2)"))
}

func TestColumnTextReflectsTypeAndKeys(t *testing.T) {
	col := model.ColumnNode{
		Name:             "VENDOR_ID",
		Datatype:         "NUMBER",
		TableID:          "ap_invoices_all",
		Description:      "Supplier identifier",
		IsForeignKey:     true,
		ReferencesColumn: "po_vendors.vendor_id",
	}

	text := ColumnText(col)
	assert.Contains(t, text, "Data Type: NUMBER")
	assert.Contains(t, text, "foreign key referencing: po_vendors.vendor_id")

	// A datatype change alone must change the text, or a type migration
	// would keep serving the stale embedding.
	col.Datatype = "VARCHAR2"
	assert.NotEqual(t, text, ColumnText(col))
}

func TestViewTextListsSourceTables(t *testing.T) {
	view := model.ViewNode{
		Name:        "AP_INVOICE_SUMMARY_V",
		Module:      "payables",
		Description: "Invoice totals per supplier",
		TablesUsed:  []string{"ap_invoices_all", "po_vendors"},
	}

	text := ViewText(view)
	assert.Contains(t, text, "View: AP_INVOICE_SUMMARY_V")
	assert.Contains(t, text, "Derived From: ap_invoices_all, po_vendors")
}
