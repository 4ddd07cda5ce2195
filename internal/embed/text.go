// internal/embed/text.go

package embed

import (
	"fmt"
	"strings"

	"tablegraph/internal/model"
)

// maxEmbeddedColumns caps how many columns contribute to a table's embedding
// text. Wide tables would otherwise drown the title and description.
const maxEmbeddedColumns = 10

// TableText builds the text a table node's embedding is computed from.
// The layout is stable: re-embedding happens only when this text changes.
func TableText(t model.TableNode) string {
	parts := []string{
		"Table: " + t.Name,
		"Module: " + t.Module,
		"Submodule: " + t.Submodule,
		"Description: " + t.Description,
	}

	if t.PrimaryKey != nil && len(t.PrimaryKey.Columns) > 0 {
		parts = append(parts, "Primary Key: "+strings.Join(t.PrimaryKey.Columns, ", "))
	}

	if len(t.Columns) > 0 {
		cols := t.Columns
		if len(cols) > maxEmbeddedColumns {
			cols = cols[:maxEmbeddedColumns]
		}
		summaries := make([]string, 0, len(cols))
		for _, col := range cols {
			if col.Name == "" {
				continue
			}
			s := fmt.Sprintf("%s (%s)", col.Name, col.Datatype)
			if col.Comments != "" {
				s += ": " + col.Comments
			}
			summaries = append(summaries, s)
		}
		if len(summaries) > 0 {
			parts = append(parts, "Important Columns: "+strings.Join(summaries, "; "))
		}
	}

	return strings.Join(parts, "\n")
}

// ColumnText builds the text a column node's embedding is computed from.
// The datatype precedes the description so that type changes alone force a
// re-embed.
func ColumnText(c model.ColumnNode) string {
	parts := []string{
		"Column: " + c.Name,
		"Data Type: " + c.Datatype,
		"Table: " + c.TableID,
	}

	if c.Description != "" {
		parts = append(parts, "Description: "+c.Description)
	}
	if c.IsPrimaryKey {
		parts = append(parts, "This is a primary key column")
	}
	if c.IsForeignKey && c.ReferencesColumn != "" {
		parts = append(parts, "This is a foreign key referencing: "+c.ReferencesColumn)
	}

	return strings.Join(parts, "\n")
}

// ViewText builds the text a view node's embedding is computed from.
func ViewText(v model.ViewNode) string {
	parts := []string{
		"View: " + v.Name,
		"Module: " + v.Module,
		"Submodule: " + v.Submodule,
		"Description: " + v.Description,
	}
	if len(v.TablesUsed) > 0 {
		parts = append(parts, "Derived From: "+strings.Join(v.TablesUsed, ", "))
	}
	return strings.Join(parts, "\n")
}
