// internal/model/model.go

package model

import "strings"

// NodeType identifies the kind of graph node an operation targets.
type NodeType string

const (
	NodeTable  NodeType = "table"
	NodeColumn NodeType = "column"
	NodeView   NodeType = "view"
	NodeBoth   NodeType = "both"
)

// Valid reports whether t is one of the accepted search node types.
func (t NodeType) Valid() bool {
	switch t {
	case NodeTable, NodeColumn, NodeView, NodeBoth:
		return true
	}
	return false
}

// Column is a single column definition inside a schema record.
type Column struct {
	Name             string
	Datatype         string
	Length           string
	Precision        string
	NotNull          bool
	Comments         string
	FlexfieldMapping string
}

// PrimaryKey describes a table's primary key constraint.
type PrimaryKey struct {
	Name    string
	Columns []string
}

// Index describes a table index.
type Index struct {
	Name       string
	Columns    []string
	Tablespace string
	Uniqueness string
}

// ForeignKey is a declared foreign key from one table to another.
// ForeignTable may name a table that has not been loaded yet.
type ForeignKey struct {
	Table        string
	ForeignTable string
	Column       string
}

// TableDetails holds schema ownership metadata for a table.
type TableDetails struct {
	Schema      string
	ObjectOwner string
	ObjectType  string
	Tablespace  string
}

// SchemaRecord is the normalized in-memory representation of one table as
// produced by the schema parser or the live Oracle introspector.
type SchemaRecord struct {
	Name        string
	Module      string
	Submodule   string
	Description string
	Details     TableDetails
	PrimaryKey  *PrimaryKey
	Columns     []Column
	Indexes     []Index
	ForeignKeys []ForeignKey
}

// TableID derives the stable node identity for this record's table.
// Same table name always yields the same id, so re-loads are idempotent.
func (r SchemaRecord) TableID() string {
	return strings.ToLower(strings.TrimSpace(r.Name))
}

// ColumnID derives the stable node identity for a column of a table.
func ColumnID(tableID, columnName string) string {
	return tableID + "_" + strings.ToLower(strings.TrimSpace(columnName))
}

// TableNode is a :Table node in the knowledge graph.
type TableNode struct {
	ID          string
	Name        string
	Module      string
	Submodule   string
	Description string
	Details     TableDetails
	PrimaryKey  *PrimaryKey
	Columns     []Column
	Indexes     []Index
	Stub        bool
}

// ColumnNode is a :Column node in the knowledge graph. It belongs to exactly
// one table, identified by TableID.
type ColumnNode struct {
	ID               string
	Name             string
	Datatype         string
	TableID          string
	Description      string
	Length           string
	Precision        string
	IsNullable       bool
	IsPrimaryKey     bool
	IsForeignKey     bool
	ReferencesColumn string
}

// ViewNode is a :View node in the knowledge graph, derived from one or more
// tables.
type ViewNode struct {
	ID          string
	Name        string
	Module      string
	Submodule   string
	Description string
	SQLQuery    string
	TablesUsed  []string
}

// ScoredResult is one ranked hit returned by the retrieval engine.
// Similarity is normalized to [0,1].
type ScoredResult struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Type        NodeType `json:"type"`
	Similarity  float64  `json:"similarity"`
	Description string   `json:"description,omitempty"`

	// Table and view fields.
	Module    string `json:"module,omitempty"`
	Submodule string `json:"submodule,omitempty"`
	SQLQuery  string `json:"sql_query,omitempty"`

	// Column fields.
	Datatype string `json:"datatype,omitempty"`
	TableID  string `json:"table_id,omitempty"`

	// Graph-context enrichment. Annotation only, never affects ranking.
	TableTitle      string   `json:"table_title,omitempty"`
	RelatedTableIDs []string `json:"related_table_ids,omitempty"`
}

// Candidate pairs a result's fields with its stored embedding vector, for the
// manual similarity fallback and for mirroring into a secondary vector store.
type Candidate struct {
	Result ScoredResult
	Vector []float32
}

// ColumnDetails is the full read model for a single column, including the
// resolved foreign key target when present.
type ColumnDetails struct {
	ColumnNode
	ReferencedColumnName string
	ReferencedTableID    string
}

// RelatedTable is a one-hop foreign key neighbour of a table.
type RelatedTable struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Module      string `json:"module,omitempty"`
	Submodule   string `json:"submodule,omitempty"`
	Description string `json:"description,omitempty"`
}

// IngestReport summarizes one ingest batch.
type IngestReport struct {
	TablesCreated        int        `json:"tables_created"`
	TablesUpdated        int        `json:"tables_updated"`
	ColumnsCreated       int        `json:"columns_created"`
	ColumnsUpdated       int        `json:"columns_updated"`
	ViewsCreated         int        `json:"views_created"`
	ViewsUpdated         int        `json:"views_updated"`
	RelationshipsCreated int        `json:"relationships_created"`
	EmbeddingsComputed   int        `json:"embeddings_computed"`
	StubsCreated         int        `json:"stubs_created"`
	DanglingReferences   int        `json:"dangling_references"`
	Warnings             []string   `json:"warnings,omitempty"`
	ForeignKeyCycles     [][]string `json:"foreign_key_cycles,omitempty"`
}

// Warn records a non-fatal problem with one record or node.
func (r *IngestReport) Warn(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// GraphInfo holds summary statistics about the knowledge graph.
type GraphInfo struct {
	Tables         int            `json:"tables"`
	Columns        int            `json:"columns"`
	Views          int            `json:"views"`
	PrimaryKeys    int            `json:"primary_keys"`
	ForeignKeys    int            `json:"foreign_keys"`
	Relationships  map[string]int `json:"relationships"`
	TablesByModule map[string]int `json:"tables_by_module"`
}
