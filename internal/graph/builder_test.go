// internal/graph/builder_test.go

package graph

import (
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tablegraph/internal/model"
)

// fakeStore mimics the merge semantics of the real graph store in memory.
type fakeStore struct {
	tables  map[string]*fakeNode
	columns map[string]*fakeNode
	views   map[string]*fakeNode

	belongs  map[string]bool
	tableFKs map[string]bool
	colRefs  map[string]bool
	derived  map[string]bool
}

type fakeNode struct {
	name          string
	description   string
	embeddingText string
	vector        []float32
	datatype      string
	tableID       string
	stub          bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tables:   make(map[string]*fakeNode),
		columns:  make(map[string]*fakeNode),
		views:    make(map[string]*fakeNode),
		belongs:  make(map[string]bool),
		tableFKs: make(map[string]bool),
		colRefs:  make(map[string]bool),
		derived:  make(map[string]bool),
	}
}

func (f *fakeStore) UpsertTable(_ context.Context, t model.TableNode, force bool) (TableUpsert, error) {
	node, exists := f.tables[t.ID]
	out := TableUpsert{Created: !exists}
	if !exists {
		node = &fakeNode{}
		f.tables[t.ID] = node
	} else {
		out.WasStub = node.stub
		out.PriorEmbeddingText = node.embeddingText
	}

	node.name = t.Name
	node.stub = false
	if t.Description == "" && !force {
		// keep stored description
	} else {
		node.description = t.Description
	}
	out.Description = node.description
	return out, nil
}

func (f *fakeStore) UpsertColumn(_ context.Context, c model.ColumnNode) (ColumnUpsert, error) {
	if _, ok := f.tables[c.TableID]; !ok {
		return ColumnUpsert{}, fmt.Errorf("table %s missing", c.TableID)
	}

	node, exists := f.columns[c.ID]
	out := ColumnUpsert{Created: !exists}
	if !exists {
		node = &fakeNode{}
		f.columns[c.ID] = node
	} else {
		out.PriorEmbeddingText = node.embeddingText
	}

	node.name = c.Name
	node.datatype = c.Datatype
	node.tableID = c.TableID
	if c.Description != "" {
		node.description = c.Description
	}
	out.Description = node.description

	rel := c.ID + "->" + c.TableID
	if !f.belongs[rel] {
		f.belongs[rel] = true
		out.RelationshipCreated = true
	}
	return out, nil
}

func (f *fakeStore) EnsureTableStub(_ context.Context, id, name string) (bool, error) {
	if _, ok := f.tables[id]; ok {
		return false, nil
	}
	f.tables[id] = &fakeNode{name: name, stub: true}
	return true, nil
}

func (f *fakeStore) UpsertForeignKey(_ context.Context, sourceID, targetID, column string) (bool, error) {
	if _, ok := f.tables[sourceID]; !ok {
		return false, nil
	}
	if _, ok := f.tables[targetID]; !ok {
		return false, nil
	}
	key := sourceID + "->" + targetID + ":" + column
	if f.tableFKs[key] {
		return false, nil
	}
	f.tableFKs[key] = true
	return true, nil
}

func (f *fakeStore) UpsertColumnReference(_ context.Context, sourceID, targetID string) (bool, error) {
	if _, ok := f.columns[sourceID]; !ok {
		return false, nil
	}
	if _, ok := f.columns[targetID]; !ok {
		return false, nil
	}
	key := sourceID + "->" + targetID
	if f.colRefs[key] {
		return false, nil
	}
	f.colRefs[key] = true
	return true, nil
}

func (f *fakeStore) UpsertView(_ context.Context, v model.ViewNode) (ViewUpsert, error) {
	node, exists := f.views[v.ID]
	out := ViewUpsert{Created: !exists}
	if !exists {
		node = &fakeNode{}
		f.views[v.ID] = node
	} else {
		out.PriorEmbeddingText = node.embeddingText
	}
	node.name = v.Name
	node.description = v.Description
	return out, nil
}

func (f *fakeStore) UpsertDerivedFrom(_ context.Context, viewID, tableID string) (bool, error) {
	if _, ok := f.tables[tableID]; !ok {
		return false, nil
	}
	key := viewID + "->" + tableID
	if f.derived[key] {
		return false, nil
	}
	f.derived[key] = true
	return true, nil
}

func (f *fakeStore) SetEmbedding(_ context.Context, t model.NodeType, id, text string, vec []float32) error {
	var node *fakeNode
	switch t {
	case model.NodeTable:
		node = f.tables[id]
	case model.NodeColumn:
		node = f.columns[id]
	case model.NodeView:
		node = f.views[id]
	}
	if node == nil {
		return fmt.Errorf("node %s: %w", id, model.ErrNotFound)
	}
	node.embeddingText = text
	node.vector = vec
	return nil
}

func (f *fakeStore) SetColumnDescription(_ context.Context, id, description, text string, vec []float32) error {
	node, ok := f.columns[id]
	if !ok {
		return fmt.Errorf("column %s: %w", id, model.ErrNotFound)
	}
	node.description = description
	node.embeddingText = text
	node.vector = vec
	return nil
}

func (f *fakeStore) ColumnDetails(_ context.Context, columnID string) (*model.ColumnDetails, error) {
	node, ok := f.columns[columnID]
	if !ok {
		return nil, fmt.Errorf("column %s: %w", columnID, model.ErrNotFound)
	}
	return &model.ColumnDetails{ColumnNode: model.ColumnNode{
		ID:          columnID,
		Name:        node.name,
		Datatype:    node.datatype,
		TableID:     node.tableID,
		Description: node.description,
	}}, nil
}

// fakeEmbedder returns a deterministic vector per text and can be forced to
// fail.
type fakeEmbedder struct {
	calls int
	fail  error
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	f.calls++
	var sum float32
	for _, r := range text {
		sum += float32(r)
	}
	return []float32{sum, float32(len(text)), 1}, nil
}

func (f *fakeEmbedder) Dimension() int { return 3 }

func testLog() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func invoiceRecord() model.SchemaRecord {
	return model.SchemaRecord{
		Name:        "AP_INVOICES_ALL",
		Module:      "payables",
		Submodule:   "Invoices",
		Description: "Invoice header information",
		PrimaryKey:  &model.PrimaryKey{Name: "AP_INVOICES_PK", Columns: []string{"INVOICE_ID"}},
		Columns: []model.Column{
			{Name: "INVOICE_ID", Datatype: "NUMBER", NotNull: true, Comments: "Invoice identifier"},
			{Name: "VENDOR_ID", Datatype: "NUMBER", Comments: "Supplier identifier"},
		},
		ForeignKeys: []model.ForeignKey{
			{Table: "ap_invoices_all", ForeignTable: "PO_VENDORS", Column: "VENDOR_ID"},
		},
	}
}

func TestIngestBuildsGraph(t *testing.T) {
	store := newFakeStore()
	builder := NewBuilder(store, &fakeEmbedder{}, nil, testLog())

	report, err := builder.Ingest(context.Background(), []model.SchemaRecord{invoiceRecord()}, false)
	require.NoError(t, err)

	assert.Equal(t, 1, report.TablesCreated)
	assert.Equal(t, 2, report.ColumnsCreated)
	assert.Equal(t, 1, report.StubsCreated, "dangling foreign key target must be stubbed")
	assert.Equal(t, 1, report.DanglingReferences)
	// Two BELONGS_TO plus one table-level FOREIGN_KEY; the column-level
	// reference is skipped because the target column is not loaded.
	assert.Equal(t, 3, report.RelationshipsCreated)
	assert.Equal(t, 3, report.EmbeddingsComputed)

	stub := store.tables["po_vendors"]
	require.NotNil(t, stub)
	assert.True(t, stub.stub)

	col := store.columns["ap_invoices_all_vendor_id"]
	require.NotNil(t, col)
	assert.NotEmpty(t, col.embeddingText)
	assert.NotNil(t, col.vector)
}

func TestIngestIsIdempotent(t *testing.T) {
	store := newFakeStore()
	embedder := &fakeEmbedder{}
	builder := NewBuilder(store, embedder, nil, testLog())
	ctx := context.Background()

	_, err := builder.Ingest(ctx, []model.SchemaRecord{invoiceRecord()}, false)
	require.NoError(t, err)

	report, err := builder.Ingest(ctx, []model.SchemaRecord{invoiceRecord()}, false)
	require.NoError(t, err)

	assert.Equal(t, 0, report.TablesCreated)
	assert.Equal(t, 1, report.TablesUpdated)
	assert.Equal(t, 0, report.ColumnsCreated)
	assert.Equal(t, 2, report.ColumnsUpdated)
	assert.Equal(t, 0, report.RelationshipsCreated)
	assert.Equal(t, 0, report.StubsCreated)
	assert.Equal(t, 0, report.EmbeddingsComputed, "unchanged text must not re-embed")
}

func TestIngestReembedsOnDatatypeChange(t *testing.T) {
	store := newFakeStore()
	builder := NewBuilder(store, &fakeEmbedder{}, nil, testLog())
	ctx := context.Background()

	_, err := builder.Ingest(ctx, []model.SchemaRecord{invoiceRecord()}, false)
	require.NoError(t, err)

	rec := invoiceRecord()
	rec.Columns[1].Datatype = "VARCHAR2"
	report, err := builder.Ingest(ctx, []model.SchemaRecord{rec}, false)
	require.NoError(t, err)
	// The column's text changes, and so does the table's: its column
	// summaries carry the datatype.
	assert.Equal(t, 2, report.EmbeddingsComputed, "the changed column and its table re-embed")
}

func TestIngestResolvesForwardReferences(t *testing.T) {
	orders := model.SchemaRecord{
		Name: "ORDERS",
		Columns: []model.Column{
			{Name: "ORDER_ID", Datatype: "NUMBER", NotNull: true},
			{Name: "CUSTOMER_ID", Datatype: "NUMBER"},
		},
		ForeignKeys: []model.ForeignKey{
			{Table: "orders", ForeignTable: "CUSTOMERS", Column: "CUSTOMER_ID"},
		},
	}
	customers := model.SchemaRecord{
		Name: "CUSTOMERS",
		Columns: []model.Column{
			{Name: "CUSTOMER_ID", Datatype: "NUMBER", NotNull: true},
		},
	}

	store := newFakeStore()
	builder := NewBuilder(store, &fakeEmbedder{}, nil, testLog())

	// CUSTOMERS comes after the record that references it.
	report, err := builder.Ingest(context.Background(), []model.SchemaRecord{orders, customers}, false)
	require.NoError(t, err)

	assert.True(t, store.tableFKs["orders->customers:CUSTOMER_ID"],
		"a foreign key to a later record in the batch must still land")
	assert.Equal(t, 2, report.TablesCreated)
	assert.Equal(t, 0, report.DanglingReferences, "in-batch targets are not dangling")
	assert.Equal(t, 0, report.StubsCreated, "a transient in-batch stub is not reported")
	assert.False(t, store.tables["customers"].stub, "the later record replaces its stub")
}

func TestIngestSkipsMalformedRecord(t *testing.T) {
	store := newFakeStore()
	builder := NewBuilder(store, &fakeEmbedder{}, nil, testLog())

	records := []model.SchemaRecord{{Name: "   "}, invoiceRecord()}
	report, err := builder.Ingest(context.Background(), records, false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.TablesCreated, "valid record still loads")
	assert.NotEmpty(t, report.Warnings)
}

func TestIngestPreservesDescriptionUnlessForced(t *testing.T) {
	store := newFakeStore()
	builder := NewBuilder(store, &fakeEmbedder{}, nil, testLog())
	ctx := context.Background()

	_, err := builder.Ingest(ctx, []model.SchemaRecord{invoiceRecord()}, false)
	require.NoError(t, err)

	bare := invoiceRecord()
	bare.Description = ""
	report, err := builder.Ingest(ctx, []model.SchemaRecord{bare}, false)
	require.NoError(t, err)
	assert.Equal(t, "Invoice header information", store.tables["ap_invoices_all"].description)
	assert.Equal(t, 0, report.EmbeddingsComputed, "preserved description means unchanged text")

	report, err = builder.Ingest(ctx, []model.SchemaRecord{bare}, true)
	require.NoError(t, err)
	assert.Equal(t, "", store.tables["ap_invoices_all"].description)
	assert.Equal(t, 1, report.EmbeddingsComputed, "forced overwrite changes the table text")
}

func TestIngestDeadProviderAbortsBatch(t *testing.T) {
	store := newFakeStore()
	builder := NewBuilder(store, &fakeEmbedder{fail: model.ErrProviderUnavailable}, nil, testLog())

	report, err := builder.Ingest(context.Background(), []model.SchemaRecord{invoiceRecord()}, false)
	assert.ErrorIs(t, err, model.ErrProviderUnavailable)
	assert.NotEmpty(t, report.Warnings)
}

func TestIngestProviderRejectionDegradesRecord(t *testing.T) {
	store := newFakeStore()
	builder := NewBuilder(store, &fakeEmbedder{fail: model.ErrProviderError}, nil, testLog())

	report, err := builder.Ingest(context.Background(), []model.SchemaRecord{invoiceRecord()}, false)
	require.NoError(t, err, "a per-text rejection must not abort the batch")
	assert.Equal(t, 1, report.TablesCreated)
	assert.Equal(t, 2, report.ColumnsCreated)
	assert.Equal(t, 0, report.EmbeddingsComputed)
	assert.NotEmpty(t, report.Warnings)
}

func TestIngestDetectsForeignKeyCycles(t *testing.T) {
	a := model.SchemaRecord{
		Name:        "A_TAB",
		ForeignKeys: []model.ForeignKey{{Table: "a_tab", ForeignTable: "B_TAB", Column: "B_ID"}},
	}
	b := model.SchemaRecord{
		Name:        "B_TAB",
		ForeignKeys: []model.ForeignKey{{Table: "b_tab", ForeignTable: "A_TAB", Column: "A_ID"}},
	}
	self := model.SchemaRecord{
		Name:        "EMP",
		ForeignKeys: []model.ForeignKey{{Table: "emp", ForeignTable: "EMP", Column: "MANAGER_ID"}},
	}

	store := newFakeStore()
	builder := NewBuilder(store, &fakeEmbedder{}, nil, testLog())
	report, err := builder.Ingest(context.Background(), []model.SchemaRecord{a, b, self}, false)
	require.NoError(t, err)

	require.Len(t, report.ForeignKeyCycles, 2)
	var pair, loop []string
	for _, cycle := range report.ForeignKeyCycles {
		if len(cycle) == 1 {
			loop = cycle
		} else {
			pair = cycle
		}
	}
	assert.ElementsMatch(t, []string{"a_tab", "b_tab"}, pair)
	assert.Equal(t, []string{"emp"}, loop)
}

func TestIngestViews(t *testing.T) {
	store := newFakeStore()
	builder := NewBuilder(store, &fakeEmbedder{}, nil, testLog())
	ctx := context.Background()

	_, err := builder.Ingest(ctx, []model.SchemaRecord{invoiceRecord()}, false)
	require.NoError(t, err)

	views := []model.ViewNode{{
		ID:          "ap_invoice_summary_v",
		Name:        "AP_INVOICE_SUMMARY_V",
		Description: "Invoice totals per supplier",
		SQLQuery:    "SELECT 1 FROM dual",
		TablesUsed:  []string{"ap_invoices_all", "gl_ledgers"},
	}}

	report, err := builder.IngestViews(ctx, views)
	require.NoError(t, err)
	assert.Equal(t, 1, report.ViewsCreated)
	assert.Equal(t, 1, report.StubsCreated, "unknown source table must be stubbed")
	assert.Equal(t, 2, report.RelationshipsCreated)
	assert.Equal(t, 1, report.EmbeddingsComputed)
	assert.True(t, store.derived["ap_invoice_summary_v->ap_invoices_all"])

	// Second load: nothing changed.
	report, err = builder.IngestViews(ctx, views)
	require.NoError(t, err)
	assert.Equal(t, 1, report.ViewsUpdated)
	assert.Equal(t, 0, report.EmbeddingsComputed)
}

func TestUpdateColumnDescription(t *testing.T) {
	store := newFakeStore()
	builder := NewBuilder(store, &fakeEmbedder{}, nil, testLog())
	ctx := context.Background()

	_, err := builder.Ingest(ctx, []model.SchemaRecord{invoiceRecord()}, false)
	require.NoError(t, err)

	id := "ap_invoices_all_vendor_id"
	before := store.columns[id].embeddingText

	updated, err := builder.UpdateColumnDescription(ctx, id, "Links to the supplier master")
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, id, updated.ID)
	assert.Equal(t, "Links to the supplier master", updated.Description,
		"the caller receives the updated column")
	assert.Equal(t, "Links to the supplier master", store.columns[id].description)
	assert.NotEqual(t, before, store.columns[id].embeddingText, "embedding text must follow the description")
}

func TestUpdateColumnDescriptionUnknownColumn(t *testing.T) {
	builder := NewBuilder(newFakeStore(), &fakeEmbedder{}, nil, testLog())
	_, err := builder.UpdateColumnDescription(context.Background(), "nope", "text")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestUpdateColumnDescriptionProviderFailureWritesNothing(t *testing.T) {
	store := newFakeStore()
	embedder := &fakeEmbedder{}
	builder := NewBuilder(store, embedder, nil, testLog())
	ctx := context.Background()

	_, err := builder.Ingest(ctx, []model.SchemaRecord{invoiceRecord()}, false)
	require.NoError(t, err)

	id := "ap_invoices_all_vendor_id"
	before := *store.columns[id]

	embedder.fail = model.ErrProviderUnavailable
	_, err = builder.UpdateColumnDescription(ctx, id, "new text")
	assert.ErrorIs(t, err, model.ErrProviderUnavailable)
	assert.Equal(t, before, *store.columns[id], "failed update must leave the column untouched")
}
