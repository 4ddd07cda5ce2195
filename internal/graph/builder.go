// internal/graph/builder.go

package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	depgraph "github.com/yourbasic/graph"

	"tablegraph/internal/embed"
	"tablegraph/internal/model"
)

// Embedder computes fixed-length vectors for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// Writer is the graph mutation surface the builder drives. *Store satisfies
// it; tests substitute a fake.
type Writer interface {
	UpsertTable(ctx context.Context, t model.TableNode, force bool) (TableUpsert, error)
	UpsertColumn(ctx context.Context, c model.ColumnNode) (ColumnUpsert, error)
	EnsureTableStub(ctx context.Context, id, name string) (bool, error)
	UpsertForeignKey(ctx context.Context, sourceID, targetID, column string) (bool, error)
	UpsertColumnReference(ctx context.Context, sourceID, targetID string) (bool, error)
	UpsertView(ctx context.Context, v model.ViewNode) (ViewUpsert, error)
	UpsertDerivedFrom(ctx context.Context, viewID, tableID string) (bool, error)
	SetEmbedding(ctx context.Context, t model.NodeType, id, text string, vec []float32) error
	SetColumnDescription(ctx context.Context, id, description, text string, vec []float32) error
	ColumnDetails(ctx context.Context, columnID string) (*model.ColumnDetails, error)
}

// Mirror receives a copy of every embedded node, for a secondary vector store.
type Mirror interface {
	Upsert(ctx context.Context, c model.Candidate) error
}

// Builder assembles the knowledge graph from schema records. Loads are
// idempotent: node identity is derived from names, writes are merges, and a
// node is re-embedded only when its embedding text actually changed.
type Builder struct {
	store  Writer
	embed  Embedder
	mirror Mirror
	log    *logrus.Logger
}

// NewBuilder wires a builder. mirror may be nil.
func NewBuilder(store Writer, embedder Embedder, mirror Mirror, log *logrus.Logger) *Builder {
	return &Builder{store: store, embed: embedder, mirror: mirror, log: log}
}

// Ingest loads a batch of schema records into the graph: table and column
// nodes, BELONGS_TO and FOREIGN_KEY relationships, placeholder stubs for
// foreign key targets that are not in the batch, and embeddings for every
// node whose text changed.
//
// A malformed record or a failed embedding degrades that record and is
// reported as a warning; a graph write failure aborts the batch. When force
// is set, empty incoming descriptions overwrite stored ones.
func (b *Builder) Ingest(ctx context.Context, records []model.SchemaRecord, force bool) (*model.IngestReport, error) {
	report := &model.IngestReport{}

	inBatch := make(map[string]bool, len(records))
	for _, rec := range records {
		if rec.TableID() != "" {
			inBatch[rec.TableID()] = true
		}
	}

	for _, rec := range records {
		tableID := rec.TableID()
		if tableID == "" {
			report.Warn("record without a table name, skipped")
			continue
		}

		if err := b.ingestTable(ctx, rec, force, report); err != nil {
			return report, err
		}
		if err := b.ingestColumns(ctx, rec, report); err != nil {
			return report, err
		}
		if err := b.ingestForeignKeys(ctx, rec, inBatch, report); err != nil {
			return report, err
		}
	}

	report.ForeignKeyCycles = detectCycles(records)

	b.log.Infof("ingested %d records: %d tables created, %d updated, %d embeddings computed",
		len(records), report.TablesCreated, report.TablesUpdated, report.EmbeddingsComputed)
	return report, nil
}

func (b *Builder) ingestTable(ctx context.Context, rec model.SchemaRecord, force bool, report *model.IngestReport) error {
	node := model.TableNode{
		ID:          rec.TableID(),
		Name:        rec.Name,
		Module:      rec.Module,
		Submodule:   rec.Submodule,
		Description: rec.Description,
		Details:     rec.Details,
		PrimaryKey:  rec.PrimaryKey,
		Columns:     rec.Columns,
		Indexes:     rec.Indexes,
	}

	outcome, err := b.store.UpsertTable(ctx, node, force)
	if err != nil {
		return err
	}
	if outcome.Created || outcome.WasStub {
		report.TablesCreated++
	} else {
		report.TablesUpdated++
	}

	// Embedding text is built from the effective stored description, which
	// may be the prior one when the incoming description was empty.
	node.Description = outcome.Description
	text := embed.TableText(node)
	if text == outcome.PriorEmbeddingText {
		return nil
	}

	vec, err := b.embed.Embed(ctx, text)
	if err != nil {
		b.warnProvider(report, "table "+node.ID, err)
		return providerFatal(err)
	}
	if err := b.store.SetEmbedding(ctx, model.NodeTable, node.ID, text, vec); err != nil {
		return err
	}
	report.EmbeddingsComputed++

	b.mirrorNode(ctx, model.ScoredResult{
		ID:          node.ID,
		Name:        node.Name,
		Type:        model.NodeTable,
		Description: node.Description,
		Module:      node.Module,
		Submodule:   node.Submodule,
	}, vec)
	return nil
}

func (b *Builder) ingestColumns(ctx context.Context, rec model.SchemaRecord, report *model.IngestReport) error {
	tableID := rec.TableID()

	pkColumns := make(map[string]bool)
	if rec.PrimaryKey != nil {
		for _, name := range rec.PrimaryKey.Columns {
			pkColumns[strings.ToLower(strings.TrimSpace(name))] = true
		}
	}
	fkByColumn := make(map[string]model.ForeignKey)
	for _, fk := range rec.ForeignKeys {
		fkByColumn[strings.ToLower(strings.TrimSpace(fk.Column))] = fk
	}

	for _, col := range rec.Columns {
		if col.Name == "" {
			report.Warn(fmt.Sprintf("table %s: column without a name, skipped", tableID))
			continue
		}
		key := strings.ToLower(strings.TrimSpace(col.Name))

		node := model.ColumnNode{
			ID:           model.ColumnID(tableID, col.Name),
			Name:         col.Name,
			Datatype:     col.Datatype,
			TableID:      tableID,
			Description:  col.Comments,
			Length:       col.Length,
			Precision:    col.Precision,
			IsNullable:   !col.NotNull,
			IsPrimaryKey: pkColumns[key],
		}
		if fk, ok := fkByColumn[key]; ok {
			node.IsForeignKey = true
			node.ReferencesColumn = fk.ForeignTable + "." + key
		}

		outcome, err := b.store.UpsertColumn(ctx, node)
		if err != nil {
			return err
		}
		if outcome.Created {
			report.ColumnsCreated++
		} else {
			report.ColumnsUpdated++
		}
		if outcome.RelationshipCreated {
			report.RelationshipsCreated++
		}

		node.Description = outcome.Description
		text := embed.ColumnText(node)
		if text == outcome.PriorEmbeddingText {
			continue
		}

		vec, err := b.embed.Embed(ctx, text)
		if err != nil {
			b.warnProvider(report, "column "+node.ID, err)
			if fatal := providerFatal(err); fatal != nil {
				return fatal
			}
			continue
		}
		if err := b.store.SetEmbedding(ctx, model.NodeColumn, node.ID, text, vec); err != nil {
			return err
		}
		report.EmbeddingsComputed++

		b.mirrorNode(ctx, model.ScoredResult{
			ID:          node.ID,
			Name:        node.Name,
			Type:        model.NodeColumn,
			Description: node.Description,
			Datatype:    node.Datatype,
			TableID:     node.TableID,
		}, vec)
	}
	return nil
}

func (b *Builder) ingestForeignKeys(ctx context.Context, rec model.SchemaRecord, inBatch map[string]bool, report *model.IngestReport) error {
	sourceID := rec.TableID()

	for _, fk := range rec.ForeignKeys {
		targetID := strings.ToLower(strings.TrimSpace(fk.ForeignTable))
		if targetID == "" {
			continue
		}

		// The target may not have a node yet, either because it is outside
		// the batch entirely or because its record comes later in this one.
		// Always stub so the relationship lands regardless of load order;
		// only out-of-batch targets count as dangling.
		created, err := b.store.EnsureTableStub(ctx, targetID, fk.ForeignTable)
		if err != nil {
			return err
		}
		if !inBatch[targetID] {
			report.DanglingReferences++
			if created {
				report.StubsCreated++
			}
		}

		created, err = b.store.UpsertForeignKey(ctx, sourceID, targetID, fk.Column)
		if err != nil {
			return err
		}
		if created {
			report.RelationshipsCreated++
		}

		// Column-level reference: points at the same-named column on the
		// target table. Silently a no-op when that column is not loaded.
		colSource := model.ColumnID(sourceID, fk.Column)
		colTarget := model.ColumnID(targetID, fk.Column)
		created, err = b.store.UpsertColumnReference(ctx, colSource, colTarget)
		if err != nil {
			return err
		}
		if created {
			report.RelationshipsCreated++
		}
	}
	return nil
}

// IngestViews loads view definitions: view nodes, DERIVED_FROM relationships
// to their source tables (stubbing absent ones), and embeddings.
func (b *Builder) IngestViews(ctx context.Context, views []model.ViewNode) (*model.IngestReport, error) {
	report := &model.IngestReport{}

	for _, view := range views {
		if view.ID == "" {
			report.Warn("view without an id, skipped")
			continue
		}

		outcome, err := b.store.UpsertView(ctx, view)
		if err != nil {
			return report, err
		}
		if outcome.Created {
			report.ViewsCreated++
		} else {
			report.ViewsUpdated++
		}

		for _, tableID := range view.TablesUsed {
			created, err := b.store.EnsureTableStub(ctx, tableID, tableID)
			if err != nil {
				return report, err
			}
			if created {
				report.StubsCreated++
			}
			created, err = b.store.UpsertDerivedFrom(ctx, view.ID, tableID)
			if err != nil {
				return report, err
			}
			if created {
				report.RelationshipsCreated++
			}
		}

		text := embed.ViewText(view)
		if text == outcome.PriorEmbeddingText {
			continue
		}
		vec, err := b.embed.Embed(ctx, text)
		if err != nil {
			b.warnProvider(report, "view "+view.ID, err)
			if fatal := providerFatal(err); fatal != nil {
				return report, fatal
			}
			continue
		}
		if err := b.store.SetEmbedding(ctx, model.NodeView, view.ID, text, vec); err != nil {
			return report, err
		}
		report.EmbeddingsComputed++

		b.mirrorNode(ctx, model.ScoredResult{
			ID:          view.ID,
			Name:        view.Name,
			Type:        model.NodeView,
			Description: view.Description,
			Module:      view.Module,
			Submodule:   view.Submodule,
			SQLQuery:    view.SQLQuery,
		}, vec)
	}

	return report, nil
}

// UpdateColumnDescription sets a new description on a column, recomputes its
// embedding, and returns the updated column. The embedding is computed first,
// so a provider failure leaves the stored description and vector untouched.
func (b *Builder) UpdateColumnDescription(ctx context.Context, columnID, description string) (*model.ColumnDetails, error) {
	details, err := b.store.ColumnDetails(ctx, columnID)
	if err != nil {
		return nil, err
	}

	node := details.ColumnNode
	node.Description = description
	text := embed.ColumnText(node)

	vec, err := b.embed.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := b.store.SetColumnDescription(ctx, columnID, description, text, vec); err != nil {
		return nil, err
	}
	details.Description = description

	b.mirrorNode(ctx, model.ScoredResult{
		ID:          node.ID,
		Name:        node.Name,
		Type:        model.NodeColumn,
		Description: description,
		Datatype:    node.Datatype,
		TableID:     node.TableID,
	}, vec)
	return details, nil
}

func (b *Builder) mirrorNode(ctx context.Context, result model.ScoredResult, vec []float32) {
	if b.mirror == nil {
		return
	}
	if err := b.mirror.Upsert(ctx, model.Candidate{Result: result, Vector: vec}); err != nil {
		b.log.Warnf("mirror upsert for %s failed: %v", result.ID, err)
	}
}

func (b *Builder) warnProvider(report *model.IngestReport, what string, err error) {
	report.Warn(fmt.Sprintf("embedding for %s failed: %v", what, err))
	b.log.Warnf("embedding for %s failed: %v", what, err)
}

// providerFatal distinguishes a dead provider, which aborts the batch, from a
// per-text rejection, which degrades just that node.
func providerFatal(err error) error {
	if errors.Is(err, model.ErrProviderUnavailable) {
		return err
	}
	return nil
}

// detectCycles finds strongly connected foreign key groups within the batch.
// Cycles are legal in Oracle schemas; they are surfaced so operators know
// which table groups cannot be loaded in pure dependency order.
func detectCycles(records []model.SchemaRecord) [][]string {
	index := make(map[string]int)
	var ids []string
	for _, rec := range records {
		id := rec.TableID()
		if id == "" {
			continue
		}
		if _, ok := index[id]; !ok {
			index[id] = len(ids)
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	g := depgraph.New(len(ids))
	selfLoops := make(map[string]bool)
	for _, rec := range records {
		from, ok := index[rec.TableID()]
		if !ok {
			continue
		}
		for _, fk := range rec.ForeignKeys {
			target := strings.ToLower(strings.TrimSpace(fk.ForeignTable))
			to, ok := index[target]
			if !ok {
				continue
			}
			if to == from {
				selfLoops[ids[from]] = true
				continue
			}
			g.Add(from, to)
		}
	}

	var cycles [][]string
	for _, component := range depgraph.StrongComponents(g) {
		if len(component) < 2 {
			continue
		}
		cycle := make([]string, len(component))
		for i, v := range component {
			cycle[i] = ids[v]
		}
		cycles = append(cycles, cycle)
	}
	for id := range selfLoops {
		cycles = append(cycles, []string{id})
	}
	return cycles
}
