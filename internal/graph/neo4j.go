// internal/graph/neo4j.go

package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/sirupsen/logrus"

	"tablegraph/internal/model"
)

// Config holds the Neo4j connection parameters, provided by the environment
// at startup.
type Config struct {
	URI      string
	Username string
	Password string
}

// nodeLabel maps a search node type to its label and vector index name.
var nodeLabels = map[model.NodeType]struct {
	label string
	index string
}{
	model.NodeTable:  {"Table", "table_embedding"},
	model.NodeColumn: {"Column", "column_embedding"},
	model.NodeView:   {"View", "view_embedding"},
}

// Store is the Neo4j-backed knowledge graph. It owns the driver for the
// process lifetime; the native vector index capability is probed once at
// connect and fixed afterwards.
type Store struct {
	driver      neo4j.DriverWithContext
	log         *logrus.Logger
	dimension   int
	vectorIndex map[model.NodeType]bool
}

// Connect creates the driver, verifies connectivity, initializes the graph
// schema (unique id constraints plus vector indexes where supported), and
// probes for native vector index capability.
func Connect(ctx context.Context, cfg Config, dimension int, log *logrus.Logger) (*Store, error) {
	auth := neo4j.BasicAuth(cfg.Username, cfg.Password, "")
	driver, err := neo4j.NewDriverWithContext(cfg.URI, auth, func(c *neo4j.Config) {
		c.MaxConnectionPoolSize = 50
		c.SocketConnectTimeout = 5 * time.Second
	})
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
	}

	s := &Store{
		driver:      driver,
		log:         log,
		dimension:   dimension,
		vectorIndex: make(map[model.NodeType]bool),
	}

	if err := s.initSchema(ctx); err != nil {
		driver.Close(ctx)
		return nil, err
	}

	return s, nil
}

// Close terminates the driver connection.
func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// HasVectorIndex reports whether a native vector index exists for t.
func (s *Store) HasVectorIndex(t model.NodeType) bool {
	return s.vectorIndex[t]
}

func (s *Store) initSchema(ctx context.Context) error {
	for _, info := range nodeLabels {
		constraint := fmt.Sprintf(
			"CREATE CONSTRAINT IF NOT EXISTS FOR (n:%s) REQUIRE n.id IS UNIQUE", info.label)
		if err := s.write(ctx, constraint, nil); err != nil {
			return fmt.Errorf("create constraint for %s: %w", info.label, err)
		}

		// Vector indexes need Neo4j 5.11+. When creation fails the manual
		// similarity fallback still works, so only warn.
		index := fmt.Sprintf(`
        CREATE VECTOR INDEX %s IF NOT EXISTS
        FOR (n:%s)
        ON n.embedding
        OPTIONS {indexConfig: {
            `+"`vector.dimensions`"+`: %d,
            `+"`vector.similarity_function`"+`: 'cosine'
        }}`, info.index, info.label, s.dimension)
		if err := s.write(ctx, index, nil); err != nil {
			s.log.Warnf("vector index %s not created, similarity search will fall back to scans: %v", info.index, err)
		}
	}

	// Capability probe, once per connection.
	records, err := s.read(ctx, `
        SHOW INDEXES
        YIELD name, type
        WHERE type = 'VECTOR'
        RETURN name`, nil)
	if err != nil {
		s.log.Warnf("could not list vector indexes: %v", err)
		return nil
	}
	available := make(map[string]bool, len(records))
	for _, rec := range records {
		available[str(rec, "name")] = true
	}
	for t, info := range nodeLabels {
		s.vectorIndex[t] = available[info.index]
	}

	return nil
}

// TableUpsert reports the outcome of a table upsert. Description is the
// effective stored description after the merge, which may be the prior one
// when the incoming description was empty and not forced.
type TableUpsert struct {
	Created            bool
	WasStub            bool
	PriorEmbeddingText string
	Description        string
}

// UpsertTable merges a table node by id. An empty incoming description never
// overwrites a stored one unless force is set.
func (s *Store) UpsertTable(ctx context.Context, t model.TableNode, force bool) (TableUpsert, error) {
	primaryKey, columns, indexes, err := serializeTableParts(t)
	if err != nil {
		return TableUpsert{}, err
	}

	cypher := `
    MERGE (t:Table {id: $id})
    WITH t, t.name IS NULL AS created, coalesce(t.stub, false) AS wasStub,
         coalesce(t.embedding_text, '') AS prior, coalesce(t.description, '') AS priorDesc
    SET t.name = $name,
        t.module = $module,
        t.submodule = $submodule,
        t.schema = $schema,
        t.object_owner = $objectOwner,
        t.object_type = $objectType,
        t.tablespace = $tablespace,
        t.primary_key = $primaryKey,
        t.columns = $columns,
        t.indexes = $indexes,
        t.stub = false,
        t.description = CASE WHEN $description = '' AND NOT $force THEN priorDesc ELSE $description END,
        t.updated_at = datetime()
    FOREACH (_ IN CASE WHEN created THEN [1] ELSE [] END | SET t.created_at = datetime())
    RETURN created, wasStub, prior, t.description AS description`

	params := map[string]any{
		"id":          t.ID,
		"name":        t.Name,
		"module":      t.Module,
		"submodule":   t.Submodule,
		"schema":      t.Details.Schema,
		"objectOwner": t.Details.ObjectOwner,
		"objectType":  t.Details.ObjectType,
		"tablespace":  t.Details.Tablespace,
		"primaryKey":  primaryKey,
		"columns":     columns,
		"indexes":     indexes,
		"description": t.Description,
		"force":       force,
	}

	rec, err := s.writeRecord(ctx, cypher, params)
	if err != nil {
		return TableUpsert{}, storeErr("upsert table "+t.ID, err)
	}
	return TableUpsert{
		Created:            boolean(rec, "created"),
		WasStub:            boolean(rec, "wasStub"),
		PriorEmbeddingText: str(rec, "prior"),
		Description:        str(rec, "description"),
	}, nil
}

// ColumnUpsert reports the outcome of a column upsert, including whether the
// BELONGS_TO relationship to the owning table was newly created.
type ColumnUpsert struct {
	Created             bool
	PriorEmbeddingText  string
	Description         string
	RelationshipCreated bool
}

// UpsertColumn merges a column node by id and its BELONGS_TO relationship in
// a single statement, so the relationship is never observed without the node.
// The owning table must already exist.
func (s *Store) UpsertColumn(ctx context.Context, c model.ColumnNode) (ColumnUpsert, error) {
	cypher := `
    MERGE (c:Column {id: $id})
    WITH c, c.name IS NULL AS created,
         coalesce(c.embedding_text, '') AS prior, coalesce(c.description, '') AS priorDesc
    SET c.name = $name,
        c.datatype = $datatype,
        c.table_id = $tableID,
        c.length = $length,
        c.precision = $precision,
        c.is_nullable = $isNullable,
        c.is_primary_key = $isPrimaryKey,
        c.is_foreign_key = $isForeignKey,
        c.references_column = $referencesColumn,
        c.description = CASE WHEN $description = '' THEN priorDesc ELSE $description END,
        c.updated_at = datetime()
    FOREACH (_ IN CASE WHEN created THEN [1] ELSE [] END | SET c.created_at = datetime())
    WITH c, created, prior, c.description AS description
    MATCH (t:Table {id: $tableID})
    MERGE (c)-[r:BELONGS_TO]->(t)
    ON CREATE SET r._fresh = true
    WITH created, prior, description, r, coalesce(r._fresh, false) AS relCreated
    REMOVE r._fresh
    RETURN created, prior, description, relCreated`

	params := map[string]any{
		"id":               c.ID,
		"name":             c.Name,
		"datatype":         c.Datatype,
		"tableID":          c.TableID,
		"length":           c.Length,
		"precision":        c.Precision,
		"isNullable":       c.IsNullable,
		"isPrimaryKey":     c.IsPrimaryKey,
		"isForeignKey":     c.IsForeignKey,
		"referencesColumn": c.ReferencesColumn,
		"description":      c.Description,
	}

	rec, err := s.writeRecord(ctx, cypher, params)
	if err != nil {
		return ColumnUpsert{}, storeErr("upsert column "+c.ID, err)
	}
	return ColumnUpsert{
		Created:             boolean(rec, "created"),
		PriorEmbeddingText:  str(rec, "prior"),
		Description:         str(rec, "description"),
		RelationshipCreated: boolean(rec, "relCreated"),
	}, nil
}

// EnsureTableStub creates a minimal placeholder table node when a foreign key
// names a table that has not been loaded yet. Existing nodes are untouched.
// Returns whether a stub was created.
func (s *Store) EnsureTableStub(ctx context.Context, id, name string) (bool, error) {
	cypher := `
    MERGE (t:Table {id: $id})
    ON CREATE SET t._fresh = true, t.name = $name, t.description = '',
                  t.stub = true, t.created_at = datetime()
    WITH t, coalesce(t._fresh, false) AS created
    REMOVE t._fresh
    RETURN created`

	rec, err := s.writeRecord(ctx, cypher, map[string]any{"id": id, "name": name})
	if err != nil {
		return false, storeErr("ensure table stub "+id, err)
	}
	return boolean(rec, "created"), nil
}

// UpsertForeignKey merges a FOREIGN_KEY relationship between two tables,
// keyed by the declaring column so multiple keys between the same pair
// coexist. Both tables must exist (stubs count).
func (s *Store) UpsertForeignKey(ctx context.Context, sourceID, targetID, column string) (bool, error) {
	cypher := `
    MATCH (s:Table {id: $sourceID})
    MATCH (t:Table {id: $targetID})
    MERGE (s)-[r:FOREIGN_KEY {column: $column}]->(t)
    ON CREATE SET r._fresh = true, r.created_at = datetime()
    WITH r, coalesce(r._fresh, false) AS created
    REMOVE r._fresh
    RETURN created`

	params := map[string]any{"sourceID": sourceID, "targetID": targetID, "column": column}
	rec, err := s.writeRecordOptional(ctx, cypher, params)
	if err != nil {
		return false, storeErr(fmt.Sprintf("upsert foreign key %s->%s", sourceID, targetID), err)
	}
	if rec == nil {
		return false, nil
	}
	return boolean(rec, "created"), nil
}

// UpsertColumnReference merges a column-level FOREIGN_KEY relationship. When
// the referenced column does not exist (its table may only be a stub) this is
// a no-op.
func (s *Store) UpsertColumnReference(ctx context.Context, sourceID, targetID string) (bool, error) {
	cypher := `
    MATCH (s:Column {id: $sourceID})
    MATCH (t:Column {id: $targetID})
    MERGE (s)-[r:FOREIGN_KEY]->(t)
    ON CREATE SET r._fresh = true, r.created_at = datetime()
    WITH r, coalesce(r._fresh, false) AS created
    REMOVE r._fresh
    RETURN created`

	params := map[string]any{"sourceID": sourceID, "targetID": targetID}
	rec, err := s.writeRecordOptional(ctx, cypher, params)
	if err != nil {
		return false, storeErr(fmt.Sprintf("upsert column reference %s->%s", sourceID, targetID), err)
	}
	if rec == nil {
		return false, nil
	}
	return boolean(rec, "created"), nil
}

// ViewUpsert reports the outcome of a view upsert.
type ViewUpsert struct {
	Created            bool
	PriorEmbeddingText string
}

// UpsertView merges a view node by id.
func (s *Store) UpsertView(ctx context.Context, v model.ViewNode) (ViewUpsert, error) {
	tablesUsed, err := json.Marshal(v.TablesUsed)
	if err != nil {
		return ViewUpsert{}, fmt.Errorf("serialize tables_used for view %s: %w", v.ID, err)
	}

	cypher := `
    MERGE (v:View {id: $id})
    WITH v, v.name IS NULL AS created, coalesce(v.embedding_text, '') AS prior,
         coalesce(v.description, '') AS priorDesc
    SET v.name = $name,
        v.module = $module,
        v.submodule = $submodule,
        v.sql_query = $sqlQuery,
        v.tables_used = $tablesUsed,
        v.description = CASE WHEN $description = '' THEN priorDesc ELSE $description END,
        v.updated_at = datetime()
    FOREACH (_ IN CASE WHEN created THEN [1] ELSE [] END | SET v.created_at = datetime())
    RETURN created, prior`

	params := map[string]any{
		"id":          v.ID,
		"name":        v.Name,
		"module":      v.Module,
		"submodule":   v.Submodule,
		"sqlQuery":    v.SQLQuery,
		"tablesUsed":  string(tablesUsed),
		"description": v.Description,
	}

	rec, err := s.writeRecord(ctx, cypher, params)
	if err != nil {
		return ViewUpsert{}, storeErr("upsert view "+v.ID, err)
	}
	return ViewUpsert{
		Created:            boolean(rec, "created"),
		PriorEmbeddingText: str(rec, "prior"),
	}, nil
}

// UpsertDerivedFrom merges a DERIVED_FROM relationship from a view to one of
// its source tables. No-op when the table is absent.
func (s *Store) UpsertDerivedFrom(ctx context.Context, viewID, tableID string) (bool, error) {
	cypher := `
    MATCH (v:View {id: $viewID})
    MATCH (t:Table {id: $tableID})
    MERGE (v)-[r:DERIVED_FROM]->(t)
    ON CREATE SET r._fresh = true, r.created_at = datetime()
    WITH r, coalesce(r._fresh, false) AS created
    REMOVE r._fresh
    RETURN created`

	rec, err := s.writeRecordOptional(ctx, cypher, map[string]any{"viewID": viewID, "tableID": tableID})
	if err != nil {
		return false, storeErr(fmt.Sprintf("upsert derived-from %s->%s", viewID, tableID), err)
	}
	if rec == nil {
		return false, nil
	}
	return boolean(rec, "created"), nil
}

// SetEmbedding writes a node's embedding vector together with the exact text
// it was computed from, in one statement, so the two are never out of sync.
func (s *Store) SetEmbedding(ctx context.Context, t model.NodeType, id, text string, vec []float32) error {
	info, ok := nodeLabels[t]
	if !ok {
		return fmt.Errorf("%w: node type %q", model.ErrInvalidArgument, t)
	}

	cypher := fmt.Sprintf(`
    MATCH (n:%s {id: $id})
    SET n.embedding_text = $text,
        n.embedding = $vector,
        n.embedding_updated_at = datetime()
    RETURN n.id AS id`, info.label)

	params := map[string]any{"id": id, "text": text, "vector": toFloat64(vec)}
	rec, err := s.writeRecordOptional(ctx, cypher, params)
	if err != nil {
		return storeErr("set embedding for "+id, err)
	}
	if rec == nil {
		return fmt.Errorf("set embedding: node %s: %w", id, model.ErrNotFound)
	}
	return nil
}

// SetColumnDescription atomically writes a new description together with its
// recomputed embedding. A concurrent reader never observes the new
// description paired with the old vector.
func (s *Store) SetColumnDescription(ctx context.Context, id, description, text string, vec []float32) error {
	cypher := `
    MATCH (c:Column {id: $id})
    SET c.description = $description,
        c.embedding_text = $text,
        c.embedding = $vector,
        c.updated_at = datetime(),
        c.embedding_updated_at = datetime()
    RETURN c.id AS id`

	params := map[string]any{
		"id":          id,
		"description": description,
		"text":        text,
		"vector":      toFloat64(vec),
	}
	rec, err := s.writeRecordOptional(ctx, cypher, params)
	if err != nil {
		return storeErr("update column description "+id, err)
	}
	if rec == nil {
		return fmt.Errorf("column %s: %w", id, model.ErrNotFound)
	}
	return nil
}

// Session helpers.

func (s *Store) write(ctx context.Context, cypher string, params map[string]any) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, cypher, params)
		return nil, err
	})
	return err
}

func (s *Store) writeRecord(ctx context.Context, cypher string, params map[string]any) (*neo4j.Record, error) {
	rec, err := s.writeRecordOptional(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("no record returned")
	}
	return rec, nil
}

// writeRecordOptional runs a write statement expected to return at most one
// record; a zero-record result yields (nil, nil) so callers can treat missing
// match targets as no-ops.
func (s *Store) writeRecordOptional(ctx context.Context, cypher string, params map[string]any) (*neo4j.Record, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return (*neo4j.Record)(nil), nil
		}
		return records[0], nil
	})
	if err != nil {
		return nil, err
	}
	rec, _ := result.(*neo4j.Record)
	return rec, nil
}

func (s *Store) read(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, err
	}
	records, _ := result.([]*neo4j.Record)
	return records, nil
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, model.ErrStoreUnavailable, err)
}

func serializeTableParts(t model.TableNode) (primaryKey, columns, indexes string, err error) {
	if t.PrimaryKey != nil {
		b, err := json.Marshal(t.PrimaryKey)
		if err != nil {
			return "", "", "", fmt.Errorf("serialize primary key for %s: %w", t.ID, err)
		}
		primaryKey = string(b)
	}
	if len(t.Columns) > 0 {
		b, err := json.Marshal(t.Columns)
		if err != nil {
			return "", "", "", fmt.Errorf("serialize columns for %s: %w", t.ID, err)
		}
		columns = string(b)
	}
	if len(t.Indexes) > 0 {
		b, err := json.Marshal(t.Indexes)
		if err != nil {
			return "", "", "", fmt.Errorf("serialize indexes for %s: %w", t.ID, err)
		}
		indexes = string(b)
	}
	return primaryKey, columns, indexes, nil
}

// Record value helpers. Missing or mistyped values read as zero values;
// absent optional properties are expected.

func str(rec *neo4j.Record, key string) string {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

func boolean(rec *neo4j.Record, key string) bool {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return false
	}
	b, _ := v.(bool)
	return b
}

func f64(rec *neo4j.Record, key string) float64 {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	}
	return 0
}

func count(rec *neo4j.Record, key string) int {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return 0
	}
	n, _ := v.(int64)
	return int(n)
}

func toFloat64(vec []float32) []float64 {
	out := make([]float64, len(vec))
	for i, v := range vec {
		out[i] = float64(v)
	}
	return out
}

func toFloat32(v any) []float32 {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]float32, 0, len(list))
	for _, item := range list {
		f, ok := item.(float64)
		if !ok {
			return nil
		}
		out = append(out, float32(f))
	}
	return out
}
