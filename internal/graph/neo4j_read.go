// internal/graph/neo4j_read.go

package graph

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"tablegraph/internal/model"
)

// VectorQuery runs an index-backed nearest-neighbour search for the top k
// nodes of type t. Scores come back from the index already normalized to
// [0,1] for cosine similarity.
func (s *Store) VectorQuery(ctx context.Context, t model.NodeType, vec []float32, k int) ([]model.ScoredResult, error) {
	info, ok := nodeLabels[t]
	if !ok {
		return nil, fmt.Errorf("%w: node type %q", model.ErrInvalidArgument, t)
	}

	cypher := `
    CALL db.index.vector.queryNodes($indexName, $k, $embedding)
    YIELD node, score
    RETURN node.id AS id, node.name AS name, node.description AS description,
           node.module AS module, node.submodule AS submodule,
           node.datatype AS datatype, node.table_id AS table_id,
           node.sql_query AS sql_query,
           score AS similarity
    ORDER BY similarity DESC`

	params := map[string]any{
		"indexName": info.index,
		"k":         k,
		"embedding": toFloat64(vec),
	}

	records, err := s.read(ctx, cypher, params)
	if err != nil {
		return nil, storeErr("vector query "+info.index, err)
	}

	results := make([]model.ScoredResult, 0, len(records))
	for _, rec := range records {
		results = append(results, scoredResult(rec, t))
	}
	return results, nil
}

// ScanEmbeddings returns every node of type t that carries an embedding,
// optionally restricted to a table scope, for the manual similarity fallback.
func (s *Store) ScanEmbeddings(ctx context.Context, t model.NodeType, tableScope string) ([]model.Candidate, error) {
	info, ok := nodeLabels[t]
	if !ok {
		return nil, fmt.Errorf("%w: node type %q", model.ErrInvalidArgument, t)
	}

	cypher := fmt.Sprintf(`
    MATCH (n:%s)
    WHERE n.embedding IS NOT NULL %s
    RETURN n.id AS id, n.name AS name, n.description AS description,
           n.module AS module, n.submodule AS submodule,
           n.datatype AS datatype, n.table_id AS table_id,
           n.sql_query AS sql_query,
           n.embedding AS embedding`, info.label, scanScopeFilter(t))

	records, err := s.read(ctx, cypher, map[string]any{"scope": tableScope})
	if err != nil {
		return nil, storeErr("scan embeddings for "+info.label, err)
	}

	candidates := make([]model.Candidate, 0, len(records))
	for _, rec := range records {
		raw, _ := rec.Get("embedding")
		vec := toFloat32(raw)
		if len(vec) == 0 {
			continue
		}
		candidates = append(candidates, model.Candidate{
			Result: scoredResult(rec, t),
			Vector: vec,
		})
	}
	return candidates, nil
}

// ColumnsForTable lists a table's columns, primary keys first.
func (s *Store) ColumnsForTable(ctx context.Context, tableID string) ([]model.ColumnNode, error) {
	cypher := `
    MATCH (c:Column)-[:BELONGS_TO]->(t:Table {id: $tableID})
    RETURN c.id AS id, c.name AS name, c.datatype AS datatype,
           c.table_id AS table_id, c.description AS description,
           c.length AS length, c.precision AS precision,
           c.is_nullable AS is_nullable, c.is_primary_key AS is_primary_key,
           c.is_foreign_key AS is_foreign_key, c.references_column AS references_column
    ORDER BY c.is_primary_key DESC, c.name`

	records, err := s.read(ctx, cypher, map[string]any{"tableID": tableID})
	if err != nil {
		return nil, storeErr("columns for table "+tableID, err)
	}

	columns := make([]model.ColumnNode, 0, len(records))
	for _, rec := range records {
		columns = append(columns, columnNode(rec))
	}
	return columns, nil
}

// ColumnDetails returns one column with its resolved foreign key target.
func (s *Store) ColumnDetails(ctx context.Context, columnID string) (*model.ColumnDetails, error) {
	cypher := `
    MATCH (c:Column {id: $columnID})
    OPTIONAL MATCH (c)-[:FOREIGN_KEY]->(ref:Column)
    RETURN c.id AS id, c.name AS name, c.datatype AS datatype,
           c.table_id AS table_id, c.description AS description,
           c.length AS length, c.precision AS precision,
           c.is_nullable AS is_nullable, c.is_primary_key AS is_primary_key,
           c.is_foreign_key AS is_foreign_key, c.references_column AS references_column,
           ref.name AS referenced_column_name, ref.table_id AS referenced_table_id`

	records, err := s.read(ctx, cypher, map[string]any{"columnID": columnID})
	if err != nil {
		return nil, storeErr("column details "+columnID, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("column %s: %w", columnID, model.ErrNotFound)
	}

	rec := records[0]
	return &model.ColumnDetails{
		ColumnNode:           columnNode(rec),
		ReferencedColumnName: str(rec, "referenced_column_name"),
		ReferencedTableID:    str(rec, "referenced_table_id"),
	}, nil
}

// TableDetails returns one table node with its serialized summaries decoded.
func (s *Store) TableDetails(ctx context.Context, tableID string) (*model.TableNode, error) {
	cypher := `
    MATCH (t:Table {id: $tableID})
    RETURN t.id AS id, t.name AS name, t.module AS module, t.submodule AS submodule,
           t.description AS description, t.schema AS schema,
           t.object_owner AS object_owner, t.object_type AS object_type,
           t.tablespace AS tablespace, t.primary_key AS primary_key,
           t.columns AS columns, t.indexes AS indexes, t.stub AS stub`

	records, err := s.read(ctx, cypher, map[string]any{"tableID": tableID})
	if err != nil {
		return nil, storeErr("table details "+tableID, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("table %s: %w", tableID, model.ErrNotFound)
	}

	rec := records[0]
	table := &model.TableNode{
		ID:          str(rec, "id"),
		Name:        str(rec, "name"),
		Module:      str(rec, "module"),
		Submodule:   str(rec, "submodule"),
		Description: str(rec, "description"),
		Details: model.TableDetails{
			Schema:      str(rec, "schema"),
			ObjectOwner: str(rec, "object_owner"),
			ObjectType:  str(rec, "object_type"),
			Tablespace:  str(rec, "tablespace"),
		},
		Stub: boolean(rec, "stub"),
	}

	if raw := str(rec, "primary_key"); raw != "" {
		var pk model.PrimaryKey
		if err := json.Unmarshal([]byte(raw), &pk); err == nil {
			table.PrimaryKey = &pk
		}
	}
	if raw := str(rec, "columns"); raw != "" {
		_ = json.Unmarshal([]byte(raw), &table.Columns)
	}
	if raw := str(rec, "indexes"); raw != "" {
		_ = json.Unmarshal([]byte(raw), &table.Indexes)
	}

	return table, nil
}

// TableTitles resolves display names for a set of table ids in one query.
func (s *Store) TableTitles(ctx context.Context, ids []string) (map[string]string, error) {
	if len(ids) == 0 {
		return map[string]string{}, nil
	}

	cypher := `
    MATCH (t:Table)
    WHERE t.id IN $ids
    RETURN t.id AS id, t.name AS name`

	records, err := s.read(ctx, cypher, map[string]any{"ids": ids})
	if err != nil {
		return nil, storeErr("table titles", err)
	}

	titles := make(map[string]string, len(records))
	for _, rec := range records {
		titles[str(rec, "id")] = str(rec, "name")
	}
	return titles, nil
}

// RelatedTables returns a table's one-hop FOREIGN_KEY neighbours in either
// direction.
func (s *Store) RelatedTables(ctx context.Context, tableID string) ([]model.RelatedTable, error) {
	cypher := `
    MATCH (t:Table {id: $tableID})-[:FOREIGN_KEY]-(related:Table)
    WHERE related.id <> $tableID
    RETURN DISTINCT related.id AS id, related.name AS name,
           related.module AS module, related.submodule AS submodule,
           related.description AS description
    LIMIT 20`

	records, err := s.read(ctx, cypher, map[string]any{"tableID": tableID})
	if err != nil {
		return nil, storeErr("related tables for "+tableID, err)
	}

	related := make([]model.RelatedTable, 0, len(records))
	for _, rec := range records {
		related = append(related, model.RelatedTable{
			ID:          str(rec, "id"),
			Name:        str(rec, "name"),
			Module:      str(rec, "module"),
			Submodule:   str(rec, "submodule"),
			Description: str(rec, "description"),
		})
	}
	return related, nil
}

// Info gathers summary statistics about the graph.
func (s *Store) Info(ctx context.Context) (*model.GraphInfo, error) {
	info := &model.GraphInfo{
		Relationships:  make(map[string]int),
		TablesByModule: make(map[string]int),
	}

	counts := []struct {
		cypher string
		dest   *int
	}{
		{"MATCH (t:Table) RETURN count(t) AS n", &info.Tables},
		{"MATCH (c:Column) RETURN count(c) AS n", &info.Columns},
		{"MATCH (v:View) RETURN count(v) AS n", &info.Views},
		{"MATCH (c:Column) WHERE c.is_primary_key = true RETURN count(c) AS n", &info.PrimaryKeys},
		{"MATCH (c:Column) WHERE c.is_foreign_key = true RETURN count(c) AS n", &info.ForeignKeys},
	}
	for _, q := range counts {
		records, err := s.read(ctx, q.cypher, nil)
		if err != nil {
			return nil, storeErr("graph info", err)
		}
		if len(records) > 0 {
			*q.dest = count(records[0], "n")
		}
	}

	records, err := s.read(ctx, `
    MATCH ()-[r]->()
    RETURN type(r) AS type, count(r) AS n
    ORDER BY n DESC`, nil)
	if err != nil {
		return nil, storeErr("graph info", err)
	}
	for _, rec := range records {
		info.Relationships[str(rec, "type")] = count(rec, "n")
	}

	records, err = s.read(ctx, `
    MATCH (t:Table)
    WHERE t.module IS NOT NULL
    RETURN t.module AS module, count(*) AS n
    ORDER BY n DESC`, nil)
	if err != nil {
		return nil, storeErr("graph info", err)
	}
	for _, rec := range records {
		info.TablesByModule[str(rec, "module")] = count(rec, "n")
	}

	return info, nil
}

// scanScopeFilter narrows a scan to one table. Views store tables_used as a
// JSON array string, so the scope is matched in its quoted form; a bare
// CONTAINS would let a table id match its own prefix (ap_invoices against
// ap_invoices_all).
func scanScopeFilter(t model.NodeType) string {
	switch t {
	case model.NodeColumn:
		return "AND ($scope = '' OR n.table_id = $scope)"
	case model.NodeTable:
		return "AND ($scope = '' OR n.id = $scope)"
	case model.NodeView:
		return `AND ($scope = '' OR n.tables_used CONTAINS ('"' + $scope + '"'))`
	}
	return ""
}

func scoredResult(rec *neo4j.Record, t model.NodeType) model.ScoredResult {
	return model.ScoredResult{
		ID:          str(rec, "id"),
		Name:        str(rec, "name"),
		Type:        t,
		Similarity:  f64(rec, "similarity"),
		Description: str(rec, "description"),
		Module:      str(rec, "module"),
		Submodule:   str(rec, "submodule"),
		Datatype:    str(rec, "datatype"),
		TableID:     str(rec, "table_id"),
		SQLQuery:    str(rec, "sql_query"),
	}
}

func columnNode(rec *neo4j.Record) model.ColumnNode {
	return model.ColumnNode{
		ID:               str(rec, "id"),
		Name:             str(rec, "name"),
		Datatype:         str(rec, "datatype"),
		TableID:          str(rec, "table_id"),
		Description:      str(rec, "description"),
		Length:           str(rec, "length"),
		Precision:        str(rec, "precision"),
		IsNullable:       boolean(rec, "is_nullable"),
		IsPrimaryKey:     boolean(rec, "is_primary_key"),
		IsForeignKey:     boolean(rec, "is_foreign_key"),
		ReferencesColumn: str(rec, "references_column"),
	}
}
