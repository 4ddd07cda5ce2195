// internal/vecstore/postgres.go

// Package vecstore mirrors node embeddings into Postgres with pgvector. The
// mirror is optional: the knowledge graph remains the source of truth, the
// mirror serves SQL-side similarity queries and offline analysis.
package vecstore

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/sirupsen/logrus"

	"tablegraph/internal/model"
)

// Mirror is a pgvector-backed copy of every embedded node.
type Mirror struct {
	db  *sql.DB
	log *logrus.Logger
}

// Open connects to Postgres and ensures the embeddings table and its index
// exist. dimension fixes the vector column width.
func Open(dsn string, dimension int, log *logrus.Logger) (*Mirror, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
	}

	m := &Mirror{db: db, log: log}
	if err := m.initSchema(dimension); err != nil {
		db.Close()
		return nil, err
	}
	return m, nil
}

// Close terminates the Postgres connection.
func (m *Mirror) Close() error {
	return m.db.Close()
}

func (m *Mirror) initSchema(dimension int) error {
	if _, err := m.db.Exec("CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("create vector extension: %w", err)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS schema_embeddings (
			id          TEXT PRIMARY KEY,
			node_type   TEXT NOT NULL,
			name        TEXT NOT NULL,
			description TEXT,
			module      TEXT,
			submodule   TEXT,
			datatype    TEXT,
			table_id    TEXT,
			sql_query   TEXT,
			embedding   vector(%d) NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, dimension)
	if _, err := m.db.Exec(createTable); err != nil {
		return fmt.Errorf("create schema_embeddings table: %w", err)
	}

	// The approximate index needs data to build useful lists; on an empty
	// table creation can fail, and exact scans still work, so only warn.
	_, err := m.db.Exec(`
		CREATE INDEX IF NOT EXISTS schema_embeddings_embedding_idx
		ON schema_embeddings
		USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = 100)`)
	if err != nil {
		m.log.Warnf("ivfflat index not created, similarity queries will use exact scans: %v", err)
	}

	return nil
}

// Upsert writes or replaces one embedded node.
func (m *Mirror) Upsert(ctx context.Context, c model.Candidate) error {
	r := c.Result
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO schema_embeddings
			(id, node_type, name, description, module, submodule, datatype, table_id, sql_query, embedding, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		ON CONFLICT (id) DO UPDATE SET
			node_type   = EXCLUDED.node_type,
			name        = EXCLUDED.name,
			description = EXCLUDED.description,
			module      = EXCLUDED.module,
			submodule   = EXCLUDED.submodule,
			datatype    = EXCLUDED.datatype,
			table_id    = EXCLUDED.table_id,
			sql_query   = EXCLUDED.sql_query,
			embedding   = EXCLUDED.embedding,
			updated_at  = now()`,
		r.ID, string(r.Type), r.Name, r.Description, r.Module, r.Submodule,
		r.Datatype, r.TableID, r.SQLQuery, pgvector.NewVector(c.Vector))
	if err != nil {
		return fmt.Errorf("upsert embedding %s: %w", r.ID, err)
	}
	return nil
}

// VectorQuery returns the k nodes of type t nearest to vec, with similarity
// on the same [0,1] scale the graph store reports.
func (m *Mirror) VectorQuery(ctx context.Context, t model.NodeType, vec []float32, k int) ([]model.ScoredResult, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, name, description, module, submodule, datatype, table_id, sql_query,
		       1 - (embedding <=> $1) / 2 AS similarity
		FROM schema_embeddings
		WHERE node_type = $2
		ORDER BY embedding <=> $1
		LIMIT $3`,
		pgvector.NewVector(vec), string(t), k)
	if err != nil {
		return nil, fmt.Errorf("vector query for %s: %w", t, err)
	}
	defer rows.Close()

	var results []model.ScoredResult
	for rows.Next() {
		var (
			r                              model.ScoredResult
			description, module, submodule sql.NullString
			datatype, tableID, sqlQuery    sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Name, &description, &module, &submodule,
			&datatype, &tableID, &sqlQuery, &r.Similarity); err != nil {
			return nil, fmt.Errorf("scan embedding row: %w", err)
		}
		r.Type = t
		r.Description = description.String
		r.Module = module.String
		r.Submodule = submodule.String
		r.Datatype = datatype.String
		r.TableID = tableID.String
		r.SQLQuery = sqlQuery.String
		results = append(results, r)
	}
	return results, rows.Err()
}

// Count returns the number of mirrored nodes per type.
func (m *Mirror) Count(ctx context.Context) (map[string]int, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT node_type, count(*)
		FROM schema_embeddings
		GROUP BY node_type`)
	if err != nil {
		return nil, fmt.Errorf("count embeddings: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var nodeType string
		var n int
		if err := rows.Scan(&nodeType, &n); err != nil {
			return nil, fmt.Errorf("scan count row: %w", err)
		}
		counts[nodeType] = n
	}
	return counts, rows.Err()
}
