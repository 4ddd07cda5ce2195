// internal/rag/engine.go

package rag

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"tablegraph/internal/model"
)

// Embedder computes the query vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Reader is the graph read surface the engine searches over. *graph.Store
// satisfies it; tests substitute a fake.
type Reader interface {
	HasVectorIndex(t model.NodeType) bool
	VectorQuery(ctx context.Context, t model.NodeType, vec []float32, k int) ([]model.ScoredResult, error)
	ScanEmbeddings(ctx context.Context, t model.NodeType, tableScope string) ([]model.Candidate, error)
	TableTitles(ctx context.Context, ids []string) (map[string]string, error)
	RelatedTables(ctx context.Context, tableID string) ([]model.RelatedTable, error)
}

// Options narrows a search.
type Options struct {
	// NodeType selects what to rank; empty means tables and columns together.
	NodeType model.NodeType
	// TopK is the maximum number of results. Must be positive.
	TopK int
	// TableScope restricts candidates to one table: its own node, its
	// columns, or views derived from it.
	TableScope string
	// SkipRelated disables the graph-context enrichment pass.
	SkipRelated bool
}

// Engine answers natural-language questions about the schema by ranking node
// embeddings against the embedded query. Ranking uses the native vector index
// when one exists and an exhaustive scan with in-process cosine similarity
// when it does not; both paths produce the same ordering and the same [0,1]
// similarity scale.
type Engine struct {
	store Reader
	embed Embedder
	log   *logrus.Logger
}

// NewEngine wires a retrieval engine.
func NewEngine(store Reader, embedder Embedder, log *logrus.Logger) *Engine {
	return &Engine{store: store, embed: embedder, log: log}
}

// Search embeds the query once and returns the top-k most similar nodes,
// highest first. Ties break deterministically: tables before columns before
// views, then by id.
func (e *Engine) Search(ctx context.Context, query string, opts Options) ([]model.ScoredResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", model.ErrInvalidArgument)
	}
	if opts.TopK <= 0 {
		return nil, fmt.Errorf("%w: top-k must be positive, got %d", model.ErrInvalidArgument, opts.TopK)
	}
	if opts.NodeType == "" {
		opts.NodeType = model.NodeBoth
	}
	if !opts.NodeType.Valid() {
		return nil, fmt.Errorf("%w: node type %q", model.ErrInvalidArgument, opts.NodeType)
	}

	vec, err := e.embed.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	var targets []model.NodeType
	if opts.NodeType == model.NodeBoth {
		targets = []model.NodeType{model.NodeTable, model.NodeColumn}
	} else {
		targets = []model.NodeType{opts.NodeType}
	}

	var results []model.ScoredResult
	for _, t := range targets {
		hits, err := e.searchType(ctx, t, vec, opts)
		if err != nil {
			return nil, err
		}
		results = append(results, hits...)
	}

	sortResults(results)
	if len(results) > opts.TopK {
		results = results[:opts.TopK]
	}

	if !opts.SkipRelated {
		if err := e.enrich(ctx, results); err != nil {
			// Enrichment is annotation only; a failure never loses the hits.
			e.log.Warnf("result enrichment failed: %v", err)
		}
	}

	return results, nil
}

// searchType ranks one node type. A table scope always forces the scan path:
// the native index query cannot pre-filter, and post-filtering its top k
// could silently drop in-scope hits.
func (e *Engine) searchType(ctx context.Context, t model.NodeType, vec []float32, opts Options) ([]model.ScoredResult, error) {
	if opts.TableScope == "" && e.store.HasVectorIndex(t) {
		return e.store.VectorQuery(ctx, t, vec, opts.TopK)
	}

	candidates, err := e.store.ScanEmbeddings(ctx, t, opts.TableScope)
	if err != nil {
		return nil, err
	}

	results := make([]model.ScoredResult, 0, len(candidates))
	for _, c := range candidates {
		result := c.Result
		result.Similarity = normalize(cosine(vec, c.Vector))
		results = append(results, result)
	}
	sortResults(results)
	if len(results) > opts.TopK {
		results = results[:opts.TopK]
	}
	return results, nil
}

// enrich annotates the ranked hits with graph context: owning table titles
// for columns, one-hop foreign key neighbours for tables. Scores and order
// are left untouched.
func (e *Engine) enrich(ctx context.Context, results []model.ScoredResult) error {
	var tableIDs []string
	seen := make(map[string]bool)
	for _, r := range results {
		if r.Type == model.NodeColumn && r.TableID != "" && !seen[r.TableID] {
			seen[r.TableID] = true
			tableIDs = append(tableIDs, r.TableID)
		}
	}

	titles := map[string]string{}
	if len(tableIDs) > 0 {
		var err error
		titles, err = e.store.TableTitles(ctx, tableIDs)
		if err != nil {
			return err
		}
	}

	for i := range results {
		switch results[i].Type {
		case model.NodeColumn:
			results[i].TableTitle = titles[results[i].TableID]
		case model.NodeTable:
			related, err := e.store.RelatedTables(ctx, results[i].ID)
			if err != nil {
				return err
			}
			for _, rel := range related {
				results[i].RelatedTableIDs = append(results[i].RelatedTableIDs, rel.ID)
			}
		}
	}
	return nil
}

// typeRank orders equal-score hits: tables first, then columns, then views.
func typeRank(t model.NodeType) int {
	switch t {
	case model.NodeTable:
		return 0
	case model.NodeColumn:
		return 1
	default:
		return 2
	}
}

func sortResults(results []model.ScoredResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		ri, rj := typeRank(results[i].Type), typeRank(results[j].Type)
		if ri != rj {
			return ri < rj
		}
		return results[i].ID < results[j].ID
	})
}
