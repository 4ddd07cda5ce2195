// cmd/tablegraph/main.go

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"tablegraph/internal/config"
	"tablegraph/internal/embed"
	"tablegraph/internal/graph"
	"tablegraph/internal/model"
	"tablegraph/internal/rag"
	"tablegraph/internal/schema"
	"tablegraph/internal/vecstore"
	"tablegraph/internal/watch"
)

var (
	cfg config.Config
	log = logrus.New()
)

func main() {
	cfg = config.Load()

	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	root := &cobra.Command{
		Use:   "tablegraph",
		Short: "Oracle schema knowledge graph with natural-language search",
		Long: `tablegraph indexes Oracle table metadata into a Neo4j knowledge graph,
embeds every table, column, and view for semantic search, and answers
natural-language questions about the schema.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newLoadCmd(),
		newLoadViewsCmd(),
		newIntrospectCmd(),
		newQueryCmd(),
		newColumnCmd(),
		newViewCmd(),
		newWatchCmd(),
		newInfoCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// components holds the wired stores and engines shared by every command.
type components struct {
	store   *graph.Store
	mirror  *vecstore.Mirror
	builder *graph.Builder
	engine  *rag.Engine
}

func setup(ctx context.Context) (*components, func(), error) {
	embedder := embed.NewOllamaEmbedder(embed.Config{
		BaseURL:   cfg.OllamaBaseURL,
		Model:     cfg.EmbeddingModel,
		Dimension: cfg.EmbeddingDimension,
	})

	store, err := graph.Connect(ctx, graph.Config{
		URI:      cfg.Neo4jURI,
		Username: cfg.Neo4jUser,
		Password: cfg.Neo4jPassword,
	}, cfg.EmbeddingDimension, log)
	if err != nil {
		return nil, nil, err
	}

	var mirror *vecstore.Mirror
	if cfg.PostgresDSN != "" {
		mirror, err = vecstore.Open(cfg.PostgresDSN, cfg.EmbeddingDimension, log)
		if err != nil {
			store.Close(ctx)
			return nil, nil, err
		}
	}

	var reader rag.Reader = store
	if cfg.VectorBackend == "postgres" {
		if mirror == nil {
			store.Close(ctx)
			return nil, nil, fmt.Errorf("VECTOR_BACKEND=postgres requires POSTGRES_DSN")
		}
		reader = &mirrorReader{Store: store, mirror: mirror}
	}

	c := &components{
		store:   store,
		mirror:  mirror,
		engine:  rag.NewEngine(reader, embedder, log),
		builder: graph.NewBuilder(store, embedder, mirrorOrNil(mirror), log),
	}
	cleanup := func() {
		if mirror != nil {
			mirror.Close()
		}
		store.Close(ctx)
	}
	return c, cleanup, nil
}

// mirrorReader ranks similarity in the pgvector mirror while graph context
// (scoped scans, titles, neighbours) still comes from Neo4j.
type mirrorReader struct {
	*graph.Store
	mirror *vecstore.Mirror
}

func (r *mirrorReader) HasVectorIndex(model.NodeType) bool { return true }

func (r *mirrorReader) VectorQuery(ctx context.Context, t model.NodeType, vec []float32, k int) ([]model.ScoredResult, error) {
	return r.mirror.VectorQuery(ctx, t, vec, k)
}

// mirrorOrNil avoids handing the builder a typed nil interface.
func mirrorOrNil(m *vecstore.Mirror) graph.Mirror {
	if m == nil {
		return nil
	}
	return m
}

func newLoadCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "load <file>...",
		Short: "Parse schema export files and load them into the graph",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, cleanup, err := setup(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			parser := schema.NewParser(cfg.DataDir, log)
			records, err := parser.ParseFiles(args)
			if err != nil {
				return err
			}
			log.Infof("parsed %d table records", len(records))

			report, err := c.builder.Ingest(ctx, records, force)
			if report != nil {
				printReport(report)
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite stored descriptions even with empty incoming ones")
	return cmd
}

func newLoadViewsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load-views <file>",
		Short: "Load view definitions into the graph",
		Args:  cobra.ExactArgs(1),
		RunE:  runLoadViews,
	}
}

func runLoadViews(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c, cleanup, err := setup(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	parser := schema.NewParser(cfg.DataDir, log)
	views, err := parser.ParseViews(args[0])
	if err != nil {
		return err
	}
	log.Infof("parsed %d view definitions", len(views))

	report, err := c.builder.IngestViews(ctx, views)
	if report != nil {
		printReport(report)
	}
	return err
}

func newIntrospectCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "introspect <owner>",
		Short: "Read a schema from a live Oracle instance and load it into the graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			intro, err := schema.NewIntrospector(cfg.OracleUser, cfg.OraclePassword, cfg.OracleDSN, log)
			if err != nil {
				return err
			}
			defer intro.Close()

			records, err := intro.Introspect(ctx, args[0])
			if err != nil {
				return err
			}

			c, cleanup, err := setup(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			report, err := c.builder.Ingest(ctx, records, force)
			if report != nil {
				printReport(report)
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite stored descriptions even with empty incoming ones")
	return cmd
}

func newQueryCmd() *cobra.Command {
	var (
		nodeType  string
		topK      int
		tableID   string
		format    string
		noRelated bool
	)

	cmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Answer a natural-language question about the schema",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, cleanup, err := setup(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			results, err := c.engine.Search(ctx, strings.Join(args, " "), rag.Options{
				NodeType:    model.NodeType(nodeType),
				TopK:        topK,
				TableScope:  tableID,
				SkipRelated: noRelated,
			})
			if err != nil {
				return err
			}
			return printResults(results, format)
		},
	}

	cmd.Flags().StringVar(&nodeType, "node-type", "both", "node type to search: table, column, view, or both")
	cmd.Flags().IntVar(&topK, "top-k", 5, "maximum number of results")
	cmd.Flags().StringVar(&tableID, "table-id", "", "restrict the search to one table")
	cmd.Flags().StringVar(&format, "format", "text", "output format: text or json")
	cmd.Flags().BoolVar(&noRelated, "no-related", false, "skip graph-context enrichment")
	return cmd
}

func newColumnCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "column",
		Short: "Column-level operations",
	}

	var (
		topK    int
		tableID string
		format  string
	)
	search := &cobra.Command{
		Use:   "search <question>",
		Short: "Semantic search over columns",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, cleanup, err := setup(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			results, err := c.engine.Search(ctx, strings.Join(args, " "), rag.Options{
				NodeType:   model.NodeColumn,
				TopK:       topK,
				TableScope: tableID,
			})
			if err != nil {
				return err
			}
			return printResults(results, format)
		},
	}
	search.Flags().IntVar(&topK, "top-k", 5, "maximum number of results")
	search.Flags().StringVar(&tableID, "table-id", "", "restrict the search to one table")
	search.Flags().StringVar(&format, "format", "text", "output format: text or json")

	list := &cobra.Command{
		Use:   "list <table-id>",
		Short: "List a table's columns, primary keys first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, cleanup, err := setup(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			columns, err := c.store.ColumnsForTable(ctx, strings.ToLower(args[0]))
			if err != nil {
				return err
			}
			for _, col := range columns {
				flags := ""
				if col.IsPrimaryKey {
					flags += " [PK]"
				}
				if col.IsForeignKey {
					flags += " [FK -> " + col.ReferencesColumn + "]"
				}
				fmt.Printf("%-40s %-20s%s\n", col.Name, col.Datatype, flags)
				if col.Description != "" {
					fmt.Printf("    %s\n", col.Description)
				}
			}
			return nil
		},
	}

	details := &cobra.Command{
		Use:   "details <column-id>",
		Short: "Show one column with its foreign key target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, cleanup, err := setup(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			d, err := c.store.ColumnDetails(ctx, strings.ToLower(args[0]))
			if err != nil {
				return err
			}
			return printJSON(d)
		},
	}

	update := &cobra.Command{
		Use:   "update <column-id> <description>",
		Short: "Set a column's description and recompute its embedding",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, cleanup, err := setup(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			id := strings.ToLower(args[0])
			updated, err := c.builder.UpdateColumnDescription(ctx, id, args[1])
			if err != nil {
				return err
			}
			return printJSON(updated)
		},
	}

	cmd.AddCommand(search, list, details, update)
	return cmd
}

func newViewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "view",
		Short: "View-level operations",
	}

	var (
		topK   int
		format string
	)
	search := &cobra.Command{
		Use:   "search <question>",
		Short: "Semantic search over views",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, cleanup, err := setup(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			results, err := c.engine.Search(ctx, strings.Join(args, " "), rag.Options{
				NodeType: model.NodeView,
				TopK:     topK,
			})
			if err != nil {
				return err
			}
			return printResults(results, format)
		},
	}
	search.Flags().IntVar(&topK, "top-k", 5, "maximum number of results")
	search.Flags().StringVar(&format, "format", "text", "output format: text or json")

	add := &cobra.Command{
		Use:   "add <file>",
		Short: "Load view definitions from a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE:  runLoadViews,
	}

	cmd.AddCommand(search, add)
	return cmd
}

// fileLoader adapts the parser and builder to the watcher's ingest hook.
type fileLoader struct {
	parser  *schema.Parser
	builder *graph.Builder
}

func (l *fileLoader) LoadFile(ctx context.Context, name string) (*model.IngestReport, error) {
	records, err := l.parser.ParseFiles([]string{name})
	if err != nil {
		return nil, err
	}
	return l.builder.Ingest(ctx, records, false)
}

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Watch the data directory and re-ingest changed export files",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, cleanup, err := setup(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			loader := &fileLoader{
				parser:  schema.NewParser(cfg.DataDir, log),
				builder: c.builder,
			}
			err = watch.New(cfg.DataDir, loader, log).Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show knowledge graph statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, cleanup, err := setup(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			info, err := c.store.Info(ctx)
			if err != nil {
				return err
			}
			if c.mirror != nil {
				counts, err := c.mirror.Count(ctx)
				if err != nil {
					log.Warnf("mirror counts unavailable: %v", err)
				} else {
					fmt.Println("mirrored embeddings:")
					for nodeType, n := range counts {
						fmt.Printf("  %-8s %d\n", nodeType, n)
					}
				}
			}
			return printJSON(info)
		},
	}
}

// Output helpers.

func printReport(r *model.IngestReport) {
	if err := printJSON(r); err != nil {
		log.Warnf("print report: %v", err)
	}
}

func printResults(results []model.ScoredResult, format string) error {
	if format == "json" {
		return printJSON(results)
	}

	if len(results) == 0 {
		fmt.Println("no results")
		return nil
	}
	for i, r := range results {
		fmt.Printf("%d. [%.4f] %s %s\n", i+1, r.Similarity, r.Type, r.Name)
		if r.Type == model.NodeColumn {
			table := r.TableID
			if r.TableTitle != "" {
				table = fmt.Sprintf("%s (%s)", r.TableTitle, r.TableID)
			}
			fmt.Printf("   %s in table %s\n", r.Datatype, table)
		}
		if r.Description != "" {
			fmt.Printf("   %s\n", r.Description)
		}
		if len(r.RelatedTableIDs) > 0 {
			fmt.Printf("   related: %s\n", strings.Join(r.RelatedTableIDs, ", "))
		}
	}
	return nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
