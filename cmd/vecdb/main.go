package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/liliang-cn/vecdb"
	"github.com/liliang-cn/vecdb/pkg/core"
	"github.com/liliang-cn/vecdb/pkg/index"
)

var (
	configPath   string
	snapshotPath string
	backend      string
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:           "vecdb",
	Short:         "Library-oriented vector database",
	Long:          `Manage libraries of documents and text chunks, query them by nearest neighbour, or serve them over HTTP.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(cmd, false)
		if err != nil {
			return err
		}
		defer db.Close()

		addr, _ := cmd.Flags().GetString("addr")
		return db.ListenAndServe(cmd.Context(), addr)
	},
}

var libraryCmd = &cobra.Command{
	Use:   "library",
	Short: "Manage libraries",
}

var libraryCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a new library",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		indexType, _ := cmd.Flags().GetString("index")
		metadata, err := metadataFlag(cmd)
		if err != nil {
			return err
		}

		db, err := openDB(cmd, true)
		if err != nil {
			return err
		}
		defer db.Close()

		lib, err := db.CreateLibrary(cmd.Context(), core.LibraryInput{Name: args[0], IndexType: indexType, Metadata: metadata})
		if err != nil {
			return fmt.Errorf("failed to create library: %w", err)
		}
		return output(cmd, lib, func() {
			fmt.Fprintf(cmd.OutOrStdout(), "Library '%s' created (%s, %s)\n", lib.Name, styles.ID.Render(lib.ID), lib.IndexType)
		})
	},
}

var libraryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all libraries",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(cmd, true)
		if err != nil {
			return err
		}
		defer db.Close()

		libs, err := db.ListLibraries(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list libraries: %w", err)
		}
		return output(cmd, libs, func() {
			rows := make([][]string, 0, len(libs))
			for _, l := range libs {
				rows = append(rows, []string{l.ID, l.Name, string(l.IndexType),
					strconv.Itoa(len(l.Documents)), strconv.Itoa(l.ChunkCount), strconv.Itoa(l.Dimension)})
			}
			fmt.Fprintln(cmd.OutOrStdout(), styles.Title.Render(fmt.Sprintf("Libraries (%d)", len(libs))))
			printTable(cmd.OutOrStdout(), []string{"ID", "NAME", "INDEX", "DOCS", "CHUNKS", "DIM"}, rows)
		})
	},
}

var libraryGetCmd = &cobra.Command{
	Use:   "get <library-id>",
	Short: "Show a library",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(cmd, true)
		if err != nil {
			return err
		}
		defer db.Close()

		lib, err := db.GetLibrary(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to get library: %w", err)
		}
		return output(cmd, lib, func() {
			w := cmd.OutOrStdout()
			fmt.Fprintln(w, styles.Title.Render(lib.Name))
			printField(w, "ID", lib.ID)
			printField(w, "Index", string(lib.IndexType))
			printField(w, "Dimension", strconv.Itoa(lib.Dimension))
			printField(w, "Chunks", strconv.Itoa(lib.ChunkCount))
			printField(w, "Created", lib.CreatedAt.Format("2006-01-02 15:04:05"))
			rows := make([][]string, 0, len(lib.Documents))
			for _, d := range lib.Documents {
				rows = append(rows, []string{d.ID, d.Title, strconv.Itoa(len(d.ChunkIDs))})
			}
			printTable(w, []string{"DOCUMENT", "TITLE", "CHUNKS"}, rows)
		})
	},
}

var libraryDeleteCmd = &cobra.Command{
	Use:   "delete <library-id>",
	Short: "Delete a library and everything in it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		if !force && !confirm(cmd, fmt.Sprintf("Delete library '%s' with all its documents and chunks?", args[0])) {
			fmt.Fprintln(cmd.OutOrStdout(), "Cancelled.")
			return nil
		}

		db, err := openDB(cmd, true)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.DeleteLibrary(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("failed to delete library: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Library '%s' deleted\n", args[0])
		return nil
	},
}

var documentCmd = &cobra.Command{
	Use:   "document",
	Short: "Manage documents",
}

var documentAddCmd = &cobra.Command{
	Use:   "add <library-id>",
	Short: "Add a document, optionally with chunks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")
		texts, _ := cmd.Flags().GetStringArray("chunk")
		metadata, err := metadataFlag(cmd)
		if err != nil {
			return err
		}
		chunks := make([]core.ChunkInput, 0, len(texts))
		for _, t := range texts {
			chunks = append(chunks, core.ChunkInput{Text: t})
		}

		db, err := openDB(cmd, true)
		if err != nil {
			return err
		}
		defer db.Close()

		doc, err := db.CreateDocument(cmd.Context(), args[0], core.DocumentInput{Title: title, Metadata: metadata, Chunks: chunks})
		if err != nil {
			return fmt.Errorf("failed to add document: %w", err)
		}
		return output(cmd, doc, func() {
			fmt.Fprintf(cmd.OutOrStdout(), "Document '%s' added (%s) with %d chunks\n", doc.Title, styles.ID.Render(doc.ID), len(doc.ChunkIDs))
		})
	},
}

var documentListCmd = &cobra.Command{
	Use:   "list <library-id>",
	Short: "List the documents of a library",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(cmd, true)
		if err != nil {
			return err
		}
		defer db.Close()

		docs, err := db.ListDocuments(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to list documents: %w", err)
		}
		return output(cmd, docs, func() {
			rows := make([][]string, 0, len(docs))
			for _, d := range docs {
				rows = append(rows, []string{d.ID, d.Title, strconv.Itoa(len(d.ChunkIDs)), d.UpdatedAt.Format("2006-01-02 15:04")})
			}
			fmt.Fprintln(cmd.OutOrStdout(), styles.Title.Render(fmt.Sprintf("Documents (%d)", len(docs))))
			printTable(cmd.OutOrStdout(), []string{"ID", "TITLE", "CHUNKS", "UPDATED"}, rows)
		})
	},
}

var documentDeleteCmd = &cobra.Command{
	Use:   "delete <library-id> <document-id>",
	Short: "Delete a document and its chunks",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(cmd, true)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.DeleteDocument(cmd.Context(), args[0], args[1]); err != nil {
			return fmt.Errorf("failed to delete document: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Document '%s' deleted\n", args[1])
		return nil
	},
}

var chunkCmd = &cobra.Command{
	Use:   "chunk",
	Short: "Manage chunks",
}

var chunkAddCmd = &cobra.Command{
	Use:   "add <library-id> <document-id>",
	Short: "Add a chunk to a document",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		vectorStr, _ := cmd.Flags().GetString("vector")
		metadata, err := metadataFlag(cmd)
		if err != nil {
			return err
		}
		var vector []float32
		if vectorStr != "" {
			if vector, err = parseVector(vectorStr); err != nil {
				return err
			}
		}

		db, err := openDB(cmd, true)
		if err != nil {
			return err
		}
		defer db.Close()

		c, err := db.AddChunk(cmd.Context(), args[0], args[1], core.ChunkInput{Text: text, Embedding: vector, Metadata: metadata})
		if err != nil {
			return fmt.Errorf("failed to add chunk: %w", err)
		}
		return output(cmd, c, func() {
			fmt.Fprintf(cmd.OutOrStdout(), "Chunk %s added (%d dimensions)\n", styles.ID.Render(c.ID), len(c.Embedding))
		})
	},
}

var chunkListCmd = &cobra.Command{
	Use:   "list <library-id> <document-id>",
	Short: "List the chunks of a document",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(cmd, true)
		if err != nil {
			return err
		}
		defer db.Close()

		chunks, err := db.ListChunks(cmd.Context(), args[0], args[1])
		if err != nil {
			return fmt.Errorf("failed to list chunks: %w", err)
		}
		return output(cmd, chunks, func() {
			rows := make([][]string, 0, len(chunks))
			for _, c := range chunks {
				rows = append(rows, []string{c.ID, truncate(c.Text, 60)})
			}
			fmt.Fprintln(cmd.OutOrStdout(), styles.Title.Render(fmt.Sprintf("Chunks (%d)", len(chunks))))
			printTable(cmd.OutOrStdout(), []string{"ID", "TEXT"}, rows)
		})
	},
}

var chunkDeleteCmd = &cobra.Command{
	Use:   "delete <library-id> <document-id> <chunk-id>",
	Short: "Delete a chunk",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(cmd, true)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.DeleteChunk(cmd.Context(), args[0], args[1], args[2]); err != nil {
			return fmt.Errorf("failed to delete chunk: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Chunk '%s' deleted\n", args[2])
		return nil
	},
}

var queryCmd = &cobra.Command{
	Use:   "query <library-id> [text]",
	Short: "Find the nearest chunks to a text or vector",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		k, _ := cmd.Flags().GetInt("k")
		metric, _ := cmd.Flags().GetString("metric")
		vectorStr, _ := cmd.Flags().GetString("vector")

		req := core.QueryRequest{LibraryID: args[0], K: k, Metric: index.Metric(metric)}
		if len(args) == 2 {
			req.Text = args[1]
		}
		if vectorStr != "" {
			v, err := parseVector(vectorStr)
			if err != nil {
				return err
			}
			req.Vector = v
		}
		if req.Text == "" && len(req.Vector) == 0 {
			return fmt.Errorf("query text or --vector is required")
		}

		db, err := openDB(cmd, true)
		if err != nil {
			return err
		}
		defer db.Close()

		results, err := db.Query(cmd.Context(), req)
		if err != nil {
			return fmt.Errorf("query failed: %w", err)
		}
		return output(cmd, results, func() {
			rows := make([][]string, 0, len(results))
			for i, r := range results {
				rows = append(rows, []string{strconv.Itoa(i + 1), fmt.Sprintf("%.4f", r.Score), r.ChunkID, truncate(r.Text, 60)})
			}
			fmt.Fprintln(cmd.OutOrStdout(), styles.Title.Render(fmt.Sprintf("Results (%d)", len(results))))
			printTable(cmd.OutOrStdout(), []string{"#", "SCORE", "CHUNK", "TEXT"}, rows)
		})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats <library-id>",
	Short: "Display library and index statistics",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(cmd, true)
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.LibraryStats(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to get stats: %w", err)
		}
		return output(cmd, stats, func() {
			w := cmd.OutOrStdout()
			fmt.Fprintln(w, styles.Title.Render("Library: "+stats.Name))
			printField(w, "Index", string(stats.IndexType))
			printField(w, "Dimension", strconv.Itoa(stats.Dimension))
			printField(w, "Documents", strconv.Itoa(stats.DocumentCount))
			printField(w, "Chunks", strconv.Itoa(stats.ChunkCount))
			printField(w, "Indexed", strconv.Itoa(stats.IndexedCount))
			for _, key := range sortedKeys(stats.Index) {
				printField(w, key, fmt.Sprint(stats.Index[key]))
			}
		})
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Dump every library to a JSON or JSONL file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")

		db, err := openDB(cmd, true)
		if err != nil {
			return err
		}
		defer db.Close()

		f, err := os.Create(args[0])
		if err != nil {
			return fmt.Errorf("failed to create file: %w", err)
		}
		if err := db.Export(cmd.Context(), f, core.DumpFormat(format)); err != nil {
			f.Close()
			return fmt.Errorf("export failed: %w", err)
		}
		if err := f.Close(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Exported to %s\n", args[0])
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Replace all libraries with the contents of a dump",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open file: %w", err)
		}
		defer f.Close()

		db, err := openDB(cmd, true)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.Import(cmd.Context(), f); err != nil {
			return fmt.Errorf("import failed: %w", err)
		}
		libs, err := db.ListLibraries(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Imported %d libraries from %s\n", len(libs), args[0])
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as TOML",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, false)
		if err != nil {
			return err
		}
		if cfg.Embedding.APIKey != "" {
			cfg.Embedding.APIKey = "********"
		}
		data, err := cfg.Marshal()
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

// loadConfig reads the config file and applies persistent flag overrides.
// quiet raises the log level to warn unless --verbose is set.
func loadConfig(cmd *cobra.Command, quiet bool) (vecdb.Config, error) {
	cfg, err := vecdb.LoadConfig(configPath)
	if err != nil {
		return cfg, err
	}
	flags := cmd.Flags()
	if flags.Changed("snapshot") {
		cfg.Snapshot.Path = snapshotPath
	}
	if flags.Changed("backend") {
		cfg.Snapshot.Backend = backend
	}
	switch {
	case verbose:
		cfg.Log.Level = "debug"
	case quiet:
		cfg.Log.Level = "warn"
	}
	return cfg, cfg.Validate()
}

func openDB(cmd *cobra.Command, quiet bool) (*vecdb.DB, error) {
	cfg, err := loadConfig(cmd, quiet)
	if err != nil {
		return nil, err
	}
	db, err := vecdb.Open(cmd.Context(), cfg, vecdb.WithLogOutput(cmd.ErrOrStderr()))
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return db, nil
}

func metadataFlag(cmd *cobra.Command) (map[string]any, error) {
	s, _ := cmd.Flags().GetString("metadata")
	if s == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("invalid metadata JSON: %w", err)
	}
	return m, nil
}

func parseVector(s string) ([]float32, error) {
	parts := strings.Split(s, ",")
	vector := make([]float32, 0, len(parts))
	for _, part := range parts {
		val, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			return nil, fmt.Errorf("invalid vector format: %w", err)
		}
		vector = append(vector, float32(val))
	}
	return vector, nil
}

func confirm(cmd *cobra.Command, prompt string) bool {
	fmt.Fprintf(cmd.OutOrStdout(), "%s [y/N]: ", prompt)
	var response string
	fmt.Fscanln(cmd.InOrStdin(), &response)
	return response == "y" || response == "Y"
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (TOML)")
	rootCmd.PersistentFlags().StringVarP(&snapshotPath, "snapshot", "s", "", "Snapshot path (overrides config)")
	rootCmd.PersistentFlags().StringVarP(&backend, "backend", "b", "", "Snapshot backend: none, file, sqlite, badger")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	serveCmd.Flags().String("addr", "", "Listen address (overrides config)")

	// Library commands
	libraryCmd.AddCommand(libraryCreateCmd, libraryListCmd, libraryGetCmd, libraryDeleteCmd)
	libraryCreateCmd.Flags().String("index", "", "Index type: flat, tree, cluster")
	libraryCreateCmd.Flags().String("metadata", "", "Metadata as JSON")
	libraryDeleteCmd.Flags().Bool("force", false, "Skip confirmation prompt")

	// Document commands
	documentCmd.AddCommand(documentAddCmd, documentListCmd, documentDeleteCmd)
	documentAddCmd.Flags().String("title", "", "Document title")
	documentAddCmd.Flags().StringArray("chunk", nil, "Chunk text (repeatable)")
	documentAddCmd.Flags().String("metadata", "", "Metadata as JSON")
	documentAddCmd.MarkFlagRequired("title")

	// Chunk commands
	chunkCmd.AddCommand(chunkAddCmd, chunkListCmd, chunkDeleteCmd)
	chunkAddCmd.Flags().String("text", "", "Chunk text")
	chunkAddCmd.Flags().String("vector", "", "Embedding (comma-separated); embedded from text when empty")
	chunkAddCmd.Flags().String("metadata", "", "Metadata as JSON")
	chunkAddCmd.MarkFlagRequired("text")

	queryCmd.Flags().IntP("k", "k", core.DefaultK, "Number of results")
	queryCmd.Flags().String("metric", "euclidean", "Distance metric: euclidean, cosine, cosine_distance")
	queryCmd.Flags().String("vector", "", "Query vector (comma-separated) instead of text")

	exportCmd.Flags().String("format", string(core.DumpFormatJSON), "Dump format: json, jsonl")

	configCmd.AddCommand(configShowCmd)

	for _, c := range []*cobra.Command{
		libraryCreateCmd, libraryListCmd, libraryGetCmd,
		documentAddCmd, documentListCmd,
		chunkAddCmd, chunkListCmd,
		queryCmd, statsCmd,
	} {
		c.Flags().Bool("json", false, "Output as JSON")
	}

	rootCmd.AddCommand(
		serveCmd,
		libraryCmd,
		documentCmd,
		chunkCmd,
		queryCmd,
		statsCmd,
		exportCmd,
		importCmd,
		configCmd,
	)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, styles.Error.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}
