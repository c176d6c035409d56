package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liliang-cn/vecdb/pkg/core"
)

// run executes the root command and returns stdout.
func run(t *testing.T, args ...string) string {
	t.Helper()
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetIn(strings.NewReader(""))
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.ExecuteContext(context.Background()), "stderr: %s", errOut.String())
	return out.String()
}

func decodeJSON[T any](t *testing.T, s string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(s), &v), s)
	return v
}

func TestCLIWorkflow(t *testing.T) {
	snap := filepath.Join(t.TempDir(), "cli.db")
	base := []string{"--backend", "sqlite", "--snapshot", snap}
	cli := func(args ...string) string {
		return run(t, append(args, base...)...)
	}

	lib := decodeJSON[core.Library](t, cli("library", "create", "fruit", "--index", "tree", "--json"))
	require.NotEmpty(t, lib.ID)
	assert.EqualValues(t, "tree", lib.IndexType)

	doc := decodeJSON[core.Document](t, cli("document", "add", lib.ID, "--title", "notes",
		"--chunk", "bananas are yellow", "--chunk", "apples are red", "--json"))
	require.Len(t, doc.ChunkIDs, 2)

	c := decodeJSON[core.Chunk](t, cli("chunk", "add", lib.ID, doc.ID, "--text", "cherries are dark red", "--json"))
	assert.Len(t, c.Embedding, 256)

	chunks := decodeJSON[[]core.Chunk](t, cli("chunk", "list", lib.ID, doc.ID, "--json"))
	assert.Len(t, chunks, 3)

	results := decodeJSON[[]core.QueryResult](t, cli("query", lib.ID, "bananas are yellow", "--k", "1", "--json"))
	require.Len(t, results, 1)
	assert.Equal(t, doc.ChunkIDs[0], results[0].ChunkID)

	stats := decodeJSON[core.LibraryStats](t, cli("stats", lib.ID, "--json"))
	assert.Equal(t, 3, stats.ChunkCount)
	assert.Equal(t, 3, stats.IndexedCount)

	text := cli("stats", lib.ID, "--json=false")
	assert.Contains(t, text, "fruit")
	assert.Contains(t, text, "Indexed")

	dump := filepath.Join(t.TempDir(), "dump.json")
	assert.Contains(t, cli("export", dump, "--format", "json"), "Exported")

	assert.Contains(t, cli("chunk", "delete", lib.ID, doc.ID, c.ID), "deleted")
	assert.Contains(t, cli("document", "delete", lib.ID, doc.ID), "deleted")
	assert.Contains(t, cli("library", "delete", lib.ID, "--force"), "deleted")
	assert.Empty(t, decodeJSON[[]core.Library](t, cli("library", "list", "--json")))

	assert.Contains(t, cli("import", dump), "Imported 1 libraries")
	libs := decodeJSON[[]core.Library](t, cli("library", "list", "--json"))
	require.Len(t, libs, 1)
	assert.Equal(t, lib.ID, libs[0].ID)
	assert.Equal(t, 3, libs[0].ChunkCount)
}

func TestConfigShowMasksKey(t *testing.T) {
	t.Setenv("VECDB_EMBEDDING_PROVIDER", "openai")
	t.Setenv("VECDB_EMBEDDING_API_KEY", "sk-secret")
	out := run(t, "config", "show")
	assert.Contains(t, out, "openai")
	assert.NotContains(t, out, "sk-secret")
}

func TestParseVector(t *testing.T) {
	v, err := parseVector("1, 2.5,-3")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2.5, -3}, v)

	_, err = parseVector("1,x")
	assert.Error(t, err)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
