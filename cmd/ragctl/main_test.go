package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-sync-go/internal/model"
	"rag-sync-go/pkg/token"
)

func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
vector_store:
  type: memory
embedding:
  base_url: "http://127.0.0.1:1/v1"
  dimensions: 4
` + extra
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	deleteConfirm = false
	createDimension = 0
	jsonOutput = false
	t.Cleanup(closeApp)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"index", "delete", "search", "context", "collections", "token", "mcp"} {
		assert.True(t, names[want], want)
	}
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("config"))
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("json"))
}

func TestSearchCommand_Flags(t *testing.T) {
	assert.Equal(t, "search [query]", searchCmd.Use)
	limit := searchCmd.Flags().Lookup("limit")
	require.NotNil(t, limit)
	assert.Equal(t, "n", limit.Shorthand)
	assert.Equal(t, "5", limit.DefValue)
	assert.Equal(t, "3", contextCmd.Flags().Lookup("limit").DefValue)
	assert.Equal(t, "2000", contextCmd.Flags().Lookup("max-tokens").DefValue)
	assert.Error(t, searchCmd.Args(searchCmd, []string{}))
	assert.NoError(t, searchCmd.Args(searchCmd, []string{"q"}))
}

func TestIndexCommand_MissingPath(t *testing.T) {
	cfg := writeConfig(t, "")
	_, err := execute(t, "--config", cfg, "index", filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestSearchCommand_RejectsBlankQuery(t *testing.T) {
	cfg := writeConfig(t, "")
	_, err := execute(t, "--config", cfg, "search", "   ")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestCollectionsCommands(t *testing.T) {
	cfg := writeConfig(t, "")

	out, err := execute(t, "--config", cfg, "collections", "create", "notes", "--dim", "8")
	require.NoError(t, err)
	assert.Contains(t, out, "Created notes (dim=8")

	out, err = execute(t, "--config", cfg, "collections", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No collections.", "memory store does not outlive a command")

	_, err = execute(t, "--config", cfg, "collections", "delete", "notes")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--yes")

	_, err = execute(t, "--config", cfg, "collections", "stats", "notes")
	require.Error(t, err)
	assert.Equal(t, model.KindNotFound, model.ErrorKind(err))
}

func TestTokenCommand(t *testing.T) {
	_, err := execute(t, "--config", writeConfig(t, ""), "token")
	require.Error(t, err)

	cfg := writeConfig(t, "jwt:\n  secret: \"cli-secret\"\n")
	out, err := execute(t, "--config", cfg, "token", "--subject", "ops")
	require.NoError(t, err)
	assert.Nil(t, app, "token does not build the application")

	claims, err := token.NewJWTManager("cli-secret", 1).VerifyToken(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, token.RoleAdmin, claims.Role)
	assert.Equal(t, "ops", claims.Subject)
}
