package cli

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justbri/shelfmark/client"
	"github.com/justbri/shelfmark/models"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "shelfmark", cmd.Use)

	flag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, flag)
	assert.Equal(t, "c", flag.Shorthand)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, path := range [][]string{{"serve"}, {"migrate"}, {"seed-admin"}, {"catalog", "check"}, {"catalog", "refresh"}, {"watch"}} {
		sub, _, err := cmd.Find(path)
		require.NoError(t, err, "command %v should exist", path)
		assert.Equal(t, path[len(path)-1], sub.Name())
	}
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestMigrateAndSeed(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "shelfmark.db")
	t.Setenv("DATABASE_URL", "sqlite://"+dbPath)
	t.Setenv("ADMIN_USERNAME", "root")
	t.Setenv("ADMIN_PASSWORD", "hunter22")

	out, err := run(t, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "Migrations applied (sqlite3)")

	out, err = run(t, "seed-admin")
	require.NoError(t, err)
	assert.Contains(t, out, `Admin user "root" created`)

	out, err = run(t, "seed-admin")
	require.NoError(t, err)
	assert.Contains(t, out, "already exists")
}

func TestCatalogRequiresConfig(t *testing.T) {
	t.Setenv("AUDIOBOOK_LIBRARY_URL", "")
	t.Setenv("ABS_API_TOKEN", "")
	_, err := run(t, "catalog", "refresh")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ABS_API_TOKEN")
}

func TestBadConfigFile(t *testing.T) {
	_, err := run(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestWatchRequiresUsername(t *testing.T) {
	_, err := run(t, "watch", "--server", "http://127.0.0.1:1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "username")
}

func TestSummarize(t *testing.T) {
	unviewed := 2
	counts := &client.Counts{
		ByStatus: models.Counts{models.StatusPending: 3, models.StatusFulfilled: 1},
		Total:    4,
		Unviewed: &unviewed,
	}
	assert.Equal(t, "[push] 4 requests pending=3 fulfilled=1 unviewed=2", summarize(4, counts, client.ModePush))
	assert.Equal(t, "[connecting] 0 requests", summarize(0, nil, client.ModeConnecting))
}
