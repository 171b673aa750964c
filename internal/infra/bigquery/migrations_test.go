package bigquery

import (
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testRef = TableRef{ProjectID: "proj", DatasetID: "finance", TableID: "ledger_transactions"}

func TestParseMigrationsFilenames(t *testing.T) {
	fsys := fstest.MapFS{
		"0002_second.sql":       {Data: []byte("SELECT 2")},
		"0001_init.sql":         {Data: []byte("CREATE TABLE `{{PROJECT_ID}}.{{DATASET_ID}}.{{TABLE_ID}}` (id INT64)")},
		"001_invalid.sql":       {Data: []byte("x")},
		"0003_test":             {Data: []byte("x")},
		"0004.sql":              {Data: []byte("x")},
		"invalid_0005_test.sql": {Data: []byte("x")},
		"README.md":             {Data: []byte("x")},
	}

	migrations, err := ParseMigrations(fsys, testRef)
	require.NoError(t, err)
	require.Len(t, migrations, 2)

	assert.Equal(t, 1, migrations[0].Version)
	assert.Equal(t, "init", migrations[0].Name)
	assert.Equal(t, "CREATE TABLE `proj.finance.ledger_transactions` (id INT64)", migrations[0].SQL)
	assert.Equal(t, 2, migrations[1].Version)
	assert.Equal(t, "0002_second.sql", migrations[1].Filename)
}

func TestParseMigrationsChecksumIgnoresTarget(t *testing.T) {
	fsys := fstest.MapFS{
		"0001_init.sql": {Data: []byte("CREATE TABLE `{{PROJECT_ID}}.{{DATASET_ID}}.t` (id INT64)")},
	}

	a, err := ParseMigrations(fsys, testRef)
	require.NoError(t, err)
	b, err := ParseMigrations(fsys, TableRef{ProjectID: "other", DatasetID: "staging"})
	require.NoError(t, err)

	assert.Equal(t, a[0].Checksum, b[0].Checksum)
	assert.NotEqual(t, a[0].SQL, b[0].SQL)
	assert.Len(t, a[0].Checksum, 64)
}

func TestParseMigrationsDuplicateVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"0001_a.sql": {Data: []byte("SELECT 1")},
		"0001_b.sql": {Data: []byte("SELECT 1")},
	}

	_, err := ParseMigrations(fsys, testRef)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0001")
}

func TestPendingMigrations(t *testing.T) {
	migrations := []Migration{
		{Version: 1, Name: "init", Checksum: "aaa"},
		{Version: 2, Name: "view", Checksum: "bbb"},
		{Version: 3, Name: "more", Checksum: "ccc"},
	}
	applied := []AppliedMigration{
		{Version: 1, Checksum: "aaa"},
		{Version: 2, Checksum: "changed"},
	}

	pending, drifted := PendingMigrations(migrations, applied)
	require.Len(t, pending, 1)
	assert.Equal(t, 3, pending[0].Version)
	require.Len(t, drifted, 1)
	assert.Equal(t, 2, drifted[0].Version)
}

func TestBundledMigrations(t *testing.T) {
	migrations, err := ParseMigrations(BundledMigrations(), testRef)
	require.NoError(t, err)
	require.NotEmpty(t, migrations)

	assert.Equal(t, 1, migrations[0].Version)
	assert.Contains(t, migrations[0].SQL, "`proj.finance.ledger_transactions`")
	last := migrations[len(migrations)-1]
	assert.Equal(t, 3, last.Version)
	assert.Contains(t, last.SQL, "ADD COLUMN IF NOT EXISTS ingest_seq INT64")
	for _, m := range migrations {
		assert.False(t, strings.Contains(m.SQL, "{{"), "unexpanded placeholder in %s", m.Filename)
	}
}
