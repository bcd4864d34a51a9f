package migration

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	require.NoError(t, err)
	entries, err := fs.ReadDir(sub, ".")
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, entry := range entries {
		name := entry.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Fatalf("unexpected migration file %s", name)
		}
	}
	assert.Equal(t, ups, downs)
}

func TestEmbeddedVersionsAscend(t *testing.T) {
	known, err := versions()
	require.NoError(t, err)
	assert.Equal(t, []uint{1, 2, 3}, known)
}

func TestPendingCountsVersionsInRange(t *testing.T) {
	known := []uint{1, 2, 3}
	assert.Equal(t, 3, pending(known, 0, 3))
	assert.Equal(t, 1, pending(known, 2, 3))
	assert.Equal(t, 0, pending(known, 3, 3))
}

func TestApplyRequiresHandle(t *testing.T) {
	_, err := Apply(nil, zaptest.NewLogger(t))
	assert.Error(t, err)
}
