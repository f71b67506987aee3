package migration

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/smallbiznis/reviewdesk/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	ups, downs := 0, 0
	for _, entry := range entries {
		switch {
		case strings.HasSuffix(entry.Name(), ".up.sql"):
			ups++
		case strings.HasSuffix(entry.Name(), ".down.sql"):
			downs++
		}
	}
	assert.Equal(t, ups, downs)
}

func TestRunAutoMigratesSQLite(t *testing.T) {
	conn := dbtest.New(t)

	require.NoError(t, Run(conn, "sqlite"))
	require.NoError(t, Run(conn, "sqlite"), "second run is a no-op")

	for _, table := range []string{"accounts", "usage_records", "reviews", "responses", "response_versions", "brand_voices"} {
		assert.True(t, conn.Migrator().HasTable(table), table)
	}
}

func TestRunRejectsUnknownType(t *testing.T) {
	conn := dbtest.New(t)
	assert.Error(t, Run(conn, "oracle"))
	assert.Error(t, Run(nil, "sqlite"))
}
