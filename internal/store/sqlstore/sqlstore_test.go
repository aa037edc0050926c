package sqlstore_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"asset-tracker-api/internal/models"
	"asset-tracker-api/internal/store/sqlstore"
	"asset-tracker-api/internal/store/storetest"
	"asset-tracker-api/internal/testutil"
	"asset-tracker-api/internal/tracking"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func openSQLite(t *testing.T) *sqlstore.Store {
	t.Helper()
	ctx := context.Background()
	s, err := sqlstore.Open(ctx, sqlstore.Config{
		Driver: sqlstore.SQLite,
		Path:   filepath.Join(t.TempDir(), "tracker.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(ctx))
	return s
}

func TestSQLiteConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) tracking.Store { return openSQLite(t) })
}

func TestPostgresConformance(t *testing.T) {
	testutil.RequireIntegration(t)
	storetest.Run(t, func(t *testing.T) tracking.Store {
		ctx := context.Background()
		s, err := sqlstore.Open(ctx, sqlstore.Config{Driver: sqlstore.Postgres, DSN: testutil.DatabaseURL()})
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		testutil.ResetSchema(t, s.DB())
		require.NoError(t, s.Migrate(ctx))
		return s
	})
}

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)

	require.NoError(t, s.Migrate(ctx))
	migrations, err := s.Migrations(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, migrations)
	for _, m := range migrations {
		assert.True(t, m.Applied, m.Filename)
		assert.Len(t, m.Checksum, 64)
	}
}

func TestMalformedMetadataReadsAsNull(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := s.Repos().Tags.Observe(ctx, "BAD-1", now, models.Metadata{"ok": true}, now)
	require.NoError(t, err)
	_, err = s.DB().ExecContext(ctx, "UPDATE tags SET metadata = ? WHERE uid = ?", "{not json", "BAD-1")
	require.NoError(t, err)

	tag, err := s.Repos().Tags.GetByUID(ctx, "BAD-1")
	require.NoError(t, err)
	assert.Nil(t, tag.Metadata)
}

func TestBareMetadataObjectIsAccepted(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := s.Repos().Tags.Ensure(ctx, "OLD-1", now)
	require.NoError(t, err)
	_, err = s.DB().ExecContext(ctx, "UPDATE tags SET metadata = ? WHERE uid = ?", `{"vendor":"legacy"}`, "OLD-1")
	require.NoError(t, err)

	tag, err := s.Repos().Tags.GetByUID(ctx, "OLD-1")
	require.NoError(t, err)
	assert.Equal(t, "legacy", tag.Metadata["vendor"])
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := sqlstore.Open(context.Background(), sqlstore.Config{Driver: "oracle"})
	assert.Error(t, err)
}

func TestSQLiteFileSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reopen.db")
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	first, err := sqlstore.Open(ctx, sqlstore.Config{Driver: sqlstore.SQLite, Path: path})
	require.NoError(t, err)
	require.NoError(t, first.Migrate(ctx))
	_, err = first.Repos().Tags.Ensure(ctx, "KEEP", now)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	_, err = os.Stat(path)
	require.NoError(t, err)

	second, err := sqlstore.Open(ctx, sqlstore.Config{Driver: sqlstore.SQLite, Path: path})
	require.NoError(t, err)
	defer second.Close()
	require.NoError(t, second.Migrate(ctx))
	tag, err := second.Repos().Tags.GetByUID(ctx, "KEEP")
	require.NoError(t, err)
	assert.Equal(t, "KEEP", tag.UID)
}
