// internal/graphstore/postgres_test.go
package graphstore

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/screengraph/internal/domain"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func pinClock(t *testing.T) {
	t.Helper()
	prev := nowFunc
	nowFunc = func() time.Time { return fixedNow }
	t.Cleanup(func() { nowFunc = prev })
}

func newMockRepo(t *testing.T) (*PostgresRepo, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	mockPool.ExpectPing()
	repo, err := NewPostgresRepo(context.Background(), mockPool, zap.NewNop())
	require.NoError(t, err)
	return repo, mockPool
}

func TestNewPostgresRepo_PingFailure(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	mockPool.ExpectPing().WillReturnError(errors.New("connection refused"))

	repo, err := NewPostgresRepo(context.Background(), mockPool, zap.NewNop())
	assert.Nil(t, repo)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDatabase))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgresRepo_Migrate(t *testing.T) {
	repo, mockPool := newMockRepo(t)
	mockPool.ExpectExec(flexibleSQLMatcher(postgresSchema)).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, repo.Migrate(context.Background()))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgresRepo_UpsertNode(t *testing.T) {
	pinClock(t)
	repo, mockPool := newMockRepo(t)
	meta := domain.NodeMeta{RunID: "run-1", AppID: "com.example.notes"}

	mockPool.ExpectQuery(flexibleSQLMatcher(sqlUpsertNode)).
		WithArgs("home", "com.example.notes", "l-home", "o-home", "run-1", pgxmock.AnyArg(), fixedNow).
		WillReturnRows(pgxmock.NewRows([]string{"created"}).AddRow(true))
	mockPool.ExpectQuery(flexibleSQLMatcher(sqlUpsertNode)).
		WithArgs("home", "com.example.notes", "l-home", "o-home", "run-1", pgxmock.AnyArg(), fixedNow).
		WillReturnRows(pgxmock.NewRows([]string{"created"}).AddRow(false))

	first, err := repo.UpsertNode(context.Background(), sig("home"), meta)
	require.NoError(t, err)
	assert.Equal(t, domain.UpsertResult{ID: "home", Created: true}, first)

	second, err := repo.UpsertNode(context.Background(), sig("home"), meta)
	require.NoError(t, err)
	assert.Equal(t, domain.UpsertResult{ID: "home", Created: false}, second)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgresRepo_UpsertNodeDatabaseError(t *testing.T) {
	repo, mockPool := newMockRepo(t)
	mockPool.ExpectQuery(flexibleSQLMatcher(sqlUpsertNode)).
		WillReturnError(errors.New("deadlock detected"))

	_, err := repo.UpsertNode(context.Background(), sig("home"), domain.NodeMeta{})
	require.Error(t, err)
	var derr *domain.Error
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, domain.CodeDatabase, derr.Code)
	assert.True(t, derr.Transient())
}

func TestPostgresRepo_UpsertEdge(t *testing.T) {
	pinClock(t)
	repo, mockPool := newMockRepo(t)
	id, err := EdgeID("home", "settings", "tap:settings")
	require.NoError(t, err)

	mockPool.ExpectQuery(flexibleSQLMatcher(sqlUpsertEdge)).
		WithArgs(id, "home", "settings", "tap:settings", "run-1", fixedNow).
		WillReturnRows(pgxmock.NewRows([]string{"created"}).AddRow(true))

	res, err := repo.UpsertEdge(context.Background(), "home", "settings", "tap:settings", domain.EdgeMeta{RunID: "run-1"})
	require.NoError(t, err)
	assert.Equal(t, domain.UpsertResult{ID: id, Created: true}, res)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgresRepo_UpsertEdgeMissingNode(t *testing.T) {
	repo, mockPool := newMockRepo(t)
	mockPool.ExpectQuery(flexibleSQLMatcher(sqlUpsertEdge)).
		WillReturnError(&pgconn.PgError{Code: pgForeignKeyViolation})

	_, err := repo.UpsertEdge(context.Background(), "home", "ghost", "tap:x", domain.EdgeMeta{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresRepo_GetNode(t *testing.T) {
	repo, mockPool := newMockRepo(t)
	columns := []string{"id", "app_id", "layout_hash", "ocr_stems_hash", "first_run_id", "bundle", "visits", "first_seen", "last_seen"}

	mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectNode)).
		WithArgs("home").
		WillReturnRows(pgxmock.NewRows(columns).
			AddRow("home", "com.example.notes", "l", "o", "run-1", []byte(`{"screenshot_ref":"screenshot/1"}`), 3, fixedNow, fixedNow))
	mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectNode)).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	node, err := repo.GetNode(context.Background(), "home")
	require.NoError(t, err)
	assert.Equal(t, 3, node.Visits)
	assert.Equal(t, "screenshot/1", node.Bundle.ScreenshotRef)

	_, err = repo.GetNode(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgresRepo_GetNeighbors(t *testing.T) {
	repo, mockPool := newMockRepo(t)
	columns := []string{"id", "app_id", "layout_hash", "ocr_stems_hash", "first_run_id", "bundle", "visits", "first_seen", "last_seen"}
	mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectNeighbors)).
		WithArgs("home").
		WillReturnRows(pgxmock.NewRows(columns).
			AddRow("archive", "app", "l", "o", "run-1", []byte(`{}`), 1, fixedNow, fixedNow).
			AddRow("settings", "app", "l", "o", "run-1", []byte(`{}`), 2, fixedNow, fixedNow))

	got, err := repo.GetNeighbors(context.Background(), "home")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "archive", got[0].ID)
	assert.Equal(t, "settings", got[1].ID)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgresRepo_Stats(t *testing.T) {
	repo, mockPool := newMockRepo(t)
	mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectStats)).
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"n", "e", "rn", "re"}).AddRow(10, 14, 4, 6))

	stats, err := repo.GetExplorationStats(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ExplorationStats{NodesTotal: 10, EdgesTotal: 14, RunNodes: 4, RunEdges: 6}, stats)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgresRepo_SaveRunAndClose(t *testing.T) {
	pinClock(t)
	repo, mockPool := newMockRepo(t)
	mockPool.ExpectExec(flexibleSQLMatcher(sqlUpsertRun)).
		WithArgs("run-1", "com.example.notes", "no_progress", "expected", pgxmock.AnyArg(), fixedNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mockPool.ExpectClose()

	err := repo.SaveRun(context.Background(), domain.RunSummary{
		RunID:      "run-1",
		AppID:      "com.example.notes",
		StopReason: domain.StopNoProgress,
		Class:      domain.ClassExpected,
	})
	require.NoError(t, err)
	require.NoError(t, repo.Close())
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
