// internal/graphstore/sqlite.go
package graphstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/xkilldash9x/screengraph/api/schemas"
	"github.com/xkilldash9x/screengraph/internal/domain"
)

// SQLiteRepo is a single-file GraphRepository for local runs.
type SQLiteRepo struct {
	db  *sql.DB
	log *zap.Logger
}

var _ schemas.GraphRepository = (*SQLiteRepo)(nil)

// OpenSQLite opens (creating if needed) the database at path and applies the schema.
func OpenSQLite(ctx context.Context, path string, logger *zap.Logger) (*SQLiteRepo, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, dbError("graphstore.open", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, dbError("graphstore.ping", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, dbError("graphstore.migrate", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLiteRepo{db: db, log: logger.Named("sqlite_graph")}, nil
}

func (r *SQLiteRepo) UpsertNode(ctx context.Context, sig domain.ScreenSignature, meta domain.NodeMeta) (domain.UpsertResult, error) {
	id, err := NodeID(sig)
	if err != nil {
		return domain.UpsertResult{}, err
	}
	bundle, err := json.Marshal(meta.Bundle)
	if err != nil {
		return domain.UpsertResult{}, fmt.Errorf("failed to marshal bundle: %w", err)
	}
	now := ts(nowFunc())

	var created bool
	err = r.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
INSERT INTO screen_nodes(id, app_id, layout_hash, ocr_stems_hash, first_run_id, bundle, visits, first_seen, last_seen)
VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)
ON CONFLICT(id) DO NOTHING`,
			id, meta.AppID, sig.LayoutHash, sig.OCRStemsHash, meta.RunID, string(bundle), now, now)
		if err != nil {
			return err
		}
		if created, err = inserted(res); err != nil || created {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE screen_nodes SET visits = visits + 1, last_seen = ? WHERE id = ?`, now, id)
		return err
	})
	if err != nil {
		return domain.UpsertResult{}, dbError("graphstore.upsert_node", err)
	}
	return domain.UpsertResult{ID: id, Created: created}, nil
}

func (r *SQLiteRepo) UpsertEdge(ctx context.Context, from, to, action string, meta domain.EdgeMeta) (domain.UpsertResult, error) {
	id, err := EdgeID(from, to, action)
	if err != nil {
		return domain.UpsertResult{}, err
	}
	now := ts(nowFunc())

	var created bool
	err = r.inTx(ctx, func(tx *sql.Tx) error {
		for _, end := range []string{from, to} {
			var one int
			err := tx.QueryRowContext(ctx, `SELECT 1 FROM screen_nodes WHERE id = ?`, end).Scan(&one)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("node %q: %w", end, ErrNotFound)
			}
			if err != nil {
				return err
			}
		}
		res, err := tx.ExecContext(ctx, `
INSERT INTO transition_edges(id, from_id, to_id, action, first_run_id, count, first_seen, last_seen)
VALUES (?, ?, ?, ?, ?, 1, ?, ?)
ON CONFLICT(id) DO NOTHING`,
			id, from, to, action, meta.RunID, now, now)
		if err != nil {
			return err
		}
		if created, err = inserted(res); err != nil || created {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE transition_edges SET count = count + 1, last_seen = ? WHERE id = ?`, now, id)
		return err
	})
	if errors.Is(err, ErrNotFound) {
		return domain.UpsertResult{}, err
	}
	if err != nil {
		return domain.UpsertResult{}, dbError("graphstore.upsert_edge", err)
	}
	return domain.UpsertResult{ID: id, Created: created}, nil
}

const sqliteNodeColumns = `id, app_id, layout_hash, ocr_stems_hash, first_run_id, bundle, visits, first_seen, last_seen`

func (r *SQLiteRepo) GetNode(ctx context.Context, id string) (domain.ScreenNode, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sqliteNodeColumns+` FROM screen_nodes WHERE id = ?`, id)
	n, err := scanSQLiteNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ScreenNode{}, fmt.Errorf("node %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return domain.ScreenNode{}, dbError("graphstore.get_node", err)
	}
	return n, nil
}

func (r *SQLiteRepo) GetNeighbors(ctx context.Context, id string) ([]domain.ScreenNode, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT DISTINCT n.id, n.app_id, n.layout_hash, n.ocr_stems_hash, n.first_run_id, n.bundle, n.visits, n.first_seen, n.last_seen
FROM transition_edges e
JOIN screen_nodes n ON n.id = e.to_id
WHERE e.from_id = ?
ORDER BY n.id`, id)
	if err != nil {
		return nil, dbError("graphstore.get_neighbors", err)
	}
	defer rows.Close()

	var out []domain.ScreenNode
	for rows.Next() {
		n, err := scanSQLiteNode(rows)
		if err != nil {
			return nil, dbError("graphstore.get_neighbors", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("graphstore.get_neighbors", err)
	}
	return out, nil
}

func (r *SQLiteRepo) GetExplorationStats(ctx context.Context, runID string) (domain.ExplorationStats, error) {
	var s domain.ExplorationStats
	err := r.db.QueryRowContext(ctx, `
SELECT
	(SELECT count(*) FROM screen_nodes),
	(SELECT count(*) FROM transition_edges),
	(SELECT count(*) FROM screen_nodes WHERE first_run_id = ?),
	(SELECT count(*) FROM transition_edges WHERE first_run_id = ?)`, runID, runID).
		Scan(&s.NodesTotal, &s.EdgesTotal, &s.RunNodes, &s.RunEdges)
	if err != nil {
		return domain.ExplorationStats{}, dbError("graphstore.stats", err)
	}
	return s, nil
}

func (r *SQLiteRepo) SaveRun(ctx context.Context, summary domain.RunSummary) error {
	if summary.RunID == "" {
		return errors.New("run summary has no run id")
	}
	body, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal run summary: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO runs(run_id, app_id, stop_reason, class, summary, finished_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(run_id) DO UPDATE SET
	stop_reason=excluded.stop_reason,
	class=excluded.class,
	summary=excluded.summary,
	finished_at=excluded.finished_at`,
		summary.RunID, summary.AppID, string(summary.StopReason), string(summary.Class), string(body), ts(nowFunc()))
	if err != nil {
		return dbError("graphstore.save_run", err)
	}
	return nil
}

// LoadRun reads back a saved summary.
func (r *SQLiteRepo) LoadRun(ctx context.Context, runID string) (domain.RunSummary, error) {
	var body string
	err := r.db.QueryRowContext(ctx, `SELECT summary FROM runs WHERE run_id = ?`, runID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RunSummary{}, fmt.Errorf("run %q: %w", runID, ErrNotFound)
	}
	if err != nil {
		return domain.RunSummary{}, dbError("graphstore.load_run", err)
	}
	var s domain.RunSummary
	if err := json.Unmarshal([]byte(body), &s); err != nil {
		return domain.RunSummary{}, fmt.Errorf("failed to decode run summary: %w", err)
	}
	return s, nil
}

func (r *SQLiteRepo) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *SQLiteRepo) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			r.log.Error("Failed to rollback transaction", zap.Error(rbErr))
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func inserted(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSQLiteNode(row scanner) (domain.ScreenNode, error) {
	var (
		n                   domain.ScreenNode
		bundle, first, last string
	)
	if err := row.Scan(&n.ID, &n.AppID, &n.LayoutHash, &n.OCRStemsHash, &n.FirstRunID,
		&bundle, &n.Visits, &first, &last); err != nil {
		return domain.ScreenNode{}, err
	}
	if bundle != "" {
		if err := json.Unmarshal([]byte(bundle), &n.Bundle); err != nil {
			return domain.ScreenNode{}, fmt.Errorf("failed to decode bundle: %w", err)
		}
	}
	var err error
	if n.FirstSeen, err = time.Parse(time.RFC3339Nano, first); err != nil {
		return domain.ScreenNode{}, err
	}
	if n.LastSeen, err = time.Parse(time.RFC3339Nano, last); err != nil {
		return domain.ScreenNode{}, err
	}
	return n, nil
}

func ts(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }
