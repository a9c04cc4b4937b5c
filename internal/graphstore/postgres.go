// internal/graphstore/postgres.go
package graphstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/screengraph/api/schemas"
	"github.com/xkilldash9x/screengraph/internal/domain"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DBPool abstracts pgxpool.Pool so the repository can be driven by pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// postgres foreign key violation
const pgForeignKeyViolation = "23503"

const (
	sqlUpsertNode = `
        INSERT INTO screen_nodes (id, app_id, layout_hash, ocr_stems_hash, first_run_id, bundle, visits, first_seen, last_seen)
        VALUES ($1, $2, $3, $4, $5, $6, 1, $7, $7)
        ON CONFLICT (id) DO UPDATE SET
            visits = screen_nodes.visits + 1,
            last_seen = EXCLUDED.last_seen
        RETURNING (xmax = 0) AS created;
    `
	sqlUpsertEdge = `
        INSERT INTO transition_edges (id, from_id, to_id, action, first_run_id, count, first_seen, last_seen)
        VALUES ($1, $2, $3, $4, $5, 1, $6, $6)
        ON CONFLICT (id) DO UPDATE SET
            count = transition_edges.count + 1,
            last_seen = EXCLUDED.last_seen
        RETURNING (xmax = 0) AS created;
    `
	sqlSelectNode = `
        SELECT id, app_id, layout_hash, ocr_stems_hash, first_run_id, bundle, visits, first_seen, last_seen
        FROM screen_nodes WHERE id = $1;
    `
	sqlSelectNeighbors = `
        SELECT DISTINCT n.id, n.app_id, n.layout_hash, n.ocr_stems_hash, n.first_run_id, n.bundle, n.visits, n.first_seen, n.last_seen
        FROM transition_edges e
        JOIN screen_nodes n ON n.id = e.to_id
        WHERE e.from_id = $1
        ORDER BY n.id;
    `
	sqlSelectStats = `
        SELECT
            (SELECT count(*) FROM screen_nodes),
            (SELECT count(*) FROM transition_edges),
            (SELECT count(*) FROM screen_nodes WHERE first_run_id = $1),
            (SELECT count(*) FROM transition_edges WHERE first_run_id = $1);
    `
	sqlUpsertRun = `
        INSERT INTO runs (run_id, app_id, stop_reason, class, summary, finished_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (run_id) DO UPDATE SET
            stop_reason = EXCLUDED.stop_reason,
            class = EXCLUDED.class,
            summary = EXCLUDED.summary,
            finished_at = EXCLUDED.finished_at;
    `
)

// PostgresRepo is the durable GraphRepository.
type PostgresRepo struct {
	pool DBPool
	log  *zap.Logger
}

var _ schemas.GraphRepository = (*PostgresRepo)(nil)

// Connect opens a pgx pool for url and wraps it in a repository.
func Connect(ctx context.Context, url string, logger *zap.Logger) (*PostgresRepo, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, dbError("graphstore.connect", err)
	}
	repo, err := NewPostgresRepo(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return repo, nil
}

// NewPostgresRepo verifies the connection before returning.
func NewPostgresRepo(ctx context.Context, pool DBPool, logger *zap.Logger) (*PostgresRepo, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, dbError("graphstore.ping", fmt.Errorf("failed to ping database: %w", err))
	}
	return &PostgresRepo{pool: pool, log: logger.Named("graph_store")}, nil
}

// Migrate creates the tables if they do not exist.
func (r *PostgresRepo) Migrate(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, postgresSchema); err != nil {
		return dbError("graphstore.migrate", err)
	}
	return nil
}

func (r *PostgresRepo) UpsertNode(ctx context.Context, sig domain.ScreenSignature, meta domain.NodeMeta) (domain.UpsertResult, error) {
	id, err := NodeID(sig)
	if err != nil {
		return domain.UpsertResult{}, err
	}
	bundle, err := json.Marshal(meta.Bundle)
	if err != nil {
		return domain.UpsertResult{}, fmt.Errorf("failed to marshal bundle: %w", err)
	}

	var created bool
	row := r.pool.QueryRow(ctx, sqlUpsertNode,
		id, meta.AppID, sig.LayoutHash, sig.OCRStemsHash, meta.RunID, bundle, nowFunc())
	if err := row.Scan(&created); err != nil {
		return domain.UpsertResult{}, dbError("graphstore.upsert_node", err)
	}
	return domain.UpsertResult{ID: id, Created: created}, nil
}

func (r *PostgresRepo) UpsertEdge(ctx context.Context, from, to, action string, meta domain.EdgeMeta) (domain.UpsertResult, error) {
	id, err := EdgeID(from, to, action)
	if err != nil {
		return domain.UpsertResult{}, err
	}

	var created bool
	row := r.pool.QueryRow(ctx, sqlUpsertEdge, id, from, to, action, meta.RunID, nowFunc())
	if err := row.Scan(&created); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return domain.UpsertResult{}, fmt.Errorf("edge %s -> %s: %w", from, to, ErrNotFound)
		}
		return domain.UpsertResult{}, dbError("graphstore.upsert_edge", err)
	}
	return domain.UpsertResult{ID: id, Created: created}, nil
}

func (r *PostgresRepo) GetNode(ctx context.Context, id string) (domain.ScreenNode, error) {
	n, err := scanNode(r.pool.QueryRow(ctx, sqlSelectNode, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ScreenNode{}, fmt.Errorf("node %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return domain.ScreenNode{}, dbError("graphstore.get_node", err)
	}
	return n, nil
}

func (r *PostgresRepo) GetNeighbors(ctx context.Context, id string) ([]domain.ScreenNode, error) {
	rows, err := r.pool.Query(ctx, sqlSelectNeighbors, id)
	if err != nil {
		return nil, dbError("graphstore.get_neighbors", err)
	}
	defer rows.Close()

	var out []domain.ScreenNode
	for rows.Next() {
		n, err := scanNode(rows)
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

func (r *PostgresRepo) GetExplorationStats(ctx context.Context, runID string) (domain.ExplorationStats, error) {
	var s domain.ExplorationStats
	err := r.pool.QueryRow(ctx, sqlSelectStats, runID).
		Scan(&s.NodesTotal, &s.EdgesTotal, &s.RunNodes, &s.RunEdges)
	if err != nil {
		return domain.ExplorationStats{}, dbError("graphstore.stats", err)
	}
	return s, nil
}

func (r *PostgresRepo) SaveRun(ctx context.Context, summary domain.RunSummary) error {
	if summary.RunID == "" {
		return errors.New("run summary has no run id")
	}
	body, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal run summary: %w", err)
	}
	_, err = r.pool.Exec(ctx, sqlUpsertRun,
		summary.RunID, summary.AppID, string(summary.StopReason), string(summary.Class), body, nowFunc())
	if err != nil {
		return dbError("graphstore.save_run", err)
	}
	r.log.Info("Run saved", zap.String("run_id", summary.RunID), zap.String("stop_reason", string(summary.StopReason)))
	return nil
}

func (r *PostgresRepo) Close() error {
	r.pool.Close()
	return nil
}

func scanNode(row pgx.Row) (domain.ScreenNode, error) {
	var (
		n      domain.ScreenNode
		bundle []byte
	)
	err := row.Scan(&n.ID, &n.AppID, &n.LayoutHash, &n.OCRStemsHash, &n.FirstRunID,
		&bundle, &n.Visits, &n.FirstSeen, &n.LastSeen)
	if err != nil {
		return domain.ScreenNode{}, err
	}
	if len(bundle) > 0 {
		if err := json.Unmarshal(bundle, &n.Bundle); err != nil {
			return domain.ScreenNode{}, fmt.Errorf("failed to decode bundle: %w", err)
		}
	}
	return n, nil
}
