package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/verawat1234/tchat-sub013/internal/core/domain"
	"github.com/verawat1234/tchat-sub013/internal/core/ports"
)

type PostgresStreamRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresStreamRepository(pool *pgxpool.Pool) ports.StreamStore {
	return &PostgresStreamRepository{pool: pool}
}

const streamColumns = `id, stream_type, status, broadcaster_id, store_id, title, started_at, ended_at`

func (r *PostgresStreamRepository) Save(ctx context.Context, stream *domain.Stream) error {
	_, err := r.pool.Exec(ctx, `
INSERT INTO live_streams (`+streamColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE SET
	stream_type = EXCLUDED.stream_type,
	status = EXCLUDED.status,
	broadcaster_id = EXCLUDED.broadcaster_id,
	store_id = EXCLUDED.store_id,
	title = EXCLUDED.title,
	started_at = EXCLUDED.started_at,
	ended_at = EXCLUDED.ended_at
`, string(stream.ID), string(stream.Type), string(stream.Status), string(stream.BroadcasterID),
		stream.StoreID, stream.Title, stream.StartedAt, stream.EndedAt)
	if err != nil {
		return fmt.Errorf("save stream %s: %w", stream.ID, err)
	}
	return nil
}

func (r *PostgresStreamRepository) Get(ctx context.Context, id domain.StreamID) (*domain.Stream, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+streamColumns+` FROM live_streams WHERE id = $1`, string(id))
	stream, err := scanStream(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrStreamNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get stream %s: %w", id, err)
	}
	return stream, nil
}

func (r *PostgresStreamRepository) UpdateStatus(ctx context.Context, id domain.StreamID, status domain.StreamStatus, endedAt *time.Time) error {
	tag, err := r.pool.Exec(ctx, `
UPDATE live_streams SET status = $2, ended_at = COALESCE($3, ended_at) WHERE id = $1
`, string(id), string(status), endedAt)
	if err != nil {
		return fmt.Errorf("update stream %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrStreamNotFound
	}
	return nil
}

func (r *PostgresStreamRepository) ListLive(ctx context.Context) ([]*domain.Stream, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+streamColumns+` FROM live_streams WHERE status = $1 ORDER BY id`,
		string(domain.StreamStatusLive))
	if err != nil {
		return nil, fmt.Errorf("list live streams: %w", err)
	}
	defer rows.Close()

	var live []*domain.Stream
	for rows.Next() {
		stream, err := scanStream(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stream: %w", err)
		}
		live = append(live, stream)
	}
	return live, rows.Err()
}

func scanStream(row pgx.Row) (*domain.Stream, error) {
	var (
		s                            domain.Stream
		id, typ, status, broadcaster string
		startedAt, endedAt           *time.Time
	)
	if err := row.Scan(&id, &typ, &status, &broadcaster, &s.StoreID, &s.Title, &startedAt, &endedAt); err != nil {
		return nil, err
	}
	s.ID = domain.StreamID(id)
	s.Type = domain.StreamType(typ)
	s.Status = domain.StreamStatus(status)
	s.BroadcasterID = domain.UserID(broadcaster)
	s.StartedAt = startedAt
	s.EndedAt = endedAt
	return &s, nil
}
