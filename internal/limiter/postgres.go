package limiter

import (
	"context"
	"crypto/sha256"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PG keeps failure counters in the signin_limiter table. Failures older than
// window restart the count; maxFails failures inside it block for blockFor.
type PG struct {
	db       querier
	window   time.Duration
	maxFails int
	blockFor time.Duration
	now      func() time.Time
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Settings configure a PG limiter.
type Settings struct {
	Window   time.Duration
	MaxFails int
	BlockFor time.Duration
}

// NewPG constructs a PostgreSQL-backed limiter.
func NewPG(pool *pgxpool.Pool, s Settings) *PG { return newPG(pool, s) }

func newPG(q querier, s Settings) *PG {
	if s.MaxFails <= 0 {
		s.MaxFails = 5
	}
	return &PG{db: q, window: s.Window, maxFails: s.MaxFails, blockFor: s.BlockFor, now: time.Now}
}

// HashOrigin hashes the caller origin (host, device id) so raw values are never stored.
func HashOrigin(origin string) []byte {
	h := sha256.Sum256([]byte(origin))
	return h[:]
}

func (l *PG) Allow(ctx context.Context, email string, origin []byte) (bool, time.Duration, error) {
	const q = `SELECT blocked_until FROM signin_limiter WHERE email=$1 AND origin_hash=$2`
	var blockedUntil time.Time
	err := l.db.QueryRow(ctx, q, email, origin).Scan(&blockedUntil)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return true, 0, nil
	case err != nil:
		return false, 0, err
	}
	if now := l.now(); blockedUntil.After(now) {
		return false, blockedUntil.Sub(now), nil
	}
	return true, 0, nil
}

func (l *PG) Success(ctx context.Context, email string, origin []byte) error {
	const q = `
INSERT INTO signin_limiter (email, origin_hash, fail_count, blocked_until, updated_at)
VALUES ($1, $2, 0, 'epoch', now())
ON CONFLICT (email, origin_hash)
DO UPDATE SET fail_count=0, blocked_until='epoch', updated_at=now()`
	_, err := l.db.Exec(ctx, q, email, origin)
	return err
}

func (l *PG) Failure(ctx context.Context, email string, origin []byte) (bool, time.Duration, error) {
	const q = `
INSERT INTO signin_limiter (email, origin_hash, fail_count, blocked_until, updated_at)
VALUES ($1, $2, 1, 'epoch', now())
ON CONFLICT (email, origin_hash) DO UPDATE
SET
  fail_count = CASE WHEN now() - signin_limiter.updated_at > $3::interval THEN 1 ELSE signin_limiter.fail_count + 1 END,
  updated_at = now()
RETURNING fail_count`
	var fails int
	if err := l.db.QueryRow(ctx, q, email, origin, l.window).Scan(&fails); err != nil {
		return false, 0, err
	}
	if fails < l.maxFails {
		return false, 0, nil
	}
	const upd = `UPDATE signin_limiter SET blocked_until=$3 WHERE email=$1 AND origin_hash=$2`
	if _, err := l.db.Exec(ctx, upd, email, origin, l.now().Add(l.blockFor)); err != nil {
		return false, 0, err
	}
	return true, l.blockFor, nil
}
