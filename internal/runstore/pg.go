// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package runstore

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"malo-handover/internal/coordination"
	"malo-handover/pkg/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS coordination_runs (
    id          TEXT PRIMARY KEY,
    kind        TEXT NOT NULL,
    malo_id     TEXT NOT NULL,
    state       TEXT NOT NULL,
    started_at  TIMESTAMPTZ NOT NULL,
    deadline    TIMESTAMPTZ,
    finished_at TIMESTAMPTZ,
    tickets     INT NOT NULL DEFAULT 0,
    unresolved  TEXT,
    reason      TEXT
);
CREATE INDEX IF NOT EXISTS idx_coordination_runs_state_started ON coordination_runs (state, started_at);
CREATE INDEX IF NOT EXISTS idx_coordination_runs_malo ON coordination_runs (malo_id, started_at DESC);
`

const selectColumns = `id, kind, malo_id, state, started_at, deadline, finished_at, tickets, unresolved, reason`

// PgStore Postgres 实现：coordination_runs 表，供 API 与 Worker 共享
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore 连接数据库并确保表存在
func NewPgStore(ctx context.Context, dsn string) (*PgStore, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "初始化 coordination_runs 表失败")
	}
	return &PgStore{pool: pool}, nil
}

// Close 关闭连接池
func (s *PgStore) Close() {
	s.pool.Close()
}

func nullStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

func namesToPg(names []string) interface{} {
	if len(names) == 0 {
		return nil
	}
	return strings.Join(names, ",")
}

func pgToNames(s *string) []string {
	if s == nil || *s == "" {
		return nil
	}
	return strings.Split(*s, ",")
}

func (s *PgStore) Create(ctx context.Context, snap *coordination.Snapshot) error {
	if snap == nil || snap.ID == "" {
		return errors.Invalidf("运行 ID 为空")
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO coordination_runs (id, kind, malo_id, state, started_at, deadline, tickets)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		snap.ID, snap.Kind, snap.MaloID, string(coordination.RunInFlight), snap.StartedAt, nullTime(snap.Deadline), snap.Tickets)
	return err
}

func (s *PgStore) Finish(ctx context.Context, snap *coordination.Snapshot) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE coordination_runs
		 SET state = $2, finished_at = $3, tickets = $4, unresolved = $5, reason = $6
		 WHERE id = $1 AND state = $7`,
		snap.ID, string(snap.State), nullTime(snap.FinishedAt), snap.Tickets,
		namesToPg(snap.Unresolved), nullStr(snap.Reason), string(coordination.RunInFlight))
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := s.Get(ctx, snap.ID); err != nil {
		return false, err
	}
	return false, nil
}

func scanSnapshot(row pgx.Row) (*coordination.Snapshot, error) {
	var (
		snap       coordination.Snapshot
		state      string
		deadline   *time.Time
		finishedAt *time.Time
		unresolved *string
		reason     *string
	)
	if err := row.Scan(&snap.ID, &snap.Kind, &snap.MaloID, &state, &snap.StartedAt,
		&deadline, &finishedAt, &snap.Tickets, &unresolved, &reason); err != nil {
		return nil, err
	}
	snap.State = coordination.RunState(state)
	if deadline != nil {
		snap.Deadline = *deadline
	}
	if finishedAt != nil {
		snap.FinishedAt = *finishedAt
	}
	snap.Unresolved = pgToNames(unresolved)
	if reason != nil {
		snap.Reason = *reason
	}
	return &snap, nil
}

func (s *PgStore) Get(ctx context.Context, id string) (*coordination.Snapshot, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM coordination_runs WHERE id = $1`, id)
	snap, err := scanSnapshot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "run %s", id)
	}
	return snap, err
}

func (s *PgStore) query(ctx context.Context, sql string, args ...interface{}) ([]*coordination.Snapshot, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*coordination.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// limitArg limit<=0 时传 NULL，Postgres 视为不限
func limitArg(limit int) interface{} {
	if limit <= 0 {
		return nil
	}
	return limit
}

func (s *PgStore) ListByMalo(ctx context.Context, maloID string, limit int) ([]*coordination.Snapshot, error) {
	return s.query(ctx,
		`SELECT `+selectColumns+` FROM coordination_runs WHERE malo_id = $1 ORDER BY started_at DESC LIMIT $2`,
		maloID, limitArg(limit))
}

func (s *PgStore) ListInFlight(ctx context.Context, limit int) ([]*coordination.Snapshot, error) {
	return s.query(ctx,
		`SELECT `+selectColumns+` FROM coordination_runs WHERE state = $1 ORDER BY started_at ASC LIMIT $2`,
		string(coordination.RunInFlight), limitArg(limit))
}

func (s *PgStore) Expire(ctx context.Context, id string, reason string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE coordination_runs SET state = $2, reason = $3, finished_at = $4 WHERE id = $1 AND state = $5`,
		id, string(coordination.RunTimedOut), reason, at, string(coordination.RunInFlight))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
