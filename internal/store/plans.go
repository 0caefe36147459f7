package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"plan-sentinel/internal/plan"
)

// ErrNotFound 表示计划不存在。
var ErrNotFound = errors.New("store: 计划不存在")

const schema = `
CREATE TABLE IF NOT EXISTS plans (
	id         TEXT PRIMARY KEY,
	symbol     TEXT NOT NULL,
	status     TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	payload    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_plans_status ON plans(status);
CREATE INDEX IF NOT EXISTS idx_plans_symbol ON plans(symbol);

CREATE TABLE IF NOT EXISTS plan_events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	plan_id    TEXT NOT NULL,
	kind       TEXT NOT NULL,
	detail     TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_plan_events_plan ON plan_events(plan_id);
`

func (s *Store) migrate() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("初始化数据表失败: %w", err)
	}
	return nil
}

// UpsertPlan 写入或覆盖计划。计划全文以JSON持久化，
// 品种与状态冗余成列用于查询。
func (s *Store) UpsertPlan(ctx context.Context, p *plan.Plan) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("序列化计划 %s 失败: %w", p.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO plans (id, symbol, status, created_at, updated_at, payload)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	symbol = excluded.symbol,
	status = excluded.status,
	updated_at = excluded.updated_at,
	payload = excluded.payload`,
		p.ID, p.Symbol, string(p.Status),
		p.CreatedAt.UTC().Format(time.RFC3339Nano),
		time.Now().UTC().Format(time.RFC3339Nano),
		string(payload),
	)
	if err != nil {
		return fmt.Errorf("写入计划 %s 失败: %w", p.ID, err)
	}
	return nil
}

// GetPlan 按ID读取计划。
func (s *Store) GetPlan(ctx context.Context, id string) (*plan.Plan, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM plans WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("读取计划 %s 失败: %w", id, err)
	}
	return decodePlan(payload)
}

// ListByStatus 返回处于给定状态的全部计划，按创建时间排序。
// 进程重启后据此恢复活跃集合。
func (s *Store) ListByStatus(ctx context.Context, statuses ...plan.Status) ([]*plan.Plan, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	query := `SELECT payload FROM plans WHERE status IN (?` +
		strings.Repeat(",?", len(statuses)-1) + `) ORDER BY created_at`
	args := make([]interface{}, len(statuses))
	for i, st := range statuses {
		args[i] = string(st)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("按状态查询计划失败: %w", err)
	}
	defer rows.Close()

	var out []*plan.Plan
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("读取计划行失败: %w", err)
		}
		p, err := decodePlan(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// InsertEvent 追加一条计划审计事件。
func (s *Store) InsertEvent(ctx context.Context, planID, kind, detail string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO plan_events (plan_id, kind, detail, created_at) VALUES (?, ?, ?, ?)`,
		planID, kind, detail, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("写入计划事件失败: %w", err)
	}
	return nil
}

// Event 为一条审计事件。
type Event struct {
	PlanID    string
	Kind      string
	Detail    string
	CreatedAt time.Time
}

// ListEvents 返回指定计划的审计事件，按时间正序。
func (s *Store) ListEvents(ctx context.Context, planID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT plan_id, kind, detail, created_at FROM plan_events WHERE plan_id = ? ORDER BY id`, planID)
	if err != nil {
		return nil, fmt.Errorf("查询计划事件失败: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		var ts string
		if err := rows.Scan(&ev.PlanID, &ev.Kind, &ev.Detail, &ts); err != nil {
			return nil, fmt.Errorf("读取事件行失败: %w", err)
		}
		ev.CreatedAt, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func decodePlan(payload string) (*plan.Plan, error) {
	var p plan.Plan
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return nil, fmt.Errorf("反序列化计划失败: %w", err)
	}
	return &p, nil
}
