package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/mhyatt000/flowcore/emit"
	"github.com/mhyatt000/flowcore/model"
)

// sqlPort is the shared implementation behind both SQLiteStore and
// MySQLStore: same queries, same table shapes, different drivers and
// CREATE TABLE dialects. This mirrors how the teacher's SQLiteStore and
// MySQLStore duplicate structure but diverge only in driver/DDL details
// — factored here so the two backends don't drift.
type sqlPort struct {
	db *sql.DB
	mu sync.RWMutex
}

func (p *sqlPort) Flows() FlowStore        { return &sqlFlowStore{p} }
func (p *sqlPort) Runs() RunStore          { return &sqlRunStore{p} }
func (p *sqlPort) Queue() QueueStore       { return &sqlQueueStore{p} }
func (p *sqlPort) Vars() VarStore          { return &sqlVarStore{p} }
func (p *sqlPort) Triggers() TriggerStore  { return &sqlTriggerStore{p} }
func (p *sqlPort) Events() emit.EventStore { return &sqlEventStore{p} }
func (p *sqlPort) Close() error            { return p.db.Close() }

// --- flows ---

type sqlFlowStore struct{ p *sqlPort }

func (s *sqlFlowStore) Save(ctx context.Context, flow model.Flow) error {
	data, err := json.Marshal(flow)
	if err != nil {
		return fmt.Errorf("marshal flow: %w", err)
	}
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	res, err := s.p.db.ExecContext(ctx, `
		UPDATE flows SET name = ?, schema_version = ?, data = ? WHERE id = ?
	`, flow.Name, flow.SchemaVersion, string(data), flow.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n > 0 {
		return nil
	}
	_, err = s.p.db.ExecContext(ctx, `
		INSERT INTO flows (id, name, schema_version, data) VALUES (?, ?, ?, ?)
	`, flow.ID, flow.Name, flow.SchemaVersion, string(data))
	return err
}

func (s *sqlFlowStore) Get(ctx context.Context, flowID string) (model.Flow, error) {
	s.p.mu.RLock()
	defer s.p.mu.RUnlock()
	var data string
	err := s.p.db.QueryRowContext(ctx, `SELECT data FROM flows WHERE id = ?`, flowID).Scan(&data)
	if err == sql.ErrNoRows {
		return model.Flow{}, ErrNotFound
	}
	if err != nil {
		return model.Flow{}, err
	}
	var flow model.Flow
	if err := json.Unmarshal([]byte(data), &flow); err != nil {
		return model.Flow{}, err
	}
	return flow, nil
}

func (s *sqlFlowStore) List(ctx context.Context) ([]model.Flow, error) {
	s.p.mu.RLock()
	defer s.p.mu.RUnlock()
	rows, err := s.p.db.QueryContext(ctx, `SELECT data FROM flows ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Flow, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var flow model.Flow
		if err := json.Unmarshal([]byte(data), &flow); err != nil {
			return nil, err
		}
		out = append(out, flow)
	}
	return out, rows.Err()
}

func (s *sqlFlowStore) Delete(ctx context.Context, flowID string) error {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	_, err := s.p.db.ExecContext(ctx, `DELETE FROM flows WHERE id = ?`, flowID)
	return err
}

// --- runs ---

type sqlRunStore struct{ p *sqlPort }

func (s *sqlRunStore) Create(ctx context.Context, run model.Run) error {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	return insertRun(ctx, s.p.db, run)
}

func insertRun(ctx context.Context, db *sql.DB, run model.Run) error {
	if run.NextSeq == 0 {
		run.NextSeq = 1
	}
	vars, err := json.Marshal(run.Vars)
	if err != nil {
		return err
	}
	outputs, err := json.Marshal(run.Outputs)
	if err != nil {
		return err
	}
	debug, err := json.Marshal(run.Debug)
	if err != nil {
		return err
	}
	errData, err := json.Marshal(run.Error)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO runs (id, flow_id, status, created_at, updated_at, current_node_id, vars, attempt, debug, next_seq, outputs, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.FlowID, string(run.Status), run.CreatedAt.UnixMilli(), run.UpdatedAt.UnixMilli(),
		run.CurrentNodeID, string(vars), run.Attempt, string(debug), run.NextSeq, string(outputs), string(errData))
	return err
}

func scanRun(row *sql.Row) (model.Run, error) {
	var run model.Run
	var status, vars, debug, outputs, errData string
	var createdAt, updatedAt int64
	var startedAt, finishedAt sql.NullInt64
	err := row.Scan(&run.ID, &run.FlowID, &status, &createdAt, &updatedAt, &startedAt, &finishedAt,
		&run.CurrentNodeID, &vars, &run.Attempt, &debug, &run.NextSeq, &outputs, &errData)
	if err == sql.ErrNoRows {
		return model.Run{}, ErrNotFound
	}
	if err != nil {
		return model.Run{}, err
	}
	run.Status = model.RunStatus(status)
	run.CreatedAt = time.UnixMilli(createdAt).UTC()
	run.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	if startedAt.Valid {
		t := time.UnixMilli(startedAt.Int64).UTC()
		run.StartedAt = &t
	}
	if finishedAt.Valid {
		t := time.UnixMilli(finishedAt.Int64).UTC()
		run.FinishedAt = &t
	}
	_ = json.Unmarshal([]byte(vars), &run.Vars)
	_ = json.Unmarshal([]byte(debug), &run.Debug)
	_ = json.Unmarshal([]byte(outputs), &run.Outputs)
	if errData != "" && errData != "null" {
		run.Error = &model.ErrorRecord{}
		_ = json.Unmarshal([]byte(errData), run.Error)
	}
	return run, nil
}

func (s *sqlRunStore) Get(ctx context.Context, runID string) (model.Run, error) {
	s.p.mu.RLock()
	defer s.p.mu.RUnlock()
	row := s.p.db.QueryRowContext(ctx, `
		SELECT id, flow_id, status, created_at, updated_at, started_at, finished_at, current_node_id, vars, attempt, debug, next_seq, outputs, error
		FROM runs WHERE id = ?
	`, runID)
	return scanRun(row)
}

func (s *sqlRunStore) Patch(ctx context.Context, runID string, patch RunPatch) (model.Run, error) {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()

	row := s.p.db.QueryRowContext(ctx, `
		SELECT id, flow_id, status, created_at, updated_at, started_at, finished_at, current_node_id, vars, attempt, debug, next_seq, outputs, error
		FROM runs WHERE id = ?
	`, runID)
	run, err := scanRun(row)
	if err != nil {
		return model.Run{}, err
	}

	now := time.Now().UTC()
	if patch.Status != nil {
		run.Status = *patch.Status
	}
	if patch.CurrentNodeID != nil {
		run.CurrentNodeID = *patch.CurrentNodeID
	}
	if patch.Vars != nil {
		run.Vars = patch.Vars
	}
	if patch.Outputs != nil {
		run.Outputs = patch.Outputs
	}
	if patch.Attempt != nil {
		run.Attempt = *patch.Attempt
	}
	if patch.NextSeq != nil {
		run.NextSeq = *patch.NextSeq
	}
	if patch.Error != nil {
		run.Error = patch.Error
	}
	if patch.StartedAt != nil && *patch.StartedAt {
		run.StartedAt = &now
	}
	if patch.FinishedAt != nil && *patch.FinishedAt {
		run.FinishedAt = &now
	}
	run.UpdatedAt = now

	vars, _ := json.Marshal(run.Vars)
	outputs, _ := json.Marshal(run.Outputs)
	errData, _ := json.Marshal(run.Error)
	var startedAt, finishedAt any
	if run.StartedAt != nil {
		startedAt = run.StartedAt.UnixMilli()
	}
	if run.FinishedAt != nil {
		finishedAt = run.FinishedAt.UnixMilli()
	}
	_, err = s.p.db.ExecContext(ctx, `
		UPDATE runs SET status=?, updated_at=?, started_at=?, finished_at=?, current_node_id=?, vars=?, attempt=?, next_seq=?, outputs=?, error=?
		WHERE id = ?
	`, string(run.Status), run.UpdatedAt.UnixMilli(), startedAt, finishedAt, run.CurrentNodeID, string(vars), run.Attempt, run.NextSeq, string(outputs), string(errData), runID)
	if err != nil {
		return model.Run{}, err
	}
	return run, nil
}

func (s *sqlRunStore) List(ctx context.Context, flowID string) ([]model.Run, error) {
	s.p.mu.RLock()
	defer s.p.mu.RUnlock()
	query := `SELECT id, flow_id, status, created_at, updated_at, started_at, finished_at, current_node_id, vars, attempt, debug, next_seq, outputs, error FROM runs`
	args := []any{}
	if flowID != "" {
		query += ` WHERE flow_id = ?`
		args = append(args, flowID)
	}
	query += ` ORDER BY created_at`
	rows, err := s.p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Run, 0)
	for rows.Next() {
		var run model.Run
		var status, vars, debug, outputs, errData string
		var createdAt, updatedAt int64
		var startedAt, finishedAt sql.NullInt64
		if err := rows.Scan(&run.ID, &run.FlowID, &status, &createdAt, &updatedAt, &startedAt, &finishedAt,
			&run.CurrentNodeID, &vars, &run.Attempt, &debug, &run.NextSeq, &outputs, &errData); err != nil {
			return nil, err
		}
		run.Status = model.RunStatus(status)
		run.CreatedAt = time.UnixMilli(createdAt).UTC()
		run.UpdatedAt = time.UnixMilli(updatedAt).UTC()
		if startedAt.Valid {
			t := time.UnixMilli(startedAt.Int64).UTC()
			run.StartedAt = &t
		}
		if finishedAt.Valid {
			t := time.UnixMilli(finishedAt.Int64).UTC()
			run.FinishedAt = &t
		}
		_ = json.Unmarshal([]byte(vars), &run.Vars)
		_ = json.Unmarshal([]byte(debug), &run.Debug)
		_ = json.Unmarshal([]byte(outputs), &run.Outputs)
		out = append(out, run)
	}
	return out, rows.Err()
}

func (s *sqlRunStore) AllocateSeq(ctx context.Context, runID string) (int64, error) {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	tx, err := s.p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT next_seq FROM runs WHERE id = ?`, runID).Scan(&seq); err != nil {
		if err == sql.ErrNoRows {
			return 0, ErrNotFound
		}
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE runs SET next_seq = ? WHERE id = ?`, seq+1, runID); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return seq, nil
}

// --- queue ---

type sqlQueueStore struct{ p *sqlPort }

func (s *sqlQueueStore) Enqueue(ctx context.Context, item model.QueueItem) error {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	_, err := s.p.db.ExecContext(ctx, `
		INSERT INTO queue_items (id, flow_id, priority, created_at, status, attempt, lease_owner, lease_expires_at)
		VALUES (?, ?, ?, ?, ?, ?, NULL, NULL)
	`, item.ID, item.FlowID, item.Priority, item.CreatedAt.UnixMilli(), string(item.Status), item.Attempt)
	return err
}

func scanQueueItem(rows interface {
	Scan(dest ...any) error
}) (model.QueueItem, error) {
	var item model.QueueItem
	var status string
	var createdAt int64
	var leaseOwner sql.NullString
	var leaseExpiresAt sql.NullInt64
	if err := rows.Scan(&item.ID, &item.FlowID, &item.Priority, &createdAt, &status, &item.Attempt, &leaseOwner, &leaseExpiresAt); err != nil {
		return model.QueueItem{}, err
	}
	item.Status = model.QueueStatus(status)
	item.CreatedAt = time.UnixMilli(createdAt).UTC()
	if leaseOwner.Valid {
		item.Lease = &model.Lease{OwnerID: leaseOwner.String, ExpiresAt: time.UnixMilli(leaseExpiresAt.Int64).UTC()}
	}
	return item, nil
}

func (s *sqlQueueStore) Claim(ctx context.Context, ownerID string, ttl int64, now int64) (model.QueueItem, error) {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()

	rows, err := s.p.db.QueryContext(ctx, `
		SELECT id, flow_id, priority, created_at, status, attempt, lease_owner, lease_expires_at
		FROM queue_items
		WHERE status = 'queued' OR (status = 'running' AND lease_expires_at <= ?)
		ORDER BY priority DESC, created_at ASC
		LIMIT 1
	`, now)
	if err != nil {
		return model.QueueItem{}, err
	}
	var item model.QueueItem
	found := false
	if rows.Next() {
		item, err = scanQueueItem(rows)
		found = true
	}
	rows.Close()
	if err != nil {
		return model.QueueItem{}, err
	}
	if !found {
		return model.QueueItem{}, ErrNotFound
	}

	expiresAt := now + ttl
	_, err = s.p.db.ExecContext(ctx, `
		UPDATE queue_items SET status = 'running', attempt = attempt + 1, lease_owner = ?, lease_expires_at = ? WHERE id = ?
	`, ownerID, expiresAt, item.ID)
	if err != nil {
		return model.QueueItem{}, err
	}
	item.Status = model.QueueRunning
	item.Attempt++
	item.Lease = &model.Lease{OwnerID: ownerID, ExpiresAt: time.UnixMilli(expiresAt).UTC()}
	return item, nil
}

func (s *sqlQueueStore) Heartbeat(ctx context.Context, runID string, ownerID string, ttl int64, now int64) error {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	res, err := s.p.db.ExecContext(ctx, `
		UPDATE queue_items SET lease_expires_at = ? WHERE id = ? AND lease_owner = ?
	`, now+ttl, runID, ownerID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return model.NewError(model.CodeInvariantViolation, "heartbeat from non-owner or unknown run")
	}
	return nil
}

func (s *sqlQueueStore) Release(ctx context.Context, runID string) error {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	_, err := s.p.db.ExecContext(ctx, `
		UPDATE queue_items SET status = 'queued', lease_owner = NULL, lease_expires_at = NULL WHERE id = ?
	`, runID)
	return err
}

func (s *sqlQueueStore) Pause(ctx context.Context, runID string) error {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	_, err := s.p.db.ExecContext(ctx, `
		UPDATE queue_items SET status = 'paused', lease_owner = NULL, lease_expires_at = NULL WHERE id = ?
	`, runID)
	return err
}

func (s *sqlQueueStore) Resume(ctx context.Context, runID string) error {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	_, err := s.p.db.ExecContext(ctx, `UPDATE queue_items SET status = 'queued' WHERE id = ?`, runID)
	return err
}

func (s *sqlQueueStore) AdoptPaused(ctx context.Context, runID, ownerID string, ttl int64, now int64) error {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	res, err := s.p.db.ExecContext(ctx, `
		UPDATE queue_items SET lease_owner = ?, lease_expires_at = ? WHERE id = ? AND status = 'paused'
	`, ownerID, now+ttl, runID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return model.NewError(model.CodeInvariantViolation, "adopt-paused on a non-paused queue item")
	}
	return nil
}

func (s *sqlQueueStore) Get(ctx context.Context, runID string) (model.QueueItem, error) {
	s.p.mu.RLock()
	defer s.p.mu.RUnlock()
	row := s.p.db.QueryRowContext(ctx, `
		SELECT id, flow_id, priority, created_at, status, attempt, lease_owner, lease_expires_at FROM queue_items WHERE id = ?
	`, runID)
	item, err := scanQueueItem(row)
	if err == sql.ErrNoRows {
		return model.QueueItem{}, ErrNotFound
	}
	return item, err
}

func (s *sqlQueueStore) ListExpired(ctx context.Context, now int64) ([]model.QueueItem, error) {
	s.p.mu.RLock()
	defer s.p.mu.RUnlock()
	rows, err := s.p.db.QueryContext(ctx, `
		SELECT id, flow_id, priority, created_at, status, attempt, lease_owner, lease_expires_at
		FROM queue_items WHERE status IN ('running', 'paused') AND lease_expires_at <= ?
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.QueueItem, 0)
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (s *sqlQueueStore) ClearStaleOwner(ctx context.Context, runID string) error {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	_, err := s.p.db.ExecContext(ctx, `
		UPDATE queue_items SET lease_owner = NULL, lease_expires_at = NULL WHERE id = ?
	`, runID)
	return err
}

func (s *sqlQueueStore) ListAll(ctx context.Context) ([]model.QueueItem, error) {
	s.p.mu.RLock()
	defer s.p.mu.RUnlock()
	rows, err := s.p.db.QueryContext(ctx, `
		SELECT id, flow_id, priority, created_at, status, attempt, lease_owner, lease_expires_at FROM queue_items
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.QueueItem, 0)
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (s *sqlQueueStore) Remove(ctx context.Context, runID string) error {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	_, err := s.p.db.ExecContext(ctx, `DELETE FROM queue_items WHERE id = ?`, runID)
	return err
}

// --- vars ---

type sqlVarStore struct{ p *sqlPort }

func (s *sqlVarStore) Get(ctx context.Context, key string) (model.PersistentVariable, error) {
	s.p.mu.RLock()
	defer s.p.mu.RUnlock()
	var value string
	var version int64
	err := s.p.db.QueryRowContext(ctx, `SELECT value, version FROM vars WHERE key_name = ?`, key).Scan(&value, &version)
	if err == sql.ErrNoRows {
		return model.PersistentVariable{}, ErrNotFound
	}
	if err != nil {
		return model.PersistentVariable{}, err
	}
	var v any
	_ = json.Unmarshal([]byte(value), &v)
	return model.PersistentVariable{Key: key, Value: v, Version: version}, nil
}

func (s *sqlVarStore) Set(ctx context.Context, key string, value any) (model.PersistentVariable, error) {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	var version int64
	_ = s.p.db.QueryRowContext(ctx, `SELECT version FROM vars WHERE key_name = ?`, key).Scan(&version)
	version++
	data, err := json.Marshal(value)
	if err != nil {
		return model.PersistentVariable{}, err
	}
	if err := upsertVar(ctx, s.p.db, key, string(data), version); err != nil {
		return model.PersistentVariable{}, err
	}
	return model.PersistentVariable{Key: key, Value: value, Version: version}, nil
}

func upsertVar(ctx context.Context, db *sql.DB, key, data string, version int64) error {
	res, err := db.ExecContext(ctx, `UPDATE vars SET value = ?, version = ? WHERE key_name = ?`, data, version, key)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n > 0 {
		return nil
	}
	_, err = db.ExecContext(ctx, `INSERT INTO vars (key_name, value, version) VALUES (?, ?, ?)`, key, data, version)
	return err
}

func (s *sqlVarStore) CompareAndSet(ctx context.Context, key string, expectedVersion int64, value any) (model.PersistentVariable, error) {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()

	var currentVersion int64
	err := s.p.db.QueryRowContext(ctx, `SELECT version FROM vars WHERE key_name = ?`, key).Scan(&currentVersion)
	exists := err == nil
	if err != nil && err != sql.ErrNoRows {
		return model.PersistentVariable{}, err
	}
	if exists && currentVersion != expectedVersion {
		return model.PersistentVariable{}, ErrVersionConflict
	}
	if !exists && expectedVersion != 0 {
		return model.PersistentVariable{}, ErrVersionConflict
	}

	data, err := json.Marshal(value)
	if err != nil {
		return model.PersistentVariable{}, err
	}
	newVersion := expectedVersion + 1
	if err := upsertVar(ctx, s.p.db, key, string(data), newVersion); err != nil {
		return model.PersistentVariable{}, err
	}
	return model.PersistentVariable{Key: key, Value: value, Version: newVersion}, nil
}

func (s *sqlVarStore) Delete(ctx context.Context, key string) error {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	_, err := s.p.db.ExecContext(ctx, `DELETE FROM vars WHERE key_name = ?`, key)
	return err
}

func (s *sqlVarStore) List(ctx context.Context) ([]model.PersistentVariable, error) {
	s.p.mu.RLock()
	defer s.p.mu.RUnlock()
	rows, err := s.p.db.QueryContext(ctx, `SELECT key_name, value, version FROM vars ORDER BY key_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.PersistentVariable, 0)
	for rows.Next() {
		var key, value string
		var version int64
		if err := rows.Scan(&key, &value, &version); err != nil {
			return nil, err
		}
		var v any
		_ = json.Unmarshal([]byte(value), &v)
		out = append(out, model.PersistentVariable{Key: key, Value: v, Version: version})
	}
	return out, rows.Err()
}

// --- triggers ---

type sqlTriggerStore struct{ p *sqlPort }

func (s *sqlTriggerStore) Save(ctx context.Context, trigger model.Trigger) error {
	args, err := json.Marshal(trigger.Args)
	if err != nil {
		return err
	}
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	res, err := s.p.db.ExecContext(ctx, `
		UPDATE triggers SET flow_id=?, kind=?, schedule=?, enabled=?, args=? WHERE id = ?
	`, trigger.FlowID, string(trigger.Kind), trigger.Schedule, trigger.Enabled, string(args), trigger.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n > 0 {
		return nil
	}
	_, err = s.p.db.ExecContext(ctx, `
		INSERT INTO triggers (id, flow_id, kind, schedule, enabled, args) VALUES (?, ?, ?, ?, ?, ?)
	`, trigger.ID, trigger.FlowID, string(trigger.Kind), trigger.Schedule, trigger.Enabled, string(args))
	return err
}

func (s *sqlTriggerStore) Get(ctx context.Context, triggerID string) (model.Trigger, error) {
	s.p.mu.RLock()
	defer s.p.mu.RUnlock()
	var t model.Trigger
	var kind, args string
	err := s.p.db.QueryRowContext(ctx, `SELECT id, flow_id, kind, schedule, enabled, args FROM triggers WHERE id = ?`, triggerID).
		Scan(&t.ID, &t.FlowID, &kind, &t.Schedule, &t.Enabled, &args)
	if err == sql.ErrNoRows {
		return model.Trigger{}, ErrNotFound
	}
	if err != nil {
		return model.Trigger{}, err
	}
	t.Kind = model.TriggerKind(kind)
	_ = json.Unmarshal([]byte(args), &t.Args)
	return t, nil
}

func (s *sqlTriggerStore) List(ctx context.Context, flowID string) ([]model.Trigger, error) {
	s.p.mu.RLock()
	defer s.p.mu.RUnlock()
	query := `SELECT id, flow_id, kind, schedule, enabled, args FROM triggers`
	var args []any
	if flowID != "" {
		query += ` WHERE flow_id = ?`
		args = append(args, flowID)
	}
	rows, err := s.p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Trigger, 0)
	for rows.Next() {
		var t model.Trigger
		var kind, argData string
		if err := rows.Scan(&t.ID, &t.FlowID, &kind, &t.Schedule, &t.Enabled, &argData); err != nil {
			return nil, err
		}
		t.Kind = model.TriggerKind(kind)
		_ = json.Unmarshal([]byte(argData), &t.Args)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqlTriggerStore) Delete(ctx context.Context, triggerID string) error {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	_, err := s.p.db.ExecContext(ctx, `DELETE FROM triggers WHERE id = ?`, triggerID)
	return err
}

// --- events ---

type sqlEventStore struct{ p *sqlPort }

func (s *sqlEventStore) Append(ctx context.Context, input emit.EventInput) (emit.Event, error) {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()

	tx, err := s.p.db.BeginTx(ctx, nil)
	if err != nil {
		return emit.Event{}, err
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT next_seq FROM runs WHERE id = ?`, input.RunID).Scan(&seq); err != nil {
		if err == sql.ErrNoRows {
			return emit.Event{}, ErrNotFound
		}
		return emit.Event{}, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE runs SET next_seq = ? WHERE id = ?`, seq+1, input.RunID); err != nil {
		return emit.Event{}, err
	}

	id := fmt.Sprintf("%s-%d", input.RunID, seq)
	ts := time.Now().UTC()
	data, err := json.Marshal(input.Data)
	if err != nil {
		return emit.Event{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO events (id, run_id, seq, ts, kind, node_id, data) VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id, input.RunID, seq, ts.UnixMilli(), string(input.Kind), input.NodeID, string(data)); err != nil {
		return emit.Event{}, err
	}
	if err := tx.Commit(); err != nil {
		return emit.Event{}, err
	}

	return emit.Event{ID: id, RunID: input.RunID, Seq: seq, Ts: ts, Kind: input.Kind, NodeID: input.NodeID, Data: input.Data}, nil
}

func (s *sqlEventStore) List(ctx context.Context, runID string) ([]emit.Event, error) {
	s.p.mu.RLock()
	defer s.p.mu.RUnlock()
	rows, err := s.p.db.QueryContext(ctx, `
		SELECT id, run_id, seq, ts, kind, node_id, data FROM events WHERE run_id = ? ORDER BY seq
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]emit.Event, 0)
	for rows.Next() {
		var event emit.Event
		var kind, data string
		var ts int64
		if err := rows.Scan(&event.ID, &event.RunID, &event.Seq, &ts, &kind, &event.NodeID, &data); err != nil {
			return nil, err
		}
		event.Ts = time.UnixMilli(ts).UTC()
		event.Kind = emit.Kind(kind)
		_ = json.Unmarshal([]byte(data), &event.Data)
		out = append(out, event)
	}
	return out, rows.Err()
}
