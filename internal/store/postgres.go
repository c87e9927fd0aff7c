package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"routetrace/internal/model"
)

//go:embed schema.sql
var schemaSQL string

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// Migrate creates the schema if it does not exist yet.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, schemaSQL)
	return err
}

const traceCols = `id::text, owner, COALESCE(name,''), status, shape, options, COALESCE(callback_url,''), COALESCE(callback_secret,''),
    result, COALESCE(error,''), created_at, updated_at, started_at, finished_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrace(row rowScanner) (model.Trace, error) {
	var t model.Trace
	var shape, options, result []byte
	var started, finished sql.NullTime
	if err := row.Scan(&t.ID, &t.Owner, &t.Name, &t.Status, &shape, &options, &t.CallbackURL, &t.CallbackSecret,
		&result, &t.Error, &t.CreatedAt, &t.UpdatedAt, &started, &finished); err != nil {
		return model.Trace{}, err
	}
	if err := json.Unmarshal(shape, &t.Shape); err != nil {
		return model.Trace{}, fmt.Errorf("trace %s shape: %w", t.ID, err)
	}
	if len(options) > 0 {
		t.Options = &model.TraceOptions{}
		if err := json.Unmarshal(options, t.Options); err != nil {
			return model.Trace{}, fmt.Errorf("trace %s options: %w", t.ID, err)
		}
	}
	if len(result) > 0 {
		t.Result = &model.TraceResult{}
		if err := json.Unmarshal(result, t.Result); err != nil {
			return model.Trace{}, fmt.Errorf("trace %s result: %w", t.ID, err)
		}
	}
	if started.Valid {
		t.StartedAt = &started.Time
	}
	if finished.Valid {
		t.FinishedAt = &finished.Time
	}
	return t, nil
}

func (p *Postgres) CreateTrace(ctx context.Context, t model.Trace) (model.Trace, error) {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	shape, err := json.Marshal(t.Shape)
	if err != nil {
		return model.Trace{}, err
	}
	row := p.db.QueryRowContext(ctx, `INSERT INTO traces (id, owner, name, status, shape, options, callback_url, callback_secret)
        VALUES ($1,$2,$3,'queued',$4,$5,$6,$7) RETURNING `+traceCols,
		t.ID, t.Owner, nullIfEmpty(t.Name), string(shape), jsonOrNil(t.Options), nullIfEmpty(t.CallbackURL), nullIfEmpty(t.CallbackSecret))
	return scanTrace(row)
}

func (p *Postgres) GetTrace(ctx context.Context, id string) (model.Trace, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.Trace{}, ErrNotFound
	}
	t, err := scanTrace(p.db.QueryRowContext(ctx, `SELECT `+traceCols+` FROM traces WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Trace{}, ErrNotFound
	}
	return t, err
}

func (p *Postgres) ListTraces(ctx context.Context, owner, status, cursor string, limit int) ([]model.Trace, string, error) {
	limit = clampLimit(limit)
	q, args := listTracesQuery(owner, status, cursor, limit)
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []model.Trace{}
	var last string
	for rows.Next() {
		t, err := scanTrace(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, t)
		last = t.ID
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	next := ""
	if len(out) == limit {
		next = last
	}
	return out, next, nil
}

// listTracesQuery pages in creation order; the cursor is the last id seen.
func listTracesQuery(owner, status, cursor string, limit int) (string, []any) {
	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if owner != "" {
		where = append(where, "owner="+arg(owner))
	}
	if status != "" {
		where = append(where, "status="+arg(status))
	}
	if cursor != "" {
		ph := arg(cursor)
		where = append(where, "(created_at, id) > (SELECT created_at, id FROM traces WHERE id::text="+ph+")")
	}
	q := `SELECT ` + traceCols + ` FROM traces`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at, id LIMIT ` + arg(limit)
	return q, args
}

func (p *Postgres) ClaimQueuedTraces(ctx context.Context, limit int) ([]model.Trace, error) {
	rows, err := p.db.QueryContext(ctx, `UPDATE traces SET status='running', started_at=now(), updated_at=now()
        WHERE id IN (SELECT id FROM traces WHERE status='queued' ORDER BY created_at LIMIT $1 FOR UPDATE SKIP LOCKED)
        RETURNING `+traceCols, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Trace{}
	for rows.Next() {
		t, err := scanTrace(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *Postgres) CompleteTrace(ctx context.Context, id string, res model.TraceResult) error {
	return p.finish(ctx, id, model.StatusSucceeded, "", &res)
}

func (p *Postgres) FailTrace(ctx context.Context, id, reason string, res *model.TraceResult) error {
	return p.finish(ctx, id, model.StatusFailed, reason, res)
}

func (p *Postgres) finish(ctx context.Context, id, status, reason string, res *model.TraceResult) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	tag, err := p.db.ExecContext(ctx, `UPDATE traces SET status=$2, error=$3, result=$4, finished_at=now(), updated_at=now()
        WHERE id=$1 AND status='running'`, id, status, nullIfEmpty(reason), jsonOrNil(res))
	if err != nil {
		return err
	}
	if n, _ := tag.RowsAffected(); n == 0 {
		if _, err := p.GetTrace(ctx, id); err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}

func (p *Postgres) RequeueRunning(ctx context.Context) (int, error) {
	tag, err := p.db.ExecContext(ctx, `UPDATE traces SET status='queued', started_at=NULL, updated_at=now() WHERE status='running'`)
	if err != nil {
		return 0, err
	}
	n, _ := tag.RowsAffected()
	return int(n), nil
}

func (p *Postgres) EnqueueCallback(ctx context.Context, traceID, eventType, url, secret string, payload []byte) (string, error) {
	id := uuid.New().String()
	dk := computeDedupKey(payload)
	var got string
	err := p.db.QueryRowContext(ctx, `INSERT INTO callback_deliveries (id, trace_id, event_type, url, secret, payload, dedup_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        ON CONFLICT (trace_id, event_type, url, dedup_key) DO UPDATE SET updated_at=callback_deliveries.updated_at
        RETURNING id::text`, id, traceID, eventType, url, nullIfEmpty(secret), string(payload), dk).Scan(&got)
	if err != nil {
		return "", err
	}
	return got, nil
}

func (p *Postgres) FetchDueCallbacks(ctx context.Context, limit int) ([]CallbackDelivery, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id::text, trace_id::text, event_type, url, COALESCE(secret,''), payload, status, attempts
        FROM callback_deliveries WHERE status IN ('pending','retry') AND next_attempt_at <= now() ORDER BY next_attempt_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []CallbackDelivery{}
	for rows.Next() {
		var d CallbackDelivery
		if err := rows.Scan(&d.ID, &d.TraceID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) MarkCallback(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	if !success {
		if nextAttemptAt == nil {
			t := time.Now().Add(1 * time.Minute)
			nextAttemptAt = &t
		}
		_, err := p.db.ExecContext(ctx, `UPDATE callback_deliveries SET attempts=attempts+1, status='retry', last_error=$2, next_attempt_at=$3,
            updated_at=now(), response_code=$4, latency_ms=$5 WHERE id=$1`, id, nullIfEmpty(lastError), *nextAttemptAt, responseCode, latencyMs)
		return err
	}
	_, err := p.db.ExecContext(ctx, `UPDATE callback_deliveries SET status='delivered', delivered_at=now(), updated_at=now(),
        response_code=$2, latency_ms=$3 WHERE id=$1`, id, responseCode, latencyMs)
	return err
}

func (p *Postgres) FailCallback(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	_, err := p.db.ExecContext(ctx, `UPDATE callback_deliveries SET status='failed', attempts=attempts+1, last_error=$2, updated_at=now(),
        response_code=$3, latency_ms=$4 WHERE id=$1`, id, nullIfEmpty(lastError), responseCode, latencyMs)
	return err
}

// computeDedupKey uses the payload's "id" when it has one, otherwise a short
// content hash.
func computeDedupKey(payload []byte) string {
	var m map[string]any
	if json.Unmarshal(payload, &m) == nil {
		if v, ok := m["id"].(string); ok && v != "" {
			return v
		}
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:8])
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// jsonOrNil encodes v for a jsonb column, mapping nil pointers to NULL.
func jsonOrNil[T any](v *T) any {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return string(b)
}
