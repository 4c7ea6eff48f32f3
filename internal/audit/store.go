package audit

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"submission_service/internal/domain"
	"submission_service/internal/errdefs"
)

const (
	DefaultLimit = 50
	MaxLimit     = 200
)

const schema = `
CREATE TABLE IF NOT EXISTS file_events (
  seq            INTEGER PRIMARY KEY,
  id             TEXT    NOT NULL UNIQUE,
  submission_id  TEXT    NOT NULL,
  actor_id       TEXT    NOT NULL,
  action         TEXT    NOT NULL,
  version_number INTEGER NOT NULL,
  project_id     TEXT    NOT NULL,
  milestone_type TEXT    NOT NULL,
  ip             TEXT    NOT NULL,
  user_agent     TEXT    NOT NULL,
  created_at     INTEGER NOT NULL,
  prev_hash      TEXT    NOT NULL,
  hash           TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS file_events_submission_idx ON file_events(submission_id);
CREATE INDEX IF NOT EXISTS file_events_actor_idx ON file_events(actor_id);
CREATE INDEX IF NOT EXISTS file_events_project_idx ON file_events(project_id);
`

// Store is an append-only file event log. Each event hashes the previous
// event's hash together with its own canonical form, so editing or removing
// a row breaks every later link.
type Store struct {
	db  *sql.DB
	mu  sync.Mutex
	now func() time.Time
}

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// One connection keeps ":memory:" databases shared and writes ordered.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	for _, p := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set %s: %w", p, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Append assigns ID, sequence, timestamp and chain fields and stores the event.
func (s *Store) Append(ctx context.Context, event domain.AuditEvent) (domain.AuditEvent, error) {
	if !event.Action.IsValid() {
		return domain.AuditEvent{}, fmt.Errorf("unknown audit action %q: %w", event.Action, errdefs.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.AuditEvent{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		lastSeq  int64
		lastHash string
	)
	err = tx.QueryRowContext(ctx, `SELECT seq, hash FROM file_events ORDER BY seq DESC LIMIT 1`).Scan(&lastSeq, &lastHash)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return domain.AuditEvent{}, err
	}

	if event.ID == uuid.Nil {
		if event.ID, err = uuid.NewV7(); err != nil {
			return domain.AuditEvent{}, err
		}
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now()
	}
	event.CreatedAt = event.CreatedAt.UTC().Truncate(time.Microsecond)
	event.Seq = lastSeq + 1
	event.PrevHash = lastHash
	event.Hash = chainHash(event)

	_, err = tx.ExecContext(ctx, `
INSERT INTO file_events (seq, id, submission_id, actor_id, action, version_number, project_id,
  milestone_type, ip, user_agent, created_at, prev_hash, hash)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.Seq, event.ID.String(), event.SubmissionID.String(), event.ActorID.String(),
		string(event.Action), event.VersionNumber, event.ProjectID.String(), event.MilestoneType,
		event.IP, event.UserAgent, event.CreatedAt.UnixMicro(), event.PrevHash, event.Hash)
	if err != nil {
		return domain.AuditEvent{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.AuditEvent{}, err
	}
	return event, nil
}

// List returns one page of events, newest first.
func (s *Store) List(ctx context.Context, filter domain.AuditFilter) (domain.AuditPage, error) {
	page, limit := normalizePaging(filter.Page, filter.Limit)
	where, args := buildWhere(filter)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM file_events`+where, args...).Scan(&total); err != nil {
		return domain.AuditPage{}, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM file_events`+where+` ORDER BY seq DESC LIMIT ? OFFSET ?`,
		append(args, limit, (page-1)*limit)...)
	if err != nil {
		return domain.AuditPage{}, err
	}
	defer func() { _ = rows.Close() }()

	items := make([]domain.AuditEvent, 0, limit)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return domain.AuditPage{}, err
		}
		items = append(items, event)
	}
	if err := rows.Err(); err != nil {
		return domain.AuditPage{}, err
	}

	return domain.AuditPage{Total: total, Page: page, Limit: limit, Items: items}, nil
}

type VerifyResult struct {
	OK    bool  `json:"ok"`
	Count int64 `json:"count"`
	// BrokenAt is the first sequence number whose link does not verify.
	BrokenAt *int64 `json:"brokenAt,omitempty"`
}

// Verify walks the chain from the first event and recomputes every hash.
func (s *Store) Verify(ctx context.Context) (VerifyResult, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+eventColumns+` FROM file_events ORDER BY seq ASC`)
	if err != nil {
		return VerifyResult{}, err
	}
	defer func() { _ = rows.Close() }()

	var (
		result   = VerifyResult{OK: true}
		prevHash string
		expected int64 = 1
	)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return VerifyResult{}, err
		}
		result.Count++
		if result.OK && (event.Seq != expected || event.PrevHash != prevHash || chainHash(event) != event.Hash) {
			broken := expected
			result.OK = false
			result.BrokenAt = &broken
		}
		prevHash = event.Hash
		expected = event.Seq + 1
	}
	return result, rows.Err()
}

const eventColumns = `seq, id, submission_id, actor_id, action, version_number, project_id,
  milestone_type, ip, user_agent, created_at, prev_hash, hash`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(r rowScanner) (domain.AuditEvent, error) {
	var (
		e                                    domain.AuditEvent
		id, submissionID, actorID, projectID string
		action                               string
		createdAt                            int64
	)
	err := r.Scan(&e.Seq, &id, &submissionID, &actorID, &action, &e.VersionNumber, &projectID,
		&e.MilestoneType, &e.IP, &e.UserAgent, &createdAt, &e.PrevHash, &e.Hash)
	if err != nil {
		return e, err
	}
	e.ID, _ = uuid.Parse(id)
	e.SubmissionID, _ = uuid.Parse(submissionID)
	e.ActorID, _ = uuid.Parse(actorID)
	e.ProjectID, _ = uuid.Parse(projectID)
	e.Action = domain.AuditAction(action)
	e.CreatedAt = time.UnixMicro(createdAt).UTC()
	return e, nil
}

type canonicalEvent struct {
	Seq           int64  `json:"seq"`
	ID            string `json:"id"`
	SubmissionID  string `json:"submissionId"`
	ActorID       string `json:"actorId"`
	Action        string `json:"action"`
	VersionNumber int    `json:"version"`
	ProjectID     string `json:"projectId"`
	MilestoneType string `json:"milestoneType"`
	IP            string `json:"ip"`
	UserAgent     string `json:"userAgent"`
	CreatedAt     int64  `json:"createdAt"`
}

func chainHash(e domain.AuditEvent) string {
	canonical, _ := json.Marshal(canonicalEvent{
		Seq:           e.Seq,
		ID:            e.ID.String(),
		SubmissionID:  e.SubmissionID.String(),
		ActorID:       e.ActorID.String(),
		Action:        string(e.Action),
		VersionNumber: e.VersionNumber,
		ProjectID:     e.ProjectID.String(),
		MilestoneType: e.MilestoneType,
		IP:            e.IP,
		UserAgent:     e.UserAgent,
		CreatedAt:     e.CreatedAt.UnixMicro(),
	})
	h := sha256.New()
	h.Write([]byte(e.PrevHash))
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil))
}

func normalizePaging(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit == 0 {
		limit = DefaultLimit
	}
	if limit < 1 {
		limit = 1
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return page, limit
}

func buildWhere(f domain.AuditFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.ActorID != nil {
		conds = append(conds, "actor_id = ?")
		args = append(args, f.ActorID.String())
	}
	if f.ProjectID != nil {
		conds = append(conds, "project_id = ?")
		args = append(args, f.ProjectID.String())
	}
	if f.SubmissionID != nil {
		conds = append(conds, "submission_id = ?")
		args = append(args, f.SubmissionID.String())
	}
	if f.Action != nil {
		conds = append(conds, "action = ?")
		args = append(args, string(*f.Action))
	}
	if f.MilestoneType != nil {
		conds = append(conds, "milestone_type = ?")
		args = append(args, *f.MilestoneType)
	}
	if f.From != nil {
		conds = append(conds, "created_at >= ?")
		args = append(args, f.From.UTC().UnixMicro())
	}
	if f.To != nil {
		conds = append(conds, "created_at <= ?")
		args = append(args, f.To.UTC().UnixMicro())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
