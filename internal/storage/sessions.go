package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SessionRepository persists Session rows.
type SessionRepository struct {
	db *sql.DB
}

// NewSessionRepository builds a SessionRepository over the given pool.
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Insert creates a new session row in the "detected" lifecycle state.
func (r *SessionRepository) Insert(ctx context.Context, s Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, workspace_id, device_id, lifecycle, parse_status,
			started_at, git_branch, model, source, tags, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`,
		s.ID, s.WorkspaceID, s.DeviceID, s.Lifecycle, s.ParseStatus,
		s.StartedAt, s.GitBranch, s.Model, s.Source, textArray(s.Tags), s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetByID fetches a single session.
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*Session, error) {
	row := r.db.QueryRowContext(ctx, sessionSelectColumns+` FROM sessions WHERE id = $1`, id)
	return scanSession(row)
}

const sessionSelectColumns = `
	SELECT id, workspace_id, device_id, lifecycle, parse_status, parse_error,
	       started_at, ended_at, duration_ms, end_reason, git_branch, model,
	       source, transcript_s3_key, summary, tags, total_messages,
	       cost_estimate_usd, updated_at`

func scanSession(row rowScanner) (*Session, error) {
	var s Session
	var tags textArray
	err := row.Scan(&s.ID, &s.WorkspaceID, &s.DeviceID, &s.Lifecycle, &s.ParseStatus, &s.ParseError,
		&s.StartedAt, &s.EndedAt, &s.DurationMs, &s.EndReason, &s.GitBranch, &s.Model,
		&s.Source, &s.TranscriptS3Key, &s.Summary, &tags, &s.TotalMessages,
		&s.CostEstimateUSD, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	s.Tags = []string(tags)
	return &s, nil
}

// FieldUpdate is one `column = value` pair applied alongside a lifecycle
// transition's own `lifecycle`/`updated_at` columns.
type FieldUpdate struct {
	Column string
	Value  any
}

// Transition is the single guarded-UPDATE primitive described in §4.3:
// `UPDATE sessions SET lifecycle = to, <updates>, updated_at = now() WHERE
// id = session_id AND lifecycle IN allowed_from`. It reports whether the row
// matched, and — on a no-op — the session's actual current lifecycle so
// callers can distinguish "already done" from "illegal" (§4.3's
// terminal-state rule).
func (r *SessionRepository) Transition(ctx context.Context, id string, to Lifecycle, allowedFrom []Lifecycle, updates ...FieldUpdate) (matched bool, current Lifecycle, err error) {
	if len(allowedFrom) == 0 {
		return false, "", fmt.Errorf("transition: allowedFrom must not be empty")
	}

	setClauses := []string{"lifecycle = $1", "updated_at = now()"}
	args := []any{to}
	for _, u := range updates {
		args = append(args, u.Value)
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", u.Column, len(args)))
	}

	args = append(args, id)
	idPlaceholder := len(args)

	fromPlaceholders := make([]string, len(allowedFrom))
	for i, from := range allowedFrom {
		args = append(args, from)
		fromPlaceholders[i] = fmt.Sprintf("$%d", len(args))
	}

	query := fmt.Sprintf(
		"UPDATE sessions SET %s WHERE id = $%d AND lifecycle IN (%s)",
		joinClauses(setClauses), idPlaceholder, joinClauses(fromPlaceholders),
	)

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, "", fmt.Errorf("transition session lifecycle: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, "", fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return true, to, nil
	}

	s, err := r.GetByID(ctx, id)
	if err != nil {
		return false, "", fmt.Errorf("diagnose transition no-op: %w", err)
	}
	return false, s.Lifecycle, nil
}

func joinClauses(clauses []string) string {
	out := clauses[0]
	for _, c := range clauses[1:] {
		out += ", " + c
	}
	return out
}

// SetParseStatus updates the transcript-pipeline progress marker without
// touching lifecycle, used for the claim/download/failed phases of §4.5.
func (r *SessionRepository) SetParseStatus(ctx context.Context, id string, status ParseStatus, parseError *string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET parse_status = $2, parse_error = $3, updated_at = now()
		WHERE id = $1`, id, status, parseError)
	if err != nil {
		return fmt.Errorf("set parse status: %w", err)
	}
	return nil
}

// ClaimForParsing is the guarded claim step of §4.5's transcript pipeline: it
// moves parse_status to "parsing" only if the session is "ended" and its
// parse_status is currently "pending" or "failed" (the latter lets a re-run
// claim a session whose earlier parse failed while its lifecycle stayed
// "ended"; the §4.6 recovery sweep itself selects only pending/parsing).
// It never touches lifecycle — only SessionRepository.Transition does that.
func (r *SessionRepository) ClaimForParsing(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET parse_status = $2, parse_error = NULL, updated_at = now()
		WHERE id = $1 AND lifecycle = $3 AND parse_status IN ($4, $5)`,
		id, ParseStatusParsing, LifecycleEnded, ParseStatusPending, ParseStatusFailed)
	if err != nil {
		return false, fmt.Errorf("claim session for parsing: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// SetTranscriptRef records the blob key a session's transcript was uploaded
// to, ahead of C8 claiming it for parsing.
func (r *SessionRepository) SetTranscriptRef(ctx context.Context, id, s3Key string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET transcript_s3_key = $2, updated_at = now() WHERE id = $1`, id, s3Key)
	if err != nil {
		return fmt.Errorf("set transcript ref: %w", err)
	}
	return nil
}

// SetSummary records a session's human- or provider-authored summary
// (PATCH /api/sessions/:id's `summary` field), independent of the C8
// pipeline's own summarize phase which writes the same column via a
// lifecycle transition.
func (r *SessionRepository) SetSummary(ctx context.Context, id, summary string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET summary = $2, updated_at = now() WHERE id = $1`, id, summary)
	if err != nil {
		return fmt.Errorf("set summary: %w", err)
	}
	return nil
}

// UpdateTags replaces a session's free-form tag set (PATCH /api/sessions/:id).
func (r *SessionRepository) UpdateTags(ctx context.Context, id string, tags []string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET tags = $2, updated_at = now() WHERE id = $1`, id, textArray(tags))
	if err != nil {
		return fmt.Errorf("update tags: %w", err)
	}
	return nil
}

// AddTags unions the given tags into a session's existing tag set.
func (r *SessionRepository) AddTags(ctx context.Context, id string, tags []string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET tags = (
			SELECT array_agg(DISTINCT t) FROM unnest(tags || $2::text[]) AS t
		), updated_at = now() WHERE id = $1`, id, textArray(tags))
	if err != nil {
		return fmt.Errorf("add tags: %w", err)
	}
	return nil
}

// RemoveTags subtracts the given tags from a session's existing tag set.
func (r *SessionRepository) RemoveTags(ctx context.Context, id string, tags []string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET tags = (
			SELECT array_agg(t) FROM unnest(tags) AS t WHERE t != ALL($2::text[])
		), updated_at = now() WHERE id = $1`, id, textArray(tags))
	if err != nil {
		return fmt.Errorf("remove tags: %w", err)
	}
	return nil
}

// SessionListFilter narrows SessionRepository.List, composed through the
// shared predicate builder rather than one query per filter combination.
type SessionListFilter struct {
	WorkspaceID *string
	DeviceID    *string
	Lifecycle   *Lifecycle
	Tag         *string
	Cursor      *Cursor
	Limit       int
}

// List returns sessions newest-first, keyset-paginated on (started_at, id).
func (r *SessionRepository) List(ctx context.Context, f SessionListFilter) ([]Session, error) {
	q := newQueryBuilder()
	q.addIf(f.WorkspaceID != nil, "workspace_id = $%d", derefOrZero(f.WorkspaceID))
	q.addIf(f.DeviceID != nil, "device_id = $%d", derefOrZero(f.DeviceID))
	q.addIf(f.Lifecycle != nil, "lifecycle = $%d", derefLifecycle(f.Lifecycle))
	q.addIf(f.Tag != nil, "$%d = ANY(tags)", derefOrZero(f.Tag))
	q.addKeysetBefore("started_at", "id", f.Cursor)

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query := sessionSelectColumns + ` FROM sessions ` + q.where() +
		fmt.Sprintf(" ORDER BY started_at DESC, id DESC LIMIT $%d", q.nextPlaceholder())
	args := append(q.args(), limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// ListStuck returns sessions whose transcript pipeline has not progressed
// since before cutoff: lifecycle in {ended, parsed} and parse_status in
// {pending, parsing}, exactly the candidate set in §4.6.
func (r *SessionRepository) ListStuck(ctx context.Context, cutoff time.Time, limit int) ([]Session, error) {
	rows, err := r.db.QueryContext(ctx, sessionSelectColumns+` FROM sessions
		WHERE lifecycle IN ($1, $2) AND parse_status IN ($3, $4) AND updated_at < $5
		ORDER BY updated_at ASC LIMIT $6`,
		LifecycleEnded, LifecycleParsed, ParseStatusPending, ParseStatusParsing, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list stuck sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func derefOrZero(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefLifecycle(l *Lifecycle) Lifecycle {
	if l == nil {
		return ""
	}
	return *l
}
