package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// TranscriptRepository persists parsed TranscriptMessage and ContentBlock
// rows produced by the C8 transcript pipeline.
type TranscriptRepository struct {
	db *sql.DB
}

// NewTranscriptRepository builds a TranscriptRepository over the given pool.
func NewTranscriptRepository(db *sql.DB) *TranscriptRepository {
	return &TranscriptRepository{db: db}
}

// InsertMessagesBatch persists a batch of messages and their content blocks
// in a single transaction, implementing §4.5's "persist phase". The pipeline
// calls this once per run with every newly parsed message, so a
// partially-parsed transcript never becomes partially visible; the
// persist_batch_size setting is not applied.
func (r *TranscriptRepository) InsertMessagesBatch(ctx context.Context, messages []TranscriptMessage, blocks []ContentBlock) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transcript batch tx: %w", err)
	}
	defer tx.Rollback()

	msgStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO transcript_messages (session_id, ordinal, id, role, timestamp, model,
			input_tokens, output_tokens, cost_estimate_usd, is_compacted, compact_sequence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (session_id, ordinal) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("prepare message insert: %w", err)
	}
	defer msgStmt.Close()

	for _, m := range messages {
		if _, err := msgStmt.ExecContext(ctx, m.SessionID, m.Ordinal, m.ID, m.Role, m.Timestamp,
			m.Model, m.InputTokens, m.OutputTokens, m.CostEstimateUSD, m.IsCompacted, m.CompactSequence); err != nil {
			return fmt.Errorf("insert transcript message %s: %w", m.ID, err)
		}
	}

	blockStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO content_blocks (message_id, session_id, block_order, block_type,
			content_text, thinking_text, tool_name, tool_input, tool_result_id, is_error, result_text)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (message_id, block_order) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("prepare block insert: %w", err)
	}
	defer blockStmt.Close()

	for _, b := range blocks {
		if _, err := blockStmt.ExecContext(ctx, b.MessageID, b.SessionID, b.BlockOrder, b.BlockType,
			b.ContentText, b.ThinkingText, b.ToolName, b.ToolInput, b.ToolResultID, b.IsError, b.ResultText); err != nil {
			return fmt.Errorf("insert content block %s/%d: %w", b.MessageID, b.BlockOrder, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transcript batch: %w", err)
	}
	return nil
}

// ListMessages returns a session's messages in ordinal order.
func (r *TranscriptRepository) ListMessages(ctx context.Context, sessionID string) ([]TranscriptMessage, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT session_id, ordinal, id, role, timestamp, model, input_tokens,
		       output_tokens, cost_estimate_usd, is_compacted, compact_sequence
		FROM transcript_messages WHERE session_id = $1 ORDER BY ordinal ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list transcript messages: %w", err)
	}
	defer rows.Close()

	var out []TranscriptMessage
	for rows.Next() {
		var m TranscriptMessage
		if err := rows.Scan(&m.SessionID, &m.Ordinal, &m.ID, &m.Role, &m.Timestamp, &m.Model,
			&m.InputTokens, &m.OutputTokens, &m.CostEstimateUSD, &m.IsCompacted, &m.CompactSequence); err != nil {
			return nil, fmt.Errorf("scan transcript message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListBlocksForMessages returns every content block of a session, ordered by
// (message_id, block_order), for hydrating ListMessages results.
func (r *TranscriptRepository) ListBlocksForMessages(ctx context.Context, sessionID string) ([]ContentBlock, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT message_id, session_id, block_order, block_type, content_text,
		       thinking_text, tool_name, tool_input, tool_result_id, is_error, result_text
		FROM content_blocks WHERE session_id = $1 ORDER BY message_id, block_order`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list content blocks: %w", err)
	}
	defer rows.Close()

	var out []ContentBlock
	for rows.Next() {
		var b ContentBlock
		if err := rows.Scan(&b.MessageID, &b.SessionID, &b.BlockOrder, &b.BlockType, &b.ContentText,
			&b.ThinkingText, &b.ToolName, &b.ToolInput, &b.ToolResultID, &b.IsError, &b.ResultText); err != nil {
			return nil, fmt.Errorf("scan content block: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// MaxOrdinal returns the highest persisted ordinal for a session, or -1 if
// none exist yet, so a resumed parse (after a crash mid-pipeline) can pick
// up from the next unpersisted message instead of re-parsing the file.
func (r *TranscriptRepository) MaxOrdinal(ctx context.Context, sessionID string) (int, error) {
	var max sql.NullInt64
	row := r.db.QueryRowContext(ctx, `SELECT MAX(ordinal) FROM transcript_messages WHERE session_id = $1`, sessionID)
	if err := row.Scan(&max); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return -1, nil
		}
		return -1, fmt.Errorf("max ordinal: %w", err)
	}
	if !max.Valid {
		return -1, nil
	}
	return int(max.Int64), nil
}
