// ABOUTME: SQLite session persistence: lazy creation, ordered history, atomic slot merges
// ABOUTME: Slots are stored as JSON and merged inside a write transaction

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/marksk1/chatmarket-mvp/internal/slots"
)

// ensureSession inserts an empty session row for key if none exists.
func ensureSession(ctx context.Context, q execer, key SessionKey, now time.Time) error {
	_, err := q.ExecContext(ctx, `
		INSERT OR IGNORE INTO sessions (role, user_id, stage, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, string(key.Role), key.UserID, slots.StageGreeting, formatTime(now), formatTime(now))
	if err != nil {
		return fmt.Errorf("ensuring session %s: %w", key, err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// GetSession returns the session for key, creating it if needed.
func (s *SQLiteStore) GetSession(ctx context.Context, key SessionKey) (*Session, error) {
	if err := ensureSession(ctx, s.db, key, time.Now()); err != nil {
		return nil, err
	}
	return loadSession(ctx, s.db, key)
}

// AppendMessage adds turn to the end of the session history.
func (s *SQLiteStore) AppendMessage(ctx context.Context, key SessionKey, turn Turn) error {
	now := time.Now()
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = now
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := ensureSession(ctx, tx, key, now); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO session_messages (role, user_id, speaker, text, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, string(key.Role), key.UserID, string(turn.Speaker), turn.Text, formatTime(turn.CreatedAt)); err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE sessions SET updated_at = ? WHERE role = ? AND user_id = ?
	`, formatTime(now), string(key.Role), key.UserID); err != nil {
		return fmt.Errorf("touching session: %w", err)
	}

	return tx.Commit()
}

// MergeSlots applies update in one transaction and returns the new session.
func (s *SQLiteStore) MergeSlots(ctx context.Context, key SessionKey, update SlotUpdate) (*Session, error) {
	now := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	// Writing first takes the write lock before the read below.
	if err := ensureSession(ctx, tx, key, now); err != nil {
		return nil, err
	}

	var slotsJSON string
	if err := tx.QueryRowContext(ctx, `
		SELECT slots_json FROM sessions WHERE role = ? AND user_id = ?
	`, string(key.Role), key.UserID).Scan(&slotsJSON); err != nil {
		return nil, fmt.Errorf("reading slots: %w", err)
	}

	current, err := decodeSlots(slotsJSON)
	if err != nil {
		return nil, err
	}
	merged := slots.Merge(current, update.Delta)

	encoded, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("encoding slots: %w", err)
	}

	query := `UPDATE sessions SET slots_json = ?, updated_at = ?`
	args := []any{string(encoded), formatTime(now)}
	if c := update.Classification; c != nil {
		query += `, emotion = ?, intent = ?, confidence_level = ?, tone = ?`
		args = append(args, c.Emotion, c.Intent, c.ConfidenceLevel, c.Tone)
	}
	if update.Stage != "" {
		query += `, stage = ?`
		args = append(args, update.Stage)
	}
	query += ` WHERE role = ? AND user_id = ?`
	args = append(args, string(key.Role), key.UserID)

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("updating session: %w", err)
	}

	sess, err := loadSession(ctx, tx, key)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing slot merge: %w", err)
	}
	return sess, nil
}

// ResetSlots clears slots and returns the stage to greeting.
func (s *SQLiteStore) ResetSlots(ctx context.Context, key SessionKey) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET slots_json = '{}', stage = ?, updated_at = ?
		WHERE role = ? AND user_id = ?
	`, slots.StageGreeting, formatTime(time.Now()), string(key.Role), key.UserID)
	if err != nil {
		return fmt.Errorf("resetting slots: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func loadSession(ctx context.Context, q querier, key SessionKey) (*Session, error) {
	sess := &Session{Key: key}
	var slotsJSON, createdAt, updatedAt string

	err := q.QueryRowContext(ctx, `
		SELECT slots_json, emotion, intent, confidence_level, tone, stage, created_at, updated_at
		FROM sessions WHERE role = ? AND user_id = ?
	`, string(key.Role), key.UserID).Scan(
		&slotsJSON,
		&sess.Classification.Emotion,
		&sess.Classification.Intent,
		&sess.Classification.ConfidenceLevel,
		&sess.Classification.Tone,
		&sess.Stage,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}

	if sess.Slots, err = decodeSlots(slotsJSON); err != nil {
		return nil, err
	}
	if sess.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if sess.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx, `
		SELECT speaker, text, created_at FROM session_messages
		WHERE role = ? AND user_id = ?
		ORDER BY id ASC
	`, string(key.Role), key.UserID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var turn Turn
		var speaker, at string
		if err := rows.Scan(&speaker, &turn.Text, &at); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		turn.Speaker = Speaker(speaker)
		if turn.CreatedAt, err = parseTime(at); err != nil {
			return nil, err
		}
		sess.Messages = append(sess.Messages, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}

	return sess, nil
}

func decodeSlots(raw string) (slots.Values, error) {
	values := slots.Values{}
	if raw == "" {
		return values, nil
	}
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, fmt.Errorf("decoding slots: %w", err)
	}
	return values, nil
}
