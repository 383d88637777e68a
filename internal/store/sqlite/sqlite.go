// Package sqlite implements store.Store on a local SQLite file (standalone mode).
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/chatpilot/internal/bus"
	"github.com/nextlevelbuilder/chatpilot/internal/store"
	"github.com/nextlevelbuilder/chatpilot/internal/store/migrations"
)

// Store is a SQLite-backed store.Store.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ store.Store = (*Store)(nil)

// OpenDB opens the database file with WAL and a busy timeout.
func OpenDB(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return db, nil
}

// Open opens path and applies pending migrations.
func Open(path string) (*Store, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.Up(migrations.SQLite, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// DB exposes the handle for schema checks.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *Store) Close() error                   { return s.db.Close() }

// --- active channels ---

func (s *Store) AddActiveChannel(ctx context.Context, chatKey, addedBy string) error {
	platform, _ := bus.SplitKey(chatKey)
	now := s.now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO active_channels (chat_key, platform, added_by, added_at, last_activity, message_count)
		 VALUES (?, ?, ?, ?, ?, 0)
		 ON CONFLICT (chat_key) DO NOTHING`,
		chatKey, platform, addedBy, now, now,
	)
	if err != nil {
		return fmt.Errorf("add active channel: %w", err)
	}
	return nil
}

func (s *Store) RemoveActiveChannel(ctx context.Context, chatKey string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM active_channels WHERE chat_key = ?`, chatKey); err != nil {
		return fmt.Errorf("remove active channel: %w", err)
	}
	return nil
}

func (s *Store) ListActiveChannels(ctx context.Context) ([]store.ActiveChannel, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_key, platform, added_by, added_at, last_activity, message_count
		 FROM active_channels ORDER BY added_at`)
	if err != nil {
		return nil, fmt.Errorf("list active channels: %w", err)
	}
	defer rows.Close()

	var out []store.ActiveChannel
	for rows.Next() {
		var c store.ActiveChannel
		if err := rows.Scan(&c.ChatKey, &c.Platform, &c.AddedBy, &c.AddedAt, &c.LastActivity, &c.MessageCount); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) TouchChannel(ctx context.Context, chatKey string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE active_channels SET last_activity = ?, message_count = message_count + 1 WHERE chat_key = ?`,
		s.now(), chatKey,
	)
	if err != nil {
		return fmt.Errorf("touch channel: %w", err)
	}
	return nil
}

// --- ignored users ---

func (s *Store) AddIgnoredUser(ctx context.Context, senderKey, ignoredBy, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ignored_users (sender_key, ignored_by, reason, ignored_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (sender_key) DO UPDATE SET ignored_by = excluded.ignored_by, reason = excluded.reason`,
		senderKey, ignoredBy, reason, s.now(),
	)
	if err != nil {
		return fmt.Errorf("add ignored user: %w", err)
	}
	return nil
}

func (s *Store) RemoveIgnoredUser(ctx context.Context, senderKey string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM ignored_users WHERE sender_key = ?`, senderKey); err != nil {
		return fmt.Errorf("remove ignored user: %w", err)
	}
	return nil
}

func (s *Store) ListIgnoredUsers(ctx context.Context) ([]store.IgnoredUser, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT sender_key, ignored_by, reason, ignored_at FROM ignored_users ORDER BY ignored_at`)
	if err != nil {
		return nil, fmt.Errorf("list ignored users: %w", err)
	}
	defer rows.Close()

	var out []store.IgnoredUser
	for rows.Next() {
		var u store.IgnoredUser
		if err := rows.Scan(&u.SenderKey, &u.IgnoredBy, &u.Reason, &u.IgnoredAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// --- conversations ---

func (s *Store) LogConversation(ctx context.Context, rec store.ConversationRecord) error {
	created := rec.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversation_history (turn_id, sender_key, chat_key, prompt, response, model, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.TurnID, rec.SenderKey, rec.ChatKey, rec.Prompt, rec.Response, rec.Model, created.UTC(),
	)
	if err != nil {
		return fmt.Errorf("log conversation: %w", err)
	}
	return nil
}

func (s *Store) RecentConversations(ctx context.Context, senderKey string, limit int) ([]store.ConversationRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	q := `SELECT id, turn_id, sender_key, chat_key, prompt, response, model, created_at
	      FROM conversation_history`
	args := []any{}
	if senderKey != "" {
		q += ` WHERE sender_key = ?`
		args = append(args, senderKey)
	}
	q += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("recent conversations: %w", err)
	}
	defer rows.Close()

	var out []store.ConversationRecord
	for rows.Next() {
		var r store.ConversationRecord
		if err := rows.Scan(&r.ID, &r.TurnID, &r.SenderKey, &r.ChatKey, &r.Prompt, &r.Response, &r.Model, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- statistics ---

func (s *Store) RecordInteraction(ctx context.Context, senderKey string, responseTime time.Duration) error {
	now := s.now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_statistics (sender_key, total_messages, avg_response_time, first_seen, last_seen)
		 VALUES (?, 1, ?, ?, ?)
		 ON CONFLICT (sender_key) DO UPDATE SET
		   avg_response_time = (user_statistics.avg_response_time * user_statistics.total_messages + excluded.avg_response_time)
		                       / (user_statistics.total_messages + 1),
		   total_messages = user_statistics.total_messages + 1,
		   last_seen = excluded.last_seen`,
		senderKey, responseTime.Seconds(), now, now,
	)
	if err != nil {
		return fmt.Errorf("record interaction: %w", err)
	}
	return nil
}

func (s *Store) UserStats(ctx context.Context, senderKey string) (*store.UserStats, error) {
	var u store.UserStats
	var avg float64
	err := s.db.QueryRowContext(ctx,
		`SELECT sender_key, total_messages, avg_response_time, first_seen, last_seen
		 FROM user_statistics WHERE sender_key = ?`, senderKey,
	).Scan(&u.SenderKey, &u.TotalMessages, &avg, &u.FirstSeen, &u.LastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user stats: %w", err)
	}
	u.AvgResponseTime = time.Duration(avg * float64(time.Second))
	return &u, nil
}

func (s *Store) DatabaseStats(ctx context.Context) (store.DatabaseStats, error) {
	var st store.DatabaseStats
	err := s.db.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(*) FROM active_channels),
		(SELECT COUNT(*) FROM ignored_users),
		(SELECT COUNT(*) FROM conversation_history),
		(SELECT COUNT(*) FROM user_statistics),
		(SELECT COUNT(*) FROM error_logs)`,
	).Scan(&st.ActiveChannels, &st.IgnoredUsers, &st.Conversations, &st.Users, &st.Errors)
	if err != nil {
		return st, fmt.Errorf("database stats: %w", err)
	}
	return st, nil
}

// --- errors ---

func (s *Store) LogError(ctx context.Context, e store.ErrorLog) error {
	created := e.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO error_logs (context, platform, chat_id, sender_id, message, preview, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Context, e.Platform, e.ChatID, e.SenderID, e.Message, e.Preview, created.UTC(),
	)
	if err != nil {
		return fmt.Errorf("log error: %w", err)
	}
	return nil
}

func (s *Store) RecentErrors(ctx context.Context, limit int) ([]store.ErrorLog, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, context, platform, chat_id, sender_id, message, preview, created_at
		 FROM error_logs ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent errors: %w", err)
	}
	defer rows.Close()

	var out []store.ErrorLog
	for rows.Next() {
		var e store.ErrorLog
		if err := rows.Scan(&e.ID, &e.Context, &e.Platform, &e.ChatID, &e.SenderID, &e.Message, &e.Preview, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Cleanup deletes conversation and error rows older than cutoff.
func (s *Store) Cleanup(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("cleanup: %w", err)
	}
	defer tx.Rollback()

	var total int64
	for _, q := range []string{
		`DELETE FROM conversation_history WHERE created_at < ?`,
		`DELETE FROM error_logs WHERE created_at < ?`,
	} {
		res, err := tx.ExecContext(ctx, q, cutoff.UTC())
		if err != nil {
			return 0, fmt.Errorf("cleanup: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("cleanup commit: %w", err)
	}
	return total, nil
}
