// Package pg implements store.Store on PostgreSQL via pgx (managed mode).
package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/nextlevelbuilder/chatpilot/internal/bus"
	"github.com/nextlevelbuilder/chatpilot/internal/store"
	"github.com/nextlevelbuilder/chatpilot/internal/store/migrations"
)

// Store is a Postgres-backed store.Store.
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// Open connects, verifies the connection and applies pending migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres DSN: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &Store{pool: pool}
	if err := migrations.Up(migrations.Postgres, s.SQLDB()); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// SQLDB returns a database/sql view over the pool for migrations and schema checks.
func (s *Store) SQLDB() *sql.DB { return stdlib.OpenDBFromPool(s.pool) }

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// --- active channels ---

func (s *Store) AddActiveChannel(ctx context.Context, chatKey, addedBy string) error {
	platform, _ := bus.SplitKey(chatKey)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO active_channels (chat_key, platform, added_by) VALUES ($1, $2, $3)
		 ON CONFLICT (chat_key) DO NOTHING`,
		chatKey, platform, addedBy,
	)
	if err != nil {
		return fmt.Errorf("add active channel: %w", err)
	}
	return nil
}

func (s *Store) RemoveActiveChannel(ctx context.Context, chatKey string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM active_channels WHERE chat_key = $1`, chatKey); err != nil {
		return fmt.Errorf("remove active channel: %w", err)
	}
	return nil
}

func (s *Store) ListActiveChannels(ctx context.Context) ([]store.ActiveChannel, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT chat_key, platform, added_by, added_at, last_activity, message_count
		 FROM active_channels ORDER BY added_at`)
	if err != nil {
		return nil, fmt.Errorf("list active channels: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.ActiveChannel, error) {
		var c store.ActiveChannel
		err := row.Scan(&c.ChatKey, &c.Platform, &c.AddedBy, &c.AddedAt, &c.LastActivity, &c.MessageCount)
		return c, err
	})
}

func (s *Store) TouchChannel(ctx context.Context, chatKey string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE active_channels SET last_activity = NOW(), message_count = message_count + 1 WHERE chat_key = $1`,
		chatKey,
	)
	if err != nil {
		return fmt.Errorf("touch channel: %w", err)
	}
	return nil
}

// --- ignored users ---

func (s *Store) AddIgnoredUser(ctx context.Context, senderKey, ignoredBy, reason string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ignored_users (sender_key, ignored_by, reason) VALUES ($1, $2, $3)
		 ON CONFLICT (sender_key) DO UPDATE SET ignored_by = EXCLUDED.ignored_by, reason = EXCLUDED.reason`,
		senderKey, ignoredBy, reason,
	)
	if err != nil {
		return fmt.Errorf("add ignored user: %w", err)
	}
	return nil
}

func (s *Store) RemoveIgnoredUser(ctx context.Context, senderKey string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM ignored_users WHERE sender_key = $1`, senderKey); err != nil {
		return fmt.Errorf("remove ignored user: %w", err)
	}
	return nil
}

func (s *Store) ListIgnoredUsers(ctx context.Context) ([]store.IgnoredUser, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT sender_key, ignored_by, reason, ignored_at FROM ignored_users ORDER BY ignored_at`)
	if err != nil {
		return nil, fmt.Errorf("list ignored users: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.IgnoredUser, error) {
		var u store.IgnoredUser
		err := row.Scan(&u.SenderKey, &u.IgnoredBy, &u.Reason, &u.IgnoredAt)
		return u, err
	})
}

// --- conversations ---

func (s *Store) LogConversation(ctx context.Context, rec store.ConversationRecord) error {
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversation_history (turn_id, sender_key, chat_key, prompt, response, model, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.TurnID, rec.SenderKey, rec.ChatKey, rec.Prompt, rec.Response, rec.Model, created,
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
	rows, err := s.pool.Query(ctx,
		`SELECT id, turn_id, sender_key, chat_key, prompt, response, model, created_at
		 FROM conversation_history
		 WHERE ($1::text = '' OR sender_key = $1)
		 ORDER BY created_at DESC, id DESC LIMIT $2`,
		senderKey, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent conversations: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.ConversationRecord, error) {
		var r store.ConversationRecord
		err := row.Scan(&r.ID, &r.TurnID, &r.SenderKey, &r.ChatKey, &r.Prompt, &r.Response, &r.Model, &r.CreatedAt)
		return r, err
	})
}

// --- statistics ---

func (s *Store) RecordInteraction(ctx context.Context, senderKey string, responseTime time.Duration) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO user_statistics (sender_key, total_messages, avg_response_time) VALUES ($1, 1, $2)
		 ON CONFLICT (sender_key) DO UPDATE SET
		   avg_response_time = (user_statistics.avg_response_time * user_statistics.total_messages + EXCLUDED.avg_response_time)
		                       / (user_statistics.total_messages + 1),
		   total_messages = user_statistics.total_messages + 1,
		   last_seen = NOW()`,
		senderKey, responseTime.Seconds(),
	)
	if err != nil {
		return fmt.Errorf("record interaction: %w", err)
	}
	return nil
}

func (s *Store) UserStats(ctx context.Context, senderKey string) (*store.UserStats, error) {
	var u store.UserStats
	var avg float64
	err := s.pool.QueryRow(ctx,
		`SELECT sender_key, total_messages, avg_response_time, first_seen, last_seen
		 FROM user_statistics WHERE sender_key = $1`, senderKey,
	).Scan(&u.SenderKey, &u.TotalMessages, &avg, &u.FirstSeen, &u.LastSeen)
	if errors.Is(err, pgx.ErrNoRows) {
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
	err := s.pool.QueryRow(ctx, `SELECT
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
		created = time.Now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO error_logs (context, platform, chat_id, sender_id, message, preview, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.Context, e.Platform, e.ChatID, e.SenderID, e.Message, e.Preview, created,
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
	rows, err := s.pool.Query(ctx,
		`SELECT id, context, platform, chat_id, sender_id, message, preview, created_at
		 FROM error_logs ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent errors: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.ErrorLog, error) {
		var e store.ErrorLog
		err := row.Scan(&e.ID, &e.Context, &e.Platform, &e.ChatID, &e.SenderID, &e.Message, &e.Preview, &e.CreatedAt)
		return e, err
	})
}

// Cleanup deletes conversation and error rows older than cutoff.
func (s *Store) Cleanup(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, q := range []string{
			`DELETE FROM conversation_history WHERE created_at < $1`,
			`DELETE FROM error_logs WHERE created_at < $1`,
		} {
			tag, err := tx.Exec(ctx, q, cutoff)
			if err != nil {
				return err
			}
			total += tag.RowsAffected()
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("cleanup: %w", err)
	}
	return total, nil
}
