package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	e "nuclight.org/relay-tg-bot/pkg/entities"
)

type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLite(ctx context.Context, filePath string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", "file:"+filePath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite3 database: %w", err)
	}

	// a single connection keeps transactions and plain statements from
	// fighting over the write lock
	db.SetMaxOpenConns(1)

	client := &SQLite{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}

	err = client.init(ctx)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing sqlite3 database: %w", err)
	}

	return client, nil
}

func (c *SQLite) Close() error {
	return c.db.Close()
}

func (c *SQLite) UpsertUser(ctx context.Context, user e.User) error {
	now := c.now()
	_, err := c.db.ExecContext(
		ctx,
		`INSERT INTO users (chat_id, display_name, first_seen, last_active)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(chat_id) DO UPDATE
				SET display_name = excluded.display_name, last_active = excluded.last_active`,
		user.ChatID, user.DisplayName, now, now,
	)
	if err != nil {
		return storeError("upserting user", err)
	}
	return nil
}

func (c *SQLite) GetUser(ctx context.Context, chatID int64) (e.User, error) {
	var user e.User
	err := c.db.QueryRowContext(
		ctx,
		"SELECT chat_id, display_name, first_seen, last_active FROM users WHERE chat_id = ?",
		chatID,
	).Scan(&user.ChatID, &user.DisplayName, &user.FirstSeen, &user.LastActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return e.User{}, e.ErrNotFound
		}
		return e.User{}, storeError("getting user", err)
	}
	return user, nil
}

// UpsertChannel creates a channel or refreshes its metadata. AddedBy and
// AddedAt of an existing channel are kept.
func (c *SQLite) UpsertChannel(ctx context.Context, ch e.Channel) error {
	addedAt := ch.AddedAt
	if addedAt.IsZero() {
		addedAt = c.now()
	}

	_, err := c.db.ExecContext(
		ctx,
		`INSERT INTO channels (channel_id, access_hash, name, link, added_by, added_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(channel_id) DO UPDATE
				SET access_hash = excluded.access_hash, name = excluded.name, link = excluded.link`,
		ch.ID, ch.AccessHash, ch.Name, ch.Link, ch.AddedBy, addedAt,
	)
	if err != nil {
		return storeError("upserting channel", err)
	}
	return nil
}

func (c *SQLite) GetChannelByLink(ctx context.Context, link string) (e.Channel, error) {
	return c.getChannel(ctx, "link = ?", link)
}

func (c *SQLite) getChannel(ctx context.Context, where string, arg any) (e.Channel, error) {
	var ch e.Channel
	err := c.db.QueryRowContext(
		ctx,
		"SELECT channel_id, access_hash, name, link, added_by, added_at FROM channels WHERE "+where,
		arg,
	).Scan(&ch.ID, &ch.AccessHash, &ch.Name, &ch.Link, &ch.AddedBy, &ch.AddedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return e.Channel{}, e.ErrNotFound
		}
		return e.Channel{}, storeError("getting channel", err)
	}
	return ch, nil
}

// ListActiveChannels returns channels with at least one live subscription.
func (c *SQLite) ListActiveChannels(ctx context.Context) ([]e.Channel, error) {
	rows, err := c.db.QueryContext(
		ctx,
		`SELECT c.channel_id, c.access_hash, c.name, c.link, c.added_by, c.added_at
			FROM channels c
			WHERE EXISTS (SELECT 1 FROM subscriptions s WHERE s.channel_id = c.channel_id)
			ORDER BY c.channel_id`,
	)
	if err != nil {
		return nil, storeError("listing active channels", err)
	}
	defer func() { _ = rows.Close() }()

	var channels []e.Channel
	for rows.Next() {
		var ch e.Channel
		if err := rows.Scan(&ch.ID, &ch.AccessHash, &ch.Name, &ch.Link, &ch.AddedBy, &ch.AddedAt); err != nil {
			return nil, storeError("scanning channel", err)
		}
		channels = append(channels, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("listing active channels", err)
	}

	return channels, nil
}

func (c *SQLite) ListSubscribers(ctx context.Context, channelID int64) ([]e.Subscription, error) {
	rows, err := c.db.QueryContext(
		ctx,
		`SELECT user_id, channel_id, last_post_id, added_at
			FROM subscriptions WHERE channel_id = ? ORDER BY added_at, user_id`,
		channelID,
	)
	if err != nil {
		return nil, storeError("listing subscribers", err)
	}
	defer func() { _ = rows.Close() }()

	var subs []e.Subscription
	for rows.Next() {
		var s e.Subscription
		if err := rows.Scan(&s.UserID, &s.ChannelID, &s.LastPostID, &s.AddedAt); err != nil {
			return nil, storeError("scanning subscription", err)
		}
		subs = append(subs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("listing subscribers", err)
	}

	return subs, nil
}

func (c *SQLite) GetWatermark(ctx context.Context, userID, channelID int64) (int64, error) {
	var postID int64
	err := c.db.QueryRowContext(
		ctx,
		"SELECT last_post_id FROM subscriptions WHERE user_id = ? AND channel_id = ?",
		userID, channelID,
	).Scan(&postID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, e.ErrNotFound
		}
		return 0, storeError("getting watermark", err)
	}
	return postID, nil
}

// SetWatermark advances the watermark to postID only if it is greater than
// the stored one. It reports whether the row was changed.
func (c *SQLite) SetWatermark(ctx context.Context, userID, channelID, postID int64) (bool, error) {
	result, err := c.db.ExecContext(
		ctx,
		`UPDATE subscriptions SET last_post_id = ?
			WHERE user_id = ? AND channel_id = ? AND last_post_id < ?`,
		postID, userID, channelID, postID,
	)
	if err != nil {
		return false, storeError("setting watermark", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, storeError("getting affected rows", err)
	}

	return n > 0, nil
}

// UpsertSubscription creates the subscription or overwrites an existing one,
// resetting its watermark. A new subscription is refused with
// ErrSubscriptionLimit when the user already has limit subscriptions; nothing
// is written in that case. Zero limit disables the check.
func (c *SQLite) UpsertSubscription(ctx context.Context, sub e.Subscription, limit int) (err error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return storeError("beginning transaction", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var exists bool
	err = tx.QueryRowContext(
		ctx,
		"SELECT EXISTS (SELECT 1 FROM subscriptions WHERE user_id = ? AND channel_id = ?)",
		sub.UserID, sub.ChannelID,
	).Scan(&exists)
	if err != nil {
		return storeError("checking subscription", err)
	}

	if !exists && limit > 0 {
		var count int
		err = tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM subscriptions WHERE user_id = ?", sub.UserID).Scan(&count)
		if err != nil {
			return storeError("counting subscriptions", err)
		}
		if count >= limit {
			return e.ErrSubscriptionLimit
		}
	}

	addedAt := sub.AddedAt
	if addedAt.IsZero() {
		addedAt = c.now()
	}

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO subscriptions (user_id, channel_id, last_post_id, added_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(user_id, channel_id) DO UPDATE
				SET last_post_id = excluded.last_post_id, added_at = excluded.added_at`,
		sub.UserID, sub.ChannelID, sub.LastPostID, addedAt,
	)
	if err != nil {
		return storeError("upserting subscription", err)
	}

	if err = tx.Commit(); err != nil {
		return storeError("committing subscription", err)
	}

	return nil
}

func (c *SQLite) DeleteSubscription(ctx context.Context, userID, channelID int64) (bool, error) {
	result, err := c.db.ExecContext(
		ctx,
		"DELETE FROM subscriptions WHERE user_id = ? AND channel_id = ?",
		userID, channelID,
	)
	if err != nil {
		return false, storeError("deleting subscription", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, storeError("getting affected rows", err)
	}

	return n > 0, nil
}

func (c *SQLite) CountSubscriptions(ctx context.Context, userID int64) (int, error) {
	var count int
	err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM subscriptions WHERE user_id = ?", userID).Scan(&count)
	if err != nil {
		return 0, storeError("counting subscriptions", err)
	}
	return count, nil
}

func (c *SQLite) ListUserSubscriptions(ctx context.Context, userID int64) ([]e.UserSubscription, error) {
	rows, err := c.db.QueryContext(
		ctx,
		`SELECT s.user_id, s.channel_id, s.last_post_id, s.added_at, c.name, c.link
			FROM subscriptions s
			JOIN channels c ON c.channel_id = s.channel_id
			WHERE s.user_id = ?
			ORDER BY s.added_at, s.channel_id`,
		userID,
	)
	if err != nil {
		return nil, storeError("listing user subscriptions", err)
	}
	defer func() { _ = rows.Close() }()

	var subs []e.UserSubscription
	for rows.Next() {
		var s e.UserSubscription
		err := rows.Scan(&s.UserID, &s.ChannelID, &s.LastPostID, &s.AddedAt, &s.ChannelName, &s.ChannelLink)
		if err != nil {
			return nil, storeError("scanning user subscription", err)
		}
		subs = append(subs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("listing user subscriptions", err)
	}

	return subs, nil
}

func (c *SQLite) SaveRequest(ctx context.Context, req e.SubscriptionRequest) error {
	var errMsg *string
	if req.Error != "" {
		errMsg = &req.Error
	}

	_, err := c.db.ExecContext(
		ctx,
		`INSERT INTO request_history (chat_id, channel_link, requested_at, success, error_message)
			VALUES (?, ?, ?, ?, ?)`,
		req.ChatID, req.ChannelLink, c.now(), req.Success, errMsg,
	)
	if err != nil {
		return storeError("saving request", err)
	}
	return nil
}

func storeError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", e.ErrStore, op, err)
}

//go:embed init.sql
var initQuery string

func (c *SQLite) init(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, initQuery)
	return err
}
