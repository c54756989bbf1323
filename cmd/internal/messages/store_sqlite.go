package messages

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// SQLiteStore is a Store on an embedded SQLite database. Timestamps are
// stored as unix milliseconds so MAX() and ORDER BY compare numerically.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens dsn (a file: URI or :memory:) with the ncruces driver.
// In-memory databases are pinned to one connection, since each connection
// would otherwise see its own empty database.
func OpenSQLite(dsn string) (*SQLiteStore, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:kaenbyou.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("messages: open sqlite: %w", err)
	}
	if strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
	}
	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, SQLiteSchemaSQL()); err != nil {
		return fmt.Errorf("messages: migrate sqlite: %w", err)
	}
	return nil
}

// Ping checks the database handle.
func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

const sqliteUpsertSQL = `
INSERT INTO messages (
    platform, channel_id, message_id, content, guild_id, quote_id,
    created_at, updated_at, deleted, edited,
    author_id, author_name, author_nick, author_avatar, author_is_bot
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, 0), COALESCE(?, 0), ?, ?, ?, ?, ?)
ON CONFLICT (platform, channel_id, message_id) DO UPDATE SET
    content = CASE WHEN messages.updated_at > excluded.updated_at THEN messages.content
                   ELSE COALESCE(excluded.content, messages.content) END,
    guild_id = CASE WHEN messages.updated_at <= excluded.updated_at OR COALESCE(messages.guild_id, '') = ''
                   THEN COALESCE(excluded.guild_id, messages.guild_id) ELSE messages.guild_id END,
    quote_id = CASE WHEN messages.updated_at <= excluded.updated_at OR COALESCE(messages.quote_id, '') = ''
                   THEN COALESCE(excluded.quote_id, messages.quote_id) ELSE messages.quote_id END,
    created_at = COALESCE(messages.created_at, excluded.created_at),
    updated_at = MAX(messages.updated_at, excluded.updated_at),
    deleted = (messages.deleted OR excluded.deleted),
    edited = (messages.edited OR excluded.edited),
    author_id = CASE WHEN excluded.author_id IS NOT NULL
                         AND (messages.updated_at <= excluded.updated_at OR COALESCE(messages.author_id, '') = '')
                    THEN excluded.author_id ELSE messages.author_id END,
    author_name = CASE WHEN excluded.author_id IS NOT NULL
                           AND (messages.updated_at <= excluded.updated_at OR COALESCE(messages.author_id, '') = '')
                      THEN excluded.author_name ELSE messages.author_name END,
    author_nick = CASE WHEN excluded.author_id IS NOT NULL
                           AND (messages.updated_at <= excluded.updated_at OR COALESCE(messages.author_id, '') = '')
                      THEN excluded.author_nick ELSE messages.author_nick END,
    author_avatar = CASE WHEN excluded.author_id IS NOT NULL
                             AND (messages.updated_at <= excluded.updated_at OR COALESCE(messages.author_id, '') = '')
                        THEN excluded.author_avatar ELSE messages.author_avatar END,
    author_is_bot = CASE WHEN excluded.author_id IS NOT NULL
                             AND (messages.updated_at <= excluded.updated_at OR COALESCE(messages.author_id, '') = '')
                        THEN excluded.author_is_bot ELSE messages.author_is_bot END`

func (s *SQLiteStore) Upsert(ctx context.Context, deltas []MessageDelta) error {
	ds, err := normalizeDeltas(deltas, s.now())
	if err != nil {
		return err
	}
	if len(ds) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, sqliteUpsertSQL)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, d := range ds {
		if _, err := stmt.ExecContext(ctx, sqliteDeltaArgs(d)...); err != nil {
			return fmt.Errorf("messages: upsert %d: %w", i, err)
		}
	}
	return tx.Commit()
}

func sqliteDeltaArgs(d MessageDelta) []any {
	var (
		authorID, authorName, authorNick, authorAvatar any
		authorBot                                      any
	)
	if d.Author != nil {
		authorID, authorName, authorNick, authorAvatar = d.Author.ID, d.Author.Name, d.Author.Nick, d.Author.Avatar
		authorBot = d.Author.IsBot
	}
	var created any
	if d.CreatedAt != nil {
		created = toMillis(*d.CreatedAt)
	}
	return []any{
		d.Platform, d.ChannelID, d.MessageID, nullable(d.Content), nullable(d.GuildID), nullable(d.QuoteID),
		created, toMillis(d.UpdatedAt), nullable(d.Deleted), nullable(d.Edited),
		authorID, authorName, authorNick, authorAvatar, authorBot,
	}
}

func (s *SQLiteStore) Patch(ctx context.Context, f Filter, p Patch) (int64, error) {
	if err := validFilter(f); err != nil {
		return 0, err
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = s.now()
	}
	at := toMillis(p.UpdatedAt)

	res, err := s.db.ExecContext(ctx,
		`UPDATE messages
		    SET content = CASE WHEN updated_at > ? THEN content ELSE COALESCE(?, content) END,
		        updated_at = MAX(updated_at, ?),
		        deleted = (deleted OR ?),
		        edited = (edited OR ?)
		  WHERE platform = ? AND message_id = ? AND (? = '' OR channel_id = ?)`,
		at, nullable(p.Content), at, p.Deleted, p.Edited, f.Platform, f.MessageID, f.ChannelID, f.ChannelID,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// LatestByChannel ranks rows per channel with a window function; rank 1 is
// the greatest created_at, ties broken by the greater seq.
func (s *SQLiteStore) LatestByChannel(ctx context.Context, q LatestQuery) ([]ChannelFrontier, error) {
	var guild any
	if q.GuildID != nil {
		guild = *q.GuildID
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT platform, channel_id, guild_id, message_id, created_at, content,
		        author_id, author_name, author_nick, author_avatar, author_is_bot
		   FROM (
		     SELECT platform, channel_id, COALESCE(guild_id, '') AS guild_id, message_id, created_at,
		            COALESCE(content, '') AS content, COALESCE(author_id, '') AS author_id,
		            COALESCE(author_name, '') AS author_name, COALESCE(author_nick, '') AS author_nick,
		            COALESCE(author_avatar, '') AS author_avatar, COALESCE(author_is_bot, 0) AS author_is_bot,
		            ROW_NUMBER() OVER (
		              PARTITION BY platform, channel_id ORDER BY created_at DESC, seq DESC
		            ) AS rn
		       FROM messages
		      WHERE created_at IS NOT NULL
		        AND (? = '' OR platform = ?)
		        AND (? IS NULL OR guild_id = ?)
		   )
		  WHERE rn = 1
		  ORDER BY platform, channel_id`,
		q.Platform, q.Platform, guild, guild,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ChannelFrontier
	for rows.Next() {
		var (
			f       ChannelFrontier
			created int64
		)
		if err := rows.Scan(
			&f.Platform, &f.ChannelID, &f.GuildID, &f.MessageID, &created, &f.Content,
			&f.Author.ID, &f.Author.Name, &f.Author.Nick, &f.Author.Avatar, &f.Author.IsBot,
		); err != nil {
			return nil, err
		}
		f.CreatedAt = fromMillis(created)
		out = append(out, f)
	}
	return out, rows.Err()
}

const sqliteRowColumns = `seq, platform, channel_id, message_id, COALESCE(content, ''),
        COALESCE(guild_id, ''), COALESCE(quote_id, ''), created_at, updated_at, deleted, edited,
        COALESCE(author_id, ''), COALESCE(author_name, ''), COALESCE(author_nick, ''),
        COALESCE(author_avatar, ''), COALESCE(author_is_bot, 0)`

func (s *SQLiteStore) ListMessages(ctx context.Context, q ListQuery) ([]StoredMessage, error) {
	if q.ChannelID == "" {
		return nil, fmt.Errorf("%w: missing channel id", ErrInvalidInput)
	}
	var after int64
	if !q.After.IsZero() {
		after = toMillis(q.After)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteRowColumns+`
		   FROM messages
		  WHERE channel_id = ?
		    AND (? = '' OR platform = ?)
		    AND created_at IS NOT NULL
		    AND created_at > ?
		  ORDER BY created_at ASC, seq ASC
		  LIMIT ?`,
		q.ChannelID, q.Platform, q.Platform, after, clampLimit(q.Limit),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StoredMessage
	for rows.Next() {
		m, err := scanSQLiteRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Get(ctx context.Context, k Key) (StoredMessage, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteRowColumns+`
		   FROM messages
		  WHERE platform = ? AND channel_id = ? AND message_id = ?`,
		k.Platform, k.ChannelID, k.MessageID,
	)
	m, err := scanSQLiteRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return StoredMessage{}, ErrNotFound
	}
	return m, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRow(row scanner) (StoredMessage, error) {
	var (
		m               StoredMessage
		created         sql.NullInt64
		updated         int64
		deleted, edited bool
	)
	err := row.Scan(
		&m.Seq, &m.Platform, &m.ChannelID, &m.MessageID, &m.Content,
		&m.GuildID, &m.QuoteID, &created, &updated, &deleted, &edited,
		&m.Author.ID, &m.Author.Name, &m.Author.Nick, &m.Author.Avatar, &m.Author.IsBot,
	)
	if err != nil {
		return StoredMessage{}, err
	}
	if created.Valid {
		m.CreatedAt = fromMillis(created.Int64)
	}
	m.UpdatedAt = fromMillis(updated)
	m.Deleted, m.Edited = deleted, edited
	return m, nil
}

func nullable[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
