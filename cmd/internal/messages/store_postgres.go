package messages

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
//
// Conflict handling happens entirely in ON CONFLICT clauses, so concurrent
// writers of the same key need no application locking.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
	now    func() time.Time
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "kaenbyou").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("messages: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("messages: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "kaenbyou",
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("messages: nil pool")
	}
	return st, nil
}

func (s *PostgresStore) Close() error { return nil }

// Migrate applies the embedded schema. It is idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, PostgresSchemaSQL(s.schema)); err != nil {
		return fmt.Errorf("messages: migrate postgres: %w", err)
	}
	return nil
}

func (s *PostgresStore) table() string {
	return pgIdent(s.schema, "messages")
}

const pgUpsertSQL = `
INSERT INTO %[1]s AS m (
    platform, channel_id, message_id, content, guild_id, quote_id,
    created_at, updated_at, deleted, edited,
    author_id, author_name, author_nick, author_avatar, author_is_bot
) VALUES (
    $1, $2, $3, $4, $5, $6,
    $7, $8, COALESCE($9::boolean, false), COALESCE($10::boolean, false),
    $11, $12, $13, $14, $15
)
ON CONFLICT (platform, channel_id, message_id) DO UPDATE SET
    content = CASE WHEN m.updated_at > EXCLUDED.updated_at THEN m.content
                   ELSE COALESCE(EXCLUDED.content, m.content) END,
    guild_id = CASE WHEN m.updated_at <= EXCLUDED.updated_at OR COALESCE(m.guild_id, '') = ''
                   THEN COALESCE(EXCLUDED.guild_id, m.guild_id) ELSE m.guild_id END,
    quote_id = CASE WHEN m.updated_at <= EXCLUDED.updated_at OR COALESCE(m.quote_id, '') = ''
                   THEN COALESCE(EXCLUDED.quote_id, m.quote_id) ELSE m.quote_id END,
    created_at = COALESCE(m.created_at, EXCLUDED.created_at),
    updated_at = GREATEST(m.updated_at, EXCLUDED.updated_at),
    deleted = m.deleted OR EXCLUDED.deleted,
    edited = m.edited OR EXCLUDED.edited,
    author_id = CASE WHEN EXCLUDED.author_id IS NOT NULL
                         AND (m.updated_at <= EXCLUDED.updated_at OR COALESCE(m.author_id, '') = '')
                    THEN EXCLUDED.author_id ELSE m.author_id END,
    author_name = CASE WHEN EXCLUDED.author_id IS NOT NULL
                           AND (m.updated_at <= EXCLUDED.updated_at OR COALESCE(m.author_id, '') = '')
                      THEN EXCLUDED.author_name ELSE m.author_name END,
    author_nick = CASE WHEN EXCLUDED.author_id IS NOT NULL
                           AND (m.updated_at <= EXCLUDED.updated_at OR COALESCE(m.author_id, '') = '')
                      THEN EXCLUDED.author_nick ELSE m.author_nick END,
    author_avatar = CASE WHEN EXCLUDED.author_id IS NOT NULL
                             AND (m.updated_at <= EXCLUDED.updated_at OR COALESCE(m.author_id, '') = '')
                        THEN EXCLUDED.author_avatar ELSE m.author_avatar END,
    author_is_bot = CASE WHEN EXCLUDED.author_id IS NOT NULL
                             AND (m.updated_at <= EXCLUDED.updated_at OR COALESCE(m.author_id, '') = '')
                        THEN EXCLUDED.author_is_bot ELSE m.author_is_bot END`

// Upsert writes all deltas in one transaction.
func (s *PostgresStore) Upsert(ctx context.Context, deltas []MessageDelta) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ds, err := normalizeDeltas(deltas, s.now())
	if err != nil {
		return err
	}
	if len(ds) == 0 {
		return nil
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	q := fmt.Sprintf(pgUpsertSQL, s.table())
	b := &pgx.Batch{}
	for _, d := range ds {
		b.Queue(q, deltaArgs(d)...)
	}
	br := tx.SendBatch(ctx, b)
	for i := range ds {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("messages: upsert %d: %w", i, err)
		}
	}
	if err := br.Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// deltaArgs maps a delta to the fifteen upsert parameters. Nil pointers
// become SQL NULL, which the conflict clause reads as "not supplied".
func deltaArgs(d MessageDelta) []any {
	var (
		authorID, authorName, authorNick, authorAvatar *string
		authorBot                                      *bool
	)
	if d.Author != nil {
		authorID = &d.Author.ID
		authorName = &d.Author.Name
		authorNick = &d.Author.Nick
		authorAvatar = &d.Author.Avatar
		authorBot = &d.Author.IsBot
	}
	var created *time.Time
	if d.CreatedAt != nil {
		c := d.CreatedAt.UTC()
		created = &c
	}
	return []any{
		d.Platform, d.ChannelID, d.MessageID, d.Content, d.GuildID, d.QuoteID,
		created, d.UpdatedAt, d.Deleted, d.Edited,
		authorID, authorName, authorNick, authorAvatar, authorBot,
	}
}

func (s *PostgresStore) Patch(ctx context.Context, f Filter, p Patch) (int64, error) {
	if err := validFilter(f); err != nil {
		return 0, err
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = s.now()
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.table()+`
		    SET content = CASE WHEN updated_at > $2 THEN content ELSE COALESCE($1::text, content) END,
		        updated_at = GREATEST(updated_at, $2),
		        deleted = deleted OR $3,
		        edited = edited OR $4
		  WHERE platform = $5 AND message_id = $6 AND ($7::text = '' OR channel_id = $7)`,
		p.Content, p.UpdatedAt.UTC(), p.Deleted, p.Edited, f.Platform, f.MessageID, f.ChannelID,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// LatestByChannel uses DISTINCT ON so each channel yields the row with the
// greatest created_at, ties broken by the greater seq.
func (s *PostgresStore) LatestByChannel(ctx context.Context, q LatestQuery) ([]ChannelFrontier, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT ON (platform, channel_id)
		        platform, channel_id, COALESCE(guild_id, ''), message_id, created_at,
		        COALESCE(content, ''), COALESCE(author_id, ''), COALESCE(author_name, ''),
		        COALESCE(author_nick, ''), COALESCE(author_avatar, ''), COALESCE(author_is_bot, false)
		   FROM `+s.table()+`
		  WHERE created_at IS NOT NULL
		    AND ($1::text = '' OR platform = $1)
		    AND ($2::text IS NULL OR guild_id = $2)
		  ORDER BY platform, channel_id, created_at DESC, seq DESC`,
		q.Platform, q.GuildID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ChannelFrontier
	for rows.Next() {
		var f ChannelFrontier
		if err := rows.Scan(
			&f.Platform, &f.ChannelID, &f.GuildID, &f.MessageID, &f.CreatedAt,
			&f.Content, &f.Author.ID, &f.Author.Name, &f.Author.Nick, &f.Author.Avatar, &f.Author.IsBot,
		); err != nil {
			return nil, err
		}
		f.CreatedAt = f.CreatedAt.UTC()
		out = append(out, f)
	}
	return out, rows.Err()
}

const pgRowColumns = `seq, platform, channel_id, message_id, COALESCE(content, ''),
        COALESCE(guild_id, ''), COALESCE(quote_id, ''), created_at, updated_at, deleted, edited,
        COALESCE(author_id, ''), COALESCE(author_name, ''), COALESCE(author_nick, ''),
        COALESCE(author_avatar, ''), COALESCE(author_is_bot, false)`

func (s *PostgresStore) ListMessages(ctx context.Context, q ListQuery) ([]StoredMessage, error) {
	if q.ChannelID == "" {
		return nil, fmt.Errorf("%w: missing channel id", ErrInvalidInput)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+pgRowColumns+`
		   FROM `+s.table()+`
		  WHERE channel_id = $1
		    AND ($2::text = '' OR platform = $2)
		    AND created_at IS NOT NULL
		    AND created_at > $3
		  ORDER BY created_at ASC, seq ASC
		  LIMIT $4`,
		q.ChannelID, q.Platform, q.After.UTC(), clampLimit(q.Limit),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StoredMessage
	for rows.Next() {
		m, err := scanPGRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Get(ctx context.Context, k Key) (StoredMessage, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgRowColumns+`
		   FROM `+s.table()+`
		  WHERE platform = $1 AND channel_id = $2 AND message_id = $3`,
		k.Platform, k.ChannelID, k.MessageID,
	)
	m, err := scanPGRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return StoredMessage{}, ErrNotFound
	}
	return m, err
}

func scanPGRow(row pgx.Row) (StoredMessage, error) {
	var (
		m       StoredMessage
		created *time.Time
	)
	err := row.Scan(
		&m.Seq, &m.Platform, &m.ChannelID, &m.MessageID, &m.Content,
		&m.GuildID, &m.QuoteID, &created, &m.UpdatedAt, &m.Deleted, &m.Edited,
		&m.Author.ID, &m.Author.Name, &m.Author.Nick, &m.Author.Avatar, &m.Author.IsBot,
	)
	if err != nil {
		return StoredMessage{}, err
	}
	if created != nil {
		m.CreatedAt = created.UTC()
	}
	m.UpdatedAt = m.UpdatedAt.UTC()
	return m, nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}
