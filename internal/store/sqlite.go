package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/capitalize-ai/streamchat/internal/model"
)

// SQLite is a Store backed by a local SQLite database.
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

// DSNForFile builds a DSN for an on-disk database.
func DSNForFile(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("sqlite store: empty path")
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path), nil
}

// NewSQLite opens the database and applies the schema.
func NewSQLite(dsn string) (*SQLite, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("sqlite store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite store: open")
	}
	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL DEFAULT '',
			user_id TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			created_at_ms INTEGER NOT NULL,
			updated_at_ms INTEGER NOT NULL,
			turn_count INTEGER NOT NULL DEFAULT 0,
			deleted INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS turns (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			conversation_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			images_json TEXT NOT NULL DEFAULT '[]',
			pinned INTEGER NOT NULL DEFAULT 0,
			created_at_ms INTEGER NOT NULL,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS conversations_by_tenant ON conversations(tenant_id, deleted, updated_at_ms DESC);`,
		`CREATE INDEX IF NOT EXISTS turns_by_conversation ON turns(conversation_id, seq);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "sqlite store: migrate")
		}
	}
	return nil
}

func (s *SQLite) CreateConversation(ctx context.Context, conv *model.Conversation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, tenant_id, user_id, title, created_at_ms, updated_at_ms, turn_count, deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0)`,
		conv.ID, conv.TenantID, conv.UserID, conv.Title,
		conv.CreatedAt.UnixMilli(), conv.UpdatedAt.UnixMilli(), conv.TurnCount,
	)
	return errors.Wrap(err, "sqlite store: create conversation")
}

func (s *SQLite) GetConversation(ctx context.Context, tenantID, id string) (*model.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, user_id, title, created_at_ms, updated_at_ms, turn_count
		FROM conversations
		WHERE id = ? AND tenant_id = ? AND deleted = 0`, id, tenantID)

	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "sqlite store: get conversation")
	}
	return conv, nil
}

func (s *SQLite) UpdateConversation(ctx context.Context, conv *model.Conversation) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET title = ?, updated_at_ms = ?
		WHERE id = ? AND tenant_id = ? AND deleted = 0`,
		conv.Title, conv.UpdatedAt.UnixMilli(), conv.ID, conv.TenantID)
	if err != nil {
		return errors.Wrap(err, "sqlite store: update conversation")
	}
	return requireAffected(res)
}

func (s *SQLite) ListConversations(ctx context.Context, opts ListOptions) ([]model.Conversation, int, error) {
	where := `tenant_id = ? AND deleted = 0`
	args := []any{opts.TenantID}
	if opts.UserID != "" {
		where += ` AND user_id = ?`
		args = append(args, opts.UserID)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM conversations WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "sqlite store: count conversations")
	}

	start, end := opts.Window(total)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, user_id, title, created_at_ms, updated_at_ms, turn_count
		FROM conversations WHERE `+where+`
		ORDER BY updated_at_ms DESC, id DESC
		LIMIT ? OFFSET ?`, append(args, end-start, start)...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "sqlite store: list conversations")
	}
	defer func() { _ = rows.Close() }()

	convs := []model.Conversation{}
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, 0, errors.Wrap(err, "sqlite store: scan conversation")
		}
		convs = append(convs, *conv)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.Wrap(err, "sqlite store: list conversations")
	}
	return convs, total, nil
}

func (s *SQLite) DeleteConversation(ctx context.Context, tenantID, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "sqlite store: begin")
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE conversations SET deleted = 1, updated_at_ms = ?
		WHERE id = ? AND tenant_id = ? AND deleted = 0`,
		time.Now().UnixMilli(), id, tenantID)
	if err != nil {
		return errors.Wrap(err, "sqlite store: delete conversation")
	}
	if err := requireAffected(res); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE conversation_id = ?`, id); err != nil {
		return errors.Wrap(err, "sqlite store: delete conversation turns")
	}
	return errors.Wrap(tx.Commit(), "sqlite store: commit")
}

func (s *SQLite) SaveTurn(ctx context.Context, turn model.Turn) error {
	images, err := json.Marshal(nonNil(turn.Images))
	if err != nil {
		return errors.Wrap(err, "sqlite store: marshal images")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "sqlite store: begin")
	}
	defer func() { _ = tx.Rollback() }()

	var deleted bool
	err = tx.QueryRowContext(ctx, `SELECT deleted FROM conversations WHERE id = ?`, turn.ConversationID).Scan(&deleted)
	if errors.Is(err, sql.ErrNoRows) || deleted {
		return ErrNotFound
	}
	if err != nil {
		return errors.Wrap(err, "sqlite store: load conversation")
	}

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM turns WHERE id = ?`, turn.ID).Scan(&exists)
	if err != nil {
		return errors.Wrap(err, "sqlite store: lookup turn")
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO turns (id, conversation_id, role, content, images_json, pinned, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			images_json = excluded.images_json,
			pinned = excluded.pinned`,
		turn.ID, turn.ConversationID, string(turn.Role), turn.Content, string(images),
		boolToInt(turn.Pinned), turn.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return errors.Wrap(err, "sqlite store: save turn")
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE conversations SET turn_count = turn_count + ?, updated_at_ms = ? WHERE id = ?`,
		1-exists, time.Now().UnixMilli(), turn.ConversationID)
	if err != nil {
		return errors.Wrap(err, "sqlite store: touch conversation")
	}
	return errors.Wrap(tx.Commit(), "sqlite store: commit")
}

func (s *SQLite) DeleteTurns(ctx context.Context, conversationID string, ids []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "sqlite store: begin")
	}
	defer func() { _ = tx.Rollback() }()

	var deleted bool
	err = tx.QueryRowContext(ctx, `SELECT deleted FROM conversations WHERE id = ?`, conversationID).Scan(&deleted)
	if errors.Is(err, sql.ErrNoRows) || deleted {
		return ErrNotFound
	}
	if err != nil {
		return errors.Wrap(err, "sqlite store: load conversation")
	}

	var removed int64
	for _, id := range ids {
		res, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE conversation_id = ? AND id = ?`, conversationID, id)
		if err != nil {
			return errors.Wrap(err, "sqlite store: delete turn")
		}
		n, _ := res.RowsAffected()
		removed += n
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE conversations SET turn_count = turn_count - ?, updated_at_ms = ? WHERE id = ?`,
		removed, time.Now().UnixMilli(), conversationID)
	if err != nil {
		return errors.Wrap(err, "sqlite store: touch conversation")
	}
	return errors.Wrap(tx.Commit(), "sqlite store: commit")
}

func (s *SQLite) ListTurns(ctx context.Context, conversationID string) ([]model.Turn, error) {
	var deleted bool
	err := s.db.QueryRowContext(ctx, `SELECT deleted FROM conversations WHERE id = ?`, conversationID).Scan(&deleted)
	if errors.Is(err, sql.ErrNoRows) || deleted {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "sqlite store: load conversation")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, images_json, pinned, created_at_ms
		FROM turns WHERE conversation_id = ? ORDER BY seq ASC`, conversationID)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite store: list turns")
	}
	defer func() { _ = rows.Close() }()

	turns := []model.Turn{}
	for rows.Next() {
		var (
			turn      model.Turn
			role      string
			images    string
			pinned    int
			createdMs int64
		)
		if err := rows.Scan(&turn.ID, &turn.ConversationID, &role, &turn.Content, &images, &pinned, &createdMs); err != nil {
			return nil, errors.Wrap(err, "sqlite store: scan turn")
		}
		turn.Role = model.Role(role)
		turn.Pinned = pinned != 0
		turn.CreatedAt = time.UnixMilli(createdMs).UTC()
		if err := json.Unmarshal([]byte(images), &turn.Images); err != nil {
			return nil, errors.Wrapf(err, "sqlite store: decode images of turn %s", turn.ID)
		}
		if len(turn.Images) == 0 {
			turn.Images = nil
		}
		turns = append(turns, turn)
	}
	return turns, errors.Wrap(rows.Err(), "sqlite store: list turns")
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*model.Conversation, error) {
	var (
		conv                 model.Conversation
		createdMs, updatedMs int64
	)
	if err := row.Scan(&conv.ID, &conv.TenantID, &conv.UserID, &conv.Title, &createdMs, &updatedMs, &conv.TurnCount); err != nil {
		return nil, err
	}
	conv.CreatedAt = time.UnixMilli(createdMs).UTC()
	conv.UpdatedAt = time.UnixMilli(updatedMs).UTC()
	return &conv, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "sqlite store: rows affected")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nonNil(images []string) []string {
	if images == nil {
		return []string{}
	}
	return images
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
