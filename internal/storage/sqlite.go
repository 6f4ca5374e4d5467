package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"whatsched/internal/domain"
	logx "whatsched/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection keeps writers serialized and :memory: databases shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, string(b)); err != nil {
		return err
	}
	// Databases created before groups carried a chat address.
	ok, err := s.hasColumn(ctx, "grp", "address")
	if err != nil {
		return err
	}
	if !ok {
		_, err = s.db.ExecContext(ctx, `ALTER TABLE grp ADD COLUMN address TEXT NOT NULL DEFAULT ''`)
	}
	return err
}

func (s *sqliteStore) hasColumn(ctx context.Context, table, column string) (bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM pragma_table_info('`+table+`')`)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return false, err
		}
		if strings.EqualFold(name, column) {
			return true, nil
		}
	}
	return false, rows.Err()
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) ListRecipients(ctx context.Context, kind domain.Kind) ([]domain.Recipient, error) {
	var out []domain.Recipient
	if kind == "" || kind == domain.KindIndividual {
		friends, err := s.queryRecipients(ctx, domain.KindIndividual, `SELECT id, name, number FROM friend ORDER BY name, id`)
		if err != nil {
			return nil, err
		}
		out = append(out, friends...)
	}
	if kind == "" || kind == domain.KindGroup {
		groups, err := s.queryRecipients(ctx, domain.KindGroup, `SELECT id, name, address FROM grp ORDER BY name, id`)
		if err != nil {
			return nil, err
		}
		out = append(out, groups...)
	}
	return out, nil
}

func (s *sqliteStore) queryRecipients(ctx context.Context, kind domain.Kind, query string, args ...any) ([]domain.Recipient, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Recipient
	for rows.Next() {
		r := domain.Recipient{Kind: kind}
		if err := rows.Scan(&r.ID, &r.Name, &r.Address); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ListTemplates(ctx context.Context, category string) ([]domain.Template, error) {
	query := `SELECT id, category, content, is_image FROM template`
	var args []any
	if category = strings.TrimSpace(category); category != "" {
		query += ` WHERE category = ?`
		args = append(args, category)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Template
	for rows.Next() {
		var t domain.Template
		var img int
		if err := rows.Scan(&t.ID, &t.Category, &t.Text, &img); err != nil {
			return nil, err
		}
		t.IsImage = img != 0
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqliteStore) GetRecipient(ctx context.Context, kind domain.Kind, id int64) (domain.Recipient, error) {
	query, err := recipientQuery(kind, "id = ?")
	if err != nil {
		return domain.Recipient{}, err
	}
	return s.oneRecipient(ctx, kind, query, fmt.Sprint(id), id)
}

func (s *sqliteStore) FindRecipient(ctx context.Context, kind domain.Kind, name string) (domain.Recipient, error) {
	name = strings.TrimSpace(name)
	query, err := recipientQuery(kind, "name = ? COLLATE NOCASE ORDER BY id LIMIT 1")
	if err != nil {
		return domain.Recipient{}, err
	}
	return s.oneRecipient(ctx, kind, query, name, name)
}

func recipientQuery(kind domain.Kind, where string) (string, error) {
	switch kind {
	case domain.KindIndividual:
		return `SELECT id, name, number FROM friend WHERE ` + where, nil
	case domain.KindGroup:
		return `SELECT id, name, address FROM grp WHERE ` + where, nil
	default:
		return "", fmt.Errorf("unknown recipient kind %q", kind)
	}
}

func (s *sqliteStore) oneRecipient(ctx context.Context, kind domain.Kind, query, key string, arg any) (domain.Recipient, error) {
	r := domain.Recipient{Kind: kind}
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&r.ID, &r.Name, &r.Address)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Recipient{}, &domain.NotFoundError{What: string(kind), Key: key}
	}
	return r, err
}

func (s *sqliteStore) GroupMembers(ctx context.Context, groupID int64) ([]domain.Recipient, error) {
	return s.queryRecipients(ctx, domain.KindIndividual,
		`SELECT f.id, f.name, f.number FROM friend f
		 JOIN group_member gm ON f.id = gm.friend_id
		 WHERE gm.group_id = ? ORDER BY f.name, f.id`, groupID)
}

func (s *sqliteStore) Categories(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT category FROM template ORDER BY category`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AddFriend(ctx context.Context, name, number string) (domain.Recipient, error) {
	name, number = strings.TrimSpace(name), strings.TrimSpace(number)
	if name == "" || number == "" {
		return domain.Recipient{}, errors.New("friend name and number are required")
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO friend(name, number) VALUES(?, ?)`, name, number)
	if err != nil {
		return domain.Recipient{}, wrapInsert(err, "friend number "+number)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Recipient{}, err
	}
	return domain.Recipient{ID: id, Name: name, Kind: domain.KindIndividual, Address: number}, nil
}

func (s *sqliteStore) AddGroup(ctx context.Context, name, address string) (domain.Recipient, error) {
	name, address = strings.TrimSpace(name), strings.TrimSpace(address)
	if name == "" {
		return domain.Recipient{}, errors.New("group name is required")
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO grp(name, address) VALUES(?, ?)`, name, address)
	if err != nil {
		return domain.Recipient{}, wrapInsert(err, "group "+name)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Recipient{}, err
	}
	return domain.Recipient{ID: id, Name: name, Kind: domain.KindGroup, Address: address}, nil
}

func (s *sqliteStore) AddGroupMember(ctx context.Context, groupID, friendID int64) error {
	if _, err := s.GetRecipient(ctx, domain.KindGroup, groupID); err != nil {
		return err
	}
	if _, err := s.GetRecipient(ctx, domain.KindIndividual, friendID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO group_member(group_id, friend_id) VALUES(?, ?)
		 ON CONFLICT(group_id, friend_id) DO NOTHING`, groupID, friendID)
	return err
}

func (s *sqliteStore) AddTemplate(ctx context.Context, category, text string, isImage bool) (domain.Template, error) {
	category, text = strings.TrimSpace(category), strings.TrimSpace(text)
	if category == "" || text == "" {
		return domain.Template{}, errors.New("template category and text are required")
	}
	img := 0
	if isImage {
		img = 1
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO template(category, content, is_image) VALUES(?, ?, ?)`, category, text, img)
	if err != nil {
		return domain.Template{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Template{}, err
	}
	return domain.Template{ID: id, Category: category, Text: text, IsImage: isImage}, nil
}

func wrapInsert(err error, what string) error {
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%s: %w", what, ErrExists)
	}
	return err
}
