// an sqlite3 backed secret manager
package secrets

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type SqliteManager struct {
	db        *sql.DB
	tableName string
}

type SqliteManagerOpt func(*SqliteManager)

func WithTableName(name string) SqliteManagerOpt {
	return func(s *SqliteManager) {
		s.tableName = name
	}
}

func NewSQLiteManager(dbPath string, opts ...SqliteManagerOpt) (*SqliteManager, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	manager := &SqliteManager{
		db:        db,
		tableName: "secrets",
	}

	for _, o := range opts {
		o(manager)
	}

	if err := manager.init(); err != nil {
		return nil, err
	}

	return manager, nil
}

// creates a table and sets up the schema, migrations if any can go here
func (s *SqliteManager) init() error {
	createTable := fmt.Sprintf(`
		create table if not exists %s (
			id integer primary key autoincrement,
			repo text not null,
			key text not null,
			value text not null,
			created_by text not null,
			created_at text not null default (strftime('%%Y-%%m-%%dT%%H:%%M:%%SZ', 'now')),

			unique(repo, key)
		);
	`, s.tableName)

	if _, err := s.db.Exec(createTable); err != nil {
		return fmt.Errorf("failed to create %s table: %w", s.tableName, err)
	}

	return nil
}

func (s *SqliteManager) AddSecret(ctx context.Context, secret UnlockedSecret) error {
	if !isValidKey(secret.Key) {
		return ErrInvalidKeyIdent
	}

	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		insert into %s (repo, key, value, created_by)
		values (?, ?, ?, ?)
		on conflict(repo, key) do update set value = excluded.value
	`, s.tableName), string(secret.Repo), secret.Key, secret.Value, secret.CreatedBy)
	if err != nil {
		return fmt.Errorf("failed to add secret: %w", err)
	}

	return nil
}

func (s *SqliteManager) RemoveSecret(ctx context.Context, repo Repo, key string) error {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		delete from %s where repo = ? and key = ?
	`, s.tableName), string(repo), key)
	if err != nil {
		return fmt.Errorf("failed to remove secret: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrKeyNotFound
	}

	return nil
}

func (s *SqliteManager) GetSecretsLocked(ctx context.Context, repo Repo) ([]LockedSecret, error) {
	unlocked, err := s.GetSecretsUnlocked(ctx, repo)
	if err != nil {
		return nil, err
	}

	var locked []LockedSecret
	for _, u := range unlocked {
		locked = append(locked, Lock(u))
	}
	return locked, nil
}

func (s *SqliteManager) GetSecretsUnlocked(ctx context.Context, repo Repo) ([]UnlockedSecret, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		select key, value, created_by, created_at
		from %s
		where repo = ?
		order by key asc
	`, s.tableName), string(repo))
	if err != nil {
		return nil, fmt.Errorf("failed to list secrets: %w", err)
	}
	defer rows.Close()

	var secrets []UnlockedSecret
	for rows.Next() {
		var u UnlockedSecret
		var createdAt string
		if err := rows.Scan(&u.Key, &u.Value, &u.CreatedBy, &createdAt); err != nil {
			return nil, err
		}
		u.Repo = repo
		u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		secrets = append(secrets, u)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return secrets, nil
}
