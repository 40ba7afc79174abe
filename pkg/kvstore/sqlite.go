package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS kv_entries (
    -- キー
    key TEXT PRIMARY KEY,
    -- 値
    value BLOB NOT NULL,
    -- 最終更新日時
    updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);
`

// SQLite はSQLiteのテーブルに値を保存するStore。
type SQLite struct {
	// db はSQLiteデータベース接続。
	db *sql.DB
}

// OpenSQLite はpathのSQLiteファイルを開き、テーブルを作成する。
// pathに ":memory:" を指定するとインメモリDBになる。
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: データベース接続に失敗: %w", ErrUnavailable, err)
	}
	// インメモリDBは接続ごとに別のDBになるため1接続に固定する
	db.SetMaxOpenConns(1)

	s, err := NewSQLite(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLite は既存の接続からSQLiteを生成し、テーブルを作成する。
func NewSQLite(db *sql.DB) (*SQLite, error) {
	if _, err := db.Exec(sqliteSchema); err != nil {
		return nil, fmt.Errorf("%w: スキーマの適用に失敗: %w", ErrUnavailable, err)
	}
	return &SQLite{db: db}, nil
}

// Get はキーに対応する値を返す。
func (s *SQLite) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv_entries WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: 値の取得に失敗: %w", ErrUnavailable, err)
	}
	return value, nil
}

// Set はキーに値を保存する。
func (s *SQLite) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv_entries (key, value, updated_at) VALUES (?, ?, datetime('now'))
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value)
	if err != nil {
		return fmt.Errorf("%w: 値の保存に失敗: %w", ErrUnavailable, err)
	}
	return nil
}

// Delete はキーを削除する。
func (s *SQLite) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("%w: 値の削除に失敗: %w", ErrUnavailable, err)
	}
	return nil
}

// Close はデータベース接続を閉じる。
func (s *SQLite) Close() error {
	return s.db.Close()
}
