package kvstore

import (
	"context"
	"errors"
)

var (
	// ErrNotFound はキーが存在しないことを表す。
	ErrNotFound = errors.New("キーが存在しません")
	// ErrUnavailable は永続化先への読み書きに失敗したことを表す。
	ErrUnavailable = errors.New("永続化先を利用できません")
)

// Store はキーバリューストアの操作を定義する。
// ErrNotFound 以外の失敗はすべて ErrUnavailable をラップして返す。
type Store interface {
	// Get はキーに対応する値を返す。キーが無い場合は ErrNotFound を返す。
	Get(ctx context.Context, key string) ([]byte, error)
	// Set はキーに値を保存する。既存の値は置き換える。
	Set(ctx context.Context, key string, value []byte) error
	// Delete はキーを削除する。キーが無くてもエラーにしない。
	Delete(ctx context.Context, key string) error
	// Close はバックエンドとの接続を閉じる。
	Close() error
}
