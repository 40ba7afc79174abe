package kvstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Redis はRedisの文字列キーに値を保存するStore。
type Redis struct {
	// client はRedisクライアント。
	client *redis.Client
	// prefix は全キーに付与する名前空間。
	prefix string
}

// OpenRedis はURL（redis://...）からRedisに接続する。
// URLとして解釈できない場合はホスト:ポートとして扱う。
func OpenRedis(ctx context.Context, redisURL, prefix string) (*Redis, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		opt = &redis.Options{Addr: redisURL}
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: Redisへの接続に失敗: %w", ErrUnavailable, err)
	}
	return NewRedis(client, prefix), nil
}

// NewRedis は既存のクライアントからRedisを生成する。
func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

// Get はキーに対応する値を返す。
func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: Redisからの取得に失敗: %w", ErrUnavailable, err)
	}
	return value, nil
}

// Set はキーに値を期限なしで保存する。
func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, r.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("%w: Redisへの保存に失敗: %w", ErrUnavailable, err)
	}
	return nil
}

// Delete はキーを削除する。
func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("%w: Redisからの削除に失敗: %w", ErrUnavailable, err)
	}
	return nil
}

// Close はRedisクライアントを閉じる。
func (r *Redis) Close() error {
	return r.client.Close()
}
