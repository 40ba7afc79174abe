package dismissal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"

	"github.com/nao1215/noticefeed/pkg/kvstore"
)

// ErrInvalidClientID はクライアントIDが空、または使用できない文字を含むことを表す。
var ErrInvalidClientID = errors.New("クライアントIDが不正です")

// clientIDPattern はクライアントIDとして受け付ける形式。キーの一部になるため文字種と長さを制限する。
var clientIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

// Registry はクライアントごとの非表示集合を管理する。
// 集合は baseKey + ":" + クライアントID のキーに保存し、初回アクセス時に読み込む。
type Registry struct {
	kv      kvstore.Store
	baseKey string
	logger  *slog.Logger

	mu     sync.Mutex
	stores map[string]*Store
}

// NewRegistry は新しいRegistryを生成する。
func NewRegistry(kv kvstore.Store, baseKey string, logger *slog.Logger) *Registry {
	if baseKey == "" {
		baseKey = DefaultKey
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		kv:      kv,
		baseKey: baseKey,
		logger:  logger,
		stores:  make(map[string]*Store),
	}
}

// KeyFor はクライアントの非表示集合を保存するキーを返す。
func (r *Registry) KeyFor(clientID string) string {
	return r.baseKey + ":" + clientID
}

// For はクライアントの非表示集合を返す。未読み込みの場合は永続化先から読み込む。
func (r *Registry) For(ctx context.Context, clientID string) (*Store, error) {
	if !clientIDPattern.MatchString(clientID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidClientID, clientID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.stores[clientID]; ok {
		return s, nil
	}
	s := Open(ctx, r.kv, r.KeyFor(clientID), r.logger.With("client_id", clientID))
	r.stores[clientID] = s
	return s, nil
}

// Len は読み込み済みのクライアント数を返す。
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stores)
}
