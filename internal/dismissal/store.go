package dismissal

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/nao1215/noticefeed/pkg/feed"
	"github.com/nao1215/noticefeed/pkg/kvstore"
)

// DefaultKey は非表示集合を保存するデフォルトのキー。
const DefaultKey = "dismissed-notifications"

// Store は非表示にした通知IDの集合。複数のゴルーチンから安全に使用できる。
type Store struct {
	// kv は集合の永続化先。
	kv kvstore.Store
	// key は集合を保存するキー。
	key string
	// logger は書き込み失敗などを記録するロガー。
	logger *slog.Logger

	// mu はidsと永続化を直列化する。
	mu sync.Mutex
	// ids は非表示にした順に並んだ通知IDの文字列表現。
	ids []string
	// set はidsの所属判定用インデックス。
	set map[string]struct{}
}

// Open はkvのkeyから非表示集合を読み込む。
// キーが無い場合、読み込みに失敗した場合、内容がJSONの文字列配列として
// 解釈できない場合はいずれも空の集合を返す。Openは失敗しない。
func Open(ctx context.Context, kv kvstore.Store, key string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if key == "" {
		key = DefaultKey
	}
	s := &Store{
		kv:     kv,
		key:    key,
		logger: logger,
		ids:    make([]string, 0),
		set:    make(map[string]struct{}),
	}

	raw, err := kv.Get(ctx, key)
	switch {
	case errors.Is(err, kvstore.ErrNotFound):
		return s
	case err != nil:
		logger.Warn("非表示集合の読み込みに失敗したため空の集合で開始します", "key", key, "error", err)
		return s
	}

	var loaded []string
	if err := json.Unmarshal(raw, &loaded); err != nil {
		logger.Warn("非表示集合の内容が不正なため空の集合で開始します", "key", key, "error", err)
		return s
	}
	for _, id := range loaded {
		s.add(id)
	}
	return s
}

// add はidを集合に追加し、新規に追加された場合にtrueを返す。mu保持中に呼ぶこと。
func (s *Store) add(id string) bool {
	if _, ok := s.set[id]; ok {
		return false
	}
	s.set[id] = struct{}{}
	s.ids = append(s.ids, id)
	return true
}

// persist は現在の集合を永続化する。失敗はログに記録するだけで返さない。mu保持中に呼ぶこと。
func (s *Store) persist(ctx context.Context) {
	raw, err := json.Marshal(s.ids)
	if err != nil {
		s.logger.Warn("非表示集合のシリアライズに失敗", "key", s.key, "error", err)
		return
	}
	if err := s.kv.Set(ctx, s.key, raw); err != nil {
		s.logger.Warn("非表示集合の保存に失敗しました。メモリ上の状態は更新済みです", "key", s.key, "error", err)
	}
}

// IsDismissed はidが非表示集合に含まれるかを返す。
func (s *Store) IsDismissed(id feed.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.set[id.String()]
	return ok
}

// Dismiss はidを非表示集合に追加して永続化する。
// 既に含まれている場合は何もしない。
func (s *Store) Dismiss(ctx context.Context, id feed.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.add(id.String()) {
		return
	}
	s.persist(ctx)
}

// DismissAll はidsをまとめて非表示集合に追加し、1回の書き込みで永続化する。
// 新たに追加されるIDが無い場合は書き込まない。
func (s *Store) DismissAll(ctx context.Context, ids []feed.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := false
	for _, id := range ids {
		if s.add(id.String()) {
			added = true
		}
	}
	if added {
		s.persist(ctx)
	}
}

// ActiveSubset はentriesから非表示のものを除いた部分列を、順序を保って返す。
func (s *Store) ActiveSubset(entries []feed.Entry) []feed.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := make([]feed.Entry, 0, len(entries))
	for _, e := range entries {
		if _, ok := s.set[e.ID.String()]; ok {
			continue
		}
		active = append(active, e)
	}
	return active
}

// Dismissed は非表示にした順に並んだIDの文字列表現のコピーを返す。
func (s *Store) Dismissed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.ids)
}

// Reset は非表示集合を空にし、永続化先のキーを削除する。
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ids = make([]string, 0)
	s.set = make(map[string]struct{})
	return s.kv.Delete(ctx, s.key)
}
