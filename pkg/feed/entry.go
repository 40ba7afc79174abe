package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidKind は通知種別が alert / news / info のいずれでもないことを表す。
	ErrInvalidKind = errors.New("通知種別が不正です")
	// ErrEmptyTitle は通知タイトルが空であることを表す。
	ErrEmptyTitle = errors.New("通知タイトルが空です")
)

// Kind は通知の種別を表す。表示の切り替えにのみ使用する。
type Kind string

const (
	// KindAlert は警告通知を表す。
	KindAlert Kind = "alert"
	// KindNews はニュース通知を表す。
	KindNews Kind = "news"
	// KindInfo はお知らせ通知を表す。
	KindInfo Kind = "info"
)

// ParseKind は文字列を通知種別に変換する。
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindAlert, KindNews, KindInfo:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, s)
	}
}

// Source は通知の取得元を表す。
type Source int

const (
	// SourceManual は運営者が作成した手動通知。
	SourceManual Source = iota
	// SourceNews は公開済みのニュース記事。
	SourceNews
)

// String は取得元の名前を返す。
func (s Source) String() string {
	switch s {
	case SourceManual:
		return "manual"
	case SourceNews:
		return "news"
	default:
		return fmt.Sprintf("Source(%d)", int(s))
	}
}

// NewsIDPrefix はニュース由来の通知IDに付与するソースタグ。
const NewsIDPrefix = "news-"

// ID は取得元タグとソース固有IDの組で表す通知IDである。
// 構造体としての比較は取得元を含めて行うため、異なるソース間で同じ固有IDが
// 使われていても衝突しない。ただし永続化とAPIで使う文字列表現（String）は
// 取得元を "news-" の有無でしか区別しないため、文字列での一意性は手動通知の
// 固有IDが "news-" で始まらないことに依存する。SQLソースはUUIDで採番するため
// この条件を満たす。
type ID struct {
	// Source は通知の取得元。
	Source Source
	// Native は取得元が採番したID。
	Native string
}

// ManualID は手動通知のIDを生成する。
func ManualID(native string) ID {
	return ID{Source: SourceManual, Native: native}
}

// NewsID はニュース由来の通知IDを生成する。
func NewsID(native string) ID {
	return ID{Source: SourceNews, Native: native}
}

// String は永続化とAPIで使用する文字列表現を返す。
// 手動通知は固有IDそのまま、ニュースは "news-" + 固有ID となる。
func (id ID) String() string {
	if id.Source == SourceNews {
		return NewsIDPrefix + id.Native
	}
	return id.Native
}

// ParseID はString()の文字列表現からIDを復元する。
// "news-" で始まる場合はニュース由来、それ以外は手動通知とみなす。
func ParseID(s string) ID {
	if native, ok := strings.CutPrefix(s, NewsIDPrefix); ok {
		return NewsID(native)
	}
	return ManualID(s)
}

// MarshalJSON は文字列表現でIDをシリアライズする。
func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

// Entry は正規化後の通知フィードの1件を表す。
// フェッチのたびに新しく生成され、フェッチをまたいで保持されるのはIDの文字列表現のみ。
type Entry struct {
	// ID はフィード内で一意な通知ID。
	ID ID `json:"id"`
	// Title は通知タイトル。空文字列にはならない。
	Title string `json:"title"`
	// Message は通知本文。存在しない場合はnil。
	Message *string `json:"message,omitempty"`
	// Kind は通知種別。
	Kind Kind `json:"kind"`
	// Link はリンク先URL。存在しない場合はnil。
	Link *string `json:"link,omitempty"`
	// VisibleFrom はこの時刻より前には有効とみなさない。
	VisibleFrom time.Time `json:"visible_from"`
	// VisibleUntil は表示期限。nilの場合は無期限。
	VisibleUntil *time.Time `json:"visible_until,omitempty"`
	// SortKey はフィードの並び順にのみ使用するタイムスタンプ。
	SortKey time.Time `json:"sort_key"`
}
