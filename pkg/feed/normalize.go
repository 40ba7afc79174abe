package feed

import (
	"fmt"
	"strings"
)

// DefaultNewsLink はニュース通知のリンク先となる一覧ページのパス。
const DefaultNewsLink = "/news"

// Normalizer は異なるソースの生レコードをEntryに変換する。
type Normalizer struct {
	// newsLink はニュース通知に設定する一覧ページのパス。
	newsLink string
}

// NewNormalizer は新しいNormalizerを生成する。
// newsLinkが空の場合はDefaultNewsLinkを使用する。
func NewNormalizer(newsLink string) *Normalizer {
	if newsLink == "" {
		newsLink = DefaultNewsLink
	}
	return &Normalizer{newsLink: newsLink}
}

// Manual は手動通知をEntryに変換する。
// 種別はレコード自身のcategoryから取り、並び順には作成日時を使う。
func (n *Normalizer) Manual(r ManualRecord) (Entry, error) {
	if strings.TrimSpace(r.Title) == "" {
		return Entry{}, fmt.Errorf("手動通知 %s: %w", r.ID, ErrEmptyTitle)
	}
	kind, err := ParseKind(r.Category)
	if err != nil {
		return Entry{}, fmt.Errorf("手動通知 %s: %w", r.ID, err)
	}
	return Entry{
		ID:           ManualID(r.ID),
		Title:        r.Title,
		Message:      r.Message,
		Kind:         kind,
		Link:         r.Link,
		VisibleFrom:  r.StartAt,
		VisibleUntil: r.EndAt,
		SortKey:      r.CreatedAt,
	}, nil
}

// News はニュース記事をEntryに変換する。
// リンクは記事個別ではなく一覧ページを指し、表示期限はイベント開催日時となる。
func (n *Normalizer) News(r NewsRecord) (Entry, error) {
	if strings.TrimSpace(r.Title) == "" {
		return Entry{}, fmt.Errorf("ニュース %s: %w", r.ID, ErrEmptyTitle)
	}
	visibleFrom := r.CreatedAt
	if r.PublishedAt != nil {
		visibleFrom = *r.PublishedAt
	}
	link := n.newsLink
	eventDate := r.EventDate
	return Entry{
		ID:           NewsID(r.ID),
		Title:        r.Title,
		Message:      r.Excerpt,
		Kind:         KindNews,
		Link:         &link,
		VisibleFrom:  visibleFrom,
		VisibleUntil: &eventDate,
		SortKey:      r.CreatedAt,
	}, nil
}
