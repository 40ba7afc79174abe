package feed

import "time"

// ManualRecord はソースから取得した手動通知の生レコード。
type ManualRecord struct {
	// ID は手動通知の一意識別子（UUID）。
	ID string `json:"id"`
	// Title は通知タイトル。
	Title string `json:"title"`
	// Message は通知本文。
	Message *string `json:"message"`
	// Category は通知種別（alert / news / info）。
	Category string `json:"category"`
	// Link はリンク先URL。
	Link *string `json:"link"`
	// Active は通知が有効かどうか。
	Active bool `json:"active"`
	// StartAt は表示開始日時。
	StartAt time.Time `json:"start_at"`
	// EndAt は表示終了日時。nilの場合は無期限。
	EndAt *time.Time `json:"end_at"`
	// CreatedAt はレコードの作成日時。
	CreatedAt time.Time `json:"created_at"`
}

// NewsRecord はソースから取得したニュース記事の生レコード。
type NewsRecord struct {
	// ID はニュース記事の一意識別子（UUID）。
	ID string `json:"id"`
	// Title は記事タイトル。
	Title string `json:"title"`
	// Excerpt は記事の抜粋。
	Excerpt *string `json:"excerpt"`
	// Published は記事が公開済みかどうか。
	Published bool `json:"published"`
	// PublishedAt は公開日時。未設定の場合はnil。
	PublishedAt *time.Time `json:"published_at"`
	// EventDate は記事に紐づくイベントの開催日時。
	EventDate time.Time `json:"event_date"`
	// CreatedAt はレコードの作成日時。
	CreatedAt time.Time `json:"created_at"`
}
