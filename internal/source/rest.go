package source

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/nao1215/noticefeed/pkg/feed"
	"github.com/nao1215/noticefeed/pkg/httpclient"
)

// RESTStore はselect/filter形式のREST API（PostgREST互換）を参照する通知ソース。
type RESTStore struct {
	// client はREST APIとの通信用HTTPクライアント。
	client *httpclient.Client
}

// NewRESTStore は新しいRESTStoreを生成する。
func NewRESTStore(client *httpclient.Client) *RESTStore {
	return &RESTStore{client: client}
}

// FetchManualNotifications は有効で、開始日時がnow以前、かつ終了日時が未設定または
// now以降の手動通知を返す。
func (s *RESTStore) FetchManualNotifications(ctx context.Context, now time.Time) ([]feed.ManualRecord, error) {
	ts := now.UTC().Format(time.RFC3339Nano)
	query := url.Values{}
	query.Set("select", "*")
	query.Set("active", "eq.true")
	query.Set("start_at", "lte."+ts)
	query.Set("or", fmt.Sprintf("(end_at.is.null,end_at.gte.%s)", ts))

	records := make([]feed.ManualRecord, 0)
	if err := s.client.GetJSON(ctx, "/manual_notifications", query, &records); err != nil {
		return nil, fmt.Errorf("%w: 手動通知の取得に失敗: %w", ErrUnavailable, err)
	}
	return records, nil
}

// FetchUpcomingNewsItems は公開済みで、開催日時がnow以降のニュース記事を返す。
func (s *RESTStore) FetchUpcomingNewsItems(ctx context.Context, now time.Time) ([]feed.NewsRecord, error) {
	query := url.Values{}
	query.Set("select", "*")
	query.Set("published", "eq.true")
	query.Set("event_date", "gte."+now.UTC().Format(time.RFC3339Nano))

	records := make([]feed.NewsRecord, 0)
	if err := s.client.GetJSON(ctx, "/news_items", query, &records); err != nil {
		return nil, fmt.Errorf("%w: ニュースの取得に失敗: %w", ErrUnavailable, err)
	}
	return records, nil
}
