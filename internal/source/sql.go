package source

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/nao1215/noticefeed/pkg/feed"
	"github.com/nao1215/noticefeed/pkg/migration"
)

//go:embed migrations
var migrationsFS embed.FS

// SQLStore はSQLデータベースを直接参照する通知ソース。
// 運営者向けの通知・記事の作成操作も提供する。
type SQLStore struct {
	// db はデータベース接続。
	db *sql.DB
	// dialect はSQLの方言。
	dialect migration.Dialect
	// clock は作成日時に使う現在時刻を返す。
	clock func() time.Time
	// newID は新しいレコードIDを採番する。
	newID func() string
}

// SQLOption はSQLStoreの設定を変更する。
type SQLOption func(*SQLStore)

// WithClock は作成日時に使う時計を差し替える。
func WithClock(clock func() time.Time) SQLOption {
	return func(s *SQLStore) {
		s.clock = clock
	}
}

// WithIDGenerator はレコードIDの採番方法を差し替える。
func WithIDGenerator(newID func() string) SQLOption {
	return func(s *SQLStore) {
		s.newID = newID
	}
}

// OpenSQL はdsnのデータベースに接続し、マイグレーションを適用する。
func OpenSQL(ctx context.Context, dialect migration.Dialect, dsn string, opts ...SQLOption) (*SQLStore, error) {
	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	if dialect == migration.DialectSQLite {
		// インメモリDBを含め、単一接続で書き込みを直列化する
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	s, err := NewSQLStore(ctx, db, dialect, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStore は既存の接続からSQLStoreを生成し、マイグレーションを適用する。
func NewSQLStore(ctx context.Context, db *sql.DB, dialect migration.Dialect, opts ...SQLOption) (*SQLStore, error) {
	if err := migration.Run(ctx, db, dialect, migrationsFS, "migrations/"+string(dialect)); err != nil {
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}

	s := &SQLStore{
		db:      db,
		dialect: dialect,
		clock:   time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close はデータベース接続を閉じる。
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// FetchManualNotifications は有効で、開始日時がnow以前、かつ終了日時が未設定または
// now以降の手動通知を返す。
func (s *SQLStore) FetchManualNotifications(ctx context.Context, now time.Time) ([]feed.ManualRecord, error) {
	ts := formatTime(now)
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(`
		SELECT id, title, message, category, link, active, start_at, end_at, created_at
		FROM manual_notifications
		WHERE active = ? AND start_at <= ? AND (end_at IS NULL OR end_at >= ?)
		ORDER BY created_at DESC
	`), true, ts, ts)
	if err != nil {
		return nil, fmt.Errorf("%w: 手動通知の取得に失敗: %w", ErrUnavailable, err)
	}
	defer func() { _ = rows.Close() }()

	records := make([]feed.ManualRecord, 0)
	for rows.Next() {
		var (
			r                    feed.ManualRecord
			message, link, endAt sql.NullString
			startAt, createdAt   string
		)
		if err := rows.Scan(&r.ID, &r.Title, &message, &r.Category, &link, &r.Active, &startAt, &endAt, &createdAt); err != nil {
			return nil, fmt.Errorf("%w: 手動通知の読み込みに失敗: %w", ErrUnavailable, err)
		}
		r.Message = nullString(message)
		r.Link = nullString(link)
		if r.StartAt, err = parseTime(startAt); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		if r.EndAt, err = nullTime(endAt); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		if r.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: 手動通知の読み込みに失敗: %w", ErrUnavailable, err)
	}
	return records, nil
}

// FetchUpcomingNewsItems は公開済みで、開催日時がnow以降のニュース記事を返す。
func (s *SQLStore) FetchUpcomingNewsItems(ctx context.Context, now time.Time) ([]feed.NewsRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(`
		SELECT id, title, excerpt, published, published_at, event_date, created_at
		FROM news_items
		WHERE published = ? AND event_date >= ?
		ORDER BY created_at DESC
	`), true, formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("%w: ニュースの取得に失敗: %w", ErrUnavailable, err)
	}
	defer func() { _ = rows.Close() }()

	records := make([]feed.NewsRecord, 0)
	for rows.Next() {
		var (
			r                    feed.NewsRecord
			excerpt, publishedAt sql.NullString
			eventDate, createdAt string
		)
		if err := rows.Scan(&r.ID, &r.Title, &excerpt, &r.Published, &publishedAt, &eventDate, &createdAt); err != nil {
			return nil, fmt.Errorf("%w: ニュースの読み込みに失敗: %w", ErrUnavailable, err)
		}
		r.Excerpt = nullString(excerpt)
		if r.PublishedAt, err = nullTime(publishedAt); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		if r.EventDate, err = parseTime(eventDate); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		if r.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: ニュースの読み込みに失敗: %w", ErrUnavailable, err)
	}
	return records, nil
}

// ManualInput は手動通知の作成リクエスト。
type ManualInput struct {
	// Title は通知タイトル。必須。
	Title string
	// Message は通知本文。
	Message *string
	// Category は通知種別。
	Category feed.Kind
	// Link はリンク先URL。
	Link *string
	// Active は有効フラグ。
	Active bool
	// StartAt は表示開始日時。ゼロ値の場合は作成日時を使う。
	StartAt time.Time
	// EndAt は表示終了日時。nilの場合は無期限。
	EndAt *time.Time
}

// CreateManual は手動通知を作成する。IDはUUIDで採番する。
func (s *SQLStore) CreateManual(ctx context.Context, in ManualInput) (feed.ManualRecord, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return feed.ManualRecord{}, fmt.Errorf("%w: タイトルは必須です", ErrInvalidInput)
	}
	if _, err := feed.ParseKind(string(in.Category)); err != nil {
		return feed.ManualRecord{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	now := s.clock().UTC()
	startAt := in.StartAt
	if startAt.IsZero() {
		startAt = now
	}
	if in.EndAt != nil && in.EndAt.Before(startAt) {
		return feed.ManualRecord{}, fmt.Errorf("%w: 終了日時が開始日時より前です", ErrInvalidInput)
	}

	r := feed.ManualRecord{
		ID:        s.newID(),
		Title:     title,
		Message:   in.Message,
		Category:  string(in.Category),
		Link:      in.Link,
		Active:    in.Active,
		StartAt:   startAt.UTC(),
		EndAt:     utcPtr(in.EndAt),
		CreatedAt: now,
	}

	_, err := s.db.ExecContext(ctx, s.dialect.Rebind(`
		INSERT INTO manual_notifications (id, title, message, category, link, active, start_at, end_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), r.ID, r.Title, r.Message, r.Category, r.Link, r.Active, formatTime(r.StartAt), formatTimePtr(r.EndAt), formatTime(r.CreatedAt))
	if err != nil {
		return feed.ManualRecord{}, fmt.Errorf("%w: 手動通知の作成に失敗: %w", ErrUnavailable, err)
	}
	return r, nil
}

// NewsInput はニュース記事の作成リクエスト。
type NewsInput struct {
	// Title は記事タイトル。必須。
	Title string
	// Excerpt は記事の抜粋。
	Excerpt *string
	// Published は公開フラグ。
	Published bool
	// PublishedAt は公開日時。
	PublishedAt *time.Time
	// EventDate はイベント開催日時。必須。
	EventDate time.Time
}

// CreateNews はニュース記事を作成する。IDはUUIDで採番する。
func (s *SQLStore) CreateNews(ctx context.Context, in NewsInput) (feed.NewsRecord, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return feed.NewsRecord{}, fmt.Errorf("%w: タイトルは必須です", ErrInvalidInput)
	}
	if in.EventDate.IsZero() {
		return feed.NewsRecord{}, fmt.Errorf("%w: 開催日時は必須です", ErrInvalidInput)
	}

	r := feed.NewsRecord{
		ID:          s.newID(),
		Title:       title,
		Excerpt:     in.Excerpt,
		Published:   in.Published,
		PublishedAt: utcPtr(in.PublishedAt),
		EventDate:   in.EventDate.UTC(),
		CreatedAt:   s.clock().UTC(),
	}

	_, err := s.db.ExecContext(ctx, s.dialect.Rebind(`
		INSERT INTO news_items (id, title, excerpt, published, published_at, event_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), r.ID, r.Title, r.Excerpt, r.Published, formatTimePtr(r.PublishedAt), formatTime(r.EventDate), formatTime(r.CreatedAt))
	if err != nil {
		return feed.NewsRecord{}, fmt.Errorf("%w: ニュースの作成に失敗: %w", ErrUnavailable, err)
	}
	return r, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
