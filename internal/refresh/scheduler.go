package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/nao1215/noticefeed/pkg/feed"
)

// DefaultInterval はサイクルを再実行する間隔。
const DefaultInterval = 60 * time.Second

var (
	// ErrCycleInFlight は別のサイクルが実行中であることを表す。
	ErrCycleInFlight = errors.New("更新サイクルが実行中です")
	// ErrAlreadyStarted はスケジューラが既に起動していることを表す。
	ErrAlreadyStarted = errors.New("スケジューラは既に起動しています")
)

// Source はサイクルごとに参照する2つの通知ソース。
type Source interface {
	// FetchManualNotifications はnow時点で表示期間内の手動通知を返す。
	FetchManualNotifications(ctx context.Context, now time.Time) ([]feed.ManualRecord, error)
	// FetchUpcomingNewsItems は開催日時がnow以降の公開済みニュースを返す。
	FetchUpcomingNewsItems(ctx context.Context, now time.Time) ([]feed.NewsRecord, error)
}

// Snapshot はある時点のスケジューラの状態のコピー。
type Snapshot struct {
	// State は現在の状態。
	State State
	// Feed は直近に成功したサイクルのフィード。未取得の場合は空。
	Feed []feed.Entry
	// LastError は直近のサイクルの失敗理由。成功した場合はnil。
	LastError error
	// UpdatedAt は直近に成功したサイクルの基準時刻。未取得の場合はゼロ値。
	UpdatedAt time.Time
}

// Option はSchedulerの設定を変更する。
type Option func(*Scheduler)

// WithInterval はサイクルの再実行間隔を設定する。1秒未満は1秒に切り上げられる。
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		s.interval = d
	}
}

// WithClock はサイクルの基準時刻を返す時計を差し替える。
func WithClock(clock func() time.Time) Option {
	return func(s *Scheduler) {
		s.clock = clock
	}
}

// WithLogger はロガーを設定する。
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithNormalizer は生レコードの変換に使うNormalizerを設定する。
func WithNormalizer(n *feed.Normalizer) Option {
	return func(s *Scheduler) {
		s.normalizer = n
	}
}

// OnTransition は状態が変わるたびに呼ばれる関数を登録する。
// fnはスケジューラのロック外で呼ばれる。
func OnTransition(fn func(from, to State)) Option {
	return func(s *Scheduler) {
		s.observer = fn
	}
}

// Scheduler は通知フィードの更新サイクルを管理する。
type Scheduler struct {
	source     Source
	normalizer *feed.Normalizer
	interval   time.Duration
	clock      func() time.Time
	logger     *slog.Logger
	observer   func(from, to State)

	// cycleMu は実行中のサイクルを1つに制限する。
	cycleMu sync.Mutex

	// mu は以下の保持状態を保護する。
	mu        sync.RWMutex
	state     State
	entries   []feed.Entry
	lastErr   error
	updatedAt time.Time

	// lifeMu はStart / Stopを直列化する。
	lifeMu sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New は新しいSchedulerを生成する。Startを呼ぶまでサイクルは実行しない。
func New(source Source, opts ...Option) *Scheduler {
	s := &Scheduler{
		source:   source,
		interval: DefaultInterval,
		clock:    time.Now,
		entries:  make([]feed.Entry, 0),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.normalizer == nil {
		s.normalizer = feed.NewNormalizer("")
	}
	return s
}

// Start はスケジューラを起動する。直ちに1回サイクルを実行し、
// 以降はintervalごとに再実行する。ctxがキャンセルされると実行中のフェッチも中断される。
func (s *Scheduler) Start(ctx context.Context) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	if s.cron != nil {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	cl := cronLogger{logger: s.logger}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.SkipIfStillRunning(cl)),
	)
	c.Schedule(cron.Every(s.interval), cron.FuncJob(func() {
		s.tick(ctx)
	}))

	s.cron = c
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.tick(ctx)
	}()
	c.Start()

	s.logger.Info("通知フィードの定期更新を開始します", "interval", s.interval.String())
	return nil
}

// Stop はタイマーを止め、実行中のサイクルが終わるまで待つ。
// Stopで中断されたサイクルは失敗として扱わず、直前の状態に戻す。
func (s *Scheduler) Stop() {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	if s.cron == nil {
		return
	}

	s.cancel()
	<-s.cron.Stop().Done()
	s.wg.Wait()

	// 手動実行中のサイクルの完了を待つ
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	s.cron = nil
	s.cancel = nil
	s.logger.Info("通知フィードの定期更新を停止しました")
}

// Refresh はサイクルを直ちに1回実行する。
// 別のサイクルが実行中の場合は実行せずにErrCycleInFlightを返す。
// ソースの取得に失敗した場合はエラーを返し、保持しているフィードは変更しない。
func (s *Scheduler) Refresh(ctx context.Context) error {
	if !s.cycleMu.TryLock() {
		s.logger.Warn("更新サイクルが実行中のため手動更新を受け付けません")
		return ErrCycleInFlight
	}
	defer s.cycleMu.Unlock()

	return s.runCycle(ctx)
}

// Snapshot は現在の状態のコピーを返す。
func (s *Scheduler) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Snapshot{
		State:     s.state,
		Feed:      slices.Clone(s.entries),
		LastError: s.lastErr,
		UpdatedAt: s.updatedAt,
	}
}

// tick はタイマーからのサイクル実行。実行中のサイクルがあれば何もしない。
func (s *Scheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if !s.cycleMu.TryLock() {
		s.logger.Debug("更新サイクルが実行中のため今回の実行をスキップします")
		return
	}
	defer s.cycleMu.Unlock()

	_ = s.runCycle(ctx)
}

// runCycle はフェッチ・正規化・集約を1回行う。cycleMu保持中に呼ぶこと。
func (s *Scheduler) runCycle(ctx context.Context) error {
	prev := s.transition(StateLoading, nil)
	now := s.clock()

	var (
		manual []feed.ManualRecord
		news   []feed.NewsRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		records, err := s.source.FetchManualNotifications(gctx, now)
		if err != nil {
			return fmt.Errorf("手動通知の取得に失敗: %w", err)
		}
		manual = records
		return nil
	})
	g.Go(func() error {
		records, err := s.source.FetchUpcomingNewsItems(gctx, now)
		if err != nil {
			return fmt.Errorf("ニュースの取得に失敗: %w", err)
		}
		news = records
		return nil
	})

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil && errors.Is(err, context.Canceled) {
			// 停止による中断はサイクルの失敗として扱わない
			s.transition(prev, nil)
			s.logger.Info("通知フィードの更新を中断しました", "error", err)
			return fmt.Errorf("更新サイクルの中断: %w", ctx.Err())
		}
		s.transition(StateFailed, func() {
			s.lastErr = err
		})
		s.logger.Error("通知フィードの更新に失敗しました。以前のフィードを保持します", "error", err)
		return err
	}

	entries := feed.Aggregate(s.normalizeManual(manual), s.normalizeNews(news))
	s.transition(StateReady, func() {
		s.entries = entries
		s.lastErr = nil
		s.updatedAt = now
	})
	s.logger.Info("通知フィードを更新しました",
		"manual", len(manual),
		"news", len(news),
		"entries", len(entries),
	)
	return nil
}

// transition は状態をtoに変更し、同じロック内でapplyを実行する。変更前の状態を返す。
func (s *Scheduler) transition(to State, apply func()) State {
	s.mu.Lock()
	from := s.state
	s.state = to
	if apply != nil {
		apply()
	}
	s.mu.Unlock()

	if s.observer != nil && from != to {
		s.observer(from, to)
	}
	return from
}

// normalizeManual は手動通知を変換する。変換できないレコードは警告を出して除外する。
func (s *Scheduler) normalizeManual(records []feed.ManualRecord) []feed.Entry {
	entries := make([]feed.Entry, 0, len(records))
	for _, r := range records {
		e, err := s.normalizer.Manual(r)
		if err != nil {
			s.logger.Warn("不正な手動通知を除外します", "id", r.ID, "error", err)
			continue
		}
		entries = append(entries, e)
	}
	return entries
}

// normalizeNews はニュース記事を変換する。変換できないレコードは警告を出して除外する。
func (s *Scheduler) normalizeNews(records []feed.NewsRecord) []feed.Entry {
	entries := make([]feed.Entry, 0, len(records))
	for _, r := range records {
		e, err := s.normalizer.News(r)
		if err != nil {
			s.logger.Warn("不正なニュースを除外します", "id", r.ID, "error", err)
			continue
		}
		entries = append(entries, e)
	}
	return entries
}

// cronLogger はcronのログをslogに流す。
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
