package noticefeed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/noticefeed/internal/dismissal"
	"github.com/nao1215/noticefeed/internal/refresh"
	"github.com/nao1215/noticefeed/internal/source"
	"github.com/nao1215/noticefeed/pkg/feed"
	"github.com/nao1215/noticefeed/pkg/middleware"
)

// Authoring は運営者による通知・記事の作成操作。SQLソースのみが提供する。
type Authoring interface {
	// CreateManual は手動通知を作成する。
	CreateManual(ctx context.Context, in source.ManualInput) (feed.ManualRecord, error)
	// CreateNews はニュース記事を作成する。
	CreateNews(ctx context.Context, in source.NewsInput) (feed.NewsRecord, error)
}

// ClientIDHeader は非表示集合を選ぶクライアントIDを送るヘッダー。
// ブラウザ側で生成して保存した値を毎回送る。
const ClientIDHeader = "X-Client-ID"

// Server は通知フィードサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// scheduler はフィードを保持・更新するスケジューラ。
	scheduler *refresh.Scheduler
	// dismissals はクライアントごとの非表示集合。
	dismissals *dismissal.Registry
	// authoring は通知・記事の作成操作。nilの場合は作成APIを公開しない。
	authoring Authoring
	// allowedOrigins はCORSで許可するオリジン。
	allowedOrigins []string
	// logger はハンドラのエラーを記録するロガー。
	logger *slog.Logger
}

// Option はServerの設定を変更する。
type Option func(*Server)

// WithAuthoring は作成APIを有効にする。
func WithAuthoring(a Authoring) Option {
	return func(s *Server) {
		s.authoring = a
	}
}

// WithAllowedOrigins はCORSで許可するオリジンを設定する。
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithLogger はロガーを設定する。
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer は新しい通知フィードサーバーを生成する。
func NewServer(scheduler *refresh.Scheduler, dismissals *dismissal.Registry, opts ...Option) *Server {
	s := &Server{
		scheduler:  scheduler,
		dismissals: dismissals,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	router := gin.New()
	router.Use(middleware.Recovery(s.logger))
	router.Use(gin.Logger())
	if len(s.allowedOrigins) > 0 {
		router.Use(middleware.CORS(s.allowedOrigins))
	}
	s.router = router
	s.setupRoutes()

	return s
}

// Handler はHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	api := s.router.Group("/api/v1")
	{
		notifications := api.Group("/notifications")
		{
			// 表示中の通知一覧取得
			notifications.GET("", s.handleList())
			// 非表示を含む全通知取得
			notifications.GET("/all", s.handleListAll())
			// 未読件数取得
			notifications.GET("/unread-count", s.handleUnreadCount())
			// 通知を非表示にする
			notifications.PUT("/:id/dismiss", s.handleDismiss())
			// 通知をまとめて非表示にする
			notifications.PUT("/dismiss-all", s.handleDismissAll())
			// フィードを今すぐ再取得する
			notifications.POST("/refresh", s.handleRefresh())
			// 更新状態取得
			notifications.GET("/status", s.handleStatus())
		}

		if s.authoring != nil {
			// 運営者向けの作成API。認証を持たないため、プライベートネットワーク内から
			// のみ到達できる構成でWithAuthoringを指定すること。
			internal := api.Group("/internal")
			{
				internal.POST("/manual", s.handleCreateManual())
				internal.POST("/news", s.handleCreateNews())
			}
		}
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "noticefeed"})
	})
}

// feedResponse はフィードのJSONレスポンス構造。
type feedResponse struct {
	// Status はスケジューラの状態。
	Status string `json:"status"`
	// UpdatedAt は直近に成功した更新の時刻（RFC3339形式）。未取得の場合はnull。
	UpdatedAt *string `json:"updated_at"`
	// Entries は表示中の通知。
	Entries []feed.Entry `json:"entries"`
}

// entryWithState は非表示状態付きの通知。
type entryWithState struct {
	feed.Entry
	// Dismissed は非表示にしたかどうか。
	Dismissed bool `json:"dismissed"`
}

// formatUpdatedAt は更新時刻をRFC3339形式に変換する。ゼロ値の場合はnilを返す。
func formatUpdatedAt(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

// clientStore はリクエストのクライアントIDに対応する非表示集合を返す。
// クライアントIDが無い、または不正な場合は400を書き込んでfalseを返す。
func (s *Server) clientStore(c *gin.Context) (*dismissal.Store, bool) {
	clientID := c.GetHeader(ClientIDHeader)
	if clientID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "クライアントIDが必要です"})
		return nil, false
	}

	// 読み込みの途中で切断されても空の集合をキャッシュしないようにする
	store, err := s.dismissals.For(context.WithoutCancel(c.Request.Context()), clientID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "クライアントIDが不正です"})
		return nil, false
	}
	return store, true
}

// activeFeed は現在のフィードから非表示のものを除いたレスポンスを組み立てる。
func (s *Server) activeFeed(store *dismissal.Store) feedResponse {
	snap := s.scheduler.Snapshot()
	return feedResponse{
		Status:    snap.State.String(),
		UpdatedAt: formatUpdatedAt(snap.UpdatedAt),
		Entries:   store.ActiveSubset(snap.Feed),
	}
}

// handleList は表示中の通知一覧を返すハンドラ。
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		store, ok := s.clientStore(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, s.activeFeed(store))
	}
}

// handleListAll は非表示のものを含む全通知を返すハンドラ。
func (s *Server) handleListAll() gin.HandlerFunc {
	return func(c *gin.Context) {
		store, ok := s.clientStore(c)
		if !ok {
			return
		}

		snap := s.scheduler.Snapshot()
		entries := make([]entryWithState, 0, len(snap.Feed))
		for _, e := range snap.Feed {
			entries = append(entries, entryWithState{Entry: e, Dismissed: store.IsDismissed(e.ID)})
		}
		c.JSON(http.StatusOK, gin.H{
			"status":     snap.State.String(),
			"updated_at": formatUpdatedAt(snap.UpdatedAt),
			"entries":    entries,
		})
	}
}

// handleUnreadCount は表示中の通知件数を返すハンドラ。
func (s *Server) handleUnreadCount() gin.HandlerFunc {
	return func(c *gin.Context) {
		store, ok := s.clientStore(c)
		if !ok {
			return
		}

		active := store.ActiveSubset(s.scheduler.Snapshot().Feed)
		c.JSON(http.StatusOK, gin.H{"count": len(active)})
	}
}

// handleDismiss は指定された通知を非表示にするハンドラ。
// フィードに存在しないIDも受け付ける。
func (s *Server) handleDismiss() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if id == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "通知IDが必要です"})
			return
		}
		store, ok := s.clientStore(c)
		if !ok {
			return
		}

		store.Dismiss(c.Request.Context(), feed.ParseID(id))
		c.JSON(http.StatusOK, gin.H{"id": id, "message": "通知を非表示にしました"})
	}
}

// dismissAllRequest は一括非表示リクエストのJSON構造。
type dismissAllRequest struct {
	// IDs は非表示にする通知ID。省略した場合は表示中の全通知が対象になる。
	IDs []string `json:"ids"`
}

// handleDismissAll は通知をまとめて非表示にするハンドラ。
func (s *Server) handleDismissAll() gin.HandlerFunc {
	return func(c *gin.Context) {
		store, ok := s.clientStore(c)
		if !ok {
			return
		}

		var req dismissAllRequest
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		var ids []feed.ID
		if req.IDs == nil {
			for _, e := range store.ActiveSubset(s.scheduler.Snapshot().Feed) {
				ids = append(ids, e.ID)
			}
		} else {
			for _, id := range req.IDs {
				ids = append(ids, feed.ParseID(id))
			}
		}

		store.DismissAll(c.Request.Context(), ids)
		c.JSON(http.StatusOK, gin.H{"count": len(ids), "message": "通知をまとめて非表示にしました"})
	}
}

// handleRefresh はフィードを今すぐ再取得するハンドラ。
// 取得に失敗した場合も以前のフィードを返す。
func (s *Server) handleRefresh() gin.HandlerFunc {
	return func(c *gin.Context) {
		store, ok := s.clientStore(c)
		if !ok {
			return
		}

		// クライアントが切断してもサイクルは最後まで実行する
		err := s.scheduler.Refresh(context.WithoutCancel(c.Request.Context()))
		switch {
		case errors.Is(err, refresh.ErrCycleInFlight):
			c.JSON(http.StatusConflict, gin.H{"error": "更新処理が実行中です"})
		case err != nil:
			s.logger.Error("手動更新エラー", "error", err)
			resp := s.activeFeed(store)
			c.JSON(http.StatusBadGateway, gin.H{
				"error":      "通知ソースからの取得に失敗しました",
				"status":     resp.Status,
				"updated_at": resp.UpdatedAt,
				"entries":    resp.Entries,
			})
		default:
			c.JSON(http.StatusOK, s.activeFeed(store))
		}
	}
}

// handleStatus はスケジューラの状態を返すハンドラ。
func (s *Server) handleStatus() gin.HandlerFunc {
	return func(c *gin.Context) {
		snap := s.scheduler.Snapshot()
		var lastError *string
		if snap.LastError != nil {
			msg := snap.LastError.Error()
			lastError = &msg
		}
		c.JSON(http.StatusOK, gin.H{
			"status":     snap.State.String(),
			"updated_at": formatUpdatedAt(snap.UpdatedAt),
			"last_error": lastError,
			"entries":    len(snap.Feed),
		})
	}
}

// createManualRequest は手動通知作成リクエストのJSON構造。
type createManualRequest struct {
	// Title は通知タイトル。
	Title string `json:"title" binding:"required"`
	// Message は通知本文。
	Message *string `json:"message"`
	// Category は通知種別（alert / news / info）。
	Category string `json:"category" binding:"required"`
	// Link はリンク先URL。
	Link *string `json:"link"`
	// Active は有効フラグ。省略した場合は有効。
	Active *bool `json:"active"`
	// StartAt は表示開始日時。省略した場合は作成日時。
	StartAt *time.Time `json:"start_at"`
	// EndAt は表示終了日時。省略した場合は無期限。
	EndAt *time.Time `json:"end_at"`
}

// handleCreateManual は手動通知を作成するハンドラ。
func (s *Server) handleCreateManual() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createManualRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		in := source.ManualInput{
			Title:    req.Title,
			Message:  req.Message,
			Category: feed.Kind(req.Category),
			Link:     req.Link,
			Active:   req.Active == nil || *req.Active,
			EndAt:    req.EndAt,
		}
		if req.StartAt != nil {
			in.StartAt = *req.StartAt
		}

		record, err := s.authoring.CreateManual(c.Request.Context(), in)
		if err != nil {
			s.writeAuthoringError(c, "手動通知の作成に失敗しました", err)
			return
		}
		c.JSON(http.StatusCreated, record)
	}
}

// createNewsRequest はニュース記事作成リクエストのJSON構造。
type createNewsRequest struct {
	// Title は記事タイトル。
	Title string `json:"title" binding:"required"`
	// Excerpt は記事の抜粋。
	Excerpt *string `json:"excerpt"`
	// Published は公開フラグ。
	Published bool `json:"published"`
	// PublishedAt は公開日時。
	PublishedAt *time.Time `json:"published_at"`
	// EventDate はイベント開催日時。
	EventDate time.Time `json:"event_date" binding:"required"`
}

// handleCreateNews はニュース記事を作成するハンドラ。
func (s *Server) handleCreateNews() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createNewsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		record, err := s.authoring.CreateNews(c.Request.Context(), source.NewsInput{
			Title:       req.Title,
			Excerpt:     req.Excerpt,
			Published:   req.Published,
			PublishedAt: req.PublishedAt,
			EventDate:   req.EventDate,
		})
		if err != nil {
			s.writeAuthoringError(c, "ニュースの作成に失敗しました", err)
			return
		}
		c.JSON(http.StatusCreated, record)
	}
}

// writeAuthoringError は作成操作のエラーをステータスコードに変換して返す。
func (s *Server) writeAuthoringError(c *gin.Context, msg string, err error) {
	if errors.Is(err, source.ErrInvalidInput) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.logger.Error(msg, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}
