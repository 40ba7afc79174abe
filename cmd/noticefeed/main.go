// 通知フィードサービスのエントリポイント。
// 手動通知とニュース記事を定期的に取得して1つのフィードにまとめ、
// 非表示にした通知を除いてHTTPで配信する。
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nao1215/noticefeed/internal/config"
	"github.com/nao1215/noticefeed/internal/dismissal"
	"github.com/nao1215/noticefeed/internal/noticefeed"
	"github.com/nao1215/noticefeed/internal/refresh"
	"github.com/nao1215/noticefeed/internal/source"
	"github.com/nao1215/noticefeed/pkg/feed"
	"github.com/nao1215/noticefeed/pkg/httpclient"
	"github.com/nao1215/noticefeed/pkg/kvstore"
	"github.com/nao1215/noticefeed/pkg/migration"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := run(); err != nil {
		slog.Error("通知フィードサービスが異常終了しました", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("設定の読み込みに失敗: %w", err)
	}
	level, _ := cfg.SlogLevel()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	src, authoring, closeSource, err := openSource(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSource()

	kv, err := openKV(ctx, cfg)
	if err != nil {
		return err
	}
	defer kv.Close()

	dismissals := dismissal.NewRegistry(kv, cfg.DismissalKey, logger)
	scheduler := refresh.New(src,
		refresh.WithInterval(cfg.RefreshInterval),
		refresh.WithLogger(logger),
		refresh.WithNormalizer(feed.NewNormalizer(cfg.NewsListingPath)),
		refresh.OnTransition(func(from, to refresh.State) {
			logger.Debug("更新状態が変化しました", "from", from.String(), "to", to.String())
		}),
	)

	opts := []noticefeed.Option{
		noticefeed.WithAllowedOrigins(cfg.AllowedOrigins),
		noticefeed.WithLogger(logger),
	}
	if cfg.AuthoringEnabled && authoring != nil {
		opts = append(opts, noticefeed.WithAuthoring(authoring))
	}
	server := noticefeed.NewServer(scheduler, dismissals, opts...)

	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("定期更新の開始に失敗: %w", err)
	}
	defer scheduler.Stop()

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("通知フィードサービスを起動します", "port", cfg.Port, "source", cfg.SourceDriver, "dismissal", cfg.DismissalBackend)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTPサーバーの起動に失敗: %w", err)
		}
	case <-ctx.Done():
		logger.Info("シャットダウンを開始します")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTPサーバーの停止に失敗: %w", err)
	}
	logger.Info("通知フィードサービスを停止しました")
	return nil
}

// openSource は設定に応じた通知ソースを開く。
// SQLソースの場合は作成APIも返す。
func openSource(ctx context.Context, cfg *config.Config) (refresh.Source, noticefeed.Authoring, func() error, error) {
	switch cfg.SourceDriver {
	case config.SourceDriverREST:
		var opts []httpclient.Option
		if cfg.SourceRESTAPIKey != "" {
			opts = append(opts, httpclient.WithAPIKey(cfg.SourceRESTAPIKey))
		}
		store := source.NewRESTStore(httpclient.New(cfg.SourceRESTURL, opts...))
		return store, nil, func() error { return nil }, nil
	default:
		dialect := migration.DialectSQLite
		if cfg.SourceDriver == config.SourceDriverPostgres {
			dialect = migration.DialectPostgres
		}
		store, err := source.OpenSQL(ctx, dialect, cfg.SourceDSN)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("通知ソースの初期化に失敗: %w", err)
		}
		return store, store, store.Close, nil
	}
}

// openKV は設定に応じた非表示集合の永続化先を開く。
func openKV(ctx context.Context, cfg *config.Config) (kvstore.Store, error) {
	var (
		kv  kvstore.Store
		err error
	)
	switch cfg.DismissalBackend {
	case config.DismissalBackendRedis:
		kv, err = kvstore.OpenRedis(ctx, cfg.RedisURL, "noticefeed:")
	case config.DismissalBackendGCS:
		kv, err = kvstore.OpenGCS(ctx, cfg.GCSBucket, "noticefeed/")
	case config.DismissalBackendMemory:
		kv = kvstore.NewMemory()
	default:
		kv, err = kvstore.OpenSQLite(cfg.DismissalSQLitePath)
	}
	if err != nil {
		return nil, fmt.Errorf("非表示集合の永続化先の初期化に失敗: %w", err)
	}
	return kv, nil
}
