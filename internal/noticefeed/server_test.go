package noticefeed

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/noticefeed/internal/dismissal"
	"github.com/nao1215/noticefeed/internal/refresh"
	"github.com/nao1215/noticefeed/internal/source"
	"github.com/nao1215/noticefeed/pkg/feed"
	"github.com/nao1215/noticefeed/pkg/kvstore"
	"github.com/nao1215/noticefeed/pkg/migration"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeSource はテスト用の通知ソース。
type fakeSource struct {
	mu      sync.Mutex
	manual  []feed.ManualRecord
	news    []feed.NewsRecord
	err     error
	block   chan struct{}
	started chan struct{}
}

func (f *fakeSource) FetchManualNotifications(ctx context.Context, _ time.Time) ([]feed.ManualRecord, error) {
	f.mu.Lock()
	records, err, block, started := f.manual, f.err, f.block, f.started
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return records, err
}

func (f *fakeSource) FetchUpcomingNewsItems(_ context.Context, _ time.Time) ([]feed.NewsRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.news, nil
}

func (f *fakeSource) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	tm, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("時刻のパースに失敗: %v", err)
	}
	return tm
}

// testClient はテストで使う既定のクライアントID。
const testClient = "browser-A"

// testEnv はテスト用に構築したサーバーと依存オブジェクト。
type testEnv struct {
	router     http.Handler
	source     *fakeSource
	scheduler  *refresh.Scheduler
	dismissals *dismissal.Registry
	kv         *kvstore.Memory
}

// store はクライアントの非表示集合を返すヘルパー関数。
func (e *testEnv) store(t *testing.T, clientID string) *dismissal.Store {
	t.Helper()
	s, err := e.dismissals.For(t.Context(), clientID)
	if err != nil {
		t.Fatalf("For()でエラーが発生: %v", err)
	}
	return s
}

// setupTestServer は手動通知2件とニュース1件を返すソースでサーバーを構築する。
func setupTestServer(t *testing.T, opts ...Option) *testEnv {
	t.Helper()

	src := &fakeSource{
		manual: []feed.ManualRecord{
			{ID: "a", Title: "メンテナンス", Category: "alert", Active: true, StartAt: mustTime(t, "2024-01-01T00:00:00Z"), CreatedAt: mustTime(t, "2024-01-02T00:00:00Z")},
			{ID: "b", Title: "お知らせ", Category: "info", Active: true, StartAt: mustTime(t, "2024-01-01T00:00:00Z"), CreatedAt: mustTime(t, "2024-01-01T00:00:00Z")},
		},
		news: []feed.NewsRecord{
			{ID: "n1", Title: "夏祭り", Published: true, EventDate: mustTime(t, "2030-08-01T00:00:00Z"), CreatedAt: mustTime(t, "2024-01-03T00:00:00Z")},
		},
	}
	now := mustTime(t, "2024-06-01T00:00:00Z")
	sched := refresh.New(src, refresh.WithClock(func() time.Time { return now }))
	kv := kvstore.NewMemory()
	registry := dismissal.NewRegistry(kv, dismissal.DefaultKey, nil)
	s := NewServer(sched, registry, opts...)

	return &testEnv{
		router:     s.Handler(),
		source:     src,
		scheduler:  sched,
		dismissals: registry,
		kv:         kv,
	}
}

// doRequest はテスト用のHTTPリクエストを実行し、レスポンスを返すヘルパー関数。
func doRequest(router http.Handler, method, path, clientID string, body any) *httptest.ResponseRecorder {
	var reqBody *bytes.Reader
	switch b := body.(type) {
	case nil:
		reqBody = bytes.NewReader(nil)
	case string:
		reqBody = bytes.NewReader([]byte(b))
	default:
		jsonBytes, _ := json.Marshal(b)
		reqBody = bytes.NewReader(jsonBytes)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if clientID != "" {
		req.Header.Set(ClientIDHeader, clientID)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// parseJSON はレスポンスボディをmapにデコードするヘルパー関数。
func parseJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var result map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("JSONのデコードに失敗: %v, body=%s", err, w.Body.String())
	}
	return result
}

// entryIDs はレスポンスのentriesからIDを取り出すヘルパー関数。
func entryIDs(t *testing.T, body map[string]any) []string {
	t.Helper()
	entries, ok := body["entries"].([]any)
	if !ok {
		t.Fatalf("entriesが配列ではない: %v", body["entries"])
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.(map[string]any)["id"].(string))
	}
	return ids
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// TestHealth はヘルスチェックを検証する。
func TestHealth(t *testing.T) {
	t.Parallel()

	env := setupTestServer(t)
	w := doRequest(env.router, http.MethodGet, "/health", testClient, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
	}
	if got := parseJSON(t, w)["service"]; got != "noticefeed" {
		t.Errorf("service = %v", got)
	}
}

// TestHandleList は表示中の通知一覧取得を検証する。
func TestHandleList(t *testing.T) {
	t.Parallel()

	t.Run("取得前は空のフィードとidleが返ること", func(t *testing.T) {
		t.Parallel()

		env := setupTestServer(t)
		w := doRequest(env.router, http.MethodGet, "/api/v1/notifications", testClient, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		body := parseJSON(t, w)
		if body["status"] != "idle" {
			t.Errorf("status = %v, want idle", body["status"])
		}
		if body["updated_at"] != nil {
			t.Errorf("updated_at = %v, want null", body["updated_at"])
		}
		if ids := entryIDs(t, body); len(ids) != 0 {
			t.Errorf("entries = %v, want empty", ids)
		}
	})

	t.Run("作成日時の降順で返ること", func(t *testing.T) {
		t.Parallel()

		env := setupTestServer(t)
		if err := env.scheduler.Refresh(t.Context()); err != nil {
			t.Fatalf("Refresh()でエラーが発生: %v", err)
		}

		body := parseJSON(t, doRequest(env.router, http.MethodGet, "/api/v1/notifications", testClient, nil))
		if body["status"] != "ready" {
			t.Errorf("status = %v, want ready", body["status"])
		}
		if body["updated_at"] != "2024-06-01T00:00:00Z" {
			t.Errorf("updated_at = %v", body["updated_at"])
		}
		if got, want := entryIDs(t, body), []string{"news-n1", "a", "b"}; !equalIDs(got, want) {
			t.Errorf("entries = %v, want %v", got, want)
		}

		first := body["entries"].([]any)[0].(map[string]any)
		if first["kind"] != "news" || first["link"] != "/news" {
			t.Errorf("ニュース通知 = %v", first)
		}
	})
}

// TestHandleDismiss は通知の非表示化を検証する。
func TestHandleDismiss(t *testing.T) {
	t.Parallel()

	env := setupTestServer(t)
	if err := env.scheduler.Refresh(t.Context()); err != nil {
		t.Fatalf("Refresh()でエラーが発生: %v", err)
	}

	w := doRequest(env.router, http.MethodPut, "/api/v1/notifications/news-n1/dismiss", testClient, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
	}
	// 2回目も成功する
	if w := doRequest(env.router, http.MethodPut, "/api/v1/notifications/news-n1/dismiss", testClient, nil); w.Code != http.StatusOK {
		t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
	}

	t.Run("非表示にした通知は一覧から除かれること", func(t *testing.T) {
		body := parseJSON(t, doRequest(env.router, http.MethodGet, "/api/v1/notifications", testClient, nil))
		if got, want := entryIDs(t, body), []string{"a", "b"}; !equalIDs(got, want) {
			t.Errorf("entries = %v, want %v", got, want)
		}
	})

	t.Run("全件取得では非表示フラグ付きで返ること", func(t *testing.T) {
		body := parseJSON(t, doRequest(env.router, http.MethodGet, "/api/v1/notifications/all", testClient, nil))
		entries := body["entries"].([]any)
		if len(entries) != 3 {
			t.Fatalf("entries = %d件, want 3", len(entries))
		}
		for _, e := range entries {
			m := e.(map[string]any)
			want := m["id"] == "news-n1"
			if m["dismissed"] != want {
				t.Errorf("%v の dismissed = %v, want %v", m["id"], m["dismissed"], want)
			}
		}
	})

	t.Run("未読件数が減ること", func(t *testing.T) {
		body := parseJSON(t, doRequest(env.router, http.MethodGet, "/api/v1/notifications/unread-count", testClient, nil))
		if body["count"] != float64(2) {
			t.Errorf("count = %v, want 2", body["count"])
		}
	})

	t.Run("永続化された集合に重複が無いこと", func(t *testing.T) {
		raw, err := env.kv.Get(t.Context(), dismissal.DefaultKey+":"+testClient)
		if err != nil {
			t.Fatalf("Get()でエラーが発生: %v", err)
		}
		if string(raw) != `["news-n1"]` {
			t.Errorf("永続化された値 = %s", raw)
		}
	})
}

// TestClientIsolation は非表示がクライアントごとに独立していることを検証する。
func TestClientIsolation(t *testing.T) {
	t.Parallel()

	env := setupTestServer(t)
	if err := env.scheduler.Refresh(t.Context()); err != nil {
		t.Fatalf("Refresh()でエラーが発生: %v", err)
	}

	if w := doRequest(env.router, http.MethodPut, "/api/v1/notifications/a/dismiss", "browser-A", nil); w.Code != http.StatusOK {
		t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
	}
	if w := doRequest(env.router, http.MethodPut, "/api/v1/notifications/dismiss-all", "browser-C", nil); w.Code != http.StatusOK {
		t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
	}

	tests := []struct {
		clientID string
		want     []string
	}{
		{clientID: "browser-A", want: []string{"news-n1", "b"}},
		{clientID: "browser-B", want: []string{"news-n1", "a", "b"}},
		{clientID: "browser-C", want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.clientID+"の一覧", func(t *testing.T) {
			body := parseJSON(t, doRequest(env.router, http.MethodGet, "/api/v1/notifications", tt.clientID, nil))
			if got := entryIDs(t, body); !equalIDs(got, tt.want) {
				t.Errorf("entries = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestClientID_Required はクライアントIDの必須チェックを検証する。
func TestClientID_Required(t *testing.T) {
	t.Parallel()

	env := setupTestServer(t)
	requests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/v1/notifications"},
		{http.MethodGet, "/api/v1/notifications/all"},
		{http.MethodGet, "/api/v1/notifications/unread-count"},
		{http.MethodPut, "/api/v1/notifications/a/dismiss"},
		{http.MethodPut, "/api/v1/notifications/dismiss-all"},
		{http.MethodPost, "/api/v1/notifications/refresh"},
	}
	for _, r := range requests {
		t.Run(r.method+" "+r.path+" はクライアントIDが無いと400になること", func(t *testing.T) {
			if w := doRequest(env.router, r.method, r.path, "", nil); w.Code != http.StatusBadRequest {
				t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusBadRequest)
			}
		})
	}

	t.Run("不正なクライアントIDで400になること", func(t *testing.T) {
		if w := doRequest(env.router, http.MethodGet, "/api/v1/notifications", "a:b", nil); w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})

	t.Run("状態取得とヘルスチェックはクライアントIDが無くても使えること", func(t *testing.T) {
		for _, path := range []string{"/api/v1/notifications/status", "/health"} {
			if w := doRequest(env.router, http.MethodGet, path, "", nil); w.Code != http.StatusOK {
				t.Errorf("%s のステータスコード = %d, want %d", path, w.Code, http.StatusOK)
			}
		}
	})
}

// TestHandleDismissAll は一括非表示化を検証する。
func TestHandleDismissAll(t *testing.T) {
	t.Parallel()

	t.Run("ボディを省略すると表示中の全通知が非表示になること", func(t *testing.T) {
		t.Parallel()

		env := setupTestServer(t)
		if err := env.scheduler.Refresh(t.Context()); err != nil {
			t.Fatalf("Refresh()でエラーが発生: %v", err)
		}

		w := doRequest(env.router, http.MethodPut, "/api/v1/notifications/dismiss-all", testClient, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
		}
		if got := parseJSON(t, w)["count"]; got != float64(3) {
			t.Errorf("count = %v, want 3", got)
		}

		body := parseJSON(t, doRequest(env.router, http.MethodGet, "/api/v1/notifications", testClient, nil))
		if ids := entryIDs(t, body); len(ids) != 0 {
			t.Errorf("entries = %v, want empty", ids)
		}
	})

	t.Run("指定したIDだけが非表示になること", func(t *testing.T) {
		t.Parallel()

		env := setupTestServer(t)
		if err := env.scheduler.Refresh(t.Context()); err != nil {
			t.Fatalf("Refresh()でエラーが発生: %v", err)
		}

		w := doRequest(env.router, http.MethodPut, "/api/v1/notifications/dismiss-all", testClient, gin.H{"ids": []string{"a", "news-n1"}})
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}

		body := parseJSON(t, doRequest(env.router, http.MethodGet, "/api/v1/notifications", testClient, nil))
		if got := entryIDs(t, body); !equalIDs(got, []string{"b"}) {
			t.Errorf("entries = %v, want [b]", got)
		}
		if got := env.store(t, testClient).Dismissed(); !equalIDs(got, []string{"a", "news-n1"}) {
			t.Errorf("Dismissed() = %v", got)
		}
	})

	t.Run("不正なJSONで400が返ること", func(t *testing.T) {
		t.Parallel()

		env := setupTestServer(t)
		w := doRequest(env.router, http.MethodPut, "/api/v1/notifications/dismiss-all", testClient, `{"ids":`)
		if w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})
}

// TestHandleRefresh は手動での再取得を検証する。
func TestHandleRefresh(t *testing.T) {
	t.Parallel()

	t.Run("成功すると新しいフィードが返ること", func(t *testing.T) {
		t.Parallel()

		env := setupTestServer(t)
		w := doRequest(env.router, http.MethodPost, "/api/v1/notifications/refresh", testClient, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		if got := entryIDs(t, parseJSON(t, w)); len(got) != 3 {
			t.Errorf("entries = %v", got)
		}
	})

	t.Run("ソースが失敗すると502と以前のフィードが返ること", func(t *testing.T) {
		t.Parallel()

		env := setupTestServer(t)
		if err := env.scheduler.Refresh(t.Context()); err != nil {
			t.Fatalf("Refresh()でエラーが発生: %v", err)
		}
		env.source.setErr(source.ErrUnavailable)

		w := doRequest(env.router, http.MethodPost, "/api/v1/notifications/refresh", testClient, nil)
		if w.Code != http.StatusBadGateway {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusBadGateway)
		}
		body := parseJSON(t, w)
		if body["status"] != "failed" {
			t.Errorf("status = %v, want failed", body["status"])
		}
		if got := entryIDs(t, body); len(got) != 3 {
			t.Errorf("entries = %v, want 以前の3件", got)
		}

		status := parseJSON(t, doRequest(env.router, http.MethodGet, "/api/v1/notifications/status", testClient, nil))
		if status["status"] != "failed" || status["last_error"] == nil {
			t.Errorf("status = %v", status)
		}
	})

	t.Run("更新中は409が返ること", func(t *testing.T) {
		t.Parallel()

		env := setupTestServer(t)
		block := make(chan struct{})
		started := make(chan struct{}, 1)
		env.source.mu.Lock()
		env.source.block = block
		env.source.started = started
		env.source.mu.Unlock()

		done := make(chan error, 1)
		go func() { done <- env.scheduler.Refresh(context.Background()) }()
		<-started

		w := doRequest(env.router, http.MethodPost, "/api/v1/notifications/refresh", testClient, nil)
		if w.Code != http.StatusConflict {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusConflict)
		}

		close(block)
		if err := <-done; err != nil {
			t.Fatalf("Refresh()でエラーが発生: %v", err)
		}
	})
}

// TestHandleStatus は更新状態の取得を検証する。
func TestHandleStatus(t *testing.T) {
	t.Parallel()

	env := setupTestServer(t)
	if err := env.scheduler.Refresh(t.Context()); err != nil {
		t.Fatalf("Refresh()でエラーが発生: %v", err)
	}
	env.store(t, testClient).Dismiss(t.Context(), feed.ManualID("a"))

	body := parseJSON(t, doRequest(env.router, http.MethodGet, "/api/v1/notifications/status", testClient, nil))
	if body["status"] != "ready" {
		t.Errorf("status = %v, want ready", body["status"])
	}
	if body["last_error"] != nil {
		t.Errorf("last_error = %v, want null", body["last_error"])
	}
	if body["entries"] != float64(3) {
		t.Errorf("entries = %v, want 3", body["entries"])
	}
}

// TestHandleCreate は運営者向けの作成APIを検証する。
func TestHandleCreate(t *testing.T) {
	t.Parallel()

	store, err := source.OpenSQL(t.Context(), migration.DialectSQLite, ":memory:")
	if err != nil {
		t.Fatalf("SQLStoreの生成に失敗: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	sched := refresh.New(store)
	dismissals := dismissal.NewRegistry(kvstore.NewMemory(), dismissal.DefaultKey, nil)
	router := NewServer(sched, dismissals, WithAuthoring(store)).Handler()

	t.Run("手動通知を作成するとフィードに現れること", func(t *testing.T) {
		w := doRequest(router, http.MethodPost, "/api/v1/internal/manual", testClient, gin.H{
			"title":    "臨時休業",
			"category": "alert",
			"start_at": time.Now().Add(-time.Hour).UTC().Format(time.RFC3339),
		})
		if w.Code != http.StatusCreated {
			t.Fatalf("ステータスコード = %d, want %d, body=%s", w.Code, http.StatusCreated, w.Body.String())
		}
		created := parseJSON(t, w)
		if created["id"] == "" || created["active"] != true {
			t.Errorf("作成結果 = %v", created)
		}

		if w := doRequest(router, http.MethodPost, "/api/v1/notifications/refresh", testClient, nil); w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		body := parseJSON(t, doRequest(router, http.MethodGet, "/api/v1/notifications", testClient, nil))
		if got := entryIDs(t, body); !equalIDs(got, []string{created["id"].(string)}) {
			t.Errorf("entries = %v", got)
		}
	})

	t.Run("ニュースを作成するとnews-付きのIDでフィードに現れること", func(t *testing.T) {
		w := doRequest(router, http.MethodPost, "/api/v1/internal/news", testClient, gin.H{
			"title":      "秋祭り",
			"published":  true,
			"event_date": time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339),
		})
		if w.Code != http.StatusCreated {
			t.Fatalf("ステータスコード = %d, want %d, body=%s", w.Code, http.StatusCreated, w.Body.String())
		}
		id := parseJSON(t, w)["id"].(string)

		if err := sched.Refresh(t.Context()); err != nil {
			t.Fatalf("Refresh()でエラーが発生: %v", err)
		}
		found := false
		for _, e := range sched.Snapshot().Feed {
			if e.ID.String() == feed.NewsIDPrefix+id {
				found = true
			}
		}
		if !found {
			t.Errorf("news-%s がフィードに無い", id)
		}
	})

	t.Run("不正な種別で400が返ること", func(t *testing.T) {
		w := doRequest(router, http.MethodPost, "/api/v1/internal/manual", testClient, gin.H{"title": "t", "category": "urgent"})
		if w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})

	t.Run("タイトルが無いと400が返ること", func(t *testing.T) {
		w := doRequest(router, http.MethodPost, "/api/v1/internal/news", testClient, gin.H{"event_date": time.Now().UTC().Format(time.RFC3339)})
		if w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})
}

// TestHandleCreate_Disabled は作成APIが無効な場合を検証する。
func TestHandleCreate_Disabled(t *testing.T) {
	t.Parallel()

	env := setupTestServer(t)
	w := doRequest(env.router, http.MethodPost, "/api/v1/internal/manual", testClient, gin.H{"title": "t", "category": "info"})
	if w.Code != http.StatusNotFound {
		t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// TestCORS は許可したオリジンへのCORSヘッダーを検証する。
func TestCORS(t *testing.T) {
	t.Parallel()

	env := setupTestServer(t, WithAllowedOrigins([]string{"https://site.example.com"}))
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/notifications", nil)
	req.Header.Set("Origin", "https://site.example.com")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://site.example.com" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}
