// Package noticefeed は通知フィードサービスのHTTP APIを提供する。
//
// 定期更新された通知フィードから、X-Client-ID ヘッダーで識別したクライアントが
// 非表示にしたものを除いて返す。単一・一括の非表示化や手動での再取得、
// 運営者による通知・記事の作成も受け付ける。
package noticefeed
