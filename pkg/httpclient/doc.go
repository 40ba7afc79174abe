// Package httpclient はリモートのデータストアAPIとJSONで通信するクライアントを提供する。
//
// 通知ソースの取得（select/filter形式のREST API）に使用する。
// タイムアウト、APIキーの付与、ステータスコードの検査を共通化する。
package httpclient
