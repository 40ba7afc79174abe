// Package source は通知フィードの取得元（手動通知とニュース記事）へのアダプタを提供する。
//
// 2つの読み取り操作を提供する。
//   - FetchManualNotifications: 有効かつ表示期間内の手動通知を取得する
//   - FetchUpcomingNewsItems: 公開済みかつ開催日が未来のニュース記事を取得する
//
// 絞り込み条件はすべてソース側で適用する。返す順序は保証しない。
// 取得に失敗した場合は ErrUnavailable をラップしたエラーを返す。
//
// 実装としてSQLデータベース（SQLite / PostgreSQL）を直接参照するSQLStoreと、
// select/filter形式のREST APIを参照するRESTStoreがある。
package source
