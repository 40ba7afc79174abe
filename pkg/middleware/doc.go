// Package middleware は通知フィードAPIで使用する共通のGinミドルウェアを提供する。
//
// パニックリカバリと、情報サイトのフロントエンドからのアクセスを許可するCORS設定を含む。
package middleware
