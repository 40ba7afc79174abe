// Package feed は通知フィードの正規化と集約を提供する。
//
// 運営者が作成する手動通知と、開催日が未来のニュース記事という
// 2つの独立したソースのレコードを1つの正規形（Entry）に変換し、
// 並び順の安定したフィードとして集約する。
package feed
