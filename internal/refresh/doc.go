// Package refresh は通知フィードを定期的に取得し直すスケジューラを提供する。
//
// スケジューラは Idle / Loading / Ready / Failed の状態を持ち、起動直後に1回、
// 以降は一定間隔でフェッチ・正規化・集約のサイクルを実行する。
// 同時に実行されるサイクルは常に1つだけで、失敗したサイクルは直前のフィードを保持する。
package refresh
