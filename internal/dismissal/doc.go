// Package dismissal は非表示にした通知IDの集合を管理する。
//
// 集合はクライアントごとに分かれ、それぞれキーバリューストアの1キーにJSON配列として保存する。
// 読み込みに失敗した場合や内容が壊れている場合は空の集合から始め、
// 書き込みの失敗はログに記録するだけで呼び出し元には伝えない。
package dismissal
