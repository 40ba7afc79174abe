// Package kvstore は文字列キーとバイト列の値を永続化するキーバリューストアを提供する。
//
// 既読（非表示）状態のようなクライアントローカルな小さな状態を保存するために使う。
// バックエンドとしてSQLite、Redis、Google Cloud Storage、メモリを用意している。
package kvstore
