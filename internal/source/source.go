package source

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnavailable はソースへの問い合わせに失敗したことを表す。
	ErrUnavailable = errors.New("通知ソースを利用できません")
	// ErrInvalidInput は作成リクエストの内容が不正であることを表す。
	ErrInvalidInput = errors.New("入力が不正です")
)

// timeLayout は日時をソースに保存する形式。
// 桁数固定のため、文字列の大小比較が時系列の前後と一致する。
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// formatTime は日時をUTCの固定長文字列に変換する。
func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime はソースに保存された日時文字列を解釈する。
func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("日時 %q のパースに失敗: %w", s, err)
	}
	return t.UTC(), nil
}
