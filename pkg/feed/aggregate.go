package feed

import "slices"

// Aggregate は手動通知の後にニュースを連結し、SortKeyの降順で安定ソートする。
// SortKeyが等しい場合は手動通知がニュースより前になり、同一ソース内では
// 入力の順序が保たれる。時刻による絞り込みは行わず、要素を落とすこともない。
func Aggregate(manual, news []Entry) []Entry {
	entries := make([]Entry, 0, len(manual)+len(news))
	entries = append(entries, manual...)
	entries = append(entries, news...)
	slices.SortStableFunc(entries, func(a, b Entry) int {
		return b.SortKey.Compare(a.SortKey)
	})
	return entries
}
