package migration

import (
	"strconv"
	"strings"
)

// Dialect はSQLの方言を表す。
type Dialect string

const (
	// DialectSQLite はSQLite（modernc.org/sqlite）を表す。
	DialectSQLite Dialect = "sqlite"
	// DialectPostgres はPostgreSQL（github.com/lib/pq）を表す。
	DialectPostgres Dialect = "postgres"
)

// DriverName はdatabase/sqlに登録されたドライバ名を返す。
func (d Dialect) DriverName() string {
	return string(d)
}

// Rebind は "?" プレースホルダを方言に合わせて書き換える。
// PostgreSQLでは $1, $2, ... に置き換え、SQLiteではそのまま返す。
func (d Dialect) Rebind(query string) string {
	if d != DialectPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
