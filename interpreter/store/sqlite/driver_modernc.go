//go:build !cgo_sqlite

package sqlite

import (
	"strings"

	_ "modernc.org/sqlite"
)

const driverName = "sqlite"

// dsn builds a modernc.org/sqlite DSN. Each pragma is passed as
// _pragma=key(value).
func dsn(path string, pragmas [][2]string) string {
	var b strings.Builder
	b.WriteString(path)
	for i, p := range pragmas {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		b.WriteString("_pragma=" + p[0] + "(" + p[1] + ")")
	}
	return b.String()
}
