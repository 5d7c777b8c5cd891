package db

import (
	"strconv"
	"strings"
)

// Rebind rewrites '?' placeholders to the driver's native form. Postgres
// wants $1, $2, ...; SQLite takes the query unchanged.
func Rebind(driver Driver, query string) string {
	if driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		c := query[i]
		if c != '?' {
			b.WriteByte(c)
			continue
		}
		n++
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
	}
	return b.String()
}
