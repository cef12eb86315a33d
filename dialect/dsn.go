package dialect

import (
	"strings"

	"github.com/shrek82/dbo/sqlstate"
)

// SplitDSN separates "driver:rest" into its driver prefix and backend body.
func SplitDSN(dsn string) (driver, rest string, err error) {
	i := strings.IndexByte(dsn, ':')
	if i <= 0 {
		return "", "", sqlstate.New(sqlstate.DriverNotFound, "invalid data source name")
	}
	return dsn[:i], dsn[i+1:], nil
}

// ParsePairs reads semicolon separated key=value pairs. Keys are lower-cased;
// a pair without "=" maps to "".
func ParsePairs(body string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Split(body, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, _ := strings.Cut(part, "=")
		out[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	return out
}
