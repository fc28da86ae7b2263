package sqlite

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// Connection pragmas are passed through the DSN so every pooled connection
// gets them, not just the first.
var filePragmas = []string{
	"busy_timeout(30000)",
	"journal_mode(WAL)",
	"foreign_keys(1)",
}

var memoryPragmas = []string{
	"busy_timeout(30000)",
	"foreign_keys(1)",
}

// parseDSN turns a sqlite:// URL into a modernc driver DSN. It reports
// whether the database lives in memory.
func parseDSN(dsn string) (string, bool, error) {
	if !strings.HasPrefix(dsn, "sqlite://") {
		return "", false, fmt.Errorf("invalid sqlite DSN scheme, expected sqlite://")
	}

	rest := strings.TrimPrefix(dsn, "sqlite://")
	path, rawQuery, _ := strings.Cut(rest, "?")

	if path == ":memory:" {
		return withPragmas(":memory:", rawQuery, memoryPragmas), true, nil
	}
	if path == "" {
		return "", false, fmt.Errorf("sqlite DSN has no path")
	}

	unescaped, err := url.PathUnescape(path)
	if err != nil {
		return "", false, fmt.Errorf("unescaping path: %w", err)
	}
	path = unescaped

	if !filepath.IsAbs(path) && !strings.HasPrefix(path, "./") {
		path = "./" + path
	}

	return withPragmas("file:"+path, rawQuery, filePragmas), false, nil
}

func withPragmas(base, rawQuery string, pragmas []string) string {
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		values = url.Values{}
	}
	have := make(map[string]struct{})
	for _, p := range values["_pragma"] {
		name, _, _ := strings.Cut(p, "(")
		have[strings.ToLower(name)] = struct{}{}
	}
	for _, p := range pragmas {
		name, _, _ := strings.Cut(p, "(")
		if _, ok := have[name]; !ok {
			values.Add("_pragma", p)
		}
	}
	if values.Get("_txlock") == "" {
		values.Set("_txlock", "immediate")
	}
	return base + "?" + values.Encode()
}
