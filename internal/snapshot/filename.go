package snapshot

import (
	"path/filepath"
	"regexp"
	"strconv"
	"time"
)

// Export files are named like "Lawley_22052025.xlsx" (day, month, year).
var filenameDate = regexp.MustCompile(`(?i)_(\d{2})(\d{2})(\d{4})\.(xlsx|xlsm|csv)$`)

// DateFromFilename extracts the snapshot date embedded in an export file
// name. It reports false when the name carries no valid date.
func DateFromFilename(path string) (time.Time, bool) {
	m := filenameDate.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return time.Time{}, false
	}
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])

	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if d.Day() != day || int(d.Month()) != month || d.Year() != year {
		return time.Time{}, false
	}
	return d, true
}
