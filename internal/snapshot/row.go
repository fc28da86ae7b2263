package snapshot

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// RawRow is one data row keyed by canonical field label. Values are strings,
// numbers or nil for blank cells.
type RawRow struct {
	Line   int
	Values map[string]any
}

// Text renders a cell as trimmed text; nil renders as "".
func (r RawRow) Text(field string) string {
	return Stringify(r.Values[field])
}

// BusinessID returns the normalised identifier, or "" when the row has none
// that can be used.
func (r RawRow) BusinessID() string {
	return NormalizeID(r.Values[FieldBusinessID])
}

// Extras returns every populated non-core cell as text.
func (r RawRow) Extras() map[string]string {
	out := make(map[string]string)
	for field, value := range r.Values {
		switch field {
		case FieldBusinessID, FieldStatus, FieldAddress, FieldAssignee:
			continue
		}
		if text := Stringify(value); text != "" {
			out[field] = text
		}
	}
	return out
}

func Stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		if v == math.Trunc(v) && math.Abs(v) < 1e15 {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return Stringify(float64(v))
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

var placeholderIDs = map[string]struct{}{
	"null":      {},
	"undefined": {},
	"n/a":       {},
	"na":        {},
	"none":      {},
	"-":         {},
}

// NormalizeID trims an identifier and drops the ".0" that spreadsheet tools
// append to whole numbers. Placeholder text such as "null" yields "".
func NormalizeID(value any) string {
	id := Stringify(value)
	if _, bad := placeholderIDs[strings.ToLower(id)]; bad {
		return ""
	}
	if strings.HasSuffix(id, ".0") {
		if _, err := strconv.ParseInt(strings.TrimSuffix(id, ".0"), 10, 64); err == nil {
			id = strings.TrimSuffix(id, ".0")
		}
	}
	return id
}

func isBlank(values map[string]any) bool {
	for _, v := range values {
		if Stringify(v) != "" {
			return false
		}
	}
	return true
}
