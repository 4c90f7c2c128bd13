package utils

import (
	"strconv"
	"strings"
	"time"
)

// FormatDuration форматирует продолжительность в короткий вид
// из двух старших единиц: "45s", "5m30s", "2h15m", "3d5h".
// Доли секунды отбрасываются, отрицательные значения берутся по модулю.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	total := int64(d / time.Second)

	units := []struct {
		suffix string
		size   int64
	}{
		{"d", 86400},
		{"h", 3600},
		{"m", 60},
		{"s", 1},
	}

	for idx, u := range units {
		if total < u.size && u.size > 1 {
			continue
		}

		var b strings.Builder
		b.WriteString(strconv.FormatInt(total/u.size, 10))
		b.WriteString(u.suffix)

		if idx+1 < len(units) {
			next := units[idx+1]
			if rest := (total % u.size) / next.size; rest > 0 {
				b.WriteString(strconv.FormatInt(rest, 10))
				b.WriteString(next.suffix)
			}
		}
		return b.String()
	}
	return "0s"
}
