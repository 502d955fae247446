package risk

import (
	"fmt"
	"strings"
	"time"
)

// SessionWindow is a daily time window in minutes from local midnight,
// inclusive start, exclusive end. A window whose end is before its
// start wraps past midnight; equal bounds make an empty window.
type SessionWindow struct {
	Start int
	End   int
}

// Contains reports whether the wall-clock time of t falls inside the
// window. The caller is responsible for converting t into the session
// timezone first.
func (w SessionWindow) Contains(t time.Time) bool {
	m := t.Hour()*60 + t.Minute()
	if w.Start == w.End {
		return false
	}
	if w.Start < w.End {
		return m >= w.Start && m < w.End
	}
	return m >= w.Start || m < w.End
}

// ParseSessionWindows parses a comma-separated list of "HH:MM-HH:MM"
// windows. An empty string yields no windows.
func ParseSessionWindows(s string) ([]SessionWindow, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	windows := make([]SessionWindow, 0, len(parts))
	for _, part := range parts {
		bounds := strings.Split(strings.TrimSpace(part), "-")
		if len(bounds) != 2 {
			return nil, fmt.Errorf("invalid session window %q, want HH:MM-HH:MM", part)
		}
		start, err := parseMinuteOfDay(bounds[0])
		if err != nil {
			return nil, fmt.Errorf("invalid session window %q: %w", part, err)
		}
		end, err := parseMinuteOfDay(bounds[1])
		if err != nil {
			return nil, fmt.Errorf("invalid session window %q: %w", part, err)
		}
		windows = append(windows, SessionWindow{Start: start, End: end})
	}
	return windows, nil
}

func parseMinuteOfDay(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}
