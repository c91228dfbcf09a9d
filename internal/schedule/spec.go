package schedule

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// parser accepts 5-field and 6-field (leading seconds) specs plus
// descriptors such as @daily and @every 1h.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

var reHHMM = regexp.MustCompile(`^\s*(\d{1,2}):(\d{2})\s*$`)

// NormalizeSpec turns a schedule string into a cron spec.
//
// Supported forms:
//   - cron: "*/5 * * * *", "0 30 9 * * 1-5", "@hourly", "@every 55m"
//   - daily time "HH:MM": "09:30" runs every day at 09:30
//   - Go duration: "55m" runs every 55 minutes
//
// "cron:" and "every:" prefixes force the kind.
func NormalizeSpec(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("schedule required")
	}
	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		s = strings.TrimSpace(s[len("cron:"):])
	case strings.HasPrefix(low, "every:"):
		d, err := parseEvery(s[len("every:"):])
		if err != nil {
			return "", err
		}
		s = "@every " + d.String()
	case strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@"):
	case reHHMM.MatchString(s):
		m := reHHMM.FindStringSubmatch(s)
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if hh > 23 || mm > 59 {
			return "", fmt.Errorf("invalid time of day %q", raw)
		}
		s = fmt.Sprintf("%d %d * * *", mm, hh)
	default:
		d, err := parseEvery(s)
		if err != nil {
			return "", fmt.Errorf("invalid schedule %q (use cron like '*/5 * * * *', HH:MM like '09:30', or duration like '55m')", raw)
		}
		s = "@every " + d.String()
	}
	if _, err := parser.Parse(s); err != nil {
		return "", fmt.Errorf("invalid schedule %q: %w", raw, err)
	}
	return s, nil
}

func parseEvery(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q", v)
	}
	if d < time.Second {
		return 0, fmt.Errorf("interval must be at least 1s")
	}
	return d, nil
}
