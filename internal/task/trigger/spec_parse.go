package trigger

import (
	"fmt"
	"strings"
	"time"
)

// SpecKind describes the normalized kind of a schedule string.
type SpecKind int

const (
	SpecCron SpecKind = iota
	SpecInterval
)

// ParsedSpec is a parsed schedule string.
//
// Supported forms:
//   - Cron: "*/5 * * * *", "0 */5 * * * *" (with seconds), "@hourly"
//   - Interval duration: "55m", "2h30m"
//
// Optional prefixes "cron:" and "every:" force the corresponding parse.
type ParsedSpec struct {
	Kind  SpecKind
	Cron  string
	Every time.Duration
}

// ParseSchedule parses a schedule string into either a cron expression or
// a fixed interval.
func ParseSchedule(raw string) (ParsedSpec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ParsedSpec{}, fmt.Errorf("schedule required")
	}

	low := strings.ToLower(s)
	if strings.HasPrefix(low, "cron:") {
		expr := strings.TrimSpace(s[len("cron:"):])
		if expr == "" {
			return ParsedSpec{}, fmt.Errorf("cron schedule required after 'cron:'")
		}
		return ParsedSpec{Kind: SpecCron, Cron: expr}, nil
	}
	if strings.HasPrefix(low, "every:") {
		v := strings.TrimSpace(s[len("every:"):])
		d, err := parseInterval(v)
		if err != nil {
			return ParsedSpec{}, err
		}
		return ParsedSpec{Kind: SpecInterval, Every: d}, nil
	}

	// Whitespace or a leading '@' means cron.
	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		return ParsedSpec{Kind: SpecCron, Cron: s}, nil
	}

	d, err := time.ParseDuration(s)
	if err == nil {
		if d <= 0 {
			return ParsedSpec{}, fmt.Errorf("interval must be > 0")
		}
		return ParsedSpec{Kind: SpecInterval, Every: d}, nil
	}

	return ParsedSpec{}, fmt.Errorf(
		"invalid schedule %q (use cron like '*/5 * * * *' or a duration like '55m')", raw)
}

func parseInterval(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, fmt.Errorf("interval required")
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q (use a Go duration like '55m'/'2h30m')", v)
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval must be > 0")
	}
	return d, nil
}
