// Package util holds the small, single-purpose functions the rest of the
// engine is built from: time arithmetic, glob-to-regex translation,
// hashing, and clock helpers.
package util

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ParseTimeMinutes accepts "HH:MM" with 00<=HH<=23, 00<=MM<=59 and returns
// minutes since local midnight. Returns -1 on parse failure.
func ParseTimeMinutes(s string) int {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return -1
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return -1
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return -1
	}
	return h*60 + m
}

// InTimeRange returns true when now falls in [after,before), handling the
// midnight-wrap case (after>before) and the exact-minute case (after==before).
func InTimeRange(now, after, before int) bool {
	switch {
	case after == before:
		return now == after
	case after < before:
		return now >= after && now < before
	default: // midnight wrap
		return now >= after || now < before
	}
}

// globMetaEscaper escapes every regex metacharacter except the glob '*'.
var globMetaEscaper = regexp.MustCompile(`([.+?^${}()|\[\]\\])`)

// GlobToRegex treats '*' as ".*", escapes every other regex metacharacter,
// and anchors the result at both ends.
func GlobToRegex(pattern string) *regexp.Regexp {
	escaped := globMetaEscaper.ReplaceAllString(pattern, `\$1`)
	escaped = strings.ReplaceAll(escaped, "*", ".*")
	return regexp.MustCompile("^" + escaped + "$")
}

// SHA256Hex is the canonical hash used for audit record chaining.
func SHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// processEpoch anchors NowUs; time.Since reads the monotonic clock, so a
// wall-clock step cannot move NowUs backwards.
var processEpoch = time.Now()

// NowUs returns monotonic microseconds from an arbitrary epoch. Never used
// as a wall-clock; only for elapsed-time measurement.
func NowUs() int64 {
	return time.Since(processEpoch).Microseconds()
}

// TimeContext carries the wall-clock components computed once per evaluation.
type TimeContext struct {
	Hour        int
	Minute      int
	MinuteOfDay int
	Weekday     time.Weekday
	Date        string
	Zone        string
}

// CurrentTime returns a TimeContext in the named IANA zone. Falls back to
// UTC when the zone name fails to load.
func CurrentTime(zone string) TimeContext {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		loc = time.UTC
		zone = "UTC"
	}
	now := time.Now().In(loc)
	return TimeContext{
		Hour:        now.Hour(),
		Minute:      now.Minute(),
		MinuteOfDay: now.Hour()*60 + now.Minute(),
		Weekday:     now.Weekday(),
		Date:        now.Format("2006-01-02"),
		Zone:        zone,
	}
}

// agentIDPattern extracts the id between "agent:" and the next ":" in a
// session key of the form "agent:<id>[:subagent:...]".
var agentIDPattern = regexp.MustCompile(`^agent:([^:]+)`)

// ExtractAgentID returns the matched id, or fallback when sessionKey does
// not match the expected pattern.
func ExtractAgentID(sessionKey, fallback string) string {
	m := agentIDPattern.FindStringSubmatch(sessionKey)
	if m == nil {
		return fallback
	}
	return m[1]
}
