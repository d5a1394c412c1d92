// Package condition implements the closed-taxonomy condition kernel: one
// pure matcher function per condition kind, dispatched by a type switch
// over the tagged policy.Condition variant, plus the shared regex cache
// the compiler and kernel both read from.
package condition

import (
	"regexp"
	"sync"

	"github.com/cespare/xxhash/v2"
)

const maxPatternLength = 500

// nestedQuantifier is a coarse safety check that rejects patterns like
// "(a+)+" which can exhibit catastrophic backtracking in Go's RE2 engine
// only in pathological cases, but are rejected outright per policy rather
// than risk them at all.
var nestedQuantifier = regexp.MustCompile(`[*+?]\)[*+?]|\)[*+]\{|\}\s*[*+]`)

// RegexCache is the shared, pattern-source-keyed compiled regex cache the
// policy index and condition kernel both read from. Entries are keyed by
// an xxhash of the pattern source so long glob-derived patterns don't pay
// full string comparisons on every map probe. A pattern that fails safety
// validation or compilation is recorded as a never-matching entry so
// subsequent lookups are O(1) and the warning is logged only once.
type RegexCache struct {
	mu      sync.RWMutex
	entries map[uint64]*regexp.Regexp // nil means "known bad, never matches"
	warned  map[uint64]bool
	onWarn  func(source string, err error)
}

// NewRegexCache creates an empty cache. onWarn, if non-nil, is invoked at
// most once per bad pattern source.
func NewRegexCache(onWarn func(source string, err error)) *RegexCache {
	return &RegexCache{
		entries: make(map[uint64]*regexp.Regexp),
		warned:  make(map[uint64]bool),
		onWarn:  onWarn,
	}
}

// Get compiles (or returns the cached compilation of) source. ok is false
// when the pattern failed safety validation or compilation; callers must
// then treat the containing condition as non-matching.
func (c *RegexCache) Get(source string) (re *regexp.Regexp, ok bool) {
	key := xxhash.Sum64String(source)

	c.mu.RLock()
	if re, hit := c.entries[key]; hit {
		c.mu.RUnlock()
		return re, re != nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Re-check under write lock in case another goroutine won the race.
	if re, hit := c.entries[key]; hit {
		return re, re != nil
	}

	re, err := c.compile(source)
	c.entries[key] = re
	if err != nil && !c.warned[key] {
		c.warned[key] = true
		if c.onWarn != nil {
			c.onWarn(source, err)
		}
	}
	return re, re != nil
}

func (c *RegexCache) compile(source string) (*regexp.Regexp, error) {
	if len(source) > maxPatternLength {
		return nil, errPatternTooLong
	}
	if nestedQuantifier.MatchString(source) {
		return nil, errNestedQuantifier
	}
	re, err := regexp.Compile(source)
	if err != nil {
		return nil, err
	}
	return re, nil
}

// Len returns the number of cached entries (good and bad).
func (c *RegexCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

var (
	errPatternTooLong   = regexErr("regex pattern exceeds maximum length")
	errNestedQuantifier = regexErr("regex pattern rejected: nested quantifiers")
)

type regexErr string

func (e regexErr) Error() string { return string(e) }
