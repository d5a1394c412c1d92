// Package audit contains the domain types for the hash-chained audit log:
// per-record chaining, the persisted chain head, and field redaction.
package audit

import (
	"regexp"
	"time"

	"github.com/governed/governor/internal/domain/policy"
)

// ZeroHash is the all-zero sentinel used as the first record's PrevHash.
const ZeroHash = "0000000000000000000000000000000000000000000000000000000000000000"

// AuditRecord is one hash-chained, redacted entry in the append-only log.
type AuditRecord struct {
	Seq      int64  `json:"seq"`
	ID       string `json:"id"`
	PrevHash string `json:"prev_hash"`
	Hash     string `json:"hash"`

	WallMs    int64     `json:"wall_ms"`
	Timestamp time.Time `json:"timestamp"`

	Verdict policy.Action `json:"verdict"`

	AgentID string          `json:"agent_id"`
	Hook    policy.HookKind `json:"hook"`
	Tool    string          `json:"tool,omitempty"`

	Context policy.EvaluationContext `json:"context"`

	Trust policy.TrustSnapshot  `json:"trust"`
	Risk  policy.RiskAssessment `json:"risk"`

	Matched []policy.MatchedEffect `json:"matched"`

	EvaluationUs int64 `json:"evaluation_us"`

	LLMConsulted bool `json:"llm_consulted"`

	ComplianceControls []string `json:"compliance_controls,omitempty"`
}

// ChainHead is the exclusive per-process state persisted alongside the log.
type ChainHead struct {
	Seq           int64     `json:"seq"`
	LastHash      string    `json:"last_hash"`
	LastTimestamp time.Time `json:"last_timestamp"`
	RecordCount   int64     `json:"record_count"`
}

// sensitiveKeyPattern matches tool parameter keys that must be redacted,
// case-insensitively, against a fixed pattern set.
var sensitiveKeyPattern = regexp.MustCompile(`(?i)^(password|secret|token|apiKey|api_key|credential|auth|authorization)$`)

const (
	messageTruncateLen = 500
	truncatedSuffix    = "[TRUNCATED at 500 chars]"
	redactedValue      = "[REDACTED]"
)

// Redactor deep-copies an EvaluationContext and masks sensitive fields
// before it is attached to a persisted AuditRecord. Redaction is idempotent:
// redact(redact(x)) == redact(x), since a redacted value never matches a
// sensitive key pattern change and truncation/replacement are stable.
type Redactor struct {
	UserPatterns []*regexp.Regexp
}

// NewRedactor compiles the configured user regex list. Patterns that fail
// to compile are skipped; callers should validate patterns at config load.
func NewRedactor(userPatterns []string) *Redactor {
	r := &Redactor{}
	for _, p := range userPatterns {
		if re, err := regexp.Compile(p); err == nil {
			r.UserPatterns = append(r.UserPatterns, re)
		}
	}
	return r
}

// Redact returns a redacted copy of ctx suitable for persistence.
func (r *Redactor) Redact(ctx policy.EvaluationContext) policy.EvaluationContext {
	out := ctx

	if len(ctx.ToolParams) > 0 {
		out.ToolParams = make(map[string]any, len(ctx.ToolParams))
		for k, v := range ctx.ToolParams {
			if sensitiveKeyPattern.MatchString(k) {
				out.ToolParams[k] = redactedValue
				continue
			}
			out.ToolParams[k] = r.redactLeaf(v)
		}
	}

	out.MessageContent = r.redactString(ctx.MessageContent)
	if len(out.MessageContent) > messageTruncateLen {
		out.MessageContent = out.MessageContent[:messageTruncateLen] + " " + truncatedSuffix
	}

	if len(ctx.History) > 0 {
		hist := make([]string, len(ctx.History))
		for i, h := range ctx.History {
			hist[i] = r.redactString(h)
		}
		out.History = hist
	}

	if len(ctx.Metadata) > 0 {
		md := make(map[string]string, len(ctx.Metadata))
		for k, v := range ctx.Metadata {
			md[k] = r.redactString(v)
		}
		out.Metadata = md
	}

	return out
}

// redactLeaf applies user regex redaction to string leaves; non-string
// values pass through unchanged (the fixed key-pattern scan above already
// covers map[string]any tool params by key).
func (r *Redactor) redactLeaf(v any) any {
	if s, ok := v.(string); ok {
		return r.redactString(s)
	}
	return v
}

// redactString applies every configured user pattern, replacing matches
// with the literal redaction marker.
func (r *Redactor) redactString(s string) string {
	if s == "" {
		return s
	}
	for _, re := range r.UserPatterns {
		s = re.ReplaceAllString(s, redactedValue)
	}
	return s
}
