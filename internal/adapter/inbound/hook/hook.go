// Package hook translates a host gateway's raw hook payload into the
// immutable policy.EvaluationContext the engine evaluates, one builder
// shared across the four hook kinds: before_tool_call, message_sending,
// before_agent_start, and session_start.
package hook

import (
	"encoding/json"
	"fmt"

	"github.com/governed/governor/internal/domain/policy"
	"github.com/governed/governor/internal/domain/trust"
	"github.com/governed/governor/internal/util"
)

// Event is the wire shape a host gateway hands the engine for one hook
// dispatch: a superset of fields across all four hook kinds, with only the
// fields relevant to HookKind populated. Unknown JSON fields are ignored so
// a host can evolve its payload without breaking older engine builds.
type Event struct {
	Hook       policy.HookKind `json:"hook"`
	AgentID    string          `json:"agent_id"`
	SessionKey string          `json:"session_key"`
	Channel    string          `json:"channel,omitempty"`

	ToolName   string         `json:"tool_name,omitempty"`
	ToolParams map[string]any `json:"tool_params,omitempty"`

	MessageContent   string `json:"message_content,omitempty"`
	MessageAddressee string `json:"message_addressee,omitempty"`

	History  []string          `json:"history,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// DecodeEvent parses a host's JSON hook payload into an Event.
func DecodeEvent(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("decode hook event: %w", err)
	}
	if e.Hook == "" {
		return Event{}, fmt.Errorf("decode hook event: missing hook kind")
	}
	return e, nil
}

// defaultMaxHistoryMessages bounds the conversation history an
// EvaluationContext carries when the performance.maxContextMessages
// configuration knob is unset; the adapter applies the ceiling so the
// engine never sees an unbounded slice regardless of what a host sends.
const defaultMaxHistoryMessages = 20

// Builder translates Events into EvaluationContexts for one configured
// timezone and history ceiling. A Builder holds no per-call state and is
// safe for concurrent use across hook dispatches.
type Builder struct {
	Timezone           string
	MaxHistoryMessages int
}

// NewBuilder creates a Builder. A non-positive maxHistoryMessages falls
// back to a default of 20.
func NewBuilder(timezone string, maxHistoryMessages int) *Builder {
	if maxHistoryMessages <= 0 {
		maxHistoryMessages = defaultMaxHistoryMessages
	}
	return &Builder{Timezone: timezone, MaxHistoryMessages: maxHistoryMessages}
}

// Build converts one Event into an EvaluationContext. The trust snapshot
// is that of a fresh, unscored agent (score 0, untrusted); the engine orchestrator
// fills the trust snapshot from the trust manager and computes risk itself
// before evaluation, so the adapter's only job is the host-event surface.
func (b *Builder) Build(e Event) policy.EvaluationContext {
	history := e.History
	if len(history) > b.MaxHistoryMessages {
		history = history[len(history)-b.MaxHistoryMessages:]
	}

	return policy.EvaluationContext{
		Hook:             e.Hook,
		AgentID:          e.AgentID,
		SessionKey:       e.SessionKey,
		Channel:          e.Channel,
		ToolName:         e.ToolName,
		ToolParams:       e.ToolParams,
		MessageContent:   e.MessageContent,
		MessageAddressee: e.MessageAddressee,
		Time:             toPolicyTimeContext(util.CurrentTime(b.Timezone)),
		MonotonicUs:      util.NowUs(),
		Trust:            trust.AgentTrust{}.Snapshot(),
		History:          history,
		Metadata:         e.Metadata,
	}
}

// BeforeToolCall builds the context for a before_tool_call hook dispatch.
// toolName and params come from the host's pending tool invocation.
func (b *Builder) BeforeToolCall(agentID, sessionKey, channel, toolName string, params map[string]any) policy.EvaluationContext {
	return b.Build(Event{
		Hook: policy.HookBeforeToolCall, AgentID: agentID, SessionKey: sessionKey,
		Channel: channel, ToolName: toolName, ToolParams: params,
	})
}

// MessageSending builds the context for a message_sending hook dispatch.
func (b *Builder) MessageSending(agentID, sessionKey, channel, content, addressee string) policy.EvaluationContext {
	return b.Build(Event{
		Hook: policy.HookMessageSending, AgentID: agentID, SessionKey: sessionKey,
		Channel: channel, MessageContent: content, MessageAddressee: addressee,
	})
}

// BeforeAgentStart builds the context for a before_agent_start hook
// dispatch, fired before a (sub-)agent session begins doing anything.
func (b *Builder) BeforeAgentStart(agentID, sessionKey, channel string, metadata map[string]string) policy.EvaluationContext {
	return b.Build(Event{
		Hook: policy.HookBeforeAgentStart, AgentID: agentID, SessionKey: sessionKey,
		Channel: channel, Metadata: metadata,
	})
}

// SessionStart builds the context for a session_start hook dispatch.
func (b *Builder) SessionStart(agentID, sessionKey, channel string, metadata map[string]string) policy.EvaluationContext {
	return b.Build(Event{
		Hook: policy.HookSessionStart, AgentID: agentID, SessionKey: sessionKey,
		Channel: channel, Metadata: metadata,
	})
}

func toPolicyTimeContext(t util.TimeContext) policy.TimeContext {
	return policy.TimeContext{
		Hour:        t.Hour,
		Minute:      t.Minute,
		Weekday:     t.Weekday,
		Date:        t.Date,
		Zone:        t.Zone,
		MinuteOfDay: t.MinuteOfDay,
	}
}
