// Package models provides the wire and persistence types shared across the
// Run Engine: messages, tool calls, run state snapshots, and approval
// entries. Types here are plain data — transformation logic lives with the
// packages that own the invariants (internal/engine, internal/approval).
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// ContentPartType discriminates the kind of content carried by a ContentPart.
type ContentPartType string

const (
	ContentText     ContentPartType = "text"
	ContentImageRef ContentPartType = "image"
	ContentFileRef  ContentPartType = "file"
)

// MaxInlineDataSize bounds base64-inlined content part payloads (10 MiB).
const MaxInlineDataSize = 10 << 20

// MaxFilenameLength bounds sanitized filenames carried on content parts and attachments.
const MaxFilenameLength = 255

// allowedRefSchemes lists URL schemes a ContentPart reference may use.
var allowedRefSchemes = map[string]bool{
	"http":  true,
	"https": true,
	"data":  true,
}

// ContentPart is one element of a Message's composite content. Exactly one
// of Text, URL, or Data is meaningful, selected by Type.
type ContentPart struct {
	Type ContentPartType `json:"type"`

	// Text holds the literal text for ContentText parts.
	Text string `json:"text,omitempty"`

	// URL holds a reference for ContentImageRef/ContentFileRef parts. Scheme
	// must be one of http, https, or data.
	URL string `json:"url,omitempty"`

	// Data holds inline base64-encoded bytes, bounded by MaxInlineDataSize,
	// used when URL is empty.
	Data string `json:"data,omitempty"`

	// MimeType describes Data or the resource at URL.
	MimeType string `json:"mime_type,omitempty"`

	// Filename is sanitized: no path separators, no control characters,
	// length bounded by MaxFilenameLength.
	Filename string `json:"filename,omitempty"`
}

// Validate checks a content part's structural invariants (§4.1).
func (p ContentPart) Validate() error {
	switch p.Type {
	case ContentText:
		return nil
	case ContentImageRef, ContentFileRef:
		if p.URL == "" && p.Data == "" {
			return fmt.Errorf("content part %s: requires url or inline data", p.Type)
		}
		if p.URL != "" {
			scheme := schemeOf(p.URL)
			if !allowedRefSchemes[scheme] {
				return fmt.Errorf("content part %s: disallowed url scheme %q", p.Type, scheme)
			}
		}
		if p.Data != "" && len(p.Data) > MaxInlineDataSize {
			return fmt.Errorf("content part %s: inline data exceeds %d bytes", p.Type, MaxInlineDataSize)
		}
		if err := validateFilename(p.Filename); err != nil {
			return fmt.Errorf("content part %s: %w", p.Type, err)
		}
		return nil
	default:
		return fmt.Errorf("content part: unknown type %q", p.Type)
	}
}

func schemeOf(url string) string {
	for i := 0; i < len(url); i++ {
		switch url[i] {
		case ':':
			return url[:i]
		case '/', '?', '#':
			return ""
		}
	}
	return ""
}

func validateFilename(name string) error {
	if name == "" {
		return nil
	}
	if len(name) > MaxFilenameLength {
		return fmt.Errorf("filename exceeds %d characters", MaxFilenameLength)
	}
	for _, r := range name {
		if r == '/' || r == '\\' {
			return fmt.Errorf("filename must not contain path separators")
		}
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("filename must not contain control characters")
		}
	}
	return nil
}

// Attachment represents a file or media reference carried alongside a
// message, independent of any inline content parts.
type Attachment struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	URL      string `json:"url,omitempty"`
	Data     string `json:"data,omitempty"`
	Filename string `json:"filename,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// Message is a single turn entry: a tagged record variant over Role.
// Content may be a bare string (Text) or an ordered sequence of ContentParts;
// exactly the representation the producer used is preserved.
type Message struct {
	ID          string         `json:"id"`
	Role        Role           `json:"role"`
	Content     string         `json:"content,omitempty"`
	Parts       []ContentPart  `json:"parts,omitempty"`
	ToolCalls   []ToolCall     `json:"tool_calls,omitempty"`
	ToolCallID  string         `json:"tool_call_id,omitempty"`
	Attachments []Attachment   `json:"attachments,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// NewUserMessage constructs a user-role message from plain text.
func NewUserMessage(text string) Message {
	return Message{Role: RoleUser, Content: text, CreatedAt: time.Now()}
}

// NewSystemMessage constructs a system-role message.
func NewSystemMessage(text string) Message {
	return Message{Role: RoleSystem, Content: text, CreatedAt: time.Now()}
}

// NewAssistantMessage constructs an assistant-role message, optionally
// carrying tool calls. Per (I5), an assistant message with tool calls
// ends the turn's text phase.
func NewAssistantMessage(text string, toolCalls []ToolCall) Message {
	return Message{Role: RoleAssistant, Content: text, ToolCalls: toolCalls, CreatedAt: time.Now()}
}

// NewToolMessage constructs a tool-role message answering a specific
// ToolCall id. Per (I1), toolCallID must match a tool_calls entry of an
// earlier assistant message.
func NewToolMessage(toolCallID, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: toolCallID, CreatedAt: time.Now()}
}

// Validate checks role/field combinations a constructor would not otherwise
// catch — used when messages are deserialized from persistence or the wire.
func (m Message) Validate() error {
	switch m.Role {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
	default:
		return fmt.Errorf("message: unknown role %q", m.Role)
	}
	if m.Role == RoleTool && m.ToolCallID == "" {
		return fmt.Errorf("message: tool role requires tool_call_id")
	}
	if m.Role != RoleAssistant && len(m.ToolCalls) > 0 {
		return fmt.Errorf("message: tool_calls only valid on assistant role")
	}
	for i, p := range m.Parts {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("message: part %d: %w", i, err)
		}
	}
	return nil
}

// GetTextContent returns the concatenation of text parts when Content is
// composite (Parts is non-empty), or the bare Content string otherwise.
func GetTextContent(m Message) string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	text := m.Content
	for _, p := range m.Parts {
		if p.Type == ContentText {
			text += p.Text
		}
	}
	return text
}

// ToolCall represents a model's request to execute a tool. Id is
// provider-assigned per assistant message and is not stable across
// re-emissions; Signature is the stable correlation key.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Signature returns a deterministic hash of (name, canonically-sorted
// arguments), used to correlate approval decisions across id regenerations
// (see internal/approval.Rehydrate).
func (t ToolCall) Signature() string {
	canon := canonicalizeJSON(t.Arguments)
	sum := sha256.Sum256([]byte(t.Name + "\x00" + canon))
	return hex.EncodeToString(sum[:])
}

// canonicalizeJSON re-encodes a JSON object with keys sorted, so that
// semantically identical arguments with differing key order or whitespace
// hash identically. Invalid or non-object input is returned unchanged.
func canonicalizeJSON(raw string) string {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	out, err := json.Marshal(canonicalizeValue(v))
	if err != nil {
		return raw
	}
	return string(out)
}

func canonicalizeValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ordered := make(orderedObject, 0, len(keys))
		for _, k := range keys {
			ordered = append(ordered, orderedField{k, canonicalizeValue(t[k])})
		}
		return ordered
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = canonicalizeValue(e)
		}
		return out
	default:
		return v
	}
}

// orderedObject/orderedField marshal a map with a fixed key order, since
// encoding/json always sorts map[string]any keys identically anyway — this
// exists to make the sort order explicit and independent of that detail.
type orderedField struct {
	key   string
	value any
}

type orderedObject []orderedField

func (o orderedObject) MarshalJSON() ([]byte, error) {
	buf := []byte{'{'}
	for i, f := range o {
		if i > 0 {
			buf = append(buf, ',')
		}
		k, err := json.Marshal(f.key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(f.value)
		if err != nil {
			return nil, err
		}
		buf = append(buf, k...)
		buf = append(buf, ':')
		buf = append(buf, v...)
	}
	return append(buf, '}'), nil
}

// ApprovalStatus is the decision state of a tool call requiring approval.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// ApprovalEntry is a persisted or in-run decision about a specific tool
// call, keyed by id and/or signature (§4.3).
type ApprovalEntry struct {
	Status            ApprovalStatus `json:"status"`
	ToolName          string         `json:"tool_name,omitempty"`
	Signature         string         `json:"signature,omitempty"`
	AdditionalContext map[string]any `json:"additional_context,omitempty"`
	Timestamp         time.Time      `json:"timestamp"`
}

// RunState is an immutable snapshot of a Run Engine invocation. Every
// transformation in internal/engine produces a new value; RunState itself
// never mutates in place.
type RunState struct {
	RunID            string                   `json:"run_id"`
	TraceID          string                   `json:"trace_id"`
	ConversationID   string                   `json:"conversation_id"`
	CurrentAgentName string                   `json:"current_agent_name"`
	Messages         []Message                `json:"messages"`
	Context          any                      `json:"-"`
	TurnCount        int                      `json:"turn_count"`
	Approvals        map[string]ApprovalEntry `json:"approvals,omitempty"`
}

// ConversationRecord is the persisted form of a conversation: its message
// log plus bookkeeping metadata. metadata["toolApprovals"] carries
// ApprovalEntry values keyed by "sessionId:toolCallId" (§3).
type ConversationRecord struct {
	ID       string         `json:"id"`
	Messages []Message      `json:"messages"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ToolApprovalsMetadataKey is the ConversationRecord.Metadata key under
// which persisted ApprovalEntry values are stored.
const ToolApprovalsMetadataKey = "toolApprovals"
