// Package protocol defines the messages exchanged with the chat-protocol
// client. Inbound events describe what users sent; outbound directives tell
// the client what to do about it. Both are JSON with a type discriminator.
package protocol

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Event kinds and segment types
// ---------------------------------------------------------------------------

// Inbound event kinds.
const (
	KindGroupMessage   = "group_message"
	KindPrivateMessage = "private_message"
)

// Segment types.
const (
	SegmentText  = "text"
	SegmentImage = "image"
)

// Directive types.
const (
	TypeDeleteMessage = "delete_message"
	TypeKickUser      = "kick_user"
	TypeSendReply     = "send_reply"
)

// ---------------------------------------------------------------------------
// Inbound events
// ---------------------------------------------------------------------------

// SegmentData carries the fields of a segment the bot reads. Other fields
// sent by the client are ignored.
type SegmentData struct {
	Text string `json:"text,omitempty"`
	URL  string `json:"url,omitempty"`
	File string `json:"file,omitempty"`
}

// Segment is one part of a message.
type Segment struct {
	Type string      `json:"type"`
	Data SegmentData `json:"data"`
}

// Event is a message received by the bot.
type Event struct {
	Kind      string    `json:"kind"`
	GroupID   string    `json:"group_id,omitempty"`
	UserID    string    `json:"user_id"`
	MessageID string    `json:"message_id"`
	RawText   string    `json:"raw_text,omitempty"`
	Segments  []Segment `json:"segments"`
}

// Text returns the raw text of the event, or its text segments joined
// without separator when no raw text was sent.
func (e Event) Text() string {
	if e.RawText != "" {
		return e.RawText
	}
	var b strings.Builder
	for _, s := range e.Segments {
		if s.Type == SegmentText {
			b.WriteString(s.Data.Text)
		}
	}
	return b.String()
}

// Image returns the reference of the first image segment. The URL is
// preferred over the file field.
func (e Event) Image() (string, bool) {
	for _, s := range e.Segments {
		if s.Type != SegmentImage {
			continue
		}
		if s.Data.URL != "" {
			return s.Data.URL, true
		}
		if s.Data.File != "" {
			return s.Data.File, true
		}
	}
	return "", false
}

// HasImage reports whether the event carries an image segment.
func (e Event) HasImage() bool {
	_, ok := e.Image()
	return ok
}

// ParseEvent decodes and validates an inbound event.
func ParseEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("protocol: failed to parse event: %w", err)
	}

	switch ev.Kind {
	case KindGroupMessage:
		if ev.GroupID == "" {
			return Event{}, fmt.Errorf("protocol: group message without group_id")
		}
	case KindPrivateMessage:
	case "":
		return Event{}, fmt.Errorf("protocol: missing or empty \"kind\" field")
	default:
		return Event{}, fmt.Errorf("protocol: unknown event kind: %q", ev.Kind)
	}
	if ev.UserID == "" {
		return Event{}, fmt.Errorf("protocol: event without user_id")
	}
	return ev, nil
}

// ---------------------------------------------------------------------------
// Outbound directives
// ---------------------------------------------------------------------------

// Directive is an action for the chat-protocol client to carry out. Only the
// fields of its type are set.
type Directive struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	MessageID string `json:"message_id,omitempty"`
	GroupID   string `json:"group_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	Text      string `json:"text,omitempty"`
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// DeleteMessage asks the client to recall a group message.
func DeleteMessage(messageID string) Directive {
	return Directive{ID: newID(), Type: TypeDeleteMessage, MessageID: messageID}
}

// KickUser asks the client to remove a user from a group.
func KickUser(groupID, userID string) Directive {
	return Directive{ID: newID(), Type: TypeKickUser, GroupID: groupID, UserID: userID}
}

// SendReply asks the client to send a private message.
func SendReply(userID, text string) Directive {
	return Directive{ID: newID(), Type: TypeSendReply, UserID: userID, Text: text}
}

// Encode marshals the directive.
func (d Directive) Encode() ([]byte, error) {
	out, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal directive: %w", err)
	}
	return out, nil
}

// ParseDirective decodes a directive and checks that the fields its type
// needs are present.
func ParseDirective(data []byte) (Directive, error) {
	var d Directive
	if err := json.Unmarshal(data, &d); err != nil {
		return Directive{}, fmt.Errorf("protocol: failed to parse directive: %w", err)
	}

	var missing string
	switch d.Type {
	case TypeDeleteMessage:
		if d.MessageID == "" {
			missing = "message_id"
		}
	case TypeKickUser:
		if d.GroupID == "" {
			missing = "group_id"
		} else if d.UserID == "" {
			missing = "user_id"
		}
	case TypeSendReply:
		if d.UserID == "" {
			missing = "user_id"
		}
	case "":
		return Directive{}, fmt.Errorf("protocol: missing or empty \"type\" field")
	default:
		return Directive{}, fmt.Errorf("protocol: unknown directive type: %q", d.Type)
	}
	if missing != "" {
		return Directive{}, fmt.Errorf("protocol: %s directive without %s", d.Type, missing)
	}
	return d, nil
}
