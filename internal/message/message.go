// Package message turns compose-form fields into the canonical send payload
// accepted by the gateway's POST /send/message.
package message

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxTextLength is the largest accepted message, in characters.
const MaxTextLength = 4096

// EveryoneMention is the mention token the gateway expands to all group
// participants.
const EveryoneMention = "@everyone"

var (
	ErrEmptyRecipient = errors.New("recipient is required")
	ErrEmptyMessage   = errors.New("message is required")
	ErrMessageTooLong = fmt.Errorf("message exceeds %d characters", MaxTextLength)
)

// ValidationError reports the form field that blocked a submission.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string { return e.Field + ": " + e.Err.Error() }

func (e *ValidationError) Unwrap() error { return e.Err }

// RecipientType selects the JID server appended to the recipient.
type RecipientType string

const (
	User       RecipientType = "user"
	Group      RecipientType = "group"
	Newsletter RecipientType = "newsletter"
	Status     RecipientType = "status"
)

// StatusRecipient is the fixed JID of the status broadcast list.
const StatusRecipient = "status@broadcast"

// Suffix returns the JID suffix for t.
func (t RecipientType) Suffix() string {
	switch t {
	case Group:
		return "@g.us"
	case Newsletter:
		return "@newsletter"
	case Status:
		return StatusRecipient
	default:
		return "@s.whatsapp.net"
	}
}

func (t RecipientType) Valid() bool {
	switch t {
	case User, Group, Newsletter, Status:
		return true
	}
	return false
}

// ParseRecipientType accepts a type name ("group") or its raw JID suffix
// ("@g.us"). Matching ignores case and surrounding space.
func ParseRecipientType(s string) (RecipientType, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	for _, t := range []RecipientType{User, Group, Newsletter, Status} {
		if v == string(t) || v == t.Suffix() {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown recipient type %q", s)
}

// Fields is what an operator enters on the compose form.
type Fields struct {
	Type            RecipientType
	Recipient       string
	Text            string
	IsForwarded     bool
	MentionEveryone bool
	ReplyMessageID  string
	DurationSeconds int
}

// SendRequest is the gateway payload. Optional members are omitted from JSON
// when unset. Build is the only constructor; treat values as immutable.
type SendRequest struct {
	RecipientID     string        `json:"phone"`
	Text            string        `json:"message"`
	IsForwarded     bool          `json:"is_forwarded"`
	ReplyMessageID  string        `json:"reply_message_id,omitempty"`
	DurationSeconds int           `json:"duration,omitempty"`
	Mentions        []string      `json:"mentions,omitempty"`
	MentionEveryone bool          `json:"-"`
	Type            RecipientType `json:"-"`
}

// IsStatus reports whether r targets the status broadcast list.
func (r SendRequest) IsStatus() bool { return r.Type == Status }

// Validate reports whether f can be submitted. It is the check behind an
// enabled submit button.
func Validate(f Fields) error {
	_, err := Build(f)
	return err
}

// Build validates f and produces the payload. It has no side effects and
// equal inputs give equal outputs.
func Build(f Fields) (SendRequest, error) {
	typ := f.Type
	if typ == "" {
		typ = User
	}
	if !typ.Valid() {
		return SendRequest{}, &ValidationError{Field: "type", Err: fmt.Errorf("unknown recipient type %q", f.Type)}
	}

	recipient := strings.TrimSpace(f.Recipient)
	if typ != Status && recipient == "" {
		return SendRequest{}, &ValidationError{Field: "recipient", Err: ErrEmptyRecipient}
	}

	text := strings.TrimSpace(f.Text)
	if text == "" {
		return SendRequest{}, &ValidationError{Field: "message", Err: ErrEmptyMessage}
	}
	if utf8.RuneCountInString(text) > MaxTextLength {
		return SendRequest{}, &ValidationError{Field: "message", Err: ErrMessageTooLong}
	}

	req := SendRequest{
		RecipientID:     recipientID(typ, recipient),
		Text:            text,
		IsForwarded:     f.IsForwarded,
		MentionEveryone: f.MentionEveryone,
		Type:            typ,
	}
	if id := strings.TrimSpace(f.ReplyMessageID); id != "" && typ != Status {
		req.ReplyMessageID = id
	}
	if f.DurationSeconds > 0 {
		req.DurationSeconds = f.DurationSeconds
	}
	if f.MentionEveryone && typ == Group {
		req.Mentions = []string{EveryoneMention}
	}
	return req, nil
}

// recipientID appends the type suffix unless the recipient already carries
// a JID server part.
func recipientID(typ RecipientType, recipient string) string {
	if typ == Status {
		return StatusRecipient
	}
	if strings.Contains(recipient, "@") {
		return recipient
	}
	return recipient + typ.Suffix()
}
