package actions

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Kind enumerates the provider-facing action kinds. The set is closed: the
// policy engine, the approval resolver, and the orchestrator all dispatch on it
// exhaustively, so adding a kind means touching each switch.
type Kind string

const (
	KindCallDial        Kind = "call.dial"
	KindSmsSend         Kind = "sms.send"
	KindConferenceMerge Kind = "conference.merge"
	KindCallHangup      Kind = "call.hangup"
)

// Kinds returns all known action kinds.
func Kinds() []Kind {
	return []Kind{KindCallDial, KindSmsSend, KindConferenceMerge, KindCallHangup}
}

// ParseKind validates a client-supplied action kind string.
func ParseKind(v string) (Kind, error) {
	k := Kind(v)
	switch k {
	case KindCallDial, KindSmsSend, KindConferenceMerge, KindCallHangup:
		return k, nil
	default:
		return "", fmt.Errorf("actions: unknown action kind %q", v)
	}
}

var e164 = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// ValidE164 reports whether s is an E.164 phone number.
func ValidE164(s string) bool { return e164.MatchString(s) }

const maxSmsBodyLen = 1600

var ErrInvalidParams = errors.New("actions: invalid params")

// DialParams is the payload for call.dial.
type DialParams struct {
	To   string `json:"to"`
	From string `json:"from,omitempty"`

	Record       bool   `json:"record,omitempty"`
	IntroMessage string `json:"intro_message,omitempty"`
}

func (p DialParams) Validate() error {
	if !ValidE164(p.To) {
		return fmt.Errorf("%w: to must be E.164", ErrInvalidParams)
	}
	if p.From != "" && !ValidE164(p.From) {
		return fmt.Errorf("%w: from must be E.164", ErrInvalidParams)
	}
	return nil
}

// SmsParams is the payload for sms.send.
type SmsParams struct {
	To   string `json:"to"`
	Body string `json:"body"`
	From string `json:"from,omitempty"`
}

func (p SmsParams) Validate() error {
	if !ValidE164(p.To) {
		return fmt.Errorf("%w: to must be E.164", ErrInvalidParams)
	}
	if p.Body == "" {
		return fmt.Errorf("%w: body is required", ErrInvalidParams)
	}
	if len(p.Body) > maxSmsBodyLen {
		return fmt.Errorf("%w: body exceeds %d characters", ErrInvalidParams, maxSmsBodyLen)
	}
	if p.From != "" && !ValidE164(p.From) {
		return fmt.Errorf("%w: from must be E.164", ErrInvalidParams)
	}
	return nil
}

// MergeParams is the payload for conference.merge.
type MergeParams struct {
	CallSIDA string `json:"call_sid_a"`
	CallSIDB string `json:"call_sid_b"`

	FriendlyName string `json:"friendly_name,omitempty"`
}

func (p MergeParams) Validate() error {
	if !validCallSID(p.CallSIDA) || !validCallSID(p.CallSIDB) {
		return fmt.Errorf("%w: call_sid_a and call_sid_b must be call SIDs", ErrInvalidParams)
	}
	if p.CallSIDA == p.CallSIDB {
		return fmt.Errorf("%w: cannot merge a call with itself", ErrInvalidParams)
	}
	return nil
}

// HangupParams is the payload for call.hangup.
type HangupParams struct {
	CallSID string `json:"call_sid"`
}

func (p HangupParams) Validate() error {
	if !validCallSID(p.CallSID) {
		return fmt.Errorf("%w: call_sid must be a call SID", ErrInvalidParams)
	}
	return nil
}

func validCallSID(s string) bool {
	return strings.HasPrefix(s, "CA") && len(s) > 2
}

// EncodePayload serializes typed params for approval storage. The resulting
// bytes are immutable once attached to an approval and are replayed verbatim
// when the approval is granted.
func EncodePayload(params any) (json.RawMessage, error) {
	b, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("actions: encode payload: %w", err)
	}
	return b, nil
}

// DecodeDial, DecodeSms, DecodeMerge and DecodeHangup rehydrate a stored
// approval payload into its typed form. Decoding is strict about the action
// kind owning the payload; the caller dispatches on Kind first.

func DecodeDial(raw json.RawMessage) (DialParams, error) {
	var p DialParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return DialParams{}, fmt.Errorf("actions: decode call.dial payload: %w", err)
	}
	return p, p.Validate()
}

func DecodeSms(raw json.RawMessage) (SmsParams, error) {
	var p SmsParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return SmsParams{}, fmt.Errorf("actions: decode sms.send payload: %w", err)
	}
	return p, p.Validate()
}

func DecodeMerge(raw json.RawMessage) (MergeParams, error) {
	var p MergeParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return MergeParams{}, fmt.Errorf("actions: decode conference.merge payload: %w", err)
	}
	return p, p.Validate()
}

func DecodeHangup(raw json.RawMessage) (HangupParams, error) {
	var p HangupParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return HangupParams{}, fmt.Errorf("actions: decode call.hangup payload: %w", err)
	}
	return p, p.Validate()
}
