// Package telephony is the provider adapter boundary. It owns the outbound
// REST client, TwiML rendering and webhook parsing; no business logic lives
// here.
package telephony

import (
	"context"
	"fmt"
)

// Client is the outbound provider surface the orchestrator executes against.
// Implementations are resolved per workspace from its provider credentials;
// there is no process-global client.
type Client interface {
	PlaceCall(ctx context.Context, p CallParams) (CallResult, error)
	SendMessage(ctx context.Context, p MessageParams) (MessageResult, error)

	// RedirectCall points an in-flight call at new TwiML. Used by merge to pull
	// both legs into a conference.
	RedirectCall(ctx context.Context, callSID, twimlURL string) error

	// TerminateCall asks the provider to complete the call immediately.
	TerminateCall(ctx context.Context, callSID string) error
}

// CallParams describes one outbound call attempt.
type CallParams struct {
	From string
	To   string

	// TwiMLURL is fetched by the provider when the callee answers.
	TwiMLURL string

	// StatusCallbackURL receives lifecycle webhooks for the call.
	StatusCallbackURL string

	Record bool
}

// CallResult is the provider's acceptance of a call attempt.
type CallResult struct {
	CallSID string
	Status  string
}

// MessageParams describes one outbound SMS.
type MessageParams struct {
	From string
	To   string
	Body string

	StatusCallbackURL string
}

// MessageResult is the provider's acceptance of a message.
type MessageResult struct {
	MessageSID string
	Status     string
}

// ProviderError is a structured rejection from the provider API. The message
// is surfaced to the caller and recorded on the failed local row.
type ProviderError struct {
	HTTPStatus int
	Code       int
	Message    string
}

func (e *ProviderError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("telephony: provider error %d (http %d): %s", e.Code, e.HTTPStatus, e.Message)
	}
	return fmt.Sprintf("telephony: provider error (http %d): %s", e.HTTPStatus, e.Message)
}
