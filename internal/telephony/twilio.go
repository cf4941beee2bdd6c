package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const twilioAPIBase = "https://api.twilio.com/2010-04-01"

// Twilio talks to the Twilio REST API directly over net/http.
// Requests are form-encoded POSTs with HTTP basic auth, per the 2010-04-01 API.
type Twilio struct {
	accountSID string
	authToken  string

	baseURL    string
	httpClient *http.Client
}

type TwilioOption func(*Twilio)

// WithBaseURL points the client at a different API host; tests use an
// httptest server.
func WithBaseURL(base string) TwilioOption {
	return func(t *Twilio) { t.baseURL = strings.TrimRight(base, "/") }
}

func WithHTTPClient(c *http.Client) TwilioOption {
	return func(t *Twilio) { t.httpClient = c }
}

func NewTwilio(accountSID, authToken string, opts ...TwilioOption) *Twilio {
	t := &Twilio{
		accountSID: accountSID,
		authToken:  authToken,
		baseURL:    twilioAPIBase,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

var _ Client = (*Twilio)(nil)

func (t *Twilio) PlaceCall(ctx context.Context, p CallParams) (CallResult, error) {
	form := url.Values{}
	form.Set("From", p.From)
	form.Set("To", p.To)
	form.Set("Url", p.TwiMLURL)
	if p.StatusCallbackURL != "" {
		form.Set("StatusCallback", p.StatusCallbackURL)
		form.Set("StatusCallbackEvent", "initiated ringing answered completed")
	}
	if p.Record {
		form.Set("Record", "true")
	}

	var resp struct {
		Sid    string `json:"sid"`
		Status string `json:"status"`
	}
	if err := t.post(ctx, "/Calls.json", form, &resp); err != nil {
		return CallResult{}, err
	}
	return CallResult{CallSID: resp.Sid, Status: resp.Status}, nil
}

func (t *Twilio) SendMessage(ctx context.Context, p MessageParams) (MessageResult, error) {
	form := url.Values{}
	form.Set("From", p.From)
	form.Set("To", p.To)
	form.Set("Body", p.Body)
	if p.StatusCallbackURL != "" {
		form.Set("StatusCallback", p.StatusCallbackURL)
	}

	var resp struct {
		Sid    string `json:"sid"`
		Status string `json:"status"`
	}
	if err := t.post(ctx, "/Messages.json", form, &resp); err != nil {
		return MessageResult{}, err
	}
	return MessageResult{MessageSID: resp.Sid, Status: resp.Status}, nil
}

func (t *Twilio) RedirectCall(ctx context.Context, callSID, twimlURL string) error {
	form := url.Values{}
	form.Set("Url", twimlURL)
	form.Set("Method", "POST")
	return t.post(ctx, "/Calls/"+url.PathEscape(callSID)+".json", form, nil)
}

func (t *Twilio) TerminateCall(ctx context.Context, callSID string) error {
	form := url.Values{}
	form.Set("Status", "completed")
	return t.post(ctx, "/Calls/"+url.PathEscape(callSID)+".json", form, nil)
}

func (t *Twilio) post(ctx context.Context, path string, form url.Values, out any) error {
	endpoint := t.baseURL + "/Accounts/" + url.PathEscape(t.accountSID) + path

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("telephony: build request: %w", err)
	}
	req.SetBasicAuth(t.accountSID, t.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telephony: %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("telephony: read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseProviderError(resp.StatusCode, body)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("telephony: decode response: %w", err)
	}
	return nil
}

func parseProviderError(httpStatus int, body []byte) error {
	var e struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &e); err != nil || e.Message == "" {
		msg := strings.TrimSpace(string(body))
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return &ProviderError{HTTPStatus: httpStatus, Message: msg}
	}
	return &ProviderError{HTTPStatus: httpStatus, Code: e.Code, Message: e.Message}
}
