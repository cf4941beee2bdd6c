package telephony

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"telecom-control-plane/internal/reconcile"
)

// Webhook parsing. Twilio delivers application/x-www-form-urlencoded POSTs;
// each parser extracts the subset of fields the reconciler consumes and keeps
// the full form as the raw payload.

var errMissingSid = errors.New("telephony: webhook missing provider sid")

// ParseVoiceEvent maps a voice status callback to a reconcile event.
// WorkspaceID is left empty; the handler resolves the tenant.
func ParseVoiceEvent(r *http.Request) (reconcile.Event, error) {
	if err := r.ParseForm(); err != nil {
		return reconcile.Event{}, err
	}
	sid := r.PostFormValue("CallSid")
	if sid == "" {
		return reconcile.Event{}, errMissingSid
	}
	return reconcile.Event{
		Provider:   "twilio",
		Category:   reconcile.CategoryVoice,
		ProviderID: sid,
		Status:     r.PostFormValue("CallStatus"),
		From:       strings.TrimSpace(r.PostFormValue("From")),
		To:         strings.TrimSpace(r.PostFormValue("To")),
		Raw:        encodeForm(r.PostForm),
	}, nil
}

// ParseSmsEvent maps both outbound status callbacks and inbound messages.
// An inbound message carries a Body and no status; it reconciles as received.
func ParseSmsEvent(r *http.Request) (reconcile.Event, error) {
	if err := r.ParseForm(); err != nil {
		return reconcile.Event{}, err
	}
	sid := r.PostFormValue("MessageSid")
	if sid == "" {
		sid = r.PostFormValue("SmsSid")
	}
	if sid == "" {
		return reconcile.Event{}, errMissingSid
	}

	status := r.PostFormValue("MessageStatus")
	if status == "" {
		status = r.PostFormValue("SmsStatus")
	}
	if status == "" {
		status = "received"
	}

	return reconcile.Event{
		Provider:   "twilio",
		Category:   reconcile.CategorySms,
		ProviderID: sid,
		Status:     status,
		From:       strings.TrimSpace(r.PostFormValue("From")),
		To:         strings.TrimSpace(r.PostFormValue("To")),
		Body:       r.PostFormValue("Body"),
		Raw:        encodeForm(r.PostForm),
	}, nil
}

// ParseConferenceEvent maps a conference status callback. The callback event
// name rides in the Status field; the reconciler dispatches on it.
func ParseConferenceEvent(r *http.Request) (reconcile.Event, error) {
	if err := r.ParseForm(); err != nil {
		return reconcile.Event{}, err
	}
	sid := r.PostFormValue("ConferenceSid")
	if sid == "" {
		return reconcile.Event{}, errMissingSid
	}
	return reconcile.Event{
		Provider:       "twilio",
		Category:       reconcile.CategoryConference,
		ProviderID:     sid,
		Status:         r.PostFormValue("StatusCallbackEvent"),
		FriendlyName:   r.PostFormValue("FriendlyName"),
		CallSID:        r.PostFormValue("CallSid"),
		ParticipantSID: r.PostFormValue("CallSid"),
		Muted:          r.PostFormValue("Muted") == "true",
		Hold:           r.PostFormValue("Hold") == "true",
		Raw:            encodeForm(r.PostForm),
	}, nil
}

func encodeForm(form url.Values) string {
	flat := make(map[string]string, len(form))
	for k, vs := range form {
		if len(vs) > 0 {
			flat[k] = vs[0]
		}
	}
	b, _ := json.Marshal(flat)
	return string(b)
}

// ValidSignature checks the X-Twilio-Signature header: base64 HMAC-SHA1 over
// the full request URL with the sorted form parameters appended key+value.
func ValidSignature(authToken, requestURL string, form url.Values, signature string) bool {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(requestURL)
	for _, k := range keys {
		b.WriteString(k)
		if len(form[k]) > 0 {
			b.WriteString(form[k][0])
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return subtle.ConstantTimeCompare([]byte(want), []byte(signature)) == 1
}
