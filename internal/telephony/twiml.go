package telephony

import (
	"bytes"
	"encoding/xml"
)

// Minimal TwiML builder. Only the verbs the control plane emits are modeled;
// no provider SDK dependency.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlSay struct {
	XMLName xml.Name `xml:"Say"`
	Voice   string   `xml:"voice,attr,omitempty"`
	Text    string   `xml:",chardata"`
}

type twimlPause struct {
	XMLName xml.Name `xml:"Pause"`
	Length  int      `xml:"length,attr,omitempty"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

type twimlDial struct {
	XMLName    xml.Name         `xml:"Dial"`
	Conference *twimlConference `xml:"Conference,omitempty"`
}

type twimlConference struct {
	StatusCallback      string `xml:"statusCallback,attr,omitempty"`
	StatusCallbackEvent string `xml:"statusCallbackEvent,attr,omitempty"`
	EndConferenceOnExit bool   `xml:"endConferenceOnExit,attr"`
	Name                string `xml:",chardata"`
}

func renderTwiML(verbs ...any) (string, error) {
	r := twimlResponse{Verbs: verbs}
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const defaultVoice = "alice"

// OutboundIntroTwiML is served to an answered outbound call: speak the intro
// and keep the line open so a human can take over or a redirect can follow.
func OutboundIntroTwiML(intro string) (string, error) {
	if intro == "" {
		intro = "You are connected."
	}
	return renderTwiML(
		twimlSay{Voice: defaultVoice, Text: intro},
		twimlPause{Length: 60},
	)
}

// ConferenceTwiML pulls a redirected call leg into the named conference.
// endConferenceOnExit tears the conference down when either merged leg drops.
func ConferenceTwiML(name, statusCallbackURL string) (string, error) {
	return renderTwiML(twimlDial{Conference: &twimlConference{
		Name:                name,
		StatusCallback:      statusCallbackURL,
		StatusCallbackEvent: "start end join leave",
		EndConferenceOnExit: true,
	}})
}

// InboundGreetingTwiML answers an inbound call not claimed by any flow.
func InboundGreetingTwiML() (string, error) {
	return renderTwiML(
		twimlSay{Voice: defaultVoice, Text: "Thank you for calling. Please hold."},
		twimlPause{Length: 30},
		twimlHangup{},
	)
}
