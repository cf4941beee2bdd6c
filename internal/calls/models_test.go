package calls

import "testing"

func TestMapProviderStatus(t *testing.T) {
	cases := []struct {
		reported string
		want     State
		known    bool
	}{
		{"initiated", StateInitiated, true},
		{"queued", StateInitiated, true},
		{"ringing", StateRinging, true},
		{"in-progress", StateInProgress, true},
		{"answered", StateInProgress, true},
		{"completed", StateCompleted, true},
		{"busy", StateBusy, true},
		{"no-answer", StateNoAnswer, true},
		{"failed", StateFailed, true},
		{"canceled", StateCanceled, true},
		{"warp-speed", StateInitiated, false},
		{"", StateInitiated, false},
	}
	for _, tc := range cases {
		got, known := MapProviderStatus(tc.reported)
		if got != tc.want || known != tc.known {
			t.Fatalf("MapProviderStatus(%q) = (%q, %v), want (%q, %v)",
				tc.reported, got, known, tc.want, tc.known)
		}
	}
}

func TestTerminalDisjointFromActive(t *testing.T) {
	for _, s := range ActiveStates() {
		if s.Terminal() {
			t.Fatalf("state %q is both active and terminal", s)
		}
	}
	for _, s := range []State{StateCompleted, StateBusy, StateNoAnswer, StateFailed, StateCanceled} {
		if !s.Terminal() {
			t.Fatalf("state %q should be terminal", s)
		}
	}
}
