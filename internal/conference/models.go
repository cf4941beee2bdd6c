package conference

import "time"

// Conference groups two or more call legs. Participants cannot exist without
// their parent conference: the reconciler upserts the conference first, then
// attaches the participant, because join/start ordering from the provider is
// not guaranteed.

type Conference struct {
	ID          string `json:"id" db:"id"`
	WorkspaceID string `json:"workspace_id" db:"workspace_id"`

	// ProviderConferenceID is the provider's identifier (e.g. Twilio ConferenceSid).
	// Empty for conferences created locally by a merge until the provider reports in.
	ProviderConferenceID string `json:"provider_conference_id,omitempty" db:"provider_conference_id"`

	FriendlyName string `json:"friendly_name" db:"friendly_name"`

	State State `json:"state" db:"state"`

	StartedAt *time.Time `json:"started_at,omitempty" db:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`

	// Participants is hydrated on reads; not a stored column.
	Participants []Participant `json:"participants,omitempty" db:"-"`
}

type Participant struct {
	ID           string `json:"id" db:"id"`
	ConferenceID string `json:"conference_id" db:"conference_id"`

	// CallSID links the participant to its call leg at the provider.
	CallSID        string `json:"call_sid" db:"call_sid"`
	ParticipantSID string `json:"participant_sid" db:"participant_sid"`

	Muted  bool `json:"muted" db:"muted"`
	OnHold bool `json:"on_hold" db:"on_hold"`

	JoinedAt time.Time  `json:"joined_at" db:"joined_at"`
	LeftAt   *time.Time `json:"left_at,omitempty" db:"left_at"`
}

type State string

const (
	StateCreated    State = "created"
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
)

// Provider conference callback events. The lifecycle pair drives the
// conference state; the membership pair drives participant rows.
const (
	EventStart            = "conference-start"
	EventEnd              = "conference-end"
	EventParticipantJoin  = "participant-join"
	EventParticipantLeave = "participant-leave"
)

// KnownEvent reports whether the reported callback event is one the reconciler
// understands. Unknown events are recorded in the dedupe ledger but change no
// entity state.
func KnownEvent(event string) bool {
	switch event {
	case EventStart, EventEnd, EventParticipantJoin, EventParticipantLeave:
		return true
	default:
		return false
	}
}
