package protocol

// Message type tags. The version suffix is part of the wire contract; a
// breaking payload change gets a new tag, not a changed struct.
const (
	// Client -> server
	TypeRoomJoin    = "room.join.v1"
	TypeRoomLeave   = "room.leave.v1"
	TypeVoteCast    = "vote.cast.v1"
	TypeRoundStart  = "round.start.v1"
	TypeRoundReveal = "round.reveal.v1"

	// Both directions (client request and the resulting broadcast)
	TypeRoundReset = "round.reset.v1"

	// Server -> client
	TypeRoomState               = "room.state.v1"
	TypeParticipantJoined       = "room.participant_joined.v1"
	TypeParticipantLeft         = "room.participant_left.v1"
	TypeParticipantDisconnected = "room.participant_disconnected.v1"
	TypeVoteRecorded            = "vote.recorded.v1"
	TypeRoundStarted            = "round.started.v1"
	TypeRoundRevealed           = "round.revealed.v1"
	TypeError                   = "error.v1"
)

// Leave reason tags carried in room.participant_left.v1.
const (
	ReasonUserInitiated = "user_initiated"
	ReasonTimeout       = "timeout"
	ReasonKicked        = "kicked"
)

// Client payloads.

type JoinPayload struct {
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
	LastEventID uint64 `json:"lastEventId,omitempty"`
}

type LeavePayload struct {
	Reason string `json:"reason,omitempty"`
}

type CastVotePayload struct {
	CardValue string `json:"cardValue"`
}

type StartRoundPayload struct {
	StoryTitle           string `json:"storyTitle,omitempty"`
	TimerDurationSeconds int    `json:"timerDurationSeconds,omitempty"`
}

type RevealRoundPayload struct{}

type ResetRoundPayload struct {
	// nil means true: a reset clears votes unless the client asks otherwise.
	ClearVotes *bool `json:"clearVotes,omitempty"`
}

// Server payloads. Every broadcast carries the room's monotonic event id so
// clients can detect gaps against the lastEventId they saw in room.state.v1.

type RoomConfig struct {
	DeckType             string   `json:"deckType"`
	DeckValues           []string `json:"deckValues"`
	TimerDurationSeconds int      `json:"timerDurationSeconds,omitempty"`
	AutoReveal           bool     `json:"autoReveal"`
	MaxParticipants      int      `json:"maxParticipants,omitempty"`
}

type ParticipantInfo struct {
	ParticipantID   string `json:"participantId"`
	DisplayName     string `json:"displayName"`
	Role            string `json:"role"`
	ConnectionState string `json:"connectionState"`
	HasVoted        bool   `json:"hasVoted"`
	AvatarURL       string `json:"avatarUrl,omitempty"`
}

type RoundInfo struct {
	RoundNumber          int    `json:"roundNumber"`
	StoryTitle           string `json:"storyTitle,omitempty"`
	StartedAt            string `json:"startedAt"`
	RevealedAt           string `json:"revealedAt,omitempty"`
	TimerDurationSeconds int    `json:"timerDurationSeconds,omitempty"`
}

type RoomStatePayload struct {
	RoomID       string            `json:"roomId"`
	Title        string            `json:"title"`
	Config       RoomConfig        `json:"config"`
	Participants []ParticipantInfo `json:"participants"`
	CurrentRound *RoundInfo        `json:"currentRound"`
	LastEventID  uint64            `json:"lastEventId"`
}

type ParticipantJoinedPayload struct {
	EventID     uint64          `json:"eventId"`
	Participant ParticipantInfo `json:"participant"`
}

type ParticipantLeftPayload struct {
	EventID       uint64 `json:"eventId"`
	ParticipantID string `json:"participantId"`
	Reason        string `json:"reason"`
}

type ParticipantDisconnectedPayload struct {
	EventID            uint64 `json:"eventId"`
	ParticipantID      string `json:"participantId"`
	GracePeriodSeconds int    `json:"gracePeriodSeconds"`
}

type VoteRecordedPayload struct {
	EventID       uint64 `json:"eventId"`
	ParticipantID string `json:"participantId"`
	HasVoted      bool   `json:"hasVoted"`
}

type RoundStartedPayload struct {
	EventID uint64    `json:"eventId"`
	Round   RoundInfo `json:"round"`
}

type RevealedVote struct {
	ParticipantID string `json:"participantId"`
	CardValue     string `json:"cardValue"`
}

type Statistics struct {
	Average          *float64       `json:"average"`
	Median           *float64       `json:"median"`
	Mode             string         `json:"mode"`
	ConsensusReached bool           `json:"consensusReached"`
	Distribution     map[string]int `json:"distribution"`
	TotalVotes       int            `json:"totalVotes"`
}

type RoundRevealedPayload struct {
	EventID     uint64         `json:"eventId"`
	RoundNumber int            `json:"roundNumber"`
	Votes       []RevealedVote `json:"votes"`
	Statistics  Statistics     `json:"statistics"`
}

type RoundResetPayload struct {
	EventID     uint64 `json:"eventId"`
	RoundNumber int    `json:"roundNumber"`
}

type ErrorPayload struct {
	Code      int    `json:"code"`
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}
