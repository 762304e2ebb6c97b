package store

import "time"

type Role string

const (
	RoleHost     Role = "HOST"
	RoleVoter    Role = "VOTER"
	RoleObserver Role = "OBSERVER"
)

func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleHost, RoleVoter, RoleObserver:
		return Role(s), true
	default:
		return "", false
	}
}

type ConnectionState string

const (
	StateConnected         ConnectionState = "connected"
	StateDisconnectedGrace ConnectionState = "disconnected-grace"
	StateLeft              ConnectionState = "left"
)

type RoundState string

const (
	RoundOpen     RoundState = "open"
	RoundRevealed RoundState = "revealed"
	RoundVoid     RoundState = "void"
)

// Room is created by the room-management surface; during a session the
// engine only reads it, except for LastActiveAt.
type Room struct {
	ID              string `gorm:"primaryKey;size:12"`
	Title           string
	Privacy         string
	DeckType        string
	DeckValues      []string `gorm:"serializer:json"`
	TimerSeconds    int
	AutoReveal      bool
	MaxParticipants int
	CreatedAt       time.Time
	LastActiveAt    time.Time
}

// Participant is the durable projection of a seat: one row per
// (room, identity) pair, reactivated on rejoin rather than duplicated.
type Participant struct {
	ID          string `gorm:"primaryKey;size:36"`
	RoomID      string `gorm:"size:12;uniqueIndex:idx_room_identity"`
	IdentityID  string `gorm:"size:64;uniqueIndex:idx_room_identity"`
	DisplayName string
	AvatarURL   string
	Role        Role            `gorm:"size:16"`
	State       ConnectionState `gorm:"size:24"`
	JoinedAt    time.Time
}

// Round rows are append-only per room; exactly one may be open at a time.
type Round struct {
	ID           string `gorm:"primaryKey;size:36"`
	RoomID       string `gorm:"size:12;index"`
	Number       int
	StoryTitle   string
	TimerSeconds int
	State        RoundState `gorm:"size:16;index"`
	StartedAt    time.Time
	RevealedAt   *time.Time
}

// Vote is unique per (round, participant); recasting overwrites CardValue
// but keeps CastAt, preserving first-cast ordering for the mode tie rule.
type Vote struct {
	ID            string `gorm:"primaryKey;size:36"`
	RoundID       string `gorm:"size:36;uniqueIndex:idx_round_participant"`
	ParticipantID string `gorm:"size:36;uniqueIndex:idx_round_participant"`
	CardValue     string `gorm:"size:32"`
	CastAt        time.Time
	UpdatedAt     time.Time
}
