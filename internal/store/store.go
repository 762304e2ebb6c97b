package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var ErrNotFound = errors.New("not found")

// Store wraps gorm access to rooms, participants, rounds and votes. Every
// operation runs under a bounded timeout so a stalled database surfaces as an
// error to the caller instead of hanging a per-connection worker.
type Store struct {
	db      *gorm.DB
	timeout time.Duration
}

func Connect(dsn string, timeout time.Duration) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("resolve sql db handle: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return New(db, timeout), nil
}

func New(db *gorm.DB, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Store{db: db, timeout: timeout}
}

func (s *Store) Migrate() error {
	return s.db.AutoMigrate(&Room{}, &Participant{}, &Round{}, &Vote{})
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// Rooms

func (s *Store) CreateRoom(ctx context.Context, room *Room) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	if err := s.db.WithContext(ctx).Create(room).Error; err != nil {
		return fmt.Errorf("create room: %w", err)
	}
	return nil
}

func (s *Store) GetRoom(ctx context.Context, roomID string) (*Room, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	var room Room
	err := s.db.WithContext(ctx).First(&room, "id = ?", roomID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get room %s: %w", roomID, err)
	}
	return &room, nil
}

func (s *Store) TouchRoom(ctx context.Context, roomID string, at time.Time) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	err := s.db.WithContext(ctx).Model(&Room{}).
		Where("id = ?", roomID).
		Update("last_active_at", at).Error
	if err != nil {
		return fmt.Errorf("touch room %s: %w", roomID, err)
	}
	return nil
}

// Participants

// UpsertParticipant reactivates the durable row for (room, identity) if one
// exists, refreshing the display name and avatar, or creates a new one.
func (s *Store) UpsertParticipant(ctx context.Context, roomID, identityID, displayName, avatarURL string, role Role, now time.Time) (*Participant, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var p Participant
	err := s.db.WithContext(ctx).
		First(&p, "room_id = ? AND identity_id = ?", roomID, identityID).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		p = Participant{
			ID:          uuid.NewString(),
			RoomID:      roomID,
			IdentityID:  identityID,
			DisplayName: displayName,
			AvatarURL:   avatarURL,
			Role:        role,
			State:       StateConnected,
			JoinedAt:    now,
		}
		if err := s.db.WithContext(ctx).Create(&p).Error; err != nil {
			return nil, fmt.Errorf("create participant: %w", err)
		}
		return &p, nil
	case err != nil:
		return nil, fmt.Errorf("lookup participant: %w", err)
	}

	p.DisplayName = displayName
	p.AvatarURL = avatarURL
	p.State = StateConnected
	err = s.db.WithContext(ctx).Model(&p).Updates(map[string]any{
		"display_name": displayName,
		"avatar_url":   avatarURL,
		"state":        StateConnected,
	}).Error
	if err != nil {
		return nil, fmt.Errorf("reactivate participant: %w", err)
	}
	return &p, nil
}

func (s *Store) GetParticipant(ctx context.Context, participantID string) (*Participant, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	var p Participant
	err := s.db.WithContext(ctx).First(&p, "id = ?", participantID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get participant %s: %w", participantID, err)
	}
	return &p, nil
}

// ActiveParticipants returns the room's participants that have not left,
// ordered by join time.
func (s *Store) ActiveParticipants(ctx context.Context, roomID string) ([]Participant, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	var out []Participant
	err := s.db.WithContext(ctx).
		Where("room_id = ? AND state <> ?", roomID, StateLeft).
		Order("joined_at asc").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list participants for %s: %w", roomID, err)
	}
	return out, nil
}

func (s *Store) SetParticipantState(ctx context.Context, participantID string, state ConnectionState) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	err := s.db.WithContext(ctx).Model(&Participant{}).
		Where("id = ?", participantID).
		Update("state", state).Error
	if err != nil {
		return fmt.Errorf("set participant %s state: %w", participantID, err)
	}
	return nil
}

// Rounds

// OpenRound returns the room's currently open round, or ErrNotFound.
func (s *Store) OpenRound(ctx context.Context, roomID string) (*Round, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	var round Round
	err := s.db.WithContext(ctx).
		First(&round, "room_id = ? AND state = ?", roomID, RoundOpen).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open round for %s: %w", roomID, err)
	}
	return &round, nil
}

// LatestRound returns the highest-numbered round in the room regardless of
// state, or ErrNotFound for a fresh room.
func (s *Store) LatestRound(ctx context.Context, roomID string) (*Round, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	var round Round
	err := s.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("number desc").
		First(&round).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest round for %s: %w", roomID, err)
	}
	return &round, nil
}

func (s *Store) CreateRound(ctx context.Context, round *Round) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	if err := s.db.WithContext(ctx).Create(round).Error; err != nil {
		return fmt.Errorf("create round: %w", err)
	}
	return nil
}

// MarkRevealed closes the round to writes by stamping RevealedAt, guarded on
// the row still being open. Reports false if another actor got there first.
func (s *Store) MarkRevealed(ctx context.Context, roundID string, at time.Time) (bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	res := s.db.WithContext(ctx).Model(&Round{}).
		Where("id = ? AND state = ?", roundID, RoundOpen).
		Updates(map[string]any{"state": RoundRevealed, "revealed_at": at})
	if res.Error != nil {
		return false, fmt.Errorf("mark round %s revealed: %w", roundID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) VoidRound(ctx context.Context, roundID string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	err := s.db.WithContext(ctx).Model(&Round{}).
		Where("id = ?", roundID).
		Update("state", RoundVoid).Error
	if err != nil {
		return fmt.Errorf("void round %s: %w", roundID, err)
	}
	return nil
}

// Votes

// SaveVote records a vote, overwriting the participant's previous value for
// the round if one exists. CastAt is preserved on overwrite.
func (s *Store) SaveVote(ctx context.Context, roundID, participantID, cardValue string, now time.Time) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	vote := Vote{
		ID:            uuid.NewString(),
		RoundID:       roundID,
		ParticipantID: participantID,
		CardValue:     cardValue,
		CastAt:        now,
		UpdatedAt:     now,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "round_id"}, {Name: "participant_id"}},
		DoUpdates: clause.Assignments(map[string]any{"card_value": cardValue, "updated_at": now}),
	}).Create(&vote).Error
	if err != nil {
		return fmt.Errorf("save vote: %w", err)
	}
	return nil
}

// VotesByRound returns the round's votes in first-cast order.
func (s *Store) VotesByRound(ctx context.Context, roundID string) ([]Vote, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	var out []Vote
	err := s.db.WithContext(ctx).
		Where("round_id = ?", roundID).
		Order("cast_at asc").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("votes for round %s: %w", roundID, err)
	}
	return out, nil
}

func (s *Store) DeleteVotes(ctx context.Context, roundID string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	err := s.db.WithContext(ctx).
		Where("round_id = ?", roundID).
		Delete(&Vote{}).Error
	if err != nil {
		return fmt.Errorf("delete votes for round %s: %w", roundID, err)
	}
	return nil
}
