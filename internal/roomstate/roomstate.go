package roomstate

import (
	"context"
	"errors"
	"time"

	"planningpoker/internal/protocol"
	"planningpoker/internal/store"
)

// RoundInfo converts a durable round row to its wire shape.
func RoundInfo(r *store.Round) protocol.RoundInfo {
	info := protocol.RoundInfo{
		RoundNumber:          r.Number,
		StoryTitle:           r.StoryTitle,
		StartedAt:            r.StartedAt.UTC().Format(time.RFC3339),
		TimerDurationSeconds: r.TimerSeconds,
	}
	if r.RevealedAt != nil {
		info.RevealedAt = r.RevealedAt.UTC().Format(time.RFC3339)
	}
	return info
}

// Build assembles the room.state.v1 snapshot: config, the participant list
// with vote-cast flags (never values), current round metadata if one is open,
// and the room's event sequence so the client can detect missed events.
func Build(ctx context.Context, st *store.Store, room *store.Room, lastEventID uint64) (*protocol.RoomStatePayload, error) {
	participants, err := st.ActiveParticipants(ctx, room.ID)
	if err != nil {
		return nil, err
	}

	var currentRound *protocol.RoundInfo
	voted := make(map[string]bool)
	open, err := st.OpenRound(ctx, room.ID)
	switch {
	case err == nil:
		info := RoundInfo(open)
		currentRound = &info
		votes, err := st.VotesByRound(ctx, open.ID)
		if err != nil {
			return nil, err
		}
		for _, v := range votes {
			voted[v.ParticipantID] = true
		}
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	infos := make([]protocol.ParticipantInfo, 0, len(participants))
	for _, p := range participants {
		infos = append(infos, protocol.ParticipantInfo{
			ParticipantID:   p.ID,
			DisplayName:     p.DisplayName,
			Role:            string(p.Role),
			ConnectionState: string(p.State),
			HasVoted:        voted[p.ID],
			AvatarURL:       p.AvatarURL,
		})
	}

	return &protocol.RoomStatePayload{
		RoomID: room.ID,
		Title:  room.Title,
		Config: protocol.RoomConfig{
			DeckType:             room.DeckType,
			DeckValues:           room.DeckValues,
			TimerDurationSeconds: room.TimerSeconds,
			AutoReveal:           room.AutoReveal,
			MaxParticipants:      room.MaxParticipants,
		},
		Participants: infos,
		CurrentRound: currentRound,
		LastEventID:  lastEventID,
	}, nil
}
