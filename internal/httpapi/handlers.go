package httpapi

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"time"

	"go.uber.org/zap"

	"planningpoker/internal/metrics"
	"planningpoker/internal/registry"
	"planningpoker/internal/store"
)

func GenerateCode() (string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	code := make([]byte, 6)
	for i := 0; i < 6; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}

type createRoomRequest struct {
	Title           string   `json:"title"`
	Privacy         string   `json:"privacy"`
	DeckType        string   `json:"deckType"`
	DeckValues      []string `json:"deckValues,omitempty"`
	TimerSeconds    int      `json:"timerDurationSeconds,omitempty"`
	AutoReveal      bool     `json:"autoReveal"`
	MaxParticipants int      `json:"maxParticipants,omitempty"`
}

// CreateRoom is the room-management surface: it persists the room and its
// deck/timer configuration; the session engine only reads it afterwards.
func CreateRoom(st *store.Store, m *metrics.Metrics, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createRoomRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.Title == "" {
			http.Error(w, "title is required", http.StatusBadRequest)
			return
		}
		if req.DeckType == "" {
			req.DeckType = store.DeckFibonacci
		}
		deck, ok := store.ResolveDeck(req.DeckType, req.DeckValues)
		if !ok {
			http.Error(w, "unknown deck type or empty custom deck", http.StatusBadRequest)
			return
		}
		if req.Privacy == "" {
			req.Privacy = "private"
		}

		var code string
		for {
			c, err := GenerateCode()
			if err != nil {
				http.Error(w, "failed to generate code", http.StatusInternalServerError)
				return
			}
			_, err = st.GetRoom(r.Context(), c)
			if errors.Is(err, store.ErrNotFound) {
				code = c
				break
			}
			if err != nil {
				http.Error(w, "storage unavailable", http.StatusInternalServerError)
				return
			}
			log.Info("room code collision, regenerating", zap.String("code", c))
		}

		now := time.Now()
		room := &store.Room{
			ID:              code,
			Title:           req.Title,
			Privacy:         req.Privacy,
			DeckType:        req.DeckType,
			DeckValues:      deck,
			TimerSeconds:    req.TimerSeconds,
			AutoReveal:      req.AutoReveal,
			MaxParticipants: req.MaxParticipants,
			CreatedAt:       now,
			LastActiveAt:    now,
		}
		if err := st.CreateRoom(r.Context(), room); err != nil {
			log.Error("create room failed", zap.Error(err))
			http.Error(w, "failed to create room", http.StatusInternalServerError)
			return
		}
		m.RoomsCreated.Add(1)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(struct {
			RoomID string `json:"roomId"`
		}{RoomID: code})
	}
}

// Stats exposes the business counters for the observability scraper.
func Stats(reg *registry.Registry, m *metrics.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshot := m.Snapshot()
		snapshot["active_connections"] = int64(reg.ConnectionCount())

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(snapshot)
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
