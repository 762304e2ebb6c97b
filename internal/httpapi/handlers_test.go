package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"planningpoker/internal/metrics"
	"planningpoker/internal/registry"
	"planningpoker/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	s := store.New(db, 2*time.Second)
	require.NoError(t, s.Migrate())
	return s
}

func TestCreateRoom_PersistsRoomWithResolvedDeck(t *testing.T) {
	st := newTestStore(t)
	h := CreateRoom(st, metrics.New(), zap.NewNop())

	body, _ := json.Marshal(map[string]any{
		"title":      "sprint 7",
		"deckType":   "fibonacci",
		"autoReveal": true,
	})
	req := httptest.NewRequest(http.MethodPost, "/rooms", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp struct {
		RoomID string `json:"roomId"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.RoomID, 6)

	room, err := st.GetRoom(context.Background(), resp.RoomID)
	require.NoError(t, err)
	require.Equal(t, "sprint 7", room.Title)
	require.True(t, room.AutoReveal)
	require.Contains(t, room.DeckValues, "13")
}

func TestCreateRoom_RejectsBadRequests(t *testing.T) {
	st := newTestStore(t)
	h := CreateRoom(st, metrics.New(), zap.NewNop())

	cases := []struct {
		name string
		body string
	}{
		{"not json", `{{`},
		{"missing title", `{"deckType":"fibonacci"}`},
		{"unknown deck", `{"title":"x","deckType":"tarot"}`},
		{"custom deck without values", `{"title":"x","deckType":"custom"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/rooms", bytes.NewReader([]byte(tc.body)))
			rec := httptest.NewRecorder()
			h(rec, req)
			require.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestStats_IncludesActiveConnections(t *testing.T) {
	m := metrics.New()
	m.VotesCast.Add(3)
	reg := registry.New(zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	Stats(reg, m)(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var snapshot map[string]int64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshot))
	require.Equal(t, int64(3), snapshot["votes_cast"])
	require.Equal(t, int64(0), snapshot["active_connections"])
}
