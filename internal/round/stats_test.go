package round

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"planningpoker/internal/store"
)

func votesFor(values ...string) []store.Vote {
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	votes := make([]store.Vote, 0, len(values))
	for i, v := range values {
		votes = append(votes, store.Vote{
			RoundID:       "r1",
			ParticipantID: string(rune('a' + i)),
			CardValue:     v,
			CastAt:        base.Add(time.Duration(i) * time.Second),
		})
	}
	return votes
}

func votersFor(votes []store.Vote) []store.Participant {
	out := make([]store.Participant, 0, len(votes))
	for _, v := range votes {
		out = append(out, store.Participant{
			ID:    v.ParticipantID,
			Role:  store.RoleVoter,
			State: store.StateConnected,
		})
	}
	return out
}

func TestComputeStatistics_MixedNumericAndSentinel(t *testing.T) {
	votes := votesFor("5", "5", "8", "?")
	stats := computeStatistics(votes, votersFor(votes))

	require.Equal(t, map[string]int{"5": 2, "8": 1, "?": 1}, stats.Distribution)
	require.Equal(t, "5", stats.Mode)
	require.Equal(t, 4, stats.TotalVotes)
	require.NotNil(t, stats.Average)
	require.InDelta(t, 6.0, *stats.Average, 1e-9, "sentinels are excluded from numeric aggregates")
	require.NotNil(t, stats.Median)
	require.InDelta(t, 5.0, *stats.Median, 1e-9)
	require.False(t, stats.ConsensusReached)
}

func TestComputeStatistics_MedianEvenCountIsMeanOfMiddles(t *testing.T) {
	votes := votesFor("2", "3", "5", "8")
	stats := computeStatistics(votes, votersFor(votes))

	require.NotNil(t, stats.Median)
	require.InDelta(t, 4.0, *stats.Median, 1e-9, "even count: arithmetic mean of the two middle values")
}

func TestComputeStatistics_NoNumericVotes(t *testing.T) {
	votes := votesFor("?", "XL")
	stats := computeStatistics(votes, votersFor(votes))

	require.Nil(t, stats.Average)
	require.Nil(t, stats.Median)
	require.Equal(t, 2, stats.TotalVotes)
	require.Equal(t, "?", stats.Mode, "mode covers non-numeric votes too")
}

func TestComputeStatistics_ModeTieBrokenByFirstCast(t *testing.T) {
	votes := votesFor("8", "3", "3", "8")
	stats := computeStatistics(votes, votersFor(votes))

	require.Equal(t, "8", stats.Mode, "among tied counts the value cast first wins")
}

func TestConsensus_AllVotersIdentical(t *testing.T) {
	votes := votesFor("3", "3")
	stats := computeStatistics(votes, votersFor(votes))
	require.True(t, stats.ConsensusReached)
	require.InDelta(t, 3.0, *stats.Average, 1e-9)
}

func TestConsensus_SilentVoterBlocksConsensus(t *testing.T) {
	votes := votesFor("3", "3")
	participants := append(votersFor(votes), store.Participant{
		ID:    "silent",
		Role:  store.RoleVoter,
		State: store.StateConnected,
	})

	stats := computeStatistics(votes, participants)
	require.False(t, stats.ConsensusReached, "a voter who did not vote blocks consensus")
}

func TestConsensus_ObserversAndHostDoNotCount(t *testing.T) {
	votes := votesFor("3", "3")
	participants := append(votersFor(votes),
		store.Participant{ID: "host", Role: store.RoleHost, State: store.StateConnected},
		store.Participant{ID: "watcher", Role: store.RoleObserver, State: store.StateConnected},
	)

	stats := computeStatistics(votes, participants)
	require.True(t, stats.ConsensusReached)
}

func TestConsensus_NoVotersNeverConsensus(t *testing.T) {
	stats := computeStatistics(nil, []store.Participant{
		{ID: "host", Role: store.RoleHost, State: store.StateConnected},
	})
	require.False(t, stats.ConsensusReached)
}

func TestConsensus_SingleVoter(t *testing.T) {
	votes := votesFor("13")
	stats := computeStatistics(votes, votersFor(votes))
	require.True(t, stats.ConsensusReached)
}
