package round

import (
	"sort"
	"strconv"

	"planningpoker/internal/protocol"
	"planningpoker/internal/store"
)

// computeStatistics aggregates a revealed round. Non-numeric sentinels ("?",
// "☕", t-shirt sizes) count in the distribution and mode but are excluded
// from average and median. Votes arrive in first-cast order, which is the
// mode tie rule: among equally frequent values the one cast first wins.
//
// Median rule for even counts: arithmetic mean of the two middle numeric
// values, reported as the raw number rather than snapped to a deck value.
func computeStatistics(votes []store.Vote, participants []store.Participant) protocol.Statistics {
	stats := protocol.Statistics{
		Distribution: make(map[string]int, len(votes)),
		TotalVotes:   len(votes),
	}

	var (
		numeric   []float64
		seenOrder []string
	)
	for _, v := range votes {
		if _, seen := stats.Distribution[v.CardValue]; !seen {
			seenOrder = append(seenOrder, v.CardValue)
		}
		stats.Distribution[v.CardValue]++
		if f, err := strconv.ParseFloat(v.CardValue, 64); err == nil {
			numeric = append(numeric, f)
		}
	}

	best := 0
	for _, value := range seenOrder {
		if stats.Distribution[value] > best {
			best = stats.Distribution[value]
			stats.Mode = value
		}
	}

	if len(numeric) > 0 {
		sum := 0.0
		for _, f := range numeric {
			sum += f
		}
		avg := sum / float64(len(numeric))
		stats.Average = &avg

		sort.Float64s(numeric)
		mid := len(numeric) / 2
		var med float64
		if len(numeric)%2 == 1 {
			med = numeric[mid]
		} else {
			med = (numeric[mid-1] + numeric[mid]) / 2
		}
		stats.Median = &med
	}

	stats.ConsensusReached = consensus(votes, participants)
	return stats
}

// consensus is true iff every participant with role VOTER (that has not left
// the room) cast a vote and all of those votes carry the identical value.
// A room with no voters never reaches consensus.
func consensus(votes []store.Vote, participants []store.Participant) bool {
	byParticipant := make(map[string]string, len(votes))
	for _, v := range votes {
		byParticipant[v.ParticipantID] = v.CardValue
	}

	voters := 0
	value := ""
	for _, p := range participants {
		if p.Role != store.RoleVoter {
			continue
		}
		v, ok := byParticipant[p.ID]
		if !ok {
			return false
		}
		if voters == 0 {
			value = v
		} else if v != value {
			return false
		}
		voters++
	}
	return voters > 0
}
