package store

import "slices"

const (
	DeckFibonacci = "fibonacci"
	DeckModified  = "modified"
	DeckTShirt    = "tshirt"
	DeckCustom    = "custom"
)

var deckPresets = map[string][]string{
	DeckFibonacci: {"0", "1", "2", "3", "5", "8", "13", "21", "34", "55", "89"},
	DeckModified:  {"0", "0.5", "1", "2", "3", "5", "8", "13", "20", "40", "100"},
	DeckTShirt:    {"XS", "S", "M", "L", "XL", "XXL"},
}

// Sentinel cards are legal in every deck and excluded from numeric
// aggregates on reveal.
var sentinelCards = []string{"?", "☕"}

// ResolveDeck expands a deck type into its concrete card values. Custom decks
// must supply their own values; presets ignore them.
func ResolveDeck(deckType string, custom []string) ([]string, bool) {
	if deckType == DeckCustom {
		if len(custom) == 0 {
			return nil, false
		}
		return slices.Clone(custom), true
	}
	preset, ok := deckPresets[deckType]
	if !ok {
		return nil, false
	}
	return slices.Clone(preset), true
}

// CardInDeck reports whether value is a legal card for the deck, sentinels
// included.
func CardInDeck(deck []string, value string) bool {
	return slices.Contains(deck, value) || slices.Contains(sentinelCards, value)
}
