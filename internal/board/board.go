package board

import "math/rand"

// MaxPlayers is the hard cap on members per session.
const MaxPlayers = 4

// SizeFor returns the board dimensions for a player count.
// Counts outside 1–4 fall back to the smallest board.
func SizeFor(players int) (width, height int) {
	switch players {
	case 2:
		return 5, 4
	case 3:
		return 6, 4
	case 4:
		return 6, 5
	default:
		return 4, 4
	}
}

// NewDeck builds a shuffled deck of `pairs` distinct face values, each
// appearing exactly twice.
func NewDeck(pairs int) []int {
	deck := make([]int, 0, pairs*2)
	for i := 0; i < pairs; i++ {
		deck = append(deck, i, i)
	}
	Shuffle(deck)
	return deck
}

// Shuffle permutes vals in place with a Fisher–Yates walk from the last
// index down, so every permutation of the multiset is equally likely.
func Shuffle(vals []int) {
	for i := len(vals) - 1; i > 0; i-- {
		j := rand.Intn(i + 1)
		vals[i], vals[j] = vals[j], vals[i]
	}
}
