package draft

import (
	"strings"
)

// Pick modes understood by PickPattern. Digit strings such as "12221" are
// also accepted when their sum matches the number of picks.
const (
	ModeRandom    = "random"
	ModeSnake     = "snake"
	ModeAlternate = "alternate"
)

// PickPattern returns the per-turn pick counts for a room of playerCount
// players (two of whom are captains). Modes without a captain draft return nil.
func PickPattern(pickMode string, playerCount int) []int {
	picks := playerCount - 2
	if picks <= 0 {
		return nil
	}
	mode := strings.ToLower(strings.TrimSpace(pickMode))
	switch mode {
	case ModeSnake:
		return snake(picks)
	case ModeAlternate:
		out := make([]int, picks)
		for i := range out {
			out[i] = 1
		}
		return out
	case "", ModeRandom:
		return nil
	}
	if p, ok := parseDigits(mode); ok {
		if sum(p) == picks {
			return p
		}
		return snake(picks)
	}
	return nil
}

// snake builds 1,2,2,...,r where r tops up the remainder.
func snake(picks int) []int {
	out := []int{1}
	left := picks - 1
	for left >= 2 {
		out = append(out, 2)
		left -= 2
	}
	if left > 0 {
		out = append(out, left)
	}
	return out
}

func parseDigits(s string) ([]int, bool) {
	if s == "" {
		return nil, false
	}
	out := make([]int, 0, len(s))
	for _, r := range s {
		if r < '1' || r > '9' {
			return nil, false
		}
		out = append(out, int(r-'0'))
	}
	return out, true
}

func sum(p []int) int {
	n := 0
	for _, v := range p {
		n += v
	}
	return n
}

// TeamForPick walks the cumulative sums of pattern until the running total
// exceeds picked; even segment indexes belong to team 1, odd to team 2.
// It returns 0 once every slot is used.
//
// The segment index decides the team by parity, so [1,2,2,2,1] yields
// 1,2,2,1,1,2,2,1 for picked = 0..7.
func TeamForPick(pattern []int, picked int) int {
	total := 0
	for i, n := range pattern {
		total += n
		if total > picked {
			if i%2 == 0 {
				return 1
			}
			return 2
		}
	}
	return 0
}
