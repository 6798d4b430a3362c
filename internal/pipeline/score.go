package pipeline

import (
	"math"

	"github.com/jakopako/tagprobe/internal/utils"
)

// DefaultExcludedEvents are collected automatically by the analytics
// platform and are neither predicted nor scored.
var DefaultExcludedEvents = []string{"page_view", "session_start", "first_visit", "user_engagement", "scroll"}

// Score compares predicted and actual events.
type Score struct {
	Correct  []string
	Missed   []string
	Wrong    []string
	Accuracy float64
}

// ComputeScore returns correct = predicted ∩ actual, missed = actual -
// predicted and wrong = predicted - actual. Accuracy is the share of
// correct predictions in percent, 0 when nothing was predicted correctly
// or wrongly.
func ComputeScore(predicted, actual []string) Score {
	s := Score{
		Correct: utils.Intersect(predicted, actual),
		Missed:  utils.Difference(actual, predicted),
		Wrong:   utils.Difference(predicted, actual),
	}
	s.Accuracy = accuracy(len(s.Correct), len(s.Wrong))
	return s
}

func accuracy(correct, wrong int) float64 {
	den := correct + wrong
	if den == 0 {
		return 0
	}
	return math.Round(float64(correct)/float64(den)*1000) / 10
}

// exclude removes the excluded events and returns the sorted remainder.
func exclude(events, excluded []string) []string {
	return utils.Difference(events, excluded)
}
