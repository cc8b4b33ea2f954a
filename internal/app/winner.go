// internal/app/winner.go
package app

import (
	"gift_circle_bot/internal/domain/cycle"
)

// resolveWinner picks the winning suggestion from the tallies stored on the
// cycle. Tallies arrive as poll updates pushed by the platform and are
// persisted as they land, so closing the vote never has to read the live
// poll and a close that failed halfway can simply run again. Answers are
// compared in posted (oldest-suggestion-first) order with a strictly-greater
// rule, so ties keep the earliest-added answer. Returns nil when no poll was
// posted, no answer got a vote, or nothing maps back to a suggestion.
func resolveWinner(c *cycle.Cycle, suggestions []*cycle.Suggestion) *cycle.Suggestion {
	if !c.PollMessageID.Valid || len(c.PollAnswers) == 0 || len(c.PollResults) == 0 {
		return nil
	}

	byID := make(map[int32]*cycle.Suggestion, len(suggestions))
	for _, s := range suggestions {
		byID[s.ID] = s
	}

	var winner *cycle.Suggestion
	best := 0
	for _, answer := range c.PollAnswers {
		if answer.Index < 0 || answer.Index >= len(c.PollResults) {
			continue // stale or malformed answer map entry
		}
		s, ok := byID[answer.SuggestionID]
		if !ok {
			continue
		}
		if c.PollResults[answer.Index] > best {
			best = c.PollResults[answer.Index]
			winner = s
		}
	}
	return winner
}
