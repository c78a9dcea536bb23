package engine

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

// MessageSimilarity returns the case-insensitive sequence-matcher ratio of
// two messages, compared character by character.
func MessageSimilarity(a, b string) float64 {
	left, right := runeTokens(strings.ToLower(a)), runeTokens(strings.ToLower(b))
	if len(left)+len(right) == 0 {
		return 1
	}
	return difflib.NewMatcher(left, right).Ratio()
}

// GroupBySimilarity makes one forward pass over events. Each unclaimed event
// opens a group and claims every later unclaimed event whose similarity to it
// reaches threshold. Membership is not transitive.
func GroupBySimilarity(events []models.ScoredEvent, threshold float64) [][]models.ScoredEvent {
	if len(events) == 0 {
		return nil
	}
	claimed := make([]bool, len(events))
	var groups [][]models.ScoredEvent
	for i := range events {
		if claimed[i] {
			continue
		}
		claimed[i] = true
		group := []models.ScoredEvent{events[i]}
		for j := i + 1; j < len(events); j++ {
			if claimed[j] {
				continue
			}
			if MessageSimilarity(events[i].Message, events[j].Message) >= threshold {
				group = append(group, events[j])
				claimed[j] = true
			}
		}
		groups = append(groups, group)
	}
	return groups
}

func runeTokens(s string) []string {
	tokens := make([]string, 0, len(s))
	for _, r := range s {
		tokens = append(tokens, string(r))
	}
	return tokens
}
