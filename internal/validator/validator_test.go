package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bigbrotr/bigbrotr/internal/models"
)

func TestSortCandidates_OrdersByFailuresThenUpdatedAt(t *testing.T) {
	candidates := []models.Candidate{
		{URL: "wss://c", Failures: 1, UpdatedAt: 100},
		{URL: "wss://a", Failures: 0, UpdatedAt: 200},
		{URL: "wss://b", Failures: 0, UpdatedAt: 100},
	}
	sortCandidates(candidates)

	urls := make([]string, len(candidates))
	for i, c := range candidates {
		urls[i] = c.URL
	}
	assert.Equal(t, []string{"wss://b", "wss://a", "wss://c"}, urls)
}

func TestSortCandidates_TiesStayWithinTheirGroup(t *testing.T) {
	candidates := []models.Candidate{
		{URL: "wss://x", Failures: 2, UpdatedAt: 50},
		{URL: "wss://y", Failures: 2, UpdatedAt: 50},
		{URL: "wss://z", Failures: 0, UpdatedAt: 50},
	}
	sortCandidates(candidates)

	assert.Equal(t, "wss://z", candidates[0].URL)
	assert.ElementsMatch(t, []string{"wss://x", "wss://y"}, []string{candidates[1].URL, candidates[2].URL})
}
