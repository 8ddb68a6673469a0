package synchronizer

import (
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
)

func TestTimestampPtr_ZeroAndNegativeYieldNil(t *testing.T) {
	assert.Nil(t, timestampPtr(0))
	assert.Nil(t, timestampPtr(-1))
}

func TestTimestampPtr_PositiveValuePreserved(t *testing.T) {
	ts := timestampPtr(1700000000)
	if assert.NotNil(t, ts) {
		assert.Equal(t, nostr.Timestamp(1700000000), *ts)
	}
}
