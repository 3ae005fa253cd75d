package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalizePrefersMetaLadderReason(t *testing.T) {
	meta := map[string]interface{}{"ladder_reason": ReasonTimeStopC}
	assert.Equal(t, ReasonTimeStopC, Canonicalize(meta, "tp"))
}

func TestCanonicalizeFallsBackToLegacyMap(t *testing.T) {
	assert.Equal(t, ReasonLadderTP, Canonicalize(nil, "tp"))
	assert.Equal(t, ReasonStopLoss, Canonicalize(nil, "sl"))
	assert.Equal(t, ReasonTimeStopC, Canonicalize(nil, "timeout"))
}

func TestCanonicalizePassesThroughAlreadyCanonical(t *testing.T) {
	assert.Equal(t, ReasonCapacityPrune, Canonicalize(nil, "capacity_prune"))
}

func TestCanonicalizeUnknownReasonBecomesError(t *testing.T) {
	assert.Equal(t, ReasonError, Canonicalize(nil, "something_unrecognized"))
}

func TestCanonicalizeIsAFixedPoint(t *testing.T) {
	for reason := range canonicalSet {
		assert.Equal(t, reason, Canonicalize(nil, string(reason)))
	}
}
