package core_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/book-expert/audiobook-creator/internal/core"
)

func TestValidTransition(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		from core.Stage
		to   core.Stage
		want bool
	}{
		{"idle to parsing", core.StageIdle, core.StageParsing, true},
		{"parsing to cleaning", core.StageParsing, core.StageCleaning, true},
		{"parsing skips cleaning", core.StageParsing, core.StageSynthesizing, true},
		{"cleaning to synthesizing", core.StageCleaning, core.StageSynthesizing, true},
		{"synthesizing to encoding", core.StageSynthesizing, core.StageEncoding, true},
		{"encoding to packaging", core.StageEncoding, core.StagePackaging, true},
		{"packaging to complete", core.StagePackaging, core.StageComplete, true},
		{"no backwards edge", core.StageEncoding, core.StageSynthesizing, false},
		{"no stage skipping", core.StageParsing, core.StagePackaging, false},
		{"cancel from any active stage", core.StageSynthesizing, core.StageCancelled, true},
		{"fail from any active stage", core.StageParsing, core.StageFailed, true},
		{"no cancel after complete", core.StageComplete, core.StageCancelled, false},
		{"no fail after cancel", core.StageCancelled, core.StageFailed, false},
		{"terminal stages are dead ends", core.StageComplete, core.StageParsing, false},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(
				t, testCase.want,
				core.ValidTransition(testCase.from, testCase.to),
			)
		})
	}
}

func TestTerminal(t *testing.T) {
	t.Parallel()

	assert.True(t, core.StageComplete.Terminal())
	assert.True(t, core.StageCancelled.Terminal())
	assert.True(t, core.StageFailed.Terminal())
	assert.False(t, core.StageIdle.Terminal())
	assert.False(t, core.StageSynthesizing.Terminal())
}
