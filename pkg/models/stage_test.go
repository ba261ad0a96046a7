package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanAdvance(t *testing.T) {
	tests := []struct {
		name string
		from Stage
		to   Stage
		want bool
	}{
		{"discovered to extracting", StageDiscovered, StageExtracting, true},
		{"awaiting_fetch to extracting", StageAwaitingFetch, StageExtracting, true},
		{"extracting to enriching", StageExtracting, StageEnriching, true},
		{"enriching to ready", StageEnriching, StageReadyToPersist, true},
		{"enriching lateral to geo_incomplete", StageEnriching, StageGeoIncomplete, true},
		{"geo_incomplete recovers to ready", StageGeoIncomplete, StageReadyToPersist, true},
		{"ready to indexed", StageReadyToPersist, StageIndexed, true},
		{"failed retry edge", StageFailed, StageDiscovered, true},
		{"no backwards edge", StageEnriching, StageExtracting, false},
		{"no skip ahead", StageDiscovered, StageIndexed, false},
		{"indexed is final", StageIndexed, StageFailed, false},
		{"failed cannot jump mid-pipeline", StageFailed, StageEnriching, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanAdvance(tt.from, tt.to))
		})
	}
}

func TestStageRankMonotone(t *testing.T) {
	order := []Stage{StageDiscovered, StageAwaitingFetch, StageExtracting,
		StageEnriching, StageReadyToPersist, StageIndexed}
	for i := 1; i < len(order); i++ {
		assert.Greater(t, order[i].Rank(), order[i-1].Rank())
	}
	assert.Equal(t, -1, StageFailed.Rank())
	assert.Equal(t, -1, StageGeoIncomplete.Rank())
}

func TestValidStage(t *testing.T) {
	for _, s := range WorkStages() {
		assert.True(t, ValidStage(s))
	}
	assert.True(t, ValidStage(StageIndexed))
	assert.True(t, ValidStage(StageFailed))
	assert.False(t, ValidStage(Stage("pending")))
}
