// Package models defines the domain entities shared across the pipeline:
// sources, queue items, raw event cards, canonical events, and the stage
// lifecycle that queue items move through.
package models

// Stage is the lifecycle position of a queue item.
type Stage string

// Pipeline stages, in forward order. GeoIncomplete is a lateral state
// reachable from Enriching; Failed is terminal unless explicitly retried.
const (
	StageDiscovered     Stage = "discovered"
	StageAwaitingFetch  Stage = "awaiting_fetch"
	StageExtracting     Stage = "extracting"
	StageEnriching      Stage = "enriching"
	StageReadyToPersist Stage = "ready_to_persist"
	StageIndexed        Stage = "indexed"
	StageGeoIncomplete  Stage = "geo_incomplete"
	StageFailed         Stage = "failed"
)

// stageOrder assigns a monotone rank to the forward stages. Lateral and
// terminal states carry no rank.
var stageOrder = map[Stage]int{
	StageDiscovered:     0,
	StageAwaitingFetch:  1,
	StageExtracting:     2,
	StageEnriching:      3,
	StageReadyToPersist: 4,
	StageIndexed:        5,
}

// allowedTransitions enumerates every legal stage edge. Forward edges are
// monotone; failed → discovered is the explicit retry path, and
// geo_incomplete ↔ enriching supports the geocoder retry sweep without
// re-fetching.
var allowedTransitions = map[Stage][]Stage{
	StageDiscovered:     {StageExtracting, StageFailed},
	StageAwaitingFetch:  {StageExtracting, StageFailed},
	StageExtracting:     {StageEnriching, StageFailed},
	StageEnriching:      {StageReadyToPersist, StageGeoIncomplete, StageFailed},
	StageGeoIncomplete:  {StageReadyToPersist, StageEnriching, StageFailed},
	StageReadyToPersist: {StageIndexed, StageFailed},
	StageFailed:         {StageDiscovered},
}

// ValidStage reports whether s is a member of the closed stage set.
func ValidStage(s Stage) bool {
	switch s {
	case StageDiscovered, StageAwaitingFetch, StageExtracting, StageEnriching,
		StageReadyToPersist, StageIndexed, StageGeoIncomplete, StageFailed:
		return true
	}
	return false
}

// CanAdvance reports whether the transition from → to is legal.
func CanAdvance(from, to Stage) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a stage ends the normal forward progression.
func (s Stage) Terminal() bool {
	return s == StageIndexed || s == StageFailed
}

// Rank returns the monotone order of a forward stage, or -1 for lateral
// and terminal-only states.
func (s Stage) Rank() int {
	if r, ok := stageOrder[s]; ok {
		return r
	}
	return -1
}

// WorkStages lists the stages that workers claim, in pipeline order.
func WorkStages() []Stage {
	return []Stage{
		StageDiscovered,
		StageAwaitingFetch,
		StageExtracting,
		StageEnriching,
		StageReadyToPersist,
		StageGeoIncomplete,
	}
}
