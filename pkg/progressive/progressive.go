// Package progressive implements the progressive mapping wrapper: running a
// sequence of mapper stages against a shrinking pool of still-unmatched
// identifiers, where the first stage to match a given source_id wins and
// later stages only ever see what came before them left unmatched.
package progressive

import (
	"context"
	"time"

	"github.com/arpanauts/biomapper-sub014/pkg/model"
)

// Stage is one step of a progressive run: a name (for StageStats.Method)
// and a mapper function that attempts to match every row it is handed.
// Mapper implementations (pkg/actions/mapping) adapt their Execute bodies
// into this shape; the wrapper never knows about actions or the registry.
type Stage struct {
	Name   string
	Mapper func(ctx context.Context, unmatched []model.Record) ([]model.StandardMappingResult, error)
	// Threshold is the minimum confidence a raw result must carry to count
	// as matched at this stage; a non-null target below it is carried
	// forward to the next stage instead of being committed here.
	Threshold float64
}

// Result is the outcome of a full progressive run.
type Result struct {
	Records []model.StandardMappingResult
	Stats   *model.ProgressiveStats
}

// StageResult is the outcome of a single progressive stage: the matched
// records assigned to it, and the rows that remain for the next stage.
type StageResult struct {
	Matched   []model.StandardMappingResult
	Unmatched []model.Record
}

// RunStage applies one stage's raw mapper output against the unmatched set
// it was called with, partitioning into this stage's matches and the
// rows carried forward, and updating stats in place. This is the unit the
// `progressive_mapping` wrapper action (pkg/actions) calls once per
// strategy step; Run (below) composes it across an in-process stage list
// for callers — such as entity-specific mapper actions — that want to run
// several stages within a single action invocation.
//
// A raw result only counts as matched when its target_id is non-null AND
// its confidence is at least threshold (spec.md §4.8 step 3); a non-null
// target below threshold is carried forward as still-unmatched so a later
// stage can attempt it.
//
// sourceColumn names the column of the unmatched rows holding the source
// identifier the mapper's results are keyed by (an empty value defaults to
// "source_id").
//
// stage is assigned here, on every matched record, never by the inner
// mapper — the Open Question decision recorded in DESIGN.md.
func RunStage(stageNumber int, stageName, sourceColumn string, unmatched []model.Record, rawResults []model.StandardMappingResult, stats *model.ProgressiveStats, threshold float64) StageResult {
	start := time.Now()
	if stats == nil {
		stats = model.NewProgressiveStats()
	}
	if sourceColumn == "" {
		sourceColumn = "source_id"
	}

	matchedByID := make(map[string]model.StandardMappingResult, len(rawResults))
	for _, m := range rawResults {
		if m.TargetID != nil && m.Confidence >= threshold {
			matchedByID[m.SourceID] = m
		}
	}

	var matched []model.StandardMappingResult
	var nextUnmatched []model.Record
	var confidenceSum float64
	for _, rec := range unmatched {
		sourceID, _ := rec[sourceColumn].(string)
		if m, ok := matchedByID[sourceID]; ok {
			m.Stage = stageNumber
			matched = append(matched, m)
			stats.Matched[sourceID] = stageNumber
			confidenceSum += m.Confidence
			continue
		}
		nextUnmatched = append(nextUnmatched, rec)
	}

	confidenceAvg := 0.0
	if len(matched) > 0 {
		confidenceAvg = confidenceSum / float64(len(matched))
	}

	prev := stats.Stages[stageNumber-1]
	cumulative := prev.CumulativeMatched + len(matched)
	total := stats.TotalProcessed
	if total == 0 {
		// First stage of a step-driven run: the stage input plus everything
		// matched before it IS the whole pipeline input.
		total = len(unmatched) + prev.CumulativeMatched
	}
	rate := 0.0
	if total > 0 {
		rate = float64(cumulative) / float64(total)
	}

	stats.Stages[stageNumber] = model.StageStats{
		StageNumber:       stageNumber,
		StageName:         stageName,
		Method:            stageName,
		NewMatches:        len(matched),
		CumulativeMatched: cumulative,
		Unmatched:         len(nextUnmatched),
		CumulativeRate:    rate,
		WallTime:          time.Since(start),
		ConfidenceAvg:     confidenceAvg,
	}
	stats.TotalProcessed = total
	stats.FinalMatchRate = rate

	return StageResult{Matched: matched, Unmatched: nextUnmatched}
}

// Run executes stages in order against records, entirely within one call —
// convenient for an entity-specific mapper action that internally tries
// several methods (e.g. direct match, then historical resolution) without
// exposing each as its own strategy step.
//
// Invariants enforced here (spec.md §8):
//   - first stage to match a source_id wins: once matched, a source_id is
//     never reconsidered by a later stage.
//   - conservation: every input source_id appears exactly once in the
//     output, either matched at some stage or unmapped after the last one.
func Run(ctx context.Context, stages []Stage, records []model.Record, stats *model.ProgressiveStats) (*Result, error) {
	if stats == nil {
		stats = model.NewProgressiveStats()
	}
	stats.TotalProcessed = len(records)

	unmatched := records
	var out []model.StandardMappingResult

	for i, stage := range stages {
		stageNumber := i + 1
		matches, err := stage.Mapper(ctx, unmatched)
		if err != nil {
			return nil, err
		}
		sr := RunStage(stageNumber, stage.Name, "source_id", unmatched, matches, stats, stage.Threshold)
		out = append(out, sr.Matched...)
		unmatched = sr.Unmatched
	}

	for _, rec := range unmatched {
		sourceID, _ := rec["source_id"].(string)
		out = append(out, model.Unmapped(sourceID, len(stages)+1))
	}

	return &Result{Records: out, Stats: stats}, nil
}
