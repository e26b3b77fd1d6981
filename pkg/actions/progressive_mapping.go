package actions

import (
	"context"
	"fmt"

	"github.com/arpanauts/biomapper-sub014/pkg/action"
	"github.com/arpanauts/biomapper-sub014/pkg/model"
	"github.com/arpanauts/biomapper-sub014/pkg/progressive"
	"github.com/arpanauts/biomapper-sub014/pkg/registry"
)

func init() {
	registry.Default.MustRegister("progressive_mapping", func() action.Action {
		return &ProgressiveMapping{Registry: registry.Default}
	})
}

// ProgressiveMapping is the progressive wrapper (component H) exposed as an
// ordinary strategy step: it wraps exactly one inner, registered mapper
// action as one stage, reading its unmatched input from input_key and
// writing this stage's matches and the carried-forward unmatched set to
// matched_output_key/unmatched_output_key for the next stage's step to
// consume as its own input_key.
//
// Stage is assigned here, never by the inner action — see the Open
// Question decision in DESIGN.md.
type ProgressiveMapping struct {
	action.Base
	Registry *registry.Registry
}

func (a *ProgressiveMapping) Type() string       { return "progressive_mapping" }
func (a *ProgressiveMapping) Class() action.Class { return action.ClassMapper }

func (a *ProgressiveMapping) ParamsSchema() action.Schema {
	return action.Schema{Fields: []action.Field{
		{Name: "stage_number", Type: action.FieldNumber, Required: true},
		{Name: "stage_name", Type: action.FieldString, Required: true},
		{Name: "stage_threshold", Type: action.FieldNumber, Default: 0.0},
		{Name: "input_key", Type: action.FieldString, Required: true},
		{Name: "source_column", Type: action.FieldString, Default: "source_id"},
		{Name: "inner_action_type", Type: action.FieldString, Required: true},
		{Name: "inner_action_params", Type: action.FieldObject},
		{Name: "matched_output_key", Type: action.FieldString, Required: true},
		{Name: "unmatched_output_key", Type: action.FieldString, Required: true},
		{Name: "final_stage", Type: action.FieldBool, Default: false},
	}}
}

func (a *ProgressiveMapping) Execute(ctx context.Context, p map[string]any, execCtx *model.ExecutionContext) (*action.Result, error) {
	stageNumberF, _ := p["stage_number"].(float64)
	stageNumber := int(stageNumberF)
	stageName, _ := p["stage_name"].(string)
	stageThreshold, _ := p["stage_threshold"].(float64)
	inputKey, _ := p["input_key"].(string)
	sourceColumn, _ := p["source_column"].(string)
	innerType, _ := p["inner_action_type"].(string)
	innerParamsRaw, _ := p["inner_action_params"].(map[string]any)
	matchedKey, _ := p["matched_output_key"].(string)
	unmatchedKey, _ := p["unmatched_output_key"].(string)
	finalStage, _ := p["final_stage"].(bool)

	ds, ok := execCtx.GetDataset(inputKey)
	if !ok {
		return nil, model.NewError(model.KindDatasetNotFound, "", a.Type(), fmt.Sprintf("dataset %q not found", inputKey))
	}

	inner, err := a.Registry.Lookup(innerType)
	if err != nil {
		return nil, err
	}
	validatedInner, err := inner.ParamsSchema().Validate("", innerType, innerParamsRaw)
	if err != nil {
		return nil, err
	}

	innerResult, err := inner.Execute(ctx, validatedInner, execCtx)
	if err != nil {
		return nil, err
	}
	if innerResult == nil || !innerResult.Success {
		msg := "inner mapper action did not succeed"
		if innerResult != nil {
			msg = innerResult.Message
		}
		return nil, model.NewError(model.KindInternalError, "", a.Type(), msg)
	}

	sr := progressive.RunStage(stageNumber, stageName, sourceColumn, ds.Rows, innerResult.MappingResults, execCtx.ProgressiveStats, stageThreshold)

	matchedRows := make([]model.Record, 0, len(sr.Matched))
	for _, m := range sr.Matched {
		matchedRows = append(matchedRows, model.EncodeRecord(m))
	}
	if finalStage {
		// Terminal accounting: every identifier no stage matched appears
		// once, as the unmapped sentinel, at stage N+1 — so the combined
		// results dataset covers the full initial input.
		col := sourceColumn
		if col == "" {
			col = "source_id"
		}
		for _, rec := range sr.Unmatched {
			sourceID, _ := rec[col].(string)
			matchedRows = append(matchedRows, model.EncodeRecord(model.Unmapped(sourceID, stageNumber+1)))
		}
	}
	if existing, ok := execCtx.GetDataset(matchedKey); ok {
		matchedRows = append(append([]model.Record{}, existing.Rows...), matchedRows...)
	}
	execCtx.SetDataset(matchedKey, model.NewDataset(nil, matchedRows))
	execCtx.SetDataset(unmatchedKey, model.NewDataset(ds.Columns, sr.Unmatched))

	stats := execCtx.ProgressiveStats.Stages[stageNumber]
	return &action.Result{
		Success: true,
		Message: fmt.Sprintf("stage %d (%s): %d new matches, %d remaining unmatched", stageNumber, stageName, stats.NewMatches, stats.Unmatched),
		Metrics: map[string]any{
			"new_matches":        stats.NewMatches,
			"cumulative_matched": stats.CumulativeMatched,
			"unmatched":          stats.Unmatched,
			"confidence_avg":     stats.ConfidenceAvg,
		},
		MappingResults: sr.Matched,
	}, nil
}
