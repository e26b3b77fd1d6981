package actions

import (
	"context"
	"fmt"

	"github.com/arpanauts/biomapper-sub014/pkg/action"
	"github.com/arpanauts/biomapper-sub014/pkg/model"
	"github.com/arpanauts/biomapper-sub014/pkg/registry"
)

func init() {
	registry.Default.MustRegister("direct_reference_match", func() action.Action { return &DirectReferenceMatch{} })
}

// DirectReferenceMatch maps source identifiers by exact lookup against a
// reference dataset already loaded in the context. Matches carry confidence
// 1.0 and the direct_merge method; typically the first stage of a
// progressive pipeline.
type DirectReferenceMatch struct {
	action.Base
}

func (a *DirectReferenceMatch) Type() string        { return "direct_reference_match" }
func (a *DirectReferenceMatch) Class() action.Class { return action.ClassMapper }

func (a *DirectReferenceMatch) ParamsSchema() action.Schema {
	return action.Schema{Fields: []action.Field{
		{Name: "input_key", Type: action.FieldString, Required: true},
		{Name: "source_column", Type: action.FieldString, Required: true},
		{Name: "reference_key", Type: action.FieldString, Required: true},
		{Name: "reference_column", Type: action.FieldString, Required: true},
		// target_column names the reference column holding the mapped-to
		// identifier; defaults to reference_column (self-mapping reference).
		{Name: "target_column", Type: action.FieldString},
		{Name: "output_key", Type: action.FieldString, Required: true},
	}}
}

func (a *DirectReferenceMatch) Execute(ctx context.Context, p map[string]any, execCtx *model.ExecutionContext) (*action.Result, error) {
	inputKey, _ := p["input_key"].(string)
	sourceColumn, _ := p["source_column"].(string)
	referenceKey, _ := p["reference_key"].(string)
	referenceColumn, _ := p["reference_column"].(string)
	targetColumn, _ := p["target_column"].(string)
	outputKey, _ := p["output_key"].(string)
	if targetColumn == "" {
		targetColumn = referenceColumn
	}

	input, ok := execCtx.GetDataset(inputKey)
	if !ok {
		return nil, model.NewError(model.KindDatasetNotFound, "", a.Type(), fmt.Sprintf("dataset %q not found", inputKey))
	}
	reference, ok := execCtx.GetDataset(referenceKey)
	if !ok {
		return nil, model.NewError(model.KindDatasetNotFound, "", a.Type(), fmt.Sprintf("dataset %q not found", referenceKey))
	}
	if !input.HasColumn(sourceColumn) {
		return nil, model.NewError(model.KindMissingColumn, "", a.Type(), fmt.Sprintf("column %q not found in dataset %q", sourceColumn, inputKey))
	}
	if !reference.HasColumn(referenceColumn) {
		return nil, model.NewError(model.KindMissingColumn, "", a.Type(), fmt.Sprintf("column %q not found in dataset %q", referenceColumn, referenceKey))
	}

	targets := make(map[string]string, len(reference.Rows))
	for _, row := range reference.Rows {
		key, _ := row[referenceColumn].(string)
		if key == "" {
			continue
		}
		if _, seen := targets[key]; seen {
			continue
		}
		target, _ := row[targetColumn].(string)
		if target == "" {
			target = key
		}
		targets[key] = target
	}

	var results []model.StandardMappingResult
	var rawRows []model.Record
	matched := 0
	for _, row := range input.Rows {
		id, _ := row[sourceColumn].(string)
		if id == "" {
			continue
		}
		target, ok := targets[id]
		if !ok {
			continue
		}
		t := target
		results = append(results, model.StandardMappingResult{
			SourceID:    id,
			TargetID:    &t,
			MatchMethod: model.MatchMethodDirect,
			Confidence:  model.ConfidenceDirect,
			Stage:       1,
		})
		rawRows = append(rawRows, model.Record{"source_id": id, "target_id": target, "method": model.MatchMethodDirect})
		matched++
	}

	execCtx.SetDataset(outputKey, model.NewDataset([]string{"source_id", "target_id", "method"}, rawRows))

	return &action.Result{
		Success:        true,
		Message:        fmt.Sprintf("direct-matched %d of %d identifiers against %s", matched, len(input.Rows), referenceKey),
		Metrics:        map[string]any{"total": len(input.Rows), "matched": matched},
		MappingResults: results,
	}, nil
}
