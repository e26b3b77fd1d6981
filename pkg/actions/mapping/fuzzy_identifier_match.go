package mapping

import (
	"context"
	"fmt"

	"github.com/arpanauts/biomapper-sub014/pkg/action"
	"github.com/arpanauts/biomapper-sub014/pkg/model"
	"github.com/arpanauts/biomapper-sub014/pkg/registry"
	"github.com/arpanauts/biomapper-sub014/pkg/resolver"
)

func init() {
	registry.Default.MustRegister("fuzzy_identifier_match", func() action.Action { return &FuzzyIdentifierMatch{} })
}

// FuzzyIdentifierMatch resolves identifiers via a similarity-scoring
// fuzzy-match resolver. Confidence is the resolver's own similarity score,
// clamped into the 0.70-0.80 band the confidence framework reserves for
// similarity-based methods, rather than a single fixed constant.
type FuzzyIdentifierMatch struct {
	action.Base
}

func (a *FuzzyIdentifierMatch) Type() string       { return "fuzzy_identifier_match" }
func (a *FuzzyIdentifierMatch) Class() action.Class { return action.ClassMapper }

func (a *FuzzyIdentifierMatch) ParamsSchema() action.Schema {
	return action.Schema{Fields: []action.Field{
		{Name: "input_key", Type: action.FieldString, Required: true},
		{Name: "column", Type: action.FieldString, Required: true},
		{Name: "output_key", Type: action.FieldString, Required: true},
		{Name: "min_similarity", Type: action.FieldNumber, Default: model.ConfidenceSimilarityMin},
	}}
}

func (a *FuzzyIdentifierMatch) Execute(ctx context.Context, p map[string]any, execCtx *model.ExecutionContext) (*action.Result, error) {
	inputKey, _ := p["input_key"].(string)
	column, _ := p["column"].(string)
	outputKey, _ := p["output_key"].(string)
	minSimilarity, _ := p["min_similarity"].(float64)

	ds, ok := execCtx.GetDataset(inputKey)
	if !ok {
		return nil, model.NewError(model.KindDatasetNotFound, "", a.Type(), fmt.Sprintf("dataset %q not found", inputKey))
	}
	if !ds.HasColumn(column) {
		return nil, model.NewError(model.KindMissingColumn, "", a.Type(), fmt.Sprintf("column %q not found in dataset %q", column, inputKey))
	}

	shell := shellFor(a.Type())
	if shell == nil {
		return nil, model.NewError(model.KindResolverUnavailable, "", a.Type(), "no resolver shell configured for fuzzy_identifier_match")
	}

	ids := ds.Column(column)
	resp, err := shell.Invoke(ctx, resolver.Request{SourceIDs: ids, Options: map[string]any{"min_similarity": minSimilarity}})
	if err != nil {
		return nil, err
	}

	var results []model.StandardMappingResult
	var rawRows []model.Record
	matched := 0
	for _, id := range ids {
		candidates := resp.Candidates[id]
		if len(candidates) == 0 {
			results = append(results, model.Unmapped(id, 1))
			continue
		}
		best := bestCandidate(candidates)
		if best.Confidence < minSimilarity {
			results = append(results, model.Unmapped(id, 1))
			continue
		}
		target := best.TargetID
		results = append(results, model.StandardMappingResult{
			SourceID:    id,
			TargetID:    &target,
			MatchMethod: model.MatchMethodFuzzy,
			Confidence:  clampConfidence(best.Confidence),
			Stage:       1,
		})
		rawRows = append(rawRows, model.Record{"source_id": id, "target_id": target, "similarity": best.Confidence})
		matched++
	}

	execCtx.SetDataset(outputKey, model.NewDataset([]string{"source_id", "target_id", "similarity"}, rawRows))

	return &action.Result{
		Success:        true,
		Message:        fmt.Sprintf("fuzzy-matched %d of %d identifiers", matched, len(ids)),
		Metrics:        map[string]any{"total": len(ids), "matched": matched},
		MappingResults: results,
	}, nil
}

func clampConfidence(c float64) float64 {
	if c < model.ConfidenceSimilarityMin {
		return model.ConfidenceSimilarityMin
	}
	if c > model.ConfidenceSimilarityMax {
		return model.ConfidenceSimilarityMax
	}
	return c
}
