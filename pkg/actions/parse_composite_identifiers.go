package actions

import (
	"context"
	"fmt"
	"strings"

	"github.com/arpanauts/biomapper-sub014/pkg/action"
	"github.com/arpanauts/biomapper-sub014/pkg/model"
	"github.com/arpanauts/biomapper-sub014/pkg/registry"
)

func init() {
	registry.Default.MustRegister("parse_composite_identifiers", func() action.Action { return &ParseCompositeIdentifiers{} })
}

// ParseCompositeIdentifiers splits one column by any of an ordered list of
// separators, expanding each source row into one row per extracted
// component while preserving the other columns.
type ParseCompositeIdentifiers struct {
	action.Base
}

func (a *ParseCompositeIdentifiers) Type() string       { return "parse_composite_identifiers" }
func (a *ParseCompositeIdentifiers) Class() action.Class { return action.ClassTransformer }

func (a *ParseCompositeIdentifiers) ParamsSchema() action.Schema {
	return action.Schema{Fields: []action.Field{
		{Name: "input_key", Type: action.FieldString, Required: true},
		{Name: "output_key", Type: action.FieldString, Required: true},
		{Name: "column", Type: action.FieldString, Required: true},
		{Name: "separators", Type: action.FieldArray, Items: action.FieldString, Required: true},
		{Name: "skip_empty", Type: action.FieldBool, Default: true},
		{Name: "track_expansion", Type: action.FieldBool, Default: false},
	}}
}

func (a *ParseCompositeIdentifiers) Execute(ctx context.Context, p map[string]any, execCtx *model.ExecutionContext) (*action.Result, error) {
	inputKey, _ := p["input_key"].(string)
	outputKey, _ := p["output_key"].(string)
	column, _ := p["column"].(string)
	skipEmpty, _ := p["skip_empty"].(bool)
	trackExpansion, _ := p["track_expansion"].(bool)

	var separators []string
	if raw, ok := p["separators"].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				separators = append(separators, s)
			}
		}
	}

	ds, ok := execCtx.GetDataset(inputKey)
	if !ok {
		return nil, model.NewError(model.KindDatasetNotFound, "", a.Type(), fmt.Sprintf("dataset %q not found", inputKey))
	}
	if !ds.HasColumn(column) {
		return nil, model.NewError(model.KindMissingColumn, "", a.Type(), fmt.Sprintf("column %q not found in dataset %q", column, inputKey))
	}

	var outRows []model.Record
	totalInput := len(ds.Rows)
	rowsWithComposites := 0
	maxComponents := 0

	for idx, row := range ds.Rows {
		cell, present := row[column]
		raw, _ := cell.(string)
		if raw == "" {
			if skipEmpty {
				// A nil cell carries no identifier to account for: the row is
				// dropped outright. A present-but-blank cell was a real row in
				// the source file, so it passes through marked _skipped for
				// downstream accounting.
				if !present || cell == nil {
					continue
				}
				skipped := row.Clone()
				skipped["_skipped"] = true
				outRows = append(outRows, skipped)
				continue
			}
			// Not skipped: pass through as a single unsplit row.
			pass := row.Clone()
			pass["_original_composite"] = raw
			pass["_expansion_count"] = float64(1)
			pass["_original_index"] = float64(idx)
			outRows = append(outRows, pass)
			continue
		}

		parts := splitByAny(raw, separators)
		if len(parts) > 1 {
			rowsWithComposites++
		}
		if len(parts) > maxComponents {
			maxComponents = len(parts)
		}
		for _, part := range parts {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			expanded := row.Clone()
			expanded[column] = part
			expanded["_original_composite"] = raw
			expanded["_expansion_count"] = float64(len(parts))
			expanded["_original_index"] = float64(idx)
			outRows = append(outRows, expanded)
		}
	}

	execCtx.SetDataset(outputKey, model.NewDataset(nil, outRows))

	metrics := map[string]any{
		"total_input_rows":  totalInput,
		"total_output_rows": len(outRows),
	}
	if trackExpansion {
		stats := map[string]any{
			"total_input_rows":    totalInput,
			"total_output_rows":   len(outRows),
			"max_components":      maxComponents,
			"rows_with_composites": rowsWithComposites,
		}
		execCtx.SetStatistic("composite_expansion", stats)
		metrics["composite_expansion"] = stats
	}

	return &action.Result{
		Success: true,
		Message: fmt.Sprintf("expanded %d rows into %d rows", totalInput, len(outRows)),
		Metrics: metrics,
	}, nil
}

// splitByAny splits s on every separator in the list: occurrences of later
// separators are normalized to the first before splitting, so a value mixing
// delimiters still expands fully. Running the split again on an
// already-split value (whose parts contain no separator) is idempotent:
// each part comes back as its own one-element slice.
func splitByAny(s string, separators []string) []string {
	var active []string
	for _, sep := range separators {
		if sep != "" {
			active = append(active, sep)
		}
	}
	if len(active) == 0 {
		return []string{s}
	}
	norm := s
	for _, sep := range active[1:] {
		norm = strings.ReplaceAll(norm, sep, active[0])
	}
	if !strings.Contains(norm, active[0]) {
		return []string{s}
	}
	return strings.Split(norm, active[0])
}
