package actions

import (
	"context"
	"fmt"

	"github.com/arpanauts/biomapper-sub014/pkg/action"
	"github.com/arpanauts/biomapper-sub014/pkg/model"
	"github.com/arpanauts/biomapper-sub014/pkg/registry"
)

func init() {
	registry.Default.MustRegister("merge_datasets", func() action.Action { return &MergeDatasets{} })
}

// MergeDatasets joins two datasets on explicit, per-dataset join columns.
type MergeDatasets struct {
	action.Base
}

func (a *MergeDatasets) Type() string       { return "merge_datasets" }
func (a *MergeDatasets) Class() action.Class { return action.ClassTransformer }

func (a *MergeDatasets) ParamsSchema() action.Schema {
	return action.Schema{Fields: []action.Field{
		{Name: "input_key", Type: action.FieldString, Required: true},
		{Name: "dataset2_key", Type: action.FieldString, Required: true},
		{Name: "join_columns", Type: action.FieldObject, Required: true},
		{Name: "join_type", Type: action.FieldString, Default: "inner", Enum: []string{"inner", "left", "right", "outer"}},
		{Name: "output_key", Type: action.FieldString, Required: true},
	}}
}

func (a *MergeDatasets) Execute(ctx context.Context, p map[string]any, execCtx *model.ExecutionContext) (*action.Result, error) {
	inputKey, _ := p["input_key"].(string)
	dataset2Key, _ := p["dataset2_key"].(string)
	outputKey, _ := p["output_key"].(string)
	joinType, _ := p["join_type"].(string)
	if joinType == "" {
		joinType = "inner"
	}

	joinColumns, _ := p["join_columns"].(map[string]any)

	leftCol, ok := stringField(joinColumns, inputKey)
	if !ok {
		return nil, model.NewError(model.KindJoinColumnUnspecified, "", a.Type(), fmt.Sprintf("join_columns does not name dataset-key %q", inputKey))
	}
	rightCol, ok := stringField(joinColumns, dataset2Key)
	if !ok {
		return nil, model.NewError(model.KindJoinColumnUnspecified, "", a.Type(), fmt.Sprintf("join_columns does not name dataset-key %q", dataset2Key))
	}

	left, ok := execCtx.GetDataset(inputKey)
	if !ok {
		return nil, model.NewError(model.KindDatasetNotFound, "", a.Type(), fmt.Sprintf("dataset %q not found", inputKey))
	}
	right, ok := execCtx.GetDataset(dataset2Key)
	if !ok {
		return nil, model.NewError(model.KindDatasetNotFound, "", a.Type(), fmt.Sprintf("dataset %q not found", dataset2Key))
	}
	if !left.HasColumn(leftCol) {
		return nil, model.NewError(model.KindJoinColumnNotFound, "", a.Type(), fmt.Sprintf("join column %q not found in dataset %q", leftCol, inputKey))
	}
	if !right.HasColumn(rightCol) {
		return nil, model.NewError(model.KindJoinColumnNotFound, "", a.Type(), fmt.Sprintf("join column %q not found in dataset %q", rightCol, dataset2Key))
	}

	rightByKey := make(map[string][]model.Record, len(right.Rows))
	for _, row := range right.Rows {
		k, _ := row[rightCol].(string)
		rightByKey[k] = append(rightByKey[k], row)
	}
	leftByKey := make(map[string][]model.Record, len(left.Rows))
	for _, row := range left.Rows {
		k, _ := row[leftCol].(string)
		leftByKey[k] = append(leftByKey[k], row)
	}

	var out []model.Record
	matchedLeft := 0
	for _, row := range left.Rows {
		k, _ := row[leftCol].(string)
		matches := rightByKey[k]
		if len(matches) > 0 {
			matchedLeft++
			for _, m := range matches {
				out = append(out, joinRow(row, m))
			}
			continue
		}
		if joinType == "left" || joinType == "outer" {
			out = append(out, joinRow(row, nil))
		}
	}
	if joinType == "right" || joinType == "outer" {
		for _, row := range right.Rows {
			k, _ := row[rightCol].(string)
			if len(leftByKey[k]) == 0 {
				out = append(out, joinRow(nil, row))
			}
		}
	}

	execCtx.SetDataset(outputKey, model.NewDataset(nil, out))

	expansionFactor := 0.0
	if matchedLeft > 0 {
		expansionFactor = float64(len(out)) / float64(matchedLeft)
	}
	oneToMany := map[string]any{
		"total_source_records": len(left.Rows),
		"total_mapped_records": len(out),
		"expansion_factor":     expansionFactor,
	}
	execCtx.SetStatistic("one_to_many_stats", oneToMany)

	return &action.Result{
		Success: true,
		Message: fmt.Sprintf("joined %d left rows against %d right rows into %d output rows (%s)", len(left.Rows), len(right.Rows), len(out), joinType),
		Metrics: map[string]any{"rows_out": len(out), "one_to_many_stats": oneToMany},
	}, nil
}

func stringField(m map[string]any, key string) (string, bool) {
	if m == nil {
		return "", false
	}
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func joinRow(left, right model.Record) model.Record {
	out := model.Record{}
	if left != nil {
		for k, v := range left {
			out[k] = v
		}
	}
	if right != nil {
		for k, v := range right {
			if _, exists := out[k]; !exists {
				out[k] = v
			} else {
				out["right_"+k] = v
			}
		}
	}
	return out
}
