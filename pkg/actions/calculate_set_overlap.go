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
	registry.Default.MustRegister("calculate_set_overlap", func() action.Action { return &CalculateSetOverlap{} })
}

// setSpec names one input set: a dataset key and the column to draw
// identifiers from.
type setSpec struct {
	DatasetKey string `json:"dataset_key"`
	Column     string `json:"column"`
	Name       string `json:"name"`
}

// CalculateSetOverlap computes N-way overlap statistics (N >= 2) over
// identifier sets drawn from dataset columns.
type CalculateSetOverlap struct {
	action.Base
}

func (a *CalculateSetOverlap) Type() string       { return "calculate_set_overlap" }
func (a *CalculateSetOverlap) Class() action.Class { return action.ClassAnalyzer }

func (a *CalculateSetOverlap) ParamsSchema() action.Schema {
	return action.Schema{Fields: []action.Field{
		{Name: "sets", Type: action.FieldArray, Items: action.FieldObject, Required: true},
		{Name: "case_sensitive", Type: action.FieldBool, Default: true},
		{Name: "persist_sets", Type: action.FieldBool, Default: false},
		{Name: "output_key", Type: action.FieldString},
	}}
}

func (a *CalculateSetOverlap) Execute(ctx context.Context, p map[string]any, execCtx *model.ExecutionContext) (*action.Result, error) {
	caseSensitive, _ := p["case_sensitive"].(bool)
	persistSets, _ := p["persist_sets"].(bool)
	outputKey, _ := p["output_key"].(string)

	rawSets, _ := p["sets"].([]any)
	if len(rawSets) < 2 {
		return nil, model.NewError(model.KindValidationError, "", a.Type(), "calculate_set_overlap requires at least 2 sets")
	}

	names := make([]string, 0, len(rawSets))
	sets := make(map[string]map[string]bool, len(rawSets))
	for _, raw := range rawSets {
		m, _ := raw.(map[string]any)
		datasetKey, _ := m["dataset_key"].(string)
		column, _ := m["column"].(string)
		name, _ := m["name"].(string)
		if name == "" {
			name = datasetKey
		}

		ds, ok := execCtx.GetDataset(datasetKey)
		if !ok {
			return nil, model.NewError(model.KindDatasetNotFound, "", a.Type(), fmt.Sprintf("dataset %q not found", datasetKey))
		}
		if !ds.HasColumn(column) {
			return nil, model.NewError(model.KindMissingColumn, "", a.Type(), fmt.Sprintf("column %q not found in dataset %q", column, datasetKey))
		}

		set := make(map[string]bool)
		for _, v := range ds.Column(column) {
			if !caseSensitive {
				v = strings.ToLower(v)
			}
			set[v] = true
		}
		names = append(names, name)
		sets[name] = set
	}

	sizes := map[string]int{}
	for _, name := range names {
		sizes[name] = len(sets[name])
	}

	pairwise := map[string]any{}
	for i := 0; i < len(names); i++ {
		for j := i + 1; j < len(names); j++ {
			a1, b1 := names[i], names[j]
			inter := intersectionSize(sets[a1], sets[b1])
			union := len(sets[a1]) + len(sets[b1]) - inter
			jaccard := 0.0
			if union > 0 {
				jaccard = float64(inter) / float64(union)
			}
			key := a1 + "__" + b1
			pairwise[key] = map[string]any{"intersection": inter, "union": union, "jaccard": jaccard}
		}
	}

	fullIntersection := intersectAll(sets, names)
	uniques := map[string]int{}
	uniqueSets := map[string]map[string]bool{}
	for _, name := range names {
		u := uniqueToSet(sets, names, name)
		uniques[name] = len(u)
		uniqueSets[name] = u
	}

	if persistSets {
		full := make([]model.Record, 0, len(fullIntersection))
		for id := range fullIntersection {
			full = append(full, model.Record{"id": id})
		}
		key := outputKey
		if key == "" {
			key = "set_overlap"
		}
		execCtx.SetDataset(key+"_intersection", model.NewDataset([]string{"id"}, full))
		for _, name := range names {
			rows := make([]model.Record, 0, len(uniqueSets[name]))
			for id := range uniqueSets[name] {
				rows = append(rows, model.Record{"id": id})
			}
			execCtx.SetDataset(fmt.Sprintf("%s_unique_%s", key, name), model.NewDataset([]string{"id"}, rows))
		}
	}

	result := map[string]any{
		"set_sizes":            sizes,
		"unique_to_set":        uniques,
		"full_intersection":    len(fullIntersection),
		"pairwise":             pairwise,
	}
	execCtx.SetStatistic("set_overlap", result)

	return &action.Result{
		Success: true,
		Message: fmt.Sprintf("computed overlap across %d sets", len(names)),
		Metrics: result,
	}, nil
}

func intersectionSize(a, b map[string]bool) int {
	n := 0
	for k := range a {
		if b[k] {
			n++
		}
	}
	return n
}

func intersectAll(sets map[string]map[string]bool, names []string) map[string]bool {
	if len(names) == 0 {
		return map[string]bool{}
	}
	out := map[string]bool{}
	for k := range sets[names[0]] {
		out[k] = true
	}
	for _, name := range names[1:] {
		next := map[string]bool{}
		for k := range out {
			if sets[name][k] {
				next[k] = true
			}
		}
		out = next
	}
	return out
}

func uniqueToSet(sets map[string]map[string]bool, names []string, target string) map[string]bool {
	out := map[string]bool{}
	for k := range sets[target] {
		inOther := false
		for _, other := range names {
			if other == target {
				continue
			}
			if sets[other][k] {
				inOther = true
				break
			}
		}
		if !inOther {
			out[k] = true
		}
	}
	return out
}
