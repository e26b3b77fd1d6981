package actions

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/arpanauts/biomapper-sub014/pkg/action"
	"github.com/arpanauts/biomapper-sub014/pkg/model"
	"github.com/arpanauts/biomapper-sub014/pkg/registry"
)

func init() {
	registry.Default.MustRegister("filter_dataset", func() action.Action { return &FilterDataset{} })
}

// FilterDataset keeps or removes rows by predicate on a named column. It
// never mutates its input dataset; it always produces a new one.
type FilterDataset struct {
	action.Base
}

func (a *FilterDataset) Type() string       { return "filter_dataset" }
func (a *FilterDataset) Class() action.Class { return action.ClassTransformer }

func (a *FilterDataset) ParamsSchema() action.Schema {
	return action.Schema{Fields: []action.Field{
		{Name: "input_key", Type: action.FieldString, Required: true},
		{Name: "output_key", Type: action.FieldString, Required: true},
		{Name: "column", Type: action.FieldString, Required: true},
		{Name: "predicate", Type: action.FieldString, Required: true, Enum: []string{"equals", "contains", "regex", "range", "in_list"}},
		{Name: "value", Type: action.FieldString},
		{Name: "values", Type: action.FieldArray, Items: action.FieldString},
		{Name: "min", Type: action.FieldNumber},
		{Name: "max", Type: action.FieldNumber},
		{Name: "invert", Type: action.FieldBool, Default: false},
	}}
}

func (a *FilterDataset) Execute(ctx context.Context, p map[string]any, execCtx *model.ExecutionContext) (*action.Result, error) {
	inputKey, _ := p["input_key"].(string)
	outputKey, _ := p["output_key"].(string)
	column, _ := p["column"].(string)
	predicate, _ := p["predicate"].(string)
	value, _ := p["value"].(string)
	invert, _ := p["invert"].(bool)

	ds, ok := execCtx.GetDataset(inputKey)
	if !ok {
		return nil, model.NewError(model.KindDatasetNotFound, "", a.Type(), fmt.Sprintf("dataset %q not found", inputKey))
	}
	if !ds.HasColumn(column) {
		return nil, model.NewError(model.KindMissingColumn, "", a.Type(), fmt.Sprintf("column %q not found in dataset %q", column, inputKey))
	}

	var re *regexp.Regexp
	if predicate == "regex" {
		var err error
		re, err = regexp.Compile(value)
		if err != nil {
			return nil, model.NewError(model.KindValidationError, "", a.Type(), fmt.Sprintf("invalid regex %q: %v", value, err))
		}
	}

	var values map[string]bool
	if predicate == "in_list" {
		values = map[string]bool{}
		if raw, ok := p["values"].([]any); ok {
			for _, v := range raw {
				if s, ok := v.(string); ok {
					values[s] = true
				}
			}
		}
	}

	var min, max float64
	if predicate == "range" {
		min, _ = p["min"].(float64)
		max, _ = p["max"].(float64)
	}

	var kept []model.Record
	for _, row := range ds.Rows {
		match := evaluatePredicate(row[column], predicate, value, re, values, min, max)
		if invert {
			match = !match
		}
		if match {
			kept = append(kept, row)
		}
	}

	execCtx.SetDataset(outputKey, model.NewDataset(ds.Columns, kept))
	return &action.Result{
		Success: true,
		Message: fmt.Sprintf("kept %d of %d rows", len(kept), len(ds.Rows)),
		Metrics: map[string]any{"rows_in": len(ds.Rows), "rows_out": len(kept)},
	}, nil
}

func evaluatePredicate(cellValue any, predicate, value string, re *regexp.Regexp, values map[string]bool, min, max float64) bool {
	s, _ := cellValue.(string)
	switch predicate {
	case "equals":
		return s == value
	case "contains":
		return strings.Contains(s, value)
	case "regex":
		return re != nil && re.MatchString(s)
	case "in_list":
		return values[s]
	case "range":
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			if f, ok := cellValue.(float64); ok {
				n = f
			} else {
				return false
			}
		}
		return n >= min && n <= max
	default:
		return false
	}
}
