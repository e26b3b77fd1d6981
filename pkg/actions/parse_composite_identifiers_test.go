package actions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arpanauts/biomapper-sub014/pkg/model"
)

func TestParseCompositeIdentifiers_ExpandsOnEverySeparator(t *testing.T) {
	ds := model.NewDataset([]string{"uniprot"}, []model.Record{
		{"uniprot": "P1,P2;P3"},
		{"uniprot": "Q1"},
	})
	execCtx := model.NewExecutionContext("job-1", "test", nil, nil)
	execCtx.SetDataset("cohort", ds)

	a := &ParseCompositeIdentifiers{}
	params, err := a.ParamsSchema().Validate("step", a.Type(), map[string]any{
		"input_key":  "cohort",
		"output_key": "expanded",
		"column":     "uniprot",
		"separators": []any{",", ";"},
	})
	require.NoError(t, err)

	result, err := a.Execute(context.Background(), params, execCtx)
	require.NoError(t, err)
	assert.True(t, result.Success)

	out, ok := execCtx.GetDataset("expanded")
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"P1", "P2", "P3", "Q1"}, out.Column("uniprot"))
	assert.Equal(t, "P1,P2;P3", out.Rows[0]["_original_composite"])
	assert.Equal(t, float64(3), out.Rows[0]["_expansion_count"])
}

func TestParseCompositeIdentifiers_MixedSeparatorsAndEmptyRows(t *testing.T) {
	ds := model.NewDataset([]string{"uniprot"}, []model.Record{
		{"uniprot": "P12345"},
		{"uniprot": "Q67890,Q11111"},
		{"uniprot": "A12345;B67890;C99999"},
		{"uniprot": "D55555|E66666"},
		{"uniprot": "F77777"},
		{"uniprot": ""},
		{"uniprot": nil},
	})
	execCtx := model.NewExecutionContext("job-1", "test", nil, nil)
	execCtx.SetDataset("proteins", ds)

	a := &ParseCompositeIdentifiers{}
	params, err := a.ParamsSchema().Validate("step", a.Type(), map[string]any{
		"input_key":       "proteins",
		"output_key":      "proteins_expanded",
		"column":          "uniprot",
		"separators":      []any{",", ";", "|"},
		"skip_empty":      true,
		"track_expansion": true,
	})
	require.NoError(t, err)

	result, err := a.Execute(context.Background(), params, execCtx)
	require.NoError(t, err)
	assert.True(t, result.Success)

	out, ok := execCtx.GetDataset("proteins_expanded")
	require.True(t, ok)
	require.Len(t, out.Rows, 10)

	var fromQComposite []model.Record
	for _, row := range out.Rows {
		if row["_original_composite"] == "Q67890,Q11111" {
			fromQComposite = append(fromQComposite, row)
		}
	}
	require.Len(t, fromQComposite, 2)
	for _, row := range fromQComposite {
		assert.Equal(t, float64(2), row["_expansion_count"])
	}

	stats := execCtx.StatisticsSnapshot()["composite_expansion"].(map[string]any)
	assert.Equal(t, 7, stats["total_input_rows"])
	assert.Equal(t, 10, stats["total_output_rows"])
	assert.Equal(t, 3, stats["max_components"])
	assert.Equal(t, 3, stats["rows_with_composites"])
}

func TestParseCompositeIdentifiers_SkipsEmptyByDefault(t *testing.T) {
	ds := model.NewDataset([]string{"uniprot"}, []model.Record{{"uniprot": ""}})
	execCtx := model.NewExecutionContext("job-1", "test", nil, nil)
	execCtx.SetDataset("cohort", ds)

	a := &ParseCompositeIdentifiers{}
	params, err := a.ParamsSchema().Validate("step", a.Type(), map[string]any{
		"input_key":  "cohort",
		"output_key": "expanded",
		"column":     "uniprot",
		"separators": []any{","},
	})
	require.NoError(t, err)

	_, err = a.Execute(context.Background(), params, execCtx)
	require.NoError(t, err)

	out, _ := execCtx.GetDataset("expanded")
	require.Len(t, out.Rows, 1)
	assert.Equal(t, true, out.Rows[0]["_skipped"])
}

func TestParseCompositeIdentifiers_TrackExpansionRecordsStats(t *testing.T) {
	ds := model.NewDataset([]string{"uniprot"}, []model.Record{{"uniprot": "P1,P2,P3"}})
	execCtx := model.NewExecutionContext("job-1", "test", nil, nil)
	execCtx.SetDataset("cohort", ds)

	a := &ParseCompositeIdentifiers{}
	params, err := a.ParamsSchema().Validate("step", a.Type(), map[string]any{
		"input_key":       "cohort",
		"output_key":      "expanded",
		"column":          "uniprot",
		"separators":      []any{","},
		"track_expansion": true,
	})
	require.NoError(t, err)

	_, err = a.Execute(context.Background(), params, execCtx)
	require.NoError(t, err)

	stats := execCtx.StatisticsSnapshot()["composite_expansion"].(map[string]any)
	assert.Equal(t, 3, stats["max_components"])
	assert.Equal(t, 1, stats["rows_with_composites"])
}

func TestParseCompositeIdentifiers_MissingColumn(t *testing.T) {
	execCtx := model.NewExecutionContext("job-1", "test", nil, nil)
	execCtx.SetDataset("cohort", model.NewDataset([]string{"other"}, nil))

	a := &ParseCompositeIdentifiers{}
	params, err := a.ParamsSchema().Validate("step", a.Type(), map[string]any{
		"input_key":  "cohort",
		"output_key": "expanded",
		"column":     "uniprot",
		"separators": []any{","},
	})
	require.NoError(t, err)

	_, err = a.Execute(context.Background(), params, execCtx)
	require.Error(t, err)
	merr, ok := err.(*model.Error)
	require.True(t, ok)
	assert.Equal(t, model.KindMissingColumn, merr.Kind)
}
