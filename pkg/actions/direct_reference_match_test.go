package actions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arpanauts/biomapper-sub014/pkg/model"
)

func TestDirectReferenceMatch_MatchesAtFullConfidence(t *testing.T) {
	execCtx := model.NewExecutionContext("job-1", "test", nil, nil)
	execCtx.SetDataset("cohort", model.NewDataset([]string{"uniprot"}, []model.Record{
		{"uniprot": "P12345"},
		{"uniprot": "Q99999"},
	}))
	execCtx.SetDataset("reference", model.NewDataset([]string{"uniprot", "gene"}, []model.Record{
		{"uniprot": "P12345", "gene": "ALB"},
	}))

	a := &DirectReferenceMatch{}
	params, err := a.ParamsSchema().Validate("step", a.Type(), map[string]any{
		"input_key":        "cohort",
		"source_column":    "uniprot",
		"reference_key":    "reference",
		"reference_column": "uniprot",
		"output_key":       "direct_raw",
	})
	require.NoError(t, err)

	result, err := a.Execute(context.Background(), params, execCtx)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Metrics["matched"])

	require.Len(t, result.MappingResults, 1)
	m := result.MappingResults[0]
	assert.Equal(t, "P12345", m.SourceID)
	require.NotNil(t, m.TargetID)
	assert.Equal(t, "P12345", *m.TargetID)
	assert.Equal(t, model.MatchMethodDirect, m.MatchMethod)
	assert.Equal(t, model.ConfidenceDirect, m.Confidence)
}

func TestDirectReferenceMatch_TargetColumnRemapsIdentifier(t *testing.T) {
	execCtx := model.NewExecutionContext("job-1", "test", nil, nil)
	execCtx.SetDataset("cohort", model.NewDataset([]string{"hmdb"}, []model.Record{
		{"hmdb": "HMDB0000001"},
	}))
	execCtx.SetDataset("reference", model.NewDataset([]string{"hmdb", "kegg"}, []model.Record{
		{"hmdb": "HMDB0000001", "kegg": "C00001"},
	}))

	a := &DirectReferenceMatch{}
	params, err := a.ParamsSchema().Validate("step", a.Type(), map[string]any{
		"input_key":        "cohort",
		"source_column":    "hmdb",
		"reference_key":    "reference",
		"reference_column": "hmdb",
		"target_column":    "kegg",
		"output_key":       "direct_raw",
	})
	require.NoError(t, err)

	result, err := a.Execute(context.Background(), params, execCtx)
	require.NoError(t, err)
	require.Len(t, result.MappingResults, 1)
	assert.Equal(t, "C00001", *result.MappingResults[0].TargetID)
}

func TestDirectReferenceMatch_MissingReferenceColumn(t *testing.T) {
	execCtx := model.NewExecutionContext("job-1", "test", nil, nil)
	execCtx.SetDataset("cohort", model.NewDataset([]string{"uniprot"}, nil))
	execCtx.SetDataset("reference", model.NewDataset([]string{"other"}, nil))

	a := &DirectReferenceMatch{}
	params, err := a.ParamsSchema().Validate("step", a.Type(), map[string]any{
		"input_key":        "cohort",
		"source_column":    "uniprot",
		"reference_key":    "reference",
		"reference_column": "uniprot",
		"output_key":       "direct_raw",
	})
	require.NoError(t, err)

	_, err = a.Execute(context.Background(), params, execCtx)
	require.Error(t, err)
	merr, ok := err.(*model.Error)
	require.True(t, ok)
	assert.Equal(t, model.KindMissingColumn, merr.Kind)
}
