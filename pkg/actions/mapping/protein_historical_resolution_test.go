package mapping

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arpanauts/biomapper-sub014/pkg/model"
	"github.com/arpanauts/biomapper-sub014/pkg/resolver"
)

func TestProteinHistoricalResolution_ResolvesSecondaryAccession(t *testing.T) {
	r := &stubResolver{name: "history", cap: resolver.CapabilityExactLookup, by: map[string][]resolver.Candidate{
		"P00001": {{TargetID: "P99999", Confidence: 1.0, Method: "uniprot_history"}},
	}}
	Configure("protein_historical_resolution", resolver.NewShell(r, time.Second, 0, 0, nil))

	execCtx := model.NewExecutionContext("job-1", "test", nil, nil)
	execCtx.SetDataset("cohort", model.NewDataset([]string{"uniprot"}, []model.Record{
		{"uniprot": "P00001"}, {"uniprot": "UNKNOWN"},
	}))

	a := &ProteinHistoricalResolution{}
	params, err := a.ParamsSchema().Validate("step", a.Type(), map[string]any{
		"input_key":  "cohort",
		"column":     "uniprot",
		"output_key": "resolved",
	})
	require.NoError(t, err)

	result, err := a.Execute(context.Background(), params, execCtx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Metrics["matched"])

	var resolved model.StandardMappingResult
	for _, res := range result.MappingResults {
		if res.SourceID == "P00001" {
			resolved = res
		}
	}
	require.NotNil(t, resolved.TargetID)
	assert.Equal(t, "P99999", *resolved.TargetID)
	assert.Equal(t, model.MatchMethodHistorical, resolved.MatchMethod)
	assert.Equal(t, model.ConfidenceHistorical, resolved.Confidence)

	ds, ok := execCtx.GetDataset("resolved")
	require.True(t, ok)
	assert.Len(t, ds.Rows, 1)
}

func TestProteinHistoricalResolution_NoCandidatesIsUnmapped(t *testing.T) {
	r := &stubResolver{name: "history2", cap: resolver.CapabilityExactLookup, by: map[string][]resolver.Candidate{}}
	Configure("protein_historical_resolution", resolver.NewShell(r, time.Second, 0, 0, nil))

	execCtx := model.NewExecutionContext("job-1", "test", nil, nil)
	execCtx.SetDataset("cohort", model.NewDataset([]string{"uniprot"}, []model.Record{{"uniprot": "P00001"}}))

	a := &ProteinHistoricalResolution{}
	params, err := a.ParamsSchema().Validate("step", a.Type(), map[string]any{
		"input_key":  "cohort",
		"column":     "uniprot",
		"output_key": "resolved",
	})
	require.NoError(t, err)

	result, err := a.Execute(context.Background(), params, execCtx)
	require.NoError(t, err)
	assert.Equal(t, model.MatchMethodUnmapped, result.MappingResults[0].MatchMethod)
}

func TestProteinHistoricalResolution_MissingColumn(t *testing.T) {
	execCtx := model.NewExecutionContext("job-1", "test", nil, nil)
	execCtx.SetDataset("cohort", model.NewDataset([]string{"other"}, nil))

	a := &ProteinHistoricalResolution{}
	params, err := a.ParamsSchema().Validate("step", a.Type(), map[string]any{
		"input_key":  "cohort",
		"column":     "uniprot",
		"output_key": "resolved",
	})
	require.NoError(t, err)

	_, err = a.Execute(context.Background(), params, execCtx)
	require.Error(t, err)
	merr, ok := err.(*model.Error)
	require.True(t, ok)
	assert.Equal(t, model.KindMissingColumn, merr.Kind)
}
