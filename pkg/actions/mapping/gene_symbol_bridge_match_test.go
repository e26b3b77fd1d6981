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

func TestGeneSymbolBridgeMatch_ResolvesViaBridge(t *testing.T) {
	r := &stubResolver{name: "bridge", cap: resolver.CapabilityBridgeLookup, by: map[string][]resolver.Candidate{
		"TP53": {{TargetID: "ENSG00000141510", Confidence: 1.0}},
	}}
	Configure("gene_symbol_bridge_match", resolver.NewShell(r, time.Second, 0, 0, nil))

	execCtx := model.NewExecutionContext("job-1", "test", nil, nil)
	execCtx.SetDataset("genes", model.NewDataset([]string{"symbol"}, []model.Record{
		{"symbol": "TP53"}, {"symbol": "UNKNOWN"},
	}))

	a := &GeneSymbolBridgeMatch{}
	params, err := a.ParamsSchema().Validate("step", a.Type(), map[string]any{
		"input_key":  "genes",
		"column":     "symbol",
		"output_key": "bridged",
	})
	require.NoError(t, err)

	result, err := a.Execute(context.Background(), params, execCtx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Metrics["matched"])

	var tp53 model.StandardMappingResult
	for _, res := range result.MappingResults {
		if res.SourceID == "TP53" {
			tp53 = res
		}
	}
	require.NotNil(t, tp53.TargetID)
	assert.Equal(t, "ENSG00000141510", *tp53.TargetID)
	assert.Equal(t, model.MatchMethodEnsemblBridge, tp53.MatchMethod)
	assert.Equal(t, model.ConfidenceGeneSymbolBridge, tp53.Confidence)
}

func TestGeneSymbolBridgeMatch_NonEnsemblBridgeUsesGenericMethod(t *testing.T) {
	r := &stubResolver{name: "bridge2", cap: resolver.CapabilityBridgeLookup, by: map[string][]resolver.Candidate{
		"TP53": {{TargetID: "HGNC:11998", Confidence: 1.0}},
	}}
	Configure("gene_symbol_bridge_match", resolver.NewShell(r, time.Second, 0, 0, nil))

	execCtx := model.NewExecutionContext("job-1", "test", nil, nil)
	execCtx.SetDataset("genes", model.NewDataset([]string{"symbol"}, []model.Record{{"symbol": "TP53"}}))

	a := &GeneSymbolBridgeMatch{}
	params, err := a.ParamsSchema().Validate("step", a.Type(), map[string]any{
		"input_key":  "genes",
		"column":     "symbol",
		"output_key": "bridged",
		"bridge_via": "hgnc",
	})
	require.NoError(t, err)

	result, err := a.Execute(context.Background(), params, execCtx)
	require.NoError(t, err)
	assert.Equal(t, model.MatchMethodGeneSymbolBridge, result.MappingResults[0].MatchMethod)
}

func TestGeneSymbolBridgeMatch_DatasetNotFound(t *testing.T) {
	execCtx := model.NewExecutionContext("job-1", "test", nil, nil)
	a := &GeneSymbolBridgeMatch{}
	params, err := a.ParamsSchema().Validate("step", a.Type(), map[string]any{
		"input_key":  "missing",
		"column":     "symbol",
		"output_key": "bridged",
	})
	require.NoError(t, err)

	_, err = a.Execute(context.Background(), params, execCtx)
	require.Error(t, err)
	merr, ok := err.(*model.Error)
	require.True(t, ok)
	assert.Equal(t, model.KindDatasetNotFound, merr.Kind)
}
