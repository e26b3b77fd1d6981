package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestStandardMappingResult_Validate(t *testing.T) {
	cases := []struct {
		name    string
		result  StandardMappingResult
		wantErr bool
	}{
		{
			name:   "valid direct match",
			result: StandardMappingResult{SourceID: "P1", TargetID: strPtr("P1"), MatchMethod: MatchMethodDirect, Confidence: 1.0, Stage: 1},
		},
		{
			name:    "empty source_id",
			result:  StandardMappingResult{SourceID: "", MatchMethod: MatchMethodUnmapped, Stage: 1},
			wantErr: true,
		},
		{
			name:    "nil target with non-unmapped method",
			result:  StandardMappingResult{SourceID: "P1", MatchMethod: MatchMethodDirect, Stage: 1},
			wantErr: true,
		},
		{
			name:    "nil target with nonzero confidence",
			result:  StandardMappingResult{SourceID: "P1", MatchMethod: MatchMethodUnmapped, Confidence: 0.5, Stage: 1},
			wantErr: true,
		},
		{
			name:    "confidence out of range",
			result:  StandardMappingResult{SourceID: "P1", TargetID: strPtr("P1"), MatchMethod: MatchMethodDirect, Confidence: 1.5, Stage: 1},
			wantErr: true,
		},
		{
			name:    "stage below 1",
			result:  StandardMappingResult{SourceID: "P1", TargetID: strPtr("P1"), MatchMethod: MatchMethodDirect, Confidence: 1.0, Stage: 0},
			wantErr: true,
		},
		{
			name:   "valid unmapped",
			result: Unmapped("P1", 2),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.result.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEncodeDecodeRecord_RoundTrip(t *testing.T) {
	original := StandardMappingResult{
		SourceID:    "P12345",
		TargetID:    strPtr("P12345"),
		MatchMethod: MatchMethodHistorical,
		Confidence:  ConfidenceHistorical,
		Stage:       2,
		Details:     strPtr("resolved via historical accession"),
		IsComposite: true,
		ParsedValue: strPtr("P12345"),
	}

	rec := EncodeRecord(original)
	decoded, err := DecodeRecord(rec)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}

func TestEncodeDecodeRecord_UnmappedRoundTrip(t *testing.T) {
	original := Unmapped("Q99999", 3)

	decoded, err := DecodeRecord(EncodeRecord(original))
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}

func TestDecodeRecord_RejectsInvalidResult(t *testing.T) {
	rec := Record{
		"source_id":    "P1",
		"target_id":    nil,
		"match_method": MatchMethodDirect,
		"confidence":   0.0,
		"stage":        float64(1),
		"is_composite": false,
	}
	_, err := DecodeRecord(rec)
	assert.Error(t, err)
}
