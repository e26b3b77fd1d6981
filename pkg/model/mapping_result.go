package model

import "fmt"

// Match methods recognized by the confidence framework (spec.md §4.7).
const (
	MatchMethodDirect             = "direct_merge"
	MatchMethodHistorical         = "historical_api"
	MatchMethodGeneSymbolBridge   = "gene_symbol_bridge"
	MatchMethodEnsemblBridge      = "ensembl_bridge"
	MatchMethodFuzzy              = "fuzzy"
	MatchMethodSemantic           = "semantic"
	MatchMethodVector             = "vector"
	MatchMethodLLM                = "llm"
	MatchMethodCompositeExpansion = "composite_expansion"
	MatchMethodUnmapped           = "unmapped"
)

// Standard confidence scores for each match method, per the confidence
// framework. Similarity-based methods report their own confidence within
// the documented band and are not constrained to a single constant here.
const (
	ConfidenceDirect           = 1.0
	ConfidenceCompositeDerived = 0.95
	ConfidenceHistorical       = 0.90
	ConfidenceGeneSymbolBridge = 0.85
	ConfidenceSimilarityMin    = 0.70
	ConfidenceSimilarityMax    = 0.80
)

// StandardMappingResult is the canonical per-identifier mapping record
// shared across every mapping action in the engine.
type StandardMappingResult struct {
	SourceID     string  `json:"source_id"`
	TargetID     *string `json:"target_id"`
	MatchMethod  string  `json:"match_method"`
	Confidence   float64 `json:"confidence"`
	Stage        int     `json:"stage"`
	Details      *string `json:"details,omitempty"`
	IsComposite  bool    `json:"is_composite"`
	ParsedValue  *string `json:"parsed_value,omitempty"`
}

// Validate enforces the invariants listed in spec.md §3 for
// StandardMappingResult, returning a *Error of kind VALIDATION_ERROR on
// the first violation found.
func (r *StandardMappingResult) Validate() error {
	if r.SourceID == "" {
		return NewError(KindValidationError, "", "", "source_id must be non-empty")
	}
	if r.TargetID == nil {
		if r.MatchMethod != MatchMethodUnmapped {
			return NewError(KindValidationError, "", "",
				fmt.Sprintf("source_id %q: target_id is null but match_method is %q, want %q", r.SourceID, r.MatchMethod, MatchMethodUnmapped))
		}
		if r.Confidence != 0.0 {
			return NewError(KindValidationError, "", "",
				fmt.Sprintf("source_id %q: target_id is null but confidence is %v, want 0.0", r.SourceID, r.Confidence))
		}
	}
	if r.Confidence < 0.0 || r.Confidence > 1.0 {
		return NewError(KindValidationError, "", "",
			fmt.Sprintf("source_id %q: confidence %v out of range [0.0, 1.0]", r.SourceID, r.Confidence))
	}
	if r.Stage < 1 {
		return NewError(KindValidationError, "", "",
			fmt.Sprintf("source_id %q: stage %d must be >= 1", r.SourceID, r.Stage))
	}
	if r.MatchMethod == "" {
		return NewError(KindValidationError, "", "",
			fmt.Sprintf("source_id %q: match_method must be non-empty", r.SourceID))
	}
	return nil
}

// Unmapped constructs the sentinel "unmapped" result for a source_id at
// the given terminal stage.
func Unmapped(sourceID string, stage int) StandardMappingResult {
	return StandardMappingResult{
		SourceID:    sourceID,
		TargetID:    nil,
		MatchMethod: MatchMethodUnmapped,
		Confidence:  0.0,
		Stage:       stage,
	}
}

// mappingResultRecord lists the flattened, columnar fields of a
// StandardMappingResult. Nothing uses it: EncodeRecord and DecodeRecord
// work on Record maps directly.
type mappingResultRecord struct {
	SourceID    string
	TargetID    string
	MatchMethod string
	Confidence  float64
	Stage       int
	Details     string
	IsComposite bool
	ParsedValue string
}

// EncodeRecord serializes a StandardMappingResult to its columnar record
// form, suitable for TSV/CSV export via the export_dataset action.
func EncodeRecord(r StandardMappingResult) Record {
	rec := Record{
		"source_id":    r.SourceID,
		"match_method": r.MatchMethod,
		"confidence":   r.Confidence,
		"stage":        float64(r.Stage),
		"is_composite": r.IsComposite,
	}
	if r.TargetID != nil {
		rec["target_id"] = *r.TargetID
	} else {
		rec["target_id"] = nil
	}
	if r.Details != nil {
		rec["details"] = *r.Details
	} else {
		rec["details"] = nil
	}
	if r.ParsedValue != nil {
		rec["parsed_value"] = *r.ParsedValue
	} else {
		rec["parsed_value"] = nil
	}
	return rec
}

// DecodeRecord reconstructs a StandardMappingResult from its columnar
// record form. decode(encode(r)) == r for any valid r (the round-trip law
// from spec.md §4.1).
func DecodeRecord(rec Record) (StandardMappingResult, error) {
	var r StandardMappingResult

	sourceID, _ := rec["source_id"].(string)
	r.SourceID = sourceID

	if v, ok := rec["target_id"]; ok && v != nil {
		if s, ok := v.(string); ok {
			r.TargetID = &s
		}
	}
	if v, ok := rec["match_method"].(string); ok {
		r.MatchMethod = v
	}
	switch v := rec["confidence"].(type) {
	case float64:
		r.Confidence = v
	case int:
		r.Confidence = float64(v)
	}
	switch v := rec["stage"].(type) {
	case float64:
		r.Stage = int(v)
	case int:
		r.Stage = v
	}
	if v, ok := rec["details"]; ok && v != nil {
		if s, ok := v.(string); ok {
			r.Details = &s
		}
	}
	if v, ok := rec["is_composite"].(bool); ok {
		r.IsComposite = v
	}
	if v, ok := rec["parsed_value"]; ok && v != nil {
		if s, ok := v.(string); ok {
			r.ParsedValue = &s
		}
	}

	if err := r.Validate(); err != nil {
		return r, err
	}
	return r, nil
}
