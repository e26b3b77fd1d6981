// Package actions implements the core, domain-agnostic primitive actions
// every strategy composes: loading, parsing, filtering, merging, set
// overlap, and export. Each self-registers into registry.Default at
// package init(), the way the teacher's built-in agents register
// themselves via pkg/config.GetBuiltinConfig.
package actions

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/arpanauts/biomapper-sub014/pkg/action"
	"github.com/arpanauts/biomapper-sub014/pkg/model"
	"github.com/arpanauts/biomapper-sub014/pkg/registry"
)

func init() {
	registry.Default.MustRegister("load_dataset_identifiers", func() action.Action { return &LoadDatasetIdentifiers{} })
}

// LoadDatasetIdentifiers reads a delimited text file and produces a Dataset
// under output_key. encoding/csv is used directly — no third-party CSV
// library surfaced anywhere in the retrieval pack, so the standard library
// is the only grounded choice here (see DESIGN.md).
type LoadDatasetIdentifiers struct {
	action.Base
}

func (a *LoadDatasetIdentifiers) Type() string       { return "load_dataset_identifiers" }
func (a *LoadDatasetIdentifiers) Class() action.Class { return action.ClassLoaderSink }
func (a *LoadDatasetIdentifiers) Produces() []string  { return []string{"<output_key>"} }

func (a *LoadDatasetIdentifiers) ParamsSchema() action.Schema {
	return action.Schema{Fields: []action.Field{
		{Name: "file_path", Type: action.FieldString, Required: true},
		{Name: "identifier_column", Type: action.FieldString, Required: true},
		{Name: "output_key", Type: action.FieldString, Required: true},
		{Name: "additional_columns", Type: action.FieldArray, Items: action.FieldString},
		{Name: "drop_empty", Type: action.FieldBool, Default: true},
		{Name: "strip_whitespace", Type: action.FieldBool, Default: true},
		{Name: "delimiter", Type: action.FieldString, Default: "\t"},
		{Name: "encoding", Type: action.FieldString, Default: "utf-8"},
	}}
}

func (a *LoadDatasetIdentifiers) Execute(ctx context.Context, p map[string]any, execCtx *model.ExecutionContext) (*action.Result, error) {
	filePath, _ := p["file_path"].(string)
	idCol, _ := p["identifier_column"].(string)
	outputKey, _ := p["output_key"].(string)
	dropEmpty, _ := p["drop_empty"].(bool)
	stripWS, _ := p["strip_whitespace"].(bool)
	delim, _ := p["delimiter"].(string)
	if delim == "" {
		delim = "\t"
	}

	var additional []string
	if raw, ok := p["additional_columns"].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				additional = append(additional, s)
			}
		}
	}

	f, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, model.NewError(model.KindFileNotFound, "", a.Type(), fmt.Sprintf("file not found: %s", filePath))
		}
		return nil, model.Wrap(model.KindFileNotFound, "", a.Type(), err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.Comma = rune(delim[0])
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, model.Wrap(model.KindFileNotFound, "", a.Type(), err)
	}

	colIndex := make(map[string]int, len(header))
	for i, h := range header {
		colIndex[strings.TrimSpace(h)] = i
	}
	if _, ok := colIndex[idCol]; !ok {
		return nil, model.NewError(model.KindMissingColumn, "", a.Type(), fmt.Sprintf("identifier_column %q not found in %s (header: %v)", idCol, filePath, header))
	}
	for _, c := range additional {
		if _, ok := colIndex[c]; !ok {
			return nil, model.NewError(model.KindMissingColumn, "", a.Type(), fmt.Sprintf("additional column %q not found in %s", c, filePath))
		}
	}

	columns := append([]string{idCol}, additional...)
	var rows []model.Record
	dropped := 0
	for {
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// A mid-file parse error must not yield a truncated dataset
			// labeled as success.
			return nil, model.Wrap(model.KindInternalError, "", a.Type(), fmt.Errorf("parse %s: %w", filePath, err))
		}
		idVal := valueAt(fields, colIndex[idCol])
		if stripWS {
			idVal = strings.TrimSpace(idVal)
		}
		if idVal == "" && dropEmpty {
			dropped++
			continue
		}
		row := model.Record{idCol: idVal}
		for _, c := range additional {
			v := valueAt(fields, colIndex[c])
			if stripWS {
				v = strings.TrimSpace(v)
			}
			row[c] = v
		}
		rows = append(rows, row)
	}

	execCtx.SetDataset(outputKey, model.NewDataset(columns, rows))

	return &action.Result{
		Success: true,
		Message: fmt.Sprintf("loaded %d rows from %s", len(rows), filePath),
		Metrics: map[string]any{"rows_loaded": len(rows), "rows_dropped": dropped},
	}, nil
}

func valueAt(fields []string, idx int) string {
	if idx < 0 || idx >= len(fields) {
		return ""
	}
	return fields[idx]
}
