package actions

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"

	"github.com/arpanauts/biomapper-sub014/pkg/action"
	"github.com/arpanauts/biomapper-sub014/pkg/model"
	"github.com/arpanauts/biomapper-sub014/pkg/registry"
)

func init() {
	registry.Default.MustRegister("export_dataset", func() action.Action { return &ExportDataset{} })
}

// ExportDataset writes a Dataset to a delimited file and records its path
// under output_files.
type ExportDataset struct {
	action.Base
}

func (a *ExportDataset) Type() string       { return "export_dataset" }
func (a *ExportDataset) Class() action.Class { return action.ClassReporter }

func (a *ExportDataset) ParamsSchema() action.Schema {
	return action.Schema{Fields: []action.Field{
		{Name: "input_key", Type: action.FieldString, Required: true},
		{Name: "file_path", Type: action.FieldString, Required: true},
		{Name: "delimiter", Type: action.FieldString, Default: "\t"},
		{Name: "output_file_key", Type: action.FieldString},
	}}
}

func (a *ExportDataset) Execute(ctx context.Context, p map[string]any, execCtx *model.ExecutionContext) (*action.Result, error) {
	inputKey, _ := p["input_key"].(string)
	filePath, _ := p["file_path"].(string)
	delim, _ := p["delimiter"].(string)
	if delim == "" {
		delim = "\t"
	}
	outputFileKey, _ := p["output_file_key"].(string)
	if outputFileKey == "" {
		outputFileKey = inputKey
	}

	ds, ok := execCtx.GetDataset(inputKey)
	if !ok {
		return nil, model.NewError(model.KindDatasetNotFound, "", a.Type(), fmt.Sprintf("dataset %q not found", inputKey))
	}

	f, err := os.Create(filePath)
	if err != nil {
		return nil, model.Wrap(model.KindFileWriteFailed, "", a.Type(), err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Comma = rune(delim[0])
	defer w.Flush()

	columns := ds.Columns
	if columns == nil && len(ds.Rows) > 0 {
		for c := range ds.Rows[0] {
			columns = append(columns, c)
		}
	}
	if err := w.Write(columns); err != nil {
		return nil, model.Wrap(model.KindFileWriteFailed, "", a.Type(), err)
	}
	for _, row := range ds.Rows {
		fields := make([]string, len(columns))
		for i, c := range columns {
			fields[i] = fmt.Sprintf("%v", row[c])
		}
		if err := w.Write(fields); err != nil {
			return nil, model.Wrap(model.KindFileWriteFailed, "", a.Type(), err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, model.Wrap(model.KindFileWriteFailed, "", a.Type(), err)
	}

	execCtx.SetOutputFile(outputFileKey, filePath)

	return &action.Result{
		Success: true,
		Message: fmt.Sprintf("exported %d rows to %s", len(ds.Rows), filePath),
		Metrics: map[string]any{"rows_exported": len(ds.Rows)},
		Outputs: map[string]any{"file_path": filePath},
	}, nil
}
