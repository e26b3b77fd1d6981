package model

// Record is a single dataset row: a mapping from column name to value.
// Values are restricted to the union the specification allows: string,
// float64, nil, or a list of strings.
type Record map[string]any

// Clone returns a shallow copy of the record, safe to hand to a new
// Dataset without aliasing the original row's map.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Dataset is an ordered, immutable sequence of records living under a
// unique dataset-key in an ExecutionContext. Transformations never mutate
// a Dataset in place — they produce a new one under a new key.
type Dataset struct {
	Columns []string
	Rows    []Record
}

// NewDataset builds a Dataset from rows, inferring the column set from the
// first row if columns is nil.
func NewDataset(columns []string, rows []Record) *Dataset {
	if columns == nil && len(rows) > 0 {
		columns = make([]string, 0, len(rows[0]))
		for c := range rows[0] {
			columns = append(columns, c)
		}
	}
	return &Dataset{Columns: columns, Rows: rows}
}

// Len returns the number of rows in the dataset.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Rows)
}

// Column returns the string values of a column across all rows, skipping
// rows where the column is absent or nil. Non-string values are ignored.
func (d *Dataset) Column(name string) []string {
	if d == nil {
		return nil
	}
	out := make([]string, 0, len(d.Rows))
	for _, row := range d.Rows {
		v, ok := row[name]
		if !ok || v == nil {
			continue
		}
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// HasColumn reports whether name is part of the dataset's declared column set.
func (d *Dataset) HasColumn(name string) bool {
	for _, c := range d.Columns {
		if c == name {
			return true
		}
	}
	return false
}
