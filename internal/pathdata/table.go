// Package pathdata moves path inputs and results in and out of the engine as
// Arrow data. A Table is one Float64 column per input; per-path columns hold
// N values, scalar columns one.
package pathdata

import (
	"fmt"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/longbow-quant/internal/compute"
	"github.com/23skdu/longbow-quant/internal/fault"
)

// Schema metadata keys.
const (
	MetaPaths  = "quant.paths"
	MetaScalar = "quant.scalar"
)

type Column struct {
	Name   string
	Scalar bool
	Values []float64
}

type Table struct {
	N       int
	Columns []Column
}

func New(n int) *Table {
	return &Table{N: n}
}

func (t *Table) add(c Column) error {
	for _, have := range t.Columns {
		if have.Name == c.Name {
			return fault.Configurationf("pathdata.Add", "duplicate column %q", c.Name)
		}
	}
	t.Columns = append(t.Columns, c)
	return nil
}

func (t *Table) AddScalar(name string, v float64) error {
	return t.add(Column{Name: name, Scalar: true, Values: []float64{v}})
}

// AddPaths adds a per-path column; values must have length N.
func (t *Table) AddPaths(name string, values []float64) error {
	if len(values) != t.N {
		return fault.SizeMismatch("pathdata.AddPaths", len(values), t.N)
	}
	return t.add(Column{Name: name, Values: append([]float64(nil), values...)})
}

func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Stage creates one input per column on c, in column order. c must be in
// state createInput.
func (t *Table) Stage(c compute.Context) ([]int, error) {
	ids := make([]int, 0, len(t.Columns))
	for _, col := range t.Columns {
		var (
			id  int
			err error
		)
		if col.Scalar {
			id, err = c.CreateInputVariable(col.Values[0])
		} else {
			id, err = c.CreateInputVariableArray(col.Values)
		}
		if err != nil {
			return nil, fmt.Errorf("staging column %q: %w", col.Name, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// FromOutputs wraps finalized outputs as per-path columns.
func FromOutputs(n int, names []string, out [][]float64) (*Table, error) {
	if len(names) != len(out) {
		return nil, fault.SizeMismatch("pathdata.FromOutputs", len(names), len(out))
	}
	t := New(n)
	for i, name := range names {
		if err := t.AddPaths(name, out[i][:min(n, len(out[i]))]); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *Table) Schema() *arrow.Schema {
	fields := make([]arrow.Field, len(t.Columns))
	for i, c := range t.Columns {
		fields[i] = arrow.Field{
			Name:     c.Name,
			Type:     arrow.PrimitiveTypes.Float64,
			Nullable: c.Scalar,
			Metadata: arrow.NewMetadata([]string{MetaScalar}, []string{strconv.FormatBool(c.Scalar)}),
		}
	}
	md := arrow.NewMetadata([]string{MetaPaths}, []string{strconv.Itoa(t.N)})
	return arrow.NewSchema(fields, &md)
}

// Record builds one record batch of N rows. A scalar column carries its
// value in row 0 and nulls after it. The caller releases the record.
func (t *Table) Record(mem memory.Allocator) arrow.Record {
	schema := t.Schema()
	cols := make([]arrow.Array, len(t.Columns))
	for i, c := range t.Columns {
		b := array.NewFloat64Builder(mem)
		if c.Scalar {
			b.Append(c.Values[0])
			b.AppendNulls(t.N - 1)
		} else {
			b.AppendValues(c.Values, nil)
		}
		cols[i] = b.NewArray()
		b.Release()
	}
	rec := array.NewRecord(schema, cols, int64(t.N))
	for _, c := range cols {
		c.Release()
	}
	return rec
}

// FromRecords rebuilds a table from a schema written by Table.Schema and
// the record batches that follow it. Rows of consecutive batches are
// concatenated.
func FromRecords(schema *arrow.Schema, recs []arrow.Record) (*Table, error) {
	const op = "pathdata.FromRecords"
	var rows int
	for _, r := range recs {
		rows += int(r.NumRows())
	}
	n := rows
	if md := schema.Metadata(); md.FindKey(MetaPaths) >= 0 {
		v, err := strconv.Atoi(md.Values()[md.FindKey(MetaPaths)])
		if err != nil {
			return nil, fault.Configurationf(op, "bad %s metadata %q", MetaPaths, md.Values()[md.FindKey(MetaPaths)])
		}
		n = v
	}
	if n <= 0 {
		return nil, fault.Configurationf(op, "table has no paths")
	}
	if rows != n {
		return nil, fault.SizeMismatch(op, rows, n)
	}

	t := New(n)
	for i, f := range schema.Fields() {
		if f.Type.ID() != arrow.FLOAT64 {
			return nil, fault.Configurationf(op, "column %q has type %s, want float64", f.Name, f.Type)
		}
		scalar := false
		if k := f.Metadata.FindKey(MetaScalar); k >= 0 {
			scalar = f.Metadata.Values()[k] == "true"
		}
		values := make([]float64, 0, n)
		for _, r := range recs {
			col, ok := r.Column(i).(*array.Float64)
			if !ok {
				return nil, fault.Configurationf(op, "column %q is not a float64 array", f.Name)
			}
			if !scalar && col.NullN() > 0 {
				return nil, fault.Configurationf(op, "column %q has %d missing paths", f.Name, col.NullN())
			}
			values = append(values, col.Float64Values()...)
		}
		var err error
		if scalar {
			err = t.AddScalar(f.Name, values[0])
		} else {
			err = t.AddPaths(f.Name, values)
		}
		if err != nil {
			return nil, err
		}
	}
	return t, nil
}
