package pathdata

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-quant/internal/compute"
	"github.com/23skdu/longbow-quant/internal/fault"
	"github.com/23skdu/longbow-quant/internal/opcode"
)

func sampleTable(t *testing.T) *Table {
	t.Helper()
	tbl := New(4)
	require.NoError(t, tbl.AddScalar("strike", 100))
	require.NoError(t, tbl.AddPaths("spot", []float64{90, 100, 110, 120}))
	require.NoError(t, tbl.AddPaths("discount", []float64{0.99, 0.98, 0.97, 0.96}))
	return tbl
}

func TestAddColumns(t *testing.T) {
	tbl := sampleTable(t)
	require.ErrorIs(t, tbl.AddScalar("spot", 1), fault.ErrConfiguration)
	err := tbl.AddPaths("short", []float64{1, 2})
	require.ErrorIs(t, err, fault.ErrSizeMismatch)

	c, ok := tbl.Column("strike")
	require.True(t, ok)
	assert.True(t, c.Scalar)
	_, ok = tbl.Column("vol")
	assert.False(t, ok)
}

func TestIPCRoundTrip(t *testing.T) {
	want := sampleTable(t)
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, want))

	got, err := Read(&buf)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("table mismatch (-want +got):\n%s", diff)
	}
}

func TestFileRoundTrip(t *testing.T) {
	want := sampleTable(t)
	path := filepath.Join(t.TempDir(), "paths.arrow")
	require.NoError(t, WriteFile(path, want))

	got, err := ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, want, got)

	_, err = ReadFile(filepath.Join(t.TempDir(), "missing.arrow"))
	require.Error(t, err)
}

func TestSchemaMetadata(t *testing.T) {
	s := sampleTable(t).Schema()
	v, ok := s.Metadata().GetValue(MetaPaths)
	require.True(t, ok)
	assert.Equal(t, "4", v)

	f, ok := s.FieldsByName("strike")
	require.True(t, ok)
	assert.True(t, f[0].Nullable)
	v, _ = f[0].Metadata.GetValue(MetaScalar)
	assert.Equal(t, "true", v)
}

func TestFromRecordsConcatenatesBatches(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	md := arrow.NewMetadata([]string{MetaPaths}, []string{"5"})
	schema := arrow.NewSchema([]arrow.Field{{Name: "x", Type: arrow.PrimitiveTypes.Float64}}, &md)
	batch := func(vals ...float64) arrow.Record {
		b := array.NewRecordBuilder(mem, schema)
		defer b.Release()
		b.Field(0).(*array.Float64Builder).AppendValues(vals, nil)
		return b.NewRecord()
	}
	recs := []arrow.Record{batch(1, 2, 3), batch(4, 5)}
	defer func() {
		for _, r := range recs {
			r.Release()
		}
	}()

	tbl, err := FromRecords(schema, recs)
	require.NoError(t, err)
	c, _ := tbl.Column("x")
	assert.Equal(t, []float64{1, 2, 3, 4, 5}, c.Values)

	_, err = FromRecords(schema, recs[:1])
	require.ErrorIs(t, err, fault.ErrSizeMismatch)
}

func TestFromRecordsRejects(t *testing.T) {
	mem := memory.NewGoAllocator()

	t.Run("non float column", func(t *testing.T) {
		schema := arrow.NewSchema([]arrow.Field{{Name: "n", Type: arrow.PrimitiveTypes.Int64}}, nil)
		b := array.NewRecordBuilder(mem, schema)
		defer b.Release()
		b.Field(0).(*array.Int64Builder).AppendValues([]int64{1, 2}, nil)
		rec := b.NewRecord()
		defer rec.Release()

		_, err := FromRecords(schema, []arrow.Record{rec})
		require.ErrorIs(t, err, fault.ErrConfiguration)
		require.Contains(t, err.Error(), "want float64")
	})

	t.Run("missing paths", func(t *testing.T) {
		schema := arrow.NewSchema([]arrow.Field{{Name: "x", Type: arrow.PrimitiveTypes.Float64, Nullable: true}}, nil)
		b := array.NewRecordBuilder(mem, schema)
		defer b.Release()
		b.Field(0).(*array.Float64Builder).AppendValues([]float64{1, 0}, []bool{true, false})
		rec := b.NewRecord()
		defer rec.Release()

		_, err := FromRecords(schema, []arrow.Record{rec})
		require.ErrorIs(t, err, fault.ErrConfiguration)
		require.Contains(t, err.Error(), "missing paths")
	})

	t.Run("empty", func(t *testing.T) {
		schema := arrow.NewSchema([]arrow.Field{{Name: "x", Type: arrow.PrimitiveTypes.Float64}}, nil)
		_, err := FromRecords(schema, nil)
		require.ErrorIs(t, err, fault.ErrConfiguration)
	})
}

func TestStageAndFromOutputs(t *testing.T) {
	tbl := sampleTable(t)
	c := compute.NewCPUContext()
	require.NoError(t, c.Init())
	defer c.Close()

	_, _, err := c.InitiateCalculation(tbl.N, 0, 0, compute.DefaultSettings())
	require.NoError(t, err)
	ids, err := tbl.Stage(c)
	require.NoError(t, err)
	require.Len(t, ids, 3)
	zero := mustScalar(t, c, 0)

	diff, err := c.ApplyOperation(opcode.Subtract, ids[1], ids[0])
	require.NoError(t, err)
	payoff, err := c.ApplyOperation(opcode.Max, diff, zero)
	require.NoError(t, err)
	pv, err := c.ApplyOperation(opcode.Mult, payoff, ids[2])
	require.NoError(t, err)
	require.NoError(t, c.DeclareOutputVariable(pv))

	out := [][]float64{make([]float64, tbl.N)}
	require.NoError(t, c.FinalizeCalculation(out))

	res, err := FromOutputs(tbl.N, []string{"pv"}, out)
	require.NoError(t, err)
	col, ok := res.Column("pv")
	require.True(t, ok)
	assert.InDeltaSlice(t, []float64{0, 0, 0.97 * 10, 0.96 * 20}, col.Values, 1e-12)

	_, err = FromOutputs(tbl.N, []string{"a", "b"}, out)
	require.ErrorIs(t, err, fault.ErrSizeMismatch)
}

func mustScalar(t *testing.T, c compute.Context, v float64) int {
	t.Helper()
	id, err := c.CreateInputVariable(v)
	require.NoError(t, err)
	return id
}

func TestStageOutsideRound(t *testing.T) {
	c := compute.NewCPUContext()
	require.NoError(t, c.Init())
	defer c.Close()
	_, err := sampleTable(t).Stage(c)
	require.Error(t, err)
	require.Contains(t, err.Error(), `staging column "strike"`)
}

func TestParseURL(t *testing.T) {
	tests := []struct {
		url            string
		bucket, object string
		wantErr        bool
	}{
		{"gs://quant-data/runs/2026/paths.arrow", "quant-data", "runs/2026/paths.arrow", false},
		{"gs://b/o", "b", "o", false},
		{"s3://b/o", "", "", true},
		{"gs://bucket", "", "", true},
		{"gs:///object", "", "", true},
		{"gs://bucket/", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			bucket, object, err := ParseURL(tt.url)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.bucket, bucket)
			assert.Equal(t, tt.object, object)
		})
	}
}
