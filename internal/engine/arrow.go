package engine

import (
	"fmt"
	"io"
	"math"

	"github.com/apache/arrow/go/v18/arrow"
	"github.com/apache/arrow/go/v18/arrow/array"
	"github.com/apache/arrow/go/v18/arrow/ipc"
	"github.com/apache/arrow/go/v18/arrow/memory"
)

// Schema is the Arrow schema of a shaped store, one field per KeyColumns entry.
func Schema() *arrow.Schema {
	fields := []arrow.Field{
		{Name: "date", Type: arrow.FixedWidthTypes.Date32},
		{Name: "location", Type: arrow.BinaryTypes.String},
	}
	for _, name := range KeyColumns[2:] {
		fields = append(fields, arrow.Field{Name: name, Type: arrow.PrimitiveTypes.Float64, Nullable: true})
	}
	return arrow.NewSchema(fields, nil)
}

// Record copies the store into an Arrow record. NaN cells become nulls.
// The caller must Release the record.
func (cs *ColumnStore) Record(mem memory.Allocator) arrow.Record {
	b := array.NewRecordBuilder(mem, Schema())
	defer b.Release()

	dates := b.Field(0).(*array.Date32Builder)
	locs := b.Field(1).(*array.StringBuilder)
	dates.Reserve(cs.Len())
	locs.Reserve(cs.Len())
	for i := 0; i < cs.Len(); i++ {
		dates.Append(arrow.Date32FromTime(cs.Dates[i]))
		locs.Append(cs.Location(i))
	}

	numeric := cs.numeric()
	for k, name := range KeyColumns[2:] {
		fb := b.Field(k + 2).(*array.Float64Builder)
		fb.Reserve(cs.Len())
		for _, v := range *numeric[name] {
			if math.IsNaN(v) {
				fb.AppendNull()
				continue
			}
			fb.Append(v)
		}
	}
	return b.NewRecord()
}

// WriteIPC streams the store to w in the Arrow IPC stream format.
func (cs *ColumnStore) WriteIPC(w io.Writer, mem memory.Allocator) error {
	rec := cs.Record(mem)
	defer rec.Release()

	wr := ipc.NewWriter(w, ipc.WithSchema(rec.Schema()), ipc.WithAllocator(mem))
	if err := wr.Write(rec); err != nil {
		_ = wr.Close()
		return fmt.Errorf("write arrow stream: %w", err)
	}
	if err := wr.Close(); err != nil {
		return fmt.Errorf("close arrow stream: %w", err)
	}
	return nil
}
