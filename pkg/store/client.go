// Package store is the trainer-side client of the shared feature/graph
// store, plus the row codec both halves agree on.
//
// The store holds named tensors ("features", "norm") indexed by global node
// id. It is populated once by an external process (cmd/pagraph-store) and
// read concurrently by every worker; no locking happens on this side because
// access is read-only.
package store

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	xe "github.com/Baizx98/PaGraph/pkg/errors"
)

// Client fetches rows of a named tensor by global node id.
type Client interface {
	// Fetch returns one row per id, in id order.
	Fetch(ctx context.Context, name string, ids []int64) ([][]float32, error)

	Close() error
}

// fetchBatch bounds how many rows one request asks for.
const fetchBatch = 4096

// Gather pulls one row per local node, following the t2fid remapping, and
// returns them as a dense [len(t2fid)][width] slice. An unavailable store
// surfaces as an error; the caller treats that as fatal.
func Gather(ctx context.Context, c Client, name string, t2fid []int64) ([][]float32, error) {
	out := make([][]float32, 0, len(t2fid))
	for lo := 0; lo < len(t2fid); lo += fetchBatch {
		hi := lo + fetchBatch
		if len(t2fid) < hi {
			hi = len(t2fid)
		}
		rows, err := c.Fetch(ctx, name, t2fid[lo:hi])
		if err != nil {
			return nil, xe.WrapWithNote(fmt.Sprintf("gather %q", name), err)
		}
		if len(rows) != hi-lo {
			return nil, xe.Wrap(fmt.Errorf(
				"store returned %d rows for %d ids", len(rows), hi-lo,
			))
		}
		out = append(out, rows...)
	}
	return out, nil
}

// GatherVector is Gather for width-1 tensors such as "norm", flattened to a
// per-node scalar slice.
func GatherVector(ctx context.Context, c Client, name string, t2fid []int64) ([]float32, error) {
	rows, err := Gather(ctx, c, name, t2fid)
	if err != nil {
		return nil, err
	}
	out := make([]float32, len(rows))
	for nth, row := range rows {
		if len(row) != 1 {
			return nil, xe.Wrap(fmt.Errorf(
				"tensor %q has width %d, want 1", name, len(row),
			))
		}
		out[nth] = row[0]
	}
	return out, nil
}

// EncodeRow packs a float32 row little-endian, the byte layout rows have in
// Redis values and in the dataset's .data files.
func EncodeRow(row []float32) []byte {
	buf := make([]byte, 4*len(row))
	for k, v := range row {
		binary.LittleEndian.PutUint32(buf[4*k:], math.Float32bits(v))
	}
	return buf
}

// DecodeRow unpacks a row written by EncodeRow.
func DecodeRow(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, xe.Wrap(fmt.Errorf("row of %d bytes is not float32-aligned", len(buf)))
	}
	row := make([]float32, len(buf)/4)
	for k := range row {
		row[k] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*k:]))
	}
	return row, nil
}
