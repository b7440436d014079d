package dist

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	xe "github.com/Baizx98/PaGraph/pkg/errors"
)

// AllReduceMean replaces buf on every member with the element-wise mean of
// all members' buffers. Every member must pass a buffer of the same length.
//
// The reduction is rooted at rank 0 (gather, average, broadcast); it blocks
// until every member has contributed.
func (g *Group) AllReduceMean(ctx context.Context, buf []float32) error {
	if err := ctx.Err(); err != nil {
		return xe.Wrap(err)
	}
	if g.worldSize == 1 {
		return nil
	}

	if g.rank != 0 {
		if err := writeFrame(g.root, opAllReduce, encodeFloat32s(buf)); err != nil {
			return err
		}
		op, payload, err := readFrame(g.root)
		if err != nil {
			return err
		}
		if op != opAllReduce {
			return xe.Wrap(fmt.Errorf("%w: expected all-reduce result", ErrProtocol))
		}
		return decodeFloat32s(payload, buf)
	}

	for peer := 1; peer < g.worldSize; peer++ {
		op, payload, err := readFrame(g.peers[peer])
		if err != nil {
			return err
		}
		if op != opAllReduce {
			return xe.Wrap(fmt.Errorf("%w: expected all-reduce contribution", ErrProtocol))
		}
		if len(payload) != 4*len(buf) {
			return xe.Wrap(fmt.Errorf(
				"%w: rank %d sent %d values, rank 0 holds %d",
				ErrSizeAgree, peer, len(payload)/4, len(buf),
			))
		}
		for k := range buf {
			buf[k] += math.Float32frombits(binary.LittleEndian.Uint32(payload[4*k:]))
		}
	}

	inv := 1 / float32(g.worldSize)
	for k := range buf {
		buf[k] *= inv
	}

	result := encodeFloat32s(buf)
	for peer := 1; peer < g.worldSize; peer++ {
		if err := writeFrame(g.peers[peer], opAllReduce, result); err != nil {
			return err
		}
	}
	return nil
}

// Broadcast copies rank 0's buf into every member's buf. Buffer lengths
// must agree across members.
func (g *Group) Broadcast(ctx context.Context, buf []float32) error {
	if err := ctx.Err(); err != nil {
		return xe.Wrap(err)
	}
	if g.worldSize == 1 {
		return nil
	}

	if g.rank == 0 {
		payload := encodeFloat32s(buf)
		for peer := 1; peer < g.worldSize; peer++ {
			if err := writeFrame(g.peers[peer], opBroadcast, payload); err != nil {
				return err
			}
		}
		return nil
	}

	op, payload, err := readFrame(g.root)
	if err != nil {
		return err
	}
	if op != opBroadcast {
		return xe.Wrap(fmt.Errorf("%w: expected broadcast", ErrProtocol))
	}
	return decodeFloat32s(payload, buf)
}

// Barrier blocks until every member reaches it.
func (g *Group) Barrier(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return xe.Wrap(err)
	}
	if g.worldSize == 1 {
		return nil
	}

	if g.rank != 0 {
		if err := writeFrame(g.root, opBarrier, nil); err != nil {
			return err
		}
		op, _, err := readFrame(g.root)
		if err != nil {
			return err
		}
		if op != opBarrier {
			return xe.Wrap(fmt.Errorf("%w: expected barrier release", ErrProtocol))
		}
		return nil
	}

	for peer := 1; peer < g.worldSize; peer++ {
		op, _, err := readFrame(g.peers[peer])
		if err != nil {
			return err
		}
		if op != opBarrier {
			return xe.Wrap(fmt.Errorf("%w: expected barrier arrival", ErrProtocol))
		}
	}
	for peer := 1; peer < g.worldSize; peer++ {
		if err := writeFrame(g.peers[peer], opBarrier, nil); err != nil {
			return err
		}
	}
	return nil
}

func encodeFloat32s(vals []float32) []byte {
	buf := make([]byte, 4*len(vals))
	for k, v := range vals {
		binary.LittleEndian.PutUint32(buf[4*k:], math.Float32bits(v))
	}
	return buf
}

func decodeFloat32s(payload []byte, into []float32) error {
	if len(payload) != 4*len(into) {
		return xe.Wrap(fmt.Errorf(
			"%w: got %d values, want %d", ErrSizeAgree, len(payload)/4, len(into),
		))
	}
	for k := range into {
		into[k] = math.Float32frombits(binary.LittleEndian.Uint32(payload[4*k:]))
	}
	return nil
}
