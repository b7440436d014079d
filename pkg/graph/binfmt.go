package graph

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	xe "github.com/Baizx98/PaGraph/pkg/errors"
)

// On-disk array format: a 16 byte header followed by raw little-endian
// elements.
//
//	offset 0: magic "PGAR"
//	offset 4: element kind (uint32; 1 = int64, 2 = float32)
//	offset 8: element count (uint64)
//
// The format carries no alignment or padding; readers validate magic, kind
// and count before touching the payload.

var ErrBadArray = errors.New("malformed array file")

var arrayMagic = [4]byte{'P', 'G', 'A', 'R'}

const (
	kindInt64   uint32 = 1
	kindFloat32 uint32 = 2
)

func writeHeader(w io.Writer, kind uint32, count uint64) error {
	if _, err := w.Write(arrayMagic[:]); err != nil {
		return xe.Wrap(err)
	}
	if err := binary.Write(w, binary.LittleEndian, kind); err != nil {
		return xe.Wrap(err)
	}
	if err := binary.Write(w, binary.LittleEndian, count); err != nil {
		return xe.Wrap(err)
	}
	return nil
}

func readHeader(r io.Reader, wantKind uint32) (uint64, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return 0, xe.Wrap(fmt.Errorf("%w: %v", ErrBadArray, err))
	}
	if magic != arrayMagic {
		return 0, xe.Wrap(fmt.Errorf("%w: bad magic %q", ErrBadArray, magic))
	}
	var kind uint32
	if err := binary.Read(r, binary.LittleEndian, &kind); err != nil {
		return 0, xe.Wrap(fmt.Errorf("%w: %v", ErrBadArray, err))
	}
	if kind != wantKind {
		return 0, xe.Wrap(fmt.Errorf("%w: element kind %d, want %d", ErrBadArray, kind, wantKind))
	}
	var count uint64
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return 0, xe.Wrap(fmt.Errorf("%w: %v", ErrBadArray, err))
	}
	return count, nil
}

// WriteInt64s writes vals to path in the array format.
func WriteInt64s(path string, vals []int64) error {
	f, err := os.Create(path)
	if err != nil {
		return xe.Wrap(err)
	}
	defer f.Close()

	if err := writeHeader(f, kindInt64, uint64(len(vals))); err != nil {
		return err
	}
	if err := binary.Write(f, binary.LittleEndian, vals); err != nil {
		return xe.Wrap(err)
	}
	return nil
}

// ReadInt64s reads an int64 array written by WriteInt64s.
func ReadInt64s(path string) ([]int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, xe.Wrap(err)
	}
	defer f.Close()

	count, err := readHeader(f, kindInt64)
	if err != nil {
		return nil, xe.WrapWithNote(path, err)
	}
	vals := make([]int64, count)
	if err := binary.Read(f, binary.LittleEndian, vals); err != nil {
		return nil, xe.Wrap(fmt.Errorf("%w: %s: %v", ErrBadArray, path, err))
	}
	return vals, nil
}

// WriteFloat32s writes vals to path in the array format.
func WriteFloat32s(path string, vals []float32) error {
	f, err := os.Create(path)
	if err != nil {
		return xe.Wrap(err)
	}
	defer f.Close()

	if err := writeHeader(f, kindFloat32, uint64(len(vals))); err != nil {
		return err
	}
	if err := binary.Write(f, binary.LittleEndian, vals); err != nil {
		return xe.Wrap(err)
	}
	return nil
}

// ReadFloat32s reads a float32 array written by WriteFloat32s.
func ReadFloat32s(path string) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, xe.Wrap(err)
	}
	defer f.Close()

	count, err := readHeader(f, kindFloat32)
	if err != nil {
		return nil, xe.WrapWithNote(path, err)
	}
	vals := make([]float32, count)
	if err := binary.Read(f, binary.LittleEndian, vals); err != nil {
		return nil, xe.Wrap(fmt.Errorf("%w: %s: %v", ErrBadArray, path, err))
	}
	return vals, nil
}
