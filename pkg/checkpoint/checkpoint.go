// Package checkpoint persists model parameter snapshots, keyed by epoch.
package checkpoint

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/bytedance/sonic"

	xe "github.com/Baizx98/PaGraph/pkg/errors"
	"github.com/Baizx98/PaGraph/pkg/nn"
)

var ErrBadCheckpoint = errors.New("malformed checkpoint")

var ckptMagic = [4]byte{'P', 'G', 'C', 'K'}

// Header describes the snapshot: the network shape (so a loader can verify
// fit before touching weights) and the epoch it was taken after.
type Header struct {
	Epoch      int  `json:"epoch"`
	FeatSize   int  `json:"feat_size"`
	Hidden     int  `json:"hidden"`
	Classes    int  `json:"classes"`
	Layers     int  `json:"layers"`
	Preprocess bool `json:"preprocess"`
	NumParams  int  `json:"num_params"`
}

// HeaderFor builds the header of a snapshot of the given shape.
func HeaderFor(cfg nn.GCNConfig, epoch int) Header {
	return Header{
		Epoch:      epoch,
		FeatSize:   cfg.FeatSize,
		Hidden:     cfg.Hidden,
		Classes:    cfg.Classes,
		Layers:     cfg.Layers,
		Preprocess: cfg.Preprocess,
		NumParams:  cfg.NumParams(),
	}
}

// Path names the checkpoint file of an epoch: <dir>/gcn-nssc_<epoch>.
func Path(dir string, epoch int) string {
	return filepath.Join(dir, fmt.Sprintf("gcn-nssc_%d", epoch))
}

// Save writes the snapshot. The write is not atomic and nothing barriers on
// it; readers racing the writer get ErrBadCheckpoint at worst.
func Save(path string, h Header, params []float32) error {
	if h.NumParams != len(params) {
		return xe.Wrap(fmt.Errorf(
			"header declares %d parameters, got %d", h.NumParams, len(params),
		))
	}

	f, err := os.Create(path)
	if err != nil {
		return xe.Wrap(err)
	}
	defer f.Close()

	head, err := sonic.Marshal(h)
	if err != nil {
		return xe.Wrap(err)
	}
	if _, err := f.Write(ckptMagic[:]); err != nil {
		return xe.Wrap(err)
	}
	if err := binary.Write(f, binary.LittleEndian, uint32(len(head))); err != nil {
		return xe.Wrap(err)
	}
	if _, err := f.Write(head); err != nil {
		return xe.Wrap(err)
	}
	if err := binary.Write(f, binary.LittleEndian, params); err != nil {
		return xe.Wrap(err)
	}
	return nil
}

// Load reads a snapshot written by Save.
func Load(path string) (Header, []float32, error) {
	var h Header

	f, err := os.Open(path)
	if err != nil {
		return h, nil, xe.Wrap(err)
	}
	defer f.Close()

	var magic [4]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil {
		return h, nil, xe.Wrap(fmt.Errorf("%w: %v", ErrBadCheckpoint, err))
	}
	if magic != ckptMagic {
		return h, nil, xe.Wrap(fmt.Errorf("%w: bad magic %q", ErrBadCheckpoint, magic))
	}

	var headLen uint32
	if err := binary.Read(f, binary.LittleEndian, &headLen); err != nil {
		return h, nil, xe.Wrap(fmt.Errorf("%w: %v", ErrBadCheckpoint, err))
	}
	head := make([]byte, headLen)
	if _, err := io.ReadFull(f, head); err != nil {
		return h, nil, xe.Wrap(fmt.Errorf("%w: %v", ErrBadCheckpoint, err))
	}
	if err := sonic.Unmarshal(head, &h); err != nil {
		return h, nil, xe.Wrap(fmt.Errorf("%w: %v", ErrBadCheckpoint, err))
	}

	params := make([]float32, h.NumParams)
	if err := binary.Read(f, binary.LittleEndian, params); err != nil {
		return h, nil, xe.Wrap(fmt.Errorf("%w: %v", ErrBadCheckpoint, err))
	}
	return h, params, nil
}
