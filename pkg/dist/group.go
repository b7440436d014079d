// Package dist forms the distributed process group and carries the
// collective operations of training: gradient averaging, broadcast and
// barrier.
//
// Topology is a star rooted at rank 0 over loopback TCP: rank 0 listens on
// the rendezvous address, every other rank dials in and announces itself.
// Join returns on every member only once the group is complete, so it acts
// as the readiness barrier of process initialization.
//
// Collectives are blocking and carry no timeout: a slow or dead member
// stalls the whole group. That is the contract of synchronous data-parallel
// training; failure handling is "crash the run".
package dist

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	xe "github.com/Baizx98/PaGraph/pkg/errors"
)

// DefaultAddr is the fixed rendezvous address of a single-host run.
const DefaultAddr = "127.0.0.1:29501"

var (
	ErrBadRank   = errors.New("bad rank")
	ErrProtocol  = errors.New("process group protocol violation")
	ErrSizeAgree = errors.New("peers disagree on buffer size")
)

const (
	opHello byte = iota + 1
	opWelcome
	opAllReduce
	opBarrier
	opBroadcast
)

// Group is one member's view of the process group.
//
// A Group is not safe for concurrent use: collectives are issued by the
// single training goroutine, in the same order on every member.
type Group struct {
	rank      int
	worldSize int

	// rank 0 only: connection per peer rank (index 0 unused)
	peers []net.Conn

	// other ranks: connection to rank 0
	root net.Conn
}

func (g *Group) Rank() int      { return g.rank }
func (g *Group) WorldSize() int { return g.worldSize }

// Join makes this process a member of the group at the rendezvous address.
//
// Rank 0 binds addr and waits for worldSize-1 peers; the others dial with a
// short retry loop, since rank 0's listener may come up later than they do.
// Everything after the group is formed is fail-fast.
func Join(ctx context.Context, addr string, rank, worldSize int) (*Group, error) {
	if worldSize < 1 {
		return nil, xe.Wrap(fmt.Errorf("%w: world size %d", ErrBadRank, worldSize))
	}
	if rank < 0 || worldSize <= rank {
		return nil, xe.Wrap(fmt.Errorf("%w: rank %d of world %d", ErrBadRank, rank, worldSize))
	}

	g := &Group{rank: rank, worldSize: worldSize}
	if worldSize == 1 {
		return g, nil
	}

	if rank == 0 {
		if err := g.listen(ctx, addr); err != nil {
			return nil, err
		}
		return g, nil
	}
	if err := g.dial(ctx, addr); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Group) listen(ctx context.Context, addr string) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return xe.WrapWithNote("rendezvous bind", err)
	}
	defer ln.Close()

	g.peers = make([]net.Conn, g.worldSize)
	joined := 0
	for joined < g.worldSize-1 {
		conn, err := ln.Accept()
		if err != nil {
			g.Close()
			return xe.Wrap(err)
		}
		op, payload, err := readFrame(conn)
		if err != nil {
			g.Close()
			return err
		}
		if op != opHello || len(payload) != 8 {
			g.Close()
			return xe.Wrap(fmt.Errorf("%w: expected hello", ErrProtocol))
		}
		peer := int(binary.LittleEndian.Uint64(payload))
		if peer <= 0 || g.worldSize <= peer {
			g.Close()
			return xe.Wrap(fmt.Errorf("%w: hello from rank %d", ErrBadRank, peer))
		}
		if g.peers[peer] != nil {
			g.Close()
			return xe.Wrap(fmt.Errorf("%w: rank %d joined twice", ErrBadRank, peer))
		}
		g.peers[peer] = conn
		joined += 1
	}

	// group complete: release everyone
	for peer := 1; peer < g.worldSize; peer++ {
		if err := writeFrame(g.peers[peer], opWelcome, nil); err != nil {
			g.Close()
			return err
		}
	}
	return nil
}

func (g *Group) dial(ctx context.Context, addr string) error {
	var conn net.Conn
	var err error
	d := net.Dialer{}
	for {
		conn, err = d.DialContext(ctx, "tcp", addr)
		if err == nil {
			break
		}
		select {
		case <-ctx.Done():
			return xe.WrapWithNote("rendezvous dial", ctx.Err())
		case <-time.After(100 * time.Millisecond):
		}
	}

	hello := make([]byte, 8)
	binary.LittleEndian.PutUint64(hello, uint64(g.rank))
	if err := writeFrame(conn, opHello, hello); err != nil {
		conn.Close()
		return err
	}
	op, _, err := readFrame(conn)
	if err != nil {
		conn.Close()
		return err
	}
	if op != opWelcome {
		conn.Close()
		return xe.Wrap(fmt.Errorf("%w: expected welcome", ErrProtocol))
	}
	g.root = conn
	return nil
}

// Close tears the member's connections down. It does not notify peers; a
// closed member surfaces on the others as a read error in their next
// collective.
func (g *Group) Close() error {
	var first error
	for _, conn := range g.peers {
		if conn != nil {
			if err := conn.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	if g.root != nil {
		if err := g.root.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func writeFrame(conn net.Conn, op byte, payload []byte) error {
	head := make([]byte, 5)
	head[0] = op
	binary.LittleEndian.PutUint32(head[1:], uint32(len(payload)))
	if _, err := conn.Write(head); err != nil {
		return xe.Wrap(err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := conn.Write(payload); err != nil {
		return xe.Wrap(err)
	}
	return nil
}

func readFrame(conn net.Conn) (byte, []byte, error) {
	head := make([]byte, 5)
	if _, err := io.ReadFull(conn, head); err != nil {
		return 0, nil, xe.Wrap(err)
	}
	size := binary.LittleEndian.Uint32(head[1:])
	if size == 0 {
		return head[0], nil, nil
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(conn, payload); err != nil {
		return 0, nil, xe.Wrap(err)
	}
	return head[0], payload, nil
}
