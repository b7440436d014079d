package dist_test

import (
	"context"
	"fmt"
	"math"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Baizx98/PaGraph/pkg/dist"
)

// freeAddr grabs a loopback port the kernel considers free right now.
func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	return ln.Addr().String()
}

// spawn runs body for every rank in its own goroutine and collects errors.
func spawn(t *testing.T, worldSize int, body func(rank int) error) {
	t.Helper()
	errs := make([]error, worldSize)
	var wg sync.WaitGroup
	for rank := 0; rank < worldSize; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			errs[rank] = body(rank)
		}(rank)
	}
	wg.Wait()
	for rank, err := range errs {
		if err != nil {
			t.Errorf("rank %d: %v", rank, err)
		}
	}
}

func TestJoin(t *testing.T) {
	t.Run("all members return from Join once the group is complete", func(t *testing.T) {
		const world = 3
		addr := freeAddr(t)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		spawn(t, world, func(rank int) error {
			// stagger: rank 0's listener comes up last, dialers must retry
			if rank == 0 {
				time.Sleep(150 * time.Millisecond)
			}
			g, err := dist.Join(ctx, addr, rank, world)
			if err != nil {
				return err
			}
			defer g.Close()
			if g.Rank() != rank || g.WorldSize() != world {
				return fmt.Errorf("group reports rank %d world %d", g.Rank(), g.WorldSize())
			}
			return nil
		})
	})

	t.Run("it rejects an out-of-range rank", func(t *testing.T) {
		if _, err := dist.Join(context.Background(), freeAddr(t), 5, 3); err == nil {
			t.Error("expected an error for rank 5 of world 3")
		}
	})

	t.Run("a single-member group joins without a listener", func(t *testing.T) {
		g, err := dist.Join(context.Background(), freeAddr(t), 0, 1)
		if err != nil {
			t.Fatal(err)
		}
		defer g.Close()

		buf := []float32{1, 2, 3}
		if err := g.AllReduceMean(context.Background(), buf); err != nil {
			t.Error(err)
		}
		if buf[0] != 1 || buf[2] != 3 {
			t.Errorf("single-member all-reduce must be identity: %v", buf)
		}
	})
}

func TestCollectives(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	t.Run("AllReduceMean averages across members and agrees bit-for-bit", func(t *testing.T) {
		const world = 4
		addr := freeAddr(t)

		results := make([][]float32, world)
		spawn(t, world, func(rank int) error {
			g, err := dist.Join(ctx, addr, rank, world)
			if err != nil {
				return err
			}
			defer g.Close()

			buf := []float32{float32(rank), float32(10 * rank), -1}
			if err := g.AllReduceMean(ctx, buf); err != nil {
				return err
			}
			results[rank] = buf
			return nil
		})

		want := []float32{1.5, 15, -1} // mean of 0..3, mean of 0,10,20,30
		for rank, got := range results {
			for k := range want {
				if math.Float32bits(got[k]) != math.Float32bits(results[0][k]) {
					t.Errorf("rank %d result differs bitwise from rank 0 at %d", rank, k)
				}
				if got[k] != want[k] {
					t.Errorf("rank %d element %d: got %v, want %v", rank, k, got[k], want[k])
				}
			}
		}
	})

	t.Run("Broadcast copies rank 0's buffer to everyone", func(t *testing.T) {
		const world = 3
		addr := freeAddr(t)

		spawn(t, world, func(rank int) error {
			g, err := dist.Join(ctx, addr, rank, world)
			if err != nil {
				return err
			}
			defer g.Close()

			buf := []float32{float32(100 * rank), float32(rank)}
			if rank == 0 {
				buf = []float32{7, 8}
			}
			if err := g.Broadcast(ctx, buf); err != nil {
				return err
			}
			if buf[0] != 7 || buf[1] != 8 {
				return fmt.Errorf("rank %d got %v after broadcast", rank, buf)
			}
			return nil
		})
	})

	t.Run("Barrier releases only after every member arrives", func(t *testing.T) {
		const world = 3
		addr := freeAddr(t)

		var arrived atomic.Int32

		spawn(t, world, func(rank int) error {
			g, err := dist.Join(ctx, addr, rank, world)
			if err != nil {
				return err
			}
			defer g.Close()

			// the last member arrives late; nobody may pass before that
			if rank == world-1 {
				time.Sleep(100 * time.Millisecond)
			}
			arrived.Add(1)
			if err := g.Barrier(ctx); err != nil {
				return err
			}

			if n := arrived.Load(); n != world {
				return fmt.Errorf("rank %d passed the barrier with only %d/%d arrived", rank, n, world)
			}
			return nil
		})
	})

	t.Run("AllReduceMean refuses buffers of disagreeing lengths", func(t *testing.T) {
		const world = 2
		addr := freeAddr(t)

		errs := make([]error, world)
		spawn(t, world, func(rank int) error {
			g, err := dist.Join(ctx, addr, rank, world)
			if err != nil {
				return err
			}
			defer g.Close()

			buf := make([]float32, 2+rank) // rank 0: 2 elements, rank 1: 3
			errs[rank] = g.AllReduceMean(ctx, buf)
			return nil
		})

		if errs[0] == nil && errs[1] == nil {
			t.Error("expected at least the root to report a size disagreement")
		}
	})
}
