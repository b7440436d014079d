package filewatch_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Baizx98/PaGraph/pkg/utils/filewatch"
)

func TestWaitForFile(t *testing.T) {
	t.Run("it returns at once when the file already exists", func(t *testing.T) {
		dir := t.TempDir()
		target := filepath.Join(dir, "ready")
		if err := os.WriteFile(target, []byte("ok"), 0o644); err != nil {
			t.Fatal(err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		if err := filewatch.WaitForFile(ctx, target); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("it unblocks when the file is created later", func(t *testing.T) {
		dir := t.TempDir()
		target := filepath.Join(dir, "ready")

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		go func() {
			time.Sleep(50 * time.Millisecond)
			os.WriteFile(target, []byte("ok"), 0o644)
		}()

		if err := filewatch.WaitForFile(ctx, target); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("it gives up when the context ends first", func(t *testing.T) {
		dir := t.TempDir()
		target := filepath.Join(dir, "never")

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		if err := filewatch.WaitForFile(ctx, target); err == nil {
			t.Error("expected a context error, got nil")
		}
	})
}
