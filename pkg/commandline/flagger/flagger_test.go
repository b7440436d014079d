package flagger_test

import (
	"flag"
	"testing"

	"github.com/Baizx98/PaGraph/pkg/commandline/flagger"
	"github.com/Baizx98/PaGraph/pkg/utils/try"
)

func TestFlagger(t *testing.T) {
	type testFlags struct {
		Dataset   string  `flag:"dataset,help=path to the dataset folder"`
		BatchSize int     `flag:"batch-size"`
		LR        float64 `flag:"lr"`
		NumHidden int     `flag:""`
		Verbose   bool    `flag:"verbose"`
		ignored   string
		NoTag     string
	}

	t.Run("it fills fields from parsed flags", func(t *testing.T) {
		f := flagger.New(testFlags{Dataset: "./data", BatchSize: 2500, LR: 3e-2})
		fs := try.To(f.SetFlags(flag.NewFlagSet("test", flag.ContinueOnError))).OrFatal(t)

		if err := fs.Parse([]string{
			"--dataset", "/mnt/livej", "--batch-size", "512", "--verbose",
		}); err != nil {
			t.Fatal(err)
		}

		if f.Values.Dataset != "/mnt/livej" {
			t.Errorf("dataset: got %s", f.Values.Dataset)
		}
		if f.Values.BatchSize != 512 {
			t.Errorf("batch-size: got %d", f.Values.BatchSize)
		}
		if !f.Values.Verbose {
			t.Error("verbose: not set")
		}
		if f.Values.LR != 3e-2 {
			t.Errorf("lr should keep its default: got %f", f.Values.LR)
		}
	})

	t.Run("it derives kebab-case names from field names when the tag name is empty", func(t *testing.T) {
		f := flagger.New(testFlags{NumHidden: 32})

		found := false
		for _, flg := range f.Flags {
			if flg.Name == "num-hidden" {
				found = true
			}
		}
		if !found {
			t.Errorf("flag num-hidden is not declared: %+v", f.Flags)
		}
	})

	t.Run("it skips unexported and untagged fields", func(t *testing.T) {
		f := flagger.New(testFlags{})
		for _, flg := range f.Flags {
			if flg.Name == "ignored" || flg.Name == "no-tag" {
				t.Errorf("field %s should not be declared as a flag", flg.Name)
			}
		}
	})
}
