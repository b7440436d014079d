package errors_test

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"testing"

	xe "github.com/Baizx98/PaGraph/pkg/errors"
)

type rootErr struct{}

func (rootErr) Error() string {
	return "root error for test"
}

func wrapHere(err error) error {
	return xe.Wrap(err)
}

func TestWrap(t *testing.T) {
	t.Run("it records the function and file where the wrap happened", func(t *testing.T) {
		testee := wrapHere(rootErr{})
		message := testee.Error()

		_, thisFile, _, _ := runtime.Caller(0)

		if !strings.Contains(message, "wrapHere") {
			t.Errorf("wrap site function is missing: %s", message)
		}
		if !strings.Contains(message, thisFile) {
			t.Errorf("wrap site file (%s) is missing: %s", thisFile, message)
		}
	})

	t.Run("it keeps the wrapped error reachable via errors.Is", func(t *testing.T) {
		root := rootErr{}
		err := xe.Wrap(fmt.Errorf("%w", fmt.Errorf("%w", root)))

		if !errors.Is(err, root) {
			t.Error("wrapped error is not unwrappable")
		}
	})

	t.Run("it keeps the note in the message", func(t *testing.T) {
		err := xe.WrapWithNote("while testing", rootErr{})
		if !strings.Contains(err.Error(), "while testing") {
			t.Errorf("note is missing: %s", err.Error())
		}
	})
}
