package try

// Fataler is anything with a Fatal method, like *testing.T or *log.Logger.
type Fataler interface {
	Fatal(...any)
}

// Either wraps a (value, error) pair.
//
// When the error is nil the Either is "ok" and the value is valid.
// Otherwise the value is not to be used.
type Either[T any] interface {
	// Get returns the wrapped pair.
	Get() (T, error)

	// OrFatal returns the value, or calls ftl.Fatal with the error.
	//
	// If ftl has a Helper method (like *testing.T), it is called first.
	OrFatal(ftl Fataler) T

	// OrDefault returns the value, or the given default on error.
	OrDefault(T) T
}

// To wraps the results of a (T, error) call into an Either.
func To[T any](ok T, ng error) Either[T] {
	if ng == nil {
		return eitherOk[T]{ok}
	}
	return eitherNg[T]{ng}
}

type eitherOk[T any] struct {
	value T
}

type eitherNg[T any] struct {
	err error
}

func (ok eitherOk[T]) Get() (T, error) {
	return ok.value, nil
}

func (ng eitherNg[T]) Get() (T, error) {
	return *new(T), ng.err
}

func (ok eitherOk[T]) OrDefault(T) T {
	return ok.value
}

func (ng eitherNg[T]) OrDefault(d T) T {
	return d
}

func (ok eitherOk[T]) OrFatal(Fataler) T {
	return ok.value
}

func (ng eitherNg[T]) OrFatal(ftl Fataler) T {
	if hlp, ok := ftl.(interface{ Helper() }); ok {
		hlp.Helper()
	}
	ftl.Fatal(ng.err)

	return *new(T)
}
