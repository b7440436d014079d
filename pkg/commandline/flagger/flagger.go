// Package flagger declares command line flags from a tagged struct.
//
//	type Flags struct {
//		Dataset   string  `flag:"dataset,help=path to the dataset folder"`
//		BatchSize int     `flag:"batch-size,help=batch size"`
//		LR        float64 `flag:"lr,help=learning rate"`
//	}
//
// Field tags name the flag; when the name is omitted the lower-kebab-case of
// the field name is used. Fields without a "flag" tag are skipped.
package flagger

import (
	"flag"
	"fmt"
	"reflect"
	"regexp"
	"strings"
)

type Flag struct {
	Name string
	Help string
	ptr  reflect.Value
}

func (f Flag) register(fs *flag.FlagSet) error {
	switch dv := f.ptr.Interface().(type) {
	case *bool:
		fs.BoolVar(dv, f.Name, *dv, f.Help)
	case *string:
		fs.StringVar(dv, f.Name, *dv, f.Help)
	case *int:
		fs.IntVar(dv, f.Name, *dv, f.Help)
	case *int64:
		fs.Int64Var(dv, f.Name, *dv, f.Help)
	case *uint:
		fs.UintVar(dv, f.Name, *dv, f.Help)
	case *float64:
		fs.Float64Var(dv, f.Name, *dv, f.Help)
	case flag.Value:
		fs.Var(dv, f.Name, f.Help)
	default:
		return fmt.Errorf("flagger: unsupported field type %T for --%s", dv, f.Name)
	}
	return nil
}

// Flagger binds flags onto the fields of *Values.
type Flagger[T any] struct {
	Flags  []Flag
	Values *T
}

var reWord = regexp.MustCompile("[A-Z]+[^A-Z]*")

// New scans T's fields tagged "flag" and returns a Flagger whose Values
// starts from defaults.
//
// Panics when defaults is not a struct.
func New[T any](defaults T) *Flagger[T] {
	flgr := &Flagger[T]{Values: &defaults}

	rv := reflect.ValueOf(flgr.Values).Elem()
	if rv.Kind() != reflect.Struct {
		panic("flagger: flag receiver must be a struct")
	}

	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}
		tag, ok := field.Tag.Lookup("flag")
		if !ok {
			continue
		}

		flg := Flag{}
		attrs := strings.Split(tag, ",")
		flg.Name = attrs[0]
		if flg.Name == "" {
			words := reWord.FindAllString(field.Name, -1)
			if len(words) == 0 {
				words = []string{field.Name}
			}
			flg.Name = strings.ToLower(strings.Join(words, "-"))
		}
		for _, attr := range attrs[1:] {
			name, value, _ := strings.Cut(attr, "=")
			if name == "help" {
				flg.Help = value
			}
		}

		if _, ok := rv.Field(i).Interface().(flag.Value); ok {
			flg.ptr = rv.Field(i)
		} else {
			flg.ptr = rv.Field(i).Addr()
		}
		flgr.Flags = append(flgr.Flags, flg)
	}

	return flgr
}

// SetFlags registers all declared flags on fs. Parsing fs fills *Values.
func (f *Flagger[T]) SetFlags(fs *flag.FlagSet) (*flag.FlagSet, error) {
	for _, flg := range f.Flags {
		if err := flg.register(fs); err != nil {
			return nil, err
		}
	}
	return fs, nil
}
