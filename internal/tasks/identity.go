package tasks

import (
	"context"
	"reflect"
	"runtime"
	"strings"
)

var contextType = reflect.TypeOf((*context.Context)(nil)).Elem()

// FuncName returns the fully qualified name of fn, e.g.
// "example.com/app/internal/math.Add". Method values lose the "-fm" suffix the
// compiler adds.
func FuncName(fn any) string {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return ""
	}
	f := runtime.FuncForPC(v.Pointer())
	if f == nil {
		return ""
	}
	return strings.TrimSuffix(f.Name(), "-fm")
}

// isInvocable reports whether v can be registered as a task.
func isInvocable(v any) bool {
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Func && !rv.IsNil()
}

// arity describes how many positional arguments a caller has to supply. A
// leading context.Context parameter is provided by the worker and not counted.
type arity struct {
	params   int
	variadic bool
}

func arityOf(t reflect.Type) arity {
	n := t.NumIn()
	if n > 0 && t.In(0) == contextType {
		n--
	}
	if t.IsVariadic() {
		return arity{params: n - 1, variadic: true}
	}
	return arity{params: n}
}

func (a arity) accepts(positional int, hasKwargs bool) bool {
	switch {
	case a.variadic:
		return hasKwargs || positional >= a.params
	case hasKwargs:
		return positional <= a.params
	default:
		return positional == a.params
	}
}
