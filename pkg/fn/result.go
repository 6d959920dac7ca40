// Package fn holds small generic helpers shared by the pipeline stages:
// a Result type, bounded fan-out, retry with backoff and slice utilities.
package fn

// Result carries either a value or an error. The zero Result is a success
// holding the zero value.
type Result[T any] struct {
	val T
	err error
}

// Ok wraps a value.
func Ok[T any](v T) Result[T] { return Result[T]{val: v} }

// Err wraps a failure. A nil err yields a successful Result.
func Err[T any](err error) Result[T] { return Result[T]{err: err} }

// FromPair adapts the usual (value, error) return.
func FromPair[T any](v T, err error) Result[T] {
	if err != nil {
		return Err[T](err)
	}
	return Ok(v)
}

func (r Result[T]) IsOk() bool         { return r.err == nil }
func (r Result[T]) Error() error       { return r.err }
func (r Result[T]) Unwrap() (T, error) { return r.val, r.err }

// Partition splits results into values and errors, each in input order.
func Partition[T any](results []Result[T]) (vals []T, errs []error) {
	for _, r := range results {
		if r.err != nil {
			errs = append(errs, r.err)
			continue
		}
		vals = append(vals, r.val)
	}
	return vals, errs
}
