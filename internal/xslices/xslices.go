package xslices

func Filter[T any, S ~[]T](s S, f func(T) bool) (r S) {
	r = make(S, 0, len(s))
	for _, v := range s {
		if f(v) {
			r = append(r, v)
		}
	}
	return r
}

// Map returns the results of calling f on each element of s, skipping
// elements for which f fails.
func Map[T, R any, S ~[]T](s S, f func(T) (R, error)) (r []R, errs []error) {
	r = make([]R, 0, len(s))
	for _, v := range s {
		m, err := f(v)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		r = append(r, m)
	}
	return r, errs
}
