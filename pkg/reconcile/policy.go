package reconcile

// Result is the outcome of evaluating a desired collection against an observed one
type Result[T any] struct {
	ToAdd    []T
	ToRemove []T
	ToKeep   []T
}

// Evaluate compares desired and observed elements by key under policy.
//
// ToAdd holds desired elements missing from observed, in desired order.
// ToRemove holds observed elements absent from desired, and is always empty
// under Extend. ToKeep holds the remaining observed elements in observed order.
func Evaluate[T any](desired, observed []T, key func(T) string, policy Policy) Result[T] {
	want := make(map[string]struct{}, len(desired))
	for _, d := range desired {
		want[key(d)] = struct{}{}
	}
	have := make(map[string]struct{}, len(observed))
	for _, o := range observed {
		have[key(o)] = struct{}{}
	}

	var result Result[T]
	added := make(map[string]struct{})
	for _, d := range desired {
		k := key(d)
		if _, ok := have[k]; ok {
			continue
		}
		if _, dup := added[k]; dup {
			continue
		}
		added[k] = struct{}{}
		result.ToAdd = append(result.ToAdd, d)
	}

	for _, o := range observed {
		_, wanted := want[key(o)]
		if !wanted && policy == Overwrite {
			result.ToRemove = append(result.ToRemove, o)
			continue
		}
		result.ToKeep = append(result.ToKeep, o)
	}
	return result
}

// EvaluateScalar decides the value of a single field. Under Overwrite any
// difference is a change. Under Extend only an unset observed value is filled.
func EvaluateScalar[T comparable](desired, observed T, policy Policy) (T, bool) {
	var zero T
	if desired == observed {
		return observed, false
	}
	if policy == Overwrite {
		return desired, true
	}
	if observed == zero && desired != zero {
		return desired, true
	}
	return observed, false
}
