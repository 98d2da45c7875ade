package reactkv

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}

// registered flattens a name -> key table into a set.
func registered(m map[string]string) map[string]struct{} {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(m))
	for _, k := range m {
		out[k] = struct{}{}
	}
	return out
}
