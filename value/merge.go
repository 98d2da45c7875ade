package value

// Merge applies incoming onto existing:
//
//   - incoming Null removes the value (result Null);
//   - two Mappings merge field by field, recursively; a field whose incoming
//     value is Null is dropped from the result;
//   - anything else (scalars, Sequences, mismatched kinds) is replaced by
//     incoming wholesale.
//
// The result never contains Null fields. Merge does not modify its inputs.
func Merge(existing, incoming Value) Value {
	switch {
	case incoming.kind == KindNull:
		return Null()
	case incoming.kind != KindMapping:
		return incoming
	case incoming.replace || existing.kind != KindMapping:
		return strip(incoming)
	}

	out := make(map[string]Value, len(existing.m)+len(incoming.m))
	for k, f := range existing.m {
		out[k] = f
	}
	for k, f := range incoming.m {
		if f.kind == KindNull {
			delete(out, k)
			continue
		}
		base, ok := existing.m[k]
		if !ok {
			base = Null()
		}
		out[k] = Merge(base, f)
	}
	return Value{kind: KindMapping, m: out}
}

// Fold collapses a run of merge increments into one increment so that
//
//	Merge(Merge(b, i1), i2) == Merge(b, Fold(i1, i2))
//
// for every base b. Unlike Merge it keeps Null fields (they still have to
// delete from the base) and marks a Mapping that follows a non-mapping
// increment so it replaces the base instead of merging into it.
// Fold of no increments is Null; callers with nothing to apply should not
// call Merge with it.
func Fold(increments ...Value) Value {
	if len(increments) == 0 {
		return Null()
	}
	acc := increments[0]
	for _, inc := range increments[1:] {
		acc = fold(acc, inc)
	}
	return acc
}

func fold(prev, next Value) Value {
	if next.kind != KindMapping {
		return next
	}
	if prev.kind != KindMapping {
		// prev already decided the base; whatever follows rebuilds from it
		r := next
		r.replace = true
		return r
	}
	if next.replace {
		return next
	}
	out := make(map[string]Value, len(prev.m)+len(next.m))
	for k, f := range prev.m {
		out[k] = f
	}
	for k, f := range next.m {
		if p, ok := prev.m[k]; ok {
			out[k] = fold(p, f)
			continue
		}
		out[k] = f
	}
	return Value{kind: KindMapping, m: out, replace: prev.replace}
}

// strip removes Null fields and replace markers, recursively.
func strip(v Value) Value {
	switch v.kind {
	case KindMapping:
		out := make(map[string]Value, len(v.m))
		for k, f := range v.m {
			if f.kind == KindNull {
				continue
			}
			out[k] = strip(f)
		}
		return Value{kind: KindMapping, m: out}
	default:
		return v
	}
}
