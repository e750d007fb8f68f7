package telemetry

// Matches reports whether record contains every field in query.
//
// For each query key the record must be a mapping that holds the key with a
// value of the same Kind. Nested mappings recurse, scalars compare by type and
// value. A sequence-valued query field only checks presence and kind: the
// contents of the two sequences are not compared. An empty query matches any
// record, including non-mappings.
func Matches(record Value, query Mapping) bool {
	if len(query) == 0 {
		return true
	}

	fields, ok := record.(Mapping)
	if !ok {
		return false
	}

	for key, want := range query {
		got, ok := fields[key]
		if !ok {
			return false
		}
		if kindOf(got) != kindOf(want) {
			return false
		}

		switch w := want.(type) {
		case Mapping:
			if !Matches(got, w) {
				return false
			}
		case Sequence:
			continue
		default:
			if scalarOf(got) != scalarOf(want) {
				return false
			}
		}
	}

	return true
}

// Filter returns the records matching query in their original order
func Filter(records Sequence, query Mapping) Sequence {
	matched := make(Sequence, 0)
	for _, record := range records {
		if Matches(record, query) {
			matched = append(matched, record)
		}
	}
	return matched
}

// First returns the first record matching query
func First(records Sequence, query Mapping) (Mapping, bool) {
	for _, record := range records {
		if Matches(record, query) {
			m, ok := record.(Mapping)
			return m, ok
		}
	}
	return nil, false
}

// Count returns how many records match query
func Count(records Sequence, query Mapping) int {
	n := 0
	for _, record := range records {
		if Matches(record, query) {
			n++
		}
	}
	return n
}

func kindOf(v Value) Kind {
	if v == nil {
		return KindScalar
	}
	return v.Kind()
}

func scalarOf(v Value) Scalar {
	s, _ := v.(Scalar)
	return s
}
