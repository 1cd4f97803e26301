package sql

// Row is one result row; a nil Value is NULL.
type Row []Value

func (r Row) Strings() []string {
	s := make([]string, len(r))
	for idx, v := range r {
		if sv, ok := v.(StringValue); ok {
			s[idx] = string(sv)
		} else {
			s[idx] = Format(v)
		}
	}
	return s
}

func (r Row) Equal(r2 Row) bool {
	if len(r) != len(r2) {
		return false
	}
	for idx := range r {
		if r[idx] == nil || r2[idx] == nil {
			if r[idx] != r2[idx] {
				return false
			}
			continue
		}
		cmp, err := r[idx].Compare(r2[idx])
		if err != nil || cmp != 0 {
			return false
		}
	}
	return true
}
