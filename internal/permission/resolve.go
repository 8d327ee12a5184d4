package permission

// Checker answers authorization questions against some permission source.
type Checker interface {
	IsAuthorized(d Descriptor) bool
}

// CheckerFunc is an adapter to use ordinary functions as Checker.
type CheckerFunc func(d Descriptor) bool

// IsAuthorized calls f(d).
func (f CheckerFunc) IsAuthorized(d Descriptor) bool {
	return f(d)
}

// IsAuthorized reports whether any record grants d. A nil record set means the
// store is not loaded and always denies. Records that normalize to an empty
// key set are skipped; they never stop the scan.
func IsAuthorized(records []Record, d Descriptor) bool {
	if records == nil {
		return false
	}
	target := NormalizeDescriptor(d)
	if target.Empty() {
		return false
	}
	for _, r := range records {
		if matches(Normalize(r), target) {
			return true
		}
	}
	return false
}

func matches(rec, target KeySet) bool {
	if rec.Empty() {
		return false
	}
	if target.ID != "" && rec.ID == target.ID {
		return true
	}
	for name := range rec.Names {
		if target.HasName(name) {
			return true
		}
	}
	return false
}

// AnyOf reports whether at least one descriptor is granted. An empty list is
// satisfied by any loaded record set.
func AnyOf(records []Record, ds ...Descriptor) bool {
	if records == nil {
		return false
	}
	if len(ds) == 0 {
		return true
	}
	for _, d := range ds {
		if IsAuthorized(records, d) {
			return true
		}
	}
	return false
}

// AllOf reports whether every descriptor is granted. An empty list is
// satisfied by any loaded record set.
func AllOf(records []Record, ds ...Descriptor) bool {
	if records == nil {
		return false
	}
	for _, d := range ds {
		if !IsAuthorized(records, d) {
			return false
		}
	}
	return true
}
