package permission

import (
	"strings"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
)

// KeySet is the comparable form of a record or descriptor.
type KeySet struct {
	ID    string
	Names map[string]struct{}
}

// Empty reports whether the set can never match anything.
func (k KeySet) Empty() bool {
	return k.ID == "" && len(k.Names) == 0
}

// HasName reports whether the normalized name is in the set.
func (k KeySet) HasName(name string) bool {
	_, ok := k.Names[name]
	return ok
}

func (k *KeySet) addName(name string) {
	n := NormalizeName(name)
	if n == "" {
		return
	}
	if k.Names == nil {
		k.Names = make(map[string]struct{}, 1)
	}
	k.Names[n] = struct{}{}
}

// LooksLikeID reports whether s has the shape of a canonical identifier.
func LooksLikeID(s string) bool {
	_, err := uuid.Parse(strings.TrimSpace(s))
	return err == nil
}

// NormalizeID trims s and canonicalizes UUID-shaped identifiers to lowercase
// hyphenated form. Other identifiers are opaque and only trimmed.
func NormalizeID(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if id, err := uuid.Parse(s); err == nil {
		return id.String()
	}
	return s
}

// NormalizeName folds case and collapses runs of whitespace, hyphens and
// underscores to a single underscore.
func NormalizeName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	folded := cases.Fold().String(s)
	var b strings.Builder
	b.Grow(len(folded))
	sep := false
	for _, r := range folded {
		if r == '-' || r == '_' || unicode.IsSpace(r) {
			sep = true
			continue
		}
		if sep && b.Len() > 0 {
			b.WriteByte('_')
		}
		sep = false
		b.WriteRune(r)
	}
	return b.String()
}

// Normalize maps a record to its key set. Invalid records and objects with
// neither id nor name yield an empty set.
func Normalize(r Record) KeySet {
	var ks KeySet
	switch r.kind {
	case KindID:
		ks.ID = NormalizeID(r.raw)
	case KindName:
		// Bare strings are ambiguous: keep both interpretations.
		ks.ID = NormalizeID(r.raw)
		ks.addName(r.raw)
	case KindObject:
		ks.ID = NormalizeID(r.obj.ID)
		ks.addName(r.obj.Name)
		for _, name := range r.obj.Names {
			ks.addName(name)
		}
	}
	return ks
}

// NormalizeDescriptor builds the target key set of a descriptor.
func NormalizeDescriptor(d Descriptor) KeySet {
	ks := KeySet{ID: NormalizeID(d.CanonicalID)}
	for _, name := range d.DisplayNames {
		ks.addName(name)
	}
	return ks
}
