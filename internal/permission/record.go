package permission

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

// Kind identifies how a stored grant was represented.
type Kind uint8

const (
	// KindInvalid marks a record that could not be interpreted.
	KindInvalid Kind = iota
	// KindID is a bare string shaped like a canonical identifier.
	KindID
	// KindName is any other bare string.
	KindName
	// KindObject is a structured permission object.
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindID:
		return "id"
	case KindName:
		return "name"
	case KindObject:
		return "object"
	default:
		return "invalid"
	}
}

// Object is the structured representation of a granted permission.
type Object struct {
	ID          string            `json:"id,omitempty"`
	Name        string            `json:"name,omitempty"`
	Description string            `json:"description,omitempty"`
	Resource    string            `json:"resource,omitempty"`
	Action      string            `json:"action,omitempty"`
	Names       map[string]string `json:"names,omitempty"`
}

// Record is one entry of a session's granted permission set.
type Record struct {
	kind Kind
	raw  string
	obj  Object
}

// StringRecord builds a record from a bare string.
func StringRecord(s string) Record {
	s = strings.TrimSpace(s)
	if s == "" {
		return Record{}
	}
	if LooksLikeID(s) {
		return Record{kind: KindID, raw: s}
	}
	return Record{kind: KindName, raw: s}
}

// ObjectRecord builds a record from a structured permission.
func ObjectRecord(o Object) Record {
	return Record{kind: KindObject, obj: o}
}

// Kind reports the representation of r.
func (r Record) Kind() Kind {
	return r.kind
}

// String returns the bare string of an id or name record. Object records yield
// their name, or their id when the name is empty.
func (r Record) String() string {
	if r.kind == KindObject {
		if r.obj.Name != "" {
			return r.obj.Name
		}
		return r.obj.ID
	}
	return r.raw
}

// Object returns the structured form and whether r is an object record.
func (r Record) Object() (Object, bool) {
	return r.obj, r.kind == KindObject
}

// MarshalJSON writes the record back in the shape it was read from.
func (r Record) MarshalJSON() ([]byte, error) {
	switch r.kind {
	case KindID, KindName:
		return json.Marshal(r.raw)
	case KindObject:
		return json.Marshal(r.obj)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts a string, an object or anything else. Values that are
// neither strings nor objects decode to an invalid record instead of failing,
// so a corrupt element never rejects the surrounding array.
func (r *Record) UnmarshalJSON(data []byte) error {
	*r = Record{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		*r = StringRecord(s)
	case '{':
		obj, ok := decodeObject(data)
		if ok {
			*r = ObjectRecord(obj)
		}
	}
	return nil
}

func decodeObject(data []byte) (Object, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Object{}, false
	}
	var obj Object
	obj.ID = idField(fields["id"])
	obj.Name = stringField(fields["name"])
	obj.Description = stringField(fields["description"])
	obj.Resource = stringField(fields["resource"])
	obj.Action = stringField(fields["action"])
	if raw, ok := fields["names"]; ok {
		var names map[string]any
		if err := json.Unmarshal(raw, &names); err == nil {
			for locale, v := range names {
				if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
					obj.setName(locale, s)
				}
			}
		}
	}
	for key, raw := range fields {
		locale, ok := strings.CutPrefix(key, "name_")
		if !ok || locale == "" {
			continue
		}
		if s := stringField(raw); strings.TrimSpace(s) != "" {
			obj.setName(locale, s)
		}
	}
	return obj, true
}

func (o *Object) setName(locale, name string) {
	if o.Names == nil {
		o.Names = make(map[string]string)
	}
	o.Names[locale] = name
}

// stringField returns the string value of raw, or "" for any other JSON type.
func stringField(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// idField is stringField that also accepts numeric ids.
func idField(raw json.RawMessage) string {
	if s := stringField(raw); s != "" {
		return s
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return ""
	}
	if n, ok := v.(json.Number); ok {
		return n.String()
	}
	return ""
}

// ErrNotArray is returned when a serialized record set is not a JSON array.
var ErrNotArray = errors.New("permission: records payload is not an array")

// DecodeRecords parses a serialized record set. It accepts a bare array or an
// authentication response object carrying a "permissions" array.
func DecodeRecords(data []byte) ([]Record, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, ErrNotArray
	}
	if data[0] == '{' {
		var envelope struct {
			Permissions json.RawMessage `json:"permissions"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			return nil, err
		}
		return DecodeRecords(envelope.Permissions)
	}
	if data[0] != '[' {
		return nil, ErrNotArray
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	if records == nil {
		records = []Record{}
	}
	return records, nil
}

// EncodeRecords serializes records so that DecodeRecords restores them.
func EncodeRecords(records []Record) ([]byte, error) {
	if records == nil {
		records = []Record{}
	}
	return json.Marshal(records)
}
