// Package formdiff computes ordered field-level differences between two
// versions of the same document and can replay them onto the older version.
package formdiff

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Undefined marks the missing side of an array element change.
const Undefined = "undefined"

// Change describes one field (or array element) whose canonical
// serialization differs between two document versions.
type Change struct {
	Field    string `json:"field"`
	Index    *int   `json:"index,omitempty"`
	Previous string `json:"previous"`
	Change   string `json:"change"`
}

type field struct {
	name  string
	value reflect.Value
}

// Diff compares the fields present in both oldDoc and newDoc. Structs are
// walked in declaration order using their JSON names (embedded structs are
// flattened like encoding/json does), maps are walked in sorted key order.
// Sequence fields are compared element by element; an element present on one
// side only is reported with Undefined on the other side.
func Diff(oldDoc, newDoc any) ([]Change, error) {
	oldFields, err := fieldsOf(oldDoc)
	if err != nil {
		return nil, fmt.Errorf("old document: %w", err)
	}
	newFields, err := fieldsOf(newDoc)
	if err != nil {
		return nil, fmt.Errorf("new document: %w", err)
	}
	newByName := make(map[string]reflect.Value, len(newFields))
	for _, f := range newFields {
		newByName[f.name] = f.value
	}

	changes := make([]Change, 0)
	for _, of := range oldFields {
		nv, ok := newByName[of.name]
		if !ok {
			continue
		}
		ov := of.value
		oldSeq, newSeq := isSequence(ov), isSequence(nv)
		switch {
		case oldSeq && newSeq:
			seqChanges, err := diffSequence(of.name, ov, nv)
			if err != nil {
				return nil, err
			}
			changes = append(changes, seqChanges...)
		case !oldSeq && !newSeq:
			prev, err := canonical(ov)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", of.name, err)
			}
			next, err := canonical(nv)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", of.name, err)
			}
			if prev != next {
				changes = append(changes, Change{Field: of.name, Previous: prev, Change: next})
			}
		}
	}
	return changes, nil
}

func diffSequence(name string, oldSeq, newSeq reflect.Value) ([]Change, error) {
	oldSeq, newSeq = unwrap(oldSeq), unwrap(newSeq)
	oldLen, newLen := oldSeq.Len(), newSeq.Len()
	size := oldLen
	if newLen > size {
		size = newLen
	}
	changes := make([]Change, 0)
	for i := 0; i < size; i++ {
		prev, next := Undefined, Undefined
		var err error
		if i < oldLen {
			if prev, err = canonical(oldSeq.Index(i)); err != nil {
				return nil, fmt.Errorf("field %s[%d]: %w", name, i, err)
			}
		}
		if i < newLen {
			if next, err = canonical(newSeq.Index(i)); err != nil {
				return nil, fmt.Errorf("field %s[%d]: %w", name, i, err)
			}
		}
		if prev != next {
			idx := i
			changes = append(changes, Change{Field: name, Index: &idx, Previous: prev, Change: next})
		}
	}
	return changes, nil
}

func fieldsOf(doc any) ([]field, error) {
	v := indirect(reflect.ValueOf(doc))
	if !v.IsValid() {
		return nil, nil
	}
	switch v.Kind() {
	case reflect.Struct:
		return structFields(v), nil
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("unsupported map key type %s", v.Type().Key())
		}
		keys := v.MapKeys()
		sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
		fields := make([]field, 0, len(keys))
		for _, key := range keys {
			fields = append(fields, field{name: key.String(), value: v.MapIndex(key)})
		}
		return fields, nil
	default:
		return nil, fmt.Errorf("unsupported document kind %s", v.Kind())
	}
}

func structFields(v reflect.Value) []field {
	t := v.Type()
	fields := make([]field, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if sf.Tag.Get("diff") == "-" {
			continue
		}
		jsonName, _, _ := strings.Cut(sf.Tag.Get("json"), ",")
		if jsonName == "-" {
			continue
		}
		if sf.Anonymous && jsonName == "" {
			embeddedType := sf.Type
			if embeddedType.Kind() == reflect.Pointer {
				embeddedType = embeddedType.Elem()
			}
			if embeddedType.Kind() != reflect.Struct {
				if sf.IsExported() {
					fields = append(fields, field{name: sf.Name, value: v.Field(i)})
				}
				continue
			}
			embedded := indirect(v.Field(i))
			if embedded.IsValid() && embedded.Kind() == reflect.Struct {
				fields = append(fields, structFields(embedded)...)
			}
			continue
		}
		if !sf.IsExported() {
			continue
		}
		if jsonName == "" {
			jsonName = sf.Name
		}
		fields = append(fields, field{name: jsonName, value: v.Field(i)})
	}
	return fields
}

func indirect(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

func unwrap(v reflect.Value) reflect.Value {
	if v.IsValid() && v.Kind() == reflect.Interface && !v.IsNil() {
		return v.Elem()
	}
	return v
}

func isSequence(v reflect.Value) bool {
	v = unwrap(v)
	if !v.IsValid() {
		return false
	}
	switch v.Kind() {
	case reflect.Slice:
		return v.Type().Elem().Kind() != reflect.Uint8
	case reflect.Array:
		return true
	default:
		return false
	}
}

func canonical(v reflect.Value) (string, error) {
	if !v.IsValid() {
		return "null", nil
	}
	if v.Kind() == reflect.Interface && v.IsNil() {
		return "null", nil
	}
	raw, err := json.Marshal(v.Interface())
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// Apply replays changes onto the JSON form of oldDoc and decodes the result
// into dst. Applying Diff(a, b) to a reconstructs the diffed fields of b.
func Apply(oldDoc any, changes []Change, dst any) error {
	raw, err := json.Marshal(oldDoc)
	if err != nil {
		return fmt.Errorf("marshal old document: %w", err)
	}
	doc := make(map[string]json.RawMessage)
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decode old document: %w", err)
	}

	arrays := make(map[string][]json.RawMessage)
	removed := make(map[string]map[int]struct{})
	for _, change := range changes {
		if change.Index == nil {
			doc[change.Field] = json.RawMessage(change.Change)
			continue
		}
		elems, ok := arrays[change.Field]
		if !ok {
			if current, exists := doc[change.Field]; exists && string(current) != "null" {
				if err := json.Unmarshal(current, &elems); err != nil {
					return fmt.Errorf("field %s is not an array: %w", change.Field, err)
				}
			}
		}
		idx := *change.Index
		for len(elems) <= idx {
			elems = append(elems, json.RawMessage("null"))
		}
		if change.Change == Undefined {
			if removed[change.Field] == nil {
				removed[change.Field] = make(map[int]struct{})
			}
			removed[change.Field][idx] = struct{}{}
		} else {
			elems[idx] = json.RawMessage(change.Change)
		}
		arrays[change.Field] = elems
	}
	for name, elems := range arrays {
		kept := make([]json.RawMessage, 0, len(elems))
		for i, elem := range elems {
			if _, gone := removed[name][i]; gone {
				continue
			}
			kept = append(kept, elem)
		}
		encoded, err := json.Marshal(kept)
		if err != nil {
			return fmt.Errorf("encode field %s: %w", name, err)
		}
		doc[name] = encoded
	}

	merged, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	return json.Unmarshal(merged, dst)
}
