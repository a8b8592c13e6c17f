package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Catalog is the descriptive product metadata (brand, country, dimensions, stock
// flags, ...) captured when a product is first added. The structure is not known to
// the cart; values are kept as raw JSON and never change after construction.
type Catalog struct {
	fields map[string]json.RawMessage
}

// NewCatalog deep-copies fields so later changes by the caller are not observed.
func NewCatalog(fields map[string]json.RawMessage) Catalog {
	if len(fields) == 0 {
		return Catalog{}
	}
	copied := make(map[string]json.RawMessage, len(fields))
	for k, v := range fields {
		copied[k] = cloneRaw(v)
	}
	return Catalog{fields: copied}
}

// ParseCatalog reads a JSON object into a Catalog.
func ParseCatalog(data []byte) (Catalog, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Catalog{}, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Catalog{}, fmt.Errorf("parse catalog: %w", err)
	}
	return NewCatalog(fields), nil
}

func (c Catalog) Len() int {
	return len(c.fields)
}

func (c Catalog) Keys() []string {
	keys := make([]string, 0, len(c.fields))
	for k := range c.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (c Catalog) Get(key string) (json.RawMessage, bool) {
	v, ok := c.fields[key]
	if !ok {
		return nil, false
	}
	return cloneRaw(v), true
}

// Decode unmarshals a single field into v.
func (c Catalog) Decode(key string, v any) error {
	raw, ok := c.fields[key]
	if !ok {
		return fmt.Errorf("catalog field %q not present", key)
	}
	return json.Unmarshal(raw, v)
}

// Fields returns a copy of every field.
func (c Catalog) Fields() map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(c.fields)+len(reservedFields))
	for k, v := range c.fields {
		out[k] = cloneRaw(v)
	}
	return out
}

func (c Catalog) Equal(other Catalog) bool {
	if len(c.fields) != len(other.fields) {
		return false
	}
	for k, v := range c.fields {
		ov, ok := other.fields[k]
		if !ok || !bytes.Equal(v, ov) {
			return false
		}
	}
	return true
}

func (c Catalog) MarshalJSON() ([]byte, error) {
	if len(c.fields) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(c.fields)
}

func (c *Catalog) UnmarshalJSON(data []byte) error {
	parsed, err := ParseCatalog(data)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

func cloneRaw(v json.RawMessage) json.RawMessage {
	if v == nil {
		return nil
	}
	out := make(json.RawMessage, len(v))
	copy(out, v)
	return out
}
