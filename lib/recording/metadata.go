package recording

import (
	"strings"
	"unicode"
)

// Element is a single metadata value with its presentation flags.
type Element struct {
	Key       string `json:"key"`
	Value     string `json:"value"`
	Visible   bool   `json:"visible"`
	Editable  bool   `json:"editable"`
	Multiline bool   `json:"multiline"`
}

// Metadata is an ordered set of key/value elements. One key is primary and
// names the recording in listings.
type Metadata struct {
	PrimaryKey string    `json:"primaryKey"`
	Elements   []Element `json:"elements"`
}

// NewMetadata returns metadata with a single visible, editable primary value.
func NewMetadata(primaryKey, primaryValue string) *Metadata {
	return &Metadata{
		PrimaryKey: primaryKey,
		Elements: []Element{{
			Key:      primaryKey,
			Value:    primaryValue,
			Visible:  true,
			Editable: true,
		}},
	}
}

func (m *Metadata) element(key string) *Element {
	for i := range m.Elements {
		if m.Elements[i].Key == key {
			return &m.Elements[i]
		}
	}
	return nil
}

// Keys returns the keys in insertion order.
func (m *Metadata) Keys() []string {
	keys := make([]string, 0, len(m.Elements))
	for _, e := range m.Elements {
		keys = append(keys, e.Key)
	}
	return keys
}

// Value returns the value of key with ${otherKey} references replaced by the
// raw values of the other elements.
func (m *Metadata) Value(key string) string {
	e := m.element(key)
	if e == nil {
		return ""
	}
	value := e.Value
	for _, other := range m.Elements {
		if other.Key == key {
			continue
		}
		value = strings.ReplaceAll(value, "${"+other.Key+"}", other.Value)
	}
	return value
}

// PrimaryValue is Value(PrimaryKey).
func (m *Metadata) PrimaryValue() string {
	return m.Value(m.PrimaryKey)
}

// Set adds key or updates it if it exists and is editable.
func (m *Metadata) Set(key, value string) {
	if e := m.element(key); e != nil {
		if e.Editable {
			e.Value = value
		}
		return
	}
	m.Elements = append(m.Elements, Element{Key: key, Value: value, Visible: true, Editable: true})
}

// SetElement adds or replaces key including its flags.
func (m *Metadata) SetElement(el Element) {
	if e := m.element(el.Key); e != nil {
		*e = el
		return
	}
	m.Elements = append(m.Elements, el)
}

// Clone returns a deep copy.
func (m *Metadata) Clone() *Metadata {
	if m == nil {
		return nil
	}
	c := &Metadata{PrimaryKey: m.PrimaryKey, Elements: make([]Element, len(m.Elements))}
	copy(c.Elements, m.Elements)
	return c
}

// DisplayName turns a camel case key into words, "startTime" becomes "Start Time".
func DisplayName(key string) string {
	if key == "" {
		return ""
	}
	var b strings.Builder
	for i, r := range key {
		switch {
		case i == 0:
			b.WriteRune(unicode.ToUpper(r))
		case unicode.IsUpper(r):
			b.WriteRune(' ')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// KeyFor is the inverse of DisplayName.
func KeyFor(displayName string) string {
	var b strings.Builder
	upper := false
	for i, r := range displayName {
		switch {
		case i == 0:
			b.WriteRune(unicode.ToLower(r))
		case unicode.IsSpace(r):
			upper = true
		case upper:
			b.WriteRune(unicode.ToUpper(r))
			upper = false
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
