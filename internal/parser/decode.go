package parser

import (
	"encoding/json"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/propwatch/ingest-cli/internal/resilience"
)

// decoder decodes one section object with alias resolution and drift
// tolerance. A field that arrives with an unexpected JSON type (numeric as
// string, bool as number) is coerced where possible and logged as a drift
// warning, never treated as fatal. Missing and unknown fields are absent.
type decoder struct {
	section string
	obj     map[string]json.RawMessage
	drift   int
}

// newDecoder unmarshals a raw section into a decoder. A section that is not
// a JSON object at all is a ParseError for that section only.
func newDecoder(section string, raw json.RawMessage) (*decoder, *resilience.ParseError) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, &resilience.ParseError{Section: section, Reason: "section is not an object: " + err.Error()}
	}
	return &decoder{section: section, obj: obj}, nil
}

// newSliceDecoder unmarshals a raw element of a section array.
func newSliceDecoder(section string, raw json.RawMessage) (*decoder, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, false
	}
	return &decoder{section: section, obj: obj}, true
}

// raw resolves a canonical field through the alias table.
func (d *decoder) raw(canonical string) (json.RawMessage, bool) {
	for _, alias := range aliasesFor(d.section, canonical) {
		if v, ok := d.obj[alias]; ok && string(v) != "null" {
			return v, true
		}
	}
	return nil, false
}

// array resolves a canonical field expected to hold a JSON array. A section
// that is itself an array can pass through via the "" canonical name.
func (d *decoder) array(canonical string) ([]json.RawMessage, bool) {
	v, ok := d.raw(canonical)
	if !ok {
		return nil, false
	}
	var items []json.RawMessage
	if err := json.Unmarshal(v, &items); err != nil {
		d.warnDrift(canonical, "array", string(v))
		return nil, false
	}
	return items, true
}

func (d *decoder) int64Ptr(canonical string) *int64 {
	v, ok := d.raw(canonical)
	if !ok {
		return nil
	}
	var n int64
	if err := json.Unmarshal(v, &n); err == nil {
		return &n
	}
	// Numeric arriving as a string is the most common drift shape.
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
		if parsed, err := strconv.ParseInt(s, 10, 64); err == nil {
			d.warnDrift(canonical, "int64", "string")
			return &parsed
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			d.warnDrift(canonical, "int64", "numeric string")
			n := int64(f)
			return &n
		}
	}
	var f float64
	if err := json.Unmarshal(v, &f); err == nil {
		d.warnDrift(canonical, "int64", "float")
		n := int64(f)
		return &n
	}
	d.warnDrift(canonical, "int64", string(v))
	return nil
}

func (d *decoder) float64Ptr(canonical string) *float64 {
	v, ok := d.raw(canonical)
	if !ok {
		return nil
	}
	var f float64
	if err := json.Unmarshal(v, &f); err == nil {
		return &f
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
		if parsed, err := strconv.ParseFloat(s, 64); err == nil {
			d.warnDrift(canonical, "float64", "string")
			return &parsed
		}
	}
	d.warnDrift(canonical, "float64", string(v))
	return nil
}

func (d *decoder) intPtr(canonical string) *int {
	n := d.int64Ptr(canonical)
	if n == nil {
		return nil
	}
	i := int(*n)
	return &i
}

func (d *decoder) stringPtr(canonical string) *string {
	v, ok := d.raw(canonical)
	if !ok {
		return nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		return &s
	}
	// A scalar arriving where a string was expected: stringify it.
	var n json.Number
	if err := json.Unmarshal(v, &n); err == nil {
		d.warnDrift(canonical, "string", "number")
		s := n.String()
		return &s
	}
	d.warnDrift(canonical, "string", string(v))
	return nil
}

func (d *decoder) boolPtr(canonical string) *bool {
	v, ok := d.raw(canonical)
	if !ok {
		return nil
	}
	var b bool
	if err := json.Unmarshal(v, &b); err == nil {
		return &b
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "y", "yes", "1":
			d.warnDrift(canonical, "bool", "string")
			t := true
			return &t
		case "false", "n", "no", "0":
			d.warnDrift(canonical, "bool", "string")
			f := false
			return &f
		}
	}
	var n float64
	if err := json.Unmarshal(v, &n); err == nil {
		d.warnDrift(canonical, "bool", "number")
		b := n != 0
		return &b
	}
	d.warnDrift(canonical, "bool", string(v))
	return nil
}

// warnDrift logs one field-shape drift occurrence. Drift is an
// observability signal, not an error: the value degrades to absent (or the
// coerced form) and decoding continues.
func (d *decoder) warnDrift(field, wanted, got string) {
	d.drift++
	if len(got) > 40 {
		got = got[:40] + "..."
	}
	zap.L().Warn("payload field shape drift",
		zap.String("section", d.section),
		zap.String("field", field),
		zap.String("expected", wanted),
		zap.String("got", got),
		zap.Int("fieldmap_version", FieldMapVersion),
	)
}
