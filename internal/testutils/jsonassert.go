package testutils

import (
	"encoding/json"
	"fmt"

	"github.com/mcuadros/go-defaults"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// PresencePlaceholder in expected JSON matches any value, as long as the key exists.
const PresencePlaceholder = "<<PRESENCE>>"

// JSONAssertOptions controls how expected and actual documents are normalized
// before they are compared.
type JSONAssertOptions struct {
	IgnoreExtraKeys          bool `default:"true"` // keys only present in actual are dropped
	NilToEmptyArray          bool `default:"true"` // null and [] compare equal
	AllowPresencePlaceholder bool `default:"true"`
	IgnoredFields            []string
}

// Option is a functional option for configuring JSONAsserter
type Option func(*JSONAssertOptions)

// JSONAsserter compares JSON documents structurally and reports a readable diff.
// Output of engine reports carries ids and timings, so by default only the keys
// named in the expected document are compared.
type JSONAsserter struct {
	t       TestingT
	options JSONAssertOptions
}

// NewJSONAsserter creates a new JSONAsserter with default options
func NewJSONAsserter(t TestingT) *JSONAsserter {
	opts := JSONAssertOptions{}
	defaults.SetDefaults(&opts)
	return &JSONAsserter{t: t, options: opts}
}

// WithOptions applies functional options to the JSONAsserter
func (ja *JSONAsserter) WithOptions(opts ...Option) *JSONAsserter {
	for _, opt := range opts {
		opt(&ja.options)
	}
	return ja
}

// Assert compares actualJSON against expectedJSON
func (ja *JSONAsserter) Assert(actualJSON, expectedJSON string) {
	if diff := ja.diff(actualJSON, expectedJSON); diff != "" {
		ja.t.Errorf("JSON assertion failed:\n%s", diff)
	}
}

// AssertValue marshals v and compares it against expectedJSON
func (ja *JSONAsserter) AssertValue(v any, expectedJSON string) {
	data, err := json.Marshal(v)
	if err != nil {
		ja.t.Errorf("JSON assertion failed: cannot marshal %T: %v", v, err)
		return
	}
	ja.Assert(string(data), expectedJSON)
}

func (ja *JSONAsserter) diff(actualJSON, expectedJSON string) string {
	var expected, actual any
	if err := json.Unmarshal([]byte(expectedJSON), &expected); err != nil {
		return fmt.Sprintf("invalid expected JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(actualJSON), &actual); err != nil {
		return fmt.Sprintf("invalid actual JSON: %v", err)
	}

	// gojsondiff only compares objects at the root
	if _, ok := expected.([]any); ok {
		expected = map[string]any{"array": expected}
		actual = map[string]any{"array": actual}
	}

	actual = ja.normalize(expected, actual)

	expectedBytes, _ := json.Marshal(expected)
	actualBytes, _ := json.Marshal(actual)

	d, err := gojsondiff.New().Compare(expectedBytes, actualBytes)
	if err != nil {
		return fmt.Sprintf("JSON comparison failed: %v", err)
	}
	if !d.Modified() {
		return ""
	}

	f := formatter.NewAsciiFormatter(expected, formatter.AsciiFormatterConfig{ShowArrayIndex: true})
	out, _ := f.Format(d)
	return out
}

// normalize walks both documents together and returns actual rewritten
// according to the options. expected is modified in place for placeholders
// and ignored fields.
func (ja *JSONAsserter) normalize(expected, actual any) any {
	if ja.options.NilToEmptyArray {
		if emptyOrNil(expected) && emptyOrNil(actual) {
			return expected
		}
	}

	switch exp := expected.(type) {
	case map[string]any:
		act, ok := actual.(map[string]any)
		if !ok {
			return actual
		}
		for _, f := range ja.options.IgnoredFields {
			delete(exp, f)
			delete(act, f)
		}
		if ja.options.IgnoreExtraKeys {
			for k := range act {
				if _, ok := exp[k]; !ok {
					delete(act, k)
				}
			}
		}
		for k, ev := range exp {
			av, present := act[k]
			if s, ok := ev.(string); ok && s == PresencePlaceholder && ja.options.AllowPresencePlaceholder {
				if present {
					exp[k] = av
				}
				continue
			}
			if present {
				act[k] = ja.normalize(ev, av)
			}
		}
		return act

	case []any:
		act, ok := actual.([]any)
		if !ok {
			return actual
		}
		for i := range exp {
			if i < len(act) {
				act[i] = ja.normalize(exp[i], act[i])
			}
		}
		return act
	}
	return actual
}

func emptyOrNil(v any) bool {
	if v == nil {
		return true
	}
	arr, ok := v.([]any)
	return ok && len(arr) == 0
}

// WithIgnoreExtraKeys sets whether to ignore extra keys in actual JSON
func WithIgnoreExtraKeys(ignore bool) Option {
	return func(opts *JSONAssertOptions) {
		opts.IgnoreExtraKeys = ignore
	}
}

// WithNilToEmptyArray sets whether null and [] compare equal
func WithNilToEmptyArray(normalize bool) Option {
	return func(opts *JSONAssertOptions) {
		opts.NilToEmptyArray = normalize
	}
}

// WithAllowPresencePlaceholder sets whether PresencePlaceholder is honored
func WithAllowPresencePlaceholder(allow bool) Option {
	return func(opts *JSONAssertOptions) {
		opts.AllowPresencePlaceholder = allow
	}
}

// WithIgnoredFields drops the named keys, at any depth, from both documents
func WithIgnoredFields(fields ...string) Option {
	return func(opts *JSONAssertOptions) {
		opts.IgnoredFields = fields
	}
}
