// Package validate whitelists and sanitizes request parameters. Validators
// rewrite values in place and fail with *Error.
package validate

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/samber/lo"

	"github.com/rexliu/acrpc/pkg/rpc"
)

// Validator checks a decoded JSON value and returns its sanitized form. A
// nil result removes the value from its parent object.
type Validator interface {
	Validate(value any) (any, error)
	isValidator()
}

// FallbackFunc converts a failure into a replacement value.
type FallbackFunc func(value any, err error) any

// WithFallback wraps v so failures are handed to fn instead of returned.
func WithFallback(v Validator, fn FallbackFunc) Validator {
	return fallbackValidator{inner: v, fn: fn}
}

// Discard is a FallbackFunc that drops the invalid value.
func Discard(any, error) any { return nil }

type fallbackValidator struct {
	inner Validator
	fn    FallbackFunc
}

func (fallbackValidator) isValidator() {}

func (f fallbackValidator) Validate(value any) (any, error) {
	out, err := f.inner.Validate(value)
	if err != nil {
		return f.fn(value, err), nil
	}
	return out, nil
}

// Boolean coerces any value to a strict boolean.
type Boolean struct{}

func (Boolean) isValidator() {}

func (Boolean) Validate(value any) (any, error) {
	return rpc.Truthy(value), nil
}

// Enum accepts one of a fixed set of strings.
type Enum struct {
	Values []string
}

func (Enum) isValidator() {}

func (e Enum) Validate(value any) (any, error) {
	s, ok := value.(string)
	if !ok || !lo.Contains(e.Values, s) {
		return nil, fail(ErrNotEnum)
	}
	return s, nil
}

// Text bounds a string. Over-long text is truncated when Truncate is set,
// rejected otherwise. Sanitize strips markup first.
type Text struct {
	MaxLength int
	Truncate  bool
	Sanitize  bool
}

// SanitizedText is Text with markup stripping, for fields echoed into UI.
func SanitizedText(maxLength int, truncate bool) Text {
	return Text{MaxLength: maxLength, Truncate: truncate, Sanitize: true}
}

func (Text) isValidator() {}

func (t Text) Validate(value any) (any, error) {
	s, ok := value.(string)
	if !ok {
		return nil, fail(ErrNotString)
	}
	if t.Sanitize {
		s = StripMarkup(s)
	}
	if t.MaxLength > 0 && utf8.RuneCountInString(s) > t.MaxLength {
		if !t.Truncate {
			return nil, fail(ErrTooLong)
		}
		s = string([]rune(s)[:t.MaxLength])
	}
	return s, nil
}

var (
	httpOrHTTPS = regexp.MustCompile(`(?i)^https?://`)
	httpsOnly   = regexp.MustCompile(`(?i)^https://`)
)

// URL bounds a URL by length and scheme and, when Origin is set, requires
// its host to equal Origin.
type URL struct {
	MaxLength int
	HTTPSOnly bool
	Origin    string
}

// URLWithOrigin returns a URL validator constrained to origin. Any scheme
// prefix on origin is ignored.
func URLWithOrigin(maxLength int, origin string) URL {
	return URL{MaxLength: maxLength, Origin: StripScheme(origin)}
}

func (URL) isValidator() {}

func (u URL) Validate(value any) (any, error) {
	raw, ok := value.(string)
	if !ok {
		return nil, fail(ErrNotString)
	}
	if u.MaxLength > 0 && len(raw) > u.MaxLength {
		return nil, fail(ErrTooLong)
	}
	scheme := httpOrHTTPS
	if u.HTTPSOnly {
		scheme = httpsOnly
	}
	if !scheme.MatchString(raw) {
		return nil, fail(ErrInvalidScheme)
	}
	if origin := StripScheme(u.Origin); origin != "" {
		parsed, err := url.Parse(raw)
		if err != nil || !strings.EqualFold(parsed.Host, origin) {
			return nil, fail(ErrInvalidDomain)
		}
	}
	return raw, nil
}

// StripScheme removes a leading http:// or https:// from s.
func StripScheme(s string) string {
	if loc := httpOrHTTPS.FindStringIndex(s); loc != nil {
		return s[loc[1]:]
	}
	return s
}

// Array applies Elem to every item in place.
type Array struct {
	Elem Validator
}

func (Array) isValidator() {}

func (a Array) Validate(value any) (any, error) {
	items, ok := value.([]any)
	if !ok {
		return nil, fail(ErrNotArray)
	}
	for i, item := range items {
		out, err := a.Elem.Validate(item)
		if err != nil {
			return nil, at(strconv.Itoa(i), err)
		}
		items[i] = out
	}
	return items, nil
}

// Object validates named fields of a JSON object in place.
type Object struct {
	failOnUnrecognized bool
	required           map[string]Validator
	optional           map[string]Validator
	order              []string
}

// NewObject returns an empty object validator. With failOnUnrecognized set,
// unknown fields fail validation; otherwise they are removed.
func NewObject(failOnUnrecognized bool) *Object {
	return &Object{
		failOnUnrecognized: failOnUnrecognized,
		required:           make(map[string]Validator),
		optional:           make(map[string]Validator),
	}
}

// Required adds a required field. It panics if name is already optional.
func (o *Object) Required(name string, v Validator) *Object {
	if _, ok := o.optional[name]; ok {
		panic("validate: " + name + " can not be both required and optional")
	}
	if _, ok := o.required[name]; !ok {
		o.order = append(o.order, name)
	}
	o.required[name] = v
	return o
}

// Optional adds an optional field. It panics if name is already required.
func (o *Object) Optional(name string, v Validator) *Object {
	if _, ok := o.required[name]; ok {
		panic("validate: " + name + " can not be both required and optional")
	}
	o.optional[name] = v
	return o
}

func (*Object) isValidator() {}

func (o *Object) Validate(value any) (any, error) {
	var obj map[string]any
	switch v := value.(type) {
	case map[string]any:
		obj = v
	case rpc.Params:
		obj = v
	default:
		return nil, fail(ErrNotObject)
	}
	for name, field := range obj {
		v, known := o.required[name]
		if !known {
			v, known = o.optional[name]
		}
		switch {
		case known && field != nil:
			out, err := v.Validate(field)
			if err != nil {
				return nil, at(name, err)
			}
			obj[name] = out
		case !known && o.failOnUnrecognized:
			return nil, at(name, ErrUnrecognizedField)
		case !known:
			delete(obj, name)
		}
		if obj[name] == nil {
			delete(obj, name)
		}
	}
	for _, name := range o.order {
		if obj[name] == nil {
			return nil, at(name, ErrMissingField)
		}
	}
	return value, nil
}
