package prompt

import (
	"fmt"
	"strings"
)

// TemplateError reports an instruction body that cannot be rendered: an
// unknown placeholder or malformed braces.
type TemplateError struct {
	// Field is the offending placeholder name; empty for syntax errors.
	Field string
	// Offset is the byte offset of the problem in the template.
	Offset int
	Reason string
}

func (e *TemplateError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("template: %s %q at offset %d", e.Reason, e.Field, e.Offset)
	}
	return fmt.Sprintf("template: %s at offset %d", e.Reason, e.Offset)
}

// scanTemplate walks a brace-format template. "{{" and "}}" are literal
// braces; "{name}" is replaced with lookup(name). lookup returning false
// aborts with a TemplateError naming the field.
func scanTemplate(tmpl string, lookup func(field string) (string, bool)) (string, error) {
	var b strings.Builder
	b.Grow(len(tmpl))

	for i := 0; i < len(tmpl); i++ {
		switch ch := tmpl[i]; ch {
		case '{':
			if i+1 < len(tmpl) && tmpl[i+1] == '{' {
				b.WriteByte('{')
				i++
				continue
			}
			end := strings.IndexAny(tmpl[i+1:], "{}")
			if end < 0 || tmpl[i+1+end] != '}' {
				return "", &TemplateError{Offset: i, Reason: "unterminated placeholder"}
			}
			field := tmpl[i+1 : i+1+end]
			value, ok := lookup(field)
			if !ok {
				return "", &TemplateError{Field: field, Offset: i, Reason: "unknown placeholder"}
			}
			b.WriteString(value)
			i += end + 1
		case '}':
			if i+1 < len(tmpl) && tmpl[i+1] == '}' {
				b.WriteByte('}')
				i++
				continue
			}
			return "", &TemplateError{Offset: i, Reason: "single '}' encountered"}
		default:
			b.WriteByte(ch)
		}
	}
	return b.String(), nil
}

// format fills tmpl from values. Every placeholder must be a key of values.
func format(tmpl string, values map[string]string) (string, error) {
	return scanTemplate(tmpl, func(field string) (string, bool) {
		v, ok := values[field]
		return v, ok
	})
}
