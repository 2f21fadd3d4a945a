package progress

import (
	"strings"

	"github.com/tidwall/gjson"
)

// FormatArgs renders a JSON tool-argument object as a compact literal, e.g.
// {'cuisine': 'chinese', 'location': 'NY', 'count': 5}. Keys keep the order
// in which the model produced them. Text that is not valid JSON is returned
// unchanged.
func FormatArgs(args string) string {
	if strings.TrimSpace(args) == "" {
		return "{}"
	}
	if !gjson.Valid(args) {
		return args
	}
	var sb strings.Builder
	writeLiteral(&sb, gjson.Parse(args))
	return sb.String()
}

func writeLiteral(sb *strings.Builder, v gjson.Result) {
	switch {
	case v.IsObject():
		sb.WriteByte('{')
		first := true
		v.ForEach(func(k, val gjson.Result) bool {
			if !first {
				sb.WriteString(", ")
			}
			first = false
			writeQuoted(sb, k.String())
			sb.WriteString(": ")
			writeLiteral(sb, val)
			return true
		})
		sb.WriteByte('}')
	case v.IsArray():
		sb.WriteByte('[')
		for i, item := range v.Array() {
			if i > 0 {
				sb.WriteString(", ")
			}
			writeLiteral(sb, item)
		}
		sb.WriteByte(']')
	default:
		switch v.Type {
		case gjson.String:
			writeQuoted(sb, v.String())
		case gjson.True:
			sb.WriteString("True")
		case gjson.False:
			sb.WriteString("False")
		case gjson.Null:
			sb.WriteString("None")
		default:
			sb.WriteString(v.Raw)
		}
	}
}

// writeQuoted single-quotes s, switching to double quotes when s contains a
// single quote and no double quote.
func writeQuoted(sb *strings.Builder, s string) {
	q := byte('\'')
	if strings.ContainsRune(s, '\'') && !strings.ContainsRune(s, '"') {
		q = '"'
	}
	sb.WriteByte(q)
	for _, r := range s {
		switch {
		case r == '\\':
			sb.WriteString(`\\`)
		case r == rune(q):
			sb.WriteByte('\\')
			sb.WriteByte(q)
		case r == '\n':
			sb.WriteString(`\n`)
		case r == '\t':
			sb.WriteString(`\t`)
		default:
			sb.WriteRune(r)
		}
	}
	sb.WriteByte(q)
}
