package routeros

import (
	"strings"
)

// parseTerse decodes "print terse" output: one row per line, an index,
// optional flag letters, then key=value pairs. Values may be quoted; an
// unquoted value runs until the next key= token.
func parseTerse(out string) []Record {
	var records []Record
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r ")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(strings.TrimSpace(line), "Flags:") {
			continue
		}
		if r := parseTerseLine(line); len(r) > 0 {
			records = append(records, r)
		}
	}
	return records
}

func parseTerseLine(line string) Record {
	rec := Record{}
	var key string
	var flags strings.Builder
	for i, field := range splitFields(line) {
		if k, v, ok := cutProperty(field); ok {
			key = k
			rec[key] = unquote(v)
			continue
		}
		if key != "" {
			// Continuation of an unquoted value containing spaces.
			rec[key] += " " + unquote(field)
			continue
		}
		if i == 0 && isDigits(field) {
			rec[".index"] = field
			continue
		}
		flags.WriteString(field)
	}
	if flags.Len() > 0 {
		rec[".flags"] = flags.String()
	}
	if key == "" && rec[".flags"] == "" {
		return nil
	}
	return rec
}

// parseProperties decodes the "key: value" layout of single-item menus
// such as /system resource.
func parseProperties(out string) Record {
	rec := Record{}
	for _, line := range strings.Split(out, "\n") {
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		if k == "" || strings.ContainsAny(k, " \t") {
			continue
		}
		rec[k] = strings.TrimSpace(v)
	}
	return rec
}

// splitFields splits on whitespace outside double quotes.
func splitFields(line string) []string {
	var fields []string
	var cur strings.Builder
	inQuote, escaped := false, false
	for _, c := range line {
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inQuote:
			escaped = true
		case c == '"':
			inQuote = !inQuote
		case (c == ' ' || c == '\t') && !inQuote:
			if cur.Len() > 0 {
				fields = append(fields, cur.String())
				cur.Reset()
			}
			continue
		}
		cur.WriteRune(c)
	}
	if cur.Len() > 0 {
		fields = append(fields, cur.String())
	}
	return fields
}

// cutProperty splits "key=value" when key looks like a property name.
func cutProperty(field string) (key, value string, ok bool) {
	k, v, found := strings.Cut(field, "=")
	if !found || k == "" {
		return "", "", false
	}
	for _, c := range k {
		if !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '-' || c == '.') {
			return "", "", false
		}
	}
	return k, v, true
}

func unquote(v string) string {
	if len(v) < 2 || v[0] != '"' || v[len(v)-1] != '"' {
		return v
	}
	v = v[1 : len(v)-1]
	var b strings.Builder
	escaped := false
	for _, c := range v {
		if escaped {
			b.WriteRune(c)
			escaped = false
			continue
		}
		if c == '\\' {
			escaped = true
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

// quote renders a value for a CLI command, escaping the characters the
// RouterOS scripting language treats specially.
func quote(v string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, `$`, `\$`, "\n", `\n`, "\r", `\r`)
	return `"` + r.Replace(v) + `"`
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
