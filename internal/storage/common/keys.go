package common

import (
	"regexp"
	"strings"
)

// EscapeLike escapes % and _ so a key prefix can be used in a SQL LIKE pattern.
func EscapeLike(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}

// PrefixRegex returns an anchored regular expression matching keys with prefix.
func PrefixRegex(prefix string) string {
	return "^" + regexp.QuoteMeta(prefix)
}
