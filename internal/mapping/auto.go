package mapping

import (
	"strings"

	"github.com/sells-group/lab-inventory/internal/schema"
)

// AutoMap proposes a mapping for headers using the alias table.
//
// Headers are visited in file order. Each header is normalized and compared
// to each field's aliases in table order; a header matches an alias when it
// equals it or contains it. The first field that matches and is not already
// taken by an earlier header wins; a header that matches nothing is skipped.
//
// This is a greedy, order-sensitive heuristic, not a global optimum: a header
// such as "Brand Name" lands on the name field when name is still free,
// because name is declared first and "name" is one of its aliases. The
// catalog declares specific fields before generic ones to limit this.
func AutoMap(headers []string, aliases schema.AliasTable) *Mapping {
	m := New(headers)
	taken := make(map[schema.Field]bool, len(aliases))

	for _, h := range headers {
		norm := schema.NormalizeHeader(h)
		if norm == "" {
			continue
		}
		for _, entry := range aliases {
			if taken[entry.Field] {
				continue
			}
			if matchesAny(norm, entry.Aliases) {
				m.fields[h] = entry.Field
				taken[entry.Field] = true
				break
			}
		}
	}
	return m
}

func matchesAny(header string, aliases []string) bool {
	for _, a := range aliases {
		if a == "" {
			continue
		}
		if header == a || strings.Contains(header, a) {
			return true
		}
	}
	return false
}
