package airlift

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// canonical renders a property value to the stable string form used for
// value-set dedup and entity id derivation.
func canonical(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// DefaultEntityID derives an entity identifier from the entity set's ordered
// primary-key property ids and the property values collected for a row. The
// derivation is stable across runs and insensitive to unrelated property
// insertion order, but sensitive to the declared key order: values within one
// key property are joined in sorted order, and key properties are joined in
// declaration order. Returns "" when no key property collected a value, which
// callers must treat as "do not materialize".
func DefaultEntityID(key []uuid.UUID, properties Properties) string {
	parts := make([]string, 0, len(key))
	empty := true
	for _, k := range key {
		vs := properties[k]
		if len(vs) == 0 {
			parts = append(parts, "")
			continue
		}
		empty = false
		parts = append(parts, strings.Join(vs.SortedStrings(), ","))
	}
	if empty {
		return ""
	}
	return strings.Join(parts, "|")
}
