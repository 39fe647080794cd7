package encoder

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jittakal/kafcsvstore/pkg/lookup"
)

// ColumnNames derives one unique column name per projected path for the
// schema-bearing formats. Names match [A-Za-z_][A-Za-z0-9_]*; metadata paths
// are prefixed with "meta" and repeated paths get a numeric suffix:
//
//	data.items[0].sku  -> data_items_0_sku
//	%kafka.offset      -> meta_kafka_offset
//	id, id             -> id, id_2
func ColumnNames(paths []lookup.Path) []string {
	names := make([]string, len(paths))
	used := make(map[string]bool, len(paths))
	for i, path := range paths {
		base := columnName(path)
		name := base
		for n := 2; used[name]; n++ {
			name = fmt.Sprintf("%s_%d", base, n)
		}
		used[name] = true
		names[i] = name
	}
	return names
}

func columnName(path lookup.Path) string {
	parts := make([]string, 0, len(path.Segments)+1)
	if path.Target == lookup.TargetMetadata {
		parts = append(parts, "meta")
	}
	for _, seg := range path.Segments {
		switch {
		case seg.IsIndex && seg.Index < 0:
			parts = append(parts, "last"+strconv.Itoa(-seg.Index))
		case seg.IsIndex:
			parts = append(parts, strconv.Itoa(seg.Index))
		default:
			parts = append(parts, sanitizeName(seg.Field))
		}
	}
	if len(parts) == 0 {
		return "event"
	}

	name := strings.Join(parts, "_")
	if name[0] >= '0' && name[0] <= '9' {
		name = "_" + name
	}
	return name
}

func sanitizeName(s string) string {
	if s == "" {
		return "_"
	}
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
