package schema

import (
	"fmt"
	"sort"
	"strings"
)

// CheckAdditiveCompatibility compares two JSON Schema documents under the
// additive_only evolution policy. It is a pure function over the raw schema
// maps: no I/O, no schema resolution.
//
// The check is intentionally shallow. Only the top-level required list and
// the declared types of top-level properties are inspected; nested schemas,
// enum narrowing, pattern tightening, and array items changes all pass.
// Deepening the check would change which activations succeed, so keep the
// scope as is.
func CheckAdditiveCompatibility(oldSchema, newSchema map[string]interface{}) (bool, []string) {
	var violations []string

	oldProps := propertiesOf(oldSchema)
	newProps := propertiesOf(newSchema)

	var missing []string
	for _, name := range requiredOf(oldSchema) {
		if _, ok := newProps[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		violations = append(violations,
			fmt.Sprintf("required fields missing in new schema: [%s]", strings.Join(missing, ", ")))
	}

	names := make([]string, 0, len(oldProps))
	for name := range oldProps {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		newProp, ok := newProps[name]
		if !ok {
			continue
		}
		oldType := typeDescriptor(oldProps[name])
		newType := typeDescriptor(newProp)
		if oldType != newType {
			violations = append(violations,
				fmt.Sprintf("field %q changed type from %q to %q", name, oldType, newType))
		}
	}

	return len(violations) == 0, violations
}

func propertiesOf(schemaDoc map[string]interface{}) map[string]interface{} {
	props, _ := schemaDoc["properties"].(map[string]interface{})
	return props
}

func requiredOf(schemaDoc map[string]interface{}) []string {
	raw, _ := schemaDoc["required"].([]interface{})
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if name, ok := item.(string); ok {
			out = append(out, name)
		}
	}
	return out
}

// typeDescriptor flattens a property's type declaration into a comparable
// string: a type list becomes the sorted, pipe-joined set of names, a scalar
// type its string form, and a missing declaration the empty string.
func typeDescriptor(prop interface{}) string {
	m, ok := prop.(map[string]interface{})
	if !ok {
		return ""
	}
	switch t := m["type"].(type) {
	case nil:
		return ""
	case []interface{}:
		names := make([]string, 0, len(t))
		for _, item := range t {
			names = append(names, fmt.Sprint(item))
		}
		sort.Strings(names)
		return strings.Join(names, "|")
	default:
		return fmt.Sprint(t)
	}
}
