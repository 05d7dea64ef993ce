package notify

import (
	"encoding/json"
	"fmt"
	"strings"
)

// RenderTemplate substitutes {{name}} placeholders in a single pass.
// Object-valued variables serialize to canonical JSON (sorted keys) so
// rendering is reproducible.
func RenderTemplate(template string, vars map[string]any) string {
	pairs := make([]string, 0, len(vars)*2)
	for name, value := range vars {
		pairs = append(pairs, "{{"+name+"}}", stringify(value))
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool, int, int64, float64:
		return fmt.Sprintf("%v", v)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(encoded)
	}
}
