package generation

import (
	"embed"
	"encoding/json"
	"fmt"
	"sort"
)

//go:embed schema/*.json
var schemaFS embed.FS

var (
	exerciseSchemaJSON = mustReadSchema("schema/exercise.json")
	tutorialSchemaJSON = mustReadSchema("schema/tutorial.json")
)

func mustReadSchema(name string) []byte {
	data, err := schemaFS.ReadFile(name)
	if err != nil {
		panic(fmt.Sprintf("read embedded schema %s: %v", name, err))
	}
	if !json.Valid(data) {
		panic(fmt.Sprintf("embedded schema %s is not valid JSON", name))
	}
	return data
}

// ExerciseSchema returns a fresh copy of the exercise output schema.
func ExerciseSchema() map[string]any {
	return decodeSchema(exerciseSchemaJSON)
}

// TutorialSchema returns a fresh copy of the tutorial output schema.
func TutorialSchema() map[string]any {
	return decodeSchema(tutorialSchemaJSON)
}

// SchemaFor returns the strict-normalized output schema and its
// provider-facing name.
func SchemaFor(kind Kind) (string, map[string]any) {
	name, schema := "codehub_exercise", ExerciseSchema()
	if kind == KindTutorial {
		name, schema = "codehub_tutorial", TutorialSchema()
	}
	Strict(schema)
	return name, schema
}

func decodeSchema(data []byte) map[string]any {
	var schema map[string]any
	// Validated at init.
	_ = json.Unmarshal(data, &schema)
	return schema
}

// Strict normalizes a schema for strict structured-output providers: every
// object gets additionalProperties=false and lists all of its properties as
// required. The node is modified in place.
func Strict(node any) {
	switch n := node.(type) {
	case map[string]any:
		if props, ok := n["properties"].(map[string]any); ok {
			if _, hasType := n["type"]; !hasType {
				n["type"] = "object"
			}
			n["additionalProperties"] = false

			keys := make([]string, 0, len(props))
			for k := range props {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			required := make([]any, len(keys))
			for i, k := range keys {
				required[i] = k
			}
			n["required"] = required

			for _, child := range props {
				Strict(child)
			}
		}
		if items, ok := n["items"]; ok {
			Strict(items)
		}
		for _, key := range []string{"anyOf", "oneOf", "allOf"} {
			if list, ok := n[key].([]any); ok {
				for _, child := range list {
					Strict(child)
				}
			}
		}
	case []any:
		for _, child := range n {
			Strict(child)
		}
	}
}
