package documents

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	for input, want := range map[string]string{
		"proposal":        "proposal",
		" Audit ":         "audit",
		"audit report":    "audit",
		"Business Report": "report",
		"hr policy":       "hr-policy",
		"HR-Policy":       "hr-policy",
		"eng":             "engineering",
		"marine":          "marine",
	} {
		tmpl, ok := Lookup(input)
		require.True(t, ok, input)
		assert.Equal(t, want, tmpl.Type, input)
	}

	_, ok := Lookup("haiku")
	assert.False(t, ok)
	assert.Equal(t, DefaultType, TemplateFor("haiku").Type)
}

func TestTemplatesAreConsistent(t *testing.T) {
	assert.Equal(t, []string{"audit", "engineering", "hr-policy", "marine", "proposal", "report"}, Types())

	for _, name := range Types() {
		tmpl := TemplateFor(name)
		t.Run(name, func(t *testing.T) {
			total := 0
			for _, item := range tmpl.Checklist {
				total += item.Weight
			}
			assert.Equal(t, 100, total, "checklist weights")

			keys := map[string]bool{}
			for _, f := range tmpl.Fields {
				keys[f.Key] = true
			}
			for _, r := range tmpl.Required {
				assert.True(t, keys[r], "required section %q is a field", r)
			}

			schema := tmpl.Schema()
			assert.Equal(t, false, schema["additionalProperties"])
			assert.Len(t, schema["required"], len(tmpl.Fields))
			assert.Contains(t, tmpl.SystemPrompt(), tmpl.Instructions)
		})
	}
}

func TestSchemaListFields(t *testing.T) {
	props := TemplateFor("audit").Schema()["properties"].(map[string]any)
	assert.Equal(t, "array", props["keyFindings"].(map[string]any)["type"])
	assert.Equal(t, "string", props["auditScope"].(map[string]any)["type"])
}

func TestMissing(t *testing.T) {
	tmpl := TemplateFor("report")
	missing := tmpl.Missing(map[string]any{
		"executiveSummary":         "ok",
		"situationAnalysis":        "   ",
		"strategicRecommendations": []any{},
	})
	assert.Equal(t, []string{"situationAnalysis", "strategicRecommendations", "conclusion"}, missing)
}

func TestWordCount(t *testing.T) {
	n := WordCount(map[string]any{
		"a": "one two  three",
		"b": []any{"four", map[string]any{"c": "five six"}},
		"d": 42.0,
	})
	assert.Equal(t, 6, n)
}
