package pveschema

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlagDecoding(t *testing.T) {
	tests := []struct {
		input string
		want  Flag
	}{
		{`1`, true},
		{`0`, false},
		{`true`, true},
		{`false`, false},
		{`null`, false},
		{`1.0`, true},
		{`2`, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var f Flag
			require.NoError(t, json.Unmarshal([]byte(tt.input), &f))
			assert.Equal(t, tt.want, f)
		})
	}

	var f Flag
	assert.Error(t, json.Unmarshal([]byte(`"yes"`), &f))
}

func TestParamSchemaDecoding(t *testing.T) {
	raw := `{
		"type": "string",
		"optional": 1,
		"enum": ["a", 2, true],
		"format": {"size": {"type": "string"}},
		"typetext": "<string>",
		"additionalProperties": 0
	}`

	var p ParamSchema
	require.NoError(t, json.Unmarshal([]byte(raw), &p))

	assert.True(t, p.IsOptional())
	assert.Equal(t, Literals{"a", "2", "true"}, p.Enum)
	assert.Equal(t, FormatName(""), p.Format)
	assert.Equal(t, KindEnum, p.Kind())
}

func TestKindPrecedence(t *testing.T) {
	str := &ParamSchema{Type: "string"}

	tests := []struct {
		name   string
		schema ParamSchema
		want   Kind
	}{
		{"anyOf wins over everything", ParamSchema{AnyOf: []*ParamSchema{str}, OneOf: []*ParamSchema{str}, Enum: Literals{"x"}, Type: "object"}, KindAnyOf},
		{"oneOf wins over enum", ParamSchema{OneOf: []*ParamSchema{str}, Enum: Literals{"x"}}, KindOneOf},
		{"enum wins over type", ParamSchema{Enum: Literals{"x"}, Type: "integer"}, KindEnum},
		{"empty anyOf is ignored", ParamSchema{AnyOf: []*ParamSchema{}, Type: "boolean"}, KindBoolean},
		{"integer", ParamSchema{Type: "integer"}, KindNumber},
		{"number", ParamSchema{Type: "number"}, KindNumber},
		{"array", ParamSchema{Type: "array"}, KindArray},
		{"object", ParamSchema{Type: "object"}, KindObject},
		{"null", ParamSchema{Type: "null"}, KindNull},
		{"missing type", ParamSchema{}, KindString},
		{"unknown type", ParamSchema{Type: "pve-storage-id"}, KindString},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.schema.Kind())
		})
	}
}

func TestMethodsEachOrder(t *testing.T) {
	raw := `{"PATCH": {}, "DELETE": {}, "GET": {"description": "read"}, "POST": {}}`

	var m Methods
	require.NoError(t, json.Unmarshal([]byte(raw), &m))

	var got []Verb
	m.Each(func(v Verb, spec *MethodSpec) {
		require.NotNil(t, spec)
		got = append(got, v)
	})

	assert.Equal(t, []Verb{VerbGet, VerbPost, VerbDelete, VerbPatch}, got)
	assert.Equal(t, "read", m.For(VerbGet).Description)
	assert.Nil(t, m.For(VerbPut))

	var nilMethods *Methods
	assert.Nil(t, nilMethods.For(VerbGet))
}

func TestWalkDocumentOrder(t *testing.T) {
	nodes := []*EndpointNode{
		{Path: "/a", Children: []*EndpointNode{
			{Path: "/a/b", Children: []*EndpointNode{{Path: "/a/b/c"}}},
			{Path: "/a/d"},
		}},
		nil,
		{Path: "/e"},
	}

	var visited []string
	Walk(nodes, func(n *EndpointNode) {
		visited = append(visited, n.Path)
	})

	assert.Equal(t, []string{"/a", "/a/b", "/a/b/c", "/a/d", "/e"}, visited)
}

func TestVerbValid(t *testing.T) {
	for _, v := range Verbs {
		assert.True(t, v.Valid(), v)
	}
	assert.False(t, Verb("OPTIONS").Valid())
}
