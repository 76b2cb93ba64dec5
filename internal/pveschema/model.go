// Package pveschema describes the Proxmox VE API schema tree (the apidoc "apiSchema"
// array) as typed Go values.
package pveschema

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// Verb is one of the HTTP methods an endpoint node can declare.
type Verb string

const (
	VerbGet    Verb = "GET"
	VerbPost   Verb = "POST"
	VerbPut    Verb = "PUT"
	VerbDelete Verb = "DELETE"
	VerbPatch  Verb = "PATCH"
)

// Verbs lists every supported verb in registration order.
var Verbs = [...]Verb{VerbGet, VerbPost, VerbPut, VerbDelete, VerbPatch}

// Valid reports whether v belongs to the closed verb set.
func (v Verb) Valid() bool {
	switch v {
	case VerbGet, VerbPost, VerbPut, VerbDelete, VerbPatch:
		return true
	}
	return false
}

// Flag decodes the 0/1 integers the schema uses for booleans. Plain JSON
// booleans are accepted as well.
type Flag bool

func (f *Flag) UnmarshalJSON(data []byte) error {
	switch s := strings.TrimSpace(string(data)); s {
	case "true", "1":
		*f = true
	case "false", "0", "null", `""`:
		*f = false
	default:
		var n float64
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("invalid flag value %s", s)
		}
		*f = n == 1
	}
	return nil
}

// Literals holds enum values. Non-string literals are kept in their decimal or
// boolean text form so every enum is a closed set of strings.
type Literals []string

func (l *Literals) UnmarshalJSON(data []byte) error {
	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("invalid enum: %w", err)
	}

	out := make(Literals, 0, len(raw))
	for _, v := range raw {
		switch v := v.(type) {
		case string:
			out = append(out, v)
		case float64:
			out = append(out, strconv.FormatFloat(v, 'f', -1, 64))
		case bool:
			out = append(out, strconv.FormatBool(v))
		}
	}
	*l = out
	return nil
}

// FormatName is the string form of a "format" field. Proxmox also uses
// "format" to describe property strings as nested objects; those decode to the
// empty name.
type FormatName string

func (f *FormatName) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		*f = ""
		return nil
	}
	*f = FormatName(s)
	return nil
}

// ParamSchema describes the shape of one value: a parameter, a property or a
// return payload.
type ParamSchema struct {
	Description          string                  `json:"description,omitempty"`
	Type                 string                  `json:"type,omitempty"`
	TypeText             string                  `json:"typetext,omitempty"`
	Optional             Flag                    `json:"optional,omitempty"`
	Default              any                     `json:"default,omitempty"`
	Enum                 Literals                `json:"enum,omitempty"`
	Format               FormatName              `json:"format,omitempty"`
	Pattern              string                  `json:"pattern,omitempty"`
	Minimum              *float64                `json:"minimum,omitempty"`
	Maximum              *float64                `json:"maximum,omitempty"`
	MinLength            *int                    `json:"minLength,omitempty"`
	MaxLength            *int                    `json:"maxLength,omitempty"`
	Items                *ParamSchema            `json:"items,omitempty"`
	Properties           map[string]*ParamSchema `json:"properties,omitempty"`
	AdditionalProperties Flag                    `json:"additionalProperties,omitempty"`
	AnyOf                []*ParamSchema          `json:"anyOf,omitempty"`
	OneOf                []*ParamSchema          `json:"oneOf,omitempty"`
}

// Kind is the shape a ParamSchema resolves to.
type Kind int

const (
	KindString Kind = iota
	KindBoolean
	KindNumber
	KindArray
	KindObject
	KindNull
	KindEnum
	KindAnyOf
	KindOneOf
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindBoolean:
		return "boolean"
	case KindNumber:
		return "number"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	case KindNull:
		return "null"
	case KindEnum:
		return "enum"
	case KindAnyOf:
		return "anyOf"
	case KindOneOf:
		return "oneOf"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Kind resolves the shape of p. anyOf wins over oneOf, oneOf over enum, and
// enum over the declared type. A missing or unknown type is a string.
func (p *ParamSchema) Kind() Kind {
	switch {
	case len(p.AnyOf) > 0:
		return KindAnyOf
	case len(p.OneOf) > 0:
		return KindOneOf
	case len(p.Enum) > 0:
		return KindEnum
	}

	switch p.Type {
	case "boolean":
		return KindBoolean
	case "integer", "number":
		return KindNumber
	case "array":
		return KindArray
	case "object":
		return KindObject
	case "null":
		return KindNull
	default:
		return KindString
	}
}

// IsOptional reports whether the value may be omitted.
func (p *ParamSchema) IsOptional() bool {
	return bool(p.Optional)
}

// Permissions is the access-control note attached to a method.
type Permissions struct {
	Description string `json:"description,omitempty"`
	User        string `json:"user,omitempty"`
	Check       any    `json:"check,omitempty"`
}

// MethodSpec is the contract of one verb at one path.
type MethodSpec struct {
	Method      string       `json:"method,omitempty"`
	Name        string       `json:"name,omitempty"`
	Description string       `json:"description,omitempty"`
	AllowToken  Flag         `json:"allowtoken,omitempty"`
	Protected   Flag         `json:"protected,omitempty"`
	ProxyTo     string       `json:"proxyto,omitempty"`
	Parameters  *ParamSchema `json:"parameters,omitempty"`
	Returns     *ParamSchema `json:"returns,omitempty"`
	Permissions *Permissions `json:"permissions,omitempty"`
}

// Properties returns the declared parameter properties, or nil.
func (m *MethodSpec) Properties() map[string]*ParamSchema {
	if m == nil || m.Parameters == nil {
		return nil
	}
	return m.Parameters.Properties
}

// Methods holds the verbs an endpoint supports. The set is closed: the JSON
// "info" object can only carry these five keys.
type Methods struct {
	GET    *MethodSpec `json:"GET,omitempty"`
	POST   *MethodSpec `json:"POST,omitempty"`
	PUT    *MethodSpec `json:"PUT,omitempty"`
	DELETE *MethodSpec `json:"DELETE,omitempty"`
	PATCH  *MethodSpec `json:"PATCH,omitempty"`
}

// For returns the contract for verb v, or nil when the verb is not declared.
func (m *Methods) For(v Verb) *MethodSpec {
	if m == nil {
		return nil
	}

	switch v {
	case VerbGet:
		return m.GET
	case VerbPost:
		return m.POST
	case VerbPut:
		return m.PUT
	case VerbDelete:
		return m.DELETE
	case VerbPatch:
		return m.PATCH
	}
	return nil
}

// Each calls fn for every declared verb in Verbs order.
func (m *Methods) Each(fn func(Verb, *MethodSpec)) {
	for _, v := range Verbs {
		if spec := m.For(v); spec != nil {
			fn(v, spec)
		}
	}
}

// EndpointNode is one node of the schema tree. Every path is absolute.
type EndpointNode struct {
	Path     string          `json:"path"`
	Text     string          `json:"text,omitempty"`
	Leaf     Flag            `json:"leaf,omitempty"`
	Methods  *Methods        `json:"info,omitempty"`
	Children []*EndpointNode `json:"children,omitempty"`
}

// Walk visits nodes depth-first in document order: a node before its
// children, children before the node's next sibling.
func Walk(nodes []*EndpointNode, fn func(*EndpointNode)) {
	for _, node := range nodes {
		if node == nil {
			continue
		}
		fn(node)
		Walk(node.Children, fn)
	}
}
