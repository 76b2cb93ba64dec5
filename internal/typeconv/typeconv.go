// Package typeconv converts Proxmox parameter schemas into kin-openapi schemas
// that are used both to validate requests and to document them.
package typeconv

import (
	"regexp"
	"slices"
	"strconv"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/invakid404/pve-openapi/internal/pveschema"
)

// knownFormats are the string formats kept on converted schemas. Every other
// format is Proxmox-specific and dropped.
var knownFormats = []string{
	"email",
	"uri",
	"url",
	"uuid",
	"date",
	"time",
	"date-time",
	"ipv4",
	"ipv6",
}

// Validator is a converted schema. Optional marks a value that may be omitted
// from its enclosing object; it is expressed there through the required list.
type Validator struct {
	Schema   *openapi3.Schema
	Optional bool
}

// Ref wraps the schema in an inline reference.
func (v *Validator) Ref() *openapi3.SchemaRef {
	return openapi3.NewSchemaRef("", v.Schema)
}

// AcceptsNull reports whether an explicit null passes validation.
func (v *Validator) AcceptsNull() bool {
	return v.Schema.Nullable
}

// Validate checks a decoded JSON value against the schema.
func (v *Validator) Validate(value any) error {
	return v.Schema.VisitJSON(value)
}

// Convert maps one parameter schema to a validator. It never fails: unknown
// types are treated as strings.
func Convert(p *pveschema.ParamSchema) *Validator {
	if p == nil {
		return &Validator{Schema: anySchema()}
	}

	optional := p.IsOptional()

	switch kind := p.Kind(); kind {
	case pveschema.KindAnyOf:
		return &Validator{Schema: union(p, p.AnyOf), Optional: optional}
	case pveschema.KindOneOf:
		return &Validator{Schema: union(p, p.OneOf), Optional: optional}
	case pveschema.KindEnum:
		return &Validator{Schema: enum(p, optional), Optional: optional}
	default:
		base := convertBase(p, kind)
		if kind != pveschema.KindNull && optional {
			base.Nullable = true
		}
		return &Validator{Schema: base, Optional: optional}
	}
}

// Object builds a fixed-shape record. Properties that are not optional are
// required.
func Object(description string, props map[string]*Validator) *Validator {
	schema := &openapi3.Schema{
		Type:        &openapi3.Types{openapi3.TypeObject},
		Description: description,
		Properties:  make(openapi3.Schemas, len(props)),
	}

	for name, prop := range props {
		schema.Properties[name] = prop.Ref()
		if !prop.Optional {
			schema.Required = append(schema.Required, name)
		}
	}
	slices.Sort(schema.Required)

	return &Validator{Schema: schema}
}

func convertBase(p *pveschema.ParamSchema, kind pveschema.Kind) *openapi3.Schema {
	switch kind {
	case pveschema.KindBoolean:
		return &openapi3.Schema{
			Type:        &openapi3.Types{openapi3.TypeBoolean},
			Description: p.Description,
			Default:     p.Default,
		}

	case pveschema.KindNumber:
		return &openapi3.Schema{
			Type:        &openapi3.Types{openapi3.TypeNumber},
			Description: p.Description,
			Min:         p.Minimum,
			Max:         p.Maximum,
			Default:     p.Default,
		}

	case pveschema.KindArray:
		items := anySchema()
		if p.Items != nil {
			items = Convert(p.Items).Schema
		}
		return &openapi3.Schema{
			Type:        &openapi3.Types{openapi3.TypeArray},
			Description: p.Description,
			Items:       openapi3.NewSchemaRef("", items),
		}

	case pveschema.KindObject:
		if p.Properties == nil {
			return &openapi3.Schema{
				Type:        &openapi3.Types{openapi3.TypeObject},
				Description: p.Description,
				AdditionalProperties: openapi3.AdditionalProperties{
					Schema: openapi3.NewSchemaRef("", anySchema()),
				},
			}
		}

		props := make(map[string]*Validator, len(p.Properties))
		for name, prop := range p.Properties {
			props[name] = Convert(prop)
		}
		return Object(p.Description, props).Schema

	case pveschema.KindNull:
		return nullSchema()

	default:
		return stringSchema(p)
	}
}

func stringSchema(p *pveschema.ParamSchema) *openapi3.Schema {
	schema := &openapi3.Schema{
		Type:        &openapi3.Types{openapi3.TypeString},
		Description: p.Description,
		Default:     p.Default,
	}

	if p.MaxLength != nil && *p.MaxLength > 0 {
		maxLength := uint64(*p.MaxLength)
		schema.MaxLength = &maxLength
	}
	if p.MinLength != nil && *p.MinLength > 0 {
		schema.MinLength = uint64(*p.MinLength)
	}

	// Perl-only constructs would make every request fail validation.
	if p.Pattern != "" {
		if _, err := regexp.Compile(p.Pattern); err == nil {
			schema.Pattern = p.Pattern
		}
	}

	if format := string(p.Format); slices.Contains(knownFormats, format) {
		schema.Format = format
	}

	return schema
}

func enum(p *pveschema.ParamSchema, optional bool) *openapi3.Schema {
	values := make([]any, 0, len(p.Enum)+1)
	for _, v := range p.Enum {
		values = append(values, v)
	}

	schema := &openapi3.Schema{
		Type:        &openapi3.Types{openapi3.TypeString},
		Description: p.Description,
		Default:     p.Default,
		Enum:        values,
	}

	if optional {
		schema.Nullable = true
		schema.Enum = append(schema.Enum, nil)
	}

	return schema
}

func union(p *pveschema.ParamSchema, members []*pveschema.ParamSchema) *openapi3.Schema {
	schema := &openapi3.Schema{
		Description: p.Description,
		Default:     p.Default,
		AnyOf:       make(openapi3.SchemaRefs, 0, len(members)),
	}

	for _, member := range members {
		converted := Convert(member)
		schema.AnyOf = append(schema.AnyOf, converted.Ref())
		if converted.AcceptsNull() {
			schema.Nullable = true
		}
	}

	return schema
}

// anySchema accepts every value, null included.
func anySchema() *openapi3.Schema {
	return &openapi3.Schema{Nullable: true}
}

// nullSchema accepts only null.
func nullSchema() *openapi3.Schema {
	return &openapi3.Schema{Nullable: true, Enum: []any{nil}}
}

// CoerceQuery turns raw query strings into numbers and booleans where the
// matching property schema, or one of its union members, asks for them, so
// they can be validated as JSON. Numbers are tried before booleans.
func (v *Validator) CoerceQuery(raw map[string]string) map[string]any {
	out := make(map[string]any, len(raw))
	for name, value := range raw {
		out[name] = value

		ref := v.Schema.Properties[name]
		if ref == nil {
			continue
		}

		number, boolean := scalarKinds(ref.Value)
		if number {
			if n, err := strconv.ParseFloat(value, 64); err == nil {
				out[name] = n
				continue
			}
		}
		if boolean {
			if b, err := strconv.ParseBool(value); err == nil {
				out[name] = b
			}
		}
	}
	return out
}

// scalarKinds reports whether schema, or any anyOf member, accepts numbers or
// booleans.
func scalarKinds(schema *openapi3.Schema) (number, boolean bool) {
	if schema == nil {
		return false, false
	}

	if types := schema.Type; types != nil {
		number = types.Includes(openapi3.TypeNumber) || types.Includes(openapi3.TypeInteger)
		boolean = types.Includes(openapi3.TypeBoolean)
	}

	for _, member := range schema.AnyOf {
		if member == nil {
			continue
		}
		n, b := scalarKinds(member.Value)
		number = number || n
		boolean = boolean || b
	}

	return number, boolean
}
