package mcpservice

import (
	"fmt"
	"reflect"

	jsonvalidate "github.com/google/jsonschema-go/jsonschema"
	"github.com/invopop/jsonschema"

	"github.com/ggoodman/mcp-users/mcp"
)

// reflectToMCPInputSchema reflects a Go type A into a jsonschema.Schema, and
// converts it to the simplified mcp.ToolInputSchema. Unknown field policy is
// surfaced via the AdditionalProperties flag on the returned schema.
func reflectToMCPInputSchema[A any](allowAdditional bool) mcp.ToolInputSchema {
	s := reflectSchema[A](allowAdditional)

	// Only object schemas map cleanly to MCP ToolInputSchema.
	if s == nil || s.Type != "object" {
		return mcp.ToolInputSchema{
			Type:                 "object",
			Properties:           map[string]mcp.SchemaProperty{},
			AdditionalProperties: allowAdditional,
		}
	}

	props := make(map[string]mcp.SchemaProperty)
	if s.Properties != nil {
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			props[el.Key] = toMCPProperty(el.Value)
		}
	}
	var required []string
	if len(s.Required) > 0 {
		required = append(required, s.Required...)
	}

	return mcp.ToolInputSchema{
		Type:                 "object",
		Properties:           props,
		Required:             required,
		AdditionalProperties: allowAdditional,
	}
}

// reflectPromptArguments lists the top-level fields of A as prompt
// arguments, in declaration order.
func reflectPromptArguments[A any]() []mcp.PromptArgument {
	s := reflectSchema[A](false)
	if s == nil || s.Properties == nil {
		return nil
	}
	required := make(map[string]bool, len(s.Required))
	for _, name := range s.Required {
		required[name] = true
	}
	var out []mcp.PromptArgument
	for el := s.Properties.Oldest(); el != nil; el = el.Next() {
		out = append(out, mcp.PromptArgument{
			Name:        el.Key,
			Description: el.Value.Description,
			Required:    required[el.Key],
		})
	}
	return out
}

// reflectSchema reflects A with every definition inlined. Expanding the
// root definition only works for named types: an anonymous struct has no
// entry in the definitions table, so its schema is taken as returned.
func reflectSchema[A any](allowAdditional bool) *jsonschema.Schema {
	t := reflect.TypeFor[A]()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	r := &jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            t.Name() != "",
		Anonymous:                 true,
		AllowAdditionalProperties: allowAdditional,
	}
	return r.ReflectFromType(t)
}

// toMCPProperty recursively maps a jsonschema.Schema to the simplified MCP SchemaProperty.
func toMCPProperty(s *jsonschema.Schema) mcp.SchemaProperty {
	if s == nil {
		return mcp.SchemaProperty{}
	}
	p := mcp.SchemaProperty{
		Type:        s.Type,
		Description: s.Description,
	}
	if len(s.Enum) > 0 {
		p.Enum = s.Enum
	}
	if s.MinLength != nil {
		n := int(*s.MinLength)
		p.MinLength = &n
	}
	if s.MaxLength != nil {
		n := int(*s.MaxLength)
		p.MaxLength = &n
	}
	if s.Type == "array" && s.Items != nil {
		item := toMCPProperty(s.Items)
		p.Items = &item
	}
	if s.Type == "object" && s.Properties != nil {
		m := make(map[string]mcp.SchemaProperty, s.Properties.Len())
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			m[el.Key] = toMCPProperty(el.Value)
		}
		p.Properties = m
	}
	return p
}

// compileInputSchema turns the advertised input schema into a validator, so
// calls are checked against exactly what tools/list shows the client.
func compileInputSchema(in mcp.ToolInputSchema) (*jsonvalidate.Resolved, error) {
	root := &jsonvalidate.Schema{
		Type:       "object",
		Properties: make(map[string]*jsonvalidate.Schema, len(in.Properties)),
		Required:   append([]string(nil), in.Required...),
	}
	for name, prop := range in.Properties {
		root.Properties[name] = toValidatorSchema(prop)
	}
	if !in.AdditionalProperties {
		// {"not": {}} is the false schema: no extra property is acceptable.
		root.AdditionalProperties = &jsonvalidate.Schema{Not: &jsonvalidate.Schema{}}
	}
	resolved, err := root.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolve input schema: %w", err)
	}
	return resolved, nil
}

func toValidatorSchema(p mcp.SchemaProperty) *jsonvalidate.Schema {
	s := &jsonvalidate.Schema{
		Type:        p.Type,
		Description: p.Description,
		MinLength:   p.MinLength,
		MaxLength:   p.MaxLength,
	}
	if len(p.Enum) > 0 {
		s.Enum = append([]any(nil), p.Enum...)
	}
	if p.Items != nil {
		s.Items = toValidatorSchema(*p.Items)
	}
	if len(p.Properties) > 0 {
		s.Properties = make(map[string]*jsonvalidate.Schema, len(p.Properties))
		for name, child := range p.Properties {
			s.Properties[name] = toValidatorSchema(child)
		}
	}
	return s
}
