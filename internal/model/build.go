package model

import (
	"context"
	"strings"

	language "github.com/hanpama/computed/internal/language"
)

const (
	directiveInverse  = "inverse"
	directiveComputed = "computed"
)

type sdlBuilder struct {
	m          *Model
	scalars    map[string]ScalarKind
	violations []*Violation
	source     Source
	docs       []*language.SchemaDocument
}

// Build parses every document of src and assembles the model. Object types
// become entity types; fields whose type names another object become
// navigations, everything else becomes a property.
func Build(ctx context.Context, src Source) (*Model, error) {
	b := &sdlBuilder{
		m: &Model{Types: make(map[string]*EntityType)},
		scalars: map[string]ScalarKind{
			"String":  String,
			"Int":     Int,
			"Float":   Float,
			"Boolean": Boolean,
			"ID":      ID,
		},
		source: src,
	}
	if err := b.build(ctx); err != nil {
		return nil, err
	}
	return b.m, nil
}

// BuildFromSDL builds a model from a single SDL document.
func BuildFromSDL(name, sdl string) (*Model, error) {
	return Build(context.Background(), NewInMemorySource([]InMemoryFile{{Name: name, Content: sdl}}))
}

func (b *sdlBuilder) build(ctx context.Context) error {
	files, err := b.source.ListFiles(ctx)
	if err != nil {
		return err
	}
	for _, f := range files {
		sdl, err := b.source.ReadSDL(ctx, f.Name)
		if err != nil {
			return err
		}
		doc, err := language.ParseSchema(f.FilePath, sdl)
		if err != nil {
			return err
		}
		b.docs = append(b.docs, doc)
	}

	b.populateDefinitions()
	if len(b.violations) > 0 {
		return ValidationError(b.violations)
	}

	for _, doc := range b.docs {
		for _, node := range doc.Definitions {
			if node.Kind == language.Object {
				b.populateMembers(b.m.Types[node.Name], node)
			}
		}
	}
	for _, doc := range b.docs {
		for _, node := range doc.Extensions {
			if t := b.m.Types[node.Name]; t != nil && node.Kind == language.Object {
				b.populateMembers(t, node)
			}
		}
	}
	if len(b.violations) > 0 {
		return ValidationError(b.violations)
	}

	if vs := resolveNavigations(b.m); len(vs) > 0 {
		return ValidationError(vs)
	}
	return nil
}

func (b *sdlBuilder) addViolation(v ...*Violation) {
	b.violations = append(b.violations, v...)
}

func (b *sdlBuilder) populateDefinitions() {
	for _, doc := range b.docs {
		for _, node := range doc.Definitions {
			if _, ok := b.m.Types[node.Name]; ok {
				b.addViolation(violationDuplicateEntity(node.Name, node.Position))
				continue
			}
			if _, ok := b.scalars[node.Name]; ok {
				b.addViolation(violationDuplicateEntity(node.Name, node.Position))
				continue
			}
			switch node.Kind {
			case language.Object:
				b.m.addEntityType(newEntityType(node.Name, node.Description))
			case language.Enum:
				b.scalars[node.Name] = String
			case language.Scalar:
				b.scalars[node.Name] = Any
			default:
				b.addViolation(violationUnsupportedDefinition(node.Kind, node.Name, node.Position))
			}
		}
	}
	for _, doc := range b.docs {
		for _, node := range doc.Extensions {
			_, isEntity := b.m.Types[node.Name]
			_, isScalar := b.scalars[node.Name]
			if !isEntity && !isScalar {
				b.addViolation(violationEntityNotFoundForExtension(node.Name, node.Position))
			}
		}
	}
}

func (b *sdlBuilder) populateMembers(t *EntityType, node *language.Definition) {
	for _, field := range node.Fields {
		if strings.HasPrefix(field.Name, "__") {
			continue
		}
		named, list := unwrapType(field.Type)

		var member Member
		if _, ok := b.m.Types[named]; ok {
			member = &Navigation{
				Name:       field.Name,
				Entity:     t,
				Index:      len(t.Members),
				Collection: list,
				targetName: named,
			}
		} else if kind, ok := b.scalars[named]; ok {
			member = &Property{
				Name:   field.Name,
				Entity: t,
				Index:  len(t.Members),
				Kind:   kind,
				List:   list,
			}
		} else {
			b.addViolation(violationUnknownType(named, field.Name, t.Name, field.Position))
			continue
		}

		b.processMemberDirectives(t, member, field)

		if !t.addMember(member) {
			b.addViolation(violationDuplicateMember(field.Name, t.Name, field.Position))
		}
	}
}

func (b *sdlBuilder) processMemberDirectives(t *EntityType, member Member, field *language.FieldDefinition) {
	for _, d := range field.Directives {
		switch d.Name {
		case directiveInverse:
			nav, ok := member.(*Navigation)
			if !ok {
				b.addViolation(violationInverseOnProperty(field.Name, t.Name, d.Position))
				continue
			}
			args := b.stringArguments(d, []string{"field"}, []string{"field"})
			nav.inverseName = args["field"]
		case directiveComputed:
			prop, ok := member.(*Property)
			if !ok {
				b.addViolation(violationComputedOnNavigation(field.Name, t.Name, d.Position))
				continue
			}
			args := b.stringArguments(d, []string{"expr"}, []string{"expr", "strategy", "filter"})
			prop.Computed = true
			def := &ComputedDefinition{
				Entity:   t.Name,
				Field:    field.Name,
				Expr:     args["expr"],
				Strategy: args["strategy"],
				Filter:   args["filter"],
			}
			if d.Position != nil {
				def.Line = d.Position.Line
				if d.Position.Src != nil {
					def.File = d.Position.Src.Name
				}
			}
			b.m.Computed = append(b.m.Computed, def)
		default:
			b.addViolation(violationUnknownDirective(d.Name, field.Name, t.Name, d.Position))
		}
	}
}

func (b *sdlBuilder) stringArguments(d *language.Directive, required, allowed []string) map[string]string {
	args := make(map[string]string, len(d.Arguments))
	for _, arg := range d.Arguments {
		if !contains(allowed, arg.Name) {
			b.addViolation(violationUnknownDirectiveArgument(d.Name, arg.Name, arg.Position))
			continue
		}
		args[arg.Name] = b.getStringValue(arg.Value)
	}
	for _, name := range required {
		if _, ok := args[name]; !ok {
			b.addViolation(violationMissingDirectiveArgument(d.Name, name, d.Position))
		}
	}
	return args
}

func (b *sdlBuilder) getStringValue(node *language.Value) string {
	if node.Kind != language.StringValue && node.Kind != language.BlockValue {
		b.addViolation(violationExpectedString(node.Position))
		return ""
	}
	return node.Raw
}

func unwrapType(t *language.Type) (named string, list bool) {
	for t.Elem != nil {
		list = true
		t = t.Elem
	}
	return t.NamedType, list
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
