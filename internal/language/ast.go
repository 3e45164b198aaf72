package language

import "github.com/vektah/gqlparser/v2/ast"

type (
	SchemaDocument  = ast.SchemaDocument
	Definition      = ast.Definition
	DefinitionList  = ast.DefinitionList
	FieldDefinition = ast.FieldDefinition
	Directive       = ast.Directive
	DirectiveList   = ast.DirectiveList
	Argument        = ast.Argument
	Value           = ast.Value
	Type            = ast.Type
	Position        = ast.Position
)

type DefinitionKind = ast.DefinitionKind

type ValueKind = ast.ValueKind

const (
	Object      DefinitionKind = ast.Object
	Interface   DefinitionKind = ast.Interface
	Union       DefinitionKind = ast.Union
	Scalar      DefinitionKind = ast.Scalar
	Enum        DefinitionKind = ast.Enum
	InputObject DefinitionKind = ast.InputObject

	IntValue     ValueKind = ast.IntValue
	FloatValue   ValueKind = ast.FloatValue
	StringValue  ValueKind = ast.StringValue
	BlockValue   ValueKind = ast.BlockValue
	BooleanValue ValueKind = ast.BooleanValue
	NullValue    ValueKind = ast.NullValue
	EnumValue    ValueKind = ast.EnumValue
	ListValue    ValueKind = ast.ListValue
	ObjectValue  ValueKind = ast.ObjectValue
)
