package model

import (
	"fmt"

	language "github.com/hanpama/computed/internal/language"
)

// NOTE: Keep messages stable; tests match on them.

func violationDuplicateEntity(name string, pos *language.Position) *Violation {
	return violationWithPosition(fmt.Sprintf("Entity type %q is already defined", name), pos)
}

func violationDuplicateMember(member, entity string, pos *language.Position) *Violation {
	return violationWithPosition(fmt.Sprintf("Duplicate member %q found in entity %q", member, entity), pos)
}

func violationUnsupportedDefinition(kind language.DefinitionKind, name string, pos *language.Position) *Violation {
	return violationWithPosition(fmt.Sprintf("Unsupported %s definition %q; only object, enum and scalar types describe entities", kind, name), pos)
}

func violationEntityNotFoundForExtension(name string, pos *language.Position) *Violation {
	return violationWithPosition(fmt.Sprintf("Entity type %q not found for extension", name), pos)
}

func violationUnknownType(typeName, member, entity string, pos *language.Position) *Violation {
	return violationWithPosition(fmt.Sprintf("Unknown type %q for member %s.%s", typeName, entity, member), pos)
}

func violationUnknownDirective(directive, member, entity string, pos *language.Position) *Violation {
	return violationWithPosition(fmt.Sprintf("Unknown directive @%s on member %s.%s", directive, entity, member), pos)
}

func violationUnknownDirectiveArgument(directive, arg string, pos *language.Position) *Violation {
	return violationWithPosition("Unknown argument '"+arg+"' in @"+directive+" directive", pos)
}

func violationMissingDirectiveArgument(directive, arg string, pos *language.Position) *Violation {
	return violationWithPosition("Missing required argument '"+arg+"' in @"+directive+" directive", pos)
}

func violationExpectedString(pos *language.Position) *Violation {
	return violationWithPosition("Expected a string value", pos)
}

func violationInverseOnProperty(member, entity string, pos *language.Position) *Violation {
	return violationWithPosition(fmt.Sprintf("@inverse is only allowed on navigations; %s.%s is a property", entity, member), pos)
}

func violationComputedOnNavigation(member, entity string, pos *language.Position) *Violation {
	return violationWithPosition(fmt.Sprintf("@computed is only allowed on properties; %s.%s is a navigation", entity, member), pos)
}

func violationUnknownInverse(inverse string, nav *Navigation) *Violation {
	return NewViolation("Inverse %q of navigation %s not found on %s", inverse, nav, nav.Target.Name)
}

func violationInverseTargetMismatch(nav, inverse *Navigation) *Violation {
	return NewViolation("Navigation %s cannot be the inverse of %s: it targets %s", inverse, nav, inverse.Target.Name)
}

func violationAsymmetricInverse(nav, inverse *Navigation, declared string) *Violation {
	return NewViolation("Navigation %s declares inverse %q but %s declares it as its inverse", inverse, declared, nav)
}

func violationNavigationTargetMissing(nav *Navigation) *Violation {
	return NewViolation("Navigation %s targets unknown entity type %q", nav, nav.targetName)
}
