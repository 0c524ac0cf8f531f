package lang

import (
	"github.com/smacker/go-tree-sitter/python"
)

// Python node types used by the extractor.
const (
	FunctionDefinition    = "function_definition"
	ClassDefinition       = "class_definition"
	DecoratedDefinition   = "decorated_definition"
	Decorator             = "decorator"
	ImportStatement       = "import_statement"
	ImportFromStatement   = "import_from_statement"
	FutureImportStatement = "future_import_statement"
	ExpressionStatement   = "expression_statement"
	Call                  = "call"
	Identifier            = "identifier"
	String                = "string"
	Comment               = "comment"
	DottedName            = "dotted_name"
	RelativeImport        = "relative_import"
	AliasedImport         = "aliased_import"
	WildcardImport        = "wildcard_import"
	Block                 = "block"
)

func init() {
	Languages["python"] = &Language{
		Name:       "python",
		Extensions: []string{".py", ".pyi"},
		lang:       python.GetLanguage(),
	}
}

// Python returns the registered Python language.
func Python() *Language {
	return Languages["python"]
}

// IsImport reports whether kind is a top-level import statement type.
func IsImport(kind string) bool {
	switch kind {
	case ImportStatement, ImportFromStatement, FutureImportStatement:
		return true
	}
	return false
}

// IsDefinition reports whether kind is a function, class or decorated definition.
func IsDefinition(kind string) bool {
	switch kind {
	case FunctionDefinition, ClassDefinition, DecoratedDefinition:
		return true
	}
	return false
}

// TopLevelFunctions selects function definitions outside class bodies,
// without descending into nested functions.
var TopLevelFunctions = Query{
	Kinds:       []string{FunctionDefinition},
	Ignore:      []string{ClassDefinition},
	AvoidNested: true,
}

// TopLevelClasses selects class definitions outside function bodies,
// without descending into nested classes.
var TopLevelClasses = Query{
	Kinds:       []string{ClassDefinition},
	Ignore:      []string{FunctionDefinition},
	AvoidNested: true,
}
