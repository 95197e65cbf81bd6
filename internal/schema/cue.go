package schema

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// CompileCUE reads a Definition from a CUE value and builds the Schema.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The value must carry a top-level `resources` struct:
//
//	resources: {
//		articles: {
//			comments: {resourceType: "comments", relationType: "hasMany", foreignKey: "articleId"}
//		}
//		comments: {}
//	}
func CompileCUE(v cue.Value) (*Schema, error) {
	def, err := DecodeCUE(v)
	if err != nil {
		return nil, err
	}
	return New(def)
}

func decodeCUESource(filename string, src []byte) (Definition, error) {
	ctx := cuecontext.New()
	return DecodeCUE(ctx.CompileBytes(src, cue.Filename(filename)))
}

// DecodeCUE extracts the Definition without validating it.
func DecodeCUE(v cue.Value) (Definition, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	resourcesVal := v.LookupPath(cue.ParsePath("resources"))
	if !resourcesVal.Exists() {
		return nil, &CompileError{
			Field:   "resources",
			Message: "resources is required",
			Pos:     v.Pos(),
		}
	}

	typeIter, err := resourcesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	def := make(Definition)
	for typeIter.Next() {
		typeName := typeIter.Selector().Unquoted()
		rels, err := decodeRelations(typeName, typeIter.Value())
		if err != nil {
			return nil, err
		}
		def[typeName] = rels
	}
	return def, nil
}

func decodeRelations(typeName string, v cue.Value) (map[string]RelationDef, error) {
	relIter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	rels := make(map[string]RelationDef)
	for relIter.Next() {
		relName := relIter.Selector().Unquoted()
		relVal := relIter.Value()
		field := typeName + "." + relName

		var rd RelationDef
		rd.ResourceType, err = lookupString(relVal, "resourceType", field, true)
		if err != nil {
			return nil, err
		}
		relType, err := lookupString(relVal, "relationType", field, true)
		if err != nil {
			return nil, err
		}
		rd.RelationType = Cardinality(relType)
		rd.ForeignKey, err = lookupString(relVal, "foreignKey", field, false)
		if err != nil {
			return nil, err
		}
		rels[relName] = rd
	}
	return rels, nil
}

func lookupString(v cue.Value, name, field string, required bool) (string, error) {
	fieldVal := v.LookupPath(cue.ParsePath(name))
	if !fieldVal.Exists() {
		if !required {
			return "", nil
		}
		return "", &CompileError{
			Field:   field + "." + name,
			Message: name + " is required",
			Pos:     v.Pos(),
		}
	}
	s, err := fieldVal.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
