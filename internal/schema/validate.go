package schema

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Validation error codes (S001-S099)
const (
	CodeEmptyTypeName       = "S001" // resource type name is empty
	CodeUnknownTarget       = "S002" // relation targets an undeclared type
	CodeInvalidRelationType = "S003" // relationType is not hasOne/hasMany
	CodeMissingForeignKey   = "S004" // hasMany without foreignKey
	CodeEmptyRelationName   = "S005" // relation name is empty
	CodeReservedName        = "S006" // relation named "id"
	CodeNoTypes             = "S007" // schema declares no resource types
)

// ErrUnknownTarget is matched (errors.Is) by S002 validation errors.
var ErrUnknownTarget = errors.New("relation target is not a declared resource type")

// ErrInvalidSchema is matched by every other validation error.
var ErrInvalidSchema = errors.New("invalid schema")

// ValidationError is one schema validation failure.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Unwrap maps the code onto a sentinel.
func (e ValidationError) Unwrap() error {
	if e.Code == CodeUnknownTarget {
		return ErrUnknownTarget
	}
	return ErrInvalidSchema
}

// Validate checks def and returns every error found (does not fail-fast).
// Errors are ordered by type name, then relation name.
func Validate(def Definition) []ValidationError {
	var errs []ValidationError

	if len(def) == 0 {
		return []ValidationError{{
			Field:   "resources",
			Message: "at least one resource type is required",
			Code:    CodeNoTypes,
		}}
	}

	typeNames := make([]string, 0, len(def))
	for name := range def {
		typeNames = append(typeNames, name)
	}
	slices.Sort(typeNames)

	for _, typeName := range typeNames {
		if strings.TrimSpace(typeName) == "" {
			errs = append(errs, ValidationError{
				Field:   "resources",
				Message: "resource type name must be non-empty",
				Code:    CodeEmptyTypeName,
			})
			continue
		}

		rels := def[typeName]
		relNames := make([]string, 0, len(rels))
		for name := range rels {
			relNames = append(relNames, name)
		}
		slices.Sort(relNames)

		for _, relName := range relNames {
			rd := rels[relName]
			field := typeName + "." + relName

			if strings.TrimSpace(relName) == "" {
				errs = append(errs, ValidationError{
					Field:   typeName,
					Message: "relation name must be non-empty",
					Code:    CodeEmptyRelationName,
				})
				continue
			}
			if relName == "id" {
				errs = append(errs, ValidationError{
					Field:   field,
					Message: `relation may not be named "id"`,
					Code:    CodeReservedName,
				})
			}
			if _, ok := def[rd.ResourceType]; !ok {
				errs = append(errs, ValidationError{
					Field:   field + ".resourceType",
					Message: fmt.Sprintf("unknown resource type %q", rd.ResourceType),
					Code:    CodeUnknownTarget,
				})
			}
			switch rd.RelationType {
			case CardinalityOne:
			case CardinalityMany:
				if strings.TrimSpace(rd.ForeignKey) == "" {
					errs = append(errs, ValidationError{
						Field:   field + ".foreignKey",
						Message: "hasMany relation requires a foreignKey",
						Code:    CodeMissingForeignKey,
					})
				}
			default:
				errs = append(errs, ValidationError{
					Field:   field + ".relationType",
					Message: fmt.Sprintf("invalid relation type %q, must be %q or %q", rd.RelationType, CardinalityOne, CardinalityMany),
					Code:    CodeInvalidRelationType,
				})
			}
		}
	}

	return errs
}
