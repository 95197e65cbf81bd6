// Package schema is the registry of resource types and their relations.
//
// A Schema is built once from a Definition (a plain Go map, or a CUE, YAML
// or JSON document) and is immutable afterwards. Relations are resolved at
// construction time into the closed variants HasOne and HasMany, so readers
// never re-derive cardinality from strings:
//
//	def := schema.Definition{
//		"articles": {
//			"comments": {ResourceType: "comments", RelationType: schema.CardinalityMany, ForeignKey: "articleId"},
//			"author":   {ResourceType: "users", RelationType: schema.CardinalityOne, ForeignKey: "authorId"},
//		},
//		"comments": {},
//		"users":    {},
//	}
//	s, err := schema.New(def)
//
// Every relation target must itself be a declared resource type.
package schema
