// Package testutil holds fixtures shared by package tests: a small blog
// schema (articles, comments, users) and payload builders for it.
package testutil

import (
	"github.com/roach88/restcache/internal/ir"
	"github.com/roach88/restcache/internal/schema"
)

// BlogDefinition is the declarative blog schema:
//
//	articles.comments -> hasMany comments (articleId)
//	articles.author   -> hasOne users (authorId)
//	comments.author   -> hasOne users (authorId)
func BlogDefinition() schema.Definition {
	return schema.Definition{
		"articles": {
			"comments": {ResourceType: "comments", RelationType: schema.CardinalityMany, ForeignKey: "articleId"},
			"author":   {ResourceType: "users", RelationType: schema.CardinalityOne, ForeignKey: "authorId"},
		},
		"comments": {
			"author": {ResourceType: "users", RelationType: schema.CardinalityOne, ForeignKey: "authorId"},
		},
		"users": {},
	}
}

// BlogSchema returns the resolved blog schema.
func BlogSchema() *schema.Schema {
	return schema.MustNew(BlogDefinition())
}

// Record builds an object with the given id and extra fields.
func Record(id string, pairs ...ir.Pair) ir.Object {
	obj := ir.NewObject(pairs...)
	obj["id"] = ir.String(id)
	return obj
}

// User builds a users record.
func User(id, name string) ir.Object {
	return Record(id, ir.O("name", ir.String(name)))
}

// Comment builds a comments record attached to articleID.
func Comment(id, articleID, body string) ir.Object {
	return Record(id,
		ir.O("articleId", ir.String(articleID)),
		ir.O("body", ir.String(body)),
	)
}

// Article builds an articles record with a title.
func Article(id, title string) ir.Object {
	return Record(id, ir.O("title", ir.String(title)))
}

// ArticleWithComments embeds comments (and nothing else) in an article.
func ArticleWithComments(id, title string, comments ...ir.Object) ir.Object {
	a := Article(id, title)
	arr := make(ir.Array, len(comments))
	for i, c := range comments {
		arr[i] = c
	}
	a["comments"] = arr
	return a
}

// ArticleList is the canonical two-article list payload: article "a1"
// with two comments (one by user u2 embedded) and author u1 embedded,
// article "a2" with no comments.
func ArticleList() ir.Array {
	a1 := Article("a1", "First")
	a1["author"] = User("u1", "Ada")
	c2 := Comment("c2", "a1", "Second!")
	c2["author"] = User("u2", "Grace")
	a1["comments"] = ir.Array{Comment("c1", "a1", "Nice"), c2}

	a2 := Article("a2", "Second")
	a2["comments"] = ir.Array{}

	return ir.Array{a1, a2}
}
