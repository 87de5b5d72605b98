package tests

import (
	"errors"
	"testing"
)

func TestGraphqlQueries(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := admin.createContentType(articleSpec()); err != nil {
		t.Fatal(err)
	}

	first, err := admin.createEntry("article", entry{"title": "First", "views": 5})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := admin.createEntry("article", entry{"title": "Second"}); err != nil {
		t.Fatal(err)
	}
	if _, err := admin.publishEntry("article", first["id"].(string)); err != nil {
		t.Fatal(err)
	}

	res, err := admin.graphql(`{ articles { id title status } }`, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Errors) > 0 {
		t.Fatalf("unexpected graphql errors: %v", res.Errors)
	}
	articles := res.Data["articles"].([]interface{})
	if len(articles) != 2 {
		t.Fatalf("expected 2 articles, got %v", articles)
	}

	res, err = admin.graphql(`{ articles(status: "published") { id } }`, nil)
	if err != nil {
		t.Fatal(err)
	}
	published := res.Data["articles"].([]interface{})
	if len(published) != 1 {
		t.Fatalf("expected 1 published article, got %v", published)
	}

	res, err = admin.graphql(
		`query ($id: ID!) { article(id: $id) { title views publishedAt } }`,
		map[string]interface{}{"id": first["id"]},
	)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Errors) > 0 {
		t.Fatalf("unexpected graphql errors: %v", res.Errors)
	}
	article := res.Data["article"].(map[string]interface{})
	if article["title"] != "First" || article["views"].(float64) != 5 {
		t.Fatalf("unexpected article %v", article)
	}
	if article["publishedAt"] == nil {
		t.Fatal("published article should expose its timestamp")
	}
}

func TestGraphqlMutations(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := admin.createContentType(articleSpec()); err != nil {
		t.Fatal(err)
	}

	res, err := admin.graphql(`mutation { createArticle(data: {title: "Made in GraphQL"}) { id title status } }`, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Errors) > 0 {
		t.Fatalf("unexpected graphql errors: %v", res.Errors)
	}
	created := res.Data["createArticle"].(map[string]interface{})
	if created["status"] != "draft" {
		t.Fatalf("unexpected mutation result %v", created)
	}

	entryId := created["id"].(string)
	vars := map[string]interface{}{"id": entryId}

	res, err = admin.graphql(`mutation ($id: ID!) { publishArticle(id: $id) { status publishedAt } }`, vars)
	if err != nil {
		t.Fatal(err)
	}
	publishedEntry := res.Data["publishArticle"].(map[string]interface{})
	if publishedEntry["status"] != "published" || publishedEntry["publishedAt"] == nil {
		t.Fatalf("unexpected publish result %v", publishedEntry)
	}

	res, err = admin.graphql(`mutation ($id: ID!) { updateArticle(id: $id, data: {title: "Edited"}) { title } }`, vars)
	if err != nil {
		t.Fatal(err)
	}
	if res.Data["updateArticle"].(map[string]interface{})["title"] != "Edited" {
		t.Fatalf("unexpected update result %v", res.Data)
	}

	res, err = admin.graphql(`mutation ($id: ID!) { deleteArticle(id: $id) }`, vars)
	if err != nil {
		t.Fatal(err)
	}
	if res.Data["deleteArticle"] != true {
		t.Fatalf("unexpected delete result %v", res.Data)
	}

	if _, err := admin.getEntry("article", entryId); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected entry to be gone, got %v", err)
	}
}

func TestGraphqlSchemaRebuild(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	// Before any types exist only the placeholder field is served.
	res, err := admin.graphql(`{ _entityCount }`, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Errors) > 0 {
		t.Fatalf("unexpected graphql errors: %v", res.Errors)
	}

	if _, err := admin.createContentType(articleSpec()); err != nil {
		t.Fatal(err)
	}

	// The schema picks up the new type without a restart.
	res, err = admin.graphql(`{ articles { id } }`, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Errors) > 0 {
		t.Fatalf("schema did not rebuild: %v", res.Errors)
	}

	// Unknown fields now fail inside the graphql response.
	res, err = admin.graphql(`{ people { id } }`, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Errors) == 0 {
		t.Fatal("expected graphql error for unknown query field")
	}
}

func TestGraphqlRespectsPermissions(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := admin.createContentType(articleSpec()); err != nil {
		t.Fatal(err)
	}

	user, err := env.newUser("reader")
	if err != nil {
		t.Fatal(err)
	}

	res, err := user.graphql(`{ articles { id } }`, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Errors) == 0 {
		t.Fatal("expected permission error in graphql response")
	}

	if err := admin.grantToUser(user.userId, "view_article"); err != nil {
		t.Fatal(err)
	}

	res, err = user.graphql(`{ articles { id } }`, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Errors) > 0 {
		t.Fatalf("unexpected graphql errors after grant: %v", res.Errors)
	}
}
