//go:build integration

package repositories

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnifin/backoffice/pkg/apperrors"
	"github.com/omnifin/backoffice/pkg/models"
	"github.com/omnifin/backoffice/pkg/testhelpers"
)

func setupKnowledgeTest(t *testing.T) (*testhelpers.TestDB, context.Context) {
	t.Helper()
	tdb := testhelpers.GetTestDB(t)
	tdb.Truncate(t, "knowledge_versions", "knowledge_entries", "users", "groups")
	ctx, cleanup := tdb.SystemContext(t)
	t.Cleanup(cleanup)
	return tdb, ctx
}

func TestKnowledgeRepository_UpdateWithHistory(t *testing.T) {
	tdb, ctx := setupKnowledgeTest(t)
	repo := NewKnowledgeRepository()
	author := tdb.InsertUser(t, "author@example.com", string(models.RoleSuper), nil)

	entry := &models.KnowledgeEntry{
		Title:     "Loan terms",
		Content:   "Terms v1",
		Category:  "loan",
		CreatedBy: &author,
		IsActive:  true,
	}
	require.NoError(t, repo.Create(ctx, entry))
	assert.Equal(t, 1, entry.Version)

	entry.Content = "Terms v2"
	require.NoError(t, repo.UpdateWithHistory(ctx, entry, &author, "first edit"))
	entry.Title = "Loan terms (2026)"
	entry.Content = "Terms v3"
	require.NoError(t, repo.UpdateWithHistory(ctx, entry, &author, "second edit"))
	assert.Equal(t, 3, entry.Version)

	versions, err := repo.Versions(ctx, entry.ID)
	require.NoError(t, err)
	require.Len(t, versions, 2)

	// Newest snapshot first; each holds the content as it was before the edit.
	assert.Equal(t, 2, versions[0].Version)
	assert.Equal(t, "Terms v2", versions[0].Content)
	assert.Equal(t, "second edit", versions[0].ChangeSummary)
	assert.Equal(t, 1, versions[1].Version)
	assert.Equal(t, "Loan terms", versions[1].Title)
	assert.Equal(t, "Terms v1", versions[1].Content)
}

func TestKnowledgeRepository_UpdateMissing(t *testing.T) {
	_, ctx := setupKnowledgeTest(t)
	repo := NewKnowledgeRepository()

	err := repo.UpdateWithHistory(ctx, &models.KnowledgeEntry{ID: 9999, Title: "x", Content: "y"}, nil, "")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestKnowledgeRepository_ListScope(t *testing.T) {
	tdb, ctx := setupKnowledgeTest(t)
	repo := NewKnowledgeRepository()

	g1 := tdb.InsertGroup(t, "north")
	g2 := tdb.InsertGroup(t, "south")
	alice := tdb.InsertUser(t, "alice@example.com", string(models.RoleSuper), &g1)
	bob := tdb.InsertUser(t, "bob@example.com", string(models.RoleSuper), &g2)

	for _, e := range []*models.KnowledgeEntry{
		{Title: "alice note", Content: "a", Category: "loan", CreatedBy: &alice, GroupID: &g1, IsActive: true},
		{Title: "bob note", Content: "b", Category: "loan", CreatedBy: &bob, GroupID: &g2, IsActive: true},
		{Title: "global note", Content: "c", Category: "general", IsActive: true},
	} {
		require.NoError(t, repo.Create(ctx, e))
	}

	titles := func(p models.Principal, filter ContentFilter) []string {
		t.Helper()
		entries, err := repo.List(ctx, p, filter)
		require.NoError(t, err)
		var out []string
		for _, e := range entries {
			out = append(out, e.Title)
		}
		return out
	}

	assert.ElementsMatch(t, []string{"alice note"},
		titles(models.Principal{UserID: alice, Role: models.RoleSuper, GroupID: &g1}, ContentFilter{}))
	assert.ElementsMatch(t, []string{"bob note"},
		titles(models.Principal{UserID: 0, Role: models.RoleAdmin, GroupID: &g2}, ContentFilter{}))
	assert.ElementsMatch(t, []string{"alice note", "bob note", "global note"},
		titles(models.Principal{Role: models.RoleSuperadmin}, ContentFilter{}))
	assert.ElementsMatch(t, []string{"global note"},
		titles(models.Principal{Role: models.RoleSuperadmin}, ContentFilter{Category: "general"}))

	shared, err := repo.SearchShared(ctx, models.Principal{UserID: alice, Role: models.RoleSuper, GroupID: &g1}, "note", 5)
	require.NoError(t, err)
	var sharedTitles []string
	for _, e := range shared {
		sharedTitles = append(sharedTitles, e.Title)
	}
	assert.ElementsMatch(t, []string{"alice note", "global note"}, sharedTitles)
}
