package database

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/siherrmann/mailrank/helper"
	"github.com/siherrmann/mailrank/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntitiesNewEntitiesDBHandler(t *testing.T) {
	database := initDB(t)

	t.Run("Valid call NewEntitiesDBHandler", func(t *testing.T) {
		entitiesDbHandler, err := NewEntitiesDBHandler(database, true)
		assert.NoError(t, err, "Expected NewEntitiesDBHandler to not return an error")
		require.NotNil(t, entitiesDbHandler, "Expected NewEntitiesDBHandler to return a non-nil instance")
		require.NotNil(t, entitiesDbHandler.db, "Expected NewEntitiesDBHandler to have a non-nil database instance")
	})

	t.Run("Invalid call NewEntitiesDBHandler with nil database", func(t *testing.T) {
		_, err := NewEntitiesDBHandler(nil, false)
		assert.Error(t, err, "Expected error when creating EntitiesDBHandler with nil database")
		assert.Contains(t, err.Error(), "database connection is nil", "Expected specific error message for nil database connection")
	})
}

func TestEntitiesUpsert(t *testing.T) {
	database := initDB(t)
	ctx := context.Background()

	entitiesDbHandler, err := NewEntitiesDBHandler(database, true)
	require.NoError(t, err)

	t.Run("Upsert new entity derives identity", func(t *testing.T) {
		entity := &model.Entity{
			Name:      "Ada Lovelace",
			Type:      model.EntityTypePerson,
			Relevance: 0.8,
			Mentions:  []string{"doc-ent-0"},
			Contexts:  []string{"Ada Lovelace leads the launch"},
			Metadata:  map[string]interface{}{},
		}

		err := entitiesDbHandler.UpsertEntity(ctx, entity)
		assert.NoError(t, err, "Expected UpsertEntity to not return an error")
		assert.Equal(t, model.EntityID("Ada Lovelace", model.EntityTypePerson), entity.ID, "Expected entity id to be derived from name and type")

		// Cleanup
		err = entitiesDbHandler.DeleteEntity(ctx, entity.ID)
		require.NoError(t, err)
	})

	t.Run("Upsert merges mentions and keeps maximum relevance", func(t *testing.T) {
		first := &model.Entity{
			Name:      "Orion",
			Type:      model.EntityTypeProject,
			Relevance: 0.9,
			Mentions:  []string{"doc-ent-1", "doc-ent-2"},
			Metadata:  map[string]interface{}{},
		}
		err := entitiesDbHandler.UpsertEntity(ctx, first)
		require.NoError(t, err)

		second := &model.Entity{
			Name:      "orion",
			Type:      model.EntityTypeProject,
			Relevance: 0.5,
			Mentions:  []string{"doc-ent-2", "doc-ent-3"},
			Metadata:  map[string]interface{}{},
		}
		err = entitiesDbHandler.UpsertEntity(ctx, second)
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID, "Expected case variations of the name to merge into one entity")
		assert.Equal(t, 0.9, second.Relevance, "Expected merged entity to keep the maximum relevance")
		assert.ElementsMatch(t, []string{"doc-ent-1", "doc-ent-2", "doc-ent-3"}, second.Mentions, "Expected mention sets to be unioned without duplicates")

		// Cleanup
		err = entitiesDbHandler.DeleteEntity(ctx, first.ID)
		require.NoError(t, err)
	})

	t.Run("Upsert merge is order independent", func(t *testing.T) {
		a := &model.Entity{
			Name:      "Kubernetes",
			Type:      model.EntityTypeTerm,
			Relevance: 0.4,
			Mentions:  []string{"doc-ent-4"},
			Metadata:  map[string]interface{}{},
		}
		b := &model.Entity{
			Name:      "Kubernetes",
			Type:      model.EntityTypeTerm,
			Relevance: 0.7,
			Mentions:  []string{"doc-ent-5"},
			Metadata:  map[string]interface{}{},
		}

		err := entitiesDbHandler.UpsertEntity(ctx, a)
		require.NoError(t, err)
		err = entitiesDbHandler.UpsertEntity(ctx, b)
		require.NoError(t, err)

		merged, err := entitiesDbHandler.SelectEntity(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, 0.7, merged.Relevance, "Expected maximum relevance regardless of application order")
		assert.ElementsMatch(t, []string{"doc-ent-4", "doc-ent-5"}, merged.Mentions, "Expected union regardless of application order")

		// Cleanup
		err = entitiesDbHandler.DeleteEntity(ctx, a.ID)
		require.NoError(t, err)
	})
}

func TestEntitiesGet(t *testing.T) {
	database := initDB(t)
	ctx := context.Background()

	entitiesDbHandler, err := NewEntitiesDBHandler(database, true)
	require.NoError(t, err)

	entity := &model.Entity{
		Name:      "Grace Hopper",
		Type:      model.EntityTypePerson,
		Relevance: 0.6,
		Mentions:  []string{"doc-get-ent-0"},
		Metadata:  map[string]interface{}{},
	}
	err = entitiesDbHandler.UpsertEntity(ctx, entity)
	require.NoError(t, err)

	t.Run("Get by id", func(t *testing.T) {
		retrieved, err := entitiesDbHandler.SelectEntity(ctx, entity.ID)
		assert.NoError(t, err, "Expected SelectEntity to not return an error")
		assert.Equal(t, entity.Name, retrieved.Name, "Expected entity name to match")
		assert.Equal(t, entity.Type, retrieved.Type, "Expected entity type to match")
	})

	t.Run("Get by name is case insensitive", func(t *testing.T) {
		retrieved, err := entitiesDbHandler.SelectEntityByName(ctx, "grace hopper", model.EntityTypePerson)
		assert.NoError(t, err, "Expected SelectEntityByName to not return an error")
		assert.Equal(t, entity.ID, retrieved.ID, "Expected lookup to ignore name casing")
	})

	t.Run("Get missing entity", func(t *testing.T) {
		_, err := entitiesDbHandler.SelectEntity(ctx, uuid.New())
		assert.ErrorIs(t, err, helper.ErrNotFound, "Expected not found error for missing entity")
	})

	t.Run("Get missing entity by name", func(t *testing.T) {
		_, err := entitiesDbHandler.SelectEntityByName(ctx, "nobody", model.EntityTypePerson)
		assert.ErrorIs(t, err, helper.ErrNotFound, "Expected not found error for missing entity name")
	})

	// Cleanup
	err = entitiesDbHandler.DeleteEntity(ctx, entity.ID)
	require.NoError(t, err)
}

func TestEntitiesGetByType(t *testing.T) {
	database := initDB(t)
	ctx := context.Background()

	entitiesDbHandler, err := NewEntitiesDBHandler(database, true)
	require.NoError(t, err)

	entities := []*model.Entity{
		{Name: "Phoenix", Type: model.EntityTypeProject, Relevance: 0.9, Metadata: map[string]interface{}{}},
		{Name: "Atlas", Type: model.EntityTypeProject, Relevance: 0.5, Metadata: map[string]interface{}{}},
		{Name: "Postgres", Type: model.EntityTypeTerm, Relevance: 0.7, Metadata: map[string]interface{}{}},
	}
	for _, entity := range entities {
		err = entitiesDbHandler.UpsertEntity(ctx, entity)
		require.NoError(t, err)
	}

	projects, err := entitiesDbHandler.SelectEntitiesByType(ctx, model.EntityTypeProject, 10)
	assert.NoError(t, err, "Expected SelectEntitiesByType to not return an error")
	require.Len(t, projects, 2, "Expected only entities of the requested type")
	assert.Equal(t, "Phoenix", projects[0].Name, "Expected entities ordered by relevance descending")
	assert.Equal(t, "Atlas", projects[1].Name, "Expected entities ordered by relevance descending")

	// Cleanup
	for _, entity := range entities {
		err = entitiesDbHandler.DeleteEntity(ctx, entity.ID)
		require.NoError(t, err)
	}
}

func TestEntitiesMentioningChunk(t *testing.T) {
	database := initDB(t)
	ctx := context.Background()

	entitiesDbHandler, err := NewEntitiesDBHandler(database, true)
	require.NoError(t, err)

	entities := []*model.Entity{
		{Name: "Margaret Hamilton", Type: model.EntityTypePerson, Relevance: 0.8, Mentions: []string{"doc-mention-0", "doc-mention-1"}, Metadata: map[string]interface{}{}},
		{Name: "Apollo", Type: model.EntityTypeProject, Relevance: 0.9, Mentions: []string{"doc-mention-0"}, Metadata: map[string]interface{}{}},
		{Name: "Fortran", Type: model.EntityTypeTerm, Relevance: 0.3, Mentions: []string{"doc-mention-2"}, Metadata: map[string]interface{}{}},
	}
	for _, entity := range entities {
		err = entitiesDbHandler.UpsertEntity(ctx, entity)
		require.NoError(t, err)
	}

	mentioning, err := entitiesDbHandler.SelectEntitiesMentioningChunk(ctx, "doc-mention-0")
	assert.NoError(t, err, "Expected SelectEntitiesMentioningChunk to not return an error")
	require.Len(t, mentioning, 2, "Expected only entities mentioning the chunk")
	assert.Equal(t, "Apollo", mentioning[0].Name, "Expected entities ordered by relevance descending")
	assert.Equal(t, "Margaret Hamilton", mentioning[1].Name, "Expected entities ordered by relevance descending")

	// Cleanup
	for _, entity := range entities {
		err = entitiesDbHandler.DeleteEntity(ctx, entity.ID)
		require.NoError(t, err)
	}
}

func TestEntitiesPruneMentions(t *testing.T) {
	database := initDB(t)
	ctx := context.Background()

	entitiesDbHandler, err := NewEntitiesDBHandler(database, true)
	require.NoError(t, err)

	entities := []*model.Entity{
		{Name: "Stale Person", Type: model.EntityTypePerson, Relevance: 0.5, Mentions: []string{"doc-prune-0", "doc-prune-1"}, Metadata: map[string]interface{}{}},
		{Name: "Untouched Person", Type: model.EntityTypePerson, Relevance: 0.5, Mentions: []string{"doc-prune-2"}, Metadata: map[string]interface{}{}},
	}
	for _, entity := range entities {
		err = entitiesDbHandler.UpsertEntity(ctx, entity)
		require.NoError(t, err)
	}

	updated, err := entitiesDbHandler.PruneMentions(ctx, []string{"doc-prune-0"})
	assert.NoError(t, err, "Expected PruneMentions to not return an error")
	assert.Equal(t, 1, updated, "Expected exactly one entity to be updated")

	pruned, err := entitiesDbHandler.SelectEntity(ctx, entities[0].ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc-prune-1"}, pruned.Mentions, "Expected stale mention to be removed")

	untouched, err := entitiesDbHandler.SelectEntity(ctx, entities[1].ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc-prune-2"}, untouched.Mentions, "Expected unrelated entity to be untouched")

	// Cleanup
	for _, entity := range entities {
		err = entitiesDbHandler.DeleteEntity(ctx, entity.ID)
		require.NoError(t, err)
	}
}

func TestEntitiesCountAndDelete(t *testing.T) {
	database := initDB(t)
	ctx := context.Background()

	entitiesDbHandler, err := NewEntitiesDBHandler(database, true)
	require.NoError(t, err)

	before, err := entitiesDbHandler.CountEntities(ctx)
	require.NoError(t, err)

	entity := &model.Entity{
		Name:      "Countable",
		Type:      model.EntityTypeTerm,
		Relevance: 0.1,
		Metadata:  map[string]interface{}{},
	}
	err = entitiesDbHandler.UpsertEntity(ctx, entity)
	require.NoError(t, err)

	after, err := entitiesDbHandler.CountEntities(ctx)
	require.NoError(t, err)
	assert.Equal(t, before+1, after, "Expected count to grow by one")

	err = entitiesDbHandler.DeleteEntity(ctx, entity.ID)
	assert.NoError(t, err, "Expected DeleteEntity to not return an error")

	_, err = entitiesDbHandler.SelectEntity(ctx, entity.ID)
	assert.ErrorIs(t, err, helper.ErrNotFound, "Expected deleted entity to be gone")
}
