package database

import (
	"context"
	dbsql "database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/siherrmann/mailrank/helper"
	"github.com/siherrmann/mailrank/model"
	loadSql "github.com/siherrmann/mailrank/sql"
)

// EntityStore defines the contract of the knowledge graph entity
// store. Merges for the same entity id must be serialized by the
// implementation (the SQL upsert is atomic, the in-memory store uses a
// compare-and-merge loop).
type EntityStore interface {
	UpsertEntity(ctx context.Context, entity *model.Entity) error
	SelectEntity(ctx context.Context, id uuid.UUID) (*model.Entity, error)
	SelectEntityByName(ctx context.Context, name string, entityType string) (*model.Entity, error)
	SelectEntitiesByType(ctx context.Context, entityType string, limit int) ([]*model.Entity, error)
	SelectEntitiesMentioningChunk(ctx context.Context, chunkID string) ([]*model.Entity, error)
	PruneMentions(ctx context.Context, chunkIDs []string) (int, error)
	CountEntities(ctx context.Context) (int64, error)
	DeleteEntity(ctx context.Context, id uuid.UUID) error
}

// EntitiesDBHandler handles entity-related database operations
type EntitiesDBHandler struct {
	db *helper.Database
}

// NewEntitiesDBHandler creates a new entities database handler.
// It initializes the database connection and loads entity-related SQL functions.
// If force is true, it will reload the SQL functions even if they already exist.
func NewEntitiesDBHandler(db *helper.Database, force bool) (*EntitiesDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}

	entitiesDbHandler := &EntitiesDBHandler{
		db: db,
	}

	err := loadSql.LoadEntitiesSql(entitiesDbHandler.db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load entities sql", err)
	}

	err = entitiesDbHandler.CreateTable()
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized EntitiesDBHandler")

	return entitiesDbHandler, nil
}

// CreateTable creates the 'entities' table in the database.
// If the table already exists, it does not create it again.
// It also creates all necessary indexes.
func (h *EntitiesDBHandler) CreateTable() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_entities();`)
	if err != nil {
		log.Panicf("error initializing entities table: %#v", err)
	}

	h.db.Logger.Info("Checked/created table entities")

	return nil
}

// UpsertEntity inserts an entity or merges it into the existing row
// with the same id: mention sets are unioned, relevance keeps the
// maximum observed value.
func (h *EntitiesDBHandler) UpsertEntity(ctx context.Context, entity *model.Entity) error {
	if entity.ID == uuid.Nil {
		entity.ID = model.EntityID(entity.Name, entity.Type)
	}

	row := h.db.Instance.QueryRowContext(
		ctx,
		`SELECT * FROM upsert_entity($1, $2, $3, $4, $5, $6, $7)`,
		entity.ID,
		entity.Name,
		entity.Type,
		entity.Relevance,
		pq.Array(entity.Mentions),
		pq.Array(entity.Contexts),
		entity.Metadata,
	)

	err := scanEntity(row, entity)
	if err != nil {
		return helper.NewError("scan", err)
	}

	return nil
}

// SelectEntity retrieves an entity by id
func (h *EntitiesDBHandler) SelectEntity(ctx context.Context, id uuid.UUID) (*model.Entity, error) {
	entity := &model.Entity{}
	row := h.db.Instance.QueryRowContext(
		ctx,
		`SELECT * FROM select_entity($1)`,
		id,
	)

	err := scanEntity(row, entity)
	if errors.Is(err, dbsql.ErrNoRows) {
		return nil, helper.NewError("select entity", fmt.Errorf("entity %v: %w", id, helper.ErrNotFound))
	}
	if err != nil {
		return nil, helper.NewError("scan", err)
	}

	return entity, nil
}

// SelectEntityByName retrieves an entity by name and type
func (h *EntitiesDBHandler) SelectEntityByName(ctx context.Context, name string, entityType string) (*model.Entity, error) {
	entity := &model.Entity{}
	row := h.db.Instance.QueryRowContext(
		ctx,
		`SELECT * FROM select_entity_by_name($1, $2)`,
		name,
		entityType,
	)

	err := scanEntity(row, entity)
	if errors.Is(err, dbsql.ErrNoRows) {
		return nil, helper.NewError("select entity by name", fmt.Errorf("entity %v/%v: %w", entityType, name, helper.ErrNotFound))
	}
	if err != nil {
		return nil, helper.NewError("scan", err)
	}

	return entity, nil
}

// SelectEntitiesByType retrieves entities by type
func (h *EntitiesDBHandler) SelectEntitiesByType(ctx context.Context, entityType string, limit int) ([]*model.Entity, error) {
	rows, err := h.db.Instance.QueryContext(
		ctx,
		`SELECT * FROM select_entities_by_type($1, $2)`,
		entityType,
		limit,
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	return collectEntities(rows)
}

// SelectEntitiesMentioningChunk retrieves all entities whose mention
// set includes the given chunk
func (h *EntitiesDBHandler) SelectEntitiesMentioningChunk(ctx context.Context, chunkID string) ([]*model.Entity, error) {
	rows, err := h.db.Instance.QueryContext(
		ctx,
		`SELECT * FROM select_entities_mentioning_chunk($1)`,
		chunkID,
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	return collectEntities(rows)
}

// PruneMentions removes stale supporting chunk ids from all entities.
// Called lazily after a document has been reprocessed.
func (h *EntitiesDBHandler) PruneMentions(ctx context.Context, chunkIDs []string) (int, error) {
	if len(chunkIDs) == 0 {
		return 0, nil
	}

	var updated int
	err := h.db.Instance.QueryRowContext(
		ctx,
		`SELECT prune_entity_mentions($1)`,
		pq.Array(chunkIDs),
	).Scan(&updated)
	if err != nil {
		return 0, helper.NewError("scan", err)
	}

	return updated, nil
}

// CountEntities returns the number of entities in the knowledge graph
func (h *EntitiesDBHandler) CountEntities(ctx context.Context) (int64, error) {
	var count int64
	err := h.db.Instance.QueryRowContext(ctx, `SELECT count_entities()`).Scan(&count)
	if err != nil {
		return 0, helper.NewError("scan", err)
	}
	return count, nil
}

// DeleteEntity deletes an entity by id
func (h *EntitiesDBHandler) DeleteEntity(ctx context.Context, id uuid.UUID) error {
	_, err := h.db.Instance.ExecContext(
		ctx,
		`SELECT delete_entity($1)`,
		id,
	)
	if err != nil {
		return helper.NewError("exec", err)
	}
	return nil
}

func scanEntity(row scanner, entity *model.Entity) error {
	return row.Scan(
		&entity.ID,
		&entity.Name,
		&entity.Type,
		&entity.Relevance,
		pq.Array(&entity.Mentions),
		pq.Array(&entity.Contexts),
		&entity.Metadata,
		&entity.CreatedAt,
		&entity.UpdatedAt,
	)
}

func collectEntities(rows *dbsql.Rows) ([]*model.Entity, error) {
	var entities []*model.Entity
	for rows.Next() {
		entity := &model.Entity{}
		err := scanEntity(rows, entity)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}
		entities = append(entities, entity)
	}

	err := rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return entities, nil
}
