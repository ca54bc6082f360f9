package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/siherrmann/mailrank/helper"
	"github.com/siherrmann/mailrank/model"
	loadSql "github.com/siherrmann/mailrank/sql"
)

// RelationshipStore defines the contract of the knowledge graph
// relationship store
type RelationshipStore interface {
	UpsertRelationship(ctx context.Context, relationship *model.Relationship) error
	SelectRelationshipsForEntity(ctx context.Context, entityID uuid.UUID) ([]*model.Relationship, error)
	DeleteRelationship(ctx context.Context, id uuid.UUID) error
}

// RelationshipsDBHandler handles relationship-related database operations
type RelationshipsDBHandler struct {
	db *helper.Database
}

// NewRelationshipsDBHandler creates a new relationships database handler.
// It initializes the database connection and loads relationship-related
// SQL functions. If force is true, it will reload the SQL functions
// even if they already exist.
func NewRelationshipsDBHandler(db *helper.Database, force bool) (*RelationshipsDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}

	relationshipsDbHandler := &RelationshipsDBHandler{
		db: db,
	}

	err := loadSql.LoadRelationshipsSql(relationshipsDbHandler.db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load relationships sql", err)
	}

	err = relationshipsDbHandler.CreateTable()
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized RelationshipsDBHandler")

	return relationshipsDbHandler, nil
}

// CreateTable creates the 'relationships' table in the database.
// If the table already exists, it does not create it again.
func (h *RelationshipsDBHandler) CreateTable() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_relationships();`)
	if err != nil {
		log.Panicf("error initializing relationships table: %#v", err)
	}

	h.db.Logger.Info("Checked/created table relationships")

	return nil
}

// UpsertRelationship inserts a relationship or merges it into the
// existing row with the same (source, target, predicate): confidence
// keeps the maximum observed value, supporting chunks are unioned.
func (h *RelationshipsDBHandler) UpsertRelationship(ctx context.Context, relationship *model.Relationship) error {
	row := h.db.Instance.QueryRowContext(
		ctx,
		`SELECT * FROM upsert_relationship($1, $2, $3, $4, $5)`,
		relationship.SourceEntityID,
		relationship.TargetEntityID,
		relationship.Predicate,
		relationship.Confidence,
		pq.Array(relationship.SupportingChunks),
	)

	err := row.Scan(
		&relationship.ID,
		&relationship.SourceEntityID,
		&relationship.TargetEntityID,
		&relationship.Predicate,
		&relationship.Confidence,
		pq.Array(&relationship.SupportingChunks),
		&relationship.CreatedAt,
		&relationship.UpdatedAt,
	)
	if err != nil {
		return helper.NewError("scan", err)
	}

	return nil
}

// SelectRelationshipsForEntity retrieves all relationships a given
// entity participates in, as subject or object
func (h *RelationshipsDBHandler) SelectRelationshipsForEntity(ctx context.Context, entityID uuid.UUID) ([]*model.Relationship, error) {
	rows, err := h.db.Instance.QueryContext(
		ctx,
		`SELECT * FROM select_relationships_for_entity($1)`,
		entityID,
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	var relationships []*model.Relationship
	for rows.Next() {
		relationship := &model.Relationship{}
		err := rows.Scan(
			&relationship.ID,
			&relationship.SourceEntityID,
			&relationship.TargetEntityID,
			&relationship.Predicate,
			&relationship.Confidence,
			pq.Array(&relationship.SupportingChunks),
			&relationship.CreatedAt,
			&relationship.UpdatedAt,
		)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}
		relationships = append(relationships, relationship)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return relationships, nil
}

// DeleteRelationship deletes a relationship by id
func (h *RelationshipsDBHandler) DeleteRelationship(ctx context.Context, id uuid.UUID) error {
	_, err := h.db.Instance.ExecContext(
		ctx,
		`SELECT delete_relationship($1)`,
		id,
	)
	if err != nil {
		return helper.NewError("exec", err)
	}
	return nil
}
