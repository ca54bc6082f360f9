package graph

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/siherrmann/mailrank/model"
)

// GraphStore defines the interface for knowledge graph traversal
type GraphStore interface {
	SelectEntity(ctx context.Context, id uuid.UUID) (*model.Entity, error)
	SelectRelationshipsForEntity(ctx context.Context, entityID uuid.UUID) ([]*model.Relationship, error)
}

// TraversalResult contains an entity and its distance from the source
type TraversalResult struct {
	Entity   *model.Entity
	Distance int
	Path     []uuid.UUID // Path from source to this entity
}

// BFS performs breadth-first search from a source entity. Relationships
// are followed in both directions; relationships below minConfidence
// are skipped. Neighbors are visited in deterministic id order.
func BFS(ctx context.Context, store GraphStore, sourceID uuid.UUID, maxHops int, minConfidence float64) ([]*TraversalResult, error) {
	visited := make(map[uuid.UUID]bool)

	sourceEntity, err := store.SelectEntity(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	queue := []TraversalResult{{
		Entity:   sourceEntity,
		Distance: 0,
		Path:     []uuid.UUID{sourceID},
	}}

	var results []*TraversalResult
	visited[sourceID] = true

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		results = append(results, &current)

		// Stop if we've reached max hops
		if current.Distance >= maxHops {
			continue
		}

		neighborIDs, err := neighborIDs(ctx, store, current.Entity.ID, minConfidence)
		if err != nil {
			return nil, err
		}

		for _, targetID := range neighborIDs {
			if visited[targetID] {
				continue
			}

			targetEntity, err := store.SelectEntity(ctx, targetID)
			if err != nil {
				continue // Skip if entity not found
			}

			visited[targetID] = true

			newPath := make([]uuid.UUID, len(current.Path))
			copy(newPath, current.Path)
			newPath = append(newPath, targetID)

			queue = append(queue, TraversalResult{
				Entity:   targetEntity,
				Distance: current.Distance + 1,
				Path:     newPath,
			})
		}
	}

	return results, nil
}

// DFS performs depth-first search from a source entity
func DFS(ctx context.Context, store GraphStore, sourceID uuid.UUID, maxHops int, minConfidence float64) ([]*TraversalResult, error) {
	visited := make(map[uuid.UUID]bool)
	var results []*TraversalResult

	sourceEntity, err := store.SelectEntity(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	dfsRecursive(ctx, store, sourceEntity, 0, maxHops, []uuid.UUID{sourceID}, minConfidence, visited, &results)

	return results, nil
}

// dfsRecursive is the recursive helper for DFS
func dfsRecursive(
	ctx context.Context,
	store GraphStore,
	current *model.Entity,
	distance int,
	maxHops int,
	path []uuid.UUID,
	minConfidence float64,
	visited map[uuid.UUID]bool,
	results *[]*TraversalResult,
) {
	visited[current.ID] = true

	pathCopy := make([]uuid.UUID, len(path))
	copy(pathCopy, path)
	*results = append(*results, &TraversalResult{
		Entity:   current,
		Distance: distance,
		Path:     pathCopy,
	})

	// Stop if we've reached max hops
	if distance >= maxHops {
		return
	}

	neighborIDs, err := neighborIDs(ctx, store, current.ID, minConfidence)
	if err != nil {
		return
	}

	for _, targetID := range neighborIDs {
		if visited[targetID] {
			continue
		}

		targetEntity, err := store.SelectEntity(ctx, targetID)
		if err != nil {
			continue // Skip if entity not found
		}

		newPath := make([]uuid.UUID, len(path))
		copy(newPath, path)
		newPath = append(newPath, targetID)

		dfsRecursive(ctx, store, targetEntity, distance+1, maxHops, newPath, minConfidence, visited, results)
	}
}

// Neighbors retrieves immediate neighbors (1-hop) of an entity
func Neighbors(ctx context.Context, store GraphStore, entityID uuid.UUID, minConfidence float64) ([]*model.Entity, error) {
	results, err := BFS(ctx, store, entityID, 1, minConfidence)
	if err != nil {
		return nil, err
	}

	// Skip the source entity itself (first result)
	neighbors := make([]*model.Entity, 0, len(results)-1)
	for i := 1; i < len(results); i++ {
		neighbors = append(neighbors, results[i].Entity)
	}

	return neighbors, nil
}

// neighborIDs collects the ids on the far end of an entity's
// relationships, deduplicated and in deterministic order.
func neighborIDs(ctx context.Context, store GraphStore, entityID uuid.UUID, minConfidence float64) ([]uuid.UUID, error) {
	relationships, err := store.SelectRelationshipsForEntity(ctx, entityID)
	if err != nil {
		return nil, err
	}

	seen := make(map[uuid.UUID]bool)
	var ids []uuid.UUID
	for _, relationship := range relationships {
		if relationship.Confidence < minConfidence {
			continue
		}

		targetID := relationship.TargetEntityID
		if targetID == entityID {
			targetID = relationship.SourceEntityID
		}
		if targetID == entityID || seen[targetID] {
			continue
		}

		seen[targetID] = true
		ids = append(ids, targetID)
	}

	sort.Slice(ids, func(i, j int) bool {
		return ids[i].String() < ids[j].String()
	})

	return ids, nil
}
