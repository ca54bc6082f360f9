package pipeline

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/pipelines"
	"github.com/siherrmann/mailrank/helper"
	"github.com/siherrmann/mailrank/model"
)

// ExtractorConfig bounds what the extractor keeps. Candidates below
// the confidence thresholds are dropped rather than stored.
type ExtractorConfig struct {
	MinEntityConfidence       float64
	MinRelationshipConfidence float64
	// ProximityWindow is the maximum character distance between two
	// entity mentions that still produces a relationship.
	ProximityWindow int
	ContextRadius   int
	MaxContexts     int
}

// DefaultExtractorConfig returns the extraction defaults.
func DefaultExtractorConfig() ExtractorConfig {
	return ExtractorConfig{
		MinEntityConfidence:       0.5,
		MinRelationshipConfidence: 0.3,
		ProximityWindow:           200,
		ContextRadius:             100,
		MaxContexts:               5,
	}
}

var (
	emailPattern       = regexp.MustCompile(`\b([a-zA-Z0-9._%+-]+)@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}\b`)
	personNamePattern  = regexp.MustCompile(`\b([A-Z][a-z]+ [A-Z][a-z]+)\b`)
	projectNamePattern = regexp.MustCompile(`\bProject ([A-Z][A-Za-z0-9]+)\b`)
	projectCodePattern = regexp.MustCompile(`\b([A-Z]{2,5}-\d+)\b`)
	acronymPattern     = regexp.MustCompile(`\b([A-Z]{2,6})\b`)
	camelCasePattern   = regexp.MustCompile(`\b([A-Z][a-z]+(?:[A-Z][A-Za-z0-9]+)+)\b`)
)

// candidate is a single raw mention before grouping.
type candidate struct {
	name       string
	entityType string
	confidence float64
	start      int
	end        int
}

// DefaultExtractor creates a pattern based entity and relationship
// extractor. It is fully deterministic: identical chunk text always
// yields identical entity and relationship sets, which keeps
// re-ingestion idempotent.
//
// Recognized mentions: email addresses and capitalized name pairs
// (PERSON), "Project X" phrases and ticket-style codes (PROJECT),
// acronyms and CamelCase terms (TERM). Mentions are grouped by
// normalized name plus type; relationships are inferred from mention
// proximity within the chunk.
func DefaultExtractor(config ExtractorConfig) ExtractFunc {
	return func(chunk *model.Chunk) ([]*model.Entity, []*model.Relationship, error) {
		if chunk == nil || strings.TrimSpace(chunk.Text) == "" {
			return nil, nil, fmt.Errorf("chunk has no text")
		}

		candidates := collectCandidates(chunk.Text)

		entities, positions := groupCandidates(candidates, chunk, config)
		relationships := inferRelationships(entities, positions, chunk, config)

		return entities, relationships, nil
	}
}

func collectCandidates(text string) []candidate {
	var candidates []candidate

	// Project phrases first, their spans suppress person candidates
	// ("Project Orion" is not a person name).
	var projectSpans [][2]int
	for _, match := range projectNamePattern.FindAllStringSubmatchIndex(text, -1) {
		full := [2]int{match[0], match[1]}
		projectSpans = append(projectSpans, full)
		candidates = append(candidates, candidate{
			name:       text[match[2]:match[3]],
			entityType: model.EntityTypeProject,
			confidence: 0.85,
			start:      match[2],
			end:        match[3],
		})
	}
	for _, match := range projectCodePattern.FindAllStringSubmatchIndex(text, -1) {
		projectSpans = append(projectSpans, [2]int{match[0], match[1]})
		candidates = append(candidates, candidate{
			name:       text[match[2]:match[3]],
			entityType: model.EntityTypeProject,
			confidence: 0.8,
			start:      match[2],
			end:        match[3],
		})
	}

	for _, match := range emailPattern.FindAllStringSubmatchIndex(text, -1) {
		candidates = append(candidates, candidate{
			name:       personNameFromAddress(text[match[2]:match[3]]),
			entityType: model.EntityTypePerson,
			confidence: 0.9,
			start:      match[0],
			end:        match[1],
		})
	}
	for _, match := range personNamePattern.FindAllStringSubmatchIndex(text, -1) {
		if overlapsAny(match[0], match[1], projectSpans) {
			continue
		}
		candidates = append(candidates, candidate{
			name:       text[match[2]:match[3]],
			entityType: model.EntityTypePerson,
			confidence: 0.75,
			start:      match[2],
			end:        match[3],
		})
	}

	for _, match := range acronymPattern.FindAllStringSubmatchIndex(text, -1) {
		if overlapsAny(match[0], match[1], projectSpans) {
			continue
		}
		candidates = append(candidates, candidate{
			name:       text[match[2]:match[3]],
			entityType: model.EntityTypeTerm,
			confidence: 0.6,
			start:      match[2],
			end:        match[3],
		})
	}
	for _, match := range camelCasePattern.FindAllStringSubmatchIndex(text, -1) {
		candidates = append(candidates, candidate{
			name:       text[match[2]:match[3]],
			entityType: model.EntityTypeTerm,
			confidence: 0.65,
			start:      match[2],
			end:        match[3],
		})
	}

	return candidates
}

// groupCandidates merges raw mentions by normalized name plus type,
// keeping the maximum confidence and the first occurrence position.
// Entities below the confidence threshold are dropped. The returned
// positions map is keyed by entity id.
func groupCandidates(candidates []candidate, chunk *model.Chunk, config ExtractorConfig) ([]*model.Entity, map[string]int) {
	type group struct {
		entity *model.Entity
		start  int
	}
	groups := map[string]*group{}

	for _, c := range candidates {
		if c.confidence < config.MinEntityConfidence {
			continue
		}

		key := model.NormalizeEntityName(c.name) + "|" + c.entityType
		existing, ok := groups[key]
		if !ok {
			groups[key] = &group{
				entity: &model.Entity{
					ID:        model.EntityID(c.name, c.entityType),
					Name:      c.name,
					Type:      c.entityType,
					Relevance: c.confidence,
					Mentions:  []string{chunk.ChunkID},
					Contexts:  []string{contextSnippet(chunk.Text, c.start, c.end, config.ContextRadius)},
					Metadata:  map[string]interface{}{},
				},
				start: c.start,
			}
			continue
		}

		if c.confidence > existing.entity.Relevance {
			existing.entity.Relevance = c.confidence
		}
		if c.start < existing.start {
			existing.start = c.start
		}
		if len(existing.entity.Contexts) < config.MaxContexts {
			snippet := contextSnippet(chunk.Text, c.start, c.end, config.ContextRadius)
			if !containsString(existing.entity.Contexts, snippet) {
				existing.entity.Contexts = append(existing.entity.Contexts, snippet)
			}
		}
	}

	entities := make([]*model.Entity, 0, len(groups))
	positions := map[string]int{}
	for _, g := range groups {
		entities = append(entities, g.entity)
		positions[g.entity.ID.String()] = g.start
	}

	// Deterministic output order regardless of map iteration.
	sort.Slice(entities, func(i, j int) bool {
		return positions[entities[i].ID.String()] < positions[entities[j].ID.String()]
	})

	return entities, positions
}

// inferRelationships links entity pairs that co-occur within the
// proximity window. Confidence decays linearly with distance, adjacent
// mentions approach 1.0 and mentions a full window apart approach 0.
func inferRelationships(entities []*model.Entity, positions map[string]int, chunk *model.Chunk, config ExtractorConfig) []*model.Relationship {
	if config.ProximityWindow <= 0 {
		return nil
	}

	var relationships []*model.Relationship
	seen := map[string]*model.Relationship{}

	for i := 0; i < len(entities); i++ {
		for j := i + 1; j < len(entities); j++ {
			distance := positions[entities[j].ID.String()] - positions[entities[i].ID.String()]
			if distance < 0 {
				distance = -distance
			}
			if distance > config.ProximityWindow {
				continue
			}

			confidence := 1.0 - float64(distance)/float64(config.ProximityWindow)
			if confidence < config.MinRelationshipConfidence {
				continue
			}

			source, target, predicate := model.InferPredicate(entities[i], entities[j])
			key := source.ID.String() + "|" + predicate + "|" + target.ID.String()
			if existing, ok := seen[key]; ok {
				if confidence > existing.Confidence {
					existing.Confidence = confidence
				}
				continue
			}

			relationship := &model.Relationship{
				SourceEntityID:   source.ID,
				TargetEntityID:   target.ID,
				Predicate:        predicate,
				Confidence:       confidence,
				SupportingChunks: []string{chunk.ChunkID},
			}
			seen[key] = relationship
			relationships = append(relationships, relationship)
		}
	}

	return relationships
}

// personNameFromAddress turns the local part of an email address into
// a display name ("ada.lovelace" -> "Ada Lovelace").
func personNameFromAddress(localPart string) string {
	parts := strings.FieldsFunc(localPart, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+'
	})

	var words []string
	for _, part := range parts {
		if part == "" {
			continue
		}
		words = append(words, strings.ToUpper(part[:1])+strings.ToLower(part[1:]))
	}
	if len(words) == 0 {
		return localPart
	}
	return strings.Join(words, " ")
}

func contextSnippet(text string, start int, end int, radius int) string {
	from := start - radius
	if from < 0 {
		from = 0
	}
	to := end + radius
	if to > len(text) {
		to = len(text)
	}
	return strings.TrimSpace(text[from:to])
}

func overlapsAny(start int, end int, spans [][2]int) bool {
	for _, span := range spans {
		if start < span[1] && end > span[0] {
			return true
		}
	}
	return false
}

func containsString(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}

// NERExtractor creates an entity extractor backed by a local NER
// model. It maps the model's labels onto the graph's entity types
// (PER to PERSON, ORG to PROJECT, everything else to TERM) and infers
// relationships from mention proximity like the default extractor.
// Model output is not guaranteed to be deterministic across model
// versions, so prefer DefaultExtractor where strict re-ingestion
// idempotence matters.
func NERExtractor(config ExtractorConfig) (ExtractFunc, error) {
	modelName := "KnightsAnalytics/distilbert-NER"
	modelPath, err := helper.PrepareModel(modelName, "model.onnx")
	if err != nil {
		return nil, err
	}

	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create hugot session: %w", err)
	}

	nerConfig := hugot.TokenClassificationConfig{
		ModelPath: modelPath,
		Name:      "ner-pipeline",
		Options: []hugot.TokenClassificationOption{
			pipelines.WithSimpleAggregation(),
			pipelines.WithIgnoreLabels([]string{"O"}),
		},
	}
	nerPipeline, err := hugot.NewPipeline(session, nerConfig)
	if err != nil {
		if destroyErr := session.Destroy(); destroyErr != nil {
			return nil, fmt.Errorf("failed to create NER pipeline: %w (cleanup error: %v)", err, destroyErr)
		}
		return nil, fmt.Errorf("failed to create NER pipeline: %w", err)
	}

	return func(chunk *model.Chunk) ([]*model.Entity, []*model.Relationship, error) {
		if chunk == nil || strings.TrimSpace(chunk.Text) == "" {
			return nil, nil, fmt.Errorf("chunk has no text")
		}

		result, err := nerPipeline.RunPipeline([]string{chunk.Text})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to run NER: %w", err)
		}

		if len(result.Entities) == 0 {
			return nil, nil, nil
		}

		var candidates []candidate
		for _, entity := range result.Entities[0] {
			label := strings.TrimPrefix(strings.TrimPrefix(entity.Entity, "B-"), "I-")
			candidates = append(candidates, candidate{
				name:       strings.TrimSpace(entity.Word),
				entityType: nerEntityType(label),
				confidence: float64(entity.Score),
				start:      int(entity.Start),
				end:        int(entity.End),
			})
		}

		entities, positions := groupCandidates(candidates, chunk, config)
		relationships := inferRelationships(entities, positions, chunk, config)

		return entities, relationships, nil
	}, nil
}

func nerEntityType(label string) string {
	switch label {
	case "PER":
		return model.EntityTypePerson
	case "ORG":
		return model.EntityTypeProject
	default:
		return model.EntityTypeTerm
	}
}
