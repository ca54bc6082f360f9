package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/siherrmann/mailrank/core/pipeline"
	"github.com/siherrmann/mailrank/core/retrieval"
	"github.com/siherrmann/mailrank/helper"
	"github.com/siherrmann/mailrank/model"
)

// Signal names as they appear in reported reasons
const (
	SignalContextRelevance = "context_relevance"
	SignalEntityOverlap    = "entity_overlap"
	SignalUrgency          = "urgency"
	SignalRecency          = "recency"
)

// Scorer converts retrieval output plus message attributes into a
// bounded, explainable priority score
type Scorer struct {
	engine    *retrieval.Engine
	config    model.ScoringConfig
	recognize pipeline.ExtractFunc
	logger    *slog.Logger
}

// NewScorer creates a new prioritization scorer. The configuration is
// validated, weights must form a convex combination.
func NewScorer(engine *retrieval.Engine, config model.ScoringConfig, logger *slog.Logger) (*Scorer, error) {
	if engine == nil {
		return nil, helper.NewError("scorer validation", fmt.Errorf("retrieval engine is nil"))
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Scorer{
		engine:    engine,
		config:    config,
		recognize: pipeline.DefaultExtractor(pipeline.DefaultExtractorConfig()),
		logger:    logger,
	}, nil
}

// Input is a single message to score. Query optionally replaces the
// message's own text as the retrieval query. Window anchors the
// recency decay; Now defaults to the current time.
type Input struct {
	Message *model.Message
	Query   string
	Window  time.Duration
	Now     time.Time
}

// signal is one evaluated scoring signal. An unavailable signal
// contributes zero and produces no reason instead of failing the
// scoring operation.
type signal struct {
	name          string
	value         float64
	weight        float64
	available     bool
	explanation   string
	supportingIDs []string
}

// Score runs a message through the scoring state machine:
// pending -> retrieved -> scored, or pending -> failed when every
// signal is unavailable. A message must have a non-empty body.
func (s *Scorer) Score(ctx context.Context, input Input) (*model.PriorityResult, error) {
	if input.Message == nil || strings.TrimSpace(input.Message.Body) == "" {
		return nil, helper.NewInvalidArgumentError("score message", "message body is empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, helper.NewError("score message", err)
	}
	if input.Now.IsZero() {
		input.Now = time.Now()
	}

	result := &model.PriorityResult{
		MessageID: input.Message.ID,
		Status:    model.StatusPending,
	}

	chunks, entities, retrieved, expanded := s.retrieveContext(ctx, input)
	if retrieved {
		result.Status = model.StatusRetrieved
		for _, retrievalResult := range chunks {
			result.MatchedChunks = append(result.MatchedChunks, retrievalResult.Chunk.ChunkID)
		}
	}

	contextSignal := s.contextRelevance(chunks, retrieved)
	entitySignal, matched := s.entityOverlap(input.Message, entities, expanded)
	result.MatchedEntities = matched

	signals := []signal{
		contextSignal,
		entitySignal,
		s.urgency(input.Message),
		s.recency(input.Message, input.Window, input.Now),
	}

	available := 0
	score := 0.0
	for _, sig := range signals {
		if !sig.available {
			continue
		}
		available++
		score += sig.value * sig.weight
	}

	if available == 0 {
		result.Status = model.StatusFailed
		s.logger.Warn("all scoring signals unavailable", "messageId", input.Message.ID)
		return result, nil
	}

	result.Score = clamp01(score)
	result.Reasons = s.reasons(signals)
	result.Status = model.StatusScored

	return result, nil
}

// retrieveContext runs the similarity search and the entity expansion
// under separate bounded timeouts. A failed search leaves both the
// context and entity signals unavailable, a failed expansion only the
// entity signal.
func (s *Scorer) retrieveContext(ctx context.Context, input Input) ([]*model.RetrievalResult, []*model.Entity, bool, bool) {
	query := retrieval.Query{Text: input.Query}
	if query.Text == "" {
		query.Text = input.Message.Text()
	}

	options := retrieval.DefaultOptions()
	options.TopK = s.config.TopK
	options.SimilarityThreshold = s.config.SimilarityThreshold
	options.ExpandRelated = true

	var results []*model.RetrievalResult
	err := helper.Retry(ctx, s.config.RetryAttempts, func() error {
		searchCtx, cancel := context.WithTimeout(ctx, s.config.SignalTimeout)
		defer cancel()

		var searchErr error
		results, searchErr = s.engine.SearchChunks(searchCtx, query, options)
		return searchErr
	})
	if err != nil {
		s.logger.Warn("similarity search unavailable", "messageId", input.Message.ID, "error", err)
		return nil, nil, false, false
	}

	err = helper.Retry(ctx, s.config.RetryAttempts, func() error {
		expandCtx, cancel := context.WithTimeout(ctx, s.config.SignalTimeout)
		defer cancel()

		return s.engine.ExpandEntities(expandCtx, results, options)
	})
	if err != nil {
		s.logger.Warn("entity expansion unavailable", "messageId", input.Message.ID, "error", err)
		return results, nil, true, false
	}

	return results, retrieval.Entities(results), true, true
}

// contextRelevance is the maximum similarity among retrieved chunks.
// No retrieval hits is a zero value, not an error.
func (s *Scorer) contextRelevance(results []*model.RetrievalResult, available bool) signal {
	sig := signal{
		name:      SignalContextRelevance,
		weight:    s.config.Weights.ContextRelevance,
		available: available,
	}
	if !available || len(results) == 0 {
		return sig
	}

	best := results[0]
	for _, result := range results {
		if result.Similarity > best.Similarity {
			best = result
		}
	}

	sig.value = clamp01(best.Similarity)
	sig.explanation = fmt.Sprintf("similar to %v knowledge-base chunk(s), best match %.2f", len(results), best.Similarity)
	for _, result := range results {
		sig.supportingIDs = append(sig.supportingIDs, result.Chunk.ChunkID)
	}
	return sig
}

// entityOverlap measures which share of the entities recognized in
// the message the knowledge graph actually covers. Each covered
// entity counts by how many distinct chunks corroborate it,
// saturating at the mention cap so a single over-mentioned entity
// cannot dominate. Recognized entities the graph knows nothing about
// dilute the signal instead of being ignored.
func (s *Scorer) entityOverlap(message *model.Message, entities []*model.Entity, available bool) (signal, []*model.Entity) {
	sig := signal{
		name:      SignalEntityOverlap,
		weight:    s.config.Weights.EntityOverlap,
		available: available,
	}
	if !available || len(entities) == 0 {
		return sig, nil
	}

	text := strings.ToLower(message.Text())

	recognized := s.recognizedNames(message)
	var matched []*model.Entity
	total := 0.0
	for _, entity := range entities {
		name := model.NormalizeEntityName(entity.Name)
		if len(name) < 3 || !strings.Contains(text, name) {
			continue
		}
		matched = append(matched, entity)
		recognized[name] = true
		total += corroboration(entity, s.config.MentionCap)
	}

	if len(matched) == 0 {
		return sig, nil
	}

	sig.value = clamp01(total / float64(len(recognized)))
	sig.explanation = overlapExplanation(matched)
	for _, entity := range matched {
		sig.supportingIDs = append(sig.supportingIDs, entity.ID.String())
	}
	return sig, matched
}

// recognizedNames runs the deterministic extraction patterns over the
// message text. Graph matches are substring based rather than pattern
// based, so the caller adds them to the returned set itself.
func (s *Scorer) recognizedNames(message *model.Message) map[string]bool {
	names := map[string]bool{}
	found, _, err := s.recognize(&model.Chunk{ChunkID: message.ID, Text: message.Text()})
	if err != nil {
		return names
	}
	for _, entity := range found {
		names[model.NormalizeEntityName(entity.Name)] = true
	}
	return names
}

// urgency counts configured urgency markers, each present marker
// contributes a fixed increment, capped at 1.0
func (s *Scorer) urgency(message *model.Message) signal {
	sig := signal{
		name:      SignalUrgency,
		weight:    s.config.Weights.Urgency,
		available: true,
	}

	text := strings.ToLower(message.Text())
	var markers []string

	for _, keyword := range s.config.UrgencyKeywords {
		if strings.Contains(text, strings.ToLower(keyword)) {
			markers = append(markers, keyword)
		}
	}
	if strings.EqualFold(message.Importance, "high") {
		markers = append(markers, "high importance")
	}
	if message.HasAttachments {
		markers = append(markers, "attachments")
	}
	for _, sender := range s.config.SeniorSenders {
		if strings.EqualFold(message.Sender, sender) {
			markers = append(markers, "senior sender")
			break
		}
	}
	if s.config.ActiveThreadSize > 0 && message.ThreadLength >= s.config.ActiveThreadSize {
		markers = append(markers, "active thread")
	}

	if len(markers) == 0 {
		return sig
	}

	sig.value = clamp01(float64(len(markers)) * s.config.UrgencyIncrement)
	sig.explanation = fmt.Sprintf("urgency markers: %v", strings.Join(markers, ", "))
	return sig
}

// recency decays exponentially with message age relative to the
// requested window: a brand-new message scores near 1, a message at
// the window boundary near 0.
func (s *Scorer) recency(message *model.Message, window time.Duration, now time.Time) signal {
	sig := signal{
		name:      SignalRecency,
		weight:    s.config.Weights.Recency,
		available: true,
	}
	if window <= 0 {
		window = 7 * 24 * time.Hour
	}

	age := now.Sub(message.Timestamp)
	if age < 0 {
		age = 0
	}

	sig.value = clamp01(math.Exp(-3 * float64(age) / float64(window)))
	sig.explanation = fmt.Sprintf("message age %v within a %v window", age.Round(time.Minute), window)
	return sig
}

// reasons reports one entry per signal whose contribution exceeds the
// minimum-reporting threshold, sorted by contribution descending.
func (s *Scorer) reasons(signals []signal) []model.Reason {
	var reasons []model.Reason
	for _, sig := range signals {
		contribution := sig.value * sig.weight
		if !sig.available || contribution <= s.config.MinReportedContribution {
			continue
		}
		reasons = append(reasons, model.Reason{
			Signal:        sig.name,
			Contribution:  contribution,
			Explanation:   sig.explanation,
			SupportingIDs: sig.supportingIDs,
		})
	}

	sort.Slice(reasons, func(i, j int) bool {
		if reasons[i].Contribution != reasons[j].Contribution {
			return reasons[i].Contribution > reasons[j].Contribution
		}
		return reasons[i].Signal < reasons[j].Signal
	})

	return reasons
}

// corroboration weighs a matched entity by its distinct supporting
// chunks, saturating at the mention cap
func corroboration(entity *model.Entity, mentionCap int) float64 {
	if mentionCap <= 0 {
		mentionCap = 1
	}
	mentions := len(entity.Mentions)
	if mentions > mentionCap {
		mentions = mentionCap
	}
	if mentions == 0 {
		mentions = 1
	}
	return float64(mentions) / float64(mentionCap)
}

// relevance thresholds per entity type, matches above them are called
// out as key entities in explanations
func relevanceThreshold(entityType string) float64 {
	if entityType == model.EntityTypeTerm {
		return 0.8
	}
	return 0.7
}

func overlapExplanation(matched []*model.Entity) string {
	top := matched[0]
	for _, entity := range matched {
		if entity.Relevance > top.Relevance {
			top = entity
		}
	}

	explanation := fmt.Sprintf("mentions entity %v, corroborated by %v knowledge-base chunk(s)", top.Name, len(top.Mentions))
	if top.Relevance > relevanceThreshold(top.Type) {
		explanation += " (key entity)"
	}
	if len(matched) > 1 {
		explanation += fmt.Sprintf(" and %v more", len(matched)-1)
	}
	return explanation
}

func clamp01(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}
