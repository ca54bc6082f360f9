package pipeline

import (
	"crypto/sha1"
	"fmt"
	"regexp"
	"strings"

	"github.com/siherrmann/mailrank/model"
)

var chunkIDSanitizer = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// ChunkID derives the stable id of the index-th chunk of a document.
// The id is a pure function of document path and index, which makes
// re-ingestion idempotent. Sanitizing the path for readability is
// lossy ("a-b.txt" and "a_b.txt" share a slug), so any slug that
// differs from the raw path carries a short hash of that path;
// distinct documents never share chunk ids.
func ChunkID(documentPath string, index int) string {
	slug := strings.Trim(chunkIDSanitizer.ReplaceAllString(documentPath, "-"), "-")
	if slug != documentPath {
		sum := sha1.Sum([]byte(documentPath))
		if slug == "" {
			slug = fmt.Sprintf("%x", sum[:4])
		} else {
			slug = fmt.Sprintf("%s-%x", slug, sum[:4])
		}
	}
	return fmt.Sprintf("%s-%d", slug, index)
}

// SentenceChunker creates a chunker that splits by sentences
func SentenceChunker(maxSentencesPerChunk int) ChunkFunc {
	return func(text string, documentPath string) ([]*model.Chunk, error) {
		if maxSentencesPerChunk <= 0 {
			return nil, fmt.Errorf("max sentences per chunk must be positive")
		}

		// Handle empty or whitespace-only text
		if strings.TrimSpace(text) == "" {
			return []*model.Chunk{}, nil
		}

		text = strings.ReplaceAll(text, "! ", "!|")
		text = strings.ReplaceAll(text, "? ", "?|")
		text = strings.ReplaceAll(text, ". ", ".|")

		var sentences []string
		for _, s := range strings.Split(text, "|") {
			s = strings.TrimSpace(s)
			if s != "" {
				sentences = append(sentences, s)
			}
		}

		var chunks []*model.Chunk
		var currentChunk []string
		chunkIdx := 0

		for _, sentence := range sentences {
			currentChunk = append(currentChunk, sentence)

			if len(currentChunk) >= maxSentencesPerChunk {
				chunks = append(chunks, &model.Chunk{
					ChunkID:  ChunkID(documentPath, chunkIdx),
					Text:     strings.Join(currentChunk, " "),
					Metadata: map[string]interface{}{"sentences": len(currentChunk)},
				})
				currentChunk = nil
				chunkIdx++
			}
		}

		// Add remaining sentences
		if len(currentChunk) > 0 {
			chunks = append(chunks, &model.Chunk{
				ChunkID:  ChunkID(documentPath, chunkIdx),
				Text:     strings.Join(currentChunk, " "),
				Metadata: map[string]interface{}{"sentences": len(currentChunk)},
			})
		}

		return chunks, nil
	}
}

// ParagraphChunker creates a chunker that splits by paragraphs
func ParagraphChunker() ChunkFunc {
	return func(text string, documentPath string) ([]*model.Chunk, error) {
		var chunks []*model.Chunk
		chunkIdx := 0

		for _, para := range strings.Split(text, "\n\n") {
			para = strings.TrimSpace(para)
			if para == "" {
				continue
			}

			chunks = append(chunks, &model.Chunk{
				ChunkID:  ChunkID(documentPath, chunkIdx),
				Text:     para,
				Metadata: map[string]interface{}{},
			})
			chunkIdx++
		}

		return chunks, nil
	}
}

// DefaultChunker splits by paragraphs and falls back to sentence
// grouping for paragraphs that exceed maxChunkSize characters.
func DefaultChunker(maxChunkSize int, maxSentencesPerChunk int) ChunkFunc {
	sentenceChunker := SentenceChunker(maxSentencesPerChunk)

	return func(text string, documentPath string) ([]*model.Chunk, error) {
		if maxChunkSize <= 0 {
			return nil, fmt.Errorf("max chunk size must be positive")
		}

		var chunks []*model.Chunk
		chunkIdx := 0

		for _, para := range strings.Split(text, "\n\n") {
			para = strings.TrimSpace(para)
			if para == "" {
				continue
			}

			if len(para) <= maxChunkSize {
				chunks = append(chunks, &model.Chunk{
					ChunkID:  ChunkID(documentPath, chunkIdx),
					Text:     para,
					Metadata: map[string]interface{}{},
				})
				chunkIdx++
				continue
			}

			// Oversized paragraph, regroup by sentences. Ids must stay
			// sequential across the whole document.
			subChunks, err := sentenceChunker(para, documentPath)
			if err != nil {
				return nil, err
			}
			for _, subChunk := range subChunks {
				subChunk.ChunkID = ChunkID(documentPath, chunkIdx)
				chunks = append(chunks, subChunk)
				chunkIdx++
			}
		}

		return chunks, nil
	}
}
