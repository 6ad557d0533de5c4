// Package embedding provides vector embeddings for persona retrieval
// reranking. Supports Google GenAI (cloud) and Ollama (local) backends.
package embedding

import (
	"context"
	"fmt"
	"math"

	"github.com/onion-salad/persona-lens-sub000/internal/logging"
)

// =============================================================================
// EMBEDDING ENGINE INTERFACE
// =============================================================================

// Engine generates vector embeddings for text.
type Engine interface {
	// Embed generates an embedding for a single text
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the dimensionality of embeddings
	Dimensions() int

	// Name returns the engine name
	Name() string
}

// =============================================================================
// EMBEDDING CONFIGURATION
// =============================================================================

// Config holds embedding engine configuration. An empty or "none" provider
// disables reranking entirely; retrieval then keeps store order.
type Config struct {
	// Provider: "none", "genai" or "ollama"
	Provider string `json:"provider" yaml:"provider"`

	// GenAI Configuration
	GenAIAPIKey string `json:"genai_api_key" yaml:"genai_api_key"`
	GenAIModel  string `json:"genai_model" yaml:"genai_model"` // Default: "gemini-embedding-001"

	// Ollama Configuration
	OllamaEndpoint string `json:"ollama_endpoint" yaml:"ollama_endpoint"` // Default: "http://localhost:11434"
	OllamaModel    string `json:"ollama_model" yaml:"ollama_model"`       // Default: "embeddinggemma"
}

// DefaultConfig returns sensible defaults. Reranking is off unless the
// deployment opts in with an API key or a local Ollama.
func DefaultConfig() Config {
	return Config{
		Provider:       "none",
		GenAIModel:     "gemini-embedding-001",
		OllamaEndpoint: "http://localhost:11434",
		OllamaModel:    "embeddinggemma",
	}
}

// =============================================================================
// FACTORY
// =============================================================================

// NewEngine creates an embedding engine based on configuration. Returns
// (nil, nil) when the provider is "none" or empty.
func NewEngine(cfg Config) (Engine, error) {
	if cfg.Provider == "" || cfg.Provider == "none" {
		logging.Embedding("Embedding reranking disabled (provider=none)")
		return nil, nil
	}

	logging.Embedding("Creating embedding engine with provider=%s", cfg.Provider)

	var engine Engine
	var err error

	switch cfg.Provider {
	case "genai":
		engine, err = NewGenAIEngine(cfg.GenAIAPIKey, cfg.GenAIModel)
	case "ollama":
		engine, err = NewOllamaEngine(cfg.OllamaEndpoint, cfg.OllamaModel)
	default:
		err = fmt.Errorf("unsupported embedding provider: %s (use 'none', 'genai' or 'ollama')", cfg.Provider)
		logging.Get(logging.CategoryEmbedding).Error("Unsupported embedding provider: %s", cfg.Provider)
		return nil, err
	}

	if err != nil {
		logging.Get(logging.CategoryEmbedding).Error("Failed to create embedding engine: %v", err)
		return nil, err
	}

	logging.Embedding("Embedding engine created: name=%s, dimensions=%d", engine.Name(), engine.Dimensions())
	return engine, nil
}

// =============================================================================
// SIMILARITY UTILITIES
// =============================================================================

// CosineSimilarity calculates the cosine similarity between two vectors.
// Returns a value between -1 and 1, where 1 means identical.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vectors must have the same length: %d != %d", len(a), len(b))
	}

	var dotProduct, aMagnitude, bMagnitude float64
	for i := 0; i < len(a); i++ {
		dotProduct += float64(a[i] * b[i])
		aMagnitude += float64(a[i] * a[i])
		bMagnitude += float64(b[i] * b[i])
	}

	if aMagnitude == 0 || bMagnitude == 0 {
		logging.Get(logging.CategoryEmbedding).Warn("CosineSimilarity: zero magnitude vector detected")
		return 0, nil
	}

	return dotProduct / (math.Sqrt(aMagnitude) * math.Sqrt(bMagnitude)), nil
}

// SimilarityResult represents one ranked corpus entry.
type SimilarityResult struct {
	Index      int
	Similarity float64
}

// RankAll orders every corpus vector by descending similarity to the query.
// Vectors with mismatched dimensions keep their original relative order at
// the end of the ranking; nothing is ever dropped.
func RankAll(query []float32, corpus [][]float32) []SimilarityResult {
	results := make([]SimilarityResult, 0, len(corpus))
	var unrankable []SimilarityResult

	for i, vec := range corpus {
		similarity, err := CosineSimilarity(query, vec)
		if err != nil {
			unrankable = append(unrankable, SimilarityResult{Index: i, Similarity: math.Inf(-1)})
			continue
		}
		results = append(results, SimilarityResult{Index: i, Similarity: similarity})
	}

	if len(unrankable) > 0 {
		logging.Get(logging.CategoryEmbedding).Warn("RankAll: %d vectors had mismatched dimensions", len(unrankable))
	}

	// Insertion-style sort; corpora here are small (a handful of personas).
	for i := 0; i < len(results); i++ {
		for j := i + 1; j < len(results); j++ {
			if results[j].Similarity > results[i].Similarity {
				results[i], results[j] = results[j], results[i]
			}
		}
	}

	return append(results, unrankable...)
}
