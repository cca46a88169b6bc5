// Package grammar checks learner sentences, caching results and falling back
// to a pass-through verdict when no checker is available.
package grammar

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log"
	"strings"
	"time"

	"github.com/ken2274132-hash/Fluently-sub000/internal/cache"
	"github.com/ken2274132-hash/Fluently-sub000/internal/metrics"
	"github.com/ken2274132-hash/Fluently-sub000/internal/speech"
)

const CacheTTL = 30 * time.Minute

// Checker grades a sentence. *llm.CerebrasClient satisfies it.
type Checker interface {
	CheckGrammar(ctx context.Context, text string) (speech.GrammarResult, error)
}

type Service struct {
	checker Checker
	cache   *cache.Cache
}

// NewService wires a checker and an optional backend. A nil checker makes
// every result a pass-through.
func NewService(checker Checker, backend cache.Backend) *Service {
	s := &Service{checker: checker}
	if backend != nil {
		s.cache = cache.New(backend, "grammar", CacheTTL)
	}
	return s
}

// Check never fails: provider errors degrade to speech.PassThrough.
func (s *Service) Check(ctx context.Context, text string) speech.GrammarResult {
	text = strings.TrimSpace(text)
	if text == "" || s.checker == nil {
		return speech.PassThrough(text)
	}
	key := cacheKey(text)
	if s.cache != nil {
		var cached speech.GrammarResult
		ok, err := s.cache.Get(ctx, key, &cached)
		if err != nil {
			log.Printf("grammar: cache read failed: %v", err)
		}
		metrics.RecordGrammarCache(ok)
		if ok {
			return cached
		}
	}
	started := time.Now()
	res, err := s.checker.CheckGrammar(ctx, text)
	metrics.ObservePipeline(speech.StepGrammar, started, err)
	if err != nil {
		log.Printf("grammar: check failed, passing through: %v", err)
		return speech.PassThrough(text)
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, res); err != nil {
			log.Printf("grammar: cache write failed: %v", err)
		}
	}
	return res
}

// cacheKey hashes the trimmed text as written; verdicts depend on case.
func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
