package pipeline

import (
	"context"
	"log"
	"time"

	"github.com/ken2274132-hash/Fluently-sub000/internal/grammar"
	"github.com/ken2274132-hash/Fluently-sub000/internal/speech"
	"github.com/ken2274132-hash/Fluently-sub000/internal/store"
)

// ArchiveTimeout bounds the grammar checks and writes made for one ended session.
const ArchiveTimeout = 30 * time.Second

// Archiver grades the user's lines of a finished session and stores the result.
type Archiver struct {
	Grammar *grammar.Service
	Store   *store.Store
}

// Corrections grammar-checks every user message. Positions index the transcript.
func (a *Archiver) Corrections(ctx context.Context, transcript []speech.Message) []store.Correction {
	var out []store.Correction
	if a == nil || a.Grammar == nil {
		return out
	}
	for i, m := range transcript {
		if m.Role != speech.RoleUser {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		out = append(out, store.Correction{Position: i, Original: m.Content, Result: a.Grammar.Check(ctx, m.Content)})
	}
	return out
}

// Archive stores the session. It is a no-op for empty transcripts or a disabled store.
func (a *Archiver) Archive(id, mode string, startedAt time.Time, transcript []speech.Message) {
	if a == nil || !a.Store.Enabled() || len(transcript) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), ArchiveTimeout)
	defer cancel()
	sess := store.Session{
		ID:          id,
		Mode:        mode,
		StartedAt:   startedAt,
		EndedAt:     time.Now(),
		Messages:    transcript,
		Corrections: a.Corrections(ctx, transcript),
	}
	if err := a.Store.ArchiveSession(ctx, sess); err != nil {
		log.Printf("[%s] archive failed: %v", id, err)
	}
}
