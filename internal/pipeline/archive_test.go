package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ken2274132-hash/Fluently-sub000/internal/cache"
	"github.com/ken2274132-hash/Fluently-sub000/internal/grammar"
	"github.com/ken2274132-hash/Fluently-sub000/internal/speech"
)

type stubChecker struct{ score int }

func (c stubChecker) CheckGrammar(_ context.Context, text string) (speech.GrammarResult, error) {
	return speech.GrammarResult{Corrected: text + "!", Suggestions: []speech.Suggestion{}, Score: c.score}, nil
}

func TestCorrections_UserMessagesOnly(t *testing.T) {
	a := &Archiver{Grammar: grammar.NewService(stubChecker{score: 80}, cache.NewMemory())}
	transcript := []speech.Message{
		{Role: speech.RoleAssistant, Content: "Hi!"},
		{Role: speech.RoleUser, Content: "I goed home"},
		{Role: speech.RoleAssistant, Content: "Oh?"},
		{Role: speech.RoleUser, Content: "yes"},
	}
	got := a.Corrections(context.Background(), transcript)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Position)
	assert.Equal(t, "I goed home", got[0].Original)
	assert.Equal(t, 80, got[0].Result.Score)
	assert.Equal(t, 3, got[1].Position)
}

func TestArchive_NoStoreIsNoop(t *testing.T) {
	var a *Archiver
	a.Archive("s1", "voice", time.Now(), []speech.Message{{Role: speech.RoleUser, Content: "x"}})
	assert.Empty(t, (&Archiver{}).Corrections(context.Background(), []speech.Message{{Role: speech.RoleUser, Content: "x"}}))
}
