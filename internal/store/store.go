// Package store archives finished practice sessions to the hosted backend.
package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/supabase-community/supabase-go"

	"github.com/ken2274132-hash/Fluently-sub000/internal/speech"
)

const (
	tableSessions    = "sessions"
	tableMessages    = "messages"
	tableCorrections = "corrections"
)

type Config struct {
	URL            string
	ServiceRoleKey string
	Bucket         string
}

// Correction is a grammar verdict for one user message of a session.
type Correction struct {
	Position int
	Original string
	Result   speech.GrammarResult
}

// Session is a finished session ready for archiving.
type Session struct {
	ID          string
	Mode        string
	StartedAt   time.Time
	EndedAt     time.Time
	Messages    []speech.Message
	Corrections []Correction
}

type sessionRow struct {
	ID           string    `json:"id"`
	Mode         string    `json:"mode"`
	StartedAt    time.Time `json:"started_at"`
	EndedAt      time.Time `json:"ended_at"`
	MessageCount int       `json:"message_count"`
}

type messageRow struct {
	SessionID string `json:"session_id"`
	Position  int    `json:"position"`
	Role      string `json:"role"`
	Content   string `json:"content"`
}

type correctionRow struct {
	SessionID   string              `json:"session_id"`
	Position    int                 `json:"position"`
	Original    string              `json:"original"`
	Corrected   string              `json:"corrected"`
	Score       int                 `json:"score"`
	Suggestions []speech.Suggestion `json:"suggestions"`
}

// backend is the subset of the hosted client the store needs.
type backend interface {
	Insert(table string, rows any) error
	Upload(bucket, key string, data io.Reader) error
}

type supabaseBackend struct {
	client *supabase.Client
}

func (b supabaseBackend) Insert(table string, rows any) error {
	_, _, err := b.client.From(table).Insert(rows, false, "", "minimal", "").Execute()
	return err
}

func (b supabaseBackend) Upload(bucket, key string, data io.Reader) error {
	_, err := b.client.Storage.UploadFile(bucket, key, data)
	return err
}

// Store writes sessions, messages, corrections and recordings. A zero Store
// (or one built from an empty Config) silently discards everything.
type Store struct {
	db     backend
	bucket string
}

// New connects to the hosted backend. An empty URL or key yields a disabled store.
func New(cfg Config) (*Store, error) {
	if cfg.URL == "" || cfg.ServiceRoleKey == "" {
		log.Println("store: supabase not configured - sessions will not be archived")
		return &Store{}, nil
	}
	client, err := supabase.NewClient(cfg.URL, cfg.ServiceRoleKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create Supabase client: %w", err)
	}
	return &Store{db: supabaseBackend{client: client}, bucket: cfg.Bucket}, nil
}

// Enabled reports whether writes reach a backend.
func (s *Store) Enabled() bool { return s != nil && s.db != nil }

// ArchiveSession writes the session row followed by its messages and corrections.
func (s *Store) ArchiveSession(ctx context.Context, sess Session) error {
	if !s.Enabled() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.db.Insert(tableSessions, sessionRow{
		ID:           sess.ID,
		Mode:         sess.Mode,
		StartedAt:    sess.StartedAt.UTC(),
		EndedAt:      sess.EndedAt.UTC(),
		MessageCount: len(sess.Messages),
	}); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	if len(sess.Messages) > 0 {
		rows := make([]messageRow, len(sess.Messages))
		for i, m := range sess.Messages {
			rows[i] = messageRow{SessionID: sess.ID, Position: i, Role: string(m.Role), Content: m.Content}
		}
		if err := s.db.Insert(tableMessages, rows); err != nil {
			return fmt.Errorf("insert messages: %w", err)
		}
	}
	if len(sess.Corrections) > 0 {
		rows := make([]correctionRow, len(sess.Corrections))
		for i, c := range sess.Corrections {
			rows[i] = correctionRow{
				SessionID:   sess.ID,
				Position:    c.Position,
				Original:    c.Original,
				Corrected:   c.Result.Corrected,
				Score:       c.Result.Score,
				Suggestions: c.Result.Suggestions,
			}
		}
		if err := s.db.Insert(tableCorrections, rows); err != nil {
			return fmt.Errorf("insert corrections: %w", err)
		}
	}
	log.Printf("[%s] archived %d messages, %d corrections", sess.ID, len(sess.Messages), len(sess.Corrections))
	return nil
}

// UploadRecording stores a clip under sessions/<id>/<name>.
func (s *Store) UploadRecording(ctx context.Context, sessionID, name string, data []byte) error {
	if !s.Enabled() || s.bucket == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	key := fmt.Sprintf("sessions/%s/%s", sessionID, name)
	if err := s.db.Upload(s.bucket, key, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to upload to Supabase: %w", err)
	}
	return nil
}
