// Package journal keeps a client-side audit trail of the escrow transfers
// this agent made. It is never the source of truth for balances; it exists so
// funds moved into escrow for a create or join that then failed can be found
// again.
package journal

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindCreate Kind = "create"
	KindJoin   Kind = "join"
	KindInvite Kind = "invitation"
)

type Status string

const (
	// StatusTransferred: tokens left the wallet, backend not yet told.
	StatusTransferred Status = "transferred"
	StatusSettled     Status = "settled"
	// StatusStranded: the backend call after the transfer failed.
	StatusStranded Status = "stranded"
)

var ErrEntryNotFound = errors.New("journal entry not found")

type Entry struct {
	ID           string          `json:"id"`
	Kind         Kind            `json:"kind"`
	TournamentID string          `json:"tournament_id"`
	Wallet       string          `json:"wallet"`
	Amount       decimal.Decimal `json:"amount"`
	TxHash       string          `json:"tx_hash"`
	Scope        string          `json:"scope,omitempty"`
	Status       Status          `json:"status"`
	Note         string          `json:"note,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type Store interface {
	// Record stores e as transferred and returns it with ID and timestamps set.
	Record(ctx context.Context, e Entry) (*Entry, error)
	// MarkSettled closes an entry once the backend accepted the hash. The
	// tournament id is filled in for creates, where it is only known now.
	MarkSettled(ctx context.Context, id, tournamentID string) error
	MarkStranded(ctx context.Context, id, reason string) error
	// Stranded lists stranded entries for wallet, newest first.
	Stranded(ctx context.Context, wallet string) ([]Entry, error)
	// Resume returns the newest stranded entry recorded under scope, or
	// ErrEntryNotFound.
	Resume(ctx context.Context, scope string) (*Entry, error)
	Close()
}

func prepare(e Entry, now time.Time) Entry {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.Wallet = strings.ToLower(strings.TrimSpace(e.Wallet))
	e.Status = StatusTransferred
	e.CreatedAt = now
	e.UpdatedAt = now
	return e
}

// MemoryStore is the default store; it forgets everything on restart.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*Entry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*Entry), now: time.Now}
}

func (m *MemoryStore) Record(_ context.Context, e Entry) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := prepare(e, m.now().UTC())
	m.entries[stored.ID] = &stored
	out := stored
	return &out, nil
}

func (m *MemoryStore) update(id string, fn func(*Entry)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return ErrEntryNotFound
	}
	fn(e)
	e.UpdatedAt = m.now().UTC()
	return nil
}

func (m *MemoryStore) MarkSettled(_ context.Context, id, tournamentID string) error {
	return m.update(id, func(e *Entry) {
		e.Status = StatusSettled
		if tournamentID != "" {
			e.TournamentID = tournamentID
		}
	})
}

func (m *MemoryStore) MarkStranded(_ context.Context, id, reason string) error {
	return m.update(id, func(e *Entry) {
		e.Status = StatusStranded
		e.Note = reason
	})
}

func (m *MemoryStore) Stranded(_ context.Context, wallet string) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	wallet = strings.ToLower(strings.TrimSpace(wallet))
	var out []Entry
	for _, e := range m.entries {
		if e.Status == StatusStranded && e.Wallet == wallet {
			out = append(out, *e)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (m *MemoryStore) Resume(_ context.Context, scope string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var found *Entry
	for _, e := range m.entries {
		if e.Status != StatusStranded || e.Scope != scope {
			continue
		}
		if found == nil || e.CreatedAt.After(found.CreatedAt) {
			found = e
		}
	}
	if found == nil {
		return nil, ErrEntryNotFound
	}
	out := *found
	return &out, nil
}

func (m *MemoryStore) Close() {}

func sortNewestFirst(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
}
