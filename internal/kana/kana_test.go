package kana

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config "github.com/avvvet/kana-services/configs"
	"github.com/avvvet/kana-services/internal/events"
	"github.com/avvvet/kana-services/internal/grading"
	"github.com/avvvet/kana-services/internal/idempotency"
	"github.com/avvvet/kana-services/internal/journal"
	"github.com/avvvet/kana-services/internal/ledger"
)

func memorySettings() *config.Settings {
	return &config.Settings{
		Service: config.ServiceSettings{Port: "8090", RateLimit: 10, JWTSecret: "secret"},
		Backend: config.BackendSettings{
			APIBaseURL:     "http://localhost:10000/api/kana",
			TournamentPath: "/api/tournaments",
		},
		HTTP: config.HTTPSettings{
			MaxAttempts:    1,
			AttemptTimeout: time.Second,
		},
		Journal: config.JournalSettings{Driver: "memory"},
		Keys:    config.KeySettings{Driver: "memory", TTL: time.Minute},
		Nats:    config.NatsSettings{Topic: "arena.service"},
		Match:   config.MatchSettings{Grading: "edit-distance"},
	}
}

func TestInitMemoryMode(t *testing.T) {
	k, err := Init(context.Background(), memorySettings(), nil)
	require.NoError(t, err)
	t.Cleanup(k.Dispose)

	assert.Equal(t, "http://localhost:10000/api/tournaments", k.Tournaments.BaseURL())
	assert.Equal(t, grading.NameEditDistance, k.Grading.Name())
	assert.IsType(t, &journal.MemoryStore{}, k.Journal)
	assert.IsType(t, &idempotency.MemoryStore{}, k.Keys)
	assert.IsType(t, events.Nop{}, k.Events)
	require.NotNil(t, k.Orchestrator)
	require.NotNil(t, k.Monitor)

	_, err = k.Ledger.GetBalance(context.Background(), "0x1111111111111111111111111111111111111111")
	assert.True(t, errors.Is(err, ledger.ErrNotInitialized))
}

func TestInitRejectsUnknownGrading(t *testing.T) {
	s := memorySettings()
	s.Match.Grading = "fuzzy"

	k, err := Init(context.Background(), s, nil)
	assert.Error(t, err)
	assert.Nil(t, k)
}

func TestInitFailsWhenRedisUnreachable(t *testing.T) {
	s := memorySettings()
	s.Keys.Driver = "redis"
	s.Keys.RedisAddr = "127.0.0.1:1"

	k, err := Init(context.Background(), s, nil)
	require.Error(t, err)
	assert.Nil(t, k)
	assert.Contains(t, err.Error(), "ping redis")
}

func TestDisposeIsSafeOnNil(t *testing.T) {
	var k *Kana
	assert.NotPanics(t, k.Dispose)
}
