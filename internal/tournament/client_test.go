package tournament

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avvvet/kana-services/internal/transport"
)

type recorded struct {
	Method string
	Path   string
	Query  string
	Key    string
	Body   map[string]any
}

type fakeBackend struct {
	mu       sync.Mutex
	requests []recorded
	routes   map[string]func(w http.ResponseWriter, r *http.Request)
}

func newFakeBackend(t *testing.T) (*fakeBackend, *Client) {
	t.Helper()
	fb := &fakeBackend{routes: map[string]func(http.ResponseWriter, *http.Request){}}
	srv := httptest.NewServer(http.HandlerFunc(fb.serve))
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL+"/api/tournaments", transport.NewRequester(transport.DefaultConfig()))
	return fb, client
}

func (fb *fakeBackend) handle(method, path string, status int, body any) {
	fb.routes[method+" "+path] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}

func (fb *fakeBackend) serve(w http.ResponseWriter, r *http.Request) {
	rec := recorded{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
		Key:    r.Header.Get(transport.IdempotencyHeader),
	}
	raw, _ := io.ReadAll(r.Body)
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &rec.Body)
	}
	fb.mu.Lock()
	fb.requests = append(fb.requests, rec)
	fb.mu.Unlock()

	h, ok := fb.routes[r.Method+" "+r.URL.Path]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"route not found"}`))
		return
	}
	h(w, r)
}

func (fb *fakeBackend) last() recorded {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.requests[len(fb.requests)-1]
}

func sampleTournament() Tournament {
	return Tournament{
		ID:                "t-1",
		Name:              "Friday Physics",
		CreatorAddress:    "0xabc",
		MaxPlayers:        8,
		CurrentPlayers:    3,
		EntryFee:          5,
		QuestionsPerMatch: 10,
		TimeLimitMinutes:  30,
		DifficultyLevel:   DifficultyMedium,
		SubjectCategory:   "physics",
		Status:            StatusRegistration,
		IsPublic:          true,
		Participants:      []string{"0xabc", "0xdef", "0x123"},
	}
}

func TestCreateOmitsHashWhenFree(t *testing.T) {
	fb, client := newFakeBackend(t)
	fb.handle(http.MethodPost, "/api/tournaments/create", http.StatusCreated, map[string]any{
		"success":       true,
		"tournament_id": "t-9",
		"tournament":    sampleTournament(),
	})

	resp, err := client.Create(context.Background(), CreateRequest{
		Name:              "Friday Physics",
		CreatorAddress:    "  0xABCDEF  ",
		MaxPlayers:        8,
		QuestionsPerMatch: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, "t-9", resp.TournamentID)
	assert.Empty(t, resp.TransactionHash)

	req := fb.last()
	assert.Equal(t, "0xabcdef", req.Body["creator_address"])
	assert.NotContains(t, req.Body, "ink_transaction_hash")
	assert.NotEmpty(t, req.Key)
}

func TestCreateCarriesTransactionHash(t *testing.T) {
	fb, client := newFakeBackend(t)
	fb.handle(http.MethodPost, "/api/tournaments/create", http.StatusCreated, map[string]any{
		"success":       true,
		"tournament_id": "t-9",
	})

	hash := "0xfeed"
	ctx := WithIdempotencyKey(context.Background(), "create:fixed")
	resp, err := client.Create(ctx, CreateRequest{Name: "Paid", CreatorAddress: "0xabc", PrizePool: 100, InkTransactionHash: &hash})
	require.NoError(t, err)
	assert.Equal(t, "0xfeed", resp.TransactionHash)

	req := fb.last()
	assert.Equal(t, "0xfeed", req.Body["ink_transaction_hash"])
	assert.Equal(t, "create:fixed", req.Key)
}

func TestGetIsStable(t *testing.T) {
	fb, client := newFakeBackend(t)
	fb.handle(http.MethodGet, "/api/tournaments/t-1", http.StatusOK, map[string]any{
		"success":    true,
		"tournament": sampleTournament(),
	})

	first, err := client.Get(context.Background(), "t-1")
	require.NoError(t, err)
	second, err := client.Get(context.Background(), "t-1")
	require.NoError(t, err)

	assert.Equal(t, first.CurrentPlayers, second.CurrentPlayers)
	assert.Equal(t, first.Status, second.Status)
	assert.Empty(t, fb.last().Key, "reads carry no idempotency key")
}

func TestGetRequiresID(t *testing.T) {
	_, client := newFakeBackend(t)
	_, err := client.Get(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrTournamentRequired)
}

func TestGetSurfacesBackendError(t *testing.T) {
	fb, client := newFakeBackend(t)
	fb.handle(http.MethodGet, "/api/tournaments/missing", http.StatusNotFound, map[string]any{"error": "Tournament not found"})

	_, err := client.Get(context.Background(), "missing")
	var apiErr *transport.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "Tournament not found", apiErr.Message)
}

func TestJoinNormalizesAddress(t *testing.T) {
	fb, client := newFakeBackend(t)
	fb.handle(http.MethodPost, "/api/tournaments/t-1/join", http.StatusOK, map[string]any{
		"success":         true,
		"message":         "joined",
		"current_players": 4,
	})

	resp, err := client.Join(context.Background(), "t-1", JoinRequest{UserAddress: " 0xDeadBeef "})
	require.NoError(t, err)
	assert.Equal(t, 4, resp.CurrentPlayers)

	req := fb.last()
	assert.Equal(t, "0xdeadbeef", req.Body["user_address"])
	assert.NotContains(t, req.Body, "ink_transaction_hash")
}

func TestJoinRejectsBlankAddress(t *testing.T) {
	_, client := newFakeBackend(t)
	_, err := client.Join(context.Background(), "t-1", JoinRequest{UserAddress: "   "})
	assert.ErrorIs(t, err, ErrAddressRequired)
}

func TestListEncodesFilter(t *testing.T) {
	fb, client := newFakeBackend(t)
	fb.handle(http.MethodGet, "/api/tournaments", http.StatusOK, map[string]any{
		"success":     true,
		"tournaments": []Tournament{sampleTournament()},
	})

	public := true
	list, err := client.List(context.Background(), ListFilter{Status: StatusRegistration, CreatorAddress: "0xABC", IsPublic: &public, Limit: 20})
	require.NoError(t, err)
	require.Len(t, list, 1)

	assert.Equal(t, "creator_address=0xabc&is_public=true&limit=20&status=registration", fb.last().Query)
}

func TestMineUsesNormalizedPath(t *testing.T) {
	fb, client := newFakeBackend(t)
	fb.handle(http.MethodGet, "/api/tournaments/my/0xabc", http.StatusOK, map[string]any{
		"success": true,
		"tournaments": []map[string]any{
			{"id": "t-1", "name": "mine", "user_role": "creator", "is_creator": true},
		},
	})

	list, err := client.Mine(context.Background(), " 0xABC", StatusActive, 5)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].IsCreator)
	assert.Equal(t, "t-1", list[0].ID)
	assert.Equal(t, "limit=5&status=active", fb.last().Query)
}

func TestInvitationsDefaultToPending(t *testing.T) {
	fb, client := newFakeBackend(t)
	fb.handle(http.MethodGet, "/api/tournaments/invitations/0xabc", http.StatusOK, map[string]any{
		"success":     true,
		"invitations": []Invitation{{ID: "inv-1", TournamentID: "t-1", Status: InvitationPending}},
	})

	invs, err := client.Invitations(context.Background(), "0xABC", "")
	require.NoError(t, err)
	require.Len(t, invs, 1)
	assert.Equal(t, "status=pending", fb.last().Query)
}

func TestRespondInvitation(t *testing.T) {
	fb, client := newFakeBackend(t)
	fb.handle(http.MethodPost, "/api/tournaments/invitations/inv-1/respond", http.StatusOK, map[string]any{
		"success":         true,
		"response":        "accept",
		"invitation_id":   "inv-1",
		"tournament_id":   "t-1",
		"joined":          true,
		"current_players": 5,
	})

	reply, err := client.RespondInvitation(context.Background(), "inv-1", "0xABC", true, nil)
	require.NoError(t, err)
	assert.True(t, reply.Joined)
	assert.Equal(t, "accept", fb.last().Body["response"])
	assert.Equal(t, "0xabc", fb.last().Body["user_address"])
	assert.NotContains(t, fb.last().Body, "ink_transaction_hash")

	hash := "0xfee"
	_, err = client.RespondInvitation(context.Background(), "inv-1", "0xABC", true, &hash)
	require.NoError(t, err)
	assert.Equal(t, "0xfee", fb.last().Body["ink_transaction_hash"])

	_, err = client.RespondInvitation(context.Background(), "inv-1", "0xABC", false, &hash)
	require.NoError(t, err)
	assert.Equal(t, "decline", fb.last().Body["response"])
	assert.NotContains(t, fb.last().Body, "ink_transaction_hash")
}

func TestSubmitAnswersPostsSubmission(t *testing.T) {
	fb, client := newFakeBackend(t)
	fb.handle(http.MethodPost, "/api/tournaments/t-1/matches/m-1/submit", http.StatusOK, map[string]any{
		"success":      true,
		"submission":   map[string]any{"user_address": "0xabc", "score": 1, "correct_answers": 1, "total_questions": 1},
		"match_result": map[string]any{"winner": "0xabc"},
	})

	resp, err := client.SubmitAnswers(context.Background(), "t-1", "m-1", MatchSubmission{
		UserAddress:      "0xABC",
		Answers:          []string{"A"},
		CompletionTimeMs: 4200,
	})
	require.NoError(t, err)
	require.NotNil(t, resp.MatchResult)
	assert.Equal(t, "0xabc", resp.MatchResult.Winner)

	req := fb.last()
	assert.Equal(t, []any{"A"}, req.Body["answers"])
	assert.EqualValues(t, 4200, req.Body["completion_time_ms"])
	assert.NotEmpty(t, req.Key)
}

func TestEscrowAndTransactions(t *testing.T) {
	fb, client := newFakeBackend(t)
	fb.handle(http.MethodGet, "/api/tournaments/t-1/escrow", http.StatusOK, map[string]any{
		"success": true,
		"escrow":  Escrow{TotalPrizePool: 100, TotalEntryFees: 15, ParticipantsPaid: 3, Status: "held"},
	})
	fb.handle(http.MethodGet, "/api/tournaments/t-1/transactions", http.StatusOK, map[string]any{
		"success":      true,
		"transactions": []EscrowTransaction{{UserAddress: "0xabc", TransactionType: "entry_fee", Amount: 5, TransactionHash: "0x1"}},
	})

	escrow, err := client.Escrow(context.Background(), "t-1")
	require.NoError(t, err)
	assert.Equal(t, 100.0, escrow.TotalPrizePool)

	txs, err := client.Transactions(context.Background(), "t-1")
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "entry_fee", txs[0].TransactionType)
}

func TestHealth(t *testing.T) {
	fb, client := newFakeBackend(t)

	status := client.Health(context.Background())
	assert.False(t, status.Connected)
	assert.Contains(t, status.Message, "404")

	fb.handle(http.MethodGet, "/api/tournaments/debug/test", http.StatusOK, map[string]any{"message": "ok"})
	status = client.Health(context.Background())
	assert.True(t, status.Connected)
	assert.Equal(t, "backend connected: ok", status.Message)
}
