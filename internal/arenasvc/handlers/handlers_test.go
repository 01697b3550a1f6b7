package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avvvet/kana-services/internal/journal"
	"github.com/avvvet/kana-services/internal/ledger"
	"github.com/avvvet/kana-services/internal/orchestrator"
	"github.com/avvvet/kana-services/internal/studymaterial"
	"github.com/avvvet/kana-services/internal/tournament"
	"github.com/avvvet/kana-services/internal/transport"
)

const (
	agentWallet = "0x1111111111111111111111111111111111111111"
	claimWallet = "0x2222222222222222222222222222222222222222"
)

type fakeFlows struct {
	mu      sync.Mutex
	forms   []orchestrator.CreateForm
	players []string
	// deadline the last join ran under
	deadline time.Time
	err      error
}

func (f *fakeFlows) CreateTournament(_ context.Context, form orchestrator.CreateForm) (*orchestrator.CreateResult, error) {
	f.mu.Lock()
	f.forms = append(f.forms, form)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &orchestrator.CreateResult{TournamentID: "t-1"}, nil
}

func (f *fakeFlows) JoinTournament(ctx context.Context, id, player string) (*orchestrator.JoinResult, error) {
	f.mu.Lock()
	f.players = append(f.players, player)
	f.deadline, _ = ctx.Deadline()
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &orchestrator.JoinResult{TournamentID: id, CurrentPlayers: 2, MaxPlayers: 4, Message: "joined"}, nil
}

func (f *fakeFlows) recorded() ([]orchestrator.CreateForm, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]orchestrator.CreateForm(nil), f.forms...), append([]string(nil), f.players...)
}

func (f *fakeFlows) StartTournament(_ context.Context, id, player string) (*tournament.StartResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &tournament.StartResponse{Success: true, Message: "started"}, nil
}

func (f *fakeFlows) RespondInvitation(_ context.Context, invitationID, player string, accept bool) (*tournament.InvitationReply, error) {
	if f.err != nil {
		return nil, f.err
	}
	resp := "declined"
	if accept {
		resp = "accepted"
	}
	return &tournament.InvitationReply{Success: true, Message: resp, Response: resp, InvitationID: invitationID}, nil
}

func (f *fakeFlows) StrandedFunds(context.Context) ([]journal.Entry, error) {
	return []journal.Entry{{ID: "e-1", Kind: journal.KindJoin, TxHash: "0xabc", Status: journal.StatusStranded}}, nil
}

type fakeTournaments struct {
	mu        sync.Mutex
	questions *tournament.MatchQuestions
	submitted []tournament.MatchSubmission
	err       error
}

func (f *fakeTournaments) List(context.Context, tournament.ListFilter) ([]tournament.Tournament, error) {
	return []tournament.Tournament{{ID: "t-1"}}, f.err
}

func (f *fakeTournaments) Get(_ context.Context, id string) (*tournament.Tournament, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &tournament.Tournament{ID: id}, nil
}

func (f *fakeTournaments) Mine(context.Context, string, tournament.Status, int) ([]tournament.UserTournament, error) {
	return nil, f.err
}

func (f *fakeTournaments) Invite(_ context.Context, id, inviter string, invited []string, message string) (*tournament.InviteResponse, error) {
	return &tournament.InviteResponse{Success: true, Message: fmt.Sprintf("%d invited", len(invited))}, f.err
}

func (f *fakeTournaments) Invitations(context.Context, string, tournament.InvitationStatus) ([]tournament.Invitation, error) {
	return nil, f.err
}

func (f *fakeTournaments) Bracket(context.Context, string) (*tournament.BracketView, error) {
	return &tournament.BracketView{}, f.err
}

func (f *fakeTournaments) Escrow(context.Context, string) (*tournament.Escrow, error) {
	return &tournament.Escrow{}, f.err
}

func (f *fakeTournaments) Transactions(context.Context, string) ([]tournament.EscrowTransaction, error) {
	return nil, f.err
}

func (f *fakeTournaments) MatchQuestions(context.Context, string, string) (*tournament.MatchQuestions, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.questions, nil
}

func (f *fakeTournaments) SubmitAnswers(_ context.Context, id, matchID string, sub tournament.MatchSubmission) (*tournament.SubmitResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, sub)
	return &tournament.SubmitResponse{
		Success:     true,
		Submission:  sub,
		MatchResult: &tournament.MatchResult{Winner: sub.UserAddress},
	}, nil
}

func (f *fakeTournaments) submissions() []tournament.MatchSubmission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tournament.MatchSubmission(nil), f.submitted...)
}

type fakeWallet struct {
	address string
	err     error
}

func (f fakeWallet) Wallet() string { return f.address }
func (f fakeWallet) Escrow() string { return "0x3333333333333333333333333333333333333333" }

func (f fakeWallet) TokenInfo(context.Context) (*ledger.TokenInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &ledger.TokenInfo{Name: "INK", Symbol: "INK", Decimals: 18, UserBalance: "250"}, nil
}

type fakeQuiz struct {
	mu    sync.Mutex
	count int
}

func (f *fakeQuiz) Generate(_ context.Context, topic string, _ tournament.Difficulty, n int) ([]tournament.QuizQuestion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count = n
	return make([]tournament.QuizQuestion, n), nil
}

type fakeLibrary struct {
	mu       sync.Mutex
	uploaded []string
	deleted  []string
}

func (f *fakeLibrary) List(context.Context) ([]studymaterial.Material, error) {
	return []studymaterial.Material{{ID: "m-1"}}, nil
}

func (f *fakeLibrary) Search(_ context.Context, q string) ([]studymaterial.Paper, error) {
	if q == "" {
		return nil, studymaterial.ErrQueryRequired
	}
	return []studymaterial.Paper{{Title: q}}, nil
}

func (f *fakeLibrary) Upload(_ context.Context, up studymaterial.Upload) (*studymaterial.Material, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploaded = append(f.uploaded, up.Filename)
	return &studymaterial.Material{ID: "m-2", OriginalFilename: up.Filename, Topic: up.Topic}, nil
}

func (f *fakeLibrary) SaveExternal(_ context.Context, p studymaterial.Paper) (*studymaterial.Material, error) {
	return &studymaterial.Material{ID: "m-3", OriginalFilename: p.Title}, nil
}

func (f *fakeLibrary) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeHealth struct {
	mu      sync.Mutex
	status  tournament.HealthStatus
	checked time.Time
	probes  int
}

func (f *fakeHealth) Last() (tournament.HealthStatus, time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, f.checked
}

func (f *fakeHealth) Probe(context.Context) tournament.HealthStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probes++
	return f.status
}

func (f *fakeHealth) set(status tournament.HealthStatus, checked time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status, f.checked = status, checked
}

func (f *fakeHealth) probeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.probes
}

type recordingEvents struct {
	mu    sync.Mutex
	types []string
}

func (r *recordingEvents) Publish(msgType string, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, msgType)
}

func (r *recordingEvents) published() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.types...)
}

type fixture struct {
	flows       *fakeFlows
	tournaments *fakeTournaments
	library     *fakeLibrary
	quiz        *fakeQuiz
	health      *fakeHealth
	events      *recordingEvents
	handler     *Handler
	server      *httptest.Server
	token       string
}

func newFixture(t *testing.T, wallet fakeWallet) *fixture {
	t.Helper()
	f := &fixture{
		flows:       &fakeFlows{},
		tournaments: &fakeTournaments{},
		library:     &fakeLibrary{},
		quiz:        &fakeQuiz{},
		health:      &fakeHealth{status: tournament.HealthStatus{Connected: true, Message: "backend connected: ok"}},
		events:      &recordingEvents{},
	}
	f.handler = NewHandler(Deps{
		Flows:       f.flows,
		Tournaments: f.tournaments,
		Wallet:      wallet,
		Quiz:        f.quiz,
		Library:     f.library,
		Health:      f.health,
		Events:      f.events,
		Instance:    "test-instance",
		Port:        "8090",
	})
	f.handler.InitAuth("test-secret")

	r := chi.NewRouter()
	f.handler.SetRoutes(r)
	f.server = httptest.NewServer(r)
	t.Cleanup(f.server.Close)

	token, err := f.handler.Token(map[string]interface{}{"address": claimWallet})
	require.NoError(t, err)
	f.token = token
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) (int, Response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+f.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var rsp Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rsp))
	return resp.StatusCode, rsp
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"validation", &orchestrator.ValidationError{Fields: map[string]string{"name": "required"}}, http.StatusBadRequest},
		{"insufficient", &ledger.InsufficientBalanceError{Have: decimal.NewFromInt(50), Need: decimal.NewFromInt(100)}, http.StatusPaymentRequired},
		{"not initialised", ledger.ErrNotInitialized, http.StatusServiceUnavailable},
		{"timeout", &transport.NetworkError{Kind: transport.KindTimeout}, http.StatusGatewayTimeout},
		{"refused", &transport.NetworkError{Kind: transport.KindConnectionRefused, Host: "localhost:10000"}, http.StatusBadGateway},
		{"canceled", &transport.NetworkError{Kind: transport.KindCanceled, Err: context.Canceled}, statusClientClosedRequest},
		{"tx failed", &ledger.TxError{Op: "transfer", Err: errors.New("reverted")}, http.StatusBadGateway},
		{"api passthrough", &transport.APIError{StatusCode: http.StatusForbidden, Message: "not the creator"}, http.StatusForbidden},
		{"wrapped api", fmt.Errorf("join: %w", &transport.APIError{StatusCode: http.StatusUnprocessableEntity}), http.StatusUnprocessableEntity},
		{"full", orchestrator.ErrTournamentFull, http.StatusConflict},
		{"not found", tournament.ErrNotFound, http.StatusNotFound},
		{"stranded", &orchestrator.StrandedError{TxHash: "0xabc", Err: &transport.NetworkError{Kind: transport.KindNetwork}}, http.StatusBadGateway},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, StatusFor(tc.err))
		})
	}
}

func TestSecureRoutesNeedToken(t *testing.T) {
	f := newFixture(t, fakeWallet{address: agentWallet})

	resp, err := http.Get(f.server.URL + "/v1/tournaments")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = http.Get(f.server.URL + "/v1/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHealthProbesBeforeFirstCheck(t *testing.T) {
	f := newFixture(t, fakeWallet{address: agentWallet})

	code, rsp := f.do(t, http.MethodGet, "/v1/health", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, f.health.probeCount())
	assert.Contains(t, rsp.Message, "8090")

	f.health.set(tournament.HealthStatus{Message: "connection failed"}, time.Now())
	code, _ = f.do(t, http.MethodGet, "/v1/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, 1, f.health.probeCount())
}

func TestCreateTournamentDefaultsCreatorToWallet(t *testing.T) {
	f := newFixture(t, fakeWallet{address: agentWallet})

	code, rsp := f.do(t, http.MethodPost, "/v1/tournaments", map[string]any{
		"name":                "Friday quiz",
		"max_players":         4,
		"questions_per_match": 10,
		"subject_category":    "history",
	})
	assert.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "tournament created", rsp.Message)
	forms, _ := f.flows.recorded()
	require.Len(t, forms, 1)
	assert.Equal(t, agentWallet, forms[0].CreatorAddress)
	assert.Equal(t, 4, forms[0].MaxPlayers)
}

func TestCreateTournamentValidationFields(t *testing.T) {
	f := newFixture(t, fakeWallet{address: agentWallet})
	f.flows.err = &orchestrator.ValidationError{Fields: map[string]string{"max_players": "must be one of 4 8 16 32 64"}}

	code, rsp := f.do(t, http.MethodPost, "/v1/tournaments", map[string]any{"name": "x", "max_players": 5})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, map[string]interface{}{"max_players": "must be one of 4 8 16 32 64"}, rsp.Data)
}

func TestCreateTournamentRejectsMalformedBody(t *testing.T) {
	f := newFixture(t, fakeWallet{address: agentWallet})

	req, err := http.NewRequest(http.MethodPost, f.server.URL+"/v1/tournaments", bytes.NewBufferString("{"))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+f.token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	forms, _ := f.flows.recorded()
	assert.Empty(t, forms)
}

func TestJoinInsufficientFunds(t *testing.T) {
	f := newFixture(t, fakeWallet{address: agentWallet})
	f.flows.err = &ledger.InsufficientBalanceError{
		Have:    decimal.NewFromInt(5),
		Need:    decimal.NewFromInt(10),
		Purpose: "entry fee",
	}

	code, rsp := f.do(t, http.MethodPost, "/v1/tournaments/t-1/join", nil)
	assert.Equal(t, http.StatusPaymentRequired, code)
	assert.Equal(t, "insufficient INK balance: you have 5 INK but need 10 INK for the entry fee", rsp.Error)
	_, players := f.flows.recorded()
	assert.Equal(t, []string{agentWallet}, players)
}

func TestStrandedJoinReturnsHash(t *testing.T) {
	f := newFixture(t, fakeWallet{address: agentWallet})
	f.flows.err = &orchestrator.StrandedError{
		TxHash: "0xfeed",
		Err:    &transport.APIError{StatusCode: http.StatusInternalServerError, Message: "db down"},
	}

	code, rsp := f.do(t, http.MethodPost, "/v1/tournaments/t-1/join", nil)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, map[string]interface{}{"transaction_hash": "0xfeed"}, rsp.Data)
}

func TestJoinOutlivesRequestTimeout(t *testing.T) {
	f := newFixture(t, fakeWallet{address: agentWallet})

	start := time.Now()
	code, _ := f.do(t, http.MethodPost, "/v1/tournaments/t-1/join", nil)
	require.Equal(t, http.StatusOK, code)

	f.flows.mu.Lock()
	deadline := f.flows.deadline
	f.flows.mu.Unlock()
	require.False(t, deadline.IsZero())
	assert.Greater(t, deadline.Sub(start), 2*time.Minute)
	assert.LessOrEqual(t, deadline.Sub(start), defaultFlowTimeout+time.Second)
}

func TestPlayerFallsBackToTokenClaim(t *testing.T) {
	f := newFixture(t, fakeWallet{address: zeroAddress})

	code, _ := f.do(t, http.MethodPost, "/v1/tournaments/t-1/join", nil)
	assert.Equal(t, http.StatusOK, code)
	_, players := f.flows.recorded()
	assert.Equal(t, []string{claimWallet}, players)
}

func TestRespondInvitation(t *testing.T) {
	f := newFixture(t, fakeWallet{address: agentWallet})

	code, rsp := f.do(t, http.MethodPost, "/v1/invitations/inv-1/respond", map[string]bool{"accept": true})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "accepted", rsp.Message)

	f.flows.err = orchestrator.ErrInvitationNotFound
	code, _ = f.do(t, http.MethodPost, "/v1/invitations/inv-2/respond", map[string]bool{"accept": false})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestInviteNeedsAddresses(t *testing.T) {
	f := newFixture(t, fakeWallet{address: agentWallet})

	code, _ := f.do(t, http.MethodPost, "/v1/tournaments/t-1/invite", map[string]any{"message": "join us"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, rsp := f.do(t, http.MethodPost, "/v1/tournaments/t-1/invite", map[string]any{
		"invited_addresses": []string{claimWallet},
	})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "1 invited", rsp.Message)
}

func TestBackendErrorsPassThrough(t *testing.T) {
	f := newFixture(t, fakeWallet{address: agentWallet})
	f.tournaments.err = &transport.NetworkError{Kind: transport.KindTimeout}

	code, rsp := f.do(t, http.MethodGet, "/v1/tournaments/t-1", nil)
	assert.Equal(t, http.StatusGatewayTimeout, code)
	assert.Equal(t, "request timeout, please check your connection and try again", rsp.Error)
}

func TestWalletInfoWithoutContract(t *testing.T) {
	f := newFixture(t, fakeWallet{address: zeroAddress, err: ledger.ErrNotInitialized})

	code, rsp := f.do(t, http.MethodGet, "/v1/wallet", nil)
	assert.Equal(t, http.StatusOK, code)
	data := rsp.Data.(map[string]interface{})
	assert.Equal(t, ledger.ErrNotInitialized.Error(), data["error"])
	assert.Nil(t, data["token"])
}

func TestStrandedFundsListed(t *testing.T) {
	f := newFixture(t, fakeWallet{address: agentWallet})

	code, rsp := f.do(t, http.MethodGet, "/v1/wallet/stranded", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, rsp.Data, 1)
}

func TestDailyQuizCount(t *testing.T) {
	f := newFixture(t, fakeWallet{address: agentWallet})

	code, _ := f.do(t, http.MethodGet, "/v1/quiz/daily?count=20", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, rsp := f.do(t, http.MethodGet, "/v1/quiz/daily?topic=physics&count=3", nil)
	assert.Equal(t, http.StatusOK, code)
	f.quiz.mu.Lock()
	assert.Equal(t, 3, f.quiz.count)
	f.quiz.mu.Unlock()
	assert.Len(t, rsp.Data, 3)
}

func TestLibrary(t *testing.T) {
	f := newFixture(t, fakeWallet{address: agentWallet})

	code, _ := f.do(t, http.MethodGet, "/v1/library/search", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodGet, "/v1/library/search?q=graph+theory", nil)
	assert.Equal(t, http.StatusOK, code)

	code, _ = f.do(t, http.MethodPost, "/v1/library/external", map[string]any{"title": "On Graphs", "coreId": "42"})
	assert.Equal(t, http.StatusCreated, code)

	code, _ = f.do(t, http.MethodDelete, "/v1/library/m-1", nil)
	assert.Equal(t, http.StatusOK, code)
	f.library.mu.Lock()
	assert.Equal(t, []string{"m-1"}, f.library.deleted)
	f.library.mu.Unlock()
}
