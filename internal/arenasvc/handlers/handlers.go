package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/jwtauth"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/avvvet/kana-services/internal/events"
	"github.com/avvvet/kana-services/internal/grading"
	"github.com/avvvet/kana-services/internal/journal"
	"github.com/avvvet/kana-services/internal/ledger"
	"github.com/avvvet/kana-services/internal/metrics"
	"github.com/avvvet/kana-services/internal/orchestrator"
	"github.com/avvvet/kana-services/internal/questions"
	"github.com/avvvet/kana-services/internal/studymaterial"
	"github.com/avvvet/kana-services/internal/tournament"
	"github.com/avvvet/kana-services/internal/transport"
)

type Flows interface {
	CreateTournament(ctx context.Context, form orchestrator.CreateForm) (*orchestrator.CreateResult, error)
	JoinTournament(ctx context.Context, id, player string) (*orchestrator.JoinResult, error)
	StartTournament(ctx context.Context, id, player string) (*tournament.StartResponse, error)
	RespondInvitation(ctx context.Context, invitationID, player string, accept bool) (*tournament.InvitationReply, error)
	StrandedFunds(ctx context.Context) ([]journal.Entry, error)
}

// Tournaments is the read side of the tournament API plus the match calls
// the websocket session needs.
type Tournaments interface {
	List(ctx context.Context, filter tournament.ListFilter) ([]tournament.Tournament, error)
	Get(ctx context.Context, id string) (*tournament.Tournament, error)
	Mine(ctx context.Context, address string, status tournament.Status, limit int) ([]tournament.UserTournament, error)
	Invite(ctx context.Context, id, inviter string, invited []string, message string) (*tournament.InviteResponse, error)
	Invitations(ctx context.Context, address string, status tournament.InvitationStatus) ([]tournament.Invitation, error)
	Bracket(ctx context.Context, id string) (*tournament.BracketView, error)
	Escrow(ctx context.Context, id string) (*tournament.Escrow, error)
	Transactions(ctx context.Context, id string) ([]tournament.EscrowTransaction, error)
	MatchQuestions(ctx context.Context, id, matchID string) (*tournament.MatchQuestions, error)
	SubmitAnswers(ctx context.Context, id, matchID string, sub tournament.MatchSubmission) (*tournament.SubmitResponse, error)
}

type Wallet interface {
	Wallet() string
	Escrow() string
	TokenInfo(ctx context.Context) (*ledger.TokenInfo, error)
}

type Quiz interface {
	Generate(ctx context.Context, topic string, difficulty tournament.Difficulty, n int) ([]tournament.QuizQuestion, error)
}

type Library interface {
	List(ctx context.Context) ([]studymaterial.Material, error)
	Search(ctx context.Context, query string) ([]studymaterial.Paper, error)
	Upload(ctx context.Context, up studymaterial.Upload) (*studymaterial.Material, error)
	SaveExternal(ctx context.Context, p studymaterial.Paper) (*studymaterial.Material, error)
	Delete(ctx context.Context, id string) error
}

type Health interface {
	Last() (tournament.HealthStatus, time.Time)
	Probe(ctx context.Context) tournament.HealthStatus
}

// Deps is everything the agent API serves from. Metrics and Events may be
// nil.
type Deps struct {
	Flows           Flows
	Tournaments     Tournaments
	Wallet          Wallet
	Quiz            Quiz
	Library         Library
	Health          Health
	Metrics         *metrics.Metrics
	Events          events.Publisher
	Grading         grading.Strategy
	QuestionSeconds int
	// FlowTimeout bounds a paid flow, which keeps running after the client
	// hangs up.
	FlowTimeout time.Duration
	Instance    string
	Port        string
}

const defaultFlowTimeout = 5 * time.Minute

// statusClientClosedRequest is the nginx convention for a request the
// client abandoned.
const statusClientClosedRequest = 499

type Handler struct {
	Deps
	tokenAuth *jwtauth.JWTAuth
	upgrader  websocket.Upgrader
}

func NewHandler(d Deps) *Handler {
	if d.Events == nil {
		d.Events = events.Nop{}
	}
	if d.Grading == nil {
		d.Grading = grading.Substring{}
	}
	if d.FlowTimeout <= 0 {
		d.FlowTimeout = defaultFlowTimeout
	}
	return &Handler{
		Deps: d,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type Response struct {
	Message string      `json:"message"`
	Code    int         `json:"code"`
	Data    interface{} `json:"data"`
	Error   string      `json:"error"`
}

func (h *Handler) CreateResponse(w http.ResponseWriter, rsp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(rsp.Code)
	if err := json.NewEncoder(w).Encode(rsp); err != nil {
		log.Errorf("Failed to encode response: %v", err)
	}
}

func (h *Handler) ok(w http.ResponseWriter, message string, data interface{}) {
	h.CreateResponse(w, Response{Message: message, Code: http.StatusOK, Data: data})
}

func (h *Handler) badRequest(w http.ResponseWriter, message string) {
	h.CreateResponse(w, Response{Message: message, Code: http.StatusBadRequest, Error: message})
}

// Fail maps err onto a status code and writes it. Anything unrecognised is a
// 500 and gets logged.
func (h *Handler) Fail(w http.ResponseWriter, message string, err error) {
	rsp := Response{Message: message, Code: StatusFor(err), Error: err.Error()}

	var verr *orchestrator.ValidationError
	var stranded *orchestrator.StrandedError
	switch {
	case errors.As(err, &verr):
		rsp.Data = verr.Fields
	case errors.As(err, &stranded):
		rsp.Data = map[string]string{"transaction_hash": stranded.TxHash}
	}

	if rsp.Code >= http.StatusInternalServerError {
		log.Errorf("%s: %v", message, err)
	} else {
		log.Warnf("%s: %v", message, err)
	}
	h.CreateResponse(w, rsp)
}

func StatusFor(err error) int {
	var apiErr *transport.APIError
	switch {
	case errors.Is(err, orchestrator.ErrValidation),
		errors.Is(err, tournament.ErrAddressRequired),
		errors.Is(err, tournament.ErrTournamentRequired),
		errors.Is(err, studymaterial.ErrQueryRequired):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, ledger.ErrNotInitialized):
		return http.StatusServiceUnavailable
	case errors.Is(err, tournament.ErrNotFound),
		errors.Is(err, orchestrator.ErrInvitationNotFound):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrTournamentFull),
		errors.Is(err, orchestrator.ErrRegistrationClosed),
		errors.Is(err, orchestrator.ErrAlreadyJoined),
		errors.Is(err, orchestrator.ErrNotEnoughPlayers):
		return http.StatusConflict
	case errors.Is(err, transport.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, transport.ErrCanceled):
		return statusClientClosedRequest
	case errors.Is(err, transport.ErrConnectionRefused),
		errors.Is(err, transport.ErrNetwork),
		errors.Is(err, ledger.ErrTransactionFailed),
		errors.Is(err, questions.ErrInvalidQuiz):
		return http.StatusBadGateway
	case errors.As(err, &apiErr) && apiErr.StatusCode >= 400:
		return apiErr.StatusCode
	}
	return http.StatusInternalServerError
}

// flowContext detaches a paid flow from its request: a transfer that was
// broadcast must be followed to its receipt even if the client hangs up.
func (h *Handler) flowContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(r.Context()), h.FlowTimeout)
}

// player is the address flows act for: the agent wallet, or the token's
// address claim when the agent runs without a signing key.
func (h *Handler) player(r *http.Request) string {
	if h.Wallet != nil {
		if w := h.Wallet.Wallet(); w != "" && w != zeroAddress {
			return w
		}
	}
	_, claims, err := jwtauth.FromContext(r.Context())
	if err != nil || claims == nil {
		return ""
	}
	addr, _ := claims["address"].(string)
	return tournament.NormalizeAddress(addr)
}

const zeroAddress = "0x0000000000000000000000000000000000000000"

func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	status, checked := h.Health.Last()
	if checked.IsZero() {
		status = h.Health.Probe(r.Context())
		checked = time.Now()
	}

	code := http.StatusOK
	if !status.Connected {
		code = http.StatusServiceUnavailable
	}
	h.CreateResponse(w, Response{
		Message: "arena service is running at port " + h.Port,
		Code:    code,
		Data: map[string]interface{}{
			"backend":    status,
			"checked_at": checked.UTC().Format(time.RFC3339),
			"instance":   h.Instance,
		},
	})
}
