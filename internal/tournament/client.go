package tournament

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/avvvet/kana-services/internal/transport"
)

var (
	ErrAddressRequired    = errors.New("user address is required")
	ErrTournamentRequired = errors.New("tournament id is required")
	ErrNotFound           = errors.New("tournament not found")
)

type keyCtx struct{}

// WithIdempotencyKey pins the key the next mutating call sends. Without it
// every call gets a fresh key, reused only across that call's retries.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, keyCtx{}, key)
}

// PinnedIdempotencyKey returns the key pinned on ctx, or "".
func PinnedIdempotencyKey(ctx context.Context) string {
	key, _ := ctx.Value(keyCtx{}).(string)
	return key
}

func idempotencyKey(ctx context.Context) string {
	if key := PinnedIdempotencyKey(ctx); key != "" {
		return key
	}
	return uuid.NewString()
}

type CreateRequest struct {
	Name               string     `json:"name"`
	Description        string     `json:"description"`
	CreatorAddress     string     `json:"creator_address"`
	MaxPlayers         int        `json:"max_players"`
	EntryFee           float64    `json:"entry_fee"`
	PrizePool          float64    `json:"prize_pool"`
	BracketType        string     `json:"bracket_type"`
	QuestionsPerMatch  int        `json:"questions_per_match"`
	TimeLimitMinutes   int        `json:"time_limit_minutes"`
	DifficultyLevel    Difficulty `json:"difficulty_level"`
	SubjectCategory    string     `json:"subject_category"`
	CustomTopics       []string   `json:"custom_topics"`
	IsPublic           bool       `json:"is_public"`
	InkTransactionHash *string    `json:"ink_transaction_hash,omitempty"`
}

type CreateResponse struct {
	Success         bool       `json:"success"`
	TournamentID    string     `json:"tournament_id"`
	Tournament      Tournament `json:"tournament"`
	TransactionHash string     `json:"transaction_hash,omitempty"`
}

type ListFilter struct {
	Status         Status
	CreatorAddress string
	IsPublic       *bool
	Limit          int
}

func (f ListFilter) query() url.Values {
	q := url.Values{}
	if f.Status != "" {
		q.Set("status", string(f.Status))
	}
	if f.CreatorAddress != "" {
		q.Set("creator_address", NormalizeAddress(f.CreatorAddress))
	}
	if f.IsPublic != nil {
		q.Set("is_public", strconv.FormatBool(*f.IsPublic))
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	return q
}

type JoinRequest struct {
	UserAddress        string  `json:"user_address"`
	InkTransactionHash *string `json:"ink_transaction_hash,omitempty"`
}

type JoinResponse struct {
	Success         bool   `json:"success"`
	Message         string `json:"message"`
	CurrentPlayers  int    `json:"current_players"`
	TransactionHash string `json:"transaction_hash,omitempty"`
}

type StartResponse struct {
	Success bool    `json:"success"`
	Message string  `json:"message"`
	Bracket Bracket `json:"bracket"`
}

type InviteOutcome struct {
	Address string `json:"address"`
	Status  string `json:"status,omitempty"`
	Error   string `json:"error,omitempty"`
}

type InviteResponse struct {
	Success bool            `json:"success"`
	Invited []InviteOutcome `json:"invited"`
	Errors  []InviteOutcome `json:"errors"`
	Message string          `json:"message"`
}

type InvitationReply struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	Response       string `json:"response"`
	InvitationID   string `json:"invitation_id"`
	TournamentID   string `json:"tournament_id"`
	Joined         bool   `json:"joined,omitempty"`
	CurrentPlayers int    `json:"current_players,omitempty"`
}

type MatchQuestions struct {
	Success          bool           `json:"success"`
	Questions        []QuizQuestion `json:"questions"`
	ExpiresAt        string         `json:"expires_at"`
	TimeLimitMinutes int            `json:"time_limit_minutes"`
}

type FinalScore struct {
	UserAddress      string  `json:"user_address"`
	Score            float64 `json:"score"`
	CompletionTimeMs int64   `json:"completion_time_ms"`
}

type MatchResult struct {
	Winner      string       `json:"winner"`
	FinalScores []FinalScore `json:"final_scores"`
}

type SubmitResponse struct {
	Success     bool            `json:"success"`
	Submission  MatchSubmission `json:"submission"`
	MatchResult *MatchResult    `json:"match_result,omitempty"`
}

// BracketView is GET /:id/bracket. The bracket document itself is passed
// through untouched.
type BracketView struct {
	Bracket          json.RawMessage `json:"bracket"`
	Matches          []Match         `json:"matches"`
	TournamentStatus Status          `json:"tournament_status"`
}

type HealthStatus struct {
	Connected bool   `json:"connected"`
	Message   string `json:"message"`
}

// Client talks to the tournament REST API. Every call goes through the shared
// requester; mutating calls carry an Idempotency-Key.
type Client struct {
	baseURL   string
	requester *transport.Requester
}

func NewClient(baseURL string, requester *transport.Requester) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		requester: requester,
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) Create(ctx context.Context, req CreateRequest) (*CreateResponse, error) {
	req.CreatorAddress = NormalizeAddress(req.CreatorAddress)

	var out CreateResponse
	if err := c.mutate(ctx, "tournament.create", "/create", req, "create tournament", &out); err != nil {
		return nil, err
	}
	if req.InkTransactionHash != nil && out.TransactionHash == "" {
		out.TransactionHash = *req.InkTransactionHash
	}
	return &out, nil
}

func (c *Client) List(ctx context.Context, filter ListFilter) ([]Tournament, error) {
	var out struct {
		Tournaments []Tournament `json:"tournaments"`
	}
	path := ""
	if q := filter.query(); len(q) > 0 {
		path = "?" + q.Encode()
	}
	if err := c.fetch(ctx, "tournament.list", path, "fetch tournaments", &out); err != nil {
		return nil, err
	}
	return out.Tournaments, nil
}

func (c *Client) Get(ctx context.Context, id string) (*Tournament, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrTournamentRequired
	}
	var out struct {
		Success    bool        `json:"success"`
		Tournament *Tournament `json:"tournament"`
	}
	if err := c.fetch(ctx, "tournament.get", "/"+url.PathEscape(id), "get tournament", &out); err != nil {
		return nil, err
	}
	if out.Tournament == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return out.Tournament, nil
}

// Mine lists tournaments the address created or joined.
func (c *Client) Mine(ctx context.Context, address string, status Status, limit int) ([]UserTournament, error) {
	addr := NormalizeAddress(address)
	if addr == "" {
		return nil, ErrAddressRequired
	}
	q := url.Values{}
	if status != "" {
		q.Set("status", string(status))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/my/" + url.PathEscape(addr)
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out struct {
		Tournaments []UserTournament `json:"tournaments"`
	}
	if err := c.fetch(ctx, "tournament.mine", path, "get my tournaments", &out); err != nil {
		return nil, err
	}
	return out.Tournaments, nil
}

func (c *Client) Join(ctx context.Context, id string, req JoinRequest) (*JoinResponse, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrTournamentRequired
	}
	req.UserAddress = NormalizeAddress(req.UserAddress)
	if req.UserAddress == "" {
		return nil, ErrAddressRequired
	}

	var out JoinResponse
	if err := c.mutate(ctx, "tournament.join", "/"+url.PathEscape(id)+"/join", req, "join tournament", &out); err != nil {
		return nil, err
	}
	if req.InkTransactionHash != nil && out.TransactionHash == "" {
		out.TransactionHash = *req.InkTransactionHash
	}
	return &out, nil
}

func (c *Client) Start(ctx context.Context, id, userAddress string) (*StartResponse, error) {
	body := map[string]string{"user_address": NormalizeAddress(userAddress)}
	var out StartResponse
	if err := c.mutate(ctx, "tournament.start", "/"+url.PathEscape(id)+"/start", body, "start tournament", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Invite(ctx context.Context, id, inviter string, invited []string, message string) (*InviteResponse, error) {
	addrs := make([]string, 0, len(invited))
	for _, a := range invited {
		if n := NormalizeAddress(a); n != "" {
			addrs = append(addrs, n)
		}
	}
	body := map[string]any{
		"inviter_address":   NormalizeAddress(inviter),
		"invited_addresses": addrs,
		"message":           message,
	}
	var out InviteResponse
	if err := c.mutate(ctx, "tournament.invite", "/"+url.PathEscape(id)+"/invite", body, "send invitations", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Invitations(ctx context.Context, address string, status InvitationStatus) ([]Invitation, error) {
	addr := NormalizeAddress(address)
	if addr == "" {
		return nil, ErrAddressRequired
	}
	if status == "" {
		status = InvitationPending
	}
	var out struct {
		Invitations []Invitation `json:"invitations"`
	}
	path := "/invitations/" + url.PathEscape(addr) + "?status=" + url.QueryEscape(string(status))
	if err := c.fetch(ctx, "tournament.invitations", path, "get invitations", &out); err != nil {
		return nil, err
	}
	return out.Invitations, nil
}

// RespondInvitation accepts or declines. txHash is the escrow transfer made
// for a paid tournament and is only sent when accepting.
func (c *Client) RespondInvitation(ctx context.Context, invitationID, address string, accept bool, txHash *string) (*InvitationReply, error) {
	response := "decline"
	if accept {
		response = "accept"
	}
	body := map[string]any{
		"user_address": NormalizeAddress(address),
		"response":     response,
	}
	if accept && txHash != nil {
		body["ink_transaction_hash"] = *txHash
	}
	var out InvitationReply
	path := "/invitations/" + url.PathEscape(invitationID) + "/respond"
	if err := c.mutate(ctx, "tournament.respond", path, body, "respond to invitation", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MatchQuestions asks the backend for the match's question set. The backend
// generates them on first call and returns the stored set afterwards.
func (c *Client) MatchQuestions(ctx context.Context, id, matchID string) (*MatchQuestions, error) {
	var out MatchQuestions
	path := "/" + url.PathEscape(id) + "/matches/" + url.PathEscape(matchID) + "/questions"
	if err := c.mutate(ctx, "tournament.questions", path, nil, "generate questions", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SubmitAnswers(ctx context.Context, id, matchID string, sub MatchSubmission) (*SubmitResponse, error) {
	sub.UserAddress = NormalizeAddress(sub.UserAddress)
	var out SubmitResponse
	path := "/" + url.PathEscape(id) + "/matches/" + url.PathEscape(matchID) + "/submit"
	if err := c.mutate(ctx, "tournament.submit", path, sub, "submit answers", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Match(ctx context.Context, id, matchID string) (*MatchDetails, error) {
	var out struct {
		Match MatchDetails `json:"match"`
	}
	path := "/" + url.PathEscape(id) + "/matches/" + url.PathEscape(matchID)
	if err := c.fetch(ctx, "tournament.match", path, "get match details", &out); err != nil {
		return nil, err
	}
	return &out.Match, nil
}

func (c *Client) Bracket(ctx context.Context, id string) (*BracketView, error) {
	var out BracketView
	if err := c.fetch(ctx, "tournament.bracket", "/"+url.PathEscape(id)+"/bracket", "get tournament bracket", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Escrow(ctx context.Context, id string) (*Escrow, error) {
	var out struct {
		Escrow Escrow `json:"escrow"`
	}
	if err := c.fetch(ctx, "tournament.escrow", "/"+url.PathEscape(id)+"/escrow", "get tournament escrow info", &out); err != nil {
		return nil, err
	}
	return &out.Escrow, nil
}

func (c *Client) Transactions(ctx context.Context, id string) ([]EscrowTransaction, error) {
	var out struct {
		Transactions []EscrowTransaction `json:"transactions"`
	}
	if err := c.fetch(ctx, "tournament.transactions", "/"+url.PathEscape(id)+"/transactions", "get tournament transactions", &out); err != nil {
		return nil, err
	}
	return out.Transactions, nil
}

// Health probes GET /debug/test. Transport failures are reported in the
// status, not as an error.
func (c *Client) Health(ctx context.Context) HealthStatus {
	resp, err := c.requester.Do(ctx, transport.Request{
		Operation: "tournament.health",
		Method:    http.MethodGet,
		URL:       c.baseURL + "/debug/test",
	})
	if err != nil {
		return HealthStatus{Message: "connection failed: " + err.Error()}
	}
	if !resp.OK() {
		return HealthStatus{Message: fmt.Sprintf("backend responded with status %d", resp.StatusCode)}
	}

	var body struct {
		Message string `json:"message"`
	}
	_ = resp.Decode(&body)
	return HealthStatus{Connected: true, Message: "backend connected: " + body.Message}
}

func (c *Client) fetch(ctx context.Context, op, path, what string, out any) error {
	resp, err := c.requester.Do(ctx, transport.Request{
		Operation: op,
		Method:    http.MethodGet,
		URL:       c.baseURL + path,
	})
	if err != nil {
		return err
	}
	if err := transport.CheckStatus(resp, what); err != nil {
		return err
	}
	return resp.Decode(out)
}

func (c *Client) mutate(ctx context.Context, op, path string, body any, what string, out any) error {
	resp, err := c.requester.Do(ctx, transport.Request{
		Operation:      op,
		Method:         http.MethodPost,
		URL:            c.baseURL + path,
		Body:           body,
		IdempotencyKey: idempotencyKey(ctx),
	})
	if err != nil {
		return err
	}
	if err := transport.CheckStatus(resp, what); err != nil {
		return err
	}
	return resp.Decode(out)
}
