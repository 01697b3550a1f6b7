// Package orchestrator runs the tournament flows that span the token ledger
// and the tournament backend: create with a funded prize pool, join with an
// entry fee, and accepting an invitation to a paid tournament.
//
// Every flow is a straight sequence. The first failing step ends it with
// that step's error; nothing is rolled back. Tokens that reached the escrow
// before a backend call failed are recorded as stranded in the journal.
// Concurrent runs of the same flow for the same scope share one execution.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/avvvet/kana-services/internal/comm"
	"github.com/avvvet/kana-services/internal/events"
	"github.com/avvvet/kana-services/internal/idempotency"
	"github.com/avvvet/kana-services/internal/journal"
	"github.com/avvvet/kana-services/internal/ledger"
	"github.com/avvvet/kana-services/internal/metrics"
	"github.com/avvvet/kana-services/internal/tournament"
)

var (
	ErrTournamentFull     = errors.New("tournament is full")
	ErrRegistrationClosed = errors.New("tournament is not open for registration")
	ErrAlreadyJoined      = errors.New("already joined this tournament")
	ErrInvitationNotFound = errors.New("invitation not found or already answered")
	ErrNotEnoughPlayers   = errors.New("tournament needs at least two players to start")
)

// Tournaments is the backend surface the flows need.
type Tournaments interface {
	Get(ctx context.Context, id string) (*tournament.Tournament, error)
	Create(ctx context.Context, req tournament.CreateRequest) (*tournament.CreateResponse, error)
	Join(ctx context.Context, id string, req tournament.JoinRequest) (*tournament.JoinResponse, error)
	Start(ctx context.Context, id, userAddress string) (*tournament.StartResponse, error)
	Invitations(ctx context.Context, address string, status tournament.InvitationStatus) ([]tournament.Invitation, error)
	RespondInvitation(ctx context.Context, invitationID, address string, accept bool, txHash *string) (*tournament.InvitationReply, error)
}

// Ledger moves INK from the agent's wallet. *ledger.Ledger implements it.
type Ledger interface {
	Wallet() string
	Escrow() string
	GetBalance(ctx context.Context, address string) (string, error)
	GetAllowance(ctx context.Context, owner, spender string) (string, error)
	Approve(ctx context.Context, spender, amount string) (string, error)
	Transfer(ctx context.Context, to, amount string) (string, error)
}

type Orchestrator struct {
	tournaments Tournaments
	ledger      Ledger
	journal     journal.Store
	keys        idempotency.Store
	events      events.Publisher
	metrics     *metrics.Metrics
	forms       *formValidator
	instance    string
	flights     singleflight.Group
}

const zeroAddress = "0x0000000000000000000000000000000000000000"

type Option func(*Orchestrator)

func WithJournal(s journal.Store) Option {
	return func(o *Orchestrator) { o.journal = s }
}

func WithKeys(s idempotency.Store) Option {
	return func(o *Orchestrator) { o.keys = s }
}

func WithEvents(p events.Publisher) Option {
	return func(o *Orchestrator) { o.events = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithInstance(id string) Option {
	return func(o *Orchestrator) { o.instance = id }
}

func New(tournaments Tournaments, ledger Ledger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		tournaments: tournaments,
		ledger:      ledger,
		journal:     journal.NewMemoryStore(),
		keys:        idempotency.NewMemoryStore(10 * time.Minute),
		events:      events.Nop{},
		forms:       newFormValidator(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Payment is what the escrow step produced. A zero Payment means the flow
// was free.
type Payment struct {
	TxHash        string `json:"tx_hash,omitempty"`
	ApproveTxHash string `json:"approve_tx_hash,omitempty"`
	Amount        string `json:"amount,omitempty"`
	BalanceAfter  string `json:"balance_after,omitempty"`
	kind          journal.Kind
	entryID       string
}

func (p *Payment) hash() *string {
	if p == nil || p.TxHash == "" {
		return nil
	}
	h := p.TxHash
	return &h
}

type CreateResult struct {
	TournamentID string                `json:"tournament_id"`
	Tournament   tournament.Tournament `json:"tournament"`
	TxHash       string                `json:"transaction_hash,omitempty"`
	Payment      *Payment              `json:"payment,omitempty"`
}

type JoinResult struct {
	TournamentID   string   `json:"tournament_id"`
	CurrentPlayers int      `json:"current_players"`
	MaxPlayers     int      `json:"max_players"`
	ReadyToStart   bool     `json:"ready_to_start"`
	Message        string   `json:"message"`
	TxHash         string   `json:"transaction_hash,omitempty"`
	Payment        *Payment `json:"payment,omitempty"`
}

// CreateTournament validates form, funds the prize pool when there is one and
// registers the tournament with the backend.
func (o *Orchestrator) CreateTournament(ctx context.Context, form CreateForm) (*CreateResult, error) {
	if err := o.forms.Check(&form); err != nil {
		return nil, err
	}
	if form.prizePool().IsPositive() {
		if err := o.checkPayer("creator_address", form.CreatorAddress); err != nil {
			return nil, err
		}
	}

	scope := idempotency.Scope("create", form.CreatorAddress, form.Name)
	v, err := o.inFlight(scope, func() (any, error) {
		return o.createTournament(ctx, form, scope)
	})
	if err != nil {
		return nil, err
	}
	return v.(*CreateResult), nil
}

func (o *Orchestrator) createTournament(ctx context.Context, form CreateForm, scope string) (*CreateResult, error) {
	key, err := o.keys.Key(ctx, scope)
	if err != nil {
		return nil, err
	}

	var payment *Payment
	if form.prizePool().IsPositive() {
		payment, err = o.fund(ctx, journal.KindCreate, scope, "", form.prizePool(), "prize pool")
		if err != nil {
			o.releaseUnlessStranded(ctx, scope, err)
			return nil, err
		}
	}

	resp, err := o.tournaments.Create(tournament.WithIdempotencyKey(ctx, key), form.request(payment.hash()))
	if err != nil {
		// A paid create keeps its key so a retry reaches the backend as the
		// same request.
		if payment == nil {
			o.release(ctx, scope)
		}
		return nil, o.strand(ctx, payment, "", "create tournament", err)
	}
	o.release(ctx, scope)
	o.settle(ctx, payment, resp.TournamentID)

	log.Infof("tournament %s created by %s", resp.TournamentID, form.CreatorAddress)

	result := &CreateResult{
		TournamentID: resp.TournamentID,
		Tournament:   resp.Tournament,
		TxHash:       resp.TransactionHash,
		Payment:      payment,
	}
	o.events.Publish(comm.TypeTournamentCreated, comm.TournamentCreated{
		TournamentID: resp.TournamentID,
		Creator:      form.CreatorAddress,
		PrizePool:    form.prizePool().String(),
		TxHash:       result.TxHash,
		Instance:     o.instance,
		Timestamp:    time.Now().UTC(),
	})
	return result, nil
}

// joinable fetches the tournament and rejects it before any payment when the
// player could not join anyway.
func (o *Orchestrator) joinable(ctx context.Context, id, player string) (*tournament.Tournament, error) {
	t, err := o.tournaments.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status != tournament.StatusRegistration {
		return nil, fmt.Errorf("%w (status %s)", ErrRegistrationClosed, t.Status)
	}
	if t.IsFull() {
		return nil, fmt.Errorf("%w (%d/%d players)", ErrTournamentFull, t.CurrentPlayers, t.MaxPlayers)
	}
	if t.IsParticipant(player) {
		return nil, ErrAlreadyJoined
	}
	return t, nil
}

// JoinTournament pays the entry fee when there is one and joins.
func (o *Orchestrator) JoinTournament(ctx context.Context, id, player string) (*JoinResult, error) {
	player = tournament.NormalizeAddress(player)
	if player == "" {
		return nil, tournament.ErrAddressRequired
	}
	if id == "" {
		return nil, tournament.ErrTournamentRequired
	}

	scope := idempotency.Scope("join", id, player)
	v, err := o.inFlight(scope, func() (any, error) {
		return o.joinTournament(ctx, id, player, scope)
	})
	if err != nil {
		return nil, err
	}
	return v.(*JoinResult), nil
}

func (o *Orchestrator) joinTournament(ctx context.Context, id, player, scope string) (*JoinResult, error) {
	t, err := o.joinable(ctx, id, player)
	if err != nil {
		return nil, err
	}

	fee := decimal.NewFromFloat(t.EntryFee)
	if fee.IsPositive() {
		if err := o.checkPayer("user_address", player); err != nil {
			return nil, err
		}
	}

	key, err := o.keys.Key(ctx, scope)
	if err != nil {
		return nil, err
	}

	var payment *Payment
	if fee.IsPositive() {
		payment, err = o.fund(ctx, journal.KindJoin, scope, id, fee, "entry fee")
		if err != nil {
			o.releaseUnlessStranded(ctx, scope, err)
			return nil, err
		}
	}

	resp, err := o.tournaments.Join(tournament.WithIdempotencyKey(ctx, key), id, tournament.JoinRequest{
		UserAddress:        player,
		InkTransactionHash: payment.hash(),
	})
	if err != nil {
		if payment == nil {
			o.release(ctx, scope)
		}
		return nil, o.strand(ctx, payment, id, "join tournament", err)
	}
	o.release(ctx, scope)
	o.settle(ctx, payment, id)

	result := &JoinResult{
		TournamentID:   id,
		CurrentPlayers: resp.CurrentPlayers,
		MaxPlayers:     t.MaxPlayers,
		ReadyToStart:   resp.CurrentPlayers >= t.MaxPlayers,
		Message:        resp.Message,
		TxHash:         resp.TransactionHash,
		Payment:        payment,
	}
	if resp.CurrentPlayers > t.MaxPlayers {
		log.Errorf("tournament %s reports %d players for %d slots", id, resp.CurrentPlayers, t.MaxPlayers)
	}

	log.Infof("%s joined tournament %s (%d/%d)", player, id, resp.CurrentPlayers, t.MaxPlayers)
	o.events.Publish(comm.TypeTournamentJoined, comm.TournamentJoined{
		TournamentID:   id,
		Player:         player,
		EntryFee:       fee.String(),
		TxHash:         result.TxHash,
		CurrentPlayers: result.CurrentPlayers,
		ReadyToStart:   result.ReadyToStart,
		Instance:       o.instance,
		Timestamp:      time.Now().UTC(),
	})
	return result, nil
}

// StartTournament asks the backend to build the bracket. Only the creator
// may start; the backend enforces that, we only refuse obviously early starts.
func (o *Orchestrator) StartTournament(ctx context.Context, id, player string) (*tournament.StartResponse, error) {
	t, err := o.tournaments.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status != tournament.StatusRegistration {
		return nil, fmt.Errorf("%w (status %s)", ErrRegistrationClosed, t.Status)
	}
	if t.CurrentPlayers < 2 {
		return nil, ErrNotEnoughPlayers
	}

	scope := idempotency.Scope("start", id)
	key, err := o.keys.Key(ctx, scope)
	if err != nil {
		return nil, err
	}
	resp, err := o.tournaments.Start(tournament.WithIdempotencyKey(ctx, key), id, player)
	if err != nil {
		return nil, err
	}
	o.release(ctx, scope)
	return resp, nil
}

// RespondInvitation answers a pending invitation. Accepting one for a paid
// tournament pays the entry fee first, exactly as a join would.
func (o *Orchestrator) RespondInvitation(ctx context.Context, invitationID, player string, accept bool) (*tournament.InvitationReply, error) {
	player = tournament.NormalizeAddress(player)
	if player == "" {
		return nil, tournament.ErrAddressRequired
	}

	pending, err := o.tournaments.Invitations(ctx, player, tournament.InvitationPending)
	if err != nil {
		return nil, err
	}
	var inv *tournament.Invitation
	for i := range pending {
		if pending[i].ID == invitationID {
			inv = &pending[i]
			break
		}
	}
	if inv == nil {
		return nil, ErrInvitationNotFound
	}

	if !accept {
		return o.tournaments.RespondInvitation(ctx, invitationID, player, false, nil)
	}

	scope := idempotency.Scope("invitation", invitationID, player)
	v, err := o.inFlight(scope, func() (any, error) {
		return o.acceptInvitation(ctx, inv, player, scope)
	})
	if err != nil {
		return nil, err
	}
	return v.(*tournament.InvitationReply), nil
}

func (o *Orchestrator) acceptInvitation(ctx context.Context, inv *tournament.Invitation, player, scope string) (*tournament.InvitationReply, error) {
	t, err := o.joinable(ctx, inv.TournamentID, player)
	if err != nil {
		return nil, err
	}

	fee := decimal.NewFromFloat(t.EntryFee)
	if fee.IsPositive() {
		if err := o.checkPayer("invited_address", player); err != nil {
			return nil, err
		}
	}

	key, err := o.keys.Key(ctx, scope)
	if err != nil {
		return nil, err
	}

	var payment *Payment
	if fee.IsPositive() {
		payment, err = o.fund(ctx, journal.KindInvite, scope, t.ID, fee, "entry fee")
		if err != nil {
			o.releaseUnlessStranded(ctx, scope, err)
			return nil, err
		}
	}

	reply, err := o.tournaments.RespondInvitation(tournament.WithIdempotencyKey(ctx, key), inv.ID, player, true, payment.hash())
	if err != nil {
		if payment == nil {
			o.release(ctx, scope)
		}
		return nil, o.strand(ctx, payment, t.ID, "accept invitation", err)
	}
	o.release(ctx, scope)
	o.settle(ctx, payment, t.ID)
	return reply, nil
}

// inFlight runs fn for scope unless a run for the same scope is already in
// progress, in which case the caller waits for that run and shares its
// outcome. Two payments for one scope are never underway at once.
func (o *Orchestrator) inFlight(scope string, fn func() (any, error)) (any, error) {
	v, err, shared := o.flights.Do(scope, fn)
	if shared {
		log.Debugf("%s ran once for concurrent callers", scope)
	}
	return v, err
}

// checkPayer rejects a paid flow on behalf of an address other than the
// wallet the tokens come from. Without a wallet the ledger itself reports
// ErrNotInitialized.
func (o *Orchestrator) checkPayer(field, address string) error {
	wallet := tournament.NormalizeAddress(o.ledger.Wallet())
	if wallet == "" || wallet == zeroAddress {
		return nil
	}
	if tournament.NormalizeAddress(address) != wallet {
		return &ValidationError{Fields: map[string]string{
			field: fmt.Sprintf("must be the paying wallet %s", wallet),
		}}
	}
	return nil
}

// fund reuses a transfer an earlier attempt of the same request left stranded
// in escrow, and pays otherwise.
func (o *Orchestrator) fund(ctx context.Context, kind journal.Kind, scope, tournamentID string, amount decimal.Decimal, purpose string) (*Payment, error) {
	e, err := o.journal.Resume(ctx, scope)
	switch {
	case err == nil && e.Amount.Equal(amount):
		log.Infof("resuming %s with stranded INK transfer %s", scope, e.TxHash)
		o.metrics.ObserveEscrow(string(kind), "resumed")
		return &Payment{TxHash: e.TxHash, Amount: amount.String(), kind: kind, entryID: e.ID}, nil
	case err == nil:
		log.Warnf("stranded transfer %s was for %s INK, %s needs %s", e.TxHash, e.Amount, scope, amount)
	case !errors.Is(err, journal.ErrEntryNotFound):
		log.Warnf("journal: unable to look up stranded transfer for %s: %s", scope, err)
	}
	return o.payEscrow(ctx, kind, scope, tournamentID, amount, purpose)
}

// payEscrow moves amount into the escrow: balance check, allowance check,
// approve when short, re-read allowance, transfer, re-read balance. Each
// step that fails ends the sequence with its own error.
func (o *Orchestrator) payEscrow(ctx context.Context, kind journal.Kind, scope, tournamentID string, amount decimal.Decimal, purpose string) (*Payment, error) {
	wallet, escrow := o.ledger.Wallet(), o.ledger.Escrow()
	need := amount.String()

	balance, err := o.readAmount(ctx, "balance", func() (string, error) {
		return o.ledger.GetBalance(ctx, wallet)
	})
	if err != nil {
		return nil, err
	}
	if balance.LessThan(amount) {
		return nil, &ledger.InsufficientBalanceError{Have: balance, Need: amount, Purpose: purpose}
	}

	payment := &Payment{Amount: need, kind: kind}

	allowance, err := o.readAmount(ctx, "allowance", func() (string, error) {
		return o.ledger.GetAllowance(ctx, wallet, escrow)
	})
	if err != nil {
		return nil, err
	}
	if allowance.LessThan(amount) {
		hash, err := o.ledger.Approve(ctx, escrow, need)
		if err != nil {
			o.metrics.ObserveEscrow(string(kind), "approve_failed")
			return nil, err
		}
		payment.ApproveTxHash = hash

		after, err := o.readAmount(ctx, "allowance", func() (string, error) {
			return o.ledger.GetAllowance(ctx, wallet, escrow)
		})
		if err != nil {
			return nil, err
		}
		log.Infof("escrow allowance now %s INK", after)
	}

	hash, err := o.ledger.Transfer(ctx, escrow, need)
	if err != nil {
		var txErr *ledger.TxError
		if errors.As(err, &txErr) && txErr.Unconfirmed() {
			// broadcast without a receipt; the tokens may still land in escrow
			o.metrics.ObserveEscrow(string(kind), "transfer_unconfirmed")
			payment.TxHash = txErr.Hash
			payment.entryID = o.record(ctx, kind, scope, tournamentID, wallet, amount, txErr.Hash)
			return nil, o.strand(ctx, payment, tournamentID, "transfer confirmation", err)
		}
		o.metrics.ObserveEscrow(string(kind), "transfer_failed")
		return nil, err
	}
	payment.TxHash = hash
	o.metrics.ObserveEscrow(string(kind), string(journal.StatusTransferred))
	payment.entryID = o.record(ctx, kind, scope, tournamentID, wallet, amount, hash)

	if after, err := o.ledger.GetBalance(ctx, wallet); err != nil {
		log.Warnf("unable to refresh INK balance after transfer: %s", err)
	} else {
		payment.BalanceAfter = after
	}
	return payment, nil
}

// record journals a transfer and returns the entry id, or "" when the
// journal is unavailable.
func (o *Orchestrator) record(ctx context.Context, kind journal.Kind, scope, tournamentID, wallet string, amount decimal.Decimal, hash string) string {
	entry, err := o.journal.Record(ctx, journal.Entry{
		Kind:         kind,
		TournamentID: tournamentID,
		Wallet:       wallet,
		Amount:       amount,
		TxHash:       hash,
		Scope:        scope,
	})
	if err != nil {
		log.Errorf("journal: unable to record %s transfer %s: %s", kind, hash, err)
		return ""
	}
	return entry.ID
}

func (o *Orchestrator) readAmount(ctx context.Context, what string, read func() (string, error)) (decimal.Decimal, error) {
	raw, err := read()
	if err != nil {
		return decimal.Zero, err
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("unreadable INK %s %q: %w", what, raw, err)
	}
	return v, nil
}

func (o *Orchestrator) settle(ctx context.Context, p *Payment, tournamentID string) {
	if p == nil {
		return
	}
	o.metrics.ObserveEscrow(string(p.kind), string(journal.StatusSettled))
	if p.entryID == "" {
		return
	}
	if err := o.journal.MarkSettled(ctx, p.entryID, tournamentID); err != nil {
		log.Errorf("journal: unable to settle %s: %s", p.entryID, err)
	}
}

// strand records that tokens reached the escrow but the backend call after
// it failed, and returns cause with the transaction hash attached.
func (o *Orchestrator) strand(ctx context.Context, p *Payment, tournamentID, step string, cause error) error {
	if p == nil {
		return cause
	}

	reason := fmt.Sprintf("%s failed: %s", step, cause)
	if p.entryID != "" {
		if err := o.journal.MarkStranded(ctx, p.entryID, reason); err != nil {
			log.Errorf("journal: unable to mark %s stranded: %s", p.entryID, err)
		}
	}
	o.metrics.ObserveEscrow(string(p.kind), string(journal.StatusStranded))
	log.Errorf("INK transfer %s is in escrow but %s", p.TxHash, reason)

	o.events.Publish(comm.TypeEscrowStranded, comm.EscrowStranded{
		EntryID:      p.entryID,
		Kind:         string(p.kind),
		TournamentID: tournamentID,
		Wallet:       o.ledger.Wallet(),
		Amount:       p.Amount,
		TxHash:       p.TxHash,
		Reason:       reason,
		Instance:     o.instance,
		Timestamp:    time.Now().UTC(),
	})
	return &StrandedError{TxHash: p.TxHash, Err: cause}
}

// releaseUnlessStranded forgets the key for scope unless err says tokens may
// already sit in escrow; a retry then reaches the backend as the same request.
func (o *Orchestrator) releaseUnlessStranded(ctx context.Context, scope string, err error) {
	var stranded *StrandedError
	if errors.As(err, &stranded) {
		return
	}
	o.release(ctx, scope)
}

func (o *Orchestrator) release(ctx context.Context, scope string) {
	if err := o.keys.Release(ctx, scope); err != nil {
		log.Warnf("unable to release idempotency key %s: %s", scope, err)
	}
}

// StrandedFunds lists the agent wallet's transfers whose backend call failed.
func (o *Orchestrator) StrandedFunds(ctx context.Context) ([]journal.Entry, error) {
	return o.journal.Stranded(ctx, o.ledger.Wallet())
}

// StrandedError is returned when an escrow transfer was sent but the flow
// could not finish: the backend call after it failed, or its confirmation
// never arrived.
type StrandedError struct {
	TxHash string
	Err    error
}

func (e *StrandedError) Error() string {
	return fmt.Sprintf("%v (INK transfer %s sent to escrow)", e.Err, e.TxHash)
}

func (e *StrandedError) Unwrap() error {
	return e.Err
}
