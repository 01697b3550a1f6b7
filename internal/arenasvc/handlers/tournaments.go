package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"

	"github.com/avvvet/kana-services/internal/orchestrator"
	"github.com/avvvet/kana-services/internal/tournament"
)

func (h *Handler) ListTournaments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := tournament.ListFilter{
		Status:         tournament.Status(q.Get("status")),
		CreatorAddress: q.Get("creator_address"),
	}
	if v := q.Get("is_public"); v != "" {
		public, err := strconv.ParseBool(v)
		if err != nil {
			h.badRequest(w, "is_public must be true or false")
			return
		}
		filter.IsPublic = &public
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			h.badRequest(w, "limit must be a positive number")
			return
		}
		filter.Limit = limit
	}

	list, err := h.Tournaments.List(r.Context(), filter)
	if err != nil {
		h.Fail(w, "failed to list tournaments", err)
		return
	}
	h.ok(w, "tournaments", list)
}

func (h *Handler) MyTournaments(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := h.Tournaments.Mine(r.Context(), h.player(r), tournament.Status(r.URL.Query().Get("status")), limit)
	if err != nil {
		h.Fail(w, "failed to list your tournaments", err)
		return
	}
	h.ok(w, "your tournaments", list)
}

func (h *Handler) GetTournament(w http.ResponseWriter, r *http.Request) {
	t, err := h.Tournaments.Get(r.Context(), chi.URLParam(r, "tournamentID"))
	if err != nil {
		h.Fail(w, "failed to fetch tournament", err)
		return
	}
	h.ok(w, "tournament", t)
}

func (h *Handler) CreateTournament(w http.ResponseWriter, r *http.Request) {
	var form orchestrator.CreateForm
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		h.badRequest(w, "invalid request body")
		return
	}
	if form.CreatorAddress == "" {
		form.CreatorAddress = h.player(r)
	}

	ctx, cancel := h.flowContext(r)
	defer cancel()

	res, err := h.Flows.CreateTournament(ctx, form)
	if err != nil {
		h.Fail(w, "failed to create tournament", err)
		return
	}
	h.CreateResponse(w, Response{Message: "tournament created", Code: http.StatusCreated, Data: res})
}

func (h *Handler) JoinTournament(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.flowContext(r)
	defer cancel()

	res, err := h.Flows.JoinTournament(ctx, chi.URLParam(r, "tournamentID"), h.player(r))
	if err != nil {
		h.Fail(w, "failed to join tournament", err)
		return
	}
	h.ok(w, res.Message, res)
}

func (h *Handler) StartTournament(w http.ResponseWriter, r *http.Request) {
	res, err := h.Flows.StartTournament(r.Context(), chi.URLParam(r, "tournamentID"), h.player(r))
	if err != nil {
		h.Fail(w, "failed to start tournament", err)
		return
	}
	h.ok(w, res.Message, res)
}

type inviteBody struct {
	Addresses []string `json:"invited_addresses"`
	Message   string   `json:"message"`
}

func (h *Handler) Invite(w http.ResponseWriter, r *http.Request) {
	var body inviteBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.badRequest(w, "invalid request body")
		return
	}
	if len(body.Addresses) == 0 {
		h.badRequest(w, "invited_addresses is required")
		return
	}

	res, err := h.Tournaments.Invite(r.Context(), chi.URLParam(r, "tournamentID"), h.player(r), body.Addresses, body.Message)
	if err != nil {
		h.Fail(w, "failed to send invitations", err)
		return
	}
	h.ok(w, res.Message, res)
}

func (h *Handler) Bracket(w http.ResponseWriter, r *http.Request) {
	b, err := h.Tournaments.Bracket(r.Context(), chi.URLParam(r, "tournamentID"))
	if err != nil {
		h.Fail(w, "failed to fetch bracket", err)
		return
	}
	h.ok(w, "bracket", b)
}

func (h *Handler) Escrow(w http.ResponseWriter, r *http.Request) {
	e, err := h.Tournaments.Escrow(r.Context(), chi.URLParam(r, "tournamentID"))
	if err != nil {
		h.Fail(w, "failed to fetch escrow", err)
		return
	}
	h.ok(w, "escrow", e)
}

func (h *Handler) Transactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.Tournaments.Transactions(r.Context(), chi.URLParam(r, "tournamentID"))
	if err != nil {
		h.Fail(w, "failed to fetch escrow transactions", err)
		return
	}
	h.ok(w, "transactions", txs)
}

func (h *Handler) Invitations(w http.ResponseWriter, r *http.Request) {
	list, err := h.Tournaments.Invitations(r.Context(), h.player(r), tournament.InvitationStatus(r.URL.Query().Get("status")))
	if err != nil {
		h.Fail(w, "failed to fetch invitations", err)
		return
	}
	h.ok(w, "invitations", list)
}

type respondBody struct {
	Accept bool `json:"accept"`
}

func (h *Handler) RespondInvitation(w http.ResponseWriter, r *http.Request) {
	var body respondBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.badRequest(w, "invalid request body")
		return
	}

	ctx, cancel := h.flowContext(r)
	defer cancel()

	res, err := h.Flows.RespondInvitation(ctx, chi.URLParam(r, "invitationID"), h.player(r), body.Accept)
	if err != nil {
		h.Fail(w, "failed to respond to invitation", err)
		return
	}
	h.ok(w, res.Message, res)
}

type walletView struct {
	Address string      `json:"address"`
	Escrow  string      `json:"escrow"`
	Token   interface{} `json:"token,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// WalletInfo never fails: a ledger without a contract still reports the
// configured addresses.
func (h *Handler) WalletInfo(w http.ResponseWriter, r *http.Request) {
	view := walletView{Address: h.Wallet.Wallet(), Escrow: h.Wallet.Escrow()}
	info, err := h.Wallet.TokenInfo(r.Context())
	if err != nil {
		view.Error = err.Error()
	} else {
		view.Token = info
	}
	h.ok(w, "wallet", view)
}

func (h *Handler) StrandedFunds(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Flows.StrandedFunds(r.Context())
	if err != nil {
		h.Fail(w, "failed to read escrow journal", err)
		return
	}
	h.ok(w, "stranded escrow transfers", entries)
}
