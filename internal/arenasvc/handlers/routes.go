package handlers

import (
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/jwtauth"
	log "github.com/sirupsen/logrus"
)

func (h *Handler) SetRoutes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {

		// public routes here
		r.Get("/health", h.HealthHandler)
		if h.Metrics != nil {
			r.Handle("/metrics", h.Metrics.Handler())
		}

		// match sessions outlive the request timeout; browsers pass the
		// token as ?jwt=
		r.Group(func(r chi.Router) {
			r.Use(jwtauth.Verify(h.tokenAuth, jwtauth.TokenFromHeader, jwtauth.TokenFromQuery))
			r.Use(jwtauth.Authenticator)

			r.Get("/ws/matches/{tournamentID}/{matchID}", h.MatchSession)
		})

		// Paid flows wait for on-chain confirmations and carry their own
		// deadline (FlowTimeout)
		r.Group(func(r chi.Router) {
			r.Use(jwtauth.Verifier(h.tokenAuth))
			r.Use(jwtauth.Authenticator)

			r.Post("/tournaments", h.CreateTournament)
			r.Post("/tournaments/{tournamentID}/join", h.JoinTournament)
			r.Post("/invitations/{invitationID}/respond", h.RespondInvitation)
		})

		// Secure routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))
			r.Use(jwtauth.Verifier(h.tokenAuth))
			r.Use(jwtauth.Authenticator)

			r.Get("/tournaments", h.ListTournaments)
			r.Get("/tournaments/mine", h.MyTournaments)
			r.Get("/tournaments/{tournamentID}", h.GetTournament)
			r.Post("/tournaments/{tournamentID}/start", h.StartTournament)
			r.Post("/tournaments/{tournamentID}/invite", h.Invite)
			r.Get("/tournaments/{tournamentID}/bracket", h.Bracket)
			r.Get("/tournaments/{tournamentID}/escrow", h.Escrow)
			r.Get("/tournaments/{tournamentID}/transactions", h.Transactions)

			r.Get("/invitations", h.Invitations)

			r.Get("/wallet", h.WalletInfo)
			r.Get("/wallet/stranded", h.StrandedFunds)
			r.Get("/quiz/daily", h.DailyQuiz)

			r.Get("/library", h.ListLibrary)
			r.Post("/library", h.UploadMaterial)
			r.Post("/library/external", h.SaveExternal)
			r.Get("/library/search", h.SearchLibrary)
			r.Delete("/library/{materialID}", h.DeleteMaterial)
		})
	})
}

// InitAuth installs the HS256 verifier for secret.
func (h *Handler) InitAuth(secret string) {
	h.tokenAuth = jwtauth.New("HS256", []byte(secret), nil)

	expirationTime := time.Now().Add(7 * 24 * time.Hour).Unix()

	_, tokenString, _ := h.tokenAuth.Encode(map[string]interface{}{
		"service_id": 8003022,
		"exp":        expirationTime,
	})

	// For debugging only, comment it out in production
	log.Debugf("DEBUG: JWT for testing expires soon : %s", tokenString)
}

// Token signs claims with the installed secret. Tests and local tooling use
// it to mint bearer tokens.
func (h *Handler) Token(claims map[string]interface{}) (string, error) {
	_, tokenString, err := h.tokenAuth.Encode(claims)
	return tokenString, err
}
