package comm

import (
	"encoding/json"
	"time"

	"github.com/avvvet/kana-services/internal/tournament"
)

// WSMessage is the envelope for both NATS events and websocket frames.
type WSMessage struct {
	Type     string          `json:"type"` // e.g. "tournament-created", "select"
	Data     json.RawMessage `json:"data"`
	SocketId string          `json:"socketid,omitempty"`
}

const (
	TypeTournamentCreated = "tournament-created"
	TypeTournamentJoined  = "tournament-joined"
	TypeMatchSubmitted    = "match-submitted"
	TypeEscrowStranded    = "escrow-stranded"
	TypeMatchResult       = "match-result"
	TypeError             = "error"
)

type TournamentCreated struct {
	TournamentID string    `json:"tournament_id"`
	Creator      string    `json:"creator"`
	PrizePool    string    `json:"prize_pool"`
	TxHash       string    `json:"tx_hash,omitempty"`
	Instance     string    `json:"instance"`
	Timestamp    time.Time `json:"timestamp"`
}

type TournamentJoined struct {
	TournamentID   string    `json:"tournament_id"`
	Player         string    `json:"player"`
	EntryFee       string    `json:"entry_fee"`
	TxHash         string    `json:"tx_hash,omitempty"`
	CurrentPlayers int       `json:"current_players"`
	ReadyToStart   bool      `json:"ready_to_start"`
	Instance       string    `json:"instance"`
	Timestamp      time.Time `json:"timestamp"`
}

type MatchSubmitted struct {
	TournamentID string    `json:"tournament_id"`
	MatchID      string    `json:"match_id"`
	Player       string    `json:"player"`
	Score        float64   `json:"score"`
	Percentage   float64   `json:"percentage"`
	Winner       string    `json:"winner,omitempty"`
	Instance     string    `json:"instance"`
	Timestamp    time.Time `json:"timestamp"`
}

type EscrowStranded struct {
	EntryID      string    `json:"entry_id"`
	Kind         string    `json:"kind"`
	TournamentID string    `json:"tournament_id,omitempty"`
	Wallet       string    `json:"wallet"`
	Amount       string    `json:"amount"`
	TxHash       string    `json:"tx_hash"`
	Reason       string    `json:"reason"`
	Instance     string    `json:"instance"`
	Timestamp    time.Time `json:"timestamp"`
}

// MatchResult is the last frame of a websocket match session.
type MatchResult struct {
	Reason     string                     `json:"reason"`
	Submission tournament.MatchSubmission `json:"submission"`
	Response   *tournament.SubmitResponse `json:"response,omitempty"`
	Error      string                     `json:"error,omitempty"`
}

type ErrorData struct {
	Message string `json:"message"`
}
