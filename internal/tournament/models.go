package tournament

import (
	"errors"
	"fmt"
	"strings"
)

type Status string

const (
	StatusRegistration Status = "registration"
	StatusActive       Status = "active"
	StatusCompleted    Status = "completed"
)

var statusOrder = map[Status]int{
	StatusRegistration: 0,
	StatusActive:       1,
	StatusCompleted:    2,
}

// CanAdvanceTo reports whether moving from s to next keeps the lifecycle
// monotonic. Staying in place is allowed.
func (s Status) CanAdvanceTo(next Status) bool {
	from, ok1 := statusOrder[s]
	to, ok2 := statusOrder[next]
	return ok1 && ok2 && to >= from
}

type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

const BracketSingleElimination = "single_elimination"

type Tournament struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	Description       string     `json:"description"`
	CreatorAddress    string     `json:"creator_address"`
	MaxPlayers        int        `json:"max_players"`
	CurrentPlayers    int        `json:"current_players"`
	EntryFee          float64    `json:"entry_fee"`
	PrizePool         float64    `json:"prize_pool"`
	BracketType       string     `json:"bracket_type"`
	QuestionsPerMatch int        `json:"questions_per_match"`
	TimeLimitMinutes  int        `json:"time_limit_minutes"`
	DifficultyLevel   Difficulty `json:"difficulty_level"`
	SubjectCategory   string     `json:"subject_category"`
	CustomTopics      []string   `json:"custom_topics"`
	Status            Status     `json:"status"`
	IsPublic          bool       `json:"is_public"`
	Participants      []string   `json:"participants"`
	CreatedAt         string     `json:"created_at"`
	StartedAt         string     `json:"started_at,omitempty"`
	CompletedAt       string     `json:"completed_at,omitempty"`
}

func (t *Tournament) IsFull() bool {
	return t.CurrentPlayers >= t.MaxPlayers
}

func (t *Tournament) IsParticipant(address string) bool {
	addr := NormalizeAddress(address)
	for _, p := range t.Participants {
		if NormalizeAddress(p) == addr {
			return true
		}
	}
	return false
}

// UserTournament is a row of GET /my/:address.
type UserTournament struct {
	Tournament
	UserRole      string `json:"user_role"`
	IsCreator     bool   `json:"is_creator"`
	IsParticipant bool   `json:"is_participant"`
}

type MatchStatus string

const (
	MatchReady     MatchStatus = "ready"
	MatchActive    MatchStatus = "active"
	MatchCompleted MatchStatus = "completed"
)

type Match struct {
	ID                 string      `json:"id"`
	TournamentID       string      `json:"tournament_id"`
	RoundNumber        int         `json:"round_number"`
	Player1Address     string      `json:"player1_address"`
	Player2Address     string      `json:"player2_address"`
	Status             MatchStatus `json:"status"`
	WinnerAddress      string      `json:"winner_address,omitempty"`
	QuestionsGenerated bool        `json:"questions_generated,omitempty"`
	StartedAt          string      `json:"started_at,omitempty"`
	CompletedAt        string      `json:"completed_at,omitempty"`
}

var ErrWinnerNotPlayer = errors.New("winner is not one of the match players")

func (m *Match) Validate() error {
	if m.WinnerAddress == "" {
		return nil
	}
	w := NormalizeAddress(m.WinnerAddress)
	if w != NormalizeAddress(m.Player1Address) && w != NormalizeAddress(m.Player2Address) {
		return fmt.Errorf("match %s: %w", m.ID, ErrWinnerNotPlayer)
	}
	return nil
}

// HasPlayer reports whether address plays in this match.
func (m *Match) HasPlayer(address string) bool {
	a := NormalizeAddress(address)
	return a == NormalizeAddress(m.Player1Address) || a == NormalizeAddress(m.Player2Address)
}

type MatchSubmissionSummary struct {
	UserAddress      string  `json:"user_address"`
	Score            float64 `json:"score"`
	CorrectAnswers   int     `json:"correct_answers"`
	TotalQuestions   int     `json:"total_questions"`
	CompletionTimeMs int64   `json:"completion_time_ms"`
	SubmittedAt      string  `json:"submitted_at"`
}

type MatchDetails struct {
	Match
	Submissions        []MatchSubmissionSummary `json:"submissions"`
	QuestionsAvailable bool                     `json:"questions_available"`
	QuestionsExpired   bool                     `json:"questions_expired"`
}

var Letters = []string{"A", "B", "C", "D"}

type Options struct {
	A string `json:"A"`
	B string `json:"B"`
	C string `json:"C"`
	D string `json:"D"`
}

func (o Options) Get(letter string) (string, bool) {
	switch strings.ToUpper(strings.TrimSpace(letter)) {
	case "A":
		return o.A, true
	case "B":
		return o.B, true
	case "C":
		return o.C, true
	case "D":
		return o.D, true
	}
	return "", false
}

type QuizQuestion struct {
	Question      string  `json:"question"`
	Options       Options `json:"options"`
	CorrectAnswer string  `json:"correct_answer"`
	Explanation   string  `json:"explanation"`
}

var ErrInvalidQuestion = errors.New("invalid quiz question")

func (q *QuizQuestion) Validate() error {
	if strings.TrimSpace(q.Question) == "" {
		return fmt.Errorf("%w: empty question text", ErrInvalidQuestion)
	}
	text, ok := q.Options.Get(q.CorrectAnswer)
	if !ok || q.CorrectAnswer != strings.ToUpper(strings.TrimSpace(q.CorrectAnswer)) {
		return fmt.Errorf("%w: correct answer %q is not one of A-D", ErrInvalidQuestion, q.CorrectAnswer)
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: option %s is empty", ErrInvalidQuestion, q.CorrectAnswer)
	}
	return nil
}

type DetailedResult struct {
	QuestionIndex int    `json:"question_index"`
	Question      string `json:"question"`
	UserAnswer    string `json:"user_answer"`
	CorrectAnswer string `json:"correct_answer"`
	IsCorrect     bool   `json:"is_correct"`
	Explanation   string `json:"explanation"`
}

type MatchSubmission struct {
	UserAddress      string           `json:"user_address"`
	Answers          []string         `json:"answers"`
	Score            float64          `json:"score"`
	CorrectAnswers   int              `json:"correct_answers"`
	TotalQuestions   int              `json:"total_questions"`
	CompletionTimeMs int64            `json:"completion_time_ms"`
	Percentage       float64          `json:"percentage"`
	DetailedResults  []DetailedResult `json:"detailed_results"`
}

var ErrSubmissionMismatch = errors.New("submission lengths disagree")

func (s *MatchSubmission) Validate() error {
	if s.TotalQuestions != len(s.Answers) || s.TotalQuestions != len(s.DetailedResults) {
		return fmt.Errorf("%w: total=%d answers=%d results=%d",
			ErrSubmissionMismatch, s.TotalQuestions, len(s.Answers), len(s.DetailedResults))
	}
	return nil
}

type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationDeclined InvitationStatus = "declined"
)

func (s InvitationStatus) Terminal() bool {
	return s == InvitationAccepted || s == InvitationDeclined
}

type Invitation struct {
	ID             string           `json:"id"`
	TournamentID   string           `json:"tournament_id"`
	InviterAddress string           `json:"inviter_address"`
	InvitedAddress string           `json:"invited_address"`
	Message        string           `json:"message"`
	Status         InvitationStatus `json:"status"`
	CreatedAt      string           `json:"created_at"`
	RespondedAt    string           `json:"responded_at,omitempty"`
	Tournament     Tournament       `json:"tournament"`
}

type Bracket struct {
	TournamentID string  `json:"tournament_id"`
	TotalRounds  int     `json:"total_rounds"`
	CurrentRound int     `json:"current_round"`
	Matches      []Match `json:"matches"`
}

type Escrow struct {
	TotalPrizePool      float64 `json:"total_prize_pool"`
	TotalEntryFees      float64 `json:"total_entry_fees"`
	CreatorContribution float64 `json:"creator_contribution"`
	ParticipantsPaid    int     `json:"participants_paid"`
	Status              string  `json:"status"`
}

type EscrowTransaction struct {
	UserAddress     string  `json:"user_address"`
	TransactionType string  `json:"transaction_type"`
	Amount          float64 `json:"amount"`
	TransactionHash string  `json:"transaction_hash"`
	Status          string  `json:"status"`
	CreatedAt       string  `json:"created_at"`
}
