package orchestrator

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/avvvet/kana-services/internal/tournament"
)

var ErrValidation = errors.New("invalid tournament")

// ValidationError lists every field that failed. Nothing has been sent
// anywhere when it is returned.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, field := range sortedKeys(e.Fields) {
		parts = append(parts, field+": "+e.Fields[field])
	}
	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// CreateForm is what a player fills in to open a tournament. Zero values of
// the optional fields are replaced by defaults before validation.
type CreateForm struct {
	Name              string   `json:"name" validate:"notblank,max=100"`
	Description       string   `json:"description" validate:"max=500"`
	CreatorAddress    string   `json:"creator_address" validate:"required,eth_addr"`
	MaxPlayers        int      `json:"max_players" validate:"oneof=4 8 16 32 64"`
	EntryFee          float64  `json:"entry_fee" validate:"gte=0"`
	PrizePool         float64  `json:"prize_pool" validate:"gte=0"`
	QuestionsPerMatch int      `json:"questions_per_match" validate:"gte=7,lte=15"`
	TimeLimitMinutes  int      `json:"time_limit_minutes" validate:"gte=5,lte=120"`
	Difficulty        string   `json:"difficulty_level" validate:"oneof=easy medium hard"`
	SubjectCategory   string   `json:"subject_category" validate:"required"`
	CustomTopics      []string `json:"custom_topics" validate:"max=10,dive,notblank"`
	IsPublic          *bool    `json:"is_public"`
}

const (
	defaultTimeLimit = 30
	defaultSubject   = "general"
)

func (f *CreateForm) applyDefaults() {
	f.Name = strings.TrimSpace(f.Name)
	f.CreatorAddress = tournament.NormalizeAddress(f.CreatorAddress)
	if f.TimeLimitMinutes == 0 {
		f.TimeLimitMinutes = defaultTimeLimit
	}
	if strings.TrimSpace(f.Difficulty) == "" {
		f.Difficulty = string(tournament.DifficultyMedium)
	}
	f.Difficulty = strings.ToLower(strings.TrimSpace(f.Difficulty))
	if strings.TrimSpace(f.SubjectCategory) == "" {
		f.SubjectCategory = defaultSubject
	}
	if f.CustomTopics == nil {
		f.CustomTopics = []string{}
	}
	if f.IsPublic == nil {
		public := true
		f.IsPublic = &public
	}
}

func (f *CreateForm) request(txHash *string) tournament.CreateRequest {
	return tournament.CreateRequest{
		Name:               f.Name,
		Description:        f.Description,
		CreatorAddress:     f.CreatorAddress,
		MaxPlayers:         f.MaxPlayers,
		EntryFee:           f.EntryFee,
		PrizePool:          f.PrizePool,
		BracketType:        tournament.BracketSingleElimination,
		QuestionsPerMatch:  f.QuestionsPerMatch,
		TimeLimitMinutes:   f.TimeLimitMinutes,
		DifficultyLevel:    tournament.Difficulty(f.Difficulty),
		SubjectCategory:    f.SubjectCategory,
		CustomTopics:       f.CustomTopics,
		IsPublic:           *f.IsPublic,
		InkTransactionHash: txHash,
	}
}

// prizePool is the wire float turned into a decimal for the ledger.
func (f *CreateForm) prizePool() decimal.Decimal {
	return decimal.NewFromFloat(f.PrizePool)
}

type formValidator struct {
	validate *validator.Validate
}

func newFormValidator() *formValidator {
	v := validator.New()
	v.RegisterValidation("notblank", validateNotBlank)
	return &formValidator{validate: v}
}

func validateNotBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

// Check applies defaults and validates the form in place.
func (v *formValidator) Check(f *CreateForm) error {
	f.applyDefaults()

	err := v.validate.Struct(f)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	out := &ValidationError{Fields: make(map[string]string, len(fieldErrs))}
	for _, fe := range fieldErrs {
		out.Fields[jsonName(fe.StructField())] = describe(fe)
	}
	return out
}

var jsonNames = map[string]string{
	"Name":              "name",
	"Description":       "description",
	"CreatorAddress":    "creator_address",
	"MaxPlayers":        "max_players",
	"EntryFee":          "entry_fee",
	"PrizePool":         "prize_pool",
	"QuestionsPerMatch": "questions_per_match",
	"TimeLimitMinutes":  "time_limit_minutes",
	"Difficulty":        "difficulty_level",
	"SubjectCategory":   "subject_category",
	"CustomTopics":      "custom_topics",
}

func jsonName(field string) string {
	if i := strings.IndexByte(field, '['); i > 0 {
		field = field[:i]
	}
	if n, ok := jsonNames[field]; ok {
		return n
	}
	return strings.ToLower(field)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "notblank", "required":
		return "is required"
	case "eth_addr":
		return "must be a wallet address"
	case "oneof":
		return "must be one of " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	case "max":
		return "is too long (max " + fe.Param() + ")"
	}
	return "is invalid (" + fe.Tag() + ")"
}
