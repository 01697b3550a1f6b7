package questions

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/avvvet/kana-services/internal/tournament"
	"github.com/avvvet/kana-services/internal/transport"
)

const (
	DefaultTopic      = "blockchain"
	DefaultDifficulty = "medium"
)

var ErrInvalidQuiz = errors.New("invalid quiz format from question backend")

type generated struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
	Answer   string   `json:"answer"`
}

// Client fetches AI generated quiz questions from the KANA backend.
type Client struct {
	root      string
	requester *transport.Requester
}

// NewClient takes the backend root, i.e. the URL without the /api/kana suffix.
func NewClient(root string, requester *transport.Requester) *Client {
	return &Client{root: strings.TrimRight(root, "/"), requester: requester}
}

// Generate asks for n questions on topic. Each generated item becomes a
// QuizQuestion whose correct letter is the position of the answer text in
// the option list.
func (c *Client) Generate(ctx context.Context, topic string, difficulty tournament.Difficulty, n int) ([]tournament.QuizQuestion, error) {
	if strings.TrimSpace(topic) == "" {
		topic = DefaultTopic
	}
	if difficulty == "" {
		difficulty = DefaultDifficulty
	}
	if n <= 0 {
		n = 1
	}

	resp, err := c.requester.Do(ctx, transport.Request{
		Operation: "questions.generate",
		Method:    http.MethodPost,
		URL:       c.root + "/api/kana/generate-daily-quiz",
		Body: map[string]any{
			"topic":        topic,
			"difficulty":   difficulty,
			"numQuestions": n,
		},
	})
	if err != nil {
		return nil, err
	}
	if err := transport.CheckStatus(resp, "generate quiz"); err != nil {
		return nil, err
	}

	var body struct {
		Quiz []generated `json:"quiz"`
	}
	if err := resp.Decode(&body); err != nil {
		return nil, err
	}
	if len(body.Quiz) == 0 {
		return nil, fmt.Errorf("%w: empty quiz", ErrInvalidQuiz)
	}

	out := make([]tournament.QuizQuestion, 0, len(body.Quiz))
	for i, g := range body.Quiz {
		q, err := convert(g, topic)
		if err != nil {
			return nil, fmt.Errorf("question %d: %w", i, err)
		}
		out = append(out, q)
	}
	return out, nil
}

func convert(g generated, topic string) (tournament.QuizQuestion, error) {
	if len(g.Options) != len(tournament.Letters) {
		return tournament.QuizQuestion{}, fmt.Errorf("%w: want %d options, got %d", ErrInvalidQuiz, len(tournament.Letters), len(g.Options))
	}

	correct := -1
	for i, opt := range g.Options {
		if opt == g.Answer {
			correct = i
			break
		}
	}
	if correct < 0 {
		return tournament.QuizQuestion{}, fmt.Errorf("%w: answer %q not among options", ErrInvalidQuiz, g.Answer)
	}

	q := tournament.QuizQuestion{
		Question: g.Question,
		Options: tournament.Options{
			A: g.Options[0],
			B: g.Options[1],
			C: g.Options[2],
			D: g.Options[3],
		},
		CorrectAnswer: tournament.Letters[correct],
		Explanation:   fmt.Sprintf("The correct answer is %s. Generated by Kana AI for %s.", g.Answer, topic),
	}
	if err := q.Validate(); err != nil {
		return tournament.QuizQuestion{}, err
	}
	return q, nil
}
