package match

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/avvvet/kana-services/internal/grading"
	"github.com/avvvet/kana-services/internal/tournament"
)

var ErrNoQuestions = errors.New("match has no questions")

type Kind string

const (
	KindChoice Kind = "choice"
	KindText   Kind = "text"
)

type Question struct {
	Prompt      string
	Kind        Kind
	Options     tournament.Options
	Correct     string // option letter, or reference text for KindText
	Explanation string
}

func FromQuiz(qs []tournament.QuizQuestion) []Question {
	out := make([]Question, len(qs))
	for i, q := range qs {
		out[i] = Question{
			Prompt:      q.Question,
			Kind:        KindChoice,
			Options:     q.Options,
			Correct:     q.CorrectAnswer,
			Explanation: q.Explanation,
		}
	}
	return out
}

type Phase string

const (
	PhaseLoading   Phase = "loading"
	PhaseAnswering Phase = "answering"
	PhaseReviewing Phase = "reviewing"
	PhaseFinished  Phase = "finished"
)

type ActionType string

const (
	ActionSelect  ActionType = "select"
	ActionNext    ActionType = "next"
	ActionExplain ActionType = "explain"
	ActionQuit    ActionType = "quit"
)

type Action struct {
	Type   ActionType `json:"type"`
	Answer string     `json:"answer,omitempty"`
}

type EventType string

const (
	EventQuestion    EventType = "question"
	EventTick        EventType = "tick"
	EventTimeout     EventType = "question-timeout"
	EventExplanation EventType = "explanation"
	EventFinished    EventType = "finished"
)

// Event is what the runner reports to its caller. Question events never
// carry the correct answer.
type Event struct {
	Type          EventType                   `json:"type"`
	Index         int                         `json:"index"`
	Total         int                         `json:"total"`
	Prompt        string                      `json:"prompt,omitempty"`
	Kind          Kind                        `json:"kind,omitempty"`
	Options       *tournament.Options         `json:"options,omitempty"`
	QuestionLeft  int                         `json:"question_seconds_left,omitempty"`
	MatchLeft     int                         `json:"match_seconds_left,omitempty"`
	Correct       *bool                       `json:"correct,omitempty"`
	CorrectAnswer string                      `json:"correct_answer,omitempty"`
	Explanation   string                      `json:"explanation,omitempty"`
	Submission    *tournament.MatchSubmission `json:"submission,omitempty"`
	FinishReason  string                      `json:"finish_reason,omitempty"`
}

type Submitter interface {
	SubmitAnswers(ctx context.Context, tournamentID, matchID string, sub tournament.MatchSubmission) (*tournament.SubmitResponse, error)
}

type Config struct {
	TournamentID string
	MatchID      string
	Player       string
	// QuestionSeconds bounds each question; zero disables it.
	QuestionSeconds int
	// MatchSeconds bounds the whole match; zero disables it.
	MatchSeconds int
	Strategy     grading.Strategy
}

const (
	ReasonCompleted = "completed"
	ReasonTimeout   = "timeout"
	ReasonQuit      = "quit"
)

type Result struct {
	Submission tournament.MatchSubmission
	Response   *tournament.SubmitResponse
	Reason     string
}

type Runner struct {
	cfg       Config
	questions []Question
	submitter Submitter
	newTicker TickerFunc
	now       func() time.Time
	emit      func(Event)
}

type Option func(*Runner)

func WithTicker(fn TickerFunc) Option {
	return func(r *Runner) { r.newTicker = fn }
}

func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

func WithEvents(fn func(Event)) Option {
	return func(r *Runner) { r.emit = fn }
}

func NewRunner(cfg Config, questions []Question, submitter Submitter, opts ...Option) (*Runner, error) {
	if len(questions) == 0 {
		return nil, ErrNoQuestions
	}
	if cfg.Strategy == nil {
		cfg.Strategy = grading.Substring{}
	}
	r := &Runner{
		cfg:       cfg,
		questions: questions,
		submitter: submitter,
		newTicker: SystemTicker,
		now:       time.Now,
		emit:      func(Event) {},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// session is the mutable state of one Run. It lives on the Run goroutine.
type session struct {
	r            *Runner
	phase        Phase
	index        int
	selection    string
	answers      []string
	questionLeft int
	matchLeft    int
	countdown    *Countdown
}

func (s *session) timed() bool {
	return s.r.cfg.QuestionSeconds > 0 || s.r.cfg.MatchSeconds > 0
}

func (s *session) startTimer() {
	if s.timed() {
		s.countdown = StartCountdown(s.r.newTicker, time.Second)
	}
}

func (s *session) stopTimer() {
	if s.countdown != nil {
		s.countdown.Stop()
		s.countdown = nil
	}
}

func (s *session) tick() <-chan time.Time {
	if s.countdown == nil {
		return nil
	}
	return s.countdown.C()
}

func (s *session) record() {
	s.answers[s.index] = strings.TrimSpace(s.selection)
}

func (s *session) show() {
	q := s.r.questions[s.index]
	ev := Event{
		Type:         EventQuestion,
		Index:        s.index,
		Total:        len(s.r.questions),
		Prompt:       q.Prompt,
		Kind:         q.Kind,
		QuestionLeft: s.questionLeft,
		MatchLeft:    s.matchLeft,
	}
	if q.Kind == KindChoice {
		opts := q.Options
		ev.Options = &opts
	}
	s.r.emit(ev)
}

// advance moves to the next question. It reports false once the last
// question is behind us.
func (s *session) advance() bool {
	s.stopTimer()
	s.index++
	s.selection = ""
	if s.index >= len(s.r.questions) {
		return false
	}
	s.phase = PhaseAnswering
	s.questionLeft = s.r.cfg.QuestionSeconds
	s.show()
	s.startTimer()
	return true
}

// Run drives the match from the first question to submission. Actions come
// from the player; a closed channel counts as quitting. The countdown is
// released on every return path.
func (r *Runner) Run(ctx context.Context, actions <-chan Action) (*Result, error) {
	s := &session{
		r:            r,
		phase:        PhaseLoading,
		answers:      make([]string, len(r.questions)),
		questionLeft: r.cfg.QuestionSeconds,
		matchLeft:    r.cfg.MatchSeconds,
	}
	defer s.stopTimer()

	start := r.now()
	s.phase = PhaseAnswering
	s.show()
	s.startTimer()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case a, ok := <-actions:
			if !ok {
				if s.phase == PhaseAnswering {
					s.record()
				}
				return r.finish(ctx, s, start, ReasonQuit)
			}

			switch a.Type {
			case ActionSelect:
				if s.phase == PhaseAnswering {
					s.selection = a.Answer
				}
			case ActionExplain:
				if s.phase != PhaseAnswering {
					continue
				}
				s.record()
				s.stopTimer()
				s.phase = PhaseReviewing
				r.emit(r.explain(s.index, s.answers[s.index]))
			case ActionNext:
				if s.phase == PhaseAnswering {
					s.record()
				}
				if !s.advance() {
					return r.finish(ctx, s, start, ReasonCompleted)
				}
			case ActionQuit:
				if s.phase == PhaseAnswering {
					s.record()
				}
				return r.finish(ctx, s, start, ReasonQuit)
			default:
				log.Warnf("match %s: unknown action %q", r.cfg.MatchID, a.Type)
			}

		case <-s.tick():
			if r.cfg.QuestionSeconds > 0 {
				s.questionLeft--
			}
			if r.cfg.MatchSeconds > 0 {
				s.matchLeft--
			}
			r.emit(Event{
				Type:         EventTick,
				Index:        s.index,
				Total:        len(r.questions),
				QuestionLeft: s.questionLeft,
				MatchLeft:    s.matchLeft,
			})

			if r.cfg.MatchSeconds > 0 && s.matchLeft <= 0 {
				s.record()
				return r.finish(ctx, s, start, ReasonTimeout)
			}
			if r.cfg.QuestionSeconds > 0 && s.questionLeft <= 0 {
				s.record()
				r.emit(Event{Type: EventTimeout, Index: s.index, Total: len(r.questions)})
				if !s.advance() {
					return r.finish(ctx, s, start, ReasonCompleted)
				}
			}
		}
	}
}

func (r *Runner) correct(q Question, answer string) bool {
	if q.Kind == KindText {
		return r.cfg.Strategy.Equivalent(answer, q.Correct)
	}
	return grading.ChoiceCorrect(answer, q.Correct)
}

func (r *Runner) explain(index int, answer string) Event {
	q := r.questions[index]
	ok := r.correct(q, answer)
	return Event{
		Type:          EventExplanation,
		Index:         index,
		Total:         len(r.questions),
		Correct:       &ok,
		CorrectAnswer: q.Correct,
		Explanation:   q.Explanation,
	}
}

// Score grades answers against the questions and builds the submission.
func (r *Runner) Score(answers []string, elapsed time.Duration) tournament.MatchSubmission {
	total := len(r.questions)
	results := make([]tournament.DetailedResult, total)
	correct := 0
	for i, q := range r.questions {
		ok := r.correct(q, answers[i])
		if ok {
			correct++
		}
		results[i] = tournament.DetailedResult{
			QuestionIndex: i,
			Question:      q.Prompt,
			UserAnswer:    answers[i],
			CorrectAnswer: q.Correct,
			IsCorrect:     ok,
			Explanation:   q.Explanation,
		}
	}

	score := float64(correct) / float64(total)
	return tournament.MatchSubmission{
		UserAddress:      tournament.NormalizeAddress(r.cfg.Player),
		Answers:          answers,
		Score:            score,
		CorrectAnswers:   correct,
		TotalQuestions:   total,
		CompletionTimeMs: elapsed.Milliseconds(),
		Percentage:       math.Round(score*10000) / 100,
		DetailedResults:  results,
	}
}

func (r *Runner) finish(ctx context.Context, s *session, start time.Time, reason string) (*Result, error) {
	s.stopTimer()
	s.phase = PhaseFinished

	sub := r.Score(s.answers, r.now().Sub(start))
	res := &Result{Submission: sub, Reason: reason}
	r.emit(Event{Type: EventFinished, Total: sub.TotalQuestions, Submission: &sub, FinishReason: reason})

	if r.submitter == nil {
		return res, nil
	}
	resp, err := r.submitter.SubmitAnswers(ctx, r.cfg.TournamentID, r.cfg.MatchID, sub)
	if err != nil {
		return res, fmt.Errorf("submit match %s: %w", r.cfg.MatchID, err)
	}
	res.Response = resp
	return res, nil
}
