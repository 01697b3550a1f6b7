package tournament

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusCanAdvanceTo(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusRegistration, StatusActive, true},
		{StatusActive, StatusCompleted, true},
		{StatusRegistration, StatusCompleted, true},
		{StatusActive, StatusActive, true},
		{StatusActive, StatusRegistration, false},
		{StatusCompleted, StatusActive, false},
		{StatusRegistration, Status("paused"), false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanAdvanceTo(tt.to))
		})
	}
}

func TestMatchValidateWinner(t *testing.T) {
	m := Match{ID: "m-1", Player1Address: "0xAAA", Player2Address: "0xbbb"}
	assert.NoError(t, m.Validate())

	m.WinnerAddress = "0xaaa"
	assert.NoError(t, m.Validate())

	m.WinnerAddress = "0xccc"
	assert.ErrorIs(t, m.Validate(), ErrWinnerNotPlayer)
}

func TestQuizQuestionValidate(t *testing.T) {
	q := QuizQuestion{
		Question:      "What is 2+2?",
		Options:       Options{A: "3", B: "4", C: "5", D: "22"},
		CorrectAnswer: "B",
	}
	assert.NoError(t, q.Validate())

	q.CorrectAnswer = "E"
	assert.ErrorIs(t, q.Validate(), ErrInvalidQuestion)

	q.CorrectAnswer = "b"
	assert.ErrorIs(t, q.Validate(), ErrInvalidQuestion)
}

func TestSubmissionValidate(t *testing.T) {
	s := MatchSubmission{
		Answers:         []string{"A", ""},
		TotalQuestions:  2,
		DetailedResults: make([]DetailedResult, 2),
	}
	assert.NoError(t, s.Validate())

	s.TotalQuestions = 3
	assert.ErrorIs(t, s.Validate(), ErrSubmissionMismatch)
}

func TestTournamentCapacityAndParticipants(t *testing.T) {
	tr := sampleTournament()
	assert.False(t, tr.IsFull())
	assert.True(t, tr.IsParticipant(" 0xDEF "))
	assert.False(t, tr.IsParticipant("0x999"))

	tr.CurrentPlayers = tr.MaxPlayers
	assert.True(t, tr.IsFull())
}

func TestSubjects(t *testing.T) {
	subs := Subjects()
	assert.Len(t, subs, 25)
	assert.True(t, IsKnownSubject("physics"))
	assert.False(t, IsKnownSubject("alchemy"))

	subs[0] = "changed"
	assert.Equal(t, "mathematics", Subjects()[0])
}
