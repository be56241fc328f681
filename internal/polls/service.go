package polls

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/pollbox/pollbox/internal/models"
)

// ErrNotFound covers both a nonexistent question and a question that is not
// published yet. Callers cannot tell the two apart.
var ErrNotFound = errors.New("question not found")

// ValidationError is a user-correctable input problem. It is an expected
// branch of vote submission, not a failure: the handler redisplays the form
// with the message.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Service holds all poll operations. It takes an explicit DB handle rather
// than using package-level state.
type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// ListVisibleQuestions returns the questions eligible for the index page:
// published no later than now and having at least one choice, ordered by
// publication date ascending. An empty result is not an error.
func (s *Service) ListVisibleQuestions(now time.Time) ([]models.Question, error) {
	var questions []models.Question
	err := s.db.
		Where("pub_date <= ?", now).
		Where("EXISTS (SELECT 1 FROM choices WHERE choices.question_id = questions.id)").
		Order("pub_date asc").
		Find(&questions).Error
	if err != nil {
		return nil, err
	}
	return questions, nil
}

// GetVisibleQuestion loads one published question with its choices.
// Unpublished questions are treated exactly like missing ones.
func (s *Service) GetVisibleQuestion(id uint, now time.Time) (*models.Question, error) {
	var question models.Question
	err := s.db.
		Preload("Choices").
		Where("pub_date <= ?", now).
		First(&question, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &question, nil
}

// GetQuestion loads a question with its choices regardless of publication
// date. Vote submission and reports are not gated on pub_date.
func (s *Service) GetQuestion(id uint) (*models.Question, error) {
	var question models.Question
	err := s.db.Preload("Choices").First(&question, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &question, nil
}

// VoteInput carries the raw form values of a vote submission. ChoiceID is
// zero when the voter did not pick a choice.
type VoteInput struct {
	ChoiceID  uint
	Signature string
	Date      string // YYYY-MM-DD, supplied by the voter
}

// VoteOutcome reports a successfully recorded vote. Correct drives the
// pass/fail notice shown after the redirect to the results page.
type VoteOutcome struct {
	Question models.Question
	Choice   models.Choice
	Correct  models.Correctness
}

// CastVote validates and records one vote on a question.
//
// The question must exist (ErrNotFound otherwise). The choice must be one of
// the question's own choices; a missing or foreign choice id yields a
// *ValidationError and no vote is written. The stored timestamp combines the
// voter-supplied date with the server's current time-of-day.
//
// There is no duplicate-vote check: the same signature may vote any number of
// times, and concurrent submissions all succeed independently.
func (s *Service) CastVote(questionID uint, input VoteInput) (*VoteOutcome, error) {
	question, err := s.GetQuestion(questionID)
	if err != nil {
		return nil, err
	}

	var chosen *models.Choice
	for i := range question.Choices {
		if question.Choices[i].ID == input.ChoiceID {
			chosen = &question.Choices[i]
			break
		}
	}
	if chosen == nil {
		return nil, &ValidationError{Message: "You didn't select a choice."}
	}

	date, err := time.ParseInLocation("2006-01-02", input.Date, time.Local)
	if err != nil {
		return nil, &ValidationError{Message: "Please enter a valid date."}
	}

	// Date from the voter, time-of-day from the server clock.
	now := time.Now()
	castAt := time.Date(date.Year(), date.Month(), date.Day(),
		now.Hour(), now.Minute(), now.Second(), now.Nanosecond(), time.Local)

	vote := models.Vote{
		ChoiceID:  chosen.ID,
		Signature: input.Signature,
		CastAt:    castAt,
	}
	if err := s.db.Create(&vote).Error; err != nil {
		return nil, err
	}

	return &VoteOutcome{
		Question: *question,
		Choice:   *chosen,
		Correct:  chosen.Correct,
	}, nil
}

// Report aggregates vote statistics for one question.
type Report struct {
	Question       models.Question
	TotalVotes     int64
	CorrectVotes   int64
	IncorrectVotes int64
	MostRecentVote models.Vote
}

// BuildReport computes vote totals and the most recent vote for a question.
// Votes on choices whose correctness flag is unset count toward TotalVotes
// only. A question with zero votes yields ErrNotFound: the most-recent
// lookup has nothing to return.
func (s *Service) BuildReport(questionID uint) (*Report, error) {
	question, err := s.GetQuestion(questionID)
	if err != nil {
		return nil, err
	}

	report := Report{Question: *question}

	base := s.db.Model(&models.Vote{}).
		Joins("JOIN choices ON choices.id = votes.choice_id").
		Where("choices.question_id = ?", questionID)

	if err := base.Session(&gorm.Session{}).Count(&report.TotalVotes).Error; err != nil {
		return nil, err
	}
	if err := base.Session(&gorm.Session{}).
		Where("choices.correct = ?", models.Correct).
		Count(&report.CorrectVotes).Error; err != nil {
		return nil, err
	}
	if err := base.Session(&gorm.Session{}).
		Where("choices.correct = ?", models.Incorrect).
		Count(&report.IncorrectVotes).Error; err != nil {
		return nil, err
	}

	err = s.db.Model(&models.Vote{}).
		Select("votes.*").
		Joins("JOIN choices ON choices.id = votes.choice_id").
		Where("choices.question_id = ?", questionID).
		Order("votes.cast_at desc").
		First(&report.MostRecentVote).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &report, nil
}

// ChoiceTally is one row of the results page: a choice and its vote count.
type ChoiceTally struct {
	Choice models.Choice
	Votes  int64
}

// ChoiceTallies returns the per-choice vote counts for a question, ordered
// by choice id. The question is not re-validated here; callers resolve it
// first through GetVisibleQuestion or BuildReport.
func (s *Service) ChoiceTallies(questionID uint) ([]ChoiceTally, error) {
	var choices []models.Choice
	err := s.db.
		Where("question_id = ?", questionID).
		Order("id asc").
		Find(&choices).Error
	if err != nil {
		return nil, err
	}

	tallies := make([]ChoiceTally, 0, len(choices))
	for _, choice := range choices {
		var count int64
		err := s.db.Model(&models.Vote{}).
			Where("choice_id = ?", choice.ID).
			Count(&count).Error
		if err != nil {
			return nil, err
		}
		tallies = append(tallies, ChoiceTally{Choice: choice, Votes: count})
	}
	return tallies, nil
}
