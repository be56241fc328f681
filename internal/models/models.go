package models

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// Correctness is the tri-state flag on a Choice. A choice can be marked
// correct, marked incorrect, or left unset. "unset" is distinct from
// "incorrect": unset choices are excluded from both tallies in reports.
type Correctness int8

const (
	Unset Correctness = iota
	Correct
	Incorrect
)

// Value stores the flag as a nullable boolean column.
func (c Correctness) Value() (driver.Value, error) {
	switch c {
	case Unset:
		return nil, nil
	case Correct:
		return true, nil
	case Incorrect:
		return false, nil
	}
	return nil, fmt.Errorf("invalid correctness value %d", int8(c))
}

// Scan reads the nullable boolean column back into the tri-state flag.
func (c *Correctness) Scan(src interface{}) error {
	if src == nil {
		*c = Unset
		return nil
	}
	switch v := src.(type) {
	case bool:
		if v {
			*c = Correct
		} else {
			*c = Incorrect
		}
		return nil
	case int64: // SQLite stores booleans as integers
		if v != 0 {
			*c = Correct
		} else {
			*c = Incorrect
		}
		return nil
	}
	return fmt.Errorf("cannot scan %T into Correctness", src)
}

func (c Correctness) String() string {
	switch c {
	case Correct:
		return "correct"
	case Incorrect:
		return "incorrect"
	default:
		return "unset"
	}
}

// Question is a poll prompt. Questions are created by an administrator and
// never mutated by end users.
type Question struct {
	ID      uint      `gorm:"primarykey" json:"id"`
	Text    string    `gorm:"size:200;not null" json:"text"`
	PubDate time.Time `gorm:"not null;index" json:"pubDate"`

	Choices []Choice `gorm:"foreignKey:QuestionID;constraint:OnDelete:CASCADE" json:"choices,omitempty"`
}

// WasPublishedRecently reports whether the question was published within the
// last day. Future publication dates are not "recent".
func (q Question) WasPublishedRecently() bool {
	now := time.Now()
	return !q.PubDate.Before(now.Add(-24*time.Hour)) && !q.PubDate.After(now)
}

// Choice is one selectable answer to a Question.
type Choice struct {
	ID         uint        `gorm:"primarykey" json:"id"`
	QuestionID uint        `gorm:"not null;index" json:"questionId"`
	Text       string      `gorm:"size:200;not null" json:"text"`
	Correct    Correctness `gorm:"type:boolean" json:"correct"`

	Votes []Vote `gorm:"foreignKey:ChoiceID;constraint:OnDelete:CASCADE" json:"-"`
}

// Vote is one recorded selection of a Choice. The signature is free text and
// is not checked for uniqueness, so nothing stops the same signature from
// voting twice. CastAt combines the date the voter supplied with the server
// time-of-day at submission.
type Vote struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	ChoiceID  uint      `gorm:"not null;index" json:"choiceId"`
	Signature string    `gorm:"size:50" json:"signature"`
	CastAt    time.Time `gorm:"not null" json:"castAt"`
}
