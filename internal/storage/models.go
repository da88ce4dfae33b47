package storage

import (
	"time"

	"github.com/google/uuid"
)

type Profile struct {
	ID           string    `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	Rating       float64   `json:"rating" db:"rating"`
	TotalRatings int       `json:"total_ratings" db:"total_ratings"`
	SkillsTeach  []string  `json:"skills_teach" db:"skills_teach"`
	SkillsLearn  []string  `json:"skills_learn" db:"skills_learn"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

type Feedback struct {
	ID         uuid.UUID `json:"id" db:"id"`
	FromUserID string    `json:"from_user_id" db:"from_user_id"`
	ToUserID   string    `json:"to_user_id" db:"to_user_id"`
	Rating     int       `json:"rating" db:"rating"`
	Comment    string    `json:"comment" db:"comment"`
	SessionID  uuid.UUID `json:"session_id" db:"session_id"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
