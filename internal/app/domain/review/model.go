package review

import "time"

// MaxCommentLength bounds review comments.
const MaxCommentLength = 2000

// Review is a client's rating of a completed request.
type Review struct {
	ID             string    `json:"id"`
	RequestID      string    `json:"requestId"`
	ClientID       string    `json:"clientId"`
	ProfessionalID string    `json:"professionalId"`
	Rating         int       `json:"rating"`
	Comment        string    `json:"comment,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Summary aggregates the ratings of a professional.
type Summary struct {
	ProfessionalID string      `json:"professionalId"`
	Average        float64     `json:"average"`
	Count          int         `json:"count"`
	Distribution   map[int]int `json:"distribution"`
}
