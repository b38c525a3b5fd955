package models

import (
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// QuestionAnswer is a curated question/answer pair attached to an organization.
type QuestionAnswer struct {
	ID             surrealmodels.RecordID `json:"id"`
	Question       string                 `json:"question"`
	Answer         string                 `json:"answer"`
	OrganizationID string                 `json:"organization_id"`
	Distance       *float64               `json:"distance,omitempty"`
}

// QuestionAnswerInput is the input for storing a question/answer pair.
type QuestionAnswerInput struct {
	ID             string    `json:"-"`
	Question       string    `json:"question"`
	Answer         string    `json:"answer"`
	OrganizationID string    `json:"organization_id"`
	Embedding      []float32 `json:"embedding"`
}

// Text renders the pair the way it is embedded and shown to the model.
func (q QuestionAnswer) Text() string {
	return "Question: " + q.Question + "\nAnswer: " + q.Answer
}
