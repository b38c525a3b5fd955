package models

// ChatRequest is a user query scoped to one organization.
type ChatRequest struct {
	Query          string `json:"query"`
	OrganizationID string `json:"organization_id"`
}

// ChatResponse carries the generated answer and the context it was built from.
type ChatResponse struct {
	Answer            string   `json:"answer"`
	RelevantDocs      []string `json:"relevant_docs"`
	RelevantQuestions []string `json:"relevant_questions"`
}
