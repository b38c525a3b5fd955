package service

import (
	"context"
	"errors"
	"testing"

	"github.com/raphaelgruber/kintel/internal/db"
	"github.com/raphaelgruber/kintel/internal/llm"
	"github.com/raphaelgruber/kintel/internal/models"
	"github.com/raphaelgruber/kintel/internal/rerank"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedStore(t *testing.T, emb *wordEmbedder, contents ...string) *db.Memory {
	t.Helper()
	store := db.NewMemory(0)
	docs := make([]models.DocumentInput, len(contents))
	for i, c := range contents {
		docs[i] = models.DocumentInput{
			Content:          c,
			Embedding:        emb.vector(c),
			OrganizationID:   "acme",
			SourceDocumentID: "s1",
			PartNumber:       i + 1,
		}
	}
	require.NoError(t, store.InsertDocuments(context.Background(), docs))
	return store
}

func TestBuildChatContext(t *testing.T) {
	got := buildChatContext(
		[]string{"Question: Q1\nAnswer: A1"},
		[]string{"doc one", "doc two"},
	)
	want := "Relevant questions and answers:\n" +
		"Question: Q1\nAnswer: A1\n\n" +
		"Relevant documents:\n" +
		"1. doc one\n\n" +
		"2. doc two\n\n"
	assert.Equal(t, want, got)

	assert.Equal(t, "Relevant questions and answers:\nRelevant documents:\n", buildChatContext(nil, nil))
}

func TestChatService_Answer(t *testing.T) {
	ctx := context.Background()
	emb := &wordEmbedder{}
	store := seedStore(t, emb, "refund refund within 30 days", "shipping takes a week", "warranty is two years")
	questions := NewQuestionService(store, emb)
	_, err := questions.Add(ctx, "acme", "Can I get a refund?", "Yes, within 30 days.")
	require.NoError(t, err)

	model := &cannedModel{resp: llm.TextResponse("You can get a refund within 30 days.")}
	reranker := &stubReranker{results: []rerank.Result{
		{Index: 0, RelevanceScore: 0.91},
		{Index: 2, RelevanceScore: 0.20},
		{Index: 1, RelevanceScore: 0.35},
		{Index: 9, RelevanceScore: 0.99},
	}}
	chat := NewChatService(store, questions, emb, reranker, model)

	resp, err := chat.Answer(ctx, models.ChatRequest{Query: "refund?", OrganizationID: "acme"})
	require.NoError(t, err)

	assert.Equal(t, "You can get a refund within 30 days.", resp.Answer)
	require.Len(t, resp.RelevantDocs, 2, "score 0.20 is not above the floor and index 9 is out of range")
	assert.Equal(t, "refund refund within 30 days", resp.RelevantDocs[0])
	assert.Equal(t, []string{"Question: Can I get a refund?\nAnswer: Yes, within 30 days."}, resp.RelevantQuestions)

	prompt := model.lastPrompt()
	assert.Contains(t, prompt, "Context:\nRelevant questions and answers:\nQuestion: Can I get a refund?")
	assert.Contains(t, prompt, "Relevant documents:\n1. refund refund within 30 days\n\n2. ")
	assert.Contains(t, prompt, "User's question: refund?\n\nPlease provide a concise and relevant answer:")
}

func TestChatService_RerankFailureKeepsSearchOrder(t *testing.T) {
	ctx := context.Background()
	emb := &wordEmbedder{}
	store := seedStore(t, emb, "refund policy", "shipping policy")
	chat := NewChatService(store, NewQuestionService(store, emb), emb,
		&stubReranker{err: errors.New("cohere down")},
		&cannedModel{resp: llm.TextResponse("ok")})

	resp, err := chat.Answer(ctx, models.ChatRequest{Query: "refund", OrganizationID: "acme"})
	require.NoError(t, err)
	assert.Equal(t, []string{"refund policy", "shipping policy"}, resp.RelevantDocs)
	assert.Empty(t, resp.RelevantQuestions)
}

func TestChatService_NoReranker(t *testing.T) {
	ctx := context.Background()
	emb := &wordEmbedder{}
	store := seedStore(t, emb, "warranty terms")
	chat := NewChatService(store, NewQuestionService(store, emb), emb, nil, &cannedModel{resp: llm.ListResponse("a", "b")})

	resp, err := chat.Answer(ctx, models.ChatRequest{Query: "warranty", OrganizationID: "acme"})
	require.NoError(t, err)
	assert.Equal(t, "a, b", resp.Answer)
	assert.Equal(t, []string{"warranty terms"}, resp.RelevantDocs)
}

func TestChatService_Errors(t *testing.T) {
	ctx := context.Background()
	emb := &wordEmbedder{}
	store := db.NewMemory(0)
	chat := NewChatService(store, NewQuestionService(store, emb), emb, nil, &cannedModel{err: errors.New("quota")})

	_, err := chat.Answer(ctx, models.ChatRequest{Query: "x", OrganizationID: "Not Valid"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = chat.Answer(ctx, models.ChatRequest{Query: "  ", OrganizationID: "acme"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = chat.Answer(ctx, models.ChatRequest{Query: "x", OrganizationID: "acme"})
	assert.ErrorContains(t, err, "generate answer: quota")
}

func TestQuestionService(t *testing.T) {
	ctx := context.Background()
	emb := &wordEmbedder{}
	store := db.NewMemory(0)
	qs := NewQuestionService(store, emb)

	_, err := qs.Add(ctx, "acme", "", "answer")
	assert.ErrorIs(t, err, ErrInvalidInput)

	refund, err := qs.Add(ctx, "acme", "Refund window?", "30 days")
	require.NoError(t, err)
	_, err = qs.Add(ctx, "acme", "Shipping cost?", "Free")
	require.NoError(t, err)

	got, err := qs.Relevant(ctx, "acme", "refund", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Refund window?", got[0].Question)

	all, err := qs.Relevant(ctx, "acme", "anything", 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	id, err := models.RecordIDString(refund.ID)
	require.NoError(t, err)
	require.NoError(t, qs.Delete(ctx, "acme", id))
	assert.ErrorIs(t, qs.Delete(ctx, "acme", id), db.ErrNotFound)
	assert.ErrorIs(t, qs.Delete(ctx, "acme", ""), ErrInvalidInput)
}

func TestDocumentService(t *testing.T) {
	ctx := context.Background()
	emb := &wordEmbedder{}
	store := seedStore(t, emb, "shipping details", "refund details")
	docs := NewDocumentService(store, emb)

	listed, err := docs.Search(ctx, SearchOptions{OrganizationID: "acme"})
	require.NoError(t, err)
	assert.Len(t, listed, 2)

	hits, err := docs.Search(ctx, SearchOptions{OrganizationID: "acme", Query: "refund", Limit: 1})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "refund details", hits[0].Content)

	_, err = docs.Search(ctx, SearchOptions{OrganizationID: "ACME"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	n, err := docs.Delete(ctx, "acme", "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = docs.Delete(ctx, "acme", " ")
	assert.ErrorIs(t, err, ErrInvalidInput)
}
