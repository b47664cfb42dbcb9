package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/studyhub-companion/internal/dto"
	"github.com/noah-isme/studyhub-companion/pkg/apiclient"
)

type stubDiscussionClient struct {
	threads  []apiclient.ThreadInput
	patches  []apiclient.ThreadPatch
	votes    []apiclient.ThreadVote
	comments []apiclient.CommentInput
}

func (s *stubDiscussionClient) Threads(context.Context, string) (json.RawMessage, error) {
	return json.RawMessage(`[]`), nil
}

func (s *stubDiscussionClient) CreateThread(_ context.Context, input apiclient.ThreadInput) (json.RawMessage, error) {
	s.threads = append(s.threads, input)
	return json.RawMessage(`{"id":"t-1"}`), nil
}

func (s *stubDiscussionClient) UpdateThread(_ context.Context, _ string, patch apiclient.ThreadPatch) (json.RawMessage, error) {
	s.patches = append(s.patches, patch)
	return json.RawMessage(`{"id":"t-1"}`), nil
}

func (s *stubDiscussionClient) DeleteThread(context.Context, string) error {
	return nil
}

func (s *stubDiscussionClient) VoteThread(_ context.Context, _ string, vote apiclient.ThreadVote) (json.RawMessage, error) {
	s.votes = append(s.votes, vote)
	return json.RawMessage(`{"score":1}`), nil
}

func (s *stubDiscussionClient) AddComment(_ context.Context, _ string, input apiclient.CommentInput) (json.RawMessage, error) {
	s.comments = append(s.comments, input)
	return json.RawMessage(`{"id":"c-1"}`), nil
}

func (s *stubDiscussionClient) DeleteComment(context.Context, string, string) error {
	return nil
}

func TestDiscussionServiceSanitizesContent(t *testing.T) {
	client := &stubDiscussionClient{}
	svc := NewDiscussionService(client, newValidator(), zerolog.Nop())

	_, err := svc.CreateThread(context.Background(), dto.ThreadCreateRequest{
		GroupID: "g1",
		Title:   "<b>Exam prep</b><script>alert(1)</script>",
		Body:    "Bring notes<br><img src=x onerror=alert(1)>",
	})
	require.NoError(t, err)
	require.Len(t, client.threads, 1)
	require.Equal(t, "<b>Exam prep</b>", client.threads[0].Title)
	require.NotContains(t, client.threads[0].Body, "onerror")
	require.Contains(t, client.threads[0].Body, "Bring notes<br")

	_, err = svc.AddComment(context.Background(), "t-1", dto.CommentCreateRequest{Body: "<script>x()</script>"})
	require.ErrorIs(t, err, ErrEmptyAfterSanitize)
	require.Empty(t, client.comments)

	_, err = svc.AddComment(context.Background(), "t-1", dto.CommentCreateRequest{Body: "  agreed  "})
	require.NoError(t, err)
	require.Equal(t, "agreed", client.comments[0].Body)
}

func TestDiscussionServiceUpdateAndVote(t *testing.T) {
	client := &stubDiscussionClient{}
	svc := NewDiscussionService(client, newValidator(), zerolog.Nop())

	body := "<i>updated</i>"
	_, err := svc.UpdateThread(context.Background(), "t-1", dto.ThreadUpdateRequest{Body: &body})
	require.NoError(t, err)
	require.Nil(t, client.patches[0].Title)
	require.Equal(t, "<i>updated</i>", *client.patches[0].Body)

	_, err = svc.VoteThread(context.Background(), "t-1", dto.ThreadVoteRequest{Value: 2})
	require.True(t, isValidationErr(err))

	_, err = svc.VoteThread(context.Background(), "t-1", dto.ThreadVoteRequest{Value: -1})
	require.NoError(t, err)
	require.Equal(t, []apiclient.ThreadVote{{Value: -1}}, client.votes)

	_, err = svc.CreateThread(context.Background(), dto.ThreadCreateRequest{Title: "missing group", Body: "x"})
	require.True(t, isValidationErr(err))
}
