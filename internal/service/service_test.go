package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/streamchat/internal/intent"
	"github.com/capitalize-ai/streamchat/internal/llm"
	"github.com/capitalize-ai/streamchat/internal/model"
	"github.com/capitalize-ai/streamchat/internal/store"
	"github.com/capitalize-ai/streamchat/pkg/logger"
)

type fakeLLM struct {
	deltas []string
	err    error
	got    *llm.CompletionRequest
}

func (f *fakeLLM) Complete(context.Context, *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeLLM) CompleteStream(_ context.Context, req *llm.CompletionRequest, cb llm.StreamCallback) (*llm.CompletionResponse, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	for i, d := range f.deltas {
		if err := cb(d, i); err != nil {
			return nil, err
		}
	}
	return &llm.CompletionResponse{Content: strings.Join(f.deltas, ""), Model: req.Model}, nil
}

func (f *fakeLLM) Name() string     { return "fake" }
func (f *fakeLLM) Models() []string { return nil }

type fakeAugmenter struct {
	block string
	err   error
	calls []intent.Intent
}

func (f *fakeAugmenter) Augment(_ context.Context, res intent.Result, _ string) (string, error) {
	f.calls = append(f.calls, res.Intent)
	return f.block, f.err
}

type fakeImages struct{ prompt string }

func (f *fakeImages) GenerateImage(_ context.Context, prompt string) (*llm.Image, error) {
	f.prompt = prompt
	return &llm.Image{URL: "https://img.example/cat.png"}, nil
}

func userRequest(text string) *model.ChatRequest {
	return &model.ChatRequest{Messages: []model.ChatMessage{{Role: model.RoleUser, Content: text}}}
}

func collect(out *[]string) DeltaFunc {
	return func(text string) error {
		*out = append(*out, text)
		return nil
	}
}

func TestChatService_StreamsWithSystemPrompt(t *testing.T) {
	client := &fakeLLM{deltas: []string{"Hel", "lo"}}
	svc := NewChatService(intent.Default(), client, ChatConfig{SystemPrompt: "Be brief.", Model: "m1"}, logger.Nop())

	var got []string
	reply, err := svc.Stream(context.Background(), userRequest("hi there"), collect(&got))
	require.NoError(t, err)
	require.Equal(t, []string{"Hel", "lo"}, got)
	require.Equal(t, "Hello", reply.Content)
	require.Equal(t, intent.Direct, reply.Intent.Intent)
	require.Equal(t, "Be brief.", client.got.System)
	require.Equal(t, "m1", client.got.Model)
}

func TestChatService_RejectsMissingUserMessage(t *testing.T) {
	svc := NewChatService(intent.Default(), &fakeLLM{}, ChatConfig{}, logger.Nop())

	_, err := svc.Stream(context.Background(), &model.ChatRequest{}, collect(new([]string)))
	require.ErrorIs(t, err, ErrNoUserMessage)

	req := &model.ChatRequest{Messages: []model.ChatMessage{{Role: model.RoleAssistant, Content: "x"}}}
	_, err = svc.Stream(context.Background(), req, collect(new([]string)))
	require.ErrorIs(t, err, ErrNoUserMessage)
}

func TestChatService_AugmentsRealTimeIntents(t *testing.T) {
	client := &fakeLLM{deltas: []string{"Sunny"}}
	aug := &fakeAugmenter{block: "Real-time data (weather): 21C"}
	svc := NewChatService(intent.Default(), client, ChatConfig{SystemPrompt: "Be brief."}, logger.Nop(), WithAugmenter(aug))

	_, err := svc.Stream(context.Background(), userRequest("what's the weather in Paris"), collect(new([]string)))
	require.NoError(t, err)
	require.Equal(t, []intent.Intent{intent.Weather}, aug.calls)
	require.Equal(t, "Be brief.\n\nReal-time data (weather): 21C", client.got.System)
}

func TestChatService_AugmentFailureDegradesToDirect(t *testing.T) {
	client := &fakeLLM{deltas: []string{"I can't check right now."}}
	aug := &fakeAugmenter{err: errors.New("upstream down")}
	svc := NewChatService(intent.Default(), client, ChatConfig{SystemPrompt: "Be brief."}, logger.Nop(), WithAugmenter(aug))

	var got []string
	_, err := svc.Stream(context.Background(), userRequest("bitcoin price"), collect(&got))
	require.NoError(t, err)
	require.Equal(t, "Be brief.", client.got.System)
	require.Len(t, got, 1)
}

func TestChatService_ImageGenerationSingleDelta(t *testing.T) {
	client := &fakeLLM{}
	images := &fakeImages{}
	svc := NewChatService(intent.Default(), client, ChatConfig{}, logger.Nop(), WithImages(images))

	var got []string
	reply, err := svc.Stream(context.Background(), userRequest("generate an image of a cat"), collect(&got))
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "![generated image](https://img.example/cat.png)", got[0])
	require.Equal(t, intent.ImageGeneration, reply.Intent.Intent)
	require.Equal(t, "generate an image of a cat", images.prompt)
	require.Nil(t, client.got)
}

func TestChatService_VisionUsesVisionClient(t *testing.T) {
	text := &fakeLLM{}
	vision := &fakeLLM{deltas: []string{"A cat."}}
	svc := NewChatService(intent.Default(), text, ChatConfig{Model: "m1", VisionModel: "v1"}, logger.Nop(), WithVision(vision))

	req := &model.ChatRequest{Messages: []model.ChatMessage{{
		Role: model.RoleUser, Content: "what is this?", Images: []string{"data:image/png;base64,AAAA"},
	}}}
	reply, err := svc.Stream(context.Background(), req, collect(new([]string)))
	require.NoError(t, err)
	require.Equal(t, intent.Vision, reply.Intent.Intent)
	require.Nil(t, text.got)
	require.Equal(t, "v1", vision.got.Model)
	require.Equal(t, []string{"data:image/png;base64,AAAA"}, vision.got.Messages[0].Images)
}

func TestChatService_HistoryLimit(t *testing.T) {
	client := &fakeLLM{deltas: []string{"ok"}}
	svc := NewChatService(intent.Default(), client, ChatConfig{HistoryLimit: 2}, logger.Nop())

	req := &model.ChatRequest{Messages: []model.ChatMessage{
		{Role: model.RoleUser, Content: "one"},
		{Role: model.RoleAssistant, Content: "two"},
		{Role: model.RoleUser, Content: "three"},
	}}
	_, err := svc.Stream(context.Background(), req, collect(new([]string)))
	require.NoError(t, err)
	require.Len(t, client.got.Messages, 2)
	require.Equal(t, "two", client.got.Messages[0].Content)
}

func TestChatService_UpstreamErrorKeepsAPIError(t *testing.T) {
	client := &fakeLLM{err: &llm.APIError{Provider: "fake", Status: 429, Message: "slow down"}}
	svc := NewChatService(intent.Default(), client, ChatConfig{}, logger.Nop())

	_, err := svc.Stream(context.Background(), userRequest("hi"), collect(new([]string)))
	apiErr, ok := llm.AsAPIError(err)
	require.True(t, ok)
	require.True(t, apiErr.RateLimited())
}

func TestImageMarkdown_InlineAndRevisedPrompt(t *testing.T) {
	md := ImageMarkdown(&llm.Image{B64JSON: "QUJD", RevisedPrompt: "a tabby cat"})
	require.Equal(t, "![generated image](data:image/png;base64,QUJD)\n\n*a tabby cat*", md)
}

func newConversations(t *testing.T) *ConversationService {
	t.Helper()
	svc := NewConversationService(store.NewMemory(), logger.Nop())
	svc.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return svc
}

func TestConversationService_CRUD(t *testing.T) {
	ctx := context.Background()
	svc := newConversations(t)

	conv, err := svc.Create(ctx, "t1", "u1", &model.CreateConversationRequest{Title: "Trip plans"})
	require.NoError(t, err)
	require.NotEmpty(t, conv.ID)

	got, err := svc.Get(ctx, "t1", conv.ID)
	require.NoError(t, err)
	require.Equal(t, "Trip plans", got.Title)

	_, err = svc.Get(ctx, "t2", conv.ID)
	require.ErrorIs(t, err, store.ErrNotFound)

	updated, err := svc.Update(ctx, "t1", conv.ID, &model.UpdateConversationRequest{Title: "Renamed"})
	require.NoError(t, err)
	require.Equal(t, "Renamed", updated.Title)

	list, err := svc.List(ctx, "t1", "u1", 10, 0)
	require.NoError(t, err)
	require.Equal(t, 1, list.Total)
	require.False(t, list.HasMore)

	require.NoError(t, svc.Delete(ctx, "t1", conv.ID))
	_, err = svc.Get(ctx, "t1", conv.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestConversationService_FirstUserTurnTitles(t *testing.T) {
	ctx := context.Background()
	svc := newConversations(t)

	conv, err := svc.Create(ctx, "t1", "u1", &model.CreateConversationRequest{})
	require.NoError(t, err)

	long := strings.Repeat("é", 60)
	_, err = svc.SaveTurn(ctx, "t1", conv.ID, &model.SaveTurnRequest{ID: "a", Role: model.RoleUser, Content: long})
	require.NoError(t, err)

	got, err := svc.Get(ctx, "t1", conv.ID)
	require.NoError(t, err)
	require.Equal(t, strings.Repeat("é", 50)+"...", got.Title)

	_, err = svc.SaveTurn(ctx, "t1", conv.ID, &model.SaveTurnRequest{ID: "b", Role: model.RoleUser, Content: "second"})
	require.NoError(t, err)
	got, err = svc.Get(ctx, "t1", conv.ID)
	require.NoError(t, err)
	require.Equal(t, strings.Repeat("é", 50)+"...", got.Title)
}

func TestConversationService_TurnLifecycle(t *testing.T) {
	ctx := context.Background()
	svc := newConversations(t)

	conv, err := svc.Create(ctx, "t1", "u1", &model.CreateConversationRequest{Title: "x"})
	require.NoError(t, err)

	_, err = svc.SaveTurn(ctx, "t1", conv.ID, &model.SaveTurnRequest{ID: "u", Role: model.RoleUser, Content: "hi"})
	require.NoError(t, err)
	_, err = svc.SaveTurn(ctx, "t1", conv.ID, &model.SaveTurnRequest{ID: "a", Role: model.RoleAssistant, Content: "hello"})
	require.NoError(t, err)

	pinned, err := svc.PinTurn(ctx, "t1", conv.ID, "a", true)
	require.NoError(t, err)
	require.True(t, pinned.Pinned)

	turns, err := svc.Turns(ctx, "t1", conv.ID)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	require.True(t, turns[1].Pinned)

	require.NoError(t, svc.DeleteTurn(ctx, "t1", conv.ID, "a"))
	require.ErrorIs(t, svc.DeleteTurn(ctx, "t1", conv.ID, "a"), store.ErrNotFound)

	turns, err = svc.Turns(ctx, "t1", conv.ID)
	require.NoError(t, err)
	require.Len(t, turns, 1)

	_, err = svc.SaveTurn(ctx, "t1", conv.ID, &model.SaveTurnRequest{Role: "system", Content: "x"})
	require.ErrorIs(t, err, ErrInvalidTurn)
}
