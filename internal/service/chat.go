package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/capitalize-ai/streamchat/internal/intent"
	"github.com/capitalize-ai/streamchat/internal/llm"
	"github.com/capitalize-ai/streamchat/internal/model"
	"github.com/capitalize-ai/streamchat/pkg/logger"
	"github.com/capitalize-ai/streamchat/pkg/metrics"
	"github.com/capitalize-ai/streamchat/pkg/tracing"
)

// ErrNoUserMessage is returned when a chat request does not end with a user
// message.
var ErrNoUserMessage = errors.New("last message must be from the user")

// Augmenter fetches real-time context for a classified message.
type Augmenter interface {
	Augment(ctx context.Context, res intent.Result, text string) (string, error)
}

// DeltaFunc receives each streamed text fragment in order.
type DeltaFunc func(text string) error

// ChatConfig holds model routing settings.
type ChatConfig struct {
	SystemPrompt string
	Model        string
	VisionModel  string
	MaxTokens    int
	Temperature  float64
	// HistoryLimit keeps only the most recent messages; zero keeps all.
	HistoryLimit int
}

// Reply summarises a completed chat request.
type Reply struct {
	Intent    intent.Result
	Model     string
	Content   string
	TokensIn  int
	TokensOut int
}

// ChatService classifies a chat request, augments it and streams the answer.
type ChatService struct {
	classifier *intent.Classifier
	augmenter  Augmenter
	llm        llm.Client
	vision     llm.Client
	images     llm.ImageGenerator
	cfg        ChatConfig
	logger     *logger.Logger
}

// ChatOption customises a ChatService.
type ChatOption func(*ChatService)

// WithAugmenter enables real-time augmentation.
func WithAugmenter(a Augmenter) ChatOption {
	return func(s *ChatService) { s.augmenter = a }
}

// WithVision routes image input to a dedicated client.
func WithVision(c llm.Client) ChatOption {
	return func(s *ChatService) { s.vision = c }
}

// WithImages enables image generation.
func WithImages(g llm.ImageGenerator) ChatOption {
	return func(s *ChatService) { s.images = g }
}

// NewChatService creates a new chat service.
func NewChatService(classifier *intent.Classifier, client llm.Client, cfg ChatConfig, log *logger.Logger, opts ...ChatOption) *ChatService {
	s := &ChatService{
		classifier: classifier,
		llm:        client,
		cfg:        cfg,
		logger:     log.Named("chat"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.vision == nil {
		s.vision = client
	}
	return s
}

// Stream answers req, calling onDelta for every fragment. An error returned
// before the first onDelta call means nothing was streamed.
func (s *ChatService) Stream(ctx context.Context, req *model.ChatRequest, onDelta DeltaFunc) (*Reply, error) {
	last, err := lastUserMessage(req.Messages)
	if err != nil {
		return nil, err
	}

	res := s.classifier.Classify(last.Content, len(last.Images) > 0)
	log := s.logger.With(
		zap.String("intent", string(res.Intent)),
		zap.String("rule", res.Rule),
		zap.String("user_id", req.UserID),
	)
	log.Debug("classified chat request")

	ctx, span := tracing.Start(ctx, "chat.stream")
	defer span.End()
	span.SetAttributes(
		attribute.String("intent", string(res.Intent)),
		attribute.String("rule", res.Rule),
	)

	if res.Intent == intent.ImageGeneration {
		if s.images != nil {
			return s.generateImage(ctx, res, last.Content, onDelta)
		}
		log.Warn("image generation not configured, answering directly")
	}

	system := s.cfg.SystemPrompt
	if s.augmenter != nil {
		block, err := s.augmenter.Augment(ctx, res, last.Content)
		switch {
		case err != nil:
			log.Warn("augmentation failed, answering directly", zap.Error(err))
		case block != "":
			system = joinSystem(system, block)
		}
	}

	client, modelName := s.llm, req.Model
	if modelName == "" {
		modelName = s.cfg.Model
	}
	if res.Intent == intent.Vision {
		client = s.vision
		if s.cfg.VisionModel != "" {
			modelName = s.cfg.VisionModel
		}
	}

	start := time.Now()
	resp, err := client.CompleteStream(ctx, &llm.CompletionRequest{
		Model:       modelName,
		System:      system,
		Messages:    s.history(req.Messages),
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: s.cfg.Temperature,
	}, func(token string, _ int) error {
		return onDelta(token)
	})
	if err != nil {
		metrics.RecordLLMStream(modelName, "error", time.Since(start).Seconds(), 0, 0)
		span.RecordError(err)
		return nil, fmt.Errorf("stream completion: %w", err)
	}

	metrics.RecordLLMStream(resp.Model, "success", time.Since(start).Seconds(), resp.TokensIn, resp.TokensOut)
	log.Info("chat stream completed",
		zap.String("model", resp.Model),
		zap.Int("tokens_in", resp.TokensIn),
		zap.Int("tokens_out", resp.TokensOut),
		zap.Int64("latency_ms", resp.LatencyMs),
	)

	return &Reply{
		Intent:    res,
		Model:     resp.Model,
		Content:   resp.Content,
		TokensIn:  resp.TokensIn,
		TokensOut: resp.TokensOut,
	}, nil
}

// generateImage answers with a single markdown delta embedding the image.
func (s *ChatService) generateImage(ctx context.Context, res intent.Result, prompt string, onDelta DeltaFunc) (*Reply, error) {
	start := time.Now()
	img, err := s.images.GenerateImage(ctx, prompt)
	if err != nil {
		metrics.RecordLLMStream("image", "error", time.Since(start).Seconds(), 0, 0)
		return nil, fmt.Errorf("generate image: %w", err)
	}
	metrics.RecordLLMStream("image", "success", time.Since(start).Seconds(), 0, 0)

	content := ImageMarkdown(img)
	if err := onDelta(content); err != nil {
		return nil, err
	}
	return &Reply{Intent: res, Model: "image", Content: content}, nil
}

// ImageMarkdown renders a generated image as markdown.
func ImageMarkdown(img *llm.Image) string {
	src := img.URL
	if src == "" {
		src = "data:image/png;base64," + img.B64JSON
	}
	var b strings.Builder
	fmt.Fprintf(&b, "![generated image](%s)", src)
	if img.RevisedPrompt != "" {
		fmt.Fprintf(&b, "\n\n*%s*", img.RevisedPrompt)
	}
	return b.String()
}

func (s *ChatService) history(messages []model.ChatMessage) []llm.ChatMessage {
	if n := s.cfg.HistoryLimit; n > 0 && len(messages) > n {
		messages = messages[len(messages)-n:]
	}
	out := make([]llm.ChatMessage, len(messages))
	for i, msg := range messages {
		out[i] = llm.ChatMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
			Images:  msg.Images,
		}
	}
	return out
}

func lastUserMessage(messages []model.ChatMessage) (model.ChatMessage, error) {
	if len(messages) == 0 || messages[len(messages)-1].Role != model.RoleUser {
		return model.ChatMessage{}, ErrNoUserMessage
	}
	return messages[len(messages)-1], nil
}

func joinSystem(prompt, block string) string {
	if prompt == "" {
		return block
	}
	return prompt + "\n\n" + block
}
