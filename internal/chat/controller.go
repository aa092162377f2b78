// Package chat drives a conversation from the client side: it commits user
// turns, streams assistant responses into a thread and persists the results.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/streamchat/internal/model"
	"github.com/capitalize-ai/streamchat/internal/store"
	"github.com/capitalize-ai/streamchat/internal/stream"
	"github.com/capitalize-ai/streamchat/pkg/logger"
)

// ErrEmptyMessage is returned by Send when there is neither text nor images.
var ErrEmptyMessage = errors.New("message is empty")

// Opener opens a streamed chat response.
type Opener interface {
	Open(ctx context.Context, req model.ChatRequest) (io.ReadCloser, error)
}

// Options configures a Controller.
type Options struct {
	TenantID string
	UserID   string
	Model    string
	// Scheduler runs throttled pushes; nil pushes inline.
	Scheduler stream.Scheduler
	// Interval overrides the push throttle interval.
	Interval time.Duration
	// OnUpdate receives a copy of the turns after every applied push.
	OnUpdate func([]model.Turn)
	Clock    func() time.Time
}

// Controller owns one thread and the conversation it belongs to.
type Controller struct {
	store  store.Store
	client Opener
	thread *stream.Thread
	opts   Options
	logger *logger.Logger

	mu   sync.Mutex
	conv *model.Conversation
}

// New creates a controller with no conversation selected. The first Send
// creates one.
func New(st store.Store, client Opener, opts Options, log *logger.Logger) *Controller {
	if log == nil {
		log = logger.Nop()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	threadOpts := []stream.Option{stream.WithClock(opts.Clock)}
	if opts.Interval > 0 {
		threadOpts = append(threadOpts, stream.WithInterval(opts.Interval))
	}
	if opts.OnUpdate != nil {
		threadOpts = append(threadOpts, stream.WithObserver(opts.OnUpdate))
	}

	return &Controller{
		store:  st,
		client: client,
		thread: stream.NewThread("", nil, threadOpts...),
		opts:   opts,
		logger: log.Named("chat"),
	}
}

// Conversation returns the selected conversation, or nil.
func (c *Controller) Conversation() *model.Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conv == nil {
		return nil
	}
	conv := *c.conv
	return &conv
}

// Turns returns a copy of the thread.
func (c *Controller) Turns() []model.Turn {
	return c.thread.Turns()
}

// Load selects an existing conversation and replaces the thread with its
// persisted turns.
func (c *Controller) Load(ctx context.Context, conversationID string) error {
	conv, err := c.store.GetConversation(ctx, c.opts.TenantID, conversationID)
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}
	turns, err := c.store.ListTurns(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("load turns: %w", err)
	}

	c.mu.Lock()
	c.conv = conv
	c.mu.Unlock()
	c.thread.Reset(conversationID, turns)
	return nil
}

// Send commits a user message and streams the assistant response. It returns
// the finalized assistant turn, or nil when the response was empty. On a
// stream failure the user turn stays and the partial response is discarded.
func (c *Controller) Send(ctx context.Context, text string, images []string) (*model.Turn, error) {
	if text == "" && len(images) == 0 {
		return nil, ErrEmptyMessage
	}

	conv, err := c.ensureConversation(ctx, text)
	if err != nil {
		return nil, err
	}

	turn := model.Turn{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conv.ID,
		Role:           model.RoleUser,
		Content:        text,
		Images:         images,
		CreatedAt:      c.opts.Clock().UTC(),
	}
	c.thread.Append(turn)
	c.persist(ctx, turn)

	return c.respond(ctx)
}

// Regenerate discards everything after the last user turn and streams a new
// response to it.
func (c *Controller) Regenerate(ctx context.Context) (*model.Turn, error) {
	_, dropped, err := c.thread.Rewind()
	if err != nil {
		return nil, err
	}

	if len(dropped) > 0 {
		if err := c.store.DeleteTurns(ctx, c.thread.ConversationID(), dropped); err != nil {
			c.logger.Warn("failed to delete regenerated turns",
				zap.Strings("turn_ids", dropped),
				zap.Error(err),
			)
		}
	}
	return c.respond(ctx)
}

// Pin sets the pinned flag of a turn and persists it.
func (c *Controller) Pin(ctx context.Context, turnID string, pinned bool) (model.Turn, error) {
	turn, err := c.thread.SetPinned(turnID, pinned)
	if err != nil {
		return model.Turn{}, err
	}
	if err := c.store.SaveTurn(ctx, turn); err != nil {
		return turn, fmt.Errorf("save pinned turn: %w", err)
	}
	return turn, nil
}

func (c *Controller) respond(ctx context.Context) (*model.Turn, error) {
	s := c.thread.Begin()

	req := model.ChatRequest{
		Messages: history(c.thread.Turns()),
		UserID:   c.opts.UserID,
		Model:    c.opts.Model,
	}

	body, err := c.client.Open(ctx, req)
	if err != nil {
		c.thread.Abort(s)
		return nil, err
	}
	defer body.Close()

	final, err := stream.Run(ctx, body, c.thread, s, c.opts.Scheduler)
	if err != nil {
		return nil, err
	}
	if final == nil {
		c.logger.Debug("empty response, nothing to persist", zap.String("session_id", s.ID()))
		return nil, nil
	}

	c.persist(ctx, *final)
	return final, nil
}

// persist saves a turn. The thread stays authoritative for the session, so a
// failure is logged and not returned.
func (c *Controller) persist(ctx context.Context, turn model.Turn) {
	if err := c.store.SaveTurn(ctx, turn); err != nil {
		c.logger.Warn("failed to persist turn",
			zap.String("turn_id", turn.ID),
			zap.String("role", string(turn.Role)),
			zap.Error(err),
		)
	}
}

func (c *Controller) ensureConversation(ctx context.Context, text string) (*model.Conversation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conv != nil {
		return c.conv, nil
	}

	now := c.opts.Clock().UTC()
	conv := &model.Conversation{
		ID:        uuid.Must(uuid.NewV7()).String(),
		TenantID:  c.opts.TenantID,
		UserID:    c.opts.UserID,
		Title:     model.TitleFromText(text),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.store.CreateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}

	c.conv = conv
	c.thread.Reset(conv.ID, nil)
	return conv, nil
}

func history(turns []model.Turn) []model.ChatMessage {
	out := make([]model.ChatMessage, 0, len(turns))
	for _, t := range turns {
		out = append(out, model.ChatMessage{Role: t.Role, Content: t.Content, Images: t.Images})
	}
	return out
}
