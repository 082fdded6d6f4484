package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/flow/agent/react"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"streamchat/internal/conversation"
	"streamchat/internal/models"
	"streamchat/internal/provider"
	"streamchat/internal/sse"
	"streamchat/internal/tools"
)

// GenericErrorMessage is the only error text clients ever see mid-stream.
const GenericErrorMessage = "Oops, an error occurred!"

const defaultMaxRoundTrips = 5

// Sink receives stream events in order.
type Sink interface {
	Emit(event string, data any) error
}

// MessageStore persists the finished assistant message.
type MessageStore interface {
	SaveMessages(ctx context.Context, msgs ...*models.Message) error
}

// Notifier is told about persisted messages.
type Notifier interface {
	MessageCreated(ctx context.Context, msg *models.Message)
}

type Option func(*Orchestrator)

func WithMaxRoundTrips(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxRoundTrips = n
		}
	}
}

func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

type Orchestrator struct {
	tools         []tool.InvokableTool
	store         MessageStore
	notifier      Notifier
	maxRoundTrips int
	log           *zap.Logger
}

func New(toolset []tool.InvokableTool, store MessageStore, log *zap.Logger, opts ...Option) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	o := &Orchestrator{
		tools:         toolset,
		store:         store,
		maxRoundTrips: defaultMaxRoundTrips,
		log:           log.Named("orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Request is one generation.
type Request struct {
	UserID int64
	ChatID string
	// MessageID is the id the assistant message is persisted under.
	MessageID  string
	Handle     provider.Handle
	System     string
	Transcript []*models.Message
}

// ToolsFor returns the toolset offered to modelID. Reasoning models get none.
func (o *Orchestrator) ToolsFor(modelID string) []tool.InvokableTool {
	if provider.IsReasoning(modelID) {
		return nil
	}
	return o.tools
}

// Run streams one response into sink and persists it. Failures reach the
// client only as a generic error event; the returned error is for logging.
func (o *Orchestrator) Run(ctx context.Context, req Request, sink Sink) error {
	rec := newRecorder(sink, o.log)
	err := o.run(ctx, req, rec)
	if err != nil {
		o.log.Error("stream failed", zap.String("chat_id", req.ChatID), zap.Stringer("model", req.Handle), zap.Error(err))
		rec.emit(sse.EventError, payload{"message": GenericErrorMessage})
		return err
	}
	return nil
}

func (o *Orchestrator) run(ctx context.Context, req Request, rec *recorder) error {
	if req.Handle.Model == nil {
		return errors.New("no model handle")
	}
	rec.emit(sse.EventStartStep, payload{"messageId": req.MessageID})

	ctx = tools.WithSession(ctx, tools.Session{
		UserID: req.UserID,
		ChatID: req.ChatID,
		Model:  req.Handle.Model,
		Data:   rec,
	})
	input := conversation.ToSchema(req.System, req.Transcript)

	reader, err := o.stream(ctx, req, rec, input)
	finishReason := "stop"
	switch {
	case exceededSteps(err):
		o.log.Info("round-trip cap reached", zap.String("chat_id", req.ChatID))
		finishReason = "tool-calls"
	case err != nil:
		return fmt.Errorf("start stream: %w", err)
	default:
		reason, err := o.consume(reader, rec)
		if err != nil {
			return err
		}
		if reason != "" {
			finishReason = reason
		}
	}

	o.persist(ctx, req, rec)
	rec.emit(sse.EventFinish, payload{"messageId": req.MessageID, "finishReason": finishReason})
	return nil
}

func (o *Orchestrator) stream(ctx context.Context, req Request, rec *recorder, input []*schema.Message) (*schema.StreamReader[*schema.Message], error) {
	available := o.ToolsFor(req.Handle.ModelID)
	if len(available) == 0 {
		return req.Handle.Model.Stream(ctx, input)
	}
	observed := make([]tool.BaseTool, 0, len(available))
	for _, t := range available {
		observed = append(observed, observedTool{InvokableTool: t, rec: rec})
	}
	cfg := &react.AgentConfig{
		ToolCallingModel: req.Handle.Model,
		ToolsConfig:      compose.ToolsNodeConfig{Tools: observed},
		MaxStep:          2 * o.maxRoundTrips,
	}
	if req.Handle.Provider == provider.SlugAnthropic {
		// Claude may stream text before its tool calls.
		cfg.StreamToolCallChecker = anyChunkHasToolCall
	}
	agent, err := react.NewAgent(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init react agent: %w", err)
	}
	return agent.Stream(ctx, input)
}

// consume drains the model stream through the word smoother.
func (o *Orchestrator) consume(reader *schema.StreamReader[*schema.Message], rec *recorder) (string, error) {
	defer reader.Close()
	sm := newSmoother(rec.text)
	var finishReason string
	for {
		chunk, err := reader.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if exceededSteps(err) {
			finishReason = "tool-calls"
			break
		}
		if err != nil {
			return "", fmt.Errorf("receive stream: %w", err)
		}
		if chunk == nil {
			continue
		}
		rec.reasoning(chunk.ReasoningContent)
		sm.write(chunk.Content)
		if chunk.ResponseMeta != nil && chunk.ResponseMeta.FinishReason != "" {
			finishReason = chunk.ResponseMeta.FinishReason
		}
	}
	sm.flush()
	return finishReason, nil
}

func (o *Orchestrator) persist(ctx context.Context, req Request, rec *recorder) {
	msg := rec.message(req.MessageID, req.ChatID)
	if msg == nil {
		o.log.Warn("no assistant message produced, skipping persistence", zap.String("chat_id", req.ChatID), zap.String("message_id", req.MessageID))
		return
	}
	if err := o.store.SaveMessages(ctx, msg); err != nil {
		o.log.Error("persist assistant message", zap.String("chat_id", req.ChatID), zap.String("message_id", req.MessageID), zap.Error(err))
		return
	}
	if o.notifier != nil {
		o.notifier.MessageCreated(ctx, msg)
	}
}

func anyChunkHasToolCall(_ context.Context, sr *schema.StreamReader[*schema.Message]) (bool, error) {
	defer sr.Close()
	for {
		msg, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if len(msg.ToolCalls) > 0 {
			return true, nil
		}
	}
}

func exceededSteps(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, compose.ErrExceedMaxSteps) || strings.Contains(err.Error(), "exceeds max steps")
}
