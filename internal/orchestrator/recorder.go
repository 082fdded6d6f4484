package orchestrator

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"streamchat/internal/models"
	"streamchat/internal/sse"
)

// recorder forwards output to the sink and keeps the parts that make up the
// assistant message. Tools may run concurrently, so every method locks.
type recorder struct {
	mu    sync.Mutex
	sink  Sink
	parts []models.Part
	log   *zap.Logger
}

func newRecorder(sink Sink, log *zap.Logger) *recorder {
	return &recorder{sink: sink, log: log}
}

func (r *recorder) emit(event string, data any) {
	if err := r.sink.Emit(event, data); err != nil {
		r.log.Debug("sink write failed", zap.String("event", event), zap.Error(err))
	}
}

func (r *recorder) text(delta string) {
	if delta == "" {
		return
	}
	r.mu.Lock()
	if n := len(r.parts); n > 0 && r.parts[n-1].Type == models.PartText {
		r.parts[n-1].Text += delta
	} else {
		r.parts = append(r.parts, models.Part{Type: models.PartText, Text: delta})
	}
	r.emit(sse.EventTextDelta, payload{"text": delta})
	r.mu.Unlock()
}

func (r *recorder) reasoning(delta string) {
	if delta == "" {
		return
	}
	r.mu.Lock()
	r.emit(sse.EventReasoning, payload{"text": delta})
	r.mu.Unlock()
}

// WriteData lets tools stream custom data events.
func (r *recorder) WriteData(kind string, content any) {
	r.mu.Lock()
	r.emit(sse.EventData, payload{"type": kind, "content": content})
	r.mu.Unlock()
}

func (r *recorder) toolCall(id, name, args string) {
	raw := json.RawMessage(args)
	if !json.Valid(raw) {
		raw = nil
	}
	r.mu.Lock()
	r.parts = append(r.parts, models.Part{
		Type: models.PartToolInvocation,
		ToolInvocation: &models.ToolInvocation{
			ToolCallID: id,
			ToolName:   name,
			Args:       raw,
			State:      models.ToolStateCall,
		},
	})
	r.emit(sse.EventToolCall, payload{"toolCallId": id, "toolName": name, "args": raw})
	r.mu.Unlock()
}

func (r *recorder) toolResult(id, result string) {
	r.mu.Lock()
	for i := range r.parts {
		inv := r.parts[i].ToolInvocation
		if inv != nil && inv.ToolCallID == id {
			inv.Result = result
			inv.State = models.ToolStateResult
			break
		}
	}
	r.emit(sse.EventToolResult, payload{"toolCallId": id, "result": result})
	r.mu.Unlock()
}

// message builds the assistant message, or nil when nothing was produced.
func (r *recorder) message(id, chatID string) *models.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.parts) == 0 {
		return nil
	}
	parts := make([]models.Part, len(r.parts))
	for i, p := range r.parts {
		if p.ToolInvocation != nil {
			inv := *p.ToolInvocation
			p.ToolInvocation = &inv
		}
		parts[i] = p
	}
	return &models.Message{
		ID:        id,
		ChatID:    chatID,
		Role:      models.RoleAssistant,
		Parts:     parts,
		CreatedAt: time.Now().UTC(),
	}
}

type payload = map[string]any

// observedTool reports each invocation to the recorder. Tool failures are
// handed back to the model as a result instead of aborting the run.
type observedTool struct {
	tool.InvokableTool
	rec *recorder
}

func (t observedTool) InvokableRun(ctx context.Context, args string, opts ...tool.Option) (string, error) {
	name := ""
	if info, err := t.Info(ctx); err == nil {
		name = info.Name
	}
	id := compose.GetToolCallID(ctx)
	if id == "" {
		id = uuid.NewString()
	}
	t.rec.toolCall(id, name, args)
	out, err := t.InvokableTool.InvokableRun(ctx, args, opts...)
	if err != nil {
		t.rec.log.Warn("tool failed", zap.String("tool", name), zap.Error(err))
		b, _ := json.Marshal(payload{"error": err.Error()})
		out = string(b)
	}
	t.rec.toolResult(id, out)
	return out, nil
}
