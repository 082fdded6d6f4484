package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// Provider constructs chat models for one upstream vendor.
type Provider interface {
	Slug() string
	ConstructModel(ctx context.Context, nativeID string) (model.ToolCallingChatModel, error)
}

// Handle is a ready-to-call model together with how it was resolved.
type Handle struct {
	// ModelID is the identifier the client selected, when known.
	ModelID  string
	Provider string
	NativeID string
	Model    model.ToolCallingChatModel
}

func (h Handle) String() string {
	return fmt.Sprintf("%s/%s", h.Provider, h.NativeID)
}

// unavailableModel stands in when even the default model cannot be
// constructed; every call reports the construction error.
type unavailableModel struct {
	err error
}

func (m unavailableModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	return nil, m.err
}

func (m unavailableModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, m.err
}

func (m unavailableModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return m, nil
}

var errNoDefault = errors.New("default model unavailable")
