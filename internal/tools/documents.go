package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"streamchat/internal/models"
)

const maxSuggestions = 5

// DocumentStore persists document versions and their suggestions.
type DocumentStore interface {
	SaveDocument(ctx context.Context, doc *models.Document) error
	GetDocumentByID(ctx context.Context, id string) (*models.Document, error)
	SaveSuggestions(ctx context.Context, suggestions []*models.Suggestion) error
}

var kindPrompts = map[models.DocumentKind]string{
	models.DocumentText:  "Write about the given topic. Markdown is supported. Use headings wherever appropriate.",
	models.DocumentCode:  "You are a code generator that creates self-contained, executable code snippets. Keep snippets concise and include helpful comments. Return only the code.",
	models.DocumentSheet: "You are a spreadsheet creation assistant. Create a spreadsheet in csv format based on the given prompt. The data should contain meaningful column headers and data.",
}

type documentTools struct {
	store DocumentStore
	log   *zap.Logger
}

type createDocumentParams struct {
	Title string `json:"title"`
	Kind  string `json:"kind"`
}

type updateDocumentParams struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

type requestSuggestionsParams struct {
	DocumentID string `json:"documentId"`
}

type documentResult struct {
	ID      string              `json:"id"`
	Title   string              `json:"title"`
	Kind    models.DocumentKind `json:"kind"`
	Content string              `json:"content,omitempty"`
	Message string              `json:"message,omitempty"`
}

func (d *documentTools) createTool() tool.InvokableTool {
	info := &schema.ToolInfo{
		Name: NameCreateDocument,
		Desc: "Create a document for writing or content creation activities. The content is generated from the title and kind.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"title": {Desc: "Document title", Type: schema.String, Required: true},
			"kind": {
				Desc:     "Document kind",
				Type:     schema.String,
				Enum:     []string{string(models.DocumentText), string(models.DocumentCode), string(models.DocumentSheet)},
				Required: true,
			},
		}),
	}
	return utils.NewTool(info, d.create)
}

func (d *documentTools) updateTool() tool.InvokableTool {
	info := &schema.ToolInfo{
		Name: NameUpdateDocument,
		Desc: "Update a document with the given description of changes.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"id":          {Desc: "The ID of the document to update", Type: schema.String, Required: true},
			"description": {Desc: "The description of changes that need to be made", Type: schema.String, Required: true},
		}),
	}
	return utils.NewTool(info, d.update)
}

func (d *documentTools) suggestionsTool() tool.InvokableTool {
	info := &schema.ToolInfo{
		Name: NameRequestSuggestions,
		Desc: "Request writing suggestions for an existing document.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"documentId": {Desc: "The ID of the document to request suggestions for", Type: schema.String, Required: true},
		}),
	}
	return utils.NewTool(info, d.suggest)
}

func (d *documentTools) create(ctx context.Context, params *createDocumentParams) (string, error) {
	s, err := requireSession(ctx)
	if err != nil {
		return "", err
	}
	if params == nil || strings.TrimSpace(params.Title) == "" {
		return "", errors.New("title is required")
	}
	kind := models.DocumentKind(params.Kind)
	if _, ok := kindPrompts[kind]; !ok {
		return "", fmt.Errorf("unsupported document kind: %q", params.Kind)
	}
	id := uuid.NewString()

	s.write("kind", kind)
	s.write("id", id)
	s.write("title", params.Title)
	s.write("clear", "")

	content, err := streamText(ctx, s.Model, []*schema.Message{
		schema.SystemMessage(kindPrompts[kind]),
		schema.UserMessage(params.Title),
	}, func(delta string) { s.write(string(kind)+"-delta", delta) })
	if err != nil {
		return "", fmt.Errorf("generate document: %w", err)
	}

	doc := &models.Document{ID: id, Title: params.Title, Kind: kind, Content: content, UserID: s.UserID, CreatedAt: time.Now().UTC()}
	if err := d.store.SaveDocument(ctx, doc); err != nil {
		return "", err
	}
	s.write("finish", "")
	return marshalResult(documentResult{
		ID:      id,
		Title:   params.Title,
		Kind:    kind,
		Content: "A document was created and is now visible to the user.",
	})
}

func (d *documentTools) update(ctx context.Context, params *updateDocumentParams) (string, error) {
	s, err := requireSession(ctx)
	if err != nil {
		return "", err
	}
	if params == nil || params.ID == "" {
		return "", errors.New("id is required")
	}
	doc, err := d.ownedDocument(ctx, s, params.ID)
	if err != nil {
		return "", err
	}

	s.write("clear", doc.Title)
	system := fmt.Sprintf("Improve the following contents of the %s document based on the given prompt.\n\n%s", doc.Kind, doc.Content)
	content, err := streamText(ctx, s.Model, []*schema.Message{
		schema.SystemMessage(system),
		schema.UserMessage(params.Description),
	}, func(delta string) { s.write(string(doc.Kind)+"-delta", delta) })
	if err != nil {
		return "", fmt.Errorf("update document: %w", err)
	}

	next := &models.Document{ID: doc.ID, Title: doc.Title, Kind: doc.Kind, Content: content, UserID: s.UserID, CreatedAt: time.Now().UTC()}
	if !next.CreatedAt.After(doc.CreatedAt) {
		next.CreatedAt = doc.CreatedAt.Add(time.Millisecond)
	}
	if err := d.store.SaveDocument(ctx, next); err != nil {
		return "", err
	}
	s.write("finish", "")
	return marshalResult(documentResult{
		ID:      doc.ID,
		Title:   doc.Title,
		Kind:    doc.Kind,
		Content: "The document has been updated successfully.",
	})
}

type suggestionDraft struct {
	OriginalSentence  string `json:"originalSentence"`
	SuggestedSentence string `json:"suggestedSentence"`
	Description       string `json:"description"`
}

func (d *documentTools) suggest(ctx context.Context, params *requestSuggestionsParams) (string, error) {
	s, err := requireSession(ctx)
	if err != nil {
		return "", err
	}
	if params == nil || params.DocumentID == "" {
		return "", errors.New("documentId is required")
	}
	doc, err := d.ownedDocument(ctx, s, params.DocumentID)
	if err != nil {
		return "", err
	}
	if s.Model == nil {
		return "", errors.New("no model available")
	}

	out, err := s.Model.Generate(ctx, []*schema.Message{
		schema.SystemMessage(fmt.Sprintf(`You are a help writing assistant. Given a piece of writing, offer suggestions to improve it and describe the change. Offer at most %d suggestions.
Reply with a JSON array only, each element shaped {"originalSentence": "...", "suggestedSentence": "...", "description": "..."}.`, maxSuggestions)),
		schema.UserMessage(doc.Content),
	})
	if err != nil {
		return "", fmt.Errorf("request suggestions: %w", err)
	}
	drafts, err := parseSuggestions(out.Content)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	saved := make([]*models.Suggestion, 0, len(drafts))
	for _, draft := range drafts {
		sg := &models.Suggestion{
			ID:                uuid.NewString(),
			DocumentID:        doc.ID,
			DocumentCreatedAt: doc.CreatedAt,
			OriginalText:      draft.OriginalSentence,
			SuggestedText:     draft.SuggestedSentence,
			Description:       draft.Description,
			UserID:            s.UserID,
			CreatedAt:         now,
		}
		s.write("suggestion", sg)
		saved = append(saved, sg)
	}
	if len(saved) > 0 {
		if err := d.store.SaveSuggestions(ctx, saved); err != nil {
			return "", err
		}
	}
	return marshalResult(documentResult{
		ID:      doc.ID,
		Title:   doc.Title,
		Kind:    doc.Kind,
		Message: "Suggestions have been added to the document",
	})
}

func (d *documentTools) ownedDocument(ctx context.Context, s Session, id string) (*models.Document, error) {
	doc, err := d.store.GetDocumentByID(ctx, id)
	if err != nil || doc.UserID != s.UserID {
		if err != nil {
			d.log.Debug("document lookup failed", zap.String("document_id", id), zap.Error(err))
		}
		return nil, errors.New("document not found")
	}
	return doc, nil
}

func parseSuggestions(raw string) ([]suggestionDraft, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	start, end := strings.Index(raw, "["), strings.LastIndex(raw, "]")
	if start < 0 || end < start {
		return nil, errors.New("model returned no suggestions")
	}
	var drafts []suggestionDraft
	if err := json.Unmarshal([]byte(raw[start:end+1]), &drafts); err != nil {
		return nil, fmt.Errorf("decode suggestions: %w", err)
	}
	out := drafts[:0]
	for _, d := range drafts {
		if strings.TrimSpace(d.OriginalSentence) == "" || strings.TrimSpace(d.SuggestedSentence) == "" {
			continue
		}
		out = append(out, d)
		if len(out) == maxSuggestions {
			break
		}
	}
	return out, nil
}

func streamText(ctx context.Context, m model.BaseChatModel, input []*schema.Message, onDelta func(string)) (string, error) {
	if m == nil {
		return "", errors.New("no model available")
	}
	reader, err := m.Stream(ctx, input)
	if err != nil {
		return "", err
	}
	defer reader.Close()
	var b strings.Builder
	for {
		chunk, err := reader.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		b.WriteString(chunk.Content)
		onDelta(chunk.Content)
	}
	return b.String(), nil
}

func requireSession(ctx context.Context) (Session, error) {
	s, ok := SessionFromContext(ctx)
	if !ok || s.UserID <= 0 {
		return Session{}, errors.New("tool called outside of a chat session")
	}
	return s, nil
}

func marshalResult(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
