package api

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"streamchat/internal/models"
	"streamchat/internal/provider"
)

type postChatRequest struct {
	ID                     string         `json:"id" binding:"required,uuid"`
	Message                messageRequest `json:"message"`
	SelectedChatModel      string         `json:"selectedChatModel" binding:"required,modelref"`
	SelectedVisibilityType string         `json:"selectedVisibilityType" binding:"required,oneof=public private"`
	SelectedPersonaID      string         `json:"selectedPersonaId" binding:"omitempty,max=64"`
}

type messageRequest struct {
	ID          string              `json:"id" binding:"required,uuid"`
	CreatedAt   time.Time           `json:"createdAt" binding:"required"`
	Role        string              `json:"role" binding:"required,eq=user"`
	Content     string              `json:"content" binding:"required,max=2000"`
	Parts       []partRequest       `json:"parts" binding:"required,min=1,dive"`
	Attachments []attachmentRequest `json:"attachments" binding:"omitempty,dive"`
}

type partRequest struct {
	Type string `json:"type" binding:"required,eq=text"`
	Text string `json:"text" binding:"required,min=1,max=2000"`
}

type attachmentRequest struct {
	URL         string `json:"url" binding:"required,url"`
	Name        string `json:"name" binding:"required,max=2000"`
	ContentType string `json:"contentType" binding:"required,oneof=image/png image/jpg image/jpeg application/pdf"`
}

func (r messageRequest) toMessage(chatID string, now time.Time) *models.Message {
	msg := &models.Message{
		ID:          r.ID,
		ChatID:      chatID,
		Role:        models.RoleUser,
		Parts:       make([]models.Part, 0, len(r.Parts)),
		Attachments: make([]models.Attachment, 0, len(r.Attachments)),
		CreatedAt:   now.UTC(),
	}
	for _, p := range r.Parts {
		msg.Parts = append(msg.Parts, models.Part{Type: models.PartText, Text: p.Text})
	}
	for _, a := range r.Attachments {
		msg.Attachments = append(msg.Attachments, models.Attachment{URL: a.URL, Name: a.Name, ContentType: a.ContentType})
	}
	return msg
}

var validatorsOnce sync.Once

func registerValidators() {
	validatorsOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			panic("api: unexpected validator engine")
		}
		_ = v.RegisterValidation("modelref", func(fl validator.FieldLevel) bool {
			return isModelRef(fl.Field().String())
		})
	})
}

// isModelRef accepts a built-in model tag or the id of a persisted model.
func isModelRef(id string) bool {
	if _, ok := provider.LookupStatic(id); ok {
		return true
	}
	if len(id) != 36 {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

func badRequest(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fe.Namespace()+": "+fe.Tag())
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "fields": fields})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
}
