package api

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"streamchat/internal/auth"
	"streamchat/internal/catalog"
	"streamchat/internal/entitlement"
	"streamchat/internal/events"
	"streamchat/internal/models"
	"streamchat/internal/orchestrator"
	"streamchat/internal/prompt"
	"streamchat/internal/resolver"
	"streamchat/internal/resumable"
	"streamchat/internal/service/chat"
)

const genericErrorMessage = "An error occurred while processing your request"

// Deps are the services the HTTP layer is built from.
// JobCanceller drops a user's background work that has not started yet.
type JobCanceller interface {
	CancelUser(userID int64)
}

type Deps struct {
	Chats         *chat.Service
	Auth          *auth.Service
	Resolver      *resolver.Resolver
	Prompts       *prompt.Builder
	Orchestrator  *orchestrator.Orchestrator
	Streams       *resumable.Lazy
	Catalog       *catalog.Catalog
	Entitlements  *entitlement.Table
	Events        events.Publisher
	Jobs          JobCanceller
	TitleModel    model.BaseChatModel
	StreamTimeout time.Duration
	Logger        *zap.Logger
}

// Handler wires HTTP routes to the chat services.
type Handler struct {
	chats         *chat.Service
	auth          *auth.Service
	resolver      *resolver.Resolver
	prompts       *prompt.Builder
	orchestrator  *orchestrator.Orchestrator
	streams       *resumable.Lazy
	catalog       *catalog.Catalog
	entitlements  *entitlement.Table
	events        events.Publisher
	jobs          JobCanceller
	titleModel    model.BaseChatModel
	streamTimeout time.Duration
	log           *zap.Logger
	now           func() time.Time
}

// NewHandler constructs a Handler instance.
func NewHandler(d Deps) *Handler {
	registerValidators()
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	pub := d.Events
	if pub == nil {
		pub = events.Nop{}
	}
	timeout := d.StreamTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Handler{
		chats:         d.Chats,
		auth:          d.Auth,
		resolver:      d.Resolver,
		prompts:       d.Prompts,
		orchestrator:  d.Orchestrator,
		streams:       d.Streams,
		catalog:       d.Catalog,
		entitlements:  d.Entitlements,
		events:        pub,
		jobs:          d.Jobs,
		titleModel:    d.TitleModel,
		streamTimeout: timeout,
		log:           log.Named("api"),
		now:           time.Now,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", h.healthz)

	api := router.Group("/api")
	api.POST("/users/register", h.registerUser)
	api.POST("/users/login", h.loginUser)
	api.POST("/users/guest", h.guestLogin)

	// The chat endpoints authenticate inside the handler so that input
	// errors are reported before missing credentials.
	chatRoutes := api.Group("", h.auth.CSRFMiddleware())
	chatRoutes.POST("/chat", h.postChat)
	chatRoutes.GET("/chat", h.resumeChat)
	chatRoutes.DELETE("/chat", h.deleteChat)

	authed := api.Group("", h.auth.Middleware(), h.auth.CSRFMiddleware())
	authed.GET("/chat/:id/messages", h.chatMessages)
	authed.GET("/history", h.history)
	authed.GET("/models", h.listModels)
	authed.POST("/users/logout", h.logoutUser)
}

func (h *Handler) authorizedUserID(c *gin.Context) (int64, bool) {
	userID, ok := h.auth.Identify(c)
	if !ok || userID <= 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		return 0, false
	}
	return userID, true
}

func (h *Handler) internalError(c *gin.Context, msg string, err error) {
	h.log.Error(msg, zap.String("request_id", c.GetString(requestIDKey)), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": genericErrorMessage})
}

func (h *Handler) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// User create&login interface
type credentialsRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6,max=128"`
}

func (h *Handler) registerUser(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	user, err := h.chats.RegisterUser(c.Request.Context(), req.Email, req.Password, models.UserTypeRegular)
	if err != nil {
		h.log.Info("register failed", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "registration failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":         user.ID,
		"email":      user.Email,
		"type":       user.Type,
		"created_at": user.CreatedAt,
	})
}

func (h *Handler) loginUser(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	user, err := h.chats.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, chat.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		h.internalError(c, "login", err)
		return
	}
	h.startSession(c, user)
}

// guestLogin creates a throwaway guest account and signs it in.
func (h *Handler) guestLogin(c *gin.Context) {
	password := uuid.NewString()
	user, err := h.chats.RegisterUser(c.Request.Context(), "guest-"+uuid.NewString()+"@guest.local", password, models.UserTypeGuest)
	if err != nil {
		h.internalError(c, "create guest", err)
		return
	}
	h.startSession(c, user)
}

func (h *Handler) startSession(c *gin.Context, user *models.User) {
	authToken, err := h.auth.IssueToken(c.Request.Context(), user.ID)
	if err != nil {
		h.internalError(c, "issue token", err)
		return
	}
	csrfToken, err := h.auth.NewCSRFToken()
	if err != nil {
		h.internalError(c, "issue csrf token", err)
		return
	}
	h.setAuthCookies(c, authToken, csrfToken)
	c.JSON(http.StatusOK, gin.H{
		"id":         user.ID,
		"email":      user.Email,
		"type":       user.Type,
		"created_at": user.CreatedAt,
		"auth_token": authToken,
	})
}

func (h *Handler) logoutUser(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	if h.jobs != nil {
		h.jobs.CancelUser(userID)
	}
	if authToken, ok := auth.AuthTokenFromContext(c); ok {
		if err := h.auth.RevokeToken(c.Request.Context(), authToken); err != nil {
			h.log.Warn("revoke token", zap.Error(err))
		}
	}
	h.clearAuthCookies(c)
	c.Status(http.StatusNoContent)
}

func (h *Handler) listModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"providers": h.catalog.Groups(c.Request.Context())})
}

func (h *Handler) history(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	chats, err := h.chats.ListChats(c.Request.Context(), userID, limit)
	if err != nil {
		h.internalError(c, "list chats", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chats": chats})
}

func (h *Handler) chatMessages(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	ch, err := h.chats.GetChatByID(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
			return
		}
		h.internalError(c, "load chat", err)
		return
	}
	if !canRead(ch, userID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	messages, err := h.chats.GetMessagesByChatID(ctx, ch.ID)
	if err != nil {
		h.internalError(c, "load messages", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chat": ch, "messages": messages})
}

func canRead(ch *models.Chat, userID int64) bool {
	return ch.Visibility == models.VisibilityPublic || ch.UserID == userID
}

func (h *Handler) setAuthCookies(c *gin.Context, authToken, csrfToken string) {
	ttl := int(h.auth.TokenTTL().Seconds())
	if ttl <= 0 {
		ttl = 3600
	}
	secure := gin.Mode() == gin.ReleaseMode
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.auth.AuthCookieName(),
		Value:    authToken,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.auth.CSRFCookieName(),
		Value:    csrfToken,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   secure,
		HttpOnly: false,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) clearAuthCookies(c *gin.Context) {
	for _, name := range []string{h.auth.AuthCookieName(), h.auth.CSRFCookieName()} {
		http.SetCookie(c.Writer, &http.Cookie{
			Name:     name,
			Value:    "",
			MaxAge:   -1,
			Path:     "/",
			Secure:   gin.Mode() == gin.ReleaseMode,
			HttpOnly: name == h.auth.AuthCookieName(),
			SameSite: http.SameSiteStrictMode,
		})
	}
}
