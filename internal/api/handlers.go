package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chatmux/chatmux/internal/bot"
	errs "github.com/chatmux/chatmux/internal/errors"
	"github.com/chatmux/chatmux/internal/logger"
	"github.com/chatmux/chatmux/internal/translate"
)

// Multiplexer is the slice of the pool scheduler the edge consumes.
type Multiplexer interface {
	Prompt(ctx context.Context, message, model, openid string, newChat bool) (string, string, error)
	APIRequest(ctx context.Context, messages []bot.Message, model string) (*bot.Event, string, error)
}

// CredentialAdmin inserts new upstream accounts.
type CredentialAdmin interface {
	AddAccount(ctx context.Context, email, passwordCiphertext string) error
}

// Encrypter seals passwords before they reach the store.
type Encrypter interface {
	Encrypt(plaintext string) (string, error)
}

// HealthChecker enqueues an immediate account check.
type HealthChecker interface {
	RequestCheck(email string)
}

// Handler wires the public endpoints to the core.
type Handler struct {
	mux     Multiplexer
	admin   CredentialAdmin
	cipher  Encrypter
	checker HealthChecker
	logger  *slog.Logger
}

func NewHandler(mux Multiplexer, admin CredentialAdmin, cipher Encrypter, checker HealthChecker, logger *slog.Logger) *Handler {
	return &Handler{
		mux:     mux,
		admin:   admin,
		cipher:  cipher,
		checker: checker,
		logger:  logger.With("component", "api"),
	}
}

// Ping answers the health probe.
func (h *Handler) Ping(c *gin.Context) {
	c.String(http.StatusOK, "pong")
}

// CompletionsOptions answers the CORS preflight.
func (h *Handler) CompletionsOptions(c *gin.Context) {
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Access-Control-Allow-Methods", "POST")
	c.Header("Access-Control-Allow-Headers", "*")
	c.Status(http.StatusOK)
}

// Completions serves the OpenAI-compatible completion endpoint.
func (h *Handler) Completions(c *gin.Context) {
	var req translate.APIRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errs.AbortWithBadRequest(c, err.Error())
		return
	}

	messages, model := translate.ToUpstream(req)
	event, reason, err := h.mux.APIRequest(c.Request.Context(), messages, model)
	if err != nil {
		h.logger.Error("completion turn failed", "error", err)
		errs.AbortWithNotFound(c, "No response found")
		return
	}
	if reason != "" || event == nil || event.Message == "" {
		if reason != "" {
			h.logger.Warn("completion turn rejected", "reason", reason)
		}
		errs.AbortWithNotFound(c, "No response found")
		return
	}
	c.JSON(http.StatusOK, translate.NewChatCompletion(event.Message, event.FinishDetails))
}

// PromptRequest is the body of the prompt endpoint.
type PromptRequest struct {
	Content string `json:"content" binding:"required"`
	Model   string `json:"model"`
	OpenID  string `json:"openid"`
	NewChat bool   `json:"new_chat"`
}

// Prompt serves the plain-text endpoint. The response is text/plain
// unless the caller asks for JSON.
func (h *Handler) Prompt(c *gin.Context) {
	var req PromptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errs.AbortWithBadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	if req.OpenID != "" {
		ctx = logger.WithOpenID(ctx, req.OpenID)
	}
	text, reason, err := h.mux.Prompt(ctx, req.Content, req.Model, req.OpenID, req.NewChat)
	if err != nil {
		h.logger.Error("prompt turn failed", "error", err)
		errs.AbortWithNotFound(c, "No response found")
		return
	}
	if reason != "" || text == "" {
		if reason != "" {
			h.logger.Warn("prompt turn rejected", "reason", reason, "openid", req.OpenID)
		}
		errs.AbortWithNotFound(c, "No response found")
		return
	}

	if c.GetHeader("Accept") == "application/json" {
		c.JSON(http.StatusOK, text)
		return
	}
	c.String(http.StatusOK, text)
}

// AddBotRequest is the body of the admin add endpoint.
type AddBotRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// AddBot inserts an encrypted credential and triggers an immediate
// health check so the account can enter the pool without waiting for the
// hourly sweep.
func (h *Handler) AddBot(c *gin.Context) {
	var req AddBotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errs.AbortWithBadRequest(c, err.Error())
		return
	}

	ciphertext, err := h.cipher.Encrypt(req.Password)
	if err != nil {
		h.logger.Error("failed to encrypt password", "email", req.Email, "error", err)
		errs.AbortWithBadRequest(c, "failed to encrypt password")
		return
	}
	if err := h.admin.AddAccount(c.Request.Context(), req.Email, ciphertext); err != nil {
		h.logger.Error("failed to add account", "email", req.Email, "error", err)
		errs.AbortWithBadRequest(c, "failed to add account")
		return
	}
	h.checker.RequestCheck(req.Email)
	c.JSON(http.StatusOK, "success")
}
