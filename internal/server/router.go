package server

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/CobaltCoveLabs/lanyard/internal/invites"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var errMissingPipeline = errors.New("invite pipeline dependency required")

// InvitePipeline processes one inbound invite event message.
type InvitePipeline interface {
	Process(env invites.Envelope, body string) error
}

// Dependencies bundles the collaborators wired into the HTTP handler.
type Dependencies struct {
	Pipeline InvitePipeline
	Logger   *zap.Logger
}

// NewHTTPHandler builds the service router.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Pipeline == nil {
		return nil, errMissingPipeline
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		pipeline: deps.Pipeline,
		logger:   logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.POST("/hooks/invites", handler.handleInviteEvent)

	return router, nil
}

type httpHandler struct {
	pipeline InvitePipeline
	logger   *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleInviteEvent feeds the raw inbound message through the pipeline and
// maps terminal failures to their boundary status codes.
func (h *httpHandler) handleInviteEvent(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, invites.MaxEventBytes+1))
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}
	if len(body) > invites.MaxEventBytes {
		c.Status(http.StatusRequestEntityTooLarge)
		return
	}

	env := invites.Envelope{
		Method:        c.Request.Method,
		ContentLength: c.Request.ContentLength,
		ContentType:   c.Request.Header.Get("Content-Type"),
	}

	if err := h.pipeline.Process(env, string(body)); err != nil {
		status := statusForFailure(err)
		h.logger.Info("invite event rejected",
			zap.Int("status", status),
			zap.Error(err))
		c.Status(status)
		return
	}

	c.Status(http.StatusOK)
}

func statusForFailure(err error) int {
	kind, ok := invites.KindOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch kind {
	case invites.FailureMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case invites.FailureLengthRequired:
		return http.StatusLengthRequired
	case invites.FailurePayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case invites.FailureForbidden:
		return http.StatusForbidden
	case invites.FailureNotFound:
		return http.StatusNotFound
	default:
		return http.StatusBadRequest
	}
}
