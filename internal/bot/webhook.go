package bot

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pranakorn/creditbot/internal/lineapi"
)

const (
	signatureHeader = "X-Line-Signature"
	maxWebhookBody  = 1 << 20
)

// Webhook serves the LINE webhook endpoint.
type Webhook struct {
	router        *Router
	channelSecret string
	logger        *zap.Logger
}

// NewWebhook wires the webhook handler.
func NewWebhook(router *Router, channelSecret string, logger *zap.Logger) (*Webhook, error) {
	if router == nil {
		return nil, errors.New("router is required")
	}
	if channelSecret == "" {
		return nil, errors.New("channel secret is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Webhook{router: router, channelSecret: channelSecret, logger: logger}, nil
}

// Register mounts the webhook route.
func (webhook *Webhook) Register(engine *gin.Engine) {
	engine.POST("/webhook", webhook.handle)
}

// handle verifies the delivery and processes each event. Event failures never
// surface as HTTP errors; LINE would redeliver the whole batch.
func (webhook *Webhook) handle(ginContext *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(ginContext.Request.Body, maxWebhookBody))
	if err != nil {
		ginContext.Status(http.StatusBadRequest)
		return
	}
	parsed, err := lineapi.ParseWebhook(webhook.channelSecret, body, ginContext.GetHeader(signatureHeader))
	if errors.Is(err, lineapi.ErrBadSignature) {
		webhook.logger.Warn("webhook signature rejected")
		ginContext.Status(http.StatusForbidden)
		return
	}
	if err != nil {
		ginContext.Status(http.StatusBadRequest)
		return
	}

	ctx := ginContext.Request.Context()
	for _, event := range parsed.Events {
		webhook.router.HandleEvent(ctx, event)
	}
	ginContext.Status(http.StatusOK)
}
