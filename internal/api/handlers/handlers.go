package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	callsvc "github.com/acme/call-dispatch-engine/internal/service/call"
	callbacksvc "github.com/acme/call-dispatch-engine/internal/service/callback"
	campaignsvc "github.com/acme/call-dispatch-engine/internal/service/campaign"
	inboundsvc "github.com/acme/call-dispatch-engine/internal/service/inbound"
	"github.com/acme/call-dispatch-engine/internal/telephony"
)

// HealthCheck reports whether one backing service is reachable.
type HealthCheck func(ctx context.Context) error

// Dependencies are the engine components the HTTP surface drives.
type Dependencies struct {
	Router    *telephony.Router
	Calls     *callsvc.Service
	Campaigns *campaignsvc.Service
	Callbacks *callbacksvc.Service
	Inbound   *inboundsvc.Service
	Logger    *zap.Logger
	Health    map[string]HealthCheck
}

// HandlerSet bundles all HTTP handlers.
type HandlerSet struct {
	router    *telephony.Router
	calls     *callsvc.Service
	campaigns *campaignsvc.Service
	callbacks *callbacksvc.Service
	inbound   *inboundsvc.Service
	logger    *zap.Logger
	health    map[string]HealthCheck
}

// NewHandlerSet creates a new handler bundle.
func NewHandlerSet(deps Dependencies) *HandlerSet {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HandlerSet{
		router:    deps.Router,
		calls:     deps.Calls,
		campaigns: deps.Campaigns,
		callbacks: deps.Callbacks,
		inbound:   deps.Inbound,
		logger:    logger,
		health:    deps.Health,
	}
}

// Register wires all routes onto the fiber app.
func (h *HandlerSet) Register(app *fiber.App) {
	app.Get("/healthz", h.healthz)

	v1 := app.Group("/api/v1")

	tel := v1.Group("/telephony")
	tel.Get("/providers", h.listProviders)
	tel.Post("/providers/health", h.checkProviders)
	tel.Put("/providers/primary", h.setPrimary)
	tel.Put("/providers/failover", h.setFailover)
	tel.Get("/cost", h.estimateCost)
	tel.Post("/calls", h.placeCall)
	tel.Get("/calls/:callId", h.callStatus)
	tel.Post("/calls/:callId/end", h.endProviderCall)
	tel.Post("/calls/:callId/transfer", h.transferProviderCall)
	tel.Post("/sms", h.sendSMS)
	tel.Get("/numbers", h.listNumbers)
	tel.Post("/numbers", h.purchaseNumber)
	tel.Delete("/numbers/:number", h.releaseNumber)

	hooks := tel.Group("/webhooks/:provider")
	hooks.Post("/voice", h.voiceWebhook)
	hooks.Post("/status", h.statusWebhook)
	hooks.Post("/sms-status", h.smsStatusWebhook)
	hooks.All("/transfer", h.transferInstructions)

	out := v1.Group("/outbound")
	out.Post("/calls", h.initiateCall)
	out.Get("/sessions", h.listSessions)
	out.Get("/sessions/:id", h.getSession)
	out.Get("/dnc/:phone", h.checkDNC)
	out.Post("/dnc", h.addDNC)
	out.Delete("/dnc/:phone", h.removeDNC)

	campaigns := out.Group("/campaigns")
	campaigns.Post("/", h.createCampaign)
	campaigns.Get("/", h.listCampaigns)
	campaigns.Get("/:id", h.getCampaign)
	campaigns.Post("/:id/start", h.startCampaign)
	campaigns.Post("/:id/pause", h.pauseCampaign)
	campaigns.Post("/:id/resume", h.resumeCampaign)
	campaigns.Post("/:id/cancel", h.cancelCampaign)
	campaigns.Get("/:id/results", h.campaignResults)
	campaigns.Post("/:id/contacts", h.importContacts)

	callbacks := out.Group("/callbacks")
	callbacks.Post("/", h.scheduleCallback)
	callbacks.Get("/", h.listCallbacks)
	callbacks.Get("/:id", h.getCallback)
	callbacks.Post("/:id/cancel", h.cancelCallback)

	in := v1.Group("/inbound")
	biz := in.Group("/businesses/:businessId")
	biz.Post("/calls", h.incomingCall)
	biz.Get("/calls", h.activeCalls)
	biz.Get("/queue", h.queueStatus)
	biz.Post("/queue/next", h.answerNext)
	biz.Get("/logs", h.callLog)
	in.Get("/calls/:callId", h.getInboundCall)
	in.Post("/calls/:callId/transfer", h.transferInboundCall)
	in.Post("/calls/:callId/end", h.endInboundCall)
}

// ErrorHandler provides centralized error responses.
func (h *HandlerSet) ErrorHandler(ctx *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := err.Error()

	if fiberErr, ok := err.(*fiber.Error); ok {
		code = fiberErr.Code
		message = fiberErr.Message
	}

	if code == fiber.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", ctx.Method()),
			zap.String("path", ctx.Path()),
			zap.Error(err))
	}

	return ctx.Status(code).JSON(fiber.Map{
		"success":  false,
		"error":    message,
		"trace_id": ctx.GetRespHeader("Trace-Id"),
	})
}

func (h *HandlerSet) healthz(ctx *fiber.Ctx) error {
	healthCtx, cancel := context.WithTimeout(ctx.UserContext(), 2*time.Second)
	defer cancel()

	errs := make(map[string]string)
	for name, check := range h.health {
		if err := check(healthCtx); err != nil {
			errs[name] = err.Error()
		}
	}

	status := fiber.StatusOK
	state := "ok"
	if len(errs) > 0 {
		status = fiber.StatusServiceUnavailable
		state = "degraded"
	}

	return ctx.Status(status).JSON(fiber.Map{"status": state, "errors": errs})
}

func businessIDParam(ctx *fiber.Ctx) (string, error) {
	id := ctx.Query("business_id")
	if id == "" {
		return "", fiber.NewError(fiber.StatusBadRequest, "business_id is required")
	}
	return id, nil
}
