package handlers

import (
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	inboundsvc "github.com/acme/call-dispatch-engine/internal/service/inbound"
	"github.com/acme/call-dispatch-engine/internal/telephony"
	apperrors "github.com/acme/call-dispatch-engine/pkg/errors"
)

// webhookPayload decodes a carrier callback. JSON bodies keep their nesting,
// form bodies become a flat string map.
func webhookPayload(ctx *fiber.Ctx) (map[string]any, error) {
	payload := make(map[string]any)
	if strings.Contains(ctx.Get(fiber.HeaderContentType), fiber.MIMEApplicationJSON) {
		if err := ctx.BodyParser(&payload); err != nil {
			return nil, fmt.Errorf("%w: malformed json body", apperrors.ErrInvalidWebhook)
		}
		return payload, nil
	}
	ctx.Request().PostArgs().VisitAll(func(key, value []byte) {
		payload[string(key)] = string(value)
	})
	ctx.Request().URI().QueryArgs().VisitAll(func(key, value []byte) {
		if _, ok := payload[string(key)]; !ok {
			payload[string(key)] = string(value)
		}
	})
	return payload, nil
}

func (h *HandlerSet) parseWebhook(ctx *fiber.Ctx) (telephony.WebhookEvent, error) {
	name, err := providerName(ctx.Params("provider"))
	if err != nil {
		return telephony.WebhookEvent{}, err
	}
	payload, err := webhookPayload(ctx)
	if err != nil {
		return telephony.WebhookEvent{}, translateError(err)
	}
	event, err := h.router.ParseWebhook(name, payload)
	if err != nil {
		return telephony.WebhookEvent{}, translateError(err)
	}
	return event, nil
}

// voiceWebhook receives the answer callback. Calls the engine placed are
// session updates, final events for live inbound calls end them, and
// anything else is a new inbound call for business_id.
func (h *HandlerSet) voiceWebhook(ctx *fiber.Ctx) error {
	event, err := h.parseWebhook(ctx)
	if err != nil {
		return err
	}
	if h.calls.MatchProviderEvent(ctx.UserContext(), event) {
		return ctx.JSON(fiber.Map{"success": true, "direction": "outbound", "call_id": event.CallID})
	}
	if finalEvent(event) {
		return h.applyStatus(ctx, event)
	}

	businessID := ctx.Query("business_id")
	if businessID == "" {
		// Without a business this can only be an outbound call whose
		// placement response has not been bound yet.
		h.calls.HandleProviderEvent(ctx.UserContext(), event)
		h.logger.Warn("voice webhook without business id",
			zap.String("provider", string(event.Provider)),
			zap.String("call_id", event.CallID))
		return fiber.NewError(http.StatusBadRequest, "business_id is required for inbound calls")
	}

	hook := inboundsvc.Webhook{
		CallID:   event.CallID,
		From:     event.From,
		To:       event.To,
		Provider: string(event.Provider),
	}
	if name, ok := event.Raw["CallerName"].(string); ok {
		hook.CallerName = name
	}
	resp, err := h.inbound.HandleIncoming(ctx.UserContext(), businessID, hook)
	if err != nil {
		return translateError(err)
	}
	return ctx.JSON(resp)
}

func (h *HandlerSet) statusWebhook(ctx *fiber.Ctx) error {
	event, err := h.parseWebhook(ctx)
	if err != nil {
		return err
	}
	return h.applyStatus(ctx, event)
}

// applyStatus routes a carrier status event to the outbound session or the
// inbound call that owns it. Unmatched events are held for outbound calls
// still being bound.
func (h *HandlerSet) applyStatus(ctx *fiber.Ctx, event telephony.WebhookEvent) error {
	direction := ""
	switch {
	case h.calls.MatchProviderEvent(ctx.UserContext(), event):
		direction = "outbound"
	case h.inbound.HandleCarrierEvent(ctx.UserContext(), event):
		direction = "inbound"
	default:
		h.calls.HandleProviderEvent(ctx.UserContext(), event)
	}
	return ctx.JSON(fiber.Map{"success": true, "matched": direction != "", "direction": direction, "event": event.Type})
}

func finalEvent(event telephony.WebhookEvent) bool {
	return event.Type == telephony.EventCallCompleted || event.Type == telephony.EventCallFailed
}

func (h *HandlerSet) smsStatusWebhook(ctx *fiber.Ctx) error {
	event, err := h.parseWebhook(ctx)
	if err != nil {
		return err
	}
	h.logger.Info("sms status",
		zap.String("provider", string(event.Provider)),
		zap.String("message_id", event.MessageID),
		zap.String("event", string(event.Type)))
	return ctx.JSON(fiber.Map{"success": true, "event": event.Type})
}

type dialInstruction struct {
	XMLName xml.Name `xml:"Response"`
	Dial    struct {
		Number string `xml:"Number"`
	} `xml:"Dial"`
}

// transferInstructions answers the carrier's fetch during a transfer with a
// dial verb for the target number.
func (h *HandlerSet) transferInstructions(ctx *fiber.Ctx) error {
	to := ctx.Query("to")
	if to == "" {
		return fiber.NewError(http.StatusBadRequest, "to is required")
	}
	var doc dialInstruction
	doc.Dial.Number = to
	body, err := xml.Marshal(doc)
	if err != nil {
		return err
	}
	ctx.Set(fiber.HeaderContentType, fiber.MIMEApplicationXMLCharsetUTF8)
	return ctx.Send(append([]byte(xml.Header), body...))
}
