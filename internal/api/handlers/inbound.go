package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	inboundsvc "github.com/acme/call-dispatch-engine/internal/service/inbound"
)

// incomingCall accepts an already-normalized inbound notification.
func (h *HandlerSet) incomingCall(ctx *fiber.Ctx) error {
	var hook inboundsvc.Webhook
	if err := ctx.BodyParser(&hook); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid webhook body")
	}
	resp, err := h.inbound.HandleIncoming(ctx.UserContext(), ctx.Params("businessId"), hook)
	if err != nil {
		return translateError(err)
	}
	return ctx.JSON(resp)
}

func (h *HandlerSet) activeCalls(ctx *fiber.Ctx) error {
	businessID := ctx.Params("businessId")
	return ctx.JSON(fiber.Map{
		"calls": h.inbound.ActiveCalls(businessID),
		"count": h.inbound.ActiveCount(businessID),
	})
}

func (h *HandlerSet) queueStatus(ctx *fiber.Ctx) error {
	return ctx.JSON(h.inbound.QueueStatus(ctx.Params("businessId")))
}

func (h *HandlerSet) answerNext(ctx *fiber.Ctx) error {
	resp, err := h.inbound.AnswerNext(ctx.UserContext(), ctx.Params("businessId"))
	if err != nil {
		return translateError(err)
	}
	return ctx.JSON(resp)
}

func (h *HandlerSet) callLog(ctx *fiber.Ctx) error {
	page, err := h.inbound.ListCallLog(ctx.UserContext(), ctx.Params("businessId"), ctx.QueryInt("limit", 0), ctx.Query("page_token"))
	if err != nil {
		return translateError(err)
	}
	return ctx.JSON(page)
}

func (h *HandlerSet) getInboundCall(ctx *fiber.Ctx) error {
	call, err := h.inbound.GetCall(ctx.Params("callId"))
	if err != nil {
		return translateError(err)
	}
	return ctx.JSON(call)
}

func (h *HandlerSet) transferInboundCall(ctx *fiber.Ctx) error {
	var req transferRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	resp, err := h.inbound.TransferCall(ctx.UserContext(), ctx.Params("callId"), req.To, req.Warm)
	if err != nil {
		return translateError(err)
	}
	return ctx.JSON(resp)
}

func (h *HandlerSet) endInboundCall(ctx *fiber.Ctx) error {
	resp, err := h.inbound.EndCall(ctx.UserContext(), ctx.Params("callId"))
	if err != nil {
		return translateError(err)
	}
	return ctx.JSON(resp)
}
