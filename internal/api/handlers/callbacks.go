package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/acme/call-dispatch-engine/internal/domain"
	callbacksvc "github.com/acme/call-dispatch-engine/internal/service/callback"
)

type scheduleCallbackRequest struct {
	BusinessID    string     `json:"business_id"`
	Phone         string     `json:"phone"`
	Name          string     `json:"name"`
	Reason        string     `json:"reason"`
	PreferredTime *time.Time `json:"preferred_time"`
}

func (h *HandlerSet) scheduleCallback(ctx *fiber.Ctx) error {
	var req scheduleCallbackRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	cb, err := h.callbacks.ScheduleCallback(ctx.UserContext(), callbacksvc.ScheduleInput{
		BusinessID:    req.BusinessID,
		Phone:         req.Phone,
		Name:          req.Name,
		Reason:        req.Reason,
		PreferredTime: req.PreferredTime,
	})
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusCreated).JSON(fiber.Map{
		"success":  cb.Status != domain.CallbackStatusFailed,
		"callback": cb,
	})
}

func (h *HandlerSet) listCallbacks(ctx *fiber.Ctx) error {
	businessID, err := businessIDParam(ctx)
	if err != nil {
		return err
	}
	callbacks, err := h.callbacks.Callbacks(ctx.UserContext(), businessID)
	if err != nil {
		return translateError(err)
	}
	if callbacks == nil {
		callbacks = []*domain.CallbackRequest{}
	}
	return ctx.JSON(fiber.Map{"callbacks": callbacks})
}

func (h *HandlerSet) getCallback(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid callback id")
	}
	cb, err := h.callbacks.Get(ctx.UserContext(), id)
	if err != nil {
		return translateError(err)
	}
	return ctx.JSON(cb)
}

func (h *HandlerSet) cancelCallback(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid callback id")
	}
	cb, err := h.callbacks.CancelCallback(ctx.UserContext(), id)
	if err != nil {
		return translateError(err)
	}
	return ctx.JSON(fiber.Map{"success": true, "callback": cb})
}
