package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/call-dispatch-engine/internal/domain"
	callsvc "github.com/acme/call-dispatch-engine/internal/service/call"
)

type contactRequest struct {
	Phone        string            `json:"phone"`
	Name         string            `json:"name"`
	CustomFields map[string]string `json:"custom_fields"`
}

type initiateCallRequest struct {
	BusinessID string         `json:"business_id"`
	Contact    contactRequest `json:"contact"`
	Script     domain.Script  `json:"script"`
	Provider   string         `json:"provider"`
}

type dncRequest struct {
	BusinessID string `json:"business_id"`
	Phone      string `json:"phone"`
	Reason     string `json:"reason"`
}

func (h *HandlerSet) initiateCall(ctx *fiber.Ctx) error {
	var req initiateCallRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	name, err := providerName(req.Provider)
	if err != nil {
		return err
	}

	res, err := h.calls.InitiateCall(ctx.UserContext(), callsvc.Request{
		BusinessID: req.BusinessID,
		Contact: domain.Contact{
			Phone:        req.Contact.Phone,
			Name:         req.Contact.Name,
			CustomFields: req.Contact.CustomFields,
		},
		Script:   req.Script,
		Provider: name,
	})
	if err != nil {
		return translateError(err)
	}
	if !res.Success {
		return ctx.Status(statusFor(res.Cause)).JSON(res)
	}
	return ctx.Status(http.StatusCreated).JSON(res)
}

func (h *HandlerSet) listSessions(ctx *fiber.Ctx) error {
	businessID, err := businessIDParam(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(fiber.Map{"sessions": h.calls.Sessions(businessID)})
}

func (h *HandlerSet) getSession(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid session id")
	}
	session, err := h.calls.GetSession(id)
	if err != nil {
		return translateError(err)
	}
	return ctx.JSON(session)
}

func (h *HandlerSet) checkDNC(ctx *fiber.Ctx) error {
	businessID, err := businessIDParam(ctx)
	if err != nil {
		return err
	}
	phone := ctx.Params("phone")
	blocked, err := h.calls.CheckDNC(ctx.UserContext(), businessID, phone)
	if err != nil {
		return translateError(err)
	}
	return ctx.JSON(fiber.Map{"phone": phone, "blocked": blocked})
}

func (h *HandlerSet) addDNC(ctx *fiber.Ctx) error {
	var req dncRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if req.BusinessID == "" {
		return fiber.NewError(http.StatusBadRequest, "business_id is required")
	}
	if err := h.calls.AddToDNC(ctx.UserContext(), req.BusinessID, req.Phone, req.Reason); err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusCreated).JSON(fiber.Map{"success": true, "phone": req.Phone})
}

func (h *HandlerSet) removeDNC(ctx *fiber.Ctx) error {
	businessID, err := businessIDParam(ctx)
	if err != nil {
		return err
	}
	if err := h.calls.RemoveFromDNC(ctx.UserContext(), businessID, ctx.Params("phone")); err != nil {
		return translateError(err)
	}
	return ctx.SendStatus(http.StatusNoContent)
}
