package handlers

import (
	"context"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/call-dispatch-engine/internal/domain"
	campaignsvc "github.com/acme/call-dispatch-engine/internal/service/campaign"
)

type createCampaignRequest struct {
	BusinessID string               `json:"business_id"`
	Name       string               `json:"name"`
	Contacts   []contactRequest     `json:"contacts"`
	Script     domain.Script        `json:"script"`
	Schedule   *domain.CallSchedule `json:"schedule"`
	RateLimit  domain.RateLimit     `json:"rate_limit"`
}

type importContactsRequest struct {
	Contacts []contactRequest `json:"contacts"`
}

type campaignResponse struct {
	Success  bool             `json:"success"`
	Message  string           `json:"message,omitempty"`
	Campaign *domain.Campaign `json:"campaign"`
}

func toContactInputs(in []contactRequest) []campaignsvc.ContactInput {
	out := make([]campaignsvc.ContactInput, 0, len(in))
	for _, c := range in {
		out = append(out, campaignsvc.ContactInput{Phone: c.Phone, Name: c.Name, CustomFields: c.CustomFields})
	}
	return out
}

func (h *HandlerSet) createCampaign(ctx *fiber.Ctx) error {
	var req createCampaignRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	campaign, err := h.campaigns.ScheduleBulkCalls(ctx.UserContext(), campaignsvc.CreateCampaignInput{
		BusinessID: req.BusinessID,
		Name:       req.Name,
		Contacts:   toContactInputs(req.Contacts),
		Script:     req.Script,
		Schedule:   req.Schedule,
		RateLimit:  req.RateLimit,
	})
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusCreated).JSON(campaignResponse{
		Success:  true,
		Message:  "campaign " + string(campaign.Status),
		Campaign: campaign,
	})
}

func (h *HandlerSet) listCampaigns(ctx *fiber.Ctx) error {
	businessID, err := businessIDParam(ctx)
	if err != nil {
		return err
	}
	campaigns, err := h.campaigns.List(ctx.UserContext(), businessID)
	if err != nil {
		return translateError(err)
	}
	if campaigns == nil {
		campaigns = []*domain.Campaign{}
	}
	return ctx.JSON(fiber.Map{"campaigns": campaigns})
}

func (h *HandlerSet) getCampaign(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}
	campaign, err := h.campaigns.Get(ctx.UserContext(), id)
	if err != nil {
		return translateError(err)
	}
	return ctx.JSON(campaign)
}

func (h *HandlerSet) startCampaign(ctx *fiber.Ctx) error {
	return h.transition(ctx, "campaign started", h.campaigns.Start)
}

func (h *HandlerSet) pauseCampaign(ctx *fiber.Ctx) error {
	return h.transition(ctx, "campaign paused", h.campaigns.Pause)
}

func (h *HandlerSet) resumeCampaign(ctx *fiber.Ctx) error {
	return h.transition(ctx, "campaign resumed", h.campaigns.Resume)
}

func (h *HandlerSet) cancelCampaign(ctx *fiber.Ctx) error {
	return h.transition(ctx, "campaign cancelled", h.campaigns.Cancel)
}

// transition runs one lifecycle operation and answers with the new state.
func (h *HandlerSet) transition(ctx *fiber.Ctx, message string, op func(context.Context, uuid.UUID) error) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}
	if err := op(ctx.UserContext(), id); err != nil {
		return translateError(err)
	}
	campaign, err := h.campaigns.Get(ctx.UserContext(), id)
	if err != nil {
		return translateError(err)
	}
	return ctx.JSON(campaignResponse{Success: true, Message: message, Campaign: campaign})
}

func (h *HandlerSet) campaignResults(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}
	results, err := h.campaigns.Results(ctx.UserContext(), id)
	if err != nil {
		return translateError(err)
	}
	return ctx.JSON(results)
}

func (h *HandlerSet) importContacts(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	var req importContactsRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	campaign, err := h.campaigns.ImportContacts(ctx.UserContext(), id, toContactInputs(req.Contacts))
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusAccepted).JSON(campaignResponse{
		Success:  true,
		Message:  "contacts imported",
		Campaign: campaign,
	})
}

func parseUUID(value string) (uuid.UUID, error) {
	return uuid.Parse(value)
}
