package handlers

import (
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/acme/call-dispatch-engine/internal/telephony"
)

type placeCallRequest struct {
	To               string            `json:"to"`
	From             string            `json:"from"`
	Provider         string            `json:"provider"`
	Cheapest         bool              `json:"cheapest"`
	TimeoutSeconds   int               `json:"timeout_seconds"`
	MachineDetection bool              `json:"machine_detection"`
	Record           bool              `json:"record"`
	Metadata         map[string]string `json:"metadata"`
}

type providerRequest struct {
	Provider string `json:"provider"`
}

type failoverRequest struct {
	Enabled bool `json:"enabled"`
}

type transferRequest struct {
	To   string `json:"to"`
	Warm bool   `json:"warm"`
}

type numberRequest struct {
	Number   string `json:"number"`
	Provider string `json:"provider"`
}

// providerName parses an optional carrier name. Empty means any provider.
func providerName(value string) (telephony.ProviderName, error) {
	if value == "" {
		return "", nil
	}
	name, ok := telephony.ParseProviderName(value)
	if !ok {
		return "", fiber.NewError(http.StatusBadRequest, "unknown provider "+strconv.Quote(value))
	}
	return name, nil
}

func (h *HandlerSet) listProviders(ctx *fiber.Ctx) error {
	return ctx.JSON(fiber.Map{
		"primary":          h.router.Primary(),
		"failover_enabled": h.router.FailoverEnabled(),
		"providers":        h.router.Providers(),
	})
}

func (h *HandlerSet) checkProviders(ctx *fiber.Ctx) error {
	return ctx.JSON(fiber.Map{"providers": h.router.CheckAll(ctx.UserContext())})
}

func (h *HandlerSet) setPrimary(ctx *fiber.Ctx) error {
	var req providerRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	name, err := providerName(req.Provider)
	if err != nil {
		return err
	}
	if name == "" {
		return fiber.NewError(http.StatusBadRequest, "provider is required")
	}
	if err := h.router.SetPrimary(name); err != nil {
		return translateError(err)
	}
	return ctx.JSON(fiber.Map{"success": true, "primary": name})
}

func (h *HandlerSet) setFailover(ctx *fiber.Ctx) error {
	var req failoverRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	h.router.SetFailoverEnabled(req.Enabled)
	return ctx.JSON(fiber.Map{"success": true, "failover_enabled": req.Enabled})
}

func (h *HandlerSet) estimateCost(ctx *fiber.Ctx) error {
	minutes, err := strconv.ParseFloat(ctx.Query("minutes", "1"), 64)
	if err != nil || minutes < 0 {
		return fiber.NewError(http.StatusBadRequest, "minutes must be a non-negative number")
	}
	return ctx.JSON(fiber.Map{"minutes": minutes, "estimates": h.router.EstimateCost(minutes)})
}

func (h *HandlerSet) placeCall(ctx *fiber.Ctx) error {
	var req placeCallRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if req.To == "" {
		return fiber.NewError(http.StatusBadRequest, "to is required")
	}
	name, err := providerName(req.Provider)
	if err != nil {
		return err
	}

	call := telephony.CallRequest{
		To:               req.To,
		From:             req.From,
		TimeoutSeconds:   req.TimeoutSeconds,
		MachineDetection: req.MachineDetection,
		Record:           req.Record,
		Metadata:         req.Metadata,
	}

	var res telephony.CallResult
	switch {
	case name != "":
		res, err = h.router.PlaceCallWith(ctx.UserContext(), name, call)
	case req.Cheapest:
		res, err = h.router.PlaceCallCheapest(ctx.UserContext(), call)
	default:
		res, err = h.router.PlaceCall(ctx.UserContext(), call)
	}
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusCreated).JSON(res)
}

func (h *HandlerSet) callStatus(ctx *fiber.Ctx) error {
	name, err := providerName(ctx.Query("provider"))
	if err != nil {
		return err
	}
	status, err := h.router.Status(ctx.UserContext(), ctx.Params("callId"), name)
	if err != nil {
		return translateError(err)
	}
	return ctx.JSON(status)
}

func (h *HandlerSet) endProviderCall(ctx *fiber.Ctx) error {
	name, err := providerName(ctx.Query("provider"))
	if err != nil {
		return err
	}
	if err := h.router.EndCall(ctx.UserContext(), ctx.Params("callId"), name); err != nil {
		return translateError(err)
	}
	return ctx.JSON(fiber.Map{"success": true, "call_id": ctx.Params("callId")})
}

func (h *HandlerSet) transferProviderCall(ctx *fiber.Ctx) error {
	var req transferRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if req.To == "" {
		return fiber.NewError(http.StatusBadRequest, "to is required")
	}
	name, err := providerName(ctx.Query("provider"))
	if err != nil {
		return err
	}
	if err := h.router.Transfer(ctx.UserContext(), ctx.Params("callId"), req.To, name); err != nil {
		return translateError(err)
	}
	return ctx.JSON(fiber.Map{"success": true, "call_id": ctx.Params("callId"), "to": req.To})
}

func (h *HandlerSet) sendSMS(ctx *fiber.Ctx) error {
	var req telephony.SMSRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if req.To == "" || req.Body == "" {
		return fiber.NewError(http.StatusBadRequest, "to and body are required")
	}
	res, err := h.router.SendSMS(ctx.UserContext(), req)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusCreated).JSON(res)
}

func (h *HandlerSet) listNumbers(ctx *fiber.Ctx) error {
	name, err := providerName(ctx.Query("provider"))
	if err != nil {
		return err
	}
	numbers, err := h.router.ListNumbers(ctx.UserContext(), name)
	if err != nil {
		return translateError(err)
	}
	if numbers == nil {
		numbers = []telephony.PhoneNumber{}
	}
	return ctx.JSON(fiber.Map{"numbers": numbers})
}

func (h *HandlerSet) purchaseNumber(ctx *fiber.Ctx) error {
	var req numberRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if req.Number == "" {
		return fiber.NewError(http.StatusBadRequest, "number is required")
	}
	name, err := providerName(req.Provider)
	if err != nil {
		return err
	}
	number, err := h.router.PurchaseNumber(ctx.UserContext(), req.Number, name)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusCreated).JSON(number)
}

func (h *HandlerSet) releaseNumber(ctx *fiber.Ctx) error {
	name, err := providerName(ctx.Query("provider"))
	if err != nil {
		return err
	}
	if err := h.router.ReleaseNumber(ctx.UserContext(), ctx.Params("number"), name); err != nil {
		return translateError(err)
	}
	return ctx.SendStatus(http.StatusNoContent)
}
