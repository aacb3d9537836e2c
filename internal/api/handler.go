// Package api binds the gasless HTTP routes onto the voucher service.
package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/0gfoundation/gasless-voucher/internal/gasless"
)

// Guard returns the middleware protecting an admin action ("issue",
// "prolong", "revoke"). A nil Guard leaves the admin routes open.
type Guard func(action string) gin.HandlerFunc

// Handler wires the voucher routes onto a Gin engine.
type Handler struct {
	svc *gasless.Service
	log *zap.Logger
}

func NewHandler(svc *gasless.Service, log *zap.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

// Register mounts all voucher routes.
//
// GET /gasless/voucher/:id/status serves two queries: with an account query
// key the path segment is a program id, otherwise it is a voucher id.
// /gasless/program/:program/status is the unambiguous form of the former.
func (h *Handler) Register(r gin.IRoutes, guard Guard) {
	r.GET("/gasless/voucher/:id/status", h.handleStatus)
	r.GET("/gasless/program/:program/status", h.handleProgramStatus)
	r.POST("/gasless/voucher/request", h.handleRequest)

	r.POST("/issue", h.admin(guard, "issue", h.handleIssue)...)
	r.POST("/prolong", h.admin(guard, "prolong", h.handleProlong)...)
	r.POST("/revoke", h.admin(guard, "revoke", h.handleRevoke)...)
}

func (h *Handler) admin(guard Guard, action string, next gin.HandlerFunc) []gin.HandlerFunc {
	if guard == nil {
		return []gin.HandlerFunc{next}
	}
	return []gin.HandlerFunc{guard(action), next}
}

// ── Status ──────────────────────────────────────────────────────────────────

func (h *Handler) handleStatus(c *gin.Context) {
	if _, ok := c.GetQuery("account"); ok {
		h.programStatus(c, c.Param("id"))
		return
	}

	st, err := h.svc.VoucherStatus(c.Request.Context(), c.Param("id"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, st)
	case errors.Is(err, gasless.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, gasless.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Voucher not found"})
	default:
		h.logger(c).Error("voucher status failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

func (h *Handler) handleProgramStatus(c *gin.Context) {
	h.programStatus(c, c.Param("program"))
}

func (h *Handler) programStatus(c *gin.Context, program string) {
	accounts := c.QueryArray("account")
	if len(accounts) != 1 || strings.TrimSpace(accounts[0]) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing or invalid account"})
		return
	}

	st, err := h.svc.ProgramStatus(c.Request.Context(), accounts[0], program)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, st)
	case errors.Is(err, gasless.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing or invalid account"})
	default:
		h.logger(c).Error("program status failed", zap.String("program", program), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
	}
}

// ── Issue ───────────────────────────────────────────────────────────────────

// handleRequest is the public issuance endpoint used by dApps. Input errors
// answer 400 rather than the blanket 500 older clients saw; the details
// field carries the reason either way.
func (h *Handler) handleRequest(c *gin.Context) {
	fail := func(code int, err error) {
		c.JSON(code, gin.H{"error": "Failed to create voucher", "details": err.Error()})
	}

	var req voucherRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(http.StatusBadRequest, fmt.Errorf("%w: %w", gasless.ErrInvalidInput, err))
		return
	}
	id, err := h.issue(c, req)
	if err != nil {
		if errors.Is(err, gasless.ErrInvalidInput) {
			fail(http.StatusBadRequest, err)
			return
		}
		h.logger(c).Error("voucher request failed", zap.String("account", req.Account), zap.Error(err))
		fail(http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"voucherId": id})
}

// handleIssue is the operator issuance endpoint; it answers with the bare id.
func (h *Handler) handleIssue(c *gin.Context) {
	var req voucherRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	id, err := h.issue(c, req)
	if err != nil {
		h.fail(c, "issue", err)
		return
	}
	c.String(http.StatusOK, id)
}

func (h *Handler) issue(c *gin.Context, req voucherRequest) (string, error) {
	duration, err := req.DurationInSec.Seconds()
	if err != nil {
		return "", fmt.Errorf("%w: %w", gasless.ErrInvalidInput, err)
	}
	amount, duration := h.svc.Defaults().Apply(req.Amount.Big(), duration)
	id, err := h.svc.Issue(c.Request.Context(), req.Account, req.Program, amount, duration)
	if err != nil {
		return "", err
	}
	return id.Hex(), nil
}

// ── Prolong / Revoke ────────────────────────────────────────────────────────

func (h *Handler) handleProlong(c *gin.Context) {
	var req prolongRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	duration, err := req.DurationInSec.Seconds()
	if err != nil {
		h.fail(c, "prolong", fmt.Errorf("%w: %w", gasless.ErrInvalidInput, err))
		return
	}
	if err := h.svc.Prolong(c.Request.Context(), req.VoucherID, req.Account, req.Balance.Big(), duration); err != nil {
		h.fail(c, "prolong", err)
		return
	}
	c.Status(http.StatusOK)
}

func (h *Handler) handleRevoke(c *gin.Context) {
	var req revokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := h.svc.Revoke(c.Request.Context(), req.VoucherID, req.Account); err != nil {
		h.fail(c, "revoke", err)
		return
	}
	c.Status(http.StatusOK)
}

// ── Helpers ─────────────────────────────────────────────────────────────────

// fail renders an admin endpoint error. Input errors (ErrInvalidInput, raised
// before any ledger call) are echoed back as 400 instead of the 500 these
// endpoints historically returned for everything; ledger and transport
// errors are logged and hidden behind a 500.
func (h *Handler) fail(c *gin.Context, op string, err error) {
	if errors.Is(err, gasless.ErrInvalidInput) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.logger(c).Error(op+" failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
}

func (h *Handler) logger(c *gin.Context) *zap.Logger {
	return h.log.With(zap.String("request_id", c.GetString(RequestIDKey)))
}
