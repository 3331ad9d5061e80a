package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/warden/internal/models"
	"github.com/BradenHooton/warden/internal/services"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
	"github.com/go-chi/chi/v5"
)

// AdminServiceInterface defines the super-admin management contract.
type AdminServiceInterface interface {
	List(ctx context.Context) ([]models.AdminSummary, error)
	Stats(ctx context.Context) (*services.AdminStats, error)
	Create(ctx context.Context, actor *models.Identity, input services.CreateAdminInput) (*services.CreatedAdmin, error)
	Block(ctx context.Context, actor *models.Identity, targetID, reason string) (*models.AdminSummary, error)
	Unblock(ctx context.Context, actor *models.Identity, targetID string) (*models.AdminSummary, error)
	Delete(ctx context.Context, actor *models.Identity, targetID string) error
	ResetPassword(ctx context.Context, actor *models.Identity, targetID string) (string, error)
	ResetMFA(ctx context.Context, actor *models.Identity, targetID string) error
}

// AdminHandler handles /admin/management requests.
type AdminHandler struct {
	service AdminServiceInterface
	logger  *slog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(service AdminServiceInterface, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{service: service, logger: logger}
}

type CreateAdminRequest struct {
	Username string `json:"username" validate:"required,min=1,max=100"`
	Email    string `json:"email" validate:"required,email"`
	Role     string `json:"role" validate:"omitempty,oneof=admin super_admin"`
}

type BlockAdminRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// ListAdmins handles GET /admin/management/admins
func (h *AdminHandler) ListAdmins(w http.ResponseWriter, r *http.Request) {
	admins, err := h.service.List(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, map[string]any{"admins": admins, "count": len(admins)})
}

// GetStats handles GET /admin/management/stats
func (h *AdminHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, stats)
}

// CreateAdmin handles POST /admin/management/admins
func (h *AdminHandler) CreateAdmin(w http.ResponseWriter, r *http.Request) {
	p := principalOrAbort(w, r)
	if p == nil {
		return
	}

	var req CreateAdminRequest
	if !decode(w, r, &req, false) {
		return
	}

	created, err := h.service.Create(r.Context(), p.Identity, services.CreateAdminInput{
		Username: req.Username,
		Email:    req.Email,
		Role:     req.Role,
	})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusCreated, created)
}

// BlockAdmin handles PUT /admin/management/admins/{id}/block
func (h *AdminHandler) BlockAdmin(w http.ResponseWriter, r *http.Request) {
	p := principalOrAbort(w, r)
	if p == nil {
		return
	}

	var req BlockAdminRequest
	if !decode(w, r, &req, true) {
		return
	}

	admin, err := h.service.Block(r.Context(), p.Identity, chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, map[string]any{"admin": admin})
}

// UnblockAdmin handles PUT /admin/management/admins/{id}/unblock
func (h *AdminHandler) UnblockAdmin(w http.ResponseWriter, r *http.Request) {
	p := principalOrAbort(w, r)
	if p == nil {
		return
	}

	admin, err := h.service.Unblock(r.Context(), p.Identity, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, map[string]any{"admin": admin})
}

// DeleteAdmin handles DELETE /admin/management/admins/{id}
func (h *AdminHandler) DeleteAdmin(w http.ResponseWriter, r *http.Request) {
	p := principalOrAbort(w, r)
	if p == nil {
		return
	}

	if err := h.service.Delete(r.Context(), p.Identity, chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{Message: "Admin deleted"})
}

// ResetPassword handles POST /admin/management/admins/{id}/reset-password.
// The temporary password is returned once.
func (h *AdminHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	p := principalOrAbort(w, r)
	if p == nil {
		return
	}

	tempPassword, err := h.service.ResetPassword(r.Context(), p.Identity, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"temporaryPassword": tempPassword})
}

// ResetMFA handles POST /admin/management/admins/{id}/reset-mfa
func (h *AdminHandler) ResetMFA(w http.ResponseWriter, r *http.Request) {
	p := principalOrAbort(w, r)
	if p == nil {
		return
	}

	if err := h.service.ResetMFA(r.Context(), p.Identity, chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{Message: "Two-factor authentication reset"})
}
