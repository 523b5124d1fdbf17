package directory

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/engagetrack/engagetrack/internal/platform/httpx"
	"github.com/engagetrack/engagetrack/internal/rbac"
	"github.com/engagetrack/engagetrack/internal/shared"
)

// Handler manages directory management endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers directory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.listUsers)
	r.Get("/export", h.exportUsers)
	r.Post("/bulk/role", h.bulkAssignRole)
	r.Post("/bulk/role/remove", h.bulkRemoveRole)
	r.Post("/transfer", h.transferOwnership)
	r.Get("/{userID}", h.getUser)
	r.Post("/{userID}/role", h.changeRole)
	r.Delete("/{userID}/role/{role}", h.removeRole)
	r.Post("/{userID}/block", h.setBlockStatus)
}

func (h *Handler) actorID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	actorID, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing or invalid X-Actor-ID header")
		return uuid.Nil, false
	}
	return actorID, true
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s: %q", name, raw)
	}
	return id, nil
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.List(r.Context(), parseListFilter(r))
	if err != nil {
		h.logger.Error("list users failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "userID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	user, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) exportUsers(w http.ResponseWriter, r *http.Request) {
	payload, err := h.service.ExportCSV(r.Context(), parseListFilter(r))
	if err != nil {
		h.logger.Error("export users failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	filename := fmt.Sprintf("users-export-%s.csv", time.Now().UTC().Format("2006-01-02"))
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func (h *Handler) changeRole(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actorID(w, r)
	if !ok {
		return
	}
	targetID, err := pathUUID(r, "userID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	var req changeRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	role, err := rbac.Parse(req.Role)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	result, err := h.service.ChangeRole(r.Context(), actorID, targetID, role)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, changeRoleResponse{
		UserID:  result.TargetID.String(),
		Role:    string(result.ResultingRole),
		Warning: result.Warning,
	})
}

func (h *Handler) removeRole(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actorID(w, r)
	if !ok {
		return
	}
	targetID, err := pathUUID(r, "userID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	role, err := rbac.Parse(chi.URLParam(r, "role"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	result, err := h.service.RemoveRole(r.Context(), actorID, targetID, role)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, changeRoleResponse{
		UserID:  result.TargetID.String(),
		Role:    string(result.ResultingRole),
		Warning: result.Warning,
	})
}

func (h *Handler) bulkAssignRole(w http.ResponseWriter, r *http.Request) {
	h.bulkMutation(w, r, h.service.BulkAssignRole)
}

func (h *Handler) bulkRemoveRole(w http.ResponseWriter, r *http.Request) {
	h.bulkMutation(w, r, h.service.BulkRemoveRole)
}

func (h *Handler) bulkMutation(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, actorID uuid.UUID, targetIDs []uuid.UUID, role rbac.Role) (BulkOutcome, error)) {
	actorID, ok := h.actorID(w, r)
	if !ok {
		return
	}
	var req bulkRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	role, err := rbac.Parse(req.Role)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	targetIDs := make([]uuid.UUID, 0, len(req.UserIDs))
	for _, raw := range req.UserIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid user id: "+raw)
			return
		}
		targetIDs = append(targetIDs, id)
	}
	outcome, err := apply(r.Context(), actorID, targetIDs, role)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, outcome)
}

func (h *Handler) transferOwnership(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actorID(w, r)
	if !ok {
		return
	}
	var req transferRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	newOwnerID, err := uuid.Parse(req.NewOwnerID)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid new owner id")
		return
	}
	if err := h.service.TransferOwnership(r.Context(), actorID, newOwnerID, req.DowngradeCurrent); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "transferred"})
}

func (h *Handler) setBlockStatus(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actorID(w, r)
	if !ok {
		return
	}
	targetID, err := pathUUID(r, "userID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	var req blockRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.SetBlockStatus(r.Context(), actorID, targetID, req.Blocked, req.Reason); err != nil {
		httpx.RespondError(w, err)
		return
	}
	status := "unblocked"
	if req.Blocked {
		status = "blocked"
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": status})
}
