package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/wenwu/saas-platform/provisioning-service/internal/models"
	"github.com/wenwu/saas-platform/provisioning-service/internal/repository"
	"github.com/wenwu/saas-platform/provisioning-service/internal/service"
)

// AdminHandler manages provisioning targets and exposes the audit trail.
// Server CRUD has no remote orchestration to do, so it talks to the
// repository directly.
type AdminHandler struct {
	servers      *repository.ServerRepository
	provisioning *service.ProvisionService
}

func NewAdminHandler(servers *repository.ServerRepository, provisioning *service.ProvisionService) *AdminHandler {
	return &AdminHandler{
		servers:      servers,
		provisioning: provisioning,
	}
}

// CreateServer registers a provisioning target
func (h *AdminHandler) CreateServer(c *gin.Context) {
	var req models.CreateServerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	srv := &models.Server{
		ID:           uuid.New().String(),
		Name:         req.Name,
		Host:         req.Host,
		SSHPort:      intOr(req.SSHPort, 22),
		RootUser:     strOr(req.RootUser, "root"),
		RootPassword: req.RootPassword,
		Price:        req.Price,
		QuotaGB:      intOr(req.QuotaGB, 100),
		IPLimit:      intOr(req.IPLimit, 2),
		MaxAccounts:  req.MaxAccounts,
	}

	if err := h.servers.Create(c.Request.Context(), srv); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, models.ServerView(srv))
}

// ListServers returns all provisioning targets
func (h *AdminHandler) ListServers(c *gin.Context) {
	servers, err := h.servers.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	views := make([]models.ServerResponse, 0, len(servers))
	for _, s := range servers {
		views = append(views, models.ServerView(s))
	}
	c.JSON(http.StatusOK, gin.H{"servers": views})
}

// GetServer returns one provisioning target
func (h *AdminHandler) GetServer(c *gin.Context) {
	srv, err := h.servers.GetByID(c.Request.Context(), c.Param("id"))
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "server not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, models.ServerView(srv))
}

// UpdateServer edits a provisioning target; omitted fields stay unchanged
func (h *AdminHandler) UpdateServer(c *gin.Context) {
	var req models.UpdateServerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	srv, err := h.servers.GetByID(c.Request.Context(), c.Param("id"))
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "server not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	applyServerUpdate(srv, &req)

	if err := h.servers.Update(c.Request.Context(), srv); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, models.ServerView(srv))
}

// DeleteServer removes a provisioning target and cascades its account rows.
// The remote hosts are untouched; decommissioning them is an ops action.
func (h *AdminHandler) DeleteServer(c *gin.Context) {
	err := h.servers.Delete(c.Request.Context(), c.Param("id"))
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "server not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// GetRecentLogs returns the latest audit entries across all accounts
func (h *AdminHandler) GetRecentLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	logs, err := h.provisioning.RecentLogs(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"logs": logViews(logs)})
}

func applyServerUpdate(srv *models.Server, req *models.UpdateServerRequest) {
	if req.Name != nil {
		srv.Name = *req.Name
	}
	if req.Host != nil {
		srv.Host = *req.Host
	}
	if req.SSHPort != nil {
		srv.SSHPort = *req.SSHPort
	}
	if req.RootUser != nil {
		srv.RootUser = *req.RootUser
	}
	if req.RootPassword != nil {
		srv.RootPassword = *req.RootPassword
	}
	if req.Price != nil {
		srv.Price = *req.Price
	}
	if req.QuotaGB != nil {
		srv.QuotaGB = *req.QuotaGB
	}
	if req.IPLimit != nil {
		srv.IPLimit = *req.IPLimit
	}
	if req.MaxAccounts != nil {
		srv.MaxAccounts = *req.MaxAccounts
	}
}

func intOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func strOr(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
