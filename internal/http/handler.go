package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/wenwu/saas-platform/provisioning-service/internal/index"
	"github.com/wenwu/saas-platform/provisioning-service/internal/models"
	"github.com/wenwu/saas-platform/provisioning-service/internal/repository"
	"github.com/wenwu/saas-platform/provisioning-service/internal/service"
)

type Handler struct {
	provisioning *service.ProvisionService
	scanner      *service.Scanner
	index        *index.Index
}

func NewHandler(provisioning *service.ProvisionService, scanner *service.Scanner, idx *index.Index) *Handler {
	return &Handler{
		provisioning: provisioning,
		scanner:      scanner,
		index:        idx,
	}
}

// ==================== Internal API Handlers ====================

// Provision handles account creation requests from the storefront
func (h *Handler) Provision(c *gin.Context) {
	var req models.ProvisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.provisioning.Provision(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Renew handles account renewal requests
func (h *Handler) Renew(c *gin.Context) {
	var req models.RenewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.provisioning.Renew(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Deprovision handles account deletion requests
func (h *Handler) Deprovision(c *gin.Context) {
	var req models.DeprovisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.provisioning.Deprovision(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Trial handles trial activation requests
func (h *Handler) Trial(c *gin.Context) {
	var req models.TrialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.provisioning.Trial(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GetAccount returns one account with its stored result block
func (h *Handler) GetAccount(c *gin.Context) {
	account, err := h.provisioning.GetAccount(c.Request.Context(), c.Param("id"))
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, accountDetail(account))
}

// GetAccountLogs returns the audit trail for one account
func (h *Handler) GetAccountLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	logs, err := h.provisioning.AccountLogs(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"logs": logViews(logs)})
}

// GetUserAccounts lists a storefront user's accounts
func (h *Handler) GetUserAccounts(c *gin.Context) {
	userID := c.Param("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
		return
	}

	accounts, err := h.provisioning.ListUserAccounts(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"accounts": accountViews(accounts)})
}

// AccountExists answers the storefront's existence probe from the Redis
// mirror, without touching the database.
func (h *Handler) AccountExists(c *gin.Context) {
	username := c.Query("username")
	protocolTag := c.Query("protocol")
	if username == "" || protocolTag == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and protocol required"})
		return
	}

	family := models.ProtocolFamily(protocolTag)
	exists, err := h.index.Contains(c.Request.Context(), family, username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"username": username,
		"family":   family,
		"exists":   exists,
	})
}

// GetOperations lists in-flight and recently settled operations
func (h *Handler) GetOperations(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"operations": h.provisioning.Operations()})
}

// GetOperation returns one tracked operation
func (h *Handler) GetOperation(c *gin.Context) {
	op, ok := h.provisioning.Operation(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "operation not found"})
		return
	}
	c.JSON(http.StatusOK, op)
}

// TriggerSweep runs one scanner pass immediately
func (h *Handler) TriggerSweep(c *gin.Context) {
	resp, err := h.scanner.Sweep(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ==================== User API Handlers ====================

// GetMyAccounts lists the authenticated user's accounts
func (h *Handler) GetMyAccounts(c *gin.Context) {
	userID := c.GetString("userID")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not identified"})
		return
	}

	accounts, err := h.provisioning.ListUserAccounts(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"accounts": accountViews(accounts)})
}

// GetMyAccount returns one of the authenticated user's accounts
func (h *Handler) GetMyAccount(c *gin.Context) {
	account, ok := h.ownedAccount(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, accountDetail(account))
}

// GetMyAccountQR renders one of the account's connection URIs as a QR code
// PNG. The uri query parameter selects which URI; the TLS variant is first.
func (h *Handler) GetMyAccountQR(c *gin.Context) {
	account, ok := h.ownedAccount(c)
	if !ok {
		return
	}

	idx, err := strconv.Atoi(c.DefaultQuery("uri", "0"))
	if err != nil || idx < 0 || idx >= len(account.URIs) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "uri index out of range"})
		return
	}

	png, err := qrcode.Encode(account.URIs[idx], qrcode.Medium, 256)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Data(http.StatusOK, "image/png", png)
}

// ownedAccount loads the :id account and enforces that it belongs to the
// authenticated user. A foreign account reads as not found, not forbidden,
// so account ids cannot be probed.
func (h *Handler) ownedAccount(c *gin.Context) (*models.Account, bool) {
	userID := c.GetString("userID")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not identified"})
		return nil, false
	}

	account, err := h.provisioning.GetAccount(c.Request.Context(), c.Param("id"))
	if errors.Is(err, repository.ErrNotFound) || (err == nil && account.OwnerID != userID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return nil, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	return account, true
}

// ==================== View helpers ====================

func accountViews(accounts []*models.Account) []models.AccountResponse {
	views := make([]models.AccountResponse, 0, len(accounts))
	for _, a := range accounts {
		views = append(views, models.AccountView(a))
	}
	return views
}

func accountDetail(a *models.Account) models.AccountDetailResponse {
	return models.AccountDetailResponse{
		AccountResponse: models.AccountView(a),
		URIs:            a.URIs,
		RawResponse:     a.RawResponse,
	}
}

func logViews(logs []*models.ProvisionLog) []gin.H {
	views := make([]gin.H, 0, len(logs))
	for _, l := range logs {
		views = append(views, gin.H{
			"id":         l.ID,
			"account_id": l.AccountID,
			"action":     l.Action,
			"status":     l.Status,
			"message":    l.Message,
			"metadata":   l.Metadata,
			"created_at": l.CreatedAt.Format("2006-01-02 15:04:05"),
		})
	}
	return views
}
