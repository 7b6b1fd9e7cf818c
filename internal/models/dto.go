package models

// ==================== Internal API DTOs ====================

// ProvisionRequest is sent by the storefront to create an account
type ProvisionRequest struct {
	UserID   string `json:"user_id" binding:"required"`
	Protocol string `json:"protocol" binding:"required"` // ssh / vmess / vless / trojan / bundle
	ServerID string `json:"server_id" binding:"required"`
	Username string `json:"username" binding:"required"`

	// ssh only; ignored for UUID-keyed protocols
	Password string `json:"password,omitempty"`

	Days    int   `json:"days" binding:"required"`
	QuotaGB int   `json:"quota_gb,omitempty"` // 0 = server default
	IPLimit int   `json:"ip_limit,omitempty"` // 0 = server default
	Price   int64 `json:"price,omitempty"`    // pre-computed by the storefront
}

// ProvisionResponse is returned once the operation settles
type ProvisionResponse struct {
	Success   bool     `json:"success"`
	AccountID string   `json:"account_id,omitempty"`
	Username  string   `json:"username"`
	Protocol  string   `json:"protocol"`
	ExpireAt  string   `json:"expire_at,omitempty"` // YYYY-MM-DD
	URIs      []string `json:"uris,omitempty"`
	// Human-readable block for the chat front end. Failures carry the ✘ prefix.
	Message string `json:"message"`
}

// RenewRequest extends an existing account
type RenewRequest struct {
	Protocol string `json:"protocol" binding:"required"`
	ServerID string `json:"server_id" binding:"required"`
	Username string `json:"username" binding:"required"`
	Days     int    `json:"days" binding:"required"`
	Price    int64  `json:"price,omitempty"`
}

// RenewResponse is returned once the renewal settles
type RenewResponse struct {
	Success     bool   `json:"success"`
	Username    string `json:"username"`
	OldExpireAt string `json:"old_expire_at,omitempty"`
	NewExpireAt string `json:"new_expire_at,omitempty"`
	Message     string `json:"message"`
}

// DeprovisionRequest removes an account
type DeprovisionRequest struct {
	Protocol string `json:"protocol" binding:"required"`
	ServerID string `json:"server_id" binding:"required"`
	Username string `json:"username" binding:"required"`
}

// DeprovisionResponse is returned once the deletion settles.
// AlreadyAbsent marks the soft-success path (remote user was already gone).
type DeprovisionResponse struct {
	Success       bool   `json:"success"`
	AlreadyAbsent bool   `json:"already_absent,omitempty"`
	Message       string `json:"message"`
}

// TrialRequest activates a short-lived trial account
type TrialRequest struct {
	UserID   string `json:"user_id" binding:"required"`
	Protocol string `json:"protocol" binding:"required"`
	ServerID string `json:"server_id" binding:"required"`
}

// TrialResponse is returned once the trial settles
type TrialResponse struct {
	Success  bool     `json:"success"`
	Username string   `json:"username,omitempty"`
	ExpireAt string   `json:"expire_at,omitempty"` // RFC3339, trials live minutes not days
	URIs     []string `json:"uris,omitempty"`
	Message  string   `json:"message"`
}

// SweepResponse reports one manual scanner pass
type SweepResponse struct {
	Warned3Day      int    `json:"warned_3day"`
	Warned1Day      int    `json:"warned_1day"`
	ExpiredNotified int    `json:"expired_notified"`
	Deleted         int    `json:"deleted"`
	Message         string `json:"message"`
}

// ==================== Admin API DTOs ====================

// CreateServerRequest registers a provisioning target
type CreateServerRequest struct {
	Name         string `json:"name" binding:"required"`
	Host         string `json:"host" binding:"required"`
	SSHPort      int    `json:"ssh_port"`
	RootUser     string `json:"root_user"`
	RootPassword string `json:"root_password" binding:"required"`
	Price        int64  `json:"price"`
	QuotaGB      int    `json:"quota_gb"`
	IPLimit      int    `json:"ip_limit"`
	MaxAccounts  int    `json:"max_accounts"`
}

// UpdateServerRequest edits a provisioning target; nil fields are unchanged
type UpdateServerRequest struct {
	Name         *string `json:"name,omitempty"`
	Host         *string `json:"host,omitempty"`
	SSHPort      *int    `json:"ssh_port,omitempty"`
	RootUser     *string `json:"root_user,omitempty"`
	RootPassword *string `json:"root_password,omitempty"`
	Price        *int64  `json:"price,omitempty"`
	QuotaGB      *int    `json:"quota_gb,omitempty"`
	IPLimit      *int    `json:"ip_limit,omitempty"`
	MaxAccounts  *int    `json:"max_accounts,omitempty"`
}

// ServerResponse is a provisioning target without its credential
type ServerResponse struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Host            string `json:"host"`
	SSHPort         int    `json:"ssh_port"`
	Price           int64  `json:"price"`
	QuotaGB         int    `json:"quota_gb"`
	IPLimit         int    `json:"ip_limit"`
	MaxAccounts     int    `json:"max_accounts"`
	AccountsCreated int    `json:"accounts_created"`
	CreatedAt       string `json:"created_at"`
}

// ServerView converts a Server for API responses. 凭据脱敏
func ServerView(s *Server) ServerResponse {
	return ServerResponse{
		ID:              s.ID,
		Name:            s.Name,
		Host:            s.Host,
		SSHPort:         s.SSHPort,
		Price:           s.Price,
		QuotaGB:         s.QuotaGB,
		IPLimit:         s.IPLimit,
		MaxAccounts:     s.MaxAccounts,
		AccountsCreated: s.AccountsCreated,
		CreatedAt:       s.CreatedAt.Format("2006-01-02 15:04:05"),
	}
}

// ==================== Account query DTOs ====================

// AccountResponse is an account row for API responses
type AccountResponse struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Protocol  string `json:"protocol"`
	ServerID  string `json:"server_id"`
	OwnerID   string `json:"owner_id"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
	ExpireAt  string `json:"expire_at"`
}

// AccountDetailResponse adds the connection URIs and the stored result
// block for redelivery
type AccountDetailResponse struct {
	AccountResponse
	URIs        []string `json:"uris,omitempty"`
	RawResponse string   `json:"raw_response,omitempty"`
}

// AccountView converts an Account for API responses
func AccountView(a *Account) AccountResponse {
	return AccountResponse{
		ID:        a.ID,
		Username:  a.Username,
		Protocol:  a.Protocol,
		ServerID:  a.ServerID,
		OwnerID:   a.OwnerID,
		Status:    a.Status,
		CreatedAt: a.CreatedAt.Format("2006-01-02 15:04:05"),
		ExpireAt:  a.ExpireAt.Format("2006-01-02"),
	}
}
