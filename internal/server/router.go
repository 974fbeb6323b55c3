package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/aasharing/internal/auth"
	"github.com/MarcoPoloResearchLab/aasharing/internal/bridge"
	"github.com/MarcoPoloResearchLab/aasharing/internal/chain"
	"github.com/MarcoPoloResearchLab/aasharing/internal/ledger"
	"github.com/MarcoPoloResearchLab/aasharing/internal/token"
	"github.com/MarcoPoloResearchLab/aasharing/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	addressContextKey        = "aasharing_wallet_address"
	defaultHeartbeatInterval = 25 * time.Second
)

var (
	errMissingWalletVerifier = errors.New("wallet verifier dependency required")
	errMissingTokenManager   = errors.New("token manager dependency required")
	errMissingTokenService   = errors.New("token service dependency required")
	errMissingLedgerService  = errors.New("ledger service dependency required")
	errMissingBridgeService  = errors.New("bridge service dependency required")
	errMissingUsersService   = errors.New("users service dependency required")
)

type WalletVerifier interface {
	IssueChallenge(ctx context.Context, address chain.Address) (auth.Challenge, error)
	Verify(ctx context.Context, address chain.Address, signature string) (auth.WalletClaims, error)
}

type BackendTokenManager interface {
	IssueBackendToken(ctx context.Context, claims auth.WalletClaims) (string, int64, error)
	ValidateToken(token string) (chain.Address, error)
}

type Dependencies struct {
	WalletVerifier    WalletVerifier
	TokenManager      BackendTokenManager
	TokenService      *token.Service
	LedgerService     *ledger.Service
	BridgeService     *bridge.Service
	UsersService      *users.Service
	Realtime          *RealtimeDispatcher
	Health            func(ctx context.Context) error
	HeartbeatInterval time.Duration
	Logger            *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.WalletVerifier == nil {
		return nil, errMissingWalletVerifier
	}
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.TokenService == nil {
		return nil, errMissingTokenService
	}
	if deps.LedgerService == nil {
		return nil, errMissingLedgerService
	}
	if deps.BridgeService == nil {
		return nil, errMissingBridgeService
	}
	if deps.UsersService == nil {
		return nil, errMissingUsersService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}
	sessions, err := auth.NewSessionValidator(auth.SessionValidatorConfig{Tokens: deps.TokenManager})
	if err != nil {
		return nil, err
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(observeRequests)
	router.Use(corsMiddleware())

	handler := &httpHandler{
		verifier:  deps.WalletVerifier,
		tokens:    deps.TokenManager,
		sessions:  sessions,
		token:     deps.TokenService,
		ledger:    deps.LedgerService,
		bridge:    deps.BridgeService,
		users:     deps.UsersService,
		realtime:  realtime,
		health:    deps.Health,
		heartbeat: heartbeat,
		logger:    logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.POST("/auth/challenge", handler.handleWalletChallenge)
	router.POST("/auth/wallet", handler.handleWalletAuth)

	router.GET("/token", handler.handleTokenInfo)
	router.GET("/token/balances/:address", handler.handleTokenBalance)
	router.GET("/token/allowances/:owner/:spender", handler.handleTokenAllowance)
	router.GET("/stats", handler.handleStats)
	router.GET("/partnerships/:id", handler.handleGetPartnership)
	router.GET("/partnerships/:id/gratitude", handler.handleListGratitude)
	router.GET("/partnerships/:id/goals", handler.handleListGoals)
	router.GET("/partnerships/:id/goals/:goalId", handler.handleGetGoal)
	router.GET("/partnerships/:id/events", handler.handlePartnershipEvents)
	router.GET("/bridge/config", handler.handleBridgeConfig)
	router.GET("/bridge/fee", handler.handleBridgeFee)
	router.GET("/bridge/messages/:messageId", handler.handleBridgeMessage)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/me", handler.handleGetAccount)
	protected.PUT("/me", handler.handleUpdateAccount)
	protected.POST("/token/approve", handler.handleTokenApprove)
	protected.POST("/token/transfer", handler.handleTokenTransfer)
	protected.POST("/token/mint", handler.handleTokenMint)
	protected.POST("/partnerships", handler.handleCreatePartnership)
	protected.GET("/partnerships", handler.handleListPartnerships)
	protected.POST("/partnerships/:id/gratitude", handler.handleAddGratitude)
	protected.POST("/partnerships/:id/deposits", handler.handleDepositFunds)
	protected.POST("/partnerships/:id/goals", handler.handleCreateGoal)
	protected.POST("/partnerships/:id/goals/:goalId/contributions", handler.handleContributeToGoal)
	protected.POST("/partnerships/:id/withdrawals", handler.handleWithdraw)
	protected.POST("/bridge/deposits", handler.handleBridgeDeposit)
	protected.GET("/bridge/deposits", handler.handleListBridgeDeposits)
	protected.POST("/bridge/completions", handler.handleBridgeCompletion)
	protected.POST("/admin/ledger/pause", handler.handlePause)
	protected.POST("/admin/ledger/unpause", handler.handleUnpause)
	protected.POST("/admin/bridge/validator", handler.handleSetValidator)
	protected.POST("/admin/bridge/fee", handler.handleSetBridgeFee)
	protected.POST("/admin/bridge/limits", handler.handleSetDepositLimits)
	protected.POST("/admin/bridge/fees/withdraw", handler.handleWithdrawFees)
	protected.GET("/events/stream", handler.handleEventStream)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	})
}

type httpHandler struct {
	verifier  WalletVerifier
	tokens    BackendTokenManager
	sessions  *auth.SessionValidator
	token     *token.Service
	ledger    *ledger.Service
	bridge    *bridge.Service
	users     *users.Service
	realtime  *RealtimeDispatcher
	health    func(ctx context.Context) error
	heartbeat time.Duration
	logger    *zap.Logger
}

type challengeRequestPayload struct {
	Address string `json:"address"`
}

type challengeResponsePayload struct {
	Address   string `json:"address"`
	Nonce     string `json:"nonce"`
	Message   string `json:"message"`
	ExpiresAt int64  `json:"expires_at_s"`
}

type authRequestPayload struct {
	Address   string `json:"address"`
	Signature string `json:"signature"`
}

type authResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
	Address     string `json:"address"`
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	if h.health != nil {
		if err := h.health(c.Request.Context()); err != nil {
			h.logger.Warn("health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleWalletChallenge(c *gin.Context) {
	var request challengeRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		writeBadRequest(c, "invalid_request")
		return
	}
	address, err := chain.ParseParticipant(request.Address)
	if err != nil {
		writeBadRequest(c, "invalid_address")
		return
	}
	challenge, err := h.verifier.IssueChallenge(c.Request.Context(), address)
	if err != nil {
		h.logger.Error("failed to issue wallet challenge", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "challenge_issue_failed"})
		return
	}
	c.JSON(http.StatusOK, challengeResponsePayload{
		Address:   challenge.Address.Hex(),
		Nonce:     challenge.Nonce,
		Message:   challenge.Message,
		ExpiresAt: challenge.ExpiresAt.Unix(),
	})
}

func (h *httpHandler) handleWalletAuth(c *gin.Context) {
	var request authRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Signature) == "" {
		writeBadRequest(c, "invalid_request")
		return
	}
	address, err := chain.ParseParticipant(request.Address)
	if err != nil {
		writeBadRequest(c, "invalid_address")
		return
	}

	claims, err := h.verifier.Verify(c.Request.Context(), address, request.Signature)
	if err != nil {
		h.logger.Warn("wallet signature verification failed", zap.String("address", address.Hex()), zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	if _, err := h.users.RecordLogin(c.Request.Context(), claims.Address); err != nil {
		h.logger.Error("failed to record wallet login", zap.String("address", address.Hex()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login_record_failed"})
		return
	}

	token, expiresIn, err := h.tokens.IssueBackendToken(c.Request.Context(), claims)
	if err != nil {
		h.logger.Error("failed to issue backend token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, authResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
		Address:     claims.Address.Hex(),
	})
}

type accountUpdatePayload struct {
	DisplayName string `json:"display_name"`
}

func (h *httpHandler) handleGetAccount(c *gin.Context) {
	account, err := h.users.Account(c.Request.Context(), callerAddress(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

func (h *httpHandler) handleUpdateAccount(c *gin.Context) {
	var request accountUpdatePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		writeBadRequest(c, "invalid_request")
		return
	}
	account, err := h.users.SetDisplayName(c.Request.Context(), callerAddress(c), request.DisplayName)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(addressContextKey, claims.Address)
	c.Next()
}

func callerAddress(c *gin.Context) chain.Address {
	value, ok := c.Get(addressContextKey)
	if !ok {
		return chain.ZeroAddress
	}
	address, _ := value.(chain.Address)
	return address
}
