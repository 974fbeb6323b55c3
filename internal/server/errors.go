package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/aasharing/internal/bridge"
	"github.com/MarcoPoloResearchLab/aasharing/internal/chain"
	"github.com/MarcoPoloResearchLab/aasharing/internal/ledger"
	"github.com/MarcoPoloResearchLab/aasharing/internal/token"
	"github.com/MarcoPoloResearchLab/aasharing/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type errorStatus struct {
	target error
	status int
}

var errorStatuses = []errorStatus{
	{ledger.ErrUnknownPartnership, http.StatusNotFound},
	{ledger.ErrUnknownGoal, http.StatusNotFound},
	{bridge.ErrUnknownMessage, http.StatusNotFound},
	{bridge.ErrUnknownDeposit, http.StatusNotFound},
	{users.ErrUnknownAccount, http.StatusNotFound},

	{ledger.ErrNotAPartner, http.StatusForbidden},
	{ledger.ErrUnauthorized, http.StatusForbidden},
	{ledger.ErrBridgeOnly, http.StatusForbidden},
	{bridge.ErrUnauthorized, http.StatusForbidden},
	{token.ErrNotMinter, http.StatusForbidden},

	{bridge.ErrInvalidSignature, http.StatusUnauthorized},

	{bridge.ErrMessageAlreadyProcessed, http.StatusConflict},
	{ledger.ErrGoalAlreadyAchieved, http.StatusConflict},
	{ledger.ErrPartnershipInactive, http.StatusConflict},
	{ledger.ErrEnforcedPause, http.StatusConflict},
	{ledger.ErrExpectedPause, http.StatusConflict},
	{ledger.ErrNoFundsToWithdraw, http.StatusConflict},
	{bridge.ErrNoFeesToWithdraw, http.StatusConflict},

	{ledger.ErrTransferFailed, http.StatusUnprocessableEntity},
	{bridge.ErrTransferFailed, http.StatusUnprocessableEntity},
	{bridge.ErrInsufficientLiquidity, http.StatusUnprocessableEntity},
	{token.ErrInsufficientBalance, http.StatusUnprocessableEntity},
	{token.ErrInsufficientAllowance, http.StatusUnprocessableEntity},
	{token.ErrAmountOverflow, http.StatusUnprocessableEntity},
	{ledger.ErrGoalTargetExceeded, http.StatusUnprocessableEntity},
	{ledger.ErrBalanceOverflow, http.StatusUnprocessableEntity},

	{ledger.ErrInvalidPartner, http.StatusBadRequest},
	{ledger.ErrInvalidNickname, http.StatusBadRequest},
	{ledger.ErrTextTooLong, http.StatusBadRequest},
	{ledger.ErrInvalidAmount, http.StatusBadRequest},
	{ledger.ErrInvalidGoalName, http.StatusBadRequest},
	{token.ErrInvalidRecipient, http.StatusBadRequest},
	{token.ErrInvalidSpender, http.StatusBadRequest},
	{token.ErrInvalidAmount, http.StatusBadRequest},
	{bridge.ErrInvalidAmount, http.StatusBadRequest},
	{bridge.ErrInvalidPartnership, http.StatusBadRequest},
	{bridge.ErrInvalidChain, http.StatusBadRequest},
	{bridge.ErrInvalidMessageID, http.StatusBadRequest},
	{bridge.ErrFeeTooHigh, http.StatusBadRequest},
	{bridge.ErrInvalidDepositLimits, http.StatusBadRequest},
	{bridge.ErrInvalidValidator, http.StatusBadRequest},
	{users.ErrInvalidDisplayName, http.StatusBadRequest},
}

// statusFor maps a service error to an HTTP status. Unknown errors are internal.
func statusFor(err error) int {
	for _, entry := range errorStatuses {
		if errors.Is(err, entry.target) {
			return entry.status
		}
	}
	return http.StatusInternalServerError
}

func (h *httpHandler) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	code := chain.ErrorCode(err)
	reason := code
	if index := strings.LastIndex(code, "."); index >= 0 {
		reason = code[index+1:]
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("route", c.FullPath()),
			zap.String("code", code),
			zap.Error(err))
		c.JSON(status, gin.H{"error": "internal_error", "code": code})
		return
	}
	if reason == "" {
		reason = strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
	c.JSON(status, gin.H{"error": reason, "code": code})
}

func writeBadRequest(c *gin.Context, reason string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": reason})
}

func parseUintParam(c *gin.Context, name, field string) (uint64, bool) {
	value, err := strconv.ParseUint(strings.TrimSpace(c.Param(name)), 10, 64)
	if err != nil {
		writeBadRequest(c, "invalid_"+field)
		return 0, false
	}
	return value, true
}

func parseAddressField(c *gin.Context, field, value string) (chain.Address, bool) {
	address, err := chain.ParseParticipant(value)
	if err != nil {
		writeBadRequest(c, "invalid_"+field)
		return chain.ZeroAddress, false
	}
	return address, true
}

// parseAmountField converts a decimal string in token units into base units.
func (h *httpHandler) parseAmountField(c *gin.Context, field, value string) (uint64, bool) {
	if strings.TrimSpace(value) == "" {
		writeBadRequest(c, "invalid_"+field)
		return 0, false
	}
	amount, err := token.ParseUnits(value, h.token.Metadata().Decimals)
	if err != nil {
		writeBadRequest(c, "invalid_"+field)
		return 0, false
	}
	return amount, true
}

func (h *httpHandler) formatAmount(amount uint64) string {
	return token.FormatUnits(amount, h.token.Metadata().Decimals)
}
