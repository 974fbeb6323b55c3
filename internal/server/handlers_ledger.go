package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/MarcoPoloResearchLab/aasharing/internal/chain"
	"github.com/MarcoPoloResearchLab/aasharing/internal/ledger"
	"github.com/gin-gonic/gin"
)

type partnershipResponse struct {
	ledger.Partnership
	TotalBalanceFormatted string `json:"total_balance_formatted"`
}

type goalResponse struct {
	ledger.Goal
	TargetFormatted  string `json:"target_amount_formatted"`
	CurrentFormatted string `json:"current_amount_formatted"`
}

type statsResponse struct {
	ledger.Stats
	TotalValueLockedFormatted string `json:"total_value_locked_formatted"`
}

type createPartnershipRequest struct {
	Partner         string `json:"partner"`
	NicknameSelf    string `json:"nickname_self"`
	NicknamePartner string `json:"nickname_partner"`
}

type gratitudeRequest struct {
	Text   string `json:"text"`
	Amount string `json:"amount"`
}

type depositRequest struct {
	Amount string `json:"amount"`
}

type createGoalRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Target      string `json:"target"`
}

func (h *httpHandler) partnershipResponse(partnership ledger.Partnership) partnershipResponse {
	return partnershipResponse{Partnership: partnership, TotalBalanceFormatted: h.formatAmount(partnership.TotalBalance)}
}

func (h *httpHandler) goalResponse(goal ledger.Goal) goalResponse {
	return goalResponse{
		Goal:             goal,
		TargetFormatted:  h.formatAmount(goal.TargetAmount),
		CurrentFormatted: h.formatAmount(goal.CurrentAmount),
	}
}

func (h *httpHandler) handleCreatePartnership(c *gin.Context) {
	var request createPartnershipRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		writeBadRequest(c, "invalid_request")
		return
	}
	partner, ok := parseAddressField(c, "partner", request.Partner)
	if !ok {
		return
	}
	partnership, receipt, err := h.ledger.CreatePartnership(c.Request.Context(), callerAddress(c), partner, request.NicknameSelf, request.NicknamePartner)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"partnership": h.partnershipResponse(partnership),
		"receipt":     newReceiptPayload(receipt),
	})
}

func (h *httpHandler) handleListPartnerships(c *gin.Context) {
	partnerships, err := h.ledger.UserPartnerships(c.Request.Context(), callerAddress(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response := make([]partnershipResponse, 0, len(partnerships))
	for _, partnership := range partnerships {
		response = append(response, h.partnershipResponse(partnership))
	}
	c.JSON(http.StatusOK, gin.H{"partnerships": response})
}

func (h *httpHandler) handleGetPartnership(c *gin.Context) {
	partnershipID, ok := parseUintParam(c, "id", "partnership_id")
	if !ok {
		return
	}
	partnership, err := h.ledger.Partnership(c.Request.Context(), partnershipID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.partnershipResponse(partnership))
}

func (h *httpHandler) handleAddGratitude(c *gin.Context) {
	partnershipID, ok := parseUintParam(c, "id", "partnership_id")
	if !ok {
		return
	}
	var request gratitudeRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		writeBadRequest(c, "invalid_request")
		return
	}
	amount := uint64(0)
	if request.Amount != "" {
		if amount, ok = h.parseAmountField(c, "amount", request.Amount); !ok {
			return
		}
	}
	entry, receipt, err := h.ledger.AddGratitude(c.Request.Context(), callerAddress(c), partnershipID, request.Text, amount)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"entry": entry, "receipt": newReceiptPayload(receipt)})
}

func (h *httpHandler) handleListGratitude(c *gin.Context) {
	partnershipID, ok := parseUintParam(c, "id", "partnership_id")
	if !ok {
		return
	}
	entries, err := h.ledger.GratitudeEntries(c.Request.Context(), partnershipID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (h *httpHandler) handleDepositFunds(c *gin.Context) {
	partnershipID, ok := parseUintParam(c, "id", "partnership_id")
	if !ok {
		return
	}
	var request depositRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		writeBadRequest(c, "invalid_request")
		return
	}
	amount, ok := h.parseAmountField(c, "amount", request.Amount)
	if !ok {
		return
	}
	partnership, receipt, err := h.ledger.DepositFunds(c.Request.Context(), callerAddress(c), partnershipID, amount)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"partnership": h.partnershipResponse(partnership),
		"receipt":     newReceiptPayload(receipt),
	})
}

func (h *httpHandler) handleCreateGoal(c *gin.Context) {
	partnershipID, ok := parseUintParam(c, "id", "partnership_id")
	if !ok {
		return
	}
	var request createGoalRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		writeBadRequest(c, "invalid_request")
		return
	}
	target, ok := h.parseAmountField(c, "target", request.Target)
	if !ok {
		return
	}
	goal, receipt, err := h.ledger.CreateGoal(c.Request.Context(), callerAddress(c), partnershipID, request.Name, request.Description, target)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"goal": h.goalResponse(goal), "receipt": newReceiptPayload(receipt)})
}

func (h *httpHandler) handleListGoals(c *gin.Context) {
	partnershipID, ok := parseUintParam(c, "id", "partnership_id")
	if !ok {
		return
	}
	goals, err := h.ledger.Goals(c.Request.Context(), partnershipID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response := make([]goalResponse, 0, len(goals))
	for _, goal := range goals {
		response = append(response, h.goalResponse(goal))
	}
	c.JSON(http.StatusOK, gin.H{"goals": response})
}

func (h *httpHandler) handleGetGoal(c *gin.Context) {
	partnershipID, ok := parseUintParam(c, "id", "partnership_id")
	if !ok {
		return
	}
	goalID, ok := parseUintParam(c, "goalId", "goal_id")
	if !ok {
		return
	}
	goal, err := h.ledger.Goal(c.Request.Context(), partnershipID, goalID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.goalResponse(goal))
}

func (h *httpHandler) handleContributeToGoal(c *gin.Context) {
	partnershipID, ok := parseUintParam(c, "id", "partnership_id")
	if !ok {
		return
	}
	goalID, ok := parseUintParam(c, "goalId", "goal_id")
	if !ok {
		return
	}
	var request depositRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		writeBadRequest(c, "invalid_request")
		return
	}
	amount, ok := h.parseAmountField(c, "amount", request.Amount)
	if !ok {
		return
	}
	goal, receipt, err := h.ledger.ContributeToGoal(c.Request.Context(), callerAddress(c), partnershipID, goalID, amount)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"goal": h.goalResponse(goal), "receipt": newReceiptPayload(receipt)})
}

func (h *httpHandler) handleWithdraw(c *gin.Context) {
	partnershipID, ok := parseUintParam(c, "id", "partnership_id")
	if !ok {
		return
	}
	share, receipt, err := h.ledger.Withdraw(c.Request.Context(), callerAddress(c), partnershipID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"share":           share,
		"share_formatted": h.formatAmount(share),
		"receipt":         newReceiptPayload(receipt),
	})
}

func (h *httpHandler) handlePartnershipEvents(c *gin.Context) {
	partnershipID, ok := parseUintParam(c, "id", "partnership_id")
	if !ok {
		return
	}
	after, err := queryInt64(c, "after")
	if err != nil {
		writeBadRequest(c, "invalid_after")
		return
	}
	limit, err := queryInt64(c, "limit")
	if err != nil || limit < 0 {
		writeBadRequest(c, "invalid_limit")
		return
	}
	events, err := h.ledger.History(c.Request.Context(), partnershipID, after, int(limit))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": newEventPayloads(events)})
}

func (h *httpHandler) handleStats(c *gin.Context) {
	stats, err := h.ledger.Stats(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, statsResponse{Stats: stats, TotalValueLockedFormatted: h.formatAmount(stats.TotalValueLocked)})
}

func (h *httpHandler) handlePause(c *gin.Context) {
	h.handlePauseToggle(c, h.ledger.Pause)
}

func (h *httpHandler) handleUnpause(c *gin.Context) {
	h.handlePauseToggle(c, h.ledger.Unpause)
}

func (h *httpHandler) handlePauseToggle(c *gin.Context, toggle func(ctx context.Context, caller chain.Address) (chain.Receipt, error)) {
	receipt, err := toggle(c.Request.Context(), callerAddress(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	paused, err := h.ledger.Paused(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"paused": paused, "receipt": newReceiptPayload(receipt)})
}

func queryInt64(c *gin.Context, name string) (int64, error) {
	value := c.Query(name)
	if value == "" {
		return 0, nil
	}
	return strconv.ParseInt(value, 10, 64)
}
