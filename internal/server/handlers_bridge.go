package server

import (
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/aasharing/internal/bridge"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
)

type bridgeDepositRequest struct {
	PartnershipID      uint64 `json:"partnership_id"`
	Amount             string `json:"amount"`
	DestinationChainID uint64 `json:"destination_chain_id"`
}

type bridgeCompletionRequest struct {
	User          string `json:"user"`
	PartnershipID uint64 `json:"partnership_id"`
	Amount        string `json:"amount"`
	SourceChainID uint64 `json:"source_chain_id"`
	MessageID     string `json:"message_id"`
	Nonce         uint64 `json:"nonce"`
	Signature     string `json:"signature"`
}

type bridgeConfigResponse struct {
	bridge.State
	ChainID              uint64 `json:"chain_id"`
	Contract             string `json:"contract"`
	MinDepositFormatted  string `json:"min_deposit_formatted"`
	MaxDepositFormatted  string `json:"max_deposit_formatted"`
	AccruedFeesFormatted string `json:"accrued_fees_formatted"`
}

type setValidatorRequest struct {
	Validator string `json:"validator"`
}

type setBridgeFeeRequest struct {
	FeeBasisPoints uint64 `json:"fee_basis_points"`
}

type setDepositLimitsRequest struct {
	MinDeposit string `json:"min_deposit"`
	MaxDeposit string `json:"max_deposit"`
}

type withdrawFeesRequest struct {
	To string `json:"to"`
}

func (h *httpHandler) handleBridgeDeposit(c *gin.Context) {
	var request bridgeDepositRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		writeBadRequest(c, "invalid_request")
		return
	}
	amount, ok := h.parseAmountField(c, "amount", request.Amount)
	if !ok {
		return
	}
	deposit, receipt, err := h.bridge.InitiateCrossChainDeposit(c.Request.Context(), callerAddress(c), request.PartnershipID, amount, request.DestinationChainID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"deposit": deposit, "receipt": newReceiptPayload(receipt)})
}

func (h *httpHandler) handleListBridgeDeposits(c *gin.Context) {
	deposits, err := h.bridge.Deposits(c.Request.Context(), callerAddress(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deposits": deposits})
}

func (h *httpHandler) handleBridgeCompletion(c *gin.Context) {
	var request bridgeCompletionRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		writeBadRequest(c, "invalid_request")
		return
	}
	user, ok := parseAddressField(c, "user", request.User)
	if !ok {
		return
	}
	amount, ok := h.parseAmountField(c, "amount", request.Amount)
	if !ok {
		return
	}
	messageID, ok := parseHashField(c, "message_id", request.MessageID)
	if !ok {
		return
	}
	signature, err := hexutil.Decode(strings.TrimSpace(request.Signature))
	if err != nil {
		writeBadRequest(c, "invalid_signature")
		return
	}
	attestation := bridge.Attestation{
		User:               user,
		PartnershipID:      request.PartnershipID,
		Amount:             amount,
		SourceChainID:      request.SourceChainID,
		DestinationChainID: h.bridge.ChainID(),
		MessageID:          messageID,
		Nonce:              request.Nonce,
	}
	message, receipt, err := h.bridge.CompleteCrossChainDeposit(c.Request.Context(), callerAddress(c), attestation, signature)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": message, "receipt": newReceiptPayload(receipt)})
}

func (h *httpHandler) handleBridgeConfig(c *gin.Context) {
	state, err := h.bridge.State(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, bridgeConfigResponse{
		State:                state,
		ChainID:              h.bridge.ChainID(),
		Contract:             h.bridge.Contract().Address().Hex(),
		MinDepositFormatted:  h.formatAmount(state.MinDeposit),
		MaxDepositFormatted:  h.formatAmount(state.MaxDeposit),
		AccruedFeesFormatted: h.formatAmount(state.AccruedFees),
	})
}

func (h *httpHandler) handleBridgeFee(c *gin.Context) {
	amount, ok := h.parseAmountField(c, "amount", c.Query("amount"))
	if !ok {
		return
	}
	quote, err := h.bridge.CalculateFee(c.Request.Context(), amount)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"amount":               amount,
		"fee":                  quote.Fee,
		"net_amount":           quote.NetAmount,
		"fee_formatted":        h.formatAmount(quote.Fee),
		"net_amount_formatted": h.formatAmount(quote.NetAmount),
	})
}

func (h *httpHandler) handleBridgeMessage(c *gin.Context) {
	messageID, ok := parseHashField(c, "message_id", c.Param("messageId"))
	if !ok {
		return
	}
	processed, err := h.bridge.MessageStatus(c.Request.Context(), messageID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if !processed {
		c.JSON(http.StatusOK, gin.H{"message_id": messageID.Hex(), "processed": false})
		return
	}
	message, err := h.bridge.Message(c.Request.Context(), messageID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message_id": messageID.Hex(), "processed": true, "message": message})
}

func (h *httpHandler) handleSetValidator(c *gin.Context) {
	var request setValidatorRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		writeBadRequest(c, "invalid_request")
		return
	}
	validator, ok := parseAddressField(c, "validator", request.Validator)
	if !ok {
		return
	}
	receipt, err := h.bridge.SetValidator(c.Request.Context(), callerAddress(c), validator)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"validator": validator.Hex(), "receipt": newReceiptPayload(receipt)})
}

func (h *httpHandler) handleSetBridgeFee(c *gin.Context) {
	var request setBridgeFeeRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		writeBadRequest(c, "invalid_request")
		return
	}
	receipt, err := h.bridge.SetBridgeFee(c.Request.Context(), callerAddress(c), request.FeeBasisPoints)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"fee_basis_points": request.FeeBasisPoints, "receipt": newReceiptPayload(receipt)})
}

func (h *httpHandler) handleSetDepositLimits(c *gin.Context) {
	var request setDepositLimitsRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		writeBadRequest(c, "invalid_request")
		return
	}
	minDeposit, ok := h.parseAmountField(c, "min_deposit", request.MinDeposit)
	if !ok {
		return
	}
	maxDeposit, ok := h.parseAmountField(c, "max_deposit", request.MaxDeposit)
	if !ok {
		return
	}
	receipt, err := h.bridge.SetDepositLimits(c.Request.Context(), callerAddress(c), minDeposit, maxDeposit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"min_deposit": minDeposit,
		"max_deposit": maxDeposit,
		"receipt":     newReceiptPayload(receipt),
	})
}

func (h *httpHandler) handleWithdrawFees(c *gin.Context) {
	var request withdrawFeesRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		writeBadRequest(c, "invalid_request")
		return
	}
	to, ok := parseAddressField(c, "to", request.To)
	if !ok {
		return
	}
	amount, receipt, err := h.bridge.WithdrawFees(c.Request.Context(), callerAddress(c), to)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"amount":           amount,
		"amount_formatted": h.formatAmount(amount),
		"receipt":          newReceiptPayload(receipt),
	})
}

func parseHashField(c *gin.Context, field, value string) (common.Hash, bool) {
	bytes, err := hexutil.Decode(strings.TrimSpace(value))
	if err != nil || len(bytes) != common.HashLength {
		writeBadRequest(c, "invalid_"+field)
		return common.Hash{}, false
	}
	return common.BytesToHash(bytes), true
}
