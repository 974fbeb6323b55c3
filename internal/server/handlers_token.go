package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type tokenInfoPayload struct {
	Name                 string `json:"name"`
	Symbol               string `json:"symbol"`
	Decimals             uint8  `json:"decimals"`
	Address              string `json:"address"`
	TotalSupply          uint64 `json:"total_supply"`
	TotalSupplyFormatted string `json:"total_supply_formatted"`
}

type amountPayload struct {
	Amount    uint64 `json:"amount"`
	Formatted string `json:"formatted"`
}

type tokenMovementRequest struct {
	To      string `json:"to"`
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

func (h *httpHandler) handleTokenInfo(c *gin.Context) {
	supply, err := h.token.TotalSupply(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	metadata := h.token.Metadata()
	c.JSON(http.StatusOK, tokenInfoPayload{
		Name:                 metadata.Name,
		Symbol:               metadata.Symbol,
		Decimals:             metadata.Decimals,
		Address:              h.token.Contract().Address().Hex(),
		TotalSupply:          supply,
		TotalSupplyFormatted: h.formatAmount(supply),
	})
}

func (h *httpHandler) handleTokenBalance(c *gin.Context) {
	holder, ok := parseAddressField(c, "address", c.Param("address"))
	if !ok {
		return
	}
	balance, err := h.token.BalanceOf(c.Request.Context(), holder)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, amountPayload{Amount: balance, Formatted: h.formatAmount(balance)})
}

func (h *httpHandler) handleTokenAllowance(c *gin.Context) {
	owner, ok := parseAddressField(c, "owner", c.Param("owner"))
	if !ok {
		return
	}
	spender, ok := parseAddressField(c, "spender", c.Param("spender"))
	if !ok {
		return
	}
	allowance, err := h.token.Allowance(c.Request.Context(), owner, spender)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, amountPayload{Amount: allowance, Formatted: h.formatAmount(allowance)})
}

func (h *httpHandler) handleTokenApprove(c *gin.Context) {
	var request tokenMovementRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		writeBadRequest(c, "invalid_request")
		return
	}
	spender, ok := parseAddressField(c, "spender", request.Spender)
	if !ok {
		return
	}
	amount, ok := h.parseAmountField(c, "amount", request.Amount)
	if !ok {
		return
	}
	receipt, err := h.token.Approve(c.Request.Context(), callerAddress(c), spender, amount)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newReceiptPayload(receipt))
}

func (h *httpHandler) handleTokenTransfer(c *gin.Context) {
	var request tokenMovementRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		writeBadRequest(c, "invalid_request")
		return
	}
	to, ok := parseAddressField(c, "to", request.To)
	if !ok {
		return
	}
	amount, ok := h.parseAmountField(c, "amount", request.Amount)
	if !ok {
		return
	}
	receipt, err := h.token.Transfer(c.Request.Context(), callerAddress(c), to, amount)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newReceiptPayload(receipt))
}

func (h *httpHandler) handleTokenMint(c *gin.Context) {
	var request tokenMovementRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		writeBadRequest(c, "invalid_request")
		return
	}
	to, ok := parseAddressField(c, "to", request.To)
	if !ok {
		return
	}
	amount, ok := h.parseAmountField(c, "amount", request.Amount)
	if !ok {
		return
	}
	receipt, err := h.token.Mint(c.Request.Context(), callerAddress(c), to, amount)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newReceiptPayload(receipt))
}
