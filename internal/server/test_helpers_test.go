package server

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/aasharing/internal/auth"
	"github.com/MarcoPoloResearchLab/aasharing/internal/bridge"
	"github.com/MarcoPoloResearchLab/aasharing/internal/chain"
	"github.com/MarcoPoloResearchLab/aasharing/internal/database"
	"github.com/MarcoPoloResearchLab/aasharing/internal/ledger"
	"github.com/MarcoPoloResearchLab/aasharing/internal/token"
	"github.com/MarcoPoloResearchLab/aasharing/internal/users"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testChainID   = uint64(31337)
	remoteChainID = uint64(137)
	usdc          = uint64(1_000000)
)

type wallet struct {
	key     *ecdsa.PrivateKey
	address chain.Address
	token   string
}

type testStack struct {
	server     *httptest.Server
	tokens     *auth.TokenIssuer
	tokenSvc   *token.Service
	ledger     *ledger.Service
	bridge     *bridge.Service
	validator  *bridge.Signer
	dispatcher *RealtimeDispatcher
	owner      *wallet
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := database.Open(database.DriverSQLite, dsn, zap.NewNop())
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	dispatcher := NewRealtimeDispatcher()
	runtime, err := chain.NewRuntime(chain.RuntimeConfig{
		Database:   db,
		ChainID:    testChainID,
		IDProvider: chain.NewUUIDProvider(),
		Publisher:  dispatcher,
	})
	require.NoError(t, err)

	owner := newWallet(t)
	tokenContract, err := token.NewContract(token.ContractConfig{Name: "Mock USDC", Symbol: "USDC", Decimals: 6, Minter: owner.address})
	require.NoError(t, err)
	tokenService, err := token.NewService(token.ServiceConfig{Runtime: runtime, Contract: tokenContract})
	require.NoError(t, err)

	ledgerContract, err := ledger.NewContract(ledger.ContractConfig{
		Token:  tokenContract,
		Owner:  owner.address,
		Bridge: chain.ContractAddress(bridge.ContractName),
	})
	require.NoError(t, err)
	ledgerService, err := ledger.NewService(ledger.ServiceConfig{Runtime: runtime, Contract: ledgerContract})
	require.NoError(t, err)

	validatorKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	validator, err := bridge.NewSigner(validatorKey)
	require.NoError(t, err)
	bridgeContract, err := bridge.NewContract(bridge.ContractConfig{
		Token:          tokenContract,
		Ledger:         ledgerContract,
		Owner:          owner.address,
		Validator:      validator.Address(),
		FeeBasisPoints: 50,
		MinDeposit:     1 * usdc,
		MaxDeposit:     100_000 * usdc,
	})
	require.NoError(t, err)
	bridgeService, err := bridge.NewService(bridge.ServiceConfig{Runtime: runtime, Contract: bridgeContract})
	require.NoError(t, err)

	usersService, err := users.NewService(users.ServiceConfig{Database: db})
	require.NoError(t, err)
	verifier, err := auth.NewWalletVerifier(auth.WalletVerifierConfig{ChainID: testChainID, ChallengeTTL: time.Minute})
	require.NoError(t, err)
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("test-signing-secret"),
		Issuer:        "aasharing-auth",
		Audience:      "aasharing-api",
		TokenTTL:      time.Minute,
	})
	require.NoError(t, err)

	handler, err := NewHTTPHandler(Dependencies{
		WalletVerifier:    verifier,
		TokenManager:      issuer,
		TokenService:      tokenService,
		LedgerService:     ledgerService,
		BridgeService:     bridgeService,
		UsersService:      usersService,
		Realtime:          dispatcher,
		HeartbeatInterval: 50 * time.Millisecond,
	})
	require.NoError(t, err)

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	stack := &testStack{
		server:     server,
		tokens:     issuer,
		tokenSvc:   tokenService,
		ledger:     ledgerService,
		bridge:     bridgeService,
		validator:  validator,
		dispatcher: dispatcher,
		owner:      owner,
	}
	stack.login(t, owner)
	return stack
}

func newWallet(t *testing.T) *wallet {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return &wallet{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

// login runs the challenge and signature exchange and stores the bearer token on w.
func (s *testStack) login(t *testing.T, w *wallet) {
	t.Helper()
	var challenge challengeResponsePayload
	status := s.do(t, nil, http.MethodPost, "/auth/challenge", map[string]string{"address": w.address.Hex()}, &challenge)
	require.Equal(t, http.StatusOK, status)

	signature, err := chain.SignPersonalMessage(w.key, []byte(challenge.Message))
	require.NoError(t, err)

	var session authResponsePayload
	status = s.do(t, nil, http.MethodPost, "/auth/wallet", map[string]string{
		"address":   w.address.Hex(),
		"signature": hexutil.Encode(signature),
	}, &session)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, w.address.Hex(), session.Address)
	w.token = session.AccessToken
}

// fund mints amount base units to w through the owner's mint endpoint.
func (s *testStack) fund(t *testing.T, w *wallet, amount string) {
	t.Helper()
	status := s.do(t, s.owner, http.MethodPost, "/token/mint", map[string]string{"to": w.address.Hex(), "amount": amount}, nil)
	require.Equal(t, http.StatusOK, status)
}

func (s *testStack) approveLedger(t *testing.T, w *wallet, amount string) {
	t.Helper()
	status := s.do(t, w, http.MethodPost, "/token/approve", map[string]string{
		"spender": s.ledger.Contract().Address().Hex(),
		"amount":  amount,
	}, nil)
	require.Equal(t, http.StatusOK, status)
}

func (s *testStack) do(t *testing.T, caller *wallet, method, path string, body any, target any) int {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	request, err := http.NewRequest(method, s.server.URL+path, reader)
	require.NoError(t, err)
	request.Header.Set("Content-Type", "application/json")
	if caller != nil {
		request.Header.Set("Authorization", "Bearer "+caller.token)
	}
	response, err := http.DefaultClient.Do(request)
	require.NoError(t, err)
	defer response.Body.Close()
	if target != nil {
		require.NoError(t, json.NewDecoder(response.Body).Decode(target))
	}
	return response.StatusCode
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
