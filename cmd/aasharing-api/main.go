package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/aasharing/internal/auth"
	"github.com/MarcoPoloResearchLab/aasharing/internal/bridge"
	"github.com/MarcoPoloResearchLab/aasharing/internal/chain"
	"github.com/MarcoPoloResearchLab/aasharing/internal/config"
	"github.com/MarcoPoloResearchLab/aasharing/internal/database"
	"github.com/MarcoPoloResearchLab/aasharing/internal/ledger"
	"github.com/MarcoPoloResearchLab/aasharing/internal/logging"
	"github.com/MarcoPoloResearchLab/aasharing/internal/server"
	"github.com/MarcoPoloResearchLab/aasharing/internal/token"
	"github.com/MarcoPoloResearchLab/aasharing/internal/users"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "aasharing-api",
		Short: "Partnership ledger and cross-chain bridge service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newAttestCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-dsn", defaults.GetString("database.dsn"), "Database DSN or SQLite path")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Backend token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Backend signing secret (overrides env)")
	cmd.PersistentFlags().Uint64("chain-id", defaults.GetUint64("chain.id"), "Chain id of this deployment")
	cmd.PersistentFlags().String("bridge-validator", "", "Address of the bridge validator")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "chain.id", "chain-id")
	bindFlag(cmd, "bridge.validator", "bridge-validator")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogDevelopment)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.Open(appConfig.DatabaseDriver, appConfig.DatabaseDSN, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	dispatcher := server.NewRealtimeDispatcher()
	runtime, err := chain.NewRuntime(chain.RuntimeConfig{
		Database:   db,
		ChainID:    appConfig.ChainID,
		Clock:      time.Now,
		IDProvider: chain.NewUUIDProvider(),
		Publisher:  dispatcher,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	tokenContract, err := token.NewContract(token.ContractConfig{
		Name:     appConfig.TokenName,
		Symbol:   appConfig.TokenSymbol,
		Decimals: appConfig.TokenDecimals,
		Minter:   appConfig.TokenMinter,
	})
	if err != nil {
		return err
	}
	tokenService, err := token.NewService(token.ServiceConfig{Runtime: runtime, Contract: tokenContract, Logger: logger})
	if err != nil {
		return err
	}

	ledgerContract, err := ledger.NewContract(ledger.ContractConfig{
		Token:  tokenContract,
		Owner:  appConfig.LedgerOwner,
		Bridge: chain.ContractAddress(bridge.ContractName),
	})
	if err != nil {
		return err
	}
	ledgerService, err := ledger.NewService(ledger.ServiceConfig{Runtime: runtime, Contract: ledgerContract, Logger: logger})
	if err != nil {
		return err
	}

	bridgeContract, err := bridge.NewContract(bridge.ContractConfig{
		Token:          tokenContract,
		Ledger:         ledgerContract,
		Owner:          appConfig.BridgeOwner,
		Validator:      appConfig.BridgeValidator,
		FeeBasisPoints: appConfig.BridgeFeeBasisPoints,
		MinDeposit:     appConfig.BridgeMinDeposit,
		MaxDeposit:     appConfig.BridgeMaxDeposit,
	})
	if err != nil {
		return err
	}
	bridgeService, err := bridge.NewService(bridge.ServiceConfig{Runtime: runtime, Contract: bridgeContract, Logger: logger})
	if err != nil {
		return err
	}

	usersService, err := users.NewService(users.ServiceConfig{Database: db, Clock: time.Now, Logger: logger})
	if err != nil {
		return err
	}

	tokenManager, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "aasharing-auth",
		Audience:      "aasharing-api",
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}

	walletVerifier, err := auth.NewWalletVerifier(auth.WalletVerifierConfig{
		ChainID:      appConfig.ChainID,
		ChallengeTTL: appConfig.ChallengeTTL,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		WalletVerifier: walletVerifier,
		TokenManager:   tokenManager,
		TokenService:   tokenService,
		LedgerService:  ledgerService,
		BridgeService:  bridgeService,
		UsersService:   usersService,
		Realtime:       dispatcher,
		Health:         sqlDB.PingContext,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.Uint64("chain_id", appConfig.ChainID),
			zap.String("ledger", ledgerContract.Address().Hex()),
			zap.String("bridge", bridgeContract.Address().Hex()))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

type attestOutput struct {
	Validator string `json:"validator"`
	MessageID string `json:"message_id"`
	Digest    string `json:"digest"`
	Signature string `json:"signature"`
}

// newAttestCommand signs a deposit attestation with a validator key, for relayers and local testing.
func newAttestCommand() *cobra.Command {
	var (
		validatorKey       string
		user               string
		partnershipID      uint64
		amount             string
		decimals           uint8
		sourceChainID      uint64
		destinationChainID uint64
		messageID          string
		depositID          uint64
		nonce              uint64
	)
	cmd := &cobra.Command{
		Use:   "attest",
		Short: "Sign a cross-chain deposit attestation",
		RunE: func(cmd *cobra.Command, args []string) error {
			if validatorKey == "" {
				validatorKey = os.Getenv("AASHARING_VALIDATOR_KEY")
			}
			signer, err := bridge.NewSignerFromHex(validatorKey)
			if err != nil {
				return fmt.Errorf("validator key: %w", err)
			}
			userAddress, err := chain.ParseParticipant(user)
			if err != nil {
				return fmt.Errorf("user: %w", err)
			}
			baseUnits, err := token.ParseUnits(amount, decimals)
			if err != nil {
				return fmt.Errorf("amount: %w", err)
			}

			var id common.Hash
			switch {
			case messageID != "":
				decoded, err := hexutil.Decode(messageID)
				if err != nil || len(decoded) != common.HashLength {
					return fmt.Errorf("message id must be 32 hex bytes")
				}
				id = common.BytesToHash(decoded)
			case depositID != 0:
				id = bridge.DepositMessageID(sourceChainID, depositID, userAddress)
			default:
				return fmt.Errorf("either --message-id or --deposit-id is required")
			}

			attestation := bridge.Attestation{
				User:               userAddress,
				PartnershipID:      partnershipID,
				Amount:             baseUnits,
				SourceChainID:      sourceChainID,
				DestinationChainID: destinationChainID,
				MessageID:          id,
				Nonce:              nonce,
			}
			digest, err := attestation.Digest()
			if err != nil {
				return err
			}
			signature, err := signer.Sign(attestation)
			if err != nil {
				return err
			}

			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(attestOutput{
				Validator: signer.Address().Hex(),
				MessageID: id.Hex(),
				Digest:    digest.Hex(),
				Signature: hexutil.Encode(signature),
			})
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&validatorKey, "validator-key", "", "Hex secp256k1 validator key (defaults to AASHARING_VALIDATOR_KEY)")
	flags.StringVar(&user, "user", "", "Depositor address")
	flags.Uint64Var(&partnershipID, "partnership-id", 0, "Destination partnership id")
	flags.StringVar(&amount, "amount", "", "Net amount in token units")
	flags.Uint8Var(&decimals, "decimals", 6, "Token decimals")
	flags.Uint64Var(&sourceChainID, "source-chain-id", 0, "Chain the deposit was initiated on")
	flags.Uint64Var(&destinationChainID, "destination-chain-id", 31337, "Chain that will credit the deposit")
	flags.StringVar(&messageID, "message-id", "", "Message id (0x-prefixed 32 bytes)")
	flags.Uint64Var(&depositID, "deposit-id", 0, "Source deposit id, used to derive the message id")
	flags.Uint64Var(&nonce, "nonce", 0, "Attestation nonce")
	return cmd
}
