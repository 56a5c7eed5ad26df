package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MarkoPoloResearchLab/bookkeeper/internal/events"
	"github.com/MarkoPoloResearchLab/bookkeeper/internal/httpserver"
	"github.com/MarkoPoloResearchLab/bookkeeper/internal/initiator"
	"github.com/MarkoPoloResearchLab/bookkeeper/internal/provisioning"
	"github.com/MarkoPoloResearchLab/bookkeeper/internal/reconciler"
	"github.com/MarkoPoloResearchLab/bookkeeper/internal/rpc"
	"github.com/MarkoPoloResearchLab/bookkeeper/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/bookkeeper/pkg/book"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	flagDatabaseURL     = "database-url"
	flagListenAddr      = "listen-addr"
	flagLedgerAddr      = "ledger-addr"
	flagLedgerInsecure  = "ledger-insecure"
	flagSigningKey      = "signing-key"
	flagIssuer          = "issuer"
	flagAllowedOrigins  = "allowed-origins"
	flagDefaultCurrency = "default-currency"
	flagKafkaBrokers    = "kafka-brokers"
	flagSweepInterval   = "sweep-interval"
	flagGracePeriod     = "grace-period"
	flagMaxAttempts     = "max-attempts"

	configKeyDatabaseURL     = "database_url"
	configKeyListenAddr      = "listen_addr"
	configKeyLedgerAddr      = "ledger_addr"
	configKeyLedgerInsecure  = "ledger_insecure"
	configKeySigningKey      = "signing_key"
	configKeyIssuer          = "issuer"
	configKeyAllowedOrigins  = "allowed_origins"
	configKeyDefaultCurrency = "default_currency"
	configKeyKafka           = "kafka_brokers"
	configKeySweepInterval   = "sweep_interval"
	configKeyGracePeriod     = "grace_period"
	configKeyMaxAttempts     = "max_attempts"

	defaultDatabaseURL = "sqlite:///tmp/bookkeeper.db"
	defaultListenAddr  = ":8080"
	defaultLedgerAddr  = "localhost:7100"
	defaultCurrency    = "USD"
	defaultIssuer      = "bookkeeper"
)

type runtimeConfig struct {
	DatabaseURL     string
	ListenAddr      string
	LedgerAddr      string
	LedgerInsecure  bool
	SigningKey      string
	Issuer          string
	AllowedOrigins  []string
	DefaultCurrency string
	KafkaBrokers    []string
	SweepInterval   time.Duration
	GracePeriod     time.Duration
	MaxAttempts     int
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "accountsd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "accountsd",
		Short:         "Transaction initiator HTTP facade and reconciliation worker",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL or sqlite connection string")
	cmd.Flags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.Flags().String(flagLedgerAddr, defaultLedgerAddr, "Posting engine gRPC address")
	cmd.Flags().Bool(flagLedgerInsecure, true, "Dial the posting engine without TLS")
	cmd.Flags().String(flagSigningKey, "", "HMAC signing key for API bearer tokens")
	cmd.Flags().String(flagIssuer, defaultIssuer, "Expected bearer token issuer")
	cmd.Flags().String(flagAllowedOrigins, "*", "Comma-separated CORS origins")
	cmd.Flags().String(flagDefaultCurrency, defaultCurrency, "Currency for provisioned default accounts")
	cmd.Flags().String(flagKafkaBrokers, "", "Comma-separated Kafka brokers for reconciliation events (optional)")
	cmd.Flags().Duration(flagSweepInterval, 30*time.Second, "Reconciliation sweep interval")
	cmd.Flags().Duration(flagGracePeriod, time.Minute, "How long a transaction may stay pending before reconciliation")
	cmd.Flags().Int(flagMaxAttempts, 5, "Reconciliation attempts before a transaction is failed")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	bindings := map[string]string{
		configKeyDatabaseURL:     "DATABASE_URL",
		configKeyListenAddr:      "HTTP_LISTEN_ADDR",
		configKeyLedgerAddr:      "LEDGER_ADDR",
		configKeyLedgerInsecure:  "LEDGER_INSECURE",
		configKeySigningKey:      "API_SIGNING_KEY",
		configKeyIssuer:          "API_ISSUER",
		configKeyAllowedOrigins:  "ALLOWED_ORIGINS",
		configKeyDefaultCurrency: "DEFAULT_CURRENCY",
		configKeyKafka:           "KAFKA_BROKERS",
		configKeySweepInterval:   "SWEEP_INTERVAL",
		configKeyGracePeriod:     "GRACE_PERIOD",
		configKeyMaxAttempts:     "MAX_ATTEMPTS",
	}
	for key, env := range bindings {
		if err := viper.BindEnv(key, env); err != nil {
			return err
		}
	}

	flags := map[string]string{
		configKeyDatabaseURL:     flagDatabaseURL,
		configKeyListenAddr:      flagListenAddr,
		configKeyLedgerAddr:      flagLedgerAddr,
		configKeyLedgerInsecure:  flagLedgerInsecure,
		configKeySigningKey:      flagSigningKey,
		configKeyIssuer:          flagIssuer,
		configKeyAllowedOrigins:  flagAllowedOrigins,
		configKeyDefaultCurrency: flagDefaultCurrency,
		configKeyKafka:           flagKafkaBrokers,
		configKeySweepInterval:   flagSweepInterval,
		configKeyGracePeriod:     flagGracePeriod,
		configKeyMaxAttempts:     flagMaxAttempts,
	}
	for key, flag := range flags {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	cfg.ListenAddr = viper.GetString(configKeyListenAddr)
	cfg.LedgerAddr = viper.GetString(configKeyLedgerAddr)
	cfg.LedgerInsecure = viper.GetBool(configKeyLedgerInsecure)
	cfg.SigningKey = viper.GetString(configKeySigningKey)
	cfg.Issuer = viper.GetString(configKeyIssuer)
	cfg.AllowedOrigins = strings.Split(viper.GetString(configKeyAllowedOrigins), ",")
	cfg.DefaultCurrency = viper.GetString(configKeyDefaultCurrency)
	if brokers := viper.GetString(configKeyKafka); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}
	cfg.SweepInterval = viper.GetDuration(configKeySweepInterval)
	cfg.GracePeriod = viper.GetDuration(configKeyGracePeriod)
	cfg.MaxAttempts = viper.GetInt(configKeyMaxAttempts)

	if cfg.SigningKey == "" {
		return fmt.Errorf("signing key is required")
	}
	return nil
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	gormDB, cleanup, driver, err := gormstore.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer cleanup()

	if err := gormstore.Migrate(gormDB, driver); err != nil {
		return fmt.Errorf("schema migrate: %w", err)
	}
	store := gormstore.New(gormDB)

	dialOptions := []grpc.DialOption{}
	if cfg.LedgerInsecure {
		dialOptions = append(dialOptions, grpc.WithTransportCredentials(insecure.NewCredentials()))
	} else {
		dialOptions = append(dialOptions, grpc.WithTransportCredentials(credentials.NewClientTLSFromCert(nil, "")))
	}
	conn, err := grpc.NewClient(cfg.LedgerAddr, dialOptions...)
	if err != nil {
		return fmt.Errorf("connect ledger: %w", err)
	}
	conn.Connect()
	if err := waitForClientReady(ctx, conn); err != nil {
		_ = conn.Close()
		return fmt.Errorf("connect ledger: %w", err)
	}
	defer conn.Close()

	engine := rpc.NewClient(conn)
	clock := func() int64 { return time.Now().UTC().Unix() }

	initiatorService, err := initiator.NewService(store, engine, clock, logger)
	if err != nil {
		return fmt.Errorf("initiator init: %w", err)
	}

	currency, err := book.NewCurrency(cfg.DefaultCurrency)
	if err != nil {
		return fmt.Errorf("default currency: %w", err)
	}
	bridge, err := provisioning.NewBridge(engine, currency, logger)
	if err != nil {
		return fmt.Errorf("provisioning bridge init: %w", err)
	}

	var publisher book.EventPublisher = events.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPublisher := events.NewKafkaPublisher(cfg.KafkaBrokers)
		defer func() { _ = kafkaPublisher.Close() }()
		publisher = kafkaPublisher
	}

	worker, err := reconciler.New(store, engine, publisher, logger, clock, reconciler.Config{
		Interval:    cfg.SweepInterval,
		GracePeriod: cfg.GracePeriod,
		MaxAttempts: cfg.MaxAttempts,
	})
	if err != nil {
		return fmt.Errorf("reconciler init: %w", err)
	}
	go worker.Run(ctx)

	server := httpserver.NewServer(httpserver.Config{
		ListenAddr:     cfg.ListenAddr,
		AllowedOrigins: cfg.AllowedOrigins,
		SigningKey:     cfg.SigningKey,
		Issuer:         cfg.Issuer,
	}, logger, initiatorService, bridge, engine)

	return server.Run(ctx)
}

func waitForClientReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		if state == connectivity.Ready {
			return nil
		}
		if state == connectivity.Shutdown {
			return errors.New("grpc connection shutdown before ready")
		}
		if !conn.WaitForStateChange(ctx, state) {
			if err := ctx.Err(); err != nil {
				return err
			}
			return errors.New("grpc connection failed to reach ready state")
		}
	}
}
