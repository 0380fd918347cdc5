package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/newsproof/newsbot/internal/agent"
	"github.com/newsproof/newsbot/internal/artifacts"
	"github.com/newsproof/newsbot/internal/chain"
	"github.com/newsproof/newsbot/internal/channel"
	"github.com/newsproof/newsbot/internal/contracts"
	"github.com/newsproof/newsbot/internal/events"
	"github.com/newsproof/newsbot/internal/pipeline"
	"github.com/newsproof/newsbot/internal/prover"
	"github.com/newsproof/newsbot/internal/runlog"
	"github.com/newsproof/newsbot/internal/runlog/postgres"
	"github.com/newsproof/newsbot/internal/secrets"
	"github.com/newsproof/newsbot/internal/statusapi"
	"github.com/newsproof/newsbot/internal/webproof"
)

func main() {
	var (
		secretsDriver  = flag.String("secrets-driver", secrets.DriverEnv, "secrets driver: env|aws")
		botTokenKey    = flag.String("bot-token-key", "NEWSBOT_BOT_TOKEN", "secret key (env var name or secret id) holding the channel bot token")
		privateKeyKey  = flag.String("private-key-key", "NEWSBOT_PRIVATE_KEY", "secret key holding the EVM private key hex")
		proverTokenKey = flag.String("prover-token-key", "NEWSBOT_PROVER_TOKEN", "secret key holding the prover bearer token (optional)")

		channelAPIURL   = flag.String("channel-api-url", "https://api.telegram.org", "channel bot API base URL; the bot token is appended as /bot<token>")
		longPollTimeout = flag.Int("long-poll-timeout", pipeline.DefaultLongPollTimeout, "server-side long poll timeout (seconds)")
		fetchOnce       = flag.Bool("fetch-once", false, "print one pending-updates batch as JSON and exit")

		agentURL       = flag.String("agent-url", "", "agent endpoint notified with each update text (optional)")
		agentSessionID = flag.String("agent-session-id", "vlayer-bot-usdc-swapper", "agent session id")

		vlayerBin   = flag.String("vlayer-bin", "vlayer", "vlayer binary path")
		notaryURL   = flag.String("notary-url", "", "TLS notary URL (required)")
		webproofURL = flag.String("webproof-url", "", "page notarized on every pass (default: the channel getUpdates URL)")
		maxProofOut = flag.Int("webproof-max-output-bytes", 8<<20, "max web proof bytes read from the vlayer binary")

		rpcURL  = flag.String("rpc-url", "", "EVM JSON-RPC URL (required)")
		chainID = flag.Uint64("chain-id", 0, "EVM chain id (required)")

		proverURL          = flag.String("prover-url", "", "remote prover JSON-RPC URL (required)")
		proverGasLimit     = flag.Uint64("prover-gas-limit", 1_000_000, "gas limit passed to the prover call")
		proverPollInterval = flag.Duration("prover-poll-interval", time.Second, "initial prover result poll interval")
		proverMaxWait      = flag.Duration("prover-max-wait", 10*time.Minute, "max time to await a prover result")

		proverArtifact   = flag.String("prover-artifact", "", "prover contract artifact JSON (abi + bytecode) (required)")
		verifierArtifact = flag.String("verifier-artifact", "", "verifier contract artifact JSON (abi + bytecode) (required)")
		proverAddress    = flag.String("prover-address", "", "existing prover contract address; skips deployment when set with --verifier-address")
		verifierAddress  = flag.String("verifier-address", "", "existing verifier contract address")
		verifyMethod     = flag.String("verify-method", chain.DefaultVerifyMethod, "verifier method called with (proof, value)")

		confirmations     = flag.Uint64("confirmations", 1, "confirmations required per transaction")
		receiptAttempts   = flag.Int("receipt-attempts", 60, "receipt checks before giving up")
		receiptRetryDelay = flag.Duration("receipt-retry-delay", time.Second, "delay between receipt checks")
		gasMultiplier     = flag.Float64("gas-limit-multiplier", 1.2, "multiplier applied to estimated gas")
		minTipCapWei      = flag.String("min-tip-cap-wei", "0", "minimum priority fee (wei)")

		passTimeout = flag.Duration("pass-timeout", pipeline.DefaultPassTimeout, "timeout for one notify/prove/verify pass")

		storeDriver = flag.String("store-driver", "memory", "run ledger driver: memory|postgres")
		postgresDSN = flag.String("postgres-dsn", "", "Postgres DSN (required for --store-driver=postgres)")

		eventsDriver  = flag.String("events-driver", "none", "run events driver: none|kafka|stdio")
		eventsBrokers = flag.String("events-brokers", "", "comma-separated kafka brokers")
		eventsTopic   = flag.String("events-topic", events.DefaultTopic, "run events topic")
		eventsTLS     = flag.Bool("events-kafka-tls", false, "use TLS for kafka brokers")

		artifactsDriver = flag.String("artifacts-driver", "none", "web proof archive driver: none|s3|memory")
		artifactsBucket = flag.String("artifacts-bucket", "", "S3 bucket for --artifacts-driver=s3")
		artifactsPrefix = flag.String("artifacts-prefix", "", "object key prefix")

		statusListen = flag.String("status-listen", "", "status HTTP listen address (disabled when empty)")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	secretProvider, err := secrets.NewProvider(ctx, *secretsDriver)
	if err != nil {
		log.Error("init secrets provider", "err", err)
		os.Exit(2)
	}

	if *fetchOnce {
		botToken, err := secretProvider.Get(ctx, *botTokenKey)
		if err != nil {
			log.Error("load bot token", "err", err, "key", *botTokenKey)
			os.Exit(2)
		}
		poller, err := newPoller(*channelAPIURL, botToken, log)
		if err != nil {
			log.Error("init channel poller", "err", err)
			os.Exit(2)
		}
		batch, err := poller.FetchOnce(ctx)
		if err != nil {
			log.Error("fetch updates", "err", err)
			os.Exit(1)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(batch); err != nil {
			log.Error("write batch", "err", err)
			os.Exit(1)
		}
		return
	}

	if *notaryURL == "" || *rpcURL == "" || *chainID == 0 || *proverURL == "" || *proverArtifact == "" || *verifierArtifact == "" {
		fmt.Fprintln(os.Stderr, "error: --notary-url, --rpc-url, --chain-id, --prover-url, --prover-artifact, and --verifier-artifact are required")
		os.Exit(2)
	}
	if *longPollTimeout <= 0 || *receiptAttempts <= 0 || *maxProofOut <= 0 {
		fmt.Fprintln(os.Stderr, "error: --long-poll-timeout, --receipt-attempts, and --webproof-max-output-bytes must be > 0")
		os.Exit(2)
	}
	if *receiptRetryDelay <= 0 || *passTimeout <= 0 || *proverPollInterval <= 0 || *proverMaxWait <= 0 {
		fmt.Fprintln(os.Stderr, "error: timeout/interval values must be > 0")
		os.Exit(2)
	}
	if *gasMultiplier < 1 {
		fmt.Fprintln(os.Stderr, "error: --gas-limit-multiplier must be >= 1")
		os.Exit(2)
	}
	minTipCap, err := parseBigInt(*minTipCapWei)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: --min-tip-cap-wei: %v\n", err)
		os.Exit(2)
	}
	staticAddrs, static, err := parseStaticAddresses(*proverAddress, *verifierAddress)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	proverSpec, err := contracts.LoadSpec(*proverArtifact)
	if err != nil {
		log.Error("load prover artifact", "err", err)
		os.Exit(2)
	}
	verifierSpec, err := contracts.LoadSpec(*verifierArtifact)
	if err != nil {
		log.Error("load verifier artifact", "err", err)
		os.Exit(2)
	}
	if !proverSpec.HasMethod(prover.FunctionName) {
		fmt.Fprintf(os.Stderr, "error: %s has no %s()\n", proverSpec.Name, prover.FunctionName)
		os.Exit(2)
	}
	if !verifierSpec.HasMethod(*verifyMethod) {
		fmt.Fprintf(os.Stderr, "error: %s has no %s()\n", verifierSpec.Name, *verifyMethod)
		os.Exit(2)
	}

	creds, err := secrets.Load(ctx, secretProvider, secrets.Keys{
		BotToken:    *botTokenKey,
		PrivateKey:  *privateKeyKey,
		ProverToken: *proverTokenKey,
	})
	if err != nil {
		log.Error("load credentials", "err", err)
		os.Exit(2)
	}

	poller, err := newPoller(*channelAPIURL, creds.BotToken, log)
	if err != nil {
		log.Error("init channel poller", "err", err)
		os.Exit(2)
	}
	target := strings.TrimSpace(*webproofURL)
	if target == "" {
		target = poller.UpdatesURL()
	}

	notarizer, err := webproof.New(webproof.Config{
		Binary:         *vlayerBin,
		NotaryURL:      *notaryURL,
		MaxOutputBytes: *maxProofOut,
		Log:            log,
	})
	if err != nil {
		log.Error("init notarizer", "err", err)
		os.Exit(2)
	}

	startupCtx, cancelStartup := context.WithTimeout(ctx, 30*time.Second)
	defer cancelStartup()

	client, err := ethclient.DialContext(startupCtx, *rpcURL)
	if err != nil {
		log.Error("dial rpc", "err", err)
		os.Exit(2)
	}
	defer client.Close()

	wantChainID := new(big.Int).SetUint64(*chainID)
	gotChainID, err := client.ChainID(startupCtx)
	if err != nil {
		log.Error("get chain id", "err", err)
		os.Exit(2)
	}
	if gotChainID.Cmp(wantChainID) != 0 {
		log.Error("chain id mismatch", "want", wantChainID.String(), "got", gotChainID.String())
		os.Exit(2)
	}

	signer, err := chain.KeySignerFromHex(creds.PrivateKey)
	if err != nil {
		log.Error("load signer key", "err", err)
		os.Exit(2)
	}
	submitter, err := chain.NewSubmitter(chain.NewRPCBackend(client), signer, chain.Config{
		ChainID:            wantChainID,
		GasLimitMultiplier: *gasMultiplier,
		MinTipCap:          minTipCap,
		Confirmations:      *confirmations,
		ReceiptAttempts:    *receiptAttempts,
		ReceiptRetryDelay:  *receiptRetryDelay,
		Log:                log,
	})
	if err != nil {
		log.Error("init submitter", "err", err)
		os.Exit(2)
	}

	proverClient, closeProver, err := prover.Dial(startupCtx, *proverURL, creds.ProverToken, prover.Config{
		ChainID:      *chainID,
		GasLimit:     *proverGasLimit,
		PollInterval: *proverPollInterval,
		MaxWait:      *proverMaxWait,
		Log:          log,
	})
	if err != nil {
		log.Error("init prover client", "err", err)
		os.Exit(2)
	}
	defer closeProver()

	var setup pipeline.Setup
	if static {
		setup = contracts.StaticLocator{Addresses: staticAddrs}
	} else {
		deployer, err := contracts.NewDeployer(submitter, proverSpec, verifierSpec, log)
		if err != nil {
			log.Error("init contract deployer", "err", err)
			os.Exit(2)
		}
		setup = deployer
	}

	deps := pipeline.Deps{
		Setup:     setup,
		Source:    poller,
		Notarizer: notarizer,
		Prover:    proverClient,
		Verifier:  submitter,
	}

	if strings.TrimSpace(*agentURL) != "" {
		agentClient, err := agent.NewClient(*agentURL, *agentSessionID)
		if err != nil {
			log.Error("init agent client", "err", err)
			os.Exit(2)
		}
		log.Info("agent notifications enabled", "sessionId", agentClient.SessionID())
		deps.Notifier = agentClient
	}

	switch strings.ToLower(strings.TrimSpace(*storeDriver)) {
	case "postgres":
		if *postgresDSN == "" {
			fmt.Fprintln(os.Stderr, "error: --postgres-dsn is required when --store-driver=postgres")
			os.Exit(2)
		}
		pool, err := pgxpool.New(ctx, *postgresDSN)
		if err != nil {
			log.Error("init pgx pool", "err", err)
			os.Exit(2)
		}
		defer pool.Close()

		pgStore, err := postgres.New(pool)
		if err != nil {
			log.Error("init run postgres store", "err", err)
			os.Exit(2)
		}
		if err := pgStore.EnsureSchema(ctx); err != nil {
			log.Error("ensure run postgres schema", "err", err)
			os.Exit(2)
		}
		deps.Runs = pgStore
	case "memory":
		deps.Runs = runlog.NewMemoryStore()
	default:
		fmt.Fprintf(os.Stderr, "error: unsupported --store-driver %q\n", *storeDriver)
		os.Exit(2)
	}

	switch strings.ToLower(strings.TrimSpace(*eventsDriver)) {
	case "", "none":
	default:
		producer, err := events.NewProducer(events.ProducerConfig{
			Driver:  *eventsDriver,
			Brokers: events.SplitCommaList(*eventsBrokers),
			TLS:     *eventsTLS,
		})
		if err != nil {
			log.Error("init events producer", "err", err)
			os.Exit(2)
		}
		publisher, err := events.NewPublisher(producer, *eventsTopic)
		if err != nil {
			_ = producer.Close()
			log.Error("init events publisher", "err", err)
			os.Exit(2)
		}
		defer func() { _ = publisher.Close() }()
		deps.Events = publisher
	}

	switch strings.ToLower(strings.TrimSpace(*artifactsDriver)) {
	case "", "none":
	default:
		cfg := artifacts.Config{
			Driver: *artifactsDriver,
			Prefix: *artifactsPrefix,
			Bucket: *artifactsBucket,
		}
		if strings.EqualFold(strings.TrimSpace(*artifactsDriver), artifacts.DriverS3) {
			awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
			if err != nil {
				log.Error("load aws config", "err", err)
				os.Exit(2)
			}
			cfg.S3Client = awss3.NewFromConfig(awsCfg)
		}
		archive, err := artifacts.New(cfg)
		if err != nil {
			log.Error("init artifact archive", "err", err)
			os.Exit(2)
		}
		deps.Archive = archive
	}

	bot, err := pipeline.New(pipeline.Config{
		TargetURL:       target,
		ProverABI:       proverSpec.ABI,
		VerifierABI:     verifierSpec.ABI,
		VerifyMethod:    *verifyMethod,
		LongPollTimeout: *longPollTimeout,
		PassTimeout:     *passTimeout,
	}, deps, log)
	if err != nil {
		log.Error("init bot", "err", err)
		os.Exit(2)
	}

	if err := bot.Initialize(ctx); err != nil {
		log.Error("initialize bot", "err", err)
		os.Exit(1)
	}

	var srv *http.Server
	if addr := strings.TrimSpace(*statusListen); addr != "" {
		handler, err := statusapi.NewHandler(statusapi.Config{}, bot, deps.Runs)
		if err != nil {
			log.Error("init status handler", "err", err)
			os.Exit(2)
		}
		srv = &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
			MaxHeaderBytes:    1 << 20,
		}
		go func() {
			log.Info("status api listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("status server error", "err", err)
				stop()
			}
		}()
	}

	log.Info("newsbot starting",
		"chainID", *chainID,
		"signer", submitter.From(),
		"staticContracts", static,
		"store", *storeDriver,
		"events", *eventsDriver,
		"artifacts", *artifactsDriver,
	)

	runErr := bot.Start(ctx)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}
	if runErr != nil {
		log.Error("bot exited", "err", runErr)
		os.Exit(1)
	}
}

func newPoller(apiURL string, botToken string, log *slog.Logger) (*channel.Poller, error) {
	base := strings.TrimRight(strings.TrimSpace(apiURL), "/")
	if base == "" {
		return nil, fmt.Errorf("missing channel api url")
	}
	if strings.TrimSpace(botToken) == "" {
		return nil, fmt.Errorf("missing bot token")
	}
	return channel.New(channel.Config{
		BaseURL: base + "/bot" + strings.TrimSpace(botToken),
		Log:     log,
	})
}

func parseStaticAddresses(proverHex string, verifierHex string) (contracts.Addresses, bool, error) {
	proverHex = strings.TrimSpace(proverHex)
	verifierHex = strings.TrimSpace(verifierHex)
	if proverHex == "" && verifierHex == "" {
		return contracts.Addresses{}, false, nil
	}
	if proverHex == "" || verifierHex == "" {
		return contracts.Addresses{}, false, fmt.Errorf("--prover-address and --verifier-address must be set together")
	}
	if !common.IsHexAddress(proverHex) || !common.IsHexAddress(verifierHex) {
		return contracts.Addresses{}, false, fmt.Errorf("--prover-address and --verifier-address must be valid hex addresses")
	}
	addrs := contracts.Addresses{
		Prover:   common.HexToAddress(proverHex),
		Verifier: common.HexToAddress(verifierHex),
	}
	if !addrs.Valid() {
		return contracts.Addresses{}, false, fmt.Errorf("contract addresses must be non-zero")
	}
	return addrs, true, nil
}

func parseBigInt(v string) (*big.Int, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, fmt.Errorf("empty value")
	}
	out, ok := new(big.Int).SetString(v, 10)
	if !ok {
		return nil, fmt.Errorf("invalid decimal")
	}
	if out.Sign() < 0 {
		return nil, fmt.Errorf("must be >= 0")
	}
	return out, nil
}
