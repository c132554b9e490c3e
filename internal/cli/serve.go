package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/postfiatorg/pftnoded/internal/config"
	"github.com/postfiatorg/pftnoded/internal/credstore"
	"github.com/postfiatorg/pftnoded/internal/engine"
	"github.com/postfiatorg/pftnoded/internal/gdocs"
	"github.com/postfiatorg/pftnoded/internal/handshake"
	"github.com/postfiatorg/pftnoded/internal/llm"
	"github.com/postfiatorg/pftnoded/internal/logging"
	"github.com/postfiatorg/pftnoded/internal/monitor"
	"github.com/postfiatorg/pftnoded/internal/storage"
	"github.com/postfiatorg/pftnoded/internal/storage/postgres"
	"github.com/postfiatorg/pftnoded/internal/submit"
	"github.com/postfiatorg/pftnoded/internal/xrpl"
)

// engineStopTimeout bounds the drain after a shutdown signal. A queue that
// already submitted a reply gets to confirm it on-ledger before exit.
const engineStopTimeout = 60 * time.Second

// autorouterModel lets OpenRouter pick the model per request.
const autorouterModel = "openrouter/auto"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the task node",
	Long: `Start the node: open the transaction cache, subscribe to the XRP Ledger,
and run the processing queues until interrupted.

The config file and the encrypted credential store must already exist under
the config directory; the store password is read from PFTNODE_PASSWORD.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// newLogger builds a component logger honoring the --quiet/--debug flags.
func newLogger(name string) logging.Logger {
	if quiet {
		return logging.NopLogger{}
	}
	l := logging.Named(name)
	if debug {
		return l
	}
	return logging.NoDebug(l)
}

// secrets holds everything read from the credential store. The store is
// closed before any network dialing starts; seeds live only in process
// memory from here on.
type secrets struct {
	nodeSeed         string
	remembrancerSeed string
	connStr          string
	openRouterKey    string

	// extraSeeds maps auto-handshake addresses to seeds, for extras whose
	// seed is stored under the address-keyed credential name.
	extraSeeds map[string]string
}

func loadSecrets(cfg *config.Config) (secrets, error) {
	password, err := storePassword()
	if err != nil {
		return secrets{}, err
	}

	creds, err := credstore.Open(credstorePath(), password, credstore.WithLogger(newLogger("credstore")))
	if err != nil {
		return secrets{}, fmt.Errorf("open credential store: %w", err)
	}
	defer creds.Close()

	var s secrets
	if s.nodeSeed, err = creds.Get(config.WalletCredentialKey(cfg.NodeName)); err != nil {
		return secrets{}, fmt.Errorf("node wallet seed: %w", err)
	}
	if s.connStr, err = creds.Get(config.PostgresCredentialKey(cfg.NodeName)); err != nil {
		return secrets{}, fmt.Errorf("database connection string: %w", err)
	}
	if s.openRouterKey, err = creds.Get(config.OpenRouterCredentialKey); err != nil {
		return secrets{}, fmt.Errorf("model API key: %w", err)
	}
	if cfg.HasRemembrancer() {
		key := config.WalletCredentialKey(cfg.RemembrancerCredentialName())
		if s.remembrancerSeed, err = creds.Get(key); err != nil {
			return secrets{}, fmt.Errorf("remembrancer wallet seed: %w", err)
		}
	}

	s.extraSeeds = make(map[string]string)
	for _, addr := range cfg.AutoHandshakeAddresses {
		if addr == cfg.NodeAddress || addr == cfg.RemembrancerAddress {
			continue
		}
		if seed, err := creds.Get(config.WalletCredentialKey(addr)); err == nil {
			s.extraSeeds[addr] = seed
		}
	}
	return s, nil
}

// schemaExtensions resolves the config's extension IDs against the
// registered plug-ins.
func schemaExtensions(cfg *config.Config, logger logging.Logger) []storage.Extension {
	exts := make([]storage.Extension, 0, len(cfg.SchemaExtensions))
	for _, name := range cfg.SchemaExtensions {
		ext, ok := storage.ExtensionFor(name)
		if !ok {
			logger.Warn("schema extension %q is not registered, skipping", name)
			continue
		}
		exts = append(exts, ext)
	}
	return exts
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configDir, useTestnet)
	if err != nil {
		return err
	}
	logger := newLogger("serve")
	logger.Info("starting %s on %s (config %s)", cfg.NodeName, cfg.Network.Name, cfg.GetConfigPath())

	sec, err := loadSecrets(cfg)
	if err != nil {
		return err
	}

	// Derive the wallets up front so a seed/address mismatch fails the
	// start instead of signing as the wrong account later.
	nodeWallet, err := submit.NewWallet(sec.nodeSeed)
	if err != nil {
		return fmt.Errorf("node wallet: %w", err)
	}
	if nodeWallet.Address() != cfg.NodeAddress {
		return fmt.Errorf("node seed derives %s but config names %s", nodeWallet.Address(), cfg.NodeAddress)
	}
	wallets := []*submit.Wallet{nodeWallet}

	var remembrancerWallet *submit.Wallet
	if cfg.HasRemembrancer() {
		remembrancerWallet, err = submit.NewWallet(sec.remembrancerSeed)
		if err != nil {
			return fmt.Errorf("remembrancer wallet: %w", err)
		}
		if remembrancerWallet.Address() != cfg.RemembrancerAddress {
			return fmt.Errorf("remembrancer seed derives %s but config names %s", remembrancerWallet.Address(), cfg.RemembrancerAddress)
		}
		wallets = append(wallets, remembrancerWallet)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := postgres.New(sec.connStr, cfg.NodeAddress,
		postgres.WithLogger(newLogger("storage")),
		postgres.WithExtensions(schemaExtensions(cfg, logger)...))
	if err != nil {
		return err
	}
	if err := store.Open(ctx); err != nil {
		return fmt.Errorf("open transaction cache: %w", err)
	}
	defer store.Close(context.Background())

	registry, err := handshake.New(store, handshake.WithLogger(newLogger("handshake")))
	if err != nil {
		return err
	}
	if err := registry.RegisterWallet(cfg.NodeAddress, cfg.NodeName, sec.nodeSeed); err != nil {
		return err
	}
	if cfg.HasRemembrancer() {
		if err := registry.RegisterWallet(cfg.RemembrancerAddress, cfg.RemembrancerName, sec.remembrancerSeed); err != nil {
			return err
		}
	}
	for _, addr := range cfg.AutoHandshakeAddresses {
		if addr == cfg.NodeAddress || addr == cfg.RemembrancerAddress {
			continue
		}
		seed, ok := sec.extraSeeds[addr]
		if !ok {
			logger.Warn("no seed stored for auto-handshake address %s; it is monitored but cannot reply", addr)
			continue
		}
		if err := registry.RegisterWallet(addr, cfg.NodeName, seed); err != nil {
			return err
		}
		w, err := submit.NewWallet(seed)
		if err != nil {
			return fmt.Errorf("auto-handshake wallet %s: %w", addr, err)
		}
		wallets = append(wallets, w)
	}

	client := xrpl.NewClient(cfg.Network.RPCEndpoint, xrpl.WithClientLogger(newLogger("xrpl")))

	model := cfg.LLM.Model
	if cfg.UseAutorouter {
		model = autorouterModel
	}
	gateway, err := llm.NewOpenRouter(sec.openRouterKey, model,
		llm.WithLogger(newLogger("llm")),
		llm.WithConcurrency(cfg.LLM.MaxConcurrent),
		llm.WithRateLimit(cfg.LLM.RequestsPerMinute, time.Minute))
	if err != nil {
		return fmt.Errorf("model gateway: %w", err)
	}

	docs := gdocs.NewFetcher(gdocs.WithLogger(newLogger("gdocs")))

	submitter, err := submit.New(client, cfg.Network.PFTIssuer,
		submit.WithLogger(newLogger("submit")),
		submit.WithExplorerURL(strings.TrimSuffix(cfg.Network.ExplorerTxTemplate, "%s")))
	if err != nil {
		return err
	}
	sender, err := engine.NewWalletSender(submitter, wallets...)
	if err != nil {
		return err
	}

	// The fast periodic poll needs a local node; on public endpoints the
	// stream plus reconnect gap-fills cover the same ground without
	// hammering account_tx every 30 seconds.
	deltaEvery := time.Duration(0)
	monitorOpts := []monitor.Option{
		monitor.WithLogger(newLogger("monitor")),
		monitor.WithAccounts(cfg.AutoHandshakeSet()...),
		monitor.WithPFTHolders(cfg.Network.PFTIssuer, cfg.Engine.TrackingPFTThreshold),
	}
	if cfg.HasLocalNode {
		local := xrpl.NewClient(cfg.Network.LocalRPCEndpoint, xrpl.WithClientLogger(newLogger("xrpl-local")))
		monitorOpts = append(monitorOpts, monitor.WithDeltaLedger(local))
		deltaEvery = cfg.Engine.DeltaPollInterval
		logger.Info("delta polling against local node at %s", cfg.Network.LocalRPCEndpoint)
	}
	monitorOpts = append(monitorOpts, monitor.WithIntervals(cfg.Engine.BackfillInterval, deltaEvery))
	mon, err := monitor.New(client, store, cfg.NodeAddress, cfg.Network.WebsocketEndpoints, monitorOpts...)
	if err != nil {
		return err
	}

	eng, err := engine.New(store, registry, gateway, docs, sender,
		engine.Config{
			NodeName:            cfg.NodeName,
			NodeAddress:         cfg.NodeAddress,
			RemembrancerName:    cfg.RemembrancerName,
			RemembrancerAddress: cfg.RemembrancerAddress,
		},
		engine.WithLogger(newLogger("engine")),
		engine.WithCycleSleep(cfg.Engine.QueueCycleInterval),
		engine.WithCandidates(cfg.LLM.ProposalCandidates),
		engine.WithVerifyPolicy(cfg.Engine.VerifyAttempts, cfg.Engine.VerifyInterval),
		engine.WithRewardBounds(cfg.Engine.MinReward, cfg.Engine.MaxReward),
		engine.WithDailyRewardCeiling(cfg.Engine.DailyRewardLimit),
		engine.WithRewardWindow(time.Duration(cfg.Engine.RewardWindowDays)*24*time.Hour),
		engine.WithReinitiations(cfg.EnableReinitiations),
		engine.WithContextLimits(cfg.Engine.ContextTaskLimit, cfg.Engine.ContextMemoLimit, 0),
	)
	if err != nil {
		return err
	}

	// The workers run on their own context so a shutdown signal does not
	// abort them mid-queue; the drain below sequences their exit.
	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return mon.Run(gctx) })
	g.Go(func() error { return eng.Run(gctx) })

	logger.Info("node is up; press Ctrl-C to stop")

	select {
	case <-ctx.Done():
		// Graceful drain: the monitor keeps feeding the cache while the
		// queue in flight confirms its reply. stop() restores default
		// signal handling, so a second Ctrl-C kills the process.
		stop()
		eng.Stop()
		if err := eng.Join(engineStopTimeout); err != nil {
			logger.Warn("shutdown: %v", err)
		}
	case <-gctx.Done():
	}

	cancelRun()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("node stopped")
	return nil
}
