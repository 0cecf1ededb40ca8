package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/jup-ag/cctp-connect/pkg/chains"
	"github.com/jup-ag/cctp-connect/pkg/common"
	"github.com/jup-ag/cctp-connect/pkg/db"
	"github.com/jup-ag/cctp-connect/pkg/orchestrator"
	"github.com/jup-ag/cctp-connect/pkg/readiness"
	"github.com/jup-ag/cctp-connect/pkg/statusrpc"
	"github.com/jup-ag/cctp-connect/pkg/version"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const gcInterval = 5 * time.Minute

func init() {
	addConfigFlags(NodeCmd.Flags())
	NodeCmd.Flags().StringVar(&cfg.StatusAddr, "statusAddr", "[::]:6060", "Listen address for the status server (disabled if blank)")
}

// NodeCmd runs the daemon that follows every transfer in the data directory.
var NodeCmd = &cobra.Command{
	Use:     "node",
	Short:   "Run the transfer daemon",
	PreRunE: initFlags,
	Run:     runNode,
}

func runNode(cmd *cobra.Command, args []string) {
	logger := mustLogger()
	logger.Info("starting cctp-connect", zap.String("version", version.Version()), zap.String("network", cfg.Network))

	if cfg.DataDir == "" {
		logger.Fatal("please specify --dataDir")
	}

	rootCtx, rootCtxCancel := context.WithCancel(context.Background())
	defer rootCtxCancel()
	common.ListenSysExit(logger, rootCtxCancel)

	health := readiness.NewRegistry()
	for _, c := range []readiness.Component{readiness.ComponentStore, readiness.ComponentOrchestrator} {
		if err := health.RegisterComponent(c); err != nil {
			logger.Fatal("failed to register readiness component", zap.Error(err))
		}
	}
	for _, c := range chains.AllChains {
		if cfg.rpcFor(c) == "" {
			continue
		}
		if err := health.RegisterComponent(readiness.ComponentAdapter(c)); err != nil {
			logger.Fatal("failed to register readiness component", zap.Error(err))
		}
	}

	env, err := newEnvironment(rootCtx, logger, func(c chains.Chain) {
		health.SetReady(readiness.ComponentAdapter(c))
	})
	if err != nil {
		logger.Fatal("failed to set up chains", zap.Error(err))
	}

	database := db.OpenDb(logger, cfg.DataDir)
	defer database.Close()
	health.SetReady(readiness.ComponentStore)

	o := orchestrator.New(logger, database, env.registry, env.adapterList(), env.attestations,
		orchestrator.WithConfig(cfg.orchestratorConfig()))

	runErr := make(chan error, 1)
	go func() { runErr <- o.Run(rootCtx) }()
	select {
	case <-o.Started():
		health.SetReady(readiness.ComponentOrchestrator)
	case err := <-runErr:
		logger.Fatal("orchestrator exited", zap.Error(err))
	}

	var server *http.Server
	if cfg.StatusAddr != "" {
		server = statusrpc.NewStatusServer(cfg.StatusAddr, logger, o, health)
		go func() {
			logger.Info("status server listening", zap.String("addr", cfg.StatusAddr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("status server failed", zap.Error(err))
				rootCtxCancel()
			}
		}()
	}

	go func() {
		ticker := time.NewTicker(gcInterval)
		defer ticker.Stop()
		for {
			select {
			case <-rootCtx.Done():
				return
			case <-ticker.C:
				database.RunGC(logger)
			}
		}
	}()

	<-rootCtx.Done()
	logger.Info("root context cancelled, exiting...")

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("failed to shut down status server", zap.Error(err))
		}
		cancel()
	}
	if err := <-runErr; err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
