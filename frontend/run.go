package frontend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cilium/ebpf/rlimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tcassar-diss/tetheroffload/bpf/bpfutils"
	"github.com/tcassar-diss/tetheroffload/bpf/tc"
	"github.com/tcassar-diss/tetheroffload/host"
	"github.com/tcassar-diss/tetheroffload/onload"
	"github.com/tcassar-diss/tetheroffload/tethering/coordinator"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var ErrUnsupportedKernel = errors.New("kernel does not support schedcls programs")

// Run loads the native module, attaches the configured downstream programs
// and polls offload statistics until ctx is cancelled or the process is
// interrupted.
func Run(ctx context.Context, logger *zap.SugaredLogger, cfg *Config) error {
	logger.Infoln("=== Launching tetherd ===")
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rlimit.RemoveMemlock(); err != nil {
		return fmt.Errorf("failed to remove memlock rlimit: %w", err)
	}

	supported, err := bpfutils.IsSchedClsSupported()
	if err != nil {
		return err
	}

	if !supported {
		return ErrUnsupportedKernel
	}

	restoreTc := installTcUtils(logger)
	defer restoreTc()

	rt := host.NewRuntime(logger)

	loader := onload.NewLoader(logger, onload.DefaultRegistrations()...)
	if _, err := rt.Load(loader.OnLoad); err != nil {
		return fmt.Errorf("failed to load native module: %w", err)
	}

	limits, err := resolveLimits(cfg, net.InterfaceByName)
	if err != nil {
		return err
	}

	maps, err := coordinator.OpenMaps(cfg.BPF.PinDir)
	if err != nil {
		return fmt.Errorf("failed to open offload maps: %w", err)
	}
	defer maps.Close()

	coord := coordinator.New(logger, maps, coordinator.Config{
		PollInterval: cfg.Coordinator.PollInterval,
		DefaultLimit: cfg.Coordinator.DefaultLimit,
		Limits:       limits,
	})

	if err := attachDownstreams(rt, cfg, net.InterfaceByName); err != nil {
		return fmt.Errorf("failed to attach downstream programs: %w", err)
	}

	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		return coord.Run(ctx)
	})

	if cfg.Metrics.Listen != "" {
		eg.Go(func() error {
			return serveMetrics(ctx, logger, cfg.Metrics.Listen, coord)
		})
	}

	if err := eg.Wait(); err != nil {
		return fmt.Errorf("error encountered while offloading: %w", err)
	}

	logStats(logger, coord)

	return nil
}

// installTcUtils points the TcUtils table at a Utils logging to logger. The
// returned func detaches everything it attached and puts the previous Utils
// back.
func installTcUtils(logger *zap.SugaredLogger) func() {
	previous := tc.Default
	utils := tc.New(logger)
	tc.Default = utils

	return func() {
		if err := utils.Close(); err != nil {
			logger.Warnw("failed to detach tc programs", "err", err)
		}

		tc.Default = previous
	}
}

func serveMetrics(ctx context.Context, logger *zap.SugaredLogger, listen string, coord *coordinator.Coordinator) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(coordinator.NewCollector(coord))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warnw("failed to shut down metrics server", "err", err)
		}
	}()

	logger.Infow("serving metrics", "addr", listen)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server failed: %w", err)
	}

	return nil
}

func logStats(logger *zap.SugaredLogger, coord *coordinator.Coordinator) {
	stats, err := coord.TetherOffloadGetStats()
	if err != nil {
		logger.Warnw("failed to read offload stats", "err", err)
		return
	}

	bts, err := json.Marshal(stats)
	if err != nil {
		logger.Warnw("failed to marshal stats", "err", err)
		return
	}

	logger.Infoln(string(bts))
}
