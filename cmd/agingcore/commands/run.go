package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/agingbench/core/pkg/archive"
	"github.com/agingbench/core/pkg/can"
	_ "github.com/agingbench/core/pkg/can/socketcan"
	_ "github.com/agingbench/core/pkg/can/virtual"
	"github.com/agingbench/core/pkg/codec"
	agingconfig "github.com/agingbench/core/pkg/config"
	"github.com/agingbench/core/pkg/diag"
	"github.com/agingbench/core/pkg/group"
	"github.com/agingbench/core/pkg/metrics"
	"github.com/agingbench/core/pkg/power"
	"github.com/agingbench/core/pkg/security"
)

var (
	metricsAddr string
	pollHz      float64
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start one group's realtime subsystem from a function/project config pair",
	RunE:  runRun,
}

func init() {
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9108", "address to serve /metrics on")
	runCmd.Flags().Float64Var(&pollHz, "poll-hz", 1.0, "1 Hz summary poll frequency override, for test runs")
}

func runRun(cmd *cobra.Command, args []string) error {
	logger := log.NewEntry(log.StandardLogger())

	if functionConfigPath == "" || projectConfigPath == "" {
		return fmt.Errorf("run: --function-config and --project-config are required")
	}

	fnCfg, err := agingconfig.LoadFunctionConfig(functionConfigPath)
	if err != nil {
		return err
	}
	setLogLevel(fnCfg.LogLevel)
	prjCfg, err := agingconfig.LoadProjectConfig(projectConfigPath)
	if err != nil {
		return err
	}

	bus, err := can.NewBus(fnCfg.CAN.Interface, fnCfg.CAN.Channel)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}

	c := buildCodec(prjCfg)

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	dids := prjCfg.Diagnostic.DIDConfigs()
	flatDIDs := make([]uint16, 0, len(dids))
	for _, d := range dids {
		flatDIDs = append(flatDIDs, d.ID)
	}
	interval, rediag := prjCfg.Diagnostic.PeriodicDiag.Durations()

	diagCfg := prjCfg.Diagnostic.DiagConfig()
	diagCfg.Security = security.FixedKey([]byte{0x00, 0x00, 0x00, 0x00})
	diagCfg.Logger = logger

	grpCfg := group.Config{
		ProjectName:      prjCfg.Name,
		N:                fnCfg.UI.SlotsPerGroup,
		ChannelRemap:     fnCfg.UI.ChannelRemap,
		Thresholds:       prjCfg.Thresholds(fnCfg.DarkCurrent),
		NonRecoverable:   fnCfg.UI.NonRecoverableSet(),
		AlarmDelay:       time.Duration(fnCfg.UI.AlarmDelaySeconds) * time.Second,
		AgingHours:       prjCfg.AgingHourDefault,
		Diag:             diagCfg,
		PendingDIDs:      flatDIDs,
		PeriodicDIDs:     diag.PeriodicDIDs{Flat: flatDIDs},
		PeriodicInterval: interval,
		RediagInterval:   rediag,
		Archive:          archive.NewLoggingArchive(logger),
		Power:            power.NewLoggingSupply(logger),
		Logger:           logger,
		Metrics:          m,
	}

	g, err := group.New(bus, c, grpCfg)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}

	http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: metricsAddr}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Warn("run: metrics server stopped")
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := g.Start(ctx); err != nil {
		return fmt.Errorf("run: %w", err)
	}
	logger.WithField("project", prjCfg.Name).Info("run: group started")

	ticker := time.NewTicker(time.Duration(float64(time.Second) / pollHz))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("run: shutting down")
			_ = server.Close()
			return g.Stop()
		case now := <-ticker.C:
			summary := g.PollSummary(now)
			logger.WithFields(log.Fields{
				"total":     summary.Total,
				"good":      summary.Good,
				"bad":       summary.Bad,
				"pass_rate": summary.PassRate,
			}).Debug("run: summary poll")
		}
	}
}

func buildCodec(prjCfg agingconfig.ProjectConfig) codec.Codec {
	messages := make([]codec.Message, 0, len(prjCfg.TxMessages)+len(prjCfg.RxMessages))
	for _, tx := range prjCfg.TxMessages {
		messages = append(messages, codec.Message{Name: tx.Name, ID: tx.MsgID})
	}
	for _, rx := range prjCfg.RxMessages {
		messages = append(messages, codec.Message{Name: rx.Name, ID: rx.MsgID})
	}
	return codec.NewMapCodec(messages...)
}
