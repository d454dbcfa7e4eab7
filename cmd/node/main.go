// Command node runs one grid-broker process: the Clock Synchronizer and
// Dispatch Agent wired against concrete Group View, Peer Transport, and
// Device View adapters.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"code.siemens.com/grid-broker/clocksync"
	"code.siemens.com/grid-broker/config"
	"code.siemens.com/grid-broker/deviceview/local"
	"code.siemens.com/grid-broker/dispatch"
	"code.siemens.com/grid-broker/envelope"
	"code.siemens.com/grid-broker/groupview"
	"code.siemens.com/grid-broker/groupview/ddagroup"
	groupstatic "code.siemens.com/grid-broker/groupview/static"
	"code.siemens.com/grid-broker/internal/clockreg"
	grblog "code.siemens.com/grid-broker/log"
	"code.siemens.com/grid-broker/metrics"
	"code.siemens.com/grid-broker/transport"
	memorytransport "code.siemens.com/grid-broker/transport/memory"
	mqtttransport "code.siemens.com/grid-broker/transport/mqtt"
)

var (
	cfgPath      string
	topologyPath string
	localSymbol  string
)

var rootCmd = &cobra.Command{
	Use:   "node",
	Short: "Run one grid-broker node",
	RunE:  run,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "configuration file (YAML/JSON)")
	rootCmd.PersistentFlags().StringVar(&topologyPath, "topology", "topology.txt", "topology file path")
	rootCmd.PersistentFlags().StringVar(&localSymbol, "symbol", "1", "this node's DDA topology symbol")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("node: load config: %w", err)
	}

	self := uuid.New()
	if cfg.Node.ID != "" {
		self, err = uuid.Parse(cfg.Node.ID)
		if err != nil {
			return fmt.Errorf("node: parse node id: %w", err)
		}
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if cfg.Metrics.Enabled {
		go serveMetrics(cfg.Metrics.Addr, reg)
	}

	xport, err := openTransport(ctx, cfg.Transport, self)
	if err != nil {
		return fmt.Errorf("node: open transport: %w", err)
	}

	topoFile, err := os.Open(topologyPath)
	if err != nil {
		return fmt.Errorf("node: open topology: %w", err)
	}
	topology, err := dispatch.LoadTopology(topoFile)
	topoFile.Close()
	if err != nil {
		return fmt.Errorf("node: load topology: %w", err)
	}

	devices := local.New()

	clkLog := grblog.New("clocksync")
	clk := clocksync.New(self, xport, &clockreg.Register{}, clkLog, m, cfg.ClockSync.ExchangePeriod)

	ddaLog := grblog.New("dispatch")
	dda := dispatch.New(self, localSymbol, topology, nil, xport, devices, ddaLog, m, cfg.Dispatch.IterationTimeout)

	group, err := openGroupView(cfg.GroupView, self)
	if err != nil {
		return fmt.Errorf("node: open groupview: %w", err)
	}

	go routeInbox(xport.Inbox(envelope.ModuleClockSync), clk.HandleIncoming)
	go routeInbox(xport.Inbox(envelope.ModuleDispatch), dda.HandleIncoming)
	go routePeers(group.Subscribe(), clk.UpdatePeers, dda.UpdatePeers)

	clk.Start()
	dda.Start()

	<-ctx.Done()

	clk.Stop()
	dda.Stop()
	_ = group.Close()
	return xport.Close()
}

// routeInbox dispatches envelopes already sorted by module tag into that
// module's handler.
func routeInbox(inbox <-chan envelope.Envelope, handle func(envelope.Envelope)) {
	for e := range inbox {
		handle(e)
	}
}

func routePeers(peers <-chan []uuid.UUID, clkUpdate, ddaUpdate func([]uuid.UUID)) {
	for snapshot := range peers {
		clkUpdate(snapshot)
		ddaUpdate(snapshot)
	}
}

func openTransport(ctx context.Context, cfg config.TransportConfig, self uuid.UUID) (transport.Transport, error) {
	switch cfg.Kind {
	case "mqtt":
		t, err := mqtttransport.NewTransport(mqtttransport.Config{
			BrokerURL: cfg.BrokerURL,
			ClientID:  cfg.ClientID,
			Self:      self,
		}, grblog.New("transport"))
		if err != nil {
			return nil, err
		}
		if err := t.Open(ctx); err != nil {
			return nil, err
		}
		return t, nil
	default:
		net := memorytransport.NewNetwork()
		return net.Join(self), nil
	}
}

func openGroupView(cfg config.GroupViewConfig, self uuid.UUID) (groupview.View, error) {
	switch cfg.Kind {
	case "dda":
		v := ddagroup.New(ddagroup.Config{
			URL:                  cfg.URL,
			Name:                 "grid-broker",
			Self:                 self,
			Cluster:              cfg.Cluster,
			Bootstrap:            cfg.Bootstrap,
			HeartbeatPeriod:      cfg.HeartbeatPeriod,
			HeartbeatTimeoutBase: cfg.HeartbeatTimeoutBase,
		}, grblog.New("groupview"))
		if err := v.Open(); err != nil {
			return nil, err
		}
		return v, nil
	default:
		return groupstatic.New(nil), nil
	}
}

func serveMetrics(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	_ = http.ListenAndServe(addr, mux)
}
