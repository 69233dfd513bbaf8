// Package orchestrator wires the core services and adapters together and
// owns the process lifecycle: bootstrap phases, then a single Run loop
// supervising every long-lived goroutine over one error channel.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dradis-net/rdbtunnel/internal/adapters/capture"
	"github.com/dradis-net/rdbtunnel/internal/adapters/cli"
	"github.com/dradis-net/rdbtunnel/internal/adapters/storage"
	"github.com/dradis-net/rdbtunnel/internal/config"
	"github.com/dradis-net/rdbtunnel/internal/core/domain"
	"github.com/dradis-net/rdbtunnel/internal/core/ports"
	"github.com/dradis-net/rdbtunnel/internal/core/services/firewall"
	"github.com/dradis-net/rdbtunnel/internal/core/services/parser"
	"github.com/dradis-net/rdbtunnel/internal/core/services/poller"
	"github.com/dradis-net/rdbtunnel/internal/core/services/reassembly"
	"github.com/dradis-net/rdbtunnel/internal/core/services/staging"
	"github.com/dradis-net/rdbtunnel/internal/core/services/tcptrack"
	"github.com/dradis-net/rdbtunnel/internal/telemetry"
)

// IDPSEvictionInterval governs how often the reassembly/tcptrack eviction
// sweeps run when IDPS_ENABLED is set.
const IDPSEvictionInterval = 30 * time.Second

// GracePeriod is how long Run waits for goroutines to notice ctx.Done
// before it returns control to main for a forced exit.
const GracePeriod = 1 * time.Second

// CaptureRetryBackoff is how long runCapturePipeline waits after a
// recoverable capture read error before retrying.
const CaptureRetryBackoff = 100 * time.Millisecond

// Application is the facade over every wired component: storage, capture,
// the in-process pipeline, and the ambient telemetry server.
type Application struct {
	Config *config.Config

	store    ports.PacketStore
	source   ports.FrameSource
	sink     ports.FrameSink
	selector ports.DeviceSelector

	headerParser *parser.HeaderParser
	firewall     *firewall.Firewall
	buffer       *staging.StagingBuffer
	writer       *staging.BatchWriter
	pollerSvc    *poller.Poller
	httpServer   *telemetry.Server

	// reassembler/tcpTracker are only non-nil when Config.IDPSEnabled.
	reassembler *reassembly.IpReassembler
	tcpTracker  *tcptrack.TcpTracker

	tracerShutdown func(context.Context) error

	// tasks tracks the running-state of each long-lived goroutine by
	// name; entries flip to false when a goroutine returns.
	tasks sync.Map

	localIP net.IP
	iface   string
}

// New builds and wires an Application from cfg. It opens storage, runs
// migrations, resolves the capture interface (prompting interactively if
// NETWORK_INTERFACE is unset), and opens the capture/injection adapters.
func New(ctx context.Context, cfg *config.Config) (*Application, error) {
	app := &Application{Config: cfg}

	tracerShutdown, err := telemetry.InitTracer()
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	app.tracerShutdown = tracerShutdown
	telemetry.InitMetrics()

	if err := app.bootstrap(ctx); err != nil {
		return nil, fmt.Errorf("%w: bootstrap: %v", domain.ErrConfig, err)
	}

	return app, nil
}

func (app *Application) bootstrap(ctx context.Context) error {
	store, err := app.initStorage(ctx)
	if err != nil {
		return err
	}
	app.store = store

	iface, err := app.resolveInterface(ctx)
	if err != nil {
		return err
	}
	app.iface = iface

	src := capture.NewPcapSource()
	if err := src.Open(ctx, iface); err != nil {
		return fmt.Errorf("open capture on %s: %w", iface, err)
	}
	app.source = src

	sink := capture.NewInjector()
	if err := sink.Open(ctx, iface); err != nil {
		return fmt.Errorf("open injector on %s: %w", iface, err)
	}
	app.sink = sink

	ip := net.ParseIP(app.Config.TapIP)
	if ip == nil {
		return fmt.Errorf("invalid TAP_IP %q", app.Config.TapIP)
	}
	app.localIP = ip

	app.headerParser = parser.NewHeaderParser()

	app.firewall = firewall.New(domain.PolicyBlacklist)
	if app.Config.FirewallEnabled {
		if repo, ok := app.store.(ports.RuleRepository); ok {
			rules, err := repo.LoadRules(ctx)
			if err != nil {
				return fmt.Errorf("load firewall rules: %w", err)
			}
			for _, r := range rules {
				app.firewall.AddRule(r)
			}
			slog.Info("firewall rules loaded", "count", len(rules))
		}
	}

	if app.Config.IDPSEnabled {
		app.reassembler = reassembly.New()
		app.tcpTracker = tcptrack.New()
	}

	app.buffer = staging.NewStagingBuffer()
	app.writer = staging.NewBatchWriter(app.buffer, app.store, toStoredRow).WithInterface(app.iface)
	app.pollerSvc = poller.New(app.store, app.sink, app.localIP)
	app.httpServer = telemetry.NewServer(app.Config.ListenAddress())

	return nil
}

func (app *Application) initStorage(ctx context.Context) (ports.PacketStore, error) {
	var store ports.PacketStore
	switch app.Config.DBBackend {
	case "postgres":
		s, err := storage.NewPostgresStore(storage.PostgresConfig{
			Host:     app.Config.DBHost,
			Port:     app.Config.DBPort,
			User:     app.Config.DBUser,
			Password: app.Config.DBPassword,
			DBName:   app.Config.DBName,
			SSLMode:  app.Config.DBSSLMode,
		})
		if err != nil {
			return nil, err
		}
		store = s
	default:
		s, err := storage.NewSQLiteStore(app.Config.DBPath)
		if err != nil {
			return nil, err
		}
		store = s
	}

	if err := store.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store, nil
}

func (app *Application) resolveInterface(ctx context.Context) (string, error) {
	if app.Config.NetworkInterface != "" {
		return app.Config.NetworkInterface, nil
	}

	app.selector = cli.NewSurveyDeviceSelector()
	devices, err := capture.ListInterfaces()
	if err != nil {
		return "", fmt.Errorf("list interfaces: %w", err)
	}
	return app.selector.SelectInterface(ctx, devices)
}

func toStoredRow(f domain.ParsedFrame) domain.StoredRow {
	return domain.StoredRow{
		SrcMAC:    f.SrcMAC,
		DstMAC:    f.DstMAC,
		EtherType: f.EtherType,
		SrcIP:     toStoredIP(f.SrcIP),
		DstIP:     toStoredIP(f.DstIP),
		SrcPort:   f.SrcPort,
		DstPort:   f.DstPort,
		Protocol:  f.IPProtocol,
		Timestamp: f.Timestamp,
		Data:      f.Data(),
		RawPacket: f.Raw,
	}
}

// toStoredIP maps an undecodable frame's nil address to 0.0.0.0 so both
// storage codecs always receive a well-formed host address.
func toStoredIP(ip net.IP) domain.IP {
	if ip == nil {
		return domain.IP{Addr: net.IPv4zero.To4(), Prefix: 32}
	}
	if v4 := ip.To4(); v4 != nil {
		return domain.IP{Addr: v4, Prefix: 32}
	}
	return domain.IP{Addr: ip.To16(), Prefix: 128}
}

// Run starts every long-lived goroutine and blocks until ctx is cancelled
// or one of them terminates unexpectedly, which is treated as fatal per
// the single-process supervision model: no component is expected to exit
// on its own before shutdown is requested.
func (app *Application) Run(ctx context.Context) error {
	errCh := make(chan error, 8)
	var wg sync.WaitGroup

	app.spawn(&wg, "capture-pipeline", func() error { return app.runCapturePipeline(ctx) }, errCh)
	app.spawn(&wg, "batch-writer", func() error { app.writer.Run(ctx); return nil }, errCh)
	app.spawn(&wg, "poller", func() error { app.pollerSvc.Run(ctx, make(chan struct{})); return nil }, errCh)
	app.spawn(&wg, "telemetry-server", func() error { return app.httpServer.Run(ctx) }, errCh)
	if app.Config.IDPSEnabled {
		app.spawn(&wg, "idps-evictor", func() error { app.runIDPSEvictor(ctx); return nil }, errCh)
	}

	slog.Info("rdbtunnel ready", "interface", app.iface, "listen", app.Config.ListenAddress())

	select {
	case <-ctx.Done():
		slog.Info("shutdown requested")
	case err := <-errCh:
		slog.Error("component terminated unexpectedly", "error", err)
		return err
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(GracePeriod):
		slog.Warn("grace period elapsed, forcing shutdown")
	}

	return app.cleanup(ctx)
}

// spawn runs fn in a goroutine and records its liveness in app.tasks. A
// non-nil return is reported on errCh as an unexpected termination; every
// component returns nil only when shutdown was requested.
func (app *Application) spawn(wg *sync.WaitGroup, name string, fn func() error, errCh chan<- error) {
	var alive atomic.Bool
	alive.Store(true)
	app.tasks.Store(name, &alive)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer alive.Store(false)
		if err := fn(); err != nil {
			errCh <- fmt.Errorf("%s: %w", name, err)
		}
	}()
}

func (app *Application) runCapturePipeline(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		frame, ts, err := app.source.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Warn("capture read error", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(CaptureRetryBackoff):
			}
			continue
		}

		parsed := app.headerParser.Parse(frame, ts)

		slog.Debug("frame captured",
			"protocol", domain.ProtocolName(parsed.IPProtocol, parsed.SrcPort, parsed.DstPort),
			"src", parsed.SrcIP, "dst", parsed.DstIP)

		telemetry.PacketsCaptured.WithLabelValues(app.iface).Inc()

		if app.Config.FirewallEnabled {
			if !app.firewall.Check(parsed) {
				telemetry.PacketsFirewalled.WithLabelValues("rejected").Inc()
				continue
			}
			telemetry.PacketsFirewalled.WithLabelValues("accepted").Inc()
		}

		if app.reassembler != nil || app.tcpTracker != nil {
			app.inspect(parsed, ts)
		}

		app.buffer.Push(parsed)
		telemetry.StagingBufferDepth.WithLabelValues().Set(float64(app.buffer.Len()))
	}
}

func (app *Application) cleanup(ctx context.Context) error {
	slog.Info("cleaning up resources")

	if app.source != nil {
		_ = app.source.Close()
	}
	if app.sink != nil {
		_ = app.sink.Close()
	}
	if app.store != nil {
		_ = app.store.Close()
	}
	if app.tracerShutdown != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), GracePeriod)
		defer cancel()
		_ = app.tracerShutdown(shutdownCtx)
	}
	return nil
}
