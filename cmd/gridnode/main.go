// Command gridnode runs one peer of a freecaster grid: it probes its
// roster, tracks failures, exchanges obituaries, elects exactly one
// announcer per death/recovery, and serves the HTTP endpoint surface peers
// and operators call.
//
// Grounded on cmd/alertmanager/main.go's overall shape (flag parsing,
// resource tuning, config-hash gauge, HTTP server bring-up) adapted from
// alertmanager's dispatcher+silences+nflog startup sequence to this grid's
// single poller + single HTTP server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/KimMachineGun/automemlimit/memlimit"
	"github.com/alecthomas/kingpin/v2"
	"github.com/cenkalti/backoff/v4"
	"github.com/cespare/xxhash/v2"
	"github.com/coder/quartz"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/model"
	"github.com/prometheus/common/promslog"
	promslogflag "github.com/prometheus/common/promslog/flag"
	"github.com/prometheus/common/version"
	toolkitweb "github.com/prometheus/exporter-toolkit/web"
	"go.uber.org/automaxprocs/maxprocs"
	"gopkg.in/yaml.v3"

	"github.com/dewyer/freecaster-grid/internal/announce"
	"github.com/dewyer/freecaster-grid/internal/config"
	"github.com/dewyer/freecaster-grid/internal/gridstate"
	"github.com/dewyer/freecaster-grid/internal/httpapi"
	"github.com/dewyer/freecaster-grid/internal/peerclient"
	"github.com/dewyer/freecaster-grid/internal/poller"
)

func main() {
	os.Exit(run_())
}

var configGauge = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "freecaster_grid_config_hash",
	Help: "Hash of the loaded grid configuration (roster + secret), truncated to 32 bits.",
})

func init() {
	prometheus.MustRegister(configGauge)
	prometheus.MustRegister(version.NewCollector("freecaster_grid"))
}

func run_() int {
	if _, err := maxprocs.Set(); err != nil {
		fmt.Fprintln(os.Stderr, "gridnode: setting GOMAXPROCS:", err)
	}
	if _, err := memlimit.SetGoMemLimitWithOpts(); err != nil {
		fmt.Fprintln(os.Stderr, "gridnode: setting GOMEMLIMIT:", err)
	}

	var (
		app            = kingpin.New("gridnode", "A peer of a freecaster liveness-monitoring grid.")
		configFile     = app.Flag("config.file", "Path to the grid YAML config file.").Required().String()
		listenOverride = app.Flag("web.listen-address", "Override the config file's listen_addr.").String()
		pollOverride   = app.Flag("poll.period", "Override the config file's poll_period.").Duration()
		promslogConfig = &promslog.Config{}
	)
	promslogflag.AddFlags(app, promslogConfig)
	app.Version(version.Print("gridnode"))
	app.HelpFlag.Short('h')
	if _, err := app.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "gridnode: parsing flags:", err)
		return 1
	}

	logger := promslog.New(promslogConfig)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("loading config", "err", err)
		return 1
	}
	if *listenOverride != "" {
		cfg.ListenAddr = *listenOverride
	}
	if *pollOverride > 0 {
		cfg.PollPeriod = model.Duration(*pollOverride)
	}
	configGauge.Set(float64(configHash(cfg)))

	announcer, err := buildAnnouncer(cfg, logger)
	if err != nil {
		logger.Error("building announcer", "err", err)
		return 1
	}

	peerClient, err := peerclient.New(cfg.Self, version.Version, peerclient.TLSOptions{RootCAFile: cfg.TLS.RootCAFile})
	if err != nil {
		logger.Error("building peer client", "err", err)
		return 1
	}

	clk := quartz.NewReal()
	peers := make([]gridstate.Node, 0, len(cfg.Peers()))
	for _, p := range cfg.Peers() {
		peers = append(peers, gridstate.Node{Name: p.Name, Address: p.Address, TelegramHandle: p.TelegramHandle})
	}
	store := gridstate.New(cfg.Self, peers, clk, gridstate.NewSystemRoller())

	p := poller.New(poller.Config{
		Store:           store,
		Client:          peerClient,
		Announcer:       announcer,
		Peers:           peers,
		Self:            cfg.Self,
		Secret:          cfg.Secret,
		InternetGateURL: cfg.InternetGateURL,
		Clock:           clk,
		Logger:          logger,
		Metrics:         poller.NewMetrics(prometheus.DefaultRegisterer),
	})

	if err := waitForInternet(cfg.InternetGateURL, peerClient, logger); err != nil {
		logger.Warn("starting without confirmed internet reachability", "err", err)
	}

	api := httpapi.New(store, clk, cfg.Secret, cfg.Self, version.Version, logger)

	mux := http.NewServeMux()
	mux.Handle("/", api.Handler())
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Handler: mux}

	webConfigFile, cleanup, err := writeWebConfig(cfg)
	if err != nil {
		logger.Error("building TLS web config", "err", err)
		return 1
	}
	defer cleanup()

	var g run.Group
	{
		ctx, cancel := context.WithCancel(context.Background())
		g.Add(func() error {
			p.RunCycle(ctx) // run one cycle eagerly at startup, matching the teacher's eager reload() before entering its loops.
			p.Run(ctx, cfg.Period())
			return nil
		}, func(error) { cancel() })
	}
	{
		listenAddrs := []string{cfg.ListenAddr}
		systemdSocket := false
		g.Add(func() error {
			logger.Info("listening", "addr", cfg.ListenAddr)
			return toolkitweb.ListenAndServe(srv, &toolkitweb.FlagConfig{
				WebListenAddresses: &listenAddrs,
				WebSystemdSocket:   &systemdSocket,
				WebConfigFile:      &webConfigFile,
			}, logger)
		}, func(error) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		})
	}
	{
		execute, interrupt := run.SignalHandler(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		g.Add(execute, interrupt)
	}

	if err := g.Run(); err != nil && err != http.ErrServerClosed {
		logger.Error("exiting", "err", err)
		return 1
	}
	return 0
}

func buildAnnouncer(cfg *config.Config, logger *slog.Logger) (announce.Announcer, error) {
	switch cfg.Announce {
	case config.AnnounceTelegram:
		return announce.NewTelegramAnnouncer(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.APIURL)
	default:
		if cfg.LogFile != "" {
			f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
			if err != nil {
				return nil, fmt.Errorf("opening log_file: %w", err)
			}
			return announce.NewLogAnnouncer(slog.New(slog.NewTextHandler(f, nil))), nil
		}
		return announce.NewLogAnnouncer(logger), nil
	}
}

// waitForInternet blocks briefly at startup for the internet gate to come
// up, per SPEC_FULL §11's use of cenkalti/backoff for "bounded startup wait
// for the internet-reachability gate before the first poll cycle". Poll
// cycles have their own per-cycle gate (spec §4.5 step 1); this is purely
// to avoid the very first cycle being wasted after a cold boot before DHCP
// settles.
func waitForInternet(gateURL string, client interface {
	ProbeGate(ctx context.Context, url string) bool
}, logger *slog.Logger) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 30 * time.Second
	return backoff.RetryNotify(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if client.ProbeGate(ctx, gateURL) {
			return nil
		}
		return fmt.Errorf("internet gate not reachable yet")
	}, b, func(err error, wait time.Duration) {
		logger.Debug("internet gate retry", "err", err, "wait", wait)
	})
}

// writeWebConfig translates config.TLS into an exporter-toolkit web-config
// file (spec §10.3's TLS plumbing: cert/key paths consumed through
// github.com/prometheus/exporter-toolkit/web, the teacher's own web-TLS
// helper). When no cert/key pair is configured it returns an empty path,
// which toolkitweb.ListenAndServe treats as plain HTTP.
func writeWebConfig(cfg *config.Config) (path string, cleanup func(), err error) {
	if cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "" {
		return "", func() {}, nil
	}

	doc := struct {
		TLSServerConfig struct {
			CertFile string `yaml:"cert_file"`
			KeyFile  string `yaml:"key_file"`
		} `yaml:"tls_server_config"`
	}{}
	doc.TLSServerConfig.CertFile = cfg.TLS.CertFile
	doc.TLSServerConfig.KeyFile = cfg.TLS.KeyFile

	f, err := os.CreateTemp("", "gridnode-web-config-*.yml")
	if err != nil {
		return "", func() {}, err
	}
	enc := yaml.NewEncoder(f)
	if err := enc.Encode(doc); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", func() {}, err
	}
	if err := enc.Close(); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", func() {}, err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", func() {}, err
	}
	return f.Name(), func() { os.Remove(f.Name()) }, nil
}

// configHash summarizes the loaded roster and secret for the
// freecaster_grid_config_hash gauge (spec's own cmd/alertmanager pattern:
// a single gauge operators can diff across restarts/reloads to confirm the
// config actually changed).
func configHash(cfg *config.Config) uint32 {
	h := xxhash.New()
	_, _ = h.WriteString(cfg.Self)
	_, _ = h.WriteString(cfg.Secret)
	for _, n := range cfg.Roster {
		_, _ = h.WriteString(n.Name)
		_, _ = h.WriteString(n.Address)
	}
	return uint32(h.Sum64())
}
