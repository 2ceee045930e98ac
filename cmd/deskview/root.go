package main

import (
	"context"
	"errors"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"tarun-kavipurapu/desk-viewer/pkg/config"
	"tarun-kavipurapu/desk-viewer/pkg/keys"
	"tarun-kavipurapu/desk-viewer/pkg/logger"
	"tarun-kavipurapu/desk-viewer/pkg/monitor"
)

var (
	cfgFile    string
	logLevel   string
	keyHex     string
	passphrase string

	cfg = config.Default()
)

var rootCmd = &cobra.Command{
	Use:   "deskview",
	Short: "Encrypted remote screen viewer",
	Long:  `Share a screen over an AES encrypted channel and view it from another machine.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		if _, err := logger.Setup(cfg.Log); err != nil {
			return err
		}
		return nil
	},
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logger.Sugar.Error(err)
		os.Exit(1)
	}
	_ = logger.Log.Sync()
}

// sessionKey resolves the key from flags first, then config.
func sessionKey() ([]byte, error) {
	hexKey, pass := cfg.Session.Key, cfg.Session.Passphrase
	if keyHex != "" || passphrase != "" {
		hexKey, pass = keyHex, passphrase
	}
	return keys.Resolve(hexKey, pass, cfg.Session.Salt)
}

// serveMetrics exposes c on addr and logs rates periodically until ctx is done.
func serveMetrics(ctx context.Context, addr string, c *monitor.Collector) {
	if cfg.Metrics.Interval > 0 {
		go monitor.LogPeriodic(ctx, cfg.Metrics.Interval, c)
	}
	if addr == "" {
		return
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(c)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		logger.Sugar.Infof("[Metrics] serving: addr=%s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Sugar.Errorf("[Metrics] server failed: err=%v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVarP(&keyHex, "key", "k", "", "Hex session key (16, 24 or 32 bytes)")
	rootCmd.PersistentFlags().StringVarP(&passphrase, "passphrase", "p", "", "Derive the session key from a passphrase")
}
