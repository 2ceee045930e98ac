package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/c-bata/go-prompt"
	"github.com/spf13/cobra"

	"tarun-kavipurapu/desk-viewer/host"
	"tarun-kavipurapu/desk-viewer/pkg/keys"
	"tarun-kavipurapu/desk-viewer/pkg/logger"
	"tarun-kavipurapu/desk-viewer/pkg/monitor"
	"tarun-kavipurapu/desk-viewer/pkg/transport/secure"
)

var (
	hostListen      string
	hostInstance    string
	hostAdvertise   bool
	hostWidth       int
	hostHeight      int
	hostMetricsAddr string
	hostInteractive bool
)

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Share a synthetic test screen with viewers",
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		if flags.Changed("listen") {
			cfg.Host.Listen = hostListen
		}
		if flags.Changed("instance") {
			cfg.Host.Instance = hostInstance
		}
		if flags.Changed("advertise") {
			cfg.Host.Advertise = hostAdvertise
		}
		if flags.Changed("width") {
			cfg.Host.Width = hostWidth
		}
		if flags.Changed("height") {
			cfg.Host.Height = hostHeight
		}
		if flags.Changed("metrics-addr") {
			cfg.Metrics.Listen = hostMetricsAddr
		}

		key, err := sessionKey()
		if err != nil {
			return err
		}
		src, err := host.NewPatternSource(cfg.Host.Width, cfg.Host.Height, cfg.Host.TileSize)
		if err != nil {
			return err
		}

		server := host.NewServer(cfg.Host, key, src, secure.ConfigOptions(cfg.Channel)...)
		keys.Wipe(key)
		if err := server.Start(); err != nil {
			return err
		}
		logger.Sugar.Infof("Screen host running on %s", server.Addr())

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		serveMetrics(ctx, cfg.Metrics.Listen, server.Collector())

		if hostInteractive {
			fmt.Println("Desk Viewer Host Interactive Shell")
			fmt.Println("Type 'help' for commands.")

			prompt.New(
				func(in string) { hostExecutor(in, server) },
				hostCompleter,
				prompt.OptionPrefix("host> "),
				prompt.OptionTitle("Desk Viewer Host"),
			).Run()
		} else {
			<-ctx.Done()
		}
		return server.Stop()
	},
}

func hostExecutor(in string, server *host.Server) {
	blocks := strings.Fields(strings.TrimSpace(in))
	if len(blocks) == 0 {
		return
	}

	switch blocks[0] {
	case "exit", "quit":
		fmt.Println("Stopping host...")
		if err := server.Stop(); err != nil {
			logger.Sugar.Warnf("[Host] stop: %v", err)
		}
		os.Exit(0)
	case "status":
		fmt.Print(server.Status())
	case "rates":
		sessions := server.Sessions()
		if len(sessions) == 0 {
			fmt.Println("No viewers connected.")
			return
		}
		for _, s := range sessions {
			fmt.Printf("- %s  up %s  down %s\n", s.Addr,
				monitor.RateString(s.SentRate), monitor.RateString(s.ReceivedRate))
		}
	case "help":
		fmt.Println("Available commands:")
		fmt.Println("  status       - Show host status and viewers")
		fmt.Println("  rates        - Show per-viewer bandwidth")
		fmt.Println("  exit         - Stop host and exit")
	default:
		fmt.Println("Unknown command: " + blocks[0])
	}
}

func hostCompleter(d prompt.Document) []prompt.Suggest {
	s := []prompt.Suggest{
		{Text: "status", Description: "Show host status and viewers"},
		{Text: "rates", Description: "Show per-viewer bandwidth"},
		{Text: "exit", Description: "Exit the host"},
		{Text: "help", Description: "Show help"},
	}
	return prompt.FilterHasPrefix(s, d.GetWordBeforeCursor(), true)
}

func init() {
	rootCmd.AddCommand(hostCmd)
	hostCmd.Flags().StringVarP(&hostListen, "listen", "l", "0.0.0.0:5900", "Address to listen on")
	hostCmd.Flags().StringVar(&hostInstance, "instance", "", "mDNS instance name (default deskview-<hostname>)")
	hostCmd.Flags().BoolVar(&hostAdvertise, "advertise", true, "Advertise the host over mDNS")
	hostCmd.Flags().IntVar(&hostWidth, "width", 640, "Screen width")
	hostCmd.Flags().IntVar(&hostHeight, "height", 480, "Screen height")
	hostCmd.Flags().StringVar(&hostMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	hostCmd.Flags().BoolVarP(&hostInteractive, "interactive", "i", false, "Start in interactive mode")
}
