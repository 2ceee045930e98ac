package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/c-bata/go-prompt"
	"github.com/spf13/cobra"

	"tarun-kavipurapu/desk-viewer/pkg/keys"
	"tarun-kavipurapu/desk-viewer/pkg/logger"
	"tarun-kavipurapu/desk-viewer/pkg/monitor"
	"tarun-kavipurapu/desk-viewer/pkg/protocol"
	"tarun-kavipurapu/desk-viewer/pkg/transport/secure"
	"tarun-kavipurapu/desk-viewer/viewer"
)

var (
	viewAddr        string
	viewDiscover    bool
	viewSnapshot    string
	viewMetricsAddr string
	viewInteractive bool
	viewNoColor     bool
)

var viewCmd = &cobra.Command{
	Use:   "view",
	Short: "Connect to a screen host",
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		if flags.Changed("addr") {
			cfg.Viewer.Addr = viewAddr
		}
		if flags.Changed("discover") {
			cfg.Viewer.Discover = viewDiscover
		}
		if flags.Changed("snapshot") {
			cfg.Viewer.Snapshot = viewSnapshot
		}
		if flags.Changed("metrics-addr") {
			cfg.Metrics.Listen = viewMetricsAddr
		}

		key, err := sessionKey()
		if err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		v := viewer.NewViewer(cfg.Viewer, key, secure.ConfigOptions(cfg.Channel)...)
		keys.Wipe(key)
		if err := v.Connect(ctx); err != nil {
			return err
		}
		defer v.Stop()

		collector := monitor.NewCollector()
		collector.Track(v.Channel())
		serveMetrics(ctx, cfg.Metrics.Listen, collector)

		if viewInteractive {
			fmt.Println("Desk Viewer Interactive Shell")
			fmt.Println("Type 'help' for commands.")

			prompt.New(
				func(in string) { viewExecutor(in, v) },
				viewCompleter,
				prompt.OptionPrefix("view> "),
				prompt.OptionTitle("Desk Viewer"),
			).Run()
			return nil
		}

		renderer := viewer.NewStatusRenderer(os.Stdout, v.Stats(), v.Channel(), !viewNoColor)
		go renderer.Start()
		select {
		case <-ctx.Done():
		case <-v.Done():
		}
		v.Stop()
		renderer.Stop()
		return nil
	},
}

func viewExecutor(in string, v *viewer.Viewer) {
	blocks := strings.Fields(strings.TrimSpace(in))
	if len(blocks) == 0 {
		return
	}

	switch blocks[0] {
	case "exit", "quit":
		fmt.Println("Closing session...")
		v.Stop()
		os.Exit(0)
	case "status":
		fmt.Println(v.GetStatus())
	case "rates":
		ch := v.Channel()
		fmt.Printf("Sent:     %s (%s total)\n", monitor.RateString(ch.SentRate()), monitor.SizeSuffix(ch.BytesSent()))
		fmt.Printf("Received: %s (%s total)\n", monitor.RateString(ch.ReceivedRate()), monitor.SizeSuffix(ch.BytesReceived()))
	case "snapshot":
		if len(blocks) < 2 {
			fmt.Println("Usage: snapshot <file.png>")
			return
		}
		if err := v.SaveSnapshot(blocks[1]); err != nil {
			fmt.Printf("Error saving snapshot: %v\n", err)
		} else {
			fmt.Println("Snapshot saved to " + blocks[1])
		}
	case "click":
		if len(blocks) < 3 {
			fmt.Println("Usage: click <x> <y>")
			return
		}
		x, errX := strconv.Atoi(blocks[1])
		y, errY := strconv.Atoi(blocks[2])
		if errX != nil || errY != nil {
			fmt.Println("Usage: click <x> <y>")
			return
		}
		for _, buttons := range []uint8{protocol.ButtonLeft, 0} {
			e := protocol.PointerEvent{X: int32(x), Y: int32(y), Buttons: buttons}
			if err := v.Pointer(e); err != nil {
				fmt.Printf("Error sending click: %v\n", err)
				return
			}
		}
	case "key":
		if len(blocks) < 2 {
			fmt.Println("Usage: key <code>")
			return
		}
		code, err := strconv.ParseUint(blocks[1], 10, 32)
		if err != nil {
			fmt.Println("Usage: key <code>")
			return
		}
		for _, down := range []bool{true, false} {
			if err := v.Key(protocol.KeyEvent{Code: uint32(code), Down: down}); err != nil {
				fmt.Printf("Error sending key: %v\n", err)
				return
			}
		}
	case "help":
		fmt.Println("Available commands:")
		fmt.Println("  status                 - Show session status")
		fmt.Println("  rates                  - Show channel bandwidth")
		fmt.Println("  snapshot <file.png>    - Save the current screen")
		fmt.Println("  click <x> <y>          - Send a left click")
		fmt.Println("  key <code>             - Send a key press")
		fmt.Println("  exit                   - Close the session and exit")
	default:
		logger.Sugar.Debugf("unknown shell command: %q", blocks[0])
		fmt.Println("Unknown command: " + blocks[0])
	}
}

func viewCompleter(d prompt.Document) []prompt.Suggest {
	s := []prompt.Suggest{
		{Text: "status", Description: "Show session status"},
		{Text: "rates", Description: "Show channel bandwidth"},
		{Text: "snapshot", Description: "Save the current screen as PNG"},
		{Text: "click", Description: "Send a left click"},
		{Text: "key", Description: "Send a key press"},
		{Text: "exit", Description: "Exit the viewer"},
		{Text: "help", Description: "Show help"},
	}
	return prompt.FilterHasPrefix(s, d.GetWordBeforeCursor(), true)
}

func init() {
	rootCmd.AddCommand(viewCmd)
	viewCmd.Flags().StringVarP(&viewAddr, "addr", "a", "127.0.0.1:5900", "Address of the screen host")
	viewCmd.Flags().BoolVar(&viewDiscover, "discover", false, "Find the host over mDNS instead of --addr")
	viewCmd.Flags().StringVar(&viewSnapshot, "snapshot", "", "Save the last screen to this PNG file on exit")
	viewCmd.Flags().StringVar(&viewMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	viewCmd.Flags().BoolVarP(&viewInteractive, "interactive", "i", false, "Start in interactive mode")
	viewCmd.Flags().BoolVar(&viewNoColor, "no-color", false, "Disable ANSI colors in the status line")
}
