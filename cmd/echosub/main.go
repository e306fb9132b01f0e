package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/echosub/echosub/internal/config"
	"github.com/echosub/echosub/internal/control"
	"github.com/echosub/echosub/internal/events"
	"github.com/echosub/echosub/internal/feed"
	"github.com/echosub/echosub/internal/logging"
	"github.com/echosub/echosub/internal/procs"
	"github.com/echosub/echosub/internal/session"
)

var (
	version = "0.1.0"

	cfgFile     string
	targetPID   int
	targetName  string
	procFilter  string
	procAsJSON  bool
	controlPath string
)

var rootCmd = &cobra.Command{
	Use:   "echosub",
	Short: "Live subtitles for a single application's audio",
	Long: `EchoSub captures the audio of one target process, detects speech,
and streams recognized (and optionally translated) subtitles to local
overlay clients.`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Capture the target process and serve subtitles",
	Run: func(cmd *cobra.Command, args []string) {
		if err := runApp(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	},
}

var processesCmd = &cobra.Command{
	Use:   "processes",
	Short: "List candidate target processes",
	Run: func(cmd *cobra.Command, args []string) {
		if err := listProcesses(cmd.Context()); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query a running instance",
	Run: func(cmd *cobra.Command, args []string) {
		resp, err := control.Query(controlPath, control.Request{Command: "status"})
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		out, _ := json.MarshalIndent(resp.Status, "", "  ")
		fmt.Println(string(out))
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("echosub v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default echosub.yaml next to the binary or in the config dir)")

	runCmd.Flags().IntVar(&targetPID, "pid", 0, "target process id (overrides config)")
	runCmd.Flags().StringVar(&targetName, "name", "", "target process name; the lowest matching pid is used")

	processesCmd.Flags().StringVar(&procFilter, "filter", "", "case-insensitive name filter")
	processesCmd.Flags().BoolVar(&procAsJSON, "json", false, "emit JSON")

	statusCmd.Flags().StringVar(&controlPath, "control", "", "control endpoint path")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(processesCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runApp() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if targetPID != 0 {
		cfg.TargetPID = targetPID
	} else if targetName != "" {
		info, err := procs.FindFirst(context.Background(), targetName)
		if err != nil {
			return err
		}
		cfg.TargetPID = int(info.PID)
		fmt.Printf("Resolved %q to %s (pid %d)\n", targetName, info.Name, info.PID)
	}
	for _, err := range cfg.Validate() {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
	}

	initLogging(cfg)
	log := logging.L("main")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBus()
	sess := session.New(cfg, bus, nil)

	feedSrv := feed.NewServer(cfg.FeedListenAddr, bus)
	if err := feedSrv.Start(); err != nil {
		return fmt.Errorf("starting subtitle feed: %w", err)
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = feedSrv.Close(shutdownCtx)
	}()

	ctrlSrv := control.NewServer(cfg.ControlPipe, sess)
	if err := ctrlSrv.Start(ctx); err != nil {
		return fmt.Errorf("starting control endpoint: %w", err)
	}
	defer ctrlSrv.Close()

	config.Watch(func(next *config.Config) {
		if err := sess.Apply(next); err != nil {
			log.Error("applying config change", logging.KeyError, err)
		}
	})

	if err := sess.Start(ctx); err != nil {
		return err
	}
	defer sess.Stop()

	fmt.Printf("echosub v%s capturing pid %d, feed on ws://%s/ws\n",
		version, cfg.TargetPID, feedSrv.Addr())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutting down", "signal", sig.String())
	return nil
}

func initLogging(cfg *config.Config) {
	var out io.Writer = os.Stderr
	if cfg.LogFile != "" {
		if rw, err := logging.NewRotatingWriter(cfg.LogFile, 10, 3); err == nil {
			out = rw
		} else {
			fmt.Fprintf(os.Stderr, "log file unavailable, using stderr: %v\n", err)
		}
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, out)
}

func listProcesses(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	infos, err := procs.List(ctx, procFilter)
	if err != nil {
		return err
	}
	if procAsJSON {
		out, err := json.MarshalIndent(infos, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PID\tNAME\tEXE")
	for _, info := range infos {
		fmt.Fprintf(w, "%d\t%s\t%s\n", info.PID, info.Name, info.Exe)
	}
	return w.Flush()
}
