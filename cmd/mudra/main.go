package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/ayusman/mudra/internal/app"
	"github.com/ayusman/mudra/internal/capture"
	"github.com/ayusman/mudra/internal/config"
	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/live"
	"github.com/ayusman/mudra/internal/logging"
	"github.com/ayusman/mudra/internal/perception"
	"github.com/ayusman/mudra/internal/remote"
	"github.com/ayusman/mudra/internal/server"
	"github.com/ayusman/mudra/internal/tray"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configFile string
	headless   bool
	activate   bool
}

func newFlagSet(opts *options) *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("mudra", pflag.ContinueOnError)
	flagSet.StringVar(&opts.configFile, "config", "", "path to a config file (yaml, json or toml)")
	flagSet.String("addr", ":8080", "HTTP listen address")
	flagSet.Int("camera", 0, "camera device index")
	flagSet.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	flagSet.BoolVar(&opts.headless, "headless", false, "run without the system tray")
	flagSet.BoolVar(&opts.activate, "activate", false, "start tracking at launch")
	flagSet.BoolP("help", "h", false, "show help")
	return flagSet
}

func run(args []string) error {
	var opts options
	flagSet := newFlagSet(&opts)

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}

	cfg, err := config.Load(opts.configFile, flagSet)
	if err != nil {
		return err
	}

	log, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return err
	}

	if cfg.Live.APIKey == "" {
		log.Warn().Msg("no API key configured; set GEMINI_API_KEY or live.apiKey")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(app.Config{
		Source: capture.NewDevice(cfg.Camera.Device),
		Opener: live.NewClient(live.Config{
			Endpoint: cfg.Live.Endpoint,
			APIKey:   cfg.Live.APIKey,
			Logger:   log,
		}),
		Remote: remote.DefaultConfig(cfg.Live.Model),
		Constraints: capture.Constraints{
			Width:  cfg.Camera.Width,
			Height: cfg.Camera.Height,
			Facing: cfg.Camera.Facing,
		},
		FrameRate:   cfg.Session.FrameRate,
		Downscale:   cfg.Session.Downscale,
		JPEGQuality: cfg.Session.JPEGQuality,
		SendTimeout: cfg.Session.SendTimeout,
		Scheduler:   perception.NewRefreshScheduler(cfg.Perception.RefreshHz),
		Smoothing:   cfg.Perception.Smoothing,
		Detector:    mediaPipeFactory(cfg.Detector, log),
		Logger:      log,
	})
	if err != nil {
		return err
	}
	defer a.Close()

	webDir := cfg.Server.StaticDir
	if webDir == "" {
		webDir = findWebDir()
	}
	if webDir != "" {
		log.Info().Str("dir", webDir).Msg("serving static files")
	}

	srv := server.New(server.Config{
		StaticDir:  webDir,
		Controller: a,
		Frames:     a.Surface(),
		Overlay:    a.Canvas(),
		Mirror:     cfg.Camera.Facing == "user",
		Logger:     log,
	})

	// A listener failure ends the run like a signal does
	ctx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	srvErr := make(chan error, 1)
	go func() {
		err := srv.ListenAndServe(cfg.Server.Addr)
		srvErr <- err
		cancelRun()
	}()

	if opts.activate {
		if err := a.Activate(ctx); err != nil {
			log.Error().Err(err).Msg("activation failed")
		}
	}

	if cfg.Tray.Enabled && !opts.headless {
		runTray(ctx, a, viewerURL(cfg.Server.Addr), log)
	} else {
		<-ctx.Done()
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if err := <-srvErr; err != nil {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// runTray blocks on the tray event loop until Quit is clicked or ctx ends.
func runTray(ctx context.Context, a *app.App, url string, log zerolog.Logger) {
	t := tray.New()
	t.SetStatus(a.Status())
	a.OnChange(t.SetStatus)

	t.OnToggle(func(active bool) {
		if !active {
			a.Deactivate()
			return
		}
		if err := a.Activate(ctx); err != nil {
			log.Error().Err(err).Msg("activation failed")
		}
	})
	t.OnSettings(func() {
		if err := openBrowser(url); err != nil {
			log.Warn().Err(err).Str("url", url).Msg("opening browser")
		}
	})

	go func() {
		<-ctx.Done()
		t.Quit()
	}()

	t.Run()
}

func mediaPipeFactory(cfg config.DetectorConfig, log zerolog.Logger) app.DetectorFactory {
	return func(ctx context.Context) (detector.Detector, error) {
		d, err := detector.NewMediaPipeDetector(detector.Config{
			ModelAssetPath:  cfg.Model,
			Delegate:        cfg.Delegate,
			MaxHands:        cfg.NumHands,
			MinConfidence:   cfg.MinConfidence,
			MinTrackingConf: cfg.MinTrackingConf,
			ScriptPath:      cfg.Script,
		}, log)
		if err != nil {
			return nil, err
		}
		if err := d.Start(ctx); err != nil {
			d.Close()
			return nil, err
		}
		return d, nil
	}
}

// viewerURL turns a listen address into a local browser URL.
func viewerURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}

// findWebDir searches for the web directory in common locations.
// It checks: "web", "../web", "../../web", and ~/.mudra/web.
// Returns the first existing directory or empty string if none found.
func findWebDir() string {
	// Check relative paths from current working directory
	relativePaths := []string{"web", "../web", "../../web"}
	for _, p := range relativePaths {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			absPath, err := filepath.Abs(p)
			if err == nil {
				return absPath
			}
			return p
		}
	}

	// Check home directory
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	homeWebDir := filepath.Join(homeDir, ".mudra", "web")
	if info, err := os.Stat(homeWebDir); err == nil && info.IsDir() {
		return homeWebDir
	}

	return ""
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `mudra turns hand gestures into a live scale and rotation signal and
streams the camera to a remote model that describes the gesture.

Usage:
  mudra [flags]

Environment:
  MUDRA_<SECTION>_<KEY> overrides any config key, e.g. MUDRA_SERVER_ADDR.
  GEMINI_API_KEY or API_KEY provides the remote session key.

Flags:
`)
	flagSet.PrintDefaults()
}
