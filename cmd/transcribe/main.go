package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/codebuildervaibhav/longform-transcriber/internal/app"
	"github.com/codebuildervaibhav/longform-transcriber/internal/config"
	"github.com/codebuildervaibhav/longform-transcriber/internal/logger"
	"github.com/codebuildervaibhav/longform-transcriber/internal/pipeline"
	"github.com/codebuildervaibhav/longform-transcriber/internal/storage"
	"github.com/codebuildervaibhav/longform-transcriber/internal/types"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var configPath string

var rootCmd = &cobra.Command{
	Use:          "transcribe",
	Short:        "Transcribe long audio and video files window by window",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config/config.yaml", "path to the YAML config (optional)")
	rootCmd.AddCommand(
		runCmd(),
		showCmd(),
		authorizeCmd(),
	)
}

type runFlags struct {
	language string
	out      string
	window   time.Duration
	engine   string
	model    string
	device   string
	retries  int
	debug    bool
}

func runCmd() *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "run <input>",
		Short: "Transcribe a file, printing segments as they arrive",
		Long: `Decodes the input with ffmpeg, cuts it into fixed windows and transcribes
them in order. Segments are printed as soon as the engine produces them.
The result log is written to <input>.json and a text rendering to
<input>.txt; on failure or Ctrl-C the windows finished so far are saved.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			f.apply(cmd, cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return transcribe(cmd.Context(), cfg, f, args[0], cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVarP(&f.language, "language", "l", "", "language code, or auto to let the engine detect it")
	cmd.Flags().StringVarP(&f.out, "out", "o", "", "result log path (default <input>.json)")
	cmd.Flags().DurationVar(&f.window, "window", 0, "window length (default from config, 10m)")
	cmd.Flags().StringVar(&f.engine, "engine", "", "engine provider: whisper or openai")
	cmd.Flags().StringVar(&f.model, "model", "", "model name")
	cmd.Flags().StringVar(&f.device, "device", "", "device for the local engine: cpu or cuda")
	cmd.Flags().IntVar(&f.retries, "retries", 0, "extra attempts per failed window")
	cmd.Flags().BoolVar(&f.debug, "debug", false, "verbose logging")
	return cmd
}

// apply overrides config values with flags the user set
func (f runFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("language") {
		cfg.Pipeline.Language = f.language
	}
	if flags.Changed("window") {
		cfg.Pipeline.Window = f.window
	}
	if flags.Changed("engine") {
		cfg.Whisper.Provider = f.engine
	}
	if flags.Changed("model") {
		cfg.Whisper.Model = f.model
	}
	if flags.Changed("device") {
		cfg.Whisper.Device = f.device
	}
	if flags.Changed("retries") {
		cfg.Pipeline.Retries = f.retries
	}
	if f.debug {
		cfg.Debug = true
	}
}

func transcribe(ctx context.Context, cfg *config.Config, f runFlags, input string, stdout, stderr io.Writer) error {
	if _, err := os.Stat(input); err != nil {
		return fmt.Errorf("input: %w", err)
	}
	if err := os.MkdirAll(cfg.Storage.TempDir, 0755); err != nil {
		return err
	}

	// stdout is reserved for segments so the output can be piped
	log := logger.NewWithSink(cfg.Debug, stderr)
	defer log.Sync()

	pipe, err := app.NewPipeline(cfg, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sink := pipeline.NewChannelSink(cfg.Pipeline.SinkBuffer)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		printEvents(stdout, sink.Events())
	}()

	result, runErr := pipe.Run(ctx, input, cfg.Pipeline.Language, sink)
	sink.Close()
	wg.Wait()

	if n := sink.Dropped(); n > 0 {
		log.Warnf("%d live events dropped, the saved log is complete", n)
	}

	out := f.out
	if out == "" {
		out = input + ".json"
	}
	if err := save(result, out); err != nil {
		if errors.Is(err, storage.ErrEmptyResult) && runErr != nil {
			return runErr
		}
		return errors.Join(runErr, err)
	}
	fmt.Fprintf(stdout, "saved %d window(s) to %s\n", result.Len(), out)
	return runErr
}

func save(result *types.ResultLog, out string) error {
	if err := storage.NewResultStore().Save(result, out); err != nil {
		return err
	}
	text := strings.TrimSuffix(out, ".json") + ".txt"
	if text == out {
		text = out + ".txt"
	}
	return os.WriteFile(text, []byte(storage.RenderText(result)), 0644)
}

func printEvents(w io.Writer, events <-chan types.Event) {
	for ev := range events {
		switch ev.Type {
		case types.EventSegment:
			s := ev.Segment
			fmt.Fprintf(w, "[%s --> %s] %s\n",
				storage.FormatTimestamp(s.Start), storage.FormatTimestamp(s.End), strings.TrimSpace(s.Text))
		case types.EventWindowDone:
			fmt.Fprintf(w, "-- window %d/%d done\n", ev.Window+1, ev.Windows)
		case types.EventFailed:
			fmt.Fprintf(w, "-- failed: %s\n", ev.Error)
		}
	}
}

func showCmd() *cobra.Command {
	var segments bool

	cmd := &cobra.Command{
		Use:   "show <result.json>",
		Short: "Print a saved result log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := storage.NewResultStore().Load(args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if !segments {
				fmt.Fprint(w, storage.RenderText(result))
				return nil
			}
			for _, win := range result.Windows {
				fmt.Fprintf(w, "window %d: %d segment(s)\n", win.Index, len(win.Segments))
				for _, s := range win.Segments {
					fmt.Fprintf(w, "  %8.2f %8.2f  %s\n", s.Start, s.End, strings.TrimSpace(s.Text))
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&segments, "segments", false, "group segments by window with raw timestamps")
	return cmd
}

func authorizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "authorize",
		Short: "Authorize Google Drive uploads for the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			gd := cfg.GoogleDrive

			authURL, err := storage.AuthURL(gd.CredentialsFile)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Go to the following link in your browser:\n%v\n", authURL)
			fmt.Fprint(cmd.OutOrStdout(), "Enter authorization code: ")

			code, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && code == "" {
				return fmt.Errorf("unable to read authorization code: %w", err)
			}
			if err := storage.Authorize(cmd.Context(), gd.CredentialsFile, gd.TokenFile, code); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Token saved to %s\n", gd.TokenFile)
			return nil
		},
	}
}
