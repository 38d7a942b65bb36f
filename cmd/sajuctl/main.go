// Command sajuctl exercises a running gateway from the terminal.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cheonkimoon/internal/freesaju"
	"cheonkimoon/internal/reading"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	serverURL string
	verbose   bool
	timeout   time.Duration

	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:          "sajuctl",
	Short:        "Client for the 천기문 saju reading gateway",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewDevelopmentConfig()
		config.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		l, err := config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show the gateway health report",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		body, err := NewClient(serverURL).Health(ctx)
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(body, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

var (
	streamStep    string
	streamSection string
	streamName    string
	streamSaju    string
	streamSplit   bool
)

var streamCmd = &cobra.Command{
	Use:   "stream <full-reading|first-impression|step|section>",
	Short: "Stream a reading and print tokens as they arrive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		variant, ok := reading.ParseVariant(args[0])
		if !ok {
			return fmt.Errorf("unknown variant %q", args[0])
		}
		body, err := streamBody(variant)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		start := time.Now()
		tokens := 0
		logger.Debug("stream start", zap.String("variant", string(variant)), zap.String("server", serverURL))

		err = NewClient(serverURL).Stream(cmd.Context(), string(variant), body,
			func(tok string) {
				tokens++
				fmt.Fprint(out, tok)
			},
			func(part []string) {
				fmt.Fprintf(out, "\n--- part (%d bubbles)\n", len(part))
				for _, b := range part {
					fmt.Fprintln(out, b)
				}
			})
		fmt.Fprintln(out)
		logger.Debug("stream end", zap.Int("tokens", tokens), zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		return err
	},
}

func streamBody(variant reading.Variant) (map[string]any, error) {
	body := map[string]any{}
	switch variant {
	case reading.VariantStep:
		if streamStep == "" {
			return nil, fmt.Errorf("--step is required for the step variant")
		}
		body["step_name"] = streamStep
	case reading.VariantSection:
		if streamSection == "" {
			return nil, fmt.Errorf("--section is required for the section variant")
		}
		body["section_name"] = streamSection
	}
	if streamName != "" {
		body["user_name"] = streamName
	}
	if streamSplit {
		body["split_parts"] = true
	}
	if streamSaju != "" {
		data, err := os.ReadFile(streamSaju)
		if err != nil {
			return nil, err
		}
		if !json.Valid(data) {
			return nil, fmt.Errorf("%s is not valid JSON", streamSaju)
		}
		body["saju_data"] = json.RawMessage(data)
	}
	return body, nil
}

var (
	fsReq      freesaju.CreateRequest
	fsHour     int
	fsMinute   int
	fsMaxPolls int
	fsInterval time.Duration
)

var freeSajuCmd = &cobra.Command{
	Use:   "free-saju",
	Short: "Request a Manseryuk calculation and poll until it finishes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		req := fsReq
		if cmd.Flags().Changed("hour") {
			req.BirthHour = &fsHour
		}
		if cmd.Flags().Changed("minute") {
			req.BirthMinute = &fsMinute
		}
		req.Gender = strings.ToLower(req.Gender)
		if err := req.Validate(); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		client := NewClient(serverURL)

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		created, err := client.CreateFreeSaju(ctx, req)
		cancel()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "created id=%d status=%s redirect=%s\n", created.ID, created.Status, created.RedirectURL)

		view, err := client.PollFreeSaju(cmd.Context(), created.ID, fsMaxPolls, fsInterval, func(n int, v *freesaju.View) {
			logger.Debug("poll", zap.Int("n", n), zap.String("status", v.Status))
			fmt.Fprintf(out, "poll %d: %s\n", n, v.Status)
		})
		if err != nil {
			return err
		}
		if view.Status == "error" {
			return fmt.Errorf("calculation failed: %s", view.Error)
		}
		pretty, err := json.MarshalIndent(view.SajuData, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(pretty))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "http://localhost:8001", "gateway base URL")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "timeout for non-streaming calls")

	streamCmd.Flags().StringVar(&streamStep, "step", "", "step name for the step variant")
	streamCmd.Flags().StringVar(&streamSection, "section", "", "section name for the section variant")
	streamCmd.Flags().StringVar(&streamName, "name", "", "user name")
	streamCmd.Flags().StringVar(&streamSaju, "saju", "", "path to a saju JSON file")
	streamCmd.Flags().BoolVar(&streamSplit, "split", false, "request bubble-split parts")

	f := freeSajuCmd.Flags()
	f.StringVar(&fsReq.Name, "name", "", "user name")
	f.IntVar(&fsReq.BirthYear, "year", 0, "birth year")
	f.IntVar(&fsReq.BirthMonth, "month", 0, "birth month")
	f.IntVar(&fsReq.BirthDay, "day", 0, "birth day")
	f.IntVar(&fsHour, "hour", 0, "birth hour (0-23)")
	f.IntVar(&fsMinute, "minute", 0, "birth minute (0-59)")
	f.StringVar(&fsReq.Gender, "gender", "", "male or female")
	f.BoolVar(&fsReq.IsLunar, "lunar", false, "birth date is lunar")
	f.StringVar(&fsReq.MBTI, "mbti", "", "MBTI type")
	f.StringVar(&fsReq.BirthPlace, "place", "", "birth place")
	f.IntVar(&fsMaxPolls, "max-polls", 10, "maximum number of polls")
	f.DurationVar(&fsInterval, "interval", time.Second, "delay between polls")
	_ = freeSajuCmd.MarkFlagRequired("name")
	_ = freeSajuCmd.MarkFlagRequired("year")
	_ = freeSajuCmd.MarkFlagRequired("month")
	_ = freeSajuCmd.MarkFlagRequired("day")
	_ = freeSajuCmd.MarkFlagRequired("gender")

	rootCmd.AddCommand(healthCmd, streamCmd, freeSajuCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
