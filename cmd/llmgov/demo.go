package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/blueberrycongee/llmgov"
	"github.com/blueberrycongee/llmgov/internal/config"
	"github.com/blueberrycongee/llmgov/internal/observability"
	"github.com/blueberrycongee/llmgov/providers/mock"
)

const (
	demoJobMarketData = "Tech hiring is steady; demand is highest for data and platform roles."
	demoFailureRate   = 0.8
	demoFailureRuns   = 6
	demoSampleEntries = 3
)

type demoRequest struct {
	prompt    string
	preferred string
	metadata  llmgov.Metadata
}

var demoRequests = []demoRequest{
	{
		prompt:    "What career paths are available for a software engineer with 5 years of experience?",
		preferred: "openai",
		metadata:  llmgov.Metadata{FeatureVersion: "1.2.3", PromptVersion: "v2.1", ExperimentID: "provider_comparison", VariantID: "variant_a"},
	},
	{
		prompt:    "What skills should I develop to transition to data science?",
		preferred: "anthropic",
		metadata:  llmgov.Metadata{FeatureVersion: "1.2.3", PromptVersion: "v2.0", ExperimentID: "provider_comparison", VariantID: "variant_b"},
	},
	{
		prompt:   "What is the average salary for a product manager?",
		metadata: llmgov.Metadata{FeatureVersion: "1.2.3", PromptVersion: "v1.5"},
	},
}

func newDemoCmd() *cobra.Command {
	var (
		configPath string
		jsonlPath  string
		logLevel   string
		fast       bool
	)

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run a scripted scenario against simulated backends",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Initializing governor...")

			redactor := observability.NewRedactor()
			logger := observability.NewLogger(observability.LoggerConfig{
				Level:  observability.ParseLevel(logLevel),
				Output: os.Stderr,
			}, redactor)

			rt, err := demoRuntime(ctx, configPath, jsonlPath, fast, logger, redactor)
			if err != nil {
				return err
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = rt.close(closeCtx)
			}()

			d := &demo{gov: rt.gov, out: out, sleep: sleepContext}
			if fast {
				d.sleep = func(context.Context, time.Duration) error { return nil }
			}
			return d.run(ctx)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file (default: built-in openai and anthropic mocks)")
	cmd.Flags().StringVar(&jsonlPath, "jsonl", "", "also append telemetry to this JSONL file")
	cmd.Flags().StringVar(&logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	cmd.Flags().BoolVar(&fast, "fast", false, "skip simulated latency and pauses")
	return cmd
}

func demoRuntime(ctx context.Context, configPath, jsonlPath string, fast bool, logger *observability.Logger, redactor *observability.Redactor) (*runtime, error) {
	if configPath != "" {
		cfg, err := config.LoadFromFile(configPath)
		if err != nil {
			return nil, err
		}
		if jsonlPath != "" {
			cfg.Telemetry.JSONLPath = jsonlPath
		}
		return buildRuntime(ctx, cfg, logger, redactor, nil)
	}

	var mockOpts []mock.Option
	if fast {
		mockOpts = append(mockOpts, mock.WithSleeper(func(context.Context, time.Duration) error { return nil }))
	}
	opts := []llmgov.Option{
		llmgov.WithBackend(mock.NewOpenAI(mockOpts...)),
		llmgov.WithBackend(mock.NewAnthropic(mockOpts...)),
		llmgov.WithLogger(logger),
		llmgov.WithRedactor(redactor),
	}
	if jsonlPath != "" {
		sink, err := observability.NewJSONLSink(jsonlPath)
		if err != nil {
			return nil, err
		}
		opts = append(opts, llmgov.WithSink(sink))
	}
	gov, err := llmgov.New(opts...)
	if err != nil {
		return nil, err
	}
	return &runtime{gov: gov}, nil
}

// demo drives the scripted scenario: a few tracked requests, a burst of
// requests against a failing openai backend, then the report.
type demo struct {
	gov   *llmgov.Governor
	out   io.Writer
	sleep func(ctx context.Context, d time.Duration) error
}

func (d *demo) run(ctx context.Context) error {
	backend, ok := d.gov.Backend("openai")
	if !ok {
		return fmt.Errorf("demo needs a backend with id \"openai\"")
	}
	tunable, ok := backend.(llmgov.Tunable)
	if !ok {
		return fmt.Errorf("backend openai does not support failure injection")
	}

	fmt.Fprint(d.out, "\nMaking mock API calls...\n\n")
	for i, req := range demoRequests {
		fmt.Fprintf(d.out, "Request %d: %s...\n", i+1, truncate(req.prompt, 50))
		res, err := d.gov.Generate(ctx, &llmgov.Request{
			UserProfile:      req.prompt,
			JobMarketData:    demoJobMarketData,
			PreferredBackend: req.preferred,
			Metadata:         req.metadata,
		})
		if err != nil {
			fmt.Fprintf(d.out, "  [ERROR] Error: %v\n\n", err)
		} else {
			fmt.Fprintf(d.out, "  [OK] Success: %s...\n", truncate(res.Content, 60))
			fmt.Fprintf(d.out, "  Tokens: %d in, %d out\n", res.InputTokens, res.OutputTokens)
			fmt.Fprintf(d.out, "  Latency: %.0fms\n\n", res.LatencyMs)
		}
		if err := d.sleep(ctx, 500*time.Millisecond); err != nil {
			return err
		}
	}

	fmt.Fprint(d.out, "Simulating failures to test circuit breaker...\n\n")
	tunable.SetFailureRate(demoFailureRate)
	for i := range demoFailureRuns {
		fmt.Fprintf(d.out, "Request with high failure rate (%d/%d)...\n", i+1, demoFailureRuns)
		_, err := d.gov.Generate(ctx, &llmgov.Request{
			UserProfile:      "Test request",
			PreferredBackend: "openai",
			Metadata:         llmgov.Metadata{FeatureVersion: "1.2.3"},
		})
		if err != nil {
			fmt.Fprintf(d.out, "  [ERROR] Error: %v\n\n", err)
		} else {
			fmt.Fprint(d.out, "  [OK] Success\n\n")
		}
		if err := d.sleep(ctx, 300*time.Millisecond); err != nil {
			return err
		}
	}
	tunable.SetFailureRate(0)

	printStats(d.out, d.gov.Stats())

	fmt.Fprintf(d.out, "\nSample Telemetry Log Entries:\n%s\n", strings.Repeat("-", 60))
	entries := d.gov.Telemetry(0)
	if len(entries) > demoSampleEntries {
		entries = entries[:demoSampleEntries]
	}
	for _, e := range entries {
		b, err := json.MarshalIndent(e, "", "  ")
		if err != nil {
			return fmt.Errorf("encode telemetry entry: %w", err)
		}
		fmt.Fprintf(d.out, "%s\n\n", b)
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
