// Copyright (C) 2017 Librato, Inc. All rights reserved.

// Package command implements the command line of the sender.
package command

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/appoptics/otlp-histogram-sender/internal/config"
	"github.com/appoptics/otlp-histogram-sender/internal/emitter"
	"github.com/appoptics/otlp-histogram-sender/internal/log"
	"github.com/appoptics/otlp-histogram-sender/internal/measurement"
	"github.com/appoptics/otlp-histogram-sender/internal/sink"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// The exit codes of the command.
const (
	ExitOK           = 0
	ExitRuntimeError = 1
	ExitConfigError  = 2
)

const (
	defaultInterval = 60

	// the longest interval a time.Duration can hold
	maxInterval = math.MaxInt64 / int64(time.Second)
)

// UsageError is returned for invalid flags or arguments.
type UsageError struct {
	Err error
}

func (e *UsageError) Error() string {
	return "usage error: " + e.Err.Error()
}

func (e *UsageError) Unwrap() error {
	return e.Err
}

// Settings holds the collaborators of the command.
type Settings struct {
	// Stdout receives the progress messages.
	Stdout io.Writer
	// Stderr receives the errors reported to the operator.
	Stderr io.Writer
	// NewSink constructs the sink from the loaded configuration.
	NewSink func(ctx context.Context, c *config.Config, stdout io.Writer) (sink.Sink, error)
	// NewSource creates the measurement source. A zero seed means a random one.
	NewSource func(seed uint64) measurement.Source
	// ConfigOptions are applied on top of the file and the environment.
	ConfigOptions []config.Option
	// EmitterOptions are appended to the options derived from the flags.
	EmitterOptions []emitter.Option
}

// DefaultSettings returns the settings of the real program: the standard
// streams, an OTLP sink and a random measurement source.
func DefaultSettings() Settings {
	return Settings{
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
		NewSink: newOTLPSink,
		NewSource: func(seed uint64) measurement.Source {
			return measurement.NewRandomSource(seed)
		},
	}
}

func newOTLPSink(ctx context.Context, c *config.Config, stdout io.Writer) (sink.Sink, error) {
	sink.RouteSDKErrors()
	s, err := sink.New(ctx, c)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(stdout, "Sending histogram metrics to: %s\n", s.Target())
	return s, nil
}

// NewCommand constructs the root command with the given settings.
func NewCommand(set Settings) *cobra.Command {
	var (
		loop       bool
		interval   int
		seed       uint64
		configFile string
	)

	cmd := &cobra.Command{
		Use:   "otlp-histogram-sender",
		Short: "Send synthetic histogram metrics over OTLP",
		Long: `Records a batch of simulated HTTP request durations into an OpenTelemetry
histogram and exports it to the OTLP endpoint set by DT_ENDPOINT, authenticated
with DT_API_TOKEN. With --loop, a new batch is sent every interval until the
program is interrupted.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) > 0 {
				return &UsageError{Err: errors.Errorf("unexpected arguments: %v", args)}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if interval <= 0 || int64(interval) > maxInterval {
				return config.NewConfigurationError(errors.Errorf(
					"invalid interval %d: it must be between 1 and %d seconds", interval, maxInterval))
			}

			opts := append([]config.Option(nil), set.ConfigOptions...)
			if configFile != "" {
				opts = append(opts, config.WithConfigFile(configFile))
			}
			c, err := config.Load(opts...)
			if err != nil {
				return err
			}

			eopts := []emitter.Option{emitter.WithOutput(set.Stdout)}
			if loop {
				eopts = append(eopts, emitter.WithLoop(time.Duration(interval)*time.Second))
			}
			eopts = append(eopts, set.EmitterOptions...)

			e := emitter.New(func(ctx context.Context) (sink.Sink, error) {
				s, err := set.NewSink(ctx, c, set.Stdout)
				if err != nil {
					return nil, errors.Wrap(err, "failed to create the metric sink")
				}
				return s, nil
			}, set.NewSource(seed), eopts...)

			return e.Run(cmd.Context())
		},
	}

	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &UsageError{Err: err}
	})

	flags := cmd.Flags()
	flags.BoolVar(&loop, "loop", false, "Run continuously, sending metrics every interval")
	flags.IntVar(&interval, "interval", defaultInterval, "Interval in seconds between sends")
	flags.Uint64Var(&seed, "seed", 0, "Seed of the random measurements, 0 for a random seed")
	flags.StringVar(&configFile, "config", "", "Path of the YAML config file")

	cmd.SetOut(set.Stdout)
	cmd.SetErr(set.Stderr)
	return cmd
}

// ExitCode maps an error returned by the command to the exit code of the
// program.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ue *UsageError
	if config.IsConfigurationError(err) || errors.As(err, &ue) {
		return ExitConfigError
	}
	return ExitRuntimeError
}

// Run executes the command with the arguments and returns the exit code. An
// interrupt delivered by cancelling ctx is a clean exit.
func Run(ctx context.Context, args []string, set Settings) int {
	cmd := NewCommand(set)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return ExitOK
	}

	if errors.Is(err, config.ErrMissingEndpoint) || errors.Is(err, config.ErrMissingAPIToken) {
		fmt.Fprintln(set.Stderr, "ERROR: Please set DT_ENDPOINT and DT_API_TOKEN.")
		fmt.Fprintln(set.Stderr, "  DT_ENDPOINT example: https://<cluster>/e/<env-id>/api/v2/otlp")
		fmt.Fprintln(set.Stderr, "  DT_API_TOKEN example: dt0c01...")
	}
	fmt.Fprintf(set.Stderr, "ERROR: %v\n", err)

	code := ExitCode(err)
	log.Debugf("Exiting with code %d: %v", code, err)
	return code
}
