// Package logging sets up the zerolog logger used across the marketplace services.
package logging

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/diode"
)

var (
	// we are not promising to get every log message in the log, when it
	// comes down to it we would rather the service runs than fails on log
	// writing contention. This counter lets us see how many we drop.
	droppedLogTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dropped_log_events_total",
			Help: "A counter for the number of dropped log messages",
		},
	)

	// Writer is the writer the process-wide logger emits to
	Writer io.Writer
)

func init() {
	prometheus.MustRegister(droppedLogTotal)
}

// SetupLogger creates a logger for the environment env, associates it with
// the returned context and returns it
func SetupLogger(ctx context.Context, env string, debug bool) (context.Context, *zerolog.Logger) {
	if env == "local" {
		Writer = zerolog.ConsoleWriter{Out: os.Stdout}
	} else {
		// this log writer uses a ring buffer and drops messages that cannot
		// be processed in a timely manner
		Writer = diode.NewWriter(os.Stdout, 1000, 20*time.Millisecond, func(missed int) {
			droppedLogTotal.Add(float64(missed))
		})
	}

	// always print out timestamp
	l := zerolog.New(Writer).With().Timestamp().Logger()

	l = l.Level(zerolog.InfoLevel)
	if debug {
		l = l.Level(zerolog.DebugLevel)
	}

	return l.WithContext(ctx), &l
}

// Logger returns a zerolog sublogger from the context scoped to component
func Logger(ctx context.Context, component string) *zerolog.Logger {
	l := zerolog.Ctx(ctx).With().Str("component", component).Logger()
	return &l
}
