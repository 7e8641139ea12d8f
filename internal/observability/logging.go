package observability

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-newsletter-backend/internal/config"
	"github.com/tbourn/go-newsletter-backend/internal/sysutil"
)

var logOnce sync.Once

// InitLogging configures the global zerolog logger. Only the first call has
// an effect.
func InitLogging(cfg config.Config, instance string) {
	logOnce.Do(func() {
		configureLogger(os.Stdout, cfg, instance)
	})
}

func configureLogger(out io.Writer, cfg config.Config, instance string) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	sysutil.SetLogLevel(cfg.LogLevel)

	if cfg.LogPretty {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.Kitchen,
			NoColor:    sysutil.IsTruthy(os.Getenv("NO_COLOR")),
		}
	}
	log.Logger = zerolog.New(out).With().
		Timestamp().
		Str("service", cfg.OTEL.ServiceName).
		Str("instance", instance).
		Logger()
}
