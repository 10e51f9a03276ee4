package observability

import (
	"log/slog"
	"os"

	"github.com/fairyhunter13/filetools-bot/internal/config"
)

// SetupLogger builds the process logger: debug-level text output in
// dev, info-level JSON elsewhere, tagged with service and environment
// so the server and worker processes can be told apart in one stream.
func SetupLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	var h slog.Handler
	if cfg.IsDev() {
		opts.Level = slog.LevelDebug
		h = slog.NewTextHandler(os.Stdout, opts)
	} else {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(h).With(
		slog.String("service", cfg.OTELServiceName),
		slog.String("env", cfg.AppEnv),
	)
}
