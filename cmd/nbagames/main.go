package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"nbagames/cmd/nbagames/commands"
	"nbagames/lib/serviceutil"
	"nbagames/lib/telemetry"
)

func main() {
	ctx, cancel := serviceutil.SignalContext(context.Background())
	defer cancel()

	telemetry.InitSlog(false)
	tel, err := telemetry.SetupFromEnv(ctx, "nbagames")
	if err == nil {
		telemetry.InstrumentPerfStats(ctx)
	} else if !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to setup telemetry", "err", err)
	}

	err = commands.ExecuteContext(ctx)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), time.Second*10)
	defer cancelShutdown()
	if shutdownErr := tel.Shutdown(shutdownCtx); shutdownErr != nil {
		slog.Warn("failed to flush telemetry", "err", shutdownErr)
	}

	if err != nil {
		cancel()
		serviceutil.Fatal("nbagames failed", err)
	}
}
