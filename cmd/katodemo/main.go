// katodemo is a thin demonstration binary for the KATO engine core. Per
// spec §6, the engine's CLI/environment surface is out of scope: this
// binary exists only to exercise the library end-to-end (S1/S3 from §8)
// against the dependency-free in-memory backend, the same way an embedder
// would wire it into their own service.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/sevakavakians/kato/internal/store/memory"
	"github.com/sevakavakians/kato/pkg/engine"
	"github.com/sevakavakians/kato/pkg/session"
)

func main() {
	envFile := flag.String("env-file", os.Getenv("KATO_ENV_FILE"), "optional .env file to load")
	flag.Parse()

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			slog.Warn("could not load env file, continuing with existing environment", "path", *envFile, "error", err)
		}
	}

	patterns := memory.New()
	sessions := session.NewManager()

	eng := engine.New(patterns, nil, sessions, sessions, engine.DefaultConfig())

	ctx := context.Background()
	const sessionID = "demo-session"

	if _, err := eng.UpdateConfig(ctx, sessionID, session.Config{KBID: "demo"}, map[string]bool{"kb_id": true}); err != nil {
		slog.Error("update-config failed", "error", err)
		os.Exit(1)
	}

	mustObserve(ctx, eng, sessionID, []string{"hello", "world"})
	mustObserve(ctx, eng, sessionID, []string{"goodbye"})

	name, isNoOp, err := eng.Learn(ctx, sessionID)
	if err != nil {
		slog.Error("learn failed", "error", err)
		os.Exit(1)
	}
	slog.Info("learned pattern", "name", name, "no_op", isNoOp)

	mustObserve(ctx, eng, sessionID, []string{"hello"})
	mustObserve(ctx, eng, sessionID, []string{"goodbye", "extra"})

	predictions, err := eng.GetPredictions(ctx, sessionID)
	if err != nil {
		slog.Error("get-predictions failed", "error", err)
		os.Exit(1)
	}
	for _, p := range predictions {
		slog.Info("prediction",
			"name", p.Name,
			"confidence", p.Confidence,
			"present", p.Present,
			"missing", p.Missing.Slice(),
			"extras", p.Extras.Slice(),
		)
	}
}

func mustObserve(ctx context.Context, eng *engine.Engine, sessionID string, strings []string) {
	res, err := eng.Observe(ctx, sessionID, engine.ObserveRequest{Strings: strings})
	if err != nil {
		slog.Error("observe failed", "error", err)
		os.Exit(1)
	}
	slog.Info("observed", "strings", strings, "stm_length", res.STMLength)
}
