// Command eureka is the flag-based CLI boundary over internal/engine,
// in the shape of the teacher's cmd/main.go: parse flags, load config,
// call one engine operation, format output.
package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/schollz/progressbar/v3"

	"github.com/triplescan/triplescan/internal/config"
	"github.com/triplescan/triplescan/internal/decode"
	"github.com/triplescan/triplescan/internal/engine"
	"github.com/triplescan/triplescan/internal/logging"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file (defaults built in if omitted)")
	storePath := flag.String("store", "", "Path to an audio file, or a directory, to add to the index")
	queryPath := flag.String("query", "", "Path to an audio clip to recognize")
	monitorPath := flag.String("monitor", "", "Path to a long audio clip to recognize window-by-window")
	listCmd := flag.Bool("list", false, "Print index stats")
	deleteID := flag.Int("delete", -1, "Delete a resource by its ID")
	statsCmd := flag.Bool("stats", false, "Print index stats")
	microphoneCmd := flag.Bool("microphone", false, "Recognize continuously from the default input device")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "loading config:", err)
			os.Exit(1)
		}
		cfg = *loaded
	}

	if err := logging.Init(cfg.Logging.Level, cfg.Logging.File); err != nil {
		fmt.Fprintln(os.Stderr, "initializing logging:", err)
		os.Exit(1)
	}
	defer logging.Sync()

	s, err := engine.OpenStore(cfg)
	if err != nil {
		logging.Log.Error("opening store", zap.Error(err))
		os.Exit(1)
	}
	eng := engine.New(cfg, s)
	defer eng.Close()

	ctx := context.Background()

	switch {
	case *deleteID >= 0:
		runDelete(ctx, eng, int32(*deleteID))
	case *listCmd || *statsCmd:
		runStats(ctx, eng)
	case *microphoneCmd:
		runMicrophone(ctx, eng, cfg)
	case *monitorPath != "":
		runMonitor(ctx, eng, *monitorPath)
	case *queryPath != "":
		runQuery(ctx, eng, *queryPath)
	case *storePath != "":
		runStore(ctx, eng, *storePath)
	default:
		fmt.Fprintln(os.Stderr, "one of -store, -query, -monitor, -list, -delete, -stats is required")
		flag.Usage()
		os.Exit(1)
	}
}

func runStore(ctx context.Context, eng *engine.Engine, path string) {
	info, err := os.Stat(path)
	if err != nil {
		logging.Log.Error("stat", zap.String("path", path), zap.Error(err))
		os.Exit(1)
	}

	if !info.IsDir() {
		if err := eng.Store(ctx, path); err != nil {
			logging.Log.Error("store", zap.String("path", path), zap.Error(err))
			os.Exit(1)
		}
		return
	}

	var files []string
	filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(p)) {
		case ".wav", ".mp3":
			files = append(files, p)
		}
		return nil
	})

	bar := progressbar.Default(int64(len(files)), "storing")
	for _, f := range files {
		if err := eng.Store(ctx, f); err != nil {
			logging.Log.Warn("store", zap.String("path", f), zap.Error(err))
		}
		bar.Add(1)
	}
}

func runQuery(ctx context.Context, eng *engine.Engine, path string) {
	results, err := eng.Query(ctx, path)
	if err != nil {
		logging.Log.Error("query", zap.String("path", path), zap.Error(err))
		os.Exit(1)
	}
	if len(results) == 0 {
		fmt.Println("no matches found")
		return
	}
	for i, r := range results {
		fmt.Printf("%d. resource %d (score %d, time factor %.3f, coverage %.2f%%)\n",
			i+1, r.ResourceID, r.Score, r.TimeFactor, r.PercentSecondsMatched*100)
	}
}

func runMonitor(ctx context.Context, eng *engine.Engine, path string) {
	windows, err := eng.QueryLong(ctx, path)
	if err != nil {
		logging.Log.Error("monitor", zap.String("path", path), zap.Error(err))
		os.Exit(1)
	}
	for i, results := range windows {
		if len(results) == 0 {
			continue
		}
		fmt.Printf("window %d:\n", i)
		for _, r := range results {
			fmt.Printf("  resource %d (score %d, time factor %.3f, coverage %.2f%%)\n",
				r.ResourceID, r.Score, r.TimeFactor, r.PercentSecondsMatched*100)
		}
	}
}

func runMicrophone(ctx context.Context, eng *engine.Engine, cfg config.Config) {
	src, err := decode.OpenMicrophone(cfg.Spectral.SampleRate, cfg.Spectral.FrameSize, cfg.Spectral.Hop)
	if err != nil {
		logging.Log.Error("opening microphone", zap.Error(err))
		os.Exit(1)
	}
	defer src.Close()

	fmt.Println("listening... press Ctrl+C to stop")
	results, err := eng.QueryLive(ctx, src, cfg.Monitor.StepSeconds)
	if err != nil {
		logging.Log.Error("starting live query", zap.Error(err))
		os.Exit(1)
	}

	for batch := range results {
		for _, r := range batch {
			fmt.Printf("resource %d (score %d, time factor %.3f, coverage %.2f%%)\n",
				r.ResourceID, r.Score, r.TimeFactor, r.PercentSecondsMatched*100)
		}
	}
}

func runDelete(ctx context.Context, eng *engine.Engine, id int32) {
	if err := eng.Delete(ctx, id); err != nil {
		logging.Log.Error("delete", zap.Int32("resource_id", id), zap.Error(err))
		os.Exit(1)
	}
	fmt.Printf("deleted resource %d\n", id)
}

func runStats(ctx context.Context, eng *engine.Engine) {
	stats, err := eng.Stats(ctx)
	if err != nil {
		logging.Log.Error("stats", zap.Error(err))
		os.Exit(1)
	}
	fmt.Printf("distinct hashes: %d\nposting count:   %d\nresources:       %d\n",
		stats.DistinctHashes, stats.TotalPostings, stats.Resources)
}
