// Command minikv is a thin, single-shot CLI over the engine's public API.
// It is not part of the core engine: it exists only to exercise Open, Put,
// Get, Delete, and CompactAll from outside the package, the way a real
// consumer would.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"minikv/internal/engine"
)

var (
	dataDir         = flag.String("data-dir", "./data", "directory for wal.log and sst_NNNN.txt files")
	writeMode       = flag.String("write-mode", "sync", "wal sync policy: sync, batch, or adaptive")
	batchSize       = flag.Int("batch-size", 10, "batch/adaptive mode: ops per sync")
	batchIntervalMS = flag.Int64("batch-interval-ms", 5, "batch/adaptive mode: max ms between syncs")
	memtableLimit   = flag.Int("memtable-limit", 1000, "entry count that triggers a flush to sst")
	verbose         = flag.Bool("verbose", false, "enable debug logging")
)

func main() {
	flag.Usage = usage
	flag.Parse()

	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	cfg := engine.Config{
		DataDir:         *dataDir,
		WriteMode:       parseWriteMode(*writeMode),
		BatchSize:       *batchSize,
		BatchIntervalMS: *batchIntervalMS,
		MemTableLimit:   *memtableLimit,
	}

	eng := engine.NewEngine(cfg)
	if err := eng.Open(); err != nil {
		logrus.WithError(err).Fatal("failed to open engine")
	}
	defer func() {
		if err := eng.Close(); err != nil {
			logrus.WithError(err).Error("failed to close engine cleanly")
		}
	}()

	if err := dispatch(eng, args); err != nil {
		logrus.WithError(err).Fatal("command failed")
	}
}

func dispatch(eng *engine.Engine, args []string) error {
	switch args[0] {
	case "put":
		if len(args) != 3 {
			return fmt.Errorf("usage: minikv put <key> <value>")
		}
		return eng.Put(args[1], args[2])

	case "get":
		if len(args) != 2 {
			return fmt.Errorf("usage: minikv get <key>")
		}
		value, found, err := eng.Get(args[1])
		if err != nil {
			return err
		}
		if !found {
			fmt.Println("(not found)")
			return nil
		}
		fmt.Println(value)
		return nil

	case "delete":
		if len(args) != 2 {
			return fmt.Errorf("usage: minikv delete <key>")
		}
		return eng.Delete(args[1])

	case "compact":
		if len(args) != 1 {
			return fmt.Errorf("usage: minikv compact")
		}
		return eng.CompactAll()

	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func parseWriteMode(s string) engine.WriteMode {
	switch s {
	case "batch":
		return engine.BatchMode
	case "adaptive":
		return engine.AdaptiveMode
	default:
		return engine.SyncMode
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: minikv [flags] <put|get|delete|compact> [args]")
	flag.PrintDefaults()
}
