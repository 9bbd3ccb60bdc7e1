// Command penguictl inspects a penguiflow state store: given a trace id, it
// loads and prints that trace's event history.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/penguiflow/penguiflow"
	"github.com/penguiflow/penguiflow/state/memory"
	"github.com/penguiflow/penguiflow/state/mysql"
	"github.com/penguiflow/penguiflow/state/sqlite"
)

// Exit codes: 0 success, 1 usage/configuration error, 2 store/lookup error.
const (
	exitOK         = 0
	exitUsageError = 1
	exitStoreError = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr *os.File) int {
	fs := flag.NewFlagSet("penguictl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	stateStore := fs.String("state-store", "memory", `state store to query: "memory", "sqlite:<path>", or "mysql:<dsn>"`)
	traceID := fs.String("trace-id", "", "trace id to load history for (required)")
	format := fs.String("format", "text", `output format: "text" or "json"`)

	if err := fs.Parse(args); err != nil {
		return exitUsageError
	}
	if *traceID == "" {
		fmt.Fprintln(stderr, "penguictl: -trace-id is required")
		return exitUsageError
	}
	if *format != "text" && *format != "json" {
		fmt.Fprintf(stderr, "penguictl: unknown -format %q\n", *format)
		return exitUsageError
	}

	store, closeStore, err := openStore(*stateStore)
	if err != nil {
		fmt.Fprintf(stderr, "penguictl: %v\n", err)
		return exitUsageError
	}
	defer closeStore()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	history, err := store.LoadHistory(ctx, *traceID)
	if err != nil {
		fmt.Fprintf(stderr, "penguictl: loading history: %v\n", err)
		return exitStoreError
	}

	switch *format {
	case "json":
		printJSON(stdout, history)
	default:
		printText(stdout, history)
	}
	return exitOK
}

func openStore(spec string) (penguiflow.Store, func(), error) {
	switch {
	case spec == "memory":
		return memory.New(), func() {}, nil
	case len(spec) > len("sqlite:") && spec[:len("sqlite:")] == "sqlite:":
		s, err := sqlite.Open(spec[len("sqlite:"):])
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	case len(spec) > len("mysql:") && spec[:len("mysql:")] == "mysql:":
		s, err := mysql.Open(spec[len("mysql:"):])
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unrecognized -state-store %q", spec)
	}
}

func printText(w *os.File, history []penguiflow.StoredEvent) {
	for _, ev := range history {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", ev.Ts.Format(time.RFC3339Nano), ev.Kind, ev.NodeName, ev.NodeID)
	}
}

func printJSON(w *os.File, history []penguiflow.StoredEvent) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(history)
}
