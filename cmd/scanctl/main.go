// scanctl drives a running ballot scanner over its HTTP API.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/ballot.scanner/internal/api"
	"github.com/banshee-data/ballot.scanner/internal/orchestrator"
	"github.com/banshee-data/ballot.scanner/internal/version"
)

var (
	addr    = flag.String("addr", "http://localhost:8080", "Scanner API base URL")
	timeout = flag.Duration("timeout", 10*time.Second, "Request timeout")
)

func main() {
	flag.Usage = printUsage
	flag.Parse()

	if flag.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	if err := run(ctx, api.NewClient(*addr, nil), flag.Args(), os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "scanctl: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `scanctl - control a ballot scanner

Usage: scanctl [flags] <command>

Commands:
  status          Show the scanner state
  scan            Scan the sheet held at the front of the scanner
  accept          Drop the sheet into the ballot box
  return          Return the sheet to the voter
  ack             Acknowledge a storage error
  mode <mode>     Set the interpretation mode (interpret or skip)
  cvrs            Write the cast vote record export to stdout
  version         Show scanctl version

Flags:`)
	flag.PrintDefaults()
}

func run(ctx context.Context, c *api.Client, args []string, out io.Writer) error {
	var (
		snap orchestrator.Snapshot
		err  error
	)
	switch args[0] {
	case "status":
		snap, err = c.Status(ctx)
	case "scan":
		snap, err = c.Scan(ctx)
	case "accept":
		snap, err = c.Accept(ctx)
	case "return":
		snap, err = c.Return(ctx)
	case "ack":
		snap, err = c.AcknowledgeStorageError(ctx)
	case "mode":
		if len(args) != 2 {
			return fmt.Errorf("usage: scanctl mode <interpret|skip>")
		}
		snap, err = c.SetInterpretationMode(ctx, orchestrator.InterpretationMode(args[1]))
	case "cvrs":
		return c.ExportCastVoteRecords(ctx, out)
	case "version":
		_, err = fmt.Fprintln(out, version.String())
		return err
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}
