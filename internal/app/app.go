// Package app wires the mediawatch subcommands: flag parsing, configuration,
// and the process exit codes the deployment scripts rely on.
package app

import (
	"fmt"
	"os"
	"strings"
)

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printUsage()
		return 0
	case "health":
		return runHealth(args[1:])
	case "migrate":
		return runMigrate(args[1:])
	case "ingest":
		return runIngest(args[1:])
	case "enrich":
		return runEnrich(args[1:])
	case "run", "run-once":
		return runPipelineOnce(args[1:])
	case "worker":
		return runWorker(args[1:])
	case "report":
		return runReport(args[1:])
	case "serve":
		return runServe(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "mediawatch CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  mediawatch <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  ingest    Pull every enabled source once and land records in the store")
	fmt.Fprintln(os.Stderr, "  enrich    Classify pending records, keyword fallback when the model fails")
	fmt.Fprintln(os.Stderr, "  run       Ingest then enrich in sequence")
	fmt.Fprintln(os.Stderr, "  run-once  Alias for run")
	fmt.Fprintln(os.Stderr, "  worker    Run ingest+enrich cycles on a cron schedule")
	fmt.Fprintln(os.Stderr, "  report    Render the markdown monitoring report")
	fmt.Fprintln(os.Stderr, "  serve     Start the Echo read API")
	fmt.Fprintln(os.Stderr, "  health    Verify configuration and database connectivity")
	fmt.Fprintln(os.Stderr, "  migrate   Apply schema migrations and exit")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"mediawatch <command> -h\" for command-specific flags.")
}
