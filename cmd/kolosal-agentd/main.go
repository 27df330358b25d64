// kolosal-agentd is the multi-agent runtime daemon.
//
// Usage:
//
//	kolosal-agentd serve                        # start the runtime
//	kolosal-agentd serve --config kolosal.yaml  # with an explicit config file
//	kolosal-agentd health                       # probe a running daemon
//	kolosal-agentd version                      # print version info
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"
)

// Injected at build time.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

const (
	exitOK        = 0
	exitStartup   = 1
	exitRuntime   = 2
	exitInterrupt = 130
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitStartup)
	}

	switch os.Args[1] {
	case "serve":
		os.Exit(runServe(os.Args[2:]))
	case "health":
		os.Exit(runHealthCheck(os.Args[2:]))
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(exitStartup)
	}
}

func runHealthCheck(args []string) int {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Daemon address")
	fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + "/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		return exitStartup
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: status %d\n", resp.StatusCode)
		return exitStartup
	}
	fmt.Println("OK")
	return exitOK
}

func printVersion() {
	fmt.Printf("kolosal-agentd %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`kolosal-agentd - multi-agent orchestration runtime

Usage:
  kolosal-agentd <command> [options]

Commands:
  serve     Start the runtime and its management API
  health    Check a running daemon
  version   Show version information
  help      Show this help message

Options for 'serve':
  --config <path>      Path to configuration file (YAML); also KOLOSAL_CONFIG
  --host <addr>        Management API bind host
  --port <n>           Management API bind port; also KOLOSAL_PORT
  --log-level <level>  debug, info, warn or error; also KOLOSAL_LOG_LEVEL

Examples:
  kolosal-agentd serve
  kolosal-agentd serve --config /etc/kolosal/kolosal.yaml --port 9090
  kolosal-agentd health --addr http://localhost:8080`)
}
