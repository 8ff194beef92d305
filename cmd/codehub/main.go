package main

import (
	"fmt"
	"os"
)

// Version is set at build time via ldflags
var Version = "dev"

const (
	pidFile = "codehubd.pid"

	// tokenEnv holds a bearer token for daemons running with auth enabled
	tokenEnv = "CODEHUB_TOKEN"
	addrEnv  = "CODEHUB_ADDR"
)

var daemonAddr = defaultDaemonAddr()

func defaultDaemonAddr() string {
	if addr := os.Getenv(addrEnv); addr != "" {
		return addr
	}
	return "http://127.0.0.1:7432"
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "init":
		err = cmdInit()
	case "start":
		err = cmdStart()
	case "stop":
		err = cmdStop()
	case "status":
		err = cmdStatus()
	case "logs":
		err = cmdLogs()
	case "config":
		err = cmdConfig()
	case "provider":
		err = cmdProvider(os.Args[2:])
	case "generate":
		err = cmdGenerate(os.Args[2:])
	case "prompt":
		err = cmdPrompt(os.Args[2:])
	case "models":
		err = cmdModels()
	case "jobs":
		err = cmdJobs(os.Args[2:])
	case "history":
		err = cmdHistory(os.Args[2:])
	case "token":
		err = cmdToken(os.Args[2:])
	case "mcp":
		err = cmdMCP(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	case "version", "-v", "--version":
		fmt.Printf("codehub %s\n", Version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`CodeHub - AI exercise and tutorial generation

Usage:
  codehub <command> [arguments]

Setup Commands:
  init                          Initialize CodeHub (first-time setup)
  config                        Show current configuration
  provider                      Manage LLM providers
  token <subject> [ttl]         Issue a bearer token for the daemon

Daemon Commands:
  start                         Start the CodeHub daemon
  stop                          Stop the CodeHub daemon
  status                        Show daemon status
  logs                          View daemon logs

Generation Commands:
  generate <kind> <file|->      Generate an exercise or tutorial from a JSON request
  prompt <kind> <file|->        Preview the prompt a request would send
  models                        List the model catalog
  jobs submit <kind> <file|->   Queue an async generation
  jobs get <id>                 Show an async job
  history [limit]               List recent generations
  history show <id>             Show one generation with its artifact

Integration Commands:
  mcp [--http <addr>]           Start MCP server (stdio by default)

Other:
  help                          Show this help message
  version                       Show version information

Examples:
  codehub start
  echo '{"topicOrQuestion":"binary search","targetLanguage":"go","difficulty":2}' | codehub generate exercise -
  codehub prompt tutorial request.json
  codehub token ci 24h`)
}
