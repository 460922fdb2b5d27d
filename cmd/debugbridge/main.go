package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"time"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	// --- NOUNS ---
	case "system":
		return runSystemNoun(args)
	case "config":
		return runConfigNoun(args)
	case "runs":
		return runRunsNoun(args)

	// --- ROOT ALIASES ---
	case "start":
		return runStart(args)
	case "watch":
		if hasHelpFlag(args) {
			printSystemWatchHelp()
			return 0
		}
		return runWatch(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: debugbridge version [--json]")
		return 1
	}

	info := currentVersionInfo()
	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("debugbridge %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if commit != "" {
		info.Commit = shortenCommit(commit)
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if t, err := time.Parse(time.RFC3339Nano, built); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}
	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func printUsage() {
	fmt.Print(`debugbridge - run and debug one workspace program for a remote IDE client

Usage:
  debugbridge <noun> <action> [flags]

Core Resources (Nouns):
  system    Bridge lifecycle and health
  config    Configuration and integrity
  runs      Launch history from the run log

System Commands:
  system start      Start the bridge in the foreground
  system status     Check config, database and PID lock
  system watch      Real-time monitoring TUI

Config Commands:
  config check      Validate syntax, values and integrity
  config lock       Record the config hash in .checksums
  config show       Print the effective configuration
  config get        Read one value by dot path
  config set        Change one value by dot path

Runs Commands:
  runs list         Show recent launches

General:
  version           Show version information
  help              Show this help message

Use 'debugbridge <noun> help' for resource-specific flags.
`)
}

// --- NOUN DISPATCHERS ---

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSystemNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			printSystemStartHelp()
			return 0
		}
		return runStart(actionArgs)
	case "status":
		if hasHelpFlag(actionArgs) {
			printSystemStatusHelp()
			return 0
		}
		return runSystemStatus(actionArgs)
	case "watch":
		if hasHelpFlag(actionArgs) {
			printSystemWatchHelp()
			return 0
		}
		return runWatch(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "lock":
		if hasHelpFlag(actionArgs) {
			printConfigLockHelp()
			return 0
		}
		return runConfigLock(actionArgs)
	case "show":
		if hasHelpFlag(actionArgs) {
			printConfigShowHelp()
			return 0
		}
		return runConfigShow(actionArgs)
	case "get":
		if hasHelpFlag(actionArgs) {
			printConfigGetHelp()
			return 0
		}
		return runConfigGet(actionArgs)
	case "set":
		if hasHelpFlag(actionArgs) {
			printConfigSetHelp()
			return 0
		}
		return runConfigSet(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func runRunsNoun(args []string) int {
	if len(args) < 1 {
		printRunsNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printRunsNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "list":
		if hasHelpFlag(actionArgs) {
			printRunsListHelp()
			return 0
		}
		return runRunsList(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown runs action: %s\n", action)
		return 1
	}
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printSystemNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: debugbridge system <action>")
	fmt.Fprintln(w, "Actions: start, status, watch")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: debugbridge config <action> [flags]")
	fmt.Fprintln(w, "Actions: check, lock, show, get, set")
}

func printRunsNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: debugbridge runs <action> [flags]")
	fmt.Fprintln(w, "Actions: list")
}

func printSystemStartHelp() {
	fmt.Println("Usage: debugbridge system start [--config PATH]")
	fmt.Println("Start the bridge in the foreground. The client connects to /ws.")
}

func printSystemStatusHelp() {
	fmt.Println("Usage: debugbridge system status [--config PATH] [--json]")
	fmt.Println("Check configuration, database readiness and PID lock state.")
	fmt.Println("")
	fmt.Println("Exit codes:")
	fmt.Println("  0  All required checks passed")
	fmt.Println("  1  One or more checks failed")
}

func printSystemWatchHelp() {
	fmt.Println("Usage: debugbridge system watch [flags]")
	fmt.Println()
	fmt.Println("Real-time monitoring TUI: session state, debugger bridges, runs and events.")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --api-url URL    Bridge API URL (default: http://127.0.0.1:8090)")
	fmt.Println("  --api-key KEY    API Bearer Token (or DEBUGBRIDGE_API_KEY env var)")
	fmt.Println()
	fmt.Println("Keybindings:")
	fmt.Println("  q, Ctrl+C        Quit")
	fmt.Println("  r                Refresh status and runs")
	fmt.Println("  ↑/↓, k/j         Scroll runs")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: debugbridge config check [--config PATH] [--json]")
	fmt.Println("Validate configuration syntax, values and integrity.")
}

func printConfigLockHelp() {
	fmt.Println("Usage: debugbridge config lock [--config PATH] [-v|--verbose] [--dry-run]")
	fmt.Println("Record the BLAKE3 hash of the config file in .checksums next to it.")
}

func printConfigShowHelp() {
	fmt.Println("Usage: debugbridge config show [path] [--config PATH] [--json]")
	fmt.Println("Print the effective configuration, or the subtree at path.")
}

func printConfigGetHelp() {
	fmt.Println("Usage: debugbridge config get <path> [--config PATH] [--json]")
	fmt.Println("Read one value, e.g. runtime.node_debug_port.")
}

func printConfigSetHelp() {
	fmt.Println("Usage: debugbridge config set <path>=<value> [--config PATH] (--dry-run | --apply)")
	fmt.Println("Change one value. --apply validates, writes and re-locks the file.")
}

func printRunsListHelp() {
	fmt.Println("Usage: debugbridge runs list [--config PATH] [--limit N] [--json]")
	fmt.Println("Show recent launches, newest first.")
}
