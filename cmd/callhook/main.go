package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/mattjoyce/callhook/internal/config"
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
	case "sources":
		return runSourcesNoun(args)
	case "config":
		return runConfigNoun(args)

	// --- VERBS ---
	case "serve", "start":
		if hasHelpFlag(args) {
			printServeHelp()
			return 0
		}
		return runServe(args)
	case "dispatch":
		if hasHelpFlag(args) {
			printDispatchHelp()
			return 0
		}
		return runDispatch(args)
	case "watch":
		if hasHelpFlag(args) {
			printWatchHelp()
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
		fmt.Fprintln(os.Stderr, "Usage: callhook version [--json]")
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

	fmt.Printf("callhook %s\n", info.Version)
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
		if len(commit) > 12 {
			commit = commit[:12]
		}
		info.Commit = commit
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

// resolveConfigPath returns path, or the discovered config when path is empty.
func resolveConfigPath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	discovered, err := config.DiscoverConfigPath()
	if err != nil {
		return "", err
	}
	fmt.Fprintf(os.Stderr, "Using discovered config: %s\n", discovered)
	return discovered, nil
}

func loadConfig(path string) (*config.Config, error) {
	resolved, err := resolveConfigPath(path)
	if err != nil {
		return nil, err
	}
	return config.Load(resolved)
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

func printUsage() {
	fmt.Print(`callhook - Configuration-driven webhook receiver

Usage:
  callhook <command> [flags]
  callhook <noun> <action> [flags]

Commands:
  serve             Start the webhook receiver in the foreground
  dispatch          Run one payload through a source offline
  watch             Live event monitor TUI

Sources:
  sources list      Show registered sources
  sources describe  Show the node descriptor of a source

Config:
  config check      Validate configuration
  config hash       Print the BLAKE3 fingerprint of the config file

General:
  version           Show version information
  help              Show this help message

Use 'callhook <noun> help' for resource-specific flags.
`)
}

func printServeHelp() {
	fmt.Println("Usage: callhook serve [--config PATH] [--pid-file PATH]")
	fmt.Println("Start the webhook receiver. SIGHUP reloads sources and endpoints.")
}

func printDispatchHelp() {
	fmt.Println("Usage: callhook dispatch --source NAME [--payload FILE] [--config PATH] [--raw-body] [--headers] [--header K=V]...")
	fmt.Println("Run a payload (stdin when --payload is - or omitted) through the full pipeline and print the result as JSON.")
}

func printWatchHelp() {
	fmt.Println("Usage: callhook watch [--api-url URL] [--api-key KEY]")
	fmt.Println("Launch the live event monitor. Defaults come from $CALLHOOK_API_URL and $CALLHOOK_API_KEY.")
}
