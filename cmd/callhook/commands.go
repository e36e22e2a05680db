package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	ltable "github.com/charmbracelet/lipgloss/table"
	"github.com/google/uuid"

	"github.com/mattjoyce/callhook/internal/config"
	"github.com/mattjoyce/callhook/internal/log"
	"github.com/mattjoyce/callhook/internal/sources"
	"github.com/mattjoyce/callhook/internal/tui/watch"
	"github.com/mattjoyce/callhook/internal/webhook"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#61AFEF")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B"))
)

// --- NOUN DISPATCHERS ---

func runSourcesNoun(args []string) int {
	if len(args) < 1 {
		printSourcesNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSourcesNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "list":
		return runSourcesList(actionArgs)
	case "describe":
		return runSourcesDescribe(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown sources action: %s\n", action)
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

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "check":
		return runConfigCheck(actionArgs)
	case "hash":
		return runConfigHash(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func printSourcesNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: callhook sources <action> [--config PATH]")
	fmt.Fprintln(w, "Actions: list [--json], describe <name>")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: callhook config <action> [--config PATH]")
	fmt.Fprintln(w, "Actions: check [--json] [--expect-hash HASH], hash")
}

// --- SOURCES ---

// loadSourceConfig loads the config at path, or the discovered one. Without
// any config file only the built-in sources are available.
func loadSourceConfig(path string) (*config.Config, error) {
	if path == "" {
		discovered, err := config.DiscoverConfigPath()
		if err != nil {
			return config.Defaults(), nil
		}
		path = discovered
	}
	return config.Load(path)
}

func loadRegistry(cfg *config.Config) (*webhook.Registry, error) {
	registry := webhook.NewRegistry(cfg.Server.NamespacePrefixes...)
	if err := sources.Load(registry, cfg); err != nil {
		return nil, err
	}
	return registry, nil
}

func runSourcesList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output node descriptors as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadSourceConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}
	registry, err := loadRegistry(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Source error: %v\n", err)
		return 1
	}

	if *jsonOut {
		descs := make([]webhook.Description, 0, registry.Len())
		for _, src := range registry.All() {
			descs = append(descs, webhook.Describe(src))
		}
		return printJSON(descs)
	}

	fmt.Println(renderSourcesTable(cfg, registry))
	return 0
}

func renderSourcesTable(cfg *config.Config, registry *webhook.Registry) string {
	defs := make(map[string]config.SourceDef)
	for _, def := range sources.Merge(sources.Builtins(), cfg.Sources) {
		defs[def.Name] = def
	}

	paths := make(map[string][]string)
	for _, ep := range cfg.Endpoints {
		name := registry.ResolveName(ep.Source)
		paths[name] = append(paths[name], ep.Path)
	}

	t := ltable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("#874BFD"))).
		Headers("SOURCE", "DISPLAY NAME", "ENDPOINTS", "STRIPS", "REQUIRES").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == ltable.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})

	for _, src := range registry.All() {
		def := defs[src.Name]
		endpoints := strings.Join(paths[src.Name], ",")
		if endpoints == "" {
			endpoints = "-"
		}
		t.Row(
			src.Name,
			src.DisplayName,
			endpoints,
			joinOrDash(def.StripFields),
			joinOrDash(def.RequiredFields),
		)
	}
	return t.String()
}

func joinOrDash(list []string) string {
	if len(list) == 0 {
		return "-"
	}
	return strings.Join(list, ",")
}

func runSourcesDescribe(args []string) int {
	fs := flag.NewFlagSet("describe", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")

	// accept the name before or after the flags
	var name string
	rest := args
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		name, rest = args[0], args[1:]
	}
	if err := fs.Parse(rest); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if name == "" && fs.NArg() > 0 {
		name = fs.Arg(0)
	}
	if name == "" {
		fmt.Fprintln(os.Stderr, "Usage: callhook sources describe <name> [--config PATH]")
		return 1
	}

	cfg, err := loadSourceConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}
	registry, err := loadRegistry(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Source error: %v\n", err)
		return 1
	}

	src, ok := registry.Lookup(registry.ResolveName(name))
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown source: %s\n", name)
		return 1
	}
	return printJSON(webhook.Describe(src))
}

// --- CONFIG ---

type checkResult struct {
	Valid       bool     `json:"valid"`
	Path        string   `json:"path,omitempty"`
	Fingerprint string   `json:"fingerprint,omitempty"`
	Sources     int      `json:"sources"`
	Endpoints   int      `json:"endpoints"`
	Errors      []string `json:"errors,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output the result as JSON")
	expectHash := fs.String("expect-hash", "", "Fail unless the config file has this BLAKE3 fingerprint")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	res := checkConfig(*configPath, *expectHash)

	if *jsonOut {
		printJSON(res)
	} else {
		printCheckSummary(res)
	}
	if !res.Valid {
		return 1
	}
	return 0
}

func checkConfig(path, expectHash string) checkResult {
	var res checkResult

	cfg, err := loadConfig(path)
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
		return res
	}
	res.Path = cfg.Path
	res.Endpoints = len(cfg.Endpoints)

	if fp, err := cfg.Fingerprint(); err == nil {
		res.Fingerprint = fp
	}
	if expectHash != "" {
		if err := config.VerifyFileHash(cfg.Path, expectHash); err != nil {
			res.Errors = append(res.Errors, err.Error())
		}
	}

	registry, err := loadRegistry(cfg)
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
		return res
	}
	res.Sources = registry.Len()

	if _, err := webhook.FromGlobalConfig(cfg); err != nil {
		res.Errors = append(res.Errors, err.Error())
	}

	for _, ep := range cfg.Endpoints {
		if _, ok := registry.Lookup(registry.ResolveName(ep.Source)); !ok {
			res.Errors = append(res.Errors, fmt.Sprintf("endpoint %s: unknown source %q", ep.Path, ep.Source))
		}
	}
	if len(cfg.Endpoints) == 0 {
		res.Warnings = append(res.Warnings, "no endpoints configured")
	}
	if cfg.Events.APIKey == "" {
		res.Warnings = append(res.Warnings, "events.api_key not set; event stream disabled")
	}

	res.Valid = len(res.Errors) == 0
	return res
}

func printCheckSummary(res checkResult) {
	if res.Path != "" {
		fmt.Printf("Config: %s\n", res.Path)
	}
	if res.Fingerprint != "" {
		fmt.Printf("Fingerprint: %s\n", res.Fingerprint)
	}
	fmt.Printf("Sources: %d  Endpoints: %d\n", res.Sources, res.Endpoints)
	for _, w := range res.Warnings {
		fmt.Println(warnStyle.Render("WARN  " + w))
	}
	for _, e := range res.Errors {
		fmt.Println(failStyle.Render("ERROR " + e))
	}
	if res.Valid {
		fmt.Println(okStyle.Render("Status: Configuration check PASSED."))
	} else {
		fmt.Println(failStyle.Render("Status: Configuration check FAILED."))
	}
}

func runConfigHash(args []string) int {
	fs := flag.NewFlagSet("hash", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}
	fp, err := cfg.Fingerprint()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Hash error: %v\n", err)
		return 1
	}
	fmt.Println(fp)
	return 0
}

// --- DISPATCH ---

type headerFlags []string

func (h *headerFlags) String() string { return strings.Join(*h, ",") }

func (h *headerFlags) Set(v string) error {
	if !strings.Contains(v, "=") {
		return fmt.Errorf("header %q must be K=V", v)
	}
	*h = append(*h, v)
	return nil
}

func runDispatch(args []string) int {
	var headers headerFlags
	fs := flag.NewFlagSet("dispatch", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file (built-in sources only when empty)")
	source := fs.String("source", "", "Source name or runtime type (e.g. CUSTOM.AdCallsHook)")
	payload := fs.String("payload", "-", "Payload file, - for stdin")
	rawBody := fs.Bool("raw-body", false, "Attach _rawBody to every event")
	withHeaders := fs.Bool("headers", false, "Attach _headers to every event")
	fs.Var(&headers, "header", "Extra request header K=V (repeatable)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if *source == "" {
		printDispatchHelp()
		return 1
	}

	cfg := config.Defaults()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
			return 1
		}
		cfg = loaded
	}

	registry, err := loadRegistry(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Source error: %v\n", err)
		return 1
	}

	body, err := readPayload(*payload, os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Payload error: %v\n", err)
		return 1
	}

	// A one-off secret satisfies verification so validate and transform run.
	secret := uuid.NewString()
	req := webhook.InboundRequest{
		Headers: webhook.Headers{webhook.DefaultSecretHeader: {secret}},
		Body:    body,
	}
	for _, kv := range headers {
		k, v, _ := strings.Cut(kv, "=")
		req.Headers[k] = append(req.Headers[k], v)
	}
	params := webhook.Params{
		Secret: secret,
		Path:   "dispatch",
		Options: webhook.Options{
			IncludeRawBody: *rawBody,
			IncludeHeaders: *withHeaders,
		},
	}

	dispatcher := webhook.NewDispatcher(registry, log.New(os.Stderr, "warn", "text"))
	res, err := dispatcher.Dispatch(context.Background(), *source, params, req)
	if err != nil {
		var terr *webhook.TransformError
		switch {
		case errors.Is(err, webhook.ErrMissingConfig):
			fmt.Fprintf(os.Stderr, "Unknown source: %s (known: %s)\n", *source, strings.Join(registry.Names(), ", "))
		case errors.As(err, &terr):
			fmt.Fprintf(os.Stderr, "Transform failed: %v\n", terr.Err)
		default:
			fmt.Fprintf(os.Stderr, "Dispatch failed: %v\n", err)
		}
		return 1
	}

	if code := printJSON(res); code != 0 {
		return code
	}
	if res.Response.Status != webhook.StatusAccepted {
		return 2
	}
	return 0
}

func readPayload(path string, stdin io.Reader) ([]byte, error) {
	var data []byte
	var err error
	if path == "" || path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return []byte("{}"), nil
	}
	return data, nil
}

// --- WATCH ---

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	apiURL := fs.String("api-url", envOr("CALLHOOK_API_URL", "http://127.0.0.1:8081/api"), "Admin API base URL")
	apiKey := fs.String("api-key", os.Getenv("CALLHOOK_API_KEY"), "Admin API key")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if *apiKey == "" {
		fmt.Fprintln(os.Stderr, "An API key is required (--api-key or $CALLHOOK_API_KEY)")
		return 1
	}

	if err := watch.Run(watch.NewClient(*apiURL, *apiKey)); err != nil {
		fmt.Fprintf(os.Stderr, "Watch error: %v\n", err)
		return 1
	}
	return 0
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printJSON(v any) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
		return 1
	}
	fmt.Println(string(data))
	return 0
}
