// ABOUTME: Entry point for the coagent-demo server
// ABOUTME: Serves the demo page and relays chat runs to the remote agent

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/coagent-demo/internal/config"
	"github.com/2389/coagent-demo/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                                   _          _
  ___ ___   __ _  __ _  ___ _ __ | |_     __| | ___ _ __ ___   ___
 / __/ _ \ / _' |/ _' |/ _ \ '_ \| __|__ / _' |/ _ \ '_ ' _ \ / _ \
| (_| (_) | (_| | (_| |  __/ | | | ||___| (_| |  __/ | | | | | (_) |
 \___\___/ \__,_|\__, |\___|_| |_|\__|   \__,_|\___|_| |_| |_|\___/
                 |___/
`

// getConfigPath returns the path to the demo config file.
// Priority: COAGENT_CONFIG env var > XDG_CONFIG_HOME/coagent/demo.yaml > ~/.config/coagent/demo.yaml
func getConfigPath() string {
	if envPath := os.Getenv("COAGENT_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "demo.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "coagent", "demo.yaml")
}

// getDataPath returns the path to the coagent data directory.
// Priority: XDG_DATA_HOME/coagent > ~/.local/share/coagent
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "coagent")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: coagent-demo <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve    Start the demo server")
		fmt.Println("  init     Create a new config file interactively")
		fmt.Println("  health   Check server and remote agent health")
		fmt.Println("  state    Print the latest shared agent state")
		fmt.Println("  journal  Print journaled interrupt decisions and action calls")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit(os.Stdin, os.Stdout)
	case "health":
		err = runHealth(ctx)
	case "state":
		err = runState(ctx, os.Stdout)
	case "journal":
		err = runJournal(ctx, os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, string, error) {
	configPath := getConfigPath()
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, configPath, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, configPath, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, configPath, nil
}

func runServe(ctx context.Context) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s", configPath)
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		gray.Print(" (defaults)")
	}
	fmt.Println()
	green.Print("    ▶ ")
	fmt.Printf("Page:      http://%s/\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Endpoint:  %s -> %s\n", cfg.Runtime.Endpoint, cfg.RemoteURL())
	green.Print("    ▶ ")
	fmt.Printf("Agent:     ")
	cyan.Print(cfg.Shell.Agent)
	gray.Printf(" (%s)", cfg.Shell.Mode)
	fmt.Println()
	if cfg.Database.Path != "" {
		green.Print("    ▶ ")
		fmt.Printf("Journal:   %s\n", cfg.Database.Path)
	}
	if cfg.Metrics.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Metrics:   ")
		yellow.Println(cfg.Metrics.Path)
	}

	fmt.Println()

	logger.Info("starting coagent-demo",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"remote", cfg.RemoteURL(),
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func get(ctx context.Context, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	return http.DefaultClient.Do(req)
}

func runHealth(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	resp, err := get(ctx, fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr))
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	fmt.Println("healthy")

	resp, err = get(ctx, fmt.Sprintf("http://%s/health/ready", cfg.Server.HTTPAddr))
	if err != nil {
		return fmt.Errorf("readiness check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	fmt.Println(string(body))
	return nil
}

func runState(ctx context.Context, out io.Writer) error {
	return printShellJSON(ctx, out, "state")
}

func runJournal(ctx context.Context, out io.Writer) error {
	return printShellJSON(ctx, out, "journal")
}

// printShellJSON fetches /shell/<what>, scoped to the session named on the
// command line if any, and pretty-prints the JSON body.
func printShellJSON(ctx context.Context, out io.Writer, what string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	var session string
	if len(os.Args) > 2 {
		session = os.Args[2]
	}
	return fetchJSON(ctx, out, shellURL(cfg.Server.HTTPAddr, what, session), what)
}

func shellURL(addr, what, session string) string {
	u := fmt.Sprintf("http://%s/shell/%s", addr, what)
	if session != "" {
		u += "?session=" + url.QueryEscape(session)
	}
	return u
}

func fetchJSON(ctx context.Context, out io.Writer, target, what string) error {
	resp, err := get(ctx, target)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", what, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s unavailable: status %d: %s", what, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err != nil {
		return fmt.Errorf("decoding %s: %w", what, err)
	}
	_, err = fmt.Fprintln(out, pretty.String())
	return err
}

// runInit writes a config file populated from prompts, defaulting every
// answer to the built-in configuration.
func runInit(in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)
	def := config.Default()

	fmt.Fprintln(out, "coagent-demo configuration setup")
	fmt.Fprintln(out, "================================")
	fmt.Fprintln(out)

	outputFile := prompt(reader, out, "Config file path", getConfigPath())

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, out, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	fmt.Fprintln(out, "\n--- Server Configuration ---")
	httpAddr := prompt(reader, out, "HTTP address", def.Server.HTTPAddr)

	fmt.Fprintln(out, "\n--- Runtime Configuration ---")
	endpoint := prompt(reader, out, "Endpoint path", def.Runtime.Endpoint)
	remoteURL := prompt(reader, out, "Remote agent URL", def.RemoteURL())

	fmt.Fprintln(out, "\n--- Chat Panel ---")
	mode := prompt(reader, out, "Mode (sidebar/popup)", def.Shell.Mode)
	title := prompt(reader, out, "Title", def.Shell.Labels.Title)

	fmt.Fprintln(out, "\n--- Journal ---")
	enableJournal := prompt(reader, out, "Record state snapshots in SQLite?", "no")
	var dbPath string
	if strings.ToLower(enableJournal) == "yes" || strings.ToLower(enableJournal) == "y" {
		dbPath = prompt(reader, out, "SQLite database path", filepath.Join(getDataPath(), "demo.db"))
	}

	fmt.Fprintln(out, "\n--- Logging Configuration ---")
	logLevel := prompt(reader, out, "Log level (debug/info/warn/error)", def.Logging.Level)
	logFormat := prompt(reader, out, "Log format (text/json)", def.Logging.Format)

	var cfg strings.Builder
	cfg.WriteString("# coagent-demo configuration\n")
	cfg.WriteString("# Generated by coagent-demo init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: %q\n", httpAddr))
	cfg.WriteString("\n")

	cfg.WriteString("runtime:\n")
	cfg.WriteString(fmt.Sprintf("  endpoint: %q\n", endpoint))
	cfg.WriteString("  remote_endpoints:\n")
	cfg.WriteString(fmt.Sprintf("    - url: %q\n", remoteURL))
	cfg.WriteString(fmt.Sprintf("  service_adapter: %q\n", config.AdapterEmpty))
	cfg.WriteString("\n")

	cfg.WriteString("shell:\n")
	cfg.WriteString(fmt.Sprintf("  agent: %q\n", def.Shell.Agent))
	cfg.WriteString(fmt.Sprintf("  mode: %q\n", mode))
	cfg.WriteString(fmt.Sprintf("  default_open: %t\n", def.Shell.DefaultOpen))
	cfg.WriteString("  labels:\n")
	cfg.WriteString(fmt.Sprintf("    title: %q\n", title))
	cfg.WriteString(fmt.Sprintf("  history_variant: %q\n", def.Shell.HistoryVariant))
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: %q\n", dbPath))
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: %q\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: %q\n", logFormat))
	cfg.WriteString("\n")

	cfg.WriteString("metrics:\n")
	cfg.WriteString("  enabled: false\n")
	cfg.WriteString(fmt.Sprintf("  path: %q\n", def.Metrics.Path))

	// Reject answers that would not load
	if err := validateGenerated(cfg.String()); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	if dbPath != "" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
	}

	fmt.Fprintf(out, "\nConfig written to %s\n", outputFile)
	fmt.Fprintln(out, "\nTo start the server:")
	fmt.Fprintln(out, "  coagent-demo serve")

	return nil
}

// validateGenerated loads content through the regular config path.
func validateGenerated(content string) error {
	f, err := os.CreateTemp("", "coagent-demo-*.yaml")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(f.Name())

	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}

	if _, err := config.Load(f.Name()); err != nil {
		return fmt.Errorf("generated config is invalid: %w", err)
	}
	return nil
}

func prompt(reader *bufio.Reader, out io.Writer, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "%s [%s]: ", question, defaultVal)
	} else {
		fmt.Fprintf(out, "%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Fprintln(out)
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
