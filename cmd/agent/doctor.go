package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"agent-zero/internal/adapter/llm"
	"agent-zero/internal/infra/config"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(cfg *config.Config) CheckResult
}

// keyless providers run locally and accept any key.
var keyless = map[string]bool{"ollama": true, "lm_studio": true}

func runDoctor() error {
	cfgPath := configPath()
	cfg, cfgErr := config.Load(cfgPath)

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(cfgPath, cfgErr)},
		{Name: "Models", Fn: checkModels},
		{Name: "API keys", Fn: checkAPIKeys(os.Getenv)},
		{Name: "Model endpoints", Fn: checkModelEndpoints},
		{Name: "Memory backend", Fn: checkMemoryBackend},
		{Name: "Prompts", Fn: checkPrompts},
		{Name: "Transcripts", Fn: checkTranscripts},
		{Name: "Disk space", Fn: checkDiskSpace},
		{Name: "Network", Fn: checkNetwork},
	}
	return doctor(os.Stdout, cfg, checks)
}

// doctor runs checks against cfg and prints a report to out.
func doctor(out io.Writer, cfg *config.Config, checks []Check) error {
	fmt.Fprintln(out, "agent-zero doctor")
	fmt.Fprintln(out, strings.Repeat("=", 50))
	fmt.Fprintln(out)

	var pass, warn, fail int
	for _, check := range checks {
		result := check.Fn(cfg)
		result.Name = check.Name

		fmt.Fprintf(out, "  %s %s: %s\n", statusIcon(result.Status), result.Name, result.Message)
		if result.Fix != "" {
			fmt.Fprintf(out, "      Fix: %s\n", result.Fix)
		}

		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, strings.Repeat("-", 50))
	fmt.Fprintf(out, "Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)

	if fail > 0 {
		fmt.Fprintln(out, "\nFix the FAIL issues above before starting agent-zero.")
		return fmt.Errorf("%d check(s) failed", fail)
	}
	if warn > 0 {
		fmt.Fprintln(out, "\nagent-zero should work, but consider addressing the warnings.")
	} else {
		fmt.Fprintln(out, "\nAll checks passed! agent-zero is ready to run.")
	}
	return nil
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return "[PASS]"
	case StatusWarn:
		return "[WARN]"
	case StatusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}

var notLoaded = CheckResult{Status: StatusFail, Message: "cannot check, config not loaded"}

// checkConfigFile returns a check that verifies the config file parses.
// A missing file is only a warning: the defaults apply.
func checkConfigFile(cfgPath string, cfgErr error) func(*config.Config) CheckResult {
	return func(_ *config.Config) CheckResult {
		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config error: %v", cfgErr),
				Fix:     fmt.Sprintf("Check the syntax and values in %s", cfgPath),
			}
		}
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("no config file at %s, using defaults", cfgPath),
				Fix:     "Create config.yaml or pass --config PATH",
			}
		}
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("config loaded from %s", cfgPath),
		}
	}
}

// usedModels returns the chat and utility model entries, or an error
// naming the first reference that does not resolve.
func usedModels(cfg *config.Config) ([]config.ModelConfig, error) {
	var out []config.ModelConfig
	for _, ref := range []string{cfg.LLM.ChatModel, cfg.LLM.UtilityModel} {
		m, ok := cfg.FindModel(ref)
		if !ok {
			return nil, fmt.Errorf("model %q is not defined under llm.models", ref)
		}
		if _, err := llm.LookupProvider(m.Provider); err != nil {
			return nil, fmt.Errorf("model %q: unknown provider %q", ref, m.Provider)
		}
		out = append(out, m)
	}
	return out, nil
}

// checkModels verifies the chat and utility models resolve to known providers.
func checkModels(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}
	models, err := usedModels(cfg)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: err.Error(),
			Fix:     "Point llm.chat_model and llm.utility_model at entries in llm.models",
		}
	}
	return CheckResult{
		Status: StatusPass,
		Message: fmt.Sprintf("chat %s/%s, utility %s/%s",
			models[0].Provider, models[0].Model, models[1].Provider, models[1].Model),
	}
}

// checkAPIKeys returns a check that every used model has a usable key.
func checkAPIKeys(getenv func(string) string) func(*config.Config) CheckResult {
	return func(cfg *config.Config) CheckResult {
		if cfg == nil {
			return notLoaded
		}
		models, err := usedModels(cfg)
		if err != nil {
			return CheckResult{Status: StatusWarn, Message: "skipped, models do not resolve"}
		}

		var missing []string
		for _, m := range models {
			if keyless[strings.ToLower(m.Provider)] {
				continue
			}
			if llm.ResolveAPIKey(m.APIKey, m.Provider, getenv) == "" {
				missing = append(missing, m.Name+" ("+m.Provider+")")
			}
		}
		if len(missing) > 0 {
			p := strings.ToUpper(models[0].Provider)
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("no API key for: %s", strings.Join(missing, ", ")),
				Fix:     fmt.Sprintf("Set api_key in config or export API_KEY_%s / %s_API_KEY", p, p),
			}
		}
		return CheckResult{Status: StatusPass, Message: "API keys found for all used models"}
	}
}

// modelEndpoint returns the URL probed for m, or "" for native SDK providers.
func modelEndpoint(m config.ModelConfig) string {
	if m.BaseURL != "" {
		return strings.TrimRight(m.BaseURL, "/") + "/models"
	}
	spec, err := llm.LookupProvider(m.Provider)
	if err != nil || spec.BaseURL == "" {
		return ""
	}
	return spec.BaseURL + "/models"
}

// checkModelEndpoints probes the OpenAI-compatible endpoints of used models.
func checkModelEndpoints(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}
	models, err := usedModels(cfg)
	if err != nil {
		return CheckResult{Status: StatusWarn, Message: "skipped, models do not resolve"}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	seen := make(map[string]bool)
	var reached []string
	for _, m := range models {
		endpoint := modelEndpoint(m)
		if endpoint == "" || seen[endpoint] {
			continue
		}
		seen[endpoint] = true

		start := time.Now()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return CheckResult{Status: StatusFail, Message: fmt.Sprintf("invalid endpoint %s: %v", endpoint, err)}
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("cannot reach %s: %v", endpoint, err),
				Fix:     "Check base_url, your connection and firewall settings",
			}
		}
		resp.Body.Close()
		reached = append(reached, fmt.Sprintf("%s (%dms)", m.Provider, time.Since(start).Milliseconds()))
	}

	if len(reached) == 0 {
		return CheckResult{Status: StatusPass, Message: "no HTTP endpoints to probe"}
	}
	return CheckResult{Status: StatusPass, Message: "reachable: " + strings.Join(reached, ", ")}
}

// checkWritableDir verifies dir exists (creating it if needed) and accepts writes.
func checkWritableDir(dir, what string) CheckResult {
	absDir, _ := filepath.Abs(dir)

	info, err := os.Stat(absDir)
	if os.IsNotExist(err) {
		if mkErr := os.MkdirAll(absDir, 0o755); mkErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("%s directory %s cannot be created: %v", what, absDir, mkErr),
				Fix:     fmt.Sprintf("Create the directory: mkdir -p %s", absDir),
			}
		}
		return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%s directory created at %s", what, absDir)}
	}
	if err != nil {
		return CheckResult{Status: StatusFail, Message: fmt.Sprintf("cannot stat %s directory: %v", what, err)}
	}
	if !info.IsDir() {
		return CheckResult{Status: StatusFail, Message: fmt.Sprintf("%s exists but is not a directory", absDir)}
	}

	testFile := filepath.Join(absDir, ".doctor-check")
	if err := os.WriteFile(testFile, []byte("ok"), 0o644); err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("%s directory %s is not writable: %v", what, absDir, err),
			Fix:     fmt.Sprintf("Fix permissions: chmod 755 %s", absDir),
		}
	}
	os.Remove(testFile)

	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%s directory %s writable", what, absDir)}
}

// checkMemoryBackend verifies the memory data directory for persistent backends.
func checkMemoryBackend(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}
	provider := cfg.Memory.Provider
	if provider == "none" || provider == "" {
		return CheckResult{Status: StatusPass, Message: "memory disabled"}
	}
	if provider == "chromem" && cfg.Memory.Chromem.PersistPath == "" && cfg.Memory.DataDir == "" {
		return CheckResult{Status: StatusWarn, Message: "chromem runs in memory only, nothing is persisted"}
	}
	r := checkWritableDir(cfg.Memory.DataDir, "memory")
	r.Message += " (provider: " + provider + ")"
	return r
}

// checkPrompts verifies the prompt override directory when one is configured.
func checkPrompts(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}
	if cfg.Prompts.Dir == "" {
		return CheckResult{Status: StatusPass, Message: "using built-in prompts"}
	}
	entries, err := os.ReadDir(cfg.Prompts.Dir)
	if err != nil {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("cannot read prompts dir %s: %v", cfg.Prompts.Dir, err),
			Fix:     "Fix prompts.dir or remove it to use the built-in prompts",
		}
	}
	var n int
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".md") {
			n++
		}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%d prompt override(s) in %s", n, cfg.Prompts.Dir)}
}

// checkTranscripts verifies the session transcript directory.
func checkTranscripts(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}
	if cfg.Sessions.TranscriptDir == "" {
		return CheckResult{Status: StatusPass, Message: "transcripts disabled"}
	}
	return checkWritableDir(cfg.Sessions.TranscriptDir, "transcript")
}

// checkDiskSpace checks available disk space in the data directory.
func checkDiskSpace(cfg *config.Config) CheckResult {
	dataDir := "./data"
	if cfg != nil && cfg.Memory.DataDir != "" {
		dataDir = cfg.Memory.DataDir
	}
	absDir, _ := filepath.Abs(dataDir)

	info, err := os.Stat(absDir)
	if err != nil || !info.IsDir() {
		return CheckResult{Status: StatusPass, Message: "data directory does not exist yet, space check skipped"}
	}

	out, err := exec.Command("df", "-h", absDir).Output()
	if err != nil {
		return CheckResult{Status: StatusWarn, Message: "could not determine disk space (df command failed)"}
	}
	return parseDF(string(out))
}

// parseDF interprets the last line of `df -h` output.
func parseDF(out string) CheckResult {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) < 2 {
		return CheckResult{Status: StatusWarn, Message: "unexpected df output format"}
	}
	fields := strings.Fields(lines[len(lines)-1])
	if len(fields) < 5 {
		return CheckResult{Status: StatusWarn, Message: "unexpected df output format"}
	}

	available, usePercent := fields[3], fields[4]
	var pct int
	fmt.Sscanf(strings.TrimSuffix(usePercent, "%"), "%d", &pct)

	switch {
	case pct >= 95:
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("disk almost full: %s used, %s available", usePercent, available),
			Fix:     "Free up disk space or move memory.data_dir to another partition",
		}
	case pct >= 85:
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("disk usage high: %s used, %s available", usePercent, available),
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("disk usage: %s used, %s available", usePercent, available),
	}
}

// checkNetwork verifies basic internet connectivity.
func checkNetwork(_ *config.Config) CheckResult {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var d net.Dialer
	for _, addr := range []string{"1.1.1.1:443", "8.8.8.8:443"} {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			conn.Close()
			return CheckResult{Status: StatusPass, Message: "internet connectivity OK"}
		}
	}
	return CheckResult{
		Status:  StatusWarn,
		Message: "no internet connectivity detected",
		Fix:     "Local providers still work; hosted models need network access",
	}
}
