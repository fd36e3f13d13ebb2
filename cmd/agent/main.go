package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"agent-zero/internal/infra/config"
	"agent-zero/internal/infra/logger"
	"agent-zero/internal/infra/tracer"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		}
	}

	// .env values never override variables already set in the environment.
	if err := loadEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}

	if len(os.Args) < 2 || strings.HasPrefix(os.Args[1], "-") {
		if err := run(); err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
		return
	}

	switch os.Args[1] {
	case "doctor":
		if err := runDoctor(); err != nil {
			fmt.Fprintf(os.Stderr, "doctor: %v\n", err)
			os.Exit(1)
		}
	case "encrypt":
		if err := runEncrypt(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "encrypt: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'agent-zero --help' for usage information.\n", os.Args[1])
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`agent-zero - hierarchical LLM agent runtime

USAGE:
    agent-zero [COMMAND] [FLAGS]

COMMANDS:
    doctor      Run health checks on your setup
    encrypt     Encrypt a secret for use as an enc: config value
                (reads the value from stdin, key from AGENTZERO_MASTER_KEY)

    (no command) - Start an interactive session

FLAGS:
    -h, --help         Show this help message
    --config PATH      Config file path (default: ./config.yaml)
    --env PATH         .env file path (default: .env beside the config)

CONFIGURATION:
    Config file: ./config.yaml
    Environment: AGENTZERO_* variables override config
    API keys:    API_KEY_<PROVIDER>, <PROVIDER>_API_KEY or config api_key`)
}

func run() error {
	// 1. Config
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// 2. Logger & Tracer
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(context.WithoutCancel(ctx))

	// 3. Models
	models, err := initLLM(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("llm: %w", err)
	}

	// 4. Memory
	mem, memCloser, err := initMemory(ctx, cfg.Memory, log)
	if err != nil {
		return fmt.Errorf("memory: %w", err)
	}
	defer memCloser()

	// 5. Agents and sessions
	rt, err := initAgent(cfg, models, mem, log)
	if err != nil {
		return fmt.Errorf("agent: %w", err)
	}
	defer rt.Close()

	if cfg.Sessions.MaxIdle > 0 {
		go rt.Sessions.RunReaper(ctx, reapInterval(cfg.Sessions.MaxIdle), cfg.Sessions.MaxIdle)
	}

	log.Info("agent-zero starting",
		"chat_model", cfg.LLM.ChatModel,
		"utility_model", cfg.LLM.UtilityModel,
		"memory", mem.Name(),
		"tools", len(rt.Tools.List()),
		"recall", cfg.Agent.Recall.Enabled,
	)

	return runREPL(ctx, rt, os.Stdin, os.Stdout)
}

// reapInterval checks for idle sessions a few times per idle period.
func reapInterval(maxIdle time.Duration) time.Duration {
	return max(maxIdle/4, time.Minute)
}

func configPath() string {
	if p := flagValue("--config"); p != "" {
		return p
	}
	if p := os.Getenv("AGENTZERO_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

// loadEnv loads --env when given, otherwise the .env next to the config
// file and the working-directory defaults.
func loadEnv() error {
	if p := flagValue("--env"); p != "" {
		return config.LoadDotEnv(p)
	}
	return config.LoadDotEnvForConfig(configPath())
}

// flagValue returns the value of --name or --name=value from os.Args.
func flagValue(name string) string {
	for i, arg := range os.Args {
		if arg == name && i+1 < len(os.Args) {
			return os.Args[i+1]
		}
		if v, ok := strings.CutPrefix(arg, name+"="); ok {
			return v
		}
	}
	return ""
}
