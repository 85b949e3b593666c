package main

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/kwalsh/dd1750-assistant/internal/form"
	"github.com/kwalsh/dd1750-assistant/internal/ledger"
	"github.com/kwalsh/dd1750-assistant/internal/packing"
	"github.com/kwalsh/dd1750-assistant/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("dd1750-assistant")
	var (
		port            = fs.IntLong("port", 8080, "HTTP server port")
		dbPath          = fs.StringLong("db", "dd1750-assistant.db", "Database file path")
		storagePath     = fs.StringLong("storage", "./documents", "Storage directory path")
		templatePath    = fs.StringLong("template", "dd1750_template.pdf", "Blank DD Form 1750 template PDF")
		scannerType     = fs.StringLong("scanner", "gemini", "Scanner type: 'gemini' or 'ollama'")
		geminiKey       = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel     = fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		ollamaURL       = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel     = fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, llava-phi3, bakllava, qwen2-vl)")
		freeExtractions = fs.IntLong("free-extractions", 3, "Free extractions granted to each new session")
		repeatHeader    = fs.BoolLong("repeat-header", "Repeat header fields on continuation pages")
		adminUser       = fs.StringLong("admin-user", "", "Basic auth username for admin code routes (optional)")
		adminPass       = fs.StringLong("admin-pass", "", "Basic auth password for admin code routes (optional)")
		genCodes        = fs.IntLong("gen-codes", 0, "Generate N access codes, print them, and exit")
		genCredits      = fs.IntLong("gen-credits", 10, "Credits per generated access code")
		showVersion     = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("DD1750_ASSISTANT"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	// Initialize the ledger store
	slog.Info("Initializing database...")
	store, err := ledger.NewBoltStore(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	creditLedger := ledger.NewLedger(store, *freeExtractions)

	// Code generation mode: mint codes and exit without starting the server
	if *genCodes > 0 {
		codes, err := creditLedger.GenerateCodes(*genCodes, *genCredits)
		if err != nil {
			slog.Error("Failed to generate access codes", "error", err)
			os.Exit(1)
		}
		for _, c := range codes {
			fmt.Println(c.Code)
		}
		return
	}

	// Initialize scanner based on type
	var scanner scanning.Scanner
	switch *scannerType {
	case "gemini":
		// Get Gemini API key from flag or environment
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini scanner...", "model", *geminiModel)
		scanner, err = scanning.NewGemini(apiKey, *geminiModel)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
	case "ollama":
		slog.Info("Initializing Ollama scanner...", "url", *ollamaURL, "model", *ollamaModel)
		scanner, err = scanning.NewOllama(*ollamaURL, *ollamaModel)
		if err != nil {
			slog.Error("Failed to initialize Ollama", "error", err)
			os.Exit(1)
		}
	default:
		slog.Error("Invalid scanner type", "type", *scannerType, "valid", "gemini or ollama")
		os.Exit(1)
	}
	defer scanner.Close()

	// Initialize the form renderer from the blank template
	slog.Info("Loading form template...", "path", *templatePath)
	template, err := os.ReadFile(*templatePath)
	if err != nil {
		slog.Error("Failed to read form template", "path", *templatePath, "error", err)
		os.Exit(1)
	}
	renderer, err := form.NewRenderer(template, form.Options{
		RepeatHeaderOnContinuation: *repeatHeader,
	})
	if err != nil {
		slog.Error("Failed to initialize form renderer", "error", err)
		os.Exit(1)
	}

	// Initialize storage
	slog.Info("Initializing storage...")
	documentStorage, err := packing.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	// Initialize service
	packingService := packing.NewService(creditLedger, scanner, renderer, documentStorage)

	// Initialize server
	adminAuth := packing.AdminAuth{
		Username: *adminUser,
		Password: *adminPass,
	}
	server := packing.NewServer(packingService, adminAuth)

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr))
	if *adminUser != "" || *adminPass != "" {
		slog.Info("Admin routes enabled", "user", *adminUser)
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
}
