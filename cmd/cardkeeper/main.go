package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/zombor/cardkeeper/internal/card"
	"github.com/zombor/cardkeeper/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	fs := ff.NewFlagSet("cardkeeper")
	var (
		port           = fs.IntLong("port", 8080, "HTTP server port")
		dbPath         = fs.StringLong("db", "cardkeeper.db", "Database file path")
		storageBackend = fs.StringLong("storage-backend", "local", "Card image storage: 'local' or 's3'")
		storagePath    = fs.StringLong("storage", "./cards", "Local card image directory")
		s3Endpoint     = fs.StringLong("s3-endpoint", "", "S3 endpoint URL (leave empty for AWS, set for MinIO)")
		s3Region       = fs.StringLong("s3-region", "us-east-1", "S3 region")
		s3Bucket       = fs.StringLong("s3-bucket", "", "S3 bucket for card images")
		s3AccessKey    = fs.StringLong("s3-access-key", "", "S3 access key (default credential chain when empty)")
		s3SecretKey    = fs.StringLong("s3-secret-key", "", "S3 secret key")
		s3Prefix       = fs.StringLong("s3-prefix", "cards/", "Object key prefix for card images")
		scannerType    = fs.StringLong("scanner", "gemini", "Scanner type: 'gemini' or 'ollama'")
		geminiKey      = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel    = fs.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name")
		ollamaURL      = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel    = fs.StringLong("ollama-model", "llava", "Ollama vision model name")
		ocrQuota       = fs.IntLong("ocr-quota", card.DefaultOCRQuota, "OCR calls after which scans carry a quota warning")
		persistTimeout = fs.DurationLong("persist-timeout", card.DefaultPersistTimeout, "Timeout for each database read or write")
		authUser       = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass       = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		showVersion    = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("CARDKEEPER"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	ctx := context.Background()

	slog.Info("Initializing database...", "path", *dbPath)
	kv, err := card.NewBoltKV(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer kv.Close()

	store := card.NewStoreWithDeps(kv, nil, nil, *persistTimeout)
	if err := store.Load(ctx); err != nil {
		slog.Warn("Could not load saved contacts, starting empty", "error", err)
	}
	usage := card.NewUsageCounter(kv, *ocrQuota, *persistTimeout)

	var scanner scanning.Scanner
	switch *scannerType {
	case "gemini":
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
	case "ollama":
		slog.Info("Initializing Ollama scanner...", "url", *ollamaURL, "model", *ollamaModel)
		scanner, err = scanning.NewOllama(*ollamaURL, *ollamaModel)
	default:
		slog.Error("Invalid scanner type", "type", *scannerType, "valid", "gemini or ollama")
		os.Exit(1)
	}
	if err != nil {
		slog.Error("Failed to initialize scanner", "type", *scannerType, "error", err)
		os.Exit(1)
	}
	defer scanner.Close()

	var images card.Storage
	switch *storageBackend {
	case "local":
		slog.Info("Initializing local image storage...", "path", *storagePath)
		images, err = card.NewLocalStorage(*storagePath)
	case "s3":
		slog.Info("Initializing S3 image storage...", "bucket", *s3Bucket, "endpoint", *s3Endpoint)
		images, err = card.NewS3Storage(ctx, card.S3Config{
			Endpoint:  *s3Endpoint,
			Region:    *s3Region,
			Bucket:    *s3Bucket,
			AccessKey: *s3AccessKey,
			SecretKey: *s3SecretKey,
			Prefix:    *s3Prefix,
		})
	default:
		slog.Error("Invalid storage backend", "backend", *storageBackend, "valid", "local or s3")
		os.Exit(1)
	}
	if err != nil {
		slog.Error("Failed to initialize image storage", "error", err)
		os.Exit(1)
	}

	service := card.NewService(store, scanner, images, usage)
	server := card.NewServer(service, card.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	})

	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
}
