package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/clearpath/support-agent/api"
	"github.com/clearpath/support-agent/config"
	"github.com/clearpath/support-agent/declog"
	"github.com/clearpath/support-agent/embeddings"
	"github.com/clearpath/support-agent/evaluator"
	"github.com/clearpath/support-agent/ingestion"
	"github.com/clearpath/support-agent/llm"
	"github.com/clearpath/support-agent/pipeline"
	"github.com/clearpath/support-agent/retrieval"
	"github.com/clearpath/support-agent/router"
	"github.com/clearpath/support-agent/store"
	"github.com/clearpath/support-agent/tokens"
)

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags)

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg := config.Load()

	switch os.Args[1] {
	case "serve":
		serveCmd(cfg, logger, os.Args[2:])
	case "ingest":
		ingestCmd(cfg, logger, os.Args[2:])
	case "clear":
		clearCmd(cfg, logger, os.Args[2:])
	default:
		logger.Printf("unknown command: %s", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func serveCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("serve", flag.ExitOnError)
	port := flags.String("port", cfg.Port, "port to listen on")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse serve flags: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pgPool, err := store.NewPostgresPool(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatalf("postgres connection: %v", err)
	}
	defer pgPool.Close()

	if err := store.EnsureSchema(ctx, pgPool, cfg.Embeddings.Dimension); err != nil {
		logger.Fatalf("ensure schema: %v", err)
	}

	embedder, err := embeddings.NewOpenAIEmbedder(embeddings.Options{
		Model:     cfg.Embeddings.Model,
		Dimension: cfg.Embeddings.Dimension,
		APIKey:    cfg.OpenAIAPIKey,
		BaseURL:   cfg.OpenAIBaseURL,
	})
	if err != nil {
		logger.Fatalf("embedder setup: %v", err)
	}

	generator, err := llm.NewClient(cfg)
	if err != nil {
		logger.Fatalf("llm setup: %v", err)
	}

	decisions, err := declog.Open(cfg.DecisionLogPath)
	if err != nil {
		logger.Fatalf("decision log setup: %v", err)
	}
	defer decisions.Close()

	counter, err := tokens.NewTiktoken()
	if err != nil {
		logger.Printf("tiktoken unavailable, using approximate token counts: %v", err)
		counter = tokens.Approximate{}
	}

	chunkStore := store.NewPostgresChunkStore(pgPool)
	conversations := store.NewPostgresConversationStore(pgPool)

	engine := retrieval.NewEngine(chunkStore, embedder, logger, retrieval.Options{
		TopK:               cfg.Retrieval.TopK,
		RelevanceThreshold: cfg.Retrieval.RelevanceThreshold,
		DynamicKRatio:      cfg.Retrieval.DynamicKRatio,
	})

	classifier := router.New(router.Options{
		SimpleModel:  cfg.LLM.SimpleModel,
		ComplexModel: cfg.LLM.ComplexModel,
	})

	svc := pipeline.NewService(pipeline.Deps{
		Classifier:    classifier,
		Retriever:     engine,
		Generator:     generator,
		Conversations: conversations,
		Evaluator:     evaluator.New(),
		Decisions:     decisions,
		TokenCounter:  counter,
		Logger:        logger,
	}, pipeline.Options{
		MaxOutputTokens: cfg.LLM.MaxTokens,
		MaxHistoryTurns: cfg.MaxHistoryTurns,
	})

	server := api.New(svc, conversations, logger)

	httpServer := &http.Server{
		Addr:    ":" + *port,
		Handler: server.Handler(),
	}

	go func() {
		<-ctx.Done()
		_ = httpServer.Shutdown(context.Background())
	}()

	logger.Printf("clearpath support agent listening on :%s", *port)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("serve: %v", err)
	}
}

func ingestCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("ingest", flag.ExitOnError)
	dataDir := flags.String("dir", cfg.DataDir, "path to directory containing PDF documentation")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse ingest flags: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pgPool, err := store.NewPostgresPool(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatalf("postgres connection: %v", err)
	}
	defer pgPool.Close()

	if err := store.EnsureSchema(ctx, pgPool, cfg.Embeddings.Dimension); err != nil {
		logger.Fatalf("ensure schema: %v", err)
	}

	embedder, err := embeddings.NewOpenAIEmbedder(embeddings.Options{
		Model:     cfg.Embeddings.Model,
		Dimension: cfg.Embeddings.Dimension,
		APIKey:    cfg.OpenAIAPIKey,
		BaseURL:   cfg.OpenAIBaseURL,
	})
	if err != nil {
		logger.Fatalf("embedder setup: %v", err)
	}

	counter, err := tokens.NewTiktoken()
	if err != nil {
		logger.Printf("tiktoken unavailable, using approximate token counts: %v", err)
		counter = tokens.Approximate{}
	}

	svc := ingestion.NewService(store.NewPostgresChunkStore(pgPool), embedder, counter, logger, ingestion.Options{
		ChunkTokens:   cfg.Chunking.ChunkTokens,
		OverlapTokens: cfg.Chunking.OverlapTokens,
	})
	logger.Printf("ingesting pdf documentation from %s using %s embeddings", *dataDir, cfg.Embeddings.Model)

	if err := svc.IngestDirectory(ctx, *dataDir); err != nil {
		logger.Fatalf("ingestion failed: %v", err)
	}
}

func clearCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("clear", flag.ExitOnError)
	confirmed := flags.Bool("confirm", false, "skip confirmation prompt")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse clear flags: %v", err)
	}

	if !*confirmed {
		fmt.Print("This will permanently delete ingested documents and chunks. Continue? [y/N]: ")
		scanner := bufio.NewScanner(os.Stdin)
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				logger.Fatalf("read confirmation: %v", err)
			}
			logger.Println("clear aborted")
			return
		}
		answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
		if answer != "y" && answer != "yes" {
			logger.Println("clear aborted")
			return
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pgPool, err := store.NewPostgresPool(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatalf("postgres connection: %v", err)
	}
	defer pgPool.Close()

	if err := store.NewPostgresChunkStore(pgPool).Clear(ctx); err != nil {
		logger.Fatalf("clear chunks: %v", err)
	}

	logger.Println("ingested documents and chunks removed")
}

func printUsage() {
	fmt.Println("Usage: support-agent <command> [options]")
	fmt.Println("Commands:")
	fmt.Println("  serve    Run the HTTP API")
	fmt.Println("  ingest   Ingest PDF documentation into the vector store (use --dir to override)")
	fmt.Println("  clear    Remove ingested documents and chunks")
}
