package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/kalambet/penny/internal/api"
	"github.com/kalambet/penny/internal/classify"
	"github.com/kalambet/penny/internal/composer"
	"github.com/kalambet/penny/internal/config"
	"github.com/kalambet/penny/internal/conversation"
	"github.com/kalambet/penny/internal/engine"
	"github.com/kalambet/penny/internal/ledger"
	"github.com/kalambet/penny/internal/merchant"
	"github.com/kalambet/penny/internal/pipeline"
	"github.com/kalambet/penny/internal/profile"
	"github.com/kalambet/penny/internal/retrieval"
	"github.com/kalambet/penny/internal/storage"
	"github.com/kalambet/penny/internal/temporal"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the penny server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running penny server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show penny system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "penny.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func logLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "penny version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.Log.Level)}))
	slog.SetDefault(log)

	// Refuse to double-start: probe the health endpoint before claiming the PID file.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Check local inference readiness; pull missing models.
	eng := engine.NewOllamaEngine(cfg.Ollama.BaseURL)
	if err := engine.EnsureReady(ctx, eng, cfg.Ollama.FastModel, cfg.Ollama.EmbedModel, os.Stderr); err != nil {
		return err
	}
	if cfg.Ollama.DeepModel != cfg.Ollama.FastModel {
		if err := engine.EnsureReady(ctx, eng, cfg.Ollama.DeepModel, "", os.Stderr); err != nil {
			return err
		}
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("closing storage", "error", err)
		}
	}()

	// Assemble the resolution pipeline.
	ledgerStore := ledger.New(store)
	profileMgr := profile.NewManager(store)
	turns := conversation.NewLog(store)

	embedder := retrieval.NewEmbedder(eng, cfg.Ollama.EmbedModel)
	vectorStore := retrieval.NewSQLiteStore(store.DB())
	retriever := retrieval.NewRetriever(embedder, vectorStore)
	indexer := retrieval.NewIndexer(embedder, vectorStore, store, log)

	resolver := temporal.NewResolver(temporal.NewExtractor(eng, cfg.Ollama.FastModel))
	classifier := classify.New(eng, cfg.Ollama.FastModel, classify.ModeHybrid)
	matcher := merchant.New(eng, cfg.Ollama.FastModel, log)
	comp := composer.New(eng, cfg.Ollama.DeepModel, log)

	pipe := pipeline.New(pipeline.Config{
		Temporal:   resolver,
		Classifier: classifier,
		Matcher:    matcher,
		Retriever:  retriever,
		Composer:   comp,
		Ledger:     ledgerStore,
		Turns:      turns,
		Indexer:    indexer,
		Profile:    profileMgr,
		Log:        log,
		TopK:       cfg.Retrieval.TopK,
	})

	// Background embedding worker.
	go indexer.Run(ctx, 500*time.Millisecond)

	// Refresh derived collections at startup so pattern and goal search
	// reflects the current ledger.
	go refreshDerivedIndexes(ctx, ledgerStore, profileMgr, indexer, log)

	handler := api.NewHandler(api.Deps{
		Resolver: pipe,
		Ledger:   ledgerStore,
		Profile:  profileMgr,
		Indexer:  indexer,
		Token:    cfg.API.Token,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: h2c.NewHandler(handler, &http2.Server{}),
	}

	// MCP server over stdio.
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Resolver: pipe,
		Ledger:   ledgerStore,
		Profile:  profileMgr,
		Searcher: retriever,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("MCP stdio server error", "error", err)
		}
	}()
	log.Info("MCP server started (stdio transport)")

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "penny listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// refreshDerivedIndexes re-embeds recurring-expense patterns and goals.
// Transactions and turns are indexed through the job queue as they arrive;
// patterns and goals are cheap enough to rebuild wholesale.
func refreshDerivedIndexes(ctx context.Context, ledgerStore *ledger.Store, profileMgr *profile.Manager, indexer *retrieval.Indexer, log *slog.Logger) {
	patterns, err := ledgerStore.DetectRecurring()
	if err != nil {
		log.Warn("detecting recurring expenses", "error", err)
	} else if err := indexer.IndexPatterns(ctx, patterns); err != nil {
		log.Warn("indexing recurring expenses", "error", err)
	}

	goals, err := profileMgr.Goals()
	if err != nil {
		log.Warn("listing goals", "error", err)
		return
	}
	for _, g := range goals {
		if err := indexer.IndexGoal(ctx, g); err != nil {
			log.Warn("indexing goal", "goal", g.ID, "error", err)
		}
	}
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("penny is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop penny (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to penny (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	serverUp := false
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			printStatus("Server", "running on port %d", cfg.Server.Port)
			serverUp = true
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	ollamaResp, err := client.Get(cfg.Ollama.BaseURL + "/api/version")
	if err != nil {
		printStatus("Ollama", "not running")
	} else {
		ollamaResp.Body.Close()
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
	}

	printStatus("Fast model", "%s", cfg.Ollama.FastModel)
	printStatus("Deep model", "%s", cfg.Ollama.DeepModel)
	printStatus("Embed model", "%s", cfg.Ollama.EmbedModel)

	if serverUp {
		txResp, err := apiGet(client, serverURL+"/v1/transactions", cfg.API.Token)
		if err == nil {
			var txns []json.RawMessage
			if json.NewDecoder(txResp.Body).Decode(&txns) == nil {
				printStatus("Transactions", "%d", len(txns))
			}
			txResp.Body.Close()
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func apiGet(client *http.Client, url, token string) (*http.Response, error) {
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return client.Do(req)
}
