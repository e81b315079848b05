package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/penny/internal/config"
	"github.com/kalambet/penny/internal/ledger"
	"github.com/kalambet/penny/internal/pipeline"
	"github.com/kalambet/penny/internal/retrieval"
	"github.com/kalambet/penny/internal/storage"
)

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question about your transactions",
	Long: `Ask a natural-language question about your transactions.

Examples:
  penny ask "what was my biggest expense in January?"
  penny ask "how much did I spend on coffee shops last month?"
  penny ask --conversation work "and the month before that?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		conversationID, _ := cmd.Flags().GetString("conversation")
		verbose, _ := cmd.Flags().GetBool("verbose")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/v1/query", map[string]string{
			"conversation_id": conversationID,
			"message":         query,
		})
		if err != nil {
			return err
		}

		var result pipeline.Response
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		fmt.Println(result.Response)

		if verbose {
			printStatus("Method", "%s", result.Method)
			printStatus("Grounded", "%t", result.Grounded)
			if result.TemporalFilter != "" {
				printStatus("Period", "%s", result.TemporalFilter)
			}
			if result.Verification != "" {
				printStatus("Verification", "%s", result.Verification)
			}
			if result.Degraded {
				printWarning("Answer produced in degraded mode")
			}
			printStatus("Conversation", "%s", result.ConversationID)
			printStatus("Duration", "%dms", result.DurationMs)
		}
		return nil
	},
}

func init() {
	askCmd.Flags().String("conversation", "", "conversation ID for follow-up questions")
	askCmd.Flags().BoolP("verbose", "v", false, "show resolution metadata")
}

// --- seed ---

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Populate the ledger with ~90 days of demo transactions",
	RunE: func(cmd *cobra.Command, args []string) error {
		seedVal, _ := cmd.Flags().GetInt64("seed")

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		ledgerStore := ledger.New(store)
		count, err := ledgerStore.Seed(time.Now().UTC(), seedVal)
		if err != nil {
			return fmt.Errorf("seeding: %w", err)
		}
		printSuccess("Inserted %d transactions", count)

		queued, err := enqueueAllTransactions(store, ledgerStore)
		if err != nil {
			return err
		}
		printSuccess("Queued %d transactions for embedding (run 'penny start' to index)", queued)
		return nil
	},
}

func init() {
	seedCmd.Flags().Int64("seed", 42, "random seed for reproducible demo data")
}

// --- import ---

var importCmd = &cobra.Command{
	Use:   "import <statement.pdf>",
	Short: "Import transactions from a bank-statement PDF",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("reading statement: %w", err)
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		ledgerStore := ledger.New(store)
		count, err := ledgerStore.ImportPDF(path)
		if err != nil {
			return fmt.Errorf("importing %s: %w", path, err)
		}
		if count == 0 {
			printWarning("No transaction rows recognized in %s", path)
			return nil
		}
		printSuccess("Imported %d transactions from %s", count, path)

		queued, err := enqueueAllTransactions(store, ledgerStore)
		if err != nil {
			return err
		}
		printSuccess("Queued %d transactions for embedding (run 'penny start' to index)", queued)
		return nil
	},
}

// enqueueAllTransactions queues an embedding job for every live transaction.
// Upserts are keyed by transaction ID, so re-queuing already-indexed rows is
// harmless.
func enqueueAllTransactions(store *storage.Store, ledgerStore *ledger.Store) (int, error) {
	indexer := retrieval.NewIndexer(nil, nil, store, nil)
	txns, err := ledgerStore.Snapshot()
	if err != nil {
		return 0, fmt.Errorf("loading transactions: %w", err)
	}
	for _, t := range txns {
		if err := indexer.EnqueueTransaction(t); err != nil {
			return 0, fmt.Errorf("queueing transaction %s: %w", t.ID, err)
		}
	}
	return len(txns), nil
}

// --- transactions ---

var transactionsCmd = &cobra.Command{
	Use:   "transactions",
	Short: "List or correct ledger transactions",
}

var transactionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List transactions",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/transactions")
		if err != nil {
			return err
		}

		var txns []struct {
			ID       string  `json:"id"`
			Merchant string  `json:"merchant"`
			Amount   float64 `json:"amount"`
			Date     string  `json:"date"`
			Category string  `json:"category"`
		}
		if err := decodeJSON(resp, &txns); err != nil {
			return err
		}

		if len(txns) == 0 {
			fmt.Println("No transactions. Run 'penny seed' or 'penny import' first.")
			return nil
		}
		if limit > 0 && len(txns) > limit {
			txns = txns[:limit]
		}
		for _, t := range txns {
			id := t.ID
			if len(id) > 8 {
				id = id[:8]
			}
			fmt.Printf("%s  %s  %9.2f  %-24s %s\n",
				colorize(colorCyan, id), t.Date, t.Amount, t.Merchant, t.Category)
		}
		return nil
	},
}

var transactionsEditCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Correct a transaction's merchant, amount, date, or category",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		patch := map[string]any{}
		if cmd.Flags().Changed("merchant") {
			v, _ := cmd.Flags().GetString("merchant")
			patch["merchant"] = v
		}
		if cmd.Flags().Changed("amount") {
			v, _ := cmd.Flags().GetString("amount")
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("invalid amount %q", v)
			}
			patch["amount"] = f
		}
		if cmd.Flags().Changed("date") {
			v, _ := cmd.Flags().GetString("date")
			patch["date"] = v
		}
		if cmd.Flags().Changed("category") {
			v, _ := cmd.Flags().GetString("category")
			patch["category"] = v
		}
		if len(patch) == 0 {
			return fmt.Errorf("nothing to change; pass --merchant, --amount, --date, or --category")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.patch(cmd.Context(), "/v1/transactions/"+args[0], patch)
		if err != nil {
			return err
		}

		var result map[string]any
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Updated transaction %s", args[0])
		return nil
	},
}

var transactionsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Soft-delete a transaction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/v1/transactions/"+args[0])
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Deleted transaction %s", args[0])
		return nil
	},
}

var transactionsRecurringCmd = &cobra.Command{
	Use:   "recurring",
	Short: "Show detected recurring expenses",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/recurring")
		if err != nil {
			return err
		}

		var patterns []ledger.RecurringExpense
		if err := decodeJSON(resp, &patterns); err != nil {
			return err
		}

		if len(patterns) == 0 {
			fmt.Println("No recurring expenses detected.")
			return nil
		}
		for _, p := range patterns {
			fmt.Printf("%-24s %9.2f  %-10s x%d  last %s\n",
				p.Merchant, p.AverageAmount, p.Cadence, p.Occurrences,
				p.LastSeen.Format("2006-01-02"))
		}
		return nil
	},
}

func init() {
	transactionsListCmd.Flags().Int("limit", 50, "maximum rows to print")
	transactionsEditCmd.Flags().String("merchant", "", "corrected merchant name")
	transactionsEditCmd.Flags().String("amount", "", "corrected amount (negative for expenses)")
	transactionsEditCmd.Flags().String("date", "", "corrected date (YYYY-MM-DD)")
	transactionsEditCmd.Flags().String("category", "", "corrected category")

	transactionsCmd.AddCommand(transactionsListCmd)
	transactionsCmd.AddCommand(transactionsEditCmd)
	transactionsCmd.AddCommand(transactionsDeleteCmd)
	transactionsCmd.AddCommand(transactionsRecurringCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return fmt.Errorf("%w (valid keys: %s)", err, strings.Join(config.ValidKeys(), ", "))
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
