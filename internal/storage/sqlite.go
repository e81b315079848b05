package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for transactions, the updates
// overlay, conversation turns, goals, the user profile, and background jobs.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "penny.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// DB exposes the underlying handle for components that manage their own
// tables (the vector store).
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Transactions ---

func (s *Store) SaveTransaction(t Transaction) error {
	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO transactions (id, merchant, amount, date, category, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.Merchant, t.Amount, t.Date.Format(DateFormat), t.Category,
		createdAt.Format(time.RFC3339),
	)
	return err
}

// SaveTransactions inserts a batch atomically. Used by the seeder and the
// statement importer.
func (s *Store) SaveTransactions(txns []Transaction) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning batch insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO transactions (id, merchant, amount, date, category, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing batch insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, t := range txns {
		createdAt := now
		if !t.CreatedAt.IsZero() {
			createdAt = t.CreatedAt.Format(time.RFC3339)
		}
		if _, err := stmt.Exec(t.ID, t.Merchant, t.Amount, t.Date.Format(DateFormat), t.Category, createdAt); err != nil {
			return fmt.Errorf("inserting transaction %s: %w", t.ID, err)
		}
	}
	return tx.Commit()
}

// ListTransactions returns all raw rows ordered by date ascending. The
// updates overlay is NOT applied here; callers go through the ledger store
// for overlay-resolved views.
func (s *Store) ListTransactions() ([]Transaction, error) {
	rows, err := s.db.Query(`
		SELECT id, merchant, amount, date, category, created_at
		FROM transactions ORDER BY date ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, t)
	}
	return results, rows.Err()
}

func (s *Store) GetTransaction(id string) (Transaction, error) {
	row := s.db.QueryRow(`
		SELECT id, merchant, amount, date, category, created_at
		FROM transactions WHERE id = ?`, id)

	var t Transaction
	var date, createdAt string
	err := row.Scan(&t.ID, &t.Merchant, &t.Amount, &date, &t.Category, &createdAt)
	if err == sql.ErrNoRows {
		return Transaction{}, ErrNotFound
	}
	if err != nil {
		return Transaction{}, err
	}
	if t.Date, err = time.Parse(DateFormat, date); err != nil {
		return Transaction{}, fmt.Errorf("parsing date: %w", err)
	}
	if t.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Transaction{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return t, nil
}

func (s *Store) CountTransactions() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM transactions").Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (Transaction, error) {
	var t Transaction
	var date, createdAt string
	if err := row.Scan(&t.ID, &t.Merchant, &t.Amount, &date, &t.Category, &createdAt); err != nil {
		return Transaction{}, err
	}
	var err error
	if t.Date, err = time.Parse(DateFormat, date); err != nil {
		return Transaction{}, fmt.Errorf("parsing date: %w", err)
	}
	if t.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Transaction{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return t, nil
}

// --- Updates overlay ---

// UpsertPatch records a partial correction for a transaction. Later patches
// merge over earlier ones field by field; a delete flag is sticky.
func (s *Store) UpsertPatch(p TransactionPatch) error {
	var date any
	if p.Date != nil {
		date = p.Date.Format(DateFormat)
	}
	var merchant, category any
	if p.Merchant != nil {
		merchant = *p.Merchant
	}
	if p.Category != nil {
		category = *p.Category
	}
	var amount any
	if p.Amount != nil {
		amount = *p.Amount
	}

	_, err := s.db.Exec(`
		INSERT INTO transaction_updates (txn_id, merchant, amount, date, category, deleted, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(txn_id) DO UPDATE SET
			merchant   = COALESCE(excluded.merchant, transaction_updates.merchant),
			amount     = COALESCE(excluded.amount, transaction_updates.amount),
			date       = COALESCE(excluded.date, transaction_updates.date),
			category   = COALESCE(excluded.category, transaction_updates.category),
			deleted    = MAX(excluded.deleted, transaction_updates.deleted),
			updated_at = excluded.updated_at`,
		p.TxnID, merchant, amount, date, category, boolToInt(p.Deleted),
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) ListPatches() ([]TransactionPatch, error) {
	rows, err := s.db.Query(`
		SELECT txn_id, merchant, amount, date, category, deleted, updated_at
		FROM transaction_updates`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []TransactionPatch
	for rows.Next() {
		var p TransactionPatch
		var merchant, category, date sql.NullString
		var amount sql.NullFloat64
		var deleted int
		var updatedAt string
		if err := rows.Scan(&p.TxnID, &merchant, &amount, &date, &category, &deleted, &updatedAt); err != nil {
			return nil, err
		}
		if merchant.Valid {
			p.Merchant = &merchant.String
		}
		if amount.Valid {
			p.Amount = &amount.Float64
		}
		if category.Valid {
			p.Category = &category.String
		}
		if date.Valid {
			d, err := time.Parse(DateFormat, date.String)
			if err != nil {
				return nil, fmt.Errorf("parsing patch date for %s: %w", p.TxnID, err)
			}
			p.Date = &d
		}
		p.Deleted = deleted != 0
		if p.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
			return nil, fmt.Errorf("parsing patch updated_at for %s: %w", p.TxnID, err)
		}
		results = append(results, p)
	}
	return results, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// --- Conversation turns ---

func (s *Store) AppendTurn(t Turn) error {
	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO conversation_turns (message_id, conversation_id, role, text, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		t.MessageID, t.ConversationID, t.Role, t.Text, createdAt.Format(time.RFC3339Nano),
	)
	return err
}

// RecentTurns returns up to limit turns for a conversation, newest first.
func (s *Store) RecentTurns(conversationID string, limit int) ([]Turn, error) {
	rows, err := s.db.Query(`
		SELECT message_id, conversation_id, role, text, created_at
		FROM conversation_turns
		WHERE conversation_id = ?
		ORDER BY created_at DESC, rowid DESC LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Turn
	for rows.Next() {
		var t Turn
		var createdAt string
		if err := rows.Scan(&t.MessageID, &t.ConversationID, &t.Role, &t.Text, &createdAt); err != nil {
			return nil, err
		}
		if t.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parsing turn created_at: %w", err)
		}
		results = append(results, t)
	}
	return results, rows.Err()
}

// --- Goals ---

func (s *Store) SaveGoal(g Goal) error {
	createdAt := g.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO goals (id, purpose, target_amount, current_amount, target_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			purpose = excluded.purpose,
			target_amount = excluded.target_amount,
			current_amount = excluded.current_amount,
			target_date = excluded.target_date`,
		g.ID, g.Purpose, g.TargetAmount, g.CurrentAmount,
		g.TargetDate.Format(DateFormat), createdAt.Format(time.RFC3339),
	)
	return err
}

func (s *Store) ListGoals() ([]Goal, error) {
	rows, err := s.db.Query(`
		SELECT id, purpose, target_amount, current_amount, target_date, created_at
		FROM goals ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Goal
	for rows.Next() {
		var g Goal
		var targetDate, createdAt string
		if err := rows.Scan(&g.ID, &g.Purpose, &g.TargetAmount, &g.CurrentAmount, &targetDate, &createdAt); err != nil {
			return nil, err
		}
		if g.TargetDate, err = time.Parse(DateFormat, targetDate); err != nil {
			return nil, fmt.Errorf("parsing goal target_date: %w", err)
		}
		if g.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing goal created_at: %w", err)
		}
		results = append(results, g)
	}
	return results, rows.Err()
}

// --- User Profile ---

func (s *Store) SetProfileKey(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO user_profile (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetProfileKey(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM user_profile WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return value, err
}

func (s *Store) GetAllProfileKeys() (map[string]string, error) {
	rows, err := s.db.Query("SELECT key, value FROM user_profile")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		result[k] = v
	}
	return result, rows.Err()
}

// --- Jobs ---

func (s *Store) EnqueueJob(job Job) error {
	now := time.Now().UTC().Format(time.RFC3339)
	runAfter := now
	if !job.RunAfter.IsZero() {
		runAfter = job.RunAfter.UTC().Format(time.RFC3339)
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', 0, ?, ?, ?, ?)`,
		job.ID, job.Type, job.PayloadJSON, maxAttempts, runAfter, now, now,
	)
	return err
}

func (s *Store) ClaimNextJob(types []string) (*Job, error) {
	if len(types) == 0 {
		return nil, nil
	}

	now := time.Now().UTC().Format(time.RFC3339)
	placeholders := strings.Repeat(",?", len(types)-1)
	query := `SELECT id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at, last_error
		FROM jobs
		WHERE status = 'pending' AND run_after <= ? AND type IN (?` + placeholders + `)
		ORDER BY run_after ASC, created_at ASC
		LIMIT 1`

	args := make([]interface{}, 0, len(types)+1)
	args = append(args, now)
	for _, t := range types {
		args = append(args, t)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}

	var j Job
	var runAfter, createdAt, updatedAt string
	var lastError sql.NullString
	err = tx.QueryRow(query, args...).Scan(
		&j.ID, &j.Type, &j.PayloadJSON, &j.Status, &j.Attempts, &j.MaxAttempts,
		&runAfter, &createdAt, &updatedAt, &lastError,
	)
	if err == sql.ErrNoRows {
		tx.Rollback()
		return nil, nil
	}
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("selecting next job: %w", err)
	}

	res, err := tx.Exec(`UPDATE jobs SET status = 'running', updated_at = ? WHERE id = ? AND status = 'pending'`, now, j.ID)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("updating job status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("checking updated job rows: %w", err)
	}
	if n != 1 {
		tx.Rollback()
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	j.Status = "running"
	j.LastError = lastError.String
	if j.RunAfter, err = time.Parse(time.RFC3339, runAfter); err != nil {
		return nil, fmt.Errorf("parsing run_after for job %s: %w", j.ID, err)
	}
	if j.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at for job %s: %w", j.ID, err)
	}
	if j.UpdatedAt, err = time.Parse(time.RFC3339, now); err != nil {
		return nil, fmt.Errorf("parsing updated_at for job %s: %w", j.ID, err)
	}
	return &j, nil
}

func (s *Store) CompleteJob(id string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE jobs SET status = 'completed', updated_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) FailJob(id string, errMsg string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning fail transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	err = tx.QueryRow(`SELECT attempts, max_attempts FROM jobs WHERE id = ?`, id).Scan(&attempts, &maxAttempts)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	attempts++

	if attempts >= maxAttempts {
		_, err = tx.Exec(`UPDATE jobs SET status = 'failed', attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, now.Format(time.RFC3339), id)
	} else {
		backoff := time.Duration(math.Pow(2, float64(attempts))) * time.Second
		runAfter := now.Add(backoff)
		_, err = tx.Exec(`UPDATE jobs SET status = 'pending', attempts = ?, last_error = ?, run_after = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, runAfter.Format(time.RFC3339), now.Format(time.RFC3339), id)
	}

	if err != nil {
		return err
	}

	return tx.Commit()
}
