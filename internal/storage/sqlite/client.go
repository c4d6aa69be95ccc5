package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/cot-reflect/backend/pkg/logger"
)

const (
	// DriverCGO is github.com/mattn/go-sqlite3.
	DriverCGO = "sqlite3"
	// DriverPure is modernc.org/sqlite.
	DriverPure = "sqlite"
)

// Client is the snapshot store. Writes are serialized through writeMu;
// reads go straight to the pool and run concurrently under WAL.
type Client struct {
	db      *sql.DB
	driver  string
	writeMu sync.Mutex
	now     func() time.Time
}

func NewClient(dbPath, driver string) (*Client, error) {
	if driver == "" {
		driver = DriverCGO
	}

	dsn, err := buildDSN(dbPath, driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized",
		zap.String("path", dbPath),
		zap.String("driver", driver),
	)

	return &Client{db: db, driver: driver, now: time.Now}, nil
}

func buildDSN(path, driver string) (string, error) {
	switch driver {
	case DriverCGO:
		return fmt.Sprintf("file:%s?_busy_timeout=5000", path), nil
	case DriverPure:
		return fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path), nil
	default:
		return "", fmt.Errorf("unsupported sqlite driver %q", driver)
	}
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) Driver() string {
	return c.driver
}

func (c *Client) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		snapshot_name TEXT NOT NULL,
		user_prompt TEXT NOT NULL,
		system_prompt TEXT,
		model_name TEXT,
		cot_prompt TEXT,
		initial_response TEXT,
		thinking TEXT,
		reflection TEXT,
		final_response TEXT,
		created_at INTEGER NOT NULL,
		tags TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_snapshots_created ON snapshots(created_at);

	CREATE TABLE IF NOT EXISTS evaluations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		snapshot1_id INTEGER NOT NULL,
		snapshot2_id INTEGER NOT NULL,
		judge_model TEXT NOT NULL,
		aspects TEXT,
		metrics TEXT,
		custom_criteria TEXT,
		labels TEXT,
		verdict TEXT,
		scores TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_evaluations_snapshot1 ON evaluations(snapshot1_id);
	CREATE INDEX IF NOT EXISTS idx_evaluations_snapshot2 ON evaluations(snapshot2_id);
	`

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := c.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
