package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/callcenter-orchestrator/internal/circuitbreaker"
	"github.com/Kocoro-lab/callcenter-orchestrator/internal/metrics"
)

// ErrClosed is returned for writes queued after Close.
var ErrClosed = errors.New("database client closed")

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// Config holds database configuration
type Config struct {
	Driver          string        `mapstructure:"driver"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"sslmode"`
	Path            string        `mapstructure:"path"`
	MaxConnections  int           `mapstructure:"max_connections"`
	IdleConnections int           `mapstructure:"idle_connections"`
	MaxLifetime     time.Duration `mapstructure:"max_lifetime"`
	Workers         int           `mapstructure:"workers"`
	QueueSize       int           `mapstructure:"queue_size"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
}

func (c *Config) applyDefaults() {
	if c.Driver == "" {
		c.Driver = DriverPostgres
	}
	if c.MaxConnections == 0 {
		c.MaxConnections = 25
	}
	if c.IdleConnections == 0 {
		c.IdleConnections = 5
	}
	if c.MaxLifetime == 0 {
		c.MaxLifetime = 5 * time.Minute
	}
	if c.SSLMode == "" {
		c.SSLMode = "require"
	}
	if c.Path == "" {
		c.Path = "callcenter.db"
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1000
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
}

func (c *Config) dsn() string {
	if c.Driver == DriverSQLite {
		return fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", c.Path)
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Client persists interactions. Writes are queued and applied by a worker
// pool; reads go straight to the database. Each worker owns a queue and all
// writes for one interaction land on the same queue, so they apply in the
// order they were queued.
type Client struct {
	db     *circuitbreaker.DatabaseWrapper
	x      *sqlx.DB
	driver string
	logger *zap.Logger
	cfg    Config

	queues   []chan WriteRequest
	stopCh   chan struct{}
	workerWg sync.WaitGroup
	closeMu  sync.RWMutex
	closed   bool
}

// WriteRequest represents an async write operation
type WriteRequest struct {
	Type     WriteType
	Data     interface{}
	Callback func(error)
}

type WriteType int

const (
	WriteTypeInteraction WriteType = iota
	WriteTypeInteractionStatus
	WriteTypeMessage
	WriteTypeAgentDecision
	WriteTypeAuditLog
)

// String returns the metric label of the write type
func (wt WriteType) String() string {
	switch wt {
	case WriteTypeInteraction:
		return "interaction"
	case WriteTypeInteractionStatus:
		return "interaction_status"
	case WriteTypeMessage:
		return "message"
	case WriteTypeAgentDecision:
		return "agent_decision"
	case WriteTypeAuditLog:
		return "audit_log"
	default:
		return "unknown"
	}
}

// NewClient opens the database, applies the schema and starts the write workers.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()
	if cfg.Driver != DriverPostgres && cfg.Driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	rawDB, err := sql.Open(cfg.Driver, cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	rawDB.SetMaxOpenConns(cfg.MaxConnections)
	rawDB.SetMaxIdleConns(cfg.IdleConnections)
	rawDB.SetConnMaxLifetime(cfg.MaxLifetime)

	client := newClient(rawDB, cfg, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.db.PingContext(ctx); err != nil {
		rawDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := client.Migrate(ctx); err != nil {
		rawDB.Close()
		return nil, err
	}

	client.startWorkers()
	logger.Info("Database client initialized",
		zap.String("driver", cfg.Driver),
		zap.Int("max_connections", cfg.MaxConnections),
		zap.Int("workers", cfg.Workers),
	)
	return client, nil
}

// NewClientWithDB wraps an already opened database. The schema is not applied.
func NewClientWithDB(rawDB *sql.DB, cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()
	c := newClient(rawDB, cfg, logger)
	c.startWorkers()
	return c
}

func newClient(rawDB *sql.DB, cfg Config, logger *zap.Logger) *Client {
	wrapper := circuitbreaker.NewDatabaseWrapper(rawDB, logger)
	return &Client{
		db:     wrapper,
		x:      sqlx.NewDb(wrapper.GetDB(), cfg.Driver),
		driver: cfg.Driver,
		logger: logger,
		cfg:    cfg,
		queues: newQueues(cfg.Workers, cfg.QueueSize),
		stopCh: make(chan struct{}),
	}
}

func newQueues(workers, size int) []chan WriteRequest {
	per := size / workers
	if per < 1 {
		per = 1
	}
	queues := make([]chan WriteRequest, workers)
	for i := range queues {
		queues[i] = make(chan WriteRequest, per)
	}
	return queues
}

// interactionKey returns the interaction a write belongs to.
func interactionKey(data interface{}) string {
	switch d := data.(type) {
	case *InteractionRecord:
		return d.ID
	case *StatusUpdate:
		return d.InteractionID
	case *MessageRecord:
		return d.InteractionID
	case *AgentDecisionRecord:
		return d.InteractionID
	case *AuditLog:
		return d.InteractionID
	}
	return ""
}

func (c *Client) queueFor(data interface{}) chan WriteRequest {
	h := fnv.New32a()
	h.Write([]byte(interactionKey(data)))
	return c.queues[h.Sum32()%uint32(len(c.queues))]
}

func (c *Client) queueDepth() int {
	n := 0
	for _, q := range c.queues {
		n += len(q)
	}
	return n
}

func (c *Client) startWorkers() {
	for i := 0; i < c.cfg.Workers; i++ {
		c.workerWg.Add(1)
		go c.writeWorker(i)
	}
}

func (c *Client) writeWorker(id int) {
	defer c.workerWg.Done()
	queue := c.queues[id]
	c.logger.Debug("Write worker started", zap.Int("worker_id", id))
	for {
		select {
		case <-c.stopCh:
			c.drainQueue(queue)
			c.logger.Debug("Write worker stopped", zap.Int("worker_id", id))
			return
		case req := <-queue:
			metrics.WriteQueueDepth.Set(float64(c.queueDepth()))
			c.processWrite(req)
		}
	}
}

// processWrite applies one write request
func (c *Client) processWrite(req WriteRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.WriteTimeout)
	defer cancel()

	var err error
	switch data := req.Data.(type) {
	case *InteractionRecord:
		err = c.writeInteraction(ctx, data)
	case *StatusUpdate:
		err = c.writeInteractionStatus(ctx, data)
	case *MessageRecord:
		err = c.writeMessage(ctx, data)
	case *AgentDecisionRecord:
		err = c.writeAgentDecision(ctx, data)
	case *AuditLog:
		err = c.writeAuditLog(ctx, data)
	default:
		err = fmt.Errorf("unexpected write payload %T", req.Data)
	}

	result := "ok"
	if err != nil {
		result = "error"
		c.logger.Error("Failed to process write request",
			zap.String("type", req.Type.String()),
			zap.Error(err),
		)
	}
	metrics.PersistenceWrites.WithLabelValues(req.Type.String(), result).Inc()
	if req.Callback != nil {
		req.Callback(err)
	}
}

func (c *Client) drainQueue(queue chan WriteRequest) {
	timeout := time.After(10 * time.Second)
	for {
		select {
		case req := <-queue:
			c.processWrite(req)
		case <-timeout:
			c.logger.Warn("Timeout draining write queue")
			return
		default:
			return
		}
	}
}

// QueueWrite adds a write request to the async queue of its interaction. A
// full queue falls back to a synchronous write rather than dropping it.
func (c *Client) QueueWrite(writeType WriteType, data interface{}, callback func(error)) error {
	c.closeMu.RLock()
	defer c.closeMu.RUnlock()
	if c.closed {
		return ErrClosed
	}

	req := WriteRequest{Type: writeType, Data: data, Callback: callback}
	select {
	case c.queueFor(data) <- req:
		metrics.WriteQueueDepth.Set(float64(c.queueDepth()))
		return nil
	default:
		c.logger.Warn("Write queue is full, falling back to synchronous write",
			zap.String("type", writeType.String()))
		c.processWrite(req)
		return nil
	}
}

// Close drains pending writes and closes the database.
func (c *Client) Close() error {
	c.closeMu.Lock()
	if c.closed {
		c.closeMu.Unlock()
		return nil
	}
	c.closed = true
	c.closeMu.Unlock()

	c.logger.Info("Shutting down database client")
	close(c.stopCh)
	c.workerWg.Wait()

	if err := c.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	c.logger.Info("Database client closed")
	return nil
}

// Wrapper returns the underlying DatabaseWrapper for health checks and monitoring
func (c *Client) Wrapper() *circuitbreaker.DatabaseWrapper {
	return c.db
}

// rebind converts '?' placeholders to the driver's bindvar style.
func (c *Client) rebind(query string) string {
	return c.x.Rebind(query)
}
