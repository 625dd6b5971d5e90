package procureauth

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/porthorian/procureauth/pkg/backend"
	"github.com/porthorian/procureauth/pkg/credstore"
	memorystore "github.com/porthorian/procureauth/pkg/credstore/memory"
	"github.com/porthorian/procureauth/pkg/credstore/postgres"
	redisstore "github.com/porthorian/procureauth/pkg/credstore/redis"
	sqlitestore "github.com/porthorian/procureauth/pkg/credstore/sqlite"
	"github.com/porthorian/procureauth/pkg/crypto"
	"github.com/porthorian/procureauth/pkg/identity/oidc"
)

type StorageBackend string

const (
	StorageBackendMemory   StorageBackend = "memory"
	StorageBackendSQLite   StorageBackend = "sqlite"
	StorageBackendPostgres StorageBackend = "postgres"
	StorageBackendRedis    StorageBackend = "redis"
)

type IdentityBackend string

const (
	IdentityBackendNone IdentityBackend = "none"
	IdentityBackendOIDC IdentityBackend = "oidc"
)

type RuntimeConfig struct {
	Storage  StorageConfig
	Backend  BackendConfig
	Identity IdentityConfig
	Session  SessionConfig
}

type StorageConfig struct {
	Backend   StorageBackend
	Namespace string
	// Passphrase, when set, seals persisted sessions at rest.
	Passphrase string
	SQLite     SQLiteConfig
	Postgres   PostgresConfig
	Redis      RedisConfig
}

type SQLiteConfig struct {
	Path string
}

type PostgresConfig struct {
	DriverName      string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
	OpenDB          func(driverName string, dsn string) (*sql.DB, error)
}

type RedisConfig struct {
	Address     string
	Username    string
	Password    string
	Database    int
	Namespace   string
	DialTimeout time.Duration
}

type BackendConfig struct {
	BaseURL        string
	Domain         string
	RequestTimeout time.Duration
}

type IdentityConfig struct {
	Backend      IdentityBackend
	LoginTimeout time.Duration
	OIDC         OIDCConfig
}

type OIDCConfig struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	Scopes       []string
	ListenAddr   string
	// DevMode relaxes TLS verification against the issuer for local testing.
	DevMode bool
	Opener  func(authURL string) error
}

type SessionConfig struct {
	RefreshLeadTime time.Duration
}

func (c Config) initialize(ctx context.Context) (func() error, Config, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	config := c
	config.Logger = resolveLogger(config.Logger)

	closeStorage, config, err := initializeStorage(ctx, config)
	if err != nil {
		return nil, Config{}, err
	}

	config, err = initializeBackend(config)
	if err != nil {
		_ = closeStorage()
		return nil, Config{}, err
	}

	config, err = initializeIdentity(config)
	if err != nil {
		_ = closeStorage()
		return nil, Config{}, err
	}

	return closeStorage, config, nil
}

func initializeStorage(ctx context.Context, config Config) (func() error, Config, error) {
	if config.Store != nil {
		return noopCloser, config, nil
	}

	backendName := config.Runtime.Storage.Backend
	if backendName == "" {
		backendName = StorageBackendMemory
	}

	var (
		adapter       credstore.Backend
		closeResource = noopCloser
		err           error
	)
	switch backendName {
	case StorageBackendMemory:
		adapter = memorystore.NewAdapter()
		config.Logger.V(1).Info("initialized memory credential store")
	case StorageBackendSQLite:
		adapter, err = initializeSQLite(config)
	case StorageBackendPostgres:
		adapter, closeResource, config, err = initializePostgres(ctx, config)
	case StorageBackendRedis:
		adapter, err = initializeRedis(ctx, config)
	default:
		return nil, Config{}, fmt.Errorf("procureauth config: unsupported runtime.storage.backend %q", backendName)
	}
	if err != nil {
		return nil, Config{}, err
	}

	codec, err := resolveCodec(config.Runtime.Storage.Passphrase)
	if err != nil {
		_ = adapter.Close()
		_ = closeResource()
		return nil, Config{}, err
	}

	store, err := credstore.New(adapter, credstore.Options{
		Namespace: config.Runtime.Storage.Namespace,
		Codec:     codec,
		Logger:    config.Logger,
	})
	if err != nil {
		_ = adapter.Close()
		_ = closeResource()
		return nil, Config{}, err
	}
	config.Store = store

	return joinClosers(closeResource, store.Close), config, nil
}

func resolveCodec(passphrase string) (credstore.Codec, error) {
	if passphrase == "" {
		return credstore.JSONCodec{}, nil
	}
	sealer, err := crypto.NewPassphraseSealer(passphrase, crypto.PassphraseOptions{})
	if err != nil {
		return nil, fmt.Errorf("procureauth config: invalid runtime.storage.passphrase: %w", err)
	}
	return credstore.SealedCodec{Inner: credstore.JSONCodec{}, Sealer: sealer}, nil
}

func initializeSQLite(config Config) (credstore.Backend, error) {
	path := strings.TrimSpace(config.Runtime.Storage.SQLite.Path)
	if path == "" {
		return nil, fmt.Errorf("procureauth config: runtime.storage.sqlite.path is required")
	}

	adapter, err := sqlitestore.Open(path)
	if err != nil {
		return nil, fmt.Errorf("procureauth config: failed to open sqlite credential store: %w", err)
	}
	config.Logger.V(1).Info("initialized sqlite credential store", "path", path)
	return adapter, nil
}

func initializeRedis(ctx context.Context, config Config) (credstore.Backend, error) {
	redisConfig := config.Runtime.Storage.Redis
	if redisConfig.Address == "" {
		return nil, fmt.Errorf("procureauth config: runtime.storage.redis.address is required")
	}
	if redisConfig.DialTimeout <= 0 {
		redisConfig.DialTimeout = 5 * time.Second
	}

	adapter, err := redisstore.NewAdapter(redisstore.Config{
		Address:     redisConfig.Address,
		Username:    redisConfig.Username,
		Password:    redisConfig.Password,
		Database:    redisConfig.Database,
		Namespace:   redisConfig.Namespace,
		DialTimeout: redisConfig.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("procureauth config: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, redisConfig.DialTimeout)
	defer cancel()
	if err := adapter.Ping(pingCtx); err != nil {
		_ = adapter.Close()
		return nil, fmt.Errorf("procureauth config: %w", err)
	}

	config.Logger.V(1).Info("initialized redis credential store", "address", redisConfig.Address, "database", redisConfig.Database, "namespace", redisConfig.Namespace)
	return adapter, nil
}

func initializePostgres(ctx context.Context, config Config) (credstore.Backend, func() error, Config, error) {
	pgConfig := config.Runtime.Storage.Postgres
	if pgConfig.DSN == "" {
		return nil, nil, Config{}, fmt.Errorf("procureauth config: runtime.storage.postgres.dsn is required")
	}

	if pgConfig.DriverName == "" {
		pgConfig.DriverName = "pgx"
	}
	if pgConfig.PingTimeout <= 0 {
		pgConfig.PingTimeout = 5 * time.Second
	}
	if pgConfig.OpenDB == nil {
		pgConfig.OpenDB = sql.Open
	}

	db, err := pgConfig.OpenDB(pgConfig.DriverName, pgConfig.DSN)
	if err != nil {
		return nil, nil, Config{}, fmt.Errorf("procureauth config: failed to open postgres database: %w", err)
	}

	if pgConfig.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pgConfig.MaxOpenConns)
	}
	if pgConfig.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pgConfig.MaxIdleConns)
	}
	if pgConfig.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pgConfig.ConnMaxLifetime)
	}
	if pgConfig.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(pgConfig.ConnMaxIdleTime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pgConfig.PingTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, nil, Config{}, fmt.Errorf("procureauth config: failed to ping postgres database: %w", err)
	}

	adapter, err := postgres.NewAdapter(db)
	if err != nil {
		_ = db.Close()
		return nil, nil, Config{}, fmt.Errorf("procureauth config: failed to initialize postgres adapter: %w", err)
	}

	closeResource := func() error {
		return db.Close()
	}

	config.Runtime.Storage.Postgres = pgConfig
	config.Logger.V(1).Info("initialized postgres credential store", "driver", pgConfig.DriverName, "max_open_conns", pgConfig.MaxOpenConns, "max_idle_conns", pgConfig.MaxIdleConns)
	return adapter, closeResource, config, nil
}

func initializeBackend(config Config) (Config, error) {
	if config.Backend != nil {
		return config, nil
	}

	client, err := backend.New(backend.Config{
		BaseURL:    config.Runtime.Backend.BaseURL,
		Domain:     config.Runtime.Backend.Domain,
		Timeout:    config.Runtime.Backend.RequestTimeout,
		HTTPClient: config.HTTPClient,
		Logger:     config.Logger,
	})
	if err != nil {
		return Config{}, fmt.Errorf("procureauth config: runtime.backend: %w", err)
	}
	config.Backend = client
	return config, nil
}

func initializeIdentity(config Config) (Config, error) {
	if config.Provider != nil {
		return config, nil
	}

	backendName := config.Runtime.Identity.Backend
	if backendName == "" {
		backendName = IdentityBackendNone
	}

	switch backendName {
	case IdentityBackendNone:
		return config, nil
	case IdentityBackendOIDC:
		oidcConfig := config.Runtime.Identity.OIDC
		if oidcConfig.IssuerURL == "" || oidcConfig.ClientID == "" {
			return Config{}, fmt.Errorf("procureauth config: runtime.identity.oidc issuer_url and client_id are required")
		}
		config.Provider = oidc.NewProvider(oidc.Config{
			IssuerURL:    oidcConfig.IssuerURL,
			ClientID:     oidcConfig.ClientID,
			ClientSecret: oidcConfig.ClientSecret,
			Scopes:       oidcConfig.Scopes,
			ListenAddr:   oidcConfig.ListenAddr,
			LoginTimeout: config.Runtime.Identity.LoginTimeout,
			DevMode:      oidcConfig.DevMode,
			Opener:       oidcConfig.Opener,
			Logger:       config.Logger,
		})
		config.Logger.V(1).Info("configured oidc identity provider", "issuer", oidcConfig.IssuerURL, "dev_mode", oidcConfig.DevMode)
		return config, nil
	default:
		return Config{}, fmt.Errorf("procureauth config: unsupported runtime.identity.backend %q", backendName)
	}
}

func joinClosers(closers ...func() error) func() error {
	return func() error {
		var errs []error

		for i := len(closers) - 1; i >= 0; i-- {
			if closers[i] == nil {
				continue
			}
			if err := closers[i](); err != nil {
				errs = append(errs, err)
			}
		}

		return stderrors.Join(errs...)
	}
}

func noopCloser() error {
	return nil
}
