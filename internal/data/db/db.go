package db

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/yungbote/fulfillment-backend/internal/platform/logger"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Options struct {
	Driver          string
	DSN             string
	ApplicationName string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	SlowThreshold   time.Duration
	Silent          bool
}

type Service struct {
	db     *gorm.DB
	sqlDB  *sql.DB
	driver string
	log    *logger.Logger
}

// Open connects to the configured database. Postgres goes through the pgx stdlib driver;
// sqlite is used for local runs and hermetic tests and is pinned to a single connection.
func Open(opts Options, logg *logger.Logger) (*Service, error) {
	serviceLog := logg.With("service", "DatabaseService")
	driver := strings.ToLower(strings.TrimSpace(opts.Driver))
	if driver == "" {
		driver = DriverPostgres
	}

	cfg := &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		TranslateError:                           true,
		Logger:                                   newGormLogger(opts),
	}

	var (
		gdb *gorm.DB
		err error
	)
	switch driver {
	case DriverPostgres:
		gdb, err = openPostgres(opts, cfg)
	case DriverSQLite:
		gdb, err = gorm.Open(sqlite.Open(opts.DSN), cfg)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", driver, err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access pool: %w", err)
	}
	if driver == DriverSQLite {
		sqlDB.SetMaxOpenConns(1)
	} else {
		if opts.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
		}
		if opts.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
		}
		if opts.ConnMaxLifetime > 0 {
			sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
		}
	}

	serviceLog.Info("Database connected", "driver", driver)
	return &Service{db: gdb, sqlDB: sqlDB, driver: driver, log: serviceLog}, nil
}

func openPostgres(opts Options, cfg *gorm.Config) (*gorm.DB, error) {
	pgCfg, err := pgx.ParseConfig(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if opts.ApplicationName != "" {
		pgCfg.RuntimeParams["application_name"] = opts.ApplicationName
	}
	sqlDB := stdlib.OpenDB(*pgCfg)
	return gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), cfg)
}

func newGormLogger(opts Options) gormLogger.Interface {
	if opts.Silent {
		return gormLogger.Default.LogMode(gormLogger.Silent)
	}
	slow := opts.SlowThreshold
	if slow <= 0 {
		slow = time.Second
	}
	return gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             slow,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
}

func (s *Service) DB() *gorm.DB { return s.db }

func (s *Service) Driver() string { return s.driver }

// Migrate creates or updates every table and index.
func (s *Service) Migrate() error {
	if err := AutoMigrateAll(s.db); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	s.log.Info("Database migrated")
	return nil
}

func (s *Service) Close() error {
	if s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}
