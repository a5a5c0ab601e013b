package sqlstore

import (
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/harrison/ingestagent/internal/models"
)

var mysqlDialect = &dialect{
	name:         "mysql",
	insertIgnore: mysqlInsertIgnore,
	migrations:   mysqlMigrations,
	classify:     classifyMySQL,
	retryable:    isMySQLDeadlock,
}

// MySQLParams are the connection fields used when no DSN is given.
type MySQLParams struct {
	DSN      string
	Host     string
	Port     int
	User     string
	Password string
	Database string
	Timeout  time.Duration
}

// MySQLDSN builds a go-sql-driver DSN. A DSN in p is parsed and a separately
// supplied password fills in a missing one.
func MySQLDSN(p MySQLParams) (string, error) {
	var cfg *mysql.Config
	if p.DSN != "" {
		parsed, err := mysql.ParseDSN(p.DSN)
		if err != nil {
			return "", fmt.Errorf("parse mysql dsn: %w", err)
		}
		cfg = parsed
	} else {
		cfg = mysql.NewConfig()
		cfg.User = p.User
		cfg.Net = "tcp"
		port := p.Port
		if port == 0 {
			port = 3306
		}
		cfg.Addr = net.JoinHostPort(p.Host, strconv.Itoa(port))
		cfg.DBName = p.Database
	}
	if cfg.Passwd == "" {
		cfg.Passwd = p.Password
	}
	if p.Timeout > 0 && cfg.Timeout == 0 {
		cfg.Timeout = p.Timeout
	}
	return cfg.FormatDSN(), nil
}

// OpenMySQL connects to MySQL and applies migrations.
func OpenMySQL(dsn string) (*Store, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetConnMaxLifetime(3 * time.Minute)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to mysql: %w", err)
	}
	return open(db, mysqlDialect)
}

// MySQL server error numbers
const (
	erDupEntry        = 1062
	erBadNull         = 1048
	erNoReferencedRow = 1452
	erRowIsReferenced = 1451
	erCheckConstraint = 3819
	erLockWaitTimeout = 1205
	erLockDeadlock    = 1213
	erQueryTimeout    = 3024
	erServerShutdown  = 1053
	crServerGone      = 2006
	crServerLost      = 2013
)

func classifyMySQL(err error) (models.StorageErrorKind, bool) {
	if errors.Is(err, mysql.ErrInvalidConn) {
		return models.StorageConnectionLost, true
	}
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return models.StorageOther, false
	}
	switch myErr.Number {
	case erDupEntry, erBadNull, erNoReferencedRow, erRowIsReferenced, erCheckConstraint:
		return models.StorageConstraintViolation, true
	case erLockWaitTimeout, erLockDeadlock, erQueryTimeout:
		return models.StorageTimeout, true
	case erServerShutdown, crServerGone, crServerLost:
		return models.StorageConnectionLost, true
	default:
		return models.StorageOther, true
	}
}

func isMySQLDeadlock(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == erLockDeadlock
}
