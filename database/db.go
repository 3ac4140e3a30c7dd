package database

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/shelfwise/shelfwise/config"
	"github.com/shelfwise/shelfwise/internal/apierror"
	"github.com/shelfwise/shelfwise/model"
)

// Declare a package-level variable to hold the singleton instance.
var instance *Datasource
var once sync.Once

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

type Datasource struct {
	Conn *sql.DB
}

func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	con, err := GetDBConnection(configuration)
	if err != nil {
		return nil, err
	}
	return con, nil
}

// GetDBConnection ensures a single database connection instance.
func GetDBConnection(configuration *config.Configuration) (*Datasource, error) {
	var err error
	once.Do(func() {
		con, errConn := ConnectDB(configuration.DataSource.Dns)
		if errConn != nil {
			err = errConn
			return
		}
		instance = &Datasource{Conn: con}
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

// ConnectDB establishes a database connection with pooling.
func ConnectDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	err = db.Ping()
	if err != nil {
		log.Printf("Database connection error: %v", err)
		return nil, err
	}

	log.Println("Database connection established")
	return db, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func pageBounds(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// InvariantViolation converts a rejected ledger computation into the API error the
// caller sees. Details carry the field and the before/change/after numbers.
func InvariantViolation(err error) error {
	var invErr *model.InvariantError
	if !errors.As(err, &invErr) {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to compute ledger entry", err)
	}
	code := apierror.ErrInvalidReservation
	if errors.Is(err, model.ErrInsufficientQuantity) {
		code = apierror.ErrInsufficientQuantity
	}
	return apierror.NewAPIError(code, invErr.Err.Error(), invErr)
}

func notFound(kind, id string) error {
	return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("%s with ID '%s' not found", kind, id), nil)
}
