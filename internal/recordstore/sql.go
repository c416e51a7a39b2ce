package recordstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/tendant/image-inference-pipeline/pkg/pipeline"
)

// Supported SQL dialects, named after their database/sql driver
const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite3"
	DialectMySQL    = "mysql"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// ErrInvalidTable is returned for table names that are not plain identifiers
var ErrInvalidTable = errors.New("invalid table name")

// SQLStore implements Store on a relational database. Each (image, field)
// pair is one row whose value holds the field's attribute JSON, so that
// the stored shape matches the DynamoDB item exactly.
type SQLStore struct {
	db      *sql.DB
	dialect string

	mu    sync.Mutex
	ready map[string]bool
}

// NewSQLStore creates a record store on db using the given dialect
func NewSQLStore(db *sql.DB, dialect string) (*SQLStore, error) {
	switch dialect {
	case DialectPostgres, DialectSQLite, DialectMySQL:
	default:
		return nil, fmt.Errorf("unsupported SQL dialect %q", dialect)
	}
	return &SQLStore{db: db, dialect: dialect, ready: make(map[string]bool)}, nil
}

func (s *SQLStore) placeholder(n int) string {
	if s.dialect == DialectPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (s *SQLStore) ensureTable(ctx context.Context, table string) error {
	if !tableNamePattern.MatchString(table) {
		return fmt.Errorf("%w: %q", ErrInvalidTable, table)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready[table] {
		return nil
	}

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	image_name VARCHAR(255) NOT NULL,
	field VARCHAR(255) NOT NULL,
	value TEXT NOT NULL,
	PRIMARY KEY (image_name, field)
)`, table)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create table %s: %w", table, err)
	}
	s.ready[table] = true
	return nil
}

// PutResults upserts one field of the image's row
func (s *SQLStore) PutResults(ctx context.Context, table, imageName, field string, entries []pipeline.DetectionEntry) error {
	if err := s.ensureTable(ctx, table); err != nil {
		return err
	}

	var codec Codec
	av, err := codec.EncodeEntries(entries)
	if err != nil {
		return err
	}
	value, err := MarshalAttributeJSON(av)
	if err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (image_name, field, value) VALUES (%s, %s, %s)",
		table, s.placeholder(1), s.placeholder(2), s.placeholder(3))
	if s.dialect == DialectMySQL {
		b.WriteString(" ON DUPLICATE KEY UPDATE value = VALUES(value)")
	} else {
		b.WriteString(" ON CONFLICT (image_name, field) DO UPDATE SET value = excluded.value")
	}

	if _, err := s.db.ExecContext(ctx, b.String(), imageName, field, string(value)); err != nil {
		return fmt.Errorf("failed to upsert %s/%s.%s: %w", table, imageName, field, err)
	}
	return nil
}

// GetRecord reads every field stored for imageName
func (s *SQLStore) GetRecord(ctx context.Context, table, imageName string) (*pipeline.ResultRecord, error) {
	if err := s.ensureTable(ctx, table); err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT field, value FROM %s WHERE image_name = %s", table, s.placeholder(1))
	rows, err := s.db.QueryContext(ctx, query, imageName)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s/%s: %w", table, imageName, err)
	}
	defer rows.Close()

	var codec Codec
	rec := &pipeline.ResultRecord{ImageName: imageName, Fields: make(map[string][]pipeline.DetectionEntry)}
	for rows.Next() {
		var field, value string
		if err := rows.Scan(&field, &value); err != nil {
			return nil, fmt.Errorf("failed to scan %s/%s: %w", table, imageName, err)
		}
		av, err := UnmarshalAttributeJSON([]byte(value))
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", field, err)
		}
		entries, err := codec.DecodeEntries(av)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", field, err)
		}
		rec.Fields[field] = entries
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s/%s: %w", table, imageName, err)
	}

	if len(rec.Fields) == 0 {
		return nil, fmt.Errorf("%w: %s/%s", ErrRecordNotFound, table, imageName)
	}
	return rec, nil
}
