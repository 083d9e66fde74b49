package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"recruitflow/internal/domain"
)

// Directory looks up the domain entities the automation rules evaluate.
// Rows with a NULL date column never match: an entity that was never
// contacted or has no expiry is skipped, not infinitely overdue.
type Directory interface {
	ExpiringJobs(ctx context.Context, before time.Time) ([]domain.JobRef, error)
	StaleContacts(ctx context.Context, entity domain.EntityType, before time.Time) ([]domain.ContactRef, error)
}

// EntityWriter is the write side of the directory, used by the seeding
// CLI flags and tests. The full recruitment CRUD lives elsewhere.
type EntityWriter interface {
	AddJob(ctx context.Context, j domain.JobRef) (string, error)
	AddContact(ctx context.Context, entity domain.EntityType, c domain.ContactRef) (string, error)
}

type sqliteDirectory struct{ db *sql.DB }

// NewDirectory wraps an opened sqlite handle.
func NewDirectory(db *sql.DB) interface {
	Directory
	EntityWriter
} {
	return &sqliteDirectory{db: db}
}

func (d *sqliteDirectory) ExpiringJobs(ctx context.Context, before time.Time) ([]domain.JobRef, error) {
	rows, err := d.db.QueryContext(ctx, `
SELECT id,title,owner_id,expires_at FROM jobs
WHERE expires_at IS NOT NULL AND expires_at <= ?
ORDER BY expires_at ASC, id ASC`, ts(before))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.JobRef
	for rows.Next() {
		var j domain.JobRef
		var expires sql.NullString
		if err := rows.Scan(&j.ID, &j.Title, &j.OwnerID, &expires); err != nil {
			return nil, err
		}
		if expires.Valid {
			e, err := parseTS(expires.String)
			if err != nil {
				return nil, err
			}
			j.ExpiresAt = &e
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func contactTable(entity domain.EntityType) (string, bool) {
	switch entity {
	case domain.EntityCandidate:
		return "candidates", true
	case domain.EntityCustomer:
		return "customers", true
	case domain.EntityProspect:
		return "prospects", true
	}
	return "", false
}

func (d *sqliteDirectory) StaleContacts(ctx context.Context, entity domain.EntityType, before time.Time) ([]domain.ContactRef, error) {
	table, ok := contactTable(entity)
	if !ok {
		return nil, domain.Invalid("entity_type", "no contact table for "+string(entity))
	}
	rows, err := d.db.QueryContext(ctx, `
SELECT id,name,owner_id,last_contacted_at FROM `+table+`
WHERE last_contacted_at IS NOT NULL AND last_contacted_at <= ?
ORDER BY last_contacted_at ASC, id ASC`, ts(before))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ContactRef
	for rows.Next() {
		var c domain.ContactRef
		var last sql.NullString
		if err := rows.Scan(&c.ID, &c.Name, &c.OwnerID, &last); err != nil {
			return nil, err
		}
		if last.Valid {
			l, err := parseTS(last.String)
			if err != nil {
				return nil, err
			}
			c.LastContactedAt = &l
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (d *sqliteDirectory) AddJob(ctx context.Context, j domain.JobRef) (string, error) {
	id := j.ID
	if id == "" {
		id = "job_" + uuid.NewString()
	}
	_, err := d.db.ExecContext(ctx, `
INSERT INTO jobs (id,title,owner_id,expires_at,created_at) VALUES (?,?,?,?,?)`,
		id, j.Title, j.OwnerID, nullTime(j.ExpiresAt), ts(time.Now()))
	return id, err
}

func (d *sqliteDirectory) AddContact(ctx context.Context, entity domain.EntityType, c domain.ContactRef) (string, error) {
	table, ok := contactTable(entity)
	if !ok {
		return "", domain.Invalid("entity_type", "no contact table for "+string(entity))
	}
	id := c.ID
	if id == "" {
		id = string(entity) + "_" + uuid.NewString()
	}
	_, err := d.db.ExecContext(ctx, `
INSERT INTO `+table+` (id,name,owner_id,last_contacted_at,created_at) VALUES (?,?,?,?,?)`,
		id, c.Name, c.OwnerID, nullTime(c.LastContactedAt), ts(time.Now()))
	return id, err
}
