package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"yakkl-background/internal/domain"

	"github.com/lib/pq"
)

// ConnectionRepository implements domain.ConnectionRepository for PostgreSQL
type ConnectionRepository struct {
	db *sql.DB
	tx *TxManager
}

// NewConnectionRepository creates a new PostgreSQL connection repository
func NewConnectionRepository(db *sql.DB) *ConnectionRepository {
	return &ConnectionRepository{db: db, tx: NewTxManager(db)}
}

// Get retrieves the record for an already normalized domain
func (r *ConnectionRepository) Get(ctx context.Context, domainName string) (*domain.DomainConnection, error) {
	query := `
		SELECT domain, status, addresses, updated_at
		FROM connected_domains
		WHERE domain = $1
	`
	conn := &domain.DomainConnection{}
	var addresses pq.StringArray
	err := r.db.QueryRowContext(ctx, query, domainName).Scan(
		&conn.Domain,
		&conn.Status,
		&addresses,
		&conn.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrConnectionNotFound
	}
	if err != nil {
		return nil, err
	}
	conn.Addresses = []string(addresses)
	return conn, nil
}

// Upsert stores the record and keeps the per-account back references in step
// with it: approved domains are linked to their addresses, other states are
// linked to none.
func (r *ConnectionRepository) Upsert(ctx context.Context, conn *domain.DomainConnection) error {
	addresses := conn.Addresses
	if addresses == nil {
		addresses = []string{}
	}

	return r.tx.WithTx(ctx, func(tx *sql.Tx) error {
		upsert := `
			INSERT INTO connected_domains (domain, status, addresses, updated_at)
			VALUES ($1, $2, $3, NOW())
			ON CONFLICT (domain) DO UPDATE
			SET status = EXCLUDED.status,
				addresses = EXCLUDED.addresses,
				updated_at = EXCLUDED.updated_at
			RETURNING updated_at
		`
		if err := tx.QueryRowContext(ctx, upsert,
			conn.Domain,
			string(conn.Status),
			pq.Array(addresses),
		).Scan(&conn.UpdatedAt); err != nil {
			if IsCheckViolation(err, "") {
				return fmt.Errorf("%w: %q", domain.ErrInvalidStatus, conn.Status)
			}
			return fmt.Errorf("failed to upsert connection: %w", err)
		}

		linked := addresses
		if conn.Status != domain.StatusApproved {
			linked = []string{}
		}

		unlink := `
			DELETE FROM account_connected_domains
			WHERE domain = $1 AND NOT (address = ANY($2))
		`
		if _, err := tx.ExecContext(ctx, unlink, conn.Domain, pq.Array(linked)); err != nil {
			return fmt.Errorf("failed to unlink accounts: %w", err)
		}

		if len(linked) == 0 {
			return nil
		}

		link := `
			INSERT INTO account_connected_domains (address, domain)
			SELECT unnest($1::text[]), $2
			ON CONFLICT (address, domain) DO NOTHING
		`
		if _, err := tx.ExecContext(ctx, link, pq.Array(linked), conn.Domain); err != nil {
			return fmt.Errorf("failed to link accounts: %w", err)
		}
		return nil
	})
}

// List retrieves every domain record
func (r *ConnectionRepository) List(ctx context.Context) ([]*domain.DomainConnection, error) {
	query := `
		SELECT domain, status, addresses, updated_at
		FROM connected_domains
		ORDER BY domain
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	conns := make([]*domain.DomainConnection, 0)
	for rows.Next() {
		conn := &domain.DomainConnection{}
		var addresses pq.StringArray
		if err := rows.Scan(&conn.Domain, &conn.Status, &addresses, &conn.UpdatedAt); err != nil {
			return nil, err
		}
		conn.Addresses = []string(addresses)
		conns = append(conns, conn)
	}

	return conns, rows.Err()
}

// Revoke deletes the domain record and strips the domain from every
// account's connected-domains list in one transaction.
func (r *ConnectionRepository) Revoke(ctx context.Context, domainName string) error {
	return r.tx.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM account_connected_domains WHERE domain = $1`,
			domainName,
		); err != nil {
			return fmt.Errorf("failed to remove account references: %w", err)
		}

		result, err := tx.ExecContext(ctx,
			`DELETE FROM connected_domains WHERE domain = $1`,
			domainName,
		)
		if err != nil {
			return fmt.Errorf("failed to remove connection: %w", err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return domain.ErrConnectionNotFound
		}
		return nil
	})
}

// AccountDomains returns the domains connected to an address
func (r *ConnectionRepository) AccountDomains(ctx context.Context, address string) ([]string, error) {
	query := `
		SELECT domain
		FROM account_connected_domains
		WHERE address = $1
		ORDER BY domain
	`

	rows, err := r.db.QueryContext(ctx, query, address)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	domains := make([]string, 0)
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		domains = append(domains, d)
	}

	return domains, rows.Err()
}
