package sqlite

import (
	"database/sql"
	"errors"

	"github.com/opsbooks/opsbooks/internal/domain"
)

// ─── Account Operations ─────────────────────────────────────────────────────

// UpsertAccount inserts or updates a chart-of-accounts entry.
func (db *DB) UpsertAccount(a domain.Account) error {
	_, err := db.db.Exec(`
		INSERT INTO accounts (id, name, type, subtype, normal_balance, is_cash, cash_flow_section)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name              = excluded.name,
			type              = excluded.type,
			subtype           = excluded.subtype,
			normal_balance    = excluded.normal_balance,
			is_cash           = excluded.is_cash,
			cash_flow_section = excluded.cash_flow_section
	`, a.ID, a.Name, string(a.Type), a.Subtype, string(a.NormalBalance), boolInt(a.IsCash), string(a.CashFlowSection))
	return err
}

// GetAccount retrieves one account.
func (db *DB) GetAccount(id string) (*domain.Account, error) {
	row := db.db.QueryRow(`
		SELECT id, name, type, subtype, normal_balance, is_cash, cash_flow_section
		FROM accounts WHERE id = ?
	`, id)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrAccountNotFound
	}
	return a, err
}

// ListAccounts returns all accounts ordered by name.
func (db *DB) ListAccounts() ([]domain.Account, error) {
	rows, err := db.db.Query(`
		SELECT id, name, type, subtype, normal_balance, is_cash, cash_flow_section
		FROM accounts ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// CashAccountIDs returns the ids of all cash accounts, ordered.
func (db *DB) CashAccountIDs() ([]string, error) {
	rows, err := db.db.Query(`SELECT id FROM accounts WHERE is_cash = 1 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(r rowScanner) (*domain.Account, error) {
	var a domain.Account
	var typ, normal, section string
	var isCash int
	if err := r.Scan(&a.ID, &a.Name, &typ, &a.Subtype, &normal, &isCash, &section); err != nil {
		return nil, err
	}
	a.Type = domain.AccountType(typ)
	a.NormalBalance = domain.NormalBalance(normal)
	a.IsCash = isCash == 1
	a.CashFlowSection = domain.CashFlowSection(section)
	return &a, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
