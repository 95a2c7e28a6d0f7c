package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/soochol/tradeflow/internal/tradeflow"
)

const credentialColumns = `id, name, type, host, login, password, token, extras`

func (d *DB) CreateCredential(ctx context.Context, c *tradeflow.Credential) error {
	extrasJSON, _ := json.Marshal(c.Extras)
	_, err := d.Pool.ExecContext(ctx,
		`INSERT INTO credentials (`+credentialColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.Name, string(c.Type), c.Host, c.Login, c.Password, c.Token, extrasJSON,
	)
	if err != nil {
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}

func (d *DB) GetCredential(ctx context.Context, id string) (*tradeflow.Credential, error) {
	c, err := scanCredential(d.Pool.QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE id = $1`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("credential %s: %w", id, ErrNoRows)
	}
	if err != nil {
		return nil, fmt.Errorf("get credential: %w", err)
	}
	return c, nil
}

func (d *DB) ListCredentials(ctx context.Context) ([]*tradeflow.Credential, error) {
	rows, err := d.Pool.QueryContext(ctx,
		`SELECT `+credentialColumns+` FROM credentials ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var result []*tradeflow.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func (d *DB) UpdateCredential(ctx context.Context, c *tradeflow.Credential) error {
	extrasJSON, _ := json.Marshal(c.Extras)
	_, err := d.Pool.ExecContext(ctx,
		`UPDATE credentials SET name=$1, type=$2, host=$3, login=$4, password=$5, token=$6, extras=$7 WHERE id=$8`,
		c.Name, string(c.Type), c.Host, c.Login, c.Password, c.Token, extrasJSON, c.ID,
	)
	if err != nil {
		return fmt.Errorf("update credential: %w", err)
	}
	return nil
}

func (d *DB) DeleteCredential(ctx context.Context, id string) error {
	_, err := d.Pool.ExecContext(ctx, `DELETE FROM credentials WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}

func scanCredential(row rowScanner) (*tradeflow.Credential, error) {
	c := &tradeflow.Credential{}
	var credType string
	var extrasJSON []byte
	if err := row.Scan(&c.ID, &c.Name, &credType, &c.Host, &c.Login, &c.Password, &c.Token, &extrasJSON); err != nil {
		return nil, err
	}
	c.Type = tradeflow.CredentialType(credType)
	json.Unmarshal(extrasJSON, &c.Extras)
	return c, nil
}
