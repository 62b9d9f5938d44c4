package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zmartlabs/zmart-engine/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// Upsert inserts or updates a position keyed by (market, owner).
func (s *PositionStore) Upsert(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			market_id, owner, address,
			yes_shares, no_shares, cost_basis, claimed,
			created_at, updated_at
		) VALUES (
			$1, $2, $3,
			$4, $5, $6, $7,
			$8, NOW()
		)
		ON CONFLICT (market_id, owner) DO UPDATE SET
			yes_shares = EXCLUDED.yes_shares,
			no_shares  = EXCLUDED.no_shares,
			cost_basis = EXCLUDED.cost_basis,
			claimed    = EXCLUDED.claimed,
			updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query,
		p.MarketID, p.Owner.Hex(), p.Address.Hex(),
		p.YesShares, p.NoShares, p.CostBasis, p.Claimed,
		p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position market=%d owner=%s: %w", p.MarketID, p.Owner, err)
	}
	return nil
}

const positionCols = `market_id, owner, address,
	yes_shares, no_shares, cost_basis, claimed,
	created_at, updated_at`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var owner, address string
	err := row.Scan(
		&p.MarketID, &owner, &address,
		&p.YesShares, &p.NoShares, &p.CostBasis, &p.Claimed,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Owner = common.HexToAddress(owner)
	p.Address = common.HexToAddress(address)
	return p, nil
}

// Get retrieves the position one owner holds in one market.
func (s *PositionStore) Get(ctx context.Context, marketID uint64, owner common.Address) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionCols+` FROM positions WHERE market_id = $1 AND owner = $2`,
		marketID, owner.Hex())
	p, err := scanPosition(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position market=%d owner=%s: %w", marketID, owner, err)
	}
	return p, nil
}

// ListByOwner returns all positions held by one owner, most recently updated first.
func (s *PositionStore) ListByOwner(ctx context.Context, owner common.Address, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionCols + ` FROM positions WHERE owner = $1 ORDER BY updated_at DESC`
	args := []any{owner.Hex()}
	query, args = appendPage(query, args, opts, 2)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions by owner %s: %w", owner, err)
	}
	defer rows.Close()

	positions, err := collectPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions by owner %s: %w", owner, err)
	}
	return positions, nil
}

// ListByMarket returns all positions in one market, largest cost basis first.
func (s *PositionStore) ListByMarket(ctx context.Context, marketID uint64, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionCols + ` FROM positions WHERE market_id = $1 ORDER BY cost_basis DESC`
	args := []any{marketID}
	query, args = appendPage(query, args, opts, 2)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions by market %d: %w", marketID, err)
	}
	defer rows.Close()

	positions, err := collectPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions by market %d: %w", marketID, err)
	}
	return positions, nil
}

func collectPositions(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return positions, nil
}

// appendPage adds LIMIT and OFFSET clauses for the given ListOpts, numbering
// placeholders from argIdx.
func appendPage(query string, args []any, opts domain.ListOpts, argIdx int) (string, []any) {
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}
	return query, args
}
