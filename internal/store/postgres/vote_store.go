package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zmartlabs/zmart-engine/internal/domain"
)

// VoteStore implements domain.VoteStore using PostgreSQL.
type VoteStore struct {
	pool *pgxpool.Pool
}

// NewVoteStore creates a new VoteStore backed by the given connection pool.
func NewVoteStore(pool *pgxpool.Pool) *VoteStore {
	return &VoteStore{pool: pool}
}

// Insert records a ballot. Re-inserting the same (market, voter, kind) is a
// no-op; the engine already rejects duplicate casts.
func (s *VoteStore) Insert(ctx context.Context, rec domain.VoteRecord) error {
	const query = `
		INSERT INTO votes (market_id, voter, kind, address, approve, cast_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (market_id, voter, kind) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		rec.MarketID, rec.Voter.Hex(), string(rec.Kind),
		rec.Address.Hex(), rec.Approve, rec.CastAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert vote market=%d voter=%s: %w", rec.MarketID, rec.Voter, err)
	}
	return nil
}

const voteCols = `market_id, voter, kind, address, approve, cast_at`

func scanVote(row pgx.Row) (domain.VoteRecord, error) {
	var rec domain.VoteRecord
	var voter, kind, address string
	err := row.Scan(&rec.MarketID, &voter, &kind, &address, &rec.Approve, &rec.CastAt)
	if err != nil {
		return domain.VoteRecord{}, err
	}
	rec.Voter = common.HexToAddress(voter)
	rec.Kind = domain.VoteKind(kind)
	rec.Address = common.HexToAddress(address)
	return rec, nil
}

// Get retrieves one voter's ballot in one round.
func (s *VoteStore) Get(ctx context.Context, marketID uint64, voter common.Address, kind domain.VoteKind) (domain.VoteRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+voteCols+` FROM votes WHERE market_id = $1 AND voter = $2 AND kind = $3`,
		marketID, voter.Hex(), string(kind))
	rec, err := scanVote(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.VoteRecord{}, domain.ErrNotFound
		}
		return domain.VoteRecord{}, fmt.Errorf("postgres: get vote market=%d voter=%s: %w", marketID, voter, err)
	}
	return rec, nil
}

// Tally aggregates one voting round.
func (s *VoteStore) Tally(ctx context.Context, marketID uint64, kind domain.VoteKind) (domain.VoteTally, error) {
	var t domain.VoteTally
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FILTER (WHERE approve), COUNT(*)
		 FROM votes WHERE market_id = $1 AND kind = $2`,
		marketID, string(kind)).Scan(&t.Approvals, &t.Total)
	if err != nil {
		return domain.VoteTally{}, fmt.Errorf("postgres: tally votes market=%d kind=%s: %w", marketID, kind, err)
	}
	return t, nil
}

// ListByMarket returns the ballots of one round in cast order.
func (s *VoteStore) ListByMarket(ctx context.Context, marketID uint64, kind domain.VoteKind, opts domain.ListOpts) ([]domain.VoteRecord, error) {
	query := `SELECT ` + voteCols + ` FROM votes WHERE market_id = $1 AND kind = $2 ORDER BY cast_at ASC`
	args := []any{marketID, string(kind)}
	query, args = appendPage(query, args, opts, 3)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list votes market=%d kind=%s: %w", marketID, kind, err)
	}
	defer rows.Close()

	var votes []domain.VoteRecord
	for rows.Next() {
		rec, err := scanVote(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan vote: %w", err)
		}
		votes = append(votes, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list votes market=%d kind=%s: %w", marketID, kind, err)
	}
	return votes, nil
}
