package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zmartlabs/zmart-engine/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

// Upsert inserts or updates a single market snapshot.
func (s *MarketStore) Upsert(ctx context.Context, m domain.Market) error {
	const query = `
		INSERT INTO markets (
			id, address, creator, question, state,
			proposed_outcome, winning_outcome,
			b, q_yes, q_no, initial_liquidity, current_liquidity,
			yes_price, no_price, total_volume,
			protocol_fees, creator_fees, staker_fees, creator_fees_claimed,
			total_claimed, resolution_deadline, dispute_window_end,
			dispute_initiator, created_at, approved_at, activated_at,
			resolved_at, finalized_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7,
			$8, $9, $10, $11, $12,
			$13, $14, $15,
			$16, $17, $18, $19,
			$20, $21, $22,
			$23, $24, $25, $26,
			$27, $28, NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			state                = EXCLUDED.state,
			proposed_outcome     = EXCLUDED.proposed_outcome,
			winning_outcome      = EXCLUDED.winning_outcome,
			q_yes                = EXCLUDED.q_yes,
			q_no                 = EXCLUDED.q_no,
			current_liquidity    = EXCLUDED.current_liquidity,
			yes_price            = EXCLUDED.yes_price,
			no_price             = EXCLUDED.no_price,
			total_volume         = EXCLUDED.total_volume,
			protocol_fees        = EXCLUDED.protocol_fees,
			creator_fees         = EXCLUDED.creator_fees,
			staker_fees          = EXCLUDED.staker_fees,
			creator_fees_claimed = EXCLUDED.creator_fees_claimed,
			total_claimed        = EXCLUDED.total_claimed,
			resolution_deadline  = EXCLUDED.resolution_deadline,
			dispute_window_end   = EXCLUDED.dispute_window_end,
			dispute_initiator    = EXCLUDED.dispute_initiator,
			approved_at          = EXCLUDED.approved_at,
			activated_at         = EXCLUDED.activated_at,
			resolved_at          = EXCLUDED.resolved_at,
			finalized_at         = EXCLUDED.finalized_at,
			updated_at           = NOW()`

	var windowEnd *time.Time
	if !m.DisputeWindowEnd.IsZero() {
		windowEnd = &m.DisputeWindowEnd
	}

	_, err := s.pool.Exec(ctx, query,
		m.ID, m.Address.Hex(), m.Creator.Hex(), m.Question, string(m.State),
		int16(m.ProposedOutcome), int16(m.WinningOutcome),
		m.B, m.QYes, m.QNo, m.InitialLiquidity, m.CurrentLiquidity,
		m.YesPrice, m.NoPrice, m.TotalVolume,
		m.ProtocolFeesCollected, m.CreatorFeesCollected, m.StakerFeesCollected, m.CreatorFeesClaimed,
		m.TotalClaimed, m.ResolutionDeadline, windowEnd,
		m.DisputeInitiator.Hex(), m.CreatedAt, m.ApprovedAt, m.ActivatedAt,
		m.ResolvedAt, m.FinalizedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert market %d: %w", m.ID, err)
	}
	return nil
}

const marketCols = `id, address, creator, question, state,
	proposed_outcome, winning_outcome,
	b, q_yes, q_no, initial_liquidity, current_liquidity,
	yes_price, no_price, total_volume,
	protocol_fees, creator_fees, staker_fees, creator_fees_claimed,
	total_claimed, resolution_deadline, dispute_window_end,
	dispute_initiator, created_at, approved_at, activated_at,
	resolved_at, finalized_at`

// scanMarket scans a single market row into a domain.Market.
func scanMarket(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	var address, creator, state, initiator string
	var proposed, winning int16
	var windowEnd *time.Time
	err := row.Scan(
		&m.ID, &address, &creator, &m.Question, &state,
		&proposed, &winning,
		&m.B, &m.QYes, &m.QNo, &m.InitialLiquidity, &m.CurrentLiquidity,
		&m.YesPrice, &m.NoPrice, &m.TotalVolume,
		&m.ProtocolFeesCollected, &m.CreatorFeesCollected, &m.StakerFeesCollected, &m.CreatorFeesClaimed,
		&m.TotalClaimed, &m.ResolutionDeadline, &windowEnd,
		&initiator, &m.CreatedAt, &m.ApprovedAt, &m.ActivatedAt,
		&m.ResolvedAt, &m.FinalizedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.Address = common.HexToAddress(address)
	m.Creator = common.HexToAddress(creator)
	m.State = domain.MarketState(state)
	m.ProposedOutcome = domain.Outcome(proposed)
	m.WinningOutcome = domain.Outcome(winning)
	m.DisputeInitiator = common.HexToAddress(initiator)
	if windowEnd != nil {
		m.DisputeWindowEnd = *windowEnd
	}
	return m, nil
}

// GetByID retrieves a market by its primary key.
func (s *MarketStore) GetByID(ctx context.Context, id uint64) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %d: %w", id, err)
	}
	return m, nil
}

// ListByState returns markets in the given state with pagination and optional
// time filtering.
func (s *MarketStore) ListByState(ctx context.Context, state domain.MarketState, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets WHERE state = $1`
	args := []any{string(state)}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets by state: %w", err)
	}
	defer rows.Close()

	markets, err := collectMarkets(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets by state: %w", err)
	}
	return markets, nil
}

// ListResolvable returns resolving markets whose dispute window has closed,
// oldest window end first.
func (s *MarketStore) ListResolvable(ctx context.Context, now time.Time, limit int) ([]domain.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketCols+` FROM markets
		 WHERE state = 'resolving' AND dispute_window_end <= $1
		 ORDER BY dispute_window_end ASC
		 LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list resolvable markets: %w", err)
	}
	defer rows.Close()

	markets, err := collectMarkets(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list resolvable markets: %w", err)
	}
	return markets, nil
}

func collectMarkets(rows pgx.Rows) ([]domain.Market, error) {
	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return markets, nil
}

// Count returns the total number of markets in the database.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM markets").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return count, nil
}
