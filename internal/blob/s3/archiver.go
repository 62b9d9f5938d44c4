package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zmartlabs/zmart-engine/internal/domain"
)

// ArchiveImpl implements domain.Archiver by serializing terminal market
// snapshots and finalization failure reports to JSON and uploading them to
// S3 cold storage.
//
// Archives are write-once: a market reaches a terminal state exactly once,
// so re-uploading the same key on a scheduler retry simply overwrites the
// identical document.
type ArchiveImpl struct {
	writer domain.BlobWriter
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(writer domain.BlobWriter) *ArchiveImpl {
	return &ArchiveImpl{writer: writer}
}

// ArchiveSnapshot uploads the full terminal state of a finalized or
// cancelled market to archive/markets/{id}.json.
func (a *ArchiveImpl) ArchiveSnapshot(ctx context.Context, market domain.Market) error {
	buf, err := marshalJSON(newMarketSnapshot(market))
	if err != nil {
		return fmt.Errorf("s3blob: archive snapshot market %d: %w", market.ID, err)
	}

	path := fmt.Sprintf("archive/markets/%d.json", market.ID)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/json"); err != nil {
		return fmt.Errorf("s3blob: archive snapshot upload market %d: %w", market.ID, err)
	}
	return nil
}

// ArchiveFailureReport uploads a finalization failure report to
// archive/failures/{marketID}/{timestamp}.json.
func (a *ArchiveImpl) ArchiveFailureReport(ctx context.Context, failure domain.FinalizationFailure) error {
	buf, err := marshalJSON(newFailureReport(failure))
	if err != nil {
		return fmt.Errorf("s3blob: archive failure market %d: %w", failure.MarketID, err)
	}

	path := fmt.Sprintf("archive/failures/%d/%s.json",
		failure.MarketID, failure.FailedAt.UTC().Format("2006-01-02T15-04-05"))
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/json"); err != nil {
		return fmt.Errorf("s3blob: archive failure upload market %d: %w", failure.MarketID, err)
	}
	return nil
}

// marketSnapshot is the archived wire form of a terminal market.
type marketSnapshot struct {
	ID               uint64    `json:"id"`
	Address          string    `json:"address"`
	Creator          string    `json:"creator"`
	Question         string    `json:"question"`
	State            string    `json:"state"`
	WinningOutcome   string    `json:"winning_outcome"`
	B                uint64    `json:"b"`
	QYes             uint64    `json:"q_yes"`
	QNo              uint64    `json:"q_no"`
	CurrentLiquidity uint64    `json:"current_liquidity"`
	TotalVolume      uint64    `json:"total_volume"`
	TotalClaimed     uint64    `json:"total_claimed"`
	WasDisputed      bool      `json:"was_disputed"`
	CreatedAt        time.Time `json:"created_at"`
	ArchivedAt       time.Time `json:"archived_at"`
}

func newMarketSnapshot(m domain.Market) marketSnapshot {
	return marketSnapshot{
		ID:               m.ID,
		Address:          m.Address.Hex(),
		Creator:          m.Creator.Hex(),
		Question:         m.Question,
		State:            string(m.State),
		WinningOutcome:   m.WinningOutcome.String(),
		B:                m.B,
		QYes:             m.QYes,
		QNo:              m.QNo,
		CurrentLiquidity: m.CurrentLiquidity,
		TotalVolume:      m.TotalVolume,
		TotalClaimed:     m.TotalClaimed,
		WasDisputed:      m.WasDisputed(),
		CreatedAt:        m.CreatedAt,
		ArchivedAt:       time.Now().UTC(),
	}
}

// failureReport is the archived wire form of a finalization failure.
type failureReport struct {
	MarketID  uint64    `json:"market_id"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error"`
	FailedAt  time.Time `json:"failed_at"`
}

func newFailureReport(f domain.FinalizationFailure) failureReport {
	return failureReport{
		MarketID:  f.MarketID,
		Attempts:  f.Attempts,
		LastError: f.LastError,
		FailedAt:  f.FailedAt,
	}
}

// marshalJSON serialises a value as indented JSON for human inspection.
func marshalJSON(v any) ([]byte, error) {
	buf, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
