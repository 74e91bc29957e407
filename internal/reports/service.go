package reports

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for reports.
//
// It MUST be append-only. No Update/Delete methods are provided.

type Repository interface {
	Append(ctx context.Context, r Report) error
}

var ErrInvalidReport = errors.New("reports: invalid report")

// Service files abuse reports.
//
// Reports are internal-only: they feed moderation review and are never
// served back to participants.

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

// Submit validates, stamps and persists a report. The caller is expected
// to have already confirmed that reporter and reported shared the match.
func (s *Service) Submit(ctx context.Context, r Report) (Report, error) {
	if s.repo == nil {
		return Report{}, errors.New("reports: repository not configured")
	}
	if r.MatchID == "" || r.ReporterID == "" || r.ReportedID == "" {
		return Report{}, ErrInvalidReport
	}
	if r.ReporterID == r.ReportedID {
		return Report{}, ErrInvalidReport
	}
	if r.Reason == "" {
		return Report{}, ErrInvalidReport
	}

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.clock().UTC()
	}
	if err := s.repo.Append(ctx, r); err != nil {
		return Report{}, err
	}
	return r, nil
}
