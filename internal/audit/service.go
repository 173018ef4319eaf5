package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
// No Update/Delete methods are provided by design.

type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service logs internal audit information.
//
// IMPORTANT:
// - Audit is internal-only. Do not expose these records to end users by default.
// - Callers should treat audit logging as best-effort.

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

// LogFraudFlag records a client-reported duration that disagrees with the
// server duration beyond tolerance.
func (s *Service) LogFraudFlag(ctx context.Context, callID, reporterUserID string, serverSeconds, clientSeconds int) error {
	return s.Append(ctx, Event{
		Type:        EventTypeFraudFlag,
		ActorUserID: reporterUserID,
		CallID:      callID,
		Message:     "client duration disagrees with server duration",
		Metadata:    fmt.Sprintf(`{"server_seconds":%d,"client_seconds":%d}`, serverSeconds, clientSeconds),
	})
}

// LogForcedTermination records a session ended by the platform rather than
// a participant's explicit end.
func (s *Service) LogForcedTermination(ctx context.Context, callID, reason string) error {
	return s.Append(ctx, Event{
		Type:        EventTypeForcedTermination,
		ActorUserID: "system",
		CallID:      callID,
		Message:     "call force-terminated",
		Metadata:    fmt.Sprintf(`{"reason":%q}`, reason),
	})
}

// LogAdminAction records a privileged action (preference overrides, manual
// wallet adjustments) performed through the admin surface.
func (s *Service) LogAdminAction(ctx context.Context, actorUserID, actorRole, targetUserID, message, metadata string) error {
	return s.Append(ctx, Event{
		Type:        EventTypeAdminAction,
		ActorUserID: actorUserID,
		ActorRole:   actorRole,
		UserID:      targetUserID,
		Message:     message,
		Metadata:    metadata,
	})
}
