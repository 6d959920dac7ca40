package usage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/WessleyAI/wessley-garage/pkg/natsutil"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// SubjectTracked is the NATS subject every tracked event is published on.
const SubjectTracked = "garage.usage.tracked"

// Store persists usage events and tier assignments.
type Store interface {
	// Tier resolves the user's effective tier at now: the most recent
	// unexpired override, else the assigned tier, else FreeTier.
	Tier(ctx context.Context, userID string, now time.Time) (Tier, error)
	// Count returns how many times userID performed action since the
	// given instant.
	Count(ctx context.Context, userID string, action Action, since time.Time) (int, error)
	Record(ctx context.Context, e Event) error
}

// Limiter checks and tracks usage against tier limits.
type Limiter struct {
	store  Store
	pub    natsutil.MsgPublisher
	now    func() time.Time
	logger *slog.Logger
}

// NewLimiter creates a Limiter. pub may be nil to skip event publishing.
func NewLimiter(store Store, pub natsutil.MsgPublisher, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{store: store, pub: pub, now: time.Now, logger: logger}
}

// CheckLimit reports whether userID may perform action now. Store failures
// allow the action; only a done ctx is returned as an error.
func (l *Limiter) CheckLimit(ctx context.Context, userID string, action Action) (Decision, error) {
	ctx, span := otel.Tracer("garage/usage").Start(ctx, "usage.CheckLimit")
	defer span.End()
	span.SetAttributes(attribute.String("action", string(action)))

	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}
	d, err := l.check(ctx, userID, action)
	if err != nil {
		if ctx.Err() != nil {
			return Decision{}, ctx.Err()
		}
		l.logger.Warn("usage: limit check failed, allowing", "user_id", userID, "action", action, "err", err)
		return allow, nil
	}
	span.SetAttributes(attribute.Bool("allowed", d.Allowed))
	return d, nil
}

func (l *Limiter) check(ctx context.Context, userID string, action Action) (Decision, error) {
	now := l.now()
	tier, err := l.store.Tier(ctx, userID, now)
	if err != nil {
		return Decision{}, fmt.Errorf("usage: tier: %w", err)
	}
	lim := LimitsFor(tier)

	switch action {
	case ActionAsk:
		if lim.DailyAsks != Unlimited {
			used, err := l.store.Count(ctx, userID, ActionAsk, dayStart(now))
			if err != nil {
				return Decision{}, fmt.Errorf("usage: count daily asks: %w", err)
			}
			if used >= lim.DailyAsks {
				return deny(fmt.Sprintf("Daily limit reached (%d/%d questions used). Upgrade to Weekend Warrior for 50 questions a month.", used, lim.DailyAsks)), nil
			}
		}
		if lim.MonthlyAsks != Unlimited {
			used, err := l.store.Count(ctx, userID, ActionAsk, monthStart(now))
			if err != nil {
				return Decision{}, fmt.Errorf("usage: count monthly asks: %w", err)
			}
			if used >= lim.MonthlyAsks {
				return deny(fmt.Sprintf("Monthly limit reached (%d/%d questions used). Upgrade to Master Tech for unlimited questions.", used, lim.MonthlyAsks)), nil
			}
		}
	case ActionDocumentUpload:
		if lim.DocumentUploads == Unlimited {
			break
		}
		if lim.DocumentUploads == 0 {
			return deny("Document uploads are not included in your plan. Upgrade to Weekend Warrior for document uploads."), nil
		}
		used, err := l.store.Count(ctx, userID, ActionDocumentUpload, time.Time{})
		if err != nil {
			return Decision{}, fmt.Errorf("usage: count uploads: %w", err)
		}
		if used >= lim.DocumentUploads {
			return deny(fmt.Sprintf("Document upload limit reached (%d/%d). Upgrade to Master Tech for unlimited documents.", used, lim.DocumentUploads)), nil
		}
	}
	return allow, nil
}

// CheckVehicleLimit reports whether userID, who owns count vehicles, may
// add another. Store failures allow it.
func (l *Limiter) CheckVehicleLimit(ctx context.Context, userID string, count int) (Decision, error) {
	tier, err := l.store.Tier(ctx, userID, l.now())
	if err != nil {
		if ctx.Err() != nil {
			return Decision{}, ctx.Err()
		}
		l.logger.Warn("usage: vehicle limit check failed, allowing", "user_id", userID, "err", err)
		return allow, nil
	}
	limit := LimitsFor(tier).Vehicles
	if limit != Unlimited && count >= limit {
		return deny(fmt.Sprintf("Vehicle limit reached (%d/%d). Upgrade for unlimited vehicles.", count, limit)), nil
	}
	return allow, nil
}

// Track records one use of action and publishes it on SubjectTracked.
// Publishing is best-effort; only a failed write is returned.
func (l *Limiter) Track(ctx context.Context, userID string, action Action, metadata map[string]string) error {
	e := Event{UserID: userID, Action: action, Metadata: metadata, At: l.now().UTC()}
	if err := l.store.Record(ctx, e); err != nil {
		return fmt.Errorf("usage: track %s: %w", action, err)
	}
	if l.pub != nil {
		if err := natsutil.Publish(ctx, l.pub, SubjectTracked, e); err != nil {
			l.logger.Warn("usage: publish tracked event failed", "user_id", userID, "action", action, "err", err)
		}
	}
	return nil
}

// Stats summarises userID's usage for today and the current month.
func (l *Limiter) Stats(ctx context.Context, userID string) (Stats, error) {
	now := l.now()
	tier, err := l.store.Tier(ctx, userID, now)
	if err != nil {
		return Stats{}, fmt.Errorf("usage: stats: %w", err)
	}
	s := Stats{UserID: userID, Tier: tier, Limits: LimitsFor(tier)}
	if s.AsksToday, err = l.store.Count(ctx, userID, ActionAsk, dayStart(now)); err != nil {
		return Stats{}, fmt.Errorf("usage: stats: %w", err)
	}
	if s.AsksMonth, err = l.store.Count(ctx, userID, ActionAsk, monthStart(now)); err != nil {
		return Stats{}, fmt.Errorf("usage: stats: %w", err)
	}
	if s.Uploads, err = l.store.Count(ctx, userID, ActionDocumentUpload, time.Time{}); err != nil {
		return Stats{}, fmt.Errorf("usage: stats: %w", err)
	}
	if s.DocumentSearches, err = l.store.Count(ctx, userID, ActionDocumentSearch, monthStart(now)); err != nil {
		return Stats{}, fmt.Errorf("usage: stats: %w", err)
	}

	switch {
	case s.Limits.DailyAsks != Unlimited:
		r := max(0, s.Limits.DailyAsks-s.AsksToday)
		s.RemainingAsks = &r
	case s.Limits.MonthlyAsks != Unlimited:
		r := max(0, s.Limits.MonthlyAsks-s.AsksMonth)
		s.RemainingAsks = &r
	}
	d, err := l.CheckLimit(ctx, userID, ActionAsk)
	if err != nil {
		return Stats{}, err
	}
	s.CanAsk = d.Allowed
	return s, nil
}
