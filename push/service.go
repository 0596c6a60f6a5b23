package push

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/linesmerrill/bloodbond-api/logging"
	"github.com/linesmerrill/bloodbond-api/models"
)

const defaultPageSize = 500

// TokenStore is the part of registry.Registry the service reads and retires tokens through
type TokenStore interface {
	ListActiveTokens(ctx context.Context, userID string) ([]models.PushToken, error)
	ListRealTokens(ctx context.Context, skip, limit int64) ([]models.PushToken, error)
	DeactivateTokens(ctx context.Context, tokens []string) error
}

// Service routes real tokens to their provider. Fallback tokens are never sent.
type Service struct {
	Tokens TokenStore
	Expo   Provider
	// FCM may be nil when no firebase credentials are configured
	FCM      Provider
	PageSize int64
	Log      *zap.SugaredLogger
}

// NewService returns a Service over the given providers
func NewService(tokens TokenStore, expo, fcm Provider) *Service {
	return &Service{
		Tokens:   tokens,
		Expo:     expo,
		FCM:      fcm,
		PageSize: defaultPageSize,
		Log:      logging.Named("push"),
	}
}

func (s *Service) log() *zap.SugaredLogger {
	return logging.OrNamed(s.Log, "push")
}

// SendToUser sends msg to every active real token of userID
func (s *Service) SendToUser(ctx context.Context, userID string, msg Message) (Report, error) {
	if userID == "" {
		return Report{}, fmt.Errorf("%w: userId is required", models.ErrInvalidArgument)
	}
	tokens, err := s.Tokens.ListActiveTokens(ctx, userID)
	if err != nil {
		return Report{}, err
	}
	report, err := s.SendToTokens(ctx, tokens, msg)
	if err != nil {
		return report, err
	}
	if report.Sent+report.Failed == 0 {
		return report, fmt.Errorf("%w: user %s has no deliverable tokens", models.ErrNoTokens, userID)
	}
	return report, nil
}

// SendToTokens splits tokens by provider, sends, and deactivates the rejected ones
func (s *Service) SendToTokens(ctx context.Context, tokens []models.PushToken, msg Message) (Report, error) {
	var expo, fcm []string
	for _, t := range tokens {
		if t.TokenKind().IsFallback() {
			continue
		}
		if IsExpoToken(t.Token) {
			expo = append(expo, t.Token)
		} else {
			fcm = append(fcm, t.Token)
		}
	}

	var report Report
	if err := s.sendVia(ctx, s.Expo, "expo", expo, msg, &report); err != nil {
		return report, err
	}
	if err := s.sendVia(ctx, s.FCM, "fcm", fcm, msg, &report); err != nil {
		return report, err
	}

	if len(report.Rejected) > 0 {
		if err := s.Tokens.DeactivateTokens(ctx, report.Rejected); err != nil {
			s.log().Errorw("failed to deactivate rejected tokens", "count", len(report.Rejected), "error", err)
			// Rejected lists retired tokens only
			report.Rejected = nil
		} else {
			s.log().Infow("deactivated rejected tokens", "count", len(report.Rejected))
		}
	}
	return report, nil
}

func (s *Service) sendVia(ctx context.Context, p Provider, name string, tokens []string, msg Message, report *Report) error {
	if len(tokens) == 0 {
		return nil
	}
	if p == nil {
		s.log().Warnw("no provider configured, skipping tokens", "provider", name, "count", len(tokens))
		report.Failed += len(tokens)
		return nil
	}
	r, err := p.Send(ctx, tokens, msg)
	if err != nil {
		return fmt.Errorf("%w: %s send failed: %v", models.ErrUnavailable, name, err)
	}
	report.add(r)
	return nil
}

// FanOut sends a broadcast to every active real token, one page at a time. A failed page
// is counted and the fan-out continues. Tokens retired mid-run shift the paging window,
// so the offset only advances past the tokens still active.
func (s *Service) FanOut(ctx context.Context, b models.Broadcast) (Report, error) {
	msg := Message{Title: b.Title, Body: b.Body, Data: b.Data}
	limit := s.PageSize
	if limit <= 0 {
		limit = defaultPageSize
	}

	var report Report
	for skip := int64(0); ; {
		page, err := s.Tokens.ListRealTokens(ctx, skip, limit)
		if err != nil {
			return report, err
		}
		r, err := s.SendToTokens(ctx, page, msg)
		if err != nil {
			s.log().Errorw("broadcast page failed", "broadcastId", b.ID.Hex(), "skip", skip, "error", err)
			r.Failed += len(page)
		}
		report.add(r)
		if int64(len(page)) < limit {
			break
		}
		skip += int64(len(page) - len(r.Rejected))
	}
	s.log().Infow("broadcast fan-out complete", "broadcastId", b.ID.Hex(), "sent", report.Sent, "failed", report.Failed)
	return report, nil
}
