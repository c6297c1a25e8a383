package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	log "github.com/sirupsen/logrus"

	"nearGoAPI/internal/apperr"
	"nearGoAPI/internal/notification"
)

const (
	codeTTL              = 10 * time.Minute
	verifyIdentityWindow = 15 * time.Minute
	verifyIPWindow       = time.Hour
)

type VerificationConfig struct {
	PerIdentity     int
	PerIP           int
	ConfirmAttempts int
}

type VerificationService struct {
	codes  VerificationStore
	guard  RateGuard
	mailer Mailer
	cfg    VerificationConfig
	now    func() time.Time
}

func NewVerificationService(codes VerificationStore, guard RateGuard, mailer Mailer, cfg VerificationConfig) *VerificationService {
	return &VerificationService{codes: codes, guard: guard, mailer: mailer, cfg: cfg, now: time.Now}
}

// RequestCode emails a fresh 6-digit code. Requests are capped per email and per client IP. Sending
// the email is the point of the call, so a mail failure is reported as upstream.
func (s *VerificationService) RequestCode(ctx context.Context, email, ip string) error {
	email = normalizeEmail(email)

	if d := s.guard.CheckAndIncrement(ctx, "verify_request", email, s.cfg.PerIdentity, verifyIdentityWindow); !d.Allowed {
		return apperr.RateLimited(d.RetryAfter)
	}
	if ip != "" {
		if d := s.guard.CheckAndIncrement(ctx, "verify_request_ip", ip, s.cfg.PerIP, verifyIPWindow); !d.Allowed {
			return apperr.RateLimited(d.RetryAfter)
		}
	}

	code, err := newCode()
	if err != nil {
		return apperr.Internal(err)
	}
	if err := s.codes.Upsert(ctx, email, hashCode(email, code), s.now().Add(codeTTL)); err != nil {
		return apperr.Internal(err)
	}

	err = s.mailer.Send(ctx, notification.Message{
		To:      email,
		Subject: "Your NearGo verification code",
		Text:    fmt.Sprintf("Your code is %s. It expires in %d minutes.\n", code, int(codeTTL.Minutes())),
	})
	if err != nil {
		log.WithError(err).WithField("email", email).Error("Failed to send verification code")
		return apperr.Upstream("email_failed", err)
	}
	return nil
}

// ConfirmCode consumes a code. Each code works once and attempts are capped per email.
func (s *VerificationService) ConfirmCode(ctx context.Context, email, code string) error {
	email = normalizeEmail(email)

	if d := s.guard.CheckAndIncrement(ctx, "verify_confirm", email, s.cfg.ConfirmAttempts, verifyIdentityWindow); !d.Allowed {
		return apperr.RateLimited(d.RetryAfter)
	}

	ok, err := s.codes.Consume(ctx, email, hashCode(email, code), s.now())
	if err != nil {
		return apperr.Internal(err)
	}
	if !ok {
		return apperr.Validation("invalid_code")
	}
	return nil
}

func newCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func hashCode(email, code string) string {
	sum := sha256.Sum256([]byte(email + ":" + code))
	return hex.EncodeToString(sum[:])
}
