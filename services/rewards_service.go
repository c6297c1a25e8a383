package services

import (
	"context"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"nearGoAPI/internal/apperr"
	"nearGoAPI/internal/types/entitlement"
	"nearGoAPI/internal/types/reward"
)

type Issuer interface {
	Issue(ctx context.Context, req entitlement.IssueRequest) (*entitlement.IssueResult, error)
}

type RewardsService struct {
	rewards         RewardStore
	issuer          Issuer
	pointsPerCoupon int
}

func NewRewardsService(rewards RewardStore, issuer Issuer, pointsPerCoupon int) *RewardsService {
	return &RewardsService{rewards: rewards, issuer: issuer, pointsPerCoupon: pointsPerCoupon}
}

func (s *RewardsService) Balance(ctx context.Context, email string) (*reward.Account, error) {
	email = normalizeEmail(email)
	points, err := s.rewards.Balance(ctx, email)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return &reward.Account{Email: email, Points: points}, nil
}

// CreditOnce credits points for a purchase identified by ref. Retried deliveries of the same
// purchase credit nothing.
func (s *RewardsService) CreditOnce(ctx context.Context, email string, points int, ref string) (int, error) {
	email = normalizeEmail(email)
	if points <= 0 {
		return s.rewards.Balance(ctx, email)
	}
	balance, _, err := s.rewards.CreditOnce(ctx, email, points, ref)
	return balance, err
}

// Convert trades pointsPerCoupon points for a reward coupon. The debit is a conditional update, so
// two concurrent conversions cannot spend the same points. If issuing fails the points are refunded.
func (s *RewardsService) Convert(ctx context.Context, email string) (*reward.ConvertResult, error) {
	email = normalizeEmail(email)

	remaining, ok, err := s.rewards.Debit(ctx, email, s.pointsPerCoupon)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if !ok {
		return nil, apperr.Conflict("insufficient_points")
	}

	res, err := s.issuer.Issue(ctx, entitlement.IssueRequest{
		Kind:           entitlement.KindCoupon,
		Benefit:        "NearGo rewards coupon",
		PurchaserEmail: email,
		SourceRef:      "reward:" + uuid.NewString(),
	})
	if err != nil {
		if _, refundErr := s.rewards.Credit(ctx, email, s.pointsPerCoupon); refundErr != nil {
			log.WithError(refundErr).WithFields(log.Fields{
				"email":  email,
				"points": s.pointsPerCoupon,
			}).Error("Failed to refund reward points after issue failure")
		}
		return nil, err
	}

	return &reward.ConvertResult{
		PointsSpent:     s.pointsPerCoupon,
		RemainingPoints: remaining,
		Token:           res.Entitlement.Token,
		RedeemURL:       res.RedeemURL,
	}, nil
}
