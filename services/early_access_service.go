package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"nearGoAPI/internal/apperr"
	"nearGoAPI/internal/earlyaccess"
	"nearGoAPI/internal/metrics"
	"nearGoAPI/internal/notification"
	"nearGoAPI/internal/repository"
	"nearGoAPI/internal/types/inbox"
	"nearGoAPI/internal/types/offer"
	"nearGoAPI/internal/types/preference"
)

const (
	earlyNotifyAction = "early_notify"
	earlyNotifyWindow = 30 * 24 * time.Hour

	defaultInboxLimit = 20
	maxInboxLimit     = 100
)

type EarlyAccessConfig struct {
	Window        time.Duration
	MonthlyLimit  int
	PublicBaseURL string
}

type EarlyAccessService struct {
	offers  OfferStore
	prefs   PreferenceStore
	premium PremiumStore
	inbox   InboxStore
	guard   RateGuard
	mailer  Mailer
	pusher  Pusher
	cfg     EarlyAccessConfig
	now     func() time.Time
}

// NewEarlyAccessService wires the early-access notifier. pusher may be nil when FCM is not configured.
func NewEarlyAccessService(offers OfferStore, prefs PreferenceStore, premium PremiumStore, inbox InboxStore, guard RateGuard, mailer Mailer, pusher Pusher, cfg EarlyAccessConfig) *EarlyAccessService {
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
	return &EarlyAccessService{
		offers:  offers,
		prefs:   prefs,
		premium: premium,
		inbox:   inbox,
		guard:   guard,
		mailer:  mailer,
		pusher:  pusher,
		cfg:     cfg,
		now:     time.Now,
	}
}

func (s *EarlyAccessService) IsPremium(ctx context.Context, email string) (bool, error) {
	m, err := s.premium.Get(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return m.Active(s.now()), nil
}

// EarlyOffers returns the offers email may preview right now, nearest first when a center is saved.
func (s *EarlyAccessService) EarlyOffers(ctx context.Context, email string) ([]offer.Offer, error) {
	email = normalizeEmail(email)
	isPremium, err := s.IsPremium(ctx, email)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if !isPremium {
		return nil, apperr.Forbidden("premium_required")
	}

	p, err := s.prefs.Get(ctx, email)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && len(p.Categories) == 0) {
		return []offer.Offer{}, nil
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}

	now := s.now()
	candidates, err := s.offers.ListPublishingBetween(ctx, now, now.Add(s.cfg.Window), p.Categories)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	viewer := earlyaccess.ViewerFromPreference(p, true)
	visible := earlyaccess.FilterEarlyOffers(candidates, viewer, now, s.cfg.Window)
	if visible == nil {
		visible = []offer.Offer{}
	}
	return visible, nil
}

// NotifyOffer tells every matching premium user about o while it is in its early window. It
// returns the number of users notified.
func (s *EarlyAccessService) NotifyOffer(ctx context.Context, o *offer.Offer) (int, error) {
	now := s.now()
	if !now.Before(o.PublishAt) || now.Before(o.PublishAt.Add(-s.cfg.Window)) {
		return 0, nil
	}

	prefs, err := s.prefs.ListPremiumByCategory(ctx, o.Subcategory, now)
	if err != nil {
		return 0, fmt.Errorf("failed to load subscribers for %s: %w", o.Subcategory, err)
	}

	logger := log.WithFields(log.Fields{"offer_id": o.ID, "subcategory": o.Subcategory})
	notified := 0
	for i := range prefs {
		p := &prefs[i]
		viewer := earlyaccess.ViewerFromPreference(p, true)
		if earlyaccess.Classify(o, viewer, now, s.cfg.Window) != earlyaccess.Early {
			continue
		}

		inserted, err := s.inbox.Insert(ctx, p.Email, o.ID)
		if err != nil {
			logger.WithError(err).WithField("email", p.Email).Error("Failed to store early inbox item")
			continue
		}
		if !inserted {
			continue
		}
		notified++

		d := s.guard.CheckAndIncrement(ctx, earlyNotifyAction, p.Email, s.cfg.MonthlyLimit, earlyNotifyWindow)
		if !d.Allowed {
			metrics.RecordEarlyNotification("all", "capped")
			logger.WithField("email", p.Email).Debug("Monthly early notification cap reached, inbox only")
			continue
		}

		runPostCommit(ctx, s.notificationHooks(p, o)...)
	}

	logger.WithField("notified", notified).Info("Early access notifications processed")
	return notified, nil
}

func (s *EarlyAccessService) notificationHooks(p *preference.Preference, o *offer.Offer) []Hook {
	title := "Early access: " + o.Title
	body := fmt.Sprintf("Available to you now, public at %s.", o.PublishAt.UTC().Format("Jan 2 15:04 MST"))
	link := fmt.Sprintf("%s/offers/%s", s.cfg.PublicBaseURL, o.ID)

	var hooks []Hook
	if p.EmailEnabled {
		hooks = append(hooks, Hook{
			Name: "early_email",
			Run: func(ctx context.Context) error {
				err := s.mailer.Send(ctx, notification.Message{
					To:      p.Email,
					Subject: title,
					Text:    body + "\n\n" + link + "\n",
				})
				metrics.RecordEarlyNotification("email", resultLabel(err))
				return err
			},
		})
	}
	if p.PushEnabled && s.pusher != nil && len(p.DeviceTokens) > 0 {
		hooks = append(hooks, Hook{
			Name: "early_push",
			Run: func(ctx context.Context) error {
				err := s.pusher.SendPush(ctx, p.DeviceTokens, title, body, map[string]string{
					"type":     "early_offer",
					"offer_id": o.ID.String(),
				})
				metrics.RecordEarlyNotification("push", resultLabel(err))
				return err
			},
		})
	}
	return hooks
}

// NotifyIfInWindow claims and notifies a single offer whose window is already open, as happens
// when a provider submits an offer less than one window before it publishes.
func (s *EarlyAccessService) NotifyIfInWindow(ctx context.Context, o *offer.Offer) error {
	now := s.now()
	if !now.Before(o.PublishAt) || now.Before(o.PublishAt.Add(-s.cfg.Window)) {
		return nil
	}
	claimed, err := s.offers.ClaimOffer(ctx, o.ID)
	if err != nil || !claimed {
		return err
	}
	if _, err = s.NotifyOffer(ctx, o); err != nil {
		s.releaseClaim(ctx, o)
	}
	return err
}

// SweepEarlyWindow notifies subscribers about every offer whose window opened since the last sweep.
func (s *EarlyAccessService) SweepEarlyWindow(ctx context.Context) (int, error) {
	claimed, err := s.offers.ClaimEarlyWindow(ctx, s.now(), s.cfg.Window)
	if err != nil {
		return 0, err
	}

	total := 0
	for i := range claimed {
		n, err := s.NotifyOffer(ctx, &claimed[i])
		if err != nil {
			log.WithError(err).WithField("offer_id", claimed[i].ID).Error("Failed to notify early offer")
			s.releaseClaim(ctx, &claimed[i])
			continue
		}
		total += n
	}
	return total, nil
}

// releaseClaim hands a claimed offer back to the sweep after NotifyOffer failed. Users already
// notified are skipped on the retry because the inbox insert is unique per user and offer.
func (s *EarlyAccessService) releaseClaim(ctx context.Context, o *offer.Offer) {
	if err := s.offers.ReleaseClaim(ctx, o.ID); err != nil {
		log.WithError(err).WithField("offer_id", o.ID).Error("Failed to release early notification claim")
	}
}

// Inbox lists unread early notifications for a premium user. With mark set the returned items are
// marked read in the same statement.
func (s *EarlyAccessService) Inbox(ctx context.Context, sessionEmail, requestedEmail string, limit int, mark bool) ([]inbox.Item, error) {
	email := normalizeEmail(sessionEmail)
	if requestedEmail != "" && normalizeEmail(requestedEmail) != email {
		return nil, apperr.Forbidden("forbidden")
	}

	isPremium, err := s.IsPremium(ctx, email)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if !isPremium {
		return nil, apperr.Forbidden("premium_required")
	}

	if limit <= 0 {
		limit = defaultInboxLimit
	}
	if limit > maxInboxLimit {
		limit = maxInboxLimit
	}

	var items []inbox.Item
	if mark {
		items, err = s.inbox.TakeUnread(ctx, email, limit)
	} else {
		items, err = s.inbox.ListUnread(ctx, email, limit)
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return items, nil
}

func resultLabel(err error) string {
	if err != nil {
		return "failed"
	}
	return "sent"
}
