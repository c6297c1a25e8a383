package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"nearGoAPI/internal/apperr"
	"nearGoAPI/internal/repository"
	"nearGoAPI/internal/types/account"
)

type AccountService struct {
	accounts AccountStore
}

func NewAccountService(accounts AccountStore) *AccountService {
	return &AccountService{accounts: accounts}
}

// EmailForSubject maps a Clerk session subject to the email NearGo keys user data by.
func (s *AccountService) EmailForSubject(ctx context.Context, clerkID string) (string, error) {
	email, err := s.accounts.EmailForSubject(ctx, clerkID)
	if errors.Is(err, repository.ErrNotFound) {
		return "", apperr.Forbidden("account_not_linked")
	}
	if err != nil {
		return "", apperr.Internal(err)
	}
	return email, nil
}

// HandleClerkEvent keeps the accounts table in step with Clerk users.
func (s *AccountService) HandleClerkEvent(ctx context.Context, event account.ClerkWebhookEvent) error {
	switch event.Type {
	case "user.created", "user.updated":
		var data account.ClerkUserData
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return fmt.Errorf("failed to unmarshal user data: %w", err)
		}
		email := normalizeEmail(data.PrimaryEmail())
		if data.ID == "" || email == "" {
			return fmt.Errorf("user event without id or email")
		}
		if err := s.accounts.Upsert(ctx, data.ID, email); err != nil {
			return err
		}
		log.WithField("clerk_id", data.ID).Info("Account synced")

	case "user.deleted":
		var data struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return fmt.Errorf("failed to unmarshal user data: %w", err)
		}
		if err := s.accounts.Delete(ctx, data.ID); err != nil {
			return err
		}
		log.WithField("clerk_id", data.ID).Info("Account removed")

	default:
		log.WithField("type", event.Type).Debug("Unhandled Clerk webhook event")
	}
	return nil
}
