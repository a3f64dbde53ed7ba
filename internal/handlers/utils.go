package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/livehub/internal/auth"
	"github.com/jason-s-yu/livehub/internal/models"
	"github.com/sirupsen/logrus"
)

// UserLookup fetches an account's public profile; nil means unknown.
type UserLookup func(ctx context.Context, id uuid.UUID) (*models.User, error)

// resolveIdentity turns the auth cookie into an Identity. Missing or invalid
// tokens make the connection anonymous; a failed profile lookup keeps the
// verified account id without a display name.
func resolveIdentity(r *http.Request, lookup UserLookup, logger *logrus.Logger) *models.Identity {
	cookie, err := r.Cookie(auth.CookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}
	sub, err := auth.AuthenticateJWT(cookie.Value)
	if err != nil {
		logger.WithError(err).Debug("ignoring auth cookie")
		return nil
	}
	id := &models.Identity{AccountID: sub}

	userID, err := uuid.Parse(sub)
	if err != nil || lookup == nil {
		return id
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	user, err := lookup(ctx, userID)
	if err != nil {
		logger.WithError(err).WithField("account", sub).Warn("display name lookup failed")
		return id
	}
	if user != nil {
		id.DisplayName = user.Username
	}
	return id
}
