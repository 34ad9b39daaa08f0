package clients

import (
	"context"
	"errors"
	"net/url"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type PatientAccount struct {
	PatientID uuid.UUID `json:"patient_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
}

type AuthClient struct {
	c *caller
}

// NewAuthClient returns a client for the auth service. With an empty baseURL
// every call succeeds without doing anything.
func NewAuthClient(baseURL string, opts Options, log logrus.FieldLogger) *AuthClient {
	return &AuthClient{c: newCaller(baseURL, opts, log, "auth-client")}
}

type Registration struct {
	UserID  string `json:"user_id"`
	Created bool   `json:"created"`
}

// RegisterPatient ensures the patient has a login. Created is false when the
// login already existed, in which case it must survive a rollback. The zero
// Registration is returned when the client is not configured.
func (a *AuthClient) RegisterPatient(ctx context.Context, acct PatientAccount) (Registration, error) {
	if !a.c.enabled() {
		return Registration{}, nil
	}
	var out Registration
	if err := a.c.do(ctx, "POST", "/internal/patients", acct, &out); err != nil {
		return Registration{}, err
	}
	return out, nil
}

// DeletePatient is the inverse of RegisterPatient. A user that is already
// gone counts as deleted.
func (a *AuthClient) DeletePatient(ctx context.Context, userID string) error {
	if !a.c.enabled() || userID == "" {
		return nil
	}
	err := a.c.do(ctx, "DELETE", "/internal/patients/"+url.PathEscape(userID), nil, nil)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}
