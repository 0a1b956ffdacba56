package resend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ignite/recruit-cdp/internal/domain"
)

// =============================================================================
// AUDIENCES
// =============================================================================

type listResponse[T any] struct {
	Object string `json:"object"`
	Data   []T    `json:"data"`
}

type idResponse struct {
	Object string `json:"object"`
	ID     string `json:"id"`
}

// CreateAudience creates an audience and returns its id.
func (c *Client) CreateAudience(ctx context.Context, name string) (string, error) {
	var out idResponse
	if err := c.doRequest(ctx, http.MethodPost, "/audiences", map[string]string{"name": name}, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// ListAudiences returns every audience on the account.
func (c *Client) ListAudiences(ctx context.Context) ([]domain.Audience, error) {
	var out listResponse[domain.Audience]
	if err := c.doRequest(ctx, http.MethodGet, "/audiences", nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// =============================================================================
// CONTACTS
// =============================================================================

type contactRequest struct {
	Email        string `json:"email"`
	FirstName    string `json:"first_name,omitempty"`
	LastName     string `json:"last_name,omitempty"`
	Unsubscribed bool   `json:"unsubscribed"`
}

func contactsPath(audienceID string) string {
	return "/audiences/" + url.PathEscape(audienceID) + "/contacts"
}

// CreateContact adds a contact to an audience. An address the audience
// already holds reports existing=true with no error.
func (c *Client) CreateContact(ctx context.Context, nc domain.NewAudienceContact) (string, bool, error) {
	body := contactRequest{
		Email:        nc.Email,
		FirstName:    nc.FirstName,
		LastName:     nc.LastName,
		Unsubscribed: nc.Unsubscribed,
	}
	var out idResponse
	err := c.doRequest(ctx, http.MethodPost, contactsPath(nc.AudienceID), body, &out)
	if err != nil {
		if isAlreadyExists(err) {
			return "", true, nil
		}
		return "", false, err
	}
	return out.ID, false, nil
}

// UpdateContact sets the opt-out flag of the contact with the given email.
func (c *Client) UpdateContact(ctx context.Context, audienceID, email string, unsubscribed bool) error {
	path := contactsPath(audienceID) + "/" + url.PathEscape(email)
	return c.doRequest(ctx, http.MethodPatch, path, map[string]bool{"unsubscribed": unsubscribed}, nil)
}

// RemoveContact deletes a contact by email. A contact that is already gone
// is not an error.
func (c *Client) RemoveContact(ctx context.Context, audienceID, email string) error {
	path := contactsPath(audienceID) + "/" + url.PathEscape(email)
	err := c.doRequest(ctx, http.MethodDelete, path, nil, nil)
	if IsStatus(err, http.StatusNotFound) {
		return nil
	}
	return err
}

// ListContacts returns the members of an audience.
func (c *Client) ListContacts(ctx context.Context, audienceID string) ([]domain.AudienceContact, error) {
	var out listResponse[domain.AudienceContact]
	if err := c.doRequest(ctx, http.MethodGet, contactsPath(audienceID), nil, &out); err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	return out.Data, nil
}

func isAlreadyExists(err error) bool {
	if IsStatus(err, http.StatusConflict) {
		return true
	}
	if IsStatus(err, http.StatusBadRequest) || IsStatus(err, http.StatusUnprocessableEntity) {
		return strings.Contains(strings.ToLower(err.Error()), "already exists")
	}
	return false
}
