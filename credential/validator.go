package credential

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
)

// HTTPValidator checks the credential against the remote service's account
// endpoint. A 2xx means valid, a 401/403 means rejected, anything else is a
// network-level failure that leaves the flag untouched.
type HTTPValidator struct {
	url    string
	client *resty.Client
}

// NewHTTPValidator constructs the default validator.
func NewHTTPValidator(url string) *HTTPValidator {
	return &HTTPValidator{
		url:    url,
		client: resty.New(),
	}
}

type accountResponse struct {
	Name string `json:"name"`
	Plan string `json:"plan"`
}

// Validate performs one remote check.
func (v *HTTPValidator) Validate(ctx context.Context, secret string) Validation {
	var account accountResponse
	resp, err := v.client.R().
		SetContext(ctx).
		SetAuthToken(secret).
		SetResult(&account).
		Get(v.url)
	if err != nil {
		return Validation{Err: err}
	}
	switch {
	case resp.IsSuccess():
		info := account.Name
		if account.Plan != "" {
			info = fmt.Sprintf("%s (%s)", account.Name, account.Plan)
		}
		return Validation{Valid: true, AccountInfo: info}
	case resp.StatusCode() == 401 || resp.StatusCode() == 403:
		return Validation{Valid: false}
	default:
		return Validation{Err: fmt.Errorf("credential: unexpected status %d", resp.StatusCode())}
	}
}
