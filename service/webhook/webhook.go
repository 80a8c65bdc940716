package webhook

import (
	"context"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pandodao/btcvault/core"
)

const DefaultTimeout = 10 * time.Second

func New(timeout time.Duration) core.WebhookService {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	client := resty.New().
		SetTimeout(timeout).
		SetRedirectPolicy(lastResponse)

	return &service{client: client}
}

// lastResponse stops at the first response, so a redirect is reported by
// its own status and never approves.
var lastResponse = resty.RedirectPolicyFunc(func(*http.Request, []*http.Request) error {
	return http.ErrUseLastResponse
})

type service struct {
	client *resty.Client
}

// Call posts the payload as JSON. Only transport failures are errors; any
// response, whatever its status, is reported to the caller. Redirects are
// not followed.
func (s *service) Call(ctx context.Context, url string, payload *core.WebhookPayload) (int, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(url)
	if err != nil {
		return 0, err
	}

	return resp.StatusCode(), nil
}
