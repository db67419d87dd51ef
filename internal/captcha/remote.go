package captcha

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"formgate/internal/dataType"
)

// Remote verifies a client-obtained token against the vendor's siteverify
// endpoint. One implementation covers both shapes: plain token verification
// (Turnstile, reCAPTCHA v2, hCaptcha) and score-based verification
// (reCAPTCHA v3), which differ only in how a successful answer is judged.
type Remote struct {
	id         dataType.ProviderID
	endpoint   string
	tokenField string
	siteKey    string
	secretKey  string
	scored     bool
	threshold  float64
	theme      string
	size       string
	client     *http.Client
}

// RemoteOptions configures a remote provider. Timeout <= 0 uses the 30s
// default; Threshold is only read for recaptcha_v3.
type RemoteOptions struct {
	ID        dataType.ProviderID
	SiteKey   string
	SecretKey string
	Threshold float64
	Theme     string
	Size      string
	Timeout   time.Duration
}

// NewRemote builds a remote provider for a vendor id.
func NewRemote(opts RemoteOptions) (*Remote, error) {
	if !opts.ID.IsRemote() {
		return nil, fmt.Errorf("provider %q is not a remote provider", opts.ID)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultVerifyTimeout
	}
	return &Remote{
		id:         opts.ID,
		endpoint:   endpointFor(opts.ID),
		tokenField: tokenFieldFor(opts.ID),
		siteKey:    opts.SiteKey,
		secretKey:  opts.SecretKey,
		scored:     opts.ID == dataType.ProviderRecaptchaV3,
		threshold:  opts.Threshold,
		theme:      opts.Theme,
		size:       opts.Size,
		client:     &http.Client{Timeout: timeout},
	}, nil
}

func (p *Remote) ID() dataType.ProviderID {
	return p.id
}

// Render returns the widget parameters the page needs to show the vendor
// challenge. Cosmetic only; nothing here participates in verification.
func (p *Remote) Render(_ context.Context, _ *dataType.FormRequest) (map[string]string, error) {
	return map[string]string{
		"provider":    string(p.id),
		"site_key":    p.siteKey,
		"theme":       p.theme,
		"size":        p.size,
		"token_field": p.tokenField,
	}, nil
}

type siteverifyResponse struct {
	Success    bool     `json:"success"`
	Score      float64  `json:"score"`
	ErrorCodes []string `json:"error-codes"`
}

// Verify posts {secret, response, remoteip} to the vendor and judges the
// JSON answer. A missing token rejects immediately without a network call.
func (p *Remote) Verify(ctx context.Context, req *dataType.FormRequest) (*dataType.VerifyResult, error) {
	token := req.Field(p.tokenField)
	if token == "" {
		return dataType.Err(dataType.CodeMissingToken), nil
	}

	data := url.Values{}
	data.Set("secret", p.secretKey)
	data.Set("response", token)
	if req.RemoteIP != "" {
		data.Set("remoteip", req.RemoteIP)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", p.id, err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s siteverify: %w", p.id, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s siteverify read: %w", p.id, err)
	}

	var parsed siteverifyResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%s siteverify invalid response: %w", p.id, err)
	}

	if !parsed.Success {
		return resultForVendorCodes(parsed.ErrorCodes), nil
	}
	if p.scored && parsed.Score < p.threshold {
		return dataType.ErrDetails(dataType.CodeLowScore,
			fmt.Sprintf("score %.2f below threshold %.2f", parsed.Score, p.threshold)), nil
	}
	return dataType.Ok(), nil
}

// TestConnection validates key formats for this provider. It does not reach
// the vendor, so valid-looking but revoked keys still pass.
func (p *Remote) TestConnection(siteKey, secretKey string) error {
	return ValidateKeys(p.id, siteKey, secretKey)
}
