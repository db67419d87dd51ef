package captcha

import (
	"context"
	"fmt"
	"strings"
	"time"

	"formgate/internal/dataType"
)

// Provider is one interchangeable verification strategy. Verify returns a
// terminal VerifyResult for the submission, or a non-nil error when the
// strategy could not be executed at all (remote transport failure, malformed
// vendor response). A transport error is not a rejection: the orchestrator
// answers it with the configured failsafe policy.
type Provider interface {
	ID() dataType.ProviderID
	Render(ctx context.Context, req *dataType.FormRequest) (map[string]string, error)
	Verify(ctx context.Context, req *dataType.FormRequest) (*dataType.VerifyResult, error)
}

const (
	turnstileEndpoint = "https://challenges.cloudflare.com/turnstile/v0/siteverify"
	recaptchaEndpoint = "https://www.google.com/recaptcha/api/siteverify"
	hcaptchaEndpoint  = "https://api.hcaptcha.com/siteverify"

	defaultVerifyTimeout = 30 * time.Second

	// Minimum plausible key length for Google/hCaptcha style keys.
	minKeyLength = 20
)

// tokenFieldFor returns the form field the vendor's widget posts its
// response token under.
func tokenFieldFor(id dataType.ProviderID) string {
	switch id {
	case dataType.ProviderTurnstile:
		return "cf-turnstile-response"
	case dataType.ProviderHCaptcha:
		return "h-captcha-response"
	default:
		return "g-recaptcha-response"
	}
}

func endpointFor(id dataType.ProviderID) string {
	switch id {
	case dataType.ProviderTurnstile:
		return turnstileEndpoint
	case dataType.ProviderHCaptcha:
		return hcaptchaEndpoint
	default:
		return recaptchaEndpoint
	}
}

// vendorKeyCodes are siteverify error codes that point at a key or secret
// misconfiguration rather than a bad submission. They surface to the actor
// as the generic invalid_keys message so nothing about the deployment leaks.
var vendorKeyCodes = map[string]struct{}{
	"missing-input-secret":    {},
	"invalid-input-secret":    {},
	"invalid-sitekey":         {},
	"sitekey-secret-mismatch": {},
	"invalid-keys":            {},
}

// vendorCodeMessages maps submission-class siteverify error codes to the
// user-facing message. Unknown codes fall back to the generic failure text.
var vendorCodeMessages = map[string]string{
	"missing-input-response":           "Please complete the verification challenge before submitting.",
	"invalid-input-response":           "The verification response was invalid or expired. Please try again.",
	"timeout-or-duplicate":             "The verification response expired or was already used. Please try again.",
	"invalid-or-already-seen-response": "The verification response expired or was already used. Please try again.",
	"expired-input-response":           "The verification response expired. Please try again.",
}

// resultForVendorCodes turns a failed siteverify answer into a rejection,
// deriving the message from the first reported error code.
func resultForVendorCodes(codes []string) *dataType.VerifyResult {
	if len(codes) == 0 {
		return dataType.Err(dataType.CodeVerificationFailed)
	}
	first := codes[0]
	details := "vendor error-codes: " + strings.Join(codes, ",")
	if _, ok := vendorKeyCodes[first]; ok {
		return dataType.ErrDetails(dataType.CodeInvalidKeys, details)
	}
	if msg, ok := vendorCodeMessages[first]; ok {
		res := dataType.ErrMessage(dataType.CodeVerificationFailed, msg)
		res.Details = details
		return res
	}
	return dataType.ErrDetails(dataType.CodeVerificationFailed, details)
}

// ValidateKeys checks site/secret key formats for a remote provider id. It
// catches obvious misconfiguration only; it cannot prove the keys are live.
func ValidateKeys(id dataType.ProviderID, siteKey, secretKey string) error {
	if strings.TrimSpace(siteKey) == "" {
		return fmt.Errorf("site key is empty")
	}
	if strings.TrimSpace(secretKey) == "" {
		return fmt.Errorf("secret key is empty")
	}
	if len(siteKey) < minKeyLength || len(secretKey) < minKeyLength {
		return fmt.Errorf("key looks too short to be a %s key", id)
	}
	if id == dataType.ProviderTurnstile && !strings.HasPrefix(siteKey, "0x") {
		return fmt.Errorf("turnstile site keys start with 0x")
	}
	return nil
}
