package dataType

// ProviderID identifies one of the configurable verification strategies.
type ProviderID string

const (
	ProviderTurnstile   ProviderID = "turnstile"
	ProviderRecaptchaV2 ProviderID = "recaptcha_v2"
	ProviderRecaptchaV3 ProviderID = "recaptcha_v3"
	ProviderHCaptcha    ProviderID = "hcaptcha"
	ProviderHoneypot    ProviderID = "honeypot"
)

// IsRemote reports whether the provider verifies tokens against a vendor API.
func (p ProviderID) IsRemote() bool {
	switch p {
	case ProviderTurnstile, ProviderRecaptchaV2, ProviderRecaptchaV3, ProviderHCaptcha:
		return true
	}
	return false
}

// FormRequest carries everything the verification layer needs to know about
// one protected form submission. The hosting system fills it from its own
// request context before calling render or verify.
type FormRequest struct {
	FormID    string
	RemoteIP  string
	Host      string
	UserAgent string

	// Actor context, resolved by the caller.
	LoggedIn bool
	Roles    []string

	// Submitted form values, keyed by field name. Empty for render calls.
	Fields map[string]string
}

// Field returns the submitted value for name, or "" when absent.
func (r *FormRequest) Field(name string) string {
	if r.Fields == nil {
		return ""
	}
	return r.Fields[name]
}

// HasField reports whether the field was present in the submission at all,
// which is distinct from it being empty.
func (r *FormRequest) HasField(name string) bool {
	if r.Fields == nil {
		return false
	}
	_, ok := r.Fields[name]
	return ok
}

const FormgateVersion = "1.2.0"
