package dataType

// Code is a terminal verification rejection reason. The set is closed: every
// code maps to exactly one user-facing message and a failed submission is
// never retried automatically.
type Code string

const (
	CodeMissingToken         Code = "missing_token"
	CodeVerificationFailed   Code = "verification_failed"
	CodeLowScore             Code = "low_score"
	CodeInvalidKeys          Code = "invalid_keys"
	CodeNoJS                 Code = "no_js"
	CodeTrapFilled           Code = "trap_filled"
	CodeInvalidTime          Code = "invalid_time"
	CodeInvalidNonce         Code = "invalid_nonce"
	CodeTooFast              Code = "too_fast"
	CodeTooOld               Code = "too_old"
	CodeJSFailed             Code = "js_failed"
	CodeHoneypotFilled       Code = "honeypot_filled"
	CodeInvalidField         Code = "invalid_field"
	CodeInvalidNonceHoneypot Code = "invalid_nonce_honeypot"

	// Orchestration-level rejections.
	CodeBlocked            Code = "blocked"
	CodeLockedOut          Code = "locked_out"
	CodeServiceUnavailable Code = "service_unavailable"
)

// codeMessages holds the pre-templated user-facing message for each code.
// Input-type problems guide a legitimate user to retry correctly;
// configuration-type problems stay deliberately generic so they leak nothing
// about the deployment.
var codeMessages = map[Code]string{
	CodeMissingToken:         "Please complete the verification challenge before submitting.",
	CodeVerificationFailed:   "Verification failed. Please try again.",
	CodeLowScore:             "Your submission could not be verified. Please try again.",
	CodeInvalidKeys:          "Verification is misconfigured. Please contact the site administrator.",
	CodeNoJS:                 "Your browser did not complete the verification. Please enable JavaScript and try again.",
	CodeTrapFilled:           "Your submission was flagged as spam.",
	CodeInvalidTime:          "The form session is invalid. Please reload the page and try again.",
	CodeInvalidNonce:         "The form session has expired. Please reload the page and try again.",
	CodeTooFast:              "The form was submitted too quickly. Please wait a moment and try again.",
	CodeTooOld:               "The form session has expired. Please reload the page and try again.",
	CodeJSFailed:             "Your browser did not complete the verification. Please try again.",
	CodeHoneypotFilled:       "Your submission was flagged as spam.",
	CodeInvalidField:         "The submission could not be validated. Please reload the page and try again.",
	CodeInvalidNonceHoneypot: "The form session has expired. Please reload the page and try again.",
	CodeBlocked:              "Your submission was rejected.",
	CodeLockedOut:            "Too many failed attempts. Please try again later.",
	CodeServiceUnavailable:   "Verification is temporarily unavailable. Please try again later.",
}

// MessageFor returns the user-facing message for a code.
func MessageFor(code Code) string {
	if msg, ok := codeMessages[code]; ok {
		return msg
	}
	return codeMessages[CodeVerificationFailed]
}

// VerifyResult is the outcome of one verify call: either Ok, or a terminal
// rejection with a code and pre-templated message. Details is internal-only
// context for logs, never shown to the actor.
type VerifyResult struct {
	OK      bool
	Code    Code
	Message string
	Details string
}

// Ok returns a passing result.
func Ok() *VerifyResult {
	return &VerifyResult{OK: true}
}

// Err returns a rejection carrying the fixed message for code.
func Err(code Code) *VerifyResult {
	return &VerifyResult{Code: code, Message: MessageFor(code)}
}

// ErrDetails returns a rejection with internal log context attached.
func ErrDetails(code Code, details string) *VerifyResult {
	r := Err(code)
	r.Details = details
	return r
}

// ErrMessage returns a rejection with a message built at the call site, used
// where the text depends on runtime state such as lockout remaining time.
func ErrMessage(code Code, message string) *VerifyResult {
	return &VerifyResult{Code: code, Message: message}
}
