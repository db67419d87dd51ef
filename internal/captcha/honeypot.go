package captcha

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"formgate/internal/dataType"
	"formgate/internal/utils"
)

// Submission field names. The field carrying the rotating name is the proof
// of script execution; the decoy is rendered visible-but-off-screen and must
// stay empty.
const (
	DecoyField      = "alt_s"
	NonceField      = "fg_nonce"
	TimestampField  = "fg_timestamp"
	ChallengeField  = "fg_challenge"
	JSResponseField = "fg_js"
)

const (
	fieldNameKey    = "honeypot:field_name"
	spamDayPrefix   = "honeypot:spam:day:"
	spamTotalKey    = "honeypot:spam:total"
	spamDayTTL      = 48 * time.Hour
	maxChallengeAge = int64(86400)

	defaultMinTime = 3
)

// Honeypot verifies submissions without any network call: hidden-field
// emptiness, an HMAC nonce binding the rotating field name to a render
// timestamp, elapsed-time bounds, and an embedded arithmetic proof that the
// client executed script.
type Honeypot struct {
	secret  []byte
	minTime int64
	primary bool
	store   dataType.Store
	logx    *utils.LogxManager
	now     func() time.Time
}

// HoneypotOptions configures the local strategy. Primary marks honeypot as
// the configured provider (as opposed to a failsafe substitute); only then is
// a failed arithmetic proof fatal. MinTime <= 0 uses the 3 second default.
type HoneypotOptions struct {
	Secret  string
	MinTime int
	Primary bool
}

// NewHoneypot builds the strategy over the shared store. logx may be nil;
// now may be nil to use the wall clock.
func NewHoneypot(opts HoneypotOptions, store dataType.Store, logx *utils.LogxManager, now func() time.Time) *Honeypot {
	minTime := int64(opts.MinTime)
	if minTime <= 0 {
		minTime = defaultMinTime
	}
	if now == nil {
		now = time.Now
	}
	return &Honeypot{
		secret:  []byte(opts.Secret),
		minTime: minTime,
		primary: opts.Primary,
		store:   store,
		logx:    logx,
		now:     now,
	}
}

func (h *Honeypot) ID() dataType.ProviderID {
	return dataType.ProviderHoneypot
}

// FieldName returns the site-unique rotating field name, minting and
// persisting one on first use.
func (h *Honeypot) FieldName(ctx context.Context) (string, error) {
	name, ok, err := h.store.Get(ctx, fieldNameKey)
	if err != nil {
		return "", err
	}
	if ok && name != "" {
		return name, nil
	}
	return h.RotateFieldName(ctx)
}

// RotateFieldName replaces the persisted field name, for when the current
// one is suspected compromised. Challenges minted under the old name fail
// their next verify, which is the point of rotating.
func (h *Honeypot) RotateFieldName(ctx context.Context) (string, error) {
	name, err := generateFieldName()
	if err != nil {
		return "", err
	}
	if err := h.store.Set(ctx, fieldNameKey, name, 0); err != nil {
		return "", err
	}
	return name, nil
}

// generateFieldName mints 6 lowercase letters followed by a 3-4 digit
// suffix, e.g. "qzpfma4821".
func generateFieldName() (string, error) {
	buf := make([]byte, 11)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, 0, 10)
	for i := 0; i < 6; i++ {
		out = append(out, 'a'+buf[i]%26)
	}
	digits := 3 + int(buf[6]%2)
	for i := 0; i < digits; i++ {
		d := buf[7+i] % 10
		if i == 0 && d == 0 {
			d = 1
		}
		out = append(out, '0'+d)
	}
	return string(out), nil
}

// Challenge is the render-side material for one form. The page embeds it via
// a placeholder the client-side agent enhances; the expected arithmetic
// answer never leaves the server.
type Challenge struct {
	FieldName string
	Nonce     string
	Timestamp int64
	Payload   string
}

// NewChallenge mints a fresh challenge at the current time.
func (h *Honeypot) NewChallenge(ctx context.Context) (*Challenge, error) {
	fieldName, err := h.FieldName(ctx)
	if err != nil {
		return nil, err
	}
	ts := h.now().Unix()

	buf := make([]byte, 3)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	a := int64(2 + buf[0]%8)  // 2..9
	b := int64(2 + buf[1]%8)  // 2..9
	c := int64(1 + buf[2]%49) // 1..49

	payload, err := encodeChallengePayload(a, b, c, ts)
	if err != nil {
		return nil, err
	}
	return &Challenge{
		FieldName: fieldName,
		Nonce:     h.nonce(fieldName, ts),
		Timestamp: ts,
		Payload:   payload,
	}, nil
}

// Render exposes the challenge as field values for the placeholder marker.
func (h *Honeypot) Render(ctx context.Context, _ *dataType.FormRequest) (map[string]string, error) {
	ch, err := h.NewChallenge(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"provider":          string(dataType.ProviderHoneypot),
		"field_name":        ch.FieldName,
		"decoy_field":       DecoyField,
		"js_response_field": JSResponseField,
		NonceField:          ch.Nonce,
		TimestampField:      strconv.FormatInt(ch.Timestamp, 10),
		ChallengeField:      ch.Payload,
	}, nil
}

// Verify runs the checks in fixed order, rejecting on the first failure.
// Never returns a transport error; the strategy is fully local.
func (h *Honeypot) Verify(ctx context.Context, req *dataType.FormRequest) (*dataType.VerifyResult, error) {
	fieldName, err := h.FieldName(ctx)
	if err != nil {
		return nil, fmt.Errorf("honeypot field name: %w", err)
	}
	now := h.now().Unix()

	// Presence of the hidden field is the proof the client executed script.
	if !req.HasField(fieldName) {
		return h.reject(ctx, req, dataType.CodeNoJS, "script-injected field missing"), nil
	}
	if req.Field(DecoyField) != "" {
		return h.reject(ctx, req, dataType.CodeTrapFilled, "decoy field filled"), nil
	}

	ts, err := strconv.ParseInt(req.Field(TimestampField), 10, 64)
	if err != nil || ts == 0 || ts > now {
		return h.reject(ctx, req, dataType.CodeInvalidTime, "missing, zero or future timestamp"), nil
	}
	if !hmac.Equal([]byte(h.nonce(fieldName, ts)), []byte(req.Field(NonceField))) {
		return h.reject(ctx, req, dataType.CodeInvalidNonce, "nonce does not verify"), nil
	}
	if now-ts < h.minTime {
		return h.reject(ctx, req, dataType.CodeTooFast,
			fmt.Sprintf("elapsed %ds below minimum %ds", now-ts, h.minTime)), nil
	}
	if now-ts > maxChallengeAge {
		return h.reject(ctx, req, dataType.CodeTooOld, "challenge older than 24h"), nil
	}

	if payload := req.Field(ChallengeField); payload != "" {
		a, b, c, challengeTS, err := decodeChallengePayload(payload)
		if err != nil || challengeTS != ts {
			if h.primary {
				return h.reject(ctx, req, dataType.CodeJSFailed, "malformed or mismatched challenge payload"), nil
			}
			// As a failsafe substitute the challenge is advisory only.
			h.logx.LogInfo(req, "honeypot fallback: malformed or mismatched challenge payload, not fatal", "")
			return dataType.Ok(), nil
		}
		expected := strconv.FormatInt(a*b+c, 36)
		if req.Field(JSResponseField) != expected {
			if h.primary {
				return h.reject(ctx, req, dataType.CodeJSFailed, "arithmetic proof mismatch"), nil
			}
			h.logx.LogInfo(req, "honeypot fallback: arithmetic proof mismatch, not fatal", "")
		}
	}
	return dataType.Ok(), nil
}

func (h *Honeypot) reject(ctx context.Context, req *dataType.FormRequest, code dataType.Code, details string) *dataType.VerifyResult {
	h.bumpSpamCounters(ctx)
	res := dataType.ErrDetails(code, details)
	h.logx.LogDebug(req, "honeypot reject code="+string(code), details)
	return res
}

func (h *Honeypot) bumpSpamCounters(ctx context.Context) {
	day := h.now().Format("20060102")
	_, _ = h.store.Incr(ctx, spamDayPrefix+day, spamDayTTL)
	_, _ = h.store.Incr(ctx, spamTotalKey, 0)
}

// SpamStats returns today's and the lifetime rejection counts.
func (h *Honeypot) SpamStats(ctx context.Context) (daily, total int64) {
	day := h.now().Format("20060102")
	if val, ok, err := h.store.Get(ctx, spamDayPrefix+day); err == nil && ok {
		daily, _ = strconv.ParseInt(val, 10, 64)
	}
	if val, ok, err := h.store.Get(ctx, spamTotalKey); err == nil && ok {
		total, _ = strconv.ParseInt(val, 10, 64)
	}
	return daily, total
}

// nonce binds the field name and render timestamp with HMAC-SHA512, in the
// same ts-keyed shape the clearance cookies of the edge gate use.
func (h *Honeypot) nonce(fieldName string, ts int64) string {
	mac := hmac.New(sha512.New, h.secret)
	mac.Write([]byte(fmt.Sprintf("%d%sHONEYPOT-NONCE", ts, fieldName)))
	return fmt.Sprintf("%x", mac.Sum(nil))
}

func encodeChallengePayload(a, b, c, ts int64) (string, error) {
	raw, err := json.Marshal([]int64{a, b, c, ts})
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func decodeChallengePayload(payload string) (a, b, c, ts int64, err error) {
	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	var vals []int64
	if err := json.Unmarshal(raw, &vals); err != nil {
		return 0, 0, 0, 0, err
	}
	if len(vals) != 4 {
		return 0, 0, 0, 0, fmt.Errorf("challenge payload must hold exactly 4 values, got %d", len(vals))
	}
	return vals[0], vals[1], vals[2], vals[3], nil
}
