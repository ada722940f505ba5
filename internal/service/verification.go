package service

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gatehouse-dev/gatehouse/internal/domain"
	internal_errors "github.com/gatehouse-dev/gatehouse/internal/errors"
	"github.com/gatehouse-dev/gatehouse/internal/logger"
	"github.com/gatehouse-dev/gatehouse/internal/otp"
	"github.com/gatehouse-dev/gatehouse/internal/utils"
)

// CodeLength is the fixed rendered length of every verification code.
// Shorter or longer submissions fail schema validation before any lookup.
const CodeLength = 6

// codeSkew tolerates clock drift of one time step on either side when
// validating a code.
const codeSkew = 1

const (
	QueryType       = "type"
	QueryTarget     = "target"
	QueryCode       = "code"
	QueryRedirectTo = "redirectTo"
)

type VerificationStorage interface {
	UpsertVerification(ctx context.Context, v domain.Verification) error
	LiveVerification(ctx context.Context, target string, typ domain.VerificationType) (domain.Verification, error)
	// RedeemVerification deletes the record and runs finalize such that the
	// delete is only committed if finalize succeeds.
	RedeemVerification(ctx context.Context, target string, typ domain.VerificationType, finalize func(ctx context.Context) error) error
	DeleteVerification(ctx context.Context, target string, typ domain.VerificationType) error
}

// Submission is a parsed /verify form or query.
type Submission struct {
	Code       string `form:"code" validate:"required,len=6"`
	Type       string `form:"type" validate:"required"`
	Target     string `form:"target" validate:"required"`
	RedirectTo string `form:"redirectTo"`

	// Payload carries flow data stored on the record at prepare time
	// (e.g. the pending address of a change-email flow). Filled at
	// dispatch, never from user input.
	Payload string `form:"-" validate:"-"`
}

// Result is the tagged outcome interpreted at the HTTP boundary: either a
// redirect, or a 400-level submission result carrying field errors. Cookies,
// when present, accompany either kind.
type Result struct {
	Status   int
	Redirect string
	Fields   map[string][]string
	Cookies  []*http.Cookie
}

func redirectResult(location string) Result {
	return Result{Status: http.StatusSeeOther, Redirect: location}
}

func invalidResult(fields *internal_errors.FieldErrors) Result {
	return Result{Status: fields.StatusCode, Fields: fields.Fields}
}

// Continuation finishes a redeemed verification flow. For single-use types
// it runs inside the redemption transaction scope: returning an error rolls
// the consumption back.
type Continuation func(ctx context.Context, sub Submission) (Result, error)

// Verifier is the one-time-code engine: it issues, validates and redeems
// codes keyed by (target, type).
type Verifier struct {
	storage       VerificationStorage
	baseURL       *url.URL
	continuations map[domain.VerificationType]Continuation
	now           func() time.Time
}

func NewVerifier(storage VerificationStorage, baseURL string) (*Verifier, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", baseURL)
	}
	return &Verifier{
		storage:       storage,
		baseURL:       u,
		continuations: map[domain.VerificationType]Continuation{},
		now:           time.Now,
	}, nil
}

// Handle registers the continuation dispatched after a code of the given
// type is accepted.
func (v *Verifier) Handle(typ domain.VerificationType, cont Continuation) {
	v.continuations[typ] = cont
}

type PrepareParams struct {
	Type   domain.VerificationType
	Target string
	// Period is the validity window in seconds. Zero means a standing,
	// non-expiring secret (two-factor).
	Period     int
	RedirectTo string
	Payload    string
}

// Prepare issues a fresh code for (target, type), overwriting any previous
// unredeemed code for that pair. It returns the verify-page URL to redirect
// the user to and the same URL with the code appended for a delivery
// collaborator to email. Prepare never sends anything itself.
func (v *Verifier) Prepare(ctx context.Context, p PrepareParams) (redirectTo, verifyURL *url.URL, err error) {
	record := domain.Verification{
		Type:      p.Type,
		Target:    p.Target,
		Secret:    otp.GenerateSecret(),
		Algorithm: otp.AlgorithmSHA256,
		Digits:    CodeLength,
		Period:    p.Period,
		CharSet:   otp.DefaultCharSet,
		Payload:   p.Payload,
	}
	if p.Period > 0 {
		expires := v.now().Add(time.Duration(p.Period) * time.Second)
		record.ExpiresAt = &expires
	} else {
		// Standing secrets still need a period for the time-step math.
		record.Period = 30
	}

	code, err := otp.GenerateCode(otpParams(record), v.now())
	if err != nil {
		return nil, nil, err
	}

	if err := v.storage.UpsertVerification(ctx, record); err != nil {
		return nil, nil, err
	}

	redirectTo = v.verifyURL(p.Type, p.Target, p.RedirectTo)
	verifyURL = v.verifyURL(p.Type, p.Target, p.RedirectTo)
	q := verifyURL.Query()
	q.Set(QueryCode, code)
	verifyURL.RawQuery = q.Encode()

	logger.Log.Info("verification prepared", "type", string(p.Type), "target", p.Target)
	return redirectTo, verifyURL, nil
}

func (v *Verifier) verifyURL(typ domain.VerificationType, target, redirectTo string) *url.URL {
	u := *v.baseURL
	u.Path = "/verify"
	q := url.Values{}
	q.Set(QueryType, string(typ))
	q.Set(QueryTarget, target)
	if redirectTo != "" {
		q.Set(QueryRedirectTo, redirectTo)
	}
	u.RawQuery = q.Encode()
	return &u
}

// LiveSecret exposes the live record for (target, type), e.g. to render a
// freshly prepared standing two-factor secret as an otpauth URI.
func (v *Verifier) LiveSecret(ctx context.Context, target string, typ domain.VerificationType) (domain.Verification, error) {
	return v.storage.LiveVerification(ctx, target, typ)
}

// Discard removes any verification for (target, type). Absent records are
// not an error: discarding is idempotent.
func (v *Verifier) Discard(ctx context.Context, target string, typ domain.VerificationType) error {
	if err := v.storage.DeleteVerification(ctx, target, typ); err != nil && !internal_errors.IsNotFound(err) {
		return err
	}
	return nil
}

// IsCodeValid reports whether code currently redeems (target, type). It has
// no side effects and reveals nothing about why a code failed.
func (v *Verifier) IsCodeValid(ctx context.Context, code string, typ domain.VerificationType, target string) bool {
	_, ok := v.liveMatch(ctx, code, typ, target)
	return ok
}

// liveMatch fetches the live record and validates the code against it.
func (v *Verifier) liveMatch(ctx context.Context, code string, typ domain.VerificationType, target string) (domain.Verification, bool) {
	record, err := v.storage.LiveVerification(ctx, target, typ)
	if err != nil {
		if !internal_errors.IsNotFound(err) {
			logger.Log.Error("verification lookup failed", "type", string(typ), "error", err)
		}
		return domain.Verification{}, false
	}
	if !otp.Validate(code, otpParams(record), v.now(), codeSkew) {
		return domain.Verification{}, false
	}
	return record, true
}

// ValidateRequest parses and validates a /verify submission, redeems the
// code and dispatches to the per-type continuation. Single-use types are
// consumed before the continuation's effects become visible, so a concurrent
// second redemption of the same code cannot succeed.
func (v *Verifier) ValidateRequest(ctx context.Context, values url.Values) (Result, error) {
	var sub Submission
	if err := utils.DecodeForm(values, &sub); err != nil {
		if fields, ok := internal_errors.AsFieldErrors(err); ok {
			return invalidResult(fields), nil
		}
		return Result{}, err
	}

	typ, known := domain.ParseVerificationType(sub.Type)
	if !known {
		return invalidResult(internal_errors.NewFieldError("type", "Unsupported verification type")), nil
	}

	record, ok := v.liveMatch(ctx, sub.Code, typ, sub.Target)
	if !ok {
		// Field-level, not top-level: the form redisplays with the error
		// attached to the code input.
		return invalidResult(internal_errors.NewFieldError("code", "Invalid code")), nil
	}
	sub.Payload = record.Payload

	cont, registered := v.continuations[typ]
	if !registered {
		return invalidResult(internal_errors.NewFieldError("type", "Unsupported verification type")), nil
	}

	if !typ.SingleUse() {
		return v.runContinuation(ctx, cont, sub)
	}

	var result Result
	err := v.storage.RedeemVerification(ctx, sub.Target, typ, func(ctx context.Context) error {
		var contErr error
		result, contErr = cont(ctx, sub)
		return contErr
	})
	if err != nil {
		if internal_errors.IsNotFound(err) {
			// Lost the redemption race: the record is already consumed.
			return invalidResult(internal_errors.NewFieldError("code", "Invalid code")), nil
		}
		if fields, ok := internal_errors.AsFieldErrors(err); ok {
			return invalidResult(fields), nil
		}
		return Result{}, err
	}
	return result, nil
}

func (v *Verifier) runContinuation(ctx context.Context, cont Continuation, sub Submission) (Result, error) {
	result, err := cont(ctx, sub)
	if err != nil {
		if fields, ok := internal_errors.AsFieldErrors(err); ok {
			return invalidResult(fields), nil
		}
		return Result{}, err
	}
	return result, nil
}

func otpParams(v domain.Verification) otp.Params {
	return otp.Params{
		Secret:    v.Secret,
		Algorithm: v.Algorithm,
		Digits:    v.Digits,
		Period:    v.Period,
		CharSet:   v.CharSet,
	}
}
