package clicks

import (
	"context"
	"strings"
	"time"

	"github.com/admarket/mediator/internal/fingerprint"
	"github.com/admarket/mediator/internal/models"
	"github.com/admarket/mediator/internal/ratelimit"
)

// Decision is the validator verdict plus the fingerprints every downstream
// consumer persists, accepted or not.
type Decision struct {
	Status       string
	RejectReason string
	IPHash       string
	UAHash       string // empty when the UA header was absent
}

// Validator applies the click acceptance policy. Checks run in a fixed
// order; the first failing check names the reject reason.
type Validator struct {
	store           models.TxStore
	hasher          *fingerprint.Hasher
	limiter         *ratelimit.SlidingWindow
	duplicateWindow time.Duration
}

func NewValidator(store models.TxStore, hasher *fingerprint.Hasher, limiter *ratelimit.SlidingWindow, duplicateWindow time.Duration) *Validator {
	return &Validator{store: store, hasher: hasher, limiter: limiter, duplicateWindow: duplicateWindow}
}

// Validate decides one click. The assignment may be nil (unknown code). The
// UA check precedes duplicate detection, so a blank-UA retry of an already
// counted click reads BOT_SUSPECTED, not DUPLICATE_CLICK.
func (v *Validator) Validate(ctx context.Context, assignment *models.AdAssignment, ip, ua string, now time.Time) (Decision, error) {
	d := Decision{IPHash: v.hasher.Hash(ip)}
	if ua != "" {
		d.UAHash = v.hasher.Hash(ua)
	}

	if assignment == nil {
		d.Status = models.ClickRejected
		d.RejectReason = models.ReasonInvalidAssignment
		return d, nil
	}
	if strings.TrimSpace(ua) == "" {
		d.Status = models.ClickRejected
		d.RejectReason = models.ReasonBotSuspected
		return d, nil
	}

	dup, err := v.store.HasRecentClick(ctx, assignment.Code, d.IPHash, now.Add(-v.duplicateWindow))
	if err != nil {
		return Decision{}, err
	}
	if dup {
		d.Status = models.ClickRejected
		d.RejectReason = models.ReasonDuplicateClick
		return d, nil
	}

	if !v.limiter.Allow(d.IPHash, now) {
		d.Status = models.ClickRejected
		d.RejectReason = models.ReasonRateLimit
		return d, nil
	}

	d.Status = models.ClickAccepted
	return d, nil
}
