package gateway

import (
	"fmt"
	"sync"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"

	"github.com/modelgate/modelgate/gateway/structs"
)

const (
	// rateWindow is the span of the RPM and TPM sliding windows.
	rateWindow = time.Minute

	// errorWindow is how long an upstream failure stays on a
	// provider's ledger.
	errorWindow = 24 * time.Hour

	// penaltyPerError is the cool-down added per recent failure.
	penaltyPerError = 10 * time.Minute

	// maxPenalty caps the cool-down at a full day.
	maxPenalty = 24 * time.Hour
)

// Rejection reasons returned by Admit. Kept in the wire format the
// admin tooling greps for.
const (
	reasonRPM = "RPM limit exceeded"
	reasonTPM = "TPM limit exceeded"
	reasonRPD = "RPD limit exceeded"
)

// tokenEvent is one committed request in the TPM window.
type tokenEvent struct {
	ts     time.Time
	tokens int
}

// providerCounters is the governor's per-provider accounting state.
// Entries are created lazily on first mention of a provider and live
// for the process lifetime.
type providerCounters struct {
	rpm []time.Time  // unit events, oldest first
	tpm []tokenEvent // token events, oldest first
	rpd int          // requests in the current calendar day
}

// Governor is the token/request accounting engine. It enforces
// per-provider RPM, TPM, RPD, and TPR ceilings plus a failure-driven
// cool-down, and is the sole shared mutable state of the gateway.
//
// Every method performs its read-modify-write under one exclusive
// lock; none of them block on I/O. TryAdmit makes the admit+commit
// pair atomic with respect to concurrent admissions against the same
// provider.
type Governor struct {
	lock     sync.Mutex
	counters map[string]*providerCounters
	errors   map[string][]time.Time

	logger hclog.Logger

	// now is a seam for tests that need to move the clock.
	now func() time.Time
}

func NewGovernor(logger hclog.Logger) *Governor {
	return &Governor{
		counters: make(map[string]*providerCounters),
		errors:   make(map[string][]time.Time),
		logger:   logger.Named("governor"),
		now:      time.Now,
	}
}

func (g *Governor) countersFor(provider string) *providerCounters {
	pc, ok := g.counters[provider]
	if !ok {
		pc = &providerCounters{}
		g.counters[provider] = pc
	}
	return pc
}

// pruneLocked drops window entries older than rateWindow. Windows are
// ordered by timestamp so only an oldest prefix is ever removed.
func (g *Governor) pruneLocked(pc *providerCounters, now time.Time) {
	cutoff := now.Add(-rateWindow)
	i := 0
	for i < len(pc.rpm) && !pc.rpm[i].After(cutoff) {
		i++
	}
	pc.rpm = pc.rpm[i:]

	i = 0
	for i < len(pc.tpm) && !pc.tpm[i].ts.After(cutoff) {
		i++
	}
	pc.tpm = pc.tpm[i:]
}

// pruneErrorsLocked drops ledger entries older than errorWindow and
// returns the surviving entries.
func (g *Governor) pruneErrorsLocked(provider string, now time.Time) []time.Time {
	cutoff := now.Add(-errorWindow)
	entries := g.errors[provider]
	i := 0
	for i < len(entries) && !entries[i].After(cutoff) {
		i++
	}
	entries = entries[i:]
	g.errors[provider] = entries
	return entries
}

func currentTPM(pc *providerCounters) int {
	sum := 0
	for _, ev := range pc.tpm {
		sum += ev.tokens
	}
	return sum
}

// admitLocked runs the admission checks without recording usage.
func (g *Governor) admitLocked(provider string, limits *structs.Limits, tokens int, now time.Time) (bool, string) {
	if limited, remaining := g.errorStateLocked(provider, now); limited {
		return false, fmt.Sprintf("error_limited:%d", remaining)
	}

	pc := g.countersFor(provider)
	g.pruneLocked(pc, now)

	if limits == nil {
		return true, ""
	}
	if limits.RPM != nil && len(pc.rpm) >= *limits.RPM {
		return false, reasonRPM
	}
	if limits.TPM != nil && currentTPM(pc)+tokens > *limits.TPM {
		return false, reasonTPM
	}
	if limits.TPR != nil && tokens > *limits.TPR {
		return false, fmt.Sprintf("Token per request limit exceeded: %d > %d", tokens, *limits.TPR)
	}
	if limits.RPD != nil && pc.rpd >= *limits.RPD {
		return false, reasonRPD
	}
	return true, ""
}

func (g *Governor) commitLocked(provider string, tokens int, now time.Time) {
	pc := g.countersFor(provider)
	pc.rpm = append(pc.rpm, now)
	pc.tpm = append(pc.tpm, tokenEvent{ts: now, tokens: tokens})
	pc.rpd++
}

// Admit reports whether the provider has budget for a request costing
// tokens. It does not record usage; callers that act on an acceptance
// must Commit, or use TryAdmit to do both atomically.
func (g *Governor) Admit(provider string, limits *structs.Limits, tokens int) (bool, string) {
	g.lock.Lock()
	defer g.lock.Unlock()
	return g.admitLocked(provider, limits, tokens, g.now())
}

// Commit records the consumed budget of an admitted request. Call only
// after Admit accepted.
func (g *Governor) Commit(provider string, tokens int) {
	g.lock.Lock()
	defer g.lock.Unlock()
	g.commitLocked(provider, tokens, g.now())
}

// TryAdmit folds Admit and Commit into a single step: no concurrent
// admission for the same provider can interleave between the check and
// the counter update.
func (g *Governor) TryAdmit(provider string, limits *structs.Limits, tokens int) (bool, string) {
	g.lock.Lock()
	defer g.lock.Unlock()

	now := g.now()
	ok, reason := g.admitLocked(provider, limits, tokens, now)
	if !ok {
		metrics.IncrCounterWithLabels(
			[]string{"gateway", "governor", "rejected"}, 1,
			[]metrics.Label{{Name: "provider", Value: provider}})
		return false, reason
	}
	g.commitLocked(provider, tokens, now)
	metrics.IncrCounterWithLabels(
		[]string{"gateway", "governor", "admitted"}, 1,
		[]metrics.Label{{Name: "provider", Value: provider}})
	metrics.AddSampleWithLabels(
		[]string{"gateway", "governor", "tokens"}, float32(tokens),
		[]metrics.Label{{Name: "provider", Value: provider}})
	return true, ""
}

// RecordError appends a failure to the provider's ledger and returns
// the number of failures on the ledger, including this one.
func (g *Governor) RecordError(provider string) int {
	g.lock.Lock()
	defer g.lock.Unlock()

	now := g.now()
	entries := g.pruneErrorsLocked(provider, now)
	entries = append(entries, now)
	g.errors[provider] = entries

	metrics.IncrCounterWithLabels(
		[]string{"gateway", "governor", "upstream_errors"}, 1,
		[]metrics.Label{{Name: "provider", Value: provider}})
	return len(entries)
}

// errorStateLocked computes the penalty state: with n failures in the
// last 24h and t_last the newest, the provider is excluded until
// t_last + min(10m*n, 24h).
func (g *Governor) errorStateLocked(provider string, now time.Time) (bool, int) {
	entries := g.pruneErrorsLocked(provider, now)
	if len(entries) == 0 {
		return false, 0
	}

	penalty := time.Duration(len(entries)) * penaltyPerError
	if penalty > maxPenalty {
		penalty = maxPenalty
	}
	until := entries[len(entries)-1].Add(penalty)
	if now.Before(until) {
		return true, int(until.Sub(now).Minutes())
	}
	return false, 0
}

// ErrorState reports whether the provider is in penalty, and if so how
// many whole minutes remain.
func (g *Governor) ErrorState(provider string) (bool, int) {
	g.lock.Lock()
	defer g.lock.Unlock()
	return g.errorStateLocked(provider, g.now())
}

// ResetDaily zeroes the per-day request count of every provider. The
// minute windows are untouched. Scheduled at local midnight.
func (g *Governor) ResetDaily() {
	g.lock.Lock()
	defer g.lock.Unlock()
	for _, pc := range g.counters {
		pc.rpd = 0
	}
	g.logger.Info("daily request counters reset")
}

// SweepErrors prunes expired ledger entries and drops providers whose
// ledgers emptied. Scheduled periodically.
func (g *Governor) SweepErrors() {
	g.lock.Lock()
	defer g.lock.Unlock()

	now := g.now()
	for provider := range g.errors {
		if len(g.pruneErrorsLocked(provider, now)) == 0 {
			delete(g.errors, provider)
		}
	}
}

// ResetAll clears every window, daily count, and error ledger.
func (g *Governor) ResetAll() {
	g.lock.Lock()
	defer g.lock.Unlock()

	for provider := range g.counters {
		g.counters[provider] = &providerCounters{}
	}
	g.errors = make(map[string][]time.Time)
	g.logger.Info("all rate limit counters reset")
}

// Snapshot reports current window readings against the configured
// ceilings. limitsOf resolves a provider's limits; it must not call
// back into the governor.
func (g *Governor) Snapshot(limitsOf func(provider string) *structs.Limits) *structs.UsageSnapshot {
	g.lock.Lock()
	defer g.lock.Unlock()

	now := g.now()
	data := make(map[string]*structs.ProviderUsage, len(g.counters))
	for provider, pc := range g.counters {
		g.pruneLocked(pc, now)

		var limits structs.Limits
		if l := limitsOf(provider); l != nil {
			limits = *l
		}
		orZero := func(v *int) int {
			if v == nil {
				return 0
			}
			return *v
		}
		data[provider] = &structs.ProviderUsage{
			RPM: structs.UsageCounter{Current: len(pc.rpm), Limit: orZero(limits.RPM)},
			TPM: structs.UsageCounter{Current: currentTPM(pc), Limit: orZero(limits.TPM)},
			RPD: structs.UsageCounter{Current: pc.rpd, Limit: orZero(limits.RPD)},
		}
	}
	return &structs.UsageSnapshot{
		Data:      data,
		Timestamp: now.Format(time.RFC3339Nano),
	}
}
