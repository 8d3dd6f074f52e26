// Package websub manages the PubSubHubbub subscription that supplements
// polling: the subscribe/verify/renew lease lifecycle against the hub, and
// parsing of the Atom notification payloads the hub pushes to our callback.
package websub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/streamwatch/clock"
)

// ErrTopicMismatch is returned when a hub verification names a topic we never
// subscribed to. The lease state is left untouched.
var ErrTopicMismatch = errors.New("verification topic does not match subscription")

// State is the lease lifecycle. Transitions: Unsubscribed -> Pending
// (subscribe sent) -> Active (hub verified) -> Expiring -> Unsubscribed.
type State int

const (
	Unsubscribed State = iota
	Pending
	Active
	Expiring
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Active:
		return "active"
	case Expiring:
		return "expiring"
	default:
		return "unsubscribed"
	}
}

// DefaultLeaseSeconds is the lease we request from the hub (10 days).
const DefaultLeaseSeconds = 864000

// renewalFraction of the granted lease left when we start renewing.
const renewalFraction = 0.2

// verifyDeadline is how long a Pending subscribe waits for the hub's
// verification callback before the request is considered lost and resent.
const verifyDeadline = 5 * time.Minute

// Lease tracks one subscription for the whole process (single channel).
// Verification callbacks arrive on the HTTP listener goroutine, so state is
// mutex guarded.
type Lease struct {
	HubURL       string
	Topic        string
	CallbackURL  string
	LeaseSeconds int
	HTTPClient   *http.Client
	Clock        clock.Clock

	mu            sync.Mutex
	state         State
	leaseExpires  time.Time
	lastRenewedAt time.Time
	grantedLease  time.Duration
	pendingSince  time.Time
}

func (l *Lease) http() *http.Client {
	if l.HTTPClient != nil {
		return l.HTTPClient
	}
	return http.DefaultClient
}

func (l *Lease) clk() clock.Clock {
	if l.Clock != nil {
		return l.Clock
	}
	return clock.System{}
}

func (l *Lease) leaseSeconds() int {
	if l.LeaseSeconds > 0 {
		return l.LeaseSeconds
	}
	return DefaultLeaseSeconds
}

// Subscribe sends a subscribe intent to the hub. Confirmation arrives
// asynchronously as a GET verification, so success here only means the hub
// accepted the request; the lease moves to Pending.
func (l *Lease) Subscribe(ctx context.Context) error {
	if err := l.send(ctx, "subscribe"); err != nil {
		return err
	}
	l.mu.Lock()
	if l.state != Active {
		l.state = Pending
	}
	l.pendingSince = l.clk().Now()
	l.mu.Unlock()
	slog.Info("subscription request sent", slog.String("topic", l.Topic), slog.String("component", "websub"))
	return nil
}

// Unsubscribe asks the hub to drop the subscription (best effort, used at
// shutdown).
func (l *Lease) Unsubscribe(ctx context.Context) error {
	return l.send(ctx, "unsubscribe")
}

func (l *Lease) send(ctx context.Context, mode string) error {
	form := url.Values{
		"hub.callback": {l.CallbackURL},
		"hub.mode":     {mode},
		"hub.topic":    {l.Topic},
		"hub.verify":   {"async"},
	}
	if mode == "subscribe" {
		form.Set("hub.lease_seconds", fmt.Sprintf("%d", l.leaseSeconds()))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.HubURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := l.http().Do(req)
	if err != nil {
		return fmt.Errorf("hub %s: %w", mode, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("hub %s: unexpected status %d", mode, resp.StatusCode)
	}
	return nil
}

// HandleVerification processes a hub GET verification. On a matching
// subscribe it activates the lease and returns the challenge to echo
// verbatim; echoing is the only acknowledgment mechanism the hub accepts.
// On unsubscribe it clears the lease and still echoes. A topic mismatch
// returns ErrTopicMismatch without mutating lease state.
func (l *Lease) HandleVerification(mode, topic, challenge string, leaseSeconds int) (string, error) {
	if topic != l.Topic {
		return "", ErrTopicMismatch
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clk().Now()
	switch mode {
	case "subscribe":
		if leaseSeconds <= 0 {
			leaseSeconds = l.leaseSeconds()
		}
		l.state = Active
		l.grantedLease = time.Duration(leaseSeconds) * time.Second
		l.leaseExpires = now.Add(l.grantedLease)
		l.lastRenewedAt = now
		slog.Info("subscription verified", slog.String("topic", topic), slog.Time("expires", l.leaseExpires), slog.String("component", "websub"))
	case "unsubscribe":
		l.state = Unsubscribed
		l.leaseExpires = time.Time{}
		slog.Info("unsubscribe verified", slog.String("topic", topic), slog.String("component", "websub"))
	default:
		return "", fmt.Errorf("unknown hub.mode %q", mode)
	}
	return challenge, nil
}

// NeedsRenewal reports whether the lease is inactive or the remaining time
// has dropped below the safety margin (20% of the granted lease). A Pending
// lease whose hub verification never arrived counts as inactive once the
// verification deadline passes, so a lost subscribe is resent instead of
// leaving push dead.
func (l *Lease) NeedsRenewal(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.state {
	case Active, Expiring:
		margin := time.Duration(float64(l.grantedLease) * renewalFraction)
		if l.leaseExpires.Sub(now) < margin {
			l.state = Expiring
			return true
		}
		return false
	case Pending:
		return now.Sub(l.pendingSince) > verifyDeadline
	default:
		return true
	}
}

// State returns the current lifecycle state.
func (l *Lease) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// ExpiresAt returns the lease expiry (zero when not active).
func (l *Lease) ExpiresAt() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.leaseExpires
}
