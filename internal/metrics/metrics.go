package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sessionkeeper"

// Result labels
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultReuse   = "reuse"
	ResultError   = "error"
)

// Revocation reasons
const (
	ReasonLogout   = "logout"
	ReasonSingle   = "single"
	ReasonOthers   = "others"
	ReasonAll      = "all"
	ReasonReplaced = "replaced"
	ReasonReuse    = "reuse"
	ReasonExpired  = "expired"
)

// Metrics holds the session lifecycle counters.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	LoginAttempts   *prometheus.CounterVec
	Refreshes       *prometheus.CounterVec
	ReuseDetected   prometheus.Counter
	SessionsRevoked *prometheus.CounterVec
	BlacklistAdds   prometheus.Counter
	BlacklistSwept  prometheus.Counter
	SessionsSwept   prometheus.Counter
}

// New registers the counters with reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		LoginAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_attempts_total",
			Help:      "The total number of login attempts",
		}, []string{"result"}),
		Refreshes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refresh_total",
			Help:      "The total number of access token refreshes",
		}, []string{"result"}),
		ReuseDetected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_token_reuse_total",
			Help:      "Refresh tokens presented after being rotated out",
		}),
		SessionsRevoked: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_revoked_total",
			Help:      "Sessions deleted, by reason",
		}, []string{"reason"}),
		BlacklistAdds: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blacklist_additions_total",
			Help:      "Access tokens added to the blacklist",
		}),
		BlacklistSwept: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blacklist_swept_total",
			Help:      "Expired blacklist entries removed by the janitor",
		}),
		SessionsSwept: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_swept_total",
			Help:      "Expired sessions removed by the sweeper",
		}),
	}
}

func (m *Metrics) Login(result string) {
	if m != nil {
		m.LoginAttempts.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Refresh(result string) {
	if m != nil {
		m.Refreshes.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Reuse() {
	if m != nil {
		m.ReuseDetected.Inc()
	}
}

func (m *Metrics) Revoked(reason string, n int) {
	if m != nil && n > 0 {
		m.SessionsRevoked.WithLabelValues(reason).Add(float64(n))
	}
}

func (m *Metrics) Blacklisted() {
	if m != nil {
		m.BlacklistAdds.Inc()
	}
}

func (m *Metrics) BlacklistSweep(n int) {
	if m != nil && n > 0 {
		m.BlacklistSwept.Add(float64(n))
	}
}

func (m *Metrics) SessionSweep(n int) {
	if m != nil && n > 0 {
		m.SessionsSwept.Add(float64(n))
	}
}
