package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	AuthorizeRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "idp_authorize_requests_total",
		Help: "Authorize requests by outcome (login, consent, code, denied, error).",
	}, []string{"outcome"})

	CodesIssuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "idp_authorization_codes_issued_total",
		Help: "Total number of authorization codes issued.",
	})

	TokensIssuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "idp_tokens_issued_total",
		Help: "Successful token endpoint responses by grant type.",
	}, []string{"grant_type"})

	TokenErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "idp_token_errors_total",
		Help: "Failed token endpoint requests by grant type and error code.",
	}, []string{"grant_type", "error"})

	LoginSuccessTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "idp_logins_success_total",
		Help: "Total number of successful direct logins.",
	})

	LoginFailureTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "idp_logins_failure_total",
		Help: "Total number of failed direct logins.",
	})

	LogoutsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "idp_logouts_total",
		Help: "Logout requests by kind (single, universal, client).",
	}, []string{"kind"})

	RevokedTokensTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "idp_refresh_tokens_revoked_total",
		Help: "Total number of refresh tokens invalidated.",
	})

	BestEffortFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "idp_best_effort_failures_total",
		Help: "Failed fire-and-forget cleanup tasks by task name.",
	}, []string{"task"})
)

// InitCustomMetrics registers the custom Prometheus metrics with reg.
// It should be called once at application startup.
func InitCustomMetrics(reg prometheus.Registerer) {
	if reg == nil {
		log.Error().Msg("Prometheus registry is nil, cannot register custom metrics.")
		return
	}

	collectors := map[string]prometheus.Collector{
		"AuthorizeRequestsTotal":  AuthorizeRequestsTotal,
		"CodesIssuedTotal":        CodesIssuedTotal,
		"TokensIssuedTotal":       TokensIssuedTotal,
		"TokenErrorsTotal":        TokenErrorsTotal,
		"LoginSuccessTotal":       LoginSuccessTotal,
		"LoginFailureTotal":       LoginFailureTotal,
		"LogoutsTotal":            LogoutsTotal,
		"RevokedTokensTotal":      RevokedTokensTotal,
		"BestEffortFailuresTotal": BestEffortFailuresTotal,
	}
	for name, c := range collectors {
		if err := reg.Register(c); err != nil {
			log.Warn().Err(err).Msgf("Failed to register %s metric", name)
		}
	}
	log.Info().Msg("Custom Prometheus metrics registered.")
}
