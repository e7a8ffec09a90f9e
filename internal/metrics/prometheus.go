package metrics

import (
	"net/http"
	"strconv"
	"strings"
)

type counterDef struct {
	id   ID
	name string
	help string
}

var counterDefs = []counterDef{
	{LoginSuccess, "authcore_login_success_total", "Successful password logins."},
	{LoginFailure, "authcore_login_failure_total", "Rejected password logins."},
	{LoginRateLimited, "authcore_login_rate_limited_total", "Logins denied by the rate limiter."},
	{RegisterSuccess, "authcore_register_success_total", "Accounts created."},
	{RegisterDuplicate, "authcore_register_duplicate_total", "Registrations rejected for an existing email."},
	{RefreshSuccess, "authcore_refresh_success_total", "Successful refresh-token rotations."},
	{RefreshFailure, "authcore_refresh_failure_total", "Rejected refresh attempts."},
	{RefreshTheftSuspected, "authcore_refresh_theft_suspected_total", "Refresh rotations revoked on fingerprint mismatch."},
	{Logout, "authcore_logout_total", "Single-session logouts."},
	{LogoutAll, "authcore_logout_all_total", "All-session revocations."},
	{ResetRequest, "authcore_reset_request_total", "Password-reset emails requested."},
	{ResetConfirmSuccess, "authcore_reset_confirm_success_total", "Password resets completed."},
	{ResetConfirmFailure, "authcore_reset_confirm_failure_total", "Password-reset confirmations rejected."},
	{PasswordChangeSuccess, "authcore_password_change_success_total", "Authenticated password changes."},
	{PasswordReuseRejected, "authcore_password_reuse_rejected_total", "Password updates rejected for reusing a recent password."},
	{RateLimitHit, "authcore_rate_limit_hit_total", "Requests denied by any rate-limit policy."},
	{LimiterFallback, "authcore_limiter_fallback_total", "Rate-limit checks served by the local fallback store."},
	{ValidateSuccess, "authcore_validate_success_total", "Access tokens accepted."},
	{ValidateFailure, "authcore_validate_failure_total", "Access tokens rejected."},
}

// Render writes the counters in Prometheus text exposition format.
func (c *Counters) Render() string {
	var b strings.Builder
	b.Grow(4096)

	for _, def := range counterDefs {
		b.WriteString("# HELP ")
		b.WriteString(def.name)
		b.WriteByte(' ')
		b.WriteString(def.help)
		b.WriteByte('\n')
		b.WriteString("# TYPE ")
		b.WriteString(def.name)
		b.WriteString(" counter\n")
		b.WriteString(def.name)
		b.WriteByte(' ')
		b.WriteString(strconv.FormatUint(c.Value(def.id), 10))
		b.WriteByte('\n')
	}

	return b.String()
}

// Handler serves the counters in Prometheus text exposition format.
func (c *Counters) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(c.Render()))
	})
}
