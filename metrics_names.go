package hrauth

var metricNames = [metricIDCount]string{
	MetricLoginSuccess:              "login_success",
	MetricLoginFailure:              "login_failure",
	MetricLoginRateLimited:          "login_rate_limited",
	MetricLoginNoCredentialMethod:   "login_no_credential_method",
	MetricProviderLoginSuccess:      "provider_login_success",
	MetricProviderLoginFailure:      "provider_login_failure",
	MetricProviderConflict:          "provider_conflict",
	MetricSignupSuccess:             "signup_success",
	MetricSignupDuplicate:           "signup_duplicate",
	MetricSignupRolledBack:          "signup_rolled_back",
	MetricSessionCreated:            "session_created",
	MetricSessionInvalidated:        "session_invalidated",
	MetricLogout:                    "logout",
	MetricLogoutAll:                 "logout_all",
	MetricCredentialMigrated:        "credential_migrated",
	MetricCredentialMigrationFailed: "credential_migration_failed",
	MetricExternalEnsureFailure:     "external_ensure_failure",
	MetricExternalRefresh:           "external_refresh",
	MetricExternalRefreshReplay:     "external_refresh_replay",
	MetricExternalInvalidateFailure: "external_invalidate_failure",
	MetricPasswordChangeSuccess:     "password_change_success",
	MetricPasswordChangeInvalidOld:  "password_change_invalid_old",
	MetricProviderLinked:            "provider_linked",
	MetricProviderUnlinked:          "provider_unlinked",
	MetricEmailVerificationRequest:  "email_verification_request",
	MetricEmailVerificationSuccess:  "email_verification_success",
	MetricEmailVerificationFailure:  "email_verification_failure",
	MetricInviteCreated:             "invite_created",
	MetricInviteAccepted:            "invite_accepted",
	MetricInviteCancelled:           "invite_cancelled",
	MetricMailFailure:               "mail_failure",
	MetricRateLimitHit:              "rate_limit_hit",
	MetricValidateLatency:           "validate_latency",
}

// String returns the snake_case name used by exporters.
func (id MetricID) String() string {
	if id >= metricIDCount {
		return "unknown"
	}
	return metricNames[id]
}

// MetricIDs lists every defined metric in order.
func MetricIDs() []MetricID {
	out := make([]MetricID, 0, metricIDCount)
	for id := MetricID(0); id < metricIDCount; id++ {
		out = append(out, id)
	}
	return out
}

// HistogramBounds are the inclusive upper bounds, in milliseconds, of the
// latency buckets. The last bucket is unbounded.
var HistogramBounds = []float64{5, 10, 25, 50, 100, 250, 500}
