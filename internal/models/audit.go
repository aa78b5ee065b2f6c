package models

// Event types for audit logging
const (
	AuditEventRegister        = "register"
	AuditEventLogin           = "login"
	AuditEventTwoFactorCode   = "two_factor_code"
	AuditEventTwoFactorToggle = "two_factor_toggle"
	AuditEventPasswordReset   = "password_reset"
	AuditEventAdminSeed       = "admin_seed"
	AuditEventAccountDelete   = "account_delete"
)

// Failure reasons
const (
	AuditReasonUnknownUser       = "unknown_user"
	AuditReasonBadPassword       = "invalid_credentials"
	AuditReasonCodeNotSent       = "code_not_sent"
	AuditReasonWrongCode         = "wrong_code"
	AuditReasonTooManyAttempts   = "too_many_attempts"
	AuditReasonBadRecoveryCode   = "wrong_recovery_code"
	AuditReasonTwoFactorFailOpen = "two_factor_disabled_unverified_email"
)
