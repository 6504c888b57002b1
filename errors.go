package authbroker

import "errors"

var (
	// ErrBrokerNotReady is an exported constant or variable used by the authentication broker.
	ErrBrokerNotReady = errors.New("broker not ready")
	// ErrInvalidCredentials is an exported constant or variable used by the authentication broker.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrChallengeExpired is an exported constant or variable used by the authentication broker.
	ErrChallengeExpired = errors.New("challenge expired or unknown")
	// ErrAccountConflict is an exported constant or variable used by the authentication broker.
	ErrAccountConflict = errors.New("account already bound to this identity")
	// ErrAccountNotFound is an exported constant or variable used by the authentication broker.
	ErrAccountNotFound = errors.New("account not found")
	// ErrRegistrationDisabled is an exported constant or variable used by the authentication broker.
	ErrRegistrationDisabled = errors.New("registration disabled for this method")
	// ErrRepositoryUnavailable is an exported constant or variable used by the authentication broker.
	ErrRepositoryUnavailable = errors.New("account repository unavailable")
	// ErrProviderUnavailable is an exported constant or variable used by the authentication broker.
	ErrProviderUnavailable = errors.New("identity provider unavailable")
	// ErrNotifyFailed is an exported constant or variable used by the authentication broker.
	ErrNotifyFailed = errors.New("could not notify account")
	// ErrRateLimited is an exported constant or variable used by the authentication broker.
	ErrRateLimited = errors.New("rate limited")
	// ErrPasswordPolicy is an exported constant or variable used by the authentication broker.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrPasswordFactorDisabled is an exported constant or variable used by the authentication broker.
	ErrPasswordFactorDisabled = errors.New("password factor disabled")
	// ErrTOTPFeatureDisabled is an exported constant or variable used by the authentication broker.
	ErrTOTPFeatureDisabled = errors.New("totp feature disabled")
	// ErrTOTPAlreadyEnrolled is an exported constant or variable used by the authentication broker.
	ErrTOTPAlreadyEnrolled = errors.New("totp already enrolled")
	// ErrTOTPNotEnrolled is an exported constant or variable used by the authentication broker.
	ErrTOTPNotEnrolled = errors.New("totp not enrolled")
	// ErrTOTPNotActive is an exported constant or variable used by the authentication broker.
	ErrTOTPNotActive = errors.New("totp enrollment not confirmed")
	// ErrTOTPNotPending is an exported constant or variable used by the authentication broker.
	ErrTOTPNotPending = errors.New("no pending totp enrollment")
	// ErrFidoFeatureDisabled is an exported constant or variable used by the authentication broker.
	ErrFidoFeatureDisabled = errors.New("fido2 feature disabled")
	// ErrWalletFeatureDisabled is an exported constant or variable used by the authentication broker.
	ErrWalletFeatureDisabled = errors.New("wallet feature disabled")
	// ErrSocialFeatureDisabled is an exported constant or variable used by the authentication broker.
	ErrSocialFeatureDisabled = errors.New("social login feature disabled")
	// ErrMagicLinkFeatureDisabled is an exported constant or variable used by the authentication broker.
	ErrMagicLinkFeatureDisabled = errors.New("magic link feature disabled")
	// ErrInvitationFeatureDisabled is an exported constant or variable used by the authentication broker.
	ErrInvitationFeatureDisabled = errors.New("invitation feature disabled")
	// ErrUnknownProvider is an exported constant or variable used by the authentication broker.
	ErrUnknownProvider = errors.New("unknown social provider")
	// ErrSessionInvalid is an exported constant or variable used by the authentication broker.
	ErrSessionInvalid = errors.New("session token invalid")
	// ErrStepUpRequired is an exported constant or variable used by the authentication broker.
	ErrStepUpRequired = errors.New("totp step-up required")
)
