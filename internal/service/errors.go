package service

import "errors"

var (
	ErrNotInstalled   = errors.New("app is not installed for this workspace")
	ErrInvalidState   = errors.New("invalid or expired oauth state")
	ErrOAuthExchange  = errors.New("failed to exchange oauth code for token")
	ErrInstallDenied  = errors.New("installation was cancelled")
	ErrMissingOAuthID = errors.New("oauth client id and secret are required")
)
