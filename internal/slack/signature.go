package slack

import (
	"errors"
	"net/http"
	"time"

	slackgo "github.com/slack-go/slack"
)

const (
	HeaderSignature = "X-Slack-Signature"
	HeaderTimestamp = "X-Slack-Request-Timestamp"

	// MaxClockSkew bounds how old a signed request may be. slack-go enforces it.
	MaxClockSkew = 5 * time.Minute
)

var (
	ErrMissingSignature = errors.New("missing slack signature headers")
	ErrStaleRequest     = errors.New("slack request timestamp outside tolerance")
	ErrInvalidSignature = errors.New("invalid slack request signature")
)

// VerifySignature checks the X-Slack-Signature header against body with
// slack-go's secrets verifier and maps its failures onto the errors above.
func VerifySignature(secret string, header http.Header, body []byte) error {
	sv, err := slackgo.NewSecretsVerifier(header, secret)
	switch {
	case errors.Is(err, slackgo.ErrMissingHeaders):
		return ErrMissingSignature
	case errors.Is(err, slackgo.ErrExpiredTimestamp):
		return ErrStaleRequest
	case err != nil:
		// Undecodable signature or timestamp.
		return errors.Join(ErrInvalidSignature, err)
	}

	if _, err := sv.Write(body); err != nil {
		return errors.Join(ErrInvalidSignature, err)
	}
	if err := sv.Ensure(); err != nil {
		return ErrInvalidSignature
	}
	return nil
}
