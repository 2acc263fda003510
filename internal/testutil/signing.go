package testutil

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"time"

	"emojipapertrail/relay/internal/slack"
)

// SignSlackRequest computes the v0 signature Slack sends for body at
// timestamp.
func SignSlackRequest(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("v0:" + timestamp + ":"))
	mac.Write(body)
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}

// SignedSlackHeader returns the signature headers for body sent at sent.
func SignedSlackHeader(secret string, sent time.Time, body []byte) http.Header {
	ts := strconv.FormatInt(sent.Unix(), 10)
	h := http.Header{}
	h.Set(slack.HeaderTimestamp, ts)
	h.Set(slack.HeaderSignature, SignSlackRequest(secret, ts, body))
	return h
}
