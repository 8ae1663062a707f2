package mcp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	headerAgentID   = "x-agent-id"
	headerTS        = "x-ts"
	headerSignature = "x-signature"
	headerNonce     = "x-nonce"

	// signatureWindow is how far x-ts may drift from the gateway clock.
	signatureWindow = 5 * time.Minute
)

// canonicalString is the legacy signing input without agent id and nonce.
func canonicalString(ts, method, pathname string, rawBody []byte) string {
	return ts + "\n" + strings.ToUpper(method) + "\n" + pathname + "\n" + string(rawBody)
}

func canonicalStringV2(ts, method, pathname, agentID, nonce string, rawBody []byte) string {
	return ts + "\n" + strings.ToUpper(method) + "\n" + pathname + "\n" + strings.TrimSpace(agentID) + "\n" + strings.TrimSpace(nonce) + "\n" + string(rawBody)
}

func signHMAC(secret []byte, canonical string) string {
	h := hmac.New(sha256.New, secret)
	_, _ = h.Write([]byte(canonical))
	return hex.EncodeToString(h.Sum(nil))
}

type authResult struct {
	SessionKey string
	HTTPStatus int
	Message    string
}

func deny(status int, msg string) authResult {
	return authResult{HTTPStatus: status, Message: msg}
}

// authenticator checks request signatures. The agent id header becomes the
// bridge session key.
type authenticator struct {
	secret      []byte
	allowLegacy bool
	replay      *replayGuard
}

func (a *authenticator) verify(r *http.Request, rawBody []byte, now time.Time) authResult {
	agentID := strings.TrimSpace(r.Header.Get(headerAgentID))
	if agentID == "" {
		return deny(http.StatusUnauthorized, "missing x-agent-id")
	}
	tsStr := strings.TrimSpace(r.Header.Get(headerTS))
	if tsStr == "" {
		return deny(http.StatusUnauthorized, "missing x-ts")
	}
	sig := strings.ToLower(strings.TrimSpace(r.Header.Get(headerSignature)))
	if sig == "" {
		return deny(http.StatusUnauthorized, "missing x-signature")
	}
	nonce := strings.TrimSpace(r.Header.Get(headerNonce))
	if nonce == "" && !a.allowLegacy {
		return deny(http.StatusUnauthorized, "missing x-nonce")
	}

	tsMS, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return deny(http.StatusUnauthorized, "bad x-ts")
	}
	if d := now.UnixMilli() - tsMS; d > signatureWindow.Milliseconds() || d < -signatureWindow.Milliseconds() {
		return deny(http.StatusUnauthorized, "x-ts outside window")
	}

	ok := false
	if nonce != "" {
		ok = hmac.Equal([]byte(sig), []byte(signHMAC(a.secret, canonicalStringV2(tsStr, r.Method, r.URL.Path, agentID, nonce, rawBody))))
	}
	if !ok && a.allowLegacy {
		ok = hmac.Equal([]byte(sig), []byte(signHMAC(a.secret, canonicalString(tsStr, r.Method, r.URL.Path, rawBody))))
	}
	if !ok {
		return deny(http.StatusUnauthorized, "bad signature")
	}
	if !a.replay.allow(agentID, sig, now) {
		return deny(http.StatusConflict, "replayed request")
	}
	return authResult{SessionKey: agentID}
}

func isLoopbackRemote(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(strings.TrimSpace(remoteAddr))
	if err != nil {
		host = strings.TrimSpace(remoteAddr)
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(strings.Trim(host, "[]"))
	return ip != nil && ip.IsLoopback()
}
