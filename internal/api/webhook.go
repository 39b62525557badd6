package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"refurb-bridge/internal/logger"
)

// validateWebhookSignature checks an HMAC-SHA256 hex signature of the form
// "sha256=<hex>" over the raw body, in constant time.
func validateWebhookSignature(body []byte, signature, secret string) bool {
	const prefix = "sha256="
	if !strings.HasPrefix(signature, prefix) {
		return false
	}
	got, err := hex.DecodeString(signature[len(prefix):])
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// webhookEnvelope is the marketplace push shape: the event type plus a
// nested payload carrying the remote ids. Some senders flatten the body,
// so "event" and top-level ids are accepted as aliases.
type webhookEnvelope struct {
	Type    string          `json:"type"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// handleWebhook verifies the marketplace push signature (when a secret is
// configured) and reacts to the event. Unknown events still answer 200 so
// the sender does not retry them forever.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, 400, "unreadable body")
		return
	}

	if s.cfg.WebhookSecret != "" {
		sig := r.Header.Get("X-Hub-Signature-256")
		if !validateWebhookSignature(body, sig, s.cfg.WebhookSecret) {
			writeError(w, 401, "invalid signature")
			return
		}
	}

	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil || (env.Type == "" && env.Event == "") {
		writeError(w, 400, "missing event type")
		return
	}
	eventType := env.Type
	if eventType == "" {
		eventType = env.Event
	}
	payload := []byte(env.Payload)
	if len(payload) == 0 {
		payload = body
	}

	if err := s.sync.HandleWebhook(r.Context(), eventType, payload); err != nil {
		logger.Warn("WEBHOOK", eventType+": "+err.Error())
		writeError(w, 502, err.Error())
		return
	}
	writeJSON(w, map[string]string{"status": "ok", "event": eventType})
}
