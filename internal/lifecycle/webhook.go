package lifecycle

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/oddstack/browserpool/internal/slot"
)

const webhookTimeout = 10 * time.Second

// webhookBody is the JSON payload POSTed to a session's webhook on
// node:deleted (spec.md §4.4, §6).
type webhookBody struct {
	ClientID    string `json:"clientID"`
	SessionUUID string `json:"sessionUUID"`
	SessionData string `json:"sessionData"`
	IsError     bool   `json:"isError"`
	Error       string `json:"error"`
	ReportKey   string `json:"reportKey"`
}

// webhookEligible reports whether a session's webhook should fire:
// spec.md §4.4 requires a non-empty webhook, reportKey, and
// sessionUUID.
func webhookEligible(s slot.Session) bool {
	return s.Webhook != "" && s.ReportKey != "" && s.SessionUUID != ""
}

// dispatchWebhook POSTs the completion payload. Failures are
// swallowed (spec.md: "best-effort; the container is dying
// regardless").
func dispatchWebhook(logger *log.Logger, client *http.Client, s slot.Session, isError bool, message, sessionData string, hasSessionData bool) {
	if !webhookEligible(s) {
		return
	}

	// sessionData is only forwarded when the slot has a fingerprintID
	// (spec.md §4.4); otherwise the webhook receives an empty string
	// even if the event carried one.
	data := ""
	if s.FingerprintID != "" && hasSessionData {
		data = sessionData
	}

	body := webhookBody{
		ClientID:    s.ClientID,
		SessionUUID: s.SessionUUID,
		SessionData: data,
		IsError:     isError,
		Error:       message,
		ReportKey:   s.ReportKey,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		logger.Printf("webhook: marshal failed: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Webhook, bytes.NewReader(payload))
	if err != nil {
		logger.Printf("webhook: build request failed: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		logger.Printf("webhook: POST %s failed: %v", s.Webhook, err)
		return
	}
	resp.Body.Close()
}
