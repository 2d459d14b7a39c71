package billing

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// WebhookHandler returns the HTTP endpoint for provider webhook deliveries.
// Successful processing, including ignored and duplicate events, answers 200
// with a JSON {status, message} body. Any failure answers non-2xx so the sender retries.
func (s *Service) WebhookHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			writeWebhookJSON(w, http.StatusMethodNotAllowed, "error", "method not allowed")
			return
		}

		if s.cfg.WebhookBodyLimit > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, s.cfg.WebhookBodyLimit)
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeWebhookJSON(w, http.StatusRequestEntityTooLarge, "error", "payload too large")
				return
			}
			writeWebhookJSON(w, http.StatusBadRequest, "error", "failed to read request body")
			return
		}

		resp, err := s.HandleWebhook(r.Context(), WebhookRequest{Header: r.Header.Clone(), Body: body})
		if err != nil {
			switch {
			case errors.Is(err, ErrWebhookVerificationFailed), errors.Is(err, ErrInvalidWebhookPayload):
				writeWebhookJSON(w, http.StatusBadRequest, "error", "invalid webhook")
			case errors.Is(err, ErrEventInFlight):
				writeWebhookJSON(w, http.StatusConflict, "in_flight", "event is being processed, retry later")
			default:
				writeWebhookJSON(w, http.StatusInternalServerError, "error", "failed to process webhook")
			}
			return
		}

		writeWebhookJSON(w, resp.StatusCode, resp.Status, resp.Message)
	})
}

func writeWebhookJSON(w http.ResponseWriter, status int, state, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(WebhookResponse{Status: state, Message: message})
}
