package main

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/paysync/pkg/billing"
	"github.com/dmitrymomot/paysync/pkg/environment"
	"github.com/dmitrymomot/paysync/pkg/httpserver"
	"github.com/dmitrymomot/paysync/pkg/logger"
	"github.com/dmitrymomot/paysync/pkg/requestid"
)

func newRouter(svc *billing.Service, env environment.Environment, log *slog.Logger, checks []httpserver.Check) chi.Router {
	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Use(environment.Middleware(env))

	r.Get("/health/live", httpserver.LivenessHandler())
	r.Get("/health/ready", httpserver.ReadinessHandler(log, checks...))

	r.Route("/billing", func(b chi.Router) {
		b.Method(http.MethodPost, "/webhooks", svc.WebhookHandler())
		b.Get("/plans", plansHandler(svc, log))
	})

	return r
}

type planResponse struct {
	Slug        string              `json:"slug"`
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Features    []string            `json:"features"`
	Limits      map[string]int64    `json:"limits"`
	Prices      []planPriceResponse `json:"prices"`
}

type planPriceResponse struct {
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	Interval      string `json:"interval"`
	IntervalCount int    `json:"interval_count"`
}

// plansHandler lists the public catalog for pricing pages.
func plansHandler(svc *billing.Service, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		plans, err := svc.Plans(r.Context())
		if err != nil {
			log.ErrorContext(r.Context(), "Failed to list plans", logger.Component("api"), logger.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": billing.ErrorCode(err)})
			return
		}

		resp := make([]planResponse, 0, len(plans))
		for _, p := range plans {
			item := planResponse{
				Slug:        p.Slug,
				Name:        p.Name,
				Description: p.Description,
				Features:    p.Metadata.Features,
				Limits:      p.Metadata.Limits,
				Prices:      make([]planPriceResponse, 0, len(p.Prices)),
			}
			for _, price := range p.Prices {
				item.Prices = append(item.Prices, planPriceResponse{
					Amount:        price.Amount,
					Currency:      price.Currency,
					Interval:      string(price.Interval),
					IntervalCount: max(price.IntervalCount, 1),
				})
			}
			resp = append(resp, item)
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
