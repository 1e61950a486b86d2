package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/dgnsrekt/request_inspector/internal/cdp"
	"github.com/dgnsrekt/request_inspector/internal/events"
	"github.com/dgnsrekt/request_inspector/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Service is the read-only view of attached tabs the API serves.
type Service interface {
	Tabs() []types.TabInfo
	Records(tabID string) ([]types.RequestRecord, error)
	Record(tabID, requestID string) (types.RequestRecord, error)
	Correlate(tabID, url string) (types.RequestRecord, bool, error)
	Stats() []cdp.TabStats
}

// NewServer builds the inspection API. broker may be nil, in which case the
// event stream routes are not mounted.
func NewServer(svc Service, broker *events.Broker) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("Request Inspector API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})

	if broker != nil {
		router.Get("/api/v1/events", events.SSEHandler(broker))
		router.Get("/api/v1/events/ws", events.WebSocketHandler(broker))
	}

	registerHealthHandlers(api)
	registerTabHandlers(api, svc)
	registerStatsHandlers(api, svc, broker)

	return router
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *cdp.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case cdp.CodeValidation:
			return huma.Error400BadRequest(coded.Message)
		case cdp.CodeTabNotFound, cdp.CodeRecordNotFound:
			return huma.Error404NotFound(coded.Message)
		case cdp.CodeCDPUnavailable:
			return huma.Error502BadGateway(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
