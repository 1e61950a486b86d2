package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/dgnsrekt/request_inspector/internal/cdp"
	"github.com/dgnsrekt/request_inspector/internal/events"
	"github.com/dgnsrekt/request_inspector/internal/types"
)

type tabIDInput struct {
	TabID string `path:"tab_id" doc:"CDP target ID of the attached tab"`
}

type listRequestsInput struct {
	TabID string `path:"tab_id" doc:"CDP target ID of the attached tab"`
	Kind  string `query:"kind" enum:"page_navigation,xml_http_request,fetch,form_submission" doc:"Only return records of this kind"`
	Limit int    `query:"limit" minimum:"0" doc:"Return at most this many of the newest records. 0 returns all."`
}

type getRequestInput struct {
	TabID     string `path:"tab_id"`
	RequestID string `path:"request_id"`
}

type correlateInput struct {
	TabID string `path:"tab_id"`
	URL   string `query:"url" required:"true" doc:"Intercepted request URL to correlate"`
}

func registerHealthHandlers(api huma.API) {
	type healthOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			return out, nil
		})
}

func registerTabHandlers(api huma.API, svc Service) {
	type tabsOutput struct {
		Body struct {
			Tabs []types.TabInfo `json:"tabs"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-tabs", Method: http.MethodGet, Path: "/api/v1/tabs", Summary: "List attached tabs", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *struct{}) (*tabsOutput, error) {
			out := &tabsOutput{}
			out.Body.Tabs = svc.Tabs()
			return out, nil
		})

	type requestsOutput struct {
		Body struct {
			TabID    string                `json:"tab_id"`
			Total    int                   `json:"total"`
			Requests []types.RequestRecord `json:"requests"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-requests", Method: http.MethodGet, Path: "/api/v1/tabs/{tab_id}/requests", Summary: "List captured requests, oldest first", Tags: []string{"Requests"}},
		func(ctx context.Context, input *listRequestsInput) (*requestsOutput, error) {
			records, err := svc.Records(input.TabID)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &requestsOutput{}
			out.Body.TabID = input.TabID
			out.Body.Total = len(records)
			out.Body.Requests = filterRecords(records, types.RequestKind(input.Kind), input.Limit)
			return out, nil
		})

	type requestOutput struct {
		Body types.RequestRecord
	}
	huma.Register(api, huma.Operation{OperationID: "get-request", Method: http.MethodGet, Path: "/api/v1/tabs/{tab_id}/requests/{request_id}", Summary: "Get one captured request", Tags: []string{"Requests"}},
		func(ctx context.Context, input *getRequestInput) (*requestOutput, error) {
			rec, err := svc.Record(input.TabID, input.RequestID)
			if err != nil {
				return nil, mapErr(err)
			}
			return &requestOutput{Body: rec}, nil
		})

	type correlateOutput struct {
		Body struct {
			URL     string               `json:"url"`
			Matched bool                 `json:"matched"`
			Record  *types.RequestRecord `json:"record,omitempty"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "correlate-request", Method: http.MethodGet, Path: "/api/v1/tabs/{tab_id}/correlate", Summary: "Show which captured request an intercepted URL would be matched with", Tags: []string{"Requests"}},
		func(ctx context.Context, input *correlateInput) (*correlateOutput, error) {
			rec, ok, err := svc.Correlate(input.TabID, input.URL)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &correlateOutput{}
			out.Body.URL = input.URL
			out.Body.Matched = ok
			if ok {
				out.Body.Record = &rec
			}
			return out, nil
		})
}

func registerStatsHandlers(api huma.API, svc Service, broker *events.Broker) {
	type statsOutput struct {
		Body struct {
			Tabs          []cdp.TabStats `json:"tabs"`
			EventClients  int            `json:"event_clients"`
			EventsDropped int64          `json:"events_dropped"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "stats", Method: http.MethodGet, Path: "/api/v1/stats", Summary: "Capture and replay counters per tab", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*statsOutput, error) {
			out := &statsOutput{}
			out.Body.Tabs = svc.Stats()
			if broker != nil {
				out.Body.EventClients = broker.ClientCount()
				out.Body.EventsDropped = broker.Dropped()
			}
			return out, nil
		})
}

// filterRecords keeps records of kind (all when empty) and then the newest
// limit of those (all when limit is 0), preserving order.
func filterRecords(records []types.RequestRecord, kind types.RequestKind, limit int) []types.RequestRecord {
	out := make([]types.RequestRecord, 0, len(records))
	for _, rec := range records {
		if kind == "" || rec.Kind == kind {
			out = append(out, rec)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
