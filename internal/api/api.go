package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"translator-backend/internal/cache"
	"translator-backend/internal/database"
	"translator-backend/internal/messaging"
	"translator-backend/internal/metrics"
	"translator-backend/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	maxRequestBytes   = 16 << 20
	eventStreamBuffer = 256
)

// Events is the subscription side of the local event bus.
type Events interface {
	Subscribe(buffer int) (<-chan [][]byte, func())
}

type Options struct {
	Stats                  *metrics.ServerStats
	Store                  *cache.Store
	Database               *database.Service
	AudioPipelineAvailable bool

	// Requests and Events are only set in local mode and enable the submit
	// and event stream endpoints.
	Requests messaging.Publisher
	Events   Events
}

type BackendService struct {
	opts Options
}

func NewBackendService(opts Options) *BackendService {
	return &BackendService{opts: opts}
}

func (s *BackendService) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(s.Health))
	r.Get("/stats", RestHandler(s.Stats))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/cache", func(r chi.Router) {
		r.Get("/stats", RestHandler(s.CacheStats))
		r.Get("/keys", RestHandler(s.CacheKeys))
	})

	r.Get("/translations/{message_id}", RestHandler(s.GetTranslations))

	if s.opts.Requests != nil {
		r.Post("/requests", RestHandler(s.SubmitRequest))
	}
	if s.opts.Events != nil {
		r.Get("/events", RestStreamHandler(s.StreamEvents))
	}
}

func (s *BackendService) Health(r *http.Request) (any, error) {
	res := api.HealthResponse{
		Status:                 "healthy",
		AudioPipelineAvailable: s.opts.AudioPipelineAvailable,
		DatabaseAvailable:      s.opts.Database != nil && s.opts.Database.Available(),
	}
	if s.opts.Store != nil {
		res.CacheMode = string(s.opts.Store.Mode())
	}
	return res, nil
}

func (s *BackendService) Stats(r *http.Request) (any, error) {
	return s.opts.Stats.Snapshot(), nil
}

func (s *BackendService) CacheStats(r *http.Request) (any, error) {
	if s.opts.Store == nil {
		return nil, CodedErrorf(http.StatusNotFound, "cache is not configured")
	}
	return s.opts.Store.Stats(), nil
}

func (s *BackendService) CacheKeys(r *http.Request) (any, error) {
	if s.opts.Store == nil {
		return nil, CodedErrorf(http.StatusNotFound, "cache is not configured")
	}

	params, err := ParseRequestQueryParams[api.CacheKeysRequest](r)
	if err != nil {
		return nil, err
	}
	if params.Pattern == "" {
		params.Pattern = "*"
	}

	keys := s.opts.Store.Keys(r.Context(), params.Pattern)
	if keys == nil {
		keys = []string{}
	}
	return api.CacheKeysResponse{Keys: keys}, nil
}

func (s *BackendService) GetTranslations(r *http.Request) (any, error) {
	messageId := chi.URLParam(r, "message_id")
	if messageId == "" {
		return nil, CodedErrorf(http.StatusBadRequest, "missing {message_id} url parameter")
	}

	if s.opts.Database == nil || !s.opts.Database.Available() {
		return nil, CodedErrorf(http.StatusServiceUnavailable, "database is not available")
	}

	rows, err := database.ListTranslations(r.Context(), s.opts.Database.DB(), messageId)
	if err != nil {
		slog.Error("error listing translations", "message_id", messageId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving translations")
	}

	out := make([]api.StoredTranslation, 0, len(rows))
	for _, row := range rows {
		out = append(out, api.StoredTranslation{
			MessageId:      row.MessageId,
			TargetLanguage: row.TargetLanguage,
			SourceLanguage: row.SourceLanguage,
			TranslatedText: row.TranslatedText,
			ModelType:      row.ModelType,
			Confidence:     row.Confidence,
			UpdatedAt:      float64(row.UpdatedAt.UnixNano()) / 1e9,
		})
	}
	return out, nil
}

// SubmitRequest queues the body as frame 0 of a new request.
func (s *BackendService) SubmitRequest(r *http.Request) (any, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		return nil, CodedErrorf(http.StatusBadRequest, "unable to read request body")
	}

	body = bytes.TrimSpace(body)
	if !json.Valid(body) || len(body) == 0 || body[0] != '{' {
		return nil, CodedErrorf(http.StatusBadRequest, "request body must be a JSON object")
	}

	if err := s.opts.Requests.Publish(r.Context(), [][]byte{body}); err != nil {
		slog.Error("error queueing request", "error", err)
		return nil, CodedErrorf(http.StatusServiceUnavailable, "unable to queue request")
	}
	return api.SubmitResponse{Accepted: true}, nil
}

// StreamEvents forwards frame 0 of every published event until the client
// disconnects. Binary frames are not streamed.
func (s *BackendService) StreamEvents(r *http.Request) (StreamResponse, error) {
	events, unsubscribe := s.opts.Events.Subscribe(eventStreamBuffer)
	ctx := r.Context()

	return func(yield func(any, error) bool) {
		defer unsubscribe()

		for {
			select {
			case <-ctx.Done():
				return
			case frames, ok := <-events:
				if !ok {
					return
				}
				if len(frames) == 0 || !json.Valid(frames[0]) {
					continue
				}
				if !yield(json.RawMessage(frames[0]), nil) {
					return
				}
			}
		}
	}, nil
}
