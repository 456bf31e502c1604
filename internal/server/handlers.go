package server

import (
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"price-advisor/internal/engine"
	"price-advisor/internal/storage"
	"price-advisor/internal/version"
)

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type analysisResponse struct {
	Success  bool                         `json:"success"`
	GameName string                       `json:"game_name"`
	Analysis *engine.RecommendationResult `json:"analysis"`
}

type batchRequest struct {
	IDs []string `json:"ids" validate:"required,min=1,max=50,dive,required"`
}

type batchResponse struct {
	Success bool               `json:"success"`
	Results engine.BatchResult `json:"results"`
}

type priceRange struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	IsFree bool    `json:"is_free"`
}

type gameSummary struct {
	Name       string     `json:"name"`
	ExternalID string     `json:"external_id"`
	Records    int        `json:"records"`
	PriceRange priceRange `json:"price_range"`
	FirstDate  string     `json:"first_date,omitempty"`
	LastUpdate string     `json:"last_update,omitempty"`
}

type listResponse struct {
	Success bool          `json:"success"`
	Games   []gameSummary `json:"games"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "ok", "version": version.Version})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	items, err := s.advisor.ListAvailable(r.Context(), s.cfg.ListLimit)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	games := make([]gameSummary, 0, len(items))
	for _, item := range items {
		games = append(games, summarize(item))
	}
	render.JSON(w, r, listResponse{Success: true, Games: games})
}

func summarize(item storage.ItemSummary) gameSummary {
	out := gameSummary{
		Name:       item.Name,
		ExternalID: item.ExternalID,
		Records:    item.Records,
		PriceRange: priceRange{
			Min:    item.MinPrice.InexactFloat64(),
			Max:    item.MaxPrice.InexactFloat64(),
			IsFree: item.MaxPrice.IsZero(),
		},
	}
	if !item.FirstDate.IsZero() {
		out.FirstDate = item.FirstDate.Format(engine.DateLayout)
	}
	if !item.LastUpdate.IsZero() {
		out.LastUpdate = item.LastUpdate.Format(engine.DateLayout)
	}
	return out
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(chi.URLParam(r, "name"))
	if name == "" {
		writeError(w, r, http.StatusBadRequest, errors.New("game name is required"))
		return
	}

	report, err := s.advisor.Analyze(r.Context(), name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	render.JSON(w, r, analysisResponse{Success: true, GameName: report.Item.Name, Analysis: report.Result})
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, errors.New("invalid JSON body"))
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, r, http.StatusBadRequest, validationError(err))
		return
	}

	results, err := s.advisor.AnalyzeBatch(r.Context(), req.IDs)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	render.JSON(w, r, batchResponse{Success: true, Results: results})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeError(w, r, status, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrInsufficientData):
		return http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrInvalidInput), errors.Is(err, storage.ErrAmbiguous):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrNotConfigured):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return errors.New(fe.Field() + " is required")
	case "min":
		return errors.New(fe.Field() + " must contain at least " + fe.Param() + " entries")
	case "max":
		return errors.New(fe.Field() + " must contain at most " + fe.Param() + " entries")
	default:
		return errors.New(fe.Field() + " is invalid")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	msg := err.Error()
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		msg = "internal error"
	}
	render.Status(r, status)
	render.JSON(w, r, errorResponse{Success: false, Error: msg})
}
