package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"price-advisor/internal/engine"
)

const (
	discountPath      = "/api/ml/discount-30d"
	discountBatchPath = "/api/ml/discount-30d/batch"
)

// ErrNoPrediction indicates the classifier has no model output for the item.
var ErrNoPrediction = errors.New("classifier: no prediction")

// Options parameterise the classifier client.
type Options struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Client queries the discount classifier service over HTTP.
type Client struct {
	opts    Options
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewClient constructs a classifier client.
func NewClient(opts Options, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Client{
		opts:    opts,
		logger:  logger.With().Str("component", "classifier").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
	}
}

// Predict returns the 30-day discount probability for one item, keyed by its
// external id.
func (c *Client) Predict(ctx context.Context, itemID string) (engine.Prediction, error) {
	if c.baseURL == "" {
		return engine.Prediction{}, errors.New("classifier base url not configured")
	}

	endpoint := c.baseURL + discountPath + "?" + url.Values{"appid": {itemID}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return engine.Prediction{}, err
	}

	payload, err := c.do(req)
	if err != nil {
		return engine.Prediction{}, err
	}

	var res predictionResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return engine.Prediction{}, fmt.Errorf("decode prediction: %w", err)
	}
	if res.Error != "" {
		return engine.Prediction{}, fmt.Errorf("%w: %s", ErrNoPrediction, res.Error)
	}
	return res.toPrediction()
}

// PredictBatch returns predictions for the numeric external ids in itemIDs.
// Other ids are left out of the request and of the result.
func (c *Client) PredictBatch(ctx context.Context, itemIDs []string) (map[string]engine.Prediction, error) {
	if c.baseURL == "" {
		return nil, errors.New("classifier base url not configured")
	}
	if len(itemIDs) == 0 {
		return map[string]engine.Prediction{}, nil
	}

	appIDs := make([]json.Number, 0, len(itemIDs))
	for _, id := range itemIDs {
		if _, err := strconv.ParseInt(id, 10, 64); err != nil {
			c.logger.Debug().Str("appid", id).Msg("classifier skipped non-numeric item")
			continue
		}
		appIDs = append(appIDs, json.Number(id))
	}
	if len(appIDs) == 0 {
		return map[string]engine.Prediction{}, nil
	}

	body, err := json.Marshal(batchRequest{AppIDs: appIDs})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+discountBatchPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	payload, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var res batchResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("decode batch prediction: %w", err)
	}

	out := make(map[string]engine.Prediction, len(res.Results))
	for id, entry := range res.Results {
		if entry.Error != "" {
			c.logger.Debug().Str("appid", id).Str("error", entry.Error).Msg("classifier skipped item")
			continue
		}
		pred, convErr := entry.toPrediction()
		if convErr != nil {
			c.logger.Warn().Err(convErr).Str("appid", id).Msg("discarding malformed prediction")
			continue
		}
		out[id] = pred
	}
	return out, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "priceadvisor/1.0")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNoPrediction, parseHTTPError(resp.StatusCode, payload))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError(resp.StatusCode, payload)
	}
	return payload, nil
}

type batchRequest struct {
	AppIDs []json.Number `json:"appids"`
}

type batchResponse struct {
	Results map[string]predictionResponse `json:"results"`
}

type predictionResponse struct {
	AppID              json.Number        `json:"appid"`
	GameName           string             `json:"game_name"`
	AsOfDate           string             `json:"as_of_date"`
	Probability        *float64           `json:"prob_discount_30d"`
	WillDiscount       bool               `json:"will_discount_30d"`
	Threshold          float64            `json:"threshold"`
	Confidence         *float64           `json:"confidence"`
	Reasoning          []string           `json:"reasoning"`
	FeatureImportances map[string]float64 `json:"feature_importances"`
	Error              string             `json:"error"`
}

// toPrediction maps the wire format. Without an explicit confidence the
// distance from the 0.5 decision boundary is used.
func (r predictionResponse) toPrediction() (engine.Prediction, error) {
	if r.Probability == nil {
		return engine.Prediction{}, errors.New("prediction without prob_discount_30d")
	}
	p := engine.Prediction{
		Probability:        *r.Probability,
		Reasoning:          r.Reasoning,
		FeatureImportances: r.FeatureImportances,
	}
	if r.Confidence != nil {
		p.Confidence = *r.Confidence
	} else {
		p.Confidence = math.Min(1, math.Abs(*r.Probability-0.5)*2)
	}
	if err := engine.ValidatePrediction(p); err != nil {
		return engine.Prediction{}, err
	}
	return p, nil
}

type errorResponse struct {
	Detail  string `json:"detail"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Detail != "" {
			return fmt.Errorf("classifier api error (%d): %s", status, apiErr.Detail)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("classifier api error (%d): %s", status, apiErr.Error)
		}
		if apiErr.Message != "" {
			return fmt.Errorf("classifier api error (%d): %s", status, apiErr.Message)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("classifier api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("classifier api error (%d)", status)
}

var _ BatchPredictor = (*Client)(nil)
