package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestPredictMissingBaseURL(t *testing.T) {
	c := NewClient(Options{}, noopLogger())
	if _, err := c.Predict(context.Background(), "620"); err == nil {
		t.Fatal("未配置 base url 时应报错")
	}
}

func TestPredictSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != discountPath {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("appid") != "620" {
			t.Fatalf("appid 参数不正确: %s", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"appid":             620,
			"game_name":         "Portal 2",
			"as_of_date":        "2024-05-01",
			"prob_discount_30d": 0.8,
			"will_discount_30d": true,
			"threshold":         0.5,
			"reasoning":         []string{"Summer sale starts within 30 days"},
		})
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL + "/", Timeout: time.Second}, noopLogger())
	pred, err := c.Predict(context.Background(), "620")
	if err != nil {
		t.Fatalf("成功响应不应报错: %v", err)
	}
	if pred.Probability != 0.8 {
		t.Fatalf("期望概率 0.8, 实际 %v", pred.Probability)
	}
	// no confidence on the wire: distance from the decision boundary
	if math.Abs(pred.Confidence-0.6) > 1e-9 {
		t.Fatalf("期望置信度 0.6, 实际 %v", pred.Confidence)
	}
	if len(pred.Reasoning) != 1 {
		t.Fatalf("reasoning 应透传: %v", pred.Reasoning)
	}
}

func TestPredictHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"detail": "appid not in model"})
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	_, err := c.Predict(context.Background(), "1")
	if !errors.Is(err, ErrNoPrediction) {
		t.Fatalf("HTTP 404 应返回 ErrNoPrediction, 实际 %v", err)
	}
}

func TestPredictRejectsOutOfRangeProbability(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"prob_discount_30d": 1.5})
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	if _, err := c.Predict(context.Background(), "1"); err == nil {
		t.Fatal("概率超出 [0,1] 应报错")
	}
}

func TestPredictBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != discountBatchPath {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req struct {
			AppIDs []int64 `json:"appids"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("解析请求体失败: %v", err)
		}
		if len(req.AppIDs) != 3 || req.AppIDs[0] != 620 {
			t.Fatalf("appids 不正确: %v", req.AppIDs)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": map[string]any{
				"620":    map[string]any{"prob_discount_30d": 0.2, "confidence": 0.9},
				"504230": map[string]any{"error": "insufficient history"},
				"400":    map[string]any{"prob_discount_30d": 7},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	out, err := c.PredictBatch(context.Background(), []string{"620", "504230", "400"})
	if err != nil {
		t.Fatalf("批量请求不应报错: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("只应保留有效预测, 实际 %v", out)
	}
	if out["620"].Confidence != 0.9 {
		t.Fatalf("confidence 应透传: %+v", out["620"])
	}
}

func TestPredictBatchSkipsNonNumericIDs(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var req struct {
			AppIDs []int64 `json:"appids"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("解析请求体失败: %v", err)
		}
		if len(req.AppIDs) != 1 || req.AppIDs[0] != 570 {
			t.Fatalf("只应发送数字 appid: %v", req.AppIDs)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": map[string]any{
				"570": map[string]any{"prob_discount_30d": 0.8},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	out, err := c.PredictBatch(context.Background(), []string{"570", "hades"})
	if err != nil {
		t.Fatalf("混合 appid 不应导致整批失败: %v", err)
	}
	if _, ok := out["570"]; !ok || len(out) != 1 {
		t.Fatalf("570 的预测应保留: %v", out)
	}

	out, err = c.PredictBatch(context.Background(), []string{"hades"})
	if err != nil || len(out) != 0 {
		t.Fatalf("全部非数字时应返回空结果: %v, %v", out, err)
	}
	if calls != 1 {
		t.Fatalf("没有数字 appid 时不应请求分类器, 实际 %d 次", calls)
	}
}

func TestParseHTTPError(t *testing.T) {
	tests := []struct {
		payload string
		want    string
	}{
		{`{"detail":"boom"}`, "classifier api error (500): boom"},
		{`{"error":"bad"}`, "classifier api error (500): bad"},
		{`plain text`, "classifier api error (500): plain text"},
		{``, "classifier api error (500)"},
	}
	for _, tt := range tests {
		if got := parseHTTPError(500, []byte(tt.payload)).Error(); got != tt.want {
			t.Errorf("parseHTTPError(%q) = %q, want %q", tt.payload, got, tt.want)
		}
	}
}
