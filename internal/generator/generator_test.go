package generator

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iliyamo/dental-clinic-admin/internal/config"
)

func sampleRequest() Request {
	notes := "Sensitive to cold"
	return Request{
		Message:      "How often should I floss?",
		PatientName:  "Jane Roe",
		MedicalNotes: &notes,
		ChatHistory:  []HistoryItem{{Role: "user", Content: "Hi"}, {Role: "assistant", Content: "Hello"}},
	}
}

func TestHTTPGenerator_Generate(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat/generate", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"response":"Take ibuprofen twice daily ","metadata":{"model":"gemini-2.5-flash","finish_reason":"STOP"},"emergency_detected":false}`))
	}))
	defer srv.Close()

	g := NewHTTP(srv.URL, 5*time.Second, zap.NewNop())
	resp, err := g.Generate(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, "Take ibuprofen twice daily ", resp.Response)
	assert.Equal(t, "STOP", resp.Metadata["finish_reason"])
	assert.False(t, resp.EmergencyDetected)
	assert.Equal(t, "Jane Roe", got.PatientName)
	assert.Len(t, got.ChatHistory, 2)
}

func TestHTTPGenerator_Errors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{"unavailable", http.StatusServiceUnavailable, `{"detail":"down"}`, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrUnavailable)
		}},
		{"busy", http.StatusTooManyRequests, `{"detail":"AI service is busy"}`, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrUnavailable)
		}},
		{"remote", http.StatusInternalServerError, `{"detail":"AI service error: quota"}`, func(t *testing.T, err error) {
			var re *RemoteError
			require.ErrorAs(t, err, &re)
			assert.Equal(t, 500, re.Status)
			assert.Equal(t, "AI service error: quota", re.Detail)
		}},
		{"malformed", http.StatusOK, `not json`, func(t *testing.T, err error) {
			var re *RemoteError
			require.ErrorAs(t, err, &re)
			assert.Contains(t, re.Detail, "malformed")
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := NewHTTP(srv.URL, 5*time.Second, zap.NewNop()).Generate(context.Background(), sampleRequest())
			require.Error(t, err)
			tc.check(t, err)
		})
	}
}

func TestHTTPGenerator_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	_, err := NewHTTP(srv.URL, 50*time.Millisecond, zap.NewNop()).Generate(context.Background(), sampleRequest())
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestHTTPGenerator_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = NewHTTP("http://"+addr, time.Second, zap.NewNop()).Generate(context.Background(), sampleRequest())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestHTTPGenerator_Health(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			_, _ = w.Write([]byte(`{"status":"healthy"}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	assert.NoError(t, NewHTTP(srv.URL, time.Second, zap.NewNop()).Health(context.Background()))
}

func TestQueueGenerator(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	// worker: pop the request and answer on the per-request list
	go func() {
		res, err := rdb.BRPop(context.Background(), 5*time.Second, "ai_requests").Result()
		if err != nil {
			return
		}
		var req map[string]any
		_ = json.Unmarshal([]byte(res[1]), &req)
		reply, _ := json.Marshal(map[string]any{
			"request_id":         req["request_id"],
			"response":           "Floss once a day.",
			"metadata":           map[string]any{"model": "worker"},
			"emergency_detected": false,
		})
		rdb.LPush(context.Background(), "ai_responses:"+req["request_id"].(string), reply)
	}()

	g := NewQueue(rdb, "ai_requests", "ai_responses:", 5*time.Second, zap.NewNop())
	resp, err := g.Generate(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, "Floss once a day.", resp.Response)
	assert.Equal(t, "worker", resp.Metadata["model"])
}

func TestQueueGenerator_WorkerError(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	go func() {
		res, err := rdb.BRPop(context.Background(), 5*time.Second, "ai_requests").Result()
		if err != nil {
			return
		}
		var req map[string]any
		_ = json.Unmarshal([]byte(res[1]), &req)
		reply, _ := json.Marshal(map[string]any{"request_id": req["request_id"], "response": "", "error": "quota exceeded"})
		rdb.LPush(context.Background(), "ai_responses:"+req["request_id"].(string), reply)
	}()

	_, err := NewQueue(rdb, "ai_requests", "ai_responses:", 5*time.Second, zap.NewNop()).Generate(context.Background(), sampleRequest())
	var re *RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "quota exceeded", re.Detail)
}

func TestQueueGenerator_Timeout(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	_, err := NewQueue(rdb, "ai_requests", "ai_responses:", time.Second, zap.NewNop()).Generate(context.Background(), sampleRequest())
	assert.ErrorIs(t, err, ErrTimeout)
	n, _ := rdb.LLen(context.Background(), "ai_requests").Result()
	assert.Equal(t, int64(1), n, "request stays queued for the worker")
}

func TestOpenAIGenerator(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"), r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","model":"gpt-4o-mini","choices":[{"index":0,"message":{"role":"assistant","content":"Brush twice daily."},"finish_reason":"stop"}],"usage":{"prompt_tokens":120,"completion_tokens":5,"total_tokens":125}}`))
	}))
	defer srv.Close()

	g := NewOpenAI(config.GeneratorConfig{APIKey: "test", BaseURL: srv.URL + "/v1", Model: "gpt-4o-mini", MaxHistory: 1, Timeout: 5 * time.Second}, zap.NewNop())
	resp, err := g.Generate(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, "Brush twice daily.", resp.Response)
	assert.Equal(t, "stop", resp.Metadata["finish_reason"])
	assert.Equal(t, 125, resp.Metadata["total_tokens"])

	msgs := body["messages"].([]any)
	require.Len(t, msgs, 3, "system prompt, one history item, the message")
	assert.Contains(t, msgs[0].(map[string]any)["content"], "Patient Name: Jane Roe")
	assert.Equal(t, "assistant", msgs[1].(map[string]any)["role"])
}

func TestOpenAIGenerator_EmergencyShortCircuits(t *testing.T) {
	g := NewOpenAI(config.GeneratorConfig{APIKey: "test", BaseURL: "http://127.0.0.1:1/v1", Model: "m"}, zap.NewNop())
	req := sampleRequest()
	req.Message = "My gum is BLEEDING and won't stop"

	resp, err := g.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, resp.EmergencyDetected)
	assert.Equal(t, EmergencyResponse, resp.Response)
	assert.Equal(t, map[string]any{"emergency_detected": true}, resp.Metadata)
}

func TestOpenAIGenerator_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
	}))
	defer srv.Close()

	g := NewOpenAI(config.GeneratorConfig{APIKey: "test", BaseURL: srv.URL + "/v1", Model: "m"}, zap.NewNop())
	_, err := g.Generate(context.Background(), sampleRequest())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestTruncateNotes(t *testing.T) {
	long := strings.Repeat("é", 600)
	got := TruncateNotes(&long, 500)
	require.NotNil(t, got)
	assert.Equal(t, 503, len([]rune(*got)))
	assert.True(t, strings.HasSuffix(*got, "..."))

	short := "ok"
	assert.Equal(t, "ok", *TruncateNotes(&short, 500))
	assert.Nil(t, TruncateNotes(nil, 500))
}

func TestRemoteDetailKeepsWholeRunes(t *testing.T) {
	body := []byte("x" + strings.Repeat("ü", 300))
	got := remoteDetail(body)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, maxDetailRunes, utf8.RuneCountInString(got))

	assert.Equal(t, "plain failure", remoteDetail([]byte("  plain failure ")))
	assert.Equal(t, "bad prompt", remoteDetail([]byte(`{"detail":"bad prompt"}`)))
}

func TestNew(t *testing.T) {
	g, err := New(config.GeneratorConfig{Backend: "http", URL: "http://localhost:8001", Timeout: time.Second}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "http", g.Name())

	_, err = New(config.GeneratorConfig{Backend: "queue"}, nil, nil)
	assert.Error(t, err)
	_, err = New(config.GeneratorConfig{Backend: "openai"}, nil, nil)
	assert.Error(t, err)
	_, err = New(config.GeneratorConfig{Backend: "carrier-pigeon"}, nil, nil)
	assert.Error(t, err)
}

func TestClassifyTransport(t *testing.T) {
	assert.ErrorIs(t, classifyTransport(context.DeadlineExceeded), ErrTimeout)
	other := errors.New("boom")
	assert.Equal(t, other, classifyTransport(other))
}
