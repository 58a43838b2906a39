// Package generator talks to the AI response generator.  Every backend
// makes exactly one attempt per call and returns one complete response;
// retries are left to the user, who re-submits a new chat turn.
package generator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/dental-clinic-admin/internal/config"
)

// HistoryItem is one prior message given to the generator as context.
type HistoryItem struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the generator input.  MedicalNotes is already truncated.
type Request struct {
	Message      string        `json:"message"`
	PatientName  string        `json:"patient_name"`
	MedicalNotes *string       `json:"medical_notes"`
	ChatHistory  []HistoryItem `json:"chat_history"`
}

// Response is the generator output.
type Response struct {
	Response          string         `json:"response"`
	Metadata          map[string]any `json:"metadata"`
	EmergencyDetected bool           `json:"emergency_detected"`
}

// Generator produces one complete reply per call.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Response, error)
	// Name identifies the backend in logs and metrics.
	Name() string
}

// HealthChecker is implemented by backends that can be probed.
type HealthChecker interface {
	Health(ctx context.Context) error
}

var (
	// ErrUnavailable means the generator could not be reached or refused
	// work (connection refused, 503, 429).
	ErrUnavailable = errors.New("generator unavailable")
	// ErrTimeout means no answer arrived within the deadline.
	ErrTimeout = errors.New("generator timed out")
)

// RemoteError is a failure reported by a reachable generator.  Detail is
// diagnostic text from the remote side and is logged, never shown to users.
type RemoteError struct {
	Status int
	Detail string
}

func (e *RemoteError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("generator error (status %d): %s", e.Status, e.Detail)
	}
	return "generator error: " + e.Detail
}

// New builds the backend selected by cfg.Backend.
func New(cfg config.GeneratorConfig, rdb *redis.Client, log *zap.Logger) (Generator, error) {
	if log == nil {
		log = zap.NewNop()
	}
	switch strings.ToLower(cfg.Backend) {
	case "", "http":
		return NewHTTP(cfg.URL, cfg.Timeout, log), nil
	case "queue":
		if rdb == nil {
			return nil, errors.New("generator: queue backend requires redis")
		}
		return NewQueue(rdb, cfg.RequestQueue, cfg.ResponsePrefix, cfg.Timeout, log), nil
	case "openai":
		if cfg.APIKey == "" {
			return nil, errors.New("generator: openai backend requires GENERATOR_API_KEY")
		}
		return NewOpenAI(cfg, log), nil
	default:
		return nil, fmt.Errorf("generator: unknown backend %q", cfg.Backend)
	}
}

// classifyTransport maps a network level failure onto ErrTimeout or
// ErrUnavailable, keeping the cause in the chain.
func classifyTransport(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var oe *net.OpError
	if errors.As(err, &oe) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

// classifyStatus maps an HTTP status returned by a generator.
func classifyStatus(status int, detail string) error {
	switch status {
	case 429, 502, 503:
		return fmt.Errorf("%w: status %d: %s", ErrUnavailable, status, detail)
	case 504:
		return fmt.Errorf("%w: status %d: %s", ErrTimeout, status, detail)
	}
	return &RemoteError{Status: status, Detail: detail}
}
