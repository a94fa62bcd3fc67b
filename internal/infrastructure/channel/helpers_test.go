package channel

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/leadflow/backend/internal/domain/lead"
	"github.com/leadflow/backend/internal/infrastructure/fieldmap"
	"github.com/leadflow/backend/internal/infrastructure/httpclient"
	"github.com/leadflow/backend/internal/infrastructure/locale"
)

type mockMailSender struct {
	mock.Mock
}

func (m *mockMailSender) Send(ctx context.Context, address, templateID string, data map[string]any) (bool, error) {
	args := m.Called(ctx, address, templateID, data)
	return args.Bool(0), args.Error(1)
}

func testDeps(t *testing.T) Deps {
	t.Helper()
	cfg := httpclient.DefaultConfig()
	cfg.Retries = 0
	cfg.Timeout = 2 * time.Second
	loc := locale.NewService(locale.Config{DefaultLocale: "en"})
	return Deps{
		HTTP:       httpclient.New(cfg, zap.NewNop()),
		Mapper:     fieldmap.NewMapper(nil, loc, zap.NewNop()),
		Translator: loc,
		Templates:  loc,
		Logger:     zap.NewNop(),
	}
}

func testLead() *lead.Lead {
	l := lead.NewLead("John", "john@example.com", "+10000000000")
	l.Locale = "en"
	l.Data = map[string]any{
		"answers": []any{map[string]any{"question": "Budget?", "answer": "1000"}},
		"utm":     map[string]any{"utm_source": "google"},
	}
	return l
}

// recorder is an httptest server that records requests and replies with a
// fixed status and body
type recorder struct {
	*httptest.Server
	calls    int32
	requests chan *recorded
}

type recorded struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   []byte
}

func (r *recorded) JSON(t *testing.T) any {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal(r.Body, &v))
	return v
}

func newRecorder(t *testing.T, status int, body string) *recorder {
	t.Helper()
	rec := &recorder{requests: make(chan *recorded, 16)}
	rec.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&rec.calls, 1)
		b, _ := io.ReadAll(r.Body)
		rec.requests <- &recorded{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Header: r.Header.Clone(), Body: b}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(rec.Close)
	return rec
}

func (r *recorder) Calls() int {
	return int(atomic.LoadInt32(&r.calls))
}

func (r *recorder) Last(t *testing.T) *recorded {
	t.Helper()
	select {
	case req := <-r.requests:
		return req
	default:
		t.Fatal("no request recorded")
		return nil
	}
}
