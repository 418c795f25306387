package handlers

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/docgate/internal/domain/model"
	"github.com/bigkaa/docgate/internal/gate"
	"github.com/bigkaa/docgate/internal/service"
	"github.com/bigkaa/docgate/internal/storage/objectstore"
)

const (
	testKey      = "0123456789abcdef0123456789abcdef.pdf"
	testToken    = "shared-token"
	testUploader = "uploader-1"
)

type mockUploader struct {
	startFn    func(ctx context.Context, key, uploader string) (*service.StartResult, error)
	partFn     func(ctx context.Context, key, uploadID string, partNumber int, r io.Reader, size int64) (*objectstore.Part, error)
	completeFn func(ctx context.Context, key, uploadID string, parts []objectstore.Part) (*service.CompleteResult, error)
	abortFn    func(ctx context.Context, key, uploadID string) error
}

func (m *mockUploader) Start(ctx context.Context, key, uploader string) (*service.StartResult, error) {
	return m.startFn(ctx, key, uploader)
}

func (m *mockUploader) UploadPart(ctx context.Context, key, uploadID string, partNumber int, r io.Reader, size int64) (*objectstore.Part, error) {
	return m.partFn(ctx, key, uploadID, partNumber, r, size)
}

func (m *mockUploader) Complete(ctx context.Context, key, uploadID string, parts []objectstore.Part) (*service.CompleteResult, error) {
	return m.completeFn(ctx, key, uploadID, parts)
}

func (m *mockUploader) Abort(ctx context.Context, key, uploadID string) error {
	return m.abortFn(ctx, key, uploadID)
}

type mockReconciler struct {
	handleFn func(ctx context.Context, n service.Notification) (*service.ReconcileResult, error)
}

func (m *mockReconciler) Handle(ctx context.Context, n service.Notification) (*service.ReconcileResult, error) {
	return m.handleFn(ctx, n)
}

type mockPublisher struct {
	publishFn func(ctx context.Context, ids []int64) (*service.PublishResult, error)
}

func (m *mockPublisher) Publish(ctx context.Context, ids []int64) (*service.PublishResult, error) {
	return m.publishFn(ctx, ids)
}

type mockLister struct {
	since  time.Time
	files  []*model.FileRecord
	listFn func() error
}

func (m *mockLister) ListUnpublished(_ context.Context, since time.Time) ([]*model.FileRecord, error) {
	m.since = since
	if m.listFn != nil {
		if err := m.listFn(); err != nil {
			return nil, err
		}
	}
	return m.files, nil
}

type mockDeliverer struct {
	serveFn func(w http.ResponseWriter, r *http.Request, key string) error
}

func (m *mockDeliverer) Serve(w http.ResponseWriter, r *http.Request, key string) error {
	return m.serveFn(w, r, key)
}

type mockRank struct {
	counts map[string]int64
	err    error
}

func (m *mockRank) List(context.Context) (map[string]int64, error) {
	return m.counts, m.err
}

type mockVerifier struct {
	ok    bool
	err   error
	calls int
}

func (m *mockVerifier) Verify(context.Context, string, string) (bool, error) {
	m.calls++
	return m.ok, m.err
}

// mockStore: objectstore.Store, в котором реализован только Get.
type mockStore struct {
	objectstore.Store
	getFn func(ctx context.Context, key string, opts objectstore.GetOptions) (*objectstore.Object, error)
}

func (m *mockStore) Get(ctx context.Context, key string, opts objectstore.GetOptions) (*objectstore.Object, error) {
	return m.getFn(ctx, key, opts)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testGate(t *testing.T) (*gate.Gate, *gate.SessionSigner) {
	t.Helper()
	_, network, err := net.ParseCIDR("10.0.0.0/8")
	if err != nil {
		t.Fatal(err)
	}
	_, proxy, err := net.ParseCIDR("127.0.0.0/8")
	if err != nil {
		t.Fatal(err)
	}
	signer := gate.NewSessionSigner("session-secret", 30*24*time.Hour, true)
	return gate.New([]*net.IPNet{network}, testToken, signer, "X-Real-IP", []*net.IPNet{proxy}), signer
}

// newTestHandler создаёт APIHandler с заданными зависимостями;
// Gate и Sessions подставляются, если не заданы.
func newTestHandler(t *testing.T, deps Deps) *APIHandler {
	t.Helper()
	if deps.Gate == nil {
		deps.Gate, deps.Sessions = testGate(t)
	}
	if deps.Token == "" {
		deps.Token = testToken
	}
	return NewAPIHandler(deps, testLogger())
}

// serveRoute прогоняет запрос через chi-маршрут pattern.
func serveRoute(method, pattern string, fn http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Method(method, pattern, fn)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}
