package service

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/docgate/internal/domain/model"
	"github.com/bigkaa/docgate/internal/domain/status"
	"github.com/bigkaa/docgate/internal/repository"
	"github.com/bigkaa/docgate/internal/storage/objectstore"
)

// --- In-memory FileRepository ---

// memFileRepo: потокобезопасная in-memory реализация FileRepository.
// Поля *Err позволяют сымитировать ошибку БД в конкретном методе.
type memFileRepo struct {
	mu      sync.Mutex
	nextID  int64
	records map[int64]*model.FileRecord

	replaceErr     error
	outstandingErr error
	transitionErr  error
	listStaleErr   error
}

func newMemFileRepo() *memFileRepo {
	return &memFileRepo{records: map[int64]*model.FileRecord{}}
}

// add помещает запись как есть и возвращает её id.
func (m *memFileRepo) add(rec model.FileRecord) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	rec.ID = m.nextID
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	m.records[rec.ID] = &rec
	return rec.ID
}

// get возвращает копию записи.
func (m *memFileRepo) get(id int64) (model.FileRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return model.FileRecord{}, false
	}
	return *rec, true
}

// byName возвращает все записи с именем объекта name.
func (m *memFileRepo) byName(name string) []model.FileRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.FileRecord
	for _, rec := range m.records {
		if rec.FileName == name {
			out = append(out, *rec)
		}
	}
	return out
}

func (m *memFileRepo) Replace(_ context.Context, f *model.FileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.replaceErr != nil {
		return m.replaceErr
	}
	for id, rec := range m.records {
		if rec.FileName == f.FileName {
			delete(m.records, id)
		}
	}
	m.nextID++
	f.ID = m.nextID
	f.CreatedAt = time.Now().UTC()
	f.Status = status.Pending
	rec := *f
	m.records[f.ID] = &rec
	return nil
}

func (m *memFileRepo) GetByIDs(_ context.Context, ids []int64) ([]*model.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.FileRecord
	for _, id := range ids {
		if rec, ok := m.records[id]; ok {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memFileRepo) FindPending(_ context.Context, fileName string) (*model.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records {
		if rec.FileName == fileName && rec.Status == status.Pending {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memFileRepo) OutstandingSize(_ context.Context, uploader string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outstandingErr != nil {
		return 0, m.outstandingErr
	}
	var total int64
	for _, rec := range m.records {
		if rec.Uploader == uploader && rec.Status == status.Uploaded && rec.FileSize != nil {
			total += *rec.FileSize
		}
	}
	return total, nil
}

func (m *memFileRepo) Transition(_ context.Context, id int64, from, to status.Status, fields repository.TransitionFields) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.transitionErr != nil {
		return false, m.transitionErr
	}
	rec, ok := m.records[id]
	if !ok || rec.Status != from {
		return false, nil
	}
	rec.Status = to
	if fields.FileSize != nil {
		v := *fields.FileSize
		rec.FileSize = &v
	}
	if fields.UploadTime != nil {
		v := *fields.UploadTime
		rec.UploadTime = &v
	}
	if fields.ErrorMessage != nil {
		v := *fields.ErrorMessage
		rec.ErrorMessage = &v
	}
	return true, nil
}

func (m *memFileRepo) PublishUploaded(_ context.Context, ids []int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, id := range ids {
		if rec, ok := m.records[id]; ok && rec.Status == status.Uploaded {
			rec.Status = status.Published
			n++
		}
	}
	return n, nil
}

func (m *memFileRepo) ListUnpublished(_ context.Context, since time.Time) ([]*model.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.FileRecord
	for _, rec := range m.records {
		if rec.Status == status.Uploaded && !rec.CreatedAt.Before(since) {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memFileRepo) ListStale(_ context.Context, pendingBefore, uploadedBefore time.Time) ([]*model.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listStaleErr != nil {
		return nil, m.listStaleErr
	}
	var out []*model.FileRecord
	for _, rec := range m.records {
		stale := (rec.Status == status.Pending && rec.CreatedAt.Before(pendingBefore)) ||
			(rec.Status == status.Uploaded && rec.CreatedAt.Before(uploadedBefore))
		if stale {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- Mock Store ---

// mockStore: обёртка над реальным Store с подменой отдельных методов.
type mockStore struct {
	objectstore.Store

	statFn       func(ctx context.Context, key string) (*objectstore.ObjectInfo, error)
	getFn        func(ctx context.Context, key string, opts objectstore.GetOptions) (*objectstore.Object, error)
	deleteFn     func(ctx context.Context, key string) error
	putTagsFn    func(ctx context.Context, key string, tags map[string]string) error
	removeTagsFn func(ctx context.Context, key string) error

	mu    sync.Mutex
	calls map[string]int
}

func (m *mockStore) count(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = map[string]int{}
	}
	m.calls[method]++
}

// callCount возвращает число вызовов method.
func (m *mockStore) callCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

func (m *mockStore) Stat(ctx context.Context, key string) (*objectstore.ObjectInfo, error) {
	m.count("Stat")
	if m.statFn != nil {
		return m.statFn(ctx, key)
	}
	return m.Store.Stat(ctx, key)
}

func (m *mockStore) Get(ctx context.Context, key string, opts objectstore.GetOptions) (*objectstore.Object, error) {
	m.count("Get")
	if m.getFn != nil {
		return m.getFn(ctx, key, opts)
	}
	return m.Store.Get(ctx, key, opts)
}

func (m *mockStore) Delete(ctx context.Context, key string) error {
	m.count("Delete")
	if m.deleteFn != nil {
		return m.deleteFn(ctx, key)
	}
	return m.Store.Delete(ctx, key)
}

func (m *mockStore) CreateMultipart(ctx context.Context, key string) (string, error) {
	m.count("CreateMultipart")
	return m.Store.CreateMultipart(ctx, key)
}

func (m *mockStore) PutTags(ctx context.Context, key string, tags map[string]string) error {
	m.count("PutTags")
	if m.putTagsFn != nil {
		return m.putTagsFn(ctx, key, tags)
	}
	return m.Store.PutTags(ctx, key, tags)
}

func (m *mockStore) RemoveTags(ctx context.Context, key string) error {
	m.count("RemoveTags")
	if m.removeTagsFn != nil {
		return m.removeTagsFn(ctx, key)
	}
	return m.Store.RemoveTags(ctx, key)
}

// --- Helpers ---

const (
	testKey      = "0123456789abcdef0123456789abcdef.pdf"
	testUploader = "2021210001"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestStore создаёт локальное хранилище во временном каталоге.
func newTestStore(t *testing.T) (*objectstore.Local, *mockStore) {
	t.Helper()
	local, err := objectstore.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("Ошибка создания хранилища: %v", err)
	}
	return local, &mockStore{Store: local}
}

// uploadObject загружает объект key из chunks через multipart-сессию.
func uploadObject(t *testing.T, store objectstore.Store, key string, chunks ...string) *objectstore.ObjectInfo {
	t.Helper()
	ctx := context.Background()
	uploadID, err := store.CreateMultipart(ctx, key)
	if err != nil {
		t.Fatalf("CreateMultipart: %v", err)
	}
	parts := make([]objectstore.Part, 0, len(chunks))
	for i, c := range chunks {
		p, err := store.UploadPart(ctx, key, uploadID, i+1, strings.NewReader(c), int64(len(c)))
		if err != nil {
			t.Fatalf("UploadPart %d: %v", i+1, err)
		}
		parts = append(parts, p)
	}
	info, err := store.CompleteMultipart(ctx, key, uploadID, parts)
	if err != nil {
		t.Fatalf("CompleteMultipart: %v", err)
	}
	return info
}

func int64Ptr(v int64) *int64 { return &v }
