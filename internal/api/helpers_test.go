package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sipico/checklist-bff/internal/auth"
	"github.com/sipico/checklist-bff/internal/capability"
	"github.com/sipico/checklist-bff/internal/entitlement"
	"github.com/sipico/checklist-bff/internal/filestore"
	"github.com/sipico/checklist-bff/internal/mercadopago"
	"github.com/sipico/checklist-bff/internal/middleware"
	"github.com/sipico/checklist-bff/internal/storage"
	"github.com/sipico/checklist-bff/internal/testutil/mockmp"
)

const (
	testSecret  = "test-secret"
	testBaseURL = "https://bff.example.com"
	testMPToken = "TEST-access-token"
	rootUID     = "root"
)

var (
	pngHeader  = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")
	jpegHeader = []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00\x01\x01\x00\x00\x01\x00\x01\x00\x00")
)

type storedObject struct {
	data      []byte
	mimeType  string
	name      string
	placement filestore.Placement
}

// fakeFiles is an in-memory filestore.Store.
type fakeFiles struct {
	mu      sync.Mutex
	objects map[string]storedObject
	next    int
	putErr  error
	openFn  func(id string) (*filestore.Object, error)
}

func newFakeFiles() *fakeFiles {
	return &fakeFiles{objects: make(map[string]storedObject)}
}

func (f *fakeFiles) Put(_ context.Context, u filestore.Upload) (string, error) {
	if f.putErr != nil {
		return "", f.putErr
	}
	data, err := io.ReadAll(u.Body)
	if err != nil {
		return "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	id := fmt.Sprintf("file-%03d", f.next)
	f.objects[id] = storedObject{data: data, mimeType: u.MimeType, name: u.Name, placement: u.Placement}
	return id, nil
}

func (f *fakeFiles) Open(_ context.Context, id string) (*filestore.Object, error) {
	if f.openFn != nil {
		return f.openFn(id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[id]
	if !ok {
		return nil, filestore.ErrNotFound
	}
	return &filestore.Object{
		Body:        io.NopCloser(bytes.NewReader(obj.data)),
		ContentType: obj.mimeType,
		Size:        int64(len(obj.data)),
	}, nil
}

func (f *fakeFiles) put(id string, obj storedObject) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[id] = obj
}

func (f *fakeFiles) get(id string) (storedObject, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[id]
	return obj, ok
}

// tokenVerifier accepts "Bearer <uid>" for any uid except "bad".
type tokenVerifier struct{}

func (tokenVerifier) Verify(_ context.Context, token string) (*auth.Identity, error) {
	if token == "bad" {
		return nil, auth.ErrInvalidToken
	}
	return &auth.Identity{UID: token, Email: token + "@example.com"}, nil
}

// recordingDispatcher captures dispatched notifications.
type recordingDispatcher struct {
	mu    sync.Mutex
	got   []entitlement.Notification
	reqID []string
	err   error
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, n entitlement.Notification) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.got = append(d.got, n)
	d.reqID = append(d.reqID, middleware.GetRequestID(ctx))
	return d.err
}

func (d *recordingDispatcher) notifications() []entitlement.Notification {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]entitlement.Notification(nil), d.got...)
}

type testEnv struct {
	router     http.Handler
	store      *storage.Store
	files      *fakeFiles
	mp         *mockmp.Server
	broker     *capability.Broker
	dispatcher *recordingDispatcher
}

func newTestEnv(t *testing.T, mutate func(*Deps)) *testEnv {
	t.Helper()

	store, err := storage.Open(context.Background(), storage.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		//nolint:errcheck
		store.Close()
	})

	mp := mockmp.New(testMPToken)
	t.Cleanup(mp.Close)
	client := mercadopago.NewClient(testMPToken, mercadopago.WithBaseURL(mp.URL))

	env := &testEnv{
		store:      store,
		files:      newFakeFiles(),
		mp:         mp,
		broker:     capability.NewBroker(testSecret, testBaseURL),
		dispatcher: &recordingDispatcher{},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	deps := Deps{
		Broker:             env.broker,
		Files:              env.files,
		Backend:            "fake",
		Store:              store,
		Index:              storage.NewCachedFiles(store, 100, time.Minute, nil),
		Checkout:           client,
		PublicBaseURL:      testBaseURL + "/",
		WebhookMode:        WebhookModeAsync,
		Reconciler:         entitlement.NewReconciler(client, store, entitlement.WithLogger(logger)),
		Dispatcher:         env.dispatcher,
		Verifier:           tokenVerifier{},
		Policy:             auth.NewPolicy(store, []string{rootUID}),
		UploadMaxBytes:     1 << 20,
		CORSAllowedOrigins: []string{"https://app.example.com"},
		Logger:             logger,
	}
	if mutate != nil {
		mutate(&deps)
	}

	env.router = NewRouter(NewHandler(deps))
	return env
}

// do sends a request through the router. A token of "" sends no
// Authorization header.
func (e *testEnv) do(t *testing.T, method, path, token, contentType string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) postJSON(t *testing.T, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, http.MethodPost, path, token, "application/json", strings.NewReader(body))
}

// failingReader returns data and then err.
type failingReader struct {
	data []byte
	err  error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, r.err
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

func (r *failingReader) Close() error { return nil }

var errBoom = errors.New("boom")

// serve starts a listener for router and returns the webhook URL on it.
func serve(t *testing.T, router http.Handler) string {
	t.Helper()
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv.URL + "/webhook/mercadopago"
}
