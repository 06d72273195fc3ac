package drive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/sipico/checklist-bff/internal/filestore"
)

type fakeFile struct {
	name, mimeType, parent string
	data                   []byte
}

// fakeAPI is an in-memory Drive.
type fakeAPI struct {
	mu      sync.Mutex
	nextID  int
	folders map[string]string // parent/name -> id
	files   map[string]fakeFile
	finds   int
	creates int
	failOn  string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{folders: map[string]string{}, files: map[string]fakeFile{}}
}

func (f *fakeAPI) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func (f *fakeAPI) findFolder(_ context.Context, name, parentID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finds++
	if name == f.failOn {
		return "", errors.New("drive unavailable")
	}
	return f.folders[parentID+"/"+name], nil
}

func (f *fakeAPI) createFolder(_ context.Context, name, parentID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	id := f.id("folder")
	f.folders[parentID+"/"+name] = id
	return id, nil
}

func (f *fakeAPI) createFile(_ context.Context, name, mimeType, parentID string, body io.Reader) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.id("file")
	f.files[id] = fakeFile{name: name, mimeType: mimeType, parent: parentID, data: data}
	return id, nil
}

func (f *fakeAPI) download(_ context.Context, id string) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	file, ok := f.files[id]
	if !ok {
		return nil, &googleapi.Error{Code: http.StatusNotFound, Message: "File not found"}
	}
	return &http.Response{
		StatusCode:    http.StatusOK,
		Header:        http.Header{"Content-Type": []string{file.mimeType}},
		Body:          io.NopCloser(bytes.NewReader(file.data)),
		ContentLength: int64(len(file.data)),
	}, nil
}

func upload(owner, batch, item string, data string) filestore.Upload {
	return filestore.Upload{
		Placement: filestore.Placement{OwnerKey: owner, BatchID: batch, ItemID: item},
		Name:      item + ".jpg",
		MimeType:  "image/jpeg",
		Size:      int64(len(data)),
		Body:      strings.NewReader(data),
	}
}

func TestPutCreatesFolderTreeOnce(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	s := newStore(api, Config{RootFolderID: "root"}, nil)
	ctx := context.Background()

	id, err := s.Put(ctx, upload("site-a", "b1", "i1", "jpeg-1"))
	require.NoError(t, err)
	assert.Equal(t, 3, api.creates, "owner, batch and item folders")

	file := api.files[id]
	itemFolder := api.folders[api.folders[api.folders["root/site-a"]+"/b1"]+"/i1"]
	assert.Equal(t, itemFolder, file.parent)
	assert.Equal(t, "i1.jpg", file.name)
	assert.Equal(t, "jpeg-1", string(file.data))

	findsBefore := api.finds
	_, err = s.Put(ctx, upload("site-a", "b1", "i1", "jpeg-2"))
	require.NoError(t, err)
	assert.Equal(t, 3, api.creates)
	assert.Equal(t, findsBefore, api.finds, "cached folders must not be looked up again")

	_, err = s.Put(ctx, upload("site-a", "b1", "i2", "jpeg-3"))
	require.NoError(t, err)
	assert.Equal(t, 4, api.creates, "only the new item folder is created")
}

func TestPutReusesExistingFolders(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	api.folders["root/site-a"] = "existing-owner"
	s := newStore(api, Config{RootFolderID: "root"}, nil)

	_, err := s.Put(context.Background(), upload("site-a", "b1", "i1", "x"))
	require.NoError(t, err)
	assert.Equal(t, 2, api.creates)
	assert.NotEmpty(t, api.folders["existing-owner/b1"])
}

func TestPutConcurrentUploadsShareFolders(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	s := newStore(api, Config{RootFolderID: "root"}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Put(context.Background(), upload("site-a", "b1", "i1", fmt.Sprint(i)))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 3, api.creates)
	assert.Len(t, api.files, 10)
}

func TestPutErrors(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	api.failOn = "b1"
	s := newStore(api, Config{RootFolderID: "root"}, nil)

	_, err := s.Put(context.Background(), upload("site-a", "b1", "i1", "x"))
	assert.ErrorContains(t, err, "drive unavailable")

	_, err = s.Put(context.Background(), upload("site-a", "", "i1", "x"))
	assert.Error(t, err)
}

func TestOpen(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	s := newStore(api, Config{RootFolderID: "root"}, nil)
	ctx := context.Background()

	id, err := s.Put(ctx, upload("site-a", "b1", "i1", "photo-bytes"))
	require.NoError(t, err)

	obj, err := s.Open(ctx, id)
	require.NoError(t, err)
	defer obj.Body.Close()
	data, err := io.ReadAll(obj.Body)
	require.NoError(t, err)
	assert.Equal(t, "photo-bytes", string(data))
	assert.Equal(t, "image/jpeg", obj.ContentType)
	assert.Equal(t, int64(11), obj.Size)

	_, err = s.Open(ctx, "missing")
	assert.ErrorIs(t, err, filestore.ErrNotFound)
}

func TestEscapeQuery(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"O'Brien", `O\'Brien`},
		{`back\slash`, `back\\slash`},
		{`' or name contains '`, `\' or name contains \'`},
	}
	for _, tt := range tests {
		if got := escapeQuery(tt.in); got != tt.want {
			t.Errorf("escapeQuery(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewRequiresRootAndCredentials(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{}, nil)
	assert.Error(t, err)

	_, err = New(context.Background(), Config{RootFolderID: "root"}, nil)
	assert.ErrorContains(t, err, "credentials")
}

// TestServiceDownload exercises the real Drive client against a local server.
func TestServiceDownload(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/files/abc" && r.URL.Query().Get("alt") == "media":
			w.Header().Set("Content-Type", "image/png")
			w.Write([]byte("png-bytes"))
		default:
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":{"code":404,"message":"File not found"}}`))
		}
	}))
	defer srv.Close()

	s, err := New(context.Background(), Config{
		RootFolderID: "root",
		Endpoint:     srv.URL + "/",
		HTTPClient:   srv.Client(),
	}, nil)
	require.NoError(t, err)

	obj, err := s.Open(context.Background(), "abc")
	require.NoError(t, err)
	defer obj.Body.Close()
	data, err := io.ReadAll(obj.Body)
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))
	assert.Equal(t, "image/png", obj.ContentType)

	_, err = s.Open(context.Background(), "nope")
	assert.ErrorIs(t, err, filestore.ErrNotFound)
}
