package cloudfolder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pressbote/pressbote/internal/fault"
)

// fakeDrive is an in-memory Graph-style drive with a token endpoint, folder
// tree and upload session support.
type fakeDrive struct {
	mu          sync.Mutex
	base        string
	refresh     string
	folders     map[string]string // path -> id
	parents     map[string]string // id -> path
	nextID      int
	uploads     map[string][]byte // folderID/name -> data
	chunkRanges []string
	chunkAuthed bool
	sessionBuf  []byte
	sessionItem string
	tokenCalls  int
}

func newFakeDrive(refresh string) (*fakeDrive, *httptest.Server) {
	f := &fakeDrive{
		refresh: refresh,
		folders: map[string]string{},
		parents: map[string]string{},
		uploads: map[string][]byte{},
	}
	srv := httptest.NewServer(f)
	f.base = srv.URL
	return f, srv
}

func (f *fakeDrive) addFolder(folderPath string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := fmt.Sprintf("fld-%d", f.nextID)
	f.nextID++
	f.folders[folderPath] = id
	f.parents[id] = folderPath
	return id
}

func (f *fakeDrive) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p := r.URL.Path
	switch {
	case p == "/token":
		f.tokenCalls++
		r.ParseForm()
		if r.FormValue("refresh_token") != f.refresh || r.FormValue("grant_type") != "refresh_token" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"access_token": "tok-1", "expires_in": 3600})

	case strings.HasPrefix(p, "/upload/"):
		if r.Header.Get("Authorization") != "" {
			f.chunkAuthed = true
		}
		cr := r.Header.Get("Content-Range")
		f.chunkRanges = append(f.chunkRanges, cr)
		body, _ := io.ReadAll(r.Body)
		f.sessionBuf = append(f.sessionBuf, body...)

		var start, end, total int
		fmt.Sscanf(cr, "bytes %d-%d/%d", &start, &end, &total)
		if end+1 == total {
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]any{"id": "big-1", "webUrl": "https://files.example/" + f.sessionItem})
		} else {
			w.WriteHeader(http.StatusAccepted)
			fmt.Fprint(w, `{}`)
		}

	default:
		f.serveDrive(w, r)
	}
}

func (f *fakeDrive) serveDrive(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer tok-1" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	p := strings.TrimPrefix(r.URL.Path, "/drive")

	switch {
	case r.Method == http.MethodGet && strings.HasPrefix(p, "/root:/"):
		folderPath := strings.TrimPrefix(p, "/root:/")
		id, ok := f.folders[folderPath]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"id": id, "name": path.Base(folderPath)})

	case r.Method == http.MethodPost && strings.HasSuffix(p, "/children"):
		parentPath := ""
		if p != "/root/children" {
			parentID := strings.TrimSuffix(strings.TrimPrefix(p, "/items/"), "/children")
			parentPath = f.parents[parentID]
		}
		var req struct {
			Name string `json:"name"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		full := path.Join(parentPath, req.Name)
		if _, exists := f.folders[full]; exists {
			w.WriteHeader(http.StatusConflict)
			return
		}
		id := fmt.Sprintf("fld-%d", f.nextID)
		f.nextID++
		f.folders[full] = id
		f.parents[id] = full
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"id": id, "name": req.Name})

	case r.Method == http.MethodPut && strings.HasSuffix(p, ":/content"):
		inner := strings.TrimSuffix(strings.TrimPrefix(p, "/items/"), ":/content")
		parts := strings.SplitN(inner, ":/", 2)
		data, _ := io.ReadAll(r.Body)
		f.uploads[parts[0]+"/"+parts[1]] = data
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"id": "item-1", "webUrl": "https://files.example/" + parts[1]})

	case r.Method == http.MethodPost && strings.HasSuffix(p, ":/createUploadSession"):
		inner := strings.TrimSuffix(strings.TrimPrefix(p, "/items/"), ":/createUploadSession")
		parts := strings.SplitN(inner, ":/", 2)
		f.sessionItem = parts[1]
		f.sessionBuf = nil
		f.chunkRanges = nil
		json.NewEncoder(w).Encode(map[string]any{"uploadUrl": f.base + "/upload/sess-1"})

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestClient(srv *httptest.Server, refresh string) *Client {
	return New(srv.URL+"/drive", srv.URL+"/token", "client-1", "secret-1", refresh, 5*time.Second)
}

func TestEnsureFolderPathCreatesMissingSegments(t *testing.T) {
	fake, srv := newFakeDrive("refresh-ok")
	defer srv.Close()
	fake.addFolder("Zeitungen")

	c := newTestClient(srv, "refresh-ok")
	id, err := c.EnsureFolderPath(context.Background(), "Zeitungen/Wochenpost/2024")
	if err != nil {
		t.Fatalf("EnsureFolderPath failed: %v", err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if _, ok := fake.folders["Zeitungen/Wochenpost"]; !ok {
		t.Error("intermediate folder not created")
	}
	want, ok := fake.folders["Zeitungen/Wochenpost/2024"]
	if !ok {
		t.Fatal("leaf folder not created")
	}
	if id != want {
		t.Errorf("returned id %q, want %q", id, want)
	}
}

func TestEnsureFolderPathIsIdempotent(t *testing.T) {
	fake, srv := newFakeDrive("refresh-ok")
	defer srv.Close()

	c := newTestClient(srv, "refresh-ok")
	first, err := c.EnsureFolderPath(context.Background(), "Archiv/2023")
	if err != nil {
		t.Fatalf("first call failed: %v", err)
	}
	second, err := c.EnsureFolderPath(context.Background(), "Archiv/2023")
	if err != nil {
		t.Fatalf("second call failed: %v", err)
	}
	if first != second {
		t.Errorf("ids differ across calls: %q vs %q", first, second)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.folders) != 2 {
		t.Errorf("expected 2 folders, got %d", len(fake.folders))
	}
}

func TestUploadSmallFile(t *testing.T) {
	fake, srv := newFakeDrive("refresh-ok")
	defer srv.Close()
	folderID := fake.addFolder("Zeitungen")

	c := newTestClient(srv, "refresh-ok")
	data := []byte("%PDF-1.7 small edition")
	url, err := c.Upload(context.Background(), folderID, "2024-05-03 Wochenpost 18-2024.pdf", data)
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if url != "https://files.example/2024-05-03 Wochenpost 18-2024.pdf" {
		t.Errorf("unexpected web url %q", url)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	got := fake.uploads[folderID+"/2024-05-03 Wochenpost 18-2024.pdf"]
	if !bytes.Equal(got, data) {
		t.Error("uploaded bytes do not match")
	}
	if len(fake.chunkRanges) != 0 {
		t.Error("small upload must not open a session")
	}
}

func TestUploadLargeFileUsesChunkedSession(t *testing.T) {
	fake, srv := newFakeDrive("refresh-ok")
	defer srv.Close()
	folderID := fake.addFolder("Zeitungen")

	data := bytes.Repeat([]byte{0x42}, simpleUploadLimit+5)
	c := newTestClient(srv, "refresh-ok")
	url, err := c.Upload(context.Background(), folderID, "big.pdf", data)
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if url != "https://files.example/big.pdf" {
		t.Errorf("unexpected web url %q", url)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	total := len(data)
	wantRanges := []string{
		fmt.Sprintf("bytes 0-%d/%d", sessionChunkSize-1, total),
		fmt.Sprintf("bytes %d-%d/%d", sessionChunkSize, total-1, total),
	}
	if len(fake.chunkRanges) != len(wantRanges) {
		t.Fatalf("got %d chunks, want %d", len(fake.chunkRanges), len(wantRanges))
	}
	for i, want := range wantRanges {
		if fake.chunkRanges[i] != want {
			t.Errorf("chunk %d range %q, want %q", i, fake.chunkRanges[i], want)
		}
	}
	if !bytes.Equal(fake.sessionBuf, data) {
		t.Error("reassembled session bytes do not match")
	}
	if fake.chunkAuthed {
		t.Error("chunk requests must not carry the bearer token")
	}
}

func TestRejectedRefreshTokenIsAuthError(t *testing.T) {
	_, srv := newFakeDrive("refresh-ok")
	defer srv.Close()

	c := newTestClient(srv, "revoked")
	_, err := c.EnsureFolderPath(context.Background(), "Zeitungen")
	if err == nil {
		t.Fatal("expected error for revoked refresh token")
	}
	if !fault.Fatal(err) {
		t.Errorf("expected fatal auth error, got %v", err)
	}
}

func TestTokenIsCachedAcrossCalls(t *testing.T) {
	fake, srv := newFakeDrive("refresh-ok")
	defer srv.Close()
	fake.addFolder("Zeitungen")

	c := newTestClient(srv, "refresh-ok")
	for i := 0; i < 3; i++ {
		if _, err := c.EnsureFolderPath(context.Background(), "Zeitungen"); err != nil {
			t.Fatalf("call %d failed: %v", i, err)
		}
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.tokenCalls != 1 {
		t.Errorf("token endpoint hit %d times, want 1", fake.tokenCalls)
	}
}
