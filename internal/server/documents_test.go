package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/clinrag/clinrag-go/internal/catalog"
	"github.com/clinrag/clinrag-go/internal/rag"
)

// testEntries returns a two-document catalog fixture.
func testEntries() []catalog.Entry {
	return []catalog.Entry{
		{
			DocumentID: "clinrag:doc:recent",
			Name:       "discharge.pdf",
			Format:     "pdf",
			Chunks:     12,
			Pages:      3,
			IngestedAt: time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC),
		},
		{
			DocumentID: "clinrag:doc:older",
			Name:       "manual",
			Format:     "text",
			Chunks:     4,
			IngestedAt: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
		},
	}
}

// ---------------------------------------------------------------------------
// GET /api/documents
// ---------------------------------------------------------------------------

// TestHandleDocuments_OK verifies the listing includes every catalog entry
// and the live chunk count from the index.
func TestHandleDocuments_OK(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	s.catalog = &fakeCatalog{entries: testEntries()}
	s.index = &fakeIndex{count: 16}

	req := httptest.NewRequest(http.MethodGet, "/api/documents", nil)
	w := httptest.NewRecorder()
	s.handleDocuments(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d — body: %s", w.Code, w.Body.String())
	}

	var resp documentsResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Documents) != 2 {
		t.Fatalf("documents: expected 2, got %d", len(resp.Documents))
	}
	first := resp.Documents[0]
	if first.DocumentID != "clinrag:doc:recent" {
		t.Errorf("document_id: got %q", first.DocumentID)
	}
	if first.Name != "discharge.pdf" || first.Format != "pdf" {
		t.Errorf("name/format: got %q/%q", first.Name, first.Format)
	}
	if first.Chunks != 12 || first.Pages != 3 {
		t.Errorf("chunks/pages: got %d/%d", first.Chunks, first.Pages)
	}
	if resp.TotalChunks == nil || *resp.TotalChunks != 16 {
		t.Errorf("total_chunks: expected 16, got %v", resp.TotalChunks)
	}
}

// TestHandleDocuments_Empty verifies an empty catalog yields an empty array,
// not null.
func TestHandleDocuments_Empty(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/documents", nil)
	w := httptest.NewRecorder()
	s.handleDocuments(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d — body: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"documents":[]`) {
		t.Errorf("expected empty documents array, got: %s", w.Body.String())
	}
}

// TestHandleDocuments_IndexUnavailable verifies the listing still succeeds
// when the index count fails, with total_chunks degraded to null.
func TestHandleDocuments_IndexUnavailable(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	s.catalog = &fakeCatalog{entries: testEntries()}
	s.index = &fakeIndex{countErr: rag.Transientf(rag.KindIndexRead, "qdrant: count: unavailable")}

	req := httptest.NewRequest(http.MethodGet, "/api/documents", nil)
	w := httptest.NewRecorder()
	s.handleDocuments(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 despite count failure, got %d — body: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"total_chunks":null`) {
		t.Errorf("expected total_chunks:null, got: %s", w.Body.String())
	}

	var resp documentsResponse
	if err := json.NewDecoder(strings.NewReader(w.Body.String())).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Documents) != 2 {
		t.Errorf("documents: expected 2, got %d", len(resp.Documents))
	}
}

// TestHandleDocuments_CatalogError verifies a catalog failure maps to 500.
func TestHandleDocuments_CatalogError(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	s.catalog = &fakeCatalog{listErr: errors.New("database is locked")}

	req := httptest.NewRequest(http.MethodGet, "/api/documents", nil)
	w := httptest.NewRecorder()
	s.handleDocuments(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d — body: %s", w.Code, w.Body.String())
	}
}

// ---------------------------------------------------------------------------
// DELETE /api/documents/{id}
// ---------------------------------------------------------------------------

// deleteDocument runs one DELETE through the handler with the path value set.
func deleteDocument(s *Server, id string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodDelete, "/api/documents/"+id, nil)
	req.SetPathValue("id", id)
	w := httptest.NewRecorder()
	s.handleDocumentDelete(w, req)
	return w
}

// TestHandleDocumentDelete_OK verifies a delete removes the document from
// the index first and the catalog second.
func TestHandleDocumentDelete_OK(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	cat := &fakeCatalog{entries: testEntries()}
	idx := &fakeIndex{}
	s.catalog = cat
	s.index = idx

	w := deleteDocument(s, "clinrag:doc:recent")

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d — body: %s", w.Code, w.Body.String())
	}

	var resp deleteResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success {
		t.Error("success: expected true")
	}
	if resp.DocumentID != "clinrag:doc:recent" {
		t.Errorf("document_id: got %q", resp.DocumentID)
	}
	if !strings.Contains(resp.Message, "clinrag:doc:recent") {
		t.Errorf("message: expected the document id, got %q", resp.Message)
	}

	if len(idx.deleted) != 1 || idx.deleted[0] != "clinrag:doc:recent" {
		t.Errorf("index delete: got %v", idx.deleted)
	}
	if len(cat.removed) != 1 || cat.removed[0] != "clinrag:doc:recent" {
		t.Errorf("catalog remove: got %v", cat.removed)
	}
}

// TestHandleDocumentDelete_NotFound verifies an unknown document yields 404
// without touching the index.
func TestHandleDocumentDelete_NotFound(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	idx := &fakeIndex{}
	s.catalog = &fakeCatalog{entries: testEntries()}
	s.index = idx

	w := deleteDocument(s, "clinrag:doc:unknown")

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d — body: %s", w.Code, w.Body.String())
	}
	if len(idx.deleted) != 0 {
		t.Errorf("index must not be touched for unknown documents, got %v", idx.deleted)
	}
}

// TestHandleDocumentDelete_IndexError verifies a failed index delete leaves
// the catalog entry in place so the delete can be retried.
func TestHandleDocumentDelete_IndexError(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	cat := &fakeCatalog{entries: testEntries()}
	s.catalog = cat
	s.index = &fakeIndex{deleteErr: rag.Transientf(rag.KindIndexWrite, "qdrant: delete: unavailable")}

	w := deleteDocument(s, "clinrag:doc:recent")

	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d — body: %s", w.Code, w.Body.String())
	}
	if len(cat.removed) != 0 {
		t.Errorf("catalog entry must survive a failed index delete, got removals %v", cat.removed)
	}
}

// TestHandleDocumentDelete_Routing verifies the {id} path parameter survives
// the real mux, including the colons in document IDs.
func TestHandleDocumentDelete_Routing(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	cat := &fakeCatalog{entries: testEntries()}
	idx := &fakeIndex{}
	s.catalog = cat
	s.index = idx

	req := httptest.NewRequest(http.MethodDelete, "/api/documents/clinrag:doc:older", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d — body: %s", w.Code, w.Body.String())
	}
	if len(idx.deleted) != 1 || idx.deleted[0] != "clinrag:doc:older" {
		t.Errorf("index delete: got %v", idx.deleted)
	}
}
