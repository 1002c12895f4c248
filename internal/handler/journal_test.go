package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/ledgergate/internal/handler"
	"github.com/jmerrifield20/ledgergate/internal/journal"
)

func setupJournalRouter(t *testing.T) (*gin.Engine, *journal.MemoryJournal) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	j := journal.NewMemory()
	h := handler.NewJournalHandler(j, zap.NewNop())
	h.Register(r.Group("/api"))
	return r, j
}

func TestJournalOverview_200(t *testing.T) {
	router, _ := setupJournalRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/journal", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if entries := int(resp["entries"].(float64)); entries != 1 {
		t.Errorf("expected 1 entry (genesis), got %d", entries)
	}
	if resp["root"] != journal.GenesisHash {
		t.Errorf("root: got %v", resp["root"])
	}
}

func TestJournalVerify_200(t *testing.T) {
	router, j := setupJournalRouter(t)
	j.Append(context.Background(), journal.Record{TransactionID: "2.1", Kind: journal.KindMessage, Contents: "hi"})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/journal/verify", nil))

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["valid"] != true {
		t.Errorf("expected valid=true, got %v", resp["valid"])
	}
}

func TestJournalGetEntry(t *testing.T) {
	router, _ := setupJournalRouter(t)

	cases := map[string]int{
		"/api/journal/entries/0":   http.StatusOK,
		"/api/journal/entries/999": http.StatusNotFound,
		"/api/journal/entries/abc": http.StatusBadRequest,
	}
	for path, want := range cases {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != want {
			t.Errorf("%s: expected %d, got %d", path, want, w.Code)
		}
	}
}

func TestJournalGetByTransaction(t *testing.T) {
	router, j := setupJournalRouter(t)
	e, _ := j.Append(context.Background(), journal.Record{TransactionID: "2.5", Kind: journal.KindFile, Contents: "x"})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/journal/transactions/2.5", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var got journal.Entry
	json.Unmarshal(w.Body.Bytes(), &got)
	if got.Hash != e.Hash || got.Kind != journal.KindFile {
		t.Errorf("unexpected entry %+v", got)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/journal/transactions/9.9", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}
