package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/yangwenmai/draftflow/internal/docstore"
	"github.com/yangwenmai/draftflow/internal/engine"
	"github.com/yangwenmai/draftflow/internal/lifecycle"
	"github.com/yangwenmai/draftflow/internal/model"
	"github.com/yangwenmai/draftflow/internal/output"
	"github.com/yangwenmai/draftflow/internal/refine"
	"github.com/yangwenmai/draftflow/internal/render"
	"github.com/yangwenmai/draftflow/internal/store"
	"github.com/yangwenmai/draftflow/internal/worker"
)

type testEnv struct {
	handler http.Handler
	items   *store.Store
	pool    *worker.Pool
}

func newTestServer(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	db, err := store.OpenSQLite(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	items, err := store.New(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	docs, err := docstore.New(filepath.Join(dir, "docs"))
	if err != nil {
		t.Fatalf("new docstore: %v", err)
	}
	stub := &engine.StubModelClient{}
	renderer, err := render.NewHTMLRenderer(filepath.Join(dir, "artifacts"))
	if err != nil {
		t.Fatalf("new renderer: %v", err)
	}

	pool := worker.New()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		pool.Shutdown(ctx)
	})

	svc := lifecycle.New(lifecycle.Deps{
		Items:     items,
		Docs:      docs,
		Refiner:   refine.New(docs, engine.NewLLMGenerator(stub), engine.NewLLMJudge(stub)),
		Producer:  render.NewProducer(render.RuleClassifier{}, renderer),
		Jobs:      pool,
		Output:    output.NewWriter(filepath.Join(dir, "output")),
		Extractor: &engine.StubExtractor{},
	})
	srv := New(svc, WithHealth(pool, items))
	return &testEnv{handler: srv.Handler(), items: items, pool: pool}
}

func doRequest(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var result map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode JSON: %v\nbody: %s", err, rr.Body.String())
	}
	return result
}

func expectError(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("status = %d, want %d, body: %s", rr.Code, status, rr.Body.String())
	}
	if got := decodeJSON(t, rr)["code"]; got != code {
		t.Errorf("code = %v, want %q", got, code)
	}
}

const draft = "Three lessons from shipping v2\n\n## Caching\n- cache the hot path\n\n## Rollout\nShip behind a flag.\n\n## Results\nLead time fell."

func (e *testEnv) ingest(t *testing.T, source, typ string) map[string]any {
	t.Helper()
	body, _ := json.Marshal(lifecycle.IngestRequest{SourceID: source, Type: typ, Title: "T", Text: draft})
	rr := doRequest(t, e.handler, "POST", "/api/items", string(body))
	if rr.Code != http.StatusCreated {
		t.Fatalf("ingest status = %d, body: %s", rr.Code, rr.Body.String())
	}
	return decodeJSON(t, rr)
}

func (e *testEnv) waitIdle(t *testing.T, id string, cond func(*model.ContentItem) bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		it, err := e.items.GetItem(context.Background(), id)
		if err == nil && cond(it) && !e.pool.InFlight(id) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("item %s did not settle", id)
}

func TestHealth(t *testing.T) {
	e := newTestServer(t)
	e.ingest(t, "ep1", "post")

	rr := doRequest(t, e.handler, "GET", "/api/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	result := decodeJSON(t, rr)
	if result["status"] != "ok" {
		t.Errorf("status = %v, want ok", result["status"])
	}
	counts, _ := result["items"].(map[string]any)
	if counts["new"] != float64(1) {
		t.Errorf("items.new = %v, want 1", counts["new"])
	}
}

func TestIngest(t *testing.T) {
	e := newTestServer(t)

	result := e.ingest(t, "ep1", "post")
	if result["id"] != "ep1:post" {
		t.Errorf("id = %v, want ep1:post", result["id"])
	}
	if result["status"] != string(model.StatusNew) {
		t.Errorf("status = %v, want new", result["status"])
	}

	rr := doRequest(t, e.handler, "POST", "/api/items", `{"source_id":"ep1","type":"post","text":"again"}`)
	expectError(t, rr, http.StatusConflict, "already_exists")

	rr = doRequest(t, e.handler, "POST", "/api/items", `{"source_id":"ep2","type":"poem","text":"x"}`)
	expectError(t, rr, http.StatusBadRequest, "invalid_input")

	rr = doRequest(t, e.handler, "POST", "/api/items", `{not json`)
	expectError(t, rr, http.StatusBadRequest, "invalid_input")
}

func TestIngestURL(t *testing.T) {
	e := newTestServer(t)

	rr := doRequest(t, e.handler, "POST", "/api/items/from-url", `{"url":"https://example.com/a"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, body: %s", rr.Code, rr.Body.String())
	}
	if got := decodeJSON(t, rr)["type"]; got != string(model.TypeArticle) {
		t.Errorf("type = %v, want article", got)
	}

	rr = doRequest(t, e.handler, "POST", "/api/items/from-url", `{"url":"https://example.com/a"}`)
	expectError(t, rr, http.StatusConflict, "already_exists")

	rr = doRequest(t, e.handler, "POST", "/api/items/from-url", `{}`)
	expectError(t, rr, http.StatusBadRequest, "invalid_input")
}

func TestGetItem_NotFound(t *testing.T) {
	e := newTestServer(t)
	rr := doRequest(t, e.handler, "GET", "/api/items/missing:post", "")
	expectError(t, rr, http.StatusNotFound, "not_found")
}

func TestLists(t *testing.T) {
	e := newTestServer(t)
	e.ingest(t, "ep1", "post")
	e.ingest(t, "ep2", "quote")
	e.ingest(t, "ep3", "thread")

	rr := doRequest(t, e.handler, "POST", "/api/items/ep3:thread/approve", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("approve status = %d, body: %s", rr.Code, rr.Body.String())
	}

	var inbox []model.ContentItem
	rr = doRequest(t, e.handler, "GET", "/api/inbox", "")
	if err := json.Unmarshal(rr.Body.Bytes(), &inbox); err != nil {
		t.Fatal(err)
	}
	if len(inbox) != 2 {
		t.Errorf("inbox = %d items, want 2", len(inbox))
	}

	rr = doRequest(t, e.handler, "GET", "/api/inbox?type=quote", "")
	if err := json.Unmarshal(rr.Body.Bytes(), &inbox); err != nil {
		t.Fatal(err)
	}
	if len(inbox) != 1 || inbox[0].ID != "ep2:quote" {
		t.Errorf("typed inbox = %+v", inbox)
	}

	var refinement []model.ContentItem
	rr = doRequest(t, e.handler, "GET", "/api/refinement", "")
	if err := json.Unmarshal(rr.Body.Bytes(), &refinement); err != nil {
		t.Fatal(err)
	}
	if len(refinement) != 1 || refinement[0].ID != "ep3:thread" {
		t.Errorf("refinement = %+v", refinement)
	}

	rr = doRequest(t, e.handler, "GET", "/api/inbox?status=archived", "")
	expectError(t, rr, http.StatusBadRequest, "invalid_input")

	rr = doRequest(t, e.handler, "GET", "/api/inbox?flagged=maybe", "")
	expectError(t, rr, http.StatusBadRequest, "invalid_input")
}

func TestItemActions(t *testing.T) {
	e := newTestServer(t)
	e.ingest(t, "ep1", "post")
	e.ingest(t, "ep2", "quote")

	rr := doRequest(t, e.handler, "POST", "/api/items/ep1:post/done", "")
	expectError(t, rr, http.StatusBadRequest, "precondition_failed")

	rr = doRequest(t, e.handler, "POST", "/api/items/ep2:quote/done", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("done status = %d, body: %s", rr.Code, rr.Body.String())
	}
	if got := decodeJSON(t, rr)["status"]; got != string(model.StatusDone) {
		t.Errorf("status = %v, want done", got)
	}

	rr = doRequest(t, e.handler, "POST", "/api/items/ep1:post/flag", "")
	if got := decodeJSON(t, rr)["flagged"]; got != true {
		t.Errorf("flagged = %v, want true", got)
	}
	rr = doRequest(t, e.handler, "POST", "/api/items/ep1:post/unflag", "")
	if got := decodeJSON(t, rr)["flagged"]; got != false {
		t.Errorf("flagged = %v, want false", got)
	}

	rr = doRequest(t, e.handler, "POST", "/api/items/ep1:post/skip", "")
	if got := decodeJSON(t, rr)["status"]; got != string(model.StatusSkip) {
		t.Errorf("status = %v, want skip", got)
	}
}

func TestRefineAndDocument(t *testing.T) {
	e := newTestServer(t)
	e.ingest(t, "ep1", "post")

	rr := doRequest(t, e.handler, "POST", "/api/items/ep1:post/refine", "")
	expectError(t, rr, http.StatusBadRequest, "precondition_failed")

	doRequest(t, e.handler, "POST", "/api/items/ep1:post/approve", "")
	rr = doRequest(t, e.handler, "POST", "/api/items/ep1:post/refine", "")
	if rr.Code != http.StatusAccepted {
		t.Fatalf("refine status = %d, body: %s", rr.Code, rr.Body.String())
	}
	result := decodeJSON(t, rr)
	if result["kind"] != "refine" || result["ticket"] == "" {
		t.Errorf("ticket = %v", result)
	}

	e.waitIdle(t, "ep1:post", func(it *model.ContentItem) bool { return it.RefineStatus == model.RefineIdle && it.Revision > 0 })

	rr = doRequest(t, e.handler, "GET", "/api/items/ep1:post/document", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("document status = %d, body: %s", rr.Code, rr.Body.String())
	}
	doc := decodeJSON(t, rr)
	rounds, _ := doc["rounds"].([]any)
	if len(rounds) < 2 {
		t.Errorf("rounds = %d, want pristine plus one", len(rounds))
	}
	if !strings.Contains(doc["current_text"].(string), "tightened the opening") {
		t.Errorf("current_text = %q", doc["current_text"])
	}
}

func TestEdit(t *testing.T) {
	e := newTestServer(t)
	e.ingest(t, "ep1", "post")
	doRequest(t, e.handler, "POST", "/api/items/ep1:post/approve", "")

	rr := doRequest(t, e.handler, "PUT", "/api/items/ep1:post/edit", `{"text":"A sharper draft."}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("edit status = %d, body: %s", rr.Code, rr.Body.String())
	}
	result := decodeJSON(t, rr)
	item, _ := result["item"].(map[string]any)
	if item["revision"] != float64(1) {
		t.Errorf("revision = %v, want 1", item["revision"])
	}
	edit, _ := result["edit"].(map[string]any)
	if edit["text"] != "A sharper draft." {
		t.Errorf("edit = %v", edit)
	}

	rr = doRequest(t, e.handler, "PUT", "/api/items/ep1:post/edit", `{"text":`)
	expectError(t, rr, http.StatusBadRequest, "invalid_input")
}

func TestArtifacts(t *testing.T) {
	e := newTestServer(t)
	e.ingest(t, "ep1", "post")
	doRequest(t, e.handler, "POST", "/api/items/ep1:post/approve", "")

	rr := doRequest(t, e.handler, "POST", "/api/items/ep1:post/artifacts", "")
	if rr.Code != http.StatusAccepted {
		t.Fatalf("artifacts status = %d, body: %s", rr.Code, rr.Body.String())
	}
	e.waitIdle(t, "ep1:post", func(it *model.ContentItem) bool { return it.Status == model.StatusReady })

	rr = doRequest(t, e.handler, "POST", "/api/items/ep1:post/publish", "")
	if got := decodeJSON(t, rr)["status"]; got != string(model.StatusDone) {
		t.Errorf("status = %v, want done", got)
	}
}

func TestCORSPreflight(t *testing.T) {
	e := newTestServer(t)
	rr := doRequest(t, e.handler, "OPTIONS", "/api/items", "")
	if rr.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("origin = %q, want *", got)
	}
}
