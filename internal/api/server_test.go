package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/character-tun/character-crm-sub000/internal/engine"
	"github.com/character-tun/character-crm-sub000/internal/filestore"
	"github.com/character-tun/character-crm-sub000/internal/models"
	"github.com/character-tun/character-crm-sub000/internal/queue"
	"github.com/character-tun/character-crm-sub000/internal/ratelimit"
	"github.com/character-tun/character-crm-sub000/internal/registry"
	"github.com/character-tun/character-crm-sub000/internal/store"
	"github.com/character-tun/character-crm-sub000/internal/templates"
)

type harness struct {
	mem   *store.Memory
	files filestore.FileStore
	srv   *httptest.Server
}

func newHarness(t *testing.T, limiter ratelimit.Limiter) *harness {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()
	tpls := templates.New(mem, mem)
	reg := registry.New(mem, tpls)
	q := queue.New(mem, queue.NewMemoryBackend(), queue.Options{})
	files := filestore.NewLocal(t.TempDir())

	_, err := tpls.Create(ctx, models.Template{Code: "status_email", Kind: models.TemplateNotify, Subject: "Order {{order.number}}", Body: "Hi {{client.name}}"})
	require.NoError(t, err)
	for _, def := range []models.StatusDefinition{
		{Code: "new", Name: "New", Group: models.GroupDraft, Order: 1},
		{Code: "in_work", Name: "In work", Group: models.GroupInProgress, Order: 2,
			Actions: []models.ActionSpec{{Type: models.JobNotify, TemplateRef: "status_email", Channel: "email"}}},
		{Code: "closed_paid", Name: "Paid", Group: models.GroupClosedSuccess, Order: 3},
	} {
		_, err := reg.Create(ctx, def)
		require.NoError(t, err)
	}
	require.NoError(t, mem.CreateOrder(ctx, models.Order{ID: "o1", Number: "A-1", StatusCode: "new", Client: models.Client{Name: "Ann", Email: "ann@client.test"}}))

	server := New(Deps{
		Engine:      engine.New(reg, mem, mem, q),
		Statuses:    reg,
		Templates:   tpls,
		Queue:       q,
		Orders:      mem,
		Transitions: mem,
		Outbox:      mem,
		Files:       mem,
		FileStore:   files,
		Limiter:     limiter,
	})
	srv := httptest.NewServer(server.Router())
	t.Cleanup(srv.Close)
	return &harness{mem: mem, files: files, srv: srv}
}

func (h *harness) do(t *testing.T, method, path, caps string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, h.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerUserID, "u1")
	if caps != "" {
		req.Header.Set(headerCapabilities, caps)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

type errorBody struct {
	Error string `json:"error"`
}

func TestHealthz(t *testing.T) {
	h := newHarness(t, nil)
	resp := h.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTransitionAccepted(t *testing.T) {
	h := newHarness(t, nil)

	resp := h.do(t, http.MethodPost, "/orders/o1/status", capChangeStatus, transitionRequest{NewStatusCode: "IN_WORK", Note: "started"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode[transitionResponse](t, resp)
	assert.True(t, out.OK)
	assert.NotEmpty(t, out.LogID)
	require.Len(t, out.JobIDs, 1)

	job := h.do(t, http.MethodGet, "/queue/jobs/"+out.JobIDs[0], "", nil)
	require.Equal(t, http.StatusOK, job.StatusCode)
	assert.Equal(t, models.JobNotify, decode[models.Job](t, job).Kind)

	history := h.do(t, http.MethodGet, "/orders/o1/transitions", "", nil)
	items := decode[struct {
		Items []models.TransitionLogEntry `json:"items"`
	}](t, history).Items
	require.Len(t, items, 1)
	assert.Equal(t, "new", items[0].FromStatus)
	assert.Equal(t, "in_work", items[0].ToStatus)
	assert.Equal(t, "started", items[0].Note)
}

func TestTransitionErrors(t *testing.T) {
	h := newHarness(t, nil)

	cases := []struct {
		name   string
		path   string
		caps   string
		body   transitionRequest
		status int
		code   string
	}{
		{"no capability", "/orders/o1/status", "", transitionRequest{NewStatusCode: "in_work"}, http.StatusForbidden, "PermissionDenied"},
		{"unknown status", "/orders/o1/status", capChangeStatus, transitionRequest{NewStatusCode: "nope"}, http.StatusUnprocessableEntity, "UnknownStatus"},
		{"unknown order", "/orders/missing/status", capChangeStatus, transitionRequest{NewStatusCode: "in_work"}, http.StatusNotFound, "OrderNotFound"},
		{"missing target", "/orders/o1/status", capChangeStatus, transitionRequest{}, http.StatusBadRequest, "Validation"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := h.do(t, http.MethodPost, tc.path, tc.caps, tc.body)
			assert.Equal(t, tc.status, resp.StatusCode)
			assert.Equal(t, tc.code, decode[errorBody](t, resp).Error)
		})
	}
}

func TestReopenNeedsCapability(t *testing.T) {
	h := newHarness(t, nil)
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/orders/o1/status", capChangeStatus, transitionRequest{NewStatusCode: "closed_paid"}).StatusCode)

	resp := h.do(t, http.MethodPost, "/orders/o1/status", capChangeStatus, transitionRequest{NewStatusCode: "in_work"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "ReopenForbidden", decode[errorBody](t, resp).Error)

	resp = h.do(t, http.MethodPost, "/orders/o1/status", capAdmin, transitionRequest{NewStatusCode: "in_work"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTransitionRateLimited(t *testing.T) {
	h := newHarness(t, ratelimit.NewMemory(1, 0.0001))

	assert.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/orders/o1/status", capChangeStatus, transitionRequest{NewStatusCode: "in_work"}).StatusCode)
	resp := h.do(t, http.MethodPost, "/orders/o1/status", capChangeStatus, transitionRequest{NewStatusCode: "new"})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "RateLimited", decode[errorBody](t, resp).Error)
}

func TestCreateOrder(t *testing.T) {
	h := newHarness(t, nil)

	resp := h.do(t, http.MethodPost, "/orders", "", createOrderRequest{Status: "NEW", Client: models.Client{Name: "Bob"}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	order := decode[models.Order](t, resp)
	assert.NotEmpty(t, order.ID)
	assert.Equal(t, "new", order.StatusCode)

	got := h.do(t, http.MethodGet, "/orders/"+order.ID, "", nil)
	assert.Equal(t, http.StatusOK, got.StatusCode)

	dup := h.do(t, http.MethodPost, "/orders", "", createOrderRequest{ID: "o1"})
	assert.Equal(t, http.StatusConflict, dup.StatusCode)
	assert.Equal(t, "OrderConflict", decode[errorBody](t, dup).Error)

	bad := h.do(t, http.MethodPost, "/orders", "", createOrderRequest{Status: "ghost"})
	assert.Equal(t, http.StatusUnprocessableEntity, bad.StatusCode)
}

func TestQueueMetrics(t *testing.T) {
	h := newHarness(t, nil)
	h.do(t, http.MethodPost, "/orders/o1/status", capChangeStatus, transitionRequest{NewStatusCode: "in_work"})

	resp := h.do(t, http.MethodGet, "/queue/metrics?lastN=5", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	m := decode[queue.Metrics](t, resp)
	assert.EqualValues(t, 1, m.Waiting)

	bad := h.do(t, http.MethodGet, "/queue/metrics?lastN=abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)

	missing := h.do(t, http.MethodGet, "/queue/jobs/none", "", nil)
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestAdminEndpointsRequireAdmin(t *testing.T) {
	h := newHarness(t, nil)

	assert.Equal(t, http.StatusForbidden, h.do(t, http.MethodGet, "/admin/outbox", capChangeStatus, nil).StatusCode)
	assert.Equal(t, http.StatusForbidden, h.do(t, http.MethodPost, "/statuses", "", models.StatusDefinition{Code: "x"}).StatusCode)

	require.NoError(t, h.mem.AppendOutbox(context.Background(), models.OutboxEntry{ID: "e1", Type: models.JobNotify, OrderID: "o1", At: time.Now()}))
	list := h.do(t, http.MethodGet, "/admin/outbox", capAdmin, nil)
	require.Equal(t, http.StatusOK, list.StatusCode)
	assert.Len(t, decode[struct {
		Items []models.OutboxEntry `json:"items"`
	}](t, list).Items, 1)

	assert.Equal(t, http.StatusNoContent, h.do(t, http.MethodDelete, "/admin/outbox", capAdmin, nil).StatusCode)
	entries, err := h.mem.ListOutbox(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStatusAndTemplateAdmin(t *testing.T) {
	h := newHarness(t, nil)

	created := h.do(t, http.MethodPost, "/statuses", capAdmin, models.StatusDefinition{Code: "ready", Name: "Ready", Group: models.GroupInProgress, Order: 5})
	require.Equal(t, http.StatusCreated, created.StatusCode)

	conflict := h.do(t, http.MethodPost, "/statuses", capAdmin, models.StatusDefinition{Code: "READY", Name: "Ready", Group: models.GroupInProgress})
	assert.Equal(t, http.StatusConflict, conflict.StatusCode)

	inUse := h.do(t, http.MethodDelete, "/templates/notify/status_email", capAdmin, nil)
	assert.Equal(t, http.StatusConflict, inUse.StatusCode)
	assert.Equal(t, "TemplateInUse", decode[errorBody](t, inUse).Error)

	tpl := h.do(t, http.MethodPost, "/templates/doc", capAdmin, models.Template{Code: "invoice", Name: "Invoice", Body: "<p>{{order.number}}</p>"})
	require.Equal(t, http.StatusCreated, tpl.StatusCode)
	assert.Equal(t, []string{"order.number"}, decode[models.Template](t, tpl).Variables)

	assert.Equal(t, http.StatusNoContent, h.do(t, http.MethodDelete, "/templates/doc/invoice", capAdmin, nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/templates/doc/invoice", "", nil).StatusCode)
}

func TestDownloadFile(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	key, err := h.files.Put(ctx, "orders/o1/invoice-j1.png", "image/png", []byte("png-bytes"))
	require.NoError(t, err)
	require.NoError(t, h.mem.CreateFile(ctx, models.FileRecord{ID: "f1", OrderID: "o1", JobID: "j1", TemplateRef: "invoice", Mime: "image/png", Size: 9, StorageKey: key}))

	resp := h.do(t, http.MethodGet, "/files/f1", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	var body bytes.Buffer
	_, err = body.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", body.String())

	listed := h.do(t, http.MethodGet, "/orders/o1/files", "", nil)
	assert.Len(t, decode[struct {
		Items []models.FileRecord `json:"items"`
	}](t, listed).Items, 1)

	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/files/nope", "", nil).StatusCode)
}
