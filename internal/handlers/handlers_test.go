package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/gin-gonic/gin"
	"github.com/imrishuroy/hope-orderflow/internal/auth"
	"github.com/imrishuroy/hope-orderflow/internal/aws/awstest"
	"github.com/imrishuroy/hope-orderflow/internal/idempotency"
	"github.com/imrishuroy/hope-orderflow/internal/inventory"
	"github.com/imrishuroy/hope-orderflow/internal/jobs"
	"github.com/imrishuroy/hope-orderflow/internal/money"
	"github.com/imrishuroy/hope-orderflow/internal/orders"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testSecret = []byte("handlers-secret")

type app struct {
	router *gin.Engine
	fake   *awstest.FakeDynamo
	ledger *inventory.DynamoLedger
	svc    *jobs.Service
	token  string
}

func newApp(t *testing.T, rateLimit int) *app {
	t.Helper()
	return newAppWithJobs(t, rateLimit, func(js JobService) JobService { return js })
}

func newAppWithJobs(t *testing.T, rateLimit int, wrap func(JobService) JobService) *app {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	fake := awstest.NewFakeDynamo(map[string]string{
		"idempotency": "idempotency_key",
		"orders":      "order_id",
		"inventory":   "id",
		"jobs":        "job_id",
	})
	ledger := inventory.NewDynamoLedger(fake, "inventory")
	for _, it := range []*inventory.Item{
		{ID: "A", Name: "Food Box", Price: money.MustParse("10.00"), Quantity: 5, Category: "food", SKU: "FB-001"},
		{ID: "B", Name: "Blanket", Price: money.MustParse("15.00"), Quantity: 2, Category: "clothing", SKU: "BL-001"},
	} {
		require.NoError(t, ledger.Put(ctx, it))
	}

	orderStore := orders.NewStore(fake, "orders")
	jobStore := jobs.NewStore(fake, "jobs")
	idem := idempotency.NewStore(fake, "idempotency", 24*time.Hour)
	log := zap.NewNop()

	registry := jobs.NewDefaultRegistry(jobs.Deps{Orders: orderStore, Inventory: ledger, Log: log})
	svc := jobs.NewService(jobStore, jobs.NewMemoryQueue(), registry, log, jobs.Options{Workers: 2})
	require.NoError(t, svc.Start(ctx))
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = svc.Stop(stopCtx)
	})

	token, err := auth.IssueToken(testSecret, "user-1", time.Hour)
	require.NoError(t, err)

	r := NewRouter(Config{
		Orders:             orders.NewCreator(ledger, orderStore),
		Jobs:               wrap(svc),
		Idempotency:        idem,
		Stores:             []Pinger{idem, orderStore, jobStore, ledger},
		JWTSecret:          testSecret,
		RateLimitPerMinute: rateLimit,
		Log:                log,
	})
	return &app{router: r, fake: fake, ledger: ledger, svc: svc, token: token}
}

func (a *app) do(method, path, body, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.token)
	if key != "" {
		req.Header.Set(idempotency.HeaderKey, key)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

type createdOrder struct {
	ID          string `json:"id"`
	TotalAmount string `json:"total_amount"`
	Status      string `json:"status"`
	Jobs        struct {
		Receipt       string `json:"receipt"`
		InventorySync string `json:"inventory_sync"`
	} `json:"jobs"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
}

func (a *app) waitForJob(t *testing.T, id string) map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		w := a.do(http.MethodGet, "/jobs/"+id, "", "")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var job map[string]interface{}
		decode(t, w, &job)
		if job["status"] == "done" || job["status"] == "failed" {
			return job
		}
		if time.Now().After(deadline) {
			t.Fatalf("job %s still %v", id, job["status"])
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCreateOrder_RunsJobs(t *testing.T) {
	a := newApp(t, 10)

	w := a.do(http.MethodPost, "/orders", `{"items":[{"inventory_item_id":"A","quantity":3}],"shipping_address":"1 Main St"}`, "k1")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var o createdOrder
	decode(t, w, &o)
	assert.Equal(t, "30.00", o.TotalAmount)
	assert.Equal(t, "processing", o.Status)
	assert.Equal(t, "/orders/"+o.ID, w.Header().Get("Location"))
	require.NotEmpty(t, o.Jobs.Receipt)
	require.NotEmpty(t, o.Jobs.InventorySync)

	assert.Equal(t, "done", a.waitForJob(t, o.Jobs.Receipt)["status"])
	assert.Equal(t, "done", a.waitForJob(t, o.Jobs.InventorySync)["status"])

	it, err := a.ledger.Get(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, 2, it.Quantity)

	w = a.do(http.MethodGet, "/orders/"+o.ID, "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var got createdOrder
	decode(t, w, &got)
	assert.Equal(t, o.ID, got.ID)
}

func TestCreateOrder_InsufficientQuantity(t *testing.T) {
	a := newApp(t, 10)

	w := a.do(http.MethodPost, "/orders", `{"items":[{"inventory_item_id":"B","quantity":3}]}`, "k1")
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Insufficient quantity for item Blanket")
	assert.Equal(t, 0, a.fake.Count("orders"))
	assert.Equal(t, 0, a.fake.Count("jobs"))
}

func TestCreateOrder_UnknownItem(t *testing.T) {
	a := newApp(t, 10)

	w := a.do(http.MethodPost, "/orders", `{"items":[{"inventory_item_id":"Z","quantity":1}]}`, "k1")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 0, a.fake.Count("orders"))
}

func TestCreateOrder_Validation(t *testing.T) {
	a := newApp(t, 10)

	w := a.do(http.MethodPost, "/orders", `{"items":[]}`, "k1")
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"items"`)

	w = a.do(http.MethodPost, "/orders", `{"items":[{"inventory_item_id":"A","quantity":0}]}`, "k2")
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "items[0].quantity")
}

func TestCreateOrder_MissingKey(t *testing.T) {
	a := newApp(t, 10)

	w := a.do(http.MethodPost, "/orders", `{"items":[{"inventory_item_id":"A","quantity":1}]}`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, a.fake.Count("orders"))
}

func TestCreateOrder_RequiresAuth(t *testing.T) {
	a := newApp(t, 10)
	a.token = "not-a-token"

	w := a.do(http.MethodPost, "/orders", `{"items":[{"inventory_item_id":"A","quantity":1}]}`, "k1")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateOrder_Replay(t *testing.T) {
	a := newApp(t, 10)
	body := `{"items":[{"inventory_item_id":"A","quantity":1}]}`

	first := a.do(http.MethodPost, "/orders", body, "same")
	require.Equal(t, http.StatusCreated, first.Code)
	second := a.do(http.MethodPost, "/orders", body, "same")
	require.Equal(t, http.StatusCreated, second.Code)

	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get(idempotency.HeaderReplayed))
	assert.Equal(t, 1, a.fake.Count("orders"))
	assert.Equal(t, 2, a.fake.Count("jobs"))
}

func TestCreateOrder_ReplaysFailure(t *testing.T) {
	a := newApp(t, 10)
	body := `{"items":[{"inventory_item_id":"B","quantity":3}]}`

	first := a.do(http.MethodPost, "/orders", body, "k")
	require.Equal(t, http.StatusBadRequest, first.Code)
	second := a.do(http.MethodPost, "/orders", body, "k")
	assert.Equal(t, http.StatusBadRequest, second.Code)
	assert.Equal(t, "true", second.Header().Get(idempotency.HeaderReplayed))
}

func TestCreateOrder_AfterExpiry(t *testing.T) {
	a := newApp(t, 10)
	body := `{"items":[{"inventory_item_id":"A","quantity":1}]}`

	first := a.do(http.MethodPost, "/orders", body, "k")
	require.Equal(t, http.StatusCreated, first.Code)

	rec := a.fake.Item("idempotency", "k")
	require.NotNil(t, rec)
	rec["expires_at"] = &types.AttributeValueMemberN{Value: "1"}
	a.fake.Seed("idempotency", rec)

	second := a.do(http.MethodPost, "/orders", body, "k")
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Empty(t, second.Header().Get(idempotency.HeaderReplayed))

	var o1, o2 createdOrder
	decode(t, first, &o1)
	decode(t, second, &o2)
	assert.NotEqual(t, o1.ID, o2.ID)
	assert.Equal(t, 2, a.fake.Count("orders"))
}

func TestCreateOrder_RateLimited(t *testing.T) {
	a := newApp(t, 1)
	body := `{"items":[{"inventory_item_id":"A","quantity":1}]}`

	require.Equal(t, http.StatusCreated, a.do(http.MethodPost, "/orders", body, "k1").Code)
	// A replay is answered before the limiter.
	require.Equal(t, http.StatusCreated, a.do(http.MethodPost, "/orders", body, "k1").Code)
	assert.Equal(t, http.StatusTooManyRequests, a.do(http.MethodPost, "/orders", body, "k2").Code)
	assert.Nil(t, a.fake.Item("idempotency", "k2"))
}

func TestGetOrder_OtherUser(t *testing.T) {
	a := newApp(t, 10)
	w := a.do(http.MethodPost, "/orders", `{"items":[{"inventory_item_id":"A","quantity":1}]}`, "k1")
	require.Equal(t, http.StatusCreated, w.Code)
	var o createdOrder
	decode(t, w, &o)

	other, err := auth.IssueToken(testSecret, "user-2", time.Hour)
	require.NoError(t, err)
	a.token = other
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodGet, "/orders/"+o.ID, "", "").Code)
}

func TestGetJob_NotFound(t *testing.T) {
	a := newApp(t, 10)
	a.token = ""

	w := a.do(http.MethodGet, "/jobs/missing", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "not found")
}

func TestHealth(t *testing.T) {
	a := newApp(t, 10)

	w := a.do(http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","database":"ok","worker":"running"}`, w.Body.String())

	a.fake.Err = errors.New("unreachable")
	w = a.do(http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"degraded","database":"error","worker":"running"}`, w.Body.String())

	a.fake.Err = nil
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, a.svc.Stop(ctx))
	w = a.do(http.MethodGet, "/health", "", "")
	assert.JSONEq(t, `{"status":"degraded","database":"ok","worker":"stopped"}`, w.Body.String())
}

// unrecordedJobs fails Enqueue for one job type.
type unrecordedJobs struct {
	JobService
	fail jobs.Type
}

func (u unrecordedJobs) Enqueue(ctx context.Context, t jobs.Type, orderID string, metadata map[string]string) (string, error) {
	if t == u.fail {
		return "", errors.New("jobs table unavailable")
	}
	return u.JobService.Enqueue(ctx, t, orderID, metadata)
}

func TestCreateOrder_JobRecordFailureStillCommits(t *testing.T) {
	a := newAppWithJobs(t, 10, func(js JobService) JobService {
		return unrecordedJobs{JobService: js, fail: jobs.TypeInventorySync}
	})
	body := `{"items":[{"inventory_item_id":"A","quantity":1}]}`

	first := a.do(http.MethodPost, "/orders", body, "k1")
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	var o createdOrder
	decode(t, first, &o)
	assert.NotEmpty(t, o.Jobs.Receipt)
	assert.Empty(t, o.Jobs.InventorySync)

	second := a.do(http.MethodPost, "/orders", body, "k1")
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, a.fake.Count("orders"))
	assert.Equal(t, 1, a.fake.Count("jobs"))
}
