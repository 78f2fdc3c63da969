package ops_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"docpipe/internal/archive"
	"docpipe/internal/cleanup"
	"docpipe/internal/common/mq"
	"docpipe/internal/deadletter"
	"docpipe/internal/events"
	"docpipe/internal/ops"

	"github.com/gin-gonic/gin"
)

type fakeQueue struct {
	mu        sync.Mutex
	published map[string][]*mq.Message
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{published: make(map[string][]*mq.Message)}
}

func (q *fakeQueue) Publish(_ context.Context, topic string, msg *mq.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.published[topic] = append(q.published[topic], msg)
	return nil
}

func (q *fakeQueue) PublishBatch(ctx context.Context, topic string, msgs []*mq.Message) error {
	for _, m := range msgs {
		if err := q.Publish(ctx, topic, m); err != nil {
			return err
		}
	}
	return nil
}

func (q *fakeQueue) messages(topic string) []*mq.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*mq.Message(nil), q.published[topic]...)
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func doRequest(t *testing.T, router *gin.Engine, method, path string, body []byte) (int, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var resp envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return rec.Code, resp
}

func newDeadLetterRouter(repo deadletter.Repository, queue mq.Producer) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	dlc := ops.NewDeadLetterController(repo, queue)
	api := router.Group("/api/v1/deadletters")
	api.GET("", dlc.List)
	api.GET("/key/:idempotency_key", dlc.GetByKey)
	api.GET("/:id", dlc.Get)
	api.POST("/:id/replay", dlc.Replay)
	return router
}

func seedRecord(t *testing.T, repo deadletter.Repository, service, key, topic string, at time.Time) *deadletter.Record {
	t.Helper()
	rec := &deadletter.Record{
		OriginalEvent:   json.RawMessage(`{"event_type":"doc.created"}`),
		Topic:           topic,
		EventType:       "doc.created",
		IdempotencyKey:  key,
		AttemptCount:    3,
		LastError:       "parse failed",
		ErrorKind:       "retryable",
		AbandonedReason: "max_attempts_exceeded",
		ServiceName:     service,
		Timestamp:       at,
	}
	if err := repo.Record(context.Background(), rec); err != nil {
		t.Fatalf("seed record: %v", err)
	}
	return rec
}

func TestDeadLetterList(t *testing.T) {
	t.Parallel()

	repo := deadletter.NewMemoryRepository()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	seedRecord(t, repo, "parsing", "doc.created:1", "doc.created", base)
	seedRecord(t, repo, "parsing", "doc.created:2", "doc.created", base.Add(time.Minute))
	seedRecord(t, repo, "chunking", "doc.parsed:1", "doc.parsed", base)

	router := newDeadLetterRouter(repo, newFakeQueue())
	status, resp := doRequest(t, router, http.MethodGet, "/api/v1/deadletters?service=parsing&limit=10", nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}

	var page struct {
		Items []*deadletter.Record `json:"items"`
		Total int64                `json:"total"`
		Limit int                  `json:"limit"`
	}
	if err := json.Unmarshal(resp.Data, &page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if page.Total != 2 || len(page.Items) != 2 {
		t.Fatalf("got total=%d items=%d, want 2/2", page.Total, len(page.Items))
	}
	if page.Items[0].IdempotencyKey != "doc.created:2" {
		t.Fatalf("items not newest first: %q", page.Items[0].IdempotencyKey)
	}
}

func TestDeadLetterListRequiresService(t *testing.T) {
	t.Parallel()

	router := newDeadLetterRouter(deadletter.NewMemoryRepository(), newFakeQueue())
	status, _ := doRequest(t, router, http.MethodGet, "/api/v1/deadletters", nil)
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", status)
	}
}

func TestDeadLetterGet(t *testing.T) {
	t.Parallel()

	repo := deadletter.NewMemoryRepository()
	rec := seedRecord(t, repo, "parsing", "doc.created:1", "doc.created", time.Now().UTC())
	router := newDeadLetterRouter(repo, newFakeQueue())

	status, resp := doRequest(t, router, http.MethodGet, "/api/v1/deadletters/1", nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	var got deadletter.Record
	if err := json.Unmarshal(resp.Data, &got); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if got.ID != rec.ID || got.IdempotencyKey != rec.IdempotencyKey {
		t.Fatalf("got record %+v, want id=%d key=%q", got, rec.ID, rec.IdempotencyKey)
	}

	status, _ = doRequest(t, router, http.MethodGet, "/api/v1/deadletters/999", nil)
	if status != http.StatusNotFound {
		t.Fatalf("missing record status = %d, want 404", status)
	}
	status, _ = doRequest(t, router, http.MethodGet, "/api/v1/deadletters/not-a-number", nil)
	if status != http.StatusBadRequest {
		t.Fatalf("bad id status = %d, want 400", status)
	}
}

func TestDeadLetterGetByKey(t *testing.T) {
	t.Parallel()

	repo := deadletter.NewMemoryRepository()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	seedRecord(t, repo, "parsing", "doc.created:7", "doc.created", base)
	seedRecord(t, repo, "chunking", "doc.created:7", "doc.parsed", base.Add(time.Hour))

	router := newDeadLetterRouter(repo, newFakeQueue())
	status, resp := doRequest(t, router, http.MethodGet, "/api/v1/deadletters/key/doc.created:7", nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	var got []*deadletter.Record
	if err := json.Unmarshal(resp.Data, &got); err != nil {
		t.Fatalf("decode records: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
}

func TestDeadLetterReplay(t *testing.T) {
	t.Parallel()

	repo := deadletter.NewMemoryRepository()
	rec := seedRecord(t, repo, "parsing", "doc.created:1", "doc.created", time.Now().UTC())
	queue := newFakeQueue()
	router := newDeadLetterRouter(repo, queue)

	status, resp := doRequest(t, router, http.MethodPost, "/api/v1/deadletters/1/replay", nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	var replay ops.ReplayResponse
	if err := json.Unmarshal(resp.Data, &replay); err != nil {
		t.Fatalf("decode replay response: %v", err)
	}
	if replay.Topic != "doc.created" {
		t.Fatalf("replay topic = %q, want doc.created", replay.Topic)
	}

	msgs := queue.messages("doc.created")
	if len(msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(msgs))
	}
	if !bytes.Equal(msgs[0].Body, rec.OriginalEvent) {
		t.Fatalf("replayed body = %s, want original event", msgs[0].Body)
	}

	stored, err := repo.GetByID(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("get after replay: %v", err)
	}
	if stored.ReplayedAt == nil {
		t.Fatal("ReplayedAt not set after replay")
	}
}

func TestDeadLetterReplayTopicOverride(t *testing.T) {
	t.Parallel()

	repo := deadletter.NewMemoryRepository()
	seedRecord(t, repo, "parsing", "doc.created:1", "doc.created", time.Now().UTC())
	queue := newFakeQueue()
	router := newDeadLetterRouter(repo, queue)

	body, _ := json.Marshal(ops.ReplayRequest{Topic: "doc.created.manual"})
	status, _ := doRequest(t, router, http.MethodPost, "/api/v1/deadletters/1/replay", body)
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if got := len(queue.messages("doc.created.manual")); got != 1 {
		t.Fatalf("override topic got %d messages, want 1", got)
	}
	if got := len(queue.messages("doc.created")); got != 0 {
		t.Fatalf("record topic got %d messages, want 0", got)
	}
}

func newCleanupRouter(t *testing.T, queue mq.Producer) (*gin.Engine, *cleanup.Aggregator, *archive.MemoryRepository) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	archives := archive.NewMemoryRepository()
	initiator, err := cleanup.NewInitiator(cleanup.InitiatorConfig{
		ServiceName:   "archive",
		Bucket:        "docpipe",
		DeletionTopic: "source.deletion.requested",
		ProgressTopic: "source.cleanup.progress",
		Archives:      archives,
		Queue:         queue,
	})
	if err != nil {
		t.Fatalf("new initiator: %v", err)
	}
	aggregator, err := cleanup.NewAggregator(cleanup.AggregatorConfig{
		ExpectedServices:   []string{"archive", "parsing", "chunking"},
		AggregationTimeout: time.Hour,
		CompletedTopic:     "source.cleanup.completed",
		Store:              cleanup.NewMemoryStore(),
		Queue:              queue,
	})
	if err != nil {
		t.Fatalf("new aggregator: %v", err)
	}

	router := gin.New()
	cc := ops.NewCleanupController(initiator, aggregator)
	router.POST("/api/v1/sources/:name/cleanup", cc.Initiate)
	router.GET("/api/v1/cleanups/:correlation_id", cc.Status)
	return router, aggregator, archives
}

func TestCleanupInitiate(t *testing.T) {
	t.Parallel()

	queue := newFakeQueue()
	router, _, archives := newCleanupRouter(t, queue)
	archives.AddSource(&archive.Source{Name: "docs-a"})
	archives.AddArchive(&archive.Archive{SourceName: "docs-a", ObjectKey: "archives/docs-a/1.zst"})

	body, _ := json.Marshal(ops.InitiateRequest{RequestedBy: "ops@example.com"})
	status, resp := doRequest(t, router, http.MethodPost, "/api/v1/sources/docs-a/cleanup", body)
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	var got ops.InitiateResponse
	if err := json.Unmarshal(resp.Data, &got); err != nil {
		t.Fatalf("decode initiate response: %v", err)
	}
	if got.CorrelationID == "" || got.SourceName != "docs-a" {
		t.Fatalf("unexpected response %+v", got)
	}
	if n := len(queue.messages("source.deletion.requested")); n != 1 {
		t.Fatalf("published %d deletion requests, want 1", n)
	}
}

func TestCleanupInitiateUnknownSource(t *testing.T) {
	t.Parallel()

	queue := newFakeQueue()
	router, _, _ := newCleanupRouter(t, queue)

	status, _ := doRequest(t, router, http.MethodPost, "/api/v1/sources/ghost/cleanup", nil)
	if status != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", status)
	}
	if n := len(queue.messages("source.deletion.requested")); n != 0 {
		t.Fatalf("published %d deletion requests, want 0", n)
	}
}

func TestCleanupStatus(t *testing.T) {
	t.Parallel()

	queue := newFakeQueue()
	router, aggregator, _ := newCleanupRouter(t, queue)

	ctx := context.Background()
	req := &events.DeletionRequest{
		SourceName:    "docs-a",
		CorrelationID: "corr-1",
		DeleteMode:    events.DeleteModeHard,
		RequestedAt:   time.Now().UTC(),
	}
	if err := aggregator.OnRequest(ctx, req); err != nil {
		t.Fatalf("on request: %v", err)
	}
	if err := aggregator.OnReport(ctx, &events.CleanupProgressReport{
		CorrelationID:  "corr-1",
		ServiceName:    "parsing",
		Status:         events.CleanupStatusCompleted,
		DeletionCounts: map[string]int64{"chunks": 12},
		CompletedAt:    time.Now().UTC(),
	}); err != nil {
		t.Fatalf("on report: %v", err)
	}

	status, resp := doRequest(t, router, http.MethodGet, "/api/v1/cleanups/corr-1", nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	var agg cleanup.Aggregate
	if err := json.Unmarshal(resp.Data, &agg); err != nil {
		t.Fatalf("decode aggregate: %v", err)
	}
	if agg.OverallStatus != cleanup.StatusInProgress {
		t.Fatalf("overall status = %q, want %q", agg.OverallStatus, cleanup.StatusInProgress)
	}
	if agg.PerServiceStatus["parsing"] != events.CleanupStatusCompleted {
		t.Fatalf("parsing status = %q, want completed", agg.PerServiceStatus["parsing"])
	}

	status, _ = doRequest(t, router, http.MethodGet, "/api/v1/cleanups/unknown", nil)
	if status != http.StatusNotFound {
		t.Fatalf("missing aggregate status = %d, want 404", status)
	}
}
