package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"examtrack/pkg/identity"
	"examtrack/pkg/queue"
)

func newRedisRegistrar(t *testing.T) (*RedisRegistrar, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisRegistrar(client, "test:notify"), client
}

func TestRedisRegistrarAuthorization(t *testing.T) {
	reg, _ := newRedisRegistrar(t)
	ctx := identity.WithUserID(context.Background(), "u1")

	status, err := reg.AuthorizationStatus(ctx)
	if err != nil || status != AuthNotDetermined {
		t.Fatalf("initial status = %v err=%v", status, err)
	}
	if ok, err := reg.RequestAuthorization(ctx); err != nil || !ok {
		t.Fatalf("request: ok=%v err=%v", ok, err)
	}
	if status, _ := reg.AuthorizationStatus(ctx); status != AuthAuthorized {
		t.Fatalf("status after grant = %v", status)
	}
	_ = reg.SetAuthorization(ctx, false)
	if ok, _ := reg.RequestAuthorization(ctx); ok {
		t.Fatalf("denied permission must not be re-granted by a request")
	}
}

func TestRedisRegistrarScheduleCancelPending(t *testing.T) {
	reg, _ := newRedisRegistrar(t)
	ctx := identity.WithUserID(context.Background(), "u1")
	_, _ = reg.RequestAuthorization(ctx)

	s := NewScheduler(reg, time.UTC)
	s.SetClock(func() time.Time { return testNow })
	if got := s.Schedule(ctx, "rec-1", "CBC", testNow.Add(48*time.Hour)); got != ResultScheduled {
		t.Fatalf("schedule = %v", got)
	}
	pending, err := reg.Pending(ctx)
	if err != nil || len(pending) != 2 {
		t.Fatalf("pending = %+v err=%v", pending, err)
	}
	if !pending[0].FireAt.Before(pending[1].FireAt) && !pending[0].FireAt.Equal(pending[1].FireAt) {
		t.Fatalf("pending must be ordered by fire time: %+v", pending)
	}

	if err := s.Cancel(ctx, "rec-1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if pending, _ := reg.Pending(ctx); len(pending) != 0 {
		t.Fatalf("expected no pending after cancel, got %+v", pending)
	}
	if err := s.Cancel(ctx, "rec-1"); err != nil {
		t.Fatalf("second cancel must be a no-op: %v", err)
	}
	due, _ := reg.ClaimDue(ctx, testNow.Add(72*time.Hour), 10)
	if len(due) != 0 {
		t.Fatalf("canceled requests must leave the due set, got %+v", due)
	}
}

func TestRedisRegistrarClaimDueOnce(t *testing.T) {
	reg, _ := newRedisRegistrar(t)
	ctx := identity.WithUserID(context.Background(), "u1")
	_ = reg.Add(ctx, Request{ID: "a_reminder", Category: Category, RecordID: "a", FireAt: testNow.Add(-time.Minute)})
	_ = reg.Add(ctx, Request{ID: "a_day", Category: Category, RecordID: "a", FireAt: testNow.Add(time.Hour)})

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			due, err := reg.ClaimDue(context.Background(), testNow, 10)
			if err != nil {
				t.Errorf("claim: %v", err)
				return
			}
			mu.Lock()
			total += len(due)
			mu.Unlock()
		}()
	}
	wg.Wait()
	if total != 1 {
		t.Fatalf("due request claimed %d times", total)
	}
	pending, _ := reg.Pending(ctx)
	if len(pending) != 1 || pending[0].ID != "a_day" {
		t.Fatalf("claimed request must leave pending: %+v", pending)
	}
}

type recordingDeliverer struct {
	mu  sync.Mutex
	got []Due
}

func (r *recordingDeliverer) Deliver(_ context.Context, due Due) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, due)
	return nil
}

func TestDispatcherDeliversDueRequests(t *testing.T) {
	reg := NewMemoryRegistrar()
	ctx := identity.WithUserID(context.Background(), "u1")
	_ = reg.Add(ctx, Request{ID: "x_reminder", RecordID: "x", Category: Category, FireAt: testNow.Add(-time.Second)})
	_ = reg.Add(ctx, Request{ID: "x_day", RecordID: "x", Category: Category, FireAt: testNow.Add(time.Hour)})

	deliverer := &recordingDeliverer{}
	d, err := NewDispatcher(DispatcherConfig{Source: reg, Deliverer: deliverer})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	d.now = func() time.Time { return testNow }

	n, err := d.DispatchOnce(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("dispatch: n=%d err=%v", n, err)
	}
	if len(deliverer.got) != 1 || deliverer.got[0].Scope != "u1" || deliverer.got[0].Request.ID != "x_reminder" {
		t.Fatalf("unexpected deliveries: %+v", deliverer.got)
	}
	if n, _ := d.DispatchOnce(context.Background()); n != 0 {
		t.Fatalf("request delivered twice")
	}
}

func TestDispatcherEnqueuesWhenQueueConfigured(t *testing.T) {
	reg, client := newRedisRegistrar(t)
	ctx := identity.WithUserID(context.Background(), "u1")
	_ = reg.Add(ctx, Request{ID: "y_reminder", RecordID: "y", Category: Category, FireAt: testNow.Add(-time.Second)})

	q, err := queue.NewRedisJobQueue(queue.RedisQueueConfig{Client: client, Stream: "test:deliveries"})
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	d, _ := NewDispatcher(DispatcherConfig{Source: reg, Queue: q})
	d.now = func() time.Time { return testNow }
	if n, err := d.DispatchOnce(context.Background()); err != nil || n != 1 {
		t.Fatalf("dispatch: n=%d err=%v", n, err)
	}
	if l, _ := client.XLen(context.Background(), "test:deliveries").Result(); l != 1 {
		t.Fatalf("expected one queued delivery, got %d", l)
	}

	deliverer := &recordingDeliverer{}
	d.deliverer = deliverer
	if err := d.handleJob(context.Background(), queue.JobStatus{Payload: `{"scope":"u1","request":{"id":"y_reminder"}}`}); err != nil {
		t.Fatalf("handle job: %v", err)
	}
	if len(deliverer.got) != 1 || deliverer.got[0].Request.ID != "y_reminder" {
		t.Fatalf("unexpected deliveries: %+v", deliverer.got)
	}
}

func TestDispatcherFallsBackWhenQueueFails(t *testing.T) {
	reg := NewMemoryRegistrar()
	ctx := identity.WithUserID(context.Background(), "u1")
	for _, id := range []string{"a_reminder", "b_reminder", "c_reminder"} {
		_ = reg.Add(ctx, Request{ID: id, Category: Category, FireAt: testNow.Add(-time.Minute)})
	}

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q, err := queue.NewRedisJobQueue(queue.RedisQueueConfig{Client: client, Stream: "test:deliveries"})
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	_ = client.Close()

	deliverer := &recordingDeliverer{}
	d, _ := NewDispatcher(DispatcherConfig{Source: reg, Deliverer: deliverer, Queue: q})
	d.now = func() time.Time { return testNow }

	n, err := d.DispatchOnce(context.Background())
	if err == nil {
		t.Fatalf("expected the enqueue error to be reported")
	}
	if n != 3 || len(deliverer.got) != 3 {
		t.Fatalf("claimed reminders lost: handled=%d delivered=%+v", n, deliverer.got)
	}
	if pending, _ := reg.Pending(ctx); len(pending) != 0 {
		t.Fatalf("reminders still pending: %+v", pending)
	}
}
