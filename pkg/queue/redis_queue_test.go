package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisJobQueueRequeueAndAckSuccess(t *testing.T) {
	q, ctx, msgID, jobID, payload := newPendingQueueMessage(t)

	if err := q.requeueAndAck(ctx, msgID, jobID, payload); err != nil {
		t.Fatalf("requeue and ack: %v", err)
	}

	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 0 {
		t.Fatalf("expected no pending messages, got %d", pending.Count)
	}

	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: "consumer-2",
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    0,
	}).Result()
	if err != nil {
		t.Fatalf("read requeued message: %v", err)
	}
	if len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("expected one requeued message, got %+v", streams)
	}
	got := streams[0].Messages[0]
	if got.Values["job_id"] != jobID || got.Values["payload"] != payload {
		t.Fatalf("unexpected requeued payload: %+v", got.Values)
	}
}

func TestRedisJobQueueRequeueAndAckFailureKeepsPendingMessage(t *testing.T) {
	q, ctx, msgID, jobID, payload := newPendingQueueMessage(t)

	canceledCtx, cancel := context.WithCancel(ctx)
	cancel()
	if err := q.requeueAndAck(canceledCtx, msgID, jobID, payload); err == nil {
		t.Fatalf("expected requeueAndAck to fail on canceled context")
	}

	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 1 {
		t.Fatalf("expected original message to remain pending, got %d", pending.Count)
	}
}

func TestHandleMessageMarksDoneAndFailed(t *testing.T) {
	q, ctx, msgID, jobID, payload := newPendingQueueMessage(t)
	msg := redis.XMessage{ID: msgID, Values: map[string]any{"job_id": jobID, "payload": payload}}

	var seen string
	q.handleMessage(ctx, msg, func(_ context.Context, job JobStatus) error {
		seen = job.Payload
		return nil
	})
	if seen != payload {
		t.Fatalf("handler saw %q, want %q", seen, payload)
	}
	job, ok, err := q.GetJob(ctx, jobID)
	if err != nil || !ok || job.Status != StatusDone || job.Attempts != 1 {
		t.Fatalf("unexpected job after success: %+v ok=%v err=%v", job, ok, err)
	}

	failing, err := q.Enqueue(ctx, "other")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	q.maxRetries = 1
	q.handleMessage(ctx, redis.XMessage{ID: "0-1", Values: map[string]any{"job_id": failing.ID, "payload": "other"}},
		func(context.Context, JobStatus) error { return errors.New("deliver failed") })
	job, _, _ = q.GetJob(ctx, failing.ID)
	if job.Status != StatusFailed || job.ErrorMessage != "deliver failed" {
		t.Fatalf("unexpected job after failure: %+v", job)
	}
}

func newPendingQueueMessage(t *testing.T) (*RedisJobQueue, context.Context, string, string, string) {
	t.Helper()

	redisSrv := miniredis.RunT(t)
	q, err := NewRedisJobQueue(RedisQueueConfig{
		Client:     redis.NewClient(&redis.Options{Addr: redisSrv.Addr()}),
		Stream:     "test:queue",
		Group:      "test-group",
		Consumer:   "consumer-1",
		RetryDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}

	ctx := context.Background()
	q.ensureGroup(ctx)

	job, err := q.Enqueue(ctx, `{"scope":"u1"}`)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: "consumer-1",
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    0,
	}).Result()
	if err != nil {
		t.Fatalf("readgroup: %v", err)
	}
	if len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("expected one pending message, got %+v", streams)
	}

	msg := streams[0].Messages[0]
	return q, ctx, msg.ID, job.ID, job.Payload
}

func TestEnqueueJSONStoresEncodedPayload(t *testing.T) {
	mr := miniredis.RunT(t)
	q, err := NewRedisJobQueue(RedisQueueConfig{
		Client: redis.NewClient(&redis.Options{Addr: mr.Addr()}),
		Stream: "test:deliveries",
	})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	ctx := context.Background()
	job, err := q.EnqueueJSON(ctx, map[string]string{"scope": "u1"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	stored, ok, err := q.GetJob(ctx, job.ID)
	if err != nil || !ok {
		t.Fatalf("get job: ok=%v err=%v", ok, err)
	}
	if stored.Payload != `{"scope":"u1"}` || stored.Status != StatusQueued {
		t.Fatalf("unexpected stored job %+v", stored)
	}
	if _, err := q.EnqueueJSON(ctx, make(chan int)); err == nil {
		t.Fatalf("unencodable payload must fail")
	}
	if _, err := NewRedisJobQueue(RedisQueueConfig{Stream: "x"}); err == nil {
		t.Fatalf("missing client must be rejected")
	}
}
