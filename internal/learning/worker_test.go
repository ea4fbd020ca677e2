package learning

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/nexus/internal/storage"
)

type mockMemory struct {
	mu      sync.Mutex
	learned []learnPayload
	learnFn func(query, response string) (bool, error)
}

func (m *mockMemory) Learn(query, response string) (bool, error) {
	if m.learnFn != nil {
		return m.learnFn(query, response)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.learned = append(m.learned, learnPayload{Query: query, Response: response})
	return true, nil
}

func (m *mockMemory) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.learned)
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func enqueueTestJob(t *testing.T, store *storage.Store, id, query, response string) {
	t.Helper()
	payload, _ := json.Marshal(learnPayload{Query: query, Response: response})
	job := storage.Job{
		ID:          id,
		Type:        JobType,
		PayloadJSON: string(payload),
	}
	if err := store.EnqueueJob(job); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
}

// resetRunAfter sets run_after to now so the job is immediately claimable after FailJob backoff.
func resetRunAfter(t *testing.T, store *storage.Store, jobID string) {
	t.Helper()
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := store.DB().Exec(`UPDATE jobs SET run_after = ? WHERE id = ?`, now, jobID)
	if err != nil {
		t.Fatalf("resetRunAfter: %v", err)
	}
}

func jobStatus(t *testing.T, store *storage.Store, jobID string) (string, int) {
	t.Helper()
	var status string
	var attempts int
	if err := store.DB().QueryRow(`SELECT status, attempts FROM jobs WHERE id = ?`, jobID).Scan(&status, &attempts); err != nil {
		t.Fatalf("query job %s: %v", jobID, err)
	}
	return status, attempts
}

func TestWorker_ProcessesJob(t *testing.T) {
	store := openTestStore(t)
	enqueueTestJob(t, store, "job-1", "I prefer tabs", "Understood, tabs it is.")

	mem := &mockMemory{}
	w := NewWorker(store, mem, 0)

	didWork, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if !didWork {
		t.Fatal("RunOnce returned false, expected true")
	}

	if mem.count() != 1 {
		t.Fatalf("learned %d exchanges, want 1", mem.count())
	}
	got := mem.learned[0]
	if got.Query != "I prefer tabs" || got.Response != "Understood, tabs it is." {
		t.Errorf("learned %+v", got)
	}

	if status, _ := jobStatus(t, store, "job-1"); status != "completed" {
		t.Errorf("status = %q, want completed", status)
	}
}

func TestWorker_EmptyQueue(t *testing.T) {
	store := openTestStore(t)
	w := NewWorker(store, &mockMemory{}, 0)

	didWork, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if didWork {
		t.Error("RunOnce returned true on an empty queue")
	}
}

func TestWorker_LearnEnqueues(t *testing.T) {
	store := openTestStore(t)
	mem := &mockMemory{}
	w := NewWorker(store, mem, 0)

	if err := w.Learn("how do I sort", "Use sort.Slice with a less func."); err != nil {
		t.Fatalf("Learn: %v", err)
	}

	n, err := store.CountJobs(JobType, "pending")
	if err != nil {
		t.Fatalf("CountJobs: %v", err)
	}
	if n != 1 {
		t.Fatalf("pending jobs = %d, want 1", n)
	}
	if mem.count() != 0 {
		t.Fatal("Learn must not touch memory synchronously")
	}

	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if mem.count() != 1 || mem.learned[0].Query != "how do I sort" {
		t.Errorf("learned = %+v", mem.learned)
	}
}

func TestWorker_BadPayloadFails(t *testing.T) {
	store := openTestStore(t)
	if err := store.EnqueueJob(storage.Job{ID: "job-bad", Type: JobType, PayloadJSON: "{not json"}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	mem := &mockMemory{}
	w := NewWorker(store, mem, 0)
	didWork, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if !didWork {
		t.Fatal("RunOnce returned false")
	}
	if status, attempts := jobStatus(t, store, "job-bad"); status != "pending" || attempts != 1 {
		t.Errorf("status=%q attempts=%d, want pending/1", status, attempts)
	}
	if mem.count() != 0 {
		t.Error("memory should not be called for an unreadable payload")
	}
}

func TestWorker_RetryOnFailure(t *testing.T) {
	store := openTestStore(t)
	enqueueTestJob(t, store, "job-r", "retry query", "retry response")

	var calls atomic.Int32
	w := NewWorker(store, &mockMemory{
		learnFn: func(_, _ string) (bool, error) {
			n := calls.Add(1)
			if n <= 2 {
				return false, fmt.Errorf("transient error %d", n)
			}
			return true, nil
		},
	}, 0)

	ctx := context.Background()

	// 1st attempt fails
	if didWork, err := w.RunOnce(ctx); err != nil || !didWork {
		t.Fatalf("RunOnce 1 = %v, %v", didWork, err)
	}
	if status, attempts := jobStatus(t, store, "job-r"); status != "pending" || attempts != 1 {
		t.Errorf("after 1st fail: status=%q attempts=%d, want pending/1", status, attempts)
	}

	resetRunAfter(t, store, "job-r")

	// 2nd attempt fails
	if didWork, err := w.RunOnce(ctx); err != nil || !didWork {
		t.Fatalf("RunOnce 2 = %v, %v", didWork, err)
	}
	if _, attempts := jobStatus(t, store, "job-r"); attempts != 2 {
		t.Errorf("after 2nd fail: attempts=%d, want 2", attempts)
	}

	resetRunAfter(t, store, "job-r")

	// 3rd attempt succeeds
	if didWork, err := w.RunOnce(ctx); err != nil || !didWork {
		t.Fatalf("RunOnce 3 = %v, %v", didWork, err)
	}
	if status, _ := jobStatus(t, store, "job-r"); status != "completed" {
		t.Errorf("after 3rd attempt: status=%q, want completed", status)
	}
}

func TestWorker_MaxRetriesExceeded(t *testing.T) {
	store := openTestStore(t)
	enqueueTestJob(t, store, "job-m", "q", "r")

	w := NewWorker(store, &mockMemory{
		learnFn: func(_, _ string) (bool, error) {
			return false, fmt.Errorf("permanent error")
		},
	}, 0)

	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		didWork, err := w.RunOnce(ctx)
		if err != nil {
			t.Fatalf("RunOnce %d error: %v", i, err)
		}
		if !didWork {
			t.Fatalf("RunOnce %d returned false", i)
		}
		if i < 3 {
			resetRunAfter(t, store, "job-m")
		}
	}

	if status, _ := jobStatus(t, store, "job-m"); status != "failed" {
		t.Errorf("final status = %q, want %q", status, "failed")
	}
}

func TestWorker_ConcurrentEnqueue(t *testing.T) {
	store := openTestStore(t)
	mem := &mockMemory{}
	w := NewWorker(store, mem, 0)

	const goroutines = 5
	const jobsPerGoroutine = 10
	const total = goroutines * jobsPerGoroutine

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for j := 0; j < jobsPerGoroutine; j++ {
				if err := w.Learn(fmt.Sprintf("query %d-%d", g, j), "response"); err != nil {
					t.Errorf("Learn %d-%d: %v", g, j, err)
					return
				}
			}
		}(g)
	}
	wg.Wait()

	ctx := context.Background()
	deadline := time.After(5 * time.Second)
	processed := 0
	for processed < total {
		select {
		case <-deadline:
			t.Fatalf("timed out after processing %d/%d jobs", processed, total)
		default:
		}
		didWork, err := w.RunOnce(ctx)
		if err != nil {
			t.Fatalf("RunOnce error at job %d: %v", processed, err)
		}
		if didWork {
			processed++
		}
	}

	if mem.count() != total {
		t.Errorf("learned %d exchanges, want %d", mem.count(), total)
	}
}

func TestWorker_RunWakesOnLearn(t *testing.T) {
	store := openTestStore(t)
	mem := &mockMemory{}
	w := NewWorker(store, mem, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	if err := w.Learn("wake query", "wake response"); err != nil {
		t.Fatalf("Learn: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for mem.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("worker did not pick up the job before the poll interval")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
