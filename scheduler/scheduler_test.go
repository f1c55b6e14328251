package scheduler

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/mhpenta/docqueue"
	"github.com/mhpenta/docqueue/backend/memstore"
)

type recordingPusher struct {
	queueName string
	payload   []byte
	options   docqueue.PushOptions
	err       error
}

func (r *recordingPusher) Push(_ context.Context, queueName string, payload []byte, opts ...docqueue.PushOption) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	r.queueName = queueName
	r.payload = payload
	r.options = docqueue.ResolvePushOptions(opts)
	return "job-123", nil
}

func newTestScheduler(t *testing.T, now time.Time, store KeyStateStore, seed int64) (*Scheduler, *recordingPusher) {
	t.Helper()

	pusher := &recordingPusher{}
	s, err := New(
		pusher,
		store,
		WithClock(func() time.Time { return now }),
		WithRandSource(rand.NewSource(seed)),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return s, pusher
}

func TestNewRejectsNilDependencies(t *testing.T) {
	if _, err := New(nil, NewMemoryStore()); !errors.Is(err, ErrNilQueue) {
		t.Fatalf("err = %v, want ErrNilQueue", err)
	}
	if _, err := New(&recordingPusher{}, nil); !errors.Is(err, ErrNilStore) {
		t.Fatalf("err = %v, want ErrNilStore", err)
	}
}

func TestNextRunAtRespectsMinGapPerKey(t *testing.T) {
	now := time.Date(2026, 2, 22, 9, 0, 0, 0, time.UTC)
	s, _ := newTestScheduler(t, now, NewMemoryStore(), 1)

	p := Policy{MinGap: 30 * time.Minute}
	first, err := s.NextRunAt(context.Background(), "acct-1", time.Time{}, p)
	if err != nil {
		t.Fatalf("first NextRunAt() error: %v", err)
	}
	second, err := s.NextRunAt(context.Background(), "acct-1", time.Time{}, p)
	if err != nil {
		t.Fatalf("second NextRunAt() error: %v", err)
	}

	if !first.Equal(now) {
		t.Fatalf("first = %v, want %v", first, now)
	}
	if want := now.Add(30 * time.Minute); !second.Equal(want) {
		t.Fatalf("second = %v, want %v", second, want)
	}
}

func TestNextRunAtIsIndependentAcrossKeys(t *testing.T) {
	now := time.Date(2026, 2, 22, 9, 0, 0, 0, time.UTC)
	s, _ := newTestScheduler(t, now, NewMemoryStore(), 2)

	p := Policy{MinGap: time.Hour}
	a1, _ := s.NextRunAt(context.Background(), "a", time.Time{}, p)
	a2, _ := s.NextRunAt(context.Background(), "a", time.Time{}, p)
	b1, _ := s.NextRunAt(context.Background(), "b", time.Time{}, p)

	if !a1.Equal(now) {
		t.Fatalf("a1 = %v, want %v", a1, now)
	}
	if !a2.Equal(now.Add(time.Hour)) {
		t.Fatalf("a2 = %v, want %v", a2, now.Add(time.Hour))
	}
	if !b1.Equal(now) {
		t.Fatalf("b1 = %v, want %v", b1, now)
	}
}

func TestNextRunAtWindow(t *testing.T) {
	loc := time.FixedZone("EST", -5*60*60)
	window := &DailyWindow{Start: 10 * time.Hour, End: 16 * time.Hour, Location: loc}

	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"before window", time.Date(2026, 2, 22, 8, 15, 0, 0, loc), time.Date(2026, 2, 22, 10, 0, 0, 0, loc)},
		{"inside window", time.Date(2026, 2, 22, 12, 30, 0, 0, loc), time.Date(2026, 2, 22, 12, 30, 0, 0, loc)},
		{"after window", time.Date(2026, 2, 22, 17, 0, 0, 0, loc), time.Date(2026, 2, 23, 10, 0, 0, 0, loc)},
		{"at window end", time.Date(2026, 2, 22, 16, 0, 0, 0, loc), time.Date(2026, 2, 23, 10, 0, 0, 0, loc)},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestScheduler(t, tt.now, NewMemoryStore(), int64(i))
			got, err := s.NextRunAt(context.Background(), "k", time.Time{}, Policy{Window: window})
			if err != nil {
				t.Fatalf("NextRunAt() error: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNextRunAtJitterStaysInsideWindow(t *testing.T) {
	now := time.Date(2026, 2, 22, 9, 0, 0, 0, time.UTC)
	s, _ := newTestScheduler(t, now, NewMemoryStore(), 5)

	p := Policy{
		Window: &DailyWindow{
			Start:    10 * time.Hour,
			End:      10*time.Hour + 5*time.Minute,
			Location: time.UTC,
		},
		MaxJitter: 10 * time.Minute,
	}

	got, err := s.NextRunAt(context.Background(), "k", time.Time{}, p)
	if err != nil {
		t.Fatalf("NextRunAt() error: %v", err)
	}

	windowStart := time.Date(2026, 2, 22, 10, 0, 0, 0, time.UTC)
	windowEnd := time.Date(2026, 2, 22, 10, 5, 0, 0, time.UTC)
	if got.Before(windowStart) || got.After(windowEnd) {
		t.Fatalf("jittered time %v outside [%v, %v]", got, windowStart, windowEnd)
	}
}

func TestNextRunAtFollowsCronSchedule(t *testing.T) {
	now := time.Date(2026, 2, 22, 9, 7, 30, 0, time.UTC)
	s, _ := newTestScheduler(t, now, NewMemoryStore(), 6)

	p := Policy{Schedule: "*/15 * * * *"}
	first, err := s.NextRunAt(context.Background(), "report", time.Time{}, p)
	if err != nil {
		t.Fatalf("NextRunAt() error: %v", err)
	}
	if want := time.Date(2026, 2, 22, 9, 15, 0, 0, time.UTC); !first.Equal(want) {
		t.Fatalf("first = %v, want %v", first, want)
	}

	p.MinGap = time.Minute
	second, err := s.NextRunAt(context.Background(), "report", time.Time{}, p)
	if err != nil {
		t.Fatalf("NextRunAt() error: %v", err)
	}
	if want := time.Date(2026, 2, 22, 9, 30, 0, 0, time.UTC); !second.Equal(want) {
		t.Fatalf("second = %v, want %v", second, want)
	}
}

func TestNextRunAtKeepsTimeOnSchedule(t *testing.T) {
	now := time.Date(2026, 2, 22, 9, 15, 0, 0, time.UTC)
	s, _ := newTestScheduler(t, now, NewMemoryStore(), 7)

	got, err := s.NextRunAt(context.Background(), "k", time.Time{}, Policy{Schedule: "*/15 * * * *"})
	if err != nil {
		t.Fatalf("NextRunAt() error: %v", err)
	}
	if !got.Equal(now) {
		t.Fatalf("got %v, want %v", got, now)
	}
}

func TestNextRunAtValidation(t *testing.T) {
	now := time.Date(2026, 2, 22, 9, 0, 0, 0, time.UTC)
	s, _ := newTestScheduler(t, now, NewMemoryStore(), 8)
	ctx := context.Background()

	tests := []struct {
		name   string
		key    string
		policy Policy
		want   error
	}{
		{"empty key", " ", Policy{}, ErrEmptyJobKey},
		{"negative gap", "k", Policy{MinGap: -time.Second}, ErrNegativeMinGap},
		{"negative jitter", "k", Policy{MaxJitter: -time.Second}, ErrNegativeJitter},
		{"nil location", "k", Policy{Window: &DailyWindow{Start: 0, End: time.Hour}}, ErrNilLocation},
		{"inverted window", "k", Policy{Window: &DailyWindow{Start: 2 * time.Hour, End: time.Hour, Location: time.UTC}}, ErrInvalidWindow},
		{"bad cron", "k", Policy{Schedule: "every tuesday"}, ErrInvalidSchedule},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.NextRunAt(ctx, tt.key, time.Time{}, tt.policy); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestPushUsesComputedRunAt(t *testing.T) {
	now := time.Date(2026, 2, 22, 9, 0, 0, 0, time.UTC)
	s, pusher := newTestScheduler(t, now, NewMemoryStore(), 9)

	id, runAt, err := s.Push(context.Background(), PushRequest{
		QueueName: "work",
		JobKey:    "acct-42",
		Payload:   []byte(`{"x":"1"}`),
		Policy: Policy{
			Window: &DailyWindow{Start: 10 * time.Hour, End: 16 * time.Hour, Location: time.UTC},
		},
		Options: []docqueue.PushOption{docqueue.WithDelay(time.Hour)},
	})
	if err != nil {
		t.Fatalf("Push() error: %v", err)
	}
	if id != "job-123" {
		t.Fatalf("id = %q, want %q", id, "job-123")
	}

	wantRunAt := time.Date(2026, 2, 22, 10, 0, 0, 0, time.UTC)
	if !runAt.Equal(wantRunAt) {
		t.Fatalf("runAt = %v, want %v", runAt, wantRunAt)
	}
	if pusher.queueName != "work" {
		t.Fatalf("queueName = %q, want %q", pusher.queueName, "work")
	}
	if !pusher.options.AvailableAt.Equal(wantRunAt) {
		t.Fatalf("AvailableAt = %v, want %v", pusher.options.AvailableAt, wantRunAt)
	}
	if pusher.options.Delay != time.Hour {
		t.Fatalf("caller options were dropped: %+v", pusher.options)
	}
}

func TestPushRejectsNilPayload(t *testing.T) {
	s, _ := newTestScheduler(t, time.Now(), NewMemoryStore(), 10)

	if _, _, err := s.Push(context.Background(), PushRequest{JobKey: "k"}); !errors.Is(err, ErrNilPayload) {
		t.Fatalf("err = %v, want ErrNilPayload", err)
	}
}

func TestPushWrapsQueueErrors(t *testing.T) {
	s, pusher := newTestScheduler(t, time.Now(), NewMemoryStore(), 11)
	pusher.err = errors.New("store down")

	_, _, err := s.Push(context.Background(), PushRequest{JobKey: "k", Payload: []byte("x")})
	if !errors.Is(err, pusher.err) {
		t.Fatalf("err = %v, want wrapped store error", err)
	}
}

func TestPushedJobBecomesClaimableAtRunAt(t *testing.T) {
	now := time.Date(2026, 2, 22, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	client := docqueue.New(memstore.NewCollection(), docqueue.DefaultConfig(), docqueue.WithClock(clock))

	s, err := New(client, NewMemoryStore(), WithClock(clock))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	p := Policy{MinGap: 10 * time.Minute}
	for i := 0; i < 2; i++ {
		if _, _, err := s.Push(context.Background(), PushRequest{JobKey: "acct", Payload: []byte("x"), Policy: p}); err != nil {
			t.Fatalf("Push() error: %v", err)
		}
	}

	claim, err := client.Pop(context.Background(), "")
	if err != nil || claim.Empty() {
		t.Fatalf("expected the first job to be claimable now: claim=%v err=%v", claim, err)
	}
	claim, err = client.Pop(context.Background(), "")
	if err != nil || !claim.Empty() {
		t.Fatalf("second job should wait for the gap: claim=%v err=%v", claim, err)
	}

	now = now.Add(10 * time.Minute)
	claim, err = client.Pop(context.Background(), "")
	if err != nil || claim.Empty() {
		t.Fatalf("expected the second job after the gap: claim=%v err=%v", claim, err)
	}
}

func TestMemoryStoreHonorsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMemoryStore().Update(ctx, "k", func(time.Time, bool) (time.Time, error) {
		t.Fatal("fn must not run")
		return time.Time{}, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
