package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"reflect"
	"sync"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/dtn7/web-activities/pkg/activity"
)

type storeFactory func(t *testing.T) ResultStore

func factories() map[string]storeFactory {
	factories := map[string]storeFactory{
		"memory": func(t *testing.T) ResultStore {
			return NewMemoryStore()
		},
		"badger": func(t *testing.T) ResultStore {
			store, err := NewBadgerStore(t.TempDir())
			if err != nil {
				t.Fatal(err)
			}
			return store
		},
	}

	// Redis is only exercised against a running server.
	if addr := os.Getenv("ACTIVITIES_TEST_REDIS"); addr != "" {
		factories["redis"] = func(t *testing.T) ResultStore {
			store := NewRedisStore(addr)
			if err := store.Ping(context.Background()); err != nil {
				t.Skipf("redis at %v unavailable: %v", addr, err)
			}
			return store
		}
	}
	return factories
}

func forEachStore(t *testing.T, test func(t *testing.T, store ResultStore)) {
	for name, factory := range factories() {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			defer func() {
				if err := store.Close(); err != nil {
					t.Fatal(err)
				}
			}()
			test(t, store)
		})
	}
}

func generateRecord(t *rapid.T) *Record {
	code := rapid.SampledFrom([]activity.ResultCode{activity.ResultOK, activity.ResultCanceled, activity.ResultFailed}).Draw(t, "code")
	value := rapid.StringMatching(`[a-z ]{0,16}`).Draw(t, "value")
	data, err := json.Marshal(value)
	if err != nil {
		t.Fatal(err)
	}

	result := activity.NewResult(code, data, activity.Source{
		Mode:           rapid.SampledFrom([]activity.Mode{activity.ModeIframe, activity.ModePopup, activity.ModeRedirect}).Draw(t, "mode"),
		Origin:         "https://" + rapid.StringMatching(`[a-z]{1,10}`).Draw(t, "host") + ".example",
		OriginVerified: rapid.Bool().Draw(t, "verified"),
		SecureChannel:  rapid.Bool().Draw(t, "secure"),
	})
	return NewRecord(rapid.StringMatching(`[a-z0-9]{8}`).Draw(t, "requestID"), result, 0)
}

func TestPutTake(t *testing.T) {
	forEachStore(t, func(t *testing.T, store ResultStore) {
		ctx := context.Background()
		iteration := 0

		rapid.Check(t, func(t *rapid.T) {
			record := generateRecord(t)
			iteration++
			record.RequestID = fmt.Sprintf("%s-%d", record.RequestID, iteration)

			if err := store.Put(ctx, record); err != nil {
				t.Fatal(err)
			}

			var alreadyBuffered *AlreadyBufferedError
			if err := store.Put(ctx, record); !errors.As(err, &alreadyBuffered) {
				t.Fatalf("Second Put returned %v", err)
			}

			taken, err := store.Take(ctx, record.RequestID)
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(record, taken) {
				t.Fatalf("Taken record %v differs from %v", taken, record)
			}

			var noSuchResult *NoSuchResultError
			if _, err := store.Take(ctx, record.RequestID); !errors.As(err, &noSuchResult) {
				t.Fatalf("Second Take returned %v", err)
			}
		})
	})
}

func TestTakeAtMostOnce(t *testing.T) {
	forEachStore(t, func(t *testing.T, store ResultStore) {
		ctx := context.Background()
		result := activity.NewResult(activity.ResultOK, json.RawMessage(`1`), activity.Source{Mode: activity.ModePopup})
		if err := store.Put(ctx, NewRecord("contended", result, time.Minute)); err != nil {
			t.Fatal(err)
		}

		var wg sync.WaitGroup
		var winsMutex sync.Mutex
		wins := 0
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := store.Take(ctx, "contended"); err == nil {
					winsMutex.Lock()
					wins++
					winsMutex.Unlock()
				}
			}()
		}
		wg.Wait()

		if wins != 1 {
			t.Fatalf("Record was taken %d times", wins)
		}
	})
}

func TestSweep(t *testing.T) {
	for name, factory := range factories() {
		if name == "redis" {
			continue
		}

		t.Run(name, func(t *testing.T) {
			store := factory(t)
			defer store.Close()
			ctx := context.Background()
			result := activity.NewResult(activity.ResultCanceled, nil, activity.Source{})

			for i := 0; i < 3; i++ {
				record := NewRecord(fmt.Sprintf("expiring-%d", i), result, time.Millisecond)
				if err := store.Put(ctx, record); err != nil {
					t.Fatal(err)
				}
			}
			if err := store.Put(ctx, NewRecord("forever", result, 0)); err != nil {
				t.Fatal(err)
			}
			if err := store.Put(ctx, NewRecord("later", result, time.Hour)); err != nil {
				t.Fatal(err)
			}

			swept, err := store.Sweep(ctx, time.Now().Add(time.Minute))
			if err != nil {
				t.Fatal(err)
			}
			if swept != 3 {
				t.Fatalf("Swept %d records, expected 3", swept)
			}

			for _, requestID := range []string{"forever", "later"} {
				if _, err := store.Take(ctx, requestID); err != nil {
					t.Fatalf("%v: %v", requestID, err)
				}
			}
		})
	}
}

func TestExpiredRecordIsNotTaken(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	result := activity.NewResult(activity.ResultOK, json.RawMessage(`"late"`), activity.Source{})

	record := NewRecord("expired", result, time.Nanosecond)
	record.ExpiresAt = time.Now().Add(-time.Second).UnixNano()
	if err := store.Put(ctx, record); err != nil {
		t.Fatal(err)
	}

	var noSuchResult *NoSuchResultError
	if _, err := store.Take(ctx, "expired"); !errors.As(err, &noSuchResult) {
		t.Fatalf("Take returned %v", err)
	}
	if store.Len() != 0 {
		t.Fatal("Expired record was not removed")
	}
}

func TestRecordRebuildsResult(t *testing.T) {
	source := activity.Source{Mode: activity.ModeRedirect, Origin: "https://host.example"}

	failed := NewRecord("failed", activity.NewResult(activity.ResultFailed, json.RawMessage(`"no x"`), source), 0).Result()
	if failed.Err() == nil || failed.Err().Error() != "no x" {
		t.Fatalf("Failed result rebuilt as %v", failed)
	}
	if failed.Origin() != "https://host.example" || failed.Mode() != activity.ModeRedirect {
		t.Fatalf("Source lost: %v", failed.Source())
	}

	ok := NewRecord("ok", activity.NewResult(activity.ResultOK, json.RawMessage(`{"a":1}`), source), 0).Result()
	if !ok.OK() || string(ok.Data()) != `{"a":1}` {
		t.Fatalf("OK result rebuilt as %v", ok)
	}
}

func TestSweeper(t *testing.T) {
	store := NewMemoryStore()
	result := activity.NewResult(activity.ResultCanceled, nil, activity.Source{})
	if err := store.Put(context.Background(), NewRecord("short", result, time.Millisecond)); err != nil {
		t.Fatal(err)
	}

	sweeper, err := NewSweeper(store, 10*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	defer sweeper.Shutdown()

	deadline := time.Now().Add(2 * time.Second)
	for store.Len() > 0 {
		if time.Now().After(deadline) {
			t.Fatal("Sweeper did not remove the expired record")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
