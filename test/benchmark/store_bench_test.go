package benchmark

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/TheMichaelB/fieldsync/internal/models"
	"github.com/TheMichaelB/fieldsync/internal/services/assessments"
	"github.com/TheMichaelB/fieldsync/internal/store"
	"github.com/TheMichaelB/fieldsync/test/testutil"
)

func BenchmarkEnqueueTask(b *testing.B) {
	st := testutil.NewTestStore(b)
	ctx := context.Background()
	payload := json.RawMessage(`{"tab":"notes","data":{"text":"rear bumper scuffed"}}`)

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_, err := st.EnqueueTask(ctx, &models.QueueItem{
			ID:            fmt.Sprintf("item-%d", i),
			Type:          models.QueueAssessment,
			EntityID:      fmt.Sprintf("A%d", i),
			Action:        models.ActionUpdate,
			Discriminator: string(models.TabNotes),
			Payload:       payload,
			MaxAttempts:   3,
			CreatedAt:     time.Now(),
			Priority:      models.PriorityHigh,
		})
		if err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkEnqueueDedup measures repeated edits of one tab, which replace
// the pending item in place.
func BenchmarkEnqueueDedup(b *testing.B) {
	st := testutil.NewTestStore(b)
	ctx := context.Background()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_, err := st.EnqueueTask(ctx, &models.QueueItem{
			ID:            fmt.Sprintf("item-%d", i),
			Type:          models.QueueAssessment,
			EntityID:      "A1",
			Action:        models.ActionUpdate,
			Discriminator: string(models.TabNotes),
			Payload:       json.RawMessage(fmt.Sprintf(`{"tab":"notes","data":{"rev":%d}}`, i)),
			MaxAttempts:   3,
			CreatedAt:     time.Now(),
			Priority:      models.PriorityHigh,
		})
		if err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkListPending(b *testing.B) {
	sizes := []int{10, 100, 1000}

	for _, size := range sizes {
		b.Run(fmt.Sprintf("%dItems", size), func(b *testing.B) {
			st := testutil.NewTestStore(b)
			ctx := context.Background()

			for i := 0; i < size; i++ {
				_, err := st.EnqueueTask(ctx, &models.QueueItem{
					ID:            fmt.Sprintf("item-%d", i),
					Type:          models.QueueAssessment,
					EntityID:      fmt.Sprintf("A%d", i),
					Action:        models.ActionUpdate,
					Discriminator: string(models.TabNotes),
					Payload:       json.RawMessage(`{"tab":"notes","data":{}}`),
					MaxAttempts:   3,
					CreatedAt:     time.Now(),
					Priority:      []int{models.PriorityHigh, models.PriorityNormal, models.PriorityLow}[i%3],
				})
				if err != nil {
					b.Fatal(err)
				}
			}

			filter := store.TaskFilter{Statuses: []models.QueueStatus{models.QueuePending}}

			b.ResetTimer()
			b.ReportAllocs()

			for i := 0; i < b.N; i++ {
				items, err := st.ListTasks(ctx, filter)
				if err != nil {
					b.Fatal(err)
				}
				if len(items) != size {
					b.Fatalf("listed %d items, want %d", len(items), size)
				}
			}
		})
	}
}

func BenchmarkSaveLocal(b *testing.B) {
	st := testutil.NewTestStore(b)
	cache := assessments.NewCache(st, 3, testutil.NewTestLogger())
	ctx := context.Background()

	tabs := []models.Tab{models.TabNotes, models.TabDamage, models.TabTyres, models.TabMileage}
	data := testutil.DamageTab{Panels: []string{"front-left", "bonnet"}, Severity: "moderate"}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		id := fmt.Sprintf("A%d", i%50)
		if _, err := cache.SaveLocal(ctx, id, tabs[i%len(tabs)], data); err != nil {
			b.Fatal(err)
		}
	}
}
