package benchmark

import (
	"context"
	"fmt"
	"testing"

	"github.com/TheMichaelB/fieldsync/internal/models"
	"github.com/TheMichaelB/fieldsync/internal/services/assessments"
	"github.com/TheMichaelB/fieldsync/internal/services/photos"
	"github.com/TheMichaelB/fieldsync/internal/services/sync"
	"github.com/TheMichaelB/fieldsync/internal/transport"
	"github.com/TheMichaelB/fieldsync/test/testutil"
)

func BenchmarkDrain(b *testing.B) {
	itemCounts := []int{10, 100, 500}

	for _, count := range itemCounts {
		b.Run(fmt.Sprintf("%dItems", count), func(b *testing.B) {
			logger := testutil.NewTestLogger()
			st := testutil.NewTestStore(b)
			cache := assessments.NewCache(st, 3, logger)
			svc := photos.NewService(st, photos.Options{TempDir: b.TempDir()}, logger)
			manager := sync.NewManager(st, cache, svc, testutil.NewMonitor(true), sync.Options{}, logger)
			manager.AttachRemote(transport.NewMockRemote())
			ctx := context.Background()

			b.ResetTimer()
			b.ReportAllocs()

			for i := 0; i < b.N; i++ {
				b.StopTimer()
				for j := 0; j < count; j++ {
					id := fmt.Sprintf("A%d", j)
					if _, err := cache.SaveLocal(ctx, id, models.TabNotes, testutil.NotesTab{Text: id}); err != nil {
						b.Fatal(err)
					}
				}
				b.StartTimer()

				result, err := manager.ForceSyncNow(ctx)
				if err != nil {
					b.Fatal(err)
				}
				if result.Succeeded != count {
					b.Fatalf("synced %d items, want %d", result.Succeeded, count)
				}
			}
		})
	}
}
