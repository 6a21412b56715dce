//go:build integration

package queue_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"trainsync/internal/alert"
	"trainsync/internal/platform/config"
	"trainsync/internal/platform/redis"
	"trainsync/internal/sync/metrics"
	"trainsync/internal/sync/models"
	"trainsync/internal/sync/queue"
	"trainsync/pkg/testutil/containers"
)

func TestSubscribeDeliversPublishedBatches(t *testing.T) {
	rc := containers.NewRedisContainer(t)

	client, err := redis.New(config.RedisConfig{
		URL:          rc.URL,
		PoolSize:     4,
		MinIdleConns: 1,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	require.NoError(t, err)
	defer client.Close()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	q := queue.New(metrics.NewForTesting(), alert.Noop{}, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = q.Subscribe(ctx, client, "training_connect_queue") }()

	batch := models.BatchMessage{{
		FirstName: "Ana",
		LastName:  "Silva",
		UploadInfo: models.UploadInfo{
			Uploader:   "ops@example.com",
			Position:   1,
			Max:        1,
			FileName:   "upload.csv",
			UploadType: models.UploadStudent,
		},
	}}
	payload, err := json.Marshal(batch)
	require.NoError(t, err)

	var got models.BatchMessage
	require.Eventually(t, func() bool {
		// Re-publish until the subscription is live; pub/sub has no backlog.
		require.NoError(t, rc.Client.Publish(ctx, "training_connect_queue", payload).Err())
		select {
		case got = <-q.Inbox():
			return true
		default:
			return false
		}
	}, 10*time.Second, 100*time.Millisecond)

	require.Len(t, got, 1)
	require.Equal(t, "Ana", got[0].FirstName)
	require.Equal(t, models.UploadStudent, got[0].UploadInfo.UploadType)
}
