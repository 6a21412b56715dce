package queue

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"trainsync/internal/alert"
	"trainsync/internal/sync/metrics"
	"trainsync/internal/sync/models"
)

type recordingAlerter struct {
	summaries []string
}

func (r *recordingAlerter) Emit(ctx context.Context, summary, detail string) {
	r.summaries = append(r.summaries, summary)
}

func newTestQueue(alerter alert.Alerter) *Queue {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(metrics.NewForTesting(), alerter, log)
}

func TestEnqueueDecodesBatch(t *testing.T) {
	q := newTestQueue(alert.Noop{})

	q.Enqueue(context.Background(),
		`[{"first_name":"Ana","last_name":"Silva","upload_info":{"uploader":"ops@example.com","position":1,"max":1,"file_name":"u.csv","upload_type":"student"}}]`)

	select {
	case batch := <-q.Inbox():
		require.Len(t, batch, 1)
		require.Equal(t, "Ana", batch[0].FirstName)
		require.Equal(t, models.UploadStudent, batch[0].UploadInfo.UploadType)
	default:
		t.Fatal("batch not enqueued")
	}
}

func TestEnqueueSkipsGarbledPayload(t *testing.T) {
	alerter := &recordingAlerter{}
	q := newTestQueue(alerter)
	ctx := context.Background()

	q.Enqueue(ctx, `{not json`)
	// A later well-formed batch still goes through.
	q.Enqueue(ctx, `[{"first_name":"Ben","last_name":"Okafor","upload_info":{"position":1,"max":1,"upload_type":"certificate"}}]`)

	require.Equal(t, []string{"Failed to load upload batch"}, alerter.summaries)
	select {
	case batch := <-q.Inbox():
		require.Equal(t, "Ben", batch[0].FirstName)
	default:
		t.Fatal("valid batch after garbled payload not enqueued")
	}
	select {
	case <-q.Inbox():
		t.Fatal("garbled payload reached the inbox")
	default:
	}
}

func TestEnqueueDropsEmptyPayloads(t *testing.T) {
	q := newTestQueue(alert.Noop{})
	ctx := context.Background()

	q.Enqueue(ctx, "")
	q.Enqueue(ctx, "[]")

	select {
	case <-q.Inbox():
		t.Fatal("empty payload reached the inbox")
	default:
	}
}
