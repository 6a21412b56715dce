// Package report accumulates per-item outcomes for one batch and fires the
// batch's single submitter notification when the last item lands.
package report

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"trainsync/internal/alert"
	"trainsync/internal/sync/metrics"
	"trainsync/internal/sync/models"
	"trainsync/pkg/randcode"
)

// Artifact is one rendered certificate tagged with the outcome of its item.
// Only failed-tagged artifacts are bundled: they are the ones the submitter
// must upload manually.
type Artifact struct {
	Record models.Record
	Image  []byte
	Failed bool
}

// Accumulator is the only mutable state shared across the items of a batch.
// It is owned by exactly one batch at a time and must never leak into the
// next one.
type Accumulator struct {
	uploader   string
	fileName   string
	uploadType models.UploadType
	expected   int

	outcomes  []models.Outcome
	artifacts []Artifact
}

func NewAccumulator(info models.UploadInfo) *Accumulator {
	return &Accumulator{
		uploader:   info.Uploader,
		fileName:   info.FileName,
		uploadType: info.UploadType,
		expected:   info.Max,
	}
}

// AddOutcome records one item's terminal state.
func (a *Accumulator) AddOutcome(o models.Outcome) {
	a.outcomes = append(a.outcomes, o)
}

// AddArtifact records one rendered certificate.
func (a *Accumulator) AddArtifact(art Artifact) {
	a.artifacts = append(a.artifacts, art)
}

// Failures returns the outcomes flagged failed, in item order.
func (a *Accumulator) Failures() []models.Outcome {
	var failed []models.Outcome
	for _, o := range a.outcomes {
		if o.Failed {
			failed = append(failed, o)
		}
	}
	return failed
}

// Outcomes returns everything recorded so far.
func (a *Accumulator) Outcomes() []models.Outcome {
	return a.outcomes
}

// Reset empties the accumulator so nothing crosses into the next batch.
func (a *Accumulator) Reset() {
	a.outcomes = nil
	a.artifacts = nil
	a.uploader = ""
	a.fileName = ""
}

// BatchNotifier delivers the end-of-batch messages.
type BatchNotifier interface {
	CertificateBatchReport(ctx context.Context, uploader string, failures []models.Outcome, fileName string, bundle []byte) error
	StudentBatchReport(ctx context.Context, uploader string, failures []models.Outcome, fileName string) error
}

// Reporter fires exactly one notification per completed batch. Delivery
// failure is logged and alerted but never re-opens the batch.
type Reporter struct {
	notifier BatchNotifier
	alerter  alert.Alerter
	metrics  *metrics.Metrics
	log      *slog.Logger
}

func NewReporter(notifier BatchNotifier, alerter alert.Alerter, m *metrics.Metrics, log *slog.Logger) *Reporter {
	return &Reporter{notifier: notifier, alerter: alerter, metrics: m, log: log}
}

// Report sends the batch's single notification and clears the accumulator.
func (r *Reporter) Report(ctx context.Context, acc *Accumulator) {
	defer acc.Reset()

	failures := acc.Failures()

	var err error
	switch acc.uploadType {
	case models.UploadCertificate:
		var bundle []byte
		bundle, err = buildBundle(acc.artifacts)
		if err != nil {
			r.log.Error("artifact bundle not built", "error", err)
			r.alerter.Emit(ctx, "Failed to bundle certificate artifacts", err.Error())
			bundle = nil
		}
		err = r.notifier.CertificateBatchReport(ctx, acc.uploader, failures, acc.fileName, bundle)
	default:
		err = r.notifier.StudentBatchReport(ctx, acc.uploader, failures, acc.fileName)
	}

	if err != nil {
		r.metrics.NotificationsSent.WithLabelValues("failed").Inc()
		r.log.Error("batch notification not delivered", "uploader", acc.uploader, "error", err)
		r.alerter.Emit(ctx, "An error occured while sending failed notification", err.Error())
		return
	}
	r.metrics.NotificationsSent.WithLabelValues("sent").Inc()
	r.log.Info("batch reported",
		"uploader", acc.uploader,
		"failures", len(failures),
		"expected", acc.expected,
	)
}

// buildBundle zips the failed-tagged renders as {FullName}_{rand4}.png.
func buildBundle(artifacts []Artifact) ([]byte, error) {
	var failed []Artifact
	for _, a := range artifacts {
		if a.Failed {
			failed = append(failed, a)
		}
	}
	if len(failed) == 0 {
		return nil, nil
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, a := range failed {
		name := fmt.Sprintf("%s_%s.png", a.Record.FullName(), randcode.New(4))
		w, err := zw.Create(name)
		if err != nil {
			return nil, fmt.Errorf("create zip entry %s: %w", name, err)
		}
		if _, err := w.Write(a.Image); err != nil {
			return nil, fmt.Errorf("write zip entry %s: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finalize bundle: %w", err)
	}
	return buf.Bytes(), nil
}
