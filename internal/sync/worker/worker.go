// Package worker drains upload batches from the queue and drives each record
// through the external registry: lookup, match, create or annotate, and the
// end-of-batch report. Batches are processed strictly one at a time because
// the registry session is a stateful browser page.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"trainsync/internal/alert"
	"trainsync/internal/certificate"
	"trainsync/internal/registry"
	"trainsync/internal/sync/match"
	"trainsync/internal/sync/metrics"
	"trainsync/internal/sync/models"
	"trainsync/internal/sync/report"
)

// maxAttempts bounds the per-item retry loop. Each retry tears the registry
// session down and reopens it, so the cost of an attempt is a full login.
const maxAttempts = 5

const defaultHeadshot = "default_headshot.jpg"

// CertificateIssuer is what the worker needs from the certificate service.
type CertificateIssuer interface {
	IssueImported(ctx context.Context, rec models.Record) (certificate.Rendered, error)
}

// Worker is the batch consumer. One Worker owns at most one registry session
// at a time; Run must not be called concurrently.
type Worker struct {
	inbox       <-chan models.BatchMessage
	dialer      registry.Dialer
	certs       CertificateIssuer
	reporter    *report.Reporter
	alerter     alert.Alerter
	metrics     *metrics.Metrics
	log         *slog.Logger
	tracer      trace.Tracer
	headshotDir string
}

type Option func(*Worker)

func WithLogger(log *slog.Logger) Option {
	return func(w *Worker) { w.log = log }
}

// WithHeadshotDir sets the directory resolved against record headshot file
// names during student creation.
func WithHeadshotDir(dir string) Option {
	return func(w *Worker) { w.headshotDir = dir }
}

func New(
	inbox <-chan models.BatchMessage,
	dialer registry.Dialer,
	certs CertificateIssuer,
	reporter *report.Reporter,
	alerter alert.Alerter,
	m *metrics.Metrics,
	opts ...Option,
) (*Worker, error) {
	if inbox == nil {
		return nil, errors.New("inbox is required")
	}
	if dialer == nil {
		return nil, errors.New("registry dialer is required")
	}
	if certs == nil {
		return nil, errors.New("certificate issuer is required")
	}
	if reporter == nil {
		return nil, errors.New("reporter is required")
	}
	if alerter == nil {
		return nil, errors.New("alerter is required")
	}
	if m == nil {
		return nil, errors.New("metrics are required")
	}
	w := &Worker{
		inbox:    inbox,
		dialer:   dialer,
		certs:    certs,
		reporter: reporter,
		alerter:  alerter,
		metrics:  m,
		log:      slog.Default(),
		tracer:   otel.Tracer("trainsync/sync/worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Run consumes batches until the context is canceled or the inbox closes.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("registry sync worker started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch, ok := <-w.inbox:
			if !ok {
				return nil
			}
			w.processBatch(ctx, batch)
		}
	}
}

// batchContext is everything a batch owns: the registry session and the
// outcome accumulator. It is created when a batch begins and discarded when
// it ends; nothing in it survives into the next batch.
type batchContext struct {
	session  registry.Session
	acc      *report.Accumulator
	reported bool
}

func (w *Worker) processBatch(ctx context.Context, batch models.BatchMessage) {
	info := batch[0].UploadInfo
	ctx, span := w.tracer.Start(ctx, "worker.processBatch", trace.WithAttributes(
		attribute.Int("batch.size", len(batch)),
		attribute.String("batch.upload_type", string(info.UploadType)),
		attribute.String("batch.file_name", info.FileName),
	))
	defer span.End()

	bc := &batchContext{}
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("batch processing panicked", "panic", r, "file", info.FileName)
			w.alerter.Emit(ctx, "Failure in registry sync", fmt.Sprint(r))
		}
		// The last record's position metadata normally triggers this; running
		// it again is a no-op, running it for the first time means the
		// metadata was off and the submitter still gets their report.
		w.finishBatch(ctx, bc)
	}()

	for _, rec := range batch {
		w.processItem(ctx, bc, rec)
		if rec.UploadInfo.Position == rec.UploadInfo.Max {
			w.finishBatch(ctx, bc)
		}
	}
	w.metrics.BatchesProcessed.Inc()
}

// finishBatch fires the batch report exactly once and always closes the
// session, no matter how the items went.
func (w *Worker) finishBatch(ctx context.Context, bc *batchContext) {
	if bc.acc != nil && !bc.reported {
		w.reporter.Report(ctx, bc.acc)
		bc.reported = true
	}
	w.closeSession(ctx, bc)
}

func (w *Worker) processItem(ctx context.Context, bc *batchContext, rec models.Record) {
	info := rec.UploadInfo
	ctx, span := w.tracer.Start(ctx, "worker.processItem", trace.WithAttributes(
		attribute.Int("item.position", info.Position),
		attribute.String("item.upload_type", string(info.UploadType)),
	))
	defer span.End()

	if bc.acc == nil {
		bc.acc = report.NewAccumulator(info)
	}
	job := jobFor(info.UploadType)

	if reason := job.Validate(rec); reason != "" {
		w.fail(ctx, bc, rec, job, reason, nil)
		return
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			w.metrics.ItemRetries.Inc()
			w.restartSession(ctx, bc)
			w.log.Warn("retrying item after registry failure",
				"student", rec.FullName(),
				"attempt", attempt,
				"error", lastErr,
			)
		}
		lastErr = w.runItem(ctx, bc, rec, job)
		if lastErr == nil {
			return
		}
		span.RecordError(lastErr)
		if ctx.Err() != nil {
			break
		}
	}

	w.log.Error("item abandoned after repeated registry failures",
		"student", rec.FullName(),
		"error", lastErr,
	)
	w.alerter.Emit(ctx, "Final retry reached while doing lookup", lastErr.Error())
	w.fail(ctx, bc, rec, job, "Unable to do lookup on user.", nil)
}

// runItem performs one attempt at a record. A nil return means the record
// reached a terminal outcome (recorded in the accumulator); a non-nil error
// is a transient automation failure worth a session restart and retry.
func (w *Worker) runItem(ctx context.Context, bc *batchContext, rec models.Record, job uploadJob) error {
	s, err := w.session(ctx, bc)
	if err != nil {
		return err
	}

	// Certificate rows may carry a precise external identifier; those skip
	// name disambiguation entirely. Student rows always take the name search
	// so duplicates are caught before creation.
	if job.Kind() == models.UploadCertificate {
		switch {
		case rec.CardID != "":
			url, err := s.LookupByCard(ctx, rec.CardID)
			if errors.Is(err, registry.ErrNoResults) {
				w.fail(ctx, bc, rec, job, "An error occured while adding certificate, please manually upload.", nil)
				return nil
			}
			if err != nil {
				return err
			}
			return w.attachCertificate(ctx, bc, rec, job, url)
		case rec.SafetyAgencyID != "":
			url, err := s.LookupByAgency(ctx, rec.SafetyAgencyID)
			if errors.Is(err, registry.ErrNoResults) {
				w.fail(ctx, bc, rec, job, "An error occured while adding certificate, please manually upload.", nil)
				return nil
			}
			if err != nil {
				return err
			}
			return w.attachCertificate(ctx, bc, rec, job, url)
		case rec.KnownStudent:
			urls, total, err := s.DashboardSearch(ctx, rec.FirstName, rec.LastName)
			if errors.Is(err, registry.ErrNoResults) {
				w.fail(ctx, bc, rec, job, "No user found in Training Connect.", nil)
				return nil
			}
			if err != nil {
				return err
			}
			return w.disambiguate(ctx, bc, rec, job, urls, total,
				"Skipped because there are too many users to check.")
		}
	}

	urls, total, err := s.LookupByName(ctx, rec.FirstName, rec.LastName)
	if errors.Is(err, registry.ErrNoResults) {
		if job.Kind() == models.UploadStudent {
			return w.createStudent(ctx, bc, rec, job)
		}
		w.fail(ctx, bc, rec, job, "No users found when doing look up", nil)
		return nil
	}
	if err != nil {
		return err
	}
	return w.disambiguate(ctx, bc, rec, job, urls, total,
		"Skipped because there are too many users to check for matches.")
}

// disambiguate walks the candidate profiles looking for one that agrees with
// the record on enough contact fields. The first acceptable candidate wins.
func (w *Worker) disambiguate(
	ctx context.Context,
	bc *batchContext,
	rec models.Record,
	job uploadJob,
	urls []string,
	total int,
	tooManyReason string,
) error {
	if total > match.MaxCandidates {
		w.fail(ctx, bc, rec, job, tooManyReason, nil)
		return nil
	}

	sole := total == 1
	for _, url := range urls {
		fields, err := bc.session.ReadProfileFields(ctx, url)
		if err != nil {
			return err
		}
		cand := match.Candidate{
			ProfileURL: url,
			Phone:      fields.Phone,
			Email:      fields.Email,
			BirthDate:  fields.BirthDate,
		}
		if !match.Accept(rec, cand, sole) {
			continue
		}
		if job.Kind() == models.UploadCertificate {
			return w.attachCertificate(ctx, bc, rec, job, url)
		}
		w.fail(ctx, bc, rec, job, "User already exists", nil)
		return nil
	}

	if job.Kind() == models.UploadStudent {
		return w.createStudent(ctx, bc, rec, job)
	}
	w.fail(ctx, bc, rec, job, "Could not match email, phone number or birthdate.", nil)
	return nil
}

func (w *Worker) createStudent(ctx context.Context, bc *batchContext, rec models.Record, job uploadJob) error {
	headshot := rec.HeadShot
	if headshot == "" {
		headshot = defaultHeadshot
	}

	res, err := bc.session.SubmitCreateStudent(ctx, rec, filepath.Join(w.headshotDir, headshot))
	if err != nil {
		return err
	}
	if res.ValidationError != "" {
		w.log.Warn("registry rejected student creation",
			"student", rec.FullName(),
			"error", res.ValidationError,
		)
		w.fail(ctx, bc, rec, job, "An error occured while creating the user, please manually create.", nil)
		return nil
	}

	bc.acc.AddOutcome(models.Outcome{Record: rec})
	w.metrics.ItemsProcessed.WithLabelValues("created").Inc()
	w.log.Info("student created", "student", rec.FullName())
	return nil
}

// attachCertificate renders the certificate, adds the student to the course
// provider when the profile offers it, and submits the certificate form.
func (w *Worker) attachCertificate(
	ctx context.Context,
	bc *batchContext,
	rec models.Record,
	job uploadJob,
	profileURL string,
) error {
	if err := bc.session.AddToProviderIfOffered(ctx, profileURL); err != nil {
		return err
	}

	rendered, err := w.certs.IssueImported(ctx, rec)
	if err != nil {
		w.log.Error("certificate not rendered", "student", rec.FullName(), "error", err)
		w.alerter.Emit(ctx, "Failed to generate certificate", err.Error())
		bc.acc.AddOutcome(models.Outcome{
			Record: rec,
			Failed: true,
			Reason: "An error occured while adding certificate, please manually upload.",
		})
		w.metrics.ItemsProcessed.WithLabelValues("failed").Inc()
		return nil
	}
	w.metrics.CertificatesRendered.Inc()

	imgPath, cleanup, err := writeTempImage(rendered.Image)
	if err != nil {
		return err
	}
	defer cleanup()

	courseFound, err := bc.session.SubmitAddCertificate(ctx, rec, profileURL, imgPath)
	if err != nil {
		return err
	}
	if !courseFound {
		w.fail(ctx, bc, rec, job, "Tried to add certificate for an incorrect course name.", &rendered)
		return nil
	}

	// The certificate is on the registry either way; an unresolved LMS link
	// is still worth a line in the submitter's report.
	if rendered.Warning != "" {
		bc.acc.AddOutcome(models.Outcome{
			Record: rec,
			Failed: true,
			Reason: rendered.Warning + " Certificate was uploaded to Training Connect.",
		})
	}
	bc.acc.AddArtifact(report.Artifact{Record: rec, Image: rendered.Image})
	bc.acc.AddOutcome(models.Outcome{Record: rec})
	w.metrics.ItemsProcessed.WithLabelValues("updated").Inc()
	w.log.Info("certificate attached", "student", rec.FullName())
	return nil
}

// fail records a terminal failure. For certificate uploads it still renders
// the artifact (unless one was already produced) so the submitter receives
// the image for manual upload.
func (w *Worker) fail(
	ctx context.Context,
	bc *batchContext,
	rec models.Record,
	job uploadJob,
	reason string,
	rendered *certificate.Rendered,
) {
	if job.Kind() == models.UploadCertificate {
		if rendered == nil {
			r, err := w.certs.IssueImported(ctx, rec)
			if err != nil {
				w.log.Error("failure artifact not rendered", "student", rec.FullName(), "error", err)
				w.alerter.Emit(ctx, "Failed to generate certificate", err.Error())
			} else {
				rendered = &r
				w.metrics.CertificatesRendered.Inc()
			}
		}
		if rendered != nil {
			if rendered.Warning != "" {
				reason = reason + " " + rendered.Warning
			}
			bc.acc.AddArtifact(report.Artifact{Record: rec, Image: rendered.Image, Failed: true})
		}
	}

	bc.acc.AddOutcome(models.Outcome{Record: rec, Failed: true, Reason: reason})
	w.metrics.ItemsProcessed.WithLabelValues("failed").Inc()
	w.log.Warn("item failed", "student", rec.FullName(), "reason", reason)
}

// session returns the batch's session, opening and logging one in when the
// batch does not have one yet.
func (w *Worker) session(ctx context.Context, bc *batchContext) (registry.Session, error) {
	if bc.session != nil {
		return bc.session, nil
	}
	s, err := w.dialer.NewSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("open registry session: %w", err)
	}
	if err := s.Login(ctx); err != nil {
		s.Close(ctx)
		return nil, fmt.Errorf("registry login: %w", err)
	}
	bc.session = s
	return s, nil
}

func (w *Worker) restartSession(ctx context.Context, bc *batchContext) {
	w.closeSession(ctx, bc)
	w.metrics.SessionRestarts.Inc()
}

func (w *Worker) closeSession(ctx context.Context, bc *batchContext) {
	if bc.session == nil {
		return
	}
	if err := bc.session.Close(ctx); err != nil {
		w.log.Warn("registry session not closed cleanly", "error", err)
	}
	bc.session = nil
}

func writeTempImage(img []byte) (string, func(), error) {
	f, err := os.CreateTemp("", "trainsync-cert-*.png")
	if err != nil {
		return "", nil, fmt.Errorf("create temp certificate: %w", err)
	}
	if _, err := f.Write(img); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", nil, fmt.Errorf("write temp certificate: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", nil, fmt.Errorf("close temp certificate: %w", err)
	}
	return f.Name(), func() { os.Remove(f.Name()) }, nil
}
