package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/suite"

	"trainsync/internal/alert"
	"trainsync/internal/certificate"
	"trainsync/internal/registry"
	"trainsync/internal/registry/registrytest"
	"trainsync/internal/sync/metrics"
	"trainsync/internal/sync/models"
	"trainsync/internal/sync/report"
)

type stubIssuer struct {
	err     error
	warning string
	calls   int
}

func (s *stubIssuer) IssueImported(ctx context.Context, rec models.Record) (certificate.Rendered, error) {
	s.calls++
	if s.err != nil {
		return certificate.Rendered{}, s.err
	}
	return certificate.Rendered{
		Image:   []byte("png:" + rec.FullName()),
		Number:  "CERT123",
		Warning: s.warning,
	}, nil
}

type sentReport struct {
	uploader string
	fileName string
	failures []models.Outcome
	bundle   []byte
}

type captureNotifier struct {
	students []sentReport
	certs    []sentReport
	err      error
}

func (c *captureNotifier) StudentBatchReport(ctx context.Context, uploader string, failures []models.Outcome, fileName string) error {
	c.students = append(c.students, sentReport{uploader: uploader, fileName: fileName, failures: failures})
	return c.err
}

func (c *captureNotifier) CertificateBatchReport(ctx context.Context, uploader string, failures []models.Outcome, fileName string, bundle []byte) error {
	c.certs = append(c.certs, sentReport{uploader: uploader, fileName: fileName, failures: failures, bundle: bundle})
	return c.err
}

type WorkerSuite struct {
	suite.Suite

	fake     *registrytest.Fake
	dialer   *registrytest.Dialer
	issuer   *stubIssuer
	notifier *captureNotifier
}

func TestWorkerSuite(t *testing.T) {
	suite.Run(t, new(WorkerSuite))
}

func (s *WorkerSuite) SetupTest() {
	s.fake = registrytest.New()
	s.dialer = &registrytest.Dialer{Session: s.fake}
	s.issuer = &stubIssuer{}
	s.notifier = &captureNotifier{}
}

// run feeds one batch through a fresh worker and waits for it to drain.
func (s *WorkerSuite) run(batch models.BatchMessage) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.NewForTesting()
	reporter := report.NewReporter(s.notifier, alert.Noop{}, m, log)

	inbox := make(chan models.BatchMessage, 1)
	inbox <- batch
	close(inbox)

	w, err := New(inbox, s.dialer, s.issuer, reporter, alert.Noop{}, m, WithLogger(log))
	s.Require().NoError(err)
	s.Require().NoError(w.Run(context.Background()))
}

func studentRecord(first, last string) models.Record {
	return models.Record{
		FirstName:   first,
		LastName:    last,
		Email:       fmt.Sprintf("%s.%s@example.com", first, last),
		PhoneNumber: "(555) 123-4567",
		DateOfBirth: "1990-01-02",
		Height:      "5'10\"",
		Gender:      "M",
		EyeColor:    "Brown",
		HouseNumber: "12",
		StreetName:  "Main St",
		City:        "Queens",
		State:       "NY",
		ZipCode:     "11375",
	}
}

func certRecord(first, last string) models.Record {
	return models.Record{
		FirstName:   first,
		LastName:    last,
		Email:       fmt.Sprintf("%s.%s@example.com", first, last),
		PhoneNumber: "(555) 123-4567",
		DateOfBirth: "1990-01-02",
		CourseName:  "Site Safety 10",
		Instructor:  "Pat Doyle",
		IssueDate:   "2024-01-02",
		ExpiryDate:  "2029-01-02",
	}
}

func asBatch(uploadType models.UploadType, recs ...models.Record) models.BatchMessage {
	batch := make(models.BatchMessage, len(recs))
	for i, rec := range recs {
		rec.UploadInfo = models.UploadInfo{
			Uploader:   "ops@example.com",
			Position:   i + 1,
			Max:        len(recs),
			FileName:   "upload.csv",
			UploadType: uploadType,
		}
		batch[i] = rec
	}
	return batch
}

func (s *WorkerSuite) TestStudentValidationFailureSkipsRegistry() {
	rec := studentRecord("Ana", "Silva")
	rec.PhoneNumber = ""

	s.run(asBatch(models.UploadStudent, rec))

	s.Zero(s.fake.LoginCalls)
	s.Zero(s.dialer.Opened)
	s.Require().Len(s.notifier.students, 1)
	failures := s.notifier.students[0].failures
	s.Require().Len(failures, 1)
	s.Equal("No phone number provided.", failures[0].Reason)
}

func (s *WorkerSuite) TestStudentCreatedWhenLookupIsEmpty() {
	s.run(asBatch(models.UploadStudent, studentRecord("Ana", "Silva")))

	s.Require().Len(s.fake.Created, 1)
	s.Equal("Ana", s.fake.Created[0].FirstName)
	s.Require().Len(s.notifier.students, 1)
	s.Empty(s.notifier.students[0].failures)
	s.Equal(1, s.fake.CloseCalls)
}

func (s *WorkerSuite) TestStudentMatchingCandidateIsDuplicate() {
	rec := studentRecord("Ana", "Silva")
	s.fake.NameResults["Ana Silva"] = registrytest.LookupResult{
		URLs: []string{"/profile/1", "/profile/2"}, Total: 2,
	}
	// Second candidate agrees on phone and email.
	s.fake.Profiles["/profile/2"] = registry.ProfileFields{
		Phone: "5551234567",
		Email: "ANA.SILVA@example.com",
	}

	s.run(asBatch(models.UploadStudent, rec))

	s.Empty(s.fake.Created)
	failures := s.notifier.students[0].failures
	s.Require().Len(failures, 1)
	s.Equal("User already exists", failures[0].Reason)
}

func (s *WorkerSuite) TestSoleCandidateNeedsOnlyOneAgreement() {
	rec := studentRecord("Ana", "Silva")
	s.fake.NameResults["Ana Silva"] = registrytest.LookupResult{
		URLs: []string{"/profile/1"}, Total: 1,
	}
	s.fake.Profiles["/profile/1"] = registry.ProfileFields{Phone: "(555) 123-4567"}

	s.run(asBatch(models.UploadStudent, rec))

	s.Empty(s.fake.Created)
	s.Equal("User already exists", s.notifier.students[0].failures[0].Reason)
}

func (s *WorkerSuite) TestNonMatchingCandidatesFallThroughToCreate() {
	rec := studentRecord("Ana", "Silva")
	s.fake.NameResults["Ana Silva"] = registrytest.LookupResult{
		URLs: []string{"/profile/1", "/profile/2"}, Total: 2,
	}
	s.fake.Profiles["/profile/1"] = registry.ProfileFields{Phone: "2125550000"}
	s.fake.Profiles["/profile/2"] = registry.ProfileFields{Email: "someone.else@example.com"}

	s.run(asBatch(models.UploadStudent, rec))

	s.Require().Len(s.fake.Created, 1)
	s.Empty(s.notifier.students[0].failures)
}

func (s *WorkerSuite) TestTooManyCandidatesSkipsMatching() {
	rec := studentRecord("Ana", "Silva")
	urls := make([]string, 10)
	for i := range urls {
		urls[i] = fmt.Sprintf("/profile/%d", i)
	}
	s.fake.NameResults["Ana Silva"] = registrytest.LookupResult{URLs: urls, Total: 11}

	s.run(asBatch(models.UploadStudent, rec))

	s.Empty(s.fake.ProfilesRead)
	s.Empty(s.fake.Created)
	s.Equal("Skipped because there are too many users to check for matches.",
		s.notifier.students[0].failures[0].Reason)
}

func (s *WorkerSuite) TestCreationFormRejectionIsTerminal() {
	s.fake.CreateError = "A student with this information already exists."

	s.run(asBatch(models.UploadStudent, studentRecord("Ana", "Silva")))

	s.Empty(s.fake.Created)
	s.Equal("An error occured while creating the user, please manually create.",
		s.notifier.students[0].failures[0].Reason)
}

func (s *WorkerSuite) TestCertificateAttachedToMatchedCandidate() {
	rec := certRecord("Ben", "Okafor")
	s.fake.NameResults["Ben Okafor"] = registrytest.LookupResult{
		URLs: []string{"/profile/9"}, Total: 1,
	}
	s.fake.Profiles["/profile/9"] = registry.ProfileFields{
		Email:     "ben.okafor@example.com",
		BirthDate: "01/02/1990",
	}

	s.run(asBatch(models.UploadCertificate, rec))

	s.Require().Len(s.fake.CertsAdded, 1)
	s.Equal("/profile/9", s.fake.CertsAdded[0].ProfileURL)
	s.Equal([]string{"/profile/9"}, s.fake.ProviderAdds)
	s.Require().Len(s.notifier.certs, 1)
	s.Empty(s.notifier.certs[0].failures)
	s.Empty(s.notifier.certs[0].bundle)
}

func (s *WorkerSuite) TestCardIDSkipsMatchingEntirely() {
	rec := certRecord("Ben", "Okafor")
	rec.CardID = "SST-42"
	s.fake.CardResults["SST-42"] = "/profile/42"

	s.run(asBatch(models.UploadCertificate, rec))

	s.Empty(s.fake.ProfilesRead)
	s.Require().Len(s.fake.CertsAdded, 1)
	s.Equal("/profile/42", s.fake.CertsAdded[0].ProfileURL)
}

func (s *WorkerSuite) TestUnknownCourseBundlesArtifact() {
	rec := certRecord("Ben", "Okafor")
	rec.CardID = "SST-42"
	s.fake.CardResults["SST-42"] = "/profile/42"
	s.fake.CourseKnown = false

	s.run(asBatch(models.UploadCertificate, rec))

	s.Empty(s.fake.CertsAdded)
	s.Require().Len(s.notifier.certs, 1)
	s.Equal("Tried to add certificate for an incorrect course name.",
		s.notifier.certs[0].failures[0].Reason)
	s.NotEmpty(s.notifier.certs[0].bundle)
	// The artifact rendered for the submit attempt is reused, not re-rendered.
	s.Equal(1, s.issuer.calls)
}

func (s *WorkerSuite) TestCertificateWithNoCandidatesFails() {
	rec := certRecord("Ben", "Okafor")

	s.run(asBatch(models.UploadCertificate, rec))

	s.Empty(s.fake.CertsAdded)
	s.Equal("No users found when doing look up", s.notifier.certs[0].failures[0].Reason)
	s.NotEmpty(s.notifier.certs[0].bundle)
}

func (s *WorkerSuite) TestUnresolvedUserWarningStillUploads() {
	rec := certRecord("Ben", "Okafor")
	rec.CardID = "SST-42"
	s.fake.CardResults["SST-42"] = "/profile/42"
	s.issuer.warning = "Unable to find user in Learning Management System with email: ben.okafor@example.com or phone number: (555) 123-4567 for certificate relation."

	s.run(asBatch(models.UploadCertificate, rec))

	s.Require().Len(s.fake.CertsAdded, 1)
	failures := s.notifier.certs[0].failures
	s.Require().Len(failures, 1)
	s.Equal(s.issuer.warning+" Certificate was uploaded to Training Connect.", failures[0].Reason)
	// The upload succeeded, so the artifact is not bundled for manual upload.
	s.Empty(s.notifier.certs[0].bundle)
}

func (s *WorkerSuite) TestTransientFailureRetriesWithFreshSession() {
	s.fake.FailNext["lookup"] = 1

	s.run(asBatch(models.UploadStudent, studentRecord("Ana", "Silva")))

	s.Require().Len(s.fake.Created, 1)
	s.Equal(2, s.dialer.Opened)
	s.Equal(2, s.fake.LoginCalls)
	s.Empty(s.notifier.students[0].failures)
}

func (s *WorkerSuite) TestRetryBudgetExhaustionFailsItem() {
	s.fake.FailNext["lookup"] = 5

	s.run(asBatch(models.UploadStudent, studentRecord("Ana", "Silva")))

	s.Equal(5, s.fake.LookupCalls)
	s.Equal(5, s.dialer.Opened)
	s.Empty(s.fake.Created)
	s.Equal("Unable to do lookup on user.", s.notifier.students[0].failures[0].Reason)
}

func (s *WorkerSuite) TestOneItemFailureDoesNotStopTheBatch() {
	bad := studentRecord("Ana", "Silva")
	bad.EyeColor = ""
	good := studentRecord("Ben", "Okafor")

	s.run(asBatch(models.UploadStudent, bad, good))

	s.Require().Len(s.fake.Created, 1)
	s.Equal("Ben", s.fake.Created[0].FirstName)
	failures := s.notifier.students[0].failures
	s.Require().Len(failures, 1)
	s.Equal("No eye color provided.", failures[0].Reason)
}

func (s *WorkerSuite) TestExactlyOneReportPerBatch() {
	recs := make([]models.Record, 0, 7)
	for i := 0; i < 7; i++ {
		recs = append(recs, studentRecord("Ana", fmt.Sprintf("Silva%d", i)))
	}

	s.run(asBatch(models.UploadStudent, recs...))

	s.Len(s.notifier.students, 1)
	s.Equal("ops@example.com", s.notifier.students[0].uploader)
	s.Equal("upload.csv", s.notifier.students[0].fileName)
	s.Len(s.fake.Created, 7)
}

func (s *WorkerSuite) TestSessionClosedEvenWhenItemsFail() {
	s.fake.LoginErr = errors.New("sso rejected")

	s.run(asBatch(models.UploadStudent, studentRecord("Ana", "Silva")))

	s.Equal("Unable to do lookup on user.", s.notifier.students[0].failures[0].Reason)
	// Every failed login closed its half-open session.
	s.Equal(maxAttempts, s.fake.CloseCalls)
}

func (s *WorkerSuite) TestRenderFailureStillFailsItemWithoutArtifact() {
	rec := certRecord("Ben", "Okafor")
	rec.CardID = "SST-42"
	s.fake.CardResults["SST-42"] = "/profile/42"
	s.issuer.err = errors.New("devtools gone")

	s.run(asBatch(models.UploadCertificate, rec))

	s.Empty(s.fake.CertsAdded)
	s.Require().Len(s.notifier.certs, 1)
	s.Equal("An error occured while adding certificate, please manually upload.",
		s.notifier.certs[0].failures[0].Reason)
	s.Empty(s.notifier.certs[0].bundle)
}
