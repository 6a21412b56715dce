// Package registrytest provides a scripted in-memory registry session for
// exercising the sync state machine without a live external dependency.
package registrytest

import (
	"context"
	"fmt"
	"sync"

	"trainsync/internal/registry"
	"trainsync/internal/sync/models"
)

// LookupResult scripts one name or dashboard search outcome.
type LookupResult struct {
	URLs  []string
	Total int
	Err   error
}

// CertAdd records one SubmitAddCertificate call.
type CertAdd struct {
	Record     models.Record
	ProfileURL string
	ImagePath  string
}

// Fake is a scripted registry session. Configure the maps before the test,
// then assert on the recorded calls. Safe for the single-worker access
// pattern the real session demands.
type Fake struct {
	mu sync.Mutex

	LoginErr error

	NameResults      map[string]LookupResult // keyed by "First Last"
	DashboardResults map[string]LookupResult
	CardResults      map[string]string // card ID -> profile URL
	AgencyResults    map[string]string
	Profiles         map[string]registry.ProfileFields // profile URL -> fields

	// CreateError scripts the creation form's inline validation error.
	CreateError string
	// CourseKnown controls whether SubmitAddCertificate recognizes courses.
	CourseKnown bool

	// FailNext injects transient errors: op name -> how many upcoming calls
	// of that op should fail. Ops: "lookup", "profile", "create", "cert".
	FailNext map[string]int

	// Recorded activity.
	LoginCalls    int
	LookupCalls   int
	Created       []models.Record
	CertsAdded    []CertAdd
	ProviderAdds  []string
	ProfilesRead  []string
	CloseCalls    int
}

func New() *Fake {
	return &Fake{
		NameResults:      map[string]LookupResult{},
		DashboardResults: map[string]LookupResult{},
		CardResults:      map[string]string{},
		AgencyResults:    map[string]string{},
		Profiles:         map[string]registry.ProfileFields{},
		FailNext:         map[string]int{},
		CourseKnown:      true,
	}
}

func (f *Fake) inject(op string) error {
	if n := f.FailNext[op]; n > 0 {
		f.FailNext[op] = n - 1
		return fmt.Errorf("injected %s failure", op)
	}
	return nil
}

func (f *Fake) Login(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.LoginCalls++
	return f.LoginErr
}

func (f *Fake) LookupByCard(ctx context.Context, cardID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.LookupCalls++
	if err := f.inject("lookup"); err != nil {
		return "", err
	}
	url, ok := f.CardResults[cardID]
	if !ok {
		return "", registry.ErrNoResults
	}
	return url, nil
}

func (f *Fake) LookupByAgency(ctx context.Context, agencyID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.LookupCalls++
	if err := f.inject("lookup"); err != nil {
		return "", err
	}
	url, ok := f.AgencyResults[agencyID]
	if !ok {
		return "", registry.ErrNoResults
	}
	return url, nil
}

func (f *Fake) LookupByName(ctx context.Context, first, last string) ([]string, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.LookupCalls++
	if err := f.inject("lookup"); err != nil {
		return nil, 0, err
	}
	res, ok := f.NameResults[first+" "+last]
	if !ok {
		return nil, 0, registry.ErrNoResults
	}
	return res.URLs, res.Total, res.Err
}

func (f *Fake) DashboardSearch(ctx context.Context, first, last string) ([]string, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.LookupCalls++
	if err := f.inject("lookup"); err != nil {
		return nil, 0, err
	}
	res, ok := f.DashboardResults[first+" "+last]
	if !ok {
		return nil, 0, registry.ErrNoResults
	}
	return res.URLs, res.Total, res.Err
}

func (f *Fake) ReadProfileFields(ctx context.Context, profileURL string) (registry.ProfileFields, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ProfilesRead = append(f.ProfilesRead, profileURL)
	if err := f.inject("profile"); err != nil {
		return registry.ProfileFields{}, err
	}
	return f.Profiles[profileURL], nil
}

func (f *Fake) SubmitCreateStudent(ctx context.Context, rec models.Record, headshotPath string) (registry.CreateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.inject("create"); err != nil {
		return registry.CreateResult{}, err
	}
	if f.CreateError != "" {
		return registry.CreateResult{ValidationError: f.CreateError}, nil
	}
	f.Created = append(f.Created, rec)
	return registry.CreateResult{}, nil
}

func (f *Fake) AddToProviderIfOffered(ctx context.Context, profileURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ProviderAdds = append(f.ProviderAdds, profileURL)
	return nil
}

func (f *Fake) SubmitAddCertificate(ctx context.Context, rec models.Record, profileURL, imagePath string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.inject("cert"); err != nil {
		return false, err
	}
	if !f.CourseKnown {
		return false, nil
	}
	f.CertsAdded = append(f.CertsAdded, CertAdd{Record: rec, ProfileURL: profileURL, ImagePath: imagePath})
	return true, nil
}

func (f *Fake) Close(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CloseCalls++
	return nil
}

// Dialer hands out the same scripted session and counts reopenings.
type Dialer struct {
	Session *Fake
	DialErr error

	mu     sync.Mutex
	Opened int
}

func (d *Dialer) NewSession(ctx context.Context) (registry.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.DialErr != nil {
		return nil, d.DialErr
	}
	d.Opened++
	return d.Session, nil
}
