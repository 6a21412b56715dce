package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"trainsync/internal/platform/chrome"
	"trainsync/internal/platform/config"
	"trainsync/internal/sync/models"
	"trainsync/pkg/dates"
)

// Profile pages list field values in a fixed order; phone, email, and birth
// date sit at these indexes.
const (
	profilePhoneIndex = 5
	profileEmailIndex = 6
	profileBirthIndex = 7
)

const settleDelay = time.Second

// BrowserDialer opens CDP-backed sessions against the live registry.
type BrowserDialer struct {
	chrome *chrome.Client
	cfg    config.RegistryConfig
	log    *slog.Logger
}

func NewBrowserDialer(client *chrome.Client, cfg config.RegistryConfig, log *slog.Logger) *BrowserDialer {
	return &BrowserDialer{chrome: client, cfg: cfg, log: log}
}

func (d *BrowserDialer) NewSession(ctx context.Context) (Session, error) {
	page, err := d.chrome.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("open registry page: %w", err)
	}
	return &browserSession{page: page, cfg: d.cfg, log: d.log}, nil
}

type browserSession struct {
	page     *chrome.Page
	cfg      config.RegistryConfig
	log      *slog.Logger
	loggedIn bool
}

func (s *browserSession) Login(ctx context.Context) error {
	if s.loggedIn {
		return nil
	}

	if err := s.page.Navigate(ctx, s.cfg.BaseURL+"/Saml/InitiateSingleSignOn"); err != nil {
		return fmt.Errorf("open sign-in page: %w", err)
	}

	// The credential form only appears when the IdP has no live session.
	_ = s.page.WaitForSelector(ctx, `input[name="username"]`, s.cfg.WaitTimeout)

	var alreadyIn bool
	if err := s.page.Evaluate(ctx,
		`!!document.querySelector('.alert.alert-success.alert-dismissible.fade.show')`,
		&alreadyIn); err != nil {
		return fmt.Errorf("probe login state: %w", err)
	}
	if alreadyIn {
		s.log.Debug("already logged in")
		s.loggedIn = true
		return nil
	}

	if err := s.setValue(ctx, `input[name="username"]`, s.cfg.Email); err != nil {
		return fmt.Errorf("fill username: %w", err)
	}
	if err := s.setValue(ctx, `input[name="password"]`, s.cfg.Password); err != nil {
		return fmt.Errorf("fill password: %w", err)
	}
	if err := s.click(ctx, `input[type="submit"]`); err != nil {
		return fmt.Errorf("submit login: %w", err)
	}

	// Unlike lookups, a timeout here is fatal: nothing downstream works
	// without an authenticated session.
	if err := s.page.WaitForSelector(ctx,
		".alert.alert-success.alert-dismissible.fade.show", 30*time.Second); err != nil {
		return fmt.Errorf("login confirmation never appeared: %w", err)
	}

	var confirmed bool
	if err := s.page.Evaluate(ctx,
		`document.body.innerText.includes("logged in")`, &confirmed); err != nil {
		return fmt.Errorf("verify login banner: %w", err)
	}
	if !confirmed {
		return errors.New("registry rejected login")
	}

	s.log.Debug("logged in")
	s.loggedIn = true
	return nil
}

func (s *browserSession) LookupByCard(ctx context.Context, cardID string) (string, error) {
	return s.lookupByIdentifier(ctx, "CardId", cardID)
}

func (s *browserSession) LookupByAgency(ctx context.Context, agencyID string) (string, error) {
	return s.lookupByIdentifier(ctx, "OshaId", agencyID)
}

func (s *browserSession) lookupByIdentifier(ctx context.Context, kind, value string) (string, error) {
	lookupURL := fmt.Sprintf("%s/CourseProviders/StudentLookup/%s?type=%s",
		s.cfg.BaseURL, s.cfg.ProviderID, kind)
	if err := s.page.Navigate(ctx, lookupURL); err != nil {
		return "", fmt.Errorf("open %s lookup: %w", kind, err)
	}

	if err := s.page.Evaluate(ctx, fmt.Sprintf(
		`document.getElementById(%s).value = %s`,
		chrome.JSString(kind), chrome.JSString(value)), nil); err != nil {
		return "", fmt.Errorf("fill %s: %w", kind, err)
	}
	if err := s.click(ctx, `input[type='submit']`); err != nil {
		return "", fmt.Errorf("submit %s lookup: %w", kind, err)
	}

	if err := s.page.WaitForSelector(ctx, `a[role='button']`, s.cfg.WaitTimeout); err != nil {
		if errors.Is(err, chrome.ErrWaitTimeout) {
			return "", ErrNoResults
		}
		return "", err
	}

	var href string
	if err := s.page.Evaluate(ctx,
		"document.querySelector(`a[role='button']`).href", &href); err != nil {
		return "", fmt.Errorf("read result link: %w", err)
	}
	return href, nil
}

func (s *browserSession) LookupByName(ctx context.Context, first, last string) ([]string, int, error) {
	lookupURL := fmt.Sprintf("%s/CourseProviders/StudentLookup/%s?type=StudentName",
		s.cfg.BaseURL, s.cfg.ProviderID)
	if err := s.page.Navigate(ctx, lookupURL); err != nil {
		return nil, 0, fmt.Errorf("open name lookup: %w", err)
	}

	name := strings.TrimSpace(first) + " " + strings.TrimSpace(last)
	if err := s.page.Evaluate(ctx, fmt.Sprintf(
		`document.getElementById('StudentName').value = %s`, chrome.JSString(name)), nil); err != nil {
		return nil, 0, fmt.Errorf("fill student name: %w", err)
	}
	if err := s.click(ctx, `input[type='submit']`); err != nil {
		return nil, 0, fmt.Errorf("submit name lookup: %w", err)
	}

	if err := s.page.WaitForSelector(ctx, `a[role='button']`, s.cfg.WaitTimeout); err != nil {
		if errors.Is(err, chrome.ErrWaitTimeout) {
			return nil, 0, ErrNoResults
		}
		return nil, 0, err
	}

	var total int
	if err := s.page.Evaluate(ctx,
		"document.querySelectorAll(`a[role='button']`).length", &total); err != nil {
		return nil, 0, fmt.Errorf("count results: %w", err)
	}

	var urls []string
	if err := s.page.Evaluate(ctx, `(() => {
		const buttons = Array.from(document.querySelectorAll("a[role='button']"));
		return buttons.filter(b => b.textContent.includes('View')).map(b => b.href).slice(0, 10);
	})()`, &urls); err != nil {
		return nil, 0, fmt.Errorf("collect result links: %w", err)
	}
	return urls, total, nil
}

func (s *browserSession) DashboardSearch(ctx context.Context, first, last string) ([]string, int, error) {
	dashURL := fmt.Sprintf("%s/CourseProviders/Dashboard/%s", s.cfg.BaseURL, s.cfg.ProviderID)
	if err := s.page.Navigate(ctx, dashURL); err != nil {
		return nil, 0, fmt.Errorf("open dashboard: %w", err)
	}
	if err := s.page.WaitForSelector(ctx, ".container.card", s.cfg.WaitTimeout); err != nil {
		return nil, 0, fmt.Errorf("dashboard never rendered: %w", err)
	}

	name := strings.TrimSpace(first) + " " + strings.TrimSpace(last)
	if err := s.page.Evaluate(ctx, fmt.Sprintf(
		`document.getElementById('Filter').value = %s`, chrome.JSString(name)), nil); err != nil {
		return nil, 0, fmt.Errorf("fill dashboard filter: %w", err)
	}
	if err := s.click(ctx, `button[type="submit"]`); err != nil {
		return nil, 0, fmt.Errorf("submit dashboard search: %w", err)
	}

	if err := s.page.WaitForSelector(ctx, "td.text-right", s.cfg.WaitTimeout); err != nil {
		if errors.Is(err, chrome.ErrWaitTimeout) {
			return nil, 0, ErrNoResults
		}
		return nil, 0, err
	}

	var total int
	if err := s.page.Evaluate(ctx,
		`document.querySelectorAll("td.text-right").length`, &total); err != nil {
		return nil, 0, fmt.Errorf("count dashboard results: %w", err)
	}

	var urls []string
	if err := s.page.Evaluate(ctx, `(() => {
		const buttons = Array.from(document.querySelectorAll('a.btn.btn-light'));
		return buttons.filter(b => b.textContent.includes('View')).map(b => b.href).slice(0, 10);
	})()`, &urls); err != nil {
		return nil, 0, fmt.Errorf("collect dashboard links: %w", err)
	}
	return urls, total, nil
}

func (s *browserSession) ReadProfileFields(ctx context.Context, profileURL string) (ProfileFields, error) {
	if err := s.page.Navigate(ctx, profileURL); err != nil {
		return ProfileFields{}, fmt.Errorf("open profile: %w", err)
	}
	if err := s.page.WaitForSelector(ctx, ".sc-field-value", s.cfg.WaitTimeout); err != nil {
		return ProfileFields{}, fmt.Errorf("profile fields never rendered: %w", err)
	}
	sleep(ctx, settleDelay)

	var values []string
	if err := s.page.Evaluate(ctx, `(() =>
		Array.from(document.querySelectorAll('.sc-field-value')).map(el => el.textContent.trim())
	)()`, &values); err != nil {
		return ProfileFields{}, fmt.Errorf("scrape profile fields: %w", err)
	}

	fields := ProfileFields{}
	if len(values) > profilePhoneIndex {
		fields.Phone = values[profilePhoneIndex]
	}
	if len(values) > profileEmailIndex {
		fields.Email = values[profileEmailIndex]
	}
	if len(values) > profileBirthIndex {
		fields.BirthDate = values[profileBirthIndex]
	}
	return fields, nil
}

func (s *browserSession) SubmitCreateStudent(ctx context.Context, rec models.Record, headshotPath string) (CreateResult, error) {
	dob, err := dates.Parse(rec.DateOfBirth)
	if err != nil {
		// Callers validate the date first; reaching this means a race with
		// validation rules, treat as a form error.
		return CreateResult{ValidationError: fmt.Sprintf("dob: %s, incorrect format.", rec.DateOfBirth)}, nil
	}

	createURL := fmt.Sprintf("%s/Students/Create?providerId=%s", s.cfg.BaseURL, s.cfg.ProviderID)
	if err := s.page.Navigate(ctx, createURL); err != nil {
		return CreateResult{}, fmt.Errorf("open creation form: %w", err)
	}
	if err := s.page.WaitForSelector(ctx, ".col-auto", s.cfg.WaitTimeout); err != nil {
		return CreateResult{}, fmt.Errorf("creation form never rendered: %w", err)
	}

	type field struct{ selector, value string }
	fields := []field{
		{"#FirstName", rec.FirstName},
		{"#MiddleName", rec.MiddleName},
		{"#LastName", rec.LastName},
		{"#Suffix", rec.Suffix},
		{"#AddressNumber", rec.HouseNumber},
		{"#AddressName", strings.TrimSpace(rec.StreetName + " " + rec.AptSuite)},
		{"#City", rec.City},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		if err := s.setValue(ctx, f.selector, f.value); err != nil {
			return CreateResult{}, fmt.Errorf("fill %s: %w", f.selector, err)
		}
	}
	if err := s.setValue(ctx, "#DateOfBirth", dates.ISO(dob)); err != nil {
		return CreateResult{}, fmt.Errorf("fill date of birth: %w", err)
	}
	if err := s.page.SetFileInput(ctx, "input[type=file]", headshotPath); err != nil {
		return CreateResult{}, fmt.Errorf("attach headshot: %w", err)
	}

	// The state field is a selectize control; typing must surface the
	// dropdown or the address will not validate server-side.
	if err := s.setValue(ctx, "#State-selectized", rec.State); err != nil {
		return CreateResult{}, fmt.Errorf("fill state: %w", err)
	}
	visible, err := s.selectizeDropdownVisible(ctx)
	if err != nil {
		return CreateResult{}, err
	}
	if !visible {
		s.log.Error("state did not match a known option", "state", rec.State)
		return CreateResult{ValidationError: "state did not match"}, nil
	}
	if err := s.page.PressEnter(ctx); err != nil {
		return CreateResult{}, fmt.Errorf("confirm state: %w", err)
	}

	if err := s.setValue(ctx, "#ZipCode", rec.ZipCode); err != nil {
		return CreateResult{}, fmt.Errorf("fill zip: %w", err)
	}
	if rec.Email != "" {
		if err := s.setValue(ctx, "#Email", rec.Email); err != nil {
			return CreateResult{}, fmt.Errorf("fill email: %w", err)
		}
	}
	if err := s.setValue(ctx, "#Phone", rec.PhoneNumber); err != nil {
		return CreateResult{}, fmt.Errorf("fill phone: %w", err)
	}

	for id, value := range map[string]string{
		"Height":   rec.Height,
		"Gender":   rec.Gender,
		"EyeColor": rec.EyeColor,
	} {
		if err := s.selectOptionByText(ctx, id, value); err != nil {
			return CreateResult{}, fmt.Errorf("select %s: %w", id, err)
		}
	}

	if err := s.click(ctx, `input[type="submit"]`); err != nil {
		return CreateResult{}, fmt.Errorf("submit creation form: %w", err)
	}
	sleep(ctx, settleDelay)

	var dangers int
	if err := s.page.Evaluate(ctx,
		`document.querySelectorAll(".text-danger.field-validation-error").length`, &dangers); err != nil {
		return CreateResult{}, fmt.Errorf("inspect validation errors: %w", err)
	}
	if dangers > 0 {
		s.log.Debug("creation form rejected", "errors", dangers)
		return CreateResult{ValidationError: "form validation failed"}, nil
	}

	s.log.Info("student created", "firstName", rec.FirstName)
	return CreateResult{}, nil
}

func (s *browserSession) AddToProviderIfOffered(ctx context.Context, profileURL string) error {
	if err := s.page.Navigate(ctx, profileURL); err != nil {
		return fmt.Errorf("open profile: %w", err)
	}

	var link string
	if err := s.page.Evaluate(ctx, `(() => {
		const buttons = Array.from(document.querySelectorAll('a.h6.sc-link'));
		return buttons.filter(b => b.textContent.includes('Add To Course Provider')).map(b => b.href)[0] || "";
	})()`, &link); err != nil {
		return fmt.Errorf("probe provider link: %w", err)
	}
	if link == "" {
		return nil
	}

	if err := s.page.Navigate(ctx, link); err != nil {
		return fmt.Errorf("open provider form: %w", err)
	}
	if err := s.page.WaitForSelector(ctx, "input[type=submit]", s.cfg.WaitTimeout); err != nil {
		return fmt.Errorf("provider form never rendered: %w", err)
	}
	if err := s.click(ctx, "input[type=submit]"); err != nil {
		return fmt.Errorf("confirm provider add: %w", err)
	}
	return nil
}

func (s *browserSession) SubmitAddCertificate(ctx context.Context, rec models.Record, profileURL, imagePath string) (bool, error) {
	issued, err := dates.Parse(rec.IssueDate)
	if err != nil {
		return false, fmt.Errorf("parse issue date: %w", err)
	}
	expires, err := dates.Parse(rec.ExpiryDate)
	if err != nil {
		return false, fmt.Errorf("parse expiry date: %w", err)
	}

	if err := s.page.Navigate(ctx, profileURL); err != nil {
		return false, fmt.Errorf("open profile: %w", err)
	}
	if err := s.page.WaitForSelector(ctx, "a.btn.btn-primary", s.cfg.WaitTimeout); err != nil {
		return false, fmt.Errorf("certificate action never rendered: %w", err)
	}
	if err := s.click(ctx, "a.btn.btn-primary"); err != nil {
		return false, fmt.Errorf("open certificate form: %w", err)
	}
	if err := s.page.WaitForSelector(ctx, "input[type=submit]", s.cfg.WaitTimeout); err != nil {
		return false, fmt.Errorf("certificate form never rendered: %w", err)
	}

	courseName := CleanCourseName(rec.CourseName)
	if err := s.setValue(ctx, "#CourseId-selectized", courseName); err != nil {
		return false, fmt.Errorf("fill course: %w", err)
	}
	visible, err := s.selectizeDropdownVisible(ctx)
	if err != nil {
		return false, err
	}
	if !visible {
		return false, nil
	}
	if err := s.page.PressEnter(ctx); err != nil {
		return false, fmt.Errorf("confirm course: %w", err)
	}

	if err := s.setValue(ctx, "#CertificateNumber",
		strings.ReplaceAll(rec.CertificateID, " ", "")); err != nil {
		return false, fmt.Errorf("fill certificate number: %w", err)
	}
	if err := s.setValue(ctx, "#IssuedDate", dates.ISO(issued)); err != nil {
		return false, fmt.Errorf("fill issue date: %w", err)
	}
	if err := s.setValue(ctx, "#ExpirationDate", dates.ISO(expires)); err != nil {
		return false, fmt.Errorf("fill expiration date: %w", err)
	}
	if err := s.setValue(ctx, "#TrainerName", rec.Instructor); err != nil {
		return false, fmt.Errorf("fill trainer: %w", err)
	}
	if err := s.page.SetFileInput(ctx, "input[type=file]", imagePath); err != nil {
		return false, fmt.Errorf("attach certificate image: %w", err)
	}
	sleep(ctx, settleDelay/2)

	if err := s.click(ctx, "input[type=submit]"); err != nil {
		return false, fmt.Errorf("submit certificate form: %w", err)
	}

	s.log.Info("certificate added", "firstName", rec.FirstName)
	return true, nil
}

func (s *browserSession) Close(ctx context.Context) error {
	s.loggedIn = false
	return s.page.Close(ctx)
}

func (s *browserSession) setValue(ctx context.Context, selector, value string) error {
	return s.page.Evaluate(ctx, fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		el.value = %s;
		el.dispatchEvent(new Event('input', {bubbles: true}));
		el.dispatchEvent(new Event('change', {bubbles: true}));
	})()`, chrome.JSString(selector), chrome.JSString(value)), nil)
}

func (s *browserSession) click(ctx context.Context, selector string) error {
	return s.page.Evaluate(ctx, fmt.Sprintf(
		`document.querySelector(%s).click()`, chrome.JSString(selector)), nil)
}

// selectOptionByText picks the option whose label equals the given text.
func (s *browserSession) selectOptionByText(ctx context.Context, id, text string) error {
	return s.page.Evaluate(ctx, fmt.Sprintf(`(() => {
		const select = document.getElementById(%s);
		for (const option of select.options) {
			if (option.text === %s) {
				select.value = option.value;
				break;
			}
		}
		select.dispatchEvent(new Event('change', {bubbles: true}));
	})()`, chrome.JSString(id), chrome.JSString(text)), nil)
}

// selectizeDropdownVisible reports whether the searchable dropdown popped up,
// which is how the UI signals that typed text matched a known option.
func (s *browserSession) selectizeDropdownVisible(ctx context.Context) (bool, error) {
	var visible bool
	err := s.page.Evaluate(ctx, `(() => {
		const el = document.querySelector('.selectize-dropdown.single.searchable');
		if (!el) return false;
		return window.getComputedStyle(el).getPropertyValue('display') !== 'none';
	})()`, &visible)
	if err != nil {
		return false, fmt.Errorf("probe dropdown: %w", err)
	}
	return visible, nil
}

// CleanCourseName strips the HTML entities spreadsheet exports leave in
// course names.
func CleanCourseName(name string) string {
	name = strings.ReplaceAll(name, "&amp;", "")
	return strings.ReplaceAll(name, "&nbsp;", "")
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
