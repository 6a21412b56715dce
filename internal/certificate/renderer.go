package certificate

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"trainsync/internal/platform/chrome"
	"trainsync/pkg/dates"
)

// Certificates are captured at a fixed size so every artifact in a bundle
// lines up.
const (
	renderWidth  = 1300
	renderHeight = 1000

	renderSettle = 500 * time.Millisecond
)

// Fields are the placeholder values substituted into the template.
type Fields struct {
	StudentFullName    string
	InstructorFullName string
	CertificateName    string
	CertificateNumber  string
	CompletionDate     time.Time
}

// Rasterizer turns final HTML into a fixed-size PNG.
type Rasterizer interface {
	Rasterize(ctx context.Context, html string) ([]byte, error)
}

// Renderer fills the certificate template and rasterizes it. Output is
// deterministic for identical fields given fixed template and assets: images
// and styles are inlined, so nothing is fetched at capture time.
type Renderer struct {
	templatePath string
	assetDir     string
	ras          Rasterizer
}

func NewRenderer(templatePath, assetDir string, ras Rasterizer) *Renderer {
	return &Renderer{templatePath: templatePath, assetDir: assetDir, ras: ras}
}

// Render produces the certificate PNG for the given field values.
func (r *Renderer) Render(ctx context.Context, f Fields) ([]byte, error) {
	html, err := r.FillTemplate(f)
	if err != nil {
		return nil, err
	}
	img, err := r.ras.Rasterize(ctx, html)
	if err != nil {
		return nil, fmt.Errorf("rasterize certificate: %w", err)
	}
	return img, nil
}

var imgSrcPattern = regexp.MustCompile(`src="([a-zA-Z0-9/._-]+)"`)

// FillTemplate substitutes placeholders and inlines local assets, returning
// the final self-contained HTML.
func (r *Renderer) FillTemplate(f Fields) (string, error) {
	raw, err := os.ReadFile(r.templatePath)
	if err != nil {
		return "", fmt.Errorf("read certificate template: %w", err)
	}

	html := string(raw)
	replacements := map[string]string{
		"{student_full_name}":    f.StudentFullName,
		"{instructor_full_name}": f.InstructorFullName,
		"{certificate_name}":     f.CertificateName,
		"{completion_date}":      dates.ISO(f.CompletionDate),
		"{certificate_number}":   f.CertificateNumber,
	}
	for placeholder, value := range replacements {
		html = strings.ReplaceAll(html, placeholder, value)
	}

	html = r.inlineImages(html)
	return r.inlineStylesheet(html), nil
}

// inlineImages swaps relative image references for base64 data URIs so the
// rasterizer never reaches for the filesystem.
func (r *Renderer) inlineImages(html string) string {
	return imgSrcPattern.ReplaceAllStringFunc(html, func(m string) string {
		src := imgSrcPattern.FindStringSubmatch(m)[1]
		if strings.HasPrefix(src, "data:") {
			return m
		}
		data, err := os.ReadFile(filepath.Join(r.assetDir, strings.TrimPrefix(src, "/")))
		if err != nil {
			// Leave the reference as-is; a broken image beats a failed batch.
			return m
		}
		return fmt.Sprintf(`src="data:image/jpeg;base64,%s"`,
			base64.StdEncoding.EncodeToString(data))
	})
}

func (r *Renderer) inlineStylesheet(html string) string {
	css, err := os.ReadFile(filepath.Join(r.assetDir, "styles", "output.css"))
	if err != nil {
		return html
	}
	style := "<style>" + string(css) + "</style>"
	if idx := strings.Index(html, "</head>"); idx >= 0 {
		return html[:idx] + style + html[idx:]
	}
	return style + html
}

// ChromeRasterizer captures HTML through a headless chrome page.
type ChromeRasterizer struct {
	client *chrome.Client
}

func NewChromeRasterizer(client *chrome.Client) *ChromeRasterizer {
	return &ChromeRasterizer{client: client}
}

func (c *ChromeRasterizer) Rasterize(ctx context.Context, html string) ([]byte, error) {
	page, err := c.client.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("open render page: %w", err)
	}
	defer page.Close(ctx)

	if err := page.SetViewport(ctx, renderWidth, renderHeight); err != nil {
		return nil, fmt.Errorf("set viewport: %w", err)
	}
	if err := page.SetContent(ctx, html); err != nil {
		return nil, fmt.Errorf("load certificate html: %w", err)
	}

	// Give layout and fonts a beat to settle before capture.
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(renderSettle):
	}

	return page.Screenshot(ctx)
}
