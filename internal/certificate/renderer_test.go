package certificate

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func testFields() Fields {
	return Fields{
		StudentFullName:    "Ana Silva",
		InstructorFullName: "Pat Doyle",
		CertificateName:    "Site Safety 10",
		CertificateNumber:  "CERT123",
		CompletionDate:     time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
	}
}

func TestFillTemplateSubstitutesPlaceholders(t *testing.T) {
	dir := t.TempDir()
	tmpl := filepath.Join(dir, "index.html")
	writeFile(t, tmpl,
		`<html><head></head><body>{student_full_name} completed {certificate_name} on {completion_date}, no. {certificate_number}, instructor {instructor_full_name}</body></html>`)

	r := NewRenderer(tmpl, dir, nil)
	html, err := r.FillTemplate(testFields())
	require.NoError(t, err)

	require.Contains(t, html, "Ana Silva completed Site Safety 10")
	require.Contains(t, html, "2024-01-02")
	require.Contains(t, html, "no. CERT123")
	require.Contains(t, html, "instructor Pat Doyle")
	require.NotContains(t, html, "{")
}

func TestFillTemplateInlinesImagesAndStyles(t *testing.T) {
	dir := t.TempDir()
	tmpl := filepath.Join(dir, "index.html")
	writeFile(t, tmpl, `<html><head></head><body><img src="logo.jpg"></body></html>`)
	writeFile(t, filepath.Join(dir, "logo.jpg"), "jpegbytes")
	writeFile(t, filepath.Join(dir, "styles", "output.css"), "body { margin: 0; }")

	r := NewRenderer(tmpl, dir, nil)
	html, err := r.FillTemplate(testFields())
	require.NoError(t, err)

	encoded := base64.StdEncoding.EncodeToString([]byte("jpegbytes"))
	require.Contains(t, html, `src="data:image/jpeg;base64,`+encoded+`"`)
	require.Contains(t, html, "<style>body { margin: 0; }</style>")
	require.Less(t, strings.Index(html, "</style>"), strings.Index(html, "</head>"))
}

func TestFillTemplateKeepsMissingAssetReference(t *testing.T) {
	dir := t.TempDir()
	tmpl := filepath.Join(dir, "index.html")
	writeFile(t, tmpl, `<img src="missing.jpg">`)

	r := NewRenderer(tmpl, dir, nil)
	html, err := r.FillTemplate(testFields())
	require.NoError(t, err)
	require.Contains(t, html, `src="missing.jpg"`)
}

func TestFillTemplateIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	tmpl := filepath.Join(dir, "index.html")
	writeFile(t, tmpl, `<html><head></head><body>{student_full_name} {certificate_number}</body></html>`)

	r := NewRenderer(tmpl, dir, nil)
	first, err := r.FillTemplate(testFields())
	require.NoError(t, err)
	second, err := r.FillTemplate(testFields())
	require.NoError(t, err)
	require.Equal(t, first, second)
}

type captureRasterizer struct {
	html string
}

func (c *captureRasterizer) Rasterize(ctx context.Context, html string) ([]byte, error) {
	c.html = html
	return []byte("png"), nil
}

func TestRenderPassesFinalHTMLToRasterizer(t *testing.T) {
	dir := t.TempDir()
	tmpl := filepath.Join(dir, "index.html")
	writeFile(t, tmpl, `<html><head></head><body>{student_full_name}</body></html>`)

	ras := &captureRasterizer{}
	r := NewRenderer(tmpl, dir, ras)

	img, err := r.Render(context.Background(), testFields())
	require.NoError(t, err)
	require.Equal(t, []byte("png"), img)
	require.Contains(t, ras.html, "Ana Silva")
}
