package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cot-reflect/backend/pkg/apperr"
	"github.com/cot-reflect/backend/pkg/utils"
)

func TestDetectKind(t *testing.T) {
	tests := []struct {
		name, contentType string
		want              Kind
		wantErr           bool
	}{
		{"notes.txt", "", KindText, false},
		{"README.MD", "", KindMarkdown, false},
		{"page.htm", "", KindHTML, false},
		{"upload", "text/html; charset=utf-8", KindHTML, false},
		{"upload", "text/plain", KindText, false},
		{"contract.pdf", "application/pdf", "", true},
		{"memo.docx", "", "", true},
		{"image.png", "image/png", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name+"|"+tt.contentType, func(t *testing.T) {
			got, err := DetectKind(tt.name, tt.contentType)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, apperr.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtract_PlainText(t *testing.T) {
	doc, err := NewExtractor(0).Extract("notes.txt", "", []byte("  line one\r\nline two\n\n"))
	require.NoError(t, err)

	assert.Equal(t, KindText, doc.Kind)
	assert.Equal(t, "line one\nline two", doc.Content)
	assert.Equal(t, utils.HashString(doc.Content), doc.Fingerprint)
}

func TestExtract_MarkdownIsOpaque(t *testing.T) {
	doc, err := NewExtractor(0).Extract("plan.md", "", []byte("# Plan\n\n- **ship** it"))
	require.NoError(t, err)
	assert.Equal(t, "# Plan\n\n- **ship** it", doc.Content)
}

func TestExtract_HTML(t *testing.T) {
	page := `<html><head><title>Lease</title><style>p { color: red }</style></head>` +
		`<body><nav>Home | About</nav><h1>Terms</h1><p>Rent is   due monthly.</p>` +
		`<script>track()</script><p>Notice: 30 days</p><footer>(c) 2024</footer></body></html>`

	doc, err := NewExtractor(0).Extract("lease.html", "", []byte(page))
	require.NoError(t, err)

	assert.Equal(t, KindHTML, doc.Kind)
	assert.Equal(t, "Lease", doc.Title)
	assert.Equal(t, "Terms\nRent is due monthly.\nNotice: 30 days", doc.Content)
}

func TestExtract_HTMLTitleFallsBackToHeading(t *testing.T) {
	doc, err := NewExtractor(0).Extract("page.html", "", []byte("<body><h1>Heading</h1><p>Body</p></body>"))
	require.NoError(t, err)
	assert.Equal(t, "Heading", doc.Title)
}

func TestExtract_Rejects(t *testing.T) {
	tests := []struct {
		name string
		file string
		data []byte
	}{
		{"empty", "empty.txt", []byte("  \n ")},
		{"invalid utf8", "bin.txt", []byte{0xff, 0xfe, 0x00}},
		{"script only html", "x.html", []byte("<script>alert(1)</script>")},
		{"too long", "big.txt", []byte("0123456789abcdef")},
		{"pdf", "a.pdf", []byte("%PDF-1.7")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewExtractor(10).Extract(tt.file, "", tt.data)
			require.Error(t, err)
			assert.True(t, apperr.IsValidation(err), err.Error())
		})
	}
}
