package genai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"portraitserver/internal/domain"
	"portraitserver/internal/evaljson"
)

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	return buf.Bytes()
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(Options{
		APIKey:     "test-key",
		BaseURL:    srv.URL,
		Model:      "test-model",
		HTTPClient: srv.Client(),
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client, srv
}

func TestGenerateImageSendsLabeledReferences(t *testing.T) {
	pngData := testPNG(t, 8, 8)
	var captured geminiGenerateContentRequest
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		resp := geminiGenerateContentResponse{Candidates: []geminiCandidate{{
			Content: geminiContent{Parts: []geminiPart{{
				InlineData: &geminiInlineData{
					MimeType: "image/png",
					Data:     base64.StdEncoding.EncodeToString(pngData),
				},
			}}},
		}}}
		json.NewEncoder(w).Encode(resp)
	})

	got, err := client.GenerateImage(context.Background(), domain.ModelRequest{
		Prompt: "studio portrait",
		References: []domain.ReferenceImage{
			{Label: "Face references", MIME: "image/png", Data: testPNG(t, 4, 4)},
			{Label: "Background plate", MIME: "image/png", Data: testPNG(t, 4, 4)},
		},
		RequestID: "req-1",
	})
	if err != nil {
		t.Fatalf("GenerateImage: %v", err)
	}
	if got.MIME != "image/png" || got.Width != 8 || got.Height != 8 {
		t.Fatalf("image = %s %dx%d, want image/png 8x8", got.MIME, got.Width, got.Height)
	}

	if len(captured.Contents) != 1 {
		t.Fatalf("contents = %d, want 1", len(captured.Contents))
	}
	parts := captured.Contents[0].Parts
	// Prompt text plus a label and an inline blob per reference.
	if len(parts) != 5 {
		t.Fatalf("parts = %d, want 5", len(parts))
	}
	if parts[0].Text != "studio portrait" {
		t.Fatalf("first part = %q, want prompt text", parts[0].Text)
	}
	if parts[1].Text != "Face references:" || parts[2].InlineData == nil {
		t.Fatalf("reference parts not interleaved: %+v", parts[1:3])
	}
}

func TestGenerateImageMapsThrottlingToRateLimitError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": {"code": 429, "message": "quota exceeded", "status": "RESOURCE_EXHAUSTED"}}`))
	})

	_, err := client.GenerateImage(context.Background(), domain.ModelRequest{Prompt: "p"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	if !domain.IsRateLimit(err) {
		t.Fatalf("IsRateLimit(%v) = false", err)
	}
}

func TestGenerateImageOtherStatusIsNotRateLimit(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": {"code": 400, "message": "bad prompt"}}`))
	})

	_, err := client.GenerateImage(context.Background(), domain.ModelRequest{Prompt: "p"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("400 misclassified as rate limit: %v", err)
	}
	if !strings.Contains(err.Error(), "bad prompt") {
		t.Fatalf("err = %v, want API message surfaced", err)
	}
}

func TestGenerateTextConcatenatesParts(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		resp := geminiGenerateContentResponse{Candidates: []geminiCandidate{{
			Content: geminiContent{Parts: []geminiPart{
				{Text: "Looks good. "},
				{Text: `{"face_similarity": "YES", "safety": "YES", "rule_adherence": "YES"}`},
			}},
		}}}
		json.NewEncoder(w).Encode(resp)
	})

	got, err := client.GenerateText(context.Background(), domain.ModelRequest{Prompt: "judge"})
	if err != nil {
		t.Fatalf("GenerateText: %v", err)
	}
	obj := evaljson.LastJSONObject(got)
	if obj == nil || obj["face_similarity"] != "YES" {
		t.Fatalf("verdict object not recoverable from %q", got)
	}
}

func TestKeylessClientServesSyntheticOutput(t *testing.T) {
	client, err := NewClient(Options{Model: "test-model"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	req := domain.ModelRequest{Prompt: "portrait", AspectRatio: "1:1", RequestID: "req-7"}
	a, err := client.GenerateImage(context.Background(), req)
	if err != nil {
		t.Fatalf("GenerateImage: %v", err)
	}
	b, err := client.GenerateImage(context.Background(), req)
	if err != nil {
		t.Fatalf("GenerateImage: %v", err)
	}
	if !bytes.Equal(a.Data, b.Data) {
		t.Fatalf("synthetic output not deterministic for identical requests")
	}
	if a.Width != 1024 || a.Height != 1024 {
		t.Fatalf("synthetic size = %dx%d, want 1024x1024", a.Width, a.Height)
	}

	text, err := client.GenerateText(context.Background(), req)
	if err != nil {
		t.Fatalf("GenerateText: %v", err)
	}
	if evaljson.LastJSONObject(text) == nil {
		t.Fatalf("synthetic text carries no verdict object: %q", text)
	}
}

func TestNormalizeAspect(t *testing.T) {
	tests := []struct {
		aspect string
		wantW  int
		wantH  int
	}{
		{"1:1", 1024, 1024},
		{"3:4", 1024, 1365},
		{"16:9", 1920, 1080},
		{"", 1024, 1024},
		{"2:1", 1024, 512},
		{"garbage", 1024, 1024},
	}
	for _, tc := range tests {
		w, h := normalizeAspect(tc.aspect)
		if w != tc.wantW || h != tc.wantH {
			t.Fatalf("normalizeAspect(%q) = %dx%d, want %dx%d", tc.aspect, w, h, tc.wantW, tc.wantH)
		}
	}
}
