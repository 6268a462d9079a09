package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"math/rand"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/skin-analysis/internal/classifier"
	"github.com/example/skin-analysis/internal/codec"
	"github.com/example/skin-analysis/internal/confidence"
	"github.com/example/skin-analysis/internal/correction"
	"github.com/example/skin-analysis/internal/demographics"
	"github.com/example/skin-analysis/internal/mockgen"
	"github.com/example/skin-analysis/internal/pipeline"
	"github.com/example/skin-analysis/internal/session"
	"github.com/example/skin-analysis/internal/store"
)

const testSessionSecret = "test-secret"

var jpegFrame = []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00\x01frame-bytes")

type testServer struct {
	router   *gin.Engine
	registry *session.Registry
	issuer   *session.Issuer
}

func newTestServer(t *testing.T, classifierHandler http.HandlerFunc) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	upstream := httptest.NewServer(classifierHandler)
	t.Cleanup(upstream.Close)

	logger := zap.NewNop()
	normalizer := confidence.NewNormalizer(confidence.DefaultPrecision)
	client := classifier.NewClient(classifier.NewHTTPTransport(upstream.URL, upstream.Client()), normalizer, "", logger)
	mocks := mockgen.New(demographics.DefaultCategories(), normalizer, rand.NewSource(7))
	orchestrator := pipeline.New(codec.New(MaxUploadSize), client, mocks, logger)

	issuer, err := session.NewIssuer(testSessionSecret, time.Hour)
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	registry, err := session.NewRegistry(16, store.NewMemoryProvider(0, time.Hour), logger)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	router := gin.New()
	router.MaxMultipartMemory = MaxUploadSize
	h := New(Options{Orchestrator: orchestrator, Issuer: issuer, Logger: logger})
	RegisterRoutes(router, h, session.Middleware(issuer, registry))

	return &testServer{router: router, registry: registry, issuer: issuer}
}

func classifierOK(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte(`{"data":{"race":{"white":0.7,"black":0.3},"age":{"20-29":0.9,"30-39":0.1},"gender":{"male":0.4,"female":0.6}}}`))
}

func (s *testServer) token(t *testing.T) (string, string) {
	t.Helper()
	token, id, err := s.issuer.Issue()
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token, id
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	s.router.ServeHTTP(resp, req)
	return resp
}

func decode(t *testing.T, resp *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(resp.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", resp.Body.String(), err)
	}
}

func TestGalleryRejectsLargeUpload(t *testing.T) {
	srv := newTestServer(t, classifierOK)
	token, _ := srv.token(t)
	body, contentType := buildMultipartBody(t, "image/png", bytes.Repeat([]byte("a"), MaxUploadSize+1))

	req := httptest.NewRequest(http.MethodPost, "/capture/gallery", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)

	resp := httptest.NewRecorder()
	srv.router.ServeHTTP(resp, req)

	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status %d, got %d", http.StatusRequestEntityTooLarge, resp.Code)
	}
}

func TestGalleryRejectsUnsupportedContentType(t *testing.T) {
	srv := newTestServer(t, classifierOK)
	token, _ := srv.token(t)
	body, contentType := buildMultipartBody(t, "text/plain", []byte("hello"))

	req := httptest.NewRequest(http.MethodPost, "/capture/gallery", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)

	resp := httptest.NewRecorder()
	srv.router.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected status %d, got %d", http.StatusUnsupportedMediaType, resp.Code)
	}
}

func TestGalleryUploadFallsBackWhenClassifierFails(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	token, _ := srv.token(t)
	body, contentType := buildMultipartBody(t, "image/jpeg", jpegFrame)

	req := httptest.NewRequest(http.MethodPost, "/capture/gallery", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	srv.router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var result pipeline.Result
	decode(t, resp, &result)
	if !result.Fallback || !result.Record.IsMockData || result.Record.Source != demographics.SourceGallery {
		t.Fatalf("expected gallery mock record, got %+v", result.Record)
	}
}

func TestCameraCaptureThroughCorrection(t *testing.T) {
	srv := newTestServer(t, classifierOK)
	token, _ := srv.token(t)

	frame := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpegFrame)
	resp := srv.do(t, http.MethodPost, "/capture/camera", token, gin.H{"image": frame})
	if resp.Code != http.StatusOK {
		t.Fatalf("capture: %d %s", resp.Code, resp.Body.String())
	}
	var result pipeline.Result
	decode(t, resp, &result)
	if result.Record.Source != demographics.SourceAPI || result.Record.Race != "White" || result.Photo != frame {
		t.Fatalf("unexpected capture result: %+v", result)
	}

	resp = srv.do(t, http.MethodGet, "/analysis", token, nil)
	var analysis struct {
		Demographics demographics.Record `json:"demographics"`
		Photo        string              `json:"photo"`
	}
	decode(t, resp, &analysis)
	if analysis.Photo != frame || analysis.Demographics.ConfidenceScore != 70 {
		t.Fatalf("unexpected analysis: %+v", analysis)
	}

	resp = srv.do(t, http.MethodPost, "/correction/select", token, gin.H{"category": "race", "value": "Asian"})
	if resp.Code != http.StatusOK {
		t.Fatalf("select: %d %s", resp.Code, resp.Body.String())
	}
	resp = srv.do(t, http.MethodPost, "/correction/select", token, gin.H{"category": "race", "value": "Black"})
	if resp.Code != http.StatusOK {
		t.Fatalf("select: %d %s", resp.Code, resp.Body.String())
	}

	var selection struct {
		Selection struct {
			Race string `json:"race"`
			Sex  string `json:"sex"`
		} `json:"selection"`
	}
	decode(t, srv.do(t, http.MethodPost, "/correction/reset", token, nil), &selection)
	if selection.Selection.Race != "White" || selection.Selection.Sex != "Female" {
		t.Fatalf("expected reset to prediction, got %+v", selection)
	}

	resp = srv.do(t, http.MethodPost, "/correction/select", token, gin.H{"category": "height", "value": "tall"})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown category, got %d", resp.Code)
	}

	decode(t, srv.do(t, http.MethodPost, "/correction/confirm", token, nil), &selection)
	if selection.Selection.Race != "White" {
		t.Fatalf("unexpected confirmed selection: %+v", selection)
	}
}

func TestCorrectionOptionsFollowRecord(t *testing.T) {
	srv := newTestServer(t, classifierOK)
	token, _ := srv.token(t)

	frame := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpegFrame)
	if resp := srv.do(t, http.MethodPost, "/capture/camera", token, gin.H{"image": frame}); resp.Code != http.StatusOK {
		t.Fatalf("capture: %d %s", resp.Code, resp.Body.String())
	}

	resp := srv.do(t, http.MethodGet, "/correction", token, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("correction: %d %s", resp.Code, resp.Body.String())
	}
	var body struct {
		Selection correction.Selection `json:"selection"`
		Options   correction.Options   `json:"options"`
	}
	decode(t, resp, &body)

	if body.Selection.Age != "20-29" {
		t.Fatalf("expected predicted age selected, got %+v", body.Selection)
	}
	found := false
	for _, opt := range body.Options.Age {
		if opt.Label == body.Selection.Age {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected age %q among options %+v", body.Selection.Age, body.Options.Age)
	}
	if len(body.Options.Race) != 2 || body.Options.Race[0].Label != "White" || body.Options.Race[1].Label != "Black" {
		t.Fatalf("expected race options from the prediction, got %+v", body.Options.Race)
	}
	if c := body.Options.Race[0].Confidence; c == nil || *c != 70 {
		t.Fatalf("expected White at 70, got %v", c)
	}
	if len(body.Options.Sex) != 2 {
		t.Fatalf("expected Male and Female, got %+v", body.Options.Sex)
	}
}

func TestCameraRejectsMalformedFrame(t *testing.T) {
	srv := newTestServer(t, classifierOK)
	token, _ := srv.token(t)

	resp := srv.do(t, http.MethodPost, "/capture/camera", token, gin.H{"image": "image/jpeg;base64,abc"})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestCaptureRejectedWhileBusy(t *testing.T) {
	srv := newTestServer(t, classifierOK)
	token, id := srv.token(t)

	sess := srv.registry.Get(id)
	if !sess.Trigger.TryAcquire(1) {
		t.Fatal("trigger unexpectedly held")
	}
	defer sess.Trigger.Release(1)

	frame := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpegFrame)
	resp := srv.do(t, http.MethodPost, "/capture/camera", token, gin.H{"image": frame})
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.Code)
	}
}

func TestProfileLifecycle(t *testing.T) {
	srv := newTestServer(t, classifierOK)
	token, _ := srv.token(t)

	resp := srv.do(t, http.MethodPut, "/profile", token, gin.H{"name": "Ad"})
	if resp.Code != http.StatusOK {
		t.Fatalf("partial update: %d", resp.Code)
	}

	var got struct {
		Profile demographics.Profile `json:"profile"`
		Locked  bool                 `json:"locked"`
	}
	decode(t, srv.do(t, http.MethodGet, "/profile", token, nil), &got)
	if got.Profile.Name != "Ad" || got.Locked {
		t.Fatalf("expected partial profile restored, got %+v", got)
	}

	resp = srv.do(t, http.MethodPost, "/profile/submit", token, gin.H{"name": "Ada", "location": "  "})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank location, got %d", resp.Code)
	}

	resp = srv.do(t, http.MethodPost, "/profile/submit", token, gin.H{"name": " Ada ", "location": "Lagos"})
	if resp.Code != http.StatusOK {
		t.Fatalf("submit: %d %s", resp.Code, resp.Body.String())
	}

	resp = srv.do(t, http.MethodPut, "/profile", token, gin.H{"name": "Eve"})
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 after submit, got %d", resp.Code)
	}

	decode(t, srv.do(t, http.MethodGet, "/profile", token, nil), &got)
	if got.Profile.Name != "Ada" || got.Profile.Location != "Lagos" || !got.Locked {
		t.Fatalf("unexpected profile: %+v", got)
	}
}

func TestAnalysisWithoutCaptureSynthesizesMock(t *testing.T) {
	srv := newTestServer(t, classifierOK)
	token, _ := srv.token(t)

	if resp := srv.do(t, http.MethodGet, "/correction", token, nil); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before any analysis, got %d", resp.Code)
	}

	var first, second struct {
		Demographics demographics.Record `json:"demographics"`
	}
	decode(t, srv.do(t, http.MethodGet, "/analysis", token, nil), &first)
	if first.Demographics.Source != demographics.SourceMock || !first.Demographics.IsMockData {
		t.Fatalf("expected mock record, got %+v", first.Demographics)
	}

	decode(t, srv.do(t, http.MethodGet, "/analysis", token, nil), &second)
	if second.Demographics.Timestamp != first.Demographics.Timestamp {
		t.Fatal("expected synthesized record to be persisted")
	}

	if resp := srv.do(t, http.MethodGet, "/correction", token, nil); resp.Code != http.StatusOK {
		t.Fatalf("expected correction after analysis, got %d", resp.Code)
	}
}

func TestRetakeClearsAnalysis(t *testing.T) {
	srv := newTestServer(t, classifierOK)
	token, id := srv.token(t)

	frame := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpegFrame)
	if resp := srv.do(t, http.MethodPost, "/capture/camera", token, gin.H{"image": frame}); resp.Code != http.StatusOK {
		t.Fatalf("capture: %d", resp.Code)
	}
	if resp := srv.do(t, http.MethodDelete, "/capture", token, nil); resp.Code != http.StatusNoContent {
		t.Fatalf("retake: %d", resp.Code)
	}

	st := srv.registry.Get(id).Store
	if _, ok := st.Get(context.Background(), store.KeyPhoto); ok {
		t.Fatal("expected photo to be removed")
	}
}

func TestSessionEndpoints(t *testing.T) {
	srv := newTestServer(t, classifierOK)

	resp := srv.do(t, http.MethodPost, "/session", "", nil)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.Code)
	}
	var created struct {
		Token string `json:"token"`
	}
	decode(t, resp, &created)
	if strings.Count(created.Token, ".") != 2 {
		t.Fatalf("expected a signed token, got %q", created.Token)
	}

	if resp := srv.do(t, http.MethodGet, "/profile", "", nil); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.Code)
	}
	if resp := srv.do(t, http.MethodGet, "/profile", created.Token, nil); resp.Code != http.StatusOK {
		t.Fatalf("expected 200 with issued token, got %d", resp.Code)
	}
	if resp := srv.do(t, http.MethodGet, "/metrics/summary", "", nil); resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without analysis log, got %d", resp.Code)
	}
}

func buildMultipartBody(t *testing.T, contentType string, payload []byte) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="image"; filename="upload"`)
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("failed to create multipart part: %v", err)
	}
	if _, err := part.Write(payload); err != nil {
		t.Fatalf("failed to write payload: %v", err)
	}

	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	return body, writer.FormDataContentType()
}
