package sinkin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"sweeplab/internal/domain"
)

type captureTransport struct {
	responses   map[string]responseStub
	lastBody    []byte
	lastType    string
	calls       int
	transportFn func() error
}

type responseStub struct {
	status int
	body   []byte
}

func (c *captureTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	c.calls++
	if c.transportFn != nil {
		if err := c.transportFn(); err != nil {
			return nil, err
		}
	}
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	req.Body.Close()
	c.lastBody = body
	c.lastType = req.Header.Get("Content-Type")
	stub, ok := c.responses[req.URL.Path]
	if !ok {
		stub = responseStub{status: http.StatusNotFound, body: []byte("not found")}
	}
	return &http.Response{
		StatusCode: stub.status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(bytes.NewReader(stub.body)),
	}, nil
}

func (c *captureTransport) setJSONResponse(path string, payload any) {
	body, _ := json.Marshal(payload)
	c.responses[path] = responseStub{status: http.StatusOK, body: body}
}

func newTestClient(t *testing.T, transport http.RoundTripper) *Client {
	t.Helper()
	client, err := NewClient(Options{
		APIKey:     "secret-token",
		BaseURL:    "https://sinkin.test/api",
		HTTPClient: &http.Client{Transport: transport},
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func baseRequest() InferenceRequest {
	return InferenceRequest{
		ModelID:       "4zdwGOB",
		Prompt:        "a lighthouse",
		UseDefaultNeg: true,
		Width:         512,
		Height:        768,
		Steps:         30,
		Scale:         7.5,
		NumImages:     4,
		Seed:          -1,
		Scheduler:     "DPMSolverMultistep",
		ImageStrength: 0.6,
		ControlNet:    "canny",
	}
}

func TestInferenceFormPayload(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	transport.setJSONResponse("/api/inference", map[string]any{
		"error_code":  0,
		"images":      []string{"https://cdn/a.png", "https://cdn/b.png"},
		"inf_id":      "inf-123",
		"credit_cost": 1.5,
		"seed":        987,
	})
	client := newTestClient(t, transport)

	payload, resp, err := client.Inference(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("inference: %v", err)
	}
	if resp.Failed() {
		t.Fatalf("expected success, got %+v", resp)
	}
	if len(resp.Images) != 2 || resp.InfID != "inf-123" || resp.CreditCost != 1.5 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if seed, ok := resp.ProviderSeed(); !ok || seed != 987 {
		t.Fatalf("ProviderSeed = %d, %v", seed, ok)
	}
	if !bytes.Contains(resp.RawJSON(), []byte("inf-123")) {
		t.Fatalf("RawJSON should be the body as received: %s", resp.RawJSON())
	}

	if _, ok := payload["access_token"]; ok {
		t.Fatalf("payload must not contain the access token")
	}
	if _, ok := payload["image_strength"]; ok {
		t.Fatalf("image_strength must only be sent with a seed image")
	}
	if _, ok := payload["controlnet"]; ok {
		t.Fatalf("controlnet must only be sent with a seed image")
	}
	if payload["use_default_neg"] != "true" {
		t.Fatalf("use_default_neg = %q", payload["use_default_neg"])
	}

	if transport.lastType != "application/x-www-form-urlencoded" {
		t.Fatalf("content type = %q", transport.lastType)
	}
	form, err := url.ParseQuery(string(transport.lastBody))
	if err != nil {
		t.Fatalf("parse form: %v", err)
	}
	if form.Get("access_token") != "secret-token" {
		t.Fatalf("access token not sent")
	}
	if form.Get("scale") != "7.5" || form.Get("seed") != "-1" {
		t.Fatalf("unexpected form: %v", form)
	}
	if form.Has("negative_prompt") || form.Has("lora") {
		t.Fatalf("optional fields should be omitted: %v", form)
	}
}

func TestInferenceMultipartWithSeedImage(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	transport.setJSONResponse("/api/inference", map[string]any{"error_code": 0, "images": []string{}, "inf_id": "x"})
	client := newTestClient(t, transport)

	req := baseRequest()
	req.InitImage = []byte{0x89, 'P', 'N', 'G'}
	req.InitImageName = "seed.png"
	req.LoRA = "lora-1"
	req.LoRAScale = 0.5
	req.NegativePrompt = "blurry"

	payload, _, err := client.Inference(context.Background(), req)
	if err != nil {
		t.Fatalf("inference: %v", err)
	}
	if payload["image_strength"] != "0.6" || payload["controlnet"] != "canny" {
		t.Fatalf("img2img fields missing: %v", payload)
	}
	if payload["lora"] != "lora-1" || payload["lora_scale"] != "0.5" || payload["negative_prompt"] != "blurry" {
		t.Fatalf("optional fields missing: %v", payload)
	}

	mediaType, params, err := mime.ParseMediaType(transport.lastType)
	if err != nil || mediaType != "multipart/form-data" {
		t.Fatalf("content type = %q (%v)", transport.lastType, err)
	}
	reader := multipart.NewReader(bytes.NewReader(transport.lastBody), params["boundary"])
	form, err := reader.ReadForm(1 << 20)
	if err != nil {
		t.Fatalf("read multipart: %v", err)
	}
	if got := form.Value["access_token"]; len(got) != 1 || got[0] != "secret-token" {
		t.Fatalf("access token not sent: %v", got)
	}
	files := form.File["init_image_file"]
	if len(files) != 1 || files[0].Filename != "seed.png" {
		t.Fatalf("init image part missing: %+v", files)
	}
}

func TestInferenceNormalizesFailures(t *testing.T) {
	cases := map[string]func(*captureTransport){
		"transport error": func(c *captureTransport) {
			c.transportFn = func() error { return errors.New("connection refused") }
		},
		"non-2xx": func(c *captureTransport) {
			c.responses["/api/inference"] = responseStub{status: http.StatusBadGateway, body: []byte("upstream down")}
		},
		"undecodable": func(c *captureTransport) {
			c.responses["/api/inference"] = responseStub{status: http.StatusOK, body: []byte("<html>")}
		},
	}
	for name, setup := range cases {
		t.Run(name, func(t *testing.T) {
			transport := &captureTransport{responses: map[string]responseStub{}}
			setup(transport)
			client := newTestClient(t, transport)

			_, resp, err := client.Inference(context.Background(), baseRequest())
			if err != nil {
				t.Fatalf("transport failures must not surface as errors: %v", err)
			}
			if !resp.Failed() || resp.ErrorCode == 0 || resp.Message == "" {
				t.Fatalf("expected normalized failure, got %+v", resp)
			}
		})
	}
}

func TestInferenceProviderError(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	transport.setJSONResponse("/api/inference", map[string]any{"error_code": 7, "message": "Insufficient credits"})
	client := newTestClient(t, transport)

	_, resp, err := client.Inference(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("inference: %v", err)
	}
	if resp.ErrorCode != 7 || resp.ErrorMessage() != "Insufficient credits" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestMissingAPIKey(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	client, err := NewClient(Options{HTTPClient: &http.Client{Transport: transport}})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, _, err := client.Inference(context.Background(), baseRequest()); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("Inference error = %v, want configuration error", err)
	}
	if _, err := client.Upscale(context.Background(), UpscaleRequest{}); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("Upscale error = %v, want ErrMissingAPIKey", err)
	}
	if _, err := client.Models(context.Background()); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("Models error = %v, want ErrMissingAPIKey", err)
	}
	if transport.calls != 0 {
		t.Fatalf("no request should be sent without credentials")
	}
}

func TestUpscaleModeSpecificParameters(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	transport.setJSONResponse("/api/upscale", map[string]any{"error_code": 0, "output": "https://cdn/up.png", "credit_cost": 0.2})
	client := newTestClient(t, transport)

	resp, err := client.Upscale(context.Background(), UpscaleRequest{InfID: "inf", URL: "https://cdn/a.png", Type: UpscaleESRGAN, Scale: 4, Strength: 0.3})
	if err != nil {
		t.Fatalf("upscale: %v", err)
	}
	if resp.Failed() || resp.Output != "https://cdn/up.png" || resp.CreditCost != 0.2 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	form, _ := url.ParseQuery(string(transport.lastBody))
	if form.Get("scale") != "4" || form.Has("strength") {
		t.Fatalf("esrgan form = %v", form)
	}

	if _, err := client.Upscale(context.Background(), UpscaleRequest{InfID: "inf", URL: "u", Type: UpscaleHiresFix, Scale: 4, Strength: 0.3}); err != nil {
		t.Fatalf("upscale: %v", err)
	}
	form, _ = url.ParseQuery(string(transport.lastBody))
	if form.Get("strength") != "0.3" || form.Has("scale") {
		t.Fatalf("hires_fix form = %v", form)
	}
}

func TestModelsReturnsCatalogVerbatim(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/models" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseForm(); err != nil || r.PostForm.Get("access_token") != "secret-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"error_code":0,"models":[{"id":"4zdwGOB","name":"DreamShaper"}]}`))
	}))
	defer srv.Close()

	client, err := NewClient(Options{APIKey: "secret-token", BaseURL: srv.URL + "/api"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	resp, err := client.Models(context.Background())
	if err != nil {
		t.Fatalf("models: %v", err)
	}
	if resp.Failed() || !strings.Contains(string(resp.Raw), "DreamShaper") {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestGenerateTimeoutIsNormalized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	client, err := NewClient(Options{APIKey: "k", BaseURL: srv.URL, GenerateTimeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, resp, err := client.Inference(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("inference: %v", err)
	}
	if !resp.Failed() || !strings.Contains(resp.Message, "timed out") {
		t.Fatalf("expected timeout failure, got %+v", resp)
	}
}

func TestParseUpscaleType(t *testing.T) {
	if _, err := ParseUpscaleType("esrgan"); err != nil {
		t.Fatalf("esrgan rejected: %v", err)
	}
	if _, err := ParseUpscaleType("bicubic"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("bicubic accepted: %v", err)
	}
}
