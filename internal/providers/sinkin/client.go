package sinkin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"sweeplab/internal/domain"
	"sweeplab/internal/infra"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = fmt.Errorf("%w: SINKIN_API_KEY not configured", domain.ErrConfiguration)

const (
	defaultBaseURL         = "https://sinkin.ai/api"
	defaultGenerateTimeout = 120 * time.Second
	defaultUpscaleTimeout  = 120 * time.Second
	defaultListTimeout     = 30 * time.Second
	maxErrorBody           = 512
)

// Options configures the SinkIn client.
type Options struct {
	APIKey          string
	BaseURL         string
	HTTPClient      *http.Client
	Logger          *infra.Logger
	GenerateTimeout time.Duration
	UpscaleTimeout  time.Duration
	ListTimeout     time.Duration
}

// Client performs blocking calls against the SinkIn inference API. Every
// failure past the credential check is folded into the returned response
// with a nonzero error code.
type Client struct {
	apiKey          string
	baseURL         string
	httpClient      *http.Client
	logger          *infra.Logger
	generateTimeout time.Duration
	upscaleTimeout  time.Duration
	listTimeout     time.Duration
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if u, err := url.Parse(baseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid sinkin base url %q", domain.ErrConfiguration, baseURL)
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		l := infra.Component(*opts.Logger, "sinkin")
		logger = &l
	} else {
		l := infra.Logger(zerolog.New(io.Discard))
		logger = &l
	}
	return &Client{
		apiKey:          strings.TrimSpace(opts.APIKey),
		baseURL:         baseURL,
		httpClient:      httpClient,
		logger:          logger,
		generateTimeout: orDefault(opts.GenerateTimeout, defaultGenerateTimeout),
		upscaleTimeout:  orDefault(opts.UpscaleTimeout, defaultUpscaleTimeout),
		listTimeout:     orDefault(opts.ListTimeout, defaultListTimeout),
	}, nil
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// Inference calls /inference. The returned payload is what was sent minus
// the access token, suitable for logging and storage.
func (c *Client) Inference(ctx context.Context, req InferenceRequest) (Payload, *InferenceResponse, error) {
	if !c.HasCredentials() {
		return nil, nil, ErrMissingAPIKey
	}
	payload := buildInferencePayload(req)
	log := c.logger.With().Int("batch", req.BatchNumber).Int64("job_id", req.JobID).Logger()
	log.Info().
		Str("model", req.ModelID).
		Str("scheduler", req.Scheduler).
		Int64("seed", req.Seed).
		Int("num_images", req.NumImages).
		Bool("img2img", req.InitImage != nil).
		Msg("sinkin: generating images")
	log.Debug().Interface("payload", payload).Msg("sinkin: inference payload")

	ctx, cancel := context.WithTimeout(ctx, c.generateTimeout)
	defer cancel()

	var (
		body        io.Reader
		contentType string
	)
	form := c.withToken(payload)
	if req.InitImage != nil {
		buf, ct, err := multipartBody(form, req.InitImageName, req.InitImage)
		if err != nil {
			return payload, failedInference(err.Error()), nil
		}
		body, contentType = buf, ct
	} else {
		body, contentType = strings.NewReader(form.Encode()), "application/x-www-form-urlencoded"
	}

	raw, err := c.post(ctx, "/inference", body, contentType)
	if err != nil {
		log.Error().Err(err).Str("model", req.ModelID).Interface("payload", payload).Msg("sinkin: inference failed")
		return payload, failedInference(err.Error()), nil
	}
	var resp InferenceResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		log.Error().Err(err).Msg("sinkin: decode inference response")
		return payload, failedInference("decode response: " + err.Error()), nil
	}
	resp.raw = raw
	if resp.Failed() {
		log.Warn().Int("error_code", resp.ErrorCode).Str("message", resp.Message).Msg("sinkin: provider reported error")
		return payload, &resp, nil
	}
	log.Info().
		Str("inf_id", resp.InfID).
		Float64("credit_cost", resp.CreditCost).
		Int("images", len(resp.Images)).
		Msg("sinkin: inference succeeded")
	return payload, &resp, nil
}

// Upscale calls /upscale. Scale is sent for esrgan, strength for hires_fix.
func (c *Client) Upscale(ctx context.Context, req UpscaleRequest) (*UpscaleResponse, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIKey
	}
	form := c.withToken(Payload{
		"inf_id": req.InfID,
		"url":    req.URL,
		"type":   string(req.Type),
	})
	switch req.Type {
	case UpscaleESRGAN:
		form.Set("scale", formatFloat(req.Scale))
	case UpscaleHiresFix:
		form.Set("strength", formatFloat(req.Strength))
	}

	ctx, cancel := context.WithTimeout(ctx, c.upscaleTimeout)
	defer cancel()

	raw, err := c.post(ctx, "/upscale", strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	if err != nil {
		c.logger.Error().Err(err).Str("inf_id", req.InfID).Msg("sinkin: upscale failed")
		return &UpscaleResponse{ErrorCode: 1, Message: err.Error()}, nil
	}
	var resp UpscaleResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return &UpscaleResponse{ErrorCode: 1, Message: "decode response: " + err.Error()}, nil
	}
	c.logger.Info().
		Str("inf_id", req.InfID).
		Str("type", string(req.Type)).
		Int("error_code", resp.ErrorCode).
		Float64("credit_cost", resp.CreditCost).
		Msg("sinkin: upscale finished")
	return &resp, nil
}

// Models calls /models and returns the catalog untouched.
func (c *Client) Models(ctx context.Context) (*ModelsResponse, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIKey
	}
	ctx, cancel := context.WithTimeout(ctx, c.listTimeout)
	defer cancel()

	form := c.withToken(Payload{})
	raw, err := c.post(ctx, "/models", strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	if err != nil {
		c.logger.Error().Err(err).Msg("sinkin: list models failed")
		return &ModelsResponse{ErrorCode: 1, Message: err.Error()}, nil
	}
	var head struct {
		ErrorCode int    `json:"error_code"`
		Message   string `json:"message"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return &ModelsResponse{ErrorCode: 1, Message: "decode response: " + err.Error()}, nil
	}
	return &ModelsResponse{ErrorCode: head.ErrorCode, Message: head.Message, Raw: raw}, nil
}

func (c *Client) withToken(payload Payload) url.Values {
	form := url.Values{}
	for k, v := range payload {
		form.Set(k, v)
	}
	form.Set("access_token", c.apiKey)
	return form
}

func (c *Client) post(ctx context.Context, path string, body io.Reader, contentType string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("request timed out: %w", err)
		}
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := strings.TrimSpace(string(raw))
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, snippet)
	}
	return raw, nil
}

func buildInferencePayload(req InferenceRequest) Payload {
	p := Payload{
		"model_id":        req.ModelID,
		"prompt":          req.Prompt,
		"width":           strconv.Itoa(req.Width),
		"height":          strconv.Itoa(req.Height),
		"steps":           strconv.Itoa(req.Steps),
		"scale":           formatFloat(req.Scale),
		"num_images":      strconv.Itoa(req.NumImages),
		"seed":            strconv.FormatInt(req.Seed, 10),
		"scheduler":       req.Scheduler,
		"use_default_neg": strconv.FormatBool(req.UseDefaultNeg),
	}
	if req.NegativePrompt != "" {
		p["negative_prompt"] = req.NegativePrompt
	}
	if req.LoRA != "" {
		p["lora"] = req.LoRA
		p["lora_scale"] = formatFloat(req.LoRAScale)
	}
	if req.InitImage != nil {
		p["image_strength"] = formatFloat(req.ImageStrength)
		if req.ControlNet != "" {
			p["controlnet"] = req.ControlNet
		}
	}
	return p
}

func multipartBody(form url.Values, filename string, data []byte) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	for key, values := range form {
		for _, v := range values {
			if err := w.WriteField(key, v); err != nil {
				return nil, "", fmt.Errorf("write field %s: %w", key, err)
			}
		}
	}
	if filename == "" {
		filename = "init_image.png"
	}
	part, err := w.CreateFormFile("init_image_file", filename)
	if err != nil {
		return nil, "", fmt.Errorf("create file part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", fmt.Errorf("write file part: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart: %w", err)
	}
	return buf, w.FormDataContentType(), nil
}

func failedInference(message string) *InferenceResponse {
	return &InferenceResponse{ErrorCode: 1, Message: message}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func orDefault(v, fallback time.Duration) time.Duration {
	if v <= 0 {
		return fallback
	}
	return v
}
