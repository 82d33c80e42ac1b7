package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fbellamy/anonymiseur/internal/config"
	"github.com/fbellamy/anonymiseur/internal/entity"
	"github.com/fbellamy/anonymiseur/internal/logger"
	"go.uber.org/zap"
)

// defaultOllamaPrompt asks the model for a strict JSON array of detections.
// %s is replaced with the document text. Operators can override the whole
// template through configuration or per request.
const defaultOllamaPrompt = `Analyse le texte juridique suivant et identifie les personnes physiques et les organisations.
Réponds UNIQUEMENT avec un tableau JSON. Chaque élément doit avoir :
- "original" : le texte exact trouvé
- "type" : "person" ou "organization"
- "confidence" : nombre entre 0.0 et 1.0

Texte à analyser :
%s

Réponds UNIQUEMENT avec le tableau JSON, sans explication. Exemple : [{"original":"Jean Dupont","type":"person","confidence":0.95}]`

const maxOllamaResponse = 10 << 20 // 10 MB

// OllamaDetector drives a locally hosted generative model for PII
// detection. Every call is Result-typed: timeouts and connection failures
// surface as ErrUnavailable so the pipeline can degrade.
type OllamaDetector struct {
	baseURL string
	model   string
	prompt  string
	timeout time.Duration
	client  *http.Client
	logger  *logger.Logger
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaResponse struct {
	Response string `json:"response"`
}

type ollamaDetection struct {
	Original   string  `json:"original"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

// NewOllama creates an Ollama-backed detector. The connection is only
// probed on demand; construction never fails.
func NewOllama(cfg config.OllamaConfig, log *logger.Logger) *OllamaDetector {
	prompt := cfg.Prompt
	if prompt == "" {
		prompt = defaultOllamaPrompt
	}
	return &OllamaDetector{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		model:   cfg.Model,
		prompt:  prompt,
		timeout: cfg.Timeout,
		client:  &http.Client{},
		logger:  log,
	}
}

// Override returns a copy of the detector with per-request settings
// applied. Empty fields keep the configured values.
func (d *OllamaDetector) Override(url, model, prompt string, timeout time.Duration) *OllamaDetector {
	clone := *d
	if url != "" {
		clone.baseURL = strings.TrimRight(url, "/")
	}
	if model != "" {
		clone.model = model
	}
	if prompt != "" {
		clone.prompt = prompt
	}
	if timeout > 0 {
		clone.timeout = timeout
	}
	return &clone
}

// Available probes the Ollama API with a short deadline.
func (d *OllamaDetector) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Models lists the models installed on the Ollama host.
func (d *OllamaDetector) Models(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("create ollama request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama unreachable: %w", entity.ErrUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama returned %d: %w", resp.StatusCode, entity.ErrUnavailable)
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("decode ollama tags: %w", err)
	}

	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// Detect asks the model for person/organization detections and locates
// every occurrence of each detected string in the text. Returns
// ErrUnavailable on timeout or connection failure.
func (d *OllamaDetector) Detect(ctx context.Context, text string) ([]Candidate, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	reqBody, err := json.Marshal(ollamaRequest{
		Model:  d.model,
		Prompt: fmt.Sprintf(d.prompt, text),
		Stream: false,
	})
	if err != nil {
		return nil, fmt.Errorf("encode ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/api/generate", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.Warn("Ollama request failed", zap.Error(err))
		return nil, fmt.Errorf("ollama: %w", entity.ErrUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		d.logger.Warn("Ollama returned non-OK status", zap.Int("status", resp.StatusCode))
		return nil, fmt.Errorf("ollama returned %d: %w", resp.StatusCode, entity.ErrUnavailable)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxOllamaResponse))
	if err != nil {
		return nil, fmt.Errorf("read ollama response: %w", entity.ErrUnavailable)
	}

	var generated ollamaResponse
	if err := json.Unmarshal(body, &generated); err != nil {
		return nil, fmt.Errorf("decode ollama response: %w", err)
	}

	detections, err := parseDetections(generated.Response)
	if err != nil {
		d.logger.Warn("Ollama produced unparseable detections", zap.Error(err))
		return []Candidate{}, nil
	}

	return d.locate(text, detections), nil
}

// parseDetections extracts the JSON array from the model's free-text
// response. Generative models often wrap the array in prose.
func parseDetections(raw string) ([]ollamaDetection, error) {
	raw = strings.TrimSpace(raw)
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("no JSON array in ollama response")
	}

	var detections []ollamaDetection
	if err := json.Unmarshal([]byte(raw[start:end+1]), &detections); err != nil {
		return nil, fmt.Errorf("parse detections: %w", err)
	}
	return detections, nil
}

// locate turns detected strings into positioned candidates, one per
// occurrence in the text. Detections absent from the text are dropped.
func (d *OllamaDetector) locate(text string, detections []ollamaDetection) []Candidate {
	var candidates []Candidate
	for _, det := range detections {
		if det.Original == "" {
			continue
		}

		var typ entity.Type
		switch strings.ToLower(det.Type) {
		case "person", "personne":
			typ = entity.TypePerson
		case "organization", "organisation":
			typ = entity.TypeOrganization
		default:
			continue
		}

		confidence := det.Confidence
		if confidence < 0 || confidence > 1 {
			continue
		}

		for offset := 0; ; {
			idx := strings.Index(text[offset:], det.Original)
			if idx == -1 {
				break
			}
			start := offset + idx
			end := start + len(det.Original)
			candidates = append(candidates, Candidate{
				Text:       det.Original,
				Type:       typ,
				Source:     entity.SourceOllama,
				Confidence: confidence,
				Span:       entity.Position{Start: start, End: end},
			})
			offset = end
		}
	}
	return candidates
}
