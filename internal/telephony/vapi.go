package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pablodelmoral/gritoncall/internal/config"
)

const maxResponseBytes = 1 << 20

// VapiProvider talks to the Vapi REST API.
type VapiProvider struct {
	apiKey        string
	phoneNumberID string
	baseURL       string
	client        *http.Client
}

func NewVapiProvider(cfg config.VapiConfig, client *http.Client) (*VapiProvider, error) {
	if cfg.APIKey == "" || cfg.PhoneNumberID == "" {
		return nil, errors.New("telephony: vapi api key and phone number id are required")
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://api.vapi.ai"
	}
	return &VapiProvider{
		apiKey:        cfg.APIKey,
		phoneNumberID: cfg.PhoneNumberID,
		baseURL:       base,
		client:        client,
	}, nil
}

func (p *VapiProvider) Name() string { return "vapi" }

type vapiServer struct {
	URL            string `json:"url"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

type vapiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type vapiModel struct {
	Provider    string             `json:"provider"`
	Model       string             `json:"model"`
	Temperature float64            `json:"temperature"`
	Messages    []vapiMessage      `json:"messages"`
	Functions   []FunctionContract `json:"functions,omitempty"`
}

type vapiVoice struct {
	Provider        string   `json:"provider"`
	VoiceID         string   `json:"voiceId"`
	Model           string   `json:"model,omitempty"`
	Stability       *float64 `json:"stability,omitempty"`
	SimilarityBoost *float64 `json:"similarityBoost,omitempty"`
}

type vapiAssistantBody struct {
	Name                         string     `json:"name"`
	Server                       vapiServer `json:"server"`
	Model                        vapiModel  `json:"model"`
	Voice                        vapiVoice  `json:"voice"`
	FirstMessage                 string     `json:"firstMessage"`
	EndCallMessage               string     `json:"endCallMessage"`
	EndCallPhrases               []string   `json:"endCallPhrases,omitempty"`
	MaxDurationSeconds           int        `json:"maxDurationSeconds"`
	SilenceTimeoutSeconds        int        `json:"silenceTimeoutSeconds"`
	ResponseDelaySeconds         float64    `json:"responseDelaySeconds"`
	LLMRequestDelaySeconds       float64    `json:"llmRequestDelaySeconds"`
	NumWordsToInterruptAssistant int        `json:"numWordsToInterruptAssistant"`
	BackgroundSound              string     `json:"backgroundSound"`
}

type vapiCustomer struct {
	Number string `json:"number"`
}

type vapiPhoneCallBody struct {
	AssistantID   string       `json:"assistantId"`
	PhoneNumberID string       `json:"phoneNumberId"`
	Customer      vapiCustomer `json:"customer"`
	Metadata      CallMetadata `json:"metadata"`
}

func (p *VapiProvider) CreateAssistant(ctx context.Context, req AssistantRequest) (Assistant, error) {
	body := vapiAssistantBody{
		Name: req.Name,
		Server: vapiServer{
			URL:            req.ServerURL,
			TimeoutSeconds: req.ServerTimeoutSeconds,
		},
		Model: vapiModel{
			Provider:    "openai",
			Model:       req.Model,
			Temperature: req.Temperature,
			Messages:    []vapiMessage{{Role: "system", Content: req.SystemPrompt}},
			Functions:   req.Functions,
		},
		Voice: vapiVoice{
			Provider:        req.Voice.Provider,
			VoiceID:         req.Voice.VoiceID,
			Model:           req.Voice.Model,
			Stability:       req.Voice.Stability,
			SimilarityBoost: req.Voice.SimilarityBoost,
		},
		FirstMessage:                 req.FirstMessage,
		EndCallMessage:               req.EndCallMessage,
		EndCallPhrases:               req.EndCallPhrases,
		MaxDurationSeconds:           req.MaxDurationSeconds,
		SilenceTimeoutSeconds:        req.SilenceTimeoutSeconds,
		ResponseDelaySeconds:         req.ResponseDelaySeconds,
		LLMRequestDelaySeconds:       req.LLMRequestDelaySeconds,
		NumWordsToInterruptAssistant: req.NumWordsToInterruptAssistant,
		BackgroundSound:              req.BackgroundSound,
	}

	var out Assistant
	if err := p.post(ctx, "vapi create assistant", "/assistant", body, &out); err != nil {
		return Assistant{}, err
	}
	if out.ID == "" {
		return Assistant{}, fmt.Errorf("%w: vapi create assistant returned no id", ErrProvider)
	}
	return out, nil
}

func (p *VapiProvider) CreatePhoneCall(ctx context.Context, req PhoneCallRequest) (PhoneCall, error) {
	if req.AssistantID == "" || req.CustomerNumber == "" {
		return PhoneCall{}, errors.New("telephony: assistant id and customer number are required")
	}
	body := vapiPhoneCallBody{
		AssistantID:   req.AssistantID,
		PhoneNumberID: p.phoneNumberID,
		Customer:      vapiCustomer{Number: req.CustomerNumber},
		Metadata:      req.Metadata,
	}

	var out PhoneCall
	if err := p.post(ctx, "vapi create call", "/call/phone", body, &out); err != nil {
		return PhoneCall{}, err
	}
	if out.ID == "" {
		return PhoneCall{}, fmt.Errorf("%w: vapi create call returned no id", ErrProvider)
	}
	return out, nil
}

func (p *VapiProvider) post(ctx context.Context, op, path string, in, out any) error {
	buf, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("telephony: %s: encode: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("telephony: %s: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrProvider, op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: %s: read body: %v", ErrProvider, op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %s: decode: %v", ErrProvider, op, err)
	}
	return nil
}
