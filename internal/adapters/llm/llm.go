// Package llm wraps the vision+text model behind the narrow operations the
// pipeline and chat layer need. Every endpoint sits behind its own token
// bucket, and the structured operations carry a soft fallback: when the
// upstream refuses or malforms, the caller gets a well-formed "unknown"
// result instead of an error.
package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/councilkb/councilkb/internal/adapters"
	"github.com/councilkb/councilkb/internal/config"
	"github.com/councilkb/councilkb/internal/domain"
)

// Classification is the model's answer to classify.
type Classification struct {
	Category         domain.DocCategory     `json:"category"`
	MeetingSubtype   *domain.MeetingSubtype `json:"meeting_subtype"`
	StandardizedName string                 `json:"standardized_name"`
}

// SectionSummary is the model's answer to summarize_section.
type SectionSummary struct {
	Summary     string   `json:"summary"`
	HasDecision bool     `json:"has_decision"`
	ActionItems []string `json:"action_items"`
}

// EventHint is the model's answer to infer_event. Unknown fields come back
// empty, never omitted.
type EventHint struct {
	Title      string `json:"event_title"`
	Year       *int   `json:"year"`
	Department string `json:"department"`
	Date       string `json:"date"` // YYYY-MM-DD or empty
}

// Turn is one prior conversational exchange, for query rewriting.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client is the model operations contract.
type Client interface {
	Caption(ctx context.Context, image []byte, hint string) (string, error)
	Classify(ctx context.Context, fileName, path string) (*Classification, error)
	SummarizeSection(ctx context.Context, section, kind string) (*SectionSummary, error)
	RewriteQuery(ctx context.Context, history []Turn, query string) (string, error)
	GenerateAnswer(ctx context.Context, query string, contexts []string) (string, error)
	InferEvent(ctx context.Context, chunkText string) (*EventHint, error)
	Restructure(ctx context.Context, text string) (string, error)
}

// endpoint names, one rate bucket each.
const (
	epCaption     = "caption"
	epClassify    = "classify"
	epSummarize   = "summarize"
	epRewrite     = "rewrite"
	epAnswer      = "answer"
	epInfer       = "infer_event"
	epRestructure = "restructure"
)

// OpenAIClient implements Client over an OpenAI-compatible API.
type OpenAIClient struct {
	api         *openai.Client
	model       string
	visionModel string
	timeout     time.Duration
	limiters    map[string]*rate.Limiter
}

// Option configures the OpenAIClient.
type Option func(*OpenAIClient)

// WithAPI overrides the underlying API client, mainly for tests.
func WithAPI(api *openai.Client) Option {
	return func(c *OpenAIClient) { c.api = api }
}

// NewOpenAIClient builds a client from settings. Each endpoint gets its own
// token bucket at cfg.RequestsPerSecond (burst 1).
func NewOpenAIClient(cfg config.LLMSettings, opts ...Option) *OpenAIClient {
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}

	c := &OpenAIClient{
		api:         openai.NewClientWithConfig(apiCfg),
		model:       cfg.Model,
		visionModel: cfg.VisionModel,
		timeout:     cfg.Timeout,
		limiters:    make(map[string]*rate.Limiter),
	}
	for _, ep := range []string{epCaption, epClassify, epSummarize, epRewrite, epAnswer, epInfer, epRestructure} {
		c.limiters[ep] = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// complete runs one chat completion under the endpoint's rate bucket and the
// standard retry envelope.
func (c *OpenAIClient) complete(ctx context.Context, ep, model string, msgs []openai.ChatCompletionMessage, jsonMode bool) (string, error) {
	if err := c.limiters[ep].Wait(ctx); err != nil {
		return "", domain.Temporary(err)
	}

	req := openai.ChatCompletionRequest{Model: model, Messages: msgs}
	if jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	var content string
	err := adapters.Retry(ctx, func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		resp, err := c.api.CreateChatCompletion(callCtx, req)
		if err != nil {
			return classifyAPIError(err)
		}
		if len(resp.Choices) == 0 {
			return domain.Permanent(fmt.Errorf("empty completion for %s", ep))
		}
		content = resp.Choices[0].Message.Content
		return nil
	})
	return content, err
}

// classifyAPIError maps go-openai errors to the temporary/permanent split.
// Non-API errors are network-level and always transient.
func classifyAPIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500 {
			return domain.Temporary(err)
		}
		return domain.Permanent(err)
	}
	return domain.Temporary(err)
}

// Caption describes an image. The prompt asks for a markdown table when the
// hint suggests tabular content and a paragraph otherwise.
func (c *OpenAIClient) Caption(ctx context.Context, image []byte, hint string) (string, error) {
	instruction := "이미지를 한 문단으로 설명하세요. 문서 검색에 쓰일 설명이므로 핵심 내용을 담으세요."
	if strings.Contains(hint, "table") || strings.Contains(hint, "표") {
		instruction = "이미지가 표라면 내용을 마크다운 표로 옮기고, 아니라면 한 문단으로 설명하세요."
	}

	model := c.visionModel
	if model == "" {
		model = c.model
	}

	msgs := []openai.ChatCompletionMessage{{
		Role: openai.ChatMessageRoleUser,
		MultiContent: []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: instruction},
			{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
				URL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(image),
			}},
		},
	}}

	out, err := c.complete(ctx, epCaption, model, msgs, false)
	if err != nil {
		return "", fmt.Errorf("failed to caption image; %w", err)
	}
	return strings.TrimSpace(out), nil
}

const classifyPrompt = `다음 파일을 분류하세요. JSON으로만 답하세요:
{"category": "meeting_document" | "work_document" | "other_document",
 "meeting_subtype": "agenda" | "minutes" | "result" | null,
 "standardized_name": "정규화된 표시 이름"}

파일명: %s
경로: %s`

// Classify asks the model to categorize a file by name and path. Responses
// outside the closed enums come back as the soft fallback (other_document).
func (c *OpenAIClient) Classify(ctx context.Context, fileName, path string) (*Classification, error) {
	msgs := []openai.ChatCompletionMessage{{
		Role:    openai.ChatMessageRoleUser,
		Content: fmt.Sprintf(classifyPrompt, fileName, path),
	}}

	out, err := c.complete(ctx, epClassify, c.model, msgs, true)
	if err != nil {
		return softClassification(fileName), nil
	}

	var cl Classification
	if err := json.Unmarshal([]byte(out), &cl); err != nil {
		return softClassification(fileName), nil
	}

	switch cl.Category {
	case domain.CategoryMeeting, domain.CategoryWork, domain.CategoryOther:
	default:
		return softClassification(fileName), nil
	}
	if cl.MeetingSubtype != nil {
		switch *cl.MeetingSubtype {
		case domain.SubtypeAgenda, domain.SubtypeMinutes, domain.SubtypeResult:
		default:
			cl.MeetingSubtype = nil
		}
	}
	if cl.StandardizedName == "" {
		cl.StandardizedName = fileName
	}
	return &cl, nil
}

func softClassification(fileName string) *Classification {
	return &Classification{Category: domain.CategoryOther, StandardizedName: fileName}
}

const summarizePrompt = `다음 %s 섹션을 요약하세요. JSON으로만 답하세요:
{"summary": "한두 문장 요약", "has_decision": true|false, "action_items": ["할 일", ...]}

섹션:
%s`

// SummarizeSection summarizes one agenda-item section. Failure yields the
// soft fallback: empty summary, no decision, no action items.
func (c *OpenAIClient) SummarizeSection(ctx context.Context, section, kind string) (*SectionSummary, error) {
	msgs := []openai.ChatCompletionMessage{{
		Role:    openai.ChatMessageRoleUser,
		Content: fmt.Sprintf(summarizePrompt, kind, section),
	}}

	out, err := c.complete(ctx, epSummarize, c.model, msgs, true)
	if err != nil {
		return &SectionSummary{}, nil
	}

	var s SectionSummary
	if err := json.Unmarshal([]byte(out), &s); err != nil {
		return &SectionSummary{}, nil
	}
	return &s, nil
}

const rewritePrompt = `이전 대화를 참고해 마지막 질문을 맥락 없이도 이해되는 한 문장 질문으로 바꾸세요. 대명사를 구체적인 대상으로 바꾸고, 질문 외의 다른 말은 하지 마세요.`

// RewriteQuery folds recent turns into a self-contained query. On any
// failure the raw query is returned so chat degrades instead of failing.
func (c *OpenAIClient) RewriteQuery(ctx context.Context, history []Turn, query string) (string, error) {
	if len(history) == 0 {
		return query, nil
	}

	msgs := []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleSystem, Content: rewritePrompt}}
	for _, t := range history {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: t.Role, Content: t.Content})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: query})

	out, err := c.complete(ctx, epRewrite, c.model, msgs, false)
	if err != nil || strings.TrimSpace(out) == "" {
		return query, nil
	}
	return strings.TrimSpace(out), nil
}

const answerPrompt = `당신은 의회 문서 지식베이스의 어시스턴트입니다. 아래 자료만 근거로 질문에 답하세요. 자료에 없는 내용은 모른다고 답하세요.

자료:
%s`

// GenerateAnswer produces the assistant response grounded on the retrieved
// sections. This is the one operation whose failure surfaces to the caller;
// chat degrades to sources-only when it errors.
func (c *OpenAIClient) GenerateAnswer(ctx context.Context, query string, contexts []string) (string, error) {
	var b strings.Builder
	for i, s := range contexts {
		fmt.Fprintf(&b, "[%d] %s\n\n", i+1, s)
	}

	msgs := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: fmt.Sprintf(answerPrompt, b.String())},
		{Role: openai.ChatMessageRoleUser, Content: query},
	}

	out, err := c.complete(ctx, epAnswer, c.model, msgs, false)
	if err != nil {
		return "", fmt.Errorf("failed to generate answer; %w", err)
	}
	return strings.TrimSpace(out), nil
}

const restructurePrompt = `다음 문서를 마크다운 헤더 구조로 재구성하세요. 안건 분류(보고/논의/의결/기타 안건)는 H1(#), 개별 안건은 H2(##, 예: "## 논의안건 1. 제목")로 표시하세요. 본문 내용은 바꾸지 말고 구조만 부여하세요. 재구성된 마크다운만 출력하세요.

문서:
%s`

// Restructure asks the model to impose the canonical header hierarchy on an
// unstructured document. The caller validates the result; failure here just
// returns an error and the caller falls back to the raw text.
func (c *OpenAIClient) Restructure(ctx context.Context, text string) (string, error) {
	msgs := []openai.ChatCompletionMessage{{
		Role:    openai.ChatMessageRoleUser,
		Content: fmt.Sprintf(restructurePrompt, text),
	}}

	out, err := c.complete(ctx, epRestructure, c.model, msgs, false)
	if err != nil {
		return "", fmt.Errorf("failed to restructure document; %w", err)
	}
	return strings.TrimSpace(out), nil
}

const inferEventPrompt = `다음 회의 문서 섹션이 어떤 행사/회의에 관한 것인지 추론하세요. JSON으로만 답하세요:
{"event_title": "행사 제목 (모르면 빈 문자열)", "year": 연도 또는 null,
 "department": "담당 부서 (모르면 빈 문자열)", "date": "YYYY-MM-DD 또는 빈 문자열"}

섹션:
%s`

// InferEvent extracts the event a section belongs to. The soft fallback is
// an empty hint, which the enrichment stage treats as "no event".
func (c *OpenAIClient) InferEvent(ctx context.Context, chunkText string) (*EventHint, error) {
	msgs := []openai.ChatCompletionMessage{{
		Role:    openai.ChatMessageRoleUser,
		Content: fmt.Sprintf(inferEventPrompt, chunkText),
	}}

	out, err := c.complete(ctx, epInfer, c.model, msgs, true)
	if err != nil {
		return &EventHint{}, nil
	}

	var h EventHint
	if err := json.Unmarshal([]byte(out), &h); err != nil {
		return &EventHint{}, nil
	}
	return &h, nil
}
