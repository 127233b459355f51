package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/NatureBlueee/towow/pkg/models"
)

// HTTPConfig configures the HTTP oracle client.
type HTTPConfig struct {
	// BaseURL of the oracle service, e.g. "http://localhost:9090".
	// Operations are POSTed to BaseURL + "/v1/oracle/<op>".
	BaseURL string
	// APIKey, if set, is sent as a bearer token.
	APIKey string
	// RequestsPerSecond caps upstream call rate. 0 disables limiting.
	RequestsPerSecond float64
	// Burst for the rate limiter. Defaults to 1 when limiting is on.
	Burst int
	// Client overrides the default http.Client (mainly for tests).
	Client *http.Client
}

// HTTPService talks JSON over HTTP to an oracle endpoint. It performs
// no retries and no fallbacks of its own; that is the Adapter's job.
type HTTPService struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
}

var _ Service = (*HTTPService)(nil)

// NewHTTPService creates an HTTP oracle client.
func NewHTTPService(cfg HTTPConfig) *HTTPService {
	client := cfg.Client
	if client == nil {
		// Per-call deadlines come from the caller's context; this is a
		// hard safety net against connections that never complete.
		client = &http.Client{Timeout: 60 * time.Second}
	}
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return &HTTPService{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  client,
		limiter: limiter,
	}
}

// post sends one operation request and decodes the response into out.
func (s *HTTPService) post(ctx context.Context, op string, in, out any) error {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("oracle rate limiter: %w", err)
		}
	}

	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", op, err)
	}

	url := s.baseURL + "/v1/oracle/" + op
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("oracle %s: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("oracle %s: status %d: %s", op, resp.StatusCode, string(snippet))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}

// UnderstandDemand implements Service.
func (s *HTTPService) UnderstandDemand(ctx context.Context, req UnderstandRequest) (*Understanding, error) {
	var out Understanding
	if err := s.post(ctx, OpUnderstandDemand, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FilterCandidates implements Service.
func (s *HTTPService) FilterCandidates(ctx context.Context, req FilterRequest) ([]models.CandidateMatch, error) {
	var out struct {
		Candidates []models.CandidateMatch `json:"candidates"`
	}
	if err := s.post(ctx, OpFilterCandidates, req, &out); err != nil {
		return nil, err
	}
	return out.Candidates, nil
}

// GenerateOfferResponse implements Service.
func (s *HTTPService) GenerateOfferResponse(ctx context.Context, req GenerateOfferRequest) (*OfferDraft, error) {
	var out OfferDraft
	if err := s.post(ctx, OpGenerateOfferResponse, req, &out); err != nil {
		return nil, err
	}
	if _, err := models.ParseOfferDecision(string(out.Decision)); err != nil {
		return nil, fmt.Errorf("oracle %s: %w", OpGenerateOfferResponse, err)
	}
	return &out, nil
}

// AggregateOffers implements Service.
func (s *HTTPService) AggregateOffers(ctx context.Context, req AggregateRequest) (*models.Proposal, error) {
	var out models.Proposal
	if err := s.post(ctx, OpAggregateOffers, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AdjustProposal implements Service.
func (s *HTTPService) AdjustProposal(ctx context.Context, req AdjustRequest) (*Adjustment, error) {
	var out Adjustment
	if err := s.post(ctx, OpAdjustProposal, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// IdentifyGaps implements Service.
func (s *HTTPService) IdentifyGaps(ctx context.Context, req IdentifyGapsRequest) ([]models.Gap, error) {
	var out struct {
		Gaps []models.Gap `json:"gaps"`
	}
	if err := s.post(ctx, OpIdentifyGaps, req, &out); err != nil {
		return nil, err
	}
	return out.Gaps, nil
}

// JudgeRecursion implements Service.
func (s *HTTPService) JudgeRecursion(ctx context.Context, req JudgeRecursionRequest) ([]models.Gap, error) {
	var out struct {
		Gaps []models.Gap `json:"gaps"`
	}
	if err := s.post(ctx, OpJudgeRecursion, req, &out); err != nil {
		return nil, err
	}
	return out.Gaps, nil
}

// ReviewProposal implements Service.
func (s *HTTPService) ReviewProposal(ctx context.Context, req ReviewRequest) (*FeedbackDraft, error) {
	var out FeedbackDraft
	if err := s.post(ctx, OpReviewProposal, req, &out); err != nil {
		return nil, err
	}
	if _, err := models.ParseFeedbackKind(string(out.Kind)); err != nil {
		return nil, fmt.Errorf("oracle %s: %w", OpReviewProposal, err)
	}
	return &out, nil
}
