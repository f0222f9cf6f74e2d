package tamping

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/banshee-data/trackscan/internal/db"
	"github.com/banshee-data/trackscan/internal/httputil"
)

// maxResponseBytes caps how much of a classifier response is read.
const maxResponseBytes = 1 << 20

//go:embed schema/decision.schema.json
var decisionSchemaJSON []byte

const decisionSchemaURL = "https://trackscan.local/schema/decision.schema.json"

// Envelope is the body posted to the classifier's /decision endpoint.
type Envelope struct {
	Alert EnvelopeAlert `json:"alert"`
}

type EnvelopeAlert struct {
	Type      string        `json:"type"`
	Pt        float64       `json:"pt"`
	Alert     SnapshotAlert `json:"alert"`
	Timestamp string        `json:"timestamp"`
}

// SnapshotAlert carries the serialised telemetry of one position as its
// label and the position itself as its value.
type SnapshotAlert struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

// Decision is the classifier's verdict.
type Decision struct {
	SampleID          string         `json:"sample_id"`
	Decision          db.PointStatus `json:"decision"`
	Score             float64        `json:"score"`
	Fallback          *bool          `json:"fallback,omitempty"`
	SuggestedSpeedKmh *float64       `json:"suggested_speed_kmh,omitempty"`
	Vector            []float64      `json:"vector,omitempty"`

	// Extra holds response fields not named above, verbatim.
	Extra map[string]json.RawMessage `json:"-"`
}

// decisionFields are the response keys Decision decodes itself.
var decisionFields = []string{"sample_id", "decision", "score", "fallback", "suggested_speed_kmh", "vector"}

// Classifier is the external decision service.
type Classifier interface {
	RequestDecision(ctx context.Context, env Envelope) (*Decision, error)
	SubmitFeedback(ctx context.Context, sampleID string, label db.PointStatus) error
}

// HTTPClassifier talks to the decision service over HTTP and checks every
// decision against the response schema before decoding it.
type HTTPClassifier struct {
	baseURL string
	client  httputil.HTTPClient
	schema  *jsonschema.Schema
}

func NewHTTPClassifier(baseURL string, client httputil.HTTPClient) (*HTTPClassifier, error) {
	if client == nil {
		client = httputil.NewStandardClient(nil)
	}
	schema, err := compileDecisionSchema()
	if err != nil {
		return nil, err
	}
	return &HTTPClassifier{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		schema:  schema,
	}, nil
}

func compileDecisionSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(decisionSchemaURL, bytes.NewReader(decisionSchemaJSON)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile(decisionSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// RequestDecision posts env to <base>/decision. Every failure wraps
// ErrDecisionRequest.
func (c *HTTPClassifier) RequestDecision(ctx context.Context, env Envelope) (*Decision, error) {
	resp, err := httputil.PostJSON(ctx, c.client, c.baseURL+"/decision", env)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecisionRequest, err)
	}
	defer resp.Body.Close()

	if !httputil.IsSuccess(resp.StatusCode) {
		return nil, fmt.Errorf("%w: classifier returned %d: %s", ErrDecisionRequest, resp.StatusCode, httputil.ErrorBody(resp))
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrDecisionRequest, err)
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: response is not JSON: %v", ErrDecisionRequest, err)
	}
	if err := c.schema.Validate(payload); err != nil {
		return nil, fmt.Errorf("%w: response violates decision contract: %v", ErrDecisionRequest, err)
	}

	var d Decision
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrDecisionRequest, err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrDecisionRequest, err)
	}
	for _, k := range decisionFields {
		delete(fields, k)
	}
	if len(fields) > 0 {
		d.Extra = fields
	}
	return &d, nil
}

type feedbackRequest struct {
	SampleID string         `json:"sample_id"`
	Label    db.PointStatus `json:"label"`
}

// SubmitFeedback posts a label for a previously issued sample to
// <base>/feedback. A 404 maps to ErrUnknownSample.
func (c *HTTPClassifier) SubmitFeedback(ctx context.Context, sampleID string, label db.PointStatus) error {
	resp, err := httputil.PostJSON(ctx, c.client, c.baseURL+"/feedback", feedbackRequest{SampleID: sampleID, Label: label})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecisionRequest, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrUnknownSample, sampleID)
	case !httputil.IsSuccess(resp.StatusCode):
		return fmt.Errorf("%w: feedback returned %d: %s", ErrDecisionRequest, resp.StatusCode, httputil.ErrorBody(resp))
	}
	return nil
}
