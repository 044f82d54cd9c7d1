// Package biometric is the client for the remote biometric verification API:
// registration, exam sessions, per-modality verification, enrollment and
// session reports.
package biometric

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"examgate/internal/capture"
	"examgate/internal/platform/metrics"
	"examgate/pkg/domain"
	dErrors "examgate/pkg/domain-errors"
	"examgate/pkg/email"
	"examgate/pkg/platform/circuit"
)

const (
	maxResponseBytes = 1 << 20
	tracerName       = "examgate/internal/biometric"
)

// Operation names used in spans, metrics and errors.
const (
	OpRegister       = "register"
	OpStartSession   = "start_session"
	OpVerify         = "verify"
	OpSubmitSession  = "submit_session"
	OpEnroll         = "enroll"
	OpSessionMetrics = "session_metrics"
	OpSessionDetails = "session_details"
)

// Client calls the biometric API. It is safe for concurrent use.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	breaker    *circuit.Breaker
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	logger     *slog.Logger
	directory  SubjectDirectory
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithBreaker fails calls fast with RemoteUnavailable while the breaker is open.
func WithBreaker(b *circuit.Breaker) Option {
	return func(cl *Client) { cl.breaker = b }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(cl *Client) { cl.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

func WithTracer(t trace.Tracer) Option {
	return func(cl *Client) { cl.tracer = t }
}

// WithDirectory sets where Authenticate remembers email to subject mappings.
func WithDirectory(d SubjectDirectory) Option {
	return func(cl *Client) { cl.directory = d }
}

// New builds a client for the API rooted at baseURL (e.g. http://host/api/v1).
func New(baseURL string, opts ...Option) (*Client, error) {
	parsed, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse biometric base URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("biometric base URL must be http or https, got %q", parsed.Scheme)
	}
	c := &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		tracer:     otel.Tracer(tracerName),
		logger:     slog.Default(),
		directory:  noDirectory{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) resolveURL(segments ...string) string {
	u := *c.baseURL
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.Join(escaped, "/")
	return u.String()
}

// Register creates an account. It returns ErrAlreadyRegistered (wrapped with
// CodeConflict) when the email is taken.
func (c *Client) Register(ctx context.Context, emailAddr, password string) (domain.SubjectID, error) {
	body, err := json.Marshal(map[string]string{
		"email":     emailAddr,
		"password":  password,
		"full_name": email.FullName(emailAddr),
	})
	if err != nil {
		return 0, fmt.Errorf("marshal register body: %w", err)
	}

	var resp struct {
		ID *int64 `json:"id"`
	}
	err = c.do(ctx, OpRegister, http.MethodPost, c.resolveURL("auth", "register"), "application/json", body, &resp, nil)
	if err != nil {
		var re *RemoteError
		if errors.As(err, &re) && re.StatusCode == http.StatusBadRequest && strings.Contains(strings.ToLower(re.Message), "already registered") {
			return 0, dErrors.Wrap(ErrAlreadyRegistered, dErrors.CodeConflict, "email already registered")
		}
		return 0, err
	}
	if resp.ID == nil || *resp.ID <= 0 {
		return 0, c.badData(ctx, OpRegister, "response has no id")
	}
	return domain.SubjectID(*resp.ID), nil
}

// StartExamSession opens a timed session for subject.
func (c *Client) StartExamSession(ctx context.Context, req SessionRequest) (domain.ExamSessionID, error) {
	fields := [][2]string{
		{"user_id", req.SubjectID.String()},
		{"duration_minutes", strconv.Itoa(req.DurationMinutes)},
		{"schedule_type", string(req.Schedule)},
	}
	if req.Schedule == domain.ScheduleInterval && req.IntervalMinutes > 0 {
		fields = append(fields, [2]string{"interval_minutes", strconv.Itoa(req.IntervalMinutes)})
	}
	if req.Liveness != nil {
		fields = append(fields,
			[2]string{"liveness_ok", strconv.FormatBool(req.Liveness.OK)},
			[2]string{"liveness_score", strconv.FormatFloat(req.Liveness.Score, 'f', 4, 64)},
		)
	}
	body, contentType, err := multipartBody(fields, nil)
	if err != nil {
		return 0, err
	}

	var resp struct {
		SessionID *int64 `json:"session_id"`
	}
	if err := c.do(ctx, OpStartSession, http.MethodPost, c.resolveURL("exam", "session", "start"), contentType, body, &resp, nil); err != nil {
		return 0, err
	}
	if resp.SessionID == nil || *resp.SessionID <= 0 {
		return 0, c.badData(ctx, OpStartSession, "response has no session_id")
	}
	return domain.ExamSessionID(*resp.SessionID), nil
}

// Verify asks the remote to match one artifact. The verdict comes only from
// the "match" field; a 2xx without it is bad data, not a rejection.
func (c *Client) Verify(ctx context.Context, req VerifyRequest) (Verdict, error) {
	if req.Artifact == nil {
		return Verdict{}, dErrors.New(dErrors.CodePreconditionFailed, "artifact missing")
	}
	body, contentType, err := multipartBody([][2]string{
		{"user_id", req.SubjectID.String()},
		{"session_id", req.SessionID.String()},
	}, req.Artifact)
	if err != nil {
		return Verdict{}, err
	}

	var resp struct {
		Match     *bool    `json:"match"`
		Score     *float64 `json:"score"`
		Threshold *float64 `json:"threshold"`
		Metric    string   `json:"metric"`
		MockUsed  bool     `json:"mock_used"`
	}
	endpoint := c.resolveURL("verify", "authenticate", string(req.Modality), string(req.Checkpoint))
	attrs := []attribute.KeyValue{
		attribute.String("checkpoint", string(req.Checkpoint)),
		attribute.String("modality", string(req.Modality)),
	}
	if err := c.do(ctx, OpVerify, http.MethodPost, endpoint, contentType, body, &resp, attrs); err != nil {
		return Verdict{}, err
	}
	if resp.Match == nil {
		return Verdict{}, c.badData(ctx, OpVerify, "response has no match verdict")
	}
	return Verdict{
		Matched:   *resp.Match,
		Score:     resp.Score,
		Threshold: resp.Threshold,
		Metric:    resp.Metric,
		MockUsed:  resp.MockUsed,
	}, nil
}

// SubmitSession completes a session. A session the remote already completed
// counts as accepted.
func (c *Client) SubmitSession(ctx context.Context, subjectID domain.SubjectID, sessionID domain.ExamSessionID) (bool, error) {
	body, contentType, err := multipartBody([][2]string{
		{"user_id", subjectID.String()},
		{"session_id", sessionID.String()},
	}, nil)
	if err != nil {
		return false, err
	}

	var resp struct {
		Status json.RawMessage `json:"status"`
	}
	if err := c.do(ctx, OpSubmitSession, http.MethodPost, c.resolveURL("exam", "session", "submit"), contentType, body, &resp, nil); err != nil {
		return false, err
	}
	return submitAccepted(resp.Status), nil
}

func submitAccepted(raw json.RawMessage) bool {
	var status string
	if err := json.Unmarshal(raw, &status); err == nil {
		return strings.EqualFold(status, "completed")
	}
	var ok bool
	if err := json.Unmarshal(raw, &ok); err == nil {
		return ok
	}
	return false
}

// Enroll stores a reference template for subject.
func (c *Client) Enroll(ctx context.Context, subjectID domain.SubjectID, artifact *capture.Artifact) (Enrollment, error) {
	if artifact == nil {
		return Enrollment{}, dErrors.New(dErrors.CodePreconditionFailed, "artifact missing")
	}
	body, contentType, err := multipartBody([][2]string{{"user_id", subjectID.String()}}, artifact)
	if err != nil {
		return Enrollment{}, err
	}

	var resp struct {
		BiometricID *int64 `json:"biometric_id"`
		MockUsed    bool   `json:"mock_used"`
	}
	attrs := []attribute.KeyValue{attribute.String("modality", string(artifact.Modality))}
	if err := c.do(ctx, OpEnroll, http.MethodPost, c.resolveURL("enroll", string(artifact.Modality)), contentType, body, &resp, attrs); err != nil {
		return Enrollment{}, err
	}
	if resp.BiometricID == nil {
		return Enrollment{}, c.badData(ctx, OpEnroll, "response has no biometric_id")
	}
	return Enrollment{BiometricID: *resp.BiometricID, MockUsed: resp.MockUsed}, nil
}

// EnrollFace is Enroll for a face artifact.
func (c *Client) EnrollFace(ctx context.Context, subjectID domain.SubjectID, artifact *capture.Artifact) (Enrollment, error) {
	if artifact != nil && artifact.Modality != domain.ModalityFace {
		return Enrollment{}, dErrors.New(dErrors.CodeInvalidInput, "artifact is not a face image")
	}
	return c.Enroll(ctx, subjectID, artifact)
}

// EnrollVoice is Enroll for a voice artifact.
func (c *Client) EnrollVoice(ctx context.Context, subjectID domain.SubjectID, artifact *capture.Artifact) (Enrollment, error) {
	if artifact != nil && artifact.Modality != domain.ModalityVoice {
		return Enrollment{}, dErrors.New(dErrors.CodeInvalidInput, "artifact is not a voice clip")
	}
	return c.Enroll(ctx, subjectID, artifact)
}

// SessionMetrics fetches the remote's false-rejection summary for a session.
func (c *Client) SessionMetrics(ctx context.Context, sessionID domain.ExamSessionID) (SessionMetrics, error) {
	var resp struct {
		Events int      `json:"events"`
		FRR    *float64 `json:"frr"`
		FAR    *float64 `json:"far"`
	}
	endpoint := c.resolveURL("exam", "metrics", "session", sessionID.String())
	if err := c.do(ctx, OpSessionMetrics, http.MethodGet, endpoint, "", nil, &resp, nil); err != nil {
		return SessionMetrics{}, err
	}
	return SessionMetrics{SessionID: sessionID, Events: resp.Events, FRR: resp.FRR, FAR: resp.FAR}, nil
}

// SessionDetails fetches the per-call verification log of a session.
func (c *Client) SessionDetails(ctx context.Context, sessionID domain.ExamSessionID) ([]LogEntry, error) {
	var resp struct {
		Log []struct {
			ID        int64    `json:"id"`
			Modality  string   `json:"modality"`
			Phase     string   `json:"phase"`
			Match     bool     `json:"match"`
			Score     *float64 `json:"score"`
			Threshold *float64 `json:"threshold"`
			Metric    string   `json:"metric"`
			MockUsed  bool     `json:"mock_used"`
			CreatedAt string   `json:"created_at"`
		} `json:"log"`
	}
	endpoint := c.resolveURL("exam", "session", sessionID.String(), "details")
	if err := c.do(ctx, OpSessionDetails, http.MethodGet, endpoint, "", nil, &resp, nil); err != nil {
		return nil, err
	}

	entries := make([]LogEntry, 0, len(resp.Log))
	for _, e := range resp.Log {
		entries = append(entries, LogEntry{
			ID:        e.ID,
			Modality:  e.Modality,
			Phase:     e.Phase,
			Matched:   e.Match,
			Score:     e.Score,
			Threshold: e.Threshold,
			Metric:    e.Metric,
			MockUsed:  e.MockUsed,
			CreatedAt: parseRemoteTime(e.CreatedAt),
		})
	}
	return entries, nil
}

// parseRemoteTime accepts RFC 3339 and the zone-less ISO form the remote
// stores; unparseable values become the zero time.
func parseRemoteTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05.999999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// do performs one request and decodes a 2xx JSON body into out.
func (c *Client) do(ctx context.Context, op, method, endpoint, contentType string, body []byte, out any, attrs []attribute.KeyValue) (err error) {
	ctx, span := c.tracer.Start(ctx, "biometric."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(append(attrs, attribute.String("http.method", method))...),
	)
	start := time.Now()
	defer func() {
		if c.metrics != nil {
			c.metrics.ObserveRemoteCall(op, time.Since(start))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, op+" failed")
			if cat := CategoryOf(err); cat != "" {
				if c.metrics != nil {
					c.metrics.IncrementRemoteError(op, string(cat))
				}
				c.logger.WarnContext(ctx, "biometric call failed",
					"operation", op,
					"category", string(cat),
					"error", err,
				)
			}
		}
		span.End()
	}()

	if c.breaker != nil && !c.breaker.Allow() {
		return newRemoteError(ErrorCircuitOpen, op, 0, "circuit open", nil)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		category := ErrorTransport
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			category = ErrorTimeout
		}
		c.recordOutcome(ctx, false)
		return newRemoteError(category, op, 0, "no response", err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		c.recordOutcome(ctx, false)
		return newRemoteError(ErrorTransport, op, resp.StatusCode, "truncated response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		category := ErrorRejected
		switch {
		case resp.StatusCode == http.StatusNotFound:
			category = ErrorNotFound
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			category = ErrorOutage
		}
		c.recordOutcome(ctx, category != ErrorOutage)
		return newRemoteError(category, op, resp.StatusCode, errorDetail(payload, resp.Status), nil)
	}

	if err := json.Unmarshal(payload, out); err != nil {
		c.recordOutcome(ctx, false)
		return newRemoteError(ErrorBadData, op, resp.StatusCode, "malformed response", err)
	}
	c.recordOutcome(ctx, true)
	return nil
}

func (c *Client) badData(ctx context.Context, op, message string) error {
	c.recordOutcome(ctx, false)
	err := newRemoteError(ErrorBadData, op, 0, message, nil)
	if c.metrics != nil {
		c.metrics.IncrementRemoteError(op, string(ErrorBadData))
	}
	return err
}

func (c *Client) recordOutcome(ctx context.Context, healthy bool) {
	if c.breaker == nil {
		return
	}
	if healthy {
		if _, change := c.breaker.RecordSuccess(); change.Closed {
			c.logger.InfoContext(ctx, "biometric circuit closed", "breaker", c.breaker.Name())
		}
		return
	}
	if _, change := c.breaker.RecordFailure(); change.Opened {
		c.logger.WarnContext(ctx, "biometric circuit opened", "breaker", c.breaker.Name())
	}
}

// errorDetail extracts a short message from an error body, preferring the
// "detail" field the API returns.
func errorDetail(payload []byte, status string) string {
	var body struct {
		Detail any `json:"detail"`
	}
	if err := json.Unmarshal(payload, &body); err == nil {
		if s, ok := body.Detail.(string); ok && s != "" {
			return s
		}
	}
	text := strings.TrimSpace(string(payload))
	if len(text) > 200 {
		text = text[:200]
	}
	if text == "" {
		return status
	}
	return text
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

// multipartBody encodes form fields and an optional artifact as the "file" part.
func multipartBody(fields [][2]string, artifact *capture.Artifact) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("write form field %s: %w", f[0], err)
		}
	}
	if artifact != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, artifact.Filename))
		h.Set("Content-Type", artifact.ContentType)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("create file part: %w", err)
		}
		if _, err := part.Write(artifact.Data); err != nil {
			return nil, "", fmt.Errorf("write file part: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart body: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
