package biometric

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"examgate/internal/biometric/directory"
	"examgate/internal/capture"
	"examgate/internal/platform/metrics"
	"examgate/pkg/domain"
	dErrors "examgate/pkg/domain-errors"
	"examgate/pkg/platform/circuit"
)

// fakeAPI is a scripted stand-in for the biometric API.
type fakeAPI struct {
	mu       sync.Mutex
	handlers map[string]http.HandlerFunc
	hits     map[string]int
	forms    map[string]map[string]string
	files    map[string][]byte
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		handlers: make(map[string]http.HandlerFunc),
		hits:     make(map[string]int),
		forms:    make(map[string]map[string]string),
		files:    make(map[string][]byte),
	}
}

func (f *fakeAPI) on(pattern string, h http.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[pattern] = h
}

func (f *fakeAPI) hit(pattern string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[pattern]
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	pattern := r.Method + " " + r.URL.Path
	f.mu.Lock()
	f.hits[pattern]++
	h, ok := f.handlers[pattern]
	if ct := r.Header.Get("Content-Type"); len(ct) >= 19 && ct[:19] == "multipart/form-data" {
		if err := r.ParseMultipartForm(1 << 20); err == nil {
			fields := make(map[string]string)
			for k, v := range r.MultipartForm.Value {
				fields[k] = v[0]
			}
			f.forms[pattern] = fields
			if fh, ok := r.MultipartForm.File["file"]; ok {
				file, _ := fh[0].Open()
				data, _ := io.ReadAll(file)
				f.files[pattern] = data
			}
		}
	}
	f.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	h(w, r)
}

func respond(status int, body any) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}

func faceArtifact() *capture.Artifact {
	return &capture.Artifact{
		Modality:    domain.ModalityFace,
		ContentType: "image/jpeg",
		Filename:    "face.jpg",
		Data:        []byte{0xff, 0xd8, 0xff, 0xe0, 1, 2, 3},
	}
}

type ClientSuite struct {
	suite.Suite
	api     *fakeAPI
	server  *httptest.Server
	client  *Client
	metrics *metrics.Metrics
}

func TestClientSuite(t *testing.T) {
	suite.Run(t, new(ClientSuite))
}

func (s *ClientSuite) SetupTest() {
	s.api = newFakeAPI()
	s.server = httptest.NewServer(s.api)
	s.metrics = metrics.New(prometheus.NewRegistry())
	client, err := New(s.server.URL+"/api/v1",
		WithDirectory(directory.NewInMemoryDirectory()),
		WithMetrics(s.metrics),
	)
	s.Require().NoError(err)
	s.client = client
}

func (s *ClientSuite) TearDownTest() {
	s.server.Close()
}

func (s *ClientSuite) TestVerify() {
	ctx := context.Background()
	req := VerifyRequest{
		Checkpoint: domain.CheckpointStart,
		Modality:   domain.ModalityFace,
		SubjectID:  7,
		SessionID:  42,
		Artifact:   faceArtifact(),
	}
	const path = "POST /api/v1/verify/authenticate/face/start"

	s.Run("match true", func() {
		s.api.on(path, respond(http.StatusOK, map[string]any{"match": true, "score": 0.12, "threshold": 0.6, "metric": "euclidean"}))
		v, err := s.client.Verify(ctx, req)
		s.Require().NoError(err)
		s.True(v.Matched)
		s.Require().NotNil(v.Score)
		s.InDelta(0.12, *v.Score, 1e-9)
		s.Equal(map[string]string{"user_id": "7", "session_id": "42"}, s.api.forms[path])
		s.Equal(req.Artifact.Data, s.api.files[path])
	})

	s.Run("match false is a verdict, not an error", func() {
		s.api.on(path, respond(http.StatusOK, map[string]any{"match": false}))
		v, err := s.client.Verify(ctx, req)
		s.Require().NoError(err)
		s.False(v.Matched)
	})

	s.Run("2xx without match is remote unavailable", func() {
		s.api.on(path, respond(http.StatusOK, map[string]any{"score": 0.9}))
		_, err := s.client.Verify(ctx, req)
		s.True(dErrors.HasCode(err, dErrors.CodeRemoteUnavailable))
		s.Equal(ErrorBadData, CategoryOf(err))
	})

	s.Run("malformed body is remote unavailable", func() {
		s.api.on(path, func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("<html>gateway</html>"))
		})
		_, err := s.client.Verify(ctx, req)
		s.True(dErrors.HasCode(err, dErrors.CodeRemoteUnavailable))
		s.Equal(ErrorBadData, CategoryOf(err))
	})

	s.Run("not enrolled surfaces remote detail", func() {
		s.api.on(path, respond(http.StatusNotFound, map[string]any{"detail": "No biometric data found for user"}))
		_, err := s.client.Verify(ctx, req)
		s.True(dErrors.HasCode(err, dErrors.CodeRemoteUnavailable))
		s.Equal(ErrorNotFound, CategoryOf(err))
		s.False(IsRetryable(err))
		s.Contains(dErrors.MessageOf(err), "No biometric data found for user")
	})

	s.Run("server error is retryable outage", func() {
		s.api.on(path, respond(http.StatusServiceUnavailable, map[string]any{"detail": "down"}))
		_, err := s.client.Verify(ctx, req)
		s.Equal(ErrorOutage, CategoryOf(err))
		s.True(IsRetryable(err))
	})

	s.Run("missing artifact is refused locally", func() {
		before := s.api.hit(path)
		_, err := s.client.Verify(ctx, VerifyRequest{Checkpoint: domain.CheckpointStart, Modality: domain.ModalityFace, SubjectID: 7, SessionID: 42})
		s.True(dErrors.HasCode(err, dErrors.CodePreconditionFailed))
		s.Equal(before, s.api.hit(path))
	})

	s.Equal(2.0, promtest.ToFloat64(s.metrics.RemoteErrors.WithLabelValues(OpVerify, string(ErrorBadData))))
}

func (s *ClientSuite) TestVerify_TransportFailure() {
	s.server.Close()
	_, err := s.client.Verify(context.Background(), VerifyRequest{
		Checkpoint: domain.CheckpointEnd,
		Modality:   domain.ModalityVoice,
		SubjectID:  1,
		SessionID:  1,
		Artifact:   faceArtifact(),
	})
	s.True(dErrors.HasCode(err, dErrors.CodeRemoteUnavailable))
	s.Equal(ErrorTransport, CategoryOf(err))
}

func (s *ClientSuite) TestAuthenticate_IsIdempotentPerEmail() {
	ctx := context.Background()
	var registered atomic.Bool
	s.api.on("POST /api/v1/auth/register", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		s.Equal("a@x.com", body["email"])
		s.Equal("A User", body["full_name"])
		if registered.Swap(true) {
			respond(http.StatusBadRequest, map[string]any{"detail": "Email already registered"})(w, r)
			return
		}
		respond(http.StatusOK, map[string]any{"id": 7, "email": "a@x.com"})(w, r)
	})

	first, err := s.client.Authenticate(ctx, "A@x.com ", "p")
	s.Require().NoError(err)
	second, err := s.client.Authenticate(ctx, "a@x.com", "p")
	s.Require().NoError(err)

	s.Equal(domain.SubjectID(7), first)
	s.Equal(first, second)
	s.Equal(2, s.api.hit("POST /api/v1/auth/register"))
}

func (s *ClientSuite) TestAuthenticate_Failures() {
	ctx := context.Background()

	s.Run("registered elsewhere is a conflict", func() {
		s.api.on("POST /api/v1/auth/register", respond(http.StatusBadRequest, map[string]any{"detail": "Email already registered"}))
		_, err := s.client.Authenticate(ctx, "b@x.com", "p")
		s.True(dErrors.Is(err, dErrors.CodeConflict))
		s.ErrorIs(err, ErrAlreadyRegistered)
	})

	s.Run("invalid input never calls remote", func() {
		before := s.api.hit("POST /api/v1/auth/register")
		_, err := s.client.Authenticate(ctx, "not-an-email", "p")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
		_, err = s.client.Authenticate(ctx, "c@x.com", "")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
		s.Equal(before, s.api.hit("POST /api/v1/auth/register"))
	})

	s.Run("response without id is remote unavailable", func() {
		s.api.on("POST /api/v1/auth/register", respond(http.StatusOK, map[string]any{"email": "d@x.com"}))
		_, err := s.client.Authenticate(ctx, "d@x.com", "p")
		s.True(dErrors.HasCode(err, dErrors.CodeRemoteUnavailable))
	})
}

func (s *ClientSuite) TestStartExamSession() {
	const path = "POST /api/v1/exam/session/start"
	s.api.on(path, respond(http.StatusOK, map[string]any{"session_id": 42, "status": "active"}))

	s.Run("start_end sends no interval", func() {
		id, err := s.client.StartExamSession(context.Background(), SessionRequest{
			SubjectID: 7, DurationMinutes: 60, Schedule: domain.ScheduleStartEnd, IntervalMinutes: 10,
		})
		s.Require().NoError(err)
		s.Equal(domain.ExamSessionID(42), id)
		s.Equal(map[string]string{"user_id": "7", "duration_minutes": "60", "schedule_type": "start_end"}, s.api.forms[path])
	})

	s.Run("interval and liveness are forwarded", func() {
		_, err := s.client.StartExamSession(context.Background(), SessionRequest{
			SubjectID: 7, DurationMinutes: 90, Schedule: domain.ScheduleInterval, IntervalMinutes: 15,
			Liveness: &Liveness{OK: true, Score: 0.25},
		})
		s.Require().NoError(err)
		form := s.api.forms[path]
		s.Equal("15", form["interval_minutes"])
		s.Equal("true", form["liveness_ok"])
		s.Equal("0.2500", form["liveness_score"])
	})

	s.Run("rejected liveness is remote unavailable", func() {
		s.api.on(path, respond(http.StatusBadRequest, map[string]any{"detail": "Liveness check failed or missing"}))
		_, err := s.client.StartExamSession(context.Background(), SessionRequest{SubjectID: 7, DurationMinutes: 60, Schedule: domain.ScheduleStartEnd})
		s.True(dErrors.HasCode(err, dErrors.CodeRemoteUnavailable))
		s.Equal(ErrorRejected, CategoryOf(err))
	})
}

func (s *ClientSuite) TestSubmitSession() {
	const path = "POST /api/v1/exam/session/submit"
	tests := []struct {
		name   string
		status any
		want   bool
	}{
		{"completed", "completed", true},
		{"still active", "active", false},
		{"boolean true", true, true},
		{"missing", nil, false},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.api.on(path, respond(http.StatusOK, map[string]any{"session_id": 42, "status": tt.status}))
			accepted, err := s.client.SubmitSession(context.Background(), 7, 42)
			s.Require().NoError(err)
			s.Equal(tt.want, accepted)
		})
	}
}

func (s *ClientSuite) TestEnroll() {
	s.api.on("POST /api/v1/enroll/face", respond(http.StatusOK, map[string]any{"message": "ok", "biometric_id": 3, "mock_used": true}))

	enr, err := s.client.EnrollFace(context.Background(), 7, faceArtifact())
	s.Require().NoError(err)
	s.Equal(Enrollment{BiometricID: 3, MockUsed: true}, enr)
	s.Equal("7", s.api.forms["POST /api/v1/enroll/face"]["user_id"])

	_, err = s.client.EnrollVoice(context.Background(), 7, faceArtifact())
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func (s *ClientSuite) TestSessionReport() {
	s.api.on("GET /api/v1/exam/metrics/session/42", respond(http.StatusOK, map[string]any{"session_id": 42, "events": 4, "frr": 0.25, "far": nil}))
	s.api.on("GET /api/v1/exam/session/42/details", respond(http.StatusOK, map[string]any{
		"session_id": 42,
		"log": []map[string]any{
			{"id": 1, "modality": "face", "phase": "start", "match": true, "score": 0.2, "threshold": 0.6, "metric": "euclidean", "mock_used": false, "created_at": "2026-03-01T10:00:00.123456"},
		},
	}))

	m, err := s.client.SessionMetrics(context.Background(), 42)
	s.Require().NoError(err)
	s.Equal(4, m.Events)
	s.Require().NotNil(m.FRR)
	s.InDelta(0.25, *m.FRR, 1e-9)
	s.Nil(m.FAR)

	log, err := s.client.SessionDetails(context.Background(), 42)
	s.Require().NoError(err)
	s.Require().Len(log, 1)
	s.True(log[0].Matched)
	s.Equal("face", log[0].Modality)
	s.Equal(2026, log[0].CreatedAt.Year())
}

func TestClient_BreakerFailsFast(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	breaker := circuit.New("biometric", circuit.WithFailureThreshold(2), circuit.WithCooldown(time.Hour))
	client, err := New(srv.URL, WithBreaker(breaker))
	require.NoError(t, err)

	for range 2 {
		_, err := client.SubmitSession(context.Background(), 1, 1)
		require.Error(t, err)
	}
	assert.True(t, breaker.IsOpen())

	_, err = client.SubmitSession(context.Background(), 1, 1)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeRemoteUnavailable))
	assert.Equal(t, ErrorCircuitOpen, CategoryOf(err))
	assert.Equal(t, int32(2), hits.Load(), "open breaker makes no request")
}

func TestNew_RejectsBadURL(t *testing.T) {
	_, err := New("ftp://example.com")
	assert.Error(t, err)
}
