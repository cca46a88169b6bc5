package phone

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ken2274132-hash/Fluently-sub000/internal/cache"
	"github.com/ken2274132-hash/Fluently-sub000/internal/speech"
)

const (
	testToken = "auth-token"
	testBase  = "https://practice.example.com"
)

// sign computes the signature Twilio sends: base64 HMAC-SHA1 of the URL
// followed by the sorted parameters as key+value.
func sign(authToken, fullURL string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(params[k])
	}
	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

type fakePipeline struct {
	text     string
	sttErr   error
	reply    string
	chatErr  error
	lastHist []speech.Message
}

func (f *fakePipeline) Transcribe(context.Context, []byte, string) (string, error) {
	return f.text, f.sttErr
}

func (f *fakePipeline) GenerateReply(_ context.Context, _ string, history []speech.Message) (string, error) {
	f.lastHist = history
	return f.reply, f.chatErr
}

func newTestService(p *fakePipeline, backend cache.Backend) (*Service, *echo.Echo) {
	s := New(Config{AccountSID: "AC1", AuthToken: testToken, PublicBaseURL: testBase, Greeting: "Hello there!"}, p, backend, nil, nil)
	e := echo.New()
	s.RegisterHandlers(e)
	return s, e
}

func post(e *echo.Echo, path string, form map[string]string, signed bool) *httptest.ResponseRecorder {
	values := url.Values{}
	for k, v := range form {
		values.Set(k, v)
	}
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	if signed {
		req.Header.Set("X-Twilio-Signature", sign(testToken, testBase+path, form))
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func recordingServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "AC1" || pass != testToken || !strings.HasSuffix(r.URL.Path, ".wav") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte("RIFF"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestValidateSignature(t *testing.T) {
	p := map[string]string{"CallSid": "CA1", "From": "+15550100"}
	sig := sign(testToken, testBase+"/twilio/voice", p)
	assert.True(t, ValidateSignature(testToken, sig, testBase+"/twilio/voice", p))
	assert.False(t, ValidateSignature(testToken, sig, testBase+"/twilio/turn", p))
	assert.False(t, ValidateSignature("", sig, testBase+"/twilio/voice", p))
	assert.False(t, ValidateSignature(testToken, "", testBase+"/twilio/voice", p))
}

func TestAbsoluteURL(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/twilio/voice", nil)
	assert.Equal(t, "https://base.test/x", AbsoluteURL(r, "https://base.test/", "/x"))

	r.Header.Set("X-Forwarded-Proto", "https")
	r.Header.Set("X-Forwarded-Host", "tunnel.example.com")
	assert.Equal(t, "https://tunnel.example.com/x", AbsoluteURL(r, "", "/x"))

	local := httptest.NewRequest(http.MethodPost, "/", nil)
	local.Host = "localhost:8080"
	assert.Equal(t, "http://localhost:8080/x", AbsoluteURL(local, "", "/x"))
}

func TestWebhook_RejectsBadSignature(t *testing.T) {
	_, e := newTestService(&fakePipeline{}, nil)
	rec := post(e, "/twilio/voice", map[string]string{"CallSid": "CA1"}, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestVoice_GreetsAndRecords(t *testing.T) {
	backend := cache.NewMemory()
	s, e := newTestService(&fakePipeline{}, backend)
	rec := post(e, "/twilio/voice", map[string]string{"CallSid": "CA1", "From": "+15550100"}, true)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "<Say>Hello there!</Say>")
	assert.Contains(t, body, `action="`+testBase+`/twilio/turn"`)
	assert.Contains(t, body, "<Redirect")

	var state callState
	found, err := s.calls.Get(context.Background(), "CA1", &state)
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, state.Messages, 1)
	assert.Equal(t, speech.RoleAssistant, state.Messages[0].Role)
}

func TestTurn_RepliesWithHistory(t *testing.T) {
	srv := recordingServer(t)
	p := &fakePipeline{text: "I like football.", reply: "Great! Who is your favorite team?"}
	s, e := newTestService(p, cache.NewMemory())
	post(e, "/twilio/voice", map[string]string{"CallSid": "CA1"}, true)

	rec := post(e, "/twilio/turn", map[string]string{"CallSid": "CA1", "RecordingUrl": srv.URL + "/rec/RE1"}, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Great! Who is your favorite team?")
	require.Len(t, p.lastHist, 1)
	assert.Equal(t, "Hello there!", p.lastHist[0].Content)

	var state callState
	_, err := s.calls.Get(context.Background(), "CA1", &state)
	require.NoError(t, err)
	require.Len(t, state.Messages, 3)
	assert.Equal(t, "I like football.", state.Messages[1].Content)
}

func TestTurn_Failures(t *testing.T) {
	srv := recordingServer(t)

	_, e := newTestService(&fakePipeline{sttErr: speech.ErrEmptyTranscription}, cache.NewMemory())
	rec := post(e, "/twilio/turn", map[string]string{"CallSid": "CA1", "RecordingUrl": srv.URL + "/rec/RE1"}, true)
	assert.Contains(t, rec.Body.String(), "Could you say it again?")

	_, e = newTestService(&fakePipeline{text: "hello", chatErr: errors.New("503")}, cache.NewMemory())
	rec = post(e, "/twilio/turn", map[string]string{"CallSid": "CA1", "RecordingUrl": srv.URL + "/rec/RE1"}, true)
	assert.Contains(t, rec.Body.String(), "trouble thinking right now")

	_, e = newTestService(&fakePipeline{text: "Goodbye!"}, cache.NewMemory())
	rec = post(e, "/twilio/turn", map[string]string{"CallSid": "CA1", "RecordingUrl": srv.URL + "/rec/RE1"}, true)
	assert.Contains(t, rec.Body.String(), "<Hangup")

	_, e = newTestService(&fakePipeline{text: "hi"}, cache.NewMemory())
	rec = post(e, "/twilio/turn", map[string]string{"CallSid": "CA1", "RecordingUrl": "http://127.0.0.1:1/rec"}, true)
	assert.Contains(t, rec.Body.String(), "Could you say it again?")
}

func TestStatus_CompletedClearsCall(t *testing.T) {
	s, e := newTestService(&fakePipeline{}, cache.NewMemory())
	post(e, "/twilio/voice", map[string]string{"CallSid": "CA1"}, true)

	rec := post(e, "/twilio/status", map[string]string{"CallSid": "CA1", "CallStatus": "in-progress"}, true)
	assert.Equal(t, http.StatusOK, rec.Code)
	found, _ := s.calls.Get(context.Background(), "CA1", &callState{})
	assert.True(t, found)

	post(e, "/twilio/status", map[string]string{"CallSid": "CA1", "CallStatus": "completed"}, true)
	found, _ = s.calls.Get(context.Background(), "CA1", &callState{})
	assert.False(t, found)
}
