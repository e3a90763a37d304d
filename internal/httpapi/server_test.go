package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/ent0n29/vtutor/internal/audio"
	"github.com/ent0n29/vtutor/internal/journal"
	"github.com/ent0n29/vtutor/internal/observability"
	"github.com/ent0n29/vtutor/internal/playback"
	"github.com/ent0n29/vtutor/internal/protocol"
	"github.com/ent0n29/vtutor/internal/speech"
	"github.com/ent0n29/vtutor/internal/vtube"
)

type fakeAvatar struct {
	mu        sync.Mutex
	connected bool
	values    map[string]float64
	triggered []string
	hotkeyErr error
}

func newFakeAvatar() *fakeAvatar {
	return &fakeAvatar{connected: true, values: map[string]float64{vtube.SoundTrackerParameter: 0}}
}

func (a *fakeAvatar) Connected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

func (a *fakeAvatar) SetParameter(name string, value float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.values[name] = value
	return nil
}

func (a *fakeAvatar) SendParameterValues(context.Context) error { return nil }
func (a *fakeAvatar) Resume(context.Context) error { return nil }

func (a *fakeAvatar) Hotkeys(context.Context) ([]protocol.Hotkey, error) {
	if a.hotkeyErr != nil {
		return nil, a.hotkeyErr
	}
	return []protocol.Hotkey{{Name: "Smile", Type: "ToggleExpression", HotkeyID: "hk-1"}}, nil
}

func (a *fakeAvatar) Expressions() []string { return []string{"smile"} }

func (a *fakeAvatar) TriggerExpression(_ context.Context, name string) error {
	if name != "smile" {
		return &vtube.ValidationError{Field: "expression", Reason: name + " is not configured"}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.triggered = append(a.triggered, name)
	return nil
}

func (a *fakeAvatar) ParameterValues() map[string]float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]float64, len(a.values))
	for k, v := range a.values {
		out[k] = v
	}
	return out
}

func (a *fakeAvatar) LiveParameterValues(context.Context) (map[string]float64, error) {
	return map[string]float64{vtube.SoundTrackerParameter: 12}, nil
}

type failingSynth struct{}

func (failingSynth) Name() string { return "broken" }

func (failingSynth) Synthesize(context.Context, string) (speech.Asset, error) {
	return speech.Asset{}, &speech.ProviderError{Provider: "broken", Code: "unavailable", Err: errors.New("503")}
}

type testEnv struct {
	ts      *httptest.Server
	engine  *playback.Engine
	avatar  *fakeAvatar
	journal *journal.InMemoryStore
}

func newTestEnv(t *testing.T, synth speech.Synthesizer) *testEnv {
	t.Helper()
	if synth == nil {
		synth = speech.NewMock(t.TempDir())
	}
	metrics := observability.NewMetrics("test_httpapi", prometheus.NewRegistry())
	store := journal.NewInMemoryStore()
	avatar := newFakeAvatar()
	engine, err := playback.NewEngine(playback.Options{
		Synthesizer:    synth,
		Player:         audio.SilentPlayer{},
		Avatar:         avatar,
		Journal:        store,
		Metrics:        metrics,
		Logger:         zerolog.Nop(),
		SampleInterval: time.Millisecond,
		Workers:        1,
	})
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	srv := New(engine, avatar, store, metrics, zerolog.Nop())
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		ts.Close()
		_ = engine.Close()
	})
	return &testEnv{ts: ts, engine: engine, avatar: avatar, journal: store}
}

func postJSON(t *testing.T, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	raw, _ := json.Marshal(body)
	res, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s error = %v", url, err)
	}
	defer res.Body.Close()
	return res, decodeBody(t, res.Body)
}

func getJSON(t *testing.T, url string) (*http.Response, map[string]any) {
	t.Helper()
	res, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s error = %v", url, err)
	}
	defer res.Body.Close()
	return res, decodeBody(t, res.Body)
}

func decodeBody(t *testing.T, r io.Reader) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t, nil)

	res, body := getJSON(t, env.ts.URL+"/healthz")
	if res.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("healthz = %d %+v", res.StatusCode, body)
	}

	res, body = getJSON(t, env.ts.URL+"/readyz")
	if res.StatusCode != http.StatusOK || body["avatar_connected"] != true {
		t.Fatalf("readyz = %d %+v", res.StatusCode, body)
	}

	env.avatar.mu.Lock()
	env.avatar.connected = false
	env.avatar.mu.Unlock()
	res, _ = getJSON(t, env.ts.URL+"/readyz")
	if res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("readyz while disconnected = %d, want %d", res.StatusCode, http.StatusServiceUnavailable)
	}
}

func TestSpeakBlocksUntilPlayed(t *testing.T) {
	env := newTestEnv(t, nil)

	res, body := postJSON(t, env.ts.URL+"/v1/speak", map[string]any{"text": "Сәлем, әлем"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("speak status = %d, body %+v", res.StatusCode, body)
	}
	if body["status"] != "played" {
		t.Fatalf("speak status field = %v, want played", body["status"])
	}
	id, _ := body["utterance_id"].(string)

	records, err := env.journal.Recent(context.Background(), 1)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(records) != 1 || records[0].ID != id || records[0].Status != journal.StatusPlayed {
		t.Fatalf("journal = %+v, want one played record %s", records, id)
	}
	if got := env.engine.Status(); got.Playing || got.Queued != 0 {
		t.Fatalf("status after speak = %+v", got)
	}
}

func TestSpeakWithoutWaitReturnsAccepted(t *testing.T) {
	env := newTestEnv(t, nil)

	res, body := postJSON(t, env.ts.URL+"/v1/speak", map[string]any{"text": "hello", "wait": false})
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("speak status = %d, want %d", res.StatusCode, http.StatusAccepted)
	}
	if id, _ := body["utterance_id"].(string); id == "" {
		t.Fatalf("missing utterance_id: %+v", body)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := env.engine.WaitIdle(ctx); err != nil {
		t.Fatalf("WaitIdle() error = %v", err)
	}

	res, body = getJSON(t, env.ts.URL+"/v1/utterances?limit=5")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("utterances status = %d", res.StatusCode)
	}
	list, _ := body["utterances"].([]any)
	if len(list) != 1 {
		t.Fatalf("utterances = %+v, want 1", list)
	}
}

func TestSynthesizeEchoesText(t *testing.T) {
	env := newTestEnv(t, nil)

	res, body := postJSON(t, env.ts.URL+"/synthesize/", map[string]any{"text": "  good morning  "})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("synthesize status = %d, body %+v", res.StatusCode, body)
	}
	if body["message"] != "Synthesis complete for text" || body["text"] != "good morning" {
		t.Fatalf("synthesize body = %+v", body)
	}
}

func TestSpeakRejectsBadInput(t *testing.T) {
	env := newTestEnv(t, nil)

	cases := []struct {
		name string
		body string
		code string
		want int
	}{
		{name: "empty body", body: "", code: "invalid_request", want: http.StatusBadRequest},
		{name: "blank text", body: `{"text":"   "}`, code: "empty_text", want: http.StatusBadRequest},
		{name: "malformed", body: `{"text":`, code: "invalid_request", want: http.StatusBadRequest},
		{name: "too long", body: `{"text":"` + strings.Repeat("a", maxTextRunes+1) + `"}`, code: "text_too_long", want: http.StatusRequestEntityTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := http.Post(env.ts.URL+"/v1/speak", "application/json", strings.NewReader(tc.body))
			if err != nil {
				t.Fatalf("POST error = %v", err)
			}
			defer res.Body.Close()
			if res.StatusCode != tc.want {
				t.Fatalf("status = %d, want %d", res.StatusCode, tc.want)
			}
			body := decodeBody(t, res.Body)
			if body["code"] != tc.code {
				t.Fatalf("code = %v, want %s", body["code"], tc.code)
			}
		})
	}
}

func TestSpeakProviderFailureMapsToBadGateway(t *testing.T) {
	env := newTestEnv(t, failingSynth{})

	res, body := postJSON(t, env.ts.URL+"/v1/speak", map[string]any{"text": "hello"})
	if res.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadGateway)
	}
	if body["code"] != "speech_unavailable" {
		t.Fatalf("code = %v, want speech_unavailable", body["code"])
	}

	_, body = getJSON(t, env.ts.URL+"/v1/speak/status")
	if body["queued"] != float64(0) {
		t.Fatalf("queued after failure = %v, want 0", body["queued"])
	}
}

func TestUtterancesRejectsBadLimit(t *testing.T) {
	env := newTestEnv(t, nil)
	res, body := getJSON(t, env.ts.URL+"/v1/utterances?limit=zero")
	if res.StatusCode != http.StatusBadRequest || body["code"] != "invalid_limit" {
		t.Fatalf("status = %d body %+v", res.StatusCode, body)
	}
}

func TestAvatarRoutes(t *testing.T) {
	env := newTestEnv(t, nil)

	res, body := getJSON(t, env.ts.URL+"/v1/avatar/hotkeys")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("hotkeys status = %d", res.StatusCode)
	}
	hotkeys, _ := body["hotkeys"].([]any)
	if len(hotkeys) != 1 {
		t.Fatalf("hotkeys = %+v", hotkeys)
	}

	res, _ = postJSON(t, env.ts.URL+"/v1/avatar/expressions/smile", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("trigger status = %d", res.StatusCode)
	}
	res, body = postJSON(t, env.ts.URL+"/v1/avatar/expressions/frown", nil)
	if res.StatusCode != http.StatusNotFound || body["code"] != "not_found" {
		t.Fatalf("unknown expression = %d %+v", res.StatusCode, body)
	}
	env.avatar.mu.Lock()
	triggered := append([]string(nil), env.avatar.triggered...)
	env.avatar.mu.Unlock()
	if len(triggered) != 1 || triggered[0] != "smile" {
		t.Fatalf("triggered = %v", triggered)
	}

	res, body = getJSON(t, env.ts.URL+"/v1/avatar/parameters?live=true")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("parameters status = %d", res.StatusCode)
	}
	live, _ := body["live"].(map[string]any)
	if live[vtube.SoundTrackerParameter] != float64(12) {
		t.Fatalf("live = %+v", live)
	}
}

func TestAvatarUnavailable(t *testing.T) {
	env := newTestEnv(t, nil)
	env.avatar.hotkeyErr = vtube.ErrConnectionClosed

	res, body := getJSON(t, env.ts.URL+"/v1/avatar/hotkeys")
	if res.StatusCode != http.StatusServiceUnavailable || body["code"] != "avatar_unavailable" {
		t.Fatalf("status = %d body %+v", res.StatusCode, body)
	}
}

func TestMetricsAndLatencyRoutes(t *testing.T) {
	env := newTestEnv(t, nil)
	postJSON(t, env.ts.URL+"/v1/speak", map[string]any{"text": "hi there"})

	res, body := getJSON(t, env.ts.URL+"/v1/perf/latency")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("latency status = %d", res.StatusCode)
	}
	if _, ok := body["stages"]; !ok {
		t.Fatalf("latency body missing stages: %+v", body)
	}

	mres, err := http.Get(env.ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	defer mres.Body.Close()
	raw, _ := io.ReadAll(mres.Body)
	if !strings.Contains(string(raw), "test_httpapi_utterances_total") {
		t.Fatalf("metrics output missing utterance counter")
	}
}
