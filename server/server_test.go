package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"brick_model_generator/generator"
	"brick_model_generator/ldraw"
	"brick_model_generator/model"
	"brick_model_generator/progress"
	"brick_model_generator/store"
)

type silentTicker struct{}

func (silentTicker) C() <-chan time.Time { return nil }
func (silentTicker) Stop()               {}

func newTestServer(t *testing.T, llm generator.LLMClient) (*httptest.Server, store.Store) {
	t.Helper()
	_, ts, records := newTestServerWith(t, llm)
	return ts, records
}

func newTestServerWith(t *testing.T, llm generator.LLMClient) (*Server, *httptest.Server, store.Store) {
	t.Helper()
	agent, err := generator.NewAgent(llm)
	require.NoError(t, err)
	records := store.NewMemoryStore()
	srv, err := New(&generator.Pipeline{
		Agent: agent,
		NewEstimator: func() *progress.Estimator {
			return progress.New(progress.WithTicker(func(time.Duration) progress.Ticker { return silentTicker{} }))
		},
	}, records, time.Minute)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return srv, ts, records
}

func decodeView(t *testing.T, resp *http.Response) generator.View {
	t.Helper()
	defer resp.Body.Close()
	var v generator.View
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func waitFinished(t *testing.T, ts *httptest.Server, id string) generator.View {
	t.Helper()
	var v generator.View
	require.Eventually(t, func() bool {
		resp, err := http.Get(ts.URL + "/api/generations/" + id)
		if err != nil {
			return false
		}
		v = decodeView(t, resp)
		return v.Status == model.StatusSuccess || v.Status == model.StatusError
	}, 5*time.Second, 10*time.Millisecond)
	return v
}

func TestGenerationFlow(t *testing.T) {
	ts, records := newTestServer(t, generator.MockLLM{Bricks: 2})

	resp, err := http.Post(ts.URL+"/api/generations", "application/json", strings.NewReader(`{"prompt":"a tower","min_parts":2,"max_parts":10}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	created := decodeView(t, resp)
	require.NotEmpty(t, created.ID)
	require.Equal(t, 2, created.Options.MinParts)

	v := waitFinished(t, ts, created.ID)
	require.Equal(t, model.StatusSuccess, v.Status)
	require.Equal(t, 100.0, v.Progress.Percent)
	require.Equal(t, "mock_tower.ldr", v.Result.Filename)

	resp, err = http.Get(ts.URL + "/api/generations/" + created.ID + "/ldr")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, `attachment; filename="mock_tower.ldr"`, resp.Header.Get("Content-Disposition"))
	require.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain"))
	require.Equal(t, v.Result.LDR.Content, string(body))
	require.Contains(t, string(body), "\r\n1 4 0 -24 0 1 0 0 0 1 0 0 0 1 3001.dat\r\n")

	resp, err = http.Get(ts.URL + "/api/generations/" + created.ID + "/instructions")
	require.NoError(t, err)
	body, err = io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Contains(t, string(body), "<table>")
	require.Contains(t, string(body), "<h1>Mock Tower</h1>")
	require.Contains(t, string(body), "Step 2")

	// stored by fingerprint
	require.Eventually(t, func() bool {
		_, err := records.FindBySHA256(context.Background(), v.Result.LDR.SHA256)
		return err == nil
	}, time.Second, 10*time.Millisecond)
	resp, err = http.Get(ts.URL + "/api/models/" + v.Result.LDR.SHA256 + "/ldr")
	require.NoError(t, err)
	body, err = io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, v.Result.LDR.Content, string(body))

	parts, err := ldraw.Parse(string(body))
	require.NoError(t, err)
	require.Len(t, parts, 3)

	resp, err = http.Get(ts.URL + "/api/models")
	require.NoError(t, err)
	var list []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	resp.Body.Close()
	require.Len(t, list, 1)
	require.Equal(t, v.Result.LDR.SHA256, list[0]["sha256"])
	require.Equal(t, 3.0, list[0]["placed_parts"])

	resp, err = http.Get(ts.URL + "/api/models/" + strings.ToUpper(v.Result.LDR.SHA256))
	require.NoError(t, err)
	var detail map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&detail))
	resp.Body.Close()
	require.Equal(t, created.ID, detail["id"])
	require.Equal(t, "a tower", detail["prompt"])
	require.Equal(t, 3.0, detail["placed_parts"])
}

func TestGenerationWait(t *testing.T) {
	ts, _ := newTestServer(t, generator.MockLLM{})
	resp, err := http.Post(ts.URL+"/api/generations?wait=true", "application/json", strings.NewReader(`{"prompt":"a tower"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	v := decodeView(t, resp)
	require.Equal(t, model.StatusSuccess, v.Status)
	require.NotNil(t, v.Result)
}

type failingLLM struct{}

func (failingLLM) Complete(context.Context, generator.Prompt) (string, error) {
	return "", errors.New("upstream unavailable")
}

func TestGenerationFailure(t *testing.T) {
	ts, records := newTestServer(t, failingLLM{})
	resp, err := http.Post(ts.URL+"/api/generations?wait=true", "application/json", strings.NewReader(`{"prompt":"a tower"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	v := decodeView(t, resp)
	require.Equal(t, model.StatusError, v.Status)
	require.Contains(t, v.Error, "upstream unavailable")
	require.Equal(t, progress.PhaseFailed, v.Progress.Phase)

	recs, err := records.List(context.Background(), 0)
	require.NoError(t, err)
	require.Empty(t, recs)
}

type blockingLLM struct {
	release chan struct{}
}

func (b blockingLLM) Complete(ctx context.Context, p generator.Prompt) (string, error) {
	select {
	case <-b.release:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return generator.MockLLM{}.Complete(ctx, p)
}

func TestDownloadBeforeFinish(t *testing.T) {
	llm := blockingLLM{release: make(chan struct{})}
	ts, _ := newTestServer(t, llm)

	resp, err := http.Post(ts.URL+"/api/generations", "application/json", strings.NewReader(`{"prompt":"a tower"}`))
	require.NoError(t, err)
	created := decodeView(t, resp)

	var v generator.View
	require.Eventually(t, func() bool {
		resp, err := http.Get(ts.URL + "/api/generations/" + created.ID)
		if err != nil {
			return false
		}
		v = decodeView(t, resp)
		return v.Progress.Phase == progress.PhaseRunning
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, model.StatusLoading, v.Status)
	require.Equal(t, progress.DefaultStages[0].Label, v.Progress.Stage)

	resp, err = http.Get(ts.URL + "/api/generations/" + created.ID + "/ldr")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	close(llm.release)
	require.Equal(t, model.StatusSuccess, waitFinished(t, ts, created.ID).Status)
}

func TestFinishedSessionsExpire(t *testing.T) {
	srv, ts, _ := newTestServerWith(t, generator.MockLLM{})
	srv.sessionTTL = 0

	post := func() generator.View {
		resp, err := http.Post(ts.URL+"/api/generations?wait=true", "application/json", strings.NewReader(`{"prompt":"a tower"}`))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		return decodeView(t, resp)
	}
	first := post()
	require.Equal(t, 1, srv.sessions.len())
	second := post()
	require.Equal(t, 1, srv.sessions.len())

	resp, err := http.Get(ts.URL + "/api/generations/" + first.ID)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/api/generations/" + second.ID)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool {
		resp, err := http.Get(ts.URL + "/api/models/" + first.Result.LDR.SHA256 + "/ldr")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, time.Second, 10*time.Millisecond)
}

func TestPruneKeepsRunningSessions(t *testing.T) {
	sessions := newStore()
	llm := blockingLLM{release: make(chan struct{})}
	agent, err := generator.NewAgent(llm)
	require.NoError(t, err)
	p := &generator.Pipeline{Agent: agent, NewEstimator: func() *progress.Estimator {
		return progress.New(progress.WithTicker(func(time.Duration) progress.Ticker { return silentTicker{} }))
	}}

	running := generator.NewSession("running", model.GenerationOptions{Prompt: "x"}, p)
	idle := generator.NewSession("idle", model.GenerationOptions{Prompt: "x"}, p)
	sessions.set(running.ID, running)
	sessions.set(idle.ID, idle)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = running.Run(context.Background())
	}()
	require.Equal(t, 0, sessions.prune(time.Now().Add(time.Hour), time.Minute))

	close(llm.release)
	<-done
	require.Equal(t, 0, sessions.prune(time.Now(), time.Minute))
	require.Equal(t, 1, sessions.prune(time.Now().Add(time.Hour), time.Minute))
	_, ok := sessions.get("running")
	require.False(t, ok)
	_, ok = sessions.get("idle")
	require.True(t, ok)
}

func TestBadRequests(t *testing.T) {
	ts, _ := newTestServer(t, generator.MockLLM{})

	cases := []struct {
		method, path, body string
		want               int
	}{
		{http.MethodPost, "/api/generations", `{"prompt":""}`, http.StatusBadRequest},
		{http.MethodPost, "/api/generations", `{"prompt":"x","min_parts":10,"max_parts":5}`, http.StatusBadRequest},
		{http.MethodPost, "/api/generations", `not json`, http.StatusBadRequest},
		{http.MethodGet, "/api/generations", ``, http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/generations/unknown", ``, http.StatusNotFound},
		{http.MethodGet, "/api/models/deadbeef", ``, http.StatusNotFound},
		{http.MethodGet, "/api/nothing", ``, http.StatusNotFound},
	}
	for _, c := range cases {
		req, err := http.NewRequest(c.method, ts.URL+c.path, strings.NewReader(c.body))
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, c.want, resp.StatusCode, "%s %s", c.method, c.path)
	}
}

func TestStaticAndMetrics(t *testing.T) {
	ts, _ := newTestServer(t, generator.MockLLM{})

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "Brick Model Generator")

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Contains(t, string(body), "brick_model_http_requests_total")
}

func TestRouteLabel(t *testing.T) {
	require.Equal(t, "/api/generations/:id", routeLabel("/api/generations/abc"))
	require.Equal(t, "/api/generations/:id/ldr", routeLabel("/api/generations/abc/ldr"))
	require.Equal(t, "/api/generations/:id/other", routeLabel("/api/generations/abc/x"))
	require.Equal(t, "/api/models/:id", routeLabel("/api/models/ff00"))
	require.Equal(t, "/api/generations", routeLabel("/api/generations"))
	require.Equal(t, "/static", routeLabel("/index.html"))
}

func TestRenderInstructions_EscapesModelText(t *testing.T) {
	page, err := RenderInstructions(&model.LegoSet{
		Title:      "<script>alert(1)</script>",
		Parts:      []model.Part{{PartNum: "3001", PartName: "Brick | 2 x 4", ColorName: "Red", Quantity: 2}},
		BuildSteps: []model.BuildStep{{Step: 1, Instructions: "Place *two* bricks", ImagePrompt: "isometric"}},
		Validation: &model.Validation{VerifiedCount: 1, TotalCount: 1},
	})
	require.NoError(t, err)
	s := string(page)
	require.NotContains(t, s, "<script>")
	require.Contains(t, s, "Brick | 2 x 4")
	require.Contains(t, s, "*two*")
	require.Contains(t, s, "1 / 1 part types verified")
}
