package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"flowtrack/internal/config"
	"flowtrack/internal/db"
	"flowtrack/internal/engine"
	"flowtrack/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

var actorHeader = map[string]string{"X-Actor-Id": "tester"}

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("flowtrack")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	if _, err := e.InitProject(context.Background(), cfg.Project.ID, "Flowtrack", ""); err != nil {
		t.Fatalf("init project: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{AllowLegacyActorHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func createTask(t *testing.T, srv *testServer, title string) TaskResponse {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects/flowtrack/tasks", map[string]any{
		"title": title,
	}, actorHeader)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task status %d: %s", res.StatusCode, string(data))
	}
	var created TaskResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	return created
}

func TestHealthUnauthenticated(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
}

func TestTasksRequireAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects/flowtrack/tasks", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(data))
	}
}

func TestMoveTaskFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	created := createTask(t, srv, "Ship feature")
	if created.Status != "todo" {
		t.Fatalf("new task status %s", created.Status)
	}

	moveRes, moveBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+created.ID+"/move", map[string]any{
		"status":  "in_progress",
		"comment": "starting implementation now",
	}, actorHeader)
	if moveRes.StatusCode != http.StatusOK {
		t.Fatalf("move status %d: %s", moveRes.StatusCode, string(moveBody))
	}
	var moved TaskResponse
	if err := json.Unmarshal(moveBody, &moved); err != nil {
		t.Fatalf("unmarshal moved: %v", err)
	}
	if moved.Status != "in_progress" {
		t.Fatalf("status after move = %s", moved.Status)
	}

	histRes, histBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks/"+created.ID+"/history", nil, actorHeader)
	if histRes.StatusCode != http.StatusOK {
		t.Fatalf("history status %d: %s", histRes.StatusCode, string(histBody))
	}
	var entries []HistoryEntryResponse
	if err := json.Unmarshal(histBody, &entries); err != nil {
		t.Fatalf("unmarshal history: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected created + status_changed, got %d", len(entries))
	}
	if entries[1].Action != "status_changed" || entries[1].Comment == nil {
		t.Fatalf("entry = %+v", entries[1])
	}
}

func TestMoveTaskShortCommentIs422(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	created := createTask(t, srv, "Guarded")

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks/"+created.ID+"/move", map[string]any{
		"status":  "in_progress",
		"comment": "wip",
	}, actorHeader)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Error.Code != "validation_failed" {
		t.Fatalf("code = %s", envelope.Error.Code)
	}
}

func TestMoveTaskCapacityIs409(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	// review column allows 3 by default; fill it
	for i := 0; i < 3; i++ {
		task := createTask(t, srv, "Filler")
		res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+task.ID+"/move", map[string]any{
			"status":  "review",
			"comment": "moving into review column",
		}, actorHeader)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("fill move %d: %d %s", i, res.StatusCode, string(data))
		}
	}
	extra := createTask(t, srv, "One too many")
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+extra.ID+"/move", map[string]any{
		"status":  "review",
		"comment": "this one should be rejected",
	}, actorHeader)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	_ = json.Unmarshal(data, &envelope)
	if envelope.Error.Code != "capacity_exceeded" {
		t.Fatalf("code = %s", envelope.Error.Code)
	}
}

func TestSprintLifecycleAndVelocity(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/flowtrack/sprints", map[string]any{
		"name":       "Sprint 1",
		"start_date": "2024-01-01",
		"end_date":   "2024-01-14",
	}, actorHeader)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create sprint: %d %s", res.StatusCode, string(data))
	}
	var sprint SprintResponse
	_ = json.Unmarshal(data, &sprint)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/sprints/"+sprint.ID+"/start", nil, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("start sprint: %d %s", res.StatusCode, string(data))
	}

	taskRes, taskData := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/flowtrack/tasks", map[string]any{
		"title":        "Five pointer",
		"sprint_id":    sprint.ID,
		"story_points": 5,
	}, actorHeader)
	if taskRes.StatusCode != http.StatusCreated {
		t.Fatalf("create task: %d %s", taskRes.StatusCode, string(taskData))
	}
	var task TaskResponse
	_ = json.Unmarshal(taskData, &task)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+task.ID+"/move", map[string]any{
		"status":  "completed",
		"comment": "done before sprint close",
	}, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete task: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/sprints/"+sprint.ID+"/complete", nil, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete sprint: %d %s", res.StatusCode, string(data))
	}
	var completed SprintResponse
	_ = json.Unmarshal(data, &completed)
	if completed.Status != "completed" || completed.Velocity == nil || *completed.Velocity != 5 {
		t.Fatalf("completed sprint = %+v", completed)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/flowtrack/analytics/velocity", nil, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("velocity: %d %s", res.StatusCode, string(data))
	}
	var points []map[string]any
	if err := json.Unmarshal(data, &points); err != nil {
		t.Fatalf("unmarshal velocity: %v", err)
	}
	if len(points) != 1 {
		t.Fatalf("velocity points = %d", len(points))
	}
	if points[0]["velocity"].(float64) != 5 || points[0]["running_average"].(float64) != 5.0 {
		t.Fatalf("velocity point = %v", points[0])
	}
}

func TestAnalyticsEndpointsRespond(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	createTask(t, srv, "Present on the board")

	for _, view := range []string{"cumulative-flow", "cycle-time", "team-performance"} {
		res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/flowtrack/analytics/"+view, nil, actorHeader)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("%s status %d: %s", view, res.StatusCode, string(data))
		}
	}
}

func TestConfigImportRoundTrip(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	yaml := "project:\n  id: flowtrack\n  kind: delivery-board\nboard:\n  wip_limits:\n    in_progress: 2\n  default_points: 1\n"
	res, data := doJSON(t, client, http.MethodPut, srv.URL+"/v0/projects/flowtrack/config", map[string]any{
		"yaml": yaml,
	}, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("import config: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/flowtrack/config", nil, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get config: %d %s", res.StatusCode, string(data))
	}
	var cfg ProjectConfigResponse
	if err := json.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("unmarshal config: %v", err)
	}
	if cfg.Board.WIPLimits["in_progress"] != 2 {
		t.Fatalf("config = %+v", cfg)
	}
}
