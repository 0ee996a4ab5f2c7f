package api

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/pd-classroom/internal/config"
	"github.com/wfunc/pd-classroom/internal/game"
	"github.com/wfunc/pd-classroom/internal/game/dilemma"
	"github.com/wfunc/pd-classroom/internal/llm"
	"github.com/wfunc/pd-classroom/internal/middleware"
	"github.com/wfunc/pd-classroom/internal/repository"
	"github.com/wfunc/pd-classroom/internal/service"
	ws "github.com/wfunc/pd-classroom/internal/websocket"
	"go.uber.org/zap"
)

const (
	classPassword     = "class-pw"
	dashboardPassword = "dash-pw"
	exportKey         = "export-key"
)

type testServer struct {
	engine  *gin.Engine
	hub     *ws.Hub
	cookies []*http.Cookie
}

func testConfig() *config.Config {
	return &config.Config{
		WebSocket: config.WebSocketConfig{Path: "/ws", ReadBufferSize: 1024, WriteBufferSize: 1024},
		Game: config.GameConfig{
			Rounds:          2,
			ChatDuration:    time.Hour,
			DefaultStrategy: string(dilemma.ChatDriven),
			ReplyTimeout:    time.Second,
			DecisionTimeout: time.Second,
			SessionTimeout:  time.Hour,
			MaxSessions:     10,
		},
		LLM: config.LLMConfig{
			ReplyMaxTokens:      90,
			DecisionMaxTokens:   80,
			DecisionTemperature: 0.2,
			MaxReplyChars:       280,
		},
		Security: config.SecurityConfig{
			ClassPassword:     classPassword,
			DashboardPassword: dashboardPassword,
			ExportKey:         exportKey,
			JWT:               config.JWTConfig{Secret: "test-secret", ExpireHours: 1},
		},
		Dashboard: config.DashboardConfig{DefaultLimit: 100, MaxLimit: 500, PreviewCount: 4, PreviewChars: 220},
	}
}

func setupServer(t *testing.T) *testServer {
	t.Helper()
	return setupServerWith(t, nil)
}

func setupServerWith(t *testing.T, adjust func(cfg *config.Config)) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := testConfig()
	if adjust != nil {
		adjust(cfg)
	}
	db := repository.SetupTestDB(t)
	repos := repository.NewManager(db)

	gen := llm.GeneratorFunc(func(ctx context.Context, req llm.Request) (string, error) {
		if req.Purpose == "decision" {
			return `{"agent_move":"COOPERATE","confidence":0.9,"reason":"friendly"}`, nil
		}
		return "lets both cooperate", nil
	})

	hub := ws.NewHub(ws.Options{}, zap.NewNop())
	games := game.NewGameService(&game.GameServiceConfig{
		Logger:      zap.NewNop(),
		Game:        &cfg.Game,
		Records:     repos.RoundRecord(),
		Persister:   game.NewMemoryStatePersister(),
		Policy:      dilemma.NewPolicy(gen, dilemma.NewRandom(1), &cfg.LLM),
		Counterpart: dilemma.NewCounterpart(gen, dilemma.NewSequenceRandom(0.9), &cfg.LLM, &cfg.Game),
		Notifier:    hub,
	})

	router := NewRouter(&Dependencies{
		DB:       db,
		Games:    games,
		Services: service.NewServices(repos.RoundRecord(), service.FromAppConfig(cfg), zap.NewNop()),
		Hub:      hub,
		Config:   cfg,
	}, zap.NewNop())

	return &testServer{engine: router.GetEngine(), hub: hub}
}

// do 发送请求并记住返回的 Cookie
func (s *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range s.cookies {
		req.AddCookie(c)
	}

	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	for _, c := range w.Result().Cookies() {
		s.setCookie(c)
	}
	return w
}

func (s *testServer) setCookie(c *http.Cookie) {
	kept := s.cookies[:0]
	for _, old := range s.cookies {
		if old.Name != c.Name {
			kept = append(kept, old)
		}
	}
	s.cookies = kept
	if c.MaxAge >= 0 && c.Value != "" {
		s.cookies = append(s.cookies, c)
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Notices []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"notices"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Category string `json:"category"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder, data interface{}) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	if data != nil && len(env.Data) > 0 {
		require.NoError(t, json.Unmarshal(env.Data, data))
	}
	return env
}

func (s *testServer) identify(t *testing.T, label string) *game.SessionInfo {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/v1/games", map[string]string{
		"participant_label": label,
		"class_code":        "mba-b2",
		"password":          classPassword,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var info game.SessionInfo
	decode(t, w, &info)
	return &info
}

func TestHealthAndNotFound(t *testing.T) {
	s := setupServer(t)

	w := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")

	w = s.do(t, http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	env := decode(t, w, nil)
	assert.False(t, env.Success)
	require.NotNil(t, env.Error)

	w = s.do(t, http.MethodGet, "/openapi.yaml", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "/api/v1/games")
}

func TestClassGate(t *testing.T) {
	s := setupServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/games", map[string]string{"participant_label": "alice"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "auth", decode(t, w, nil).Category)

	w = s.do(t, http.MethodPost, "/api/v1/class-auth", map[string]string{"password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/games/some-id", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/class-auth", map[string]string{"password": classPassword})
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, s.cookies, 1)
	assert.Equal(t, middleware.ClassCookie, s.cookies[0].Name)
	assert.True(t, s.cookies[0].HttpOnly)

	// 已有 Cookie 时登记不需要口令
	w = s.do(t, http.MethodPost, "/api/v1/games", map[string]string{"participant_label": "alice"})
	assert.Equal(t, http.StatusCreated, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/games/unknown-id", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBearerToken(t *testing.T) {
	s := setupServer(t)
	w := s.do(t, http.MethodPost, "/api/v1/class-auth", map[string]string{"password": classPassword})
	require.Equal(t, http.StatusOK, w.Code)
	token := s.cookies[0].Value
	s.cookies = nil

	req := httptest.NewRequest(http.MethodGet, "/api/v1/score?game_id=g&participant_label=alice", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestFullGameFlow(t *testing.T) {
	s := setupServer(t)
	info := s.identify(t, "alice")
	assert.Equal(t, game.StateInstructed, info.State)
	base := "/api/v1/games/" + info.GameID

	// 说明页不能直接决策
	w := s.do(t, http.MethodPost, base+"/decision", map[string]string{"student_move": "COOPERATE"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodPost, base+"/chat/start", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	for round := 1; round <= 2; round++ {
		w = s.do(t, http.MethodPost, base+"/chat/messages", map[string]string{"text": "what will you do?"})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var msg game.MessageResult
		env := decode(t, w, &msg)
		assert.NotNil(t, env.Notices)
		assert.Equal(t, round, msg.Round)

		w = s.do(t, http.MethodPost, base+"/chat/continue", nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		w = s.do(t, http.MethodPost, base+"/decision", map[string]string{"student_move": "cooperate!"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "validation", decode(t, w, nil).Category)

		w = s.do(t, http.MethodPost, base+"/decision", map[string]string{"student_move": "COOPERATE"})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var decided game.DecisionResult
		decode(t, w, &decided)
		require.NotNil(t, decided.Outcome)
		assert.Equal(t, 3, decided.Outcome.StudentPayoff)

		// 重复提交返回同一结果
		w = s.do(t, http.MethodPost, base+"/decision", map[string]string{"student_move": "DEFECT"})
		require.Equal(t, http.StatusOK, w.Code)
		var again game.DecisionResult
		decode(t, w, &again)
		assert.True(t, again.Duplicate)
		assert.Equal(t, decided.Outcome.StudentMove, again.Outcome.StudentMove)

		w = s.do(t, http.MethodPost, base+"/next", nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	var next game.NextResult
	decode(t, w, &next)
	assert.True(t, next.Completed)
	require.NotNil(t, next.Score)
	assert.Equal(t, 6, next.Score.StudentTotal)
	assert.Equal(t, 6, next.Score.AgentTotal)

	w = s.do(t, http.MethodGet, "/api/v1/score?game_id="+info.GameID+"&participant_label=alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var score service.ScoreResponse
	decode(t, w, &score)
	assert.Equal(t, 2, score.RoundsPlayed)
	assert.Equal(t, 6, score.StudentTotal)

	w = s.do(t, http.MethodGet, "/api/v1/score?game_id="+info.GameID, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "aggregation_input", decode(t, w, nil).Category)

	// 重新开始后旧局不可用
	w = s.do(t, http.MethodDelete, base, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, http.MethodGet, base, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDashboardAndExport(t *testing.T) {
	s := setupServer(t)
	info := s.identify(t, "bob")
	base := "/api/v1/games/" + info.GameID

	s.do(t, http.MethodPost, base+"/chat/start", nil)
	for round := 1; round <= 2; round++ {
		s.do(t, http.MethodPost, base+"/chat/messages", map[string]string{"text": "hi, trust me"})
		s.do(t, http.MethodPost, base+"/chat/continue", nil)
		w := s.do(t, http.MethodPost, base+"/decision", map[string]string{"student_move": "DEFECT"})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		s.do(t, http.MethodPost, base+"/next", nil)
	}

	w := s.do(t, http.MethodGet, "/api/v1/dashboard", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/dashboard-auth", map[string]string{"password": dashboardPassword})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/dashboard?completed=1&class_code=mba-b2", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var dash struct {
		KPIs struct {
			Participants int      `json:"participants"`
			Games        int      `json:"games"`
			Rounds       int      `json:"rounds"`
			StudentCoop  *float64 `json:"student_coop_rate"`
		} `json:"kpis"`
		Leaderboard []struct {
			ParticipantLabel string `json:"participant_label"`
			StudentTotal     int    `json:"student_total"`
		} `json:"leaderboard"`
		Rows []json.RawMessage `json:"rows"`
	}
	decode(t, w, &dash)
	assert.Equal(t, 1, dash.KPIs.Games)
	assert.Equal(t, 2, dash.KPIs.Rounds)
	require.NotNil(t, dash.KPIs.StudentCoop)
	assert.Equal(t, 0.0, *dash.KPIs.StudentCoop)
	require.Len(t, dash.Leaderboard, 1)
	assert.Equal(t, "bob", dash.Leaderboard[0].ParticipantLabel)
	assert.Equal(t, 10, dash.Leaderboard[0].StudentTotal)
	assert.Len(t, dash.Rows, 2)

	w = s.do(t, http.MethodGet, "/api/v1/dashboard?after=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodDelete, "/api/v1/dashboard-auth", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, http.MethodGet, "/api/v1/dashboard", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/export?key=wrong", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/export?key="+exportKey+"&class_code=mba-b2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/csv")
	assert.Contains(t, w.Header().Get("Content-Disposition"), "pd_sessions_mba-b2.csv")

	rows, err := csv.NewReader(strings.NewReader(w.Body.String())).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, service.ExportHeader, rows[0])
	assert.Equal(t, "2", rows[1][5], "newest round first")
	assert.Equal(t, "DEFECT", rows[1][8])
}

func TestWebSocket_ConnectionCap(t *testing.T) {
	s := setupServerWith(t, func(cfg *config.Config) { cfg.WebSocket.MaxPerGame = 1 })
	info := s.identify(t, "alice")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.hub.Run(ctx)

	srv := httptest.NewServer(s.engine)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/games/" + info.GameID
	header := http.Header{}
	for _, c := range s.cookies {
		header.Add("Cookie", c.Name+"="+c.Value)
	}

	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool {
		return s.hub.GameConnections(info.GameID) == 1
	}, 2*time.Second, 10*time.Millisecond)

	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
