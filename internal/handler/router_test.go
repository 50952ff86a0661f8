package handler_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-scene/backend/internal/handler"
	"github.com/zhouzirui/z-scene/backend/internal/metrics"
	"github.com/zhouzirui/z-scene/backend/internal/service/ai"
	chatsvc "github.com/zhouzirui/z-scene/backend/internal/service/chat"
	imagesvc "github.com/zhouzirui/z-scene/backend/internal/service/image"
	"github.com/zhouzirui/z-scene/backend/internal/service/roleplay"
	"github.com/zhouzirui/z-scene/backend/internal/store"
)

type scriptedModel struct {
	mu      sync.Mutex
	replies []string
	inputs  [][]*schema.Message
}

func (m *scriptedModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputs = append(m.inputs, input)
	reply := "..."
	if len(m.replies) > 0 {
		reply, m.replies = m.replies[0], m.replies[1:]
	}
	return schema.AssistantMessage(reply, nil), nil
}

func (m *scriptedModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

type imageProvider struct {
	status int
	body   string
	hits   int
	mu     sync.Mutex
}

func (p *imageProvider) serve(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		p.hits++
		p.mu.Unlock()
		if p.status == http.StatusOK {
			w.Header().Set("Content-Type", "image/jpeg")
		}
		w.WriteHeader(p.status)
		_, _ = io.WriteString(w, p.body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

type env struct {
	router   http.Handler
	dbPath   string
	chat     *scriptedModel
	primary  *imageProvider
	fallback *imageProvider
}

func newEnv(t *testing.T, primaryStatus int) *env {
	t.Helper()
	ctx := context.Background()

	dbPath := filepath.Join(t.TempDir(), "db.json")
	backend, err := store.NewStore(store.DriverFile, store.WithPath(dbPath))
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	m := metrics.MustNew(reg)

	state, err := chatsvc.LoadState(ctx, backend, m)
	require.NoError(t, err)

	chatModel := &scriptedModel{replies: []string{"*smiles* Hi!", "*laughs* Sure."}}
	gateway, err := ai.NewChatGateway(ctx, chatModel, ai.ChatOptions{MaxTokens: 150, Timeout: 5 * time.Second, Metrics: m})
	require.NoError(t, err)

	primary := &imageProvider{status: primaryStatus, body: "PRIMARYJPEG"}
	fallback := &imageProvider{status: http.StatusOK, body: "FALLBACKJPEG"}
	primarySrv, fallbackSrv := primary.serve(t), fallback.serve(t)
	images := imagesvc.NewGateway(
		imagesvc.NewClient(imagesvc.ClientConfig{Name: "primary", URL: primarySrv.URL, APIKey: "hf", Timeout: 5 * time.Second, Metrics: m}),
		imagesvc.NewClient(imagesvc.ClientConfig{Name: "fallback", URL: fallbackSrv.URL, APIKey: "hf", Timeout: 5 * time.Second, Metrics: m}),
		m,
	)

	svc := roleplay.NewService(state, gateway, images)
	router := handler.NewRouter(svc, handler.Options{Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})})
	return &env{router: router, dbPath: dbPath, chat: chatModel, primary: primary, fallback: fallback}
}

func (e *env) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *env) createSession(t *testing.T) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/create-session", map[string]any{
		"character":          "Mira",
		"characterQualities": map[string]any{"trait": "witty", "mood": "warm"},
		"scene":              "beach",
		"initialMessage":     "Hello!",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		SessionID string `json:"sessionId"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.SessionID)
	return resp.SessionID
}

type persistedDoc struct {
	Sessions            map[string]json.RawMessage `json:"sessions"`
	ConversationHistory map[string][]struct {
		Role    string `json:"role"`
		Content string `json:"content"`
		Message string `json:"message"`
	} `json:"conversationHistory"`
	Images map[string][]string `json:"images"`
}

func (e *env) persisted(t *testing.T) persistedDoc {
	t.Helper()
	data, err := os.ReadFile(e.dbPath)
	require.NoError(t, err)
	var doc persistedDoc
	require.NoError(t, json.Unmarshal(data, &doc))
	return doc
}

func TestSceneConversationEndToEnd(t *testing.T) {
	e := newEnv(t, http.StatusInternalServerError)
	id := e.createSession(t)

	rec := e.do(t, http.MethodPost, "/chat", map[string]string{"sessionId": id, "userMessage": "Hi Mira"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"reply":"*smiles* Hi!"}`, rec.Body.String())

	doc := e.persisted(t)
	assert.Contains(t, doc.Sessions, id)
	history := doc.ConversationHistory[id]
	require.Len(t, history, 3)
	assert.Equal(t, "system", history[0].Role)
	assert.Equal(t, "Mira: Hello!", history[0].Message)
	assert.Equal(t, "user: Hi Mira", history[1].Message)
	assert.Equal(t, "Mira: *smiles* Hi!", history[2].Message)
	require.Len(t, doc.Images[id], 2)

	require.Len(t, e.chat.inputs, 1)
	assert.Len(t, e.chat.inputs[0], 2)

	req := httptest.NewRequest(http.MethodGet, "/api/get-image?sessionId="+id, nil)
	imgRec := httptest.NewRecorder()
	e.router.ServeHTTP(imgRec, req)
	require.Equal(t, http.StatusOK, imgRec.Code)
	assert.Equal(t, "image/jpeg", imgRec.Header().Get("Content-Type"))
	assert.Equal(t, "FALLBACKJPEG", imgRec.Body.String())
	assert.Equal(t, 1, e.primary.hits)
	assert.Equal(t, 1, e.fallback.hits)

	historyRec := e.do(t, http.MethodGet, "/api/sessions/"+id+"/history", nil)
	require.Equal(t, http.StatusOK, historyRec.Code)
	assert.Contains(t, historyRec.Body.String(), "user: Hi Mira")
}

func TestCreateSessionMissingField(t *testing.T) {
	e := newEnv(t, http.StatusOK)
	rec := e.do(t, http.MethodPost, "/create-session", map[string]any{
		"character":      "Mira",
		"scene":          "beach",
		"initialMessage": "Hello!",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "characterQualities")
}

func TestCreateSessionInvalidBody(t *testing.T) {
	e := newEnv(t, http.StatusOK)
	req := httptest.NewRequest(http.MethodPost, "/create-session", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatErrors(t *testing.T) {
	e := newEnv(t, http.StatusOK)

	rec := e.do(t, http.MethodPost, "/chat", map[string]string{"sessionId": "ghost", "userMessage": "hi"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodPost, "/chat", map[string]string{"userMessage": "hi"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, e.chat.inputs)
}

func TestGetImageErrors(t *testing.T) {
	e := newEnv(t, http.StatusBadRequest)

	rec := e.do(t, http.MethodGet, "/api/get-image", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/get-image?sessionId=ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	id := e.createSession(t)
	rec = e.do(t, http.MethodGet, "/api/get-image?sessionId="+id, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, 0, e.fallback.hits)
}

func TestHealthAndMetrics(t *testing.T) {
	e := newEnv(t, http.StatusOK)
	e.createSession(t)

	rec := e.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "scene_store_writes_total")
}

func TestWebSocketChat(t *testing.T) {
	e := newEnv(t, http.StatusOK)
	id := e.createSession(t)

	srv := httptest.NewServer(e.router)
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/" + id

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var frame map[string]any
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "history", frame["type"])

	require.NoError(t, conn.WriteJSON(map[string]string{"userMessage": "Hi Mira"}))
	frame = nil
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "reply", frame["type"])
	assert.Equal(t, "*smiles* Hi!", frame["reply"])

	require.NoError(t, conn.WriteJSON(map[string]string{"userMessage": "  "}))
	frame = nil
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "error", frame["type"])
}

func TestWebSocketUnknownSession(t *testing.T) {
	e := newEnv(t, http.StatusOK)
	srv := httptest.NewServer(e.router)
	t.Cleanup(srv.Close)

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/ws/ghost", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
