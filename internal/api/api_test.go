package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"flowbot/internal/engine"
	"flowbot/internal/graph"
	"flowbot/internal/model"
	"flowbot/internal/schema"
	"flowbot/internal/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const supportDoc = `{
  "id": "support",
  "version": 1,
  "nodes": [
    {"id": "welcome", "messageType": "quick_replies", "isStart": true,
     "content": {"text": "Need help?", "quickReplies": [{"title": "Yes", "payload": "Y"}, {"title": "No", "payload": "N"}]}},
    {"id": "help", "messageType": "text", "content": {"text": "An agent will reply soon."}},
    {"id": "bye", "messageType": "text", "content": {"text": "Bye!"}}
  ],
  "edges": [
    {"id": "e1", "source": "welcome", "target": "help", "conditionPayload": "Y"},
    {"id": "e2", "source": "welcome", "target": "bye", "conditionPayload": "N"}
  ]
}`

type recordingAnnouncer struct {
	mu  sync.Mutex
	ids []string
}

func (a *recordingAnnouncer) AnnounceActivation(ctx context.Context, workflowID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ids = append(a.ids, workflowID)
	return nil
}

type testServer struct {
	handler  http.Handler
	engine   *engine.Engine
	announce *recordingAnnouncer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	decoder := graph.NewDecoder(schema.NewCompilerWithCache(8))
	g, err := decoder.Decode(context.Background(), []byte(supportDoc))
	require.NoError(t, err)

	repo := graph.NewMemoryRepository()
	repo.Put(g, true)
	cache := graph.NewCache(repo, 8, 0, zap.NewNop())

	eng := engine.New(cache, session.NewManager(session.NewMemoryStore(), 50), session.NewLocalLocker(), zap.NewNop(), engine.Config{})
	announce := &recordingAnnouncer{}
	handler := Routes(Dependencies{
		Engine:  eng,
		Decoder: decoder,
		Bus:     announce,
		Log:     zap.NewNop(),
	})
	return &testServer{handler: handler, engine: eng, announce: announce}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestSendMessageConversation(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/chat/message", map[string]string{"channelUserId": "u1", "message": "hi"})
	require.Equal(t, http.StatusOK, rec.Code)
	var first engine.Turn
	decode(t, rec, &first)
	assert.Equal(t, "welcome", first.Message.Metadata.NodeID)
	assert.Len(t, first.Message.QuickReplies, 2)
	assert.False(t, first.Ended)

	rec = s.do(t, http.MethodPost, "/chat/message", map[string]string{"channelUserId": "u1", "message": "Yes", "payload": "Y", "title": "Yes"})
	require.Equal(t, http.StatusOK, rec.Code)
	var second engine.Turn
	decode(t, rec, &second)
	assert.Equal(t, "help", second.Message.Metadata.NodeID)
	assert.Equal(t, "An agent will reply soon.", second.Message.Text)
	assert.True(t, second.Ended)
	assert.Equal(t, first.SessionID, second.SessionID)

	rec = s.do(t, http.MethodGet, "/chat/history/u1?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history historyResponse
	decode(t, rec, &history)
	require.Len(t, history.Messages, 4)
	assert.Equal(t, model.SenderUser, history.Messages[0].Sender)
	assert.Equal(t, "Y", history.Messages[2].Payload)

	rec = s.do(t, http.MethodGet, "/chat/session/"+first.SessionID+"/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &history)
	assert.Len(t, history.Messages, 4)
}

func TestSendMessageNoMatchRepeats(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/chat/message", map[string]string{"channelUserId": "u1", "message": "hi"})

	rec := s.do(t, http.MethodPost, "/chat/message", map[string]string{"channelUserId": "u1", "message": "what?"})
	require.Equal(t, http.StatusOK, rec.Code)
	var turn engine.Turn
	decode(t, rec, &turn)
	assert.True(t, turn.NoMatch)
	assert.Equal(t, "welcome", turn.Message.Metadata.NodeID)
}

func TestSendMessageValidation(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		body interface{}
	}{
		{"malformed json", "{"},
		{"missing user", map[string]string{"message": "hi"}},
		{"missing message and payload", map[string]string{"channelUserId": "u1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/chat/message", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, problemMediaType, rec.Header().Get("Content-Type"))

			var problem map[string]interface{}
			decode(t, rec, &problem)
			assert.Equal(t, "validation_error", problem["type"])
		})
	}

	// A payload alone is a valid button press.
	rec := s.do(t, http.MethodPost, "/chat/message", map[string]string{"channelUserId": "u2", "payload": "Y"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSendMessageUnknownWorkflow(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/chat/message", map[string]string{"channelUserId": "u1", "message": "hi", "workflowId": "nope"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEndAndResetSession(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/chat/message", map[string]string{"channelUserId": "u1", "message": "hi"})
	var turn engine.Turn
	decode(t, rec, &turn)

	rec = s.do(t, http.MethodPost, "/chat/session/"+turn.SessionID+"/end", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var ended model.Session
	decode(t, rec, &ended)
	assert.Equal(t, model.SessionStatusEnded, ended.Status)

	rec = s.do(t, http.MethodPost, "/chat/session/unknown/end", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/chat/reset/u1?workflowId=support", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// After a reset the user starts a fresh session.
	rec = s.do(t, http.MethodPost, "/chat/message", map[string]string{"channelUserId": "u1", "message": "hi"})
	var fresh engine.Turn
	decode(t, rec, &fresh)
	assert.NotEqual(t, turn.SessionID, fresh.SessionID)
	assert.Equal(t, "welcome", fresh.Message.Metadata.NodeID)
}

func TestHistoryRejectsBadLimit(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/chat/history/u1?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/chat/history/nobody", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"messages":[]}`, rec.Body.String())
}

func TestValidateWorkflow(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/workflows/validate", supportDoc)
	require.Equal(t, http.StatusOK, rec.Code)
	var ok validationResponse
	decode(t, rec, &ok)
	assert.True(t, ok.Valid)
	assert.Equal(t, "support", ok.WorkflowID)
	assert.Empty(t, ok.Violations)

	broken := strings.Replace(supportDoc, `"target": "bye"`, `"target": "ghost"`, 1)
	rec = s.do(t, http.MethodPost, "/workflows/validate", broken)
	require.Equal(t, http.StatusOK, rec.Code)
	var bad validationResponse
	decode(t, rec, &bad)
	assert.False(t, bad.Valid)
	assert.NotEmpty(t, bad.Violations)

	rec = s.do(t, http.MethodPost, "/workflows/validate", "not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestValidateWorkflowYAML(t *testing.T) {
	s := newTestServer(t)
	doc := "id: hello\nversion: 1\nnodes:\n  - id: start\n    messageType: text\n    isStart: true\n    content:\n      text: Hi\nedges: []\n"

	req := httptest.NewRequest(http.MethodPost, "/workflows/validate", strings.NewReader(doc))
	req.Header.Set("Content-Type", "application/yaml")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp validationResponse
	decode(t, rec, &resp)
	assert.True(t, resp.Valid)
	assert.Equal(t, "hello", resp.WorkflowID)
}

func TestWorkflowActivated(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/workflows/support/activated", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"support"}, s.announce.ids)
}

func TestWriteErrorStatuses(t *testing.T) {
	tests := []struct {
		err        error
		status     int
		hidesCause bool
	}{
		{model.E("op", model.ErrInvalidInput, errors.New("bad")), http.StatusBadRequest, false},
		{model.E("op", model.ErrNotFound, errors.New("no session")), http.StatusNotFound, false},
		{model.E("op", model.ErrConflict, errors.New("rev")), http.StatusConflict, false},
		{&model.GraphInvalidError{WorkflowID: "w"}, http.StatusUnprocessableEntity, true},
		{model.E("op", model.ErrStoreUnavailable, errors.New("dial tcp")), http.StatusServiceUnavailable, true},
		{model.E("op", model.ErrTimeout, errors.New("slow")), http.StatusGatewayTimeout, true},
		{errors.New("boom"), http.StatusInternalServerError, true},
	}
	for _, tt := range tests {
		t.Run(model.Code(tt.err), func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(rec, httptest.NewRequest(http.MethodGet, "/x", nil), tt.err, zap.NewNop())

			assert.Equal(t, tt.status, rec.Code)
			var problem map[string]interface{}
			decode(t, rec, &problem)
			assert.Equal(t, model.Code(tt.err), problem["type"])
			if tt.hidesCause {
				assert.Equal(t, retryDetail, problem["detail"])
			} else {
				assert.NotEqual(t, retryDetail, problem["detail"])
			}
		})
	}
}
