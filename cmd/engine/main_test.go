package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"aina-assist/internal/engine"
	"aina-assist/internal/pipeline"
	"aina-assist/internal/provider"
)

func newTestServer(inv pipeline.Invoker) *server {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &server{
		log:       log,
		inv:       inv,
		pipes:     pipeline.New(log, inv),
		maxUpload: 1024 * 1024, // 1MB for tests
	}
}

func postJSON(t *testing.T, h http.HandlerFunc, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h(w, req)
	return w
}

func TestInvokeHandler(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		result     *engine.Result
		err        error
		wantStatus int
		wantBody   string
	}{
		{
			name:       "successful invocation",
			body:       `{"prompt":"Corregeix el text.","module":"estil"}`,
			result:     &engine.Result{Text: "Text corregit.", Provider: "salamandra-7b", TokensIn: 12, TokensOut: 4},
			wantStatus: http.StatusOK,
			wantBody:   "Text corregit.",
		},
		{
			name:       "missing prompt",
			body:       `{"module":"estil"}`,
			wantStatus: http.StatusBadRequest,
			wantBody:   "Prompt",
		},
		{
			name:       "malformed body",
			body:       `{"prompt":`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "bad strategy",
			body:       `{"prompt":"hola","strategy":"shuffle"}`,
			wantStatus: http.StatusBadRequest,
			wantBody:   "Strategy",
		},
		{
			name:       "invalid argument from engine",
			body:       `{"prompt":"hola","provider":"inexistent"}`,
			err:        engine.ErrInvalidArgument,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "context window exceeded",
			body:       `{"prompt":"hola"}`,
			err:        &engine.ContextWindowExceededError{Provider: "salamandra-7b", PromptTokens: 9000, MaxTokens: 7168},
			wantStatus: http.StatusRequestEntityTooLarge,
			wantBody:   `"prompt_tokens": 9000`,
		},
		{
			name:       "provider timeout",
			body:       `{"prompt":"hola"}`,
			err:        &provider.Error{Provider: "alia-40b-32k", Reason: provider.ReasonTimeout},
			wantStatus: http.StatusGatewayTimeout,
		},
		{
			name:       "provider failure",
			body:       `{"prompt":"hola"}`,
			err:        &provider.Error{Provider: "gpt-4o", Reason: provider.ReasonBadResponse, Status: 500},
			wantStatus: http.StatusBadGateway,
			wantBody:   "gpt-4o",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := &pipeline.MockInvoker{}
			if tt.result != nil || tt.err != nil {
				inv.On("Invoke", mock.Anything, mock.Anything).Return(tt.result, tt.err).Once()
			}
			s := newTestServer(inv)

			w := postJSON(t, s.invokeHandler(), tt.body)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantBody != "" {
				assert.Contains(t, w.Body.String(), tt.wantBody)
			}
			inv.AssertExpectations(t)
		})
	}
}

func TestInvokeHandlerForwardsFields(t *testing.T) {
	inv := &pipeline.MockInvoker{}
	var got engine.Request
	inv.On("Invoke", mock.Anything, mock.MatchedBy(func(req engine.Request) bool {
		got = req
		return true
	})).Return(&engine.Result{}, nil)
	s := newTestServer(inv)

	w := postJSON(t, s.invokeHandler(), `{
		"prompt": "text", "system_prompt": "sys", "json_response": true,
		"provider": "alia-40b-16k", "module": "terminologia",
		"user_id": "u1", "session_id": "s1",
		"max_output_tokens": 256, "temperature": 0.2, "strategy": "refine"
	}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "sys", got.SystemPrompt)
	assert.True(t, got.JSONResponse)
	assert.Equal(t, "alia-40b-16k", got.Provider)
	assert.Equal(t, 256, got.MaxOutputTokens)
	assert.Equal(t, engine.StrategyRefine, got.Strategy)
	assert.Equal(t, "u1", got.UserID)
}

func TestCorrectHandler(t *testing.T) {
	inv := &pipeline.MockInvoker{}
	inv.On("Invoke", mock.Anything, mock.MatchedBy(func(req engine.Request) bool {
		return req.Module == pipeline.ModuleTerminology &&
			req.JSONResponse &&
			strings.Contains(req.Prompt, `"doncs" -> "per tant"`)
	})).Return(&engine.Result{JSON: json.RawMessage(`{"esmenes":[]}`)}, nil).Once()
	s := newTestServer(inv)

	w := postJSON(t, s.correctHandler(), `{
		"text": "El text, doncs, cal revisar-lo.",
		"candidates": [{"term":"doncs","suggestion":"per tant","score":0.9}]
	}`)

	assert.Equal(t, http.StatusOK, w.Code)
	inv.AssertExpectations(t)
}

func TestCorrectHandlerRequiresText(t *testing.T) {
	s := newTestServer(&pipeline.MockInvoker{})

	w := postJSON(t, s.correctHandler(), `{"candidates":[]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestValidateHandler(t *testing.T) {
	inv := &pipeline.MockInvoker{}
	inv.On("Invoke", mock.Anything, mock.MatchedBy(func(req engine.Request) bool {
		return req.Module == pipeline.ModuleStyle
	})).Return(&engine.Result{JSON: json.RawMessage(`{"valoracio":"apte","observacions":[]}`)}, nil).Once()
	s := newTestServer(inv)

	w := postJSON(t, s.validateHandler(), `{"text":"Us informem que la sessió queda ajornada."}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "apte")
	inv.AssertExpectations(t)
}

func multipartBody(t *testing.T, fields map[string]string, filename, contentType string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		h := make(map[string][]string)
		h["Content-Disposition"] = []string{`form-data; name="file"; filename="` + filename + `"`}
		if contentType != "" {
			h["Content-Type"] = []string{contentType}
		}
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestElaborateHandlerJSON(t *testing.T) {
	inv := &pipeline.MockInvoker{}
	inv.On("Invoke", mock.Anything, mock.MatchedBy(func(req engine.Request) bool {
		return req.Module == pipeline.ModuleElaboration && req.Strategy == engine.StrategyRefine
	})).Return(&engine.Result{Text: "Esborrany."}, nil).Once()
	s := newTestServer(inv)

	w := postJSON(t, s.elaborateHandler(), `{"instructions":"Redacta un edicte.","reference":"Expedient 2024/0133."}`)

	assert.Equal(t, http.StatusOK, w.Code)
	inv.AssertExpectations(t)
}

func TestElaborateHandlerMultipart(t *testing.T) {
	tests := []struct {
		name        string
		fields      map[string]string
		filename    string
		contentType string
		content     []byte
		wantStatus  int
		wantRefSub  string
	}{
		{
			name:        "txt upload becomes the reference",
			fields:      map[string]string{"instructions": "Redacta una resolució."},
			filename:    "expedient.txt",
			contentType: "text/plain",
			content:     []byte("Sol·licitant: Maria Puig."),
			wantStatus:  http.StatusOK,
			wantRefSub:  "Maria Puig",
		},
		{
			name:       "form without file",
			fields:     map[string]string{"instructions": "Redacta un edicte.", "reference": "Expedient 7."},
			wantStatus: http.StatusOK,
			wantRefSub: "Expedient 7",
		},
		{
			name:        "unsupported file type",
			fields:      map[string]string{"instructions": "Redacta."},
			filename:    "imatge.png",
			contentType: "image/png",
			content:     []byte{0x89, 0x50},
			wantStatus:  http.StatusBadRequest,
		},
		{
			name:       "missing instructions",
			fields:     map[string]string{"reference": "text"},
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := &pipeline.MockInvoker{}
			if tt.wantStatus == http.StatusOK {
				inv.On("Invoke", mock.Anything, mock.MatchedBy(func(req engine.Request) bool {
					return strings.Contains(req.Prompt, tt.wantRefSub)
				})).Return(&engine.Result{Text: "Fet."}, nil).Once()
			}
			s := newTestServer(inv)

			body, ct := multipartBody(t, tt.fields, tt.filename, tt.contentType, tt.content)
			req := httptest.NewRequest(http.MethodPost, "/", body)
			req.Header.Set("Content-Type", ct)
			w := httptest.NewRecorder()
			s.elaborateHandler()(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			inv.AssertExpectations(t)
		})
	}
}

func TestElaborateHandlerRejectsOversizedUpload(t *testing.T) {
	s := newTestServer(&pipeline.MockInvoker{})

	big := make([]byte, 2*1024*1024)
	body, ct := multipartBody(t, map[string]string{"instructions": "Redacta."}, "gran.txt", "text/plain", big)
	req := httptest.NewRequest(http.MethodPost, "/", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	s.elaborateHandler()(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "too large")
}
