package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ledongthuc/pdf"

	"aina-assist/internal/app"
	"aina-assist/internal/engine"
	"aina-assist/internal/httputil"
	"aina-assist/internal/pipeline"
	"aina-assist/internal/provider"
)

type invokeRequest struct {
	Prompt          string  `json:"prompt" validate:"required"`
	SystemPrompt    string  `json:"system_prompt"`
	JSONResponse    bool    `json:"json_response"`
	Provider        string  `json:"provider"`
	Module          string  `json:"module" validate:"omitempty,max=64"`
	UserID          string  `json:"user_id"`
	SessionID       string  `json:"session_id"`
	MaxOutputTokens int     `json:"max_output_tokens" validate:"omitempty,min=1,max=32768"`
	Temperature     float64 `json:"temperature" validate:"omitempty,min=0,max=2"`
	Strategy        string  `json:"strategy" validate:"omitempty,oneof=map_reduce refine"`
}

type correctRequest struct {
	Text       string               `json:"text" validate:"required"`
	Candidates []pipeline.Candidate `json:"candidates"`
	UserID     string               `json:"user_id"`
	SessionID  string               `json:"session_id"`
}

type validateRequest struct {
	Text      string `json:"text" validate:"required"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

type elaborateRequest struct {
	Instructions string `json:"instructions" validate:"required"`
	Reference    string `json:"reference"`
	UserID       string `json:"user_id"`
	SessionID    string `json:"session_id"`
}

// server bundles what the handlers need, decoupled from app.Build for tests.
type server struct {
	log       *slog.Logger
	inv       pipeline.Invoker
	pipes     *pipeline.Pipelines
	maxUpload int64
}

func main() {
	deps, err := app.Build()
	if err != nil {
		slog.Default().Error("failed to build dependencies", "err", err)
		os.Exit(1)
	}
	defer deps.Close()

	s := &server{
		log:       deps.Log,
		inv:       deps.Engine,
		pipes:     deps.Pipelines,
		maxUpload: deps.Config.MaxUploadSize,
	}
	r := httputil.NewRouter(deps.Log, 120*time.Second)

	r.Post("/api/invoke", s.invokeHandler())
	r.Post("/api/correct", s.correctHandler())
	r.Post("/api/validate", s.validateHandler())
	r.Post("/api/elaborate", s.elaborateHandler())
	r.Get("/healthz", httputil.HealthHandler(deps.Log))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", deps.Config.Port),
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			deps.Log.Warn("shutdown failed", "err", err)
		}
	}()

	deps.Log.Info("engine service listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		deps.Log.Error("server failed", "err", err)
	}
}

func (s *server) invokeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req invokeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.Fail(s.log, w, "invalid payload", err, http.StatusBadRequest)
			return
		}
		if err := httputil.Validator.Struct(&req); err != nil {
			httputil.ValidationError(s.log, w, err)
			return
		}

		res, err := s.inv.Invoke(r.Context(), engine.Request{
			Prompt:          req.Prompt,
			SystemPrompt:    req.SystemPrompt,
			JSONResponse:    req.JSONResponse,
			Provider:        req.Provider,
			MaxOutputTokens: req.MaxOutputTokens,
			Temperature:     req.Temperature,
			Module:          req.Module,
			UserID:          req.UserID,
			SessionID:       req.SessionID,
			Strategy:        req.Strategy,
		})
		if err != nil {
			s.writeError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, res)
	}
}

func (s *server) correctHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req correctRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.Fail(s.log, w, "invalid payload", err, http.StatusBadRequest)
			return
		}
		if err := httputil.Validator.Struct(&req); err != nil {
			httputil.ValidationError(s.log, w, err)
			return
		}

		attr := pipeline.Attribution{UserID: req.UserID, SessionID: req.SessionID}
		res, err := s.pipes.CorrectTerminology(r.Context(), req.Text, req.Candidates, attr)
		if err != nil {
			s.writeError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, res)
	}
}

func (s *server) validateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req validateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.Fail(s.log, w, "invalid payload", err, http.StatusBadRequest)
			return
		}
		if err := httputil.Validator.Struct(&req); err != nil {
			httputil.ValidationError(s.log, w, err)
			return
		}

		attr := pipeline.Attribution{UserID: req.UserID, SessionID: req.SessionID}
		res, err := s.pipes.ValidateStyle(r.Context(), req.Text, attr)
		if err != nil {
			s.writeError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, res)
	}
}

// elaborateHandler accepts either a JSON body or a multipart form with an
// "instructions" field and an optional PDF or TXT reference document.
func (s *server) elaborateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req elaborateRequest

		ct := r.Header.Get("Content-Type")
		if strings.HasPrefix(ct, "multipart/form-data") {
			var ok bool
			req, ok = s.parseElaborateForm(w, r)
			if !ok {
				return
			}
		} else {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				httputil.Fail(s.log, w, "invalid payload", err, http.StatusBadRequest)
				return
			}
		}
		if err := httputil.Validator.Struct(&req); err != nil {
			httputil.ValidationError(s.log, w, err)
			return
		}

		attr := pipeline.Attribution{UserID: req.UserID, SessionID: req.SessionID}
		res, err := s.pipes.Elaborate(r.Context(), req.Instructions, req.Reference, attr)
		if err != nil {
			s.writeError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, res)
	}
}

// parseElaborateForm reads the multipart variant. A false return means the
// response is already written.
func (s *server) parseElaborateForm(w http.ResponseWriter, r *http.Request) (elaborateRequest, bool) {
	if r.ContentLength > s.maxUpload {
		httputil.Fail(s.log, w, fmt.Sprintf("upload too large (max %d bytes)", s.maxUpload), nil, http.StatusBadRequest)
		return elaborateRequest{}, false
	}

	req := elaborateRequest{
		Instructions: r.FormValue("instructions"),
		Reference:    r.FormValue("reference"),
		UserID:       r.FormValue("user_id"),
		SessionID:    r.FormValue("session_id"),
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return req, true
		}
		httputil.Fail(s.log, w, "invalid multipart form", err, http.StatusBadRequest)
		return elaborateRequest{}, false
	}
	defer file.Close()

	if header.Size > s.maxUpload {
		httputil.Fail(s.log, w, fmt.Sprintf("upload too large (max %d bytes)", s.maxUpload), nil, http.StatusBadRequest)
		return elaborateRequest{}, false
	}
	if !allowedUpload(header.Filename, header.Header.Get("Content-Type")) {
		httputil.Fail(s.log, w, "unsupported file type (only PDF and TXT allowed)", nil, http.StatusBadRequest)
		return elaborateRequest{}, false
	}

	content, err := io.ReadAll(file)
	if err != nil {
		httputil.Fail(s.log, w, "failed to read file", err, http.StatusInternalServerError)
		return elaborateRequest{}, false
	}
	req.Reference = s.extractText(header.Filename, content)
	return req, true
}

func allowedUpload(filename, contentType string) bool {
	if contentType == "" {
		switch strings.ToLower(filepath.Ext(filename)) {
		case ".txt":
			contentType = "text/plain"
		case ".pdf":
			contentType = "application/pdf"
		}
	}
	return contentType == "text/plain" || contentType == "application/pdf"
}

// writeError maps engine failures onto HTTP statuses.
func (s *server) writeError(w http.ResponseWriter, err error) {
	var cwe *engine.ContextWindowExceededError
	var perr *provider.Error

	switch {
	case errors.Is(err, engine.ErrInvalidArgument):
		httputil.Fail(s.log, w, err.Error(), err, http.StatusBadRequest)
	case errors.As(err, &cwe):
		s.log.Error("context window exceeded", "err", err)
		httputil.WriteJSON(w, http.StatusRequestEntityTooLarge, map[string]any{
			"error":         "prompt exceeds the provider's context window",
			"provider":      cwe.Provider,
			"prompt_tokens": cwe.PromptTokens,
			"max_tokens":    cwe.MaxTokens,
		})
	case errors.As(err, &perr):
		status := http.StatusBadGateway
		if perr.Reason == provider.ReasonTimeout {
			status = http.StatusGatewayTimeout
		}
		httputil.Fail(s.log, w, fmt.Sprintf("provider %s failed: %s", perr.Provider, perr.Reason), err, status)
	default:
		httputil.Fail(s.log, w, "invocation failed", err, http.StatusInternalServerError)
	}
}

// extractText extracts text from uploaded files, with PDF support.
func (s *server) extractText(filename string, content []byte) string {
	if strings.HasSuffix(strings.ToLower(filename), ".pdf") {
		text, err := extractPDF(content)
		if err != nil {
			s.log.Warn("pdf extraction failed, using raw bytes", "err", err, "filename", filename)
			return string(content)
		}
		return text
	}
	// Treat other files as plain text
	return string(content)
}

func extractPDF(content []byte) (string, error) {
	reader := bytes.NewReader(content)
	pdfReader, err := pdf.NewReader(reader, int64(len(content)))
	if err != nil {
		return "", err
	}

	var textBuilder strings.Builder
	numPages := pdfReader.NumPage()

	for pageNum := 1; pageNum <= numPages; pageNum++ {
		page := pdfReader.Page(pageNum)
		if page.V.IsNull() || page.V.Key("Contents").Kind() == pdf.Null {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			// Skip pages that fail to extract
			continue
		}
		textBuilder.WriteString(text)
		textBuilder.WriteString("\n")
	}

	return textBuilder.String(), nil
}
