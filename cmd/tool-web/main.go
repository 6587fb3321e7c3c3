// tool-web is the web-access tool plugin: guarded page fetching, readable
// article extraction, link harvesting, and headless screenshots behind the
// engine's invocation envelope.
package main

import (
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lucialabs/lucia/cmd/tool-web/pipeline"
	"github.com/lucialabs/lucia/internal/domain/models"
)

const (
	defaultReadLimit = 20000
	maxLinks         = 100
)

type server struct {
	browser *pipeline.Browser
	logger  *slog.Logger
}

func main() {
	addr := flag.String("addr", ":8082", "listen address")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	srv := &server{browser: &pipeline.Browser{}, logger: logger}
	defer srv.browser.Close()

	r := chi.NewRouter()
	r.Post("/invoke", srv.handleInvoke)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	logger.Info("tool-web listening", "addr", *addr)
	httpServer := &http.Server{Addr: *addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	if err := httpServer.ListenAndServe(); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func (s *server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var inv models.ToolInvocation
	if err := json.NewDecoder(r.Body).Decode(&inv); err != nil {
		http.Error(w, "malformed envelope: "+err.Error(), http.StatusBadRequest)
		return
	}
	response := s.dispatch(r, &inv)
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Error("write response failed", "error", err)
	}
}

func (s *server) dispatch(r *http.Request, inv *models.ToolInvocation) *models.ToolResponse {
	action := strings.TrimPrefix(inv.Action, "web.")
	s.logger.Info("invocation", "action", action,
		"session_id", inv.Context.SessionID, "trace_id", inv.Context.TraceID)

	rawURL := stringInput(inv.Input, "url", "")
	if rawURL == "" {
		return errorResponse("missing required input: url")
	}

	switch action {
	case "fetch":
		return s.fetch(r, rawURL)
	case "read":
		return s.read(r, rawURL, intInput(inv.Input, "max_length", defaultReadLimit))
	case "links":
		return s.links(r, rawURL)
	case "screenshot":
		return s.screenshot(inv.Input, rawURL)
	default:
		return errorResponse("unknown action: " + inv.Action)
	}
}

func (s *server) fetch(r *http.Request, rawURL string) *models.ToolResponse {
	result, err := pipeline.Fetch(r.Context(), rawURL)
	if err != nil {
		return errorResponse(err.Error())
	}
	return models.NewTextResponse(result.Body).
		WithMeta("status_code", result.StatusCode).
		WithMeta("final_url", result.FinalURL).
		WithMeta("content_type", result.ContentType)
}

// read fetches a page and returns the readable article as markdown, with
// the page metadata attached.
func (s *server) read(r *http.Request, rawURL string, maxLength int) *models.ToolResponse {
	htmlContent, finalURL, err := pipeline.FetchHTML(r.Context(), rawURL)
	if err != nil {
		return errorResponse(err.Error())
	}

	article, err := pipeline.ExtractArticle(htmlContent, finalURL)
	if err != nil {
		return errorResponse("content extraction failed: " + err.Error())
	}

	resp := models.NewTextResponse(pipeline.TruncateMarkdown(article.Markdown, maxLength)).
		WithMeta("title", article.Title).
		WithMeta("word_count", article.WordCount).
		WithMeta("final_url", finalURL)
	if article.Byline != "" {
		resp.WithMeta("byline", article.Byline)
	}
	if article.SiteName != "" {
		resp.WithMeta("site_name", article.SiteName)
	}
	if meta, err := pipeline.ExtractMeta(htmlContent); err == nil && meta.Description != "" {
		resp.WithMeta("description", meta.Description)
	}
	return resp
}

func (s *server) links(r *http.Request, rawURL string) *models.ToolResponse {
	htmlContent, finalURL, err := pipeline.FetchHTML(r.Context(), rawURL)
	if err != nil {
		return errorResponse(err.Error())
	}

	links, err := pipeline.ExtractLinks(htmlContent, finalURL)
	if err != nil {
		return errorResponse("link extraction failed: " + err.Error())
	}
	truncated := false
	if len(links) > maxLinks {
		links = links[:maxLinks]
		truncated = true
	}

	var b strings.Builder
	for _, link := range links {
		if link.Text != "" {
			fmt.Fprintf(&b, "- [%s](%s)\n", link.Text, link.URL)
		} else {
			fmt.Fprintf(&b, "- %s\n", link.URL)
		}
	}
	return models.NewTextResponse(b.String()).
		WithMeta("count", len(links)).
		WithMeta("truncated", truncated).
		WithMeta("final_url", finalURL)
}

func (s *server) screenshot(input map[string]any, rawURL string) *models.ToolResponse {
	opts := pipeline.DefaultRenderOptions()
	opts.WaitMS = intInput(input, "wait_ms", 1000)
	if w := intInput(input, "width", 0); w > 0 {
		opts.Width = w
	}
	if h := intInput(input, "height", 0); h > 0 {
		opts.Height = h
	}
	if full, ok := input["full_page"].(bool); ok {
		opts.FullPage = full
	}

	data, err := s.browser.Screenshot(rawURL, opts)
	if err != nil {
		return errorResponse("screenshot failed: " + err.Error())
	}
	return &models.ToolResponse{
		Type:     models.ResponseTypeImage,
		Content:  base64.StdEncoding.EncodeToString(data),
		MimeType: "image/png",
		Metadata: map[string]any{
			"url":    rawURL,
			"width":  opts.Width,
			"height": opts.Height,
		},
	}
}

func errorResponse(message string) *models.ToolResponse {
	resp := models.NewTextResponse(message)
	resp.Type = models.ResponseTypeToolResult
	return resp.WithMeta("error", true)
}

func stringInput(input map[string]any, key, fallback string) string {
	if v, ok := input[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return fallback
}

func intInput(input map[string]any, key string, fallback int) int {
	switch v := input[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return fallback
}
