// tool-casa is the demo home-assistant tool plugin. It answers the engine's
// invocation envelope with deterministic canned responses, over HTTP or in
// stdio mode (one JSON line in, one JSON line out).
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lucialabs/lucia/internal/domain/models"
)

func main() {
	addr := flag.String("addr", ":8081", "listen address for HTTP mode")
	stdio := flag.Bool("stdio", false, "serve the envelope over stdin/stdout instead of HTTP")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if *stdio {
		if err := serveStdio(logger); err != nil {
			logger.Error("stdio loop failed", "error", err)
			os.Exit(1)
		}
		return
	}

	r := chi.NewRouter()
	r.Post("/invoke", handleHTTP(logger))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	logger.Info("tool-casa listening", "addr", *addr)
	server := &http.Server{Addr: *addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	if err := server.ListenAndServe(); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func handleHTTP(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var inv models.ToolInvocation
		if err := json.NewDecoder(r.Body).Decode(&inv); err != nil {
			http.Error(w, "malformed envelope: "+err.Error(), http.StatusBadRequest)
			return
		}
		response := dispatch(&inv, logger)
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(response); err != nil {
			logger.Error("write response failed", "error", err)
		}
	}
}

// serveStdio reads newline-delimited envelopes from stdin and writes one
// reply line each. A single call is in flight at a time.
func serveStdio(logger *slog.Logger) error {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	encoder := json.NewEncoder(os.Stdout)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var inv models.ToolInvocation
		if err := json.Unmarshal(line, &inv); err != nil {
			if err := encoder.Encode(errorResponse("malformed envelope: " + err.Error())); err != nil {
				return err
			}
			continue
		}
		if err := encoder.Encode(dispatch(&inv, logger)); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// dispatch routes one envelope to its canned action. Unknown actions get a
// text error response rather than a transport failure, so the engine can
// surface them.
func dispatch(inv *models.ToolInvocation, logger *slog.Logger) *models.ToolResponse {
	action := inv.Action
	if _, rest, ok := strings.Cut(action, "."); ok && strings.HasPrefix(action, "casa.") {
		action = rest
	}
	logger.Info("invocation", "action", action,
		"session_id", inv.Context.SessionID, "trace_id", inv.Context.TraceID)

	switch action {
	case "weather.query":
		return weatherQuery(inv.Input)
	case "alarm.schedule":
		return alarmSchedule(inv.Input)
	case "music.play":
		return musicPlay(inv.Input)
	case "light.set":
		return lightSet(inv.Input)
	default:
		return errorResponse("unknown action: " + inv.Action)
	}
}

func weatherQuery(input map[string]any) *models.ToolResponse {
	location := stringInput(input, "ubicacion", "tu zona")
	return models.NewTextResponse(
		fmt.Sprintf("En %s hace 22 grados y está despejado.", location)).
		WithMeta("temperature_c", 22).
		WithMeta("condition", "despejado").
		WithMeta("location", location)
}

func alarmSchedule(input map[string]any) *models.ToolResponse {
	hora := stringInput(input, "hora", "")
	if hora == "" {
		return errorResponse("falta la hora de la alarma")
	}
	fecha := stringInput(input, "fecha", "mañana")
	return models.NewTextResponse(
		fmt.Sprintf("Alarma programada para %s a las %s.", fecha, hora)).
		WithMeta("hora", hora).
		WithMeta("fecha", fecha)
}

func musicPlay(input map[string]any) *models.ToolResponse {
	what := stringInput(input, "cancion", "")
	if what == "" {
		what = stringInput(input, "genero", "")
	}
	if what == "" {
		what = stringInput(input, "artista", "algo que te gusta")
	}
	return models.NewTextResponse(fmt.Sprintf("Reproduciendo %s.", what)).
		WithMeta("source", "casa-player")
}

func lightSet(input map[string]any) *models.ToolResponse {
	room := stringInput(input, "habitacion", "el salón")
	state := stringInput(input, "estado", "encendidas")
	return models.NewTextResponse(
		fmt.Sprintf("Luces de %s %s.", room, state)).
		WithMeta("habitacion", room).
		WithMeta("estado", state)
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
