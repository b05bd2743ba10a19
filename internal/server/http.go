package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/morezero/rpc-dispatch/pkg/auth"
	"github.com/morezero/rpc-dispatch/pkg/dispatcher"
	"github.com/morezero/rpc-dispatch/pkg/handlers/jsonrpc"
	"github.com/morezero/rpc-dispatch/pkg/handlers/xmlrpc"
	"github.com/morezero/rpc-dispatch/pkg/registry"
)

// maxBodyBytes bounds the size of one HTTP request body.
const maxBodyBytes = 10 << 20

// HealthOutput is the /health response body.
type HealthOutput struct {
	Status    string       `json:"status"`
	Checks    HealthChecks `json:"checks"`
	Methods   int          `json:"methods"`
	Uptime    string       `json:"uptime"`
	Timestamp string       `json:"timestamp"`
}

// HealthChecks reports the state of each dependency.
type HealthChecks struct {
	COMMS bool `json:"comms"`
}

// Handler returns the HTTP handler serving entry points, the methods page
// and the health endpoints.
func (s *Server) Handler() http.Handler {
	byPath := make(map[string]*endpoint, len(s.endpoints))
	for _, e := range s.endpoints {
		byPath[e.entry.Path] = e
	}
	home := s.handleHome()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if e, ok := byPath[r.URL.Path]; ok && r.Method == http.MethodPost {
			s.serveRPC(w, r, e)
			return
		}
		if r.URL.Path == "/" {
			home(w, r)
			return
		}
		if _, ok := byPath[r.URL.Path]; ok {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		http.NotFound(w, r)
	})
	return mux
}

// serveRPC routes one HTTP request to the entry point handler matching its
// content type. Credentials, when present, must be valid.
func (s *Server) serveRPC(w http.ResponseWriter, r *http.Request, e *endpoint) {
	ct := r.Header.Get("Content-Type")
	var serve serveFunc
	var respType string
	switch {
	case e.json != nil && jsonrpc.Accepts(ct):
		serve, respType = e.json.Handle, "application/json"
	case e.xml != nil && xmlrpc.Accepts(ct):
		serve, respType = e.xml.Handle, "text/xml; charset=utf-8"
	default:
		http.Error(w, fmt.Sprintf("unsupported content type %q", ct), http.StatusUnsupportedMediaType)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	if username, password, ok := r.BasicAuth(); ok {
		caller, err := s.authn.Authenticate(username, password)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Basic realm="rpc"`)
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		ctx = auth.WithCaller(ctx, caller)
	}
	md := flattenHeader(r.Header, true)
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		md["remote_addr"] = host
	}
	ctx = dispatcher.WithTransportMetadata(ctx, md)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	resp := serve(ctx, body)
	if resp == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", respType)
	if _, err := w.Write(resp); err != nil {
		slog.Warn(fmt.Sprintf("%s - failed to write response: %v", logPrefix, err))
	}
}

// Health reports the state of the server.
func (s *Server) Health() *HealthOutput {
	h := &HealthOutput{
		Checks:    HealthChecks{COMMS: s.nc != nil && s.nc.IsConnected()},
		Methods:   s.disp.Registry().Count(),
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	h.Status = "healthy"
	if !h.Checks.COMMS {
		h.Status = "unhealthy"
	}
	return h
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h := s.Health()
	w.Header().Set("Content-Type", "application/json")
	if h.Status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(h)
}

// homePageTemplate lists entry points and the methods each exposes.
const homePageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>{{.Name}}</title>
  <style>
    * { box-sizing: border-box; }
    body { background: #fff; color: #000; font-family: system-ui, sans-serif; margin: 0; padding: 2rem; line-height: 1.5; }
    h1, h2, h3 { color: #0066cc; }
    table { border-collapse: collapse; width: 100%; max-width: 1100px; margin-top: 0.5rem; }
    th, td { text-align: left; padding: 0.5rem 0.75rem; border: 1px solid #ccc; vertical-align: top; }
    th { background: #f0f4f8; color: #0066cc; }
    code { background: #f5f5f5; padding: 0 0.25rem; }
    .meta { color: #333; font-size: 0.9rem; }
    section { margin-bottom: 2rem; }
  </style>
</head>
<body>
  <h1>{{.Name}}</h1>
  <p class="meta">Version {{.Version}}. Status: {{.Health.Status}}. {{.Health.Methods}} methods registered.</p>
  {{range .EntryPoints}}
  <section>
    <h2>{{.Name}} <code>{{.Path}}</code></h2>
    {{if .Description}}<p class="meta">{{.Description}}</p>{{end}}
    <p class="meta">Protocols: {{range .Protocols}}{{.}} {{end}}</p>
    {{if not .Methods}}
    <p>No methods available.</p>
    {{else}}
    <table>
      <thead><tr><th>Method</th><th>Arguments</th><th>Returns</th><th>Protocols</th><th>Documentation</th></tr></thead>
      <tbody>
        {{range .Methods}}
        <tr>
          <td><code>{{.Name}}</code></td>
          <td>{{range .Args}}<code>{{.Name}}</code>{{if .Type}}: {{.Type}}{{end}}{{if .Text}} ({{.Text}}){{end}}<br/>{{end}}</td>
          <td>{{.Return.Type}}{{if .Return.Text}} ({{.Return.Text}}){{end}}</td>
          <td>{{range .Protocols}}{{.}} {{end}}</td>
          <td>{{.Doc}}</td>
        </tr>
        {{end}}
      </tbody>
    </table>
    {{end}}
  </section>
  {{end}}
</body>
</html>
`

type homeData struct {
	Name        string
	Version     string
	Health      *HealthOutput
	EntryPoints []homeEntryPoint
}

type homeEntryPoint struct {
	Name        string
	Path        string
	Description string
	Protocols   []string
	Methods     []homeMethod
}

type homeMethod struct {
	Name      string
	Args      []registry.ArgDoc
	Return    registry.ReturnDoc
	Protocols []string
	// Doc is rendered HTML with text already escaped.
	Doc template.HTML
}

// handleHome returns an HTTP handler for the methods page.
func (s *Server) handleHome() http.HandlerFunc {
	tmpl := template.Must(template.New("home").Parse(homePageTemplate))
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		data := homeData{
			Name:    s.bootstrap.Name(),
			Version: s.bootstrap.Version(),
			Health:  s.Health(),
		}
		reg := s.disp.Registry()
		for _, e := range s.endpoints {
			hep := homeEntryPoint{
				Name:        e.entry.Name,
				Path:        e.entry.Path,
				Description: e.entry.Description,
			}
			if e.json != nil {
				hep.Protocols = append(hep.Protocols, registry.JSONRPC.String())
			}
			if e.xml != nil {
				hep.Protocols = append(hep.Protocols, registry.XMLRPC.String())
			}
			for _, m := range reg.ListMethods(e.entry.Name, registry.ProtocolAll, true) {
				if !(e.json != nil && m.IsAvailableInJSONRPC()) && !(e.xml != nil && m.IsAvailableInXMLRPC()) {
					continue
				}
				hm := homeMethod{
					Name:   m.Name(),
					Args:   m.ArgsDoc(),
					Return: m.ReturnDoc(),
					Doc:    template.HTML(m.HTMLDoc()),
				}
				for _, p := range m.Protocols() {
					hm.Protocols = append(hm.Protocols, p.String())
				}
				hep.Methods = append(hep.Methods, hm)
			}
			data.EntryPoints = append(data.EntryPoints, hep)
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := tmpl.Execute(w, data); err != nil {
			slog.Error(fmt.Sprintf("%s - home template execute: %v", logPrefix, err))
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}
}
