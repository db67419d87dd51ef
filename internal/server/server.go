package server

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"

	"formgate/internal/check"
	"formgate/internal/config"
	"formgate/internal/dataType"
)

// Server exposes the verification layer to the hosting system: render and
// verify endpoints called from its form lifecycle hooks, plus a health check.
type Server struct {
	cfg   *config.MainConfig
	guard *check.Guard
}

// StartServer starts the HTTP server and blocks until it fails.
func StartServer(cfg *config.MainConfig, guard *check.Guard) error {
	s := &Server{cfg: cfg, guard: guard}

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.WebPath+"/render", s.handleRender)
	mux.HandleFunc(cfg.WebPath+"/verify", s.handleVerify)
	mux.HandleFunc(cfg.WebPath+"/health_check", s.handleHealthCheck)

	log.Printf("HTTP Server listening on :%s ...", cfg.Port)
	return http.ListenAndServe(":"+cfg.Port, mux)
}

type verifyResponse struct {
	OK      bool   `json:"ok"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

type renderResponse struct {
	Enabled bool              `json:"enabled"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, verifyResponse{Message: "POST only"})
		return
	}
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, verifyResponse{Message: "malformed form body"})
		return
	}

	req := s.processRequestData(r)
	req.Fields = make(map[string]string, len(r.PostForm))
	for name, values := range r.PostForm {
		if len(values) > 0 {
			req.Fields[name] = values[0]
		}
	}

	res := s.guard.Verify(r.Context(), req)
	if res.OK {
		writeJSON(w, http.StatusOK, verifyResponse{OK: true})
		return
	}
	writeJSON(w, http.StatusForbidden, verifyResponse{
		OK:      false,
		Code:    string(res.Code),
		Message: res.Message,
	})
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, renderResponse{})
		return
	}
	req := s.processRequestData(r)

	fields, err := s.guard.Render(r.Context(), req)
	if err != nil {
		log.Printf("render failed for form %s: %v", req.FormID, err)
		writeJSON(w, http.StatusInternalServerError, renderResponse{})
		return
	}
	writeJSON(w, http.StatusOK, renderResponse{Enabled: fields != nil, Fields: fields})
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	var builder strings.Builder
	builder.WriteString("ok\n")
	builder.WriteString("version=")
	builder.WriteString(dataType.FormgateVersion)
	builder.WriteString("\n")
	builder.WriteString("node=")
	builder.WriteString(s.cfg.NodeName)
	builder.WriteString("\n")
	if hp := s.guard.Honeypot(); hp != nil {
		daily, total := hp.SpamStats(r.Context())
		builder.WriteString("spam_today=")
		builder.WriteString(strconv.FormatInt(daily, 10))
		builder.WriteString("\n")
		builder.WriteString("spam_total=")
		builder.WriteString(strconv.FormatInt(total, 10))
		builder.WriteString("\n")
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(builder.String())); err != nil {
		log.Printf("health check write failed: %v", err)
	}
}

// processRequestData assembles the FormRequest from the connecting headers
// the fronting system is configured to send, falling back to the transport
// peer address.
func (s *Server) processRequestData(r *http.Request) *dataType.FormRequest {
	var clientIP string
	for _, headerName := range s.cfg.ConnectingIPHeaders {
		if ipVal := r.Header.Get(headerName); ipVal != "" {
			if strings.Contains(ipVal, ",") {
				parts := strings.Split(ipVal, ",")
				ipVal = strings.TrimSpace(parts[0])
			}
			clientIP = ipVal
			break
		}
	}
	if clientIP == "" {
		ipStr, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			clientIP = r.RemoteAddr
		} else {
			clientIP = ipStr
		}
	}

	var host string
	for _, headerName := range s.cfg.ConnectingHostHeaders {
		if hostVal := r.Header.Get(headerName); hostVal != "" {
			host = hostVal
			break
		}
	}
	if host == "" {
		host = r.Host
	}

	var loggedIn bool
	for _, headerName := range s.cfg.ActorLoggedInHeaders {
		if val := r.Header.Get(headerName); val != "" {
			loggedIn = val == "1" || strings.EqualFold(val, "true")
			break
		}
	}

	var roles []string
	for _, headerName := range s.cfg.ActorRoleHeaders {
		if val := r.Header.Get(headerName); val != "" {
			for _, role := range strings.Split(val, ",") {
				if role = strings.TrimSpace(role); role != "" {
					roles = append(roles, role)
				}
			}
			break
		}
	}

	return &dataType.FormRequest{
		FormID:    r.URL.Query().Get("form"),
		RemoteIP:  clientIP,
		Host:      host,
		UserAgent: r.UserAgent(),
		LoggedIn:  loggedIn,
		Roles:     roles,
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("failed to write response: %v", err)
	}
}
