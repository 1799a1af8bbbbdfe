// Package server exposes the public HTTP API: landing, status, rule
// consumption, announcements, and the admin ruleset endpoint.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/CCIP-App/ccip-server/internal/core"
	"github.com/CCIP-App/ccip-server/internal/metrics"
	"github.com/CCIP-App/ccip-server/internal/service"
)

const defaultMaxJSONBodyBytes = 1 << 20

// Locale tags used at the API boundary. Announcements are exposed with the
// upstream msgEn/msgZh field names.
const (
	localeEnglish = "en-US"
	localeChinese = "zh-TW"
)

var errJSONBodyTooLarge = errors.New("json request body too large")

// Option configures the HTTP handler.
type Option func(*HTTPServer)

// WithMaxJSONBodySize caps the accepted JSON request body size in bytes.
func WithMaxJSONBodySize(size int64) Option {
	return func(s *HTTPServer) {
		if size > 0 {
			s.maxJSONBodyBytes = size
		}
	}
}

type HTTPServer struct {
	service          Service
	metrics          *metrics.Metrics
	maxJSONBodyBytes int64
}

// NewHTTPHandler builds the API handler. Admin authentication is not
// applied here; the caller wraps the admin routes.
func NewHTTPHandler(svc Service, m *metrics.Metrics, opts ...Option) http.Handler {
	if svc == nil {
		panic("service is nil")
	}
	if m == nil {
		m = metrics.New()
	}

	server := &HTTPServer{
		service:          svc,
		metrics:          m,
		maxJSONBodyBytes: defaultMaxJSONBodyBytes,
	}
	for _, opt := range opts {
		opt(server)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /landing", server.handleLanding)
	mux.HandleFunc("GET /status", server.handleStatus)
	mux.HandleFunc("POST /use/{ruleId}", server.handleUseRule)
	mux.HandleFunc("GET /announcement", server.handleListAnnouncements)
	mux.HandleFunc("POST /announcement", server.handleCreateAnnouncement)
	mux.HandleFunc("PUT /admin/ruleset", server.handleReplaceRuleset)
	mux.HandleFunc("GET /healthz", server.handleHealthz)
	mux.Handle("GET /metrics", m.Handler())

	return server.withRequestMetrics(mux)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *HTTPServer) withRequestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(recorder, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(recorder.status)
		s.metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
		s.metrics.HTTPRequestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}

type profileJSON struct {
	Nickname string `json:"nickname"`
}

type scenarioJSON struct {
	Order         int               `json:"order"`
	DisplayText   map[string]string `json:"display_text"`
	AvailableTime int64             `json:"available_time"`
	ExpireTime    int64             `json:"expire_time"`
	Used          *int64            `json:"used"`
	Disabled      *string           `json:"disabled"`
	Attr          map[string]any    `json:"attr"`
}

type statusJSON struct {
	PublicToken string                  `json:"public_token"`
	UserID      string                  `json:"user_id"`
	FirstUse    *int64                  `json:"first_use"`
	Role        string                  `json:"role"`
	Scenario    map[string]scenarioJSON `json:"scenario"`
	Attr        map[string]any          `json:"attr"`
}

type announcementJSON struct {
	Datetime int64  `json:"datetime"`
	MsgEn    string `json:"msgEn"`
	MsgZh    string `json:"msgZh"`
	URI      string `json:"uri"`
}

type createAnnouncementJSON struct {
	MsgEn string   `json:"msg_en"`
	MsgZh string   `json:"msg_zh"`
	URI   string   `json:"uri"`
	Role  []string `json:"role"`
}

func (s *HTTPServer) handleLanding(w http.ResponseWriter, r *http.Request) {
	profile, err := s.service.GetProfile(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		if errors.Is(err, service.ErrAttendeeNotFound) {
			writeJSON(w, http.StatusOK, profileJSON{Nickname: "Unknown Attendee"})
			return
		}
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, profileJSON{Nickname: profile.Nickname})
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")

	status, err := s.service.Evaluate(r.Context(), token, isPrivileged(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	s.metrics.RecordEvaluation()

	writeJSON(w, http.StatusOK, toStatusJSON(status))
}

func (s *HTTPServer) handleUseRule(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	ruleID := strings.TrimSpace(r.PathValue("ruleId"))
	if ruleID == "" {
		writeJSONError(w, http.StatusNotFound, "invalid scenario")
		return
	}

	status, err := s.service.UseRule(r.Context(), token, ruleID, isPrivileged(r))
	if err != nil {
		s.metrics.RecordRuleUse(ruleUseOutcome(err))
		writeServiceError(w, err)
		return
	}
	s.metrics.RecordRuleUse("success")

	writeJSON(w, http.StatusOK, toStatusJSON(status))
}

func (s *HTTPServer) handleListAnnouncements(w http.ResponseWriter, r *http.Request) {
	announcements, err := s.service.ListAnnouncements(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	payload := make([]announcementJSON, 0, len(announcements))
	for _, announcement := range announcements {
		payload = append(payload, announcementJSON{
			Datetime: announcement.AnnouncedAt.Unix(),
			MsgEn:    announcement.Messages[localeEnglish],
			MsgZh:    announcement.Messages[localeChinese],
			URI:      announcement.URI,
		})
	}

	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleCreateAnnouncement(w http.ResponseWriter, r *http.Request) {
	var request createAnnouncementJSON
	if err := s.decodeJSONBody(w, r, &request); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	messages := make(map[string]string)
	if strings.TrimSpace(request.MsgEn) != "" {
		messages[localeEnglish] = request.MsgEn
	}
	if strings.TrimSpace(request.MsgZh) != "" {
		messages[localeChinese] = request.MsgZh
	}
	if len(messages) == 0 {
		writeJSONError(w, http.StatusBadRequest, "msg_en or msg_zh is required")
		return
	}

	if _, err := s.service.CreateAnnouncement(r.Context(), service.CreateAnnouncementRequest{
		Messages: messages,
		URI:      request.URI,
		Roles:    request.Role,
	}); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"status": "OK"})
}

func (s *HTTPServer) handleReplaceRuleset(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxJSONBodyBytes))
	if err != nil {
		writeJSONDecodeError(w, normalizeJSONDecodeError(err))
		return
	}
	if !json.Valid(body) {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := s.service.ReplaceRuleset(r.Context(), body); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// isPrivileged reports whether the request asked for the staff view.
// Privileged reads never trigger a check-in.
func isPrivileged(r *http.Request) bool {
	privileged, err := strconv.ParseBool(r.URL.Query().Get("StaffQuery"))
	return err == nil && privileged
}

func toStatusJSON(status *service.AttendeeStatus) statusJSON {
	attendee := status.Attendee

	scenarios := make(map[string]scenarioJSON)
	for _, rule := range status.Result.VisibleRules() {
		scenario := scenarioJSON{
			Order:         rule.Order,
			DisplayText:   map[string]string(rule.Messages["display"]),
			AvailableTime: rule.Window.Start.Unix(),
			ExpireTime:    rule.Window.End.Unix(),
			Attr:          rule.Attributes,
		}
		if rule.UsedAt != nil {
			used := rule.UsedAt.Unix()
			scenario.Used = &used
		}
		if !rule.Used && !rule.Usable {
			scenario.Disabled = lockedText(rule)
		}
		scenarios[rule.RuleID] = scenario
	}

	payload := statusJSON{
		PublicToken: attendee.PublicToken,
		UserID:      attendee.DisplayName,
		Role:        string(attendee.Role),
		Scenario:    scenarios,
		Attr:        attendee.Attributes(),
	}
	if attendee.FirstUsedAt != nil {
		firstUse := attendee.FirstUsedAt.Unix()
		payload.FirstUse = &firstUse
	}

	return payload
}

// lockedText picks the disabled reason: the rule's display text when
// configured, a bare "locked" otherwise.
func lockedText(rule *core.RuleResult) *string {
	text := rule.CurrentMessage("display").Text(core.FallbackLocale)
	if text == "" {
		text = "locked"
	}
	return &text
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrAttendeeNotFound):
		writeJSONError(w, http.StatusNotFound, "attendee not found")
	case errors.Is(err, service.ErrUnknownRule), errors.Is(err, service.ErrScenarioNotVisible):
		// One message for both so hidden rules are indistinguishable from
		// unknown ones.
		writeJSONError(w, http.StatusNotFound, "invalid scenario")
	case errors.Is(err, service.ErrRuleLocked):
		writeJSONError(w, http.StatusBadRequest, "has been used")
	case errors.Is(err, service.ErrInvalidRuleset):
		writeJSONError(w, http.StatusBadRequest, "invalid ruleset")
	case errors.Is(err, context.Canceled):
		writeJSONError(w, http.StatusRequestTimeout, "request canceled")
	default:
		writeJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

func ruleUseOutcome(err error) string {
	switch {
	case errors.Is(err, service.ErrRuleLocked):
		return "locked"
	case errors.Is(err, service.ErrUnknownRule), errors.Is(err, service.ErrScenarioNotVisible):
		return "invalid"
	case errors.Is(err, service.ErrAttendeeNotFound):
		return "not_found"
	default:
		return "error"
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSONDecodeError(w http.ResponseWriter, err error) {
	if errors.Is(err, errJSONBodyTooLarge) {
		writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *HTTPServer) decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil {
		return io.EOF
	}

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxJSONBodyBytes))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		return normalizeJSONDecodeError(err)
	}

	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("request body must contain a single JSON object")
		}
		return normalizeJSONDecodeError(err)
	}

	return nil
}

func normalizeJSONDecodeError(err error) error {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return errJSONBodyTooLarge
	}
	return err
}
