// Package gustotwin is an in-memory stand-in for the Gusto REST API. It
// serves the endpoints gustoflow talks to, records every request, and can be
// told to fail specific routes.
package gustotwin

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Request is one recorded API call.
type Request struct {
	Method        string
	Path          string
	Query         string
	Authorization string
	Body          map[string]any
}

// Fault is a canned failure returned for one method and path. A string Body
// is written as plain text, anything else as JSON.
type Fault struct {
	Status int
	Body   any
}

type collection struct {
	order []string
	items map[string]map[string]any
}

func newCollection() *collection {
	return &collection{items: make(map[string]map[string]any)}
}

func (c *collection) put(rec map[string]any) map[string]any {
	id, _ := rec["uuid"].(string)
	if id == "" {
		id = uuid.NewString()
		rec["uuid"] = id
	}
	if _, exists := c.items[id]; !exists {
		c.order = append(c.order, id)
	}
	c.items[id] = rec
	return rec
}

func (c *collection) get(id string) (map[string]any, bool) {
	rec, ok := c.items[id]
	return rec, ok
}

func (c *collection) remove(id string) bool {
	if _, ok := c.items[id]; !ok {
		return false
	}
	delete(c.items, id)
	for i, v := range c.order {
		if v == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return true
}

func (c *collection) list(match func(map[string]any) bool) []map[string]any {
	out := []map[string]any{}
	for _, id := range c.order {
		if rec := c.items[id]; match == nil || match(rec) {
			out = append(out, rec)
		}
	}
	return out
}

// Server is the fake Gusto API.
type Server struct {
	mu sync.Mutex

	// accessToken, when set, is the only bearer token /v1 accepts.
	accessToken    string
	companies      *collection
	employees      *collection
	payrolls       *collection
	paySchedules   *collection
	timeOffs       *collection
	webhooks       *collection
	requests       []Request
	faults         map[string]Fault
	tokenSeq       int
	grantedCodes   map[string]bool
	refreshTokens  map[string]bool
	verifiedTokens map[string]string
}

// New creates an empty twin.
func New() *Server {
	return &Server{
		companies:      newCollection(),
		employees:      newCollection(),
		payrolls:       newCollection(),
		paySchedules:   newCollection(),
		timeOffs:       newCollection(),
		webhooks:       newCollection(),
		faults:         make(map[string]Fault),
		grantedCodes:   make(map[string]bool),
		refreshTokens:  make(map[string]bool),
		verifiedTokens: make(map[string]string),
	}
}

// Handler returns the twin's router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	s.Routes(r)
	return r
}

// Routes mounts the twin on r.
func (s *Server) Routes(r chi.Router) {
	r.Use(s.recordMiddleware, s.faultMiddleware)
	r.Post("/oauth/token", s.Token)

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/me", s.Me)

		r.Get("/companies", s.ListCompanies)
		r.Get("/companies/{companyId}", s.GetCompany)
		r.Get("/companies/{companyId}/employees", s.listByCompany(s.employees))
		r.Post("/companies/{companyId}/employees", s.CreateEmployee)
		r.Get("/companies/{companyId}/payrolls", s.listByCompany(s.payrolls))
		r.Get("/companies/{companyId}/pay_schedules", s.listByCompany(s.paySchedules))
		r.Get("/companies/{companyId}/time_off_requests", s.listByCompany(s.timeOffs))

		r.Get("/employees/{id}", s.getFrom(s.employees))
		r.Put("/employees/{id}", s.UpdateEmployee)
		r.Put("/employees/{id}/terminations", s.TerminateEmployee)

		r.Get("/payrolls/{id}", s.getFrom(s.payrolls))
		r.Put("/payrolls/{id}/submit", s.SubmitPayroll)

		r.Get("/pay_schedules/{id}", s.getFrom(s.paySchedules))

		r.Get("/time_off_requests/{id}", s.getFrom(s.timeOffs))
		r.Put("/time_off_requests/{id}/approve", s.decideTimeOff("approved"))
		r.Put("/time_off_requests/{id}/deny", s.decideTimeOff("denied"))

		r.Get("/webhook_subscriptions", s.ListWebhooks)
		r.Post("/webhook_subscriptions", s.CreateWebhook)
		r.Get("/webhook_subscriptions/{id}", s.getFrom(s.webhooks))
		r.Delete("/webhook_subscriptions/{id}", s.DeleteWebhook)
		r.Put("/webhook_subscriptions/{id}/verify", s.VerifyWebhook)
	})
}

// --- seeding and inspection ---

// SetAccessToken restricts /v1 to one bearer token. Token grants rotate it.
func (s *Server) SetAccessToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessToken = token
}

// AddCompany stores a company and returns it with its uuid.
func (s *Server) AddCompany(rec map[string]any) map[string]any {
	return s.add(s.companies, rec)
}

// AddEmployee stores an employee. company_uuid links it to a company.
func (s *Server) AddEmployee(rec map[string]any) map[string]any {
	return s.add(s.employees, rec)
}

// AddPayroll stores a payroll.
func (s *Server) AddPayroll(rec map[string]any) map[string]any {
	return s.add(s.payrolls, rec)
}

// AddPaySchedule stores a pay schedule.
func (s *Server) AddPaySchedule(rec map[string]any) map[string]any {
	return s.add(s.paySchedules, rec)
}

// AddTimeOffRequest stores a time off request.
func (s *Server) AddTimeOffRequest(rec map[string]any) map[string]any {
	return s.add(s.timeOffs, rec)
}

// AddWebhook stores a webhook subscription.
func (s *Server) AddWebhook(rec map[string]any) map[string]any {
	return s.add(s.webhooks, rec)
}

func (s *Server) add(c *collection, rec map[string]any) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return c.put(cloneRecord(rec))
}

// Webhooks returns the current subscriptions.
func (s *Server) Webhooks() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneList(s.webhooks.list(nil))
}

// Employee returns an employee by uuid.
func (s *Server) Employee(id string) (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.employees.get(id)
	return cloneRecord(rec), ok
}

// VerifiedToken returns the token a subscription was verified with.
func (s *Server) VerifiedToken(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.verifiedTokens[id]
}

// GrantCode makes an authorization code exchangeable once.
func (s *Server) GrantCode(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grantedCodes[code] = true
}

// AllowRefreshToken makes a refresh token redeemable.
func (s *Server) AllowRefreshToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshTokens[token] = true
}

// Fail makes every request matching method and path return f until
// ClearFaults is called.
func (s *Server) Fail(method, path string, f Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[method+" "+path] = f
}

// ClearFaults removes every injected fault.
func (s *Server) ClearFaults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.faults)
}

// Requests returns the recorded requests in arrival order.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// LastRequest returns the most recent request.
func (s *Server) LastRequest() (Request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		return Request{}, false
	}
	return s.requests[len(s.requests)-1], true
}

// --- middleware ---

func (s *Server) recordMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := Request{
			Method:        r.Method,
			Path:          r.URL.Path,
			Query:         r.URL.RawQuery,
			Authorization: r.Header.Get("Authorization"),
		}
		if r.Body != nil && strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
			var body map[string]any
			dec := json.NewDecoder(r.Body)
			if err := dec.Decode(&body); err == nil {
				req.Body = body
				raw, _ := json.Marshal(body)
				r.Body = io.NopCloser(bytes.NewReader(raw))
			}
		}
		s.mu.Lock()
		s.requests = append(s.requests, req)
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) faultMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		f, ok := s.faults[r.Method+" "+r.URL.Path]
		s.mu.Unlock()
		if ok {
			if text, isText := f.Body.(string); isText {
				w.Header().Set("Content-Type", "text/plain")
				w.WriteHeader(f.Status)
				_, _ = io.WriteString(w, text)
				return
			}
			writeJSON(w, f.Status, f.Body)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			gustoError(w, http.StatusUnauthorized, "invalid_token", "The access token is missing")
			return
		}
		s.mu.Lock()
		want := s.accessToken
		s.mu.Unlock()
		if want != "" && token != want {
			gustoError(w, http.StatusUnauthorized, "invalid_token", "The access token is invalid")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- oauth ---

// Token implements the authorization_code and refresh_token grants.
func (s *Server) Token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_request"})
		return
	}
	if r.PostForm.Get("client_id") == "" || r.PostForm.Get("client_secret") == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid_client"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		code := r.PostForm.Get("code")
		if !s.grantedCodes[code] {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_grant", "error_description": "unknown authorization code"})
			return
		}
		delete(s.grantedCodes, code)
	case "refresh_token":
		rt := r.PostForm.Get("refresh_token")
		if !s.refreshTokens[rt] {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_grant", "error_description": "unknown refresh token"})
			return
		}
		delete(s.refreshTokens, rt)
	default:
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unsupported_grant_type"})
		return
	}

	s.tokenSeq++
	access := fmt.Sprintf("access-%d", s.tokenSeq)
	refresh := fmt.Sprintf("refresh-%d", s.tokenSeq)
	s.refreshTokens[refresh] = true
	if s.accessToken != "" {
		s.accessToken = access
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  access,
		"token_type":    "bearer",
		"refresh_token": refresh,
		"expires_in":    7200,
	})
}

// --- handlers ---

// Me returns the token owner.
func (s *Server) Me(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	roles := make([]any, 0, len(s.companies.order))
	for _, id := range s.companies.order {
		roles = append(roles, map[string]any{"company_uuid": id})
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"uuid":  "twin-user",
		"email": "admin@example.com",
		"roles": map[string]any{"payroll_admin": map[string]any{"companies": roles}},
	})
}

// ListCompanies returns every company.
func (s *Server) ListCompanies(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, s.companies.list(nil))
}

// GetCompany returns one company.
func (s *Server) GetCompany(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.companies.get(chi.URLParam(r, "companyId"))
	if !ok {
		notFound(w, "company")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) listByCompany(c *collection) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		companyID := chi.URLParam(r, "companyId")
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.companies.get(companyID); !ok {
			notFound(w, "company")
			return
		}
		writeJSON(w, http.StatusOK, c.list(func(rec map[string]any) bool {
			return rec["company_uuid"] == companyID
		}))
	}
}

func (s *Server) getFrom(c *collection) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		rec, ok := c.get(chi.URLParam(r, "id"))
		if !ok {
			notFound(w, "record")
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

// CreateEmployee adds an employee to a company.
func (s *Server) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeBody(w, r)
	if !ok {
		return
	}
	for _, key := range []string{"first_name", "last_name"} {
		if v, _ := body[key].(string); v == "" {
			gustoError(w, http.StatusUnprocessableEntity, key, key+" is required")
			return
		}
	}
	companyID := chi.URLParam(r, "companyId")

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.companies.get(companyID); !ok {
		notFound(w, "company")
		return
	}
	rec := cloneRecord(body)
	delete(rec, "uuid")
	rec["company_uuid"] = companyID
	rec["version"] = uuid.NewString()
	rec["terminated"] = false
	writeJSON(w, http.StatusCreated, s.employees.put(rec))
}

// UpdateEmployee merges fields into an employee. A version, when sent, must
// match the stored one.
func (s *Server) UpdateEmployee(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeBody(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.employees.get(chi.URLParam(r, "id"))
	if !ok {
		notFound(w, "employee")
		return
	}
	if v, sent := body["version"]; sent && v != rec["version"] {
		gustoError(w, http.StatusConflict, "version", "The resource you are attempting to update has changed")
		return
	}
	for k, v := range body {
		if k == "uuid" || k == "company_uuid" || k == "version" {
			continue
		}
		rec[k] = v
	}
	rec["version"] = uuid.NewString()
	writeJSON(w, http.StatusOK, rec)
}

// TerminateEmployee records a termination.
func (s *Server) TerminateEmployee(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeBody(w, r)
	if !ok {
		return
	}
	date, _ := body["termination_date"].(string)
	if date == "" {
		gustoError(w, http.StatusUnprocessableEntity, "termination_date", "termination_date is required")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.employees.get(chi.URLParam(r, "id"))
	if !ok {
		notFound(w, "employee")
		return
	}
	rec["terminated"] = true
	writeJSON(w, http.StatusOK, map[string]any{
		"uuid":                    uuid.NewString(),
		"employee_uuid":           rec["uuid"],
		"effective_date":          date,
		"active":                  true,
		"run_termination_payroll": false,
	})
}

// SubmitPayroll marks a payroll processed. Gusto answers with no body.
func (s *Server) SubmitPayroll(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.payrolls.get(chi.URLParam(r, "id"))
	if !ok {
		notFound(w, "payroll")
		return
	}
	if rec["processed"] == true {
		gustoError(w, http.StatusUnprocessableEntity, "payroll", "Payroll has already been processed")
		return
	}
	rec["processed"] = true
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) decideTimeOff(status string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, ok := decodeBody(w, r)
		if !ok {
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		rec, ok := s.timeOffs.get(chi.URLParam(r, "id"))
		if !ok {
			notFound(w, "time off request")
			return
		}
		if rec["status"] != nil && rec["status"] != "pending" {
			gustoError(w, http.StatusUnprocessableEntity, "status", "Time off request is already "+fmt.Sprint(rec["status"]))
			return
		}
		rec["status"] = status
		if note, ok := body["employer_note"]; ok {
			rec["employer_note"] = note
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

// ListWebhooks returns every subscription.
func (s *Server) ListWebhooks(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, s.webhooks.list(nil))
}

// CreateWebhook registers a subscription in the unverified state.
func (s *Server) CreateWebhook(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeBody(w, r)
	if !ok {
		return
	}
	target, _ := body["url"].(string)
	if target == "" {
		gustoError(w, http.StatusUnprocessableEntity, "url", "url is required")
		return
	}
	types, _ := body["subscription_types"].([]any)
	if len(types) == 0 {
		gustoError(w, http.StatusUnprocessableEntity, "subscription_types", "subscription_types is required")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.webhooks.put(map[string]any{
		"url":                target,
		"subscription_types": types,
		"status":             "pending",
	})
	writeJSON(w, http.StatusCreated, rec)
}

// DeleteWebhook removes a subscription.
func (s *Server) DeleteWebhook(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.webhooks.remove(chi.URLParam(r, "id")) {
		notFound(w, "webhook subscription")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// VerifyWebhook activates a subscription.
func (s *Server) VerifyWebhook(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeBody(w, r)
	if !ok {
		return
	}
	token, _ := body["verification_token"].(string)
	if token == "" {
		gustoError(w, http.StatusUnprocessableEntity, "verification_token", "verification_token is required")
		return
	}
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.webhooks.get(id)
	if !ok {
		notFound(w, "webhook subscription")
		return
	}
	rec["status"] = "verified"
	s.verifiedTokens[id] = token
	writeJSON(w, http.StatusOK, rec)
}

// --- helpers ---

func decodeBody(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	body := map[string]any{}
	if r.Body == nil {
		return body, true
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		gustoError(w, http.StatusBadRequest, "body", "Request body is not valid JSON")
		return nil, false
	}
	return body, true
}

func notFound(w http.ResponseWriter, what string) {
	gustoError(w, http.StatusNotFound, "not_found", "The "+what+" could not be found")
}

// gustoError writes Gusto's error envelope.
func gustoError(w http.ResponseWriter, status int, key, message string) {
	writeJSON(w, status, map[string]any{
		"errors": []map[string]any{{
			"error_key": key,
			"category":  "invalid_attribute_value",
			"message":   message,
		}},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func cloneRecord(rec map[string]any) map[string]any {
	if rec == nil {
		return nil
	}
	out := make(map[string]any, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}

func cloneList(list []map[string]any) []map[string]any {
	out := make([]map[string]any, len(list))
	for i, rec := range list {
		out[i] = cloneRecord(rec)
	}
	return out
}
