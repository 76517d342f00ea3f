package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRespondJSON(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		data     any
		wantBody string
	}{
		{"outcome", http.StatusOK, map[string]string{"status": "recorded"}, "{\"status\":\"recorded\"}\n"},
		{"created", http.StatusCreated, map[string]int{"progress": 50}, "{\"progress\":50}\n"},
		{"empty list", http.StatusOK, []string{}, "[]\n"},
		{"nil data", http.StatusNoContent, nil, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			respondJSON(recorder, tc.status, tc.data)

			assertStatusCode(t, recorder, tc.status)
			assertContentType(t, recorder, "application/json")
			if recorder.Body.String() != tc.wantBody {
				t.Errorf("body = %q, want %q", recorder.Body.String(), tc.wantBody)
			}
		})
	}
}

func TestRespondError(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusBadGateway} {
		recorder := httptest.NewRecorder()
		respondError(recorder, status, "session not found")

		assertStatusCode(t, recorder, status)
		assertJSONError(t, recorder, "session not found")
	}
}

func TestSanitizeForLog(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"6f1c2d9e", "6f1c2d9e"},
		{"abc\ninjected", "abcinjected"},
		{"abc\r\nfake entry", "abcfake entry"},
		{"", ""},
	}
	for _, tc := range tests {
		if got := sanitizeForLog(tc.in); got != tc.want {
			t.Errorf("sanitizeForLog(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestHealthCheck(t *testing.T) {
	for _, method := range []string{http.MethodGet, http.MethodHead} {
		t.Run(method, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			HealthCheck(recorder, httptest.NewRequest(method, "/api/v1/health", nil))

			assertStatusCode(t, recorder, http.StatusOK)
			var result map[string]string
			parseJSONResponse(t, recorder, &result)
			if result["status"] != "ok" {
				t.Errorf("status = %q, want ok", result["status"])
			}
		})
	}
}
