package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRespondWithError(t *testing.T) {
	tests := []struct {
		name    string
		code    int
		message string
	}{
		{
			name:    "wrong pin",
			code:    http.StatusUnauthorized,
			message: "Invalid PIN",
		},
		{
			name:    "pin attempts exhausted",
			code:    http.StatusTooManyRequests,
			message: "Too many PIN attempts, try again later",
		},
		{
			name:    "missing provider key",
			code:    http.StatusPreconditionFailed,
			message: "API key not configured for openai",
		},
		{
			name:    "request in flight",
			code:    http.StatusConflict,
			message: "Already processing a request",
		},
		{
			name:    "robot offline",
			code:    http.StatusServiceUnavailable,
			message: "Not connected to robot",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()

			RespondWithError(w, tt.code, tt.message)

			if w.Code != tt.code {
				t.Errorf("RespondWithError() status = %d, want %d", w.Code, tt.code)
			}

			contentType := w.Header().Get("Content-Type")
			if contentType != "application/json" {
				t.Errorf("RespondWithError() Content-Type = %s, want application/json", contentType)
			}

			var response ErrorResponse
			if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}

			if response.Error != tt.message {
				t.Errorf("RespondWithError() message = %s, want %s", response.Error, tt.message)
			}
		})
	}
}

func TestRespondWithJSON(t *testing.T) {
	t.Run("accepted chat message", func(t *testing.T) {
		w := httptest.NewRecorder()

		payload := struct {
			Status         string `json:"status"`
			ConversationID string `json:"conversation_id"`
		}{
			Status:         "processing",
			ConversationID: "7d4c2b1e",
		}

		if err := RespondWithJSON(w, http.StatusAccepted, payload); err != nil {
			t.Errorf("RespondWithJSON() error = %v, want nil", err)
		}

		if w.Code != http.StatusAccepted {
			t.Errorf("RespondWithJSON() status = %d, want %d", w.Code, http.StatusAccepted)
		}

		var response map[string]string
		if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}

		if response["status"] != "processing" {
			t.Errorf("RespondWithJSON() status field = %s, want processing", response["status"])
		}
		if response["conversation_id"] != payload.ConversationID {
			t.Errorf("RespondWithJSON() conversation_id = %s, want %s", response["conversation_id"], payload.ConversationID)
		}
	})

	t.Run("cleanup result", func(t *testing.T) {
		w := httptest.NewRecorder()

		if err := RespondWithJSON(w, http.StatusOK, map[string]int{"removed": 3}); err != nil {
			t.Errorf("RespondWithJSON() error = %v, want nil", err)
		}

		var response map[string]any
		if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}

		if int(response["removed"].(float64)) != 3 {
			t.Errorf("RespondWithJSON() removed = %v, want 3", response["removed"])
		}
	})

	t.Run("unencodable payload", func(t *testing.T) {
		w := httptest.NewRecorder()

		if err := RespondWithJSON(w, http.StatusOK, map[string]any{"bad": make(chan int)}); err == nil {
			t.Error("RespondWithJSON() error = nil, want encode error")
		}
	})
}
