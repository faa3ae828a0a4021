package api

import (
	"encoding/json"
	"net/http"
	"time"
)

type reportRequest struct {
	DeviceID  string `json:"device_id"`
	Level     string `json:"level"`
	Timestamp string `json:"timestamp,omitempty"`
}

type reportResponse struct {
	OK            bool      `json:"ok"`
	DeviceID      string    `json:"device_id"`
	Level         string    `json:"level"`
	PreviousLevel *string   `json:"prev_level"`
	Notified      bool      `json:"notified"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type healthResponse struct {
	OK            bool     `json:"ok"`
	AllowedLevels []string `json:"allowed_levels"`
	TopLevel      string   `json:"top_level"`
	PushServerURL string   `json:"push_server_url"`
}

type pushRequest struct {
	DeviceID string `json:"device_id"`
	Level    string `json:"level"`
}

type pushResponse struct {
	OK    bool   `json:"ok"`
	Topic string `json:"topic"`
	Level string `json:"level"`
}

type errorResponse struct {
	Detail        string   `json:"detail"`
	AllowedLevels []string `json:"allowed_levels,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) error {
	b, err := json.Marshal(body)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return err
	}

	w.Header().Add("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err = w.Write(b)
	return err
}
