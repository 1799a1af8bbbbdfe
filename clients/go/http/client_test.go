package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		BaseURL:  srv.URL,
		Token:    "token-a",
		AdminKey: "admin-key",
	})
}

func TestLanding(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/landing" {
			t.Errorf("path = %q, want /landing", r.URL.Path)
		}
		if got := r.URL.Query().Get("token"); got != "token-a" {
			t.Errorf("token = %q, want token-a", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"nickname": "Aotoki"}`))
	})

	profile, err := client.Landing(context.Background())
	if err != nil {
		t.Fatalf("Landing: %v", err)
	}
	if profile.Nickname != "Aotoki" {
		t.Errorf("Nickname = %q, want Aotoki", profile.Nickname)
	}
}

func TestStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status" {
			t.Errorf("path = %q, want /status", r.URL.Path)
		}
		if r.URL.Query().Has("StaffQuery") {
			t.Error("StaffQuery set on plain Status call")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"public_token": "ab12",
			"user_id": "Aotoki",
			"first_use": 1722070800,
			"role": "audience",
			"scenario": {
				"day1checkin": {
					"order": 1,
					"display_text": {"en-US": "Day 1 Check-in"},
					"available_time": 0,
					"expire_time": 4102444799,
					"used": 1722074400,
					"disabled": null,
					"attr": {}
				},
				"day2lunch": {
					"order": 2,
					"display_text": {"en-US": "Day 2 Lunch"},
					"available_time": 1722124800,
					"expire_time": 1722211199,
					"used": null,
					"disabled": "Not yet available",
					"attr": {}
				}
			},
			"attr": {"vip": true}
		}`))
	})

	status, err := client.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.UserID != "Aotoki" {
		t.Errorf("UserID = %q, want Aotoki", status.UserID)
	}
	if status.FirstUse == nil || status.FirstUse.Unix() != 1722070800 {
		t.Errorf("FirstUse = %v, want 1722070800", status.FirstUse)
	}
	if status.Attributes["vip"] != true {
		t.Errorf("Attributes vip = %v, want true", status.Attributes["vip"])
	}

	checkin, ok := status.Scenarios["day1checkin"]
	if !ok {
		t.Fatal("day1checkin scenario missing")
	}
	if checkin.Used == nil || checkin.Used.Unix() != 1722074400 {
		t.Errorf("Used = %v, want 1722074400", checkin.Used)
	}
	if checkin.Disabled != nil {
		t.Errorf("Disabled = %v, want nil", checkin.Disabled)
	}

	lunch := status.Scenarios["day2lunch"]
	if lunch.Disabled == nil || *lunch.Disabled != "Not yet available" {
		t.Errorf("Disabled = %v, want Not yet available", lunch.Disabled)
	}
	want := time.Unix(1722124800, 0).UTC()
	if !lunch.AvailableTime.Equal(want) {
		t.Errorf("AvailableTime = %v, want %v", lunch.AvailableTime, want)
	}
}

func TestStaffStatusSetsQueryFlag(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("StaffQuery"); got != "true" {
			t.Errorf("StaffQuery = %q, want true", got)
		}
		w.Write([]byte(`{"public_token": "", "user_id": "", "first_use": null, "role": "staff", "scenario": {}, "attr": {}}`))
	})

	if _, err := client.StaffStatus(context.Background()); err != nil {
		t.Fatalf("StaffStatus: %v", err)
	}
}

func TestUse(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want POST", r.Method)
		}
		if r.URL.Path != "/use/day1checkin" {
			t.Errorf("path = %q, want /use/day1checkin", r.URL.Path)
		}
		w.Write([]byte(`{"public_token": "", "user_id": "", "first_use": null, "role": "audience", "scenario": {}, "attr": {}}`))
	})

	if _, err := client.Use(context.Background(), "day1checkin"); err != nil {
		t.Fatalf("Use: %v", err)
	}
}

func TestUseErrorStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message": "has been used"}`))
	})

	_, err := client.Use(context.Background(), "day1checkin")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest {
		t.Errorf("StatusCode = %d, want 400", apiErr.StatusCode)
	}
}

func TestAnnouncements(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/announcement" {
			t.Errorf("path = %q, want /announcement", r.URL.Path)
		}
		w.Write([]byte(`[
			{"datetime": 1722074400, "msgEn": "Doors open", "msgZh": "開始入場", "uri": "https://example.com"},
			{"datetime": 1722070800, "msgEn": "Welcome", "msgZh": "歡迎", "uri": ""}
		]`))
	})

	announcements, err := client.Announcements(context.Background())
	if err != nil {
		t.Fatalf("Announcements: %v", err)
	}
	if len(announcements) != 2 {
		t.Fatalf("got %d announcements, want 2", len(announcements))
	}
	if announcements[0].MessageEn != "Doors open" {
		t.Errorf("MessageEn = %q, want Doors open", announcements[0].MessageEn)
	}
	if announcements[0].AnnouncedAt.Unix() != 1722074400 {
		t.Errorf("AnnouncedAt = %v, want 1722074400", announcements[0].AnnouncedAt)
	}
}

func TestCreateAnnouncementSendsAdminKey(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer admin-key" {
			t.Errorf("Authorization = %q, want Bearer admin-key", got)
		}
		var body struct {
			MsgEn string   `json:"msg_en"`
			MsgZh string   `json:"msg_zh"`
			URI   string   `json:"uri"`
			Role  []string `json:"role"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body.MsgEn != "Doors open" {
			t.Errorf("msg_en = %q, want Doors open", body.MsgEn)
		}
		if body.Role == nil {
			t.Error("role = nil, want empty array")
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"status": "OK"}`))
	})

	err := client.CreateAnnouncement(context.Background(), "Doors open", "開始入場", "https://example.com", nil)
	if err != nil {
		t.Fatalf("CreateAnnouncement: %v", err)
	}
}

func TestReplaceRuleset(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %q, want PUT", r.Method)
		}
		if r.URL.Path != "/admin/ruleset" {
			t.Errorf("path = %q, want /admin/ruleset", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer admin-key" {
			t.Errorf("Authorization = %q, want Bearer admin-key", got)
		}
		w.Write([]byte(`{"status": "OK"}`))
	})

	err := client.ReplaceRuleset(context.Background(), json.RawMessage(`{"day1checkin": {"order": 1}}`))
	if err != nil {
		t.Fatalf("ReplaceRuleset: %v", err)
	}
}
