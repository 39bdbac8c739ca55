package upstream

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/alarm-service/internal/model"
	"github.com/jwalitptl/alarm-service/pkg/errors"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Config{URL: srv.URL + "/exec", Timeout: 2 * time.Second}, nil)
}

func TestFetchAlarms(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/exec", r.URL.Path)
		assert.Equal(t, ActionSyncAlarms, r.URL.Query().Get("action"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"status":"success","alarms":[
			{"id":"a1","title":"Meds","scheduledAt":1735722000000,"kind":"personal","priority":"high","repeat":"daily","delivered":false}
		]}`)
	})

	alarms, err := c.FetchAlarms(context.Background())
	require.NoError(t, err)
	require.Len(t, alarms, 1)
	assert.Equal(t, "a1", alarms[0].ID)
	assert.Equal(t, model.RepeatDaily, alarms[0].Repeat)
	assert.Equal(t, time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC), alarms[0].ScheduledAt)
}

func TestFetchBroadcasts(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, ActionGetBroadcasts, r.URL.Query().Get("action"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"status":"success","data":[{"id":"b1","title":"Closed","message":"Office closed","urgent":true}]}`)
	})

	broadcasts, err := c.FetchBroadcasts(context.Background())
	require.NoError(t, err)
	require.Len(t, broadcasts, 1)
	assert.Equal(t, "b1", broadcasts[0].ID)
	assert.True(t, broadcasts[0].Urgent)
}

func TestReportDelivered(t *testing.T) {
	var body map[string]interface{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, ActionMarkDelivered, r.URL.Query().Get("action"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"status":"success"}`)
	})

	at := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, c.ReportDelivered(context.Background(), model.DeliveryReport{AlarmID: "a1", DeliveredAt: at}))
	assert.Equal(t, "a1", body["alarm_id"])
	assert.EqualValues(t, at.UnixMilli(), body["delivered_at"])
}

func TestRegisterDevice(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, ActionRegisterDevice, r.URL.Query().Get("action"))
		var d model.Device
		require.NoError(t, json.NewDecoder(r.Body).Decode(&d))
		assert.Equal(t, "dev-1", d.DeviceID)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"status":"success"}`)
	})

	require.NoError(t, c.RegisterDevice(context.Background(), model.Device{DeviceID: "dev-1"}))
}

func TestCallFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"backend error status", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"status":"error","message":"sheet locked"}`)
		}},
		{"http error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"bad payload", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"status":"success","alarms":{"not":"a list"}}`)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.handler)
			_, err := c.FetchAlarms(context.Background())
			require.Error(t, err)
			assert.Equal(t, errors.ErrCollaborator, errors.CodeOf(err))
		})
	}
}
