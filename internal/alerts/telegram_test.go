package alerts

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBotAPI answers getMe and sendMessage like the Telegram Bot API.
// Chat 13 is unknown and rejected.
type fakeBotAPI struct {
	mu       sync.Mutex
	messages map[string]string // chat_id -> text
}

func newFakeBotAPI(t *testing.T) (*fakeBotAPI, string) {
	t.Helper()
	api := &fakeBotAPI{messages: make(map[string]string)}
	srv := httptest.NewServer(http.HandlerFunc(api.handle))
	t.Cleanup(srv.Close)
	return api, srv.URL + "/bot%s/%s"
}

func (f *fakeBotAPI) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, "/getMe"):
		fmt.Fprint(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"paramforge","username":"paramforge_bot"}}`)
	case strings.HasSuffix(r.URL.Path, "/sendMessage"):
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		chatID := r.FormValue("chat_id")
		if chatID == "13" {
			fmt.Fprint(w, `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`)
			return
		}
		f.mu.Lock()
		f.messages[chatID] = r.FormValue("text")
		f.mu.Unlock()
		fmt.Fprintf(w, `{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":%s,"type":"private"}}}`, chatID)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeBotAPI) sent() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.messages))
	for k, v := range f.messages {
		out[k] = v
	}
	return out
}

func testAlert() Alert {
	return Alert{
		Kind:       KindHighFailureRate,
		Title:      "High Oracle Failure Rate",
		Message:    "6 of 10 evaluations of ema_crossover failed",
		Severity:   SeverityWarning,
		Timestamp:  time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		RunID:      uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8"),
		Strategy:   "ema_crossover",
		Generation: 4,
		Evaluated:  10,
		Failed:     6,
	}
}

func TestNewTelegramAlerter(t *testing.T) {
	_, endpoint := newFakeBotAPI(t)

	alerter, err := NewTelegramAlerter("test_token", endpoint, []int64{42})
	require.NoError(t, err)
	assert.Equal(t, []int64{42}, alerter.ChatIDs())

	_, err = NewTelegramAlerter("", endpoint, []int64{42})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bot token is required")
}

func TestTelegramAlerter_Send(t *testing.T) {
	api, endpoint := newFakeBotAPI(t)

	alerter, err := NewTelegramAlerter("test_token", endpoint, []int64{42, 43})
	require.NoError(t, err)

	require.NoError(t, alerter.Send(context.Background(), testAlert()))

	sent := api.sent()
	require.Len(t, sent, 2)
	assert.Contains(t, sent["42"], "High Oracle Failure Rate")
	assert.Equal(t, sent["42"], sent["43"])
}

func TestTelegramAlerter_SendPartialFailure(t *testing.T) {
	api, endpoint := newFakeBotAPI(t)

	alerter, err := NewTelegramAlerter("test_token", endpoint, []int64{13, 42})
	require.NoError(t, err)

	assert.NoError(t, alerter.Send(context.Background(), testAlert()))
	assert.Contains(t, api.sent(), "42")
}

func TestTelegramAlerter_SendAllFail(t *testing.T) {
	_, endpoint := newFakeBotAPI(t)

	alerter, err := NewTelegramAlerter("test_token", endpoint, []int64{13})
	require.NoError(t, err)

	err = alerter.Send(context.Background(), testAlert())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to send alert to any chat")
}

func TestTelegramAlerter_Send_NoChatIDs(t *testing.T) {
	alerter := &TelegramAlerter{}
	assert.NoError(t, alerter.Send(context.Background(), testAlert()))
}

func TestFormatAlert(t *testing.T) {
	tests := []struct {
		name     string
		alert    Alert
		contains []string
	}{
		{
			name:     "critical alert",
			alert:    Alert{Title: "Generation Evaluation Failed", Message: "all failed", Severity: SeverityCritical},
			contains: []string{"🚨", "*Generation Evaluation Failed*", "all failed"},
		},
		{
			name:     "info alert",
			alert:    Alert{Title: "Run Finished", Message: "done", Severity: SeverityInfo},
			contains: []string{"ℹ️", "Run Finished"},
		},
		{
			name:  "run details in order",
			alert: testAlert(),
			contains: []string{
				"⚠️", "ema\\_crossover failed", "*Details:*",
				"• run\\_id: `6ba7b810-9dad-11d1-80b4-00c04fd430c8`\n• strategy: `ema_crossover`\n• generation: `4`\n• evaluated: `10`\n• failed: `6`",
				"_Time: 2024-01-01 12:00:00_",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := formatAlert(tt.alert)
			for _, str := range tt.contains {
				assert.Contains(t, result, str)
			}
		})
	}
}
