package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"gopkg.in/gomail.v2"
)

type stubSettings struct {
	docs map[string]json.RawMessage
}

func newStubSettings() *stubSettings {
	return &stubSettings{docs: map[string]json.RawMessage{}}
}

func (s *stubSettings) Load(_ context.Context, key string, out any) error {
	raw, ok := s.docs[key]
	if !ok {
		return fmt.Errorf("setting %s not found", key)
	}
	return json.Unmarshal(raw, out)
}

func (s *stubSettings) Save(_ context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.docs[key] = raw
	return nil
}

func (s *stubSettings) put(t *testing.T, cfg Config) {
	t.Helper()
	if err := s.Save(context.Background(), settingsKey, cfg); err != nil {
		t.Fatalf("save config: %v", err)
	}
}

type countingTransport struct {
	calls int
}

func (t *countingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	t.calls++
	return nil, fmt.Errorf("no network in tests")
}

func newDispatcher(settings SettingsStore, client *http.Client) *Dispatcher {
	return NewDispatcher(settings, client, zerolog.Nop())
}

func TestSendSkippedWhenDisabled(t *testing.T) {
	transport := &countingTransport{}
	settings := newStubSettings()
	cfg := DefaultConfig()
	cfg.Enabled = false
	cfg.Webhook.URL = "https://hooks.test/x"
	settings.put(t, cfg)

	d := newDispatcher(settings, &http.Client{Transport: transport})
	result := d.Send(context.Background(), EventUpload, Payload{Title: "t", Message: "m"})

	if !result.Success || !result.Skipped {
		t.Fatalf("got %+v, want skipped success", result)
	}
	if transport.calls != 0 {
		t.Fatalf("disabled dispatch made %d HTTP calls", transport.calls)
	}
}

func TestSendSkippedWhenEventTypeOff(t *testing.T) {
	transport := &countingTransport{}
	settings := newStubSettings()
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.Webhook.URL = "https://hooks.test/x"
	cfg.Types[EventLogin] = false
	settings.put(t, cfg)

	d := newDispatcher(settings, &http.Client{Transport: transport})
	result := d.Send(context.Background(), EventLogin, Payload{Title: "t", Message: "m"})

	if !result.Skipped {
		t.Fatalf("got %+v, want skipped", result)
	}
	if transport.calls != 0 {
		t.Fatalf("skipped dispatch made %d HTTP calls", transport.calls)
	}
}

func TestLoadConfigFallsBackToDefaults(t *testing.T) {
	d := newDispatcher(newStubSettings(), http.DefaultClient)
	cfg := d.LoadConfig(context.Background())

	if cfg.Enabled {
		t.Error("defaults should be disabled")
	}
	if cfg.Method != MethodWebhook {
		t.Errorf("default method = %s", cfg.Method)
	}
	if !cfg.Types[EventNsfw] {
		t.Error("nsfw event should default on")
	}
}

func TestSaveConfigRejectsUnknownMethod(t *testing.T) {
	d := newDispatcher(newStubSettings(), http.DefaultClient)
	cfg := DefaultConfig()
	cfg.Method = "carrier-pigeon"
	if err := d.SaveConfig(context.Background(), cfg); err == nil {
		t.Fatal("expected error for unknown method")
	}
}

func TestWebhookDelivery(t *testing.T) {
	var gotBody string
	var gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		gotHeader = r.Header.Get("X-Token")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	settings := newStubSettings()
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.Webhook.URL = srv.URL
	cfg.Webhook.Headers = map[string]string{"X-Token": "secret"}
	cfg.Webhook.BodyTemplate = `{"t":"{{type}}","title":"{{title}}"}`
	settings.put(t, cfg)

	d := newDispatcher(settings, srv.Client())
	result := d.Send(context.Background(), EventUpload, Payload{Title: "hello", Message: "m"})

	if !result.Success || result.Skipped {
		t.Fatalf("got %+v", result)
	}
	if gotBody != `{"t":"upload","title":"hello"}` {
		t.Errorf("body = %q", gotBody)
	}
	if gotHeader != "secret" {
		t.Errorf("X-Token = %q", gotHeader)
	}
}

func TestWebhookFailureOnBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	settings := newStubSettings()
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.Webhook.URL = srv.URL
	settings.put(t, cfg)

	d := newDispatcher(settings, srv.Client())
	result := d.Send(context.Background(), EventUpload, Payload{Title: "t", Message: "m"})

	if result.Success {
		t.Fatalf("got %+v, want failure", result)
	}
	if !strings.Contains(result.Error, "502") {
		t.Errorf("error = %q", result.Error)
	}
}

func TestWebhookRequiresURL(t *testing.T) {
	ch := &webhookChannel{client: http.DefaultClient}
	result := ch.send(context.Background(), DefaultConfig(), Payload{Type: EventUpload})
	if result.Success {
		t.Fatal("expected config error without URL")
	}
}

func TestTelegramSendsPhotoForImageEvents(t *testing.T) {
	var methods []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		parts := strings.Split(r.URL.Path, "/")
		method := parts[len(parts)-1]
		methods = append(methods, method)
		if method == "sendPhoto" && r.FormValue("photo") == "" {
			t.Error("sendPhoto without photo field")
		}
		if r.FormValue("chat_id") != "42" {
			t.Errorf("chat_id = %q", r.FormValue("chat_id"))
		}
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer srv.Close()

	ch := &telegramChannel{client: srv.Client(), baseURL: srv.URL}
	cfg := DefaultConfig()
	cfg.Telegram = TelegramConfig{Token: "tok", ChatID: "42"}

	result := ch.send(context.Background(), cfg, Payload{
		Type:    EventNsfw,
		Title:   "flagged",
		Message: "image flagged",
		Data:    map[string]any{"url": "https://img.test/a.png", "score": 0.93},
	})

	if !result.Success {
		t.Fatalf("got %+v", result)
	}
	if len(methods) != 1 || methods[0] != "sendPhoto" {
		t.Fatalf("called %v, want single sendPhoto", methods)
	}
}

func TestTelegramFallsBackToTextMessage(t *testing.T) {
	var methods []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(r.URL.Path, "/")
		method := parts[len(parts)-1]
		methods = append(methods, method)
		if method == "sendPhoto" {
			fmt.Fprint(w, `{"ok":false,"description":"failed to get HTTP URL content"}`)
			return
		}
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer srv.Close()

	ch := &telegramChannel{client: srv.Client(), baseURL: srv.URL}
	cfg := DefaultConfig()
	cfg.Telegram = TelegramConfig{Token: "tok", ChatID: "42"}

	result := ch.send(context.Background(), cfg, Payload{
		Type:    EventUpload,
		Title:   "uploaded",
		Message: "new image",
		Data:    map[string]any{"url": "https://img.test/a.png"},
	})

	if !result.Success {
		t.Fatalf("got %+v", result)
	}
	if len(methods) != 2 || methods[0] != "sendPhoto" || methods[1] != "sendMessage" {
		t.Fatalf("called %v, want sendPhoto then sendMessage", methods)
	}
}

func TestTelegramRequiresCredentials(t *testing.T) {
	ch := &telegramChannel{client: http.DefaultClient}
	result := ch.send(context.Background(), DefaultConfig(), Payload{Type: EventUpload})
	if result.Success {
		t.Fatal("expected config error without token and chat ID")
	}
}

func TestEmailDelivery(t *testing.T) {
	var gotHost string
	var gotPort int
	var gotTo []string
	ch := &emailChannel{sender: func(host string, port int, user, pass string, msg *gomail.Message) error {
		gotHost, gotPort = host, port
		gotTo = msg.GetHeader("To")
		return nil
	}}

	cfg := DefaultConfig()
	cfg.Email = EmailConfig{Service: "qq", User: "me@qq.com", Pass: "secret"}

	result := ch.send(context.Background(), cfg, Payload{Type: EventUpload, Title: "t", Message: "m"})
	if !result.Success {
		t.Fatalf("got %+v", result)
	}
	if gotHost != "smtp.qq.com" || gotPort != 465 {
		t.Errorf("dialed %s:%d", gotHost, gotPort)
	}
	if len(gotTo) != 1 || gotTo[0] != "me@qq.com" {
		t.Errorf("To = %v, want sender address fallback", gotTo)
	}
}

func TestEmailRequiresCredentials(t *testing.T) {
	ch := &emailChannel{sender: func(string, int, string, string, *gomail.Message) error {
		t.Error("sender called despite missing credentials")
		return nil
	}}
	cfg := DefaultConfig()
	cfg.Email = EmailConfig{Service: "qq"}
	if result := ch.send(context.Background(), cfg, Payload{}); result.Success {
		t.Fatal("expected config error")
	}
}

func TestEmailRejectsUnknownServiceWithoutHost(t *testing.T) {
	ch := &emailChannel{sender: func(string, int, string, string, *gomail.Message) error { return nil }}
	cfg := DefaultConfig()
	cfg.Email = EmailConfig{Service: "pigeonmail", User: "u", Pass: "p"}
	if result := ch.send(context.Background(), cfg, Payload{}); result.Success {
		t.Fatal("expected error for unknown service")
	}

	cfg.Email.Host = "smtp.pigeonmail.test"
	cfg.Email.Port = 2525
	var gotHost string
	ch.sender = func(host string, port int, user, pass string, msg *gomail.Message) error {
		gotHost = host
		return nil
	}
	if result := ch.send(context.Background(), cfg, Payload{}); !result.Success {
		t.Fatalf("got %+v with explicit host", result)
	}
	if gotHost != "smtp.pigeonmail.test" {
		t.Errorf("dialed %s", gotHost)
	}
}

func TestServerChanDelivery(t *testing.T) {
	var gotPath, gotText, gotDesp string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotPath = r.URL.Path
		gotText = r.FormValue("text")
		gotDesp = r.FormValue("desp")
		fmt.Fprint(w, `{"code":0}`)
	}))
	defer srv.Close()

	ch := &serverChanChannel{client: srv.Client(), baseURL: srv.URL}
	cfg := DefaultConfig()
	cfg.ServerChan = ServerChanConfig{SendKey: "SCT123"}

	result := ch.send(context.Background(), cfg, Payload{
		Type:    EventNsfw,
		Title:   "flagged",
		Message: "image flagged",
		Data:    map[string]any{"url": "https://img.test/a.png", "provider": "elysiatools"},
	})

	if !result.Success {
		t.Fatalf("got %+v", result)
	}
	if gotPath != "/SCT123.send" {
		t.Errorf("path = %q", gotPath)
	}
	if gotText != "flagged" {
		t.Errorf("text = %q", gotText)
	}
	if !strings.Contains(gotDesp, "![image](https://img.test/a.png)") {
		t.Errorf("desp missing image markdown: %q", gotDesp)
	}
	if !strings.Contains(gotDesp, "**provider**: elysiatools") {
		t.Errorf("desp missing appendix: %q", gotDesp)
	}
}

func TestServerChanReportsAPIFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":40001,"message":"bad key"}`)
	}))
	defer srv.Close()

	ch := &serverChanChannel{client: srv.Client(), baseURL: srv.URL}
	cfg := DefaultConfig()
	cfg.ServerChan = ServerChanConfig{SendKey: "SCT123"}

	result := ch.send(context.Background(), cfg, Payload{Type: EventUpload, Title: "t", Message: "m"})
	if result.Success {
		t.Fatalf("got %+v, want failure", result)
	}
	if !strings.Contains(result.Error, "40001") {
		t.Errorf("error = %q", result.Error)
	}
}

func TestTestChannelBypassesEnabledFlag(t *testing.T) {
	var called bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := newDispatcher(newStubSettings(), srv.Client())
	cfg := DefaultConfig()
	cfg.Enabled = false
	cfg.Webhook.URL = srv.URL

	result := d.TestChannel(context.Background(), MethodWebhook, cfg)
	if !result.Success {
		t.Fatalf("got %+v", result)
	}
	if !called {
		t.Fatal("webhook not called")
	}
}

func TestMergeDefaultsPreservesStoredChannels(t *testing.T) {
	stored := Config{
		Enabled:  true,
		Method:   MethodTelegram,
		Telegram: TelegramConfig{Token: "tok", ChatID: "42"},
		Types:    map[EventType]bool{EventLogin: false},
	}
	cfg := mergeDefaults(stored)

	if !cfg.Enabled || cfg.Method != MethodTelegram {
		t.Fatalf("got %+v", cfg)
	}
	if cfg.Telegram.Token != "tok" {
		t.Errorf("telegram config lost: %+v", cfg.Telegram)
	}
	if cfg.Types[EventLogin] {
		t.Error("stored login=false overridden")
	}
	if !cfg.Types[EventUpload] || !cfg.Types[EventNsfw] {
		t.Error("unset event types should default on")
	}
	if cfg.Webhook.BodyTemplate == "" {
		t.Error("default body template missing")
	}
}
