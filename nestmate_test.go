package nestmate

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/neilotoole/slogt"
)

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewClient("tok-123", WithBaseURL(srv.URL+"/api/"), WithLogger(slogt.New(t)))
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Error(err)
	}
}

func readBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	data, err := io.ReadAll(r.Body)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("body %q: %v", data, err)
	}
	return m
}

func TestMessagesClient(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/messages/dm/get-or-create", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-123" {
			t.Errorf("Authorization = %q", got)
		}
		body := readBody(t, r)
		writeJSON(t, w, 200, conv("dm-"+body["otherUserId"].(string), t0, 0))
	})
	mux.HandleFunc("POST /api/messages/listing/get-or-create", func(w http.ResponseWriter, r *http.Request) {
		body := readBody(t, r)
		c := conv("ls-1", t0, 0)
		c.Kind = KindListing
		c.ListingID = body["listingId"].(string)
		if body["sellerId"] != "u-seller" {
			t.Errorf("sellerId = %v", body["sellerId"])
		}
		writeJSON(t, w, 200, c)
	})
	mux.HandleFunc("GET /api/messages/conversations", func(w http.ResponseWriter, r *http.Request) {
		if q := r.URL.Query(); q.Get("page") != "2" || q.Get("limit") != "10" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		writeJSON(t, w, 200, []Conversation{conv("a", t0, 3)})
	})
	mux.HandleFunc("GET /api/messages/conversations/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "c1" {
			t.Errorf("id = %q", r.PathValue("id"))
		}
		writeJSON(t, w, 200, []Message{msg("m1", other, "hi", t0)})
	})
	mux.HandleFunc("POST /api/messages/conversations/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		body := readBody(t, r)
		if body["text"] != "hello" || body["clientId"] != "cid" {
			t.Errorf("body = %v", body)
		}
		m := msg("42", me, "hello", t0)
		m.ClientID = "cid"
		writeJSON(t, w, 201, SendResult{Message: m, Conversation: conv(r.PathValue("id"), t0, 0)})
	})
	mux.HandleFunc("POST /api/messages/conversations/{id}/read", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, 200, conv(r.PathValue("id"), t0, 0))
	})

	m := newTestClient(t, mux).Messages()
	ctx := context.Background()

	t.Run("GetOrCreateDirect", func(t *testing.T) {
		c, err := m.GetOrCreateDirect(ctx, "u-bob")
		if err != nil {
			t.Fatal(err)
		}
		if c.ID != "dm-u-bob" {
			t.Errorf("id = %s", c.ID)
		}
	})

	t.Run("GetOrCreateListing", func(t *testing.T) {
		c, err := m.GetOrCreateListing(ctx, "l-9", "u-seller")
		if err != nil {
			t.Fatal(err)
		}
		if c.Kind != KindListing || c.ListingID != "l-9" {
			t.Errorf("conversation = %+v", c)
		}
	})

	t.Run("ListConversations", func(t *testing.T) {
		list, err := m.ListConversations(ctx, 2, 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(list) != 1 || list[0].UnreadFor(me) != 3 {
			t.Errorf("list = %+v", list)
		}
	})

	t.Run("ListMessages", func(t *testing.T) {
		msgs, err := m.ListMessages(ctx, "c1", 1, MessagePageSize)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]string{"m1"}, ids(msgs)); diff != "" {
			t.Errorf("ids (-want +got):\n%s", diff)
		}
	})

	t.Run("SendMessage", func(t *testing.T) {
		res, err := m.SendMessage(ctx, "x", SendInput{Text: "hello", ClientID: "cid"})
		if err != nil {
			t.Fatal(err)
		}
		if res.Message.ID != "42" || res.Message.ClientID != "cid" || res.Conversation.ID != "x" {
			t.Errorf("result = %+v", res)
		}
	})

	t.Run("MarkRead", func(t *testing.T) {
		c, err := m.MarkRead(ctx, "x")
		if err != nil {
			t.Fatal(err)
		}
		if c.ID != "x" {
			t.Errorf("id = %s", c.ID)
		}
	})
}

func TestClientErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantCode string
		wantMsg  string
	}{
		{name: "nested", status: 404, body: `{"error":{"code":"NOT_FOUND","message":"no such conversation"}}`, wantCode: "NOT_FOUND", wantMsg: "no such conversation"},
		{name: "plain string", status: 400, body: `{"error":"text too long"}`, wantMsg: "text too long"},
		{name: "message field", status: 403, body: `{"message":"not a participant"}`, wantMsg: "not a participant"},
		{name: "no body", status: 502, body: ``, wantMsg: "Bad Gateway"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			})
			_, err := newTestClient(t, mux).Messages().MarkRead(context.Background(), "x")

			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("err = %v, want APIError", err)
			}
			want := &APIError{StatusCode: tt.status, Code: tt.wantCode, Message: tt.wantMsg}
			if diff := cmp.Diff(want, apiErr); diff != "" {
				t.Errorf("error mismatch (-want +got):\n%s", diff)
			}
		})
	}

	t.Run("network", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		_, err := NewClient("tok", WithBaseURL(url)).Messages().ListConversations(context.Background(), 1, 20)
		var netErr *NetworkError
		if !errors.As(err, &netErr) {
			t.Fatalf("err = %v, want NetworkError", err)
		}
		if netErr.Op != "GET /messages/conversations" {
			t.Errorf("op = %q", netErr.Op)
		}
	})

	t.Run("undecodable body", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			io.WriteString(w, "<html>maintenance</html>")
		})
		_, err := newTestClient(t, mux).Messages().MarkRead(context.Background(), "x")

		var netErr *NetworkError
		if !errors.As(err, &netErr) {
			t.Fatalf("err = %v, want NetworkError", err)
		}
		if netErr.Op != "POST /messages/conversations/x/read" {
			t.Errorf("op = %q", netErr.Op)
		}
		var syntaxErr *json.SyntaxError
		if !errors.As(err, &syntaxErr) {
			t.Errorf("err = %v, want wrapped json.SyntaxError", err)
		}
	})
}

func TestClientRealtimeURL(t *testing.T) {
	tests := []struct {
		name string
		opts []ClientOption
		want string
	}{
		{name: "default", want: "wss://api.nestmate.app/ws"},
		{name: "staging", opts: []ClientOption{WithEnvironment(Staging)}, want: "wss://staging-api.nestmate.app/ws"},
		{name: "plain http", opts: []ClientOption{WithBaseURL("http://localhost:4000/api")}, want: "ws://localhost:4000/ws"},
		{name: "override", opts: []ClientOption{WithRealtimeURL("wss://rt.example.com/socket")}, want: "wss://rt.example.com/socket"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewClient("tok", tt.opts...).RealtimeURL(); got != tt.want {
				t.Errorf("RealtimeURL = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClientRealtimeConfig(t *testing.T) {
	c := NewClient("tok-123", WithBaseURL("http://localhost:4000/api"))

	rt := c.Realtime(&RealtimeConfig{UserID: me})
	if rt.config.Token != "tok-123" || rt.config.URL != "ws://localhost:4000/ws" {
		t.Errorf("config = %+v, want client token and derived url", rt.config)
	}

	in := &RealtimeConfig{Token: "tok-live", URL: "ws://other/ws"}
	rt = c.Realtime(in)
	in.Token = "changed"
	if rt.config.Token != "tok-live" || rt.config.URL != "ws://other/ws" {
		t.Errorf("config = %+v, want explicit token and url kept", rt.config)
	}
}
