package sender

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"
	"github.com/wyfcoding/propertyalert/internal/propertyalert/domain"
	"github.com/wyfcoding/propertyalert/pkg/config"
	"github.com/wyfcoding/propertyalert/pkg/mq"
	"gopkg.in/gomail.v2"
)

func browserCredential(t *testing.T, endpoint string) domain.PushCredential {
	t.Helper()
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	auth := make([]byte, 16)
	if _, err := rand.Read(auth); err != nil {
		t.Fatalf("auth secret: %v", err)
	}
	return domain.PushCredential{
		Endpoint: endpoint,
		P256dh:   base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes()),
		Auth:     base64.RawURLEncoding.EncodeToString(auth),
	}
}

func newTestWebPushSender(t *testing.T) *WebPushSender {
	t.Helper()
	priv, pub, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		t.Fatalf("vapid keys: %v", err)
	}
	return NewWebPushSenderWithClient(config.PushConfig{
		VAPIDPublicKey:  pub,
		VAPIDPrivateKey: priv,
		Subscriber:      "alerts@rumah.example.id",
	}, &http.Client{Timeout: 5 * time.Second})
}

func TestWebPushSenderStatusMapping(t *testing.T) {
	cases := []struct {
		status  int
		want    domain.DeliveryResult
		wantErr bool
	}{
		{http.StatusCreated, domain.ResultDelivered, false},
		{http.StatusGone, domain.ResultExpired, false},
		{http.StatusNotFound, domain.ResultExpired, false},
		{http.StatusInternalServerError, domain.ResultFailed, true},
	}
	s := newTestWebPushSender(t)

	for _, tc := range cases {
		var gotTTL, gotUrgency, gotAuth string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotTTL = r.Header.Get("TTL")
			gotUrgency = r.Header.Get("Urgency")
			gotAuth = r.Header.Get("Authorization")
			w.WriteHeader(tc.status)
		}))

		payload := domain.PushPayload{Title: "Price dropped 12%", Data: domain.PushData{Type: "price_drop", URL: "/properties/P1"}}
		got, err := s.Send(context.Background(), browserCredential(t, srv.URL+"/push/abc"), payload)
		srv.Close()

		if got != tc.want || (err != nil) != tc.wantErr {
			t.Errorf("status %d: got %s, %v", tc.status, got, err)
		}
		if gotTTL != "86400" || gotUrgency != "high" || !strings.HasPrefix(gotAuth, "vapid ") {
			t.Errorf("status %d: unexpected headers ttl=%q urgency=%q auth=%q", tc.status, gotTTL, gotUrgency, gotAuth)
		}
	}
}

func TestWebPushSenderUnreachable(t *testing.T) {
	s := newTestWebPushSender(t)
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL
	srv.Close()

	got, err := s.Send(context.Background(), browserCredential(t, endpoint), domain.PushPayload{Title: "x"})
	if got != domain.ResultFailed || err == nil {
		t.Fatalf("unreachable endpoint must fail, got %s %v", got, err)
	}
}

type scriptedPush struct {
	result domain.DeliveryResult
	err    error
	calls  int
}

func (s *scriptedPush) Send(context.Context, domain.PushCredential, domain.PushPayload) (domain.DeliveryResult, error) {
	s.calls++
	return s.result, s.err
}

func testBreakerSettings() BreakerSettings {
	return BreakerSettings{MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute, FailureRatio: 0.5, MinRequests: 3}
}

func TestBreakerPushSenderOpensOnFailures(t *testing.T) {
	next := &scriptedPush{result: domain.ResultFailed, err: errors.New("503 from push service")}
	b := NewBreakerPushSender(next, testBreakerSettings())

	for i := 0; i < 3; i++ {
		if got, err := b.Send(context.Background(), domain.PushCredential{}, domain.PushPayload{}); got != domain.ResultFailed || err == nil {
			t.Fatalf("attempt %d: %s %v", i, got, err)
		}
	}
	if b.cb.State() != gobreaker.StateOpen {
		t.Fatalf("breaker state = %s", b.cb.State())
	}

	got, err := b.Send(context.Background(), domain.PushCredential{}, domain.PushPayload{})
	if got != domain.ResultFailed || !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("open breaker must short circuit: %s %v", got, err)
	}
	if next.calls != 3 {
		t.Fatalf("open breaker reached the sender: %d calls", next.calls)
	}
}

func TestBreakerPushSenderIgnoresExpired(t *testing.T) {
	next := &scriptedPush{result: domain.ResultExpired}
	b := NewBreakerPushSender(next, testBreakerSettings())

	for i := 0; i < 10; i++ {
		got, err := b.Send(context.Background(), domain.PushCredential{}, domain.PushPayload{})
		if got != domain.ResultExpired || err != nil {
			t.Fatalf("attempt %d: %s %v", i, got, err)
		}
	}
	if b.cb.State() != gobreaker.StateClosed {
		t.Fatalf("expired endpoints must not trip the breaker, state = %s", b.cb.State())
	}
}

type flakyEmail struct {
	err   error
	calls int
}

func (f *flakyEmail) Send(context.Context, string, string, string) error {
	f.calls++
	return f.err
}

func TestBreakerEmailSender(t *testing.T) {
	next := &flakyEmail{err: errors.New("smtp timeout")}
	b := NewBreakerEmailSender(next, testBreakerSettings())
	for i := 0; i < 3; i++ {
		_ = b.Send(context.Background(), "a@example.com", "s", "<p>x</p>")
	}
	if err := b.Send(context.Background(), "a@example.com", "s", "<p>x</p>"); !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open state, got %v", err)
	}
	if next.calls != 3 {
		t.Fatalf("calls = %d", next.calls)
	}
}

type captureDialer struct {
	msgs []*gomail.Message
	err  error
}

func (d *captureDialer) DialAndSend(m ...*gomail.Message) error {
	d.msgs = append(d.msgs, m...)
	return d.err
}

func TestSMTPSender(t *testing.T) {
	d := &captureDialer{}
	s := &SMTPSender{dialer: d, from: "alerts@rumah.example.id"}

	if err := s.Send(context.Background(), "u1@example.com", "3 new properties", "<p>hi</p>"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(d.msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(d.msgs))
	}
	m := d.msgs[0]
	if got := m.GetHeader("To"); len(got) != 1 || got[0] != "u1@example.com" {
		t.Fatalf("To = %v", got)
	}
	if got := m.GetHeader("Subject"); len(got) != 1 || got[0] != "3 new properties" {
		t.Fatalf("Subject = %v", got)
	}

	d.err = errors.New("connection refused")
	if err := s.Send(context.Background(), "u1@example.com", "x", "y"); err == nil || !strings.Contains(err.Error(), "u1@example.com") {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

type memoryWriter struct {
	msgs []kafka.Message
}

func (w *memoryWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *memoryWriter) Close() error { return nil }

func TestKafkaEmailSender(t *testing.T) {
	w := &memoryWriter{}
	s := NewKafkaEmailSender(mq.NewProducerWithWriter(w), "property-alert-emails")

	if err := s.Send(context.Background(), "u1@example.com", "Price drop", "<p>x</p>"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected one kafka message, got %d", len(w.msgs))
	}
	msg := w.msgs[0]
	if msg.Topic != "property-alert-emails" || string(msg.Key) != "u1@example.com" {
		t.Fatalf("unexpected routing: topic=%s key=%s", msg.Topic, msg.Key)
	}
	var cmd EmailCommand
	if err := json.Unmarshal(msg.Value, &cmd); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cmd.Subject != "Price drop" || cmd.HTML != "<p>x</p>" {
		t.Fatalf("unexpected command: %+v", cmd)
	}
}
