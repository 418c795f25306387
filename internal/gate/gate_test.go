package gate

import (
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

const (
	testSecret = "session-secret"
	testToken  = "shared-token"
	maxAge     = 30 * 24 * time.Hour
)

func newTestGate(t *testing.T, now time.Time) *Gate {
	t.Helper()
	_, campus, err := net.ParseCIDR("10.0.0.0/8")
	if err != nil {
		t.Fatal(err)
	}
	_, proxy, err := net.ParseCIDR("192.0.2.0/24")
	if err != nil {
		t.Fatal(err)
	}
	g := New([]*net.IPNet{campus}, testToken, NewSessionSigner(testSecret, maxAge, true),
		"X-Real-IP", []*net.IPNet{proxy})
	g.now = func() time.Time { return now }
	return g
}

func TestEvaluate(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g := newTestGate(t, now)
	signer := NewSessionSigner(testSecret, maxAge, true)
	foreign := NewSessionSigner("other-secret", maxAge, true)

	tests := []struct {
		name string
		req  Request
		want Reason
	}{
		{"разрешённая сеть", Request{IP: net.ParseIP("10.1.2.3")}, ReasonNetwork},
		{"сеть важнее неверного токена", Request{IP: net.ParseIP("10.1.2.3"), Token: "bad"}, ReasonNetwork},
		{"токен", Request{IP: net.ParseIP("8.8.8.8"), Token: testToken}, ReasonToken},
		{"свежая сессия", Request{Session: signer.Sign(now.Add(-time.Hour))}, ReasonSession},
		{"сессия на границе минус секунда", Request{Session: signer.Sign(now.Add(-maxAge + time.Second))}, ReasonSession},
		{"сессия ровно maxAge", Request{Session: signer.Sign(now.Add(-maxAge))}, ReasonDenied},
		{"сессия maxAge + 1s", Request{Session: signer.Sign(now.Add(-maxAge - time.Second))}, ReasonDenied},
		{"чужая подпись", Request{Session: foreign.Sign(now)}, ReasonDenied},
		{"без подписи", Request{Session: "1700000000000"}, ReasonDenied},
		{"не число", Request{Session: "abc." + signer.signature("abc")}, ReasonDenied},
		{"неверный токен", Request{Token: "wrong"}, ReasonDenied},
		{"пусто", Request{}, ReasonDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := g.Evaluate(tt.req)
			if d.Reason != tt.want {
				t.Errorf("Reason = %q, ожидался %q", d.Reason, tt.want)
			}
			if d.Allowed != (tt.want != ReasonDenied) {
				t.Errorf("Allowed = %v для Reason %q", d.Allowed, d.Reason)
			}
		})
	}
}

func TestClientIP(t *testing.T) {
	g := newTestGate(t, time.Now())

	tests := []struct {
		name       string
		remoteAddr string
		realIP     string
		want       string
	}{
		{"RemoteAddr", "192.0.2.1:5555", "", "192.0.2.1"},
		{"заголовок от доверенного прокси", "192.0.2.1:5555", "10.9.9.9, 192.0.2.1", "10.9.9.9"},
		{"мусор в заголовке", "192.0.2.1:5555", "not-an-ip", "192.0.2.1"},
		{"заголовок от клиента", "8.8.8.8:5555", "10.1.2.3", "8.8.8.8"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/files/x.pdf", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.realIP != "" {
				r.Header.Set("X-Real-IP", tt.realIP)
			}
			if got := g.ClientIP(r).String(); got != tt.want {
				t.Errorf("ClientIP = %s, ожидался %s", got, tt.want)
			}
		})
	}

	// Без настроенного заголовка он игнорируется и от прокси
	g.proxyHeader = ""
	r := httptest.NewRequest(http.MethodGet, "/files/x.pdf", nil)
	r.RemoteAddr = "192.0.2.1:5555"
	r.Header.Set("X-Real-IP", "10.9.9.9")
	if got := g.ClientIP(r).String(); got != "192.0.2.1" {
		t.Errorf("заголовок должен игнорироваться, получено %s", got)
	}
}

// TestEvaluateHTTP_SpoofedHeader: клиент вне доверенных прокси не может
// выдать себя за адрес разрешённой сети.
func TestEvaluateHTTP_SpoofedHeader(t *testing.T) {
	g := newTestGate(t, time.Now())

	r := httptest.NewRequest(http.MethodGet, "/files/x.pdf", nil)
	r.RemoteAddr = "8.8.8.8:5555"
	r.Header.Set("X-Real-IP", "10.1.2.3")
	if d := g.EvaluateHTTP(r); d.Allowed {
		t.Errorf("поддельный заголовок дал доступ: %+v", d)
	}

	r.RemoteAddr = "192.0.2.1:5555"
	if d := g.EvaluateHTTP(r); !d.Allowed || d.Reason != ReasonNetwork {
		t.Errorf("заголовок от прокси должен учитываться, получено %+v", d)
	}
}

func TestEvaluateHTTP_Cookie(t *testing.T) {
	now := time.Now()
	g := newTestGate(t, now)
	signer := NewSessionSigner(testSecret, maxAge, true)

	r := httptest.NewRequest(http.MethodGet, "/files/x.pdf", nil)
	r.RemoteAddr = "192.0.2.1:5555"
	r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: signer.Sign(now)})

	if d := g.EvaluateHTTP(r); !d.Allowed || d.Reason != ReasonSession {
		t.Errorf("ожидался доступ по сессии, получено %+v", d)
	}
}

func TestSetCookie(t *testing.T) {
	signer := NewSessionSigner(testSecret, maxAge, true)
	now := time.Now()
	w := httptest.NewRecorder()
	signer.SetCookie(w, now)

	cookies := w.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("ожидался 1 cookie, получено %d", len(cookies))
	}
	c := cookies[0]
	if c.Name != "login" || c.MaxAge != 2592000 || !c.Secure || c.SameSite != http.SameSiteNoneMode || c.Path != "/" {
		t.Errorf("неожиданные атрибуты cookie: %+v", c)
	}
	issued, err := signer.Verify(c.Value)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if issued.UnixMilli() != now.UnixMilli() {
		t.Errorf("issued = %v, ожидалось %v", issued, now)
	}
}

func TestLoginRedirect(t *testing.T) {
	tests := []struct {
		path  string
		query url.Values
		want  string
	}{
		{"/", nil, "/login"},
		{"", url.Values{}, "/login"},
		{"/files/a.pdf", nil, "/login?to=%2Ffiles%2Fa.pdf"},
		{"/files/a.pdf", url.Values{"filename": {"Книга.pdf"}}, "/login?to=" + url.QueryEscape("/files/a.pdf?filename="+url.QueryEscape("Книга.pdf"))},
		{"/", url.Values{"x": {"1"}}, "/login?to=%2F%3Fx%3D1"},
	}
	for _, tt := range tests {
		if got := LoginRedirect(tt.path, tt.query); got != tt.want {
			t.Errorf("LoginRedirect(%q, %v) = %q, ожидался %q", tt.path, tt.query, got, tt.want)
		}
	}
}
