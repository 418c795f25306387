// Пакет gate: предикат доступа к закрытым файлам.
//
// Порядок проверок, побеждает первое совпадение:
//  1. IP клиента из разрешённой сети;
//  2. заголовок X-Byrdocs-Token равен общему секрету;
//  3. подписанный session cookie моложе максимального возраста.
//
// Gate не имеет побочных эффектов и не блокируется.
package gate

import (
	"crypto/subtle"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// TokenHeader: заголовок с общим bearer-секретом.
const TokenHeader = "X-Byrdocs-Token"

// Reason: основание решения.
type Reason string

const (
	ReasonNetwork Reason = "network"
	ReasonToken   Reason = "token"
	ReasonSession Reason = "session"
	ReasonDenied  Reason = "denied"
)

// Request: входные данные проверки.
type Request struct {
	// IP: адрес клиента (nil, если не определён)
	IP net.IP
	// Token: значение X-Byrdocs-Token
	Token string
	// Session: сырое значение session cookie
	Session string
}

// Decision: результат проверки.
type Decision struct {
	Allowed bool
	Reason  Reason
}

// Gate: проверка доступа.
type Gate struct {
	networks    []*net.IPNet
	token       string
	sessions    *SessionSigner
	proxyHeader string
	proxies     []*net.IPNet
	now         func() time.Time
}

// New создаёт Gate.
// proxyHeader: заголовок с IP клиента от reverse proxy; пусто: RemoteAddr.
// Заголовок учитывается, только если RemoteAddr входит в proxies.
func New(networks []*net.IPNet, token string, sessions *SessionSigner, proxyHeader string, proxies []*net.IPNet) *Gate {
	return &Gate{
		networks:    networks,
		token:       token,
		sessions:    sessions,
		proxyHeader: proxyHeader,
		proxies:     proxies,
		now:         time.Now,
	}
}

// Evaluate применяет правила к req.
func (g *Gate) Evaluate(req Request) Decision {
	if g.InAllowedNetwork(req.IP) {
		return Decision{Allowed: true, Reason: ReasonNetwork}
	}
	if req.Token != "" && subtle.ConstantTimeCompare([]byte(req.Token), []byte(g.token)) == 1 {
		return Decision{Allowed: true, Reason: ReasonToken}
	}
	if req.Session != "" && g.sessionValid(req.Session) {
		return Decision{Allowed: true, Reason: ReasonSession}
	}
	return Decision{Allowed: false, Reason: ReasonDenied}
}

// EvaluateHTTP собирает Request из HTTP-запроса и применяет правила.
func (g *Gate) EvaluateHTTP(r *http.Request) Decision {
	return g.Evaluate(g.RequestFromHTTP(r))
}

// RequestFromHTTP извлекает входные данные проверки из HTTP-запроса.
func (g *Gate) RequestFromHTTP(r *http.Request) Request {
	return Request{
		IP:      g.ClientIP(r),
		Token:   r.Header.Get(TokenHeader),
		Session: FromRequest(r),
	}
}

// InAllowedNetwork проверяет принадлежность ip разрешённым сетям.
func (g *Gate) InAllowedNetwork(ip net.IP) bool {
	return containsIP(g.networks, ip)
}

// ClientIP возвращает IP клиента. Заголовок прокси (первый адрес списка)
// учитывается только для запросов от доверенного прокси, иначе RemoteAddr.
func (g *Gate) ClientIP(r *http.Request) net.IP {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	peer := net.ParseIP(host)

	if g.proxyHeader != "" && containsIP(g.proxies, peer) {
		if v := r.Header.Get(g.proxyHeader); v != "" {
			first, _, _ := strings.Cut(v, ",")
			if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
				return ip
			}
		}
	}
	return peer
}

func containsIP(networks []*net.IPNet, ip net.IP) bool {
	if ip == nil {
		return false
	}
	for _, n := range networks {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// sessionValid: подпись верна и now − issued < maxAge.
func (g *Gate) sessionValid(cookie string) bool {
	issued, err := g.sessions.Verify(cookie)
	if err != nil {
		return false
	}
	return g.now().Sub(issued) < g.sessions.MaxAge()
}

// LoginRedirect возвращает адрес страницы входа с продолжением to=<path[?query]>.
// Для корня без параметров: просто /login.
func LoginRedirect(path string, query url.Values) string {
	if (path == "" || path == "/") && len(query) == 0 {
		return "/login"
	}
	to := path
	if len(query) > 0 {
		to += "?" + query.Encode()
	}
	return "/login?" + url.Values{"to": {to}}.Encode()
}
