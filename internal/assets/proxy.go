package assets

import (
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"resty.dev/v3"
)

var errBlockedHost = errors.New("target host not allowed")

// Proxy serves GET /api/proxy-image?url=<absolute URL>: it fetches a remote image server-side and
// returns the bytes with permissive CORS headers so browsers can read the pixels.
type Proxy struct {
	client   *resty.Client
	maxBytes int64
	// AllowPrivate permits targets that resolve to loopback, private or link-local addresses.
	AllowPrivate bool
	log          *zap.Logger
}

// NewProxy builds the proxy handler.
func NewProxy(timeout time.Duration, maxBytes int64, log *zap.Logger) *Proxy {
	if maxBytes <= 0 {
		maxBytes = 8 << 20
	}
	if log == nil {
		log = zap.NewNop()
	}
	p := &Proxy{maxBytes: maxBytes, log: log}

	// Every connection, redirects included, is checked against the address it actually dials.
	dialer := &net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second, Control: p.dialControl}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	transport.DialContext = dialer.DialContext

	p.client = resty.New().
		SetTransport(transport).
		SetTimeout(timeout).
		SetRetryCount(1).
		SetHeader("Accept", "image/*")
	return p
}

func (p *Proxy) dialControl(_, address string, _ syscall.RawConn) error {
	if p.AllowPrivate {
		return nil
	}
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return errBlockedHost
	}
	ip := net.ParseIP(host)
	if ip == nil || blockedIP(ip) {
		return errBlockedHost
	}
	return nil
}

// Handle is the gin handler.
func (p *Proxy) Handle(c *gin.Context) {
	c.Header("Access-Control-Allow-Origin", "*")

	raw := c.Query("url")
	target, err := url.Parse(raw)
	if raw == "" || err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url must be an absolute http(s) URL"})
		return
	}
	if !p.AllowPrivate && privateHost(target.Hostname()) {
		c.JSON(http.StatusForbidden, gin.H{"error": errBlockedHost.Error()})
		return
	}

	resp, err := p.client.R().
		SetContext(c.Request.Context()).
		SetDoNotParseResponse(true).
		Get(target.String())
	if errors.Is(err, errBlockedHost) {
		p.log.Warn("proxy target resolved to a blocked address", zap.String("url", raw))
		c.JSON(http.StatusForbidden, gin.H{"error": errBlockedHost.Error()})
		return
	}
	if err != nil {
		p.log.Warn("proxy fetch failed", zap.String("url", raw), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "image fetch failed"})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode() != http.StatusOK {
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream returned " + resp.Status()})
		return
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, p.maxBytes+1))
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "image read failed"})
		return
	}
	if int64(len(body)) > p.maxBytes {
		c.JSON(http.StatusBadGateway, gin.H{"error": "image too large"})
		return
	}

	contentType := resp.Header().Get("Content-Type")
	sniffed := http.DetectContentType(body)
	if strings.HasPrefix(contentType, "image/svg") {
		sniffed = contentType
	}
	if !strings.HasPrefix(sniffed, "image/") {
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream did not return an image"})
		return
	}

	c.Header("Cache-Control", "public, max-age=86400")
	c.Data(http.StatusOK, sniffed, body)
}

func privateHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return blockedIP(ip)
}

func blockedIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsInterfaceLocalMulticast() || ip.IsMulticast() || ip.IsUnspecified()
}
