package kube

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	utilnet "k8s.io/apimachinery/pkg/util/net"

	"github.com/chiwei-platform/paas-workloads/internal/logging"
)

type endpoint struct {
	base     *url.URL
	rt       http.RoundTripper
	failedAt time.Time
}

// failoverTransport 把请求发往首个健康的 apiserver，连接类错误时标记失败并轮换。
// 故障窗口内全部失败则返回 NoEndpointAvailableError，不会无限重试。
type failoverTransport struct {
	cluster   string
	window    time.Duration
	now       func() time.Time
	mu        sync.Mutex
	endpoints []*endpoint
}

func newFailoverTransport(cluster string, window time.Duration, endpoints []*endpoint) *failoverTransport {
	return &failoverTransport{cluster: cluster, window: window, now: time.Now, endpoints: endpoints}
}

func (t *failoverTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var lastErr error
	replayable := req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
	for attempt := 0; ; attempt++ {
		ep, ok := t.pick()
		if !ok {
			return nil, &NoEndpointAvailableError{Cluster: t.cluster, LastErr: lastErr}
		}

		r := req.Clone(req.Context())
		r.URL.Scheme = ep.base.Scheme
		r.URL.Host = ep.base.Host
		r.Host = ""
		if id := logging.RequestID(req.Context()); id != "" {
			r.Header.Set(logging.HeaderRequestID, id)
		}
		if attempt > 0 && req.Body != nil && req.Body != http.NoBody {
			if !replayable {
				return nil, lastErr
			}
			body, err := req.GetBody()
			if err != nil {
				return nil, err
			}
			r.Body = body
		}

		resp, err := ep.rt.RoundTrip(r)
		if err == nil {
			if isTransientStatus(resp.StatusCode) && replayable && t.hasAlternative(ep) {
				resp.Body.Close()
				t.markFailed(ep)
				lastErr = errors.New(resp.Status)
				continue
			}
			t.markHealthy(ep)
			return resp, nil
		}
		if req.Context().Err() != nil || !isTransientError(err) {
			return nil, err
		}
		slog.WarnContext(req.Context(), "apiserver endpoint failed, rotating",
			"cluster", t.cluster, "endpoint", ep.base.Host, "error", err)
		t.markFailed(ep)
		lastErr = err
	}
}

// pick 返回第一个不在故障窗口内的 endpoint。
func (t *failoverTransport) pick() (*endpoint, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	for _, ep := range t.endpoints {
		if ep.failedAt.IsZero() || now.Sub(ep.failedAt) > t.window {
			return ep, true
		}
	}
	return nil, false
}

func (t *failoverTransport) hasAlternative(cur *endpoint) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	for _, ep := range t.endpoints {
		if ep != cur && (ep.failedAt.IsZero() || now.Sub(ep.failedAt) > t.window) {
			return true
		}
	}
	return false
}

func (t *failoverTransport) markFailed(ep *endpoint) {
	t.mu.Lock()
	ep.failedAt = t.now()
	t.mu.Unlock()
}

func (t *failoverTransport) markHealthy(ep *endpoint) {
	t.mu.Lock()
	ep.failedAt = time.Time{}
	t.mu.Unlock()
}

func isTransientStatus(code int) bool {
	return code == http.StatusBadGateway || code == http.StatusServiceUnavailable || code == http.StatusGatewayTimeout
}

func isTransientError(err error) bool {
	if utilnet.IsConnectionReset(err) || utilnet.IsConnectionRefused(err) || utilnet.IsProbableEOF(err) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}
