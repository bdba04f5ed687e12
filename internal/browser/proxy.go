package browser

import "sync"

// ProxyPool hands out proxies round-robin. It is shared by all sessions.
type ProxyPool struct {
	mu      sync.Mutex
	proxies []string
	next    int
}

// NewProxyPool builds a pool. An empty pool yields direct connections.
func NewProxyPool(proxies []string) *ProxyPool {
	return &ProxyPool{proxies: append([]string(nil), proxies...)}
}

// Len returns the number of proxies in the pool.
func (p *ProxyPool) Len() int {
	return len(p.proxies)
}

// Next returns the next proxy for which skip is false. When every proxy is
// skipped the next one in rotation is returned anyway.
func (p *ProxyPool) Next(skip func(proxy string) bool) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.proxies) == 0 {
		return ""
	}
	for i := 0; i < len(p.proxies); i++ {
		candidate := p.proxies[(p.next+i)%len(p.proxies)]
		if skip == nil || !skip(candidate) {
			p.next = (p.next + i + 1) % len(p.proxies)
			return candidate
		}
	}
	candidate := p.proxies[p.next]
	p.next = (p.next + 1) % len(p.proxies)
	return candidate
}
