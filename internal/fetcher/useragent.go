package fetcher

import "sync"

// defaultUserAgent is used when no pool is configured.
const defaultUserAgent = "docharvester/1.0 (+https://github.com/canary-data/docharvester)"

// agentPool rotates user-agents round-robin, never handing the same host the
// value it got on its previous request.
type agentPool struct {
	mu     sync.Mutex
	agents []string
	next   int
	last   map[string]string
}

func newAgentPool(agents []string) *agentPool {
	if len(agents) == 0 {
		agents = []string{defaultUserAgent}
	}
	return &agentPool{
		agents: agents,
		last:   make(map[string]string),
	}
}

// Next returns the user-agent for the next request to host.
func (p *agentPool) Next(host string) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	ua := p.agents[p.next%len(p.agents)]
	p.next++
	if len(p.agents) > 1 && ua == p.last[host] {
		ua = p.agents[p.next%len(p.agents)]
		p.next++
	}
	p.last[host] = ua
	return ua
}
