package firewall

import (
	"log"
	"sort"
	"sync"

	"secure-dialer/pkg/utils"
)

// Firewall handles IP blacklisting and sign-in brute-force protection
type Firewall struct {
	mu          sync.RWMutex
	blacklisted map[string]bool
	failedAuths map[string]int
	maxFailures int
}

func NewFirewall(maxFailures int) *Firewall {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	return &Firewall{
		blacklisted: make(map[string]bool),
		failedAuths: make(map[string]int),
		maxFailures: maxFailures,
	}
}

// IsAllowed reports whether ip may attempt a sign-in. Rejections are counted.
func (f *Firewall) IsAllowed(ip string) bool {
	f.mu.RLock()
	blocked := f.blacklisted[ip]
	f.mu.RUnlock()
	if blocked {
		utils.FirewallBlocks.Inc()
	}
	return !blocked
}

func (f *Firewall) RecordFailedAuth(ip string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.failedAuths[ip]++
	if f.failedAuths[ip] >= f.maxFailures && !f.blacklisted[ip] {
		f.blacklisted[ip] = true
		log.Printf("[Firewall] IP %s blocked after %d failed sign-ins", ip, f.failedAuths[ip])
	}
}

// RecordSuccess clears the failure count of an IP that is not blocked.
func (f *Firewall) RecordSuccess(ip string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.failedAuths, ip)
}

// Unblock lifts a block and its failure count.
func (f *Firewall) Unblock(ip string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.blacklisted[ip]
	delete(f.blacklisted, ip)
	delete(f.failedAuths, ip)
	if ok {
		log.Printf("[Firewall] IP %s unblocked", ip)
	}
	return ok
}

func (f *Firewall) GetBlacklist() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	list := make([]string, 0, len(f.blacklisted))
	for ip := range f.blacklisted {
		list = append(list, ip)
	}
	sort.Strings(list)
	return list
}
