package tunnel

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/luoshuqi/http-forward/internal/obs"
)

const domainKeyPrefix = "hf:domain:"

// Presence mirrors domain ownership into Redis so a fleet of servers (or an
// operator) can see which domains are up anywhere. Control connections are
// only valid on the instance that accepted them, so Redis carries presence,
// not sessions: key hf:domain:<name> -> instance id, refreshed with a TTL.
type Presence struct {
	client     *redis.Client
	instanceID string
	keyTTL     time.Duration
	opTimeout  time.Duration

	domainsFn func() []string
}

// NewPresence connects to Redis and verifies the connection.
func NewPresence(addr, password string, db int, instanceID string) (*Presence, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return &Presence{
		client:     client,
		instanceID: instanceID,
		keyTTL:     90 * time.Second,
		opTimeout:  3 * time.Second,
	}, nil
}

func (p *Presence) Close() error { return p.client.Close() }

// SetDomainsFunc installs the callback the heartbeat uses to learn which
// domains are currently registered locally.
func (p *Presence) SetDomainsFunc(fn func() []string) { p.domainsFn = fn }

// DomainsUp advertises claims. Errors are logged, not propagated; the mirror
// is best effort and never gates routing.
func (p *Presence) DomainsUp(domains []string) {
	ctx, cancel := context.WithTimeout(context.Background(), p.opTimeout)
	defer cancel()
	for _, d := range domains {
		if err := p.client.Set(ctx, domainKeyPrefix+d, p.instanceID, p.keyTTL).Err(); err != nil {
			obs.Error("presence.up", obs.Fields{"err": err.Error(), "domain": d})
			return
		}
	}
}

// DomainsDown withdraws claims still held by this instance. A claim taken
// over by another instance is left alone.
func (p *Presence) DomainsDown(domains []string) {
	ctx, cancel := context.WithTimeout(context.Background(), p.opTimeout)
	defer cancel()
	for _, d := range domains {
		key := domainKeyPrefix + d
		owner, err := p.client.Get(ctx, key).Result()
		if err != nil {
			if err != redis.Nil {
				obs.Error("presence.down", obs.Fields{"err": err.Error(), "domain": d})
			}
			continue
		}
		if owner == p.instanceID {
			if err := p.client.Del(ctx, key).Err(); err != nil {
				obs.Error("presence.down", obs.Fields{"err": err.Error(), "domain": d})
			}
		}
	}
}

// Run refreshes this instance's claims until ctx is done, then withdraws
// them.
func (p *Presence) Run(ctx context.Context) {
	t := time.NewTicker(p.keyTTL / 3)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			if p.domainsFn != nil {
				p.DomainsDown(p.domainsFn())
			}
			return
		case <-t.C:
			if p.domainsFn != nil {
				p.DomainsUp(p.domainsFn())
			}
		}
	}
}

// ClusterDomains lists domains advertised by any instance.
func (p *Presence) ClusterDomains(ctx context.Context) ([]string, error) {
	var out []string
	iter := p.client.Scan(ctx, 0, domainKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		out = append(out, strings.TrimPrefix(iter.Val(), domainKeyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}
