package state

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/beatline/syncserver/wire"
)

// BanKind distinguishes what a BanEntry's Target identifies.
type BanKind int

const (
	// BanKindUserID targets an identity-service user id.
	BanKindUserID BanKind = iota
	// BanKindIP targets a remote address.
	BanKindIP
)

func (k BanKind) String() string {
	switch k {
	case BanKindUserID:
		return "by-user-id"
	case BanKindIP:
		return "by-ip"
	default:
		return "unknown"
	}
}

// ParseBanKind parses the wire/JSON form of a BanKind.
func ParseBanKind(s string) (BanKind, error) {
	switch s {
	case "by-user-id":
		return BanKindUserID, nil
	case "by-ip":
		return BanKindIP, nil
	default:
		return 0, fmt.Errorf("unknown ban kind %q", s)
	}
}

// BanEntry is one ban record. Target is a decimal user id when Kind is
// BanKindUserID, or a bare address when Kind is BanKindIP. A zero
// ExpiresAt means permanent.
type BanEntry struct {
	Kind      BanKind
	Target    string
	Reason    string
	BannedAt  time.Time
	ExpiresAt time.Time
}

// BanRegistry tracks banned user ids and addresses with lazy TTL
// expiry and whitelists that bypass bans entirely, backed by go-cache
// so expiry is handled without a sweeping goroutine of our own.
type BanRegistry struct {
	bans  *cache.Cache
	mutex sync.RWMutex

	idWhitelist map[uint32]struct{}
	ipWhitelist map[string]struct{}

	onBan func(entry BanEntry)
}

// NewBanRegistry creates an empty ban registry. onBan, if non-nil, is
// invoked synchronously from Add after the ban is recorded, giving the
// caller a chance to terminate any live session matching the entry.
func NewBanRegistry(onBan func(entry BanEntry)) *BanRegistry {
	return &BanRegistry{
		bans:        cache.New(cache.NoExpiration, 10*time.Minute),
		idWhitelist: make(map[uint32]struct{}),
		ipWhitelist: make(map[string]struct{}),
		onBan:       onBan,
	}
}

// Add records entry, unless its target is whitelisted. entry.BannedAt
// defaults to now if zero; a zero entry.ExpiresAt bans permanently.
func (b *BanRegistry) Add(entry BanEntry) error {
	if b.whitelisted(entry.Kind, entry.Target) {
		return wire.NewProtocolError(wire.CodeInternal, "cannot ban a whitelisted target")
	}

	if entry.BannedAt.IsZero() {
		entry.BannedAt = time.Now()
	}
	ttl := time.Duration(cache.NoExpiration)
	if !entry.ExpiresAt.IsZero() {
		if ttl = time.Until(entry.ExpiresAt); ttl <= 0 {
			ttl = time.Nanosecond
		}
	}
	b.bans.Set(banKey(entry.Kind, entry.Target), entry, ttl)

	if b.onBan != nil {
		b.onBan(entry)
	}
	return nil
}

// Remove lifts a ban early.
func (b *BanRegistry) Remove(kind BanKind, target string) {
	b.bans.Delete(banKey(kind, target))
}

// Check reports whether userID or ip is currently banned, honoring
// whitelists. ip may carry a port (as returned by net.Conn.RemoteAddr);
// it is normalized to a bare host before matching. The user-id ban is
// checked first so its reason takes precedence when both apply.
func (b *BanRegistry) Check(userID uint32, ip string) (BanEntry, bool) {
	if entry, ok := b.lookup(BanKindUserID, strconv.FormatUint(uint64(userID), 10)); ok {
		return entry, true
	}
	if host := ipHost(ip); host != "" {
		if entry, ok := b.lookup(BanKindIP, host); ok {
			return entry, true
		}
	}
	return BanEntry{}, false
}

func (b *BanRegistry) lookup(kind BanKind, target string) (BanEntry, bool) {
	if target == "" || b.whitelisted(kind, target) {
		return BanEntry{}, false
	}
	v, found := b.bans.Get(banKey(kind, target))
	if !found {
		return BanEntry{}, false
	}
	return v.(BanEntry), true
}

// List returns every currently-tracked ban entry.
func (b *BanRegistry) List() []BanEntry {
	items := b.bans.Items()
	out := make([]BanEntry, 0, len(items))
	for _, item := range items {
		out = append(out, item.Object.(BanEntry))
	}
	return out
}

// SetWhitelists replaces the whitelists of user ids and addresses
// exempt from bans.
func (b *BanRegistry) SetWhitelists(ids []uint32, ips []string) {
	idSet := make(map[uint32]struct{}, len(ids))
	for _, id := range ids {
		idSet[id] = struct{}{}
	}
	ipSet := make(map[string]struct{}, len(ips))
	for _, ip := range ips {
		ipSet[ip] = struct{}{}
	}
	b.mutex.Lock()
	b.idWhitelist = idSet
	b.ipWhitelist = ipSet
	b.mutex.Unlock()
}

// Whitelists returns the current id and ip whitelists as slices.
func (b *BanRegistry) Whitelists() ([]uint32, []string) {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	ids := make([]uint32, 0, len(b.idWhitelist))
	for id := range b.idWhitelist {
		ids = append(ids, id)
	}
	ips := make([]string, 0, len(b.ipWhitelist))
	for ip := range b.ipWhitelist {
		ips = append(ips, ip)
	}
	return ids, ips
}

func (b *BanRegistry) whitelisted(kind BanKind, target string) bool {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	switch kind {
	case BanKindUserID:
		id, err := strconv.ParseUint(target, 10, 32)
		if err != nil {
			return false
		}
		_, ok := b.idWhitelist[uint32(id)]
		return ok
	case BanKindIP:
		_, ok := b.ipWhitelist[target]
		return ok
	default:
		return false
	}
}

func banKey(kind BanKind, target string) string {
	return kind.String() + ":" + target
}

// ipHost strips a port from addr, if present, so a session's
// RemoteAddr (host:port) matches a bare address stored as a ban
// target or whitelist entry.
func ipHost(addr string) string {
	if addr == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
