package objstore

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Options 是驱动构造所需的全部参数，由 config 包在启动时生成一次。
type Options struct {
	Bucket        string
	Root          string
	Endpoint      string
	Region        string
	AccessKey     string
	SecretKey     string
	UseSSL        bool
	HashAlgorithm string
	ChunkSize     int
	Timeout       time.Duration
}

// Driver 记录一个存储后端的静态信息与构造函数。
type Driver struct {
	Key         string
	Description string
	// RequiredHash 非空时表示该后端报告的内容哈希固定为此算法（例如 S3 的 md5 ETag）。
	RequiredHash string
	Open         func(Options) (Gateway, error)
}

var globalRegistry = newRegistry()

type registry struct {
	mu      sync.RWMutex
	drivers map[string]Driver
}

func newRegistry() *registry {
	return &registry{drivers: make(map[string]Driver)}
}

// Register 将驱动加入全局注册表，重复键会返回错误。
func Register(d Driver) error {
	return globalRegistry.register(d)
}

// MustRegister 在注册失败时 panic，适合驱动 init() 中调用。
func MustRegister(d Driver) {
	if err := Register(d); err != nil {
		panic(err)
	}
}

// Resolve 返回指定键的驱动。
func Resolve(key string) (Driver, bool) {
	return globalRegistry.resolve(key)
}

// Keys 返回所有已注册驱动的键，按字母排序。
func Keys() []string {
	return globalRegistry.keys()
}

// Open 根据键构造 Gateway。
func Open(key string, opts Options) (Gateway, error) {
	d, ok := Resolve(key)
	if !ok {
		return nil, fmt.Errorf("storage backend %q is not registered (available: %s)", key, strings.Join(Keys(), "|"))
	}
	return d.Open(opts)
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func (r *registry) register(d Driver) error {
	key := normalizeKey(d.Key)
	if key == "" {
		return fmt.Errorf("driver key is required")
	}
	if d.Open == nil {
		return fmt.Errorf("driver %s has no constructor", key)
	}
	d.Key = key

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.drivers[key]; exists {
		return fmt.Errorf("driver %s already registered", key)
	}
	r.drivers[key] = d
	return nil
}

func (r *registry) resolve(key string) (Driver, bool) {
	normalized := normalizeKey(key)
	if normalized == "" {
		return Driver{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.drivers[normalized]
	return d, ok
}

func (r *registry) keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.drivers))
	for key := range r.drivers {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
