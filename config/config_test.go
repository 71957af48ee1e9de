package config

import (
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	src := `
# transport
bind 127.0.0.1
port 9090

source postgres
postgres-url postgres://streamis@db:5432/streamis
queue-size 128
debug yes
`
	properties := parse(strings.NewReader(src))
	if properties.Bind != "127.0.0.1" {
		t.Errorf("bind: got %q", properties.Bind)
	}
	if properties.Port != 9090 {
		t.Errorf("port: got %d", properties.Port)
	}
	if properties.Source != SourcePostgres {
		t.Errorf("source: got %q", properties.Source)
	}
	if properties.PostgresURL != "postgres://streamis@db:5432/streamis" {
		t.Errorf("postgres-url: got %q", properties.PostgresURL)
	}
	if properties.QueueSize != 128 {
		t.Errorf("queue-size: got %d", properties.QueueSize)
	}
	if !properties.Debug {
		t.Error("debug: got false")
	}
	// untouched keys keep their defaults
	if properties.RedisHost != "localhost" || properties.RedisPort != 6379 {
		t.Errorf("redis defaults lost: %s:%d", properties.RedisHost, properties.RedisPort)
	}
	if properties.KeepAlive != 15 {
		t.Errorf("keepalive default lost: %d", properties.KeepAlive)
	}
}

func TestParseIgnoresGarbage(t *testing.T) {
	src := `
port not-a-number
   # indented comment
lonelykey
`
	properties := parse(strings.NewReader(src))
	if properties.Port != 8989 {
		t.Errorf("port: got %d, want default", properties.Port)
	}
}

func TestRedisAddr(t *testing.T) {
	p := defaultProperties()
	if p.RedisAddr() != "localhost:6379" {
		t.Errorf("got %q", p.RedisAddr())
	}
}
