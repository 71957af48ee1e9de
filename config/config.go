package config

import (
	"bufio"
	"io"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/hdt3213/streamis/lib/logger"
)

// SourceRedis and SourceTypePostgres are the accepted values of the
// `source` property
const (
	SourceRedis    = "redis"
	SourcePostgres = "postgres"
)

// Properties holds global config properties
var Properties *ServerProperties

// ServerProperties defines global config properties
type ServerProperties struct {
	Bind      string `cfg:"bind"`
	Port      int    `cfg:"port"`
	Source    string `cfg:"source"`
	QueueSize int    `cfg:"queue-size"`
	KeepAlive int    `cfg:"keepalive"` // seconds between SSE keepalive comments
	Debug     bool   `cfg:"debug"`

	RedisHost string `cfg:"redis-host"`
	RedisPort int    `cfg:"redis-port"`

	PostgresURL string `cfg:"postgres-url"`
}

func init() {
	// default config
	Properties = defaultProperties()
}

func defaultProperties() *ServerProperties {
	return &ServerProperties{
		Bind:      "0.0.0.0",
		Port:      8989,
		Source:    SourceRedis,
		QueueSize: 64,
		KeepAlive: 15,
		RedisHost: "localhost",
		RedisPort: 6379,
	}
}

// RedisAddr joins host and port of the redis backend
func (p *ServerProperties) RedisAddr() string {
	return p.RedisHost + ":" + strconv.Itoa(p.RedisPort)
}

func parse(src io.Reader) *ServerProperties {
	config := defaultProperties()

	// read config file
	rawMap := make(map[string]string)
	scanner := bufio.NewScanner(src)
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) > 0 && strings.HasPrefix(strings.TrimLeft(line, " "), "#") {
			continue
		}
		pivot := strings.IndexAny(line, " ")
		if pivot > 0 && pivot < len(line)-1 { // separator found
			key := line[0:pivot]
			value := strings.Trim(line[pivot+1:], " ")
			rawMap[strings.ToLower(key)] = value
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Fatal(err)
	}

	// fill tagged fields
	t := reflect.TypeOf(config)
	v := reflect.ValueOf(config)
	n := t.Elem().NumField()
	for i := 0; i < n; i++ {
		field := t.Elem().Field(i)
		fieldVal := v.Elem().Field(i)
		key, ok := field.Tag.Lookup("cfg")
		if !ok {
			key = field.Name
		}
		value, ok := rawMap[strings.ToLower(key)]
		if !ok {
			continue
		}
		switch field.Type.Kind() {
		case reflect.String:
			fieldVal.SetString(value)
		case reflect.Int:
			intValue, err := strconv.ParseInt(value, 10, 64)
			if err == nil {
				fieldVal.SetInt(intValue)
			}
		case reflect.Bool:
			fieldVal.SetBool(toBool(value))
		}
	}
	return config
}

// Setup reads the config file and stores properties into Properties
func Setup(configFilename string) {
	file, err := os.Open(configFilename)
	if err != nil {
		panic(err)
	}
	defer file.Close()
	Properties = parse(file)
}

func toBool(s string) bool {
	switch strings.ToLower(s) {
	case "true", "yes", "t", "y", "1":
		return true
	default:
		return false
	}
}
