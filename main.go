package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/hdt3213/streamis/config"
	"github.com/hdt3213/streamis/interface/source"
	"github.com/hdt3213/streamis/lib/logger"
	"github.com/hdt3213/streamis/postgres"
	"github.com/hdt3213/streamis/pubsub"
	rclient "github.com/hdt3213/streamis/redis/client"
	"github.com/hdt3213/streamis/server"
)

var banner = `
   _____ __                            _
  / ___// /_________  ____ _____ ___  (_)____
  \__ \/ __/ ___/ _ \/ __ ` + "`" + `/ __ ` + "`" + `__ \/ / ___/
 ___/ / /_/ /  /  __/ /_/ / / / / / / (__  )
/____/\__/_/   \___/\__,_/_/ /_/ /_/_/____/
`

const defaultConfPath = "streamis.conf"

func fileExists(filename string) bool {
	info, err := os.Stat(filename)
	return err == nil && !info.IsDir()
}

func main() {
	print(banner)
	logger.Setup(&logger.Settings{
		Path:       "logs",
		Name:       "streamis",
		Ext:        "log",
		TimeFormat: "2006-01-02",
	})
	configFilename := os.Getenv("CONFIG")
	if configFilename == "" {
		if fileExists(defaultConfPath) {
			config.Setup(defaultConfPath)
		}
	} else {
		config.Setup(configFilename)
	}
	if config.Properties.Debug {
		logger.SetLevel(logger.DEBUG)
	}

	src, publisher, err := makeSource()
	if err != nil {
		logger.Fatal(err)
	}
	hub := pubsub.MakeHub(src, config.Properties.QueueSize)
	srv := server.MakeServer(hub, publisher,
		time.Duration(config.Properties.KeepAlive)*time.Second)

	addr := fmt.Sprintf("%s:%d", config.Properties.Bind, config.Properties.Port)
	if err := srv.ListenAndServeWithSignal(addr); err != nil {
		logger.Fatal(err)
	}
}

func makeSource() (source.Source, source.Publisher, error) {
	switch config.Properties.Source {
	case config.SourceRedis:
		addr := config.Properties.RedisAddr()
		logger.Info("using redis backend at " + addr)
		publisher, err := rclient.MakePublisher(addr)
		if err != nil {
			return nil, nil, err
		}
		return rclient.MakeSource(addr), publisher, nil
	case config.SourcePostgres:
		logger.Info("using postgres backend")
		src, err := postgres.MakeSource(context.Background(), config.Properties.PostgresURL)
		if err != nil {
			return nil, nil, err
		}
		return src, src, nil
	default:
		return nil, nil, fmt.Errorf("unknown source %q", config.Properties.Source)
	}
}
