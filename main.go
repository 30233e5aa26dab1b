package main

import (
	"context"
	"crypto/tls"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"ditto-api/api"
	"ditto-api/ditto"
	"ditto-api/storage"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}

	store, err := openStore()
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.Warnf("tracer shutdown: %v", err)
		}
	}()

	e := echo.New()
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
	}))

	logger := log.New()
	api.Register(e, ditto.New(store, logger), store, logger)

	listenAddr := ":8080"
	if val, ok := os.LookupEnv("FUNCTIONS_CUSTOMHANDLER_PORT"); ok {
		listenAddr = ":" + val
	}

	e.Logger.Fatal(e.Start(listenAddr))
}

// openStore builds the store stack named by DITTO_BACKEND: "local" is a
// single-file store, "remote" is Azure Tables fronted by a redis snapshot
// cache with pub/sub change signals.
func openStore() (storage.Store, error) {
	backend := os.Getenv("DITTO_BACKEND")
	if backend == "" {
		backend = "local"
	}
	switch backend {
	case "local":
		path := os.Getenv("LOCAL_STORE_PATH")
		if path == "" {
			path = "ditto.json"
		}
		return storage.NewLocal(path)
	case "remote":
		return openRemote()
	default:
		log.Fatalf("unknown DITTO_BACKEND %q", backend)
		return nil, nil
	}
}

func openRemote() (storage.Store, error) {
	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	tableName := os.Getenv("TODOS_TABLE")
	owner := os.Getenv("OWNER_ID")
	if connStr == "" || tableName == "" || owner == "" {
		log.Fatal("missing storage config")
	}

	redisConn := os.Getenv("REDIS_CONNECTION_STRING")
	if redisConn == "" {
		log.Fatal("missing redis config")
	}
	redisOpts, err := redis.ParseURL(redisConn)
	if err != nil {
		parts := strings.Split(redisConn, ",")
		redisOpts = &redis.Options{Addr: parts[0]}
		for _, p := range parts[1:] {
			kv := strings.SplitN(p, "=", 2)
			if len(kv) != 2 {
				continue
			}
			switch strings.ToLower(kv[0]) {
			case "password":
				redisOpts.Password = kv[1]
			case "ssl":
				if strings.ToLower(kv[1]) == "true" {
					redisOpts.TLSConfig = &tls.Config{}
				}
			}
		}
	}
	rc := redis.NewClient(redisOpts)

	remote, err := storage.NewRemote(context.Background(), connStr, tableName, owner, rc, "ditto:"+owner)
	if err != nil {
		return nil, err
	}

	ttl := time.Minute
	if v := os.Getenv("CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			log.Fatalf("invalid CACHE_TTL: %v", err)
		}
		ttl = d
	}
	return storage.NewCache(remote, rc, owner, ttl), nil
}
