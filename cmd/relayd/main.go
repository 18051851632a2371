// relayd is the development relay server: a websocket endpoint with bearer
// token auth and per-user topic fan-out, plus Prometheus metrics. In
// production the same hub sits behind the marketplace's auth service; here
// tokens come from a static TOML file, or, with no file, any "tok-<user>"
// token is accepted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/craftlance/relay/internal/broker"
)

func main() {
	listen := flag.String("listen", ":8180", "listen address")
	tokensPath := flag.String("tokens", "", "TOML file mapping tokens to user ids")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	auth, err := buildAuthenticator(*tokensPath, logger)
	if err != nil {
		logger.Fatal("load tokens", zap.Error(err))
	}

	hub := broker.NewHub(auth, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeWS)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         *listen,
		Handler:      handlers.CombinedLoggingHandler(os.Stdout, mux),
		ReadTimeout:  30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("relayd listening", zap.String("addr", *listen))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("serve", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
}

type tokensFile struct {
	Tokens map[string]string `toml:"tokens"`
}

func buildAuthenticator(path string, logger *zap.Logger) (broker.Authenticator, error) {
	if path == "" {
		logger.Warn("no token file configured, accepting tok-<user> tokens (dev mode)")
		return func(token string) (string, error) {
			if user, ok := strings.CutPrefix(token, "tok-"); ok && user != "" {
				return user, nil
			}
			return "", broker.ErrBadToken
		}, nil
	}

	var tf tokensFile
	if _, err := toml.DecodeFile(path, &tf); err != nil {
		return nil, err
	}
	logger.Info("token file loaded", zap.Int("tokens", len(tf.Tokens)))
	return func(token string) (string, error) {
		user, ok := tf.Tokens[token]
		if !ok {
			return "", broker.ErrBadToken
		}
		return user, nil
	}, nil
}
