// Command authmux-demo runs a standalone auth server over file-based
// stores. It exists for local development and manual testing; real hosts
// mount authmux.Service inside their own application.
package main

import (
	"flag"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/alexedwards/scs/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/authmux/authmux"
	"github.com/authmux/authmux/providers"
	fsstores "github.com/authmux/authmux/stores/fs"
	redisstore "github.com/authmux/authmux/stores/redis"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	dataDir := flag.String("data", "./authmux-data", "storage directory")
	secret := flag.String("secret", os.Getenv("AUTHMUX_SECRET"), "JWT signing secret")
	redisAddr := flag.String("redis", "", "redis address for the token blacklist (optional)")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	if *secret == "" {
		slog.Error("a signing secret is required (-secret or AUTHMUX_SECRET)")
		os.Exit(1)
	}

	users := fsstores.NewFSUserStore(*dataDir)
	devices := fsstores.NewFSDeviceStore(*dataDir)
	socials := fsstores.NewFSSocialStore(*dataDir)

	issuer := &authmux.TokenIssuer{
		SecretKey:       *secret,
		Issuer:          "authmux-demo",
		UpdateLastLogin: true,
		Users:           users,
	}
	if *redisAddr != "" {
		client := goredis.NewClient(&goredis.Options{Addr: *redisAddr})
		issuer.Blacklist = redisstore.NewBlacklistStore(client)
		slog.Info("token blacklist enabled", "redis", *redisAddr)
	} else {
		issuer.Blacklist = fsstores.NewFSBlacklistStore(*dataDir)
	}

	session := scs.New()
	session.Lifetime = 24 * time.Hour

	svc := authmux.NewService(authmux.DefaultConfig(), users, devices, socials, issuer)
	svc.Session = session
	svc.Social.
		Register(providers.NewGoogle("", "", "")).
		Register(providers.NewGitHub("", "", ""))

	slog.Info("listening", "addr", *addr, "data", *dataDir)
	if err := http.ListenAndServe(*addr, session.LoadAndSave(svc.Handler())); err != nil {
		slog.Error("server exited", "err", err)
		os.Exit(1)
	}
}
