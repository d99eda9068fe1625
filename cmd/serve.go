package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"polychat/internal/auth"
	"polychat/internal/chat"
	"polychat/internal/server"
)

func serve(ctx context.Context, cfgPath string, overridePort int, logOut io.Writer) error {
	cfg, err := loadConfig(cfgPath, logOut)
	if err != nil {
		return err
	}

	if overridePort != 0 {
		if overridePort <= 0 || overridePort > 65535 {
			return fmt.Errorf("port override %d must be a valid TCP port", overridePort)
		}
		cfg.Server.Port = overridePort
	}

	rt, err := newRouter(ctx, &cfg)
	if err != nil {
		return err
	}

	st, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("close store", "err", err)
		}
	}()
	slog.Info("conversation store ready", "driver", cfg.Storage.Driver)

	svc, err := chat.NewService(rt, st)
	if err != nil {
		return err
	}

	srv, err := server.New(cfg, rt, svc, st, auth.NewResolver(jwtSecret(cfg.Auth), cfg.Auth.GuestHeader))
	if err != nil {
		return err
	}

	return srv.Run(ctx)
}
