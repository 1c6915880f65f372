package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pongarena/server/actor"
	"github.com/pongarena/server/auth"
	"github.com/pongarena/server/chat"
	"github.com/pongarena/server/config"
	"github.com/pongarena/server/match"
	"github.com/pongarena/server/server"
	"github.com/pongarena/server/stats"
	"github.com/pongarena/server/store"
	"github.com/pongarena/server/tournament"
)

const shutdownTimeout = 10 * time.Second

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if err := run(log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

func run(log *zap.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, pool, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	codec := auth.NewTokenCodec(cfg.AccessTokenSecret, cfg.RefreshTokenSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	gate := auth.NewGate(codec, st.Sessions)

	engine := actor.NewEngine()
	aggregator := stats.NewAggregator(st.Stats, log)
	tournaments := tournament.NewManager(engine, st.Tournaments, st.Matches, log)

	// Completion hooks run off the runtime goroutine. Tournament-bound matches
	// report their result straight into the coordinator.
	registry := match.NewRegistry(engine, cfg, st.Matches, log, func(m *store.Match) {
		hctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := aggregator.OnMatchComplete(hctx, m); err != nil {
			log.Error("stats update failed", zap.String("matchId", m.ID), zap.Error(err))
		}
		if m.TournamentID != nil && m.WinnerID != nil {
			if err := tournaments.RecordResult(*m.TournamentID, m.ID, m.P1Score, m.P2Score, *m.WinnerID); err != nil {
				log.Error("tournament result relay failed", zap.String("matchId", m.ID), zap.Error(err))
			}
		}
	})

	// Hub and broker reach each other through the engine; the closures bind
	// the PIDs before the router starts accepting sockets.
	var hubPID, brokerPID *actor.PID
	hub := chat.NewHub(cfg, chat.HubDeps{
		Repo:    st.Chat,
		Matches: st.Matches,
		Log:     log,
		Offline: func(userID string) { engine.Send(brokerPID, chat.UserOffline{UserID: userID}, nil) },
	})
	broker := chat.NewInviteBroker(cfg, chat.BrokerDeps{
		Matches: st.Matches,
		Log:     log,
		Notify:  func(userID string, event interface{}) { engine.Send(hubPID, chat.Notify{UserID: userID, Event: event}, nil) },
	})
	hubPID = engine.SpawnNamed(actor.NewProps(func() actor.Actor { return hub }), "chat-hub")
	brokerPID = engine.SpawnNamed(actor.NewProps(func() actor.Actor { return broker }), "invite-broker")
	if hubPID == nil || brokerPID == nil {
		return errors.New("main: actor engine refused core actors")
	}

	srv := server.New(cfg, log, st, gate, registry, tournaments, engine, hubPID, brokerPID)
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(sctx); err != nil {
			log.Warn("http shutdown", zap.Error(err))
		}
		engine.Shutdown(shutdownTimeout)
		return nil
	})
	return g.Wait()
}
