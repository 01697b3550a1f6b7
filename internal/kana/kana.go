// Package kana wires the arena agent together from Settings. There are no
// package-level clients: everything hangs off the *Kana that Init returns,
// and Dispose releases it.
package kana

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	config "github.com/avvvet/kana-services/configs"
	"github.com/avvvet/kana-services/internal/db"
	"github.com/avvvet/kana-services/internal/events"
	"github.com/avvvet/kana-services/internal/grading"
	"github.com/avvvet/kana-services/internal/idempotency"
	"github.com/avvvet/kana-services/internal/journal"
	"github.com/avvvet/kana-services/internal/ledger"
	"github.com/avvvet/kana-services/internal/metrics"
	"github.com/avvvet/kana-services/internal/monitor"
	nats "github.com/avvvet/kana-services/internal/nats"
	"github.com/avvvet/kana-services/internal/orchestrator"
	"github.com/avvvet/kana-services/internal/questions"
	"github.com/avvvet/kana-services/internal/studymaterial"
	"github.com/avvvet/kana-services/internal/tournament"
	"github.com/avvvet/kana-services/internal/transport"
)

type Kana struct {
	Settings     *config.Settings
	Metrics      *metrics.Metrics
	Tournaments  *tournament.Client
	Questions    *questions.Client
	Library      *studymaterial.Client
	Ledger       *ledger.Ledger
	Orchestrator *orchestrator.Orchestrator
	Monitor      *monitor.Monitor
	Grading      grading.Strategy
	Journal      journal.Store
	Keys         idempotency.Store
	Events       events.Publisher

	closers []func()
}

// Init builds every client and store. On error whatever was already opened
// is closed again.
func Init(ctx context.Context, s *config.Settings, reg *prometheus.Registry) (_ *Kana, err error) {
	k := &Kana{Settings: s}
	defer func() {
		if err != nil {
			k.Dispose()
		}
	}()

	k.Metrics = metrics.New("arena", reg)

	requester := transport.NewRequester(transport.Config{
		MaxAttempts:    s.HTTP.MaxAttempts,
		AttemptTimeout: s.HTTP.AttemptTimeout,
		BaseDelay:      s.HTTP.RetryBaseDelay,
	}, transport.WithObserver(k.Metrics))

	k.Tournaments = tournament.NewClient(s.Backend.TournamentURL(), requester)
	k.Questions = questions.NewClient(s.Backend.Root(), requester)
	k.Library = studymaterial.NewClient(s.Backend.Root(), requester)

	if k.Grading, err = grading.ByName(s.Match.Grading); err != nil {
		return nil, err
	}

	if k.Ledger, err = k.openLedger(ctx); err != nil {
		return nil, err
	}
	if k.Journal, err = k.openJournal(ctx); err != nil {
		return nil, err
	}
	if k.Keys, err = k.openKeys(ctx); err != nil {
		return nil, err
	}
	if k.Events, err = k.openEvents(); err != nil {
		return nil, err
	}

	k.Orchestrator = orchestrator.New(k.Tournaments, k.Ledger,
		orchestrator.WithJournal(k.Journal),
		orchestrator.WithKeys(k.Keys),
		orchestrator.WithEvents(k.Events),
		orchestrator.WithMetrics(k.Metrics),
		orchestrator.WithInstance(config.GetInstanceId()),
	)

	k.Monitor = monitor.New(k.Tournaments, k.Metrics, s.Monitor.Interval)
	if err = k.Monitor.Start(); err != nil {
		return nil, fmt.Errorf("start backend monitor: %w", err)
	}
	k.closers = append(k.closers, k.Monitor.Stop)

	return k, nil
}

func (k *Kana) openLedger(ctx context.Context) (*ledger.Ledger, error) {
	chain := k.Settings.Chain
	if !chain.Enabled() {
		log.Warn("chain settings incomplete, paid tournaments are disabled")
		return ledger.New(nil, common.Address{}, common.Address{}), nil
	}

	token, err := ledger.DialERC20(ctx, chain.RPCURL, chain.TokenAddress, chain.WalletKey)
	if err != nil {
		return nil, err
	}
	k.closers = append(k.closers, token.Close)

	if token.Wallet() == (common.Address{}) {
		log.Warn("no wallet key configured, INK token is read-only")
	} else {
		log.Infof("INK wallet %s, escrow %s", token.Wallet().Hex(), chain.EscrowAddress)
	}
	return ledger.New(token, token.Wallet(), common.HexToAddress(chain.EscrowAddress)), nil
}

func (k *Kana) openJournal(ctx context.Context) (journal.Store, error) {
	js := k.Settings.Journal
	switch js.Driver {
	case "postgres":
		pool, err := db.ConnectPostgres(ctx, js.PostgresURL)
		if err != nil {
			return nil, err
		}
		k.closers = append(k.closers, pool.Close)

		store := journal.NewPostgresStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		log.Infof("escrow journal on postgres")
		return store, nil

	case "mongo":
		database, err := db.ConnectMongo(ctx, js.MongoURI)
		if err != nil {
			return nil, err
		}
		store := journal.NewMongoStore(database)
		k.closers = append(k.closers, store.Close)

		db.EnsureIndex(ctx, database, "escrow_journal", "wallet", false)
		db.EnsureIndex(ctx, database, "escrow_journal", "scope", false)
		log.Infof("escrow journal on mongo database %s", database.Name())
		return store, nil
	}

	return journal.NewMemoryStore(), nil
}

func (k *Kana) openKeys(ctx context.Context) (idempotency.Store, error) {
	ks := k.Settings.Keys
	if ks.Driver != "redis" {
		return idempotency.NewMemoryStore(ks.TTL), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     ks.RedisAddr,
		Password: ks.RedisPass,
		DB:       ks.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", ks.RedisAddr, err)
	}

	store := idempotency.NewRedisStore(client, ks.TTL)
	k.closers = append(k.closers, func() { _ = store.Close() })
	log.Infof("idempotency keys on redis %s", ks.RedisAddr)
	return store, nil
}

func (k *Kana) openEvents() (events.Publisher, error) {
	ns := k.Settings.Nats
	if !ns.Enabled {
		return events.Nop{}, nil
	}

	n, err := nats.Connect(ns.URL, ns.Token, "KANA arena")
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", ns.URL, err)
	}
	k.closers = append(k.closers, n.Close)

	log.Printf("NATS connection established successfully %s", n.Url)
	return events.NewBroker(n.Conn, ns.Topic), nil
}

// Dispose closes everything Init opened, newest first. It is safe to call
// on a partially built Kana.
func (k *Kana) Dispose() {
	if k == nil {
		return
	}
	for i := len(k.closers) - 1; i >= 0; i-- {
		k.closers[i]()
	}
	k.closers = nil
}
