package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"go.pilab.hu/idp/cache"
	redisbackend "go.pilab.hu/idp/cache/redis"
	"go.pilab.hu/idp/config"
	"go.pilab.hu/idp/domain"
	"go.pilab.hu/idp/log"
	"go.pilab.hu/idp/memory"
	"go.pilab.hu/idp/mongodb"
)

// Backends holds the stores selected by configuration.
type Backends struct {
	Challenges  domain.ChallengeStore
	Revocations domain.RevocationStore
	Tokens      domain.TokenStore
	Consents    domain.ConsentStore
	Clients     domain.ClientRegistry
	Scopes      domain.ScopeRegistry
	Users       *memory.UserDirectory

	closers []func(context.Context) error
}

// Close releases the connections opened by OpenBackends, in reverse order.
func (b *Backends) Close(ctx context.Context) error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i](ctx))
	}
	return errors.Join(errs...)
}

// OpenBackends connects the challenge and token backends named in cfg and
// seeds the configured clients, scopes and users.
func OpenBackends(ctx context.Context, cfg *config.ServerConfig, logger log.Logger) (*Backends, error) {
	b := &Backends{Users: memory.NewUserDirectory()}

	if err := b.openChallenges(ctx, cfg, logger); err != nil {
		_ = b.Close(ctx)
		return nil, err
	}
	if err := b.openTokens(ctx, cfg, logger); err != nil {
		_ = b.Close(ctx)
		return nil, err
	}
	if err := b.seedUsers(cfg.Users); err != nil {
		_ = b.Close(ctx)
		return nil, err
	}

	return b, nil
}

func (b *Backends) openChallenges(ctx context.Context, cfg *config.ServerConfig, logger log.Logger) error {
	switch cfg.ChallengeBackend {
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		b.closers = append(b.closers, func(context.Context) error { return client.Close() })

		b.Challenges = cache.NewChallengeStore(redisbackend.NewBackend(client, cfg.RedisKeyPrefix))
		b.Revocations = redisbackend.NewRevocationStore(client, cfg.RedisKeyPrefix)
		logger.Info(ctx, "Challenge store connected to Redis", log.Fields{"addr": cfg.RedisAddr})
	default:
		backend := cache.NewMemoryBackend()
		b.closers = append(b.closers, func(context.Context) error { return backend.Close() })

		b.Challenges = cache.NewChallengeStore(backend)
		b.Revocations = cache.NewMemoryRevocationStore()
		logger.Warn(ctx, "Challenge store is in memory; state is lost on restart and not shared between replicas")
	}
	return nil
}

func (b *Backends) openTokens(ctx context.Context, cfg *config.ServerConfig, logger log.Logger) error {
	switch cfg.TokenBackend {
	case config.BackendMongo:
		if err := mongodb.InitMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName); err != nil {
			return err
		}
		b.closers = append(b.closers, func(ctx context.Context) error {
			mongodb.CloseMongoDB(ctx)
			return nil
		})
		db, err := mongodb.GetDB()
		if err != nil {
			return err
		}

		clients := mongodb.NewClientRepository(ctx, db)
		scopes := mongodb.NewScopeRepository(ctx, db)
		for _, c := range seedClients(cfg.Clients) {
			if err := clients.Upsert(ctx, &c); err != nil {
				return fmt.Errorf("failed to seed client %s: %w", c.ID, err)
			}
		}
		for _, s := range seedScopes(cfg.Scopes) {
			if err := scopes.Upsert(ctx, &s); err != nil {
				return fmt.Errorf("failed to seed scope %s: %w", s.Name, err)
			}
		}

		b.Tokens = mongodb.NewRefreshTokenRepository(ctx, db)
		b.Consents = mongodb.NewConsentRepository(ctx, db)
		b.Clients = clients
		b.Scopes = scopes
		logger.Info(ctx, "Token store connected to MongoDB", log.Fields{"db": cfg.MongoDBName})
	default:
		b.Tokens = memory.NewTokenStore()
		b.Consents = memory.NewConsentStore()
		b.Clients = memory.NewClientRegistry(seedClients(cfg.Clients)...)
		b.Scopes = memory.NewScopeRegistry(seedScopes(cfg.Scopes)...)
		logger.Warn(ctx, "Token store is in memory; sessions are lost on restart")
	}
	return nil
}

// seedUsers loads configured users into the local directory. Plain
// passwords are hashed before they are stored.
func (b *Backends) seedUsers(users []config.UserConfig) error {
	for _, u := range users {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("failed to hash password of user %s: %w", u.UserID, err)
		}
		profile := map[string]any{
			domain.UserIDClaim: u.UserID,
			"username":         u.Username,
			"password":         string(hash),
		}
		if u.Email != "" {
			profile["email"] = u.Email
		}
		if u.Name != "" {
			profile["name"] = u.Name
		}
		b.Users.Add(u.TenantID, profile)
	}
	return nil
}

func seedClients(cfgs []config.ClientConfig) []domain.Client {
	clients := make([]domain.Client, 0, len(cfgs))
	for _, c := range cfgs {
		clients = append(clients, domain.Client{
			ID:            c.ID,
			TenantID:      c.TenantID,
			Name:          c.Name,
			Secret:        c.Secret,
			RedirectURIs:  c.RedirectURIs,
			ResponseTypes: c.ResponseTypes,
			GrantTypes:    c.GrantTypes,
			Scopes:        c.Scopes,
			SkipConsent:   c.SkipConsent,
		})
	}
	return clients
}

func seedScopes(cfgs []config.ScopeConfig) []domain.Scope {
	scopes := make([]domain.Scope, 0, len(cfgs))
	for _, s := range cfgs {
		scopes = append(scopes, domain.Scope{Name: s.Name, TenantID: s.TenantID, Claims: s.Claims})
	}
	return scopes
}
