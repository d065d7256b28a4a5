package main

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"kasirinaja/opscore/internal/cache"
	"kasirinaja/opscore/internal/config"
	"kasirinaja/opscore/internal/lock"
	"kasirinaja/opscore/internal/logger"
	"kasirinaja/opscore/internal/store/memory"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	require.Error(t, validateSecurityConfig(config.Config{AuthSecret: "short", ManagerPIN: "739154"}))
	require.Error(t, validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", ManagerPIN: "123456"}))
	require.Error(t, validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", ManagerPIN: "73a154"}))
	require.Error(t, validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef"}))
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", ManagerPIN: "739154"})
	require.NoError(t, err)
}

func TestValidatePINStrength(t *testing.T) {
	for _, pin := range []string{"000000", "777777", "234567", "987654", "121212"} {
		require.Error(t, validatePINStrength(pin), pin)
	}
	for _, pin := range []string{"739154", "280461", "1357902"} {
		require.NoError(t, validatePINStrength(pin), pin)
	}
}

func TestConnectRepositoryFallsBackToSeededMemory(t *testing.T) {
	b := &backend{}
	err := connectRepository(context.Background(), config.Config{}, logger.Nop(), prometheus.NewRegistry(), b)
	require.NoError(t, err)
	_, ok := b.repo.(*memory.Store)
	require.True(t, ok)
	require.NoError(t, b.checkReady(context.Background()))

	outlet, err := b.repo.GetOutlet(context.Background(), memory.SeedOutletPusat)
	require.NoError(t, err)
	require.Equal(t, memory.SeedOutletPusat, outlet.ID)
}

func TestConnectRedisWiresCacheAndLocker(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.Config{RedisAddr: mr.Addr(), LockBackend: config.LockBackendRedis, LockTTL: 5 * time.Second}

	b := &backend{}
	require.NoError(t, connectRedis(context.Background(), cfg, logger.Nop(), b))
	t.Cleanup(func() { b.close(context.Background(), logger.Nop()) })

	_, isRedis := b.rules.(*cache.RedisRulesCache)
	require.True(t, isRedis)
	_, isRedisLocker := b.locker.(*lock.RedisLocker)
	require.True(t, isRedisLocker)
	require.NoError(t, b.checkReady(context.Background()))

	mr.Close()
	require.Error(t, b.checkReady(context.Background()), "readiness follows redis")
}

func TestConnectRedisWithoutAddressUsesNoop(t *testing.T) {
	b := &backend{}
	require.NoError(t, connectRedis(context.Background(), config.Config{LockBackend: config.LockBackendMemory}, logger.Nop(), b))
	require.IsType(t, cache.NoopRulesCache{}, b.rules)
	require.Nil(t, b.locker)
}

func TestConnectRedisUnreachableIsFatalOnlyForRedisLocks(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	b := &backend{}
	require.NoError(t, connectRedis(ctx, config.Config{RedisAddr: addr, LockBackend: config.LockBackendMemory}, logger.Nop(), b))
	require.IsType(t, cache.NoopRulesCache{}, b.rules)

	b = &backend{}
	require.Error(t, connectRedis(ctx, config.Config{RedisAddr: addr, LockBackend: config.LockBackendRedis}, logger.Nop(), b))
}
