package main

import (
	"strings"
	"sync"

	"shiftwatch/internal/config"
	"shiftwatch/internal/store"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// withStore opens the database for read-side commands and closes it when fn
// returns. The poller lock is not needed for reads; SQLite busy retries in
// the store cover concurrent access from a running daemon.
func (c *commandContext) withStore(fn func(*config.Config, *store.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(cfg, st)
}

// withRuntime builds the full service graph for commands that run poll
// cycles, and tears it down when fn returns.
func (c *commandContext) withRuntime(fn func(*runtime) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(rt)
}
