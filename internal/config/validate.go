package config

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/sirupsen/logrus"
)

/*
Validate checks the settings every command needs:
- Discovery service URL and credentials
- Poller bounds
- History store driver (when a DSN is set)
- Worker queues
- Log level/format
Redis is only checked by RequireRedis, since only the queue-backed commands use it.
*/
func (c *Config) Validate() error {
	if c.Discovery.URL == "" {
		return errors.New("discovery.url is required")
	}
	if u, err := url.Parse(c.Discovery.URL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("discovery.url %q is not an absolute URL", c.Discovery.URL)
	}
	if c.Discovery.BearerToken != "" && c.Discovery.Username != "" {
		return errors.New("discovery.bearer_token and discovery.username are mutually exclusive")
	}
	if c.Discovery.Username != "" && c.Discovery.Password == "" {
		return errors.New("discovery.password is required when discovery.username is set")
	}
	if c.Discovery.RetryMax < 0 {
		return errors.New("discovery.retry_max must not be negative")
	}

	if c.Poller.Interval <= 0 {
		return errors.New("poller.interval must be positive")
	}
	if c.Poller.MaxChecks < 0 {
		return errors.New("poller.max_checks must not be negative")
	}
	if c.Poller.MaxConsecutiveErrors < 0 {
		return errors.New("poller.max_consecutive_errors must not be negative")
	}
	if c.Poller.Timeout < 0 {
		return errors.New("poller.timeout must not be negative")
	}

	if c.Database.History.DSN != "" {
		switch c.Database.History.Driver {
		case "pgx", "sqlite3":
		default:
			return fmt.Errorf("database.history.driver %q is not supported (use pgx or sqlite3)", c.Database.History.Driver)
		}
	}

	if c.Worker.Concurrency <= 0 {
		return errors.New("worker.concurrency must be a positive integer")
	}
	for name, priority := range c.Worker.Queues {
		if name == "" {
			return errors.New("worker.queues contains an empty queue name")
		}
		if priority <= 0 {
			return fmt.Errorf("worker.queues priority for queue '%s' must be positive", name)
		}
	}

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format %q must be text or json", c.Log.Format)
	}
	return nil
}

// RequireRedis checks the settings needed by the worker and queued watches.
func (c *Config) RequireRedis() error {
	if c.Redis.Address == "" {
		return errors.New("redis.address is required for queued status checks")
	}
	if _, ok := c.Worker.Queues[QueueStatusChecks]; !ok {
		return fmt.Errorf("worker.queues must include the %q queue", QueueStatusChecks)
	}
	return nil
}
