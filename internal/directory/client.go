package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/matchpoint-server/internal/config"
	"github.com/matchpoint-server/internal/domain"
	"github.com/redis/go-redis/v9"
)

// Client looks up account display names from the user-identity service,
// caching results in Redis. A failed lookup degrades to the raw user ID so
// joining a match never depends on directory availability.
type Client struct {
	http    *http.Client
	baseURL string
	cache   *redis.Client
	logger  *slog.Logger
	cfg     *config.DirectoryConfig
}

// NewClient creates a directory client. The Redis client is shared with the
// room-code registry.
func NewClient(cfg *config.DirectoryConfig, cache *redis.Client, logger *slog.Logger) *Client {
	return &Client{
		http:    &http.Client{Timeout: cfg.Timeout},
		baseURL: cfg.BaseURL,
		cache:   cache,
		logger:  logger,
		cfg:     cfg,
	}
}

// userKey returns the Redis key caching a user's directory record
func (c *Client) userKey(userID string) string {
	return fmt.Sprintf("user:%s:info", userID)
}

// GetUser resolves a user's display name, preferring the cache
func (c *Client) GetUser(ctx context.Context, userID string) (*domain.UserInfo, error) {
	if cached, err := c.cache.Get(ctx, c.userKey(userID)).Result(); err == nil {
		var info domain.UserInfo
		if err := json.Unmarshal([]byte(cached), &info); err == nil {
			return &info, nil
		}
	}

	info, err := c.fetch(ctx, userID)
	if err != nil {
		c.logger.Warn("directory lookup failed, using user id as display name",
			"user_id", userID,
			"error", err,
		)
		return &domain.UserInfo{ID: userID, DisplayName: userID}, nil
	}

	if data, err := json.Marshal(info); err == nil {
		if err := c.cache.Set(ctx, c.userKey(userID), data, c.cfg.CacheTTL).Err(); err != nil {
			c.logger.Warn("failed to cache user info", "user_id", userID, "error", err)
		}
	}
	return info, nil
}

func (c *Client) fetch(ctx context.Context, userID string) (*domain.UserInfo, error) {
	endpoint := fmt.Sprintf("%s/users/%s", c.baseURL, url.PathEscape(userID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building directory request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling directory: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("directory returned status %d", resp.StatusCode)
	}

	var info domain.UserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decoding directory response: %w", err)
	}
	if info.ID == "" {
		info.ID = userID
	}
	if info.DisplayName == "" {
		info.DisplayName = userID
	}
	return &info, nil
}
