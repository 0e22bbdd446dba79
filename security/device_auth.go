package security

import (
	"context"
	"fmt"

	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"gatepass/utils"
)

// DeviceAuthenticator gates scanner endpoints on a per-device key. Only the
// bcrypt hash of the key is stored; the plaintext is shown once during
// provisioning.
type DeviceAuthenticator struct {
	redis *redis.Client
}

func NewDeviceAuthenticator(redisClient *redis.Client) *DeviceAuthenticator {
	return &DeviceAuthenticator{redis: redisClient}
}

func deviceKeyHashKey(deviceID string) string {
	return fmt.Sprintf("device:key:%s", deviceID)
}

// Provision registers a scanner device and returns its one-time plaintext key.
func (d *DeviceAuthenticator) Provision(ctx context.Context, deviceID string) (string, error) {
	key, err := utils.GenerateCode(16)
	if err != nil {
		return "", fmt.Errorf("Provision: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("Provision: %w", err)
	}

	if err := d.redis.Set(ctx, deviceKeyHashKey(deviceID), string(hash), 0).Err(); err != nil {
		return "", fmt.Errorf("Provision: %w", err)
	}
	return key, nil
}

// Verify checks a presented device key against the stored hash.
func (d *DeviceAuthenticator) Verify(ctx context.Context, deviceID, key string) bool {
	hash, err := d.redis.Get(ctx, deviceKeyHashKey(deviceID)).Result()
	if err != nil {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil
}

// Revoke removes a device's key; subsequent requests from it fail auth.
func (d *DeviceAuthenticator) Revoke(ctx context.Context, deviceID string) error {
	if err := d.redis.Del(ctx, deviceKeyHashKey(deviceID)).Err(); err != nil {
		return fmt.Errorf("Revoke: %w", err)
	}
	return nil
}

// Require authenticates scanner requests via X-Device-Id / X-Device-Key.
func (d *DeviceAuthenticator) Require() func(e *core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		deviceID := e.Request.Header.Get("X-Device-Id")
		deviceKey := e.Request.Header.Get("X-Device-Key")
		if deviceID == "" || !d.Verify(e.Request.Context(), deviceID, deviceKey) {
			return e.JSON(401, map[string]string{
				"error": "Unknown or unauthorized device",
			})
		}
		e.Set("device_id", deviceID)
		return e.Next()
	}
}
