package redis

import (
	"context"
	"encoding/json"
	"time"
)

const onlineAdminsKey = "admins:online"

// SetAdminOnline records an admin in the shared online hash.
func (r *Client) SetAdminOnline(ctx context.Context, adminID string) error {
	info := map[string]interface{}{
		"admin_id":  adminID,
		"online_at": time.Now().UTC(),
	}

	data, err := json.Marshal(info)
	if err != nil {
		return err
	}

	return r.client.HSet(ctx, onlineAdminsKey, adminID, data).Err()
}

// SetAdminOffline removes an admin from the shared online hash.
func (r *Client) SetAdminOffline(ctx context.Context, adminID string) error {
	return r.client.HDel(ctx, onlineAdminsKey, adminID).Err()
}

// GetOnlineAdmins returns the admin ids present in the shared online hash.
func (r *Client) GetOnlineAdmins(ctx context.Context) ([]string, error) {
	entries, err := r.client.HGetAll(ctx, onlineAdminsKey).Result()
	if err != nil {
		return nil, err
	}

	admins := make([]string, 0, len(entries))
	for adminID := range entries {
		admins = append(admins, adminID)
	}
	return admins, nil
}

func (r *Client) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Client) Close() error {
	return r.client.Close()
}
