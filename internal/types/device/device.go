package device

import "time"

// Token is one registered push target for a user. DeviceID is the stable
// per-install UUID the device also sends on sync pushes, which lets the
// fan-out skip the device that triggered it.
type Token struct {
	DeviceID     string    `json:"device_id"`
	Token        string    `json:"token"`
	Platform     string    `json:"platform"`
	RegisteredAt time.Time `json:"registered_at"`
}

type RegisterRequest struct {
	DeviceID string `json:"device_id"`
	Token    string `json:"token"`
	Platform string `json:"platform"`
}
