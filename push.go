package huntingcorner

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// DeviceRegistrar hands the device push token to the backend. The session
// calls Register after restore, login and registration on native platforms.
type DeviceRegistrar struct {
	gateway *Gateway
	logger  zerolog.Logger

	Token    string
	Platform string
}

// Register posts the token to /notifications/register. Without a token it
// does nothing.
func (d *DeviceRegistrar) Register(ctx context.Context) error {
	if d.Token == "" {
		d.logger.Debug().Msg("no device token, skipping push registration")
		return nil
	}
	return d.RegisterToken(ctx, d.Token)
}

// RegisterToken registers an explicit token, e.g. one delivered after startup.
func (d *DeviceRegistrar) RegisterToken(ctx context.Context, token string) error {
	if token == "" {
		return errors.New("push: empty device token")
	}
	body := map[string]string{"token": token, "platform": d.Platform}
	if err := d.gateway.Post(ctx, "/notifications/register", body, nil); err != nil {
		return err
	}
	d.logger.Debug().Str("platform", d.Platform).Msg("push token registered")
	return nil
}
