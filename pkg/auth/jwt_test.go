package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/alarm-service/pkg/errors"
)

func TestJWTService_RoundTrip(t *testing.T) {
	svc := NewJWTService("secret", "alarm-service", time.Hour)

	token, err := svc.GenerateDeviceToken("dev-1")
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "dev-1", claims.DeviceID)
	assert.Equal(t, "alarm-service", claims.Issuer)
	assert.Equal(t, time.Hour, svc.TTL())
}

func TestJWTService_Rejects(t *testing.T) {
	svc := NewJWTService("secret", "alarm-service", time.Hour)
	other := NewJWTService("other-secret", "alarm-service", time.Hour)

	foreign, err := other.GenerateDeviceToken("dev-1")
	require.NoError(t, err)
	_, err = svc.ValidateToken(foreign)
	assert.Equal(t, errors.ErrUnauthorized, errors.CodeOf(err))

	_, err = svc.ValidateToken("not-a-token")
	assert.Equal(t, errors.ErrUnauthorized, errors.CodeOf(err))

	expired := NewJWTService("secret", "alarm-service", time.Hour).(*jwtService)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, err := expired.GenerateDeviceToken("dev-1")
	require.NoError(t, err)
	_, err = svc.ValidateToken(old)
	assert.Equal(t, errors.ErrUnauthorized, errors.CodeOf(err))

	_, err = svc.GenerateDeviceToken("")
	assert.Equal(t, errors.ErrBadRequest, errors.CodeOf(err))
}
