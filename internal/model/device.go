package model

// Device is the registration record forwarded to the upstream backend.
type Device struct {
	DeviceID  string `json:"device_id" binding:"required,max=128" validate:"required,max=128"`
	UserName  string `json:"user_name" binding:"max=128" validate:"max=128"`
	Platform  string `json:"platform" binding:"max=64" validate:"max=64"`
	UserAgent string `json:"user_agent" binding:"max=512" validate:"max=512"`
	PushToken string `json:"push_token,omitempty" binding:"max=1024" validate:"max=1024"`
}

// DeviceToken is returned to a registered device.
type DeviceToken struct {
	DeviceID    string `json:"device_id"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}
