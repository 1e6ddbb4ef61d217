package devices

import "errors"

var (
	ErrAccountRequired = errors.New("devices: account id required")
	ErrDeviceRequired  = errors.New("devices: device id required")
)
