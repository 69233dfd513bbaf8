//go:build !linux

package capture

import "fmt"

func newRawInjector(iface string) (frameInjector, error) {
	return nil, fmt.Errorf("raw injection only supported on linux")
}
