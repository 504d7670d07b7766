// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package abr

import (
	"fmt"
	"strings"
)

// NetworkType classifies the network the stream is currently uploaded over.
type NetworkType int

// Network types reported by the platform layer.
const (
	NetworkUnknown NetworkType = iota
	NetworkWiFi
	NetworkCellular4G
	NetworkCellular3G
	NetworkOther
	NetworkNone
)

func (t NetworkType) String() string {
	switch t {
	case NetworkUnknown:
		return "unknown"
	case NetworkWiFi:
		return "wifi"
	case NetworkCellular4G:
		return "4g"
	case NetworkCellular3G:
		return "3g"
	case NetworkOther:
		return "other"
	case NetworkNone:
		return "none"
	default:
		return fmt.Sprintf("NetworkType(%d)", int(t))
	}
}

// Connected reports whether t is a known network with connectivity.
func (t NetworkType) Connected() bool {
	return t != NetworkUnknown && t != NetworkNone
}

// ParseNetworkType parses the names returned by NetworkType.String.
func ParseNetworkType(s string) (NetworkType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "unknown":
		return NetworkUnknown, nil
	case "wifi", "wi-fi":
		return NetworkWiFi, nil
	case "4g", "lte":
		return NetworkCellular4G, nil
	case "3g":
		return NetworkCellular3G, nil
	case "other":
		return NetworkOther, nil
	case "none":
		return NetworkNone, nil
	}

	return NetworkUnknown, fmt.Errorf("%w: %q", ErrUnknownNetworkType, s)
}
