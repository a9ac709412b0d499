// Copyright (C) 2017 Librato, Inc. All rights reserved.

package config

import (
	"fmt"
	"strconv"
	"strings"

	version "github.com/hashicorp/go-version"
)

// InvalidEnv returns a string indicating invalid environment variables
func InvalidEnv(env string, val string) string {
	return fmt.Sprintf("invalid env, discarded - %s: \"%s\"", env, val)
}

// MissingEnv returns a string indicating missing environment variables
func MissingEnv(env string) string {
	return fmt.Sprintf("missing env - %s", env)
}

const (
	maxServiceNameLen = 255
	tokenMask         = "********"
)

// IsValidServiceName checks if the service name is non-empty and not longer
// than 255 characters.
func IsValidServiceName(name string) bool {
	return name != "" && len(name) <= maxServiceNameLen
}

// IsValidServiceVersion checks if the version is a valid (semantic) version.
func IsValidServiceVersion(v string) bool {
	_, err := version.NewVersion(v)
	return err == nil
}

// ToProtocol converts a string to a protocol name. `http` is accepted as an
// alias of http/protobuf.
func ToProtocol(p string) string {
	p = strings.ToLower(strings.TrimSpace(p))
	if p == "http" {
		p = ProtocolHTTPProtobuf
	}
	return p
}

// IsValidProtocol checks if the protocol is supported.
func IsValidProtocol(p string) bool {
	return p == ProtocolHTTPProtobuf || p == ProtocolGRPC
}

// ToInteger converts a string to an integer
func ToInteger(i string) int {
	n, _ := strconv.Atoi(i)
	return n
}

// MaskToken hides the secret part of an API token. The token type prefix,
// e.g. `dt0c01`, is kept. For example:
// token: "dt0c01.ST2EY72KQINMH574WMNVI7YN.G3DFPBEJYMODIDAEX454M7YWBUVEFOWKPRVMWFASS64NFH52PX6BNDVFFM572RZM"
// masked: "dt0c01.********"
func MaskToken(token string) string {
	if token == "" {
		return ""
	}
	if idx := strings.IndexByte(token, '.'); idx > 0 && idx < len(token)-1 {
		return token[:idx+1] + tokenMask
	}
	return tokenMask
}
