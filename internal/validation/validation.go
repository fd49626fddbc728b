// Package validation validates boundary inputs that do not already
// have a dedicated parser elsewhere: listen addresses for the
// daemon's health/metrics endpoint, filesystem paths, and numeric
// config option ranges. Database reference syntax itself is parsed by
// manifest.ParseReference, the component that owns its semantics.
package validation

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
)

var (
	ErrInvalidPath   = errors.New("invalid file path")
	ErrPathNotExists = errors.New("path does not exist")
	ErrInvalidAddr   = errors.New("invalid listen address")
	ErrOutOfRange    = errors.New("value out of range")
)

// ValidateFilePath checks p is non-empty and, if mustExist, resolves
// to an existing path (used for the configured home directory).
func ValidateFilePath(p string, mustExist bool) error {
	if p == "" {
		return ErrInvalidPath
	}
	p = filepath.Clean(p)
	if mustExist {
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("%w: %v", ErrPathNotExists, err)
		}
	}
	return nil
}

// ValidateAddr checks addr is a well-formed TCP listen address, used
// for the daemon's health/metrics bind address.
func ValidateAddr(addr string) error {
	if addr == "" {
		return ErrInvalidAddr
	}
	if _, err := net.ResolveTCPAddr("tcp", addr); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddr, err)
	}
	return nil
}

// ValidateRangeFloat checks a config ratio (e.g. bloom false-positive
// rate, reconstruction threshold) falls within [min, max].
func ValidateRangeFloat(v, min, max float64) error {
	if v < min || v > max {
		return fmt.Errorf("%w: %v not in [%v,%v]", ErrOutOfRange, v, min, max)
	}
	return nil
}

// ValidateRangeInt checks a config bound (e.g. parallel downloads,
// max delta chain) falls within [min, max].
func ValidateRangeInt(v, min, max int) error {
	if v < min || v > max {
		return fmt.Errorf("%w: %d not in [%d,%d]", ErrOutOfRange, v, min, max)
	}
	return nil
}
