//go:build windows

package config

import (
	"fmt"
	"os"
)

// openPolicyFile opens the policy file on Windows, which has no O_NOFOLLOW.
func openPolicyFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrPolicyNotFound
		}
		return nil, fmt.Errorf("config: failed to open policy file: %w", err)
	}
	return f, nil
}

// checkFileOwnership on Windows is a no-op; ownership is governed by ACLs.
func checkFileOwnership(_ os.FileInfo) error {
	return nil
}
