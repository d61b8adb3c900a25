//go:build !unix

package backing

import "os"

func mapFile(*os.File, int) ([]byte, error) {
	return nil, ErrUnsupportedPlatform
}

func syncRegion([]byte) error {
	return ErrUnsupportedPlatform
}

func unmapRegion([]byte) error {
	return ErrUnsupportedPlatform
}
