//go:build windows

package artifact

import (
	"os"

	"github.com/hpungsan/lichen/internal/errors"
)

// openNoFollow opens path. O_NOFOLLOW is not available on Windows; creating
// symlinks there needs elevated privileges.
func openNoFollow(path string, flag int, perm os.FileMode) (*os.File, error) {
	f, err := os.OpenFile(path, flag, perm)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewFileNotFound(path)
		}
		return nil, err
	}
	return f, nil
}
