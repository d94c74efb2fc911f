//go:build linux

package extract

import (
	"archive/tar"
	"errors"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// setXattrs restores extended attributes, which include POSIX ACLs stored
// as system.posix_acl_* attributes
func setXattrs(path string, hdr *tar.Header) error {
	var errs []error
	for name, value := range xattrRecords(hdr) {
		err := unix.Lsetxattr(path, name, []byte(value), 0)
		switch {
		case err == nil:
		case errors.Is(err, unix.ENOTSUP), errors.Is(err, unix.EPERM):
			// Filesystem or privileges do not allow it
			logrus.Debugf("Skipping xattr %s on %s: %v", name, hdr.Name, err)
		default:
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
