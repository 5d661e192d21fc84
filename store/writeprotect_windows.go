//go:build windows

package store

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/windows"
)

// writeProtect sets the read-only attribute on every file under dir,
// and additionally applies a deny-write ACE for the current user on
// dir itself, per spec.md §4.2 step 6's "ACL-deny on Windows NT". The
// attribute alone is enough to stop ordinary tools; the ACE also stops
// processes running with elevated privileges that ignore the attribute.
func writeProtect(dir string) error {
	err := filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		return setReadOnlyAttribute(p, true)
	})
	if err != nil {
		return err
	}
	return denyWriteACE(dir)
}

func removeWriteProtect(dir string) error {
	if err := allowWriteACE(dir); err != nil {
		return err
	}
	return filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		return setReadOnlyAttribute(p, false)
	})
}

func setReadOnlyAttribute(path string, readOnly bool) error {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return err
	}
	attrs, err := windows.GetFileAttributes(p)
	if err != nil {
		return err
	}
	if readOnly {
		attrs |= windows.FILE_ATTRIBUTE_READONLY
	} else {
		attrs &^= windows.FILE_ATTRIBUTE_READONLY
	}
	return windows.SetFileAttributes(p, attrs)
}

// denyWriteACE adds a deny-write-data access-denied ACE for the
// current process token's user on path's DACL.
func denyWriteACE(path string) error {
	return setWriteACE(path, windows.DENY_ACCESS)
}

func allowWriteACE(path string) error {
	return setWriteACE(path, windows.GRANT_ACCESS)
}

func setWriteACE(path string, mode windows.ACCESS_MODE) error {
	token, err := windows.OpenCurrentProcessToken()
	if err != nil {
		return err
	}
	defer token.Close()
	user, err := token.GetTokenUser()
	if err != nil {
		return err
	}
	ea := []windows.EXPLICIT_ACCESS{{
		AccessPermissions: windows.FILE_GENERIC_WRITE,
		AccessMode:        mode,
		Inheritance:       windows.NO_INHERITANCE,
		Trustee: windows.TRUSTEE{
			TrusteeForm:  windows.TRUSTEE_IS_SID,
			TrusteeType:  windows.TRUSTEE_IS_USER,
			TrusteeValue: windows.TrusteeValueFromSID(user.User.Sid),
		},
	}}
	newACL, err := windows.ACLFromEntries(ea, nil)
	if err != nil {
		return err
	}
	return windows.SetNamedSecurityInfo(
		path,
		windows.SE_FILE_OBJECT,
		windows.DACL_SECURITY_INFORMATION,
		nil, nil, newACL, nil,
	)
}
