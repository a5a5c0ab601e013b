//go:build darwin || freebsd || netbsd || openbsd

package mover

func renameNoReplace(src, dst string) error {
	return linkThenUnlink(src, dst)
}
