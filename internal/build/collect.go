package build

import (
	"io"
	"os"

	"go.trai.ch/zerr"
)

// Copies a verified artifact from the workspace to its final destination.
//
// Ownership transfers here: the workspace copy is removed with the
// workspace, the destination copy is what the caller keeps. The artifact's
// file mode is preserved so executables stay executable. A failed copy is a
// collection error for this artifact only; sibling artifacts already
// collected stay collected.
func collect(src, dest string) error {
	info, err := os.Stat(src)
	if err != nil {
		return zerr.Wrap(err, ErrCollection.Error())
	}

	in, err := os.Open(src)
	if err != nil {
		return zerr.Wrap(err, ErrCollection.Error())
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return zerr.Wrap(err, ErrCollection.Error())
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dest)
		return zerr.Wrap(err, ErrCollection.Error())
	}

	if err := out.Close(); err != nil {
		os.Remove(dest)
		return zerr.Wrap(err, ErrCollection.Error())
	}

	return nil
}
