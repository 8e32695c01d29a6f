package ssh

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/chainguard-dev/clog"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/errgroup"
)

// uploadConcurrency bounds the files in flight on one SFTP session.
const uploadConcurrency = 8

var (
	ErrSFTPInit   = fmt.Errorf("failed to start SFTP subsystem")
	ErrUploadWalk = fmt.Errorf("failed to walk local source directory")
	ErrUploadFile = fmt.Errorf("failed to upload file")
	ErrUploadDir  = fmt.Errorf("failed to create remote directory")
)

// Upload copies the directory tree rooted at 'localDir' to 'remoteDir' over
// an SFTP session on 'client'. Existing remote files are overwritten.
// Symlinks, sockets and other non-regular files are skipped.
//
// Every call is a full copy; nothing is compared against the remote side.
// Directories are created in walk order; files are copied concurrently.
func Upload(ctx context.Context, client *ssh.Client, localDir, remoteDir string) error {
	log := clog.FromContext(ctx).With("local", localDir, "remote", remoteDir)
	sc, err := sftp.NewClient(client)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSFTPInit, err)
	}
	defer sc.Close()

	info, err := os.Stat(localDir)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUploadWalk, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrUploadWalk, localDir)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uploadConcurrency)

	var files int
	err = filepath.WalkDir(localDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("%w: %w", ErrUploadWalk, err)
		}
		if err := gctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrUploadWalk, err)
		}
		target := path.Join(remoteDir, filepath.ToSlash(rel))

		switch {
		case d.IsDir():
			if err := sc.MkdirAll(target); err != nil {
				return fmt.Errorf("%w: %s: %w", ErrUploadDir, target, err)
			}
			return nil
		case d.Type().IsRegular():
			g.Go(func() error { return uploadFile(sc, p, target) })
			files++
			return nil
		default:
			log.Debug("skipping non-regular file", "path", p, "mode", d.Type().String())
			return nil
		}
	})
	// A failed copy cancels the walk, so its error takes precedence.
	if werr := g.Wait(); werr != nil {
		return werr
	}
	if err != nil {
		return err
	}
	log.Info("uploaded source directory", "files", files)
	return nil
}

func uploadFile(sc *sftp.Client, local, remote string) error {
	src, err := os.Open(local)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrUploadFile, local, err)
	}
	defer src.Close()
	info, err := src.Stat()
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrUploadFile, local, err)
	}

	dst, err := sc.OpenFile(remote, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrUploadFile, remote, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return fmt.Errorf("%w: %s: %w", ErrUploadFile, remote, err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrUploadFile, remote, err)
	}
	if err := sc.Chmod(remote, info.Mode().Perm()); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrUploadFile, remote, err)
	}
	return nil
}
