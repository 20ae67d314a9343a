package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"path"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/reportd/reportd/pkg/models"
)

const ftpDialTimeout = 10 * time.Second

// FTPBackend stores artifacts on a remote FTP server. Each backend owns
// one connection built from an explicit server configuration.
type FTPBackend struct {
	conn     *ftp.ServerConn
	rootPath string
}

// NewFTPBackend dials and authenticates against the given server.
func NewFTPBackend(ctx context.Context, server *models.FTPServer) (*FTPBackend, error) {
	conn, err := ftp.Dial(server.Addr(),
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(ftpDialTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ftp server %s: %w", server.Name, err)
	}

	err = conn.Login(server.Username, server.Password)
	if err != nil {
		_ = conn.Quit()

		return nil, fmt.Errorf("failed to authenticate against ftp server %s: %w", server.Name, err)
	}

	return &FTPBackend{conn: conn, rootPath: server.RootPath}, nil
}

// VerifyConnection dials, authenticates and disconnects. Used by
// connectivity probes before linking a server to a schedule.
func VerifyConnection(ctx context.Context, server *models.FTPServer) error {
	backend, err := NewFTPBackend(ctx, server)
	if err != nil {
		return err
	}

	return backend.Close()
}

func (b *FTPBackend) fullPath(p string) string {
	if b.rootPath == "" {
		return p
	}

	return path.Join(b.rootPath, p)
}

// isNotFound reports whether the error is the FTP "file unavailable" reply.
func isNotFound(err error) bool {
	var protoErr *textproto.Error

	return errors.As(err, &protoErr) && protoErr.Code == ftp.StatusFileUnavailable
}

func (b *FTPBackend) Upload(_ context.Context, p string, r io.Reader) error {
	err := b.conn.Stor(b.fullPath(p), r)
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", p, err)
	}

	return nil
}

func (b *FTPBackend) Open(_ context.Context, p string) (io.ReadCloser, error) {
	response, err := b.conn.Retr(b.fullPath(p))
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotExist
		}

		return nil, fmt.Errorf("failed to retrieve %s: %w", p, err)
	}

	return response, nil
}

func (b *FTPBackend) Exists(_ context.Context, p string) (bool, error) {
	_, err := b.conn.FileSize(b.fullPath(p))
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}

		return false, fmt.Errorf("failed to stat %s: %w", p, err)
	}

	return true, nil
}

func (b *FTPBackend) Size(_ context.Context, p string) (int64, error) {
	size, err := b.conn.FileSize(b.fullPath(p))
	if err != nil {
		if isNotFound(err) {
			return 0, ErrNotExist
		}

		return 0, fmt.Errorf("failed to stat %s: %w", p, err)
	}

	return size, nil
}

func (b *FTPBackend) Delete(_ context.Context, p string) error {
	err := b.conn.Delete(b.fullPath(p))
	if err != nil {
		if isNotFound(err) {
			return ErrNotExist
		}

		return fmt.Errorf("failed to delete %s: %w", p, err)
	}

	return nil
}

func (b *FTPBackend) List(_ context.Context, dir string) ([]string, error) {
	entries, err := b.conn.List(b.fullPath(dir))
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotExist
		}

		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))

	for _, entry := range entries {
		if entry.Name == "." || entry.Name == ".." {
			continue
		}

		names = append(names, entry.Name)
	}

	return names, nil
}

func (b *FTPBackend) MakeDirectory(_ context.Context, dir string) error {
	err := b.conn.MakeDir(b.fullPath(dir))
	if err != nil {
		// Already-existing directories also answer 550; treat as success.
		if isNotFound(err) {
			return nil
		}

		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	return nil
}

func (b *FTPBackend) DeleteDirectory(_ context.Context, dir string) error {
	err := b.conn.RemoveDir(b.fullPath(dir))
	if err != nil {
		if isNotFound(err) {
			return ErrNotExist
		}

		return fmt.Errorf("failed to delete directory %s: %w", dir, err)
	}

	return nil
}

func (b *FTPBackend) Close() error {
	err := b.conn.Quit()
	if err != nil {
		return fmt.Errorf("failed to close ftp connection: %w", err)
	}

	return nil
}
