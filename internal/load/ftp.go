package load

import (
	"context"
	"io"
	"net"
	"net/url"
	"os"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// FTPOptions configures the FTP fetcher.
type FTPOptions struct {
	Timeout time.Duration
}

func (o FTPOptions) withDefaults() FTPOptions {
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	return o
}

// FTPFetcher downloads export drops over FTP. Credentials come from the URL
// userinfo; without one the login is anonymous.
type FTPFetcher struct {
	opts FTPOptions
}

// NewFTPFetcher builds a fetcher; a zero timeout defaults to 30 seconds.
func NewFTPFetcher(opts FTPOptions) *FTPFetcher {
	return &FTPFetcher{opts: opts.withDefaults()}
}

// parseFTPURL extracts host (with port), path, and login credentials from an
// FTP URL.
func parseFTPURL(rawURL string) (host, path, user, pass string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", "", "", eris.Wrapf(err, "ftp: parse %s", rawURL)
	}
	if u.Scheme != "ftp" {
		return "", "", "", "", eris.Errorf("ftp: expected ftp scheme, got %q", u.Scheme)
	}
	if u.Path == "" {
		return "", "", "", "", eris.Errorf("ftp: no file path in %s", rawURL)
	}

	host = u.Host
	if u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), "21")
	}

	user, pass = "anonymous", "anonymous@"
	if u.User != nil {
		user = u.User.Username()
		pass, _ = u.User.Password()
	}

	return host, u.Path, user, pass, nil
}

// ftpReader hands the transfer body to the caller while holding the control
// connection open until Close.
type ftpReader struct {
	resp *ftp.Response
	conn *ftp.ServerConn
}

func (r *ftpReader) Read(p []byte) (int, error) {
	return r.resp.Read(p)
}

// Close drains the transfer and disconnects. The transfer close error wins
// over the quit error when both fail.
func (r *ftpReader) Close() error {
	respErr := r.resp.Close()
	quitErr := r.conn.Quit()
	switch {
	case respErr != nil:
		return eris.Wrap(respErr, "ftp: close transfer")
	case quitErr != nil:
		return eris.Wrap(quitErr, "ftp: disconnect")
	}
	return nil
}

// Download retrieves the export file and returns its body. Closing the
// returned reader releases the FTP connection.
func (f *FTPFetcher) Download(ctx context.Context, ftpURL string) (io.ReadCloser, error) {
	host, path, user, pass, err := parseFTPURL(ftpURL)
	if err != nil {
		return nil, err
	}

	zap.L().Debug("fetching export over ftp",
		zap.String("host", host), zap.String("path", path))

	conn, err := ftp.Dial(host, ftp.DialWithContext(ctx), ftp.DialWithTimeout(f.opts.Timeout))
	if err != nil {
		return nil, eris.Wrapf(err, "ftp: dial %s", host)
	}
	if err := conn.Login(user, pass); err != nil {
		conn.Quit() //nolint:errcheck
		return nil, eris.Wrapf(err, "ftp: login as %s", user)
	}
	resp, err := conn.Retr(path)
	if err != nil {
		conn.Quit() //nolint:errcheck
		return nil, eris.Wrapf(err, "ftp: retrieve %s", path)
	}
	return &ftpReader{resp: resp, conn: conn}, nil
}

// DownloadToFile retrieves the export file into a local file and reports the
// bytes written.
func (f *FTPFetcher) DownloadToFile(ctx context.Context, ftpURL, path string) (int64, error) {
	rc, err := f.Download(ctx, ftpURL)
	if err != nil {
		return 0, err
	}
	defer rc.Close() //nolint:errcheck

	dst, err := os.Create(path)
	if err != nil {
		return 0, eris.Wrapf(err, "create %s", path)
	}
	defer dst.Close() //nolint:errcheck

	n, err := io.Copy(dst, rc)
	if err != nil {
		return n, eris.Wrapf(err, "write %s", path)
	}
	return n, nil
}
